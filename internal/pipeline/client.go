package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/SOWA-EQR/ai-document-processor/internal/models"
)

const (
	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimit is the default rate limit (requests per second).
	DefaultRateLimit = 10

	// SimulatedInstancePrefix marks locally synthesized instance ids used
	// when the remote pipeline is absent.
	SimulatedInstancePrefix = "sim_"
)

// Client is the HTTP client for the remote document-processing pipeline.
type Client struct {
	baseURL    string
	authKey    string
	httpClient *http.Client
	logger     arbor.ILogger
	limiter    *rate.Limiter
	simulate   bool
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithAuthKey sets the function key sent with every request.
func WithAuthKey(authKey string) ClientOption {
	return func(c *Client) {
		c.authKey = authKey
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a logger.
func WithLogger(logger arbor.ILogger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets a custom rate limit.
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithSimulateWhenAbsent controls the degraded-mode fallback: when true
// (the default), a missing remote endpoint yields a synthesized instance
// instead of an error.
func WithSimulateWhenAbsent(simulate bool) ClientOption {
	return func(c *Client) {
		c.simulate = simulate
	}
}

// NewClient creates a new pipeline client.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter:  rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		simulate: true,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// startRequest is the submission payload for the remote pipeline.
type startRequest struct {
	Blobs []models.BlobReference `json:"blobs"`
}

// startResponse covers both response forms the pipeline produces:
// a direct orchestration start ({id, statusQueryGetUri}) or a
// batch-submission echo ({status, results: [{name, status, id, message}]}).
type startResponse struct {
	ID                string             `json:"id"`
	StatusQueryGetURI string             `json:"statusQueryGetUri"`
	Status            string             `json:"status"`
	Results           []startResultEntry `json:"results"`
}

type startResultEntry struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	ID      string `json:"id"`
	Message string `json:"message"`
}

// Start submits blobs for processing. A "not found" response from the
// remote endpoint synthesizes a placeholder instance (Simulated=true) when
// simulation is enabled, so callers can still track a degraded job.
func (c *Client) Start(ctx context.Context, blobs []models.BlobReference) (*models.StartResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &TransportError{Op: "start", Err: err}
	}

	body, err := json.Marshal(startRequest{Blobs: blobs})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal start request: %w", err)
	}

	reqURL := c.baseURL + "/api/process"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authKey != "" {
		req.Header.Set("x-functions-key", c.authKey)
	}

	if c.logger != nil {
		c.logger.Debug().
			Str("url", reqURL).
			Int("blobs", len(blobs)).
			Msg("Starting remote processing job")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "start", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		if !c.simulate {
			return nil, &RemoteNotFoundError{Endpoint: reqURL}
		}
		// Remote pipeline absent: track a degraded job that completes on a
		// timer instead of failing the upload outright.
		instanceID := SimulatedInstancePrefix + uuid.New().String()
		if c.logger != nil {
			c.logger.Warn().
				Str("endpoint", reqURL).
				Str("instance_id", instanceID).
				Msg("Remote pipeline not found - simulating processing")
		}
		return &models.StartResult{InstanceID: instanceID, Simulated: true}, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &TransportError{
			Op:         "start",
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", string(respBody)),
		}
	}

	var parsed startResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &TransportError{Op: "start", Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	result := &models.StartResult{
		InstanceID:     parsed.ID,
		StatusQueryURI: parsed.StatusQueryGetURI,
	}

	// Batch-submission echo form: take the instance id from the first
	// accepted result entry.
	if result.InstanceID == "" {
		for _, entry := range parsed.Results {
			if entry.ID != "" {
				result.InstanceID = entry.ID
				break
			}
		}
	}

	if result.InstanceID == "" {
		return nil, &TransportError{
			Op:         "start",
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("response contained no instance id"),
		}
	}

	return result, nil
}

// Poll fetches the current raw status of a started instance. All failures
// are transport errors; the caller retries on the next poll cycle.
func (c *Client) Poll(ctx context.Context, start *models.StartResult) (*models.RawStatus, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &TransportError{Op: "poll", Err: err}
	}

	statusURL := start.StatusQueryURI
	if statusURL == "" {
		statusURL = fmt.Sprintf("%s/api/status/%s", c.baseURL, start.InstanceID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.authKey != "" {
		req.Header.Set("x-functions-key", c.authKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "poll", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &TransportError{
			Op:         "poll",
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", string(respBody)),
		}
	}

	var status models.RawStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, &TransportError{Op: "poll", Err: fmt.Errorf("failed to decode status: %w", err)}
	}

	return &status, nil
}
