package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SOWA-EQR/ai-document-processor/internal/models"
)

func testBlobs() []models.BlobReference {
	return []models.BlobReference{{Name: "report.pdf", Container: "uploads"}}
}

func TestClientStartDirectResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/process", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-functions-key"))

		var req struct {
			Blobs []models.BlobReference `json:"blobs"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Len(t, req.Blobs, 1)

		json.NewEncoder(w).Encode(map[string]string{
			"id":                "instance-1",
			"statusQueryGetUri": srvURL(r) + "/api/status/instance-1",
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, WithAuthKey("secret"))
	result, err := client.Start(context.Background(), testBlobs())
	require.NoError(t, err)
	assert.Equal(t, "instance-1", result.InstanceID)
	assert.False(t, result.Simulated)
	assert.Contains(t, result.StatusQueryURI, "/api/status/instance-1")
}

func srvURL(r *http.Request) string {
	return "http://" + r.Host
}

func TestClientStartBatchEchoResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "accepted",
			"results": []map[string]string{
				{"name": "report.pdf", "status": "accepted", "id": "instance-9"},
			},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	result, err := client.Start(context.Background(), testBlobs())
	require.NoError(t, err)
	assert.Equal(t, "instance-9", result.InstanceID)
}

func TestClientStartNotFoundSimulates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	result, err := client.Start(context.Background(), testBlobs())
	require.NoError(t, err)
	assert.True(t, result.Simulated)
	assert.True(t, strings.HasPrefix(result.InstanceID, SimulatedInstancePrefix))
}

func TestClientStartNotFoundWithoutSimulation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, WithSimulateWhenAbsent(false))
	_, err := client.Start(context.Background(), testBlobs())

	var notFound *RemoteNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestClientStartServerErrorIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	_, err := client.Start(context.Background(), testBlobs())

	var transport *TransportError
	require.ErrorAs(t, err, &transport)
	assert.Equal(t, http.StatusBadGateway, transport.StatusCode)
	assert.Equal(t, "start", transport.Op)
}

func TestClientStartNetworkErrorIsTransport(t *testing.T) {
	client := NewClient("http://127.0.0.1:1") // nothing listens here

	_, err := client.Start(context.Background(), testBlobs())

	var transport *TransportError
	require.ErrorAs(t, err, &transport)
	assert.Zero(t, transport.StatusCode)
}

func TestClientStartMissingInstanceID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	_, err := client.Start(context.Background(), testBlobs())

	var transport *TransportError
	require.ErrorAs(t, err, &transport)
}

func TestClientPollUsesStatusQueryURI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/status/custom", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"runtimeStatus": models.RawStateRunning,
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	status, err := client.Poll(context.Background(), &models.StartResult{
		InstanceID:     "instance-1",
		StatusQueryURI: srv.URL + "/status/custom",
	})
	require.NoError(t, err)
	assert.Equal(t, models.RawStateRunning, status.RuntimeStatus)
	assert.False(t, status.IsTerminal())
}

func TestClientPollFallbackURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/status/instance-1", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"runtimeStatus": models.RawStateCompleted,
			"output":        map[string]int{"pages": 2},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	status, err := client.Poll(context.Background(), &models.StartResult{InstanceID: "instance-1"})
	require.NoError(t, err)
	assert.Equal(t, models.RawStateCompleted, status.RuntimeStatus)
	assert.True(t, status.IsTerminal())
	assert.JSONEq(t, `{"pages":2}`, string(status.Output))
}

func TestClientPollFailureIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	_, err := client.Poll(context.Background(), &models.StartResult{InstanceID: "instance-1"})

	var transport *TransportError
	require.ErrorAs(t, err, &transport)
	assert.Equal(t, "poll", transport.Op)
	assert.Equal(t, http.StatusServiceUnavailable, transport.StatusCode)
}
