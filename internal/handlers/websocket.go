package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/SOWA-EQR/ai-document-processor/internal/bus"
	"github.com/SOWA-EQR/ai-document-processor/internal/common"
	"github.com/SOWA-EQR/ai-document-processor/internal/interfaces"
	"github.com/SOWA-EQR/ai-document-processor/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WSMessage is the envelope for every server-to-client message.
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// wsClientMessage is the client-to-server subscription protocol.
type wsClientMessage struct {
	Action string `json:"action"` // "join" or "leave"
	JobID  string `json:"job_id"`
}

// WebSocketHandler bridges the progress bus to websocket clients. Each
// connection is one bus subscriber per joined job; a slow client drops
// events at the bus rather than stalling the orchestrator.
type WebSocketHandler struct {
	logger           arbor.ILogger
	bus              *bus.Bus
	results          interfaces.ResultStorage
	serverInstanceID string
}

// NewWebSocketHandler creates a new websocket handler
func NewWebSocketHandler(progressBus *bus.Bus, results interfaces.ResultStorage, logger arbor.ILogger) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:           logger,
		bus:              progressBus,
		results:          results,
		serverInstanceID: uuid.New().String(),
	}

	logger.Info().Str("server_instance_id", h.serverInstanceID).Msg("WebSocket handler initialized with server instance ID")

	return h
}

// HandleWebSocket handles WebSocket connections
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	connID := uuid.New().String()
	writeMu := &sync.Mutex{}
	joined := make(map[string]struct{})

	h.logger.Debug().Str("conn_id", connID).Msg("WebSocket client connected")

	h.write(conn, writeMu, WSMessage{
		Type: "connected",
		Payload: map[string]string{
			"server_instance_id": h.serverInstanceID,
		},
	})

	defer func() {
		for jobID := range joined {
			h.bus.Leave(jobID, connID)
		}
		conn.Close()
		h.logger.Debug().Str("conn_id", connID).Msg("WebSocket client disconnected")
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			return
		}

		var msg wsClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.write(conn, writeMu, WSMessage{
				Type:    "error",
				Payload: map[string]string{"error": "invalid message"},
			})
			continue
		}

		switch msg.Action {
		case "join":
			if msg.JobID == "" {
				h.write(conn, writeMu, WSMessage{
					Type:    "error",
					Payload: map[string]string{"error": "job_id is required"},
				})
				continue
			}
			if _, ok := joined[msg.JobID]; ok {
				continue
			}
			h.join(r.Context(), conn, writeMu, connID, msg.JobID)
			joined[msg.JobID] = struct{}{}

		case "leave":
			if _, ok := joined[msg.JobID]; !ok {
				continue
			}
			h.bus.Leave(msg.JobID, connID)
			delete(joined, msg.JobID)

		default:
			h.write(conn, writeMu, WSMessage{
				Type:    "error",
				Payload: map[string]string{"error": "unknown action: " + msg.Action},
			})
		}
	}
}

// join subscribes the connection to a job topic. Jobs that already resolved
// get a single catch-up message built from the stored result; the bus is
// never consulted for past events.
func (h *WebSocketHandler) join(ctx context.Context, conn *websocket.Conn, writeMu *sync.Mutex, connID, jobID string) {
	if result, err := h.results.GetResult(ctx, jobID); err == nil {
		h.writeTerminalSnapshot(conn, writeMu, jobID, result)
		return
	}

	ch := h.bus.Join(jobID, connID)

	// The job may have resolved between the store check and the join,
	// leaving a closed topic that delivers nothing. The result is saved
	// before the terminal publish, so one more store check after joining
	// closes that window.
	if result, err := h.results.GetResult(ctx, jobID); err == nil {
		h.bus.Leave(jobID, connID)
		h.writeTerminalSnapshot(conn, writeMu, jobID, result)
		return
	}

	common.SafeGo(h.logger, "ws-forward-"+jobID, func() {
		for event := range ch {
			h.write(conn, writeMu, WSMessage{
				Type:    messageType(event.Stage),
				Payload: event,
			})
		}
	})
}

// writeTerminalSnapshot sends the single catch-up message for a resolved job.
func (h *WebSocketHandler) writeTerminalSnapshot(conn *websocket.Conn, writeMu *sync.Mutex, jobID string, result *models.ProcessingResult) {
	event := models.NewProgressEvent(jobID, terminalPercentage(result), stageForState(result.State), result.Message)
	h.write(conn, writeMu, WSMessage{
		Type:    messageType(event.Stage),
		Payload: event,
	})
}

// write sends one message under the connection's write lock.
func (h *WebSocketHandler) write(conn *websocket.Conn, writeMu *sync.Mutex, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal websocket message")
		return
	}

	writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	writeMu.Unlock()

	if err != nil {
		h.logger.Warn().Err(err).Str("type", msg.Type).Msg("Failed to send websocket message")
	}
}

// messageType maps a progress stage to the wire message type.
func messageType(stage models.Stage) string {
	switch stage {
	case models.StageCompleted:
		return "complete"
	case models.StageFailed, models.StageTimedOut, models.StageError:
		return "error"
	default:
		return "progress"
	}
}

// stageForState maps a stored terminal job state to its progress stage.
func stageForState(state models.JobState) models.Stage {
	switch state {
	case models.JobStateCompleted:
		return models.StageCompleted
	case models.JobStateFailed:
		return models.StageFailed
	case models.JobStateTimedOut:
		return models.StageTimedOut
	default:
		return models.StageError
	}
}

func terminalPercentage(result *models.ProcessingResult) int {
	if result.Success {
		return 100
	}
	return 0
}
