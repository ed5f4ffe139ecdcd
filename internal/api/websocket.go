package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/photo-gallery/backend/internal/upload"
	"go.uber.org/zap"
)

// WebSocket message types for the batch progress protocol
const (
	// Client -> Server messages
	MsgTypePing         = "ping"
	MsgTypeBatchStart   = "batch:start"
	MsgTypeBatchRemove  = "batch:remove"
	MsgTypeBatchRefresh = "batch:snapshot"

	// Server -> Client messages
	MsgTypeConnected = "connected"
	MsgTypeAck       = "ack"
	MsgTypeEvent     = "event"
	MsgTypeBatch     = "batch"
	MsgTypeError     = "error"
	MsgTypePong      = "pong"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// WSMessage is the envelope of every WebSocket message
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// RemoveItemPayload names the item of a batch:remove message
type RemoveItemPayload struct {
	ItemID string `json:"itemId"`
}

// WSErrorResponse is the payload of error messages
type WSErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// WebSocketHandler streams batch progress and accepts batch commands
type WebSocketHandler struct {
	batches        BatchManager
	upgrader       websocket.Upgrader
	maxMessageSize int64
	logger         *zap.Logger
}

// NewWebSocketHandler creates a new WebSocket batch handler
func NewWebSocketHandler(batches BatchManager, maxMessageSize int64, logger *zap.Logger) *WebSocketHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxMessageSize <= 0 {
		maxMessageSize = 64 << 10
	}
	return &WebSocketHandler{
		batches: batches,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Allow connections from dev server
				return true
			},
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
		},
		maxMessageSize: maxMessageSize,
		logger:         logger.Named("ws"),
	}
}

// wsConn serializes writes to a connection.
type wsConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *wsConn) send(msg WSMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.ws.WriteJSON(msg)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

// HandleWebSocket upgrades the connection and follows one batch until the
// client disconnects.
func (wsh *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	id := c.Param("batchId")
	b, ok := wsh.batches.GetBatch(id)
	if !ok {
		return NewNotFoundError("batch", id)
	}
	if _, err := ownerOf(c, b.Owner); err != nil {
		return err
	}

	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	log := wsh.logger.With(zap.String("batch", id))
	log.Debug("client connected")

	conn := &wsConn{ws: ws}
	ws.SetReadLimit(wsh.maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	unsubscribe, err := wsh.batches.Subscribe(id, func(e upload.Event) {
		if err := conn.send(WSMessage{Type: MsgTypeEvent, ID: id, Payload: mustJSON(eventPayload(e))}); err != nil {
			log.Debug("event dropped", zap.Error(err))
		}
	})
	if err != nil {
		return nil
	}
	defer unsubscribe()

	// Re-read after subscribing so a run that ended in between is seen as done.
	if cur, ok := wsh.batches.GetBatch(id); ok {
		b = cur
	}
	if err := conn.send(WSMessage{Type: MsgTypeConnected, ID: id, Payload: mustJSON(b)}); err != nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		wsh.readLoop(conn, id, log)
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			log.Debug("client disconnected")
			return nil
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				return nil
			}
		}
	}
}

// readLoop handles client messages until the connection fails.
func (wsh *WebSocketHandler) readLoop(conn *wsConn, id string, log *zap.Logger) {
	for {
		var msg WSMessage
		if err := conn.ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("connection error", zap.Error(err))
			}
			return
		}

		var err error
		switch msg.Type {
		case MsgTypePing:
			err = conn.send(WSMessage{Type: MsgTypePong, ID: msg.ID})
		case MsgTypeBatchRefresh:
			b, ok := wsh.batches.GetBatch(id)
			if !ok {
				err = wsh.sendError(conn, msg.ID, "batch not found", "NOT_FOUND")
				break
			}
			err = conn.send(WSMessage{Type: MsgTypeBatch, ID: msg.ID, Payload: mustJSON(b)})
		case MsgTypeBatchStart:
			if _, startErr := wsh.batches.StartUpload(id); startErr != nil {
				err = wsh.sendAPIError(conn, msg.ID, startErr)
				break
			}
			err = conn.send(WSMessage{Type: MsgTypeAck, ID: msg.ID})
		case MsgTypeBatchRemove:
			var payload RemoveItemPayload
			if jsonErr := json.Unmarshal(msg.Payload, &payload); jsonErr != nil || payload.ItemID == "" {
				err = wsh.sendError(conn, msg.ID, "invalid remove payload", "INVALID_PAYLOAD")
				break
			}
			if rmErr := wsh.batches.RemoveItem(id, payload.ItemID); rmErr != nil {
				err = wsh.sendAPIError(conn, msg.ID, rmErr)
				break
			}
			err = conn.send(WSMessage{Type: MsgTypeAck, ID: msg.ID})
		default:
			err = wsh.sendError(conn, msg.ID, "Unknown message type: "+msg.Type, "INVALID_TYPE")
		}
		if err != nil {
			return
		}
	}
}

func (wsh *WebSocketHandler) sendAPIError(conn *wsConn, msgID string, err error) error {
	apiErr := toAPIError(err, false)
	return wsh.sendError(conn, msgID, apiErr.Message, apiErr.Code)
}

func (wsh *WebSocketHandler) sendError(conn *wsConn, msgID, message, code string) error {
	return conn.send(WSMessage{
		Type:    MsgTypeError,
		ID:      msgID,
		Payload: mustJSON(WSErrorResponse{Message: message, Code: code}),
	})
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
