package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/quocanhngo/fleetwatch/internal/middleware"
	"github.com/quocanhngo/fleetwatch/internal/model"
	"github.com/quocanhngo/fleetwatch/internal/ws"
)

// Dashboard commands accepted over the websocket
const (
	wsCommandSnapshot     = "get_snapshot"
	wsCommandDismissAlert = "dismiss_alert"
	wsCommandShowAll      = "show_all"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // tokens gate access, origins are enforced by CORS on the REST side
	},
}

// WSHandler streams dashboard events to operators
type WSHandler struct {
	hub     *ws.Hub
	session Dashboard
	auth    middleware.TokenAuthenticator
	logger  *slog.Logger
}

func NewWSHandler(hub *ws.Hub, session Dashboard, auth middleware.TokenAuthenticator, logger *slog.Logger) *WSHandler {
	return &WSHandler{hub: hub, session: session, auth: auth, logger: logger.With("component", "ws_handler")}
}

// HandleWebSocket upgrades HTTP to WebSocket and attaches the dashboard
// Client connects with: ws://host/ws?token=<operator_token>
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	// Authenticate via query parameter (WebSocket can't use Authorization header)
	tokenString := c.Query("token")
	if tokenString == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Token required"})
		return
	}

	claims, err := h.auth.Authenticate(c.Request.Context(), tokenString)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := ws.NewClient(h.hub, conn, claims.Email)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump(h.handleWSMessage)
}

// handleWSMessage processes a command sent by the dashboard
func (h *WSHandler) handleWSMessage(client *ws.Client, event model.WSEvent) {
	switch event.Type {
	case wsCommandSnapshot:
		client.Send(&model.WSEvent{Type: model.WSEventSnapshot, Payload: h.session.Snapshot()})

	case wsCommandDismissAlert:
		payloadBytes, _ := json.Marshal(event.Payload)
		var payload struct {
			Index int `json:"index"`
		}
		if err := json.Unmarshal(payloadBytes, &payload); err != nil {
			h.logger.Debug("bad dismiss_alert payload", "operator", client.Operator, "error", err)
			return
		}
		if err := h.session.DismissAlert(payload.Index); err != nil {
			h.logger.Info("dismiss alert failed", "operator", client.Operator, "index", payload.Index, "error", err)
		}

	case wsCommandShowAll:
		pose, ok, err := h.session.ShowAll()
		if err != nil {
			return
		}
		client.Send(&model.WSEvent{Type: model.WSEventScene, Payload: model.ShowAllResponse{
			Performed: ok,
			Lat:       pose.Center.Lat,
			Lon:       pose.Center.Lon,
			Zoom:      pose.Zoom,
		}})

	default:
		h.logger.Debug("unknown dashboard command", "type", event.Type)
	}
}
