package hub

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"pawchat/internal/auth"
	"pawchat/internal/transport/httpdto"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketHandler authenticates the handshake and hands the upgraded connection to
// the hub.
type WebSocketHandler struct {
	hub    *Hub
	issuer *auth.Issuer
}

func NewWebSocketHandler(hub *Hub, issuer *auth.Issuer) *WebSocketHandler {
	return &WebSocketHandler{hub: hub, issuer: issuer}
}

// Handle upgrades HTTP to WebSocket
func (h *WebSocketHandler) Handle(c *gin.Context) {
	token := extractToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("missing token", "UNAUTHORIZED"))
		return
	}

	claims, err := h.issuer.Parse(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("invalid token", "UNAUTHORIZED"))
		return
	}
	userID := claims.UserID()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.hub.logger.Error("websocket upgrade failed", userID, "", err)
		return
	}

	client := NewClient(h.hub, conn, userID, uuid.New().String(), h.hub.limits, h.hub.logger)
	h.hub.register(client)
}

func extractToken(c *gin.Context) string {
	if token := c.Query("token"); token != "" {
		return token
	}

	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
	}
	return ""
}
