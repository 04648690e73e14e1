package handlers

import (
	"errors"
	"net/http"

	ws "github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/megayours/pfp-inventory/internal/domain"
	"github.com/megayours/pfp-inventory/internal/service"
	"github.com/megayours/pfp-inventory/internal/websocket"
)

var upgrader = ws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // tab tokens, not cookies, authenticate the socket
	},
}

type WebSocketHandler struct {
	hub    *websocket.Hub
	tabs   *service.TabService
	logger *logrus.Logger
}

func NewWebSocketHandler(hub *websocket.Hub, tabs *service.TabService, logger *logrus.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub:    hub,
		tabs:   tabs,
		logger: logger,
	}
}

func (h *WebSocketHandler) Handle(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "Token required", http.StatusUnauthorized)
		return
	}

	tabID, err := h.tabs.ValidateToken(token)
	if err != nil {
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}
	// load the runtime so the connect push has state to send
	if _, err := h.tabs.Get(r.Context(), tabID); err != nil {
		if errors.Is(err, domain.ErrTabNotFound) {
			http.Error(w, "Tab not found", http.StatusUnauthorized)
			return
		}
		writeError(w, h.logger, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	client := websocket.NewClient(h.hub, conn, tabID)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}
