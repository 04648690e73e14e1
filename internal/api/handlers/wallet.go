package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/megayours/pfp-inventory/internal/service"
)

// WalletHandler connects the wallet living behind a tab's WebSocket.
type WalletHandler struct {
	tabs   *service.TabService
	logger *logrus.Logger
}

func NewWalletHandler(tabs *service.TabService, logger *logrus.Logger) *WalletHandler {
	return &WalletHandler{tabs: tabs, logger: logger}
}

type ConnectWalletRequest struct {
	Address string `json:"address"`
}

func (h *WalletHandler) Connect(w http.ResponseWriter, r *http.Request) {
	tab, ok := tabFrom(w, r)
	if !ok {
		return
	}
	var req ConnectWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Address == "" {
		http.Error(w, "Address is required", http.StatusBadRequest)
		return
	}

	if err := h.tabs.ConnectWallet(r.Context(), tab, req.Address); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, tab.Auth())
}

func (h *WalletHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	tab, ok := tabFrom(w, r)
	if !ok {
		return
	}
	tab.DisconnectWallet()
	writeJSON(w, http.StatusOK, tab.Auth())
}
