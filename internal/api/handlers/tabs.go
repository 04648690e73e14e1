package handlers

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/megayours/pfp-inventory/internal/domain"
	"github.com/megayours/pfp-inventory/internal/service"
)

type TabHandler struct {
	tabs   *service.TabService
	logger *logrus.Logger
}

func NewTabHandler(tabs *service.TabService, logger *logrus.Logger) *TabHandler {
	return &TabHandler{tabs: tabs, logger: logger}
}

type OpenTabResponse struct {
	TabID     string    `json:"tabId"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type TabResponse struct {
	TabID  string                `json:"tabId"`
	Auth   service.AuthSnapshot  `json:"auth"`
	Upload domain.UploadProgress `json:"upload"`
}

func (h *TabHandler) Open(w http.ResponseWriter, r *http.Request) {
	opened, err := h.tabs.Open(r.Context(), r.UserAgent())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, OpenTabResponse{
		TabID:     opened.Tab.ID.String(),
		Token:     opened.Token,
		ExpiresAt: opened.ExpiresAt,
	})
}

func (h *TabHandler) Me(w http.ResponseWriter, r *http.Request) {
	tab, ok := tabFrom(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, TabResponse{
		TabID:  tab.ID.String(),
		Auth:   tab.Auth(),
		Upload: tab.Tracker.Snapshot(),
	})
}

func (h *TabHandler) Close(w http.ResponseWriter, r *http.Request) {
	tab, ok := tabFrom(w, r)
	if !ok {
		return
	}
	if err := h.tabs.Close(r.Context(), tab.ID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
