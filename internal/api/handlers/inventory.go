package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/megayours/pfp-inventory/internal/domain"
	"github.com/megayours/pfp-inventory/internal/inventory"
)

type InventoryHandler struct {
	logger *logrus.Logger
}

func NewInventoryHandler(logger *logrus.Logger) *InventoryHandler {
	return &InventoryHandler{logger: logger}
}

// TokenResponse is a token plus its model domains in display order.
type TokenResponse struct {
	domain.Token
	Domains  []string `json:"domains"`
	Selected string   `json:"selected,omitempty"`
}

func tokenResponse(t domain.Token) TokenResponse {
	sel := inventory.NewSelector(t.Models)
	selected, _ := sel.Selected()
	return TokenResponse{Token: t, Domains: sel.Domains(), Selected: selected}
}

func (h *InventoryHandler) List(w http.ResponseWriter, r *http.Request) {
	tab, ok := tabFrom(w, r)
	if !ok {
		return
	}
	tokens, err := tab.Tokens(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	resp := make([]TokenResponse, 0, len(tokens))
	for _, t := range tokens {
		resp = append(resp, tokenResponse(t))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Equipped answers null when no token is equipped.
func (h *InventoryHandler) Equipped(w http.ResponseWriter, r *http.Request) {
	tab, ok := tabFrom(w, r)
	if !ok {
		return
	}
	token, err := tab.Equipped(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if token == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse(*token))
}

func (h *InventoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	tab, ok := tabFrom(w, r)
	if !ok {
		return
	}
	uid, err := domain.ParseHex(chi.URLParam(r, "uid"))
	if err != nil {
		http.Error(w, "Invalid token uid", http.StatusBadRequest)
		return
	}
	token, err := tab.Token(r.Context(), uid)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse(*token))
}

func (h *InventoryHandler) Items(w http.ResponseWriter, r *http.Request) {
	tab, ok := tabFrom(w, r)
	if !ok {
		return
	}
	kind, err := inventory.ParseItemKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	items, err := tab.Items(r.Context(), kind, r.URL.Query().Get("slot"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if items == nil {
		items = []domain.Item{}
	}
	writeJSON(w, http.StatusOK, items)
}
