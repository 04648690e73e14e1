package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/megayours/pfp-inventory/internal/auth"
	"github.com/megayours/pfp-inventory/internal/domain"
)

// AuthHandler drives the chain auth contexts of the requesting tab.
type AuthHandler struct {
	logger *logrus.Logger
}

func NewAuthHandler(logger *logrus.Logger) *AuthHandler {
	return &AuthHandler{logger: logger}
}

func (h *AuthHandler) Get(w http.ResponseWriter, r *http.Request) {
	tab, ok := tabFrom(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, tab.Auth())
}

func (h *AuthHandler) chain(w http.ResponseWriter, r *http.Request) (*auth.Context, bool) {
	tab, ok := tabFrom(w, r)
	if !ok {
		return nil, false
	}
	name, err := domain.ParseChainName(chi.URLParam(r, "chain"))
	if err != nil {
		writeError(w, h.logger, err)
		return nil, false
	}
	c, err := tab.Chain(name)
	if err != nil {
		writeError(w, h.logger, err)
		return nil, false
	}
	return c, true
}

// Connect runs the explicit connect of one chain. A connect already in flight answers
// 409 and leaves the state alone.
func (h *AuthHandler) Connect(w http.ResponseWriter, r *http.Request) {
	c, ok := h.chain(w, r)
	if !ok {
		return
	}
	if err := c.Connect(r.Context()); err != nil {
		if errors.Is(err, domain.ErrConnectInProgress) {
			writeJSON(w, http.StatusConflict, c.State())
			return
		}
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c.State())
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	c, ok := h.chain(w, r)
	if !ok {
		return
	}
	if err := c.Register(r.Context()); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c.State())
}

func (h *AuthHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	c, ok := h.chain(w, r)
	if !ok {
		return
	}
	if err := c.Disconnect(r.Context()); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c.State())
}

// Logout disconnects the wallet and both chains and forgets every stored credential.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	tab, ok := tabFrom(w, r)
	if !ok {
		return
	}
	if err := tab.Logout(r.Context()); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, tab.Auth())
}
