package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/megayours/pfp-inventory/internal/api/middleware"
	"github.com/megayours/pfp-inventory/internal/chain"
	"github.com/megayours/pfp-inventory/internal/domain"
	"github.com/megayours/pfp-inventory/internal/service"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps domain and chain errors onto HTTP status codes.
func statusFor(err error) int {
	var chainErr *chain.Error
	var endpointErr *chain.EndpointError
	switch {
	case errors.Is(err, domain.ErrInvalidFileType),
		errors.Is(err, domain.ErrEmptyFile),
		errors.Is(err, domain.ErrInvalidDomain),
		errors.Is(err, domain.ErrUnknownChain),
		errors.Is(err, domain.ErrInvalidAddress),
		errors.Is(err, domain.ErrUnknownItemKind):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNoSession),
		errors.Is(err, domain.ErrNotConnected):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrSigningRejected):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrTokenNotFound),
		errors.Is(err, domain.ErrTabNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrWalletUnavailable),
		errors.Is(err, domain.ErrConnectInProgress),
		errors.Is(err, domain.ErrNotRegistered),
		errors.Is(err, domain.ErrAlreadyRegistered),
		errors.Is(err, domain.ErrInvalidAuthStatus),
		errors.Is(err, domain.ErrInvalidWizardStep),
		errors.Is(err, domain.ErrSignerDisconnected):
		return http.StatusConflict
	case errors.Is(err, chain.ErrTxRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &chainErr), errors.As(err, &endpointErr), errors.Is(err, chain.ErrNoEndpoints):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, logger *logrus.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.WithError(err).Error("Request failed")
		http.Error(w, "Internal server error", status)
		return
	}
	if status >= http.StatusBadGateway {
		logger.WithError(err).Warn("Chain request failed")
	}
	http.Error(w, err.Error(), status)
}

// tabFrom returns the tab the auth middleware resolved.
func tabFrom(w http.ResponseWriter, r *http.Request) (*service.Tab, bool) {
	tab, ok := middleware.GetTab(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return nil, false
	}
	return tab, true
}
