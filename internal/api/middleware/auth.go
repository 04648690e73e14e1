package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/megayours/pfp-inventory/internal/domain"
	"github.com/megayours/pfp-inventory/internal/service"
)

type contextKey string

const (
	TabKey contextKey = "tab"
)

// TabAuth resolves the bearer tab token to the tab's runtime state.
func TabAuth(tabs *service.TabService, logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "Invalid authorization header", http.StatusUnauthorized)
				return
			}

			tabID, err := tabs.ValidateToken(parts[1])
			if err != nil {
				logger.WithError(err).Debug("Tab token rejected")
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			tab, err := tabs.Get(r.Context(), tabID)
			if err != nil {
				if errors.Is(err, domain.ErrTabNotFound) {
					http.Error(w, "Tab not found", http.StatusUnauthorized)
					return
				}
				logger.WithError(err).WithField("tab", tabID).Error("Failed to load tab")
				http.Error(w, "Internal server error", http.StatusInternalServerError)
				return
			}

			ctx := context.WithValue(r.Context(), TabKey, tab)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func GetTab(ctx context.Context) (*service.Tab, bool) {
	tab, ok := ctx.Value(TabKey).(*service.Tab)
	return tab, ok
}
