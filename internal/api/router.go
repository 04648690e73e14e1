package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/megayours/pfp-inventory/internal/api/handlers"
	"github.com/megayours/pfp-inventory/internal/api/middleware"
	"github.com/megayours/pfp-inventory/internal/metrics"
	"github.com/megayours/pfp-inventory/internal/service"
	"github.com/megayours/pfp-inventory/internal/websocket"
)

func NewRouter(services *service.Services, hub *websocket.Hub, m *metrics.Collector, logger *logrus.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chiMiddleware.RequestLogger(&chiMiddleware.DefaultLogFormatter{Logger: logger, NoColor: true}))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.RequestID)
	r.Use(middleware.CORS)
	r.Use(m.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", m.Handler())

	tabHandler := handlers.NewTabHandler(services.Tabs, logger)
	walletHandler := handlers.NewWalletHandler(services.Tabs, logger)
	authHandler := handlers.NewAuthHandler(logger)
	inventoryHandler := handlers.NewInventoryHandler(logger)
	uploadHandler := handlers.NewUploadHandler(0, logger)
	wsHandler := handlers.NewWebSocketHandler(hub, services.Tabs, logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/tabs", tabHandler.Open)

		// Tab-scoped routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.TabAuth(services.Tabs, logger))

			r.Get("/tabs/me", tabHandler.Me)
			r.Delete("/tabs/me", tabHandler.Close)

			r.Route("/wallet", func(r chi.Router) {
				r.Post("/connect", walletHandler.Connect)
				r.Post("/disconnect", walletHandler.Disconnect)
			})

			r.Route("/auth", func(r chi.Router) {
				r.Get("/", authHandler.Get)
				r.Post("/logout", authHandler.Logout)
				r.Post("/{chain}/connect", authHandler.Connect)
				r.Post("/{chain}/register", authHandler.Register)
				r.Post("/{chain}/disconnect", authHandler.Disconnect)
			})

			r.Route("/tokens", func(r chi.Router) {
				r.Get("/", inventoryHandler.List)
				r.Get("/equipped", inventoryHandler.Equipped)
				r.Get("/{uid}", inventoryHandler.Get)
				r.Post("/{uid}/models", uploadHandler.UploadModel)
			})

			r.Get("/items/{kind}", inventoryHandler.Items)
			r.Get("/upload/progress", uploadHandler.Progress)
		})

		// WebSocket endpoint
		r.Get("/ws", wsHandler.Handle)
	})

	return r
}
