package api

import (
	"github.com/go-chi/chi/v5"
)

// setupAPIRoutes sets up API v1 routes
func (s *RESTServer) setupAPIRoutes(r chi.Router) {
	// Health check
	r.Get("/health", s.HandleHealth)
	r.Get("/", s.HandleRoot)

	// Auth routes (public)
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.HandleLogin)
		r.Post("/refresh", s.HandleRefresh)
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		// Advertising lifecycle
		r.Route("/advertising", func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Post("/start", s.HandleStartAdvertising)
			r.Post("/stop", s.HandleStopAdvertising)
			r.Get("/status", s.HandleAdvertisingStatus)
			r.Get("/statistics", s.HandleAdvertisingStatistics)
		})

		// Platform support report
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/support", s.HandleSupport)
		})

		// Scanning
		r.Route("/scan", func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Post("/start", s.HandleStartScan)
			r.Post("/stop", s.HandleStopScan)
			r.Get("/results", s.HandleScanResults)
		})

		// Connected devices
		r.Route("/devices", func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/", s.HandleListDevices)
			r.Route("/{device_id}", func(r chi.Router) {
				r.Get("/", s.HandleGetDevice)
				r.Post("/connect", s.HandleConnectDevice)
				r.Delete("/", s.HandleDisconnectDevice)
				r.Post("/send", s.HandleSendData)
			})
		})

		// Permissions
		r.Route("/permissions", func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/", s.HandleCheckPermissions)
			r.Post("/request", s.HandleRequestPermissions)
		})

		// Session history
		r.Route("/sessions", func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/", s.HandleListSessions)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.HandleGetSession)
				r.Get("/health", s.HandleSessionHealth)
			})
		})

		// Events
		r.Route("/events", func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/", s.HandleListEvents)
		})
	})
}
