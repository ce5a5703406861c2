package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/savegress/vitalsync/internal/devices"
	"github.com/savegress/vitalsync/internal/pipeline"
	"github.com/savegress/vitalsync/internal/quality"
	"github.com/savegress/vitalsync/internal/syncer"
	"github.com/savegress/vitalsync/internal/ws"
)

// Server represents the API server
type Server struct {
	router   chi.Router
	pipeline *pipeline.Pipeline
	syncMgr  *syncer.Manager
	reporter *quality.Reporter
	registry *devices.Registry
	hub      *ws.Hub
	logger   *zap.Logger
}

// NewServer creates a new API server
func NewServer(p *pipeline.Pipeline, sm *syncer.Manager, rep *quality.Reporter, reg *devices.Registry, hub *ws.Hub, logger *zap.Logger) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		pipeline: p,
		syncMgr:  sm,
		reporter: rep,
		registry: reg,
		hub:      hub,
		logger:   logger,
	}

	s.setupRoutes()
	return s
}

// Router returns the configured router
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	s.router.Get("/health", s.healthCheck)

	// Live feed
	s.router.Get("/ws", s.serveWS)

	// API v1
	s.router.Route("/api/v1", func(r chi.Router) {
		// Real-time single-reading intake
		r.Post("/readings", s.ingestOne)

		// Per-patient telemetry
		r.Route("/patients/{patientID}", func(r chi.Router) {
			r.Post("/readings", s.ingestBatch)
			r.Post("/gaps/fill", s.fillGaps)
			r.Get("/data", s.getData)
			r.Get("/metrics/latest", s.getLatestMetrics)
			r.Get("/quality", s.getQualityReport)

			r.Post("/offline", s.queueOfflineData)
			r.Post("/offline/process", s.processOfflineQueue)
			r.Get("/offline/size", s.getOfflineQueueSize)

			r.Get("/sync/history", s.getSyncHistory)
			r.Get("/sync/last", s.getLastSyncPerDevice)
		})

		// Devices
		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.listDevices)
			r.Post("/", s.registerDevice)
			r.Get("/{id}", s.getDevice)
			r.Put("/{id}", s.updateDevice)
			r.Delete("/{id}", s.unregisterDevice)
			r.Post("/{id}/heartbeat", s.deviceHeartbeat)
		})
	})
}
