// Package server wires the SFU, the signaling hub and the HTTP surface.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/BioHazard786/huddle/internal/config"
	"github.com/BioHazard786/huddle/internal/logging"
	"github.com/BioHazard786/huddle/internal/metrics"
	"github.com/BioHazard786/huddle/internal/sfu"
	"github.com/BioHazard786/huddle/internal/signaling"
	rtc "github.com/BioHazard786/huddle/internal/webrtc"
)

// Server is the huddle SFU server.
type Server struct {
	server   *http.Server
	hub      *signaling.Hub
	manager  *sfu.Manager
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer

	startTime time.Time
	stopHub   context.CancelFunc
	hubDone   chan struct{}
}

// New builds a server for cfg. Metrics are registered with reg when enabled
// in cfg; reg may be nil.
func New(cfg *config.Config, reg *prometheus.Registry) (*Server, error) {
	var m *metrics.Metrics
	var gatherer prometheus.Gatherer
	if cfg.Server.Metrics && reg != nil {
		m = metrics.NewMetrics(reg)
		gatherer = reg
	}

	api, err := rtc.NewAPI(cfg.Server.KeyframeInterval, logging.PionFactory(logging.ParseLevel(cfg.Logging.Level)))
	if err != nil {
		return nil, fmt.Errorf("create webrtc api: %w", err)
	}
	manager := sfu.NewManager(api, sfu.ConfigFrom(cfg), m)

	s := &Server{
		hub:       signaling.NewHub(manager, m),
		manager:   manager,
		metrics:   m,
		gatherer:  gatherer,
		startTime: time.Now(),
		hubDone:   make(chan struct{}),
	}

	mux := http.NewServeMux()
	s.setupRoutes(mux)
	s.server = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	var ctx context.Context
	ctx, s.stopHub = context.WithCancel(context.Background())
	go func() {
		s.hub.Run(ctx)
		close(s.hubDone)
	}()

	return s, nil
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Manager returns the room manager.
func (s *Server) Manager() *sfu.Manager {
	return s.manager
}

// Start serves HTTP until Shutdown is called.
func (s *Server) Start() error {
	slog.Info("Starting huddle server", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections, closes every signaling connection and
// removes all peers.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Stopping huddle server")
	err := s.server.Shutdown(ctx)

	s.stopHub()
	select {
	case <-s.hubDone:
	case <-ctx.Done():
	}
	s.manager.Close()
	return err
}
