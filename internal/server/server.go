// Copyright (C) 2025-2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/hlog"
	"golang.org/x/sync/errgroup"

	"github.com/noldarim/wlctl/internal/config"
)

// Server is the status gateway.
type Server struct {
	httpServer  *http.Server
	broadcaster *EventBroadcaster
}

// New wires up the gateway. It does NOT start listening; call Run for
// that. /metrics serves reg, which also receives the gateway's own
// metrics; nil uses a private registry next to the default one.
func New(cfg *config.ServerConfig, client Client, reg *prometheus.Registry) *Server {
	var gatherer prometheus.Gatherer = reg
	if reg == nil {
		reg = prometheus.NewRegistry()
		gatherer = prometheus.Gatherers{prometheus.DefaultGatherer, reg}
	}
	registry := NewClientRegistry()
	broadcaster := NewEventBroadcaster(client, DefaultEventMask, registry)
	handlers := NewHandlers(client, registry)

	r := chi.NewRouter()

	r.Use(hlog.NewHandler(*getLog()))
	r.Use(RequestID)
	r.Use(AccessLog(newHTTPMetrics(reg)))
	r.Use(Recovery)
	r.Use(CORS(cfg.AllowedOrigins))

	r.Get("/healthz", handlers.Healthz)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequestSize(1 << 20))
		r.Use(middleware.NoCache)
		r.Use(RequireConnection(client))
		r.Get("/state", handlers.GetState)
		r.Get("/workloads/states", handlers.GetWorkloadStates)
	})

	r.Get("/ws", HandleWebSocket(registry, cfg.AllowedOrigins))

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr(),
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		broadcaster: broadcaster,
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Run serves until ctx is cancelled, then shuts the HTTP server down.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on a listener the caller opened.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.broadcaster.Run(ctx)
		return nil
	})

	g.Go(func() error {
		getLog().Info().Str("addr", ln.Addr().String()).Msg("Status gateway listening")
		if err := s.httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
