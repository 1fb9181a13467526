// Package server is the operational HTTP listener: health and metrics.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aevon-lab/project-lattice/internal/metrics"
)

type Server struct {
	Engine *gin.Engine
	Addr   string
	store  HealthChecker
}

// HealthChecker is an interface for components that can report their health status.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// New builds the listener. store may be nil when the backend has nothing to
// ping.
func New(addr string, store HealthChecker, mode string) *Server {
	if mode == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{
		Engine: r,
		Addr:   addr,
		store:  store,
	}

	r.GET("/health", s.healthHandler)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	return s
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.store != nil {
		if err := s.store.Ping(ctx); err != nil {
			slog.Error("Health check failed: store unreachable", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "store unreachable",
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	slog.Info("Starting HTTP Server...", "address", s.Addr)

	go func() {
		<-ctx.Done()
		slog.Info("Stopping HTTP Server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP Server forced to shutdown", "error", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
