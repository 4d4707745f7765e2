// Package api exposes the orchestrator's small HTTP surface: a health
// endpoint for probes and a version endpoint for deploy checks. All real
// work happens on the scheduler; this server carries no user-facing API.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yarnnn/orchestrator/pkg/config"
	"github.com/yarnnn/orchestrator/pkg/scheduler"
	"github.com/yarnnn/orchestrator/pkg/store"
	"github.com/yarnnn/orchestrator/pkg/version"
)

const healthCheckTimeout = 5 * time.Second

// SchedulerHealth reports scheduler liveness for probes.
type SchedulerHealth interface {
	Health() scheduler.Health
}

// Server is the probe endpoint host.
type Server struct {
	db     *store.Client
	cfg    *config.ServerConfig
	sched  SchedulerHealth
	http   *http.Server
	logger *slog.Logger
}

// NewServer builds the server over the database client used for health
// probes.
func NewServer(db *store.Client, cfg *config.ServerConfig) *Server {
	s := &Server{
		db:     db,
		cfg:    cfg,
		logger: slog.Default().With("component", "api-server"),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", s.health)
	router.GET("/version", s.version)

	s.http = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}
	return s
}

// SetScheduler wires the scheduler's health snapshot into /healthz.
func (s *Server) SetScheduler(sched SchedulerHealth) {
	s.sched = sched
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	body := gin.H{"status": "healthy"}
	if s.sched != nil {
		body["scheduler"] = s.sched.Health()
	}

	dbHealth, err := store.Health(ctx, s.db.DB())
	body["database"] = dbHealth
	if err != nil {
		body["status"] = "unhealthy"
		body["error"] = err.Error()
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) version(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"app":     version.AppName,
		"version": version.Full(),
	})
}
