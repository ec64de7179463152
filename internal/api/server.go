// Package api serves the emitter's JSON-RPC interface together with health,
// status and metrics endpoints.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/cellemitter/emitter/internal/config"
	"github.com/cellemitter/emitter/internal/emitter"
	"github.com/cellemitter/emitter/internal/height"
	"github.com/cellemitter/emitter/internal/metrics"
	"github.com/cellemitter/emitter/pkg/logger"
)

// Server represents the API server
type Server struct {
	router    *gin.Engine
	server    *http.Server
	listener  net.Listener
	logger    *logger.Logger
	config    config.APIConfig
	service   *emitter.Service
	monitor   *height.TipMonitor
	collector *metrics.Collector
	auth      *AuthMiddleware
	errCh     chan error
}

// NewServer creates a new API server. monitor and collector may be nil.
func NewServer(cfg *config.Config, service *emitter.Service, monitor *height.TipMonitor, collector *metrics.Collector, log *logger.Logger) *Server {
	if cfg.API.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	log = log.Named("api")
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(log))
	router.Use(cors.New(corsConfig(cfg.API.CORSOrigins)))

	server := &Server{
		router:    router,
		logger:    log,
		config:    cfg.API,
		service:   service,
		monitor:   monitor,
		collector: collector,
		errCh:     make(chan error, 1),
	}
	if cfg.API.JWTSecret != "" {
		server.auth = NewAuthMiddleware(cfg.API.JWTSecret, log)
	}

	server.setupRoutes(cfg.Metrics)
	return server
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	for _, origin := range origins {
		if origin == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes(metricsCfg config.MetricsConfig) {
	s.router.POST("/", s.handleRPC)

	s.router.GET("/health", s.healthHandler)
	s.router.GET("/ready", s.readyHandler)

	v1 := s.router.Group("/api/v1")
	v1.GET("/keys", s.getKeys)
	v1.GET("/status", s.getStatus)

	if metricsCfg.Enabled && s.collector != nil {
		path := metricsCfg.Path
		if path == "" {
			path = config.DefaultMetricsPath
		}
		s.router.GET(path, gin.WrapH(metrics.Handler(s.collector, s.logger)))
	}
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listen address and serves in the background. Serve
// failures are reported on Err.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.listener = listener
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          s.logger.StdLogger(),
	}

	go func() {
		s.logger.Info("Starting API server", zap.String("addr", listener.Addr().String()))
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", zap.Error(err))
			s.errCh <- err
		}
	}()

	return nil
}

// Addr returns the bound address, or "" before Start
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Err reports a failure of the serving goroutine
func (s *Server) Err() <-chan error {
	return s.errCh
}

// Stop gracefully shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("Failed to shutdown API server gracefully", zap.Error(err))
		return err
	}

	s.logger.Info("API server stopped")
	return nil
}

// healthHandler handles health check requests
func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

// readyHandler reports whether the service is accepting registrations and
// the chain indexer is reachable
func (s *Server) readyHandler(c *gin.Context) {
	if s.service.Status().Closed {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not_ready",
			"message": "emitter closed",
		})
		return
	}

	if s.monitor != nil && !s.monitor.Healthy() {
		message := "indexer tip not observed yet"
		if err := s.monitor.LastError(); err != nil {
			message = err.Error()
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not_ready",
			"message": message,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"timestamp": time.Now().Unix(),
	})
}

// getKeys lists every registration with its current tip
func (s *Server) getKeys(c *gin.Context) {
	keys := s.info()
	c.JSON(http.StatusOK, gin.H{
		"keys":  keys,
		"count": len(keys),
	})
}

// getStatus returns the service, chain and process status
func (s *Server) getStatus(c *gin.Context) {
	status := s.service.Status()

	state := "running"
	if status.Closed {
		state = "closed"
	}

	body := gin.H{
		"status":          state,
		"registrations":   status.Registrations,
		"watchers_active": status.WatchersActive,
		"uptime":          status.Uptime.Truncate(time.Second).String(),
		"process":         processStatus(),
		"metrics": gin.H{
			"enabled": s.collector != nil,
		},
		"auth": gin.H{
			"enabled": s.auth != nil,
		},
	}

	if s.monitor != nil {
		tip, observed := s.monitor.Current()
		chain := gin.H{
			"healthy":  s.monitor.Healthy(),
			"observed": observed,
			"tip":      tip,
		}
		if updated := s.monitor.UpdatedAt(); !updated.IsZero() {
			chain["updated_at"] = updated.UTC().Format(time.RFC3339)
		}
		if err := s.monitor.LastError(); err != nil {
			chain["error"] = err.Error()
		}
		body["chain"] = chain
	}

	c.JSON(http.StatusOK, body)
}

// processStatus samples this process's resource usage
func processStatus() gin.H {
	pid := os.Getpid()
	out := gin.H{
		"pid":        pid,
		"goroutines": runtime.NumGoroutine(),
	}

	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return out
	}
	if mem, err := proc.MemoryInfo(); err == nil {
		out["rss_bytes"] = mem.RSS
		out["vms_bytes"] = mem.VMS
	}
	if cpu, err := proc.CPUPercent(); err == nil {
		out["cpu_percent"] = cpu
	}
	if threads, err := proc.NumThreads(); err == nil {
		out["threads"] = threads
	}
	return out
}
