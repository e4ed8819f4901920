// Package status serves Prometheus metrics and a small JSON view of recent
// invocations, metric events and warnings.
package status

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	appconfig "cryptoingest/config"
	"cryptoingest/internal/ingest"
	"cryptoingest/internal/metrics"
	"cryptoingest/logger"
)

const defaultPort = "2112"

// Server is the HTTP listener for /metrics and the /api status routes.
type Server struct {
	addr       string
	log        *logger.Log
	runs       *ring[runRecord]
	events     *ring[metricRecord]
	hook       *logHook
	handlerID  metrics.MetricHandlerID
	httpServer *http.Server
}

// NewServer returns nil when metrics are disabled.
func NewServer(cfg appconfig.MetricsConfig, log *logger.Log) *Server {
	if !cfg.Enabled {
		return nil
	}

	s := &Server{
		addr:   normalizeAddress(cfg.ListenAddr),
		log:    log,
		runs:   newRing[runRecord](cfg.History),
		events: newRing[metricRecord](cfg.History),
		hook:   newLogHook(cfg.History),
	}
	s.handlerID = metrics.RegisterMetricHandler(func(m metrics.Metric) {
		s.events.add(newMetricRecord(m))
	})
	log.AddHook(s.hook)
	return s
}

// RecordRun stores the outcome of an invocation for /api/runs.
func (s *Server) RecordRun(res ingest.Result) {
	if s == nil {
		return
	}
	s.runs.add(newRunRecord(res))
}

// Address reports the address the server listens on.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Run serves until ctx is cancelled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}
	defer s.cleanup()

	metrics.Register()
	router, err := s.buildRouter()
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	s.log.WithComponent("status").WithFields(logger.Fields{"addr": s.addr}).Info("status server listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) cleanup() {
	metrics.UnregisterMetricHandler(s.handlerID)
	s.hook.close()
}

func (s *Server) buildRouter() (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/api/runs", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"runs": s.runs.snapshot()})
	})

	router.GET("/api/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"metrics": s.events.snapshot()})
	})

	router.GET("/api/logs", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"logs": s.hook.logs.snapshot()})
	})

	return router, nil
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return net.JoinHostPort("0.0.0.0", defaultPort)
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		if ip := net.ParseIP(addr); ip != nil || !strings.Contains(addr, ":") {
			return net.JoinHostPort(addr, defaultPort)
		}
		return addr
	}
	if host == "" || host == "*" {
		host = "0.0.0.0"
	}
	if port == "" {
		port = defaultPort
	}
	return net.JoinHostPort(host, port)
}
