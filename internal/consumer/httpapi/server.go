// Package httpapi serves the current heart rate to polling clients.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/srg/hrmon/internal/hr"
	"github.com/srg/hrmon/internal/httpserve"
)

// FeatureName identifies the poll endpoint in the feature registry.
const FeatureName = "http"

// Reading is the /heartrate response body.
type Reading struct {
	HeartRate int  `json:"heart_rate"`
	Connected bool `json:"connected"`
}

// Server answers GET /heartrate from the store. It reads on demand and needs no updates pushed to it.
type Server struct {
	store  *hr.Store
	engine *gin.Engine
	srv    *httpserve.Server
	logger *logrus.Logger
}

// New creates a stopped server bound to host:port on Start.
func New(store *hr.Store, host string, port int, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Server{store: store, logger: logger}
	s.engine = s.routes()
	s.srv = httpserve.New(FeatureName, host, port, s.engine, logger)
	return s
}

func (s *Server) Name() string { return FeatureName }

// Start binds the port; a busy or invalid port is returned as an error.
func (s *Server) Start(ctx context.Context) error { return s.srv.Start(ctx) }

// Stop releases the port.
func (s *Server) Stop(ctx context.Context) error { return s.srv.Stop(ctx) }

// Addr returns the bound address while running.
func (s *Server) Addr() string { return s.srv.Addr() }

// Port returns the bound port, or the configured one when stopped.
func (s *Server) Port() int { return s.srv.Port() }

// Running reports whether the port is bound.
func (s *Server) Running() bool { return s.srv.Running() }

// Handler exposes the routes for in-process tests.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	// Only the exact path is served.
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.Use(gin.Recovery(), s.requestLogger(), allowAnyOrigin())

	r.GET("/heartrate", s.getHeartRate)
	r.NoRoute(func(c *gin.Context) {
		c.String(http.StatusNotFound, "Not Found")
	})
	return r
}

func (s *Server) getHeartRate(c *gin.Context) {
	snap := s.store.Get()
	c.JSON(http.StatusOK, Reading{HeartRate: snap.BPM, Connected: snap.Connected})
}

// allowAnyOrigin lets browser overlays on any origin poll the endpoint.
func allowAnyOrigin() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		if c.Request.Method == http.MethodOptions {
			c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "*")
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start),
			"remote":   c.ClientIP(),
		}).Debug("HTTP request")
	}
}
