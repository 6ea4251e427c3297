package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/LeonardoBeccarini/sdcc_dashboard/internal/model/entities"
	"github.com/LeonardoBeccarini/sdcc_dashboard/internal/observability"
	"github.com/LeonardoBeccarini/sdcc_dashboard/internal/services/engine"
	"github.com/LeonardoBeccarini/sdcc_dashboard/internal/services/recorder"
)

// Dashboard is what the API reads from and drives.
type Dashboard interface {
	View() engine.View
	Thresholds() entities.ThresholdConfig
	UpdateThresholdConfig(ctx context.Context, raw map[string]entities.Range) error
	ForceSave(ctx context.Context) bool
	ClearSavedData(ctx context.Context) bool
}

type HistoryReader interface {
	Query(ctx context.Context, q recorder.HistoryQuery) ([]recorder.HistoryPoint, error)
}

type Config struct {
	Addr           string
	RequestTimeout time.Duration
	// HealthyWriteErrorAge is how long the recorder must have been error
	// free for /healthz to report ok.
	HealthyWriteErrorAge time.Duration
}

type Deps struct {
	Dashboard  Dashboard
	History    HistoryReader // optional
	StreamLive func() bool
	// LastWriteErrorAge reports the recorder's last error age. Optional.
	LastWriteErrorAge func() time.Duration
	Metrics           *observability.Metrics
	Logger            *slog.Logger
}

// Server bundles the gin router and its dependencies.
type Server struct {
	cfg    Config
	deps   Deps
	log    *slog.Logger
	router *gin.Engine
}

func New(cfg Config, deps Deps) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.HealthyWriteErrorAge <= 0 {
		cfg.HealthyWriteErrorAge = 30 * time.Second
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.StreamLive == nil {
		deps.StreamLive = func() bool { return false }
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metricsMiddleware(deps.Metrics))
	r.Use(corsMiddleware())

	s := &Server{cfg: cfg, deps: deps, log: deps.Logger.With("component", "gateway"), router: r}
	s.registerRoutes()
	return s
}

// Router exposes the gin engine (for tests).
func (s *Server) Router() *gin.Engine { return s.router }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http listening", "addr", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))

	v1 := s.router.Group("/api/v1")
	v1.GET("/state", s.handleState)
	v1.GET("/thresholds", s.handleGetThresholds)
	v1.PUT("/thresholds", s.handlePutThresholds)
	v1.POST("/snapshot/save", s.handleSave)
	v1.DELETE("/snapshot", s.handleClear)
	v1.GET("/history", s.handleHistory)
}

func metricsMiddleware(m *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequest(route, c.Writer.Status(), time.Since(start))
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
