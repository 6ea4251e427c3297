package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// StreamService is the gRPC health service name that follows the push stream.
const StreamService = "dashboard.stream"

// StreamHealth serves the standard gRPC health protocol. The overall service
// is always SERVING while the process runs; StreamService flips with the
// push stream.
type StreamHealth struct {
	srv  *health.Server
	grpc *grpc.Server
	log  *slog.Logger
}

func NewStreamHealth(logger *slog.Logger) *StreamHealth {
	if logger == nil {
		logger = slog.Default()
	}
	h := &StreamHealth{
		srv:  health.NewServer(),
		grpc: grpc.NewServer(),
		log:  logger.With("component", "grpc-health"),
	}
	h.srv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	h.srv.SetServingStatus(StreamService, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(h.grpc, h.srv)
	return h
}

// SetLive is meant to be passed to the scheduler's state callback.
func (h *StreamHealth) SetLive(live bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if live {
		st = healthpb.HealthCheckResponse_SERVING
	}
	h.srv.SetServingStatus(StreamService, st)
}

// Server exposes the health service for in-process checks.
func (h *StreamHealth) Server() healthpb.HealthServer { return h.srv }

// Serve blocks on lis until ctx is cancelled.
func (h *StreamHealth) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		h.log.Info("grpc health listening", "addr", lis.Addr().String())
		errCh <- h.grpc.Serve(lis)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	case <-ctx.Done():
		h.srv.Shutdown()
		h.grpc.GracefulStop()
		return nil
	}
}

type healthStatus struct {
	Status          string  `json:"status"`
	StreamLive      bool    `json:"stream_live"`
	Loading         bool    `json:"loading"`
	LastWriteErrorS float64 `json:"last_write_error_age_sec,omitempty"`
}

// GET /healthz
// ok: stream live and recorder healthy; degraded: serving from pull or
// recorder failing; down: nothing loaded yet.
func (s *Server) handleHealth(c *gin.Context) {
	r := s.deps.Dashboard.View().Reading
	st := healthStatus{StreamLive: s.deps.StreamLive(), Loading: r.Loading}

	writerOK := true
	if s.deps.LastWriteErrorAge != nil {
		age := s.deps.LastWriteErrorAge()
		st.LastWriteErrorS = age.Seconds()
		writerOK = age > s.cfg.HealthyWriteErrorAge
	}

	code := http.StatusOK
	switch {
	case r.Loading && !st.StreamLive:
		st.Status = "down"
		code = http.StatusServiceUnavailable
	case st.StreamLive && writerOK:
		st.Status = "ok"
	default:
		st.Status = "degraded"
	}
	c.JSON(code, st)
}
