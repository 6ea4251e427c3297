package syncer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/sdcc_dashboard/internal/model/messages"
)

type StreamState int

const (
	StreamDown StreamState = iota
	StreamLive
)

func (s StreamState) String() string {
	if s == StreamLive {
		return "live"
	}
	return "down"
}

// Stream is the push transport as far as liveness goes.
type Stream interface {
	Connected() bool
	Reconnect(ctx context.Context) error
}

// Puller fetches the latest sensor data over the pull path.
type Puller interface {
	GetLatestSensorData(ctx context.Context) (messages.PullResponse, error)
}

// Target consumes what the scheduler fetches. The engine satisfies it.
type Target interface {
	HandleStreamMessage(ctx context.Context, payload []byte) error
	HandlePull(ctx context.Context, resp messages.PullResponse)
	HandlePullError(err error)
}

type Config struct {
	PullInterval     time.Duration
	LivenessInterval time.Duration
	PullTimeout      time.Duration
}

func (c Config) withDefaults() Config {
	if c.PullInterval <= 0 {
		c.PullInterval = 60 * time.Second
	}
	if c.LivenessInterval <= 0 {
		c.LivenessInterval = 5 * time.Second
	}
	if c.PullTimeout <= 0 {
		c.PullTimeout = 10 * time.Second
	}
	return c
}

// Scheduler decides when to pull. While the stream is live the pull loop is
// suspended; while it is down pulls run on a fixed interval and every
// liveness check tries to reconnect.
type Scheduler struct {
	cfg    Config
	stream Stream
	puller Puller
	target Target
	log    *slog.Logger
	now    func() time.Time

	onChange []func(StreamState)

	mu           sync.Mutex
	state        StreamState
	pulling      bool
	reconnecting bool
	lastPull     time.Time

	wg sync.WaitGroup
}

func New(cfg Config, stream Stream, puller Puller, target Target, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:    cfg.withDefaults(),
		stream: stream,
		puller: puller,
		target: target,
		log:    logger.With("component", "scheduler"),
		now:    time.Now,
		state:  StreamDown,
	}
}

// OnStateChange registers a callback for Live/Down transitions. Register
// before Run.
func (s *Scheduler) OnStateChange(fn func(StreamState)) {
	s.onChange = append(s.onChange, fn)
}

func (s *Scheduler) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) StreamLive() bool { return s.State() == StreamLive }

// Run pulls once and dials the stream, then drives both timers until ctx
// ends. Both timers stop together and in-flight work is awaited before Run
// returns.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info("scheduler started", "pull_interval", s.cfg.PullInterval, "liveness_interval", s.cfg.LivenessInterval)
	s.startPull(ctx)
	if !s.stream.Connected() {
		s.startReconnect(ctx)
	}

	pull := time.NewTicker(s.cfg.PullInterval)
	live := time.NewTicker(s.cfg.LivenessInterval)
	defer pull.Stop()
	defer live.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.log.Info("scheduler stopped")
			return
		case <-pull.C:
			s.pullTick(ctx)
		case <-live.C:
			s.checkLiveness(ctx)
		}
	}
}

// OnStreamMessage forwards a stream payload; an accepted one marks the
// stream live.
func (s *Scheduler) OnStreamMessage(ctx context.Context, payload []byte) error {
	if err := s.target.HandleStreamMessage(ctx, payload); err != nil {
		return err
	}
	s.setState(StreamLive)
	return nil
}

func (s *Scheduler) pullTick(ctx context.Context) {
	if s.State() == StreamLive {
		return
	}
	s.startPull(ctx)
}

func (s *Scheduler) checkLiveness(ctx context.Context) {
	if s.stream.Connected() {
		return
	}
	if s.setState(StreamDown) {
		s.mu.Lock()
		recent := !s.lastPull.IsZero() && s.now().Sub(s.lastPull) < s.cfg.PullInterval
		s.mu.Unlock()
		if recent {
			s.log.Info("stream down, recent pull still fresh")
		} else {
			s.startPull(ctx)
		}
	}
	s.startReconnect(ctx)
}

// startPull launches one pull unless one is already in flight; a slow pull
// never shifts the ticker.
func (s *Scheduler) startPull(ctx context.Context) {
	s.mu.Lock()
	if s.pulling {
		s.mu.Unlock()
		s.log.Debug("pull still in flight, tick skipped")
		return
	}
	s.pulling = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		pctx, cancel := context.WithTimeout(ctx, s.cfg.PullTimeout)
		defer cancel()

		resp, err := s.puller.GetLatestSensorData(pctx)
		if err != nil {
			s.log.Warn("pull failed", "err", err)
			s.target.HandlePullError(err)
		} else {
			s.target.HandlePull(ctx, resp)
		}

		s.mu.Lock()
		s.pulling = false
		s.lastPull = s.now()
		s.mu.Unlock()
	}()
}

func (s *Scheduler) startReconnect(ctx context.Context) {
	s.mu.Lock()
	if s.reconnecting {
		s.mu.Unlock()
		return
	}
	s.reconnecting = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.stream.Reconnect(ctx); err != nil {
			s.log.Warn("stream reconnect failed", "err", err)
		} else {
			s.log.Info("stream reconnected")
		}
		s.mu.Lock()
		s.reconnecting = false
		s.mu.Unlock()
	}()
}

// setState reports whether the state actually changed.
func (s *Scheduler) setState(next StreamState) bool {
	s.mu.Lock()
	if s.state == next {
		s.mu.Unlock()
		return false
	}
	s.state = next
	s.mu.Unlock()

	s.log.Info("stream state changed", "state", next)
	for _, fn := range s.onChange {
		fn(next)
	}
	return true
}
