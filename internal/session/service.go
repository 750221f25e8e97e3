package session

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/kucoin-stream/internal/connection"
	"github.com/rickgao/kucoin-stream/internal/metrics"
	"github.com/rickgao/kucoin-stream/internal/token"
	"github.com/rickgao/kucoin-stream/internal/topic"
)

// Option configures a Service.
type Option func(*Service)

// WithMetrics records session metrics on m.
func WithMetrics(m *metrics.Collector) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// Service manages one websocket session and its subscriptions.
type Service struct {
	cfg      Config
	provider token.Provider
	logger   *slog.Logger
	metrics  *metrics.Collector

	// ctx is cancelled by Stop and bounds every dial.
	ctx    context.Context
	cancel context.CancelFunc

	ops      chan func()
	stop     chan struct{}
	loopDone chan struct{}
	events   chan Event

	mu       sync.Mutex
	running  bool // loop goroutine started
	starting bool
	stopped  bool
	stopOnce sync.Once

	state atomic.Int32

	// Counters
	subscriptions    atomic.Int64
	pendingAcks      atomic.Int64
	reconnects       atomic.Int64
	framesReceived   atomic.Int64
	framesUnroutable atomic.Int64
	framesDropped    atomic.Int64
	callbackErrors   atomic.Int64
	eventsDropped    atomic.Int64

	// Owned by the loop goroutine.
	registry    *Registry
	pending     map[string]*pendingAck
	conn        connection.Client
	droppedSeen int64 // conn queue drops already reported
	attempt     int
	lostErr     error
}

// New creates a Service. It does not connect until Start.
func New(cfg Config, provider token.Provider, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	defaults := DefaultConfig()
	if cfg.ReconnectBaseWait <= 0 {
		cfg.ReconnectBaseWait = defaults.ReconnectBaseWait
	}
	if cfg.ReconnectMaxWait <= 0 {
		cfg.ReconnectMaxWait = defaults.ReconnectMaxWait
	}
	if cfg.ReconnectMaxWait < cfg.ReconnectBaseWait {
		cfg.ReconnectMaxWait = cfg.ReconnectBaseWait
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = defaults.AckTimeout
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaults.EventBuffer
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Service{
		cfg:      cfg,
		provider: provider,
		logger:   logger.With("component", "session", "private", cfg.Private),
		ctx:      ctx,
		cancel:   cancel,
		ops:      make(chan func()),
		stop:     make(chan struct{}),
		loopDone: make(chan struct{}),
		events:   make(chan Event, cfg.EventBuffer),
		registry: NewRegistry(),
		pending:  make(map[string]*pendingAck),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start connects and completes the welcome handshake. Failures wrap
// ErrConnect; Start may be retried after a failure.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.stopped, s.State() == StateClosed:
		s.mu.Unlock()
		return ErrClosed
	case s.starting || s.State() != StateDisconnected:
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.starting = true
	if !s.running {
		s.running = true
		go s.run()
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.starting = false
		s.mu.Unlock()
	}()

	s.setState(StateConnecting)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer context.AfterFunc(s.ctx, cancel)()

	conn, err := s.dial(ctx)
	if err != nil {
		s.state.CompareAndSwap(int32(StateConnecting), int32(StateDisconnected))
		s.logger.Error("start failed", "error", err)
		return err
	}

	installed := false
	s.do(context.Background(), func() {
		if s.State() != StateConnecting {
			return
		}
		s.conn = conn
		s.droppedSeen = 0
		s.setState(StateConnected)
		s.logger.Info("session connected")
		s.emit(EventConnected, "", nil)
		installed = true
	})
	if !installed {
		conn.Close()
		return ErrClosed
	}
	return nil
}

// dial fetches a token and opens a socket with it.
func (s *Service) dial(ctx context.Context) (connection.Client, error) {
	tok, err := s.provider.GetToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: get token: %w", ErrConnect, err)
	}

	url, err := connection.DialURL(tok.Endpoint, tok.Token, uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}

	conn := connection.NewClient(connection.ClientConfig{
		URL:          url,
		DialTimeout:  s.cfg.DialTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		PingInterval: tok.PingInterval,
		PingTimeout:  tok.PingTimeout,
		InboundLimit: s.cfg.InboundLimit,
	}, s.logger)

	if err := conn.Connect(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}

	s.logger.Debug("socket open", "endpoint", tok.Endpoint, "ping_interval", tok.PingInterval)
	return conn, nil
}

// Subscribe registers h for the topics of prefix and args and waits for the
// venue's ack. It returns the subscription id. If ctx ends first the attempt
// is abandoned and ctx.Err() returned.
func (s *Service) Subscribe(ctx context.Context, prefix string, args []string, h Handler) (string, error) {
	if h == nil {
		return "", ErrNilHandler
	}
	if err := topic.Validate(prefix, args); err != nil {
		return "", err
	}
	if !s.isRunning() {
		return "", ErrNotConnected
	}

	args = slices.Clone(args)
	rec := &Record{
		ID:      topic.BuildID(prefix, args),
		Prefix:  prefix,
		Args:    args,
		Handler: h,
	}
	w := newWaiter()
	requestID := uuid.NewString()

	if err := s.do(ctx, func() { s.beginSubscribe(requestID, rec, w) }); err != nil {
		return "", err
	}
	if err := s.await(ctx, w, requestID); err != nil {
		return "", err
	}
	return rec.ID, nil
}

// Unsubscribe removes an Active subscription once the venue acks it.
func (s *Service) Unsubscribe(ctx context.Context, id string) error {
	if _, _, err := topic.ParseID(id); err != nil {
		return err
	}
	if !s.isRunning() {
		return ErrNotConnected
	}

	w := newWaiter()
	requestID := uuid.NewString()

	if err := s.do(ctx, func() { s.beginUnsubscribe(requestID, id, w) }); err != nil {
		return err
	}
	return s.await(ctx, w, requestID)
}

// Stop closes the socket, fails outstanding requests with ErrCancelled and
// closes the token provider and the Events channel. No handler runs after
// Stop returns. ctx bounds the wait for the loop to finish.
func (s *Service) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		running := s.running
		s.mu.Unlock()

		s.cancel()
		close(s.stop)

		if !running {
			s.setState(StateClosed)
			s.finish()
			close(s.loopDone)
		}
	})

	select {
	case <-s.loopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events returns the connection event channel. It is closed by Stop.
func (s *Service) Events() <-chan Event {
	return s.events
}

// State returns the current connection state.
func (s *Service) State() State {
	return State(s.state.Load())
}

// Stats returns a snapshot of session counters.
func (s *Service) Stats() Stats {
	return Stats{
		State:            s.State(),
		Subscriptions:    int(s.subscriptions.Load()),
		PendingAcks:      int(s.pendingAcks.Load()),
		Reconnects:       s.reconnects.Load(),
		FramesReceived:   s.framesReceived.Load(),
		FramesUnroutable: s.framesUnroutable.Load(),
		FramesDropped:    s.framesDropped.Load(),
		CallbackErrors:   s.callbackErrors.Load(),
		EventsDropped:    s.eventsDropped.Load(),
	}
}

// Subscriptions lists registry records ordered by id.
func (s *Service) Subscriptions() []SubscriptionInfo {
	if !s.isRunning() {
		return nil
	}
	var out []SubscriptionInfo
	s.do(context.Background(), func() {
		for _, rec := range s.registry.All() {
			out = append(out, SubscriptionInfo{
				ID:     rec.ID,
				Prefix: rec.Prefix,
				Args:   slices.Clone(rec.Args),
				Topics: slices.Collect(topic.Topics(rec.Prefix, rec.Args)),
				State:  rec.State.String(),
			})
		}
	})
	return out
}

func (s *Service) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Service) setState(st State) {
	s.state.Store(int32(st))
	s.metrics.SetSessionState(int(st))
}

// do runs fn on the loop and waits for it. It fails with ErrClosed if the
// loop has exited, or with ctx.Err() if ctx ends before the loop takes fn,
// which is what a handler calling back into the Service on the loop gets.
func (s *Service) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case s.ops <- func() { fn(); close(done) }:
	case <-s.loopDone:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

// post queues fn on the loop without waiting for it to run.
func (s *Service) post(fn func()) bool {
	select {
	case s.ops <- fn:
		return true
	case <-s.loopDone:
		return false
	}
}

// await waits for w. When ctx ends first the request is abandoned on the
// loop; if the ack won that race its result is returned instead.
func (s *Service) await(ctx context.Context, w *waiter, requestID string) error {
	select {
	case <-w.done:
		return w.err
	case <-ctx.Done():
	}

	cause := ctx.Err()
	s.do(context.Background(), func() {
		if ack, ok := s.pending[requestID]; ok {
			s.completeAck(ack, cause)
		}
	})
	<-w.done
	return w.err
}

// emit publishes an event without blocking. Loop goroutine only, or after
// the loop has exited.
func (s *Service) emit(t EventType, detail string, err error) {
	s.metrics.Event(string(t))

	select {
	case s.events <- Event{Type: t, Detail: detail, Err: err, At: time.Now()}:
	default:
		s.eventsDropped.Add(1)
		s.logger.Warn("event buffer full, dropping event", "type", t, "detail", detail)
	}
}

// finish releases external resources once nothing else can emit.
func (s *Service) finish() {
	if err := s.provider.Close(); err != nil {
		s.logger.Warn("close token provider", "error", err)
	}
	s.emit(EventClientShutdown, "", nil)
	close(s.events)
	s.logger.Info("session stopped")
}
