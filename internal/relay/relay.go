package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/kucoin-stream/internal/buffer"
	"github.com/rickgao/kucoin-stream/internal/metrics"
	"github.com/rickgao/kucoin-stream/internal/session"
)

// Envelope is the JSON published for each frame.
type Envelope struct {
	InstanceID     string          `json:"instance_id"`
	SubscriptionID string          `json:"subscription_id"`
	Topic          string          `json:"topic"`
	Subject        string          `json:"subject,omitempty"`
	Sn             int64           `json:"sn,omitempty"`
	ReceivedAt     time.Time       `json:"received_at"`
	Data           json.RawMessage `json:"data,omitempty"`
}

// Publisher is the subset of *redis.Client the relay uses.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// Config configures a Relay.
type Config struct {
	Prefix     string // Channel prefix, e.g. "kucoin:"
	BufferSize int    // Max queued frames; further frames are dropped
}

// Stats holds relay counters.
type Stats struct {
	Published int64
	Errors    int64
	Dropped   int64
}

// Relay publishes frames queued by OnMessage from a single goroutine, so
// frames of one topic keep their order on the channel.
type Relay struct {
	cfg        Config
	client     Publisher
	instanceID string
	logger     *slog.Logger
	metrics    *metrics.Collector

	input *buffer.Queue[session.Message]

	cancel context.CancelFunc
	group  *errgroup.Group

	published atomic.Int64
	errors    atomic.Int64
	dropped   atomic.Int64
}

// NewClient creates a Redis client and checks it with a ping.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

// New creates a Relay. m may be nil.
func New(cfg Config, client Publisher, m *metrics.Collector, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	return &Relay{
		cfg:        cfg,
		client:     client,
		instanceID: id,
		logger:     logger.With("component", "relay", "instance_id", id),
		metrics:    m,
		input:      buffer.New[session.Message](cfg.BufferSize),
	}
}

// InstanceID identifies this relay in published envelopes.
func (r *Relay) InstanceID() string {
	return r.instanceID
}

// Channel returns the pub/sub channel for a wire topic.
func (r *Relay) Channel(topic string) string {
	return r.cfg.Prefix + topic
}

// OnMessage queues a frame without blocking the session loop.
func (r *Relay) OnMessage(msg session.Message) error {
	if !r.input.Send(msg) {
		r.dropped.Add(1)
	}
	return nil
}

// Start begins publishing queued frames.
func (r *Relay) Start(ctx context.Context) error {
	ctx, r.cancel = context.WithCancel(ctx)
	r.group, ctx = errgroup.WithContext(ctx)
	r.group.Go(func() error { return r.publishLoop(ctx) })

	r.logger.Info("relay started", "prefix", r.cfg.Prefix)
	return nil
}

// Stop publishes what is still queued, bounded by ctx.
func (r *Relay) Stop(ctx context.Context) error {
	r.input.Close()
	if r.cancel != nil {
		r.cancel()
		r.group.Wait()
	}

	for _, msg := range r.input.DrainTo(0) {
		if ctx.Err() != nil {
			r.dropped.Add(1)
			continue
		}
		r.publish(ctx, msg)
	}

	r.logger.Info("relay stopped", "published", r.published.Load(), "dropped", r.dropped.Load())
	return ctx.Err()
}

// Stats returns current counters.
func (r *Relay) Stats() Stats {
	return Stats{
		Published: r.published.Load(),
		Errors:    r.errors.Load(),
		Dropped:   r.dropped.Load(),
	}
}

func (r *Relay) publishLoop(ctx context.Context) error {
	for {
		msg, ok := r.input.Receive(ctx)
		if !ok {
			return nil
		}
		r.publish(ctx, msg)
		r.metrics.SetQueueDepth("relay", r.input.Len())
	}
}

func (r *Relay) envelope(msg session.Message) Envelope {
	return Envelope{
		InstanceID:     r.instanceID,
		SubscriptionID: msg.SubscriptionID,
		Topic:          msg.Topic,
		Subject:        msg.Subject,
		Sn:             msg.Sn,
		ReceivedAt:     msg.ReceivedAt,
		Data:           msg.Data,
	}
}

func (r *Relay) publish(ctx context.Context, msg session.Message) {
	data, err := json.Marshal(r.envelope(msg))
	if err == nil {
		err = r.client.Publish(ctx, r.Channel(msg.Topic), data).Err()
	}
	r.metrics.RelayPublished(err)
	if err != nil {
		r.errors.Add(1)
		r.logger.Warn("publish failed", "topic", msg.Topic, "error", err)
		return
	}
	r.published.Add(1)
}
