package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/kucoin-stream/internal/buffer"
	"github.com/rickgao/kucoin-stream/internal/metrics"
	"github.com/rickgao/kucoin-stream/internal/session"
)

// Recorder consumes data frames from its queue and copies them into
// ws_messages in batches.
type Recorder struct {
	cfg     Config
	db      DB
	logger  *slog.Logger
	metrics *metrics.Collector

	// Input from the session handler
	input *buffer.Queue[session.Message]

	// Batching
	batch   []row
	batchMu sync.Mutex

	// Lifecycle
	cancel context.CancelFunc
	group  *errgroup.Group

	// Stats
	rows    atomic.Int64
	flushes atomic.Int64
	errors  atomic.Int64
	dropped atomic.Int64
}

// New creates a Recorder. m may be nil.
func New(cfg Config, db DB, m *metrics.Collector, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	return &Recorder{
		cfg:     cfg,
		db:      db,
		logger:  logger.With("component", "recorder"),
		metrics: m,
		input:   buffer.New[session.Message](cfg.BufferSize),
		batch:   make([]row, 0, cfg.BatchSize),
	}
}

// EnsureSchema creates the ws_messages hypertable if it does not exist.
func (r *Recorder) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create %s: %w", Table, err)
	}
	return nil
}

// OnMessage queues a frame. It never blocks the session loop; frames past
// the buffer limit are dropped and counted.
func (r *Recorder) OnMessage(msg session.Message) error {
	if !r.input.Send(msg) {
		r.dropped.Add(1)
		r.metrics.RecorderDropped()
	}
	return nil
}

// Start begins consuming frames.
func (r *Recorder) Start(ctx context.Context) error {
	ctx, r.cancel = context.WithCancel(ctx)
	r.group, ctx = errgroup.WithContext(ctx)

	r.group.Go(func() error { return r.consumeLoop(ctx) })
	r.group.Go(func() error { return r.flushLoop(ctx) })

	r.logger.Info("recorder started",
		"batch_size", r.cfg.BatchSize,
		"flush_interval", r.cfg.FlushInterval,
	)
	return nil
}

// Stop drains queued frames and writes them before returning. ctx bounds
// the final write.
func (r *Recorder) Stop(ctx context.Context) error {
	r.logger.Info("stopping recorder")

	r.input.Close()
	if r.cancel != nil {
		r.cancel()
		r.group.Wait()
	}

	for _, msg := range r.input.DrainTo(0) {
		r.add(msg)
	}
	if err := r.flush(ctx); err != nil {
		return fmt.Errorf("final flush: %w", err)
	}

	r.logger.Info("recorder stopped", "rows", r.rows.Load(), "dropped", r.dropped.Load())
	return nil
}

// Stats returns current counters.
func (r *Recorder) Stats() Stats {
	return Stats{
		Rows:    r.rows.Load(),
		Flushes: r.flushes.Load(),
		Errors:  r.errors.Load(),
		Dropped: r.dropped.Load(),
	}
}

func (r *Recorder) consumeLoop(ctx context.Context) error {
	for {
		msg, ok := r.input.Receive(ctx)
		if !ok {
			return nil
		}
		if r.add(msg) && ctx.Err() == nil {
			r.flush(ctx)
		}
	}
}

func (r *Recorder) flushLoop(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.flush(ctx)
			r.metrics.SetQueueDepth("recorder", r.input.Len())
		}
	}
}

// add appends msg to the batch and reports whether the batch is full.
func (r *Recorder) add(msg session.Message) bool {
	rw := r.transform(msg)

	r.batchMu.Lock()
	defer r.batchMu.Unlock()
	r.batch = append(r.batch, rw)
	return len(r.batch) >= r.cfg.BatchSize
}

func (r *Recorder) transform(msg session.Message) row {
	return row{
		ReceivedAt:     msg.ReceivedAt,
		InstanceID:     r.cfg.InstanceID,
		SubscriptionID: msg.SubscriptionID,
		Topic:          msg.Topic,
		Subject:        msg.Subject,
		Sn:             msg.Sn,
		Payload:        msg.Data,
	}
}

// flush writes the current batch. A failed batch is logged and dropped.
func (r *Recorder) flush(ctx context.Context) error {
	r.batchMu.Lock()
	if len(r.batch) == 0 {
		r.batchMu.Unlock()
		return nil
	}

	// Take ownership of current batch
	batch := r.batch
	r.batch = make([]row, 0, r.cfg.BatchSize)
	r.batchMu.Unlock()

	start := time.Now()
	n, err := r.copyRows(ctx, batch)
	r.metrics.RecorderFlushed(int(n), err)
	if err != nil {
		r.errors.Add(1)
		r.logger.Error("copy failed", "error", err, "count", len(batch))
		return err
	}

	r.rows.Add(n)
	r.flushes.Add(1)
	r.logger.Debug("flushed frames", "count", n, "duration", time.Since(start))
	return nil
}

func (r *Recorder) copyRows(ctx context.Context, rows []row) (int64, error) {
	return r.db.CopyFrom(ctx, pgx.Identifier{Table}, Columns,
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			return rows[i].values(), nil
		}),
	)
}
