package recorder

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Table is the hypertable frames are copied into.
const Table = "ws_messages"

// Columns in COPY order.
var Columns = []string{"received_at", "instance_id", "subscription_id", "topic", "subject", "sn", "payload"}

// Schema creates the table and hypertable if missing.
const Schema = `
CREATE TABLE IF NOT EXISTS ws_messages (
	received_at     TIMESTAMPTZ NOT NULL,
	instance_id     TEXT        NOT NULL,
	subscription_id TEXT        NOT NULL,
	topic           TEXT        NOT NULL,
	subject         TEXT        NOT NULL DEFAULT '',
	sn              BIGINT      NOT NULL DEFAULT 0,
	payload         JSONB
);
SELECT create_hypertable('ws_messages', 'received_at', if_not_exists => TRUE);
CREATE INDEX IF NOT EXISTS ws_messages_topic_idx ON ws_messages (topic, received_at DESC);
`

// DB is the subset of *pgxpool.Pool the recorder uses.
type DB interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Config configures a Recorder.
type Config struct {
	InstanceID    string
	BatchSize     int           // Rows per COPY
	FlushInterval time.Duration // Max age of a partial batch
	BufferSize    int           // Max queued frames; further frames are dropped
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     1000,
		FlushInterval: time.Second,
		BufferSize:    10000,
	}
}

// Stats holds recorder counters.
type Stats struct {
	Rows    int64
	Flushes int64
	Errors  int64
	Dropped int64
}

type row struct {
	ReceivedAt     time.Time
	InstanceID     string
	SubscriptionID string
	Topic          string
	Subject        string
	Sn             int64
	Payload        []byte
}

func (r row) values() []any {
	var payload any
	if len(r.Payload) > 0 {
		payload = r.Payload
	}
	return []any{r.ReceivedAt, r.InstanceID, r.SubscriptionID, r.Topic, r.Subject, r.Sn, payload}
}
