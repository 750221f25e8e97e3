// Package recorder persists routed data frames to TimescaleDB.
//
// Frames are queued by the session handler, batched by size or flush
// interval, and written with COPY into the ws_messages hypertable. The table
// is append-only; payloads are stored verbatim as jsonb.
package recorder
