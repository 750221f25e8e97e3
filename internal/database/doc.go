// Package database opens the PostgreSQL/TimescaleDB pool used by the frame
// recorder.
package database
