// Package store keeps a log of detection outcomes.
//
// A [Recorder] sits behind the detection gate as a pipeline handler. It
// copies every outcome into a bounded queue and a background writer flushes
// the queue to a [Store] in batches, so a slow database never holds up the
// gate. When the queue is full new records are dropped and counted.
//
// Two stores are provided: [PostgresStore] for a persistent log and
// [MemoryStore], a fixed-size ring used when no database is configured.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/makeabledk/firebasevision/pkg/types"
)

// ErrInvalidLimit is returned by Recent for a non-positive limit.
var ErrInvalidLimit = errors.New("store: limit must be positive")

// Record is one logged detection outcome.
type Record struct {
	ID uuid.UUID `json:"id"`

	// Seq is the gate dispatch sequence number.
	Seq uint64 `json:"seq"`

	Provider   string              `json:"provider,omitempty"`
	Frame      types.FrameMetadata `json:"frame"`
	Detections []types.Detection   `json:"detections"`

	// Error is the failure message for failed outcomes, empty otherwise.
	Error string `json:"error,omitempty"`

	Latency   time.Duration `json:"latency"`
	CreatedAt time.Time     `json:"created_at"`
}

// Store persists detection records.
type Store interface {
	// Save writes recs in one round trip where the backend allows it.
	Save(ctx context.Context, recs ...Record) error

	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]Record, error)
}
