// Package audit provides the append-only audit sink. Every state transition,
// policy violation and unhealthy-guest detection lands here regardless of
// whether the triggering call ultimately succeeded.
package audit

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/projecteru2/core/log"

	"github.com/projecteru2/burrow/lock"
	"github.com/projecteru2/burrow/lock/flock"
)

// Event is one audit record, serialized as a JSON line.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Event     string    `json:"event"`
	GuestID   string    `json:"guest_id,omitempty"`
	Operation string    `json:"operation,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// Sink appends events to a JSON-lines file under flock and mirrors them to
// the structured log. Writes are best-effort: an audit failure is logged but
// never fails the triggering operation.
type Sink struct {
	path   string
	locker lock.Locker
}

// NewSink creates a Sink writing to path, guarded by a flock at lockPath.
func NewSink(path, lockPath string) *Sink {
	return &Sink{path: path, locker: flock.New(lockPath)}
}

// Record appends one event. Timestamp is filled if zero.
func (s *Sink) Record(ctx context.Context, e Event) {
	logger := log.WithFunc("audit.Record")
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	logger.Infof(ctx, "%s guest=%s op=%s %s", e.Event, e.GuestID, e.Operation, e.Detail)

	if err := lock.WithLock(ctx, s.locker, func() error {
		f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600) //nolint:gosec
		if err != nil {
			return err
		}
		defer f.Close() //nolint:errcheck
		return json.NewEncoder(f).Encode(&e)
	}); err != nil {
		logger.Warnf(ctx, "append audit event %s: %v", e.Event, err)
	}
}
