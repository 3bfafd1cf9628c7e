// Package logbuf keeps the most recent log records in memory so the
// admin API can serve them without touching disk.
package logbuf

import (
	"log/slog"
	"sync"
	"time"
)

// Record is a single captured log record.
type Record struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// Ring is a fixed-size, thread-safe buffer of log records.
type Ring struct {
	mu      sync.Mutex
	records []Record
	next    int
	full    bool
}

// NewRing creates a buffer holding up to size records. A size below 1
// is clamped to 1 so the ring always has room.
func NewRing(size int) *Ring {
	if size < 1 {
		size = 1
	}
	return &Ring{records: make([]Record, size)}
}

func (r *Ring) add(rec Record) {
	r.mu.Lock()
	r.records[r.next] = rec
	r.next = (r.next + 1) % len(r.records)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
}

// Query returns records at or above minLevel and not older than since,
// oldest first. A zero since matches everything; limit <= 0 means no
// cap, otherwise the newest `limit` matches are kept.
func (r *Ring) Query(since time.Time, minLevel slog.Level, limit int) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	start, n := 0, r.next
	if r.full {
		start, n = r.next, len(r.records)
	}

	var out []Record
	for i := 0; i < n; i++ {
		rec := r.records[(start+i)%len(r.records)]
		if !since.IsZero() && rec.Time.Before(since) {
			continue
		}
		if parseLevel(rec.Level) < minLevel {
			continue
		}
		out = append(out, rec)
	}

	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func parseLevel(s string) slog.Level {
	switch s {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
