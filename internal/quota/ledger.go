// Package quota tracks per-user daily upload usage in process memory.
package quota

import (
	"sync"
	"time"
)

const (
	// DefaultRetentionDays controls how long finished days are kept before
	// the ledger drops them.
	DefaultRetentionDays = 2

	dayFormat = "2006-01-02"
)

// Usage captures what a user has uploaded on a single calendar day.
type Usage struct {
	Files int
	Bytes int64
}

// MB reports the uploaded size in whole mebibytes, truncated. Limit
// arithmetic is performed in MB to match the host's integer limits.
func (u Usage) MB() int {
	return int(u.Bytes / (1024 * 1024))
}

type ledgerKey struct {
	userID string
	day    string
}

// Ledger is the process-local record of daily upload usage. It is safe for
// concurrent use; all increments for a (user, day) pair are serialized so no
// update is lost. State does not survive a restart.
type Ledger struct {
	mu            sync.Mutex
	entries       map[ledgerKey]Usage
	retentionDays int
	now           func() time.Time
}

// Option mutates ledger configuration.
type Option func(*Ledger)

// WithRetentionDays bounds how many days of finished records the ledger
// keeps. Values below one are ignored.
func WithRetentionDays(days int) Option {
	return func(l *Ledger) {
		if days >= 1 {
			l.retentionDays = days
		}
	}
}

// WithClock injects a clock, primarily for tests exercising day rollover.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLedger constructs an empty ledger.
func NewLedger(opts ...Option) *Ledger {
	l := &Ledger{
		entries:       make(map[ledgerKey]Usage),
		retentionDays: DefaultRetentionDays,
		now:           time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Usage returns the user's record for the current calendar day in the
// server's local time zone. Absent users report zero usage.
func (l *Ledger) Usage(userID string) Usage {
	key := ledgerKey{userID: userID, day: l.today()}
	l.mu.Lock()
	usage := l.entries[key]
	l.mu.Unlock()
	return usage
}

// Record adds an accepted batch to today's record for the user, creating it
// on first use. Counters only ever grow within a day; a new day starts a new
// record by virtue of the key changing.
func (l *Ledger) Record(userID string, files int, bytes int64) {
	if files <= 0 && bytes <= 0 {
		return
	}
	key := ledgerKey{userID: userID, day: l.today()}
	l.mu.Lock()
	usage := l.entries[key]
	usage.Files += files
	usage.Bytes += bytes
	l.entries[key] = usage
	l.evictLocked()
	l.mu.Unlock()
}

// Evict drops records older than the retention window. Record already evicts
// opportunistically; this exists for periodic background sweeps.
func (l *Ledger) Evict() int {
	l.mu.Lock()
	removed := l.evictLocked()
	l.mu.Unlock()
	return removed
}

// Len reports the number of retained (user, day) records.
func (l *Ledger) Len() int {
	l.mu.Lock()
	n := len(l.entries)
	l.mu.Unlock()
	return n
}

func (l *Ledger) evictLocked() int {
	cutoff := l.now().AddDate(0, 0, -l.retentionDays).Format(dayFormat)
	removed := 0
	for key := range l.entries {
		if key.day < cutoff {
			delete(l.entries, key)
			removed++
		}
	}
	return removed
}

func (l *Ledger) today() string {
	return l.now().Format(dayFormat)
}
