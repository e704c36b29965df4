// Package planner computes reminder fire times. It is pure: no I/O, no
// clock of its own, deterministic for a given input.
package planner

import (
	"time"

	"github.com/google/uuid"

	"github.com/classpulse/classpulse/internal/store"
)

// Entry is one planned reminder: the policy it comes from and the absolute
// time it should fire.
type Entry struct {
	PolicyID uuid.UUID
	FireAt   time.Time
}

// Plan returns one entry per active policy whose fire time
// (dueAt - daysBefore*24h - hoursBefore*1h) is still in the future.
// Offsets already in the past are silently excluded: a reminder schedule is
// never created in the past. A due date at or before now plans nothing.
func Plan(dueAt time.Time, policies []*store.ReminderPolicy, now time.Time) []Entry {
	if !dueAt.After(now) {
		return nil
	}

	var entries []Entry
	for _, p := range policies {
		if !p.Active {
			continue
		}
		fireAt := dueAt.Add(-p.Offset())
		if !fireAt.After(now) {
			continue
		}
		entries = append(entries, Entry{PolicyID: p.ID, FireAt: fireAt})
	}

	return entries
}
