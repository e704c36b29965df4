package planner

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/classpulse/classpulse/internal/store"
)

func defaultPolicies() []*store.ReminderPolicy {
	return []*store.ReminderPolicy{
		{ID: uuid.New(), Name: "1 week before", DaysBefore: 7, Active: true},
		{ID: uuid.New(), Name: "3 days before", DaysBefore: 3, Active: true},
		{ID: uuid.New(), Name: "1 day before", DaysBefore: 1, Active: true},
		{ID: uuid.New(), Name: "6 hours before", HoursBefore: 6, Active: true},
	}
}

func TestPlan_AllPoliciesInFuture(t *testing.T) {
	dueAt := time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	policies := defaultPolicies()

	entries := Plan(dueAt, policies, now)
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(entries))
	}

	want := []time.Time{
		time.Date(2026, 2, 13, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 2, 17, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 2, 19, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 2, 19, 18, 0, 0, 0, time.UTC),
	}
	for i, e := range entries {
		if !e.FireAt.Equal(want[i]) {
			t.Errorf("entry %d: expected fire at %s, got %s", i, want[i], e.FireAt)
		}
		if e.PolicyID != policies[i].ID {
			t.Errorf("entry %d: wrong policy id", i)
		}
	}
}

func TestPlan_PastOffsetsExcluded(t *testing.T) {
	dueAt := time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC)
	// Between the 3-day and 1-day offsets: only 1d and 6h remain.
	now := time.Date(2026, 2, 18, 12, 0, 0, 0, time.UTC)

	entries := Plan(dueAt, defaultPolicies(), now)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if !entries[0].FireAt.Equal(time.Date(2026, 2, 19, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected first fire time: %s", entries[0].FireAt)
	}
}

func TestPlan_FireAtEqualToNowExcluded(t *testing.T) {
	dueAt := time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC)
	// Exactly the 1-day offset boundary: fireAt == now must not be planned.
	now := time.Date(2026, 2, 19, 0, 0, 0, 0, time.UTC)

	entries := Plan(dueAt, defaultPolicies(), now)
	if len(entries) != 1 {
		t.Fatalf("expected only the 6h entry, got %d entries", len(entries))
	}
	if !entries[0].FireAt.Equal(time.Date(2026, 2, 19, 18, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected fire time: %s", entries[0].FireAt)
	}
}

func TestPlan_DueDateInPast(t *testing.T) {
	dueAt := time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC)
	now := dueAt.Add(time.Hour)

	if entries := Plan(dueAt, defaultPolicies(), now); entries != nil {
		t.Fatalf("expected no entries for past due date, got %d", len(entries))
	}
}

func TestPlan_DueDateEqualToNow(t *testing.T) {
	now := time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC)

	if entries := Plan(now, defaultPolicies(), now); entries != nil {
		t.Fatalf("expected no entries when due date equals now, got %d", len(entries))
	}
}

func TestPlan_InactivePoliciesSkipped(t *testing.T) {
	dueAt := time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	policies := defaultPolicies()
	policies[0].Active = false
	policies[2].Active = false

	entries := Plan(dueAt, policies, now)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries with 2 inactive policies, got %d", len(entries))
	}
}

func TestPlan_NoPolicies(t *testing.T) {
	dueAt := time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	if entries := Plan(dueAt, nil, now); entries != nil {
		t.Fatalf("expected no entries without policies, got %d", len(entries))
	}
}

func TestPlan_Deterministic(t *testing.T) {
	dueAt := time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	policies := defaultPolicies()

	first := Plan(dueAt, policies, now)
	second := Plan(dueAt, policies, now)

	if len(first) != len(second) {
		t.Fatalf("plan is not deterministic: %d vs %d entries", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("entry %d differs between runs", i)
		}
	}
}
