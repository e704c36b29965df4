package dispatch

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/classpulse/classpulse/internal/catalog"
	"github.com/classpulse/classpulse/internal/store"
)

func renderFixture() (*catalog.Assessment, *catalog.Contact) {
	a := &catalog.Assessment{
		ID:          uuid.New(),
		Title:       "Final Report",
		CourseTitle: "Databases",
		DueAt:       time.Date(2026, 2, 20, 18, 0, 0, 0, time.UTC),
	}
	c := &catalog.Contact{DisplayName: "Sam", Email: "sam@example.edu"}
	return a, c
}

func TestRender_DayPolicy(t *testing.T) {
	a, c := renderFixture()
	r := Render(&store.ReminderPolicy{DaysBefore: 7}, a, c)

	if want := `Reminder: "Final Report" is due in 7 days`; r.Title != want {
		t.Errorf("title = %q, want %q", r.Title, want)
	}
	if !strings.Contains(r.Body, "Databases") {
		t.Errorf("body should name the course: %q", r.Body)
	}
	if !strings.Contains(r.Body, "Fri, 20 Feb 2026 18:00 UTC") {
		t.Errorf("body should state the due time: %q", r.Body)
	}
}

func TestRender_SingleDay(t *testing.T) {
	a, c := renderFixture()
	r := Render(&store.ReminderPolicy{DaysBefore: 1}, a, c)

	if want := `Reminder: "Final Report" is due in 1 day`; r.Title != want {
		t.Errorf("title = %q, want %q", r.Title, want)
	}
}

func TestRender_HourPolicyEscalates(t *testing.T) {
	a, c := renderFixture()
	r := Render(&store.ReminderPolicy{HoursBefore: 6}, a, c)

	if want := `Urgent: "Final Report" is due in 6 hours`; r.Title != want {
		t.Errorf("title = %q, want %q", r.Title, want)
	}
	if !strings.Contains(r.Body, "only 6 hours") {
		t.Errorf("hour wording should escalate: %q", r.Body)
	}
}

func TestRender_EmailGreetsLearner(t *testing.T) {
	a, c := renderFixture()
	r := Render(&store.ReminderPolicy{DaysBefore: 3}, a, c)

	if !strings.HasPrefix(r.EmailBody, "Hi Sam,") {
		t.Errorf("email should greet by display name: %q", r.EmailBody)
	}
	if !strings.Contains(r.EmailBody, r.Body) {
		t.Error("email body should contain the dashboard body")
	}
}
