package dispatch

import (
	"fmt"

	"github.com/classpulse/classpulse/internal/catalog"
	"github.com/classpulse/classpulse/internal/store"
)

// Rendered is the notification content produced for one reminder.
type Rendered struct {
	Title     string
	Body      string
	EmailBody string
}

// Render produces the notification wording for a reminder. Day-granularity
// policies get calm phrasing; hour-granularity ones escalate to urgent.
func Render(policy *store.ReminderPolicy, a *catalog.Assessment, contact *catalog.Contact) Rendered {
	due := a.DueAt.UTC().Format("Mon, 2 Jan 2006 15:04 MST")

	var title, lead string
	switch {
	case policy.DaysBefore > 0:
		title = fmt.Sprintf("Reminder: %q is due in %s", a.Title, plural(policy.DaysBefore, "day"))
		lead = fmt.Sprintf("Your assessment %q for %s is due in %s.",
			a.Title, a.CourseTitle, plural(policy.DaysBefore, "day"))
	case policy.HoursBefore > 0:
		title = fmt.Sprintf("Urgent: %q is due in %s", a.Title, plural(policy.HoursBefore, "hour"))
		lead = fmt.Sprintf("Last call: your assessment %q for %s is due in only %s.",
			a.Title, a.CourseTitle, plural(policy.HoursBefore, "hour"))
	default:
		title = fmt.Sprintf("Urgent: %q is due now", a.Title)
		lead = fmt.Sprintf("Your assessment %q for %s is due now.", a.Title, a.CourseTitle)
	}

	body := fmt.Sprintf("%s Submit before %s.", lead, due)
	emailBody := fmt.Sprintf("Hi %s,\n\n%s\n\nIf you have already submitted, you can ignore this message.",
		contact.DisplayName, body)

	return Rendered{
		Title:     title,
		Body:      body,
		EmailBody: emailBody,
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
