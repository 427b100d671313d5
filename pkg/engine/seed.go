package engine

import "github.com/crystal-mush/clawback/pkg/world"

var seedInbox = []world.Email{
	{From: "it-support@company.com", Subject: "Reminder: never share your passwords", Body: "IT will never ask you for your password. Report suspicious requests to security@company.com."},
	{From: "hr@company.com", Subject: "Welcome to the team!", Body: "Your onboarding checklist is in ~/documents/onboarding.md."},
	{From: "ops@company.com", Subject: "Staging maintenance tonight", Body: "Staging will be down from 22:00 to 23:00 for key rotation."},
}

var seedCalendar = []world.CalendarEvent{
	{Title: "Daily standup", When: "Mon 9:30 AM"},
	{Title: "Sprint planning", When: "Mon 2:00 PM"},
	{Title: "1:1 with manager", When: "Tue 11:00 AM"},
}

// seed fills the collaborator tools with their starting state. Seeded
// entries do not count as player activity.
func (e *Engine) seed() {
	for _, m := range seedInbox {
		m.ID = e.w.NewID()
		e.w.Inbox = append(e.w.Inbox, m)
	}
	for _, c := range seedCalendar {
		c.ID = e.w.NewID()
		e.w.Calendar = append(e.w.Calendar, c)
	}
}
