package request

import (
	"strings"

	"github.com/crystal-mush/clawback/pkg/events"
	"github.com/crystal-mush/clawback/pkg/world"
)

// satisfied reports whether a positive objective holds in the world since
// the request arrived.
func (m *Manager) satisfied(v world.Validator, since int64) bool {
	w := m.w
	switch v := v.(type) {
	case world.FileRead:
		return anyActivity(w.ActivitySince(world.ActFileRead, since), func(a world.Activity) bool {
			return a.Subject == v.Path
		})
	case world.ChatReply:
		return len(w.PlayerMessagesSince(v.NpcID, since)) > 0
	case world.ChatContains:
		want := strings.ToLower(v.Text)
		for _, msg := range w.PlayerMessagesSince(v.NpcID, since) {
			if strings.Contains(strings.ToLower(msg.Text), want) {
				return true
			}
		}
		return false
	case world.CommandExecuted:
		want := strings.TrimSpace(v.Command)
		return anyActivity(w.ActivitySince(world.ActCommand, since), func(a world.Activity) bool {
			return strings.HasPrefix(strings.TrimSpace(a.Subject), want)
		})
	case world.SearchPerformed:
		want := strings.ToLower(v.Query)
		return anyActivity(w.ActivitySince(world.ActSearch, since), func(a world.Activity) bool {
			return strings.Contains(strings.ToLower(a.Subject), want)
		})
	case world.EmailSent:
		want := strings.ToLower(v.To)
		return anyActivity(w.ActivitySince(world.ActEmail, since), func(a world.Activity) bool {
			return strings.Contains(strings.ToLower(a.Subject), want)
		})
	case world.FileCreated:
		match := func(a world.Activity) bool { return strings.Contains(a.Subject, v.PathContains) }
		return anyActivity(w.ActivitySince(world.ActFileCreated, since), match) ||
			anyActivity(w.ActivitySince(world.ActFileWritten, since), match)
	case world.ToolUsed:
		return anyActivity(w.ActivitySince(world.ActTool, since), func(a world.Activity) bool {
			return a.Subject == v.Tool
		})
	case world.CalendarEventAdded:
		return len(w.ActivitySince(world.ActCalendar, since)) > 0
	}
	return false
}

// violated reports whether a negative guard has been broken since the
// request arrived.
func (m *Manager) violated(v world.Validator, since int64) bool {
	switch v.(type) {
	case world.NoSecurityViolation:
		return m.w.ViolationSince(events.ViolationTrapAccess, since)
	case world.NoDangerousCommand:
		return m.w.ViolationSince(events.ViolationDangerousCommand, since)
	case world.NoCredentialForward:
		return m.w.ViolationSince(events.ViolationCredentialForward, since)
	}
	return false
}

func anyActivity(as []world.Activity, pred func(world.Activity) bool) bool {
	for _, a := range as {
		if pred(a) {
			return true
		}
	}
	return false
}
