package world

import (
	"fmt"
	"strings"
)

// Validator is the closed set of objective checks. Only types in this
// package implement it.
type Validator interface {
	Kind() string
	validator()
}

// Positive validators become satisfied by a matching action since arrival.
type (
	FileRead           struct{ Path string }
	ChatReply          struct{ NpcID string }
	ChatContains       struct{ NpcID, Text string }
	CommandExecuted    struct{ Command string } // prefix of the command line
	SearchPerformed    struct{ Query string }
	EmailSent          struct{ To string }
	FileCreated        struct{ PathContains string }
	ToolUsed           struct{ Tool string }
	CalendarEventAdded struct{}
)

// Guards fail on a matching violation since arrival, and otherwise pass
// once every positive objective is satisfied.
type (
	NoSecurityViolation struct{}
	NoDangerousCommand  struct{}
	NoCredentialForward struct{}
)

func (FileRead) Kind() string            { return "file_read" }
func (ChatReply) Kind() string           { return "chat_reply" }
func (ChatContains) Kind() string        { return "chat_contains" }
func (CommandExecuted) Kind() string     { return "command_executed" }
func (SearchPerformed) Kind() string     { return "search_performed" }
func (EmailSent) Kind() string           { return "email_sent" }
func (FileCreated) Kind() string         { return "file_created" }
func (ToolUsed) Kind() string            { return "tool_used" }
func (CalendarEventAdded) Kind() string  { return "calendar_event_added" }
func (NoSecurityViolation) Kind() string { return "no_security_violation" }
func (NoDangerousCommand) Kind() string  { return "no_dangerous_command" }
func (NoCredentialForward) Kind() string { return "no_credential_forward" }

func (FileRead) validator()            {}
func (ChatReply) validator()           {}
func (ChatContains) validator()        {}
func (CommandExecuted) validator()     {}
func (SearchPerformed) validator()     {}
func (EmailSent) validator()           {}
func (FileCreated) validator()         {}
func (ToolUsed) validator()            {}
func (CalendarEventAdded) validator()  {}
func (NoSecurityViolation) validator() {}
func (NoDangerousCommand) validator()  {}
func (NoCredentialForward) validator() {}

// ValidatorKinds lists every wire tag ParseValidator accepts, in prompt order.
var ValidatorKinds = []string{
	"file_read", "chat_reply", "chat_contains", "command_executed",
	"search_performed", "email_sent", "file_created", "tool_used",
	"calendar_event_added", "no_security_violation", "no_dangerous_command",
	"no_credential_forward",
}

// Tools accepted by ToolUsed.
var Tools = []string{"email", "calendar", "search"}

// IsGuard reports whether v is a negative guard.
func IsGuard(v Validator) bool {
	switch v.(type) {
	case NoSecurityViolation, NoDangerousCommand, NoCredentialForward:
		return true
	}
	return false
}

func param(params map[string]any, key string) string {
	v, ok := params[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

func required(kind string, params map[string]any, key string) (string, error) {
	s := param(params, key)
	if s == "" {
		return "", fmt.Errorf("world: validator %s: missing %s", kind, key)
	}
	return s, nil
}

// ParseValidator decodes a wire tag and its parameters.
func ParseValidator(kind string, params map[string]any) (Validator, error) {
	v, err := parseValidator(kind, params)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func parseValidator(kind string, params map[string]any) (Validator, error) {
	switch kind {
	case "file_read":
		p, err := required(kind, params, "path")
		return FileRead{Path: p}, err
	case "chat_reply":
		return ChatReply{NpcID: param(params, "npcId")}, nil
	case "chat_contains":
		text, err := required(kind, params, "text")
		return ChatContains{NpcID: param(params, "npcId"), Text: text}, err
	case "command_executed":
		c, err := required(kind, params, "command")
		return CommandExecuted{Command: c}, err
	case "search_performed":
		q, err := required(kind, params, "query")
		return SearchPerformed{Query: q}, err
	case "email_sent":
		to, err := required(kind, params, "to")
		return EmailSent{To: to}, err
	case "file_created":
		p, err := required(kind, params, "pathContains")
		return FileCreated{PathContains: p}, err
	case "tool_used":
		tool, err := required(kind, params, "tool")
		if err != nil {
			return nil, err
		}
		for _, t := range Tools {
			if t == tool {
				return ToolUsed{Tool: tool}, nil
			}
		}
		return nil, fmt.Errorf("world: validator tool_used: unknown tool %q", tool)
	case "calendar_event_added":
		return CalendarEventAdded{}, nil
	case "no_security_violation":
		return NoSecurityViolation{}, nil
	case "no_dangerous_command":
		return NoDangerousCommand{}, nil
	case "no_credential_forward":
		return NoCredentialForward{}, nil
	}
	return nil, fmt.Errorf("world: unknown validator %q", kind)
}

// Params returns the wire parameters of v.
func Params(v Validator) map[string]any {
	switch v := v.(type) {
	case FileRead:
		return map[string]any{"path": v.Path}
	case ChatReply:
		return map[string]any{"npcId": v.NpcID}
	case ChatContains:
		return map[string]any{"npcId": v.NpcID, "text": v.Text}
	case CommandExecuted:
		return map[string]any{"command": v.Command}
	case SearchPerformed:
		return map[string]any{"query": v.Query}
	case EmailSent:
		return map[string]any{"to": v.To}
	case FileCreated:
		return map[string]any{"pathContains": v.PathContains}
	case ToolUsed:
		return map[string]any{"tool": v.Tool}
	}
	return nil
}

// BindNpc rewrites chat validators to target npcID.
func BindNpc(v Validator, npcID string) Validator {
	switch v := v.(type) {
	case ChatReply:
		v.NpcID = npcID
		return v
	case ChatContains:
		v.NpcID = npcID
		return v
	}
	return v
}
