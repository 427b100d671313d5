package events

// EventType classifies events; each value is one bus topic.
type EventType int

const (
	EvTick              EventType = iota // Clock advanced
	EvRequestAdded                       // Request arrived
	EvRequestCompleted                   // Request scored
	EvRequestExpired                     // Deadline passed
	EvRequestFailed                      // Negative guard tripped
	EvSecurityViolation                  // Trap read, dangerous command, credential forward
	EvNpcLeft                            // Patience hit zero
	EvCommandExecuted                    // Shell input ran
	EvTerminalClear                      // clear
	EvFileRead                           // Successful file read
	EvFileWritten                        // File created or overwritten
	EvChatMessage                        // Chat line appended
	EvGameOver                           // Run ended
)

// String returns the wire name of the event type.
func (t EventType) String() string {
	switch t {
	case EvTick:
		return "tick"
	case EvRequestAdded:
		return "request_added"
	case EvRequestCompleted:
		return "request_completed"
	case EvRequestExpired:
		return "request_expired"
	case EvRequestFailed:
		return "request_failed"
	case EvSecurityViolation:
		return "security_violation"
	case EvNpcLeft:
		return "npc_left"
	case EvCommandExecuted:
		return "command_executed"
	case EvTerminalClear:
		return "terminal_clear"
	case EvFileRead:
		return "file_read"
	case EvFileWritten:
		return "file_written"
	case EvChatMessage:
		return "chat_message"
	case EvGameOver:
		return "game_over"
	default:
		return "unknown"
	}
}

// Violation kinds carried in Event.Kind for EvSecurityViolation.
const (
	ViolationTrapAccess        = "trap_access"
	ViolationDangerousCommand  = "dangerous_command"
	ViolationCredentialForward = "credential_forward"
)

// Event is a structured simulation event that flows through the bus.
// Fields not meaningful for a given Type are left zero.
type Event struct {
	Type      EventType      `json:"-"`
	Tick      int64          `json:"tick"`
	RequestID string         `json:"requestId,omitempty"`
	NpcID     string         `json:"npcId,omitempty"`
	Kind      string         `json:"kind,omitempty"` // violation kind, chat sender, etc.
	Path      string         `json:"path,omitempty"`
	Text      string         `json:"text,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}
