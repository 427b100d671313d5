// Package shell interprets the player's terminal input against the virtual
// filesystem.
package shell

import (
	"strings"

	"github.com/crystal-mush/clawback/pkg/clock"
	"github.com/crystal-mush/clawback/pkg/events"
	"github.com/crystal-mush/clawback/pkg/vfs"
)

// SideEffects are resource costs a command charges to the workstation.
type SideEffects struct {
	CPU     float64 `json:"cpu,omitempty"`
	Memory  float64 `json:"memory,omitempty"`
	Network float64 `json:"network,omitempty"`
	Disk    float64 `json:"disk,omitempty"`
}

// IsZero reports whether no resource is charged.
func (s SideEffects) IsZero() bool {
	return s == SideEffects{}
}

// Result is the outcome of one input line.
type Result struct {
	Output      string      `json:"output"`
	IsError     bool        `json:"isError,omitempty"`
	NewCwd      string      `json:"newCwd,omitempty"`
	SideEffects SideEffects `json:"sideEffects"`
}

func errorf(msg string) Result {
	return Result{Output: msg, IsError: true}
}

// CommandHandler runs one command. args excludes the command name.
type CommandHandler func(sh *Shell, args []string, cwd string) Result

// Command is a registered shell command.
type Command struct {
	Name    string
	Handler CommandHandler
}

// Shell dispatches input lines to the command table.
type Shell struct {
	fs       *vfs.FS
	bus      *events.Bus
	clock    func() *clock.Clock
	commands map[string]*Command
}

// New creates a shell over fs. clk may be nil, in which case date prints the
// initial shift time.
func New(fs *vfs.FS, bus *events.Bus, clk func() *clock.Clock) *Shell {
	if clk == nil {
		c := clock.New()
		clk = func() *clock.Clock { return c }
	}
	return &Shell{fs: fs, bus: bus, clock: clk, commands: InitCommands()}
}

// Commands returns the sorted names of every registered command.
func (sh *Shell) Commands() []string {
	return commandNames(sh.commands)
}

func (sh *Shell) tick() int64 {
	return sh.clock().Tick
}

func (sh *Shell) emit(ev events.Event) {
	if sh.bus != nil {
		ev.Tick = sh.tick()
		sh.bus.Emit(ev)
	}
}

// criticalPaths may never be the target of rm.
var criticalPaths = map[string]bool{
	"/":          true,
	"/home":      true,
	"/home/user": true,
}

// dangerous reports whether argv would destroy a critical path.
func dangerous(argv []string, cwd string) (string, bool) {
	if len(argv) == 0 || argv[0] != "rm" {
		return "", false
	}
	recursive := false
	for _, a := range argv[1:] {
		if strings.HasPrefix(a, "-") && strings.ContainsAny(a, "rR") {
			recursive = true
		}
	}
	for _, a := range argv[1:] {
		if strings.HasPrefix(a, "-") {
			continue
		}
		if a == "/*" && recursive {
			return "/", true
		}
		if resolved := vfs.Resolve(a, cwd); criticalPaths[resolved] {
			return resolved, true
		}
	}
	return "", false
}

// Execute runs one input line in cwd. Pipes run only their first stage.
// A trailing > or >> redirect writes successful output to a file.
func (sh *Shell) Execute(input, cwd string) Result {
	input = strings.TrimSpace(input)
	if input == "" {
		return Result{}
	}
	if cwd == "" {
		cwd = vfs.HomeDir
	}

	p := parse(input)
	if p.badSyntax != "" {
		return sh.finish(input, cwd, errorf("claw: "+p.badSyntax))
	}
	argv := p.stages[0]
	if len(argv) == 0 {
		return sh.finish(input, cwd, errorf("claw: syntax error near unexpected token `|'"))
	}

	if target, bad := dangerous(argv, cwd); bad {
		sh.emit(events.Event{
			Type: events.EvSecurityViolation,
			Kind: events.ViolationDangerousCommand,
			Path: target,
			Text: strings.Join(argv, " "),
		})
		res := Result{
			Output:      "\x1b[31m⚠ SYSTEM ALERT: Dangerous operation blocked!\x1b[0m\nAttempted to remove critical path: " + target,
			IsError:     true,
			SideEffects: SideEffects{CPU: 5},
		}
		return sh.finish(input, cwd, res)
	}

	cmd, ok := sh.commands[argv[0]]
	if !ok {
		return sh.finish(input, cwd, errorf(argv[0]+": command not found"))
	}
	res := cmd.Handler(sh, argv[1:], cwd)

	if p.redirect != "" && !res.IsError {
		write := sh.fs.WriteFile
		if p.appendTo {
			write = sh.fs.AppendFile
		}
		if !write(p.redirect, res.Output, cwd) {
			return sh.finish(input, cwd, errorf("claw: "+p.redirect+": No such file or directory"))
		}
		res.Output = ""
	}
	return sh.finish(input, cwd, res)
}

func (sh *Shell) finish(input, cwd string, res Result) Result {
	sh.emit(events.Event{
		Type: events.EvCommandExecuted,
		Text: input,
		Path: cwd,
		Data: map[string]any{"isError": res.IsError},
	})
	return res
}
