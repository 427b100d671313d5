package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/crystal-mush/clawback/pkg/clock"
	"github.com/crystal-mush/clawback/pkg/engine"
	"github.com/crystal-mush/clawback/pkg/events"
	"github.com/crystal-mush/clawback/pkg/npc"
)

const replHelp = `Terminal input runs in the workstation shell. Slash commands:
  /chat <text>                     reply to the requester
  /email <to> <subject> | <body>   send mail
  /search <query>                  web search
  /cal <title> @ <when>            book a calendar slot
  /tool <email|calendar|search>    open a tool
  /pause /resume /fast             clock speed
  /state                           score, clock and current request
  /start <persona>  /reset         run control
  /quit`

// repl drives an engine from a line-oriented terminal.
type repl struct {
	eng *engine.Engine
	in  io.Reader

	mu  sync.Mutex
	out io.Writer
}

func newREPL(eng *engine.Engine, in io.Reader, out io.Writer) *repl {
	return &repl{eng: eng, in: in, out: out}
}

func (r *repl) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format, args...)
}

// Run reads lines until EOF, /quit or ctx is done. Chat, arrivals and
// violations are printed as they happen.
func (r *repl) Run(ctx context.Context) {
	sub := events.NewChan(128)
	r.eng.Bus().Subscribe(sub,
		events.EvChatMessage,
		events.EvRequestAdded,
		events.EvSecurityViolation,
		events.EvGameOver,
	)
	defer func() {
		r.eng.Bus().Unsubscribe(sub)
		sub.Close()
	}()
	go func() {
		for ev := range sub.C {
			if line := describe(ev); line != "" {
				r.printf("\r%s\n", line)
			}
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r.in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	r.prompt()
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok || !r.handle(line) {
				return
			}
			r.prompt()
		}
	}
}

func (r *repl) prompt() {
	r.printf("user@workstation:%s$ ", r.eng.Snapshot().Cwd)
}

// handle runs one input line and reports whether to keep reading.
func (r *repl) handle(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return true
	}
	if !strings.HasPrefix(line, "/") {
		res := r.eng.ExecCommand(line)
		if res.Output != "" {
			r.printf("%s\n", res.Output)
		}
		return true
	}

	cmd, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)
	var err error
	switch cmd {
	case "quit", "exit":
		return false
	case "help":
		r.printf("%s\n", replHelp)
	case "chat":
		_, err = r.eng.SendChat(arg)
	case "email":
		head, body, _ := strings.Cut(arg, "|")
		to, subject, _ := strings.Cut(strings.TrimSpace(head), " ")
		if to == "" {
			r.printf("usage: /email <to> <subject> | <body>\n")
			return true
		}
		_, err = r.eng.SendEmail(to, strings.TrimSpace(subject), strings.TrimSpace(body))
		if err == nil {
			r.printf("Sent to %s.\n", to)
		}
	case "search":
		results, serr := r.eng.Search(arg)
		err = serr
		for _, res := range results {
			r.printf("  %s\n    %s\n    %s\n", res.Title, res.URL, res.Snippet)
		}
	case "cal":
		title, when, _ := strings.Cut(arg, "@")
		_, err = r.eng.AddCalendarEvent(strings.TrimSpace(title), strings.TrimSpace(when))
		if err == nil {
			r.printf("Booked %q.\n", strings.TrimSpace(title))
		}
	case "tool":
		err = r.eng.UseTool(arg)
	case "pause":
		r.eng.Pause()
	case "resume":
		r.eng.Resume()
	case "fast":
		r.eng.SetSpeed(clock.Fast)
	case "reset":
		r.eng.Reset()
	case "start":
		p, ok := npc.Lookup(arg)
		if !ok {
			r.printf("unknown persona %q\n", arg)
			return true
		}
		r.eng.Start(p)
	case "state":
		r.printState()
	default:
		r.printf("unknown command /%s (try /help)\n", cmd)
	}
	if err != nil {
		r.printf("error: %v\n", err)
	}
	return true
}

func (r *repl) printState() {
	s := r.eng.Snapshot()
	r.printf("%s  %s  score %d  streak %d  security %d\n",
		s.Phase, s.Clock.Display, s.Score.Total, s.Score.Streak, s.Score.SecurityScore)
	if n, ok := s.NPCs[s.Persona.ID]; ok {
		r.printf("%s (%s): %s, patience %.0f%%\n", s.Persona.Name, s.Persona.Role, n.Mood, n.Patience)
	}
	for _, req := range s.Requests {
		if req.Status.Terminal() {
			continue
		}
		r.printf("[%s] %s (tier %d, %d/%d ticks)\n",
			req.Status, req.Title, req.Tier, s.Clock.Tick-req.ArrivalTick, req.DeadlineTicks)
		for _, o := range req.Objectives {
			mark := " "
			if o.Completed {
				mark = "x"
			}
			r.printf("  [%s] %s\n", mark, o.Description)
		}
	}
}

// describe renders an event for the terminal, or "" to skip it.
func describe(ev events.Event) string {
	switch ev.Type {
	case events.EvChatMessage:
		switch ev.Kind {
		case "npc":
			return fmt.Sprintf("<%s> %s", ev.NpcID, ev.Text)
		case "system":
			return fmt.Sprintf("* %s", ev.Text)
		}
	case events.EvRequestAdded:
		return fmt.Sprintf("* New request from %s", ev.NpcID)
	case events.EvSecurityViolation:
		return fmt.Sprintf("! Security violation: %s", ev.Kind)
	case events.EvGameOver:
		return fmt.Sprintf("*** GAME OVER (%s), final score %v. /start <persona> to play again.", ev.Kind, ev.Data["score"])
	}
	return ""
}
