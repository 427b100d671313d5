package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/crystal-mush/clawback/pkg/clock"
	"github.com/crystal-mush/clawback/pkg/engine"
	"github.com/crystal-mush/clawback/pkg/journal"
	"github.com/crystal-mush/clawback/pkg/npc"
)

// RegisterRESTRoutes registers the /api/v1 endpoints. Everything except
// the persona list needs a session token.
func (ws *WebServer) RegisterRESTRoutes() {
	ws.mux.HandleFunc("GET /api/v1/personas", ws.handlePersonas)

	authed := map[string]http.HandlerFunc{
		"POST /api/v1/run":          ws.handleStart,
		"POST /api/v1/run/{action}": ws.handleRunControl,
		"GET /api/v1/state":         ws.handleState,
		"GET /api/v1/commands":      ws.handleCommands,
		"POST /api/v1/command":      ws.handleCommand,
		"POST /api/v1/chat":         ws.handleChat,
		"POST /api/v1/email":        ws.handleEmail,
		"POST /api/v1/search":       ws.handleSearch,
		"POST /api/v1/calendar":     ws.handleCalendar,
		"POST /api/v1/tool":         ws.handleTool,
		"GET /api/v1/journal":       ws.handleJournal,
		"GET /api/v1/audit":         ws.handleAudit,
		"GET /api/v1/runs":          ws.handleRuns,
		"GET /api/v1/runs/{seq}":    ws.handleRunOutcomes,
		"GET /api/v1/highscores":    ws.handleHighScores,
	}
	for pattern, h := range authed {
		ws.mux.Handle(pattern, authMiddleware(ws.auth, h))
	}
}

func queryInt(r *http.Request, name string, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(name)); err == nil && v > 0 {
		return v
	}
	return def
}

// playerError maps engine errors to HTTP statuses.
func playerError(w http.ResponseWriter, err error) {
	if errors.Is(err, engine.ErrNotPlaying) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

// --- Run control ---

func (ws *WebServer) handlePersonas(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"personas": npc.Personas()})
}

func (ws *WebServer) handleStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Persona string `json:"persona"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	p, ok := npc.Lookup(req.Persona)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown persona")
		return
	}
	ws.eng.Start(p)
	writeJSON(w, http.StatusOK, ws.eng.Snapshot())
}

func (ws *WebServer) handleRunControl(w http.ResponseWriter, r *http.Request) {
	switch action := r.PathValue("action"); action {
	case "pause":
		ws.eng.Pause()
	case "resume":
		ws.eng.Resume()
	case "reset":
		ws.eng.Reset()
	default:
		s, ok := clock.ParseSpeed(action)
		if !ok {
			writeError(w, http.StatusNotFound, "unknown action")
			return
		}
		ws.eng.SetSpeed(s)
	}
	writeJSON(w, http.StatusOK, ws.eng.Snapshot().Clock)
}

func (ws *WebServer) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ws.eng.Snapshot())
}

func (ws *WebServer) handleCommands(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"commands": ws.eng.Commands()})
}

// --- Player actions ---

func (ws *WebServer) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Command string `json:"command"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}
	writeJSON(w, http.StatusOK, ws.eng.ExecCommand(req.Command))
}

func (ws *WebServer) handleChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	m, err := ws.eng.SendChat(req.Text)
	if err != nil {
		playerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (ws *WebServer) handleEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		To      string `json:"to"`
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.To == "" {
		writeError(w, http.StatusBadRequest, "to is required")
		return
	}
	em, err := ws.eng.SendEmail(req.To, req.Subject, req.Body)
	if err != nil {
		playerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, em)
}

func (ws *WebServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	results, err := ws.eng.Search(req.Query)
	if err != nil {
		playerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (ws *WebServer) handleCalendar(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
		When  string `json:"when"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	ev, err := ws.eng.AddCalendarEvent(req.Title, req.When)
	if err != nil {
		playerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (ws *WebServer) handleTool(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tool string `json:"tool"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := ws.eng.UseTool(req.Tool); err != nil {
		playerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"tool": req.Tool})
}

// --- Journal ---

func (ws *WebServer) handleJournal(w http.ResponseWriter, r *http.Request) {
	if ws.journal == nil {
		writeError(w, http.StatusNotFound, "journal not configured")
		return
	}
	q := r.URL.Query()
	f := journal.Filter{
		RequestID: q.Get("request"),
		NpcID:     q.Get("npc"),
		SinceTick: int64(queryInt(r, "since", 0)),
		Limit:     queryInt(r, "limit", 0),
	}
	if t := q.Get("type"); t != "" {
		f.Types = strings.Split(t, ",")
	}
	entries, err := ws.journal.Query(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

func (ws *WebServer) handleAudit(w http.ResponseWriter, r *http.Request) {
	if ws.journal == nil {
		writeError(w, http.StatusNotFound, "journal not configured")
		return
	}
	entries, err := ws.journal.Audit(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commands": entries})
}

// --- Archive ---

func (ws *WebServer) handleRuns(w http.ResponseWriter, r *http.Request) {
	if ws.archive == nil {
		writeError(w, http.StatusNotFound, "archive not configured")
		return
	}
	runs, err := ws.archive.Runs(queryInt(r, "limit", 20))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (ws *WebServer) handleRunOutcomes(w http.ResponseWriter, r *http.Request) {
	if ws.archive == nil {
		writeError(w, http.StatusNotFound, "archive not configured")
		return
	}
	seq, err := strconv.ParseUint(r.PathValue("seq"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run")
		return
	}
	run, err := ws.archive.GetRun(seq)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	outcomes, err := ws.archive.Outcomes(seq)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if run == nil && len(outcomes) == 0 {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run, "outcomes": outcomes})
}

func (ws *WebServer) handleHighScores(w http.ResponseWriter, r *http.Request) {
	if ws.archive == nil {
		writeError(w, http.StatusNotFound, "archive not configured")
		return
	}
	top, err := ws.archive.HighScores(queryInt(r, "n", 10))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"highscores": top})
}
