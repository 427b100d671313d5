package server

import (
	"bytes"
	"encoding/json"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crystal-mush/clawback/pkg/boltstore"
	"github.com/crystal-mush/clawback/pkg/config"
	"github.com/crystal-mush/clawback/pkg/engine"
	"github.com/crystal-mush/clawback/pkg/journal"
	"github.com/crystal-mush/clawback/pkg/npc"
	"github.com/crystal-mush/clawback/pkg/queue"
	"github.com/crystal-mush/clawback/pkg/world"
)

func newTestServer(t *testing.T, cfg WebConfig, opts ...Option) (*WebServer, *engine.Engine) {
	t.Helper()
	conf := config.DefaultSimConf()
	conf.TypingDelay = 0
	eng := engine.New(conf, engine.WithRunner(queue.Synchronous), engine.WithRand(rand.New(rand.NewSource(1))))
	t.Cleanup(eng.Close)
	return NewWebServer(eng, cfg, opts...), eng
}

func do(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, ws *WebServer) string {
	t.Helper()
	tok, err := ws.Auth().Login("ops", "")
	require.NoError(t, err)
	return tok
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestAuthLoginAndRefresh(t *testing.T) {
	ws, _ := newTestServer(t, WebConfig{AccessKey: "hunter2"})
	h := ws.Handler()

	rec := do(t, h, "POST", "/api/v1/auth/login", "", map[string]string{"operator": "ops", "accessKey": "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, "POST", "/api/v1/auth/login", "", map[string]string{"operator": "ops", "accessKey": "hunter2"})
	require.Equal(t, http.StatusOK, rec.Code)
	tok := decode(t, rec)["token"].(string)

	claims, err := ws.Auth().ValidateToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Operator)

	rec = do(t, h, "POST", "/api/v1/auth/refresh", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode(t, rec)["token"])

	_, err = NewAuthService("other-secret", "", time.Hour).ValidateToken(tok)
	assert.Error(t, err, "token signed with a different key")
}

func TestRoutesRequireToken(t *testing.T) {
	ws, _ := newTestServer(t, WebConfig{})
	h := ws.Handler()
	assert.Equal(t, http.StatusUnauthorized, do(t, h, "GET", "/api/v1/state", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, "GET", "/api/v1/state", "garbage", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, h, "GET", "/api/v1/personas", "", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, h, "GET", "/health", "", nil).Code)
}

func TestRunAndPlayerActions(t *testing.T) {
	ws, eng := newTestServer(t, WebConfig{})
	h := ws.Handler()
	tok := login(t, ws)

	rec := do(t, h, "POST", "/api/v1/chat", tok, map[string]string{"text": "hi"})
	assert.Equal(t, http.StatusConflict, rec.Code, "no run yet")

	rec = do(t, h, "POST", "/api/v1/run", tok, map[string]string{"persona": "nobody"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, "POST", "/api/v1/run", tok, map[string]string{"persona": "sarah"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "playing", decode(t, rec)["phase"])

	rec = do(t, h, "POST", "/api/v1/command", tok, map[string]string{"command": "pwd"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/home/user", strings.TrimSpace(decode(t, rec)["output"].(string)))

	rec = do(t, h, "POST", "/api/v1/command", tok, map[string]string{"command": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, "POST", "/api/v1/chat", tok, map[string]string{"text": "on it"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, "POST", "/api/v1/email", tok, map[string]string{"to": "bob@company.com", "subject": "hi", "body": "notes"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, "POST", "/api/v1/search", tok, map[string]string{"query": "golang"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode(t, rec)["results"])

	rec = do(t, h, "POST", "/api/v1/calendar", tok, map[string]string{"title": "Standup", "when": "10:00"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, "POST", "/api/v1/tool", tok, map[string]string{"tool": "spreadsheet-of-doom"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, "POST", "/api/v1/run/pause", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "paused", decode(t, rec)["speed"])
	rec = do(t, h, "POST", "/api/v1/run/fast", tok, nil)
	assert.Equal(t, "fast", decode(t, rec)["speed"])
	assert.Equal(t, http.StatusNotFound, do(t, h, "POST", "/api/v1/run/warp", tok, nil).Code)

	snap := eng.Snapshot()
	assert.Len(t, snap.Terminal, 1)

	rec = do(t, h, "POST", "/api/v1/run/reset", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "idle", eng.Phase().String())
}

func TestJournalAndArchiveRoutes(t *testing.T) {
	dir := t.TempDir()
	j, err := journal.Open(filepath.Join(dir, "journal.db"), 0)
	require.NoError(t, err)
	defer j.Close()
	store, err := boltstore.Open(filepath.Join(dir, "archive.bolt"))
	require.NoError(t, err)
	defer store.Close()

	ws, eng := newTestServer(t, WebConfig{}, WithJournal(j), WithArchive(store))
	j.Attach(eng.Bus())
	h := ws.Handler()
	tok := login(t, ws)

	do(t, h, "POST", "/api/v1/run", tok, map[string]string{"persona": "sarah"})
	do(t, h, "POST", "/api/v1/command", tok, map[string]string{"command": "ls"})
	j.Flush()

	rec := do(t, h, "GET", "/api/v1/journal?type=command_executed", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode(t, rec)["count"])

	rec = do(t, h, "GET", "/api/v1/audit", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cmds := decode(t, rec)["commands"].([]any)
	require.Len(t, cmds, 1)
	assert.Equal(t, "ls", cmds[0].(map[string]any)["text"])

	require.NoError(t, store.PutRun(&boltstore.Run{Seq: 7, Score: 420, NpcID: "sarah"}))
	rec = do(t, h, "GET", "/api/v1/highscores", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["highscores"], 1)

	assert.Equal(t, http.StatusOK, do(t, h, "GET", "/api/v1/runs/7", tok, nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, "GET", "/api/v1/runs/8", tok, nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, "GET", "/api/v1/runs/abc", tok, nil).Code)
}

func TestOptionalStoresMissing(t *testing.T) {
	ws, _ := newTestServer(t, WebConfig{})
	tok := login(t, ws)
	assert.Equal(t, http.StatusNotFound, do(t, ws.Handler(), "GET", "/api/v1/journal", tok, nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, ws.Handler(), "GET", "/api/v1/runs", tok, nil).Code)
}

func TestMetricsScrape(t *testing.T) {
	ws, eng := newTestServer(t, WebConfig{})
	h := ws.Handler()
	tok := login(t, ws)
	do(t, h, "POST", "/api/v1/run", tok, map[string]string{"persona": "sarah"})
	eng.ExecCommand("pwd")

	rec := do(t, h, "GET", "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `clawback_events_total{type="command_executed"} 1`)
	assert.Contains(t, body, "clawback_playing 1")
	assert.Contains(t, body, `clawback_resource_percent{resource="disk"}`)
}

func TestCORSAndRateLimit(t *testing.T) {
	ws, _ := newTestServer(t, WebConfig{CORSOrigins: []string{"https://app.example"}, RateLimit: 0.001, RateBurst: 1})
	h := ws.Handler()

	req := httptest.NewRequest("OPTIONS", "/api/v1/state", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	// Preflight is answered before the limiter; the first GET spent the burst.
	assert.Equal(t, http.StatusTooManyRequests, do(t, h, "GET", "/health", "", nil).Code)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.5:5555"
	assert.Equal(t, "10.0.0.5", clientIP(req))
	req.Header.Set("X-Forwarded-For", "1.2.3.4, 10.0.0.1")
	assert.Equal(t, "1.2.3.4", clientIP(req))
}

func TestWebSocketStream(t *testing.T) {
	ws, eng := newTestServer(t, WebConfig{})
	srv := httptest.NewServer(ws.Handler())
	defer srv.Close()
	tok := login(t, ws)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}

	conn, _, err := websocket.DefaultDialer.Dial(url+"?token="+tok, nil)
	require.NoError(t, err)
	defer conn.Close()

	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "welcome", msg.Type)

	eng.Start(mustPersona(t, "sarah"))
	require.NoError(t, conn.WriteJSON(WSMessage{Type: "command", Command: "echo hello"}))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var sawEvent, sawResult bool
	for !(sawEvent && sawResult) {
		var m WSMessage
		require.NoError(t, conn.ReadJSON(&m))
		switch m.Type {
		case "command_executed":
			sawEvent = true
			require.NotNil(t, m.Event)
			assert.Equal(t, "echo hello", m.Event.Text)
		case "result":
			sawResult = true
			assert.Equal(t, "echo hello", m.Command)
		}
	}

	require.NoError(t, conn.WriteJSON(WSMessage{Type: "bogus"}))
	for {
		var m WSMessage
		require.NoError(t, conn.ReadJSON(&m))
		if m.Type == "error" {
			assert.Contains(t, m.Text, "bogus")
			break
		}
	}
}

func TestSelfSignedTLS(t *testing.T) {
	dir := t.TempDir()
	res, err := SetupTLS(TLSOptions{CertDir: dir})
	require.NoError(t, err)
	require.Len(t, res.Config.Certificates, 1)
	assert.Nil(t, res.Challenge)
	assert.FileExists(t, filepath.Join(dir, "localhost.crt"))

	// Second call reuses the files.
	again, err := SetupTLS(TLSOptions{CertDir: dir})
	require.NoError(t, err)
	assert.Equal(t, res.Config.Certificates[0].Certificate[0], again.Config.Certificates[0].Certificate[0])

	_, err = SetupTLS(TLSOptions{})
	assert.Error(t, err)
}

func mustPersona(t *testing.T, id string) world.Persona {
	t.Helper()
	p, ok := npc.Lookup(id)
	require.True(t, ok)
	return p
}
