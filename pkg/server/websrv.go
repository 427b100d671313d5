// Package server exposes a running engine over HTTP and WebSocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/crystal-mush/clawback/pkg/boltstore"
	"github.com/crystal-mush/clawback/pkg/engine"
	"github.com/crystal-mush/clawback/pkg/events"
	"github.com/crystal-mush/clawback/pkg/journal"
)

// WebConfig holds configuration for the web server.
type WebConfig struct {
	Addr        string
	Domain      string
	CertFile    string
	KeyFile     string
	CertDir     string
	CORSOrigins []string
	RateLimit   float64 // requests per second per IP
	RateBurst   int
	JWTSecret   string
	JWTExpiry   time.Duration
	AccessKey   string
}

// WebServer serves the REST API, the event stream and metrics.
type WebServer struct {
	eng       *engine.Engine
	archive   *boltstore.Store
	journal   *journal.Journal
	httpSrv   *http.Server
	mux       *http.ServeMux
	auth      *AuthService
	rl        *rateLimiter
	upgrader  websocket.Upgrader
	metrics   *Metrics
	startTime time.Time

	mu      sync.Mutex
	clients map[*wsConn]struct{}
}

// Option configures optional stores on a WebServer.
type Option func(*WebServer)

// WithArchive exposes the run archive under /api/v1/runs.
func WithArchive(s *boltstore.Store) Option {
	return func(ws *WebServer) { ws.archive = s }
}

// WithJournal exposes the event journal under /api/v1/journal.
func WithJournal(j *journal.Journal) Option {
	return func(ws *WebServer) { ws.journal = j }
}

// NewWebServer creates a web server bound to eng.
func NewWebServer(eng *engine.Engine, cfg WebConfig, opts ...Option) *WebServer {
	ws := &WebServer{
		eng:       eng,
		mux:       http.NewServeMux(),
		auth:      NewAuthService(cfg.JWTSecret, cfg.AccessKey, cfg.JWTExpiry),
		rl:        newRateLimiter(cfg.RateLimit, cfg.RateBurst),
		startTime: time.Now(),
		clients:   make(map[*wsConn]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(cfg.CORSOrigins, r.Header.Get("Origin"))
			},
		},
	}
	for _, o := range opts {
		o(ws)
	}
	ws.metrics = NewMetrics(eng, ws.startTime)
	ws.metrics.Attach(eng.Bus())
	ws.registerRoutes(cfg)
	return ws
}

// Auth returns the auth service.
func (ws *WebServer) Auth() *AuthService { return ws.auth }

// Handler returns the root handler with middleware applied.
func (ws *WebServer) Handler() http.Handler { return ws.httpSrv.Handler }

func (ws *WebServer) registerRoutes(cfg WebConfig) {
	// CORS -> rate limit -> mux
	handler := http.Handler(ws.mux)
	handler = rateLimitMiddleware(ws.rl, handler)
	handler = corsMiddleware(cfg.CORSOrigins, handler)

	ws.httpSrv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ws.mux.HandleFunc("GET /ws", ws.handleWebSocket)

	ws.mux.HandleFunc("POST /api/v1/auth/login", ws.handleAuthLogin)
	ws.mux.HandleFunc("POST /api/v1/auth/refresh", ws.handleAuthRefresh)

	ws.RegisterRESTRoutes()

	ws.mux.HandleFunc("GET /health", ws.handleHealth)
	ws.mux.Handle("GET /metrics", ws.metrics.Handler())
}

// Start listens until Stop. It serves HTTPS when TLS is configured and
// falls back to plain HTTP otherwise.
func (ws *WebServer) Start(cfg WebConfig) error {
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			ws.rl.cleanup()
		}
	}()

	if cfg.Domain != "" || (cfg.CertFile != "" && cfg.KeyFile != "") || cfg.CertDir != "" {
		result, err := SetupTLS(TLSOptions{
			Domain:   cfg.Domain,
			CertFile: cfg.CertFile,
			KeyFile:  cfg.KeyFile,
			CertDir:  cfg.CertDir,
		})
		if err != nil {
			log.Printf("web: TLS setup failed (%v), falling back to HTTP", err)
		} else {
			ws.httpSrv.TLSConfig = result.Config
			if result.Challenge != nil {
				go func() {
					acme := &http.Server{Addr: ":80", Handler: result.Challenge, ReadHeaderTimeout: 10 * time.Second}
					log.Printf("web: ACME HTTP challenge listener on :80")
					if err := acme.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						log.Printf("web: ACME listener error: %v", err)
					}
				}()
			}
			log.Printf("web: listening on %s (HTTPS)", ws.httpSrv.Addr)
			if err := ws.httpSrv.ListenAndServeTLS("", ""); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}
	}

	log.Printf("web: listening on %s (HTTP)", ws.httpSrv.Addr)
	if err := ws.httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop closes WebSocket clients and shuts the listener down.
func (ws *WebServer) Stop(ctx context.Context) error {
	ws.mu.Lock()
	for c := range ws.clients {
		c.conn.Close()
	}
	ws.mu.Unlock()
	return ws.httpSrv.Shutdown(ctx)
}

// --- WebSocket ---

// WSMessage is the JSON frame exchanged over /ws.
type WSMessage struct {
	Type    string         `json:"type"`
	Tick    int64          `json:"tick,omitempty"`
	Text    string         `json:"text,omitempty"`
	Command string         `json:"command,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	Event   *events.Event  `json:"event,omitempty"`
	Result  any            `json:"result,omitempty"`
}

type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
	addr string
}

func (wc *wsConn) sendJSON(msg WSMessage) error {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	wc.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return wc.conn.WriteJSON(msg)
}

// handleWebSocket streams bus events to the client and accepts command and
// chat frames. The token may come from the header or ?token=.
func (ws *WebServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	claims, err := ws.auth.ValidateToken(bearerToken(r))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("web: websocket upgrade error: %v", err)
		return
	}
	wc := &wsConn{conn: conn, addr: clientIP(r)}

	ws.mu.Lock()
	ws.clients[wc] = struct{}{}
	ws.mu.Unlock()
	ws.metrics.wsClients.Add(1)
	log.Printf("web: websocket open for %s from %s", claims.Operator, wc.addr)

	sub := events.NewChan(256)
	ws.eng.Bus().SubscribeGlobal(sub)

	wc.sendJSON(WSMessage{Type: "welcome", Text: VersionString(), Result: ws.eng.Snapshot()})

	go ws.wsWriteLoop(wc, sub)
	ws.wsReadLoop(wc)

	ws.eng.Bus().Unsubscribe(sub)
	sub.Close()
	ws.mu.Lock()
	delete(ws.clients, wc)
	ws.mu.Unlock()
	ws.metrics.wsClients.Add(-1)
	conn.Close()
	log.Printf("web: websocket closed from %s", wc.addr)
}

func (ws *WebServer) wsWriteLoop(wc *wsConn, sub *events.Chan) {
	for ev := range sub.C {
		frame := WSMessage{Type: ev.Type.String(), Tick: ev.Tick, Event: &ev}
		if err := wc.sendJSON(frame); err != nil {
			wc.conn.Close()
			return
		}
	}
}

func (ws *WebServer) wsReadLoop(wc *wsConn) {
	for {
		_, data, err := wc.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("web: websocket read error from %s: %v", wc.addr, err)
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			wc.sendJSON(WSMessage{Type: "error", Text: "Invalid JSON message"})
			continue
		}

		switch msg.Type {
		case "command":
			res := ws.eng.ExecCommand(msg.Command)
			wc.sendJSON(WSMessage{Type: "result", Command: msg.Command, Result: res})
		case "chat":
			m, err := ws.eng.SendChat(msg.Text)
			if err != nil {
				wc.sendJSON(WSMessage{Type: "error", Text: err.Error()})
				continue
			}
			wc.sendJSON(WSMessage{Type: "chat", Result: m})
		case "state":
			wc.sendJSON(WSMessage{Type: "state", Result: ws.eng.Snapshot()})
		default:
			wc.sendJSON(WSMessage{Type: "error", Text: fmt.Sprintf("Unknown message type: %s", msg.Type)})
		}
	}
}

// --- Auth HTTP handlers ---

func (ws *WebServer) handleAuthLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Operator  string `json:"operator"`
		AccessKey string `json:"accessKey"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	token, err := ws.auth.Login(req.Operator, req.AccessKey)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (ws *WebServer) handleAuthRefresh(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "authorization required")
		return
	}
	fresh, err := ws.auth.RefreshToken(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": fresh})
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        Version,
		"uptime_seconds": time.Since(ws.startTime).Seconds(),
		"phase":          ws.eng.Phase().String(),
	})
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
