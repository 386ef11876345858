package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"bountyWeb/internal/config"
	"bountyWeb/internal/handlers"
	"bountyWeb/internal/models"
	"bountyWeb/internal/repositories"
	"bountyWeb/utils"
)

func newTestApp(t *testing.T) *application {
	t.Helper()
	var cfg config.Config
	cfg.Server.AllowedOrigins = []string{"http://localhost:5173"}
	cfg.Backend.BaseURL = "http://127.0.0.1:1"
	cfg.Backend.Timeout = time.Second
	cfg.Workflow.PollInterval = time.Millisecond
	cfg.Workflow.MaxPollAttempts = 2
	cfg.Workflow.CentsPerCredit = 10
	cfg.Workflow.IntentTTL = time.Hour
	cfg.Workflow.IdleTTL = time.Minute
	cfg.Session.CookieName = "bb_session"
	cfg.Session.TTL = time.Hour

	tokens, err := utils.NewManager("test-secret")
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	discard := log.New(io.Discard, "", 0)
	app := &application{
		errorLog:    discard,
		infoLog:     discard,
		cfg:         cfg,
		sessions:    repositories.NewMemorySessionStore(),
		intents:     repositories.NewMemoryIntentStore(),
		markers:     repositories.NewMemoryMarkerStore(time.Hour),
		resumptions: repositories.NewResumptionRepository(nil, "pgx"),
		tokens:      tokens,
	}
	if err := app.buildWorkflow(); err != nil {
		t.Fatalf("build workflow: %v", err)
	}
	return app
}

func signIn(t *testing.T, app *application, id string) *http.Cookie {
	t.Helper()
	err := app.sessions.Create(context.Background(), models.Session{ID: id, AccessToken: "token", ExpiresAt: time.Now().Add(time.Hour)})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return &http.Cookie{Name: "bb_session", Value: app.tokens.Sign(id)}
}

func TestRequireSession(t *testing.T) {
	app := newTestApp(t)
	valid := signIn(t, app, "s1")

	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, ok := handlers.ControllerFrom(r.Context())
		if !ok {
			t.Error("controller missing from context")
			return
		}
		seen = c.SessionID()
		w.WriteHeader(http.StatusOK)
	})
	h := app.requireSession(next)

	tests := []struct {
		name   string
		cookie *http.Cookie
		want   int
	}{
		{"no cookie", nil, http.StatusUnauthorized},
		{"bad signature", &http.Cookie{Name: "bb_session", Value: "s1.deadbeef"}, http.StatusUnauthorized},
		{"unknown session", &http.Cookie{Name: "bb_session", Value: app.tokens.Sign("ghost")}, http.StatusUnauthorized},
		{"valid", valid, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/workflow/status", nil)
			if tt.cookie != nil {
				req.AddCookie(tt.cookie)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
	if seen != "s1" {
		t.Fatalf("expected controller for s1, got %q", seen)
	}
	if app.registry.Len() != 1 {
		t.Fatalf("expected one controller, got %d", app.registry.Len())
	}
}

func TestOptionalSessionLetsAnonymousThrough(t *testing.T) {
	app := newTestApp(t)
	called := false
	h := app.optionalSession(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if _, ok := handlers.SessionFrom(r.Context()); ok {
			t.Error("anonymous request should carry no session")
		}
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/session", nil))
	if !called {
		t.Fatal("handler not called")
	}
}

func TestExpireSessionDropsController(t *testing.T) {
	app := newTestApp(t)
	signIn(t, app, "s1")
	if _, err := app.registry.Get("s1", "token"); err != nil {
		t.Fatalf("registry get: %v", err)
	}

	app.expireSession("s1")

	if _, err := app.sessions.Get(context.Background(), "s1"); err == nil {
		t.Fatal("session should be deleted")
	}
	if app.registry.Len() != 0 {
		t.Fatalf("controller should be dropped, have %d", app.registry.Len())
	}
}

func TestWorkflowWebSocket_NoReference(t *testing.T) {
	app := newTestApp(t)
	cookie := signIn(t, app, "s1")

	srv := httptest.NewServer(app.routes())
	defer srv.Close()

	header := http.Header{}
	header.Set("Cookie", cookie.String())
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/workflow"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("dial: %v (resp %v)", err, resp)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]any{"return_url": "/challenges/7", "challenge_id": 7}); err != nil {
		t.Fatalf("write hello: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var first workflowFrame
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read first frame: %v", err)
	}
	if first.Type != "snapshot" || first.Snapshot == nil {
		t.Fatalf("expected initial snapshot, got %+v", first)
	}

	for i := 0; i < 5; i++ {
		var f workflowFrame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("read frame: %v", err)
		}
		if f.Type != "outcome" {
			continue
		}
		if f.Outcome == nil || f.Outcome.Outcome != models.OutcomeNone {
			t.Fatalf("expected none outcome, got %+v", f.Outcome)
		}
		return
	}
	t.Fatal("no outcome frame received")
}

func TestWorkflowWebSocket_RequiresSession(t *testing.T) {
	app := newTestApp(t)
	srv := httptest.NewServer(app.routes())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/workflow"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected handshake to fail without a session")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", resp)
	}
}
