package main

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"

	"bountyWeb/internal/handlers"
	"bountyWeb/internal/models"
)

const (
	readLimit          = 4 << 10
	readDeadline       = 120 * time.Second // extended by every pong
	writeDeadline      = 5 * time.Second
	pingInterval       = 15 * time.Second
	firstHelloDeadline = 30 * time.Second
	frameBuffer        = 16
)

// workflowFrame is one server push. Type is "snapshot" or "outcome".
type workflowFrame struct {
	Type     string             `json:"type"`
	Snapshot *models.Snapshot   `json:"snapshot,omitempty"`
	Outcome  *models.Resolution `json:"outcome,omitempty"`
}

func (app *application) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(app.cfg.Server.AllowedOrigins, origin)
		},
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
}

// WorkflowWebSocketHandler streams the session's workflow state. The first
// frame is {"return_url": "...", "challenge_id": n}; with a return URL the
// checkout return is reconciled and the socket closes after the outcome frame.
// Without one the socket keeps streaming snapshots until the client leaves.
func (app *application) WorkflowWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	c, ok := handlers.ControllerFrom(r.Context())
	if !ok {
		app.unauthorized(w)
		return
	}

	conn, err := app.upgrader().Upgrade(w, r, nil)
	if err != nil {
		app.errorLog.Printf("workflow ws upgrade: %v", err)
		return
	}
	defer conn.Close()

	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(firstHelloDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	var hello struct {
		ReturnURL   string `json:"return_url"`
		ChallengeID int64  `json:"challenge_id"`
	}
	if err := conn.ReadJSON(&hello); err != nil {
		app.errorLog.Printf("workflow ws hello: %v", err)
		_ = writeClose(conn, websocket.ClosePolicyViolation, "hello required")
		return
	}
	_ = conn.SetReadDeadline(time.Now().Add(readDeadline))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	frames := make(chan workflowFrame, frameBuffer)
	unsubscribe := c.Subscribe(func(s models.Snapshot) {
		select {
		case frames <- workflowFrame{Type: "snapshot", Snapshot: &s}:
		default:
		}
	})
	defer unsubscribe()

	// Nothing else is expected from the client; a failed read means it left
	// and any polling on its behalf stops.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	snap := c.Status()
	frames <- workflowFrame{Type: "snapshot", Snapshot: &snap}

	if hello.ReturnURL != "" {
		go func() {
			res := c.Reconcile(ctx, hello.ReturnURL, hello.ChallengeID)
			select {
			case frames <- workflowFrame{Type: "outcome", Outcome: &res}:
			case <-ctx.Done():
			}
		}()
	}

	app.writeFrames(ctx, conn, frames)
}

// writeFrames is the only writer on conn.
func (app *application) writeFrames(ctx context.Context, conn *websocket.Conn, frames <-chan workflowFrame) {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = writeClose(conn, websocket.CloseGoingAway, "closing")
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case f := <-frames:
			_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteJSON(f); err != nil {
				app.errorLog.Printf("workflow ws write: %v", err)
				return
			}
			if f.Type == "outcome" {
				_ = writeClose(conn, websocket.CloseNormalClosure, string(f.Outcome.Outcome))
				return
			}
		}
	}
}

func writeClose(conn *websocket.Conn, code int, reason string) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(writeDeadline),
	)
}
