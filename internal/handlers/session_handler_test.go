package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"

	"bountyWeb/internal/models"
	"bountyWeb/internal/repositories"
	"bountyWeb/internal/services"
	"bountyWeb/utils"
)

func newSessionHandler(t *testing.T, now time.Time) (*SessionHandler, *repositories.MemorySessionStore) {
	t.Helper()
	tokens, err := utils.NewManager("cookie-secret")
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	sessions := repositories.NewMemorySessionStore()
	registry := services.NewWorkflowRegistry(func(string, string) (*services.WorkflowController, error) {
		return nil, nil
	}, time.Minute)
	return &SessionHandler{
		Sessions:   sessions,
		Intents:    repositories.NewMemoryIntentStore(),
		Registry:   registry,
		Tokens:     tokens,
		Logger:     quietLogger(),
		CookieName: "bb_session",
		MaxTTL:     24 * time.Hour,
		Now:        func() time.Time { return now },
	}, sessions
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	return signedTokenFor(t, "7", exp)
}

func signedTokenFor(t *testing.T, subject string, exp time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.StandardClaims{Subject: subject, ExpiresAt: exp.Unix()}).SignedString([]byte("backend"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func TestSessionHandler_CreateSession(t *testing.T) {
	now := time.Now()
	h, sessions := newSessionHandler(t, now)
	exp := now.Add(time.Hour).Truncate(time.Second)

	body := `{"access_token":"` + signedToken(t, exp) + `"}`
	rec := httptest.NewRecorder()
	h.CreateSession(rec, httptest.NewRequest(http.MethodPost, "/session", strings.NewReader(body)))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != "bb_session" || !cookies[0].HttpOnly {
		t.Fatalf("cookie mismatch: %+v", cookies)
	}
	id, err := h.Tokens.Verify(cookies[0].Value)
	if err != nil {
		t.Fatalf("cookie does not verify: %v", err)
	}
	session, err := sessions.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("session not stored: %v", err)
	}
	if !session.ExpiresAt.Equal(exp) {
		t.Errorf("session should expire with the token: %v vs %v", session.ExpiresAt, exp)
	}
}

func TestSessionHandler_RejectsExpiredToken(t *testing.T) {
	now := time.Now()
	h, _ := newSessionHandler(t, now)

	body := `{"access_token":"` + signedToken(t, now.Add(-time.Minute)) + `"}`
	rec := httptest.NewRecorder()
	h.CreateSession(rec, httptest.NewRequest(http.MethodPost, "/session", strings.NewReader(body)))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Error("no cookie may be set for an expired token")
	}
}

func TestSessionHandler_DeleteSessionClearsState(t *testing.T) {
	now := time.Now()
	h, sessions := newSessionHandler(t, now)
	ctx := context.Background()
	session := models.Session{ID: "s1", AccessToken: "tok", ExpiresAt: now.Add(time.Hour)}
	_ = sessions.Create(ctx, session)
	_ = h.Intents.Save(ctx, "s1", models.PendingIntent{Kind: models.IntentCreditPurchase, ReferenceID: 9, Payload: "5", CreatedAt: now})

	req := httptest.NewRequest(http.MethodDelete, "/session", nil)
	req = req.WithContext(WithWorkflow(req.Context(), session, nil))
	rec := httptest.NewRecorder()
	h.DeleteSession(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if _, err := sessions.Get(ctx, "s1"); err == nil {
		t.Error("session should be deleted")
	}
	if intent, _ := h.Intents.Load(ctx, "s1"); intent != nil {
		t.Error("intent should be cleared")
	}
}

func TestSessionHandler_CarryOverPendingIntent(t *testing.T) {
	tests := []struct {
		name      string
		owner     string
		subject   string
		wantMoved bool
	}{
		{name: "same user", owner: "7", subject: "7", wantMoved: true},
		{name: "other user", owner: "7", subject: "999"},
		{name: "unknown owner", owner: "", subject: "7"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			now := time.Now()
			h, sessions := newSessionHandler(t, now)
			ctx := context.Background()
			_ = sessions.Create(ctx, models.Session{ID: "old-session", AccessToken: "tok", Subject: tc.owner, ExpiresAt: now.Add(time.Hour)})
			intent := models.PendingIntent{Kind: models.IntentSecretSubmission, ReferenceID: 42, ChallengeID: 7, Payload: "A_SECRET", CreatedAt: now.UTC(), Owner: tc.owner}
			if err := h.Intents.Save(ctx, "old-session", intent); err != nil {
				t.Fatalf("save: %v", err)
			}

			body := `{"access_token":"` + signedTokenFor(t, tc.subject, now.Add(time.Hour)) + `"}`
			req := httptest.NewRequest(http.MethodPost, "/session", strings.NewReader(body))
			req.AddCookie(&http.Cookie{Name: "bb_session", Value: h.Tokens.Sign("old-session")})
			rec := httptest.NewRecorder()
			h.CreateSession(rec, req)

			if rec.Code != http.StatusCreated {
				t.Fatalf("expected 201, got %d", rec.Code)
			}
			newID, err := h.Tokens.Verify(rec.Result().Cookies()[0].Value)
			if err != nil {
				t.Fatalf("verify: %v", err)
			}
			session, err := sessions.Get(ctx, newID)
			if err != nil {
				t.Fatalf("new session: %v", err)
			}
			if session.Subject != tc.subject {
				t.Errorf("subject: got %q, want %q", session.Subject, tc.subject)
			}

			moved, _ := h.Intents.Load(ctx, newID)
			if tc.wantMoved && (moved == nil || moved.ReferenceID != 42) {
				t.Fatalf("intent not carried over: %+v", moved)
			}
			if !tc.wantMoved && moved != nil {
				t.Fatalf("intent handed to another user: %+v", moved)
			}
			if old, _ := h.Intents.Load(ctx, "old-session"); old != nil {
				t.Error("old session intent should be cleared")
			}
			if _, err := sessions.Get(ctx, "old-session"); err == nil {
				t.Error("old session should be deleted")
			}
		})
	}
}
