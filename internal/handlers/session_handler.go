package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"bountyWeb/internal/models"
	"bountyWeb/internal/repositories"
	"bountyWeb/internal/services"
	"bountyWeb/utils"
)

type SessionHandler struct {
	Sessions repositories.SessionStore
	Intents  repositories.IntentStore
	Registry *services.WorkflowRegistry
	Tokens   *utils.Manager
	Logger   *slog.Logger

	CookieName string
	Secure     bool
	MaxTTL     time.Duration
	Now        func() time.Time
}

func (h *SessionHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// CreateSession binds the backend access token to a new session cookie. The
// session never outlives the token's exp claim.
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	token := strings.TrimSpace(req.AccessToken)
	if token == "" {
		writeError(w, &models.ValidationError{Field: "access_token", Reason: "is required"}, "")
		return
	}

	now := h.now()
	expiresAt := now.Add(h.MaxTTL)
	if exp, ok := utils.TokenExpiry(token); ok {
		if !exp.After(now) {
			writeError(w, models.ErrTokenExpired, "")
			return
		}
		if exp.Before(expiresAt) {
			expiresAt = exp
		}
	}

	subject, _ := utils.TokenSubject(token)
	session := models.Session{ID: h.Tokens.NewSessionID(), AccessToken: token, Subject: subject, ExpiresAt: expiresAt}
	if err := h.Sessions.Create(r.Context(), session); err != nil {
		if h.Logger != nil {
			h.Logger.Error("create session failed", "err", err)
		}
		writeError(w, err, "Unable to start session")
		return
	}

	h.carryOverIntent(r, session)

	http.SetCookie(w, &http.Cookie{
		Name:     h.CookieName,
		Value:    h.Tokens.Sign(session.ID),
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   h.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusCreated, map[string]any{"expires_at": expiresAt.UTC()})
}

// carryOverIntent moves a pending intent left under the previous session
// cookie to the new session, so a checkout paid before re-login still resumes.
// Only an intent started by the same token subject moves; any other is
// discarded together with the previous session.
func (h *SessionHandler) carryOverIntent(r *http.Request, session models.Session) {
	cookie, err := r.Cookie(h.CookieName)
	if err != nil {
		return
	}
	oldID, err := h.Tokens.Verify(cookie.Value)
	if err != nil || oldID == session.ID {
		return
	}
	ctx := r.Context()
	intent, err := h.Intents.Load(ctx, oldID)
	if err != nil || intent == nil {
		return
	}
	if intent.Owner != "" && intent.Owner == session.Subject {
		if err := h.Intents.Save(ctx, session.ID, *intent); err != nil {
			if h.Logger != nil {
				h.Logger.Error("carry over pending intent", "err", err)
			}
			return
		}
	} else if h.Logger != nil {
		h.Logger.Warn("pending intent of another user discarded", "kind", intent.Kind, "reference_id", intent.ReferenceID)
	}
	if err := h.Intents.Clear(ctx, oldID); err != nil && h.Logger != nil {
		h.Logger.Error("clear previous session intent", "err", err)
	}
	if err := h.Sessions.Delete(ctx, oldID); err != nil && h.Logger != nil {
		h.Logger.Error("delete previous session", "err", err)
	}
	h.Registry.Drop(oldID)
}

// DeleteSession drops the token, the pending intent and the controller.
func (h *SessionHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if session, ok := SessionFrom(r.Context()); ok {
		ctx := r.Context()
		if err := h.Intents.Clear(ctx, session.ID); err != nil && h.Logger != nil {
			h.Logger.Error("clear intent on logout", "err", err)
		}
		if err := h.Sessions.Delete(ctx, session.ID); err != nil && !errors.Is(err, models.ErrNoSession) && h.Logger != nil {
			h.Logger.Error("delete session", "err", err)
		}
		h.Registry.Drop(session.ID)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     h.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}
