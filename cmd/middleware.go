package main

import (
	"errors"
	"fmt"
	"net/http"

	"bountyWeb/internal/handlers"
	"bountyWeb/internal/models"
)

func secureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("X-Frame-Options", "deny")
		w.Header().Set("Referrer-Policy", "same-origin")
		next.ServeHTTP(w, r)
	})
}

func makeResponseJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func (app *application) logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		app.infoLog.Printf("%s - %s %s %s", r.RemoteAddr, r.Proto, r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func (app *application) recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				w.Header().Set("Connection", "close")
				app.serverError(w, fmt.Errorf("%s", err))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// resolveSession maps the session cookie to a stored session and its workflow
// controller. ok is false when the caller has no live session; err is set only
// for store failures.
func (app *application) resolveSession(r *http.Request) (*http.Request, bool, error) {
	cookie, err := r.Cookie(app.cfg.Session.CookieName)
	if err != nil {
		return r, false, nil
	}
	sessionID, err := app.tokens.Verify(cookie.Value)
	if err != nil {
		return r, false, nil
	}

	session, err := app.sessions.Get(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, models.ErrNoSession) || errors.Is(err, models.ErrTokenExpired) {
			app.registry.Drop(sessionID)
			return r, false, nil
		}
		return r, false, err
	}

	c, err := app.registry.Get(session.ID, session.AccessToken)
	if err != nil {
		return r, false, err
	}
	return r.WithContext(handlers.WithWorkflow(r.Context(), *session, c)), true, nil
}

func (app *application) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r, ok, err := app.resolveSession(r)
		switch {
		case err != nil:
			app.serverError(w, err)
		case !ok:
			app.unauthorized(w)
		default:
			next.ServeHTTP(w, r)
		}
	})
}

// optionalSession attaches the session when there is one and never rejects.
func (app *application) optionalSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r, _, err := app.resolveSession(r)
		if err != nil {
			app.errorLog.Printf("resolve session: %v", err)
		}
		next.ServeHTTP(w, r)
	})
}
