package handlers

import (
	"context"
	"net/http"

	"bountyWeb/internal/models"
	"bountyWeb/internal/services"
)

type ctxKey int

const (
	sessionKey ctxKey = iota
	controllerKey
)

// WithWorkflow stores the caller's session and controller in ctx.
func WithWorkflow(ctx context.Context, session models.Session, c *services.WorkflowController) context.Context {
	ctx = context.WithValue(ctx, sessionKey, session)
	return context.WithValue(ctx, controllerKey, c)
}

func SessionFrom(ctx context.Context) (models.Session, bool) {
	s, ok := ctx.Value(sessionKey).(models.Session)
	return s, ok
}

func ControllerFrom(ctx context.Context) (*services.WorkflowController, bool) {
	c, ok := ctx.Value(controllerKey).(*services.WorkflowController)
	return c, ok && c != nil
}

// controller resolves the request's controller or answers 401.
func controller(w http.ResponseWriter, r *http.Request) (*services.WorkflowController, bool) {
	c, ok := ControllerFrom(r.Context())
	if !ok {
		writeError(w, models.ErrNoSession, "")
		return nil, false
	}
	return c, true
}
