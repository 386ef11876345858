package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"bountyWeb/internal/models"
)

// HistoryReader lists journaled reconciliations for a session.
type HistoryReader interface {
	ListBySession(ctx context.Context, sessionID string, limit int) ([]models.Resumption, error)
}

type WorkflowHandler struct {
	History HistoryReader
}

type reconcileRequest struct {
	ReturnURL   string `json:"return_url"`
	ChallengeID int64  `json:"challenge_id"`
}

// Reconcile runs for as long as the request lives; a client that goes away
// cancels polling.
func (h *WorkflowHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	c, ok := controller(w, r)
	if !ok {
		return
	}
	var req reconcileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	res := c.Reconcile(r.Context(), req.ReturnURL, req.ChallengeID)
	writeJSON(w, http.StatusOK, res)
}

func (h *WorkflowHandler) Retry(w http.ResponseWriter, r *http.Request) {
	c, ok := controller(w, r)
	if !ok {
		return
	}
	res, err := c.Retry(r.Context())
	if err != nil {
		writeError(w, err, "Unable to resume payment")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *WorkflowHandler) Status(w http.ResponseWriter, r *http.Request) {
	c, ok := controller(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, c.Status())
}

func (h *WorkflowHandler) RefreshBalance(w http.ResponseWriter, r *http.Request) {
	c, ok := controller(w, r)
	if !ok {
		return
	}
	balance, err := c.RefreshBalance(r.Context())
	if err != nil {
		writeError(w, err, "Unable to load credit balance")
		return
	}
	writeJSON(w, http.StatusOK, models.CreditBalance{BalanceCredits: balance})
}

func (h *WorkflowHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	session, ok := SessionFrom(r.Context())
	if !ok {
		writeError(w, models.ErrNoSession, "")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	rows, err := h.History.ListBySession(r.Context(), session.ID, limit)
	if err != nil {
		writeError(w, err, "Unable to load payment history")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}
