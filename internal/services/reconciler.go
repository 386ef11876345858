package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"bountyWeb/internal/fsm"
	"bountyWeb/internal/models"
	"bountyWeb/internal/repositories"
)

// Journal records finished reconciliations. It may be nil.
type Journal interface {
	Record(ctx context.Context, rec models.Resumption) error
}

// ProgressFunc is told about state changes while a run is in flight.
type ProgressFunc func(state string, message string, polls int)

type ReconcilerConfig struct {
	Poll    PollConfig
	Journal Journal
	Logger  *slog.Logger
	Now     func() time.Time
}

type Reconciler struct {
	intents repositories.IntentStore
	markers repositories.MarkerStore
	journal Journal
	poll    PollConfig
	logger  *slog.Logger
	now     func() time.Time

	group   singleflight.Group
	mu      sync.Mutex
	flights map[string]*flight
}

// flight is one shared run. Its ctx is cancelled only after every caller
// waiting on it has gone.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

func NewReconciler(intents repositories.IntentStore, markers repositories.MarkerStore, cfg ReconcilerConfig) (*Reconciler, error) {
	if intents == nil || markers == nil {
		return nil, fmt.Errorf("reconciler: intent and marker stores are required")
	}
	if cfg.Poll.MaxAttempts <= 0 {
		return nil, fmt.Errorf("reconciler: max poll attempts must be positive")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Reconciler{
		intents: intents,
		markers: markers,
		journal: cfg.Journal,
		poll:    cfg.Poll,
		logger:  logger,
		now:     now,
		flights: make(map[string]*flight),
	}, nil
}

// ReconcileRequest is one view's attempt to finish a checkout it returned from.
type ReconcileRequest struct {
	SessionID string
	API       GameAPI
	ReturnURL string
	// ChallengeID is the challenge the view is showing; zero means take it
	// from the return URL path.
	ChallengeID int64
	Progress    ProgressFunc
}

// ReturnTarget is what a return URL refers to.
type ReturnTarget struct {
	Kind        models.IntentKind
	ReferenceID int64
	ChallengeID int64
	ReplaceURL  string
}

// ParseReturnURL reads payment_id or credit_purchase_id from a checkout return
// URL. Non-numeric and non-positive values count as absent. ReplaceURL is
// always the URL with both reference parameters removed.
func ParseReturnURL(raw string) (ReturnTarget, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ReturnTarget{}, false
	}
	q := u.Query()
	target := ReturnTarget{ChallengeID: challengeFromPath(u.Path)}

	kinds := []models.IntentKind{models.IntentSecretSubmission, models.IntentCreditPurchase}
	for _, kind := range kinds {
		if id, ok := positiveParam(q, kind.ReferenceParam()); ok {
			target.Kind = kind
			target.ReferenceID = id
			break
		}
	}
	if target.Kind == models.IntentCreditPurchase {
		target.ChallengeID = 0
	}

	for _, kind := range kinds {
		q.Del(kind.ReferenceParam())
	}
	u.RawQuery = q.Encode()
	target.ReplaceURL = u.String()

	return target, target.ReferenceID > 0
}

func positiveParam(q url.Values, name string) (int64, bool) {
	v := strings.TrimSpace(q.Get(name))
	if v == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// challengeFromPath finds /challenges/{id} anywhere in the path.
func challengeFromPath(p string) int64 {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	for i := 0; i+1 < len(parts); i++ {
		if parts[i] != "challenges" {
			continue
		}
		if id, err := strconv.ParseInt(parts[i+1], 10, 64); err == nil && id > 0 {
			return id
		}
	}
	return 0
}

func markerReference(kind models.IntentKind, ref int64) string {
	return string(kind) + ":" + strconv.FormatInt(ref, 10)
}

// Reconcile detects a returning payment, waits for its terminal status and
// runs the deferred action at most once per session and reference.
func (r *Reconciler) Reconcile(ctx context.Context, req ReconcileRequest) models.Resolution {
	target, ok := ParseReturnURL(req.ReturnURL)
	if !ok {
		return models.Resolution{Outcome: models.OutcomeNone, ReplaceURL: target.ReplaceURL}
	}
	if target.Kind == models.IntentSecretSubmission && req.ChallengeID > 0 {
		target.ChallengeID = req.ChallengeID
	}
	return r.coalesce(ctx, req, target)
}

// Retry re-runs polling and reconciliation for the intent stored in the session.
func (r *Reconciler) Retry(ctx context.Context, req ReconcileRequest) (models.Resolution, error) {
	intent, err := r.intents.Load(ctx, req.SessionID)
	if err != nil {
		return models.Resolution{}, err
	}
	if intent == nil {
		return models.Resolution{Outcome: models.OutcomeNone, Message: "Nothing to resume"}, nil
	}
	target := ReturnTarget{Kind: intent.Kind, ReferenceID: intent.ReferenceID, ChallengeID: intent.ChallengeID}
	return r.coalesce(ctx, req, target), nil
}

func (r *Reconciler) coalesce(ctx context.Context, req ReconcileRequest, target ReturnTarget) models.Resolution {
	key := req.SessionID + "|" + markerReference(target.Kind, target.ReferenceID)
	f := r.join(ctx, key)
	ch := r.group.DoChan(key, func() (any, error) {
		return r.run(f.ctx, req, target), nil
	})

	var res models.Resolution
	select {
	case out := <-ch:
		r.leave(key, f)
		res = out.Val.(models.Resolution)
	case <-ctx.Done():
		if r.leave(key, f) {
			// Last caller: the shared run is cancelled now, wait for it to unwind.
			res = (<-ch).Val.(models.Resolution)
		} else {
			res = models.Resolution{
				Outcome:     models.OutcomeCanceled,
				Kind:        target.Kind,
				ReferenceID: target.ReferenceID,
				ChallengeID: target.ChallengeID,
			}
		}
	}
	res.ReplaceURL = target.ReplaceURL
	return res
}

func (r *Reconciler) join(ctx context.Context, key string) *flight {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.flights[key]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		r.flights[key] = f
	}
	f.waiters++
	return f
}

// leave reports whether the caller was the last one waiting on f.
func (r *Reconciler) leave(key string, f *flight) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return false
	}
	f.cancel()
	if r.flights[key] == f {
		delete(r.flights, key)
	}
	return true
}

func (r *Reconciler) run(ctx context.Context, req ReconcileRequest, target ReturnTarget) models.Resolution {
	m := fsm.New()
	started := r.now()
	logger := r.logger.With("op", "Reconcile", "session", req.SessionID, "kind", target.Kind, "reference_id", target.ReferenceID)
	res := models.Resolution{
		Kind:        target.Kind,
		ReferenceID: target.ReferenceID,
		ChallengeID: target.ChallengeID,
	}
	step := func(state string) {
		if err := m.Apply(state); err != nil {
			logger.Error("workflow transition", "err", err)
		}
	}
	step(fsm.StateDetecting)
	defer func() {
		step(fsm.StateDone)
		r.record(ctx, req.SessionID, res, started)
		logger.Info("reconcile finished", "outcome", res.Outcome, "status", res.FinalStatus, "polls", res.Polls, "states", strings.Join(m.History(), ">"))
	}()

	marker := markerReference(target.Kind, target.ReferenceID)
	claimed, err := r.markers.Claim(ctx, req.SessionID, marker)
	if err != nil {
		logger.Error("claim marker failed", "err", err)
		res.Outcome = models.OutcomeFailure
		res.Message = statusFallback(target.Kind)
		return res
	}
	if !claimed {
		res.Outcome = models.OutcomeDuplicate
		res.Message = "This payment has already been processed"
		return res
	}
	release := func() {
		if err := r.markers.Release(context.WithoutCancel(ctx), req.SessionID, marker); err != nil {
			logger.Error("release marker failed", "err", err)
		}
	}

	step(fsm.StatePolling)
	progress(req, fsm.StatePolling, waitingMessage(target.Kind), 0)

	var creditsPurchased int64
	fetch := func(ctx context.Context) (string, error) {
		if target.Kind == models.IntentCreditPurchase {
			st, err := req.API.GetCreditPurchase(ctx, target.ReferenceID)
			if err != nil {
				return "", err
			}
			creditsPurchased = st.CreditsPurchased
			return st.Status, nil
		}
		st, err := req.API.GetPayment(ctx, target.ReferenceID)
		if err != nil {
			return "", err
		}
		return st.Status, nil
	}
	status, polls, err := Poll(ctx, r.poll, fetch, func(attempt int, _ string) {
		progress(req, fsm.StatePolling, waitingMessage(target.Kind), attempt)
	})
	res.Polls = polls
	res.FinalStatus = status

	switch {
	case ctx.Err() != nil:
		release()
		res.Outcome = models.OutcomeCanceled
		return res
	case errors.Is(err, models.ErrPollTimeout):
		release()
		res.Outcome = models.OutcomeTimeout
		res.Message = timeoutMessage(target.Kind)
		return res
	case err != nil:
		logger.Warn("status fetch failed", "err", err)
		release()
		res.Outcome = models.OutcomeFailure
		res.Message = models.UserMessage(err, statusFallback(target.Kind))
		return res
	}

	if status != models.StatusPaid {
		r.clearOwned(ctx, req.SessionID, target, logger)
		res.Outcome = models.OutcomeFailure
		res.Message = endedMessage(target.Kind, status)
		return res
	}

	step(fsm.StateReconciling)
	progress(req, fsm.StateReconciling, "", polls)

	intent, err := r.intents.Load(ctx, req.SessionID)
	if err != nil {
		logger.Error("load pending intent failed", "err", err)
		release()
		res.Outcome = models.OutcomeFailure
		res.Message = deferredFallback(target.Kind)
		return res
	}
	if !intentMatches(intent, target) {
		logger.Warn("no matching pending intent")
		r.clearStale(ctx, req.SessionID, intent, target, logger)
		res.Outcome = models.OutcomeMismatch
		res.Message = mismatchMessage(target.Kind)
		return res
	}

	// The deferred action is not abandoned half way once the payment is
	// known to be paid.
	actx := context.WithoutCancel(ctx)
	var deferredErr error
	switch target.Kind {
	case models.IntentSecretSubmission:
		deferredErr = r.finishSecretSubmission(actx, req.API, intent, &res, logger)
	case models.IntentCreditPurchase:
		if creditsPurchased <= 0 {
			creditsPurchased, _ = strconv.ParseInt(intent.Payload, 10, 64)
		}
		deferredErr = r.finishCreditPurchase(actx, req.API, creditsPurchased, &res)
	}
	if deferredErr != nil {
		logger.Warn("deferred action failed", "err", deferredErr)
		res.Outcome = models.OutcomeFailure
		res.Message = models.UserMessage(deferredErr, deferredFallback(target.Kind))
		if models.IsRetriable(deferredErr) {
			release()
		} else {
			r.clear(actx, req.SessionID, logger)
		}
		return res
	}
	r.clear(actx, req.SessionID, logger)
	res.Outcome = models.OutcomeSuccess
	return res
}

func (r *Reconciler) finishSecretSubmission(ctx context.Context, api GameAPI, intent *models.PendingIntent, res *models.Resolution, logger *slog.Logger) error {
	var bounty int64
	if ch, err := api.GetChallenge(ctx, intent.ChallengeID); err != nil {
		logger.Warn("load challenge bounty failed", "challenge_id", intent.ChallengeID, "err", err)
	} else {
		bounty = ch.PrizePoolCents
	}

	out, err := api.SubmitAttempt(ctx, models.AttemptRequest{
		ChallengeID:     intent.ChallengeID,
		PaymentID:       intent.ReferenceID,
		SubmittedSecret: intent.Payload,
	})
	if err != nil {
		return err
	}
	res.IsCorrect = out.Attempt.IsCorrect
	if res.IsCorrect {
		res.BountyCents = bounty
	}
	res.Message = out.Message
	return nil
}

func (r *Reconciler) finishCreditPurchase(ctx context.Context, api GameAPI, credits int64, res *models.Resolution) error {
	balance, err := api.GetCreditBalance(ctx)
	if err != nil {
		return err
	}
	res.Credits = credits
	res.Balance = &balance.BalanceCredits
	res.Message = fmt.Sprintf("Credits added successfully (+%d credits).", credits)
	return nil
}

func intentMatches(intent *models.PendingIntent, target ReturnTarget) bool {
	if intent == nil || intent.Kind != target.Kind || intent.ReferenceID != target.ReferenceID {
		return false
	}
	if target.Kind == models.IntentSecretSubmission {
		return target.ChallengeID > 0 && intent.ChallengeID == target.ChallengeID
	}
	return true
}

// clearOwned drops the stored intent only if it belongs to target.
func (r *Reconciler) clearOwned(ctx context.Context, sessionID string, target ReturnTarget, logger *slog.Logger) {
	intent, err := r.intents.Load(ctx, sessionID)
	if err != nil {
		logger.Error("load pending intent failed", "err", err)
		return
	}
	if intent == nil || intent.Kind != target.Kind || intent.ReferenceID != target.ReferenceID {
		return
	}
	r.clear(ctx, sessionID, logger)
}

// clearStale drops an intent that cannot belong to a later checkout than
// target: same kind and a reference no newer than the returned one.
func (r *Reconciler) clearStale(ctx context.Context, sessionID string, intent *models.PendingIntent, target ReturnTarget, logger *slog.Logger) {
	if intent == nil || intent.Kind != target.Kind || intent.ReferenceID > target.ReferenceID {
		return
	}
	r.clear(ctx, sessionID, logger)
}

func (r *Reconciler) clear(ctx context.Context, sessionID string, logger *slog.Logger) {
	if err := r.intents.Clear(ctx, sessionID); err != nil {
		logger.Error("clear pending intent failed", "err", err)
	}
}

func (r *Reconciler) record(ctx context.Context, sessionID string, res models.Resolution, started time.Time) {
	if r.journal == nil || res.Outcome == models.OutcomeNone {
		return
	}
	rec := models.Resumption{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		Kind:        res.Kind,
		ReferenceID: res.ReferenceID,
		ChallengeID: res.ChallengeID,
		Outcome:     res.Outcome,
		FinalStatus: res.FinalStatus,
		Message:     res.Message,
		Polls:       res.Polls,
		StartedAt:   started.UTC(),
		FinishedAt:  r.now().UTC(),
	}
	if err := r.journal.Record(context.WithoutCancel(ctx), rec); err != nil {
		r.logger.Error("record resumption failed", "session", sessionID, "err", err)
	}
}

func progress(req ReconcileRequest, state, message string, polls int) {
	if req.Progress != nil {
		req.Progress(state, message, polls)
	}
}

func waitingMessage(kind models.IntentKind) string {
	if kind == models.IntentCreditPurchase {
		return "Waiting for credit purchase confirmation..."
	}
	return "Waiting for payment confirmation..."
}

func timeoutMessage(kind models.IntentKind) string {
	if kind == models.IntentCreditPurchase {
		return "Timed out waiting for credit purchase confirmation"
	}
	return "Timed out waiting for payment confirmation"
}

func endedMessage(kind models.IntentKind, status string) string {
	if kind == models.IntentCreditPurchase {
		return "Credit purchase ended with status: " + status
	}
	return "Payment ended with status: " + status
}

func mismatchMessage(kind models.IntentKind) string {
	if kind == models.IntentCreditPurchase {
		return "No pending credit purchase found for this payment"
	}
	return "No pending secret submission found for this payment"
}

func statusFallback(kind models.IntentKind) string {
	if kind == models.IntentCreditPurchase {
		return "Unable to check credit purchase status"
	}
	return "Unable to check payment status"
}

func deferredFallback(kind models.IntentKind) string {
	if kind == models.IntentCreditPurchase {
		return "Failed to confirm credit purchase"
	}
	return "Failed to finalize paid attempt"
}
