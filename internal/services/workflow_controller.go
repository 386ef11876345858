package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"bountyWeb/internal/fsm"
	"bountyWeb/internal/models"
)

// WorkflowDeps groups what every session controller shares.
type WorkflowDeps struct {
	Checkout   *CheckoutService
	Reconciler *Reconciler
	Logger     *slog.Logger
	// Checkout starts allowed per minute and burst, per session.
	CheckoutPerMinute int
	CheckoutBurst     int
	Now               func() time.Time
}

// Validate ensures required dependencies are provided.
func (d *WorkflowDeps) Validate() error {
	if d.Checkout == nil {
		return errors.New("workflow deps: Checkout is required")
	}
	if d.Reconciler == nil {
		return errors.New("workflow deps: Reconciler is required")
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return nil
}

// WorkflowController owns the payment workflow state of one session. Views
// read it through Status or Subscribe and never mutate it directly.
type WorkflowController struct {
	sessionID string
	api       GameAPI
	deps      WorkflowDeps
	limiter   *rate.Limiter
	logger    *slog.Logger

	mu       sync.Mutex
	snap     models.Snapshot
	subs     map[int]func(models.Snapshot)
	nextSub  int
	lastSeen time.Time
	running  int
}

func NewWorkflowController(deps WorkflowDeps, sessionID string, api GameAPI) (*WorkflowController, error) {
	if err := deps.Validate(); err != nil {
		return nil, err
	}
	if api == nil {
		return nil, fmt.Errorf("workflow controller: api is required")
	}
	var limiter *rate.Limiter
	if deps.CheckoutPerMinute > 0 {
		burst := deps.CheckoutBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(deps.CheckoutPerMinute)), burst)
	}
	now := deps.Now()
	return &WorkflowController{
		sessionID: sessionID,
		api:       api,
		deps:      deps,
		limiter:   limiter,
		logger:    deps.Logger.With("session", sessionID),
		snap: models.Snapshot{
			State:            fsm.StateIdle,
			SolvedChallenges: []int64{},
			UpdatedAt:        now,
		},
		subs:     make(map[int]func(models.Snapshot)),
		lastSeen: now,
	}, nil
}

func (c *WorkflowController) SessionID() string { return c.sessionID }

// Status returns a copy of the current snapshot.
func (c *WorkflowController) Status() models.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSeen = c.deps.Now()
	return c.copyLocked()
}

func (c *WorkflowController) copyLocked() models.Snapshot {
	out := c.snap
	out.SolvedChallenges = slices.Clone(c.snap.SolvedChallenges)
	if c.snap.LastOutcome != nil {
		last := *c.snap.LastOutcome
		out.LastOutcome = &last
	}
	return out
}

// Subscribe registers fn for every snapshot change. The returned func
// unregisters it.
func (c *WorkflowController) Subscribe(fn func(models.Snapshot)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// update mutates the snapshot under lock and notifies subscribers outside it.
func (c *WorkflowController) update(mutate func(s *models.Snapshot)) {
	c.mu.Lock()
	mutate(&c.snap)
	now := c.deps.Now()
	c.snap.UpdatedAt = now
	c.lastSeen = now
	snap := c.copyLocked()
	subs := make([]func(models.Snapshot), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}

func (c *WorkflowController) StartSecretSubmission(ctx context.Context, challengeID int64, secret string) (models.Navigation, error) {
	return c.startCheckout("Unable to start payment for secret submission", func() (models.Navigation, error) {
		return c.deps.Checkout.StartSecretSubmission(ctx, c.api, c.sessionID, challengeID, secret)
	})
}

func (c *WorkflowController) StartCreditPurchase(ctx context.Context, credits int64) (models.Navigation, error) {
	return c.startCheckout("Unable to start credit purchase", func() (models.Navigation, error) {
		return c.deps.Checkout.StartCreditPurchase(ctx, c.api, c.sessionID, credits)
	})
}

func (c *WorkflowController) startCheckout(fallback string, start func() (models.Navigation, error)) (models.Navigation, error) {
	if c.limiter != nil && !c.limiter.Allow() {
		return models.Navigation{}, models.ErrRateLimited
	}
	c.update(func(s *models.Snapshot) {
		s.Busy = true
		s.Message = ""
		s.Error = ""
	})
	nav, err := start()
	c.update(func(s *models.Snapshot) {
		s.Busy = false
		if err != nil {
			s.Error = models.UserMessage(err, fallback)
		}
	})
	return nav, err
}

// Reconcile resolves a checkout return URL and applies the outcome to the
// session state. A cancelled run leaves the state as it was.
func (c *WorkflowController) Reconcile(ctx context.Context, returnURL string, challengeID int64) models.Resolution {
	return c.resolve(ctx, func(req ReconcileRequest) (models.Resolution, error) {
		req.ReturnURL = returnURL
		req.ChallengeID = challengeID
		return c.deps.Reconciler.Reconcile(ctx, req), nil
	})
}

// Retry resumes the intent still stored for this session, if any.
func (c *WorkflowController) Retry(ctx context.Context) (models.Resolution, error) {
	var retryErr error
	res := c.resolve(ctx, func(req ReconcileRequest) (models.Resolution, error) {
		res, err := c.deps.Reconciler.Retry(ctx, req)
		retryErr = err
		return res, err
	})
	return res, retryErr
}

func (c *WorkflowController) resolve(ctx context.Context, run func(ReconcileRequest) (models.Resolution, error)) models.Resolution {
	c.mu.Lock()
	before := c.copyLocked()
	c.running++
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.running--
		c.mu.Unlock()
	}()

	req := ReconcileRequest{
		SessionID: c.sessionID,
		API:       c.api,
		Progress: func(state, message string, _ int) {
			c.update(func(s *models.Snapshot) {
				s.State = state
				s.Busy = true
				s.Error = ""
				if message != "" {
					s.Message = message
				}
			})
		},
	}

	res, err := run(req)
	if err != nil {
		c.logger.Error("resume workflow failed", "err", err)
		c.update(func(s *models.Snapshot) {
			s.State = fsm.StateIdle
			s.Busy = false
			s.Error = models.UserMessage(err, "Unable to resume payment")
		})
		return res
	}

	switch res.Outcome {
	case models.OutcomeNone:
		if res.Message != "" {
			c.update(func(s *models.Snapshot) { s.Message = res.Message })
		}
	case models.OutcomeCanceled:
		c.update(func(s *models.Snapshot) {
			s.State = before.State
			s.Busy = before.Busy
			s.Message = before.Message
			s.Error = before.Error
		})
	default:
		c.apply(res)
	}
	return res
}

func (c *WorkflowController) apply(res models.Resolution) {
	c.update(func(s *models.Snapshot) {
		s.State = fsm.StateDone
		s.Busy = false
		s.Message = res.Message
		s.Error = ""
		last := res
		s.LastOutcome = &last

		if res.Outcome == models.OutcomeSuccess {
			if res.Kind == models.IntentSecretSubmission && res.IsCorrect && !slices.Contains(s.SolvedChallenges, res.ChallengeID) {
				s.SolvedChallenges = append(s.SolvedChallenges, res.ChallengeID)
				s.TotalEarningsCents += res.BountyCents
			}
			if res.Kind == models.IntentCreditPurchase && res.Balance != nil {
				s.BalanceCredits = *res.Balance
			}
		}
		if err := res.Err(); err != nil {
			s.Error = models.UserMessage(err, res.Message)
		}
	})
}

// RefreshBalance reloads the credit balance from the backend.
func (c *WorkflowController) RefreshBalance(ctx context.Context) (int64, error) {
	balance, err := c.api.GetCreditBalance(ctx)
	if err != nil {
		c.update(func(s *models.Snapshot) {
			s.Error = models.UserMessage(err, "Unable to load credit balance")
		})
		return 0, err
	}
	c.update(func(s *models.Snapshot) { s.BalanceCredits = balance.BalanceCredits })
	return balance.BalanceCredits, nil
}

// idleSince reports when the controller was last used and whether a run is
// still in flight.
func (c *WorkflowController) idleSince() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen, c.running > 0
}
