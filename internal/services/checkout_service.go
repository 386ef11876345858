package services

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"bountyWeb/internal/models"
	"bountyWeb/internal/repositories"
)

type CheckoutConfig struct {
	CentsPerCredit int64
	// Sessions, when set, supplies the subject stamped on saved intents.
	Sessions repositories.SessionStore
	Logger   *slog.Logger
	Now      func() time.Time
}

// CheckoutService creates a payment, records what must happen once it is paid,
// and hands back where to navigate. It never returns a navigation without a
// stored intent.
type CheckoutService struct {
	intents        repositories.IntentStore
	sessions       repositories.SessionStore
	centsPerCredit int64
	logger         *slog.Logger
	now            func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewCheckoutService(intents repositories.IntentStore, cfg CheckoutConfig) (*CheckoutService, error) {
	if intents == nil {
		return nil, fmt.Errorf("checkout: intent store is required")
	}
	if cfg.CentsPerCredit <= 0 {
		return nil, fmt.Errorf("checkout: cents per credit must be positive")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &CheckoutService{
		intents:        intents,
		sessions:       cfg.Sessions,
		centsPerCredit: cfg.CentsPerCredit,
		logger:         logger,
		now:            now,
		inflight:       make(map[string]struct{}),
	}, nil
}

func (s *CheckoutService) acquire(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[sessionID]; busy {
		return models.ErrCheckoutInFlight
	}
	s.inflight[sessionID] = struct{}{}
	return nil
}

func (s *CheckoutService) release(sessionID string) {
	s.mu.Lock()
	delete(s.inflight, sessionID)
	s.mu.Unlock()
}

// owner returns the token subject of the session, or "" when unknown.
func (s *CheckoutService) owner(ctx context.Context, sessionID string) string {
	if s.sessions == nil {
		return ""
	}
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return ""
	}
	return session.Subject
}

func (s *CheckoutService) StartSecretSubmission(ctx context.Context, api GameAPI, sessionID string, challengeID int64, secret string) (models.Navigation, error) {
	if challengeID <= 0 {
		return models.Navigation{}, &models.ValidationError{Field: "challenge_id", Reason: "must be positive"}
	}
	if strings.TrimSpace(secret) == "" {
		return models.Navigation{}, &models.ValidationError{Field: "secret", Reason: "must not be empty"}
	}
	if err := s.acquire(sessionID); err != nil {
		return models.Navigation{}, err
	}
	defer s.release(sessionID)

	logger := s.logger.With("op", "StartSecretSubmission", "challenge_id", challengeID)
	payment, err := api.CreatePayment(ctx, challengeID)
	if err != nil {
		logger.Warn("create payment failed", "err", err)
		return models.Navigation{}, err
	}

	intent := models.PendingIntent{
		Kind:        models.IntentSecretSubmission,
		ReferenceID: payment.PaymentID,
		ChallengeID: challengeID,
		Payload:     secret,
		CreatedAt:   s.now().UTC(),
		Owner:       s.owner(ctx, sessionID),
	}
	if err := s.intents.Save(ctx, sessionID, intent); err != nil {
		logger.Error("save pending intent failed", "payment_id", payment.PaymentID, "err", err)
		return models.Navigation{}, fmt.Errorf("save pending intent: %w", err)
	}
	logger.Info("secret submission checkout started", "payment_id", payment.PaymentID)
	return models.Navigation{URL: payment.CheckoutURL}, nil
}

func (s *CheckoutService) StartCreditPurchase(ctx context.Context, api GameAPI, sessionID string, credits int64) (models.Navigation, error) {
	if credits <= 0 {
		return models.Navigation{}, &models.ValidationError{Field: "credits", Reason: "must be positive"}
	}
	if credits > math.MaxInt64/s.centsPerCredit {
		return models.Navigation{}, &models.ValidationError{Field: "credits", Reason: "is too large"}
	}
	amountCents := credits * s.centsPerCredit
	if err := s.acquire(sessionID); err != nil {
		return models.Navigation{}, err
	}
	defer s.release(sessionID)

	logger := s.logger.With("op", "StartCreditPurchase", "amount_cents", amountCents)
	purchase, err := api.CreateCreditPurchase(ctx, amountCents)
	if err != nil {
		logger.Warn("create credit purchase failed", "err", err)
		return models.Navigation{}, err
	}

	purchased := purchase.CreditsPurchased
	if purchased <= 0 {
		purchased = credits
	}
	intent := models.PendingIntent{
		Kind:        models.IntentCreditPurchase,
		ReferenceID: purchase.CreditPurchaseID,
		Payload:     strconv.FormatInt(purchased, 10),
		CreatedAt:   s.now().UTC(),
		Owner:       s.owner(ctx, sessionID),
	}
	if err := s.intents.Save(ctx, sessionID, intent); err != nil {
		logger.Error("save pending intent failed", "credit_purchase_id", purchase.CreditPurchaseID, "err", err)
		return models.Navigation{}, fmt.Errorf("save pending intent: %w", err)
	}
	logger.Info("credit purchase checkout started", "credit_purchase_id", purchase.CreditPurchaseID)
	return models.Navigation{URL: purchase.CheckoutURL}, nil
}
