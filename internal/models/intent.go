package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// IntentKind identifies the deferred action recorded before leaving for checkout.
type IntentKind string

const (
	IntentSecretSubmission IntentKind = "secret_submission"
	IntentCreditPurchase   IntentKind = "credit_purchase"
)

// PendingIntent is the session-scoped record of what the user was doing before
// being redirected to the payment provider.
type PendingIntent struct {
	Kind        IntentKind `json:"kind"`
	ReferenceID int64      `json:"reference_id"`
	ChallengeID int64      `json:"challenge_id,omitempty"`
	Payload     string     `json:"payload"`
	CreatedAt   time.Time  `json:"created_at"`
	// Owner is the sub claim of the token that started the checkout.
	Owner string `json:"owner,omitempty"`
}

// Validate reports whether the intent is usable. A stored value that fails
// validation is treated as absent.
func (p *PendingIntent) Validate() error {
	if p == nil {
		return errors.New("intent is nil")
	}
	switch p.Kind {
	case IntentSecretSubmission:
		if p.ChallengeID <= 0 {
			return fmt.Errorf("secret submission requires challenge_id")
		}
		if strings.TrimSpace(p.Payload) == "" {
			return fmt.Errorf("secret submission requires a payload")
		}
	case IntentCreditPurchase:
		if p.ChallengeID != 0 {
			return fmt.Errorf("credit purchase must not carry challenge_id")
		}
	default:
		return fmt.Errorf("unknown intent kind %q", p.Kind)
	}
	if p.ReferenceID <= 0 {
		return fmt.Errorf("reference_id must be positive")
	}
	if p.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	return nil
}

// ReferenceParam returns the return-URL query key the provider appends for this kind.
func (k IntentKind) ReferenceParam() string {
	switch k {
	case IntentSecretSubmission:
		return PaymentReferenceParam
	case IntentCreditPurchase:
		return CreditPurchaseReferenceParam
	}
	return ""
}

// Return-URL query parameters appended by the backend's checkout redirect.
const (
	PaymentReferenceParam        = "payment_id"
	CreditPurchaseReferenceParam = "credit_purchase_id"
)
