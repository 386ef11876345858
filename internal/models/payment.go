package models

import "time"

// Payment and credit purchase statuses as reported by the backend.
const (
	StatusPending  = "pending"
	StatusPaid     = "paid"
	StatusFailed   = "failed"
	StatusCanceled = "canceled"
	StatusExpired  = "expired"
)

var terminalStatuses = map[string]struct{}{
	StatusPaid:     {},
	StatusFailed:   {},
	StatusCanceled: {},
	StatusExpired:  {},
}

// IsTerminalStatus reports whether no further status change is expected.
// Anything outside the terminal set is still in flight.
func IsTerminalStatus(status string) bool {
	_, ok := terminalStatuses[status]
	return ok
}

type PaymentCreateRequest struct {
	ChallengeID int64 `json:"challenge_id"`
}

type PaymentCreateResponse struct {
	PaymentID   int64  `json:"payment_id"`
	CheckoutURL string `json:"checkout_url"`
	Status      string `json:"status"`
}

// PaymentStatus is the server-owned payment record; the client only polls it.
type PaymentStatus struct {
	PaymentID       int64     `json:"payment_id"`
	UserID          int64     `json:"user_id"`
	ChallengeID     int64     `json:"challenge_id"`
	MolliePaymentID *string   `json:"mollie_payment_id"`
	AmountCents     int64     `json:"amount_cents"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
