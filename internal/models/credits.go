package models

import "time"

type CreditPurchaseCreateRequest struct {
	AmountCents int64 `json:"amount_cents"`
}

type CreditPurchaseCreateResponse struct {
	CreditPurchaseID int64  `json:"credit_purchase_id"`
	CreditsPurchased int64  `json:"credits_purchased"`
	AmountCents      int64  `json:"amount_cents"`
	Status           string `json:"status"`
	CheckoutURL      string `json:"checkout_url"`
}

// CreditPurchaseStatus is the server-owned purchase record.
type CreditPurchaseStatus struct {
	CreditPurchaseID int64     `json:"credit_purchase_id"`
	UserID           int64     `json:"user_id"`
	MolliePaymentID  *string   `json:"mollie_payment_id"`
	AmountCents      int64     `json:"amount_cents"`
	CreditsPurchased int64     `json:"credits_purchased"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type CreditBalance struct {
	BalanceCredits int64 `json:"balance_credits"`
}
