package models

import "time"

type AttemptRequest struct {
	ChallengeID     int64  `json:"challenge_id"`
	PaymentID       int64  `json:"payment_id"`
	SubmittedSecret string `json:"submitted_secret"`
}

type Attempt struct {
	AttemptID   int64     `json:"attempt_id"`
	UserID      int64     `json:"user_id"`
	ChallengeID int64     `json:"challenge_id"`
	PaymentID   *int64    `json:"payment_id"`
	IsCorrect   bool      `json:"is_correct"`
	CreatedAt   time.Time `json:"created_at"`
}

type AttemptResponse struct {
	Attempt Attempt `json:"attempt"`
	Message string  `json:"message"`
}

// Challenge is the subset of the challenge detail used to price the bounty.
type Challenge struct {
	ChallengeID         int64  `json:"challenge_id"`
	Title               string `json:"title"`
	Difficulty          string `json:"difficulty"`
	CostPerAttemptCents int64  `json:"cost_per_attempt_cents"`
	AttackCostCredits   int64  `json:"attack_cost_credits"`
	PrizePoolCents      int64  `json:"prize_pool_cents"`
	IsActive            bool   `json:"is_active"`
}
