package models

import (
	"errors"
	"time"
)

// Outcome is the terminal result of one reconciler run.
type Outcome string

const (
	OutcomeNone      Outcome = "none"
	OutcomeSuccess   Outcome = "success"
	OutcomeFailure   Outcome = "failure"
	OutcomeMismatch  Outcome = "mismatch"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeCanceled  Outcome = "canceled"
	OutcomeDuplicate Outcome = "duplicate"
)

// Navigation tells the view where to go after a checkout was started.
// Nothing may run in the page after it is followed.
type Navigation struct {
	URL string `json:"checkout_url"`
}

// Resolution describes how a reconciler run finished.
type Resolution struct {
	Outcome     Outcome    `json:"outcome"`
	Kind        IntentKind `json:"kind,omitempty"`
	ReferenceID int64      `json:"reference_id,omitempty"`
	ChallengeID int64      `json:"challenge_id,omitempty"`
	FinalStatus string     `json:"final_status,omitempty"`
	Message     string     `json:"message,omitempty"`
	IsCorrect   bool       `json:"is_correct,omitempty"`
	BountyCents int64      `json:"bounty_cents,omitempty"`
	Credits     int64      `json:"credits_purchased,omitempty"`
	Balance     *int64     `json:"balance_credits,omitempty"`
	Polls       int        `json:"polls"`
	ReplaceURL  string     `json:"replace_url,omitempty"`
}

// Err returns the error kind of an unsuccessful outcome, or nil for success,
// none, duplicate and canceled runs.
func (r Resolution) Err() error {
	switch r.Outcome {
	case OutcomeTimeout:
		return ErrPollTimeout
	case OutcomeMismatch:
		return ErrIntentMismatch
	case OutcomeFailure:
		if r.Message == "" {
			return errors.New("payment workflow failed")
		}
		return errors.New(r.Message)
	}
	return nil
}

// Snapshot is the render state of one session's workflow controller.
type Snapshot struct {
	State              string      `json:"state"`
	Busy               bool        `json:"busy"`
	Message            string      `json:"message,omitempty"`
	Error              string      `json:"error,omitempty"`
	BalanceCredits     int64       `json:"balance_credits"`
	TotalEarningsCents int64       `json:"total_earnings_cents"`
	SolvedChallenges   []int64     `json:"solved_challenges"`
	LastOutcome        *Resolution `json:"last_outcome,omitempty"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

// Resumption is one journal row for a finished reconciliation.
type Resumption struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"-"`
	Kind        IntentKind `json:"kind"`
	ReferenceID int64      `json:"reference_id"`
	ChallengeID int64      `json:"challenge_id,omitempty"`
	Outcome     Outcome    `json:"outcome"`
	FinalStatus string     `json:"final_status,omitempty"`
	Message     string     `json:"message,omitempty"`
	Polls       int        `json:"polls"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  time.Time  `json:"finished_at"`
}
