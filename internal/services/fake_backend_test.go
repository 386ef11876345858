package services

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"bountyWeb/internal/models"
	"bountyWeb/internal/repositories"
)

// fakeGame is an in-process stand-in for the game REST API.
type fakeGame struct {
	mu sync.Mutex

	paymentStatuses  []string
	purchaseStatuses []string
	paymentPolls     int
	purchasePolls    int

	createStatus  int
	attemptStatus int
	attemptDetail string
	attemptOK     bool
	attemptMsg    string
	prizePool     int64
	balance       int64

	calls    map[string]int
	attempts []models.AttemptRequest
	amounts  []int64
}

func newFakeGame() *fakeGame {
	return &fakeGame{
		paymentStatuses:  []string{models.StatusPaid},
		purchaseStatuses: []string{models.StatusPaid},
		attemptOK:        true,
		attemptMsg:       "Correct!",
		prizePool:        5000,
		balance:          1000,
		calls:            make(map[string]int),
	}
}

func (f *fakeGame) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func (f *fakeGame) requestedAmounts() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.amounts...)
}

func (f *fakeGame) submittedAttempts() []models.AttemptRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.AttemptRequest(nil), f.attempts...)
}

func (f *fakeGame) set(fn func(f *fakeGame)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func next(seq []string, i int) string {
	if i < len(seq) {
		return seq[i]
	}
	return seq[len(seq)-1]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeGame) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := r.Method + " " + r.URL.Path
	f.calls[key]++
	body, _ := io.ReadAll(r.Body)

	switch {
	case key == "POST /payments":
		if f.createStatus != 0 {
			writeJSON(w, f.createStatus, map[string]string{"detail": "Challenge is not active"})
			return
		}
		var req models.PaymentCreateRequest
		_ = json.Unmarshal(body, &req)
		writeJSON(w, http.StatusCreated, models.PaymentCreateResponse{PaymentID: 42, CheckoutURL: "https://pay.test/checkout/42", Status: "open"})
	case strings.HasPrefix(key, "GET /payments/"):
		status := next(f.paymentStatuses, f.paymentPolls)
		f.paymentPolls++
		writeJSON(w, http.StatusOK, models.PaymentStatus{PaymentID: 42, ChallengeID: 7, AmountCents: 100, Status: status})
	case key == "POST /credits/purchases":
		var req models.CreditPurchaseCreateRequest
		_ = json.Unmarshal(body, &req)
		f.amounts = append(f.amounts, req.AmountCents)
		writeJSON(w, http.StatusCreated, models.CreditPurchaseCreateResponse{
			CreditPurchaseID: 99,
			CreditsPurchased: req.AmountCents / 10,
			AmountCents:      req.AmountCents,
			Status:           "open",
			CheckoutURL:      "https://pay.test/checkout/c99",
		})
	case strings.HasPrefix(key, "GET /credits/purchases/"):
		status := next(f.purchaseStatuses, f.purchasePolls)
		f.purchasePolls++
		writeJSON(w, http.StatusOK, models.CreditPurchaseStatus{CreditPurchaseID: 99, CreditsPurchased: 1000, AmountCents: 10000, Status: status})
	case key == "POST /attempts":
		var req models.AttemptRequest
		_ = json.Unmarshal(body, &req)
		f.attempts = append(f.attempts, req)
		if f.attemptStatus != 0 {
			writeJSON(w, f.attemptStatus, map[string]string{"detail": f.attemptDetail})
			return
		}
		writeJSON(w, http.StatusCreated, models.AttemptResponse{
			Attempt: models.Attempt{AttemptID: 1, ChallengeID: req.ChallengeID, IsCorrect: f.attemptOK},
			Message: f.attemptMsg,
		})
	case key == "GET /credits/balance":
		writeJSON(w, http.StatusOK, models.CreditBalance{BalanceCredits: f.balance})
	case strings.HasPrefix(key, "GET /challenges/"):
		writeJSON(w, http.StatusOK, models.Challenge{ChallengeID: 7, Title: "Vault", PrizePoolCents: f.prizePool, IsActive: true})
	default:
		http.NotFound(w, r)
	}
}

type testEnv struct {
	game       *fakeGame
	api        *GameSession
	intents    *repositories.MemoryIntentStore
	markers    *repositories.MemoryMarkerStore
	checkout   *CheckoutService
	reconciler *Reconciler
	journal    *memJournal
}

type memJournal struct {
	mu   sync.Mutex
	rows []models.Resumption
}

func (j *memJournal) Record(_ context.Context, rec models.Resumption) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.rows = append(j.rows, rec)
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T, game *fakeGame, maxPolls int) *testEnv {
	t.Helper()
	srv := httptest.NewServer(game)
	t.Cleanup(srv.Close)

	client, err := NewGameClient(GameClientConfig{BaseURL: srv.URL, Client: srv.Client(), Logger: quietLogger()})
	if err != nil {
		t.Fatalf("game client: %v", err)
	}
	intents := repositories.NewMemoryIntentStore()
	markers := repositories.NewMemoryMarkerStore(time.Hour)
	checkout, err := NewCheckoutService(intents, CheckoutConfig{CentsPerCredit: 10, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	journal := &memJournal{}
	reconciler, err := NewReconciler(intents, markers, ReconcilerConfig{
		Poll:    PollConfig{Interval: time.Millisecond, MaxAttempts: maxPolls},
		Journal: journal,
		Logger:  quietLogger(),
	})
	if err != nil {
		t.Fatalf("reconciler: %v", err)
	}
	return &testEnv{
		game:       game,
		api:        client.WithToken("test-token"),
		intents:    intents,
		markers:    markers,
		checkout:   checkout,
		reconciler: reconciler,
		journal:    journal,
	}
}
