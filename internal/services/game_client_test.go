package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"bountyWeb/internal/models"
)

func newClientFor(t *testing.T, h http.HandlerFunc) *GameSession {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	client, err := NewGameClient(GameClientConfig{BaseURL: ts.URL, Client: ts.Client(), Logger: quietLogger()})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client.WithToken("tok-1")
}

func TestGameClient_SendsBearerToken(t *testing.T) {
	auth := make(chan string, 1)
	api := newClientFor(t, func(w http.ResponseWriter, r *http.Request) {
		auth <- r.Header.Get("Authorization")
		writeJSON(w, http.StatusOK, models.CreditBalance{BalanceCredits: 12})
	})

	balance, err := api.GetCreditBalance(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if balance.BalanceCredits != 12 {
		t.Errorf("balance mismatch: %d", balance.BalanceCredits)
	}
	if got := <-auth; got != "Bearer tok-1" {
		t.Errorf("authorization header mismatch: %q", got)
	}
}

func TestGameClient_Non2xxReturnsBackendError(t *testing.T) {
	api := newClientFor(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusPaymentRequired, map[string]string{"detail": "Payment is not paid"})
	})

	_, err := api.SubmitAttempt(context.Background(), models.AttemptRequest{ChallengeID: 7, PaymentID: 42, SubmittedSecret: "x"})
	var bErr *models.BackendError
	if !errors.As(err, &bErr) {
		t.Fatalf("expected BackendError, got %T (%v)", err, err)
	}
	if bErr.StatusCode != http.StatusPaymentRequired {
		t.Errorf("status code mismatch: %d", bErr.StatusCode)
	}
	if bErr.Detail != "Payment is not paid" {
		t.Errorf("detail mismatch: %q", bErr.Detail)
	}
	if models.IsRetriable(err) {
		t.Error("4xx must not be retriable")
	}
}

func TestGameClient_NonStringDetailIgnored(t *testing.T) {
	api := newClientFor(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"detail":[{"loc":["body","amount_cents"],"msg":"field required"}]}`))
	})

	_, err := api.CreateCreditPurchase(context.Background(), 100)
	if got := models.UserMessage(err, "fallback"); got != "Request failed (422)" {
		t.Errorf("user message mismatch: %q", got)
	}
}

func TestGameClient_UnauthorizedIsTokenExpired(t *testing.T) {
	api := newClientFor(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Could not validate credentials"})
	})

	_, err := api.GetPayment(context.Background(), 42)
	if !errors.Is(err, models.ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	var bErr *models.BackendError
	if !errors.As(err, &bErr) || bErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected wrapped 401 BackendError, got %v", err)
	}
}

func TestGameClient_TransportErrorIsNetworkError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	client, err := NewGameClient(GameClientConfig{BaseURL: ts.URL, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ts.Close()

	_, err = client.WithToken("").GetPayment(context.Background(), 1)
	var nErr *models.NetworkError
	if !errors.As(err, &nErr) {
		t.Fatalf("expected NetworkError, got %T (%v)", err, err)
	}
	if !models.IsRetriable(err) {
		t.Error("network errors should be retriable")
	}
}

func TestGameClient_CreatePaymentRequiresCheckoutURL(t *testing.T) {
	api := newClientFor(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusCreated, map[string]any{"payment_id": 42, "status": "open"})
	})

	if _, err := api.CreatePayment(context.Background(), 7); err == nil {
		t.Fatal("expected error for missing checkout_url")
	}
}

func TestNewGameClient_RequiresBaseURL(t *testing.T) {
	if _, err := NewGameClient(GameClientConfig{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestWithExpiryHook(t *testing.T) {
	var status atomic.Int64
	status.Store(http.StatusOK)
	api := newClientFor(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, int(status.Load()), models.CreditBalance{BalanceCredits: 3})
	})
	expired := 0
	guarded := WithExpiryHook(api, func() { expired++ })

	if _, err := guarded.GetCreditBalance(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	status.Store(http.StatusUnauthorized)
	if _, err := guarded.GetCreditBalance(context.Background()); !errors.Is(err, models.ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if expired != 1 {
		t.Errorf("hook ran %d times", expired)
	}
}
