package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"bountyWeb/internal/models"
)

// GameAPI is the subset of the game REST API the payment workflow consumes.
type GameAPI interface {
	CreatePayment(ctx context.Context, challengeID int64) (*models.PaymentCreateResponse, error)
	GetPayment(ctx context.Context, paymentID int64) (*models.PaymentStatus, error)
	CreateCreditPurchase(ctx context.Context, amountCents int64) (*models.CreditPurchaseCreateResponse, error)
	GetCreditPurchase(ctx context.Context, purchaseID int64) (*models.CreditPurchaseStatus, error)
	SubmitAttempt(ctx context.Context, req models.AttemptRequest) (*models.AttemptResponse, error)
	GetCreditBalance(ctx context.Context) (*models.CreditBalance, error)
	GetChallenge(ctx context.Context, challengeID int64) (*models.Challenge, error)
}

type GameClientConfig struct {
	// Base of the game API, e.g. http://localhost:8000
	BaseURL string
	Timeout time.Duration

	Client *http.Client
	Logger *slog.Logger
}

// GameClient holds the transport shared by all sessions. Use WithToken to get
// a GameAPI bound to one user's bearer token.
type GameClient struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     *slog.Logger
}

func NewGameClient(cfg GameClientConfig) (*GameClient, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("game client: base_url is required")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	c := &GameClient{baseURL: u, httpClient: client, logger: logger}
	logger.Info("game API client initialized", "baseURL", safeURL(u))
	return c, nil
}

func (c *GameClient) WithToken(token string) *GameSession {
	return &GameSession{client: c, token: token}
}

// GameSession is a GameAPI authorized with a single access token.
type GameSession struct {
	client *GameClient
	token  string
}

var _ GameAPI = (*GameSession)(nil)

func (s *GameSession) CreatePayment(ctx context.Context, challengeID int64) (*models.PaymentCreateResponse, error) {
	var out models.PaymentCreateResponse
	if err := s.do(ctx, "CreatePayment", http.MethodPost, "/payments", models.PaymentCreateRequest{ChallengeID: challengeID}, &out); err != nil {
		return nil, err
	}
	if out.PaymentID <= 0 || strings.TrimSpace(out.CheckoutURL) == "" {
		return nil, fmt.Errorf("create payment: empty payment_id or checkout_url")
	}
	return &out, nil
}

func (s *GameSession) GetPayment(ctx context.Context, paymentID int64) (*models.PaymentStatus, error) {
	var out models.PaymentStatus
	if err := s.do(ctx, "GetPayment", http.MethodGet, "/payments/"+strconv.FormatInt(paymentID, 10), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *GameSession) CreateCreditPurchase(ctx context.Context, amountCents int64) (*models.CreditPurchaseCreateResponse, error) {
	var out models.CreditPurchaseCreateResponse
	if err := s.do(ctx, "CreateCreditPurchase", http.MethodPost, "/credits/purchases", models.CreditPurchaseCreateRequest{AmountCents: amountCents}, &out); err != nil {
		return nil, err
	}
	if out.CreditPurchaseID <= 0 || strings.TrimSpace(out.CheckoutURL) == "" {
		return nil, fmt.Errorf("create credit purchase: empty credit_purchase_id or checkout_url")
	}
	return &out, nil
}

func (s *GameSession) GetCreditPurchase(ctx context.Context, purchaseID int64) (*models.CreditPurchaseStatus, error) {
	var out models.CreditPurchaseStatus
	if err := s.do(ctx, "GetCreditPurchase", http.MethodGet, "/credits/purchases/"+strconv.FormatInt(purchaseID, 10), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *GameSession) SubmitAttempt(ctx context.Context, req models.AttemptRequest) (*models.AttemptResponse, error) {
	var out models.AttemptResponse
	if err := s.do(ctx, "SubmitAttempt", http.MethodPost, "/attempts", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *GameSession) GetCreditBalance(ctx context.Context) (*models.CreditBalance, error) {
	var out models.CreditBalance
	if err := s.do(ctx, "GetCreditBalance", http.MethodGet, "/credits/balance", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *GameSession) GetChallenge(ctx context.Context, challengeID int64) (*models.Challenge, error) {
	var out models.Challenge
	if err := s.do(ctx, "GetChallenge", http.MethodGet, "/challenges/"+strconv.FormatInt(challengeID, 10), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do sends one JSON request. Transport failures become NetworkError, non-2xx
// answers BackendError; a 401 additionally matches models.ErrTokenExpired.
func (s *GameSession) do(ctx context.Context, op, method, p string, in, out any) error {
	logger := s.client.logger.With("op", op)

	endpoint := *s.client.baseURL
	endpoint.Path = path.Join(endpoint.Path, p)

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.httpClient.Do(req)
	if err != nil {
		return &models.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return &models.NetworkError{Op: op, Err: err}
	}
	logger.Debug("game API raw", "status", resp.Status, "body", trim(string(b), 2000))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bErr := &models.BackendError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Detail:     parseDetail(b),
			Body:       string(b),
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("%w: %w", models.ErrTokenExpired, bErr)
		}
		return bErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// parseDetail extracts a string "detail" field; anything else yields "".
func parseDetail(b []byte) string {
	var body struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(b, &body); err != nil || len(body.Detail) == 0 {
		return ""
	}
	var detail string
	if err := json.Unmarshal(body.Detail, &detail); err != nil {
		return ""
	}
	return strings.TrimSpace(detail)
}

func trim(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}

func safeURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	c := *u
	c.User = nil
	return c.String()
}

// WithExpiryHook wraps api so that onExpired runs whenever the backend rejects
// the access token.
func WithExpiryHook(api GameAPI, onExpired func()) GameAPI {
	return &expiryGuard{api: api, onExpired: onExpired}
}

type expiryGuard struct {
	api       GameAPI
	onExpired func()
}

func (g *expiryGuard) check(err error) {
	if err != nil && g.onExpired != nil && errors.Is(err, models.ErrTokenExpired) {
		g.onExpired()
	}
}

func (g *expiryGuard) CreatePayment(ctx context.Context, challengeID int64) (*models.PaymentCreateResponse, error) {
	out, err := g.api.CreatePayment(ctx, challengeID)
	g.check(err)
	return out, err
}

func (g *expiryGuard) GetPayment(ctx context.Context, paymentID int64) (*models.PaymentStatus, error) {
	out, err := g.api.GetPayment(ctx, paymentID)
	g.check(err)
	return out, err
}

func (g *expiryGuard) CreateCreditPurchase(ctx context.Context, amountCents int64) (*models.CreditPurchaseCreateResponse, error) {
	out, err := g.api.CreateCreditPurchase(ctx, amountCents)
	g.check(err)
	return out, err
}

func (g *expiryGuard) GetCreditPurchase(ctx context.Context, purchaseID int64) (*models.CreditPurchaseStatus, error) {
	out, err := g.api.GetCreditPurchase(ctx, purchaseID)
	g.check(err)
	return out, err
}

func (g *expiryGuard) SubmitAttempt(ctx context.Context, req models.AttemptRequest) (*models.AttemptResponse, error) {
	out, err := g.api.SubmitAttempt(ctx, req)
	g.check(err)
	return out, err
}

func (g *expiryGuard) GetCreditBalance(ctx context.Context) (*models.CreditBalance, error) {
	out, err := g.api.GetCreditBalance(ctx)
	g.check(err)
	return out, err
}

func (g *expiryGuard) GetChallenge(ctx context.Context, challengeID int64) (*models.Challenge, error) {
	out, err := g.api.GetChallenge(ctx, challengeID)
	g.check(err)
	return out, err
}
