package utils

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/google/uuid"

	"bountyWeb/internal/models"
)

var ErrBadSignature = errors.New("utils: invalid session signature")

// Manager signs and verifies session cookie values.
type Manager struct {
	signingKey string
}

func NewManager(signingKey string) (*Manager, error) {
	if signingKey == "" {
		return nil, errors.New("empty signing key")
	}

	return &Manager{signingKey: signingKey}, nil
}

// NewSessionID returns a fresh random session id.
func (m *Manager) NewSessionID() string {
	return uuid.NewString()
}

// Sign returns "<id>.<hex hmac-sha256(id)>".
func (m *Manager) Sign(sessionID string) string {
	return sessionID + "." + hex.EncodeToString(m.mac(sessionID))
}

// Verify returns the session id of a value produced by Sign.
func (m *Manager) Verify(value string) (string, error) {
	i := strings.LastIndexByte(value, '.')
	if i <= 0 || i == len(value)-1 {
		return "", ErrBadSignature
	}
	id, signature := value[:i], value[i+1:]
	sigBytes, err := hex.DecodeString(signature)
	if err != nil {
		return "", ErrBadSignature
	}
	if !hmac.Equal(m.mac(id), sigBytes) {
		return "", ErrBadSignature
	}
	return id, nil
}

func (m *Manager) mac(id string) []byte {
	mac := hmac.New(sha256.New, []byte(m.signingKey))
	mac.Write([]byte(id))
	return mac.Sum(nil)
}

// TokenExpiry reads the exp claim of a backend access token without checking
// its signature; the backend stays the authority on validity. ok is false when
// the token carries no readable exp.
func TokenExpiry(accessToken string) (exp time.Time, ok bool) {
	claims, ok := unverifiedClaims(accessToken)
	if !ok || claims.ExpiresAt == 0 {
		return time.Time{}, false
	}
	return time.Unix(claims.ExpiresAt, 0), true
}

// TokenSubject reads the sub claim the same way TokenExpiry reads exp.
func TokenSubject(accessToken string) (string, bool) {
	claims, ok := unverifiedClaims(accessToken)
	if !ok || strings.TrimSpace(claims.Subject) == "" {
		return "", false
	}
	return claims.Subject, true
}

func unverifiedClaims(accessToken string) (*models.Claims, bool) {
	claims := &models.Claims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(accessToken, claims); err != nil {
		return nil, false
	}
	return claims, true
}
