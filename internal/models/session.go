package models

import (
	"time"

	"github.com/golang-jwt/jwt"
)

// Session binds a browser session cookie to the backend access token.
type Session struct {
	ID          string    `json:"id"`
	AccessToken string    `json:"access_token"`
	Subject     string    `json:"subject,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Claims is the part of the backend access token the BFF looks at.
// The token is never verified here; the backend remains the authority.
type Claims struct {
	jwt.StandardClaims
}
