package handlers

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strings"

	"bountyWeb/internal/models"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorStatus maps workflow errors onto HTTP status codes. Backend 4xx answers
// pass through; other upstream failures are a bad gateway.
func errorStatus(err error) int {
	var vErr *models.ValidationError
	var bErr *models.BackendError
	var nErr *models.NetworkError
	switch {
	case errors.As(err, &vErr):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrTokenExpired), errors.Is(err, models.ErrNoSession):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrCheckoutInFlight):
		return http.StatusConflict
	case errors.Is(err, models.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.As(err, &bErr):
		if bErr.StatusCode >= 400 && bErr.StatusCode < 500 {
			return bErr.StatusCode
		}
		return http.StatusBadGateway
	case errors.As(err, &nErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error, fallback string) {
	if fallback == "" {
		fallback = http.StatusText(http.StatusInternalServerError)
	}
	writeJSON(w, errorStatus(err), map[string]string{"error": models.UserMessage(err, fallback)})
}

func isJSONBody(r *http.Request) bool {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return ct == "application/json"
}

// wantsJSON reports whether the caller asked for a JSON answer instead of a
// redirect.
func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
