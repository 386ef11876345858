package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"bountyWeb/internal/models"
)

type CheckoutHandler struct{}

// StartSecretSubmission creates a payment for one secret guess and sends the
// browser to the checkout page.
func (h *CheckoutHandler) StartSecretSubmission(w http.ResponseWriter, r *http.Request) {
	c, ok := controller(w, r)
	if !ok {
		return
	}
	challengeID, err := strconv.ParseInt(getParam(r, "id"), 10, 64)
	if err != nil || challengeID <= 0 {
		writeError(w, &models.ValidationError{Field: "challenge_id", Reason: "must be positive"}, "")
		return
	}

	var secret string
	if isJSONBody(r) {
		var req struct {
			Secret string `json:"secret"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		secret = req.Secret
	} else {
		secret = r.PostFormValue("secret")
	}

	nav, err := c.StartSecretSubmission(r.Context(), challengeID, secret)
	if err != nil {
		writeError(w, err, "Unable to start payment for secret submission")
		return
	}
	navigate(w, r, nav)
}

func (h *CheckoutHandler) StartCreditPurchase(w http.ResponseWriter, r *http.Request) {
	c, ok := controller(w, r)
	if !ok {
		return
	}

	var credits int64
	if isJSONBody(r) {
		var req struct {
			Credits int64 `json:"credits"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		credits = req.Credits
	} else {
		v, err := strconv.ParseInt(strings.TrimSpace(r.PostFormValue("credits")), 10, 64)
		if err != nil {
			writeError(w, &models.ValidationError{Field: "credits", Reason: "must be a whole number"}, "")
			return
		}
		credits = v
	}

	nav, err := c.StartCreditPurchase(r.Context(), credits)
	if err != nil {
		writeError(w, err, "Unable to start credit purchase")
		return
	}
	navigate(w, r, nav)
}

// navigate ends the request with the checkout navigation; nothing is written
// after it.
func navigate(w http.ResponseWriter, r *http.Request, nav models.Navigation) {
	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, nav)
		return
	}
	http.Redirect(w, r, nav.URL, http.StatusSeeOther)
}
