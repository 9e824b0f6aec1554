package httpapi

import (
	"errors"
	"net/http"
	"time"

	"tlr.org/internal/audit"
	"tlr.org/internal/auth"
)

type tokenRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	TokenType   string    `json:"token_type"`
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if a.auth == nil {
		writeError(w, r, http.StatusServiceUnavailable, "authentication is not configured")
		return
	}
	var req tokenRequest
	if !decodeBody(w, r, &req) {
		return
	}

	token, expiresAt, principal, err := a.auth.IssueToken(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			unauthorized(w, r, "invalid credentials")
			return
		}
		handleStoreError(w, r, err)
		return
	}

	ctx := auth.ContextWithPrincipal(r.Context(), principal)
	a.record(r.WithContext(ctx), audit.ActionLogin, string(auth.EntityUsers), principal.User.ID, "issued access token")

	writeJSON(w, http.StatusOK, tokenResponse{
		TokenType:   "Bearer",
		AccessToken: token,
		ExpiresAt:   expiresAt,
	})
}
