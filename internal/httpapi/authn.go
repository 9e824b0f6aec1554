package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"tlr.org/internal/auth"
	"tlr.org/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// authenticate resolves a bearer token into a principal. Requests without a
// token continue as guests; a bad token is rejected outright.
func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get(authHeader))
		if header == "" || a.auth == nil {
			next.ServeHTTP(w, r)
			return
		}
		token, err := extractBearerToken(header)
		if err != nil {
			unauthorized(w, r, err.Error())
			return
		}
		principal, err := a.auth.Authenticate(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				unauthorized(w, r, "invalid token")
				return
			}
			obs.Error("authentication failed", map[string]any{
				"request_id": RequestIDFromContext(r.Context()),
				"error":      err,
			})
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithPrincipal(r.Context(), principal)))
	})
}

func unauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="tlr"`)
	writeError(w, r, http.StatusUnauthorized, msg)
}

// writeDecision answers a denied decision and reports whether the request
// may continue.
func writeDecision(w http.ResponseWriter, r *http.Request, d auth.Decision) bool {
	switch {
	case d.Allowed:
		return true
	case d.Status == auth.StatusUnauthenticated:
		unauthorized(w, r, d.Reason)
	default:
		writeError(w, r, http.StatusForbidden, d.Reason)
	}
	return false
}

// authorize checks the caller against one target.
func (a *API) authorize(w http.ResponseWriter, r *http.Request, action auth.Action, entity auth.Entity, target auth.Target) (*auth.Principal, bool) {
	p := auth.PrincipalFromContext(r.Context())
	return p, writeDecision(w, r, auth.Authorize(p, action, entity, target))
}

// authorizeAny checks the caller's roles in any scope. Handlers that use it
// check ownership of the concrete target afterwards.
func (a *API) authorizeAny(w http.ResponseWriter, r *http.Request, action auth.Action, entity auth.Entity) (*auth.Principal, bool) {
	p := auth.PrincipalFromContext(r.Context())
	if p == nil {
		return nil, writeDecision(w, r, auth.Decide(false, nil, action, entity))
	}
	return p, writeDecision(w, r, auth.Decide(true, p.AllRoles(), action, entity))
}

// allowedOn reports whether p may perform action on target, without writing.
func allowedOn(p *auth.Principal, action auth.Action, entity auth.Entity, target auth.Target) bool {
	return auth.Authorize(p, action, entity, target).Allowed
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
