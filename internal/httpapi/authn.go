package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"stepauth.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// requireLevel guards a handler behind a minimum trust level. A missing or
// invalid token is 401; a valid token below the required level is 403. The
// distinction matters: 401 asks the client to authenticate, 403 tells it to
// complete a passkey assertion and retry with the escalated token.
func (a *API) requireLevel(level auth.AuthLevel, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		claims, err := a.issuer.Validate(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}
		if !claims.AuthLevel.Satisfies(level) {
			writeError(w, r, http.StatusForbidden, "passkey verification required")
			return
		}

		ctx := auth.ContextWithClaims(r.Context(), *claims)
		ctx = auth.ContextWithToken(ctx, token)
		next(w, r.WithContext(ctx))
	}
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

// subjectClaims pulls the guard-installed claims back out of the request.
func subjectClaims(r *http.Request) (auth.Claims, bool) {
	return auth.ClaimsFromContext(r.Context())
}
