package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"stepauth.org/internal/audit"
	"stepauth.org/internal/auth"
	"stepauth.org/internal/obs"
	"stepauth.org/internal/passkey"
)

type enrollmentVerifyRequest struct {
	Response   json.RawMessage `json:"response"`
	DeviceName string          `json:"device_name"`
}

type assertionVerifyRequest struct {
	Response json.RawMessage `json:"response"`
}

type verifiedResponse struct {
	Verified bool `json:"verified"`
}

type credentialSummary struct {
	ID           string     `json:"id"`
	CredentialID string     `json:"credential_id"`
	DeviceName   string     `json:"device_name,omitempty"`
	Transports   []string   `json:"transports"`
	CreatedAt    time.Time  `json:"created_at"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
}

func (a *API) handleEnrollmentOptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	subject, ok := subjectClaims(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing subject")
		return
	}

	creation, err := a.passkeys.GenerateEnrollmentOptions(r.Context(), subject)
	if err != nil {
		handlePasskeyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, creation)
}

func (a *API) handleEnrollmentVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	subject, ok := subjectClaims(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing subject")
		return
	}

	var req enrollmentVerifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Response) == 0 {
		writeError(w, r, http.StatusBadRequest, "response is required")
		return
	}

	parsed, err := a.parser.ParseCreation(req.Response)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "malformed attestation response")
		return
	}

	if err := a.passkeys.VerifyEnrollment(r.Context(), subject, parsed, req.DeviceName); err != nil {
		obs.CeremonyCompleted("registration", "rejected")
		_ = audit.LogEvent(r.Context(), "passkey.rejected", map[string]any{
			"purpose": "registration",
			"reason":  err.Error(),
		})
		handlePasskeyError(w, r, err)
		return
	}

	obs.CeremonyCompleted("registration", "ok")
	_ = audit.LogEvent(r.Context(), "passkey.enrolled", map[string]any{
		"device_name": req.DeviceName,
	})
	writeJSON(w, http.StatusCreated, verifiedResponse{Verified: true})
}

func (a *API) handleAssertionOptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	subject, ok := subjectClaims(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing subject")
		return
	}

	assertion, err := a.passkeys.GenerateAssertionOptions(r.Context(), subject)
	if err != nil {
		handlePasskeyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, assertion)
}

func (a *API) handleAssertionVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	subject, ok := subjectClaims(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing subject")
		return
	}

	var req assertionVerifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Response) == 0 {
		writeError(w, r, http.StatusBadRequest, "response is required")
		return
	}

	parsed, err := a.parser.ParseAssertion(req.Response)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "malformed assertion response")
		return
	}

	if err := a.passkeys.VerifyAssertion(r.Context(), subject, parsed); err != nil {
		obs.CeremonyCompleted("authentication", "rejected")
		_ = audit.LogEvent(r.Context(), "passkey.rejected", map[string]any{
			"purpose": "authentication",
			"reason":  err.Error(),
		})
		handlePasskeyError(w, r, err)
		return
	}

	// The assertion proves possession; escalation happens only by minting a
	// fresh token. The password-level token the caller used stays as it is.
	token, expiresAt, err := a.users.Escalate(subject)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	obs.CeremonyCompleted("authentication", "ok")
	obs.TokenIssued(string(auth.LevelFull))
	_ = audit.LogEvent(r.Context(), "passkey.verified", map[string]any{
		"expires_at": expiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		AuthLevel: string(auth.LevelFull),
	})
}

func (a *API) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	subject, ok := subjectClaims(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing subject")
		return
	}

	stored, err := a.store.Credentials(r.Context()).ListByUser(r.Context(), subject.Subject)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]credentialSummary, 0, len(stored))
	for _, c := range stored {
		items = append(items, credentialSummary{
			ID:           c.ID,
			CredentialID: base64.RawURLEncoding.EncodeToString(c.CredentialID),
			DeviceName:   c.DeviceName,
			Transports:   c.Transports,
			CreatedAt:    c.CreatedAt,
			LastUsedAt:   c.LastUsedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
	})
}

func handlePasskeyError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, passkey.ErrChallengeExpired):
		writeError(w, r, http.StatusBadRequest, "challenge expired, restart the ceremony")
	case errors.Is(err, passkey.ErrNoCredentials):
		writeError(w, r, http.StatusBadRequest, "no passkeys enrolled")
	case errors.Is(err, passkey.ErrCredentialExists):
		writeError(w, r, http.StatusConflict, "credential already enrolled")
	case errors.Is(err, passkey.ErrVerificationFailed), errors.Is(err, passkey.ErrUnauthorized):
		// One message for every rejection; the response must not reveal
		// whether the credential, signature or counter was the problem.
		writeError(w, r, http.StatusUnauthorized, "passkey verification failed")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
