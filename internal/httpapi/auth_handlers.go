package httpapi

import (
	"net/http"
	"time"

	"stepauth.org/internal/audit"
	"stepauth.org/internal/auth"
	"stepauth.org/internal/obs"
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type signupResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	AuthLevel string    `json:"auth_level"`
}

func (a *API) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	user, err := a.users.Signup(r.Context(), req.Username, req.Password)
	if err != nil {
		switch err {
		case auth.ErrInvalidInput:
			writeError(w, r, http.StatusBadRequest, "username and password are required")
		case auth.ErrConflict:
			writeError(w, r, http.StatusConflict, "username already taken")
		default:
			writeError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.signup", map[string]any{
		"user_id":  user.ID,
		"username": user.Username,
	})

	writeJSON(w, http.StatusCreated, signupResponse{
		ID:        user.ID,
		Username:  user.Username,
		CreatedAt: user.CreatedAt,
	})
}

func (a *API) handleSignin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	// Wrong username and wrong password are indistinguishable on purpose.
	token, expiresAt, err := a.users.SignIn(r.Context(), req.Username, req.Password)
	if err != nil {
		if err == auth.ErrUnauthorized {
			writeError(w, r, http.StatusUnauthorized, "invalid credentials")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	obs.TokenIssued(string(auth.LevelPassword))
	_ = audit.LogEvent(r.Context(), "auth.signin", map[string]any{
		"username":   req.Username,
		"expires_at": expiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		AuthLevel: string(auth.LevelPassword),
	})
}
