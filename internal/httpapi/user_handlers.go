package httpapi

import "net/http"

type profileResponse struct {
	UserID          string `json:"user_id"`
	Username        string `json:"username"`
	AuthLevel       string `json:"auth_level"`
	PasskeyVerified bool   `json:"passkey_verified"`
}

func (a *API) handleProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	subject, ok := subjectClaims(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing subject")
		return
	}
	writeJSON(w, http.StatusOK, profileResponse{
		UserID:          subject.Subject,
		Username:        subject.Username,
		AuthLevel:       string(subject.AuthLevel),
		PasskeyVerified: subject.PasskeyVerified,
	})
}
