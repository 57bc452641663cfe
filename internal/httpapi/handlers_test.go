package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"stepauth.org/internal/auth"
	"stepauth.org/internal/challenge"
	"stepauth.org/internal/passkey"
)

// stubRP scripts the ceremony provider so the flow runs without real
// authenticator cryptography.
type stubRP struct {
	credentialID []byte
	signCount    uint32
}

func (s *stubRP) BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error) {
	options := protocol.PublicKeyCredentialCreationOptions{Challenge: protocol.URLEncodedBase64("reg-challenge")}
	for _, opt := range opts {
		opt(&options)
	}
	return &protocol.CredentialCreation{Response: options},
		&webauthn.SessionData{Challenge: "reg-challenge", UserID: user.WebAuthnID()}, nil
}

func (s *stubRP) CreateCredential(webauthn.User, webauthn.SessionData, *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error) {
	return &webauthn.Credential{
		ID:            s.credentialID,
		PublicKey:     []byte("stub-public-key"),
		Authenticator: webauthn.Authenticator{SignCount: 1},
	}, nil
}

func (s *stubRP) BeginLogin(user webauthn.User, opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error) {
	options := protocol.PublicKeyCredentialRequestOptions{Challenge: protocol.URLEncodedBase64("auth-challenge")}
	for _, opt := range opts {
		opt(&options)
	}
	return &protocol.CredentialAssertion{Response: options},
		&webauthn.SessionData{Challenge: "auth-challenge", UserID: user.WebAuthnID()}, nil
}

func (s *stubRP) ValidateLogin(webauthn.User, webauthn.SessionData, *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error) {
	s.signCount++
	return &webauthn.Credential{
		ID:            s.credentialID,
		Authenticator: webauthn.Authenticator{SignCount: s.signCount},
	}, nil
}

// stubParser skips the CBOR attestation decoding the real parser performs.
type stubParser struct {
	rawID []byte
}

func (p stubParser) ParseCreation([]byte) (*protocol.ParsedCredentialCreationData, error) {
	return &protocol.ParsedCredentialCreationData{}, nil
}

func (p stubParser) ParseAssertion([]byte) (*protocol.ParsedCredentialAssertionData, error) {
	parsed := &protocol.ParsedCredentialAssertionData{}
	parsed.RawID = p.rawID
	return parsed, nil
}

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	store := auth.NewMemStore()
	issuer, err := auth.NewIssuer("handler-test-secret")
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	users := auth.NewService(store, issuer)
	rp := &stubRP{credentialID: []byte("stub-key-1"), signCount: 1}
	orc := passkey.NewOrchestrator(rp, challenge.NewMemory(), store)

	api := New(users, issuer, orc, store, ReadyProbe{}, "test",
		WithParser(stubParser{rawID: []byte("stub-key-1")}))
	api.rateBurst = 100
	api.ratePerSec = 100

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
	}
}

func (c *apiClient) do(method, path string, body any, token string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) signupAndSignin(username, password string) string {
	c.t.Helper()
	resp := c.do(http.MethodPost, "/auth/signup", map[string]any{
		"username": username,
		"password": password,
	}, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		c.t.Fatalf("unexpected signup status: %d", resp.StatusCode)
	}

	resp = c.do(http.MethodPost, "/auth/signin", map[string]any{
		"username": username,
		"password": password,
	}, "")
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("unexpected signin status: %d", resp.StatusCode)
	}
	payload := decode[tokenResponse](c.t, resp)
	if payload.Token == "" {
		c.t.Fatalf("empty token issued")
	}
	return payload.Token
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestSignupSigninEscalationFlow(t *testing.T) {
	api := newTestAPI(t)
	token := api.signupAndSignin("alice", "correct horse battery")

	// The password tier can see its profile but not the credential list.
	resp := api.do(http.MethodGet, "/users/profile", nil, token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected profile status: %d", resp.StatusCode)
	}
	profile := decode[profileResponse](t, resp)
	if profile.Username != "alice" || profile.AuthLevel != string(auth.LevelPassword) || profile.PasskeyVerified {
		t.Fatalf("unexpected profile: %+v", profile)
	}

	resp = api.do(http.MethodGet, "/passkeys", nil, token)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 before escalation, got %d", resp.StatusCode)
	}

	// Enroll a passkey.
	resp = api.do(http.MethodGet, "/passkeys/register/options", nil, token)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected register options status: %d", resp.StatusCode)
	}
	resp = api.do(http.MethodPost, "/passkeys/register/verify", map[string]any{
		"response":    map[string]any{"id": "stub"},
		"device_name": "YubiKey 5",
	}, token)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected register verify status: %d", resp.StatusCode)
	}
	verified := decode[verifiedResponse](t, resp)
	if !verified.Verified {
		t.Fatalf("enrollment must report verified")
	}

	// Assert and escalate.
	resp = api.do(http.MethodGet, "/passkeys/auth/options", nil, token)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected auth options status: %d", resp.StatusCode)
	}
	resp = api.do(http.MethodPost, "/passkeys/auth/verify", map[string]any{
		"response": map[string]any{"id": "stub"},
	}, token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected auth verify status: %d", resp.StatusCode)
	}
	escalated := decode[tokenResponse](t, resp)
	if escalated.AuthLevel != string(auth.LevelFull) || escalated.Token == "" {
		t.Fatalf("unexpected escalation response: %+v", escalated)
	}
	if escalated.Token == token {
		t.Fatalf("escalation must mint a new token")
	}

	// The old password-level token still cannot list credentials.
	resp = api.do(http.MethodGet, "/passkeys", nil, token)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("old token must stay at password level, got %d", resp.StatusCode)
	}

	// The full-level token can.
	resp = api.do(http.MethodGet, "/passkeys", nil, escalated.Token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected credential list status: %d", resp.StatusCode)
	}
	list := decode[map[string][]credentialSummary](t, resp)
	items := list["items"]
	if len(items) != 1 || items[0].DeviceName != "YubiKey 5" || items[0].LastUsedAt == nil {
		t.Fatalf("unexpected credential list: %+v", items)
	}

	resp = api.do(http.MethodGet, "/users/profile", nil, escalated.Token)
	profile = decode[profileResponse](t, resp)
	if profile.AuthLevel != string(auth.LevelFull) || !profile.PasskeyVerified {
		t.Fatalf("escalated profile must reflect the full tier: %+v", profile)
	}
}

func TestSignupConflict(t *testing.T) {
	api := newTestAPI(t)
	api.signupAndSignin("alice", "correct horse battery")

	resp := api.do(http.MethodPost, "/auth/signup", map[string]any{
		"username": "alice",
		"password": "another password",
	}, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestSigninRejectsBadCredentials(t *testing.T) {
	api := newTestAPI(t)
	api.signupAndSignin("alice", "correct horse battery")

	for _, body := range []map[string]any{
		{"username": "alice", "password": "wrong"},
		{"username": "nobody", "password": "wrong"},
	} {
		resp := api.do(http.MethodPost, "/auth/signin", body, "")
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401 for %v, got %d", body, resp.StatusCode)
		}
		errBody := decode[map[string]any](t, resp)
		// Unknown user and wrong password must be indistinguishable.
		if errBody["error"] != "invalid credentials" {
			t.Fatalf("unexpected error message: %v", errBody["error"])
		}
	}
}

func TestAssertionOptionsWithoutCredentials(t *testing.T) {
	api := newTestAPI(t)
	token := api.signupAndSignin("alice", "correct horse battery")

	resp := api.do(http.MethodGet, "/passkeys/auth/options", nil, token)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 with no enrolled passkeys, got %d", resp.StatusCode)
	}
}

func TestVerifyWithoutPendingChallenge(t *testing.T) {
	api := newTestAPI(t)
	token := api.signupAndSignin("alice", "correct horse battery")

	resp := api.do(http.MethodPost, "/passkeys/register/verify", map[string]any{
		"response": map[string]any{"id": "stub"},
	}, token)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without a pending challenge, got %d", resp.StatusCode)
	}
}

func TestEndpointsRequireToken(t *testing.T) {
	api := newTestAPI(t)

	for _, path := range []string{
		"/users/profile",
		"/passkeys/register/options",
		"/passkeys/auth/options",
		"/passkeys",
	} {
		resp := api.do(http.MethodGet, path, nil, "")
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401 for %s, got %d", path, resp.StatusCode)
		}
	}
}

func TestHealthAndReady(t *testing.T) {
	api := newTestAPI(t)

	resp := api.do(http.MethodGet, "/healthz", nil, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected healthz status: %d", resp.StatusCode)
	}
	resp = api.do(http.MethodGet, "/readyz", nil, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected readyz status: %d", resp.StatusCode)
	}
}
