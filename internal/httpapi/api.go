package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-webauthn/webauthn/protocol"

	"stepauth.org/internal/audit"
	"stepauth.org/internal/auth"
	"stepauth.org/internal/obs"
)

// ReadyProbe is the readiness check (DB ping when a pool is configured).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// PasskeyService runs the enrollment and assertion ceremonies.
// *passkey.Orchestrator satisfies it; tests substitute a fake.
type PasskeyService interface {
	GenerateEnrollmentOptions(ctx context.Context, subject auth.Claims) (*protocol.CredentialCreation, error)
	VerifyEnrollment(ctx context.Context, subject auth.Claims, response *protocol.ParsedCredentialCreationData, deviceName string) error
	GenerateAssertionOptions(ctx context.Context, subject auth.Claims) (*protocol.CredentialAssertion, error)
	VerifyAssertion(ctx context.Context, subject auth.Claims, response *protocol.ParsedCredentialAssertionData) error
}

// ceremonyParser decodes browser ceremony responses. Factored out so
// handler tests do not have to fabricate CBOR attestation payloads.
type ceremonyParser interface {
	ParseCreation(data []byte) (*protocol.ParsedCredentialCreationData, error)
	ParseAssertion(data []byte) (*protocol.ParsedCredentialAssertionData, error)
}

type libraryParser struct{}

func (libraryParser) ParseCreation(data []byte) (*protocol.ParsedCredentialCreationData, error) {
	return protocol.ParseCredentialCreationResponseBytes(data)
}

func (libraryParser) ParseAssertion(data []byte) (*protocol.ParsedCredentialAssertionData, error) {
	return protocol.ParseCredentialRequestResponseBytes(data)
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	users      *auth.Service
	issuer     *auth.Issuer
	passkeys   PasskeyService
	store      auth.Store
	parser     ceremonyParser
	readyProbe  ReadyProbe
	version     string
	corsOrigins []string
	rateBurst   int
	ratePerSec  int
}

// Option configures the API.
type Option func(*API)

// WithParser swaps the ceremony response parser.
func WithParser(p ceremonyParser) Option {
	return func(a *API) { a.parser = p }
}

// WithAllowedOrigins adds browser origins to the CORS allow list. The
// relying-party origin belongs here.
func WithAllowedOrigins(origins ...string) Option {
	return func(a *API) { a.corsOrigins = append(a.corsOrigins, origins...) }
}

func New(users *auth.Service, issuer *auth.Issuer, passkeys PasskeyService, store auth.Store, rp ReadyProbe, version string, opts ...Option) *API {
	a := &API{
		mux:        http.NewServeMux(),
		users:      users,
		issuer:     issuer,
		passkeys:   passkeys,
		store:      store,
		parser:     libraryParser{},
		readyProbe: rp,
		version:    version,
		rateBurst:  20,
		ratePerSec: 10,
	}
	for _, opt := range opts {
		opt(a)
	}

	// health/ready
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// password tier
	a.mux.HandleFunc("/auth/signup", a.handleSignup)
	a.mux.HandleFunc("/auth/signin", a.handleSignin)

	// passkey ceremonies (password tier or above)
	a.mux.HandleFunc("/passkeys/register/options", a.requireLevel(auth.LevelPassword, a.handleEnrollmentOptions))
	a.mux.HandleFunc("/passkeys/register/verify", a.requireLevel(auth.LevelPassword, a.handleEnrollmentVerify))
	a.mux.HandleFunc("/passkeys/auth/options", a.requireLevel(auth.LevelPassword, a.handleAssertionOptions))
	a.mux.HandleFunc("/passkeys/auth/verify", a.requireLevel(auth.LevelPassword, a.handleAssertionVerify))

	// credential inventory requires the full tier
	a.mux.HandleFunc("/passkeys", a.requireLevel(auth.LevelFull, a.handleListCredentials))

	a.mux.HandleFunc("/users/profile", a.requireLevel(auth.LevelPassword, a.handleProfile))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the full middleware chain around the mux.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h, a.corsOrigins...)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "stepauth-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
