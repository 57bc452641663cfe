// Package passkey orchestrates the two-phase WebAuthn ceremonies: options
// generation, single-use challenge bookkeeping, response verification and
// credential persistence. Cryptographic verification itself is delegated to
// the ceremony library behind the RelyingParty interface.
package passkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"stepauth.org/internal/auth"
	"stepauth.org/internal/challenge"
)

// fallbackTransports is recorded when the verification result reports no
// transport hints, matching platform authenticators that omit them.
var fallbackTransports = []string{"internal"}

// Orchestrator coordinates ceremonies for one relying party.
type Orchestrator struct {
	rp    RelyingParty
	cache challenge.Cache
	store auth.Store
	ttl   time.Duration
	now   func() time.Time
}

// OrchestratorOption configures Orchestrator behavior.
type OrchestratorOption func(*Orchestrator)

// WithChallengeTTL overrides the single-use challenge lifetime.
func WithChallengeTTL(ttl time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithOrchestratorClock overrides the time source (useful for tests).
func WithOrchestratorClock(fn func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) {
		if fn != nil {
			o.now = fn
		}
	}
}

// NewOrchestrator wires the ceremony provider, challenge cache and store.
func NewOrchestrator(rp RelyingParty, cache challenge.Cache, store auth.Store, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		rp:    rp,
		cache: cache,
		store: store,
		ttl:   challenge.DefaultTTL,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// GenerateEnrollmentOptions starts a registration ceremony for the subject.
// Credentials already bound to the subject populate the exclusion list so an
// authenticator cannot be enrolled twice. No credential is created here.
func (o *Orchestrator) GenerateEnrollmentOptions(ctx context.Context, subject auth.Claims) (*protocol.CredentialCreation, error) {
	stored, err := o.store.Credentials(ctx).ListByUser(ctx, subject.Subject)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	user := newCeremonyUser(subject, stored)

	var regOpts []webauthn.RegistrationOption
	if len(stored) > 0 {
		regOpts = append(regOpts, webauthn.WithExclusions(descriptors(stored)))
	}

	creation, session, err := o.rp.BeginRegistration(user, regOpts...)
	if err != nil {
		return nil, fmt.Errorf("begin registration: %w", err)
	}
	if err := o.stash(ctx, challenge.PurposeRegistration, subject.Subject, session); err != nil {
		return nil, err
	}
	return creation, nil
}

// VerifyEnrollment completes a registration ceremony and persists the new
// credential. The cached challenge is consumed before verification, so a
// failed attempt cannot be retried against the same challenge.
func (o *Orchestrator) VerifyEnrollment(ctx context.Context, subject auth.Claims, response *protocol.ParsedCredentialCreationData, deviceName string) error {
	session, err := o.consume(ctx, challenge.PurposeRegistration, subject.Subject)
	if err != nil {
		return err
	}

	stored, err := o.store.Credentials(ctx).ListByUser(ctx, subject.Subject)
	if err != nil {
		return fmt.Errorf("list credentials: %w", err)
	}
	user := newCeremonyUser(subject, stored)

	credential, err := o.rp.CreateCredential(user, session, response)
	if err != nil {
		return ErrVerificationFailed
	}

	if _, err := o.store.Credentials(ctx).FindByCredentialID(ctx, credential.ID); err == nil {
		return ErrCredentialExists
	} else if err != auth.ErrNotFound {
		return fmt.Errorf("check credential uniqueness: %w", err)
	}

	transports := make([]string, 0, len(credential.Transport))
	for _, t := range credential.Transport {
		transports = append(transports, string(t))
	}
	if len(transports) == 0 {
		transports = fallbackTransports
	}

	record := &auth.Credential{
		UserID:       subject.Subject,
		CredentialID: credential.ID,
		PublicKey:    credential.PublicKey,
		Counter:      credential.Authenticator.SignCount,
		Transports:   transports,
		DeviceName:   deviceName,
		CreatedAt:    o.now().UTC(),
	}
	if err := o.store.Credentials(ctx).Create(ctx, record); err != nil {
		if err == auth.ErrConflict {
			return ErrCredentialExists
		}
		return fmt.Errorf("persist credential: %w", err)
	}

	// The take already removed the challenge; this covers retried requests
	// racing between take and persist on a shared cache.
	_ = o.cache.Invalidate(ctx, challenge.PurposeRegistration, subject.Subject)
	return nil
}

// GenerateAssertionOptions starts an authentication ceremony scoped to the
// subject's enrolled credentials.
func (o *Orchestrator) GenerateAssertionOptions(ctx context.Context, subject auth.Claims) (*protocol.CredentialAssertion, error) {
	stored, err := o.store.Credentials(ctx).ListByUser(ctx, subject.Subject)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	if len(stored) == 0 {
		return nil, ErrNoCredentials
	}
	user := newCeremonyUser(subject, stored)

	assertion, session, err := o.rp.BeginLogin(user)
	if err != nil {
		return nil, fmt.Errorf("begin login: %w", err)
	}
	if err := o.stash(ctx, challenge.PurposeAuthentication, subject.Subject, session); err != nil {
		return nil, err
	}
	return assertion, nil
}

// VerifyAssertion completes an authentication ceremony. On success the
// credential counter advances and the caller may escalate the subject to
// full trust by issuing a new token.
func (o *Orchestrator) VerifyAssertion(ctx context.Context, subject auth.Claims, response *protocol.ParsedCredentialAssertionData) error {
	session, err := o.consume(ctx, challenge.PurposeAuthentication, subject.Subject)
	if err != nil {
		return err
	}

	stored, err := o.store.Credentials(ctx).FindByCredentialID(ctx, response.RawID)
	if err != nil {
		if err == auth.ErrNotFound {
			return ErrUnauthorized
		}
		return fmt.Errorf("resolve credential: %w", err)
	}
	// A credential owned by another account must not authenticate this one.
	if stored.UserID != subject.Subject {
		return ErrUnauthorized
	}

	user := newCeremonyUser(subject, []*auth.Credential{stored})
	validated, err := o.rp.ValidateLogin(user, session, response)
	if err != nil {
		return ErrVerificationFailed
	}

	newCounter := validated.Authenticator.SignCount
	if validated.Authenticator.CloneWarning || !counterAdvanced(stored.Counter, newCounter) {
		return ErrUnauthorized
	}

	usedAt := o.now().UTC()
	stored.Counter = newCounter
	stored.LastUsedAt = &usedAt
	if err := o.store.Credentials(ctx).Save(ctx, stored); err != nil {
		return fmt.Errorf("persist counter: %w", err)
	}

	_ = o.cache.Invalidate(ctx, challenge.PurposeAuthentication, subject.Subject)
	return nil
}

// counterAdvanced applies the clone-detection policy: the reported counter
// must strictly increase, except authenticators that never count are
// tolerated at zero only.
func counterAdvanced(old, new uint32) bool {
	if new == 0 && old == 0 {
		return true
	}
	return new > old
}

func (o *Orchestrator) stash(ctx context.Context, purpose challenge.Purpose, subjectID string, session *webauthn.SessionData) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode ceremony session: %w", err)
	}
	if err := o.cache.Put(ctx, purpose, subjectID, payload, o.ttl); err != nil {
		return fmt.Errorf("cache ceremony session: %w", err)
	}
	return nil
}

func (o *Orchestrator) consume(ctx context.Context, purpose challenge.Purpose, subjectID string) (webauthn.SessionData, error) {
	payload, err := o.cache.TakeOnce(ctx, purpose, subjectID)
	if err != nil {
		if err == challenge.ErrNotFound {
			return webauthn.SessionData{}, ErrChallengeExpired
		}
		return webauthn.SessionData{}, fmt.Errorf("take ceremony session: %w", err)
	}
	var session webauthn.SessionData
	if err := json.Unmarshal(payload, &session); err != nil {
		return webauthn.SessionData{}, fmt.Errorf("decode ceremony session: %w", err)
	}
	return session, nil
}

func descriptors(stored []*auth.Credential) []protocol.CredentialDescriptor {
	out := make([]protocol.CredentialDescriptor, 0, len(stored))
	for _, c := range stored {
		lib := toLibraryCredential(c)
		out = append(out, protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: lib.ID,
			Transport:    lib.Transport,
		})
	}
	return out
}
