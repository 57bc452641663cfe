package passkey

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// Config describes the relying-party identity a ceremony is scoped to.
type Config struct {
	// RPID is the relying-party identifier, typically the domain name.
	RPID string
	// RPName is the human-readable service name shown by authenticators.
	RPName string
	// RPOrigin is the web origin ceremony responses must come from.
	RPOrigin string
	// CeremonyTimeout bounds how long the client may take to answer.
	CeremonyTimeout time.Duration
}

// Validate checks the relying-party identity is complete.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RPID) == "" {
		return errors.New("passkey: rp id is required")
	}
	if strings.TrimSpace(c.RPName) == "" {
		return errors.New("passkey: rp name is required")
	}
	if strings.TrimSpace(c.RPOrigin) == "" {
		return errors.New("passkey: rp origin is required")
	}
	return nil
}

// RelyingParty is the subset of the ceremony library the orchestrator relies
// on. *webauthn.WebAuthn satisfies it; tests substitute a fake.
type RelyingParty interface {
	BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error)
	CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error)
	BeginLogin(user webauthn.User, opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	ValidateLogin(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error)
}

// NewRelyingParty builds the ceremony provider from Config. Resident keys and
// user verification are preferred rather than required so roaming keys
// without PIN support keep working; attestation is not requested.
func NewRelyingParty(cfg Config) (RelyingParty, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	timeout := cfg.CeremonyTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	wa, err := webauthn.New(&webauthn.Config{
		RPID:          cfg.RPID,
		RPDisplayName: cfg.RPName,
		RPOrigins:     []string{cfg.RPOrigin},
		AuthenticatorSelection: protocol.AuthenticatorSelection{
			ResidentKey:      protocol.ResidentKeyRequirementPreferred,
			UserVerification: protocol.VerificationPreferred,
		},
		AttestationPreference: protocol.PreferNoAttestation,
		Timeouts: webauthn.TimeoutsConfig{
			Registration: webauthn.TimeoutConfig{Enforce: true, Timeout: timeout},
			Login:        webauthn.TimeoutConfig{Enforce: true, Timeout: timeout},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("passkey: configure relying party: %w", err)
	}
	return wa, nil
}
