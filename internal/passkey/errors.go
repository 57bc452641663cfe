package passkey

import "errors"

var (
	// ErrChallengeExpired means the ceremony challenge is absent, expired or
	// already consumed. The caller must restart the ceremony.
	ErrChallengeExpired = errors.New("passkey: challenge expired")

	// ErrVerificationFailed means the ceremony response failed cryptographic
	// verification.
	ErrVerificationFailed = errors.New("passkey: verification failed")

	// ErrCredentialExists means the authenticator is already enrolled, by
	// this or any other user.
	ErrCredentialExists = errors.New("passkey: credential already exists")

	// ErrNoCredentials means the subject has nothing enrolled to assert with.
	ErrNoCredentials = errors.New("passkey: no credentials enrolled")

	// ErrUnauthorized covers identity mismatches and counter regressions.
	// It is deliberately indistinct from a bad signature at the surface.
	ErrUnauthorized = errors.New("passkey: unauthorized")
)
