package passkey

import (
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"stepauth.org/internal/auth"
)

// ceremonyUser adapts a token subject and their stored credentials to the
// webauthn.User interface the ceremony library expects.
type ceremonyUser struct {
	id          string
	username    string
	credentials []webauthn.Credential
}

func newCeremonyUser(subject auth.Claims, stored []*auth.Credential) *ceremonyUser {
	creds := make([]webauthn.Credential, 0, len(stored))
	for _, c := range stored {
		creds = append(creds, toLibraryCredential(c))
	}
	return &ceremonyUser{
		id:          subject.Subject,
		username:    subject.Username,
		credentials: creds,
	}
}

func (u *ceremonyUser) WebAuthnID() []byte                         { return []byte(u.id) }
func (u *ceremonyUser) WebAuthnName() string                       { return u.username }
func (u *ceremonyUser) WebAuthnDisplayName() string                { return u.username }
func (u *ceremonyUser) WebAuthnCredentials() []webauthn.Credential { return u.credentials }

// toLibraryCredential rebuilds the library's credential view from the stored
// record: identifier, key material, transport hints and the replay baseline.
func toLibraryCredential(c *auth.Credential) webauthn.Credential {
	transports := make([]protocol.AuthenticatorTransport, 0, len(c.Transports))
	for _, t := range c.Transports {
		transports = append(transports, protocol.AuthenticatorTransport(t))
	}
	return webauthn.Credential{
		ID:        c.CredentialID,
		PublicKey: c.PublicKey,
		Transport: transports,
		Authenticator: webauthn.Authenticator{
			SignCount: c.Counter,
		},
	}
}
