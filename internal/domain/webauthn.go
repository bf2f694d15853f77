package domain

import (
	"encoding/base64"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// WebauthnCredential is the verified credential stored on a webauthn
// device after a successful registration ceremony.
type WebauthnCredential struct {
	ID              string   `json:"id" bson:"id"`
	PublicKey       []byte   `json:"public_key,omitempty" bson:"public_key"`
	AttestationType string   `json:"attestation_type" bson:"attestation_type"`
	Transport       []string `json:"transport" bson:"transport"`
	Flags           uint8    `json:"flags" bson:"flags"`

	Authenticator Authenticator `json:"authenticator" bson:"authenticator"`

	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// Authenticator holds authenticator-specific credential data.
type Authenticator struct {
	AAGUID       []byte `json:"aaguid" bson:"aaguid"`
	SignCount    uint32 `json:"sign_count" bson:"sign_count"`
	CloneWarning bool   `json:"clone_warning" bson:"clone_warning"`
}

// AsLibraryCredential converts the stored credential into the go-webauthn
// representation used during ceremony validation.
func (c *WebauthnCredential) AsLibraryCredential() webauthn.Credential {
	transports := make([]protocol.AuthenticatorTransport, 0, len(c.Transport))
	for _, t := range c.Transport {
		transports = append(transports, protocol.AuthenticatorTransport(t))
	}
	// The credential ID is raw bytes on the wire but base64url at rest.
	id, err := base64.RawURLEncoding.DecodeString(c.ID)
	if err != nil {
		id = []byte(c.ID)
	}
	return webauthn.Credential{
		ID:              id,
		PublicKey:       c.PublicKey,
		AttestationType: c.AttestationType,
		Transport:       transports,
		Flags: webauthn.CredentialFlags{
			UserPresent:    c.Flags&0x01 != 0,
			UserVerified:   c.Flags&0x04 != 0,
			BackupEligible: c.Flags&0x08 != 0,
			BackupState:    c.Flags&0x10 != 0,
		},
		Authenticator: webauthn.Authenticator{
			AAGUID:       c.Authenticator.AAGUID,
			SignCount:    c.Authenticator.SignCount,
			CloneWarning: c.Authenticator.CloneWarning,
		},
	}
}

// CredentialFromLibrary builds the stored representation from a credential
// produced by the go-webauthn library.
func CredentialFromLibrary(cred *webauthn.Credential) *WebauthnCredential {
	transports := make([]string, 0, len(cred.Transport))
	for _, t := range cred.Transport {
		transports = append(transports, string(t))
	}
	var flags uint8
	if cred.Flags.UserPresent {
		flags |= 0x01
	}
	if cred.Flags.UserVerified {
		flags |= 0x04
	}
	if cred.Flags.BackupEligible {
		flags |= 0x08
	}
	if cred.Flags.BackupState {
		flags |= 0x10
	}
	return &WebauthnCredential{
		ID:              base64.RawURLEncoding.EncodeToString(cred.ID),
		PublicKey:       cred.PublicKey,
		AttestationType: cred.AttestationType,
		Transport:       transports,
		Flags:           flags,
		Authenticator: Authenticator{
			AAGUID:       cred.Authenticator.AAGUID,
			SignCount:    cred.Authenticator.SignCount,
			CloneWarning: cred.Authenticator.CloneWarning,
		},
		CreatedAt: time.Now(),
	}
}
