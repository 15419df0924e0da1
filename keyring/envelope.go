package keyring

import (
	"encoding/base64"
	"errors"
	"strings"
)

// Cipher versions written in the envelope.
const (
	VersionXChaCha = "xc1" // XChaCha20-Poly1305, 24-byte nonce
	VersionAESGCM  = "ag1" // AES-256-GCM, 12-byte nonce
)

const tagSize = 16

var errFraming = errors.New("keyring: malformed envelope")

// Envelope is the decoded form of an encrypted value.
type Envelope struct {
	Version    string
	KeyID      string
	Nonce      []byte
	Tag        []byte
	Ciphertext []byte
}

// AAD returns the additional authenticated data bound to the ciphertext.
func (e Envelope) AAD() []byte {
	return []byte(e.Version + "|" + e.KeyID)
}

// Marshal encodes the envelope as base64(version|keyId|nonce|tag|ciphertext)
// with the three binary fields individually base64 encoded.
func (e Envelope) Marshal() string {
	b64 := base64.StdEncoding
	inner := strings.Join([]string{
		e.Version,
		e.KeyID,
		b64.EncodeToString(e.Nonce),
		b64.EncodeToString(e.Tag),
		b64.EncodeToString(e.Ciphertext),
	}, "|")
	return b64.EncodeToString([]byte(inner))
}

// ParseEnvelope decodes s and checks its framing. It does not authenticate.
func ParseEnvelope(s string) (Envelope, error) {
	b64 := base64.StdEncoding
	raw, err := b64.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return Envelope{}, errFraming
	}
	parts := strings.Split(string(raw), "|")
	if len(parts) != 5 || parts[0] == "" || parts[1] == "" {
		return Envelope{}, errFraming
	}
	e := Envelope{Version: parts[0], KeyID: parts[1]}
	if e.Nonce, err = b64.DecodeString(parts[2]); err != nil {
		return Envelope{}, errFraming
	}
	if e.Tag, err = b64.DecodeString(parts[3]); err != nil || len(e.Tag) != tagSize {
		return Envelope{}, errFraming
	}
	if e.Ciphertext, err = b64.DecodeString(parts[4]); err != nil {
		return Envelope{}, errFraming
	}
	return e, nil
}
