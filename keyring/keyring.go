// Package keyring encrypts secrets at rest (API credentials, webhook
// secrets, tokens) into self-describing envelopes.
//
// An envelope names its cipher version and key id, so keys can be rotated
// by adding a new active key while older envelopes stay readable. Any
// tampering makes Decrypt fail with ErrDecrypt; partial plaintext is never
// returned.
package keyring

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrDecrypt is returned for every decryption failure: bad framing, unknown
// cipher, missing key or failed authentication.
var ErrDecrypt = errors.New("keyring: decryption failed")

// ErrExplicitKeyRequired is returned by New when WithRequireExplicit is set
// and the source is the host-secret fallback.
var ErrExplicitKeyRequired = errors.New("keyring: explicit keyring required, refusing fallback key")

// Keyring encrypts and decrypts envelopes.
type Keyring struct {
	src     Source
	version string
	logger  *slog.Logger
}

// Option configures a Keyring.
type Option func(*options)

type options struct {
	version         string
	requireExplicit bool
	logger          *slog.Logger
}

// WithCipher selects the cipher used for new envelopes (VersionXChaCha or
// VersionAESGCM). Decrypt accepts both regardless.
func WithCipher(version string) Option { return func(o *options) { o.version = version } }

// WithRequireExplicit refuses a Derived source. Use it in production.
func WithRequireExplicit() Option { return func(o *options) { o.requireExplicit = true } }

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// New returns a Keyring reading keys from src.
func New(src Source, opts ...Option) (*Keyring, error) {
	o := options{version: VersionXChaCha}
	for _, fn := range opts {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.version != VersionXChaCha && o.version != VersionAESGCM {
		return nil, fmt.Errorf("keyring: unknown cipher %q", o.version)
	}
	if src == nil {
		return nil, fmt.Errorf("keyring: nil key source")
	}
	if _, ok := src.Key(src.ActiveKeyID()); !ok {
		return nil, fmt.Errorf("keyring: active key %q not found", src.ActiveKeyID())
	}
	if fb, ok := src.(interface{ IsFallback() bool }); ok && fb.IsFallback() {
		if o.requireExplicit {
			return nil, ErrExplicitKeyRequired
		}
		o.logger.Warn("keyring: using key derived from host secrets; configure an explicit keyring for production")
	}
	return &Keyring{src: src, version: o.version, logger: o.logger}, nil
}

// ActiveKeyID returns the key id used for new envelopes.
func (k *Keyring) ActiveKeyID() string { return k.src.ActiveKeyID() }

// Encrypt seals plaintext under the active key.
func (k *Keyring) Encrypt(plaintext []byte) (string, error) {
	id := k.src.ActiveKeyID()
	key, ok := k.src.Key(id)
	if !ok {
		return "", fmt.Errorf("keyring: active key %q not found", id)
	}
	aead, err := newAEAD(k.version, key)
	if err != nil {
		return "", err
	}
	e := Envelope{Version: k.version, KeyID: id, Nonce: make([]byte, aead.NonceSize())}
	if _, err := rand.Read(e.Nonce); err != nil {
		return "", fmt.Errorf("keyring: nonce: %w", err)
	}
	sealed := aead.Seal(nil, e.Nonce, plaintext, e.AAD())
	e.Ciphertext = sealed[:len(sealed)-tagSize]
	e.Tag = sealed[len(sealed)-tagSize:]
	return e.Marshal(), nil
}

// Decrypt opens an envelope. An unknown key id falls back to the active
// key; authentication still has to succeed.
func (k *Keyring) Decrypt(s string) ([]byte, error) {
	e, err := ParseEnvelope(s)
	if err != nil {
		return nil, ErrDecrypt
	}
	key, ok := k.src.Key(e.KeyID)
	if !ok {
		k.logger.Debug("keyring: unknown key id, trying active key", "key_id", e.KeyID)
		key, ok = k.src.Key(k.src.ActiveKeyID())
		if !ok {
			return nil, ErrDecrypt
		}
	}
	aead, err := newAEAD(e.Version, key)
	if err != nil || len(e.Nonce) != aead.NonceSize() {
		return nil, ErrDecrypt
	}
	sealed := make([]byte, 0, len(e.Ciphertext)+len(e.Tag))
	sealed = append(sealed, e.Ciphertext...)
	sealed = append(sealed, e.Tag...)
	pt, err := aead.Open(nil, e.Nonce, sealed, e.AAD())
	if err != nil {
		return nil, ErrDecrypt
	}
	return pt, nil
}

// Open decrypts s and returns "" on any failure, for callers that treat an
// unreadable secret as absent.
func (k *Keyring) Open(s string) string {
	if s == "" {
		return ""
	}
	pt, err := k.Decrypt(s)
	if err != nil {
		k.logger.Warn("keyring: stored secret unreadable, treating as absent")
		return ""
	}
	return string(pt)
}

func newAEAD(version string, key []byte) (cipher.AEAD, error) {
	switch version {
	case VersionXChaCha:
		return chacha20poly1305.NewX(key)
	case VersionAESGCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	}
	return nil, fmt.Errorf("keyring: unknown cipher %q", version)
}
