package keyring

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"

	"github.com/hazyhaar/kseo/kseosafe"
)

// KeySize is the length of every key in bytes.
const KeySize = 32

// FallbackKeyID is the key id of a key derived from host secrets.
const FallbackKeyID = "fallback"

// Source resolves key material by id.
type Source interface {
	ActiveKeyID() string
	Key(id string) ([]byte, bool)
}

// Static is an in-memory Source.
type Static struct {
	active   string
	keys     map[string][]byte
	fallback bool
}

// NewStatic returns a Source over keys with active as the write key.
func NewStatic(active string, keys map[string][]byte) (*Static, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("keyring: no keys configured")
	}
	for id, k := range keys {
		if err := kseosafe.ValidateIdentifier(id); err != nil {
			return nil, fmt.Errorf("keyring: key id %q: %w", id, err)
		}
		if len(k) != KeySize {
			return nil, fmt.Errorf("keyring: key %q must be %d bytes, got %d", id, KeySize, len(k))
		}
	}
	if _, ok := keys[active]; !ok {
		return nil, fmt.Errorf("keyring: active key %q not in keyring", active)
	}
	return &Static{active: active, keys: keys}, nil
}

// ParseStatic parses "id:base64key,id2:base64key". If active is empty the
// first listed id is used.
func ParseStatic(list, active string) (*Static, error) {
	keys := make(map[string][]byte)
	first := ""
	for _, item := range strings.Split(list, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		id, enc, ok := strings.Cut(item, ":")
		if !ok {
			return nil, fmt.Errorf("keyring: entry %q is not id:key", item)
		}
		k, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return nil, fmt.Errorf("keyring: key %q: %w", id, err)
		}
		keys[id] = k
		if first == "" {
			first = id
		}
	}
	if active == "" {
		active = first
	}
	return NewStatic(active, keys)
}

// Derived builds a single-key Source from two long-lived host secrets with
// HKDF-SHA256. It is deterministic so that values survive restarts, and weak:
// anyone holding both secrets holds the key.
func Derived(secretA, secretB string) (*Static, error) {
	if err := kseosafe.ValidateSecret([]byte(secretA)); err != nil {
		return nil, fmt.Errorf("keyring: fallback secret: %w", err)
	}
	if secretB == "" {
		return nil, fmt.Errorf("keyring: fallback salt must not be empty")
	}
	r := hkdf.New(sha256.New, []byte(secretA), []byte(secretB), []byte("kseo keyring fallback v1"))
	k := make([]byte, KeySize)
	if _, err := io.ReadFull(r, k); err != nil {
		return nil, fmt.Errorf("keyring: derive: %w", err)
	}
	return &Static{active: FallbackKeyID, keys: map[string][]byte{FallbackKeyID: k}, fallback: true}, nil
}

func (s *Static) ActiveKeyID() string { return s.active }

func (s *Static) Key(id string) ([]byte, bool) {
	k, ok := s.keys[id]
	return k, ok
}

// IsFallback reports whether the source was derived from host secrets.
func (s *Static) IsFallback() bool { return s.fallback }

// Resolve returns a Static source from list when set, otherwise the source
// derived from the host secrets.
func Resolve(list, active, secretA, secretB string) (*Static, error) {
	if strings.TrimSpace(list) != "" {
		return ParseStatic(list, active)
	}
	return Derived(secretA, secretB)
}
