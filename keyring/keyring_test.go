package keyring

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func testKey(b byte) []byte { return bytes.Repeat([]byte{b}, KeySize) }

func newTestKeyring(t *testing.T, opts ...Option) *Keyring {
	t.Helper()
	src, err := NewStatic("k1", map[string][]byte{"k1": testKey(1)})
	if err != nil {
		t.Fatal(err)
	}
	k, err := New(src, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return k
}

func TestRoundTrip_BothCiphers(t *testing.T) {
	for _, v := range []string{VersionXChaCha, VersionAESGCM} {
		t.Run(v, func(t *testing.T) {
			k := newTestKeyring(t, WithCipher(v))
			env, err := k.Encrypt([]byte("sk_live_secret"))
			if err != nil {
				t.Fatal(err)
			}
			e, err := ParseEnvelope(env)
			if err != nil {
				t.Fatal(err)
			}
			if e.Version != v || e.KeyID != "k1" {
				t.Fatalf("envelope header = %s|%s", e.Version, e.KeyID)
			}
			pt, err := k.Decrypt(env)
			if err != nil || string(pt) != "sk_live_secret" {
				t.Fatalf("Decrypt = %q, %v", pt, err)
			}
		})
	}
}

func TestDecrypt_TamperFailsClosed(t *testing.T) {
	// WHAT: Flipping any byte of the decoded envelope makes Decrypt fail.
	// WHY: Corrupted plaintext must never be returned.
	k := newTestKeyring(t)
	env, _ := k.Encrypt([]byte("hello world"))
	raw, _ := base64.StdEncoding.DecodeString(env)

	for i := range raw {
		mut := append([]byte(nil), raw...)
		mut[i] ^= 0x01
		pt, err := k.Decrypt(base64.StdEncoding.EncodeToString(mut))
		if err == nil && string(pt) != "hello world" {
			t.Fatalf("byte %d: tampered envelope returned %q", i, pt)
		}
		if err == nil {
			// Flips inside base64 padding bits can decode to the same bytes.
			continue
		}
		if !errors.Is(err, ErrDecrypt) || pt != nil {
			t.Fatalf("byte %d: err=%v pt=%q", i, err, pt)
		}
	}
}

func TestDecrypt_HeaderIsAuthenticated(t *testing.T) {
	k := newTestKeyring(t)
	env, _ := k.Encrypt([]byte("x"))
	e, _ := ParseEnvelope(env)
	e.KeyID = "other" // unknown id falls back to active key, AAD differs
	if _, err := k.Decrypt(e.Marshal()); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("err = %v, want ErrDecrypt", err)
	}
}

func TestDecrypt_UnknownKeyIDFallsBackToActive(t *testing.T) {
	// WHAT: An envelope sealed under id "old" but with key bytes equal to the
	// current active key still opens after "old" is removed.
	old, _ := NewStatic("old", map[string][]byte{"old": testKey(7)})
	k1, _ := New(old)
	env, _ := k1.Encrypt([]byte("rotated"))

	cur, _ := NewStatic("new", map[string][]byte{"new": testKey(7)})
	k2, _ := New(cur)
	pt, err := k2.Decrypt(env)
	if err != nil || string(pt) != "rotated" {
		t.Fatalf("Decrypt = %q, %v", pt, err)
	}
}

func TestRotation(t *testing.T) {
	src1, _ := NewStatic("a", map[string][]byte{"a": testKey(1)})
	k1, _ := New(src1)
	old, _ := k1.Encrypt([]byte("v1"))

	src2, _ := NewStatic("b", map[string][]byte{"a": testKey(1), "b": testKey(2)})
	k2, _ := New(src2)
	if pt, err := k2.Decrypt(old); err != nil || string(pt) != "v1" {
		t.Fatalf("old envelope: %q, %v", pt, err)
	}
	fresh, _ := k2.Encrypt([]byte("v2"))
	if e, _ := ParseEnvelope(fresh); e.KeyID != "b" {
		t.Fatalf("new envelope key id = %s", e.KeyID)
	}
}

func TestOpen_SafeDefault(t *testing.T) {
	k := newTestKeyring(t)
	if got := k.Open("not-an-envelope"); got != "" {
		t.Fatalf("Open = %q, want empty", got)
	}
	if got := k.Open(""); got != "" {
		t.Fatalf("Open(\"\") = %q", got)
	}
}

func TestDerived(t *testing.T) {
	a := strings.Repeat("s", 40)
	s1, err := Derived(a, "host-salt")
	if err != nil {
		t.Fatal(err)
	}
	s2, _ := Derived(a, "host-salt")
	k1, _ := s1.Key(FallbackKeyID)
	k2, _ := s2.Key(FallbackKeyID)
	if !bytes.Equal(k1, k2) || len(k1) != KeySize {
		t.Fatal("derivation must be deterministic and 32 bytes")
	}
	if !s1.IsFallback() {
		t.Fatal("IsFallback = false")
	}
	if _, err := New(s1, WithRequireExplicit()); !errors.Is(err, ErrExplicitKeyRequired) {
		t.Fatalf("err = %v, want ErrExplicitKeyRequired", err)
	}
	if _, err := Derived("short", "salt"); err == nil {
		t.Fatal("short secret accepted")
	}
}

func TestParseStatic(t *testing.T) {
	k := base64.StdEncoding.EncodeToString(testKey(3))
	s, err := ParseStatic("k1:"+k+", k2:"+k, "")
	if err != nil {
		t.Fatal(err)
	}
	if s.ActiveKeyID() != "k1" {
		t.Fatalf("active = %s", s.ActiveKeyID())
	}
	bad := []struct{ list, active string }{
		{"k1", ""},
		{"k1:!!!", ""},
		{"k1:" + base64.StdEncoding.EncodeToString([]byte("short")), ""},
		{"k1:" + k, "missing"},
		{"bad|id:" + k, ""},
	}
	for _, b := range bad {
		if _, err := ParseStatic(b.list, b.active); err == nil {
			t.Errorf("ParseStatic(%q, %q) accepted", b.list, b.active)
		}
	}
}
