package token

import (
	"encoding/base64"
	"errors"
	"testing"
	"time"
)

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	return NewSigner([]byte("test-secret-key-32-bytes-long!!!"), "live-view")
}

func TestMintVerifyRoundTrip(t *testing.T) {
	s := newTestSigner(t)

	mountData := map[string]any{
		"view":    "counter",
		"user_id": "u-42",
	}

	tok, err := s.Mint(mountData, Version)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	got, err := s.Verify(tok, DefaultMaxAge)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}

	if got["view"] != "counter" {
		t.Errorf("view = %v, want counter", got["view"])
	}
	if got["user_id"] != "u-42" {
		t.Errorf("user_id = %v, want u-42", got["user_id"])
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	s := newTestSigner(t)

	tok, err := s.Mint(map[string]any{"view": "counter"}, Version)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"not base64", "!!!not-base64!!!"},
		{"truncated", tok[:len(tok)/2]},
		{"flipped payload byte", flipByte(t, tok, 3)},
		{"flipped signature byte", flipByte(t, tok, -2)},
		{"wrong secret", mintWith(t, []byte("a-completely-different-secret!!!"), "live-view")},
		{"wrong salt", mintWith(t, []byte("test-secret-key-32-bytes-long!!!"), "other-salt")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Verify(tt.token, DefaultMaxAge)
			if !errors.Is(err, ErrStaleToken) {
				t.Errorf("verify = %v, want ErrStaleToken", err)
			}
		})
	}
}

func TestVerifyRejectsVersionMismatch(t *testing.T) {
	s := newTestSigner(t)

	tok, err := s.Mint(map[string]any{"view": "counter"}, Version+1)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	if _, err := s.Verify(tok, DefaultMaxAge); !errors.Is(err, ErrStaleToken) {
		t.Errorf("verify = %v, want ErrStaleToken", err)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	s := newTestSigner(t)

	base := time.Now()
	s.now = func() time.Time { return base }

	tok, err := s.Mint(map[string]any{"view": "counter"}, Version)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	// Still valid just inside the window.
	s.now = func() time.Time { return base.Add(DefaultMaxAge - time.Second) }
	if _, err := s.Verify(tok, DefaultMaxAge); err != nil {
		t.Fatalf("verify inside window: %v", err)
	}

	// Stale past the window.
	s.now = func() time.Time { return base.Add(DefaultMaxAge + time.Second) }
	if _, err := s.Verify(tok, DefaultMaxAge); !errors.Is(err, ErrStaleToken) {
		t.Errorf("verify past window = %v, want ErrStaleToken", err)
	}
}

func TestVerifyRejectsFutureTimestamp(t *testing.T) {
	s := newTestSigner(t)

	base := time.Now()
	s.now = func() time.Time { return base.Add(time.Hour) }

	tok, err := s.Mint(map[string]any{"view": "counter"}, Version)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	s.now = func() time.Time { return base }
	if _, err := s.Verify(tok, DefaultMaxAge); !errors.Is(err, ErrStaleToken) {
		t.Errorf("future-dated token = %v, want ErrStaleToken", err)
	}
}

func TestTokenIsOpaque(t *testing.T) {
	s := newTestSigner(t)

	tok, err := s.Mint(map[string]any{"view": "counter"}, Version)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	// The token must decode as a single base64url blob; anything else
	// would expose internal structure on the wire.
	if _, err := base64.URLEncoding.DecodeString(tok); err != nil {
		t.Errorf("token is not a single base64url blob: %v", err)
	}
}

// flipByte returns the token with one byte of the decoded blob flipped.
// A negative index counts from the end.
func flipByte(t *testing.T, tok string, idx int) string {
	t.Helper()
	blob, err := base64.URLEncoding.DecodeString(tok)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if idx < 0 {
		idx = len(blob) + idx
	}
	blob[idx] ^= 0xFF
	return base64.URLEncoding.EncodeToString(blob)
}

// mintWith mints a token under a different secret or salt.
func mintWith(t *testing.T, secret []byte, salt string) string {
	t.Helper()
	tok, err := NewSigner(secret, salt).Mint(map[string]any{"view": "counter"}, Version)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	return tok
}
