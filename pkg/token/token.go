// Package token mints and verifies the signed session credential that
// carries a view's mount data across the disconnected-to-connected handoff.
//
// The token is an opaque blob: a JSON payload {version, mount data, signed-at}
// followed by a 32-byte HMAC-SHA256 signature, base64url-encoded as one
// string. The client never sees the payload unsigned and cannot distinguish
// why verification failed - signature mismatch, version mismatch, and expiry
// all collapse to ErrStaleToken.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"
)

// Version is the current token format version. Tokens minted by a
// different version of the code are rejected as stale.
const Version = 1

// DefaultMaxAge is the default verification window. Tokens are single-use
// by construction: the tight expiry plus the mount-data binding stand in
// for a nonce store.
const DefaultMaxAge = 2 * time.Minute

// ErrStaleToken is returned for every verification failure. Callers must
// not be able to tell a forged token from an expired one; anything more
// specific would leak an oracle against the signing secret or the clock.
var ErrStaleToken = errors.New("token: stale")

// signatureSize is the length of an HMAC-SHA256 signature.
const signatureSize = sha256.Size

// payload is the signed tuple. Field names are short because the encoded
// token is embedded in every rendered page.
type payload struct {
	Version  int            `json:"v"`
	Data     map[string]any `json:"d"`
	SignedAt int64          `json:"t"` // unix seconds
}

// Signer mints and verifies session tokens for one endpoint.
type Signer struct {
	secret []byte
	salt   string

	// now is replaceable for tests.
	now func() time.Time
}

// NewSigner creates a Signer from the endpoint secret and a salt that
// namespaces this token kind. Both participate in the MAC key.
func NewSigner(secret []byte, salt string) *Signer {
	return &Signer{
		secret: secret,
		salt:   salt,
		now:    time.Now,
	}
}

// Mint signs mountData under the given format version and returns the
// opaque token string.
func (s *Signer) Mint(mountData map[string]any, version int) (string, error) {
	p := payload{
		Version:  version,
		Data:     mountData,
		SignedAt: s.now().Unix(),
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}

	sig := s.sign(raw)

	blob := make([]byte, 0, len(raw)+signatureSize)
	blob = append(blob, raw...)
	blob = append(blob, sig...)

	return base64.URLEncoding.EncodeToString(blob), nil
}

// Verify checks the token's signature, version, and age, and returns the
// embedded mount data. Every failure mode returns ErrStaleToken.
func (s *Signer) Verify(token string, maxAge time.Duration) (map[string]any, error) {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}

	blob, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrStaleToken
	}
	if len(blob) <= signatureSize {
		return nil, ErrStaleToken
	}

	raw := blob[:len(blob)-signatureSize]
	providedSig := blob[len(blob)-signatureSize:]

	// Constant-time comparison against the recomputed signature.
	if !hmac.Equal(providedSig, s.sign(raw)) {
		return nil, ErrStaleToken
	}

	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, ErrStaleToken
	}

	if p.Version != Version {
		return nil, ErrStaleToken
	}

	age := s.now().Sub(time.Unix(p.SignedAt, 0))
	if age < 0 || age > maxAge {
		return nil, ErrStaleToken
	}

	return p.Data, nil
}

// sign computes HMAC-SHA256 over the salt followed by the payload.
func (s *Signer) sign(raw []byte) []byte {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(s.salt))
	h.Write(raw)
	return h.Sum(nil)
}
