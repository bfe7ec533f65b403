// Package signer issues and verifies short-lived tamper-evident tokens
// protecting the authorization round trip and the disconnect and
// publish actions. One keyed MAC serves every purpose; distinct purpose
// prefixes under the shared key give domain separation without a second
// secret.
package signer

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Purpose names the protected action. Tokens signed for one purpose
// never verify for another.
type Purpose string

const (
	// PurposeAuthorize protects the authorization handshake state.
	PurposeAuthorize Purpose = "authz"
	// PurposeDisconnect protects the disconnect form submission.
	PurposeDisconnect Purpose = "disconnect"
	// PurposePublish protects the publish form submission.
	PurposePublish Purpose = "publish"
)

// TokenTTL is how long an issued token verifies.
const TokenTTL = 10 * time.Minute

var errMissingKey = errors.New("signer: key is required")

// Signer computes HMAC-SHA256 over "<purpose>:<token>" and compares
// signatures in constant time.
type Signer struct {
	key   []byte
	clock func() time.Time
}

// New returns a Signer over the shared key.
func New(key []byte, clock func() time.Time) (*Signer, error) {
	if len(key) == 0 {
		return nil, errMissingKey
	}
	if clock == nil {
		clock = time.Now
	}
	return &Signer{key: key, clock: clock}, nil
}

// Issue generates a random token carrying its issue time and returns
// the token with its signature for the given purpose.
func (s *Signer) Issue(purpose Purpose) (token, signature string, err error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return "", "", err
	}
	token = fmt.Sprintf("%s.%d",
		base64.RawURLEncoding.EncodeToString(nonce),
		s.clock().UTC().Unix(),
	)
	return token, s.Sign(purpose, token), nil
}

// Sign returns the hex signature for an arbitrary token value under the
// given purpose.
func (s *Signer) Sign(purpose Purpose, token string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(string(purpose) + ":" + token))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks the signature in constant time and enforces the token's
// embedded issue time against TokenTTL. Tokens issued by Issue always
// carry a timestamp; tokens without one fail verification.
func (s *Signer) Verify(purpose Purpose, token, signature string) bool {
	expected := s.Sign(purpose, token)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return false
	}

	dot := strings.LastIndexByte(token, '.')
	if dot < 0 {
		return false
	}
	issuedAt, err := strconv.ParseInt(token[dot+1:], 10, 64)
	if err != nil {
		return false
	}
	age := s.clock().UTC().Sub(time.Unix(issuedAt, 0).UTC())
	return age >= 0 && age <= TokenTTL
}
