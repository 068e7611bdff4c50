// Package auth resolves bidder credentials presented on the websocket
// channel. The user system itself is an external collaborator; the engine
// only needs credential → bidder id resolution.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrUnauthenticated is returned when a credential is absent or invalid.
var ErrUnauthenticated = errors.New("auth: invalid or missing credential")

// Resolver maps an opaque credential to a bidder id.
type Resolver interface {
	ResolveBidder(credential string) (string, error)
}

// HMACResolver verifies tokens of the form "<bidderID>.<hex signature>",
// where the signature is HMAC-SHA256 over the bidder id with a shared
// process secret. The user service mints these at sign-in.
type HMACResolver struct {
	secret []byte
}

// NewHMACResolver creates a resolver over the given shared secret.
func NewHMACResolver(secret string) *HMACResolver {
	return &HMACResolver{secret: []byte(secret)}
}

// Sign mints a credential for a bidder id. Exposed for the user-service
// collaborator and for tests.
func (r *HMACResolver) Sign(bidderID string) string {
	mac := hmac.New(sha256.New, r.secret)
	mac.Write([]byte(bidderID))
	return bidderID + "." + hex.EncodeToString(mac.Sum(nil))
}

func (r *HMACResolver) ResolveBidder(credential string) (string, error) {
	if credential == "" {
		return "", ErrUnauthenticated
	}
	dot := strings.LastIndexByte(credential, '.')
	if dot <= 0 {
		return "", ErrUnauthenticated
	}
	bidderID, sigHex := credential[:dot], credential[dot+1:]

	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return "", ErrUnauthenticated
	}

	mac := hmac.New(sha256.New, r.secret)
	mac.Write([]byte(bidderID))
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return "", ErrUnauthenticated
	}
	return bidderID, nil
}

// StaticResolver resolves credentials from a fixed map. Test double.
type StaticResolver map[string]string

func (r StaticResolver) ResolveBidder(credential string) (string, error) {
	id, ok := r[credential]
	if !ok {
		return "", ErrUnauthenticated
	}
	return id, nil
}
