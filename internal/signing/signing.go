// Package signing issues expiring HMAC links to attendee QR images so a code
// can be shared without exposing the artifact store.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

var (
	ErrExpired          = errors.New("link expired")
	ErrInvalidSignature = errors.New("invalid signature")
)

// Signer generates and validates HMAC based signatures.
type Signer struct {
	secret []byte
}

// NewSigner creates a Signer.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret}
}

// Sign returns the hex signature for an attendee code link.
func (s *Signer) Sign(attendeeID string, expiresUnix int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "code:%s:%d", attendeeID, expiresUnix)
	return hex.EncodeToString(mac.Sum(nil))
}

// CodePath builds the relative download path for an attendee's code image.
func (s *Signer) CodePath(attendeeID string, expires time.Time) string {
	exp := expires.Unix()
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(exp, 10))
	q.Set("signature", s.Sign(attendeeID, exp))
	return "/codes/" + url.PathEscape(attendeeID) + ".png?" + q.Encode()
}

// Verify checks expiry first, then the signature in constant time.
func (s *Signer) Verify(attendeeID, expires, signature string, now time.Time) error {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	if time.Unix(exp, 0).Before(now) {
		return ErrExpired
	}
	expected := s.Sign(attendeeID, exp)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}
