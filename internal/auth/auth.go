// Package auth carries the caller identity established by the upstream
// gateway onto the sync endpoint as signed request headers.
//
// The sync layer never authenticates users itself. A gateway that already
// knows who the caller is signs the identity with a shared secret; the
// endpoint checks the signature and the timestamp skew. With no secret
// configured, headers are trusted as given (development only).
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rickgao/schedule-sync/internal/identity"
)

// Header names.
const (
	HeaderUserID    = "X-Sync-User-Id"
	HeaderUserName  = "X-Sync-User-Name"
	HeaderUserRole  = "X-Sync-User-Role"
	HeaderTimestamp = "X-Sync-Timestamp"
	HeaderSignature = "X-Sync-Signature"
)

// DefaultMaxSkew bounds how old or far-future a signed timestamp may be.
const DefaultMaxSkew = 2 * time.Minute

var (
	ErrMissingIdentity  = errors.New("auth: identity headers missing")
	ErrMissingSignature = errors.New("auth: signature headers missing")
	ErrBadSignature     = errors.New("auth: signature mismatch")
	ErrClockSkew        = errors.New("auth: timestamp outside allowed skew")
)

// Signer produces identity headers for a dialing client.
type Signer struct {
	Secret []byte
	Now    func() time.Time // nil means time.Now
}

// Headers returns the headers asserting id. Without a secret only the
// identity headers are set.
func (s Signer) Headers(id identity.Identity) (http.Header, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}

	h := http.Header{}
	h.Set(HeaderUserID, id.UserID)
	h.Set(HeaderUserName, id.Name)
	h.Set(HeaderUserRole, id.Role)
	if len(s.Secret) == 0 {
		return h, nil
	}

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	timestampMs := now().UnixMilli()

	h.Set(HeaderTimestamp, strconv.FormatInt(timestampMs, 10))
	h.Set(HeaderSignature, sign(s.Secret, timestampMs, id))
	return h, nil
}

// Verifier checks identity headers on an incoming request.
type Verifier struct {
	Secret  []byte
	MaxSkew time.Duration    // Default: 2m
	Now     func() time.Time // nil means time.Now
}

// FromRequest returns the identity asserted by r's headers.
func (v Verifier) FromRequest(r *http.Request) (identity.Identity, error) {
	id := identity.Identity{
		UserID: r.Header.Get(HeaderUserID),
		Name:   r.Header.Get(HeaderUserName),
		Role:   r.Header.Get(HeaderUserRole),
	}
	if err := id.Validate(); err != nil {
		return identity.Identity{}, ErrMissingIdentity
	}
	if len(v.Secret) == 0 {
		return id, nil
	}

	tsHeader := r.Header.Get(HeaderTimestamp)
	sig := r.Header.Get(HeaderSignature)
	if tsHeader == "" || sig == "" {
		return identity.Identity{}, ErrMissingSignature
	}
	timestampMs, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return identity.Identity{}, fmt.Errorf("parse timestamp: %w", err)
	}

	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	maxSkew := v.MaxSkew
	if maxSkew <= 0 {
		maxSkew = DefaultMaxSkew
	}
	skew := now().Sub(time.UnixMilli(timestampMs))
	if skew > maxSkew || skew < -maxSkew {
		return identity.Identity{}, ErrClockSkew
	}

	want := sign(v.Secret, timestampMs, id)
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return identity.Identity{}, ErrBadSignature
	}
	return id, nil
}

// sign computes base64(HMAC-SHA256(secret, timestamp_ms \n user \n name \n role)).
func sign(secret []byte, timestampMs int64, id identity.Identity) string {
	mac := hmac.New(sha256.New, secret)
	fmt.Fprintf(mac, "%d\n%s\n%s\n%s", timestampMs, id.UserID, id.Name, id.Role)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
