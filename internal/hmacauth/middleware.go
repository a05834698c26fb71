// Package hmacauth verifies optional HMAC-SHA256 request signatures.
//
// A signed request carries the unix time in X-Request-Timestamp and
// hex(hmac_sha256(secret, timestamp || body)) in X-Request-Signature. The body is
// buffered once, capped at MaxBody, and handed on unchanged to the next handler.
package hmacauth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	HeaderSignature = "X-Request-Signature"
	HeaderTimestamp = "X-Request-Timestamp"

	// DefaultMaxBody is the largest body a Verifier reads when MaxBody is unset.
	DefaultMaxBody = 64 << 10
)

var (
	ErrMissingSignature = errors.New("missing request signature")
	ErrMissingTimestamp = errors.New("missing request timestamp")
	ErrStaleTimestamp   = errors.New("stale request timestamp")
	ErrInvalidSignature = errors.New("invalid request signature")
	ErrBodyTooLarge     = errors.New("request body too large")
)

// StatusFor maps a verification error to the HTTP status a caller should see.
func StatusFor(err error) int {
	if errors.Is(err, ErrBodyTooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusUnauthorized
}

// RejectFunc writes the response for a request that failed verification.
type RejectFunc func(w http.ResponseWriter, r *http.Request, err error)

// Verifier guards handlers with a shared secret. An empty Secret disables it.
type Verifier struct {
	Secret  string
	MaxSkew time.Duration
	// MaxBody caps the bytes read for the signature. Zero means DefaultMaxBody.
	MaxBody int64
	Now     func() time.Time
	Reject  RejectFunc
}

func (v *Verifier) Enabled() bool {
	return v != nil && v.Secret != ""
}

func (v *Verifier) Middleware(next http.Handler) http.Handler {
	if !v.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := v.verify(r); err != nil {
			v.reject(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (v *Verifier) reject(w http.ResponseWriter, r *http.Request, err error) {
	if v.Reject != nil {
		v.Reject(w, r, err)
		return
	}
	http.Error(w, err.Error(), StatusFor(err))
}

func (v *Verifier) verify(r *http.Request) error {
	sig := strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderSignature)))
	if sig == "" {
		return ErrMissingSignature
	}
	stamp := strings.TrimSpace(r.Header.Get(HeaderTimestamp))
	if err := v.checkTimestamp(stamp); err != nil {
		return err
	}

	body, err := v.bufferBody(r)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(Sign(v.Secret, stamp, body)), []byte(sig)) {
		return ErrInvalidSignature
	}
	return nil
}

// checkTimestamp accepts stamps within MaxSkew of now in either direction.
func (v *Verifier) checkTimestamp(stamp string) error {
	if stamp == "" {
		return ErrMissingTimestamp
	}
	secs, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return errors.Wrap(ErrMissingTimestamp, "not a unix timestamp")
	}
	now := time.Now()
	if v.Now != nil {
		now = v.Now()
	}
	skew := now.Sub(time.Unix(secs, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > v.MaxSkew {
		return ErrStaleTimestamp
	}
	return nil
}

func (v *Verifier) maxBody() int64 {
	if v.MaxBody > 0 {
		return v.MaxBody
	}
	return DefaultMaxBody
}

// bufferBody reads at most MaxBody bytes and replaces r.Body with an identical
// reader. A longer body is rejected rather than signed over a truncated prefix.
func (v *Verifier) bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return []byte{}, nil
	}
	defer r.Body.Close()
	limit := v.maxBody()
	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) || int64(len(body)) > limit {
		return nil, errors.Wrapf(ErrBodyTooLarge, "limit is %d bytes", limit)
	}
	if err != nil {
		return nil, errors.Wrap(err, "read request body")
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

// Sign returns the lowercase hex signature a client sends for body at timestamp.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
