package hmacauth

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Unix(1_700_000_000, 0)

func newVerifier() *Verifier {
	return &Verifier{
		Secret:  "secret",
		MaxSkew: time.Minute,
		Now:     func() time.Time { return fixedNow },
	}
}

func signedRequest(body string, ts time.Time, sig string) *http.Request {
	stamp := strconv.FormatInt(ts.Unix(), 10)
	if sig == "" {
		sig = Sign("secret", stamp, []byte(body))
	}
	req := httptest.NewRequest(http.MethodPost, "/transferCrossChain", strings.NewReader(body))
	req.Header.Set(HeaderSignature, sig)
	req.Header.Set(HeaderTimestamp, stamp)
	return req
}

func TestMiddlewareAllowsValidSignatureAndPreservesBody(t *testing.T) {
	body := `{"receiver":"0xabc","destination":"7000"}`
	rec := httptest.NewRecorder()

	var seen string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		seen = string(raw)
		w.WriteHeader(http.StatusOK)
	})

	newVerifier().Middleware(handler).ServeHTTP(rec, signedRequest(body, fixedNow, ""))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, body, seen)
}

func TestMiddlewareRejections(t *testing.T) {
	tests := []struct {
		name string
		req  func() *http.Request
		want error
	}{
		{"bad signature", func() *http.Request { return signedRequest(`{}`, fixedNow, "deadbeef") }, ErrInvalidSignature},
		{"stale", func() *http.Request { return signedRequest(`{}`, fixedNow.Add(-2*time.Minute), "") }, ErrStaleTimestamp},
		{"future", func() *http.Request { return signedRequest(`{}`, fixedNow.Add(2*time.Minute), "") }, ErrStaleTimestamp},
		{"no signature", func() *http.Request {
			r := signedRequest(`{}`, fixedNow, "")
			r.Header.Del(HeaderSignature)
			return r
		}, ErrMissingSignature},
		{"bad timestamp", func() *http.Request {
			r := signedRequest(`{}`, fixedNow, "")
			r.Header.Set(HeaderTimestamp, "yesterday")
			return r
		}, ErrMissingTimestamp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newVerifier()
			var got error
			v.Reject = func(w http.ResponseWriter, _ *http.Request, err error) {
				got = err
				w.WriteHeader(http.StatusUnauthorized)
			}
			rec := httptest.NewRecorder()
			v.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Fatal("handler should not be called")
			})).ServeHTTP(rec, tt.req())

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.True(t, errors.Is(got, tt.want), "got %v", got)
		})
	}
}

func TestMiddlewareDefaultRejection(t *testing.T) {
	rec := httptest.NewRecorder()
	newVerifier().Middleware(http.NotFoundHandler()).ServeHTTP(rec, signedRequest(`{}`, fixedNow, "00"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), ErrInvalidSignature.Error())
}

func TestMiddlewareRejectsBodyOverLimit(t *testing.T) {
	v := newVerifier()
	v.MaxBody = 16
	var got error
	v.Reject = func(w http.ResponseWriter, _ *http.Request, err error) {
		got = err
		w.WriteHeader(StatusFor(err))
	}
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	fits := httptest.NewRecorder()
	v.Middleware(next).ServeHTTP(fits, signedRequest(strings.Repeat("a", 16), fixedNow, ""))
	assert.Equal(t, http.StatusOK, fits.Code)

	over := httptest.NewRecorder()
	v.Middleware(next).ServeHTTP(over, signedRequest(strings.Repeat("a", 17), fixedNow, ""))
	assert.Equal(t, http.StatusRequestEntityTooLarge, over.Code)
	assert.True(t, errors.Is(got, ErrBodyTooLarge), "got %v", got)
}

func TestMaxBodyDefaultsWhenUnset(t *testing.T) {
	assert.Equal(t, int64(DefaultMaxBody), newVerifier().maxBody())
	assert.Equal(t, http.StatusUnauthorized, StatusFor(ErrStaleTimestamp))
}

func TestMiddlewareDisabledWithoutSecret(t *testing.T) {
	v := &Verifier{}
	assert.False(t, v.Enabled())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/transferCrossChain", strings.NewReader(`{}`))
	v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
