// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package client_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/purchasekit/go-response-trust/pkg/cache"
	"github.com/purchasekit/go-response-trust/pkg/client"
	"github.com/purchasekit/go-response-trust/pkg/enforcement"
	"github.com/purchasekit/go-response-trust/pkg/keys"
	"github.com/purchasekit/go-response-trust/pkg/message"
	"github.com/purchasekit/go-response-trust/pkg/retry"
	"github.com/purchasekit/go-response-trust/pkg/signature/signaturetest"
	"github.com/purchasekit/go-response-trust/pkg/verification"
)

const (
	requestTime int64 = 1700000000
	subscriber        = "/v1/subscribers/alice"
	etag              = `"abc123"`
)

var body = []byte(`{"subscriber":"alice","entitlements":["pro"]}`)

// backend signs the payload of every response for the nonce of the request.
type backend struct {
	signer   signaturetest.Signer
	t        *testing.T
	headers  []http.Header
	requests atomic.Int32
	mu       sync.Mutex
}

func newBackend(t *testing.T) *backend {
	return &backend{
		t:      t,
		signer: signaturetest.NewEd25519(t),
	}
}

func (b *backend) record(r *http.Request) {
	b.requests.Add(1)

	b.mu.Lock()
	b.headers = append(b.headers, r.Header.Clone())
	b.mu.Unlock()
}

func (b *backend) seen() []http.Header {
	b.mu.Lock()
	defer b.mu.Unlock()

	return slices.Clone(b.headers)
}

func (b *backend) sign(w http.ResponseWriter, r *http.Request, payload []byte) {
	value := r.Header.Get(message.NonceHeaderKey)
	if value == "" {
		return
	}

	nonce, err := message.DecodeNonce(value)
	if !assert.NoError(b.t, err) {
		return
	}

	for name, values := range signaturetest.SignedHeader(b.t, b.signer, nonce, requestTime, payload) {
		w.Header()[name] = values
	}
}

// serve answers with body, or "not modified" when the request offers the current ETag.
func (b *backend) serve(w http.ResponseWriter, r *http.Request) {
	b.record(r)

	if r.Header.Get(message.IfNoneMatchHeaderKey) == etag {
		b.sign(w, r, []byte(etag))
		w.WriteHeader(http.StatusNotModified)

		return
	}

	b.sign(w, r, body)
	w.Header().Set("ETag", etag)
	w.WriteHeader(http.StatusOK)
	w.Write(body) //nolint:errcheck
}

func (b *backend) modes(t *testing.T) (informational, enforced verification.Mode) {
	key, err := keys.Load(b.signer.Certificate())
	require.NoError(t, err)

	informational, err = verification.Informational(key)
	require.NoError(t, err)

	enforced, err = verification.Enforced(key)
	require.NoError(t, err)

	return informational, enforced
}

func noSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

func newClient(t *testing.T, url string, mode verification.Mode, opts ...client.Option) *client.Client {
	t.Helper()

	logger := zaptest.NewLogger(t)

	controller := enforcement.NewController(mode, enforcement.WithLogger(logger))

	c, err := client.New(url, controller, append([]client.Option{
		client.WithLogger(logger),
		client.WithRetryPolicy(retry.NewPolicy(retry.WithSleep(noSleep), retry.WithLogger(logger))),
	}, opts...)...)
	require.NoError(t, err)

	return c
}

func TestVerifiedExchange(t *testing.T) {
	b := newBackend(t)
	srv := httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(srv.Close)

	_, enforced := b.modes(t)

	c := newClient(t, srv.URL, enforced)

	resp, err := c.Do(t.Context(), client.Request{Path: subscriber})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, body, resp.Body)
	assert.Equal(t, verification.Verified, resp.VerificationResult)
	assert.True(t, resp.Verified())
	assert.False(t, resp.FromCache)

	headers := b.seen()
	require.Len(t, headers, 1)

	nonce, err := message.DecodeNonce(headers[0].Get(message.NonceHeaderKey))
	require.NoError(t, err)
	assert.Len(t, nonce, message.NonceSize)
	assert.NotEmpty(t, headers[0].Get(message.RequestIDHeaderKey))
	assert.Empty(t, headers[0].Get(message.RetryCountHeaderKey))
	assert.Empty(t, headers[0].Get(message.IfNoneMatchHeaderKey))
}

func TestDisabledSendsNoNonce(t *testing.T) {
	b := newBackend(t)
	srv := httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(srv.Close)

	c := newClient(t, srv.URL, nil)

	resp, err := c.Do(t.Context(), client.Request{Path: subscriber})
	require.NoError(t, err)
	assert.Equal(t, verification.NotVerified, resp.VerificationResult)
	assert.Equal(t, body, resp.Body)

	headers := b.seen()
	require.Len(t, headers, 1)
	assert.Empty(t, headers[0].Get(message.NonceHeaderKey))
}

func TestTamperedResponse(t *testing.T) {
	b := newBackend(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.record(r)
		b.sign(w, r, body)
		w.Write([]byte(`{"subscriber":"alice","entitlements":["pro","premium"]}`)) //nolint:errcheck
	}))
	t.Cleanup(srv.Close)

	informational, enforced := b.modes(t)

	t.Run("enforced", func(t *testing.T) {
		c := newClient(t, srv.URL, enforced)

		_, err := c.Do(t.Context(), client.Request{Path: subscriber})
		require.ErrorIs(t, err, enforcement.ErrSignatureVerificationFailed)

		var verificationErr *enforcement.SignatureVerificationFailedError

		require.ErrorAs(t, err, &verificationErr)
		assert.Equal(t, subscriber, verificationErr.Path)
	})

	t.Run("informational", func(t *testing.T) {
		c := newClient(t, srv.URL, informational)

		resp, err := c.Do(t.Context(), client.Request{Path: subscriber})
		require.NoError(t, err)
		assert.Equal(t, verification.Failed, resp.VerificationResult)
	})

	t.Run("disabled", func(t *testing.T) {
		c := newClient(t, srv.URL, verification.Disabled())

		resp, err := c.Do(t.Context(), client.Request{Path: subscriber})
		require.NoError(t, err)
		assert.Equal(t, verification.NotVerified, resp.VerificationResult)
	})
}

func TestMissingSignature(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(body) //nolint:errcheck
	}))
	t.Cleanup(srv.Close)

	informational, enforced := newBackend(t).modes(t)

	_, err := newClient(t, srv.URL, enforced).Do(t.Context(), client.Request{Path: subscriber})
	require.ErrorIs(t, err, enforcement.ErrSignatureVerificationFailed)

	resp, err := newClient(t, srv.URL, informational).Do(t.Context(), client.Request{Path: subscriber})
	require.NoError(t, err)
	assert.Equal(t, verification.Failed, resp.VerificationResult)
}

func TestNotModified(t *testing.T) {
	b := newBackend(t)
	srv := httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(srv.Close)

	_, enforced := b.modes(t)

	c := newClient(t, srv.URL, enforced)

	first, err := c.Do(t.Context(), client.Request{Path: subscriber})
	require.NoError(t, err)
	require.True(t, first.Verified())

	second, err := c.Do(t.Context(), client.Request{Path: subscriber})
	require.NoError(t, err)

	assert.True(t, second.FromCache)
	assert.Equal(t, http.StatusOK, second.StatusCode)
	assert.Equal(t, body, second.Body)
	assert.Equal(t, verification.Verified, second.VerificationResult)

	headers := b.seen()
	require.Len(t, headers, 2)
	assert.Equal(t, etag, headers[1].Get(message.IfNoneMatchHeaderKey))
}

func TestUnverifiedEntryNotOffered(t *testing.T) {
	b := newBackend(t)
	srv := httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(srv.Close)

	informational, _ := b.modes(t)

	etags := cache.NewETagCache(0)
	etags.Store(cache.Key(http.MethodGet, subscriber), cache.Entry{
		ETag:               etag,
		Body:               []byte("forged"),
		StatusCode:         http.StatusOK,
		VerificationResult: verification.NotVerified,
	})

	c := newClient(t, srv.URL, informational, client.WithCache(etags))

	resp, err := c.Do(t.Context(), client.Request{Path: subscriber})
	require.NoError(t, err)
	assert.False(t, resp.FromCache)
	assert.Equal(t, body, resp.Body)
	assert.True(t, resp.Verified())

	headers := b.seen()
	require.Len(t, headers, 1)
	assert.Empty(t, headers[0].Get(message.IfNoneMatchHeaderKey))

	entry, ok := etags.Get(cache.Key(http.MethodGet, subscriber))
	require.True(t, ok)
	assert.Equal(t, verification.Verified, entry.VerificationResult)
}

func TestEnablingVerificationInvalidatesCache(t *testing.T) {
	b := newBackend(t)
	srv := httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(srv.Close)

	_, enforced := b.modes(t)

	c := newClient(t, srv.URL, verification.Disabled())

	_, err := c.Do(t.Context(), client.Request{Path: subscriber})
	require.NoError(t, err)
	assert.Equal(t, 1, c.Cache().Len())

	c.SetVerificationMode(enforced)
	assert.Equal(t, 0, c.Cache().Len())
	assert.Equal(t, verification.LevelEnforced, c.Controller().Mode().Level())

	resp, err := c.Do(t.Context(), client.Request{Path: subscriber})
	require.NoError(t, err)
	assert.False(t, resp.FromCache)
	assert.True(t, resp.Verified())
}

// evictingDoer drops the cached entry right before the request is sent.
type evictingDoer struct {
	etags *cache.ETagCache
	key   string
	once  sync.Once
}

func (d *evictingDoer) Do(req *http.Request) (*http.Response, error) {
	d.once.Do(func() {
		d.etags.Delete(d.key)
	})

	return http.DefaultClient.Do(req)
}

func TestStaleETagRefetch(t *testing.T) {
	b := newBackend(t)
	srv := httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(srv.Close)

	_, enforced := b.modes(t)

	etags := cache.NewETagCache(0)

	primer := newClient(t, srv.URL, enforced, client.WithCache(etags))

	_, err := primer.Do(t.Context(), client.Request{Path: subscriber})
	require.NoError(t, err)

	c := newClient(t, srv.URL, enforced,
		client.WithCache(etags),
		client.WithDoer(&evictingDoer{etags: etags, key: cache.Key(http.MethodGet, subscriber)}),
	)

	resp, err := c.Do(t.Context(), client.Request{Path: subscriber})
	require.NoError(t, err)
	assert.False(t, resp.FromCache)
	assert.Equal(t, body, resp.Body)
	assert.True(t, resp.Verified())

	headers := b.seen()
	require.Len(t, headers, 3)
	assert.Equal(t, etag, headers[1].Get(message.IfNoneMatchHeaderKey))
	assert.Empty(t, headers[2].Get(message.IfNoneMatchHeaderKey))
}

func TestRetryTooManyRequests(t *testing.T) {
	b := newBackend(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if b.requests.Load() < 3 {
			b.record(r)
			w.WriteHeader(http.StatusTooManyRequests)

			return
		}

		b.serve(w, r)
	}))
	t.Cleanup(srv.Close)

	_, enforced := b.modes(t)

	c := newClient(t, srv.URL, enforced)

	resp, err := c.Do(t.Context(), client.Request{Path: subscriber})
	require.NoError(t, err)
	assert.True(t, resp.Verified())

	headers := b.seen()
	require.Len(t, headers, 4)

	nonces := map[string]struct{}{}

	for i, h := range headers {
		if i == 0 {
			assert.Empty(t, h.Get(message.RetryCountHeaderKey))
		} else {
			assert.Equal(t, strconv.Itoa(i), h.Get(message.RetryCountHeaderKey))
		}

		assert.Equal(t, headers[0].Get(message.RequestIDHeaderKey), h.Get(message.RequestIDHeaderKey))

		nonces[h.Get(message.NonceHeaderKey)] = struct{}{}
	}

	assert.Len(t, nonces, 4, "every attempt carries a fresh nonce")
}

func TestRetryExhausted(t *testing.T) {
	var requests atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	c := newClient(t, srv.URL, nil)

	_, err := c.Do(t.Context(), client.Request{Path: subscriber})
	require.ErrorIs(t, err, retry.ErrRetryExhausted)
	assert.EqualValues(t, 4, requests.Load())
}

func TestNotRetryable(t *testing.T) {
	var requests atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		w.Header().Set(message.IsRetryableHeaderKey, "false")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	c := newClient(t, srv.URL, nil)

	_, err := c.Do(t.Context(), client.Request{Path: subscriber})

	var statusErr *retry.StatusError

	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
	assert.EqualValues(t, 1, requests.Load())
}

func TestNotFoundIsVerified(t *testing.T) {
	b := newBackend(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.record(r)
		b.sign(w, r, []byte(`{"error":"not found"}`))
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"not found"}`)) //nolint:errcheck
	}))
	t.Cleanup(srv.Close)

	_, enforced := b.modes(t)

	c := newClient(t, srv.URL, enforced)

	resp, err := c.Do(t.Context(), client.Request{Path: subscriber})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.True(t, resp.Verified())
	assert.Equal(t, 0, c.Cache().Len())
}

func TestPost(t *testing.T) {
	b := newBackend(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.record(r)

		received, err := io.ReadAll(r.Body)
		if !assert.NoError(t, err) {
			return
		}

		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		b.sign(w, r, received)
		w.Header().Set("ETag", etag)
		w.Write(received) //nolint:errcheck
	}))
	t.Cleanup(srv.Close)

	_, enforced := b.modes(t)

	c := newClient(t, srv.URL, enforced)

	resp, err := c.Do(t.Context(), client.Request{
		Method: http.MethodPost,
		Path:   "/v1/receipts",
		Header: http.Header{"Content-Type": {"application/json"}},
		Body:   []byte(`{"receipt":"r1"}`),
	})
	require.NoError(t, err)
	assert.True(t, resp.Verified())
	assert.Equal(t, []byte(`{"receipt":"r1"}`), resp.Body)
	assert.Equal(t, 0, c.Cache().Len())
}

func TestConcurrentGetsShareExchange(t *testing.T) {
	b := newBackend(t)
	release := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release

		b.serve(w, r)
	}))
	t.Cleanup(srv.Close)

	_, enforced := b.modes(t)

	c := newClient(t, srv.URL, enforced)

	const callers = 8

	var eg errgroup.Group

	for range callers {
		eg.Go(func() error {
			resp, err := c.Do(t.Context(), client.Request{Path: subscriber})
			if err != nil {
				return err
			}

			if !resp.Verified() {
				return errors.New("response is not verified")
			}

			return nil
		})
	}

	time.Sleep(200 * time.Millisecond)
	close(release)

	require.NoError(t, eg.Wait())
	assert.EqualValues(t, 1, b.requests.Load())
}

func TestModeSwitchDuringExchange(t *testing.T) {
	b := newBackend(t)
	arrived := make(chan struct{})
	release := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.record(r)
		close(arrived)
		<-release

		b.sign(w, r, []byte("something else"))
		w.Write(body) //nolint:errcheck
	}))
	t.Cleanup(srv.Close)

	_, enforced := b.modes(t)

	c := newClient(t, srv.URL, enforced)

	type result struct {
		err    error
		result verification.Result
	}

	done := make(chan result, 1)

	go func() {
		resp, err := c.Do(t.Context(), client.Request{Path: subscriber})
		if err != nil {
			done <- result{err: err}

			return
		}

		done <- result{result: resp.VerificationResult}
	}()

	<-arrived
	c.SetVerificationMode(verification.Disabled())
	close(release)

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, verification.NotVerified, res.result)
}

func TestContextCancelled(t *testing.T) {
	release := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		<-release
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	c := newClient(t, srv.URL, nil)

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Do(ctx, client.Request{Path: subscriber})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNew(t *testing.T) {
	_, err := client.New("http://localhost", nil)
	require.Error(t, err)

	_, err = client.New("://bad", enforcement.NewController(nil))
	require.Error(t, err)
}

func TestResponseTooLarge(t *testing.T) {
	const limit = 1024

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		size := limit
		if r.URL.Path == "/large" {
			size = limit + 100
		}

		w.Write(bytes.Repeat([]byte("x"), size)) //nolint:errcheck
	}))
	t.Cleanup(srv.Close)

	c := newClient(t, srv.URL, verification.Disabled(), client.WithMaxBodySize(limit))

	resp, err := c.Do(t.Context(), client.Request{Path: "/exact"})
	require.NoError(t, err)
	assert.Len(t, resp.Body, limit)

	_, err = c.Do(t.Context(), client.Request{Path: "/large"})
	require.ErrorIs(t, err, client.ErrResponseTooLarge)
}

func TestSharedExchangeCallerDeadline(t *testing.T) {
	b := newBackend(t)
	arrived := make(chan struct{})

	var once sync.Once

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() { close(arrived) })

		select {
		case <-time.After(300 * time.Millisecond):
		case <-r.Context().Done():
			return
		}

		b.serve(w, r)
	}))
	t.Cleanup(srv.Close)

	_, enforced := b.modes(t)

	c := newClient(t, srv.URL, enforced)

	shortCtx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	defer cancel()

	shortErr := make(chan error, 1)

	go func() {
		_, err := c.Do(shortCtx, client.Request{Path: subscriber})

		shortErr <- err
	}()

	<-arrived

	resp, err := c.Do(t.Context(), client.Request{Path: subscriber})
	require.NoError(t, err)
	assert.True(t, resp.Verified())
	assert.Equal(t, body, resp.Body)

	require.ErrorIs(t, <-shortErr, context.DeadlineExceeded)
}

func TestStaleETagSharesRetryBudget(t *testing.T) {
	b := newBackend(t)

	var busy atomic.Bool

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if busy.Load() && r.Header.Get(message.IfNoneMatchHeaderKey) == "" {
			b.record(r)
			w.WriteHeader(http.StatusTooManyRequests)

			return
		}

		b.serve(w, r)
	}))
	t.Cleanup(srv.Close)

	_, enforced := b.modes(t)

	etags := cache.NewETagCache(0)

	_, err := newClient(t, srv.URL, enforced, client.WithCache(etags)).Do(t.Context(), client.Request{Path: subscriber})
	require.NoError(t, err)

	busy.Store(true)

	c := newClient(t, srv.URL, enforced,
		client.WithCache(etags),
		client.WithDoer(&evictingDoer{etags: etags, key: cache.Key(http.MethodGet, subscriber)}),
	)

	_, err = c.Do(t.Context(), client.Request{Path: subscriber})
	require.ErrorIs(t, err, retry.ErrRetryExhausted)

	headers := b.seen()
	require.Len(t, headers, 1+retry.DefaultMaxRetries+1, "the refetch takes one of the attempts")
	assert.Equal(t, etag, headers[1].Get(message.IfNoneMatchHeaderKey))
	assert.Equal(t, "1", headers[2].Get(message.RetryCountHeaderKey))
	assert.Equal(t, "3", headers[4].Get(message.RetryCountHeaderKey))
}
