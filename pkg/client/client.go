// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package client provides the HTTP client which verifies and retries backend responses.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/purchasekit/go-response-trust/pkg/cache"
	"github.com/purchasekit/go-response-trust/pkg/enforcement"
	"github.com/purchasekit/go-response-trust/pkg/message"
	"github.com/purchasekit/go-response-trust/pkg/retry"
	"github.com/purchasekit/go-response-trust/pkg/trust"
	"github.com/purchasekit/go-response-trust/pkg/verification"
)

// DoS Protection.
const defaultMaxBodySize = 16 * 1024 * 1024

// ErrResponseTooLarge is returned when a response body exceeds the configured limit.
var ErrResponseTooLarge = errors.New("response body too large")

// errStaleETag is returned by an exchange which got "not modified" for an ETag the cache no longer holds.
var errStaleETag = errors.New("not modified response without a cached entry")

// Request is a logical request to the backend.
type Request struct {
	Header http.Header
	Method string
	// Path is the request path relative to the base URL, it may contain a query.
	Path string
	Body []byte
}

// Client sends requests to the backend and returns trusted responses.
//
// Client is safe for concurrent use.
type Client struct {
	doer       Doer
	baseURL    *url.URL
	controller *enforcement.Controller
	evaluator  *trust.Evaluator
	retry      *retry.Policy
	etags      *cache.ETagCache
	limiter    *rate.Limiter
	logger     *zap.Logger
	inflight   singleflight.Group
	maxBody    int64
}

// New creates a new Client.
//
// The ETag cache is registered with the controller, so enabling verification invalidates it.
func New(baseURL string, controller *enforcement.Controller, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	if controller == nil {
		return nil, errors.New("controller is required")
	}

	c := &Client{
		baseURL:    u,
		controller: controller,
		maxBody:    defaultMaxBodySize,
	}

	for _, o := range opts {
		o(c)
	}

	if c.logger == nil {
		c.logger = zap.NewNop()
	}

	if c.doer == nil {
		c.doer = http.DefaultClient
	}

	if c.retry == nil {
		c.retry = retry.NewPolicy(retry.WithLogger(c.logger))
	}

	if c.evaluator == nil {
		c.evaluator = trust.NewEvaluator(trust.WithLogger(c.logger))
	}

	if c.etags == nil {
		c.etags = cache.NewETagCache(0)
	}

	controller.AddInvalidator(c.etags)

	return c, nil
}

// Controller returns the enforcement controller.
func (c *Client) Controller() *enforcement.Controller {
	return c.controller
}

// Cache returns the ETag cache.
func (c *Client) Cache() *cache.ETagCache {
	return c.etags
}

// SetVerificationMode switches the verification mode at runtime.
func (c *Client) SetVerificationMode(mode verification.Mode) {
	c.controller.SetMode(mode)
}

// Do sends the request and returns the trusted response.
//
// Concurrent identical GET requests without a body share a single exchange. If the caller
// which started it gives up, the other callers run their own exchange.
// Errors are transport errors (passed through), *retry.StatusError, retry.ErrRetryExhausted,
// ErrResponseTooLarge and, under the enforced mode, *enforcement.SignatureVerificationFailedError.
func (c *Client) Do(ctx context.Context, req Request) (*trust.TrustedResponse, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	if req.Method != http.MethodGet || len(req.Body) > 0 || len(req.Header) > 0 {
		return c.exchange(ctx, req)
	}

	ch := c.inflight.DoChan(cache.Key(req.Method, req.Path), func() (any, error) {
		return c.exchange(ctx, req)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			// the shared exchange was cancelled or timed out by the caller which started it
			if res.Shared && ctx.Err() == nil && isContextError(res.Err) {
				c.logger.Debug("shared exchange aborted by its caller, retrying alone", zap.String("path", req.Path), zap.Error(res.Err))

				return c.exchange(ctx, req)
			}

			return nil, res.Err
		}

		return res.Val.(*trust.TrustedResponse), nil //nolint:forcetypeassert
	}
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// exchange runs the attempts of a single logical request.
//
// A "not modified" answer for an entry the cache no longer holds is refetched without
// the ETag, the refetch takes one attempt of the retry budget.
func (c *Client) exchange(ctx context.Context, req Request) (*trust.TrustedResponse, error) {
	requestID := uuid.NewString()
	cacheKey := cache.Key(req.Method, req.Path)
	logger := c.logger.With(zap.String("request_id", requestID), zap.String("path", req.Path))
	useETag := true

	return retry.Do(ctx, c.retry, func(ctx context.Context, attempt retry.Attempt) (*trust.TrustedResponse, retry.Status, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, retry.Status{}, err
			}
		}

		enabled := verification.IsEnabled(c.controller.Mode())

		var (
			nonce []byte
			etag  string
			err   error
		)

		if enabled {
			if nonce, err = message.NewNonce(); err != nil {
				return nil, retry.Status{}, err
			}
		}

		if useETag && req.Method == http.MethodGet {
			etag = c.etags.ETagFor(cacheKey, enabled)
		}

		httpReq, err := c.newRequest(ctx, req, requestID, nonce, etag, attempt)
		if err != nil {
			return nil, retry.Status{}, err
		}

		httpResp, err := c.doer.Do(httpReq)
		if err != nil {
			return nil, retry.Status{}, err
		}

		body, err := c.readBody(httpResp)
		if err != nil {
			return nil, retry.Status{}, err
		}

		status := retry.Status{Code: httpResp.StatusCode, Header: httpResp.Header}

		if c.retry.IsRecoverable(status.Code) {
			logger.Debug("recoverable status", zap.Int("status", status.Code), zap.Int("attempt", attempt.Number))

			return nil, status, nil
		}

		// the mode active when the response arrived wins over changes made during the exchange
		mode := c.controller.Mode()

		result := c.evaluator.Evaluate(mode, trust.Exchange{
			Response: &message.Response{
				StatusCode: httpResp.StatusCode,
				Header:     httpResp.Header,
				Body:       body,
			},
			Path:      req.Path,
			KnownETag: etag,
			Nonce:     nonce,
		})

		outcome := enforcement.Decide(mode, req.Path, result)
		if outcome.Aborted() {
			logger.Error("aborting request", zap.Stringer("mode", mode), zap.Error(outcome.Err))

			return nil, status, outcome.Err
		}

		if httpResp.StatusCode == http.StatusNotModified {
			entry, ok := c.etags.Get(cacheKey)
			if !ok || etag == "" || entry.ETag != etag {
				logger.Debug("refetching without etag")

				useETag = false

				return nil, status, fmt.Errorf("%w: %w", retry.ErrRetryImmediately, errStaleETag)
			}

			return &trust.TrustedResponse{
				StatusCode:         entry.StatusCode,
				Header:             entry.Header,
				Body:               entry.Body,
				VerificationResult: outcome.Result,
				FromCache:          true,
			}, status, nil
		}

		if req.Method == http.MethodGet && httpResp.StatusCode == http.StatusOK {
			c.etags.Store(cacheKey, cache.Entry{
				ETag:               message.HeaderValue(httpResp.Header, message.ETagHeaderKey),
				Body:               body,
				Header:             httpResp.Header,
				StatusCode:         httpResp.StatusCode,
				VerificationResult: outcome.Result,
			})
		}

		return &trust.TrustedResponse{
			StatusCode:         httpResp.StatusCode,
			Header:             httpResp.Header,
			Body:               body,
			VerificationResult: outcome.Result,
		}, status, nil
	})
}

func (c *Client) newRequest(ctx context.Context, req Request, requestID string, nonce []byte, etag string, attempt retry.Attempt) (*http.Request, error) {
	ref, err := url.Parse(req.Path)
	if err != nil {
		return nil, fmt.Errorf("invalid request path %q: %w", req.Path, err)
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.baseURL.ResolveReference(ref).String(), body)
	if err != nil {
		return nil, err
	}

	for name, values := range req.Header {
		for _, value := range values {
			httpReq.Header.Add(name, value)
		}
	}

	httpReq.Header.Set(message.RequestIDHeaderKey, requestID)

	if nonce != nil {
		httpReq.Header.Set(message.NonceHeaderKey, message.EncodeNonce(nonce))
	}

	if etag != "" {
		httpReq.Header.Set(message.IfNoneMatchHeaderKey, etag)
	}

	if attempt.IsRetry() {
		httpReq.Header.Set(message.RetryCountHeaderKey, strconv.Itoa(attempt.Number-1))
	}

	return httpReq, nil
}

func (c *Client) readBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, err
	}

	if int64(len(body)) > c.maxBody {
		return nil, fmt.Errorf("%w: limit is %d bytes", ErrResponseTooLarge, c.maxBody)
	}

	return body, nil
}
