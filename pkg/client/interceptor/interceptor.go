// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package interceptor provides a gRPC client interceptor that verifies and retries responses.
package interceptor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"

	"github.com/purchasekit/go-response-trust/pkg/enforcement"
	"github.com/purchasekit/go-response-trust/pkg/message"
	"github.com/purchasekit/go-response-trust/pkg/retry"
	"github.com/purchasekit/go-response-trust/pkg/trust"
	"github.com/purchasekit/go-response-trust/pkg/verification"
)

// ResultCallOption receives the verification result of a unary call.
type ResultCallOption struct {
	grpc.EmptyCallOption

	Result *verification.Result
}

// WithResult returns a call option which stores the verification result of the call into result.
func WithResult(result *verification.Result) grpc.CallOption {
	return ResultCallOption{Result: result}
}

// Option configures the Interceptor.
type Option func(*Interceptor)

// WithEvaluator sets the response trust evaluator.
func WithEvaluator(evaluator *trust.Evaluator) Option {
	return func(i *Interceptor) {
		i.evaluator = evaluator
	}
}

// WithRetryPolicy sets the retry policy.
func WithRetryPolicy(policy *retry.Policy) Option {
	return func(i *Interceptor) {
		i.retry = policy
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(i *Interceptor) {
		i.logger = logger
	}
}

// Interceptor is a gRPC unary client interceptor.
//
// The signed payload of a reply is its deterministic protobuf encoding, the signature and
// the request time are read from the response header metadata.
// codes.ResourceExhausted is handled as the recoverable "too many requests" status.
type Interceptor struct {
	controller *enforcement.Controller
	evaluator  *trust.Evaluator
	retry      *retry.Policy
	logger     *zap.Logger
}

// New creates a new client interceptor.
func New(controller *enforcement.Controller, opts ...Option) *Interceptor {
	i := &Interceptor{
		controller: controller,
	}

	for _, o := range opts {
		o(i)
	}

	if i.logger == nil {
		i.logger = zap.NewNop()
	}

	if i.evaluator == nil {
		i.evaluator = trust.NewEvaluator(trust.WithLogger(i.logger))
	}

	if i.retry == nil {
		i.retry = retry.NewPolicy(retry.WithLogger(i.logger))
	}

	return i
}

// Unary returns a new unary client interceptor which verifies replies.
func (i *Interceptor) Unary() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		result, err := retry.Do(ctx, i.retry, func(ctx context.Context, attempt retry.Attempt) (verification.Result, retry.Status, error) {
			return i.attempt(ctx, method, req, reply, cc, invoker, attempt, opts)
		})
		if err != nil {
			var statusErr *retry.StatusError

			if errors.As(err, &statusErr) {
				return status.Error(codes.ResourceExhausted, err.Error())
			}

			return err
		}

		for _, opt := range opts {
			if o, ok := opt.(ResultCallOption); ok && o.Result != nil {
				*o.Result = result
			}
		}

		return nil
	}
}

func (i *Interceptor) attempt(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker,
	attempt retry.Attempt, opts []grpc.CallOption,
) (verification.Result, retry.Status, error) {
	md, ok := metadata.FromOutgoingContext(ctx)
	if ok {
		md = md.Copy()
	} else {
		md = metadata.New(nil)
	}

	// if the request is re-sent, drop the headers of the previous attempt
	md.Delete(message.NonceHeaderKey)
	md.Delete(message.RetryCountHeaderKey)

	var nonce []byte

	if verification.IsEnabled(i.controller.Mode()) {
		var err error

		if nonce, err = message.NewNonce(); err != nil {
			return verification.NotVerified, retry.Status{}, err
		}

		md.Set(message.NonceHeaderKey, message.EncodeNonce(nonce))
	}

	if attempt.IsRetry() {
		md.Set(message.RetryCountHeaderKey, strconv.Itoa(attempt.Number-1))
	}

	var header, trailer metadata.MD

	callOpts := append(slices.Clone(opts), grpc.Header(&header), grpc.Trailer(&trailer))

	err := invoker(metadata.NewOutgoingContext(ctx, md), method, req, reply, cc, callOpts...)

	st := retry.Status{Header: toHeader(header, trailer)}

	if err != nil {
		if status.Code(err) == codes.ResourceExhausted {
			st.Code = http.StatusTooManyRequests

			return verification.NotVerified, st, nil
		}

		return verification.NotVerified, st, err
	}

	st.Code = http.StatusOK

	mode := i.controller.Mode()

	var payload []byte

	if verification.IsEnabled(mode) && nonce != nil {
		msg, ok := reply.(proto.Message)
		if !ok {
			return verification.NotVerified, st, fmt.Errorf("reply %T is not a protobuf message", reply)
		}

		if payload, err = (proto.MarshalOptions{Deterministic: true}).Marshal(msg); err != nil {
			return verification.NotVerified, st, err
		}
	}

	result := i.evaluator.Evaluate(mode, trust.Exchange{
		Response: &message.Response{
			StatusCode: st.Code,
			Header:     st.Header,
			Body:       payload,
		},
		Path:  method,
		Nonce: nonce,
	})

	outcome := enforcement.Decide(mode, method, result)
	if outcome.Aborted() {
		i.logger.Error("aborting call", zap.String("method", method), zap.Error(outcome.Err))

		return result, st, outcome.Err
	}

	return outcome.Result, st, nil
}

func toHeader(mds ...metadata.MD) http.Header {
	h := http.Header{}

	for _, md := range mds {
		for key, values := range md {
			for _, value := range values {
				h.Add(key, value)
			}
		}
	}

	return h
}
