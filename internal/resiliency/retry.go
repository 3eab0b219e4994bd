// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package resiliency provides retry helpers with exponential back-off,
// used when connecting to editors and debug adapter clients over TCP.
package resiliency

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

func defaultExponentialBackoff() *backoff.ExponentialBackOff {
	return backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(100*time.Millisecond),
		backoff.WithMaxInterval(5*time.Second),
		backoff.WithMaxElapsedTime(time.Minute),
	)
}

// RetryGetExponential calls factory with the default exponential back-off
// until it succeeds, a permanent error occurs, or ctx is cancelled.
func RetryGetExponential[T any](ctx context.Context, factory func() (T, error)) (T, error) {
	return RetryGet(ctx, defaultExponentialBackoff(), factory)
}

// RetryGet calls factory with the given back-off policy until it succeeds,
// a permanent error occurs, or ctx is cancelled.
func RetryGet[T any](ctx context.Context, b backoff.BackOff, factory func() (T, error)) (T, error) {
	var lastAttemptErr error

	retval, err := backoff.RetryNotifyWithData(
		factory,
		backoff.WithContext(b, ctx),
		func(err error, d time.Duration) {
			lastAttemptErr = err
		},
	)

	switch {
	case err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)):
		// Surface the timeout AND the last attempt error.
		return *new(T), errors.Join(lastAttemptErr, err)
	case err != nil:
		return *new(T), err
	default:
		return retval, nil
	}
}

// Retry calls operation with the given back-off policy until it succeeds,
// a permanent error occurs, or ctx is cancelled.
func Retry(ctx context.Context, b backoff.BackOff, operation func() error) error {
	var lastAttemptErr error

	err := backoff.RetryNotify(
		operation,
		backoff.WithContext(b, ctx),
		func(err error, d time.Duration) {
			lastAttemptErr = err
		},
	)

	switch {
	case err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)):
		return errors.Join(lastAttemptErr, err)
	case err != nil:
		return err
	default:
		return nil
	}
}

// Permanent wraps err so the retry loop stops immediately.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
