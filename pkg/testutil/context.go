// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package testutil provides helpers shared by the host's test suites.
package testutil

import (
	"context"
	"testing"
	"time"
)

// GetTestContext returns a context bounded by the shorter of the test's own
// deadline and the given timeout. A zero timeout means "no extra bound".
func GetTestContext(t *testing.T, testTimeout time.Duration) (context.Context, context.CancelFunc) {
	deadline, haveDeadline := t.Deadline()

	switch {
	case !haveDeadline && testTimeout == 0:
		return context.WithCancel(context.Background())

	case haveDeadline && testTimeout == 0:
		return context.WithDeadline(context.Background(), deadline)

	case !haveDeadline && testTimeout != 0:
		return context.WithTimeout(context.Background(), testTimeout)

	default:
		testDeadline := time.Now().Add(testTimeout)
		if testDeadline.Before(deadline) {
			return context.WithDeadline(context.Background(), testDeadline)
		}
		return context.WithDeadline(context.Background(), deadline)
	}
}
