// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package protocol

import "errors"

var (
	// ErrMalformedMessage indicates a single inbound message that could not
	// be decoded. The frame was consumed; the read loop continues.
	ErrMalformedMessage = errors.New("malformed protocol message")

	// ErrTransportClosed is returned by transport operations after Close.
	ErrTransportClosed = errors.New("transport is closed")

	// ErrDispatcherStopped is returned when sending through a dispatcher
	// whose message loop has ended.
	ErrDispatcherStopped = errors.New("message dispatcher is stopped")
)

// IsTransportClosed reports whether err indicates a closed transport.
func IsTransportClosed(err error) bool {
	return errors.Is(err, ErrTransportClosed)
}
