// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package protocol

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/PowerShell/PowerShellEditorServices-sub012/internal/resiliency"
)

// Transport provides an abstraction for message I/O over different connection
// types. Implementations must be safe for concurrent use by multiple
// goroutines for reading and writing, but individual reads and writes may not
// be concurrent with each other.
type Transport interface {
	// ReadMessage reads the next protocol message from the transport.
	// It blocks until a complete message is available. Errors wrapping
	// ErrMalformedMessage are recoverable; any other error means the
	// transport is broken or closed.
	ReadMessage() (*Message, error)

	// WriteMessage writes a protocol message to the transport.
	WriteMessage(msg *Message) error

	// Close closes the transport, releasing any associated resources.
	// After Close, any blocked ReadMessage or WriteMessage calls return
	// with an error.
	Close() error
}

// streamTransport implements Transport over a reader/writer pair. It backs
// both the stdio and the TCP transports.
type streamTransport struct {
	reader *bufio.Reader
	writer *bufio.Writer
	closer io.Closer

	// writeMu protects concurrent writes to the stream.
	writeMu sync.Mutex

	// closed indicates whether the transport has been closed.
	closed bool
	mu     sync.Mutex
}

func newStreamTransport(r io.Reader, w io.Writer, closer io.Closer) *streamTransport {
	return &streamTransport{
		reader: bufio.NewReader(r),
		writer: bufio.NewWriter(w),
		closer: closer,
	}
}

// NewStdioTransport creates a Transport over a stdin/stdout style stream
// pair. Closing the transport closes both streams.
func NewStdioTransport(stdin io.ReadCloser, stdout io.WriteCloser) Transport {
	return newStreamTransport(stdin, stdout, multiCloser{stdin, stdout})
}

// NewTCPTransport creates a Transport backed by an established connection.
func NewTCPTransport(conn net.Conn) Transport {
	return newStreamTransport(conn, conn, conn)
}

// DialTCP connects to the given address, retrying with exponential back-off
// until the connection succeeds or ctx is cancelled. Editors commonly start
// the host before their own listener is accepting.
func DialTCP(ctx context.Context, address string) (Transport, error) {
	conn, dialErr := resiliency.RetryGetExponential(ctx, func() (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", address)
	})
	if dialErr != nil {
		return nil, fmt.Errorf("failed to dial TCP %s: %w", address, dialErr)
	}

	return NewTCPTransport(conn), nil
}

func (t *streamTransport) ReadMessage() (*Message, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrTransportClosed
	}
	t.mu.Unlock()

	msg, readErr := ReadProtocolMessage(t.reader)
	if readErr != nil {
		return nil, readErr
	}

	return msg, nil
}

func (t *streamTransport) WriteMessage(msg *Message) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTransportClosed
	}
	t.mu.Unlock()

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if writeErr := WriteProtocolMessage(t.writer, msg); writeErr != nil {
		return writeErr
	}

	if flushErr := t.writer.Flush(); flushErr != nil {
		return fmt.Errorf("failed to flush message: %w", flushErr)
	}

	return nil
}

func (t *streamTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}

	t.closed = true
	if t.closer == nil {
		return nil
	}
	return t.closer.Close()
}

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var firstErr error
	for _, c := range m {
		if closeErr := c.Close(); closeErr != nil && firstErr == nil {
			firstErr = closeErr
		}
	}
	return firstErr
}
