// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package protocol implements the host's message layer: a JSON message model
// with Content-Length framing, transports over stdio and TCP, and the
// dispatcher that routes inbound messages to registered handlers.
package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

// MessageKind classifies a protocol message.
type MessageKind int

const (
	// KindRequest is a message with a method and a correlation id. The
	// receiver must eventually write exactly one response with that id.
	KindRequest MessageKind = iota
	// KindResponse correlates to an earlier request by id.
	KindResponse
	// KindEvent is a fire-and-forget notification with a method and no id.
	KindEvent
)

func (k MessageKind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindEvent:
		return "event"
	default:
		return "unknown"
	}
}

// Message is the wire unit exchanged with the editor. The kind is not carried
// on the wire; it follows from which fields are present: method plus id is a
// request, method alone is an event, id alone is a response. Id presence is
// tracked separately from its value because 0 is a valid correlation id
// (some clients number requests from 0).
type Message struct {
	ID     int
	Method string
	Params json.RawMessage
	Result json.RawMessage
	Error  *ResponseError

	hasID bool
}

// wireMessage is the JSON shape of Message. The id pointer distinguishes an
// absent id from id 0.
type wireMessage struct {
	ID     *int            `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ResponseError  `json:"error,omitempty"`
}

func (m *Message) MarshalJSON() ([]byte, error) {
	wire := wireMessage{
		Method: m.Method,
		Params: m.Params,
		Result: m.Result,
		Error:  m.Error,
	}
	if m.hasID {
		id := m.ID
		wire.ID = &id
	}
	return json.Marshal(wire)
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var wire wireMessage
	if unmarshalErr := json.Unmarshal(data, &wire); unmarshalErr != nil {
		return unmarshalErr
	}
	*m = Message{
		Method: wire.Method,
		Params: wire.Params,
		Result: wire.Result,
		Error:  wire.Error,
	}
	if wire.ID != nil {
		m.ID = *wire.ID
		m.hasID = true
	}
	return nil
}

// Kind classifies the message from its populated fields.
func (m *Message) Kind() MessageKind {
	switch {
	case m.Method != "" && m.hasID:
		return KindRequest
	case m.Method != "":
		return KindEvent
	default:
		return KindResponse
	}
}

// ResponseError is the error payload of a failed response.
type ResponseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

// Error codes carried in ResponseError.Code.
const (
	CodeParseError      = -32700
	CodeMethodNotFound  = -32601
	CodeInternalError   = -32603
	CodeRequestCanceled = -32800
)

// NewRequest builds a request message. Params must already be encoded.
func NewRequest(id int, method string, params json.RawMessage) *Message {
	return &Message{ID: id, hasID: true, Method: method, Params: params}
}

// NewEvent builds a notification message.
func NewEvent(method string, params json.RawMessage) *Message {
	return &Message{Method: method, Params: params}
}

// NewResponse builds a successful response for the given request id.
func NewResponse(id int, result json.RawMessage) *Message {
	return &Message{ID: id, hasID: true, Result: result}
}

// NewErrorResponse builds a failed response for the given request id.
func NewErrorResponse(id int, code int, message string) *Message {
	return &Message{ID: id, hasID: true, Error: &ResponseError{Code: code, Message: message}}
}

const contentLengthHeader = "Content-Length"

// maxContentLength bounds a single message body; anything larger than this
// indicates stream corruption rather than a legitimate payload.
const maxContentLength = 64 << 20

// WriteProtocolMessage encodes msg with Content-Length framing. The caller
// serializes concurrent writes.
func WriteProtocolMessage(w io.Writer, msg *Message) error {
	body, marshalErr := json.Marshal(msg)
	if marshalErr != nil {
		return fmt.Errorf("failed to encode message: %w", marshalErr)
	}

	var frame bytes.Buffer
	fmt.Fprintf(&frame, "%s: %d\r\n\r\n", contentLengthHeader, len(body))
	frame.Write(body)

	if _, writeErr := w.Write(frame.Bytes()); writeErr != nil {
		return fmt.Errorf("failed to write message: %w", writeErr)
	}
	return nil
}

// ReadProtocolMessage decodes the next framed message from r. Errors that
// wrap ErrMalformedMessage indicate a single bad message whose frame was
// fully consumed; the caller may keep reading. Any other error means the
// stream itself is broken.
func ReadProtocolMessage(r *bufio.Reader) (*Message, error) {
	contentLength := -1
	for {
		line, readErr := r.ReadString('\n')
		if readErr != nil {
			return nil, fmt.Errorf("failed to read message header: %w", readErr)
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break // End of headers.
		}

		name, value, found := strings.Cut(line, ":")
		if !found {
			return nil, fmt.Errorf("invalid header line %q", line)
		}
		if strings.EqualFold(strings.TrimSpace(name), contentLengthHeader) {
			length, parseErr := strconv.Atoi(strings.TrimSpace(value))
			if parseErr != nil {
				return nil, fmt.Errorf("invalid %s value %q: %w", contentLengthHeader, strings.TrimSpace(value), parseErr)
			}
			contentLength = length
		}
		// Other headers (e.g. Content-Type) are ignored.
	}

	if contentLength < 0 {
		return nil, fmt.Errorf("message frame is missing the %s header", contentLengthHeader)
	}
	if contentLength > maxContentLength {
		return nil, fmt.Errorf("message body of %d bytes exceeds the maximum of %d", contentLength, maxContentLength)
	}

	body := make([]byte, contentLength)
	if _, readErr := io.ReadFull(r, body); readErr != nil {
		return nil, fmt.Errorf("failed to read message body: %w", readErr)
	}

	var msg Message
	if unmarshalErr := json.Unmarshal(body, &msg); unmarshalErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, unmarshalErr)
	}
	if msg.Method == "" && !msg.hasID && msg.Error == nil && msg.Result == nil {
		return nil, fmt.Errorf("%w: message has neither method nor id", ErrMalformedMessage)
	}

	return &msg, nil
}

// sequenceCounter provides thread-safe correlation id generation for
// outbound requests. Ids start at 1.
type sequenceCounter struct {
	mu  sync.Mutex
	seq int
}

func newSequenceCounter() *sequenceCounter {
	return &sequenceCounter{}
}

// Next returns the next sequence number.
func (c *sequenceCounter) Next() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}
