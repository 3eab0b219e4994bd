// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package protocol_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/PowerShell/PowerShellEditorServices-sub012/pkg/testutil"

	"github.com/PowerShell/PowerShellEditorServices-sub012/internal/protocol"
)

// testClient is the editor side of a dispatcher test: a raw connection plus
// a transport, with inbound messages pumped into a channel.
type testClient struct {
	conn      net.Conn
	transport protocol.Transport
	inbox     chan *protocol.Message
}

func startDispatcher(t *testing.T) (*protocol.MessageDispatcher, *testClient) {
	t.Helper()

	ctx, cancel := testutil.GetTestContext(t, 30*time.Second)
	t.Cleanup(cancel)

	serverConn, clientConn := net.Pipe()
	d := protocol.NewMessageDispatcher(
		testutil.NewLogForTesting(t, "dispatcher"),
		protocol.NewTCPTransport(serverConn),
	)

	client := &testClient{
		conn:      clientConn,
		transport: protocol.NewTCPTransport(clientConn),
		inbox:     make(chan *protocol.Message, 16),
	}

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = d.Run(ctx)
	}()
	go func() {
		defer close(client.inbox)
		for {
			msg, readErr := client.transport.ReadMessage()
			if readErr != nil {
				return
			}
			client.inbox <- msg
		}
	}()

	t.Cleanup(func() {
		d.Stop()
		_ = client.transport.Close()
		select {
		case <-runDone:
		case <-time.After(5 * time.Second):
			t.Error("dispatcher run loop did not stop")
		}
	})

	return d, client
}

func (c *testClient) send(t *testing.T, msg *protocol.Message) {
	t.Helper()
	require.NoError(t, c.transport.WriteMessage(msg))
}

func (c *testClient) receive(t *testing.T) *protocol.Message {
	t.Helper()
	select {
	case msg, open := <-c.inbox:
		require.True(t, open, "client connection closed while awaiting a message")
		return msg
	case <-time.After(10 * time.Second):
		require.FailNow(t, "timed out awaiting a message")
		return nil
	}
}

func TestRequestResponseCorrelation(t *testing.T) {
	t.Parallel()

	d, client := startDispatcher(t)
	d.SetRequestHandler("host/add", func(ctx context.Context, params json.RawMessage) (any, error) {
		var in struct{ A, B int }
		if unmarshalErr := json.Unmarshal(params, &in); unmarshalErr != nil {
			return nil, unmarshalErr
		}
		return map[string]int{"sum": in.A + in.B}, nil
	})

	client.send(t, protocol.NewRequest(42, "host/add", json.RawMessage(`{"a":2,"b":3}`)))

	resp := client.receive(t)
	require.Equal(t, protocol.KindResponse, resp.Kind())
	require.Equal(t, 42, resp.ID)
	require.Nil(t, resp.Error)
	require.JSONEq(t, `{"sum":5}`, string(resp.Result))
}

// Clients that number requests from 0 still get their first request routed
// and answered.
func TestZeroIdRequestGetsResponse(t *testing.T) {
	t.Parallel()

	d, client := startDispatcher(t)
	d.SetRequestHandler("host/ping", func(ctx context.Context, params json.RawMessage) (any, error) {
		return "pong", nil
	})

	client.send(t, protocol.NewRequest(0, "host/ping", nil))

	resp := client.receive(t)
	require.Equal(t, protocol.KindResponse, resp.Kind())
	require.Equal(t, 0, resp.ID)
	require.Nil(t, resp.Error)
	require.JSONEq(t, `"pong"`, string(resp.Result))
}

func TestHandlerErrorBecomesErrorResponse(t *testing.T) {
	t.Parallel()

	d, client := startDispatcher(t)
	d.SetRequestHandler("host/fail", func(ctx context.Context, params json.RawMessage) (any, error) {
		return nil, errors.New("no can do")
	})
	d.SetRequestHandler("host/ok", func(ctx context.Context, params json.RawMessage) (any, error) {
		return "fine", nil
	})

	client.send(t, protocol.NewRequest(1, "host/fail", nil))
	resp := client.receive(t)
	require.Equal(t, 1, resp.ID)
	require.NotNil(t, resp.Error)
	require.Equal(t, protocol.CodeInternalError, resp.Error.Code)
	require.Contains(t, resp.Error.Message, "no can do")

	// The loop keeps serving after a handler failure.
	client.send(t, protocol.NewRequest(2, "host/ok", nil))
	resp = client.receive(t)
	require.Equal(t, 2, resp.ID)
	require.Nil(t, resp.Error)
}

func TestHandlerPanicBecomesErrorResponse(t *testing.T) {
	t.Parallel()

	d, client := startDispatcher(t)
	d.SetRequestHandler("host/explode", func(ctx context.Context, params json.RawMessage) (any, error) {
		panic("kaboom")
	})

	client.send(t, protocol.NewRequest(5, "host/explode", nil))
	resp := client.receive(t)
	require.Equal(t, 5, resp.ID)
	require.NotNil(t, resp.Error)
	require.Equal(t, protocol.CodeInternalError, resp.Error.Code)
	require.Contains(t, resp.Error.Message, "kaboom")
}

func TestUnknownRequestMethodGetsMethodNotFound(t *testing.T) {
	t.Parallel()

	d, client := startDispatcher(t)
	d.SetRequestHandler("host/known", func(ctx context.Context, params json.RawMessage) (any, error) {
		return true, nil
	})

	client.send(t, protocol.NewRequest(9, "host/unknown", nil))
	resp := client.receive(t)
	require.Equal(t, 9, resp.ID)
	require.NotNil(t, resp.Error)
	require.Equal(t, protocol.CodeMethodNotFound, resp.Error.Code)

	// Subsequent valid messages are still dispatched.
	client.send(t, protocol.NewRequest(10, "host/known", nil))
	resp = client.receive(t)
	require.Equal(t, 10, resp.ID)
	require.Nil(t, resp.Error)
}

func TestSecondRegistrationReplacesFirst(t *testing.T) {
	t.Parallel()

	d, client := startDispatcher(t)
	d.SetRequestHandler("host/version", func(ctx context.Context, params json.RawMessage) (any, error) {
		return "first", nil
	})
	d.SetRequestHandler("host/version", func(ctx context.Context, params json.RawMessage) (any, error) {
		return "second", nil
	})

	client.send(t, protocol.NewRequest(1, "host/version", nil))
	resp := client.receive(t)
	require.JSONEq(t, `"second"`, string(resp.Result))
}

func TestMalformedMessageDoesNotStopLoop(t *testing.T) {
	t.Parallel()

	d, client := startDispatcher(t)
	d.SetRequestHandler("host/echo", func(ctx context.Context, params json.RawMessage) (any, error) {
		return json.RawMessage(params), nil
	})

	junk := "not json at all"
	_, writeErr := fmt.Fprintf(client.conn, "Content-Length: %d\r\n\r\n%s", len(junk), junk)
	require.NoError(t, writeErr)

	client.send(t, protocol.NewRequest(3, "host/echo", json.RawMessage(`"hi"`)))
	resp := client.receive(t)
	require.Equal(t, 3, resp.ID)
	require.Nil(t, resp.Error)
}

func TestServerInitiatedRequest(t *testing.T) {
	t.Parallel()

	d, client := startDispatcher(t)

	future, sendErr := d.SendRequest("editor/showMessage", map[string]string{"text": "hello"})
	require.NoError(t, sendErr)

	req := client.receive(t)
	require.Equal(t, protocol.KindRequest, req.Kind())
	require.Equal(t, "editor/showMessage", req.Method)
	client.send(t, protocol.NewResponse(req.ID, json.RawMessage(`"ack"`)))

	ctx, cancel := testutil.GetTestContext(t, 10*time.Second)
	t.Cleanup(cancel)
	result, futureErr := future.Wait(ctx)
	require.NoError(t, futureErr)
	require.JSONEq(t, `"ack"`, string(result))
}

func TestErrorResponseFailsFuture(t *testing.T) {
	t.Parallel()

	d, client := startDispatcher(t)

	future, sendErr := d.SendRequest("editor/prompt", nil)
	require.NoError(t, sendErr)

	req := client.receive(t)
	client.send(t, protocol.NewErrorResponse(req.ID, protocol.CodeInternalError, "editor exploded"))

	ctx, cancel := testutil.GetTestContext(t, 10*time.Second)
	t.Cleanup(cancel)
	_, futureErr := future.Wait(ctx)
	var respErr *protocol.ResponseError
	require.ErrorAs(t, futureErr, &respErr)
	require.Equal(t, protocol.CodeInternalError, respErr.Code)
}

func TestUnmatchedResponseIsIgnored(t *testing.T) {
	t.Parallel()

	d, client := startDispatcher(t)
	d.SetRequestHandler("host/ping", func(ctx context.Context, params json.RawMessage) (any, error) {
		return "pong", nil
	})

	client.send(t, protocol.NewResponse(999, json.RawMessage(`"orphan"`)))

	client.send(t, protocol.NewRequest(4, "host/ping", nil))
	resp := client.receive(t)
	require.Equal(t, 4, resp.ID)
}

func TestCanceledHandlerProducesCanceledResponse(t *testing.T) {
	t.Parallel()

	d, client := startDispatcher(t)
	d.SetRequestHandler("host/prompt", func(ctx context.Context, params json.RawMessage) (any, error) {
		return nil, context.DeadlineExceeded
	})

	client.send(t, protocol.NewRequest(6, "host/prompt", nil))
	resp := client.receive(t)
	require.Equal(t, 6, resp.ID)
	require.NotNil(t, resp.Error)
	require.Equal(t, protocol.CodeRequestCanceled, resp.Error.Code)
}

func TestEventHandlerErrorsAreSwallowed(t *testing.T) {
	t.Parallel()

	d, client := startDispatcher(t)
	received := make(chan string, 2)
	d.SetEventHandler("editor/didChange", func(ctx context.Context, params json.RawMessage) error {
		received <- "didChange"
		return errors.New("handler bug")
	})
	d.SetEventHandler("editor/didSave", func(ctx context.Context, params json.RawMessage) error {
		received <- "didSave"
		return nil
	})

	client.send(t, protocol.NewEvent("editor/didChange", nil))
	client.send(t, protocol.NewEvent("editor/didSave", nil))

	// Handlers run on their own goroutines; order between the two events is
	// not guaranteed, only that both were delivered.
	require.ElementsMatch(t, []string{"didChange", "didSave"}, []string{<-received, <-received})
}

func TestStopFailsPendingRequests(t *testing.T) {
	t.Parallel()

	d, client := startDispatcher(t)

	future, sendErr := d.SendRequest("editor/prompt", nil)
	require.NoError(t, sendErr)
	client.receive(t) // Consume the request; never respond.

	d.Stop()

	ctx, cancel := testutil.GetTestContext(t, 10*time.Second)
	t.Cleanup(cancel)
	_, futureErr := future.Wait(ctx)
	require.ErrorIs(t, futureErr, protocol.ErrDispatcherStopped)

	_, sendErr = d.SendRequest("editor/prompt", nil)
	require.ErrorIs(t, sendErr, protocol.ErrDispatcherStopped)
}
