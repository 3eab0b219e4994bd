// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/PowerShell/PowerShellEditorServices-sub012/pkg/concurrency"
	"github.com/PowerShell/PowerShellEditorServices-sub012/pkg/syncmap"
)

// RequestHandler processes one inbound request. The returned value is
// marshalled into the response; a returned error becomes an error response.
// A cancellation error produces a "request canceled" response.
type RequestHandler func(ctx context.Context, params json.RawMessage) (any, error)

// EventHandler processes one inbound notification. Errors are logged and
// dropped; events have no response.
type EventHandler func(ctx context.Context, params json.RawMessage) error

// MessageDispatcher routes inbound messages from a Transport to registered
// handlers and correlates responses to outbound requests. One failing handler
// never stops the message loop; only a transport failure does.
type MessageDispatcher struct {
	log       logr.Logger
	transport Transport

	requestHandlers syncmap.Map[string, RequestHandler]
	eventHandlers   syncmap.Map[string, EventHandler]

	pending *pendingRequestMap
	seq     *sequenceCounter

	// outbound decouples senders from the transport so that the pipeline
	// goroutine never blocks on a slow editor connection.
	outbound *concurrency.UnboundedChan[*Message]

	lifeCtx context.Context
	stop    context.CancelFunc
}

func NewMessageDispatcher(log logr.Logger, transport Transport) *MessageDispatcher {
	if log.GetSink() == nil {
		log = logr.Discard()
	}

	lifeCtx, stop := context.WithCancel(context.Background())
	return &MessageDispatcher{
		log:       log,
		transport: transport,
		pending:   newPendingRequestMap(),
		seq:       newSequenceCounter(),
		outbound:  concurrency.NewUnboundedChan[*Message](lifeCtx),
		lifeCtx:   lifeCtx,
		stop:      stop,
	}
}

// SetRequestHandler registers the handler for a request method, replacing any
// previous handler for that method.
func (d *MessageDispatcher) SetRequestHandler(method string, handler RequestHandler) {
	d.requestHandlers.Store(method, handler)
}

// SetEventHandler registers the handler for a notification method, replacing
// any previous handler for that method.
func (d *MessageDispatcher) SetEventHandler(method string, handler EventHandler) {
	d.eventHandlers.Store(method, handler)
}

// Run reads messages from the transport and dispatches them until the
// transport fails or ctx is cancelled. It returns nil on cancellation and the
// transport error otherwise. Pending outbound requests are failed on exit.
func (d *MessageDispatcher) Run(ctx context.Context) error {
	defer d.shutdown()

	go d.writePump()
	go func() {
		// Unblock the reader when the caller cancels.
		select {
		case <-ctx.Done():
			_ = d.transport.Close()
		case <-d.lifeCtx.Done():
		}
	}()

	for {
		msg, readErr := d.transport.ReadMessage()
		if readErr != nil {
			if errors.Is(readErr, ErrMalformedMessage) {
				// A single bad message; drop it and keep reading.
				d.log.Error(readErr, "dropping malformed message")
				continue
			}
			if ctx.Err() != nil || d.lifeCtx.Err() != nil {
				return nil
			}
			return fmt.Errorf("message loop terminated: %w", readErr)
		}

		d.DispatchMessage(ctx, msg)
	}
}

// Stop ends the message loop and closes the transport. Safe to call more
// than once.
func (d *MessageDispatcher) Stop() {
	d.shutdown()
}

func (d *MessageDispatcher) shutdown() {
	d.stop()
	_ = d.transport.Close()
	d.pending.DrainWithError(ErrDispatcherStopped)
}

// Done is closed when the dispatcher has been stopped.
func (d *MessageDispatcher) Done() <-chan struct{} {
	return d.lifeCtx.Done()
}

// DispatchMessage routes one message by its kind. Requests and events run
// their handlers on new goroutines; responses resolve the pending request
// table inline.
func (d *MessageDispatcher) DispatchMessage(ctx context.Context, msg *Message) {
	switch msg.Kind() {
	case KindRequest:
		d.dispatchRequest(ctx, msg)
	case KindEvent:
		d.dispatchEvent(ctx, msg)
	case KindResponse:
		d.dispatchResponse(msg)
	}
}

func (d *MessageDispatcher) dispatchRequest(ctx context.Context, msg *Message) {
	handler, found := d.requestHandlers.Load(msg.Method)
	if !found {
		d.log.Error(nil, "no handler registered for request method", "method", msg.Method, "id", msg.ID)
		d.send(NewErrorResponse(msg.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", msg.Method)))
		return
	}

	go d.runRequestHandler(ctx, msg, handler)
}

// runRequestHandler invokes one request handler and guarantees exactly one
// response for the request's id, whatever the handler does.
func (d *MessageDispatcher) runRequestHandler(ctx context.Context, msg *Message, handler RequestHandler) {
	result, handlerErr := func() (result any, handlerErr error) {
		defer func() {
			if r := recover(); r != nil {
				handlerErr = fmt.Errorf("handler panicked: %v", r)
			}
		}()
		return handler(ctx, msg.Params)
	}()

	switch {
	case isCancellation(handlerErr):
		// Expected for timeout-based prompts; not a failure.
		d.log.V(1).Info("request handler canceled", "method", msg.Method, "id", msg.ID)
		d.send(NewErrorResponse(msg.ID, CodeRequestCanceled, "request canceled"))
	case handlerErr != nil:
		d.log.Error(handlerErr, "request handler failed", "method", msg.Method, "id", msg.ID)
		d.send(NewErrorResponse(msg.ID, CodeInternalError, handlerErr.Error()))
	default:
		encoded, marshalErr := json.Marshal(result)
		if marshalErr != nil {
			d.log.Error(marshalErr, "failed to encode response", "method", msg.Method, "id", msg.ID)
			d.send(NewErrorResponse(msg.ID, CodeInternalError, marshalErr.Error()))
			return
		}
		d.send(NewResponse(msg.ID, encoded))
	}
}

func (d *MessageDispatcher) dispatchEvent(ctx context.Context, msg *Message) {
	handler, found := d.eventHandlers.Load(msg.Method)
	if !found {
		d.log.Error(nil, "no handler registered for event method", "method", msg.Method)
		return
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.log.Error(fmt.Errorf("handler panicked: %v", r), "event handler failed", "method", msg.Method)
			}
		}()

		handlerErr := handler(ctx, msg.Params)
		switch {
		case isCancellation(handlerErr):
			d.log.V(1).Info("event handler canceled", "method", msg.Method)
		case handlerErr != nil:
			d.log.Error(handlerErr, "event handler failed", "method", msg.Method)
		}
	}()
}

func (d *MessageDispatcher) dispatchResponse(msg *Message) {
	f := d.pending.Get(msg.ID)
	if f == nil {
		d.log.Error(nil, "response does not match any pending request", "id", msg.ID)
		return
	}

	if msg.Error != nil {
		f.Fail(msg.Error)
		return
	}
	f.Complete(msg.Result)
}

// SendRequest sends a request to the peer and returns a future resolved by
// the matching response. The future fails with ErrDispatcherStopped if the
// dispatcher shuts down first.
func (d *MessageDispatcher) SendRequest(method string, params any) (*concurrency.Future[json.RawMessage], error) {
	encoded, marshalErr := marshalParams(params)
	if marshalErr != nil {
		return nil, marshalErr
	}

	id := d.seq.Next()
	f := concurrency.NewFuture[json.RawMessage]()
	d.pending.Add(id, f)

	if sendErr := d.send(NewRequest(id, method, encoded)); sendErr != nil {
		d.pending.Remove(id)
		return nil, sendErr
	}
	return f, nil
}

// SendNotification sends a fire-and-forget event to the peer.
func (d *MessageDispatcher) SendNotification(method string, params any) error {
	encoded, marshalErr := marshalParams(params)
	if marshalErr != nil {
		return marshalErr
	}
	return d.send(NewEvent(method, encoded))
}

func (d *MessageDispatcher) send(msg *Message) error {
	select {
	case <-d.lifeCtx.Done():
		return ErrDispatcherStopped
	default:
	}

	select {
	case d.outbound.In <- msg:
		return nil
	case <-d.lifeCtx.Done():
		return ErrDispatcherStopped
	}
}

// writePump serializes all outbound messages onto the transport. A write
// failure means the connection is gone and stops the dispatcher.
func (d *MessageDispatcher) writePump() {
	for msg := range d.outbound.Out {
		if writeErr := d.transport.WriteMessage(msg); writeErr != nil {
			if d.lifeCtx.Err() == nil {
				d.log.Error(writeErr, "failed to write outbound message")
				d.shutdown()
			}
			return
		}
	}
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	encoded, marshalErr := json.Marshal(params)
	if marshalErr != nil {
		return nil, fmt.Errorf("failed to encode params: %w", marshalErr)
	}
	return encoded, nil
}

func isCancellation(err error) bool {
	return err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}
