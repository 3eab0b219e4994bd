// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package debugadapter serves the Debug Adapter Protocol to a single client,
// mapping DAP requests onto the debug context and the execution engine.
package debugadapter

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/go-logr/logr"
	"github.com/google/go-dap"

	"github.com/PowerShell/PowerShellEditorServices-sub012/internal/debugging"
	"github.com/PowerShell/PowerShellEditorServices-sub012/internal/engine"
	"github.com/PowerShell/PowerShellEditorServices-sub012/internal/shell"
)

// pipelineThreadID is the single thread the adapter reports: all interpreter
// work runs on one pipeline goroutine.
const pipelineThreadID = 1

// breakpointManager is the optional runtime capability behind DAP
// setBreakpoints. A runtime without it gets unverified breakpoints.
type breakpointManager interface {
	SetBreakpoint(script string, line int) shell.Breakpoint
	ClearBreakpoints(script string)
}

// Session serves one DAP client connection. Requests are handled on the read
// loop; events triggered by debugger state changes arrive from debug context
// subscriptions and are serialized by the write mutex.
type Session struct {
	log logr.Logger
	eng *engine.ExecutionEngine
	dbg *debugging.DebugContext
	rt  shell.Runtime

	conn   io.ReadWriteCloser
	reader *bufio.Reader

	writeMu sync.Mutex
	writer  *bufio.Writer
	seq     int

	closeOnce sync.Once
}

func NewSession(log logr.Logger, conn io.ReadWriteCloser, eng *engine.ExecutionEngine, rt shell.Runtime) *Session {
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	return &Session{
		log:    log,
		eng:    eng,
		dbg:    eng.Debug(),
		rt:     rt,
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
	}
}

// Run serves the connection until the client disconnects, the connection
// fails, or ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	stopForwarding := s.startEventForwarding(ctx)
	defer stopForwarding()

	go func() {
		<-ctx.Done()
		s.close()
	}()
	defer s.close()

	for {
		msg, readErr := dap.ReadProtocolMessage(s.reader)
		if readErr != nil {
			var decodeErr *dap.DecodeProtocolMessageFieldError
			if errors.As(readErr, &decodeErr) {
				// One undecodable message; the stream is still framed.
				s.log.Error(readErr, "dropping malformed DAP message")
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			return fmt.Errorf("debug adapter read failed: %w", readErr)
		}

		req, isRequest := msg.(dap.RequestMessage)
		if !isRequest {
			s.log.V(1).Info("ignoring non-request DAP message", "type", fmt.Sprintf("%T", msg))
			continue
		}

		if disconnect := s.handleRequest(ctx, req); disconnect {
			return nil
		}
	}
}

// handleRequest dispatches one request and reports whether the session
// should end.
func (s *Session) handleRequest(ctx context.Context, req dap.RequestMessage) bool {
	switch request := req.(type) {
	case *dap.InitializeRequest:
		s.sendMessage(&dap.InitializeResponse{
			Response: s.newResponse(request.Request),
			Body: dap.Capabilities{
				SupportsConfigurationDoneRequest: true,
				SupportsEvaluateForHovers:        true,
			},
		})
		s.sendMessage(&dap.InitializedEvent{Event: s.newEvent("initialized")})

	case *dap.ConfigurationDoneRequest:
		s.sendMessage(&dap.ConfigurationDoneResponse{Response: s.newResponse(request.Request)})

	case *dap.SetBreakpointsRequest:
		s.handleSetBreakpoints(request)

	case *dap.ThreadsRequest:
		s.sendMessage(&dap.ThreadsResponse{
			Response: s.newResponse(request.Request),
			Body: dap.ThreadsResponseBody{
				Threads: []dap.Thread{{Id: pipelineThreadID, Name: "Pipeline Thread"}},
			},
		})

	case *dap.ContinueRequest:
		s.handleResume(request.Request, s.dbg.Continue)

	case *dap.NextRequest:
		s.handleResume(request.Request, s.dbg.StepOver)

	case *dap.StepInRequest:
		s.handleResume(request.Request, s.dbg.StepInto)

	case *dap.StepOutRequest:
		s.handleResume(request.Request, s.dbg.StepOut)

	case *dap.PauseRequest:
		s.dbg.BreakExecution()
		s.sendMessage(&dap.PauseResponse{Response: s.newResponse(request.Request)})

	case *dap.EvaluateRequest:
		s.handleEvaluate(ctx, request)

	case *dap.DisconnectRequest:
		if s.dbg.IsStopped() {
			// Do not leave the pipeline stuck in a nested loop with no
			// client to resume it.
			_ = s.dbg.Abort()
		}
		s.sendMessage(&dap.DisconnectResponse{Response: s.newResponse(request.Request)})
		s.sendMessage(&dap.TerminatedEvent{Event: s.newEvent("terminated")})
		return true

	default:
		base := req.GetRequest()
		s.log.V(1).Info("unsupported DAP request", "command", base.Command)
		s.sendErrorResponse(*base, fmt.Sprintf("unsupported command %q", base.Command))
	}

	return false
}

func (s *Session) handleResume(req dap.Request, resume func() error) {
	if resumeErr := resume(); resumeErr != nil {
		s.sendErrorResponse(req, resumeErr.Error())
		return
	}

	switch req.Command {
	case "continue":
		s.sendMessage(&dap.ContinueResponse{
			Response: s.newResponse(req),
			Body:     dap.ContinueResponseBody{AllThreadsContinued: true},
		})
	case "next":
		s.sendMessage(&dap.NextResponse{Response: s.newResponse(req)})
	case "stepIn":
		s.sendMessage(&dap.StepInResponse{Response: s.newResponse(req)})
	case "stepOut":
		s.sendMessage(&dap.StepOutResponse{Response: s.newResponse(req)})
	}
}

func (s *Session) handleSetBreakpoints(req *dap.SetBreakpointsRequest) {
	manager, supported := s.rt.(breakpointManager)
	script := req.Arguments.Source.Path
	if script == "" {
		script = req.Arguments.Source.Name
	}

	results := make([]dap.Breakpoint, len(req.Arguments.Breakpoints))
	if supported && script != "" {
		manager.ClearBreakpoints(script)
		for i, requested := range req.Arguments.Breakpoints {
			bp := manager.SetBreakpoint(script, requested.Line)
			results[i] = dap.Breakpoint{
				Id:       bp.ID,
				Verified: true,
				Line:     bp.Line,
				Source:   &dap.Source{Path: script},
			}
		}
	} else {
		for i, requested := range req.Arguments.Breakpoints {
			results[i] = dap.Breakpoint{
				Verified: false,
				Line:     requested.Line,
				Message:  "breakpoints are not supported by this runtime",
			}
		}
	}

	s.sendMessage(&dap.SetBreakpointsResponse{
		Response: s.newResponse(req.Request),
		Body:     dap.SetBreakpointsResponseBody{Breakpoints: results},
	})
}

// handleEvaluate runs the expression as an urgent engine task so it is served
// even while the debugger is stopped.
func (s *Session) handleEvaluate(ctx context.Context, req *dap.EvaluateRequest) {
	future, execErr := engine.ExecuteDelegateUrgent(s.eng, ctx, "dap evaluate",
		func(taskCtx context.Context, rt shell.Runtime) ([]any, error) {
			return rt.Execute(taskCtx, shell.Command{Text: req.Arguments.Expression}, shell.ExecutionOptions{})
		})
	if execErr != nil {
		s.sendErrorResponse(req.Request, execErr.Error())
		return
	}

	go func() {
		values, futureErr := future.Wait(ctx)
		if futureErr != nil {
			s.sendErrorResponse(req.Request, futureErr.Error())
			return
		}
		s.sendMessage(&dap.EvaluateResponse{
			Response: s.newResponse(req.Request),
			Body:     dap.EvaluateResponseBody{Result: formatValues(values)},
		})
	}()
}

// startEventForwarding subscribes to debugger state changes and forwards them
// to the client as DAP events. The returned function cancels the
// subscriptions and waits for the forwarders to finish.
func (s *Session) startEventForwarding(ctx context.Context) func() {
	stopped := make(chan shell.DebuggerStopEvent, 4)
	resuming := make(chan shell.ResumeAction, 4)
	bpUpdated := make(chan shell.BreakpointUpdate, 4)

	stoppedSub := s.dbg.OnDebuggerStopped(stopped)
	resumingSub := s.dbg.OnDebuggerResuming(resuming)
	bpSub := s.dbg.OnBreakpointUpdated(bpUpdated)

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		for ev := range stopped {
			s.sendMessage(&dap.StoppedEvent{
				Event: s.newEvent("stopped"),
				Body: dap.StoppedEventBody{
					Reason:            stopReasonString(ev.Reason),
					Description:       ev.Message,
					ThreadId:          pipelineThreadID,
					AllThreadsStopped: true,
				},
			})
		}
	}()
	go func() {
		defer wg.Done()
		for range resuming {
			s.sendMessage(&dap.ContinuedEvent{
				Event: s.newEvent("continued"),
				Body: dap.ContinuedEventBody{
					ThreadId:            pipelineThreadID,
					AllThreadsContinued: true,
				},
			})
		}
	}()
	go func() {
		defer wg.Done()
		for update := range bpUpdated {
			s.sendMessage(&dap.BreakpointEvent{
				Event: s.newEvent("breakpoint"),
				Body: dap.BreakpointEventBody{
					Reason: breakpointUpdateReason(update.Kind),
					Breakpoint: dap.Breakpoint{
						Id:       update.Breakpoint.ID,
						Verified: true,
						Line:     update.Breakpoint.Line,
						Source:   &dap.Source{Path: update.Breakpoint.Script},
					},
				},
			})
		}
	}()

	return func() {
		stoppedSub.Cancel()
		resumingSub.Cancel()
		bpSub.Cancel()
		wg.Wait()
	}
}

func (s *Session) sendMessage(msg dap.Message) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.seq++
	setSeq(msg, s.seq)

	if writeErr := dap.WriteProtocolMessage(s.writer, msg); writeErr != nil {
		s.log.V(1).Info("failed to write DAP message", "error", writeErr.Error())
		return
	}
	if flushErr := s.writer.Flush(); flushErr != nil {
		s.log.V(1).Info("failed to flush DAP message", "error", flushErr.Error())
	}
}

func (s *Session) sendErrorResponse(req dap.Request, message string) {
	resp := s.newResponse(req)
	resp.Success = false
	resp.Message = message
	s.sendMessage(&dap.ErrorResponse{Response: resp})
}

func (s *Session) newResponse(req dap.Request) dap.Response {
	return dap.Response{
		ProtocolMessage: dap.ProtocolMessage{Type: "response"},
		Command:         req.Command,
		RequestSeq:      req.Seq,
		Success:         true,
	}
}

func (s *Session) newEvent(event string) dap.Event {
	return dap.Event{
		ProtocolMessage: dap.ProtocolMessage{Type: "event"},
		Event:           event,
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		_ = s.conn.Close()
	})
}

func setSeq(msg dap.Message, seq int) {
	switch m := msg.(type) {
	case dap.ResponseMessage:
		m.GetResponse().Seq = seq
	case dap.EventMessage:
		m.GetEvent().Seq = seq
	case dap.RequestMessage:
		m.GetRequest().Seq = seq
	}
}

func stopReasonString(reason shell.StopReason) string {
	switch reason {
	case shell.StopReasonBreakpoint:
		return "breakpoint"
	case shell.StopReasonStep:
		return "step"
	case shell.StopReasonPause:
		return "pause"
	case shell.StopReasonException:
		return "exception"
	default:
		return "breakpoint"
	}
}

func breakpointUpdateReason(kind shell.BreakpointUpdateKind) string {
	switch kind {
	case shell.BreakpointSet:
		return "new"
	case shell.BreakpointRemoved:
		return "removed"
	default:
		return "changed"
	}
}

func formatValues(values []any) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%v", v)
	}
	return strings.Join(parts, "\n")
}
