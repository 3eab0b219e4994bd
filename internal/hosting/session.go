// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package hosting

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-logr/logr"

	"github.com/PowerShell/PowerShellEditorServices-sub012/internal/debugging"
	"github.com/PowerShell/PowerShellEditorServices-sub012/internal/engine"
	"github.com/PowerShell/PowerShellEditorServices-sub012/internal/protocol"
	"github.com/PowerShell/PowerShellEditorServices-sub012/internal/prompt"
	"github.com/PowerShell/PowerShellEditorServices-sub012/internal/shell"
)

// Protocol methods served and emitted by the session.
const (
	executeCommandMethod   = "powerShell/executeCommand"
	cancelCommandMethod    = "powerShell/cancelCommand"
	sessionInfoMethod      = "host/sessionInfo"
	debuggerContinueMethod = "debugger/continue"
	debuggerStepOverMethod = "debugger/stepOver"
	debuggerStepIntoMethod = "debugger/stepInto"
	debuggerStepOutMethod  = "debugger/stepOut"
	debuggerAbortMethod    = "debugger/abort"
	debuggerBreakMethod    = "debugger/break"
	debuggerStoppedEvent   = "debugger/stopped"
	debuggerResumedEvent   = "debugger/resumed"
	breakpointUpdatedEvent = "debugger/breakpointUpdated"
)

type executeCommandParams struct {
	Command           string   `json:"command"`
	Arguments         []string `json:"arguments,omitempty"`
	WriteOutputToHost bool     `json:"writeOutputToHost,omitempty"`
	AddToHistory      bool     `json:"addToHistory,omitempty"`
}

type executeCommandResult struct {
	Output []any `json:"output"`
}

type sessionInfoResult struct {
	SessionID    string `json:"sessionId"`
	State        string `json:"state"`
	ScopeDepth   int    `json:"scopeDepth"`
	LanguageMode string `json:"languageMode"`
}

type debuggerStoppedParams struct {
	Reason  string `json:"reason"`
	Script  string `json:"script,omitempty"`
	Line    int    `json:"line,omitempty"`
	Message string `json:"message,omitempty"`
}

type breakpointUpdatedParams struct {
	Kind   string `json:"kind"`
	ID     int    `json:"id"`
	Script string `json:"script"`
	Line   int    `json:"line"`
}

// SessionService wires one editor connection to an execution engine: the
// dispatcher feeds protocol requests into engine tasks, and debugger state
// changes flow back out as notifications.
type SessionService struct {
	name      string
	log       logr.Logger
	cfg       *Config
	eng       *engine.ExecutionEngine
	transport protocol.Transport

	prompts *prompt.Service
}

func NewSessionService(log logr.Logger, cfg *Config, eng *engine.ExecutionEngine, transport protocol.Transport) *SessionService {
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	return &SessionService{
		name:      "session",
		log:       log,
		cfg:       cfg,
		eng:       eng,
		transport: transport,
	}
}

func (s *SessionService) Name() string {
	return s.name
}

// Prompts returns the prompt service for this session. Non-nil only while
// Run is active.
func (s *SessionService) Prompts() *prompt.Service {
	return s.prompts
}

// Run serves the session until the connection drops or ctx is cancelled.
// The engine is started here and stopped when the session ends.
func (s *SessionService) Run(ctx context.Context) error {
	s.addInitHooks(s.eng)

	dispatcher := protocol.NewMessageDispatcher(s.log, s.transport)
	s.prompts = prompt.NewService(s.log, dispatcher)
	s.registerHandlers(dispatcher, s.eng)

	if startErr := s.eng.Start(ctx); startErr != nil {
		return fmt.Errorf("failed to start execution engine: %w", startErr)
	}
	defer func() { _ = s.eng.Stop() }()

	stopForwarding := s.startEventForwarding(s.eng.Debug(), dispatcher)
	defer stopForwarding()

	return dispatcher.Run(ctx)
}

// addInitHooks schedules module preloads and profile scripts on the pipeline
// goroutine before the first task runs. Hook failures are logged, not fatal:
// a broken profile must not take the whole session down.
func (s *SessionService) addInitHooks(eng *engine.ExecutionEngine) {
	for _, module := range s.cfg.AdditionalModules {
		module := module
		eng.AddInitHook(engine.InitHook{
			Name: "import module " + module,
			Run: func(ctx context.Context, rt shell.Runtime) error {
				_, execErr := rt.Execute(ctx, shell.Command{
					Text:      "Import-Module",
					Arguments: []string{module},
				}, shell.ExecutionOptions{})
				return execErr
			},
		})
	}
	for _, profile := range s.cfg.ProfilePaths {
		profile := profile
		eng.AddInitHook(engine.InitHook{
			Name: "profile " + profile,
			Run: func(ctx context.Context, rt shell.Runtime) error {
				_, execErr := rt.Execute(ctx, shell.Command{Text: profile}, shell.ExecutionOptions{
					WriteOutputToHost: true,
				})
				return execErr
			},
		})
	}
}

func (s *SessionService) registerHandlers(d *protocol.MessageDispatcher, eng *engine.ExecutionEngine) {
	d.SetRequestHandler(executeCommandMethod, func(ctx context.Context, params json.RawMessage) (any, error) {
		var in executeCommandParams
		if unmarshalErr := json.Unmarshal(params, &in); unmarshalErr != nil {
			return nil, unmarshalErr
		}

		future, execErr := eng.ExecuteCommand(ctx, shell.Command{
			Text:      in.Command,
			Arguments: in.Arguments,
		}, shell.ExecutionOptions{
			WriteOutputToHost: in.WriteOutputToHost,
			AddToHistory:      in.AddToHistory,
		})
		if execErr != nil {
			return nil, execErr
		}

		output, futureErr := future.Wait(ctx)
		if futureErr != nil {
			return nil, futureErr
		}
		return executeCommandResult{Output: output}, nil
	})

	d.SetRequestHandler(sessionInfoMethod, func(ctx context.Context, params json.RawMessage) (any, error) {
		return sessionInfoResult{
			SessionID:    eng.SessionID(),
			State:        eng.State().String(),
			ScopeDepth:   eng.ScopeDepth(),
			LanguageMode: s.cfg.LanguageMode,
		}, nil
	})

	dbg := eng.Debug()
	resumeHandlers := map[string]func() error{
		debuggerContinueMethod: dbg.Continue,
		debuggerStepOverMethod: dbg.StepOver,
		debuggerStepIntoMethod: dbg.StepInto,
		debuggerStepOutMethod:  dbg.StepOut,
		debuggerAbortMethod:    dbg.Abort,
	}
	for method, resume := range resumeHandlers {
		resume := resume
		d.SetRequestHandler(method, func(ctx context.Context, params json.RawMessage) (any, error) {
			return nil, resume()
		})
	}

	d.SetEventHandler(debuggerBreakMethod, func(ctx context.Context, params json.RawMessage) error {
		dbg.BreakExecution()
		return nil
	})
	d.SetEventHandler(cancelCommandMethod, func(ctx context.Context, params json.RawMessage) error {
		eng.CancelCurrentTask()
		return nil
	})
}

// startEventForwarding turns debugger state changes into outbound
// notifications. The returned function cancels the subscriptions and waits
// for the forwarders to drain.
func (s *SessionService) startEventForwarding(dbg *debugging.DebugContext, d *protocol.MessageDispatcher) func() {
	stopped := make(chan shell.DebuggerStopEvent, 4)
	resuming := make(chan shell.ResumeAction, 4)
	bpUpdated := make(chan shell.BreakpointUpdate, 4)

	stoppedSub := dbg.OnDebuggerStopped(stopped)
	resumingSub := dbg.OnDebuggerResuming(resuming)
	bpSub := dbg.OnBreakpointUpdated(bpUpdated)

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		for ev := range stopped {
			s.notify(d, debuggerStoppedEvent, debuggerStoppedParams{
				Reason:  ev.Reason.String(),
				Script:  ev.Script,
				Line:    ev.Line,
				Message: ev.Message,
			})
		}
	}()
	go func() {
		defer wg.Done()
		for action := range resuming {
			s.notify(d, debuggerResumedEvent, map[string]string{"action": action.String()})
		}
	}()
	go func() {
		defer wg.Done()
		for update := range bpUpdated {
			s.notify(d, breakpointUpdatedEvent, breakpointUpdatedParams{
				Kind:   breakpointUpdateKindString(update.Kind),
				ID:     update.Breakpoint.ID,
				Script: update.Breakpoint.Script,
				Line:   update.Breakpoint.Line,
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

func (s *SessionService) notify(d *protocol.MessageDispatcher, method string, params any) {
	if sendErr := d.SendNotification(method, params); sendErr != nil {
		s.log.V(1).Info("failed to send notification", "method", method, "error", sendErr.Error())
	}
}

func breakpointUpdateKindString(kind shell.BreakpointUpdateKind) string {
	switch kind {
	case shell.BreakpointSet:
		return "set"
	case shell.BreakpointRemoved:
		return "removed"
	case shell.BreakpointEnabled:
		return "enabled"
	case shell.BreakpointDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}
