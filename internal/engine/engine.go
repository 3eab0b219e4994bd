// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package engine implements the execution engine: the single pipeline
// goroutine that owns the interpreter runtime, the priority-ordered task
// queue feeding it, and the stack of cancellation scopes that models nested
// execution (debugger stops and nested prompts).
package engine

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/PowerShell/PowerShellEditorServices-sub012/pkg/concurrency"

	"github.com/PowerShell/PowerShellEditorServices-sub012/internal/debugging"
	"github.com/PowerShell/PowerShellEditorServices-sub012/internal/shell"
)

// State is the engine's lifecycle state.
type State int32

const (
	StateCreated State = iota
	StateStarting
	StateIdle
	StateRunning
	StateNestedLoop
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateNestedLoop:
		return "nestedLoop"
	case StateShuttingDown:
		return "shuttingDown"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// InitHook is a one-time initialization step (module import, profile load)
// run sequentially on the pipeline goroutine before the loop starts. Hook
// failures are logged and do not prevent startup.
type InitHook struct {
	Name string
	Run  func(ctx context.Context, rt shell.Runtime) error
}

// loopFrame is the bookkeeping for one live invocation of the drain loop.
// Frames form an explicit stack mirroring the nesting of debugger stops and
// prompts, so depth and reason are inspectable data rather than hidden in
// the call stack.
type loopFrame struct {
	scope         *CancellationScope
	stop          *debugging.StopState // non-nil only for debugger-stop frames
	exitRequested atomic.Bool
}

// done reports whether this frame's loop should stop consuming tasks: its
// scope was canceled, an exit was requested, or the debugger stop it serves
// has a resume action latched. The resume check runs before every dequeue so
// a resume requested before the first iteration exits the loop immediately,
// without processing queued tasks out of order.
func (f *loopFrame) done() bool {
	if f.exitRequested.Load() {
		return true
	}
	if f.scope.Ctx().Err() != nil {
		return true
	}
	if f.stop != nil && f.stop.Resumed() {
		return true
	}
	return false
}

// ExecutionEngine serializes all runtime operations onto one dedicated
// goroutine. Everything outside that goroutine talks to the runtime only by
// enqueueing tasks and waiting on their futures.
type ExecutionEngine struct {
	log       logr.Logger
	rt        shell.Runtime
	debug     *debugging.DebugContext
	queue     *TaskQueue
	scopes    *scopeStack
	cmdCancel *cancelStack
	sessionID string

	rootCtx    context.Context
	rootCancel context.CancelFunc

	state     atomic.Int32
	taskDepth atomic.Int32

	startLock sync.Mutex
	started   bool
	stoppedCh chan struct{}

	frameLock sync.Mutex
	frames    []*loopFrame

	initHooks []InitHook
}

func NewExecutionEngine(log logr.Logger, rt shell.Runtime) *ExecutionEngine {
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	sessionID := uuid.NewString()
	log = log.WithValues("session", sessionID)

	return &ExecutionEngine{
		log:       log,
		rt:        rt,
		debug:     debugging.NewDebugContext(log, rt),
		queue:     NewTaskQueue(),
		cmdCancel: &cancelStack{},
		sessionID: sessionID,
		stoppedCh: make(chan struct{}),
	}
}

// Debug returns the engine's debug context.
func (e *ExecutionEngine) Debug() *debugging.DebugContext {
	return e.debug
}

// SessionID identifies this engine instance in logs and diagnostics.
func (e *ExecutionEngine) SessionID() string {
	return e.sessionID
}

// State returns the engine's current lifecycle state.
func (e *ExecutionEngine) State() State {
	return State(e.state.Load())
}

// ScopeDepth reports the current cancellation scope nesting depth.
func (e *ExecutionEngine) ScopeDepth() int {
	e.startLock.Lock()
	scopes := e.scopes
	e.startLock.Unlock()
	if scopes == nil {
		return 0
	}
	return scopes.Depth()
}

// AddInitHook registers a startup hook. Must be called before Start.
func (e *ExecutionEngine) AddInitHook(h InitHook) {
	e.startLock.Lock()
	defer e.startLock.Unlock()
	if e.started {
		panic("engine: AddInitHook after Start")
	}
	e.initHooks = append(e.initHooks, h)
}

// Start launches the pipeline goroutine and blocks until one-time
// initialization has finished. The engine shuts down when ctx is canceled or
// Stop is called.
func (e *ExecutionEngine) Start(ctx context.Context) error {
	e.startLock.Lock()
	if e.started {
		e.startLock.Unlock()
		return ErrAlreadyStarted
	}
	e.started = true
	e.rootCtx, e.rootCancel = context.WithCancel(ctx)
	e.scopes = newScopeStack(e.rootCtx)
	e.state.Store(int32(StateStarting))
	e.startLock.Unlock()

	// Reject enqueues as soon as shutdown begins, whichever way it begins.
	go func() {
		<-e.rootCtx.Done()
		e.queue.Close(ErrEngineStopped)
	}()

	ready := make(chan struct{})
	go e.pipelineMain(ready)
	<-ready
	return nil
}

// Stop shuts the engine down and joins the pipeline goroutine. Idempotent.
func (e *ExecutionEngine) Stop() error {
	e.startLock.Lock()
	if !e.started {
		// There is no pipeline goroutine to join, but waiters on Stopped()
		// still need the channel closed. Marking the engine started keeps a
		// later Start from closing it a second time.
		e.started = true
		e.startLock.Unlock()
		e.queue.Close(ErrEngineStopped)
		e.state.Store(int32(StateStopped))
		close(e.stoppedCh)
		e.debug.Close()
		return nil
	}
	cancel := e.rootCancel
	e.startLock.Unlock()

	if State(e.state.Load()) != StateStopped {
		e.state.Store(int32(StateShuttingDown))
	}
	if cancel != nil {
		cancel()
	}
	<-e.stoppedCh
	e.debug.Close()
	return nil
}

// Stopped returns a channel closed when the pipeline goroutine has exited.
func (e *ExecutionEngine) Stopped() <-chan struct{} {
	return e.stoppedCh
}

// CancelCurrentTask cancels only the innermost in-flight task (the Ctrl+C
// target), leaving loop scopes and queued work untouched.
// Returns false when nothing is running.
func (e *ExecutionEngine) CancelCurrentTask() bool {
	return e.cmdCancel.cancelTop()
}

// pipelineMain is the body of the dedicated pipeline goroutine. The OS
// thread is locked because interpreter runtimes are commonly thread-affine.
func (e *ExecutionEngine) pipelineMain(ready chan<- struct{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(e.stoppedCh)
	defer e.state.Store(int32(StateStopped))

	for _, hook := range e.initHooks {
		if hookErr := hook.Run(e.rootCtx, e.rt); hookErr != nil {
			e.log.Error(hookErr, "initialization hook failed", "hook", hook.Name)
		}
	}

	e.rt.SetDebuggerStopHandler(e.onDebuggerStop)
	e.rt.SetBreakpointUpdateHandler(e.debug.NotifyBreakpointUpdated)

	e.state.Store(int32(StateIdle))
	close(ready)

	scope := e.scopes.Push(ScopeTopLevel)
	frame := e.pushFrame(scope, nil)
	e.drainLoop(frame)
	e.popFrame(frame)
	e.scopes.Pop(scope)

	e.log.V(1).Info("pipeline goroutine exiting")
}

// drainLoop consumes tasks for one frame until the frame is done.
// Cancellation bubbling out of the blocking dequeue is the expected exit
// mechanism, not an error.
func (e *ExecutionEngine) drainLoop(frame *loopFrame) {
	for {
		if frame.done() {
			return
		}

		if frame.scope.Depth() == 1 {
			e.state.Store(int32(StateIdle))
		}

		t, dequeueErr := e.queue.Dequeue(frame.scope.Ctx())
		if dequeueErr != nil {
			return
		}
		e.runTask(frame, t)
	}
}

// runTask executes one task under a fresh per-task cancellation linked to the
// current scope and the caller's context. The per-task cancel goes on the
// command-cancellation stack so Ctrl+C targets only this task.
func (e *ExecutionEngine) runTask(frame *loopFrame, t task) {
	scopeCtx := frame.scope.Ctx()
	if scopeErr := scopeCtx.Err(); scopeErr != nil {
		t.abandon(scopeErr)
		return
	}
	if caller := t.callerContext(); caller != nil {
		if callerErr := caller.Err(); callerErr != nil {
			t.abandon(callerErr)
			return
		}
	}

	taskCtx, taskCancel := concurrency.LinkedContext(scopeCtx, t.callerContext())
	e.cmdCancel.push(taskCancel)
	e.taskDepth.Add(1)
	if frame.scope.Depth() == 1 {
		e.state.Store(int32(StateRunning))
	}
	defer func() {
		e.taskDepth.Add(-1)
		e.cmdCancel.pop()
		taskCancel()
	}()

	e.log.V(2).Info("running task", "task", t.label(), "scopeDepth", frame.scope.Depth())
	t.run(taskCtx, e.rt)
}

// onDebuggerStop is installed as the runtime's stop handler. It runs on the
// pipeline goroutine, inside whatever task triggered the stop, and keeps
// consuming the same task queue until a resume action is chosen so that
// editor requests (evaluate, list variables) still work while stopped.
//
// Stop/resume tie-break: the first SetResumeAction on a stop wins. A new
// stop racing with a resume (nested breakpoint hit while resuming) is
// delivered as a fresh onDebuggerStop call only after this nested loop has
// fully unwound, so scope push/pop stays strictly nested.
func (e *ExecutionEngine) onDebuggerStop(ev shell.DebuggerStopEvent) shell.ResumeAction {
	if e.rootCtx.Err() != nil || State(e.state.Load()) == StateShuttingDown {
		return shell.ResumeActionAbort
	}

	stop := e.debug.BeginStop(ev)
	scope := e.scopes.Push(ScopeDebuggerStop, stop.Token())
	frame := e.pushFrame(scope, stop)
	prev := State(e.state.Swap(int32(StateNestedLoop)))

	e.drainLoop(frame)

	e.popFrame(frame)
	e.scopes.Pop(scope)
	action := e.debug.EndStop(stop)
	if action == shell.ResumeActionNone {
		// The scope was canceled (shutdown) before anyone chose a resume
		// action; abort rather than let the runtime keep running.
		action = shell.ResumeActionAbort
	}

	e.state.Store(int32(prev))
	return action
}

// EnterNestedPrompt re-enters the task-consumption loop from within a
// running task, e.g. for an interactive debug prompt. It returns when
// ExitNestedPrompt is called or ctx is canceled. Must be called from a task
// function running on the pipeline goroutine.
func (e *ExecutionEngine) EnterNestedPrompt(ctx context.Context) error {
	if e.taskDepth.Load() == 0 {
		return ErrNotOnPipelineGoroutine
	}

	scope := e.scopes.Push(ScopeNestedPrompt, ctx)
	frame := e.pushFrame(scope, nil)
	prev := State(e.state.Swap(int32(StateNestedLoop)))

	e.drainLoop(frame)

	e.popFrame(frame)
	e.scopes.Pop(scope)
	e.state.Store(int32(prev))
	return nil
}

// ExitNestedPrompt requests that the innermost nested prompt loop exit.
func (e *ExecutionEngine) ExitNestedPrompt() error {
	e.frameLock.Lock()
	var top *loopFrame
	if n := len(e.frames); n > 0 {
		top = e.frames[n-1]
	}
	e.frameLock.Unlock()

	if top == nil || top.scope.Reason() != ScopeNestedPrompt {
		return ErrNoNestedPrompt
	}

	top.exitRequested.Store(true)
	top.scope.Cancel()
	return nil
}

func (e *ExecutionEngine) pushFrame(scope *CancellationScope, stop *debugging.StopState) *loopFrame {
	frame := &loopFrame{scope: scope, stop: stop}
	e.frameLock.Lock()
	e.frames = append(e.frames, frame)
	e.frameLock.Unlock()
	return frame
}

func (e *ExecutionEngine) popFrame(frame *loopFrame) {
	e.frameLock.Lock()
	defer e.frameLock.Unlock()
	n := len(e.frames)
	if n == 0 || e.frames[n-1] != frame {
		panic("engine: loop frame popped out of order")
	}
	e.frames = e.frames[:n-1]
}

// ExecuteDelegate queues fn to run on the pipeline goroutine and returns its
// future. The effective context passed to fn links the caller's ctx, the
// scope current at task start, and global shutdown.
func ExecuteDelegate[T any](e *ExecutionEngine, ctx context.Context, name string, fn func(ctx context.Context, rt shell.Runtime) (T, error)) (*concurrency.Future[T], error) {
	return executeDelegate(e, ctx, name, fn, false)
}

// ExecuteDelegateUrgent is ExecuteDelegate on the high-priority path: the
// task runs before everything already queued. Reserved for interrupt-class
// work such as cancellation requests.
func ExecuteDelegateUrgent[T any](e *ExecutionEngine, ctx context.Context, name string, fn func(ctx context.Context, rt shell.Runtime) (T, error)) (*concurrency.Future[T], error) {
	return executeDelegate(e, ctx, name, fn, true)
}

func executeDelegate[T any](e *ExecutionEngine, ctx context.Context, name string, fn func(ctx context.Context, rt shell.Runtime) (T, error), front bool) (*concurrency.Future[T], error) {
	t := &delegateTask[T]{
		name:   name,
		caller: ctx,
		fn:     fn,
		future: concurrency.NewFuture[T](),
	}

	var enqueueErr error
	if front {
		enqueueErr = e.queue.EnqueueFront(t)
	} else {
		enqueueErr = e.queue.Enqueue(t)
	}
	if enqueueErr != nil {
		t.future.Fail(enqueueErr)
		return t.future, enqueueErr
	}
	return t.future, nil
}

// ExecuteCommand queues one interpreter command and returns the future for
// its output objects.
func (e *ExecutionEngine) ExecuteCommand(ctx context.Context, cmd shell.Command, opts shell.ExecutionOptions) (*concurrency.Future[[]any], error) {
	t := &commandTask{
		name:   cmd.Text,
		caller: ctx,
		cmd:    cmd,
		opts:   opts,
		future: concurrency.NewFuture[[]any](),
	}

	if enqueueErr := e.queue.Enqueue(t); enqueueErr != nil {
		t.future.Fail(enqueueErr)
		return t.future, enqueueErr
	}
	return t.future, nil
}
