// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package hosting

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/go-logr/logr"

	"github.com/PowerShell/PowerShellEditorServices-sub012/internal/debugadapter"
	"github.com/PowerShell/PowerShellEditorServices-sub012/internal/engine"
	"github.com/PowerShell/PowerShellEditorServices-sub012/internal/shell"
)

// DebugAdapterService listens for DAP clients and serves each connection
// with a debug adapter session sharing the host's execution engine.
type DebugAdapterService struct {
	log     logr.Logger
	address string
	eng     *engine.ExecutionEngine
	rt      shell.Runtime

	mu       sync.Mutex
	listener net.Listener
}

func NewDebugAdapterService(log logr.Logger, address string, eng *engine.ExecutionEngine, rt shell.Runtime) *DebugAdapterService {
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	return &DebugAdapterService{
		log:     log,
		address: address,
		eng:     eng,
		rt:      rt,
	}
}

func (s *DebugAdapterService) Name() string {
	return "debug-adapter"
}

// Addr returns the listener's address, useful when listening on port 0.
func (s *DebugAdapterService) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *DebugAdapterService) Run(ctx context.Context) error {
	var lc net.ListenConfig
	listener, listenErr := lc.Listen(ctx, "tcp", s.address)
	if listenErr != nil {
		return fmt.Errorf("failed to listen for debug adapter clients on %s: %w", s.address, listenErr)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	s.log.Info("debug adapter listening", "address", listener.Addr().String())

	var sessions sync.WaitGroup
	defer sessions.Wait()

	for {
		conn, acceptErr := listener.Accept()
		if acceptErr != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("debug adapter accept failed: %w", acceptErr)
		}

		s.log.V(1).Info("debug adapter client connected", "remote", conn.RemoteAddr().String())
		session := debugadapter.NewSession(s.log, conn, s.eng, s.rt)
		sessions.Add(1)
		go func() {
			defer sessions.Done()
			if runErr := session.Run(ctx); runErr != nil {
				s.log.Error(runErr, "debug adapter session ended with an error")
			}
		}()
	}
}
