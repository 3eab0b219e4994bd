// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package hosting runs the host's long-lived services: the session wiring a
// transport, dispatcher and execution engine together, and any listeners.
package hosting

import (
	"context"
	"errors"
	"sync"

	"github.com/go-logr/logr"
)

// Service is one long-running member of the host. Run blocks until the
// service stops; returning before ctx is done with a non-nil error reports a
// service failure.
type Service interface {
	Name() string
	Run(ctx context.Context) error
}

// ServiceError identifies which service failed.
type ServiceError struct {
	Name string
	Err  error
}

// Host runs a set of services and reports their failures. Cancel the context
// passed to RunAsync to shut the host down.
type Host struct {
	Services []Service
	Logger   logr.Logger
}

// RunAsync starts every service on its own goroutine. The serviceErrors
// channel carries failures that happen while the host is live; the stopped
// channel delivers one value after all services have exited, non-nil if any
// of them failed to shut down cleanly.
func (h *Host) RunAsync(ctx context.Context) (stopped <-chan error, serviceErrors <-chan ServiceError) {
	failures := make(chan ServiceError, len(h.Services))
	done := make(chan error, 1)

	var wg sync.WaitGroup
	var shutdownMu sync.Mutex
	var shutdownErrs []*ServiceError

	for _, svc := range h.Services {
		wg.Add(1)
		go func(svc Service) {
			defer wg.Done()

			h.Logger.Info("service starting", "service", svc.Name())
			runErr := svc.Run(ctx)
			if runErr == nil || errors.Is(runErr, context.Canceled) {
				h.Logger.Info("service stopped", "service", svc.Name())
				return
			}

			if ctx.Err() != nil {
				// Failed while shutting down, not while serving.
				shutdownMu.Lock()
				shutdownErrs = append(shutdownErrs, &ServiceError{Name: svc.Name(), Err: runErr})
				shutdownMu.Unlock()
				return
			}

			h.Logger.Error(runErr, "service failed", "service", svc.Name())
			failures <- ServiceError{Name: svc.Name(), Err: runErr}
		}(svc)
	}

	go func() {
		wg.Wait()
		shutdownMu.Lock()
		defer shutdownMu.Unlock()
		if len(shutdownErrs) == 0 {
			done <- nil
			return
		}
		joined := make([]error, len(shutdownErrs))
		for i, e := range shutdownErrs {
			joined[i] = e.Err
		}
		done <- errors.Join(joined...)
	}()

	return done, failures
}

func (e *ServiceError) Error() string {
	return e.Name + ": " + e.Err.Error()
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}
