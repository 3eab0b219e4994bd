// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package testutil

import (
	"flag"
	"testing"

	"github.com/go-logr/logr"
	"go.uber.org/zap/zapcore"

	"github.com/PowerShell/PowerShellEditorServices-sub012/pkg/logger"
)

// NewLogForTesting builds a logger that is quiet by default and verbose when
// tests run with -v.
func NewLogForTesting(t *testing.T, name string) logr.Logger {
	log, err := logger.New(name, "")
	if err != nil {
		t.Fatalf("failed to create test logger: %v", err)
	}
	log.SetLevel(zapcore.ErrorLevel)
	if !flag.Parsed() {
		flag.Parse() // Needed to test if the verbose flag was present.
	}
	if testing.Verbose() {
		log.SetLevel(zapcore.DebugLevel)
	}
	return log.Logger.WithValues("test", true)
}
