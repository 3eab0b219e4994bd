// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/PowerShell/PowerShellEditorServices-sub012/pkg/logger"
)

var rootCmdLogger *logger.Logger

func NewRootCmd() (*cobra.Command, error) {
	rootCmd := &cobra.Command{
		Use:   "pseshost",
		Short: "Hosts the PowerShell execution engine for editors and debug adapters",
		Long: `pseshost runs a PowerShell pipeline on behalf of an editor.

	It speaks the editor message protocol over stdio or TCP and can serve a
	debug adapter channel alongside it, sharing a single pipeline thread.`,
		SilenceUsage: true,
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			rootCmdLogger.Flush()
		},
	}

	rootCmd.CompletionOptions.HiddenDefaultCmd = true

	log, err := logger.New("pseshost", "")
	if err != nil {
		return nil, fmt.Errorf("Could not set up logging: %w", err)
	}
	rootCmdLogger = log
	rootCmdLogger.AddLevelFlag(rootCmd.PersistentFlags())

	var cmd *cobra.Command

	if cmd, err = NewStartCommand(); cmd != nil {
		rootCmd.AddCommand(cmd)
	} else {
		return nil, fmt.Errorf("Could not set up 'start' command: %w", err)
	}

	if cmd, err = NewVersionCommand(); cmd != nil {
		rootCmd.AddCommand(cmd)
	} else {
		return nil, fmt.Errorf("Could not set up 'version' command: %w", err)
	}

	return rootCmd, nil
}

// FlushLogger flushes buffered log output. Safe to call before NewRootCmd.
func FlushLogger() {
	if rootCmdLogger != nil {
		rootCmdLogger.Flush()
	}
}
