// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/PowerShell/PowerShellEditorServices-sub012/internal/version"
)

func NewVersionCommand() (*cobra.Command, error) {
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Prints version information",
		Long:  `Prints version information.`,
		RunE:  getVersion,
		Args:  cobra.NoArgs,
	}

	return versionCmd, nil
}

func getVersion(cmd *cobra.Command, _ []string) error {
	log := rootCmdLogger.WithName("version")

	if out, err := json.Marshal(version.Get()); err != nil {
		log.Error(err, "Could not serialize version information")
		return err
	} else {
		fmt.Println(string(out))
		return nil
	}
}
