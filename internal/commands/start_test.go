// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/PowerShell/PowerShellEditorServices-sub012/internal/hosting"
)

// Flag values live in package vars, so these tests cannot run in parallel.
func resetStartFlags(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		configPath = ""
		useStdio = false
		listenAddr = ""
		dapListen = ""
		logFilePath = ""
		modules = nil
		profilePaths = nil
		languageMode = ""
		enableDap = false
	})
}

func parseStart(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd, err := NewStartCommand()
	require.NoError(t, err)
	require.NoError(t, cmd.ParseFlags(args))
	return cmd
}

func TestBuildConfigDefaults(t *testing.T) {
	resetStartFlags(t)

	cfg, err := buildConfig(parseStart(t))
	require.NoError(t, err)
	require.Equal(t, hosting.TransportStdio, cfg.Transport.Kind)
	require.Equal(t, hosting.LanguageModeFull, cfg.LanguageMode)
	require.False(t, cfg.EnableDebugAdapter)
}

func TestBuildConfigFlagsOverrideFile(t *testing.T) {
	resetStartFlags(t)

	path := filepath.Join(t.TempDir(), "host.yaml")
	require.NoError(t, os.WriteFile(path, []byte("transport:\n  kind: stdio\nlanguageMode: ConstrainedLanguage\n"), 0o600))

	cmd := parseStart(t,
		"--config", path,
		"--connect", "127.0.0.1:9999",
		"--module", "Pester",
		"--debug-adapter",
		"--dap-listen", "127.0.0.1:4712",
	)

	cfg, err := buildConfig(cmd)
	require.NoError(t, err)
	require.Equal(t, hosting.TransportTCP, cfg.Transport.Kind)
	require.Equal(t, "127.0.0.1:9999", cfg.Transport.Address)
	require.Equal(t, hosting.LanguageModeConstrained, cfg.LanguageMode)
	require.Equal(t, []string{"Pester"}, cfg.AdditionalModules)
	require.True(t, cfg.EnableDebugAdapter)
	require.Equal(t, "127.0.0.1:4712", cfg.DebugAdapterAddress)
}

func TestBuildConfigRejectsStdioAndConnect(t *testing.T) {
	resetStartFlags(t)

	cmd := parseStart(t, "--stdio", "--connect", "127.0.0.1:9999")
	_, err := buildConfig(cmd)
	require.ErrorContains(t, err, "mutually exclusive")
}

func TestBuildConfigRejectsBadLanguageMode(t *testing.T) {
	resetStartFlags(t)

	cmd := parseStart(t, "--language-mode", "HalfLanguage")
	_, err := buildConfig(cmd)
	require.ErrorContains(t, err, "language mode")
}

func TestNewRootCmdWiresSubcommands(t *testing.T) {
	root, err := NewRootCmd()
	require.NoError(t, err)

	names := make([]string, 0, len(root.Commands()))
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	require.Contains(t, names, "start")
	require.Contains(t, names, "version")
}
