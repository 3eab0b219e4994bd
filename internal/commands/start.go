// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/PowerShell/PowerShellEditorServices-sub012/internal/engine"
	"github.com/PowerShell/PowerShellEditorServices-sub012/internal/hosting"
	"github.com/PowerShell/PowerShellEditorServices-sub012/internal/protocol"
	"github.com/PowerShell/PowerShellEditorServices-sub012/internal/shell"
	"github.com/PowerShell/PowerShellEditorServices-sub012/internal/version"
	"github.com/PowerShell/PowerShellEditorServices-sub012/pkg/logger"
)

var (
	configPath   string
	useStdio     bool
	listenAddr   string
	dapListen    string
	logFilePath  string
	modules      []string
	profilePaths []string
	languageMode string
	enableDap    bool
)

func NewStartCommand() (*cobra.Command, error) {
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Starts the host and serves a single editor session",
		RunE:  runStart,
		Args:  cobra.NoArgs,
	}

	startCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file. Flags override values from the file.")
	startCmd.Flags().BoolVar(&useStdio, "stdio", false, "Serve the editor protocol over stdin/stdout.")
	startCmd.Flags().StringVar(&listenAddr, "connect", "", "Dial the editor at this host:port instead of using stdio.")
	startCmd.Flags().BoolVar(&enableDap, "debug-adapter", false, "Serve a debug adapter channel alongside the editor session.")
	startCmd.Flags().StringVar(&dapListen, "dap-listen", "", "host:port the debug adapter listener binds to. Port 0 picks an ephemeral port.")
	startCmd.Flags().StringVar(&logFilePath, "log-file", "", "If present, JSON-encoded debug logs are also written to this file.")
	startCmd.Flags().StringSliceVar(&modules, "module", nil, "Module to preload on the pipeline before the first task. May be repeated.")
	startCmd.Flags().StringSliceVar(&profilePaths, "profile", nil, "Profile script to source at startup. May be repeated.")
	startCmd.Flags().StringVar(&languageMode, "language-mode", "", "Language mode for the pipeline (FullLanguage, ConstrainedLanguage, RestrictedLanguage, NoLanguage).")

	return startCmd, nil
}

func runStart(cmd *cobra.Command, _ []string) error {
	cfg, cfgErr := buildConfig(cmd)
	if cfgErr != nil {
		return cfgErr
	}

	if setupErr := setupLogger(cmd, cfg); setupErr != nil {
		return setupErr
	}
	log := rootCmdLogger.WithName("start")

	// The protocol stream is binary framed. A human at a terminal is not an
	// editor, so refuse stdio rather than garble their session.
	if cfg.Transport.Kind == hosting.TransportStdio && isatty.IsTerminal(os.Stdin.Fd()) {
		return fmt.Errorf("stdin is a terminal; the stdio transport carries the editor protocol, use --connect or redirect stdio")
	}

	if isatty.IsTerminal(os.Stderr.Fd()) {
		fmt.Fprintf(os.Stderr, "pseshost %s starting (%s transport)\n", version.Get(), cfg.Transport.Kind)
	}

	log.V(1).Info("host starting",
		"PID", os.Getpid(),
		"Version", version.Get().String(),
		"Transport", cfg.Transport.Kind,
	)

	ctx := cmd.Context()

	transport, transportErr := openTransport(ctx, cfg)
	if transportErr != nil {
		return transportErr
	}

	rt := shell.NewScriptedRuntime()
	eng := engine.NewExecutionEngine(rootCmdLogger.Logger, rt)

	session := hosting.NewSessionService(rootCmdLogger.Logger, cfg, eng, transport)
	services := []hosting.Service{session}
	if cfg.EnableDebugAdapter {
		services = append(services, hosting.NewDebugAdapterService(rootCmdLogger.Logger, cfg.DebugAdapterAddress, eng, rt))
	}

	return runHost(ctx, log, session, services)
}

// buildConfig layers flags over the config file (or the defaults when no file
// is given).
func buildConfig(cmd *cobra.Command) (*hosting.Config, error) {
	var cfg *hosting.Config
	if configPath != "" {
		loaded, loadErr := hosting.LoadConfig(configPath)
		if loadErr != nil {
			return nil, loadErr
		}
		cfg = loaded
	} else {
		cfg = hosting.DefaultConfig()
	}

	if useStdio && listenAddr != "" {
		return nil, fmt.Errorf("--stdio and --connect are mutually exclusive")
	}
	if useStdio {
		cfg.Transport = hosting.TransportConfig{Kind: hosting.TransportStdio}
	}
	if listenAddr != "" {
		cfg.Transport = hosting.TransportConfig{Kind: hosting.TransportTCP, Address: listenAddr}
	}
	if cmd.Flags().Changed("debug-adapter") {
		cfg.EnableDebugAdapter = enableDap
	}
	if dapListen != "" {
		cfg.DebugAdapterAddress = dapListen
	}
	if logFilePath != "" {
		cfg.LogFile = logFilePath
	}
	if len(modules) > 0 {
		cfg.AdditionalModules = append(cfg.AdditionalModules, modules...)
	}
	if len(profilePaths) > 0 {
		cfg.ProfilePaths = append(cfg.ProfilePaths, profilePaths...)
	}
	if languageMode != "" {
		cfg.LanguageMode = languageMode
	}

	if validateErr := cfg.Validate(); validateErr != nil {
		return nil, validateErr
	}
	return cfg, nil
}

// setupLogger rebuilds the root logger when a log file is requested and
// applies the configured level. An explicit -v flag wins over the config.
func setupLogger(cmd *cobra.Command, cfg *hosting.Config) error {
	if cfg.LogFile != "" {
		fileLogger, logErr := logger.New("pseshost", cfg.LogFile)
		if logErr != nil {
			return logErr
		}
		fileLogger.SetLevel(rootCmdLogger.Level())
		rootCmdLogger = fileLogger
	}

	if cfg.LogLevel != "" && !cmd.Flags().Changed("verbosity") {
		level, parseErr := zapcore.ParseLevel(cfg.LogLevel)
		if parseErr != nil {
			return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, parseErr)
		}
		rootCmdLogger.SetLevel(level)
	}
	return nil
}

func openTransport(ctx context.Context, cfg *hosting.Config) (protocol.Transport, error) {
	switch cfg.Transport.Kind {
	case hosting.TransportTCP:
		return protocol.DialTCP(ctx, cfg.Transport.Address)
	default:
		return protocol.NewStdioTransport(os.Stdin, os.Stdout), nil
	}
}

// sessionBoundService ends the whole host when the session it wraps ends.
// The other services exist to serve the session; once the editor goes away
// there is nothing left to host.
type sessionBoundService struct {
	hosting.Service
	ended context.CancelFunc
}

func (s *sessionBoundService) Run(ctx context.Context) error {
	defer s.ended()
	return s.Service.Run(ctx)
}

func runHost(ctx context.Context, log logr.Logger, session hosting.Service, services []hosting.Service) error {
	hostCtx, hostCancel := context.WithCancel(ctx)
	defer hostCancel()

	for i, svc := range services {
		if svc == session {
			services[i] = &sessionBoundService{Service: svc, ended: hostCancel}
		}
	}

	host := &hosting.Host{
		Services: services,
		Logger:   log,
	}
	stopped, serviceErrors := host.RunAsync(hostCtx)

	var runErr error
	select {
	case <-hostCtx.Done():
		log.Info("shutting down")
	case svcErr := <-serviceErrors:
		log.Error(svcErr.Err, fmt.Sprintf("service %s exited with an error", svcErr.Name))
		runErr = &svcErr
	}
	hostCancel()

	if stopErr := <-stopped; stopErr != nil {
		log.Error(stopErr, "host did not shut down cleanly")
		if runErr == nil {
			runErr = stopErr
		}
	}
	return runErr
}
