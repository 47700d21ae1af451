package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"pkt.systems/mcpbridge"
	"pkt.systems/mcpbridge/internal/svcfields"
	"pkt.systems/pslog"
)

func submain(ctx context.Context) int {
	baseLogger := pslog.LoggerFromEnv(context.Background(),
		pslog.WithEnvPrefix("MCPBRIDGE_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "mcpbridge")
	cmd := newRootCommand(baseLogger)
	rootInvocation := invocationTargetsRootCommand(cmd, os.Args[1:])
	ctx = withSignalCancel(ctx)
	if _, err := cmd.ExecuteContextC(ctx); err != nil {
		if err != context.Canceled {
			if rootInvocation {
				svcfields.WithSubsystem(baseLogger, "cli.root").Error("command failed", "error", err)
			} else {
				fmt.Fprintf(os.Stderr, "%s\n", err)
			}
		}
		return 1
	}
	return 0
}

func invocationTargetsRootCommand(root *cobra.Command, args []string) bool {
	if len(args) == 0 {
		return true
	}
	lookupLong := func(name string) *pflag.Flag {
		flag := root.Flags().Lookup(name)
		if flag == nil {
			flag = root.PersistentFlags().Lookup(name)
		}
		return flag
	}
	lookupShort := func(shorthand string) *pflag.Flag {
		flag := root.Flags().ShorthandLookup(shorthand)
		if flag == nil {
			flag = root.PersistentFlags().ShorthandLookup(shorthand)
		}
		return flag
	}
	remainingHasSubcommand := func(rest []string) bool {
		for _, tok := range rest {
			if !isSubcommandToken(root, tok) {
				continue
			}
			return true
		}
		return false
	}
	for i := 0; i < len(args); {
		arg := args[i]
		if arg == "--" {
			return true
		}
		if strings.HasPrefix(arg, "--") && arg != "--" {
			if eq := strings.IndexByte(arg, '='); eq >= 0 {
				i++
				continue
			}
			name := strings.TrimPrefix(arg, "--")
			flag := lookupLong(name)
			if flag == nil {
				return !remainingHasSubcommand(args[i+1:])
			}
			i++
			if flag.NoOptDefVal == "" && i < len(args) {
				i++
			}
			continue
		}
		if strings.HasPrefix(arg, "-") && arg != "-" {
			sh := strings.TrimPrefix(arg, "-")
			consumeNext := false
			for idx, ch := range sh {
				flag := lookupShort(string(ch))
				if flag == nil {
					return !remainingHasSubcommand(args[i+1:])
				}
				if flag.NoOptDefVal == "" {
					if idx == len(sh)-1 {
						consumeNext = true
					}
					break
				}
			}
			i++
			if consumeNext && i < len(args) {
				i++
			}
			continue
		}
		return !isSubcommandToken(root, arg)
	}
	return true
}

func isSubcommandToken(root *cobra.Command, token string) bool {
	for _, sub := range root.Commands() {
		if token == sub.Name() {
			return true
		}
		for _, alias := range sub.Aliases {
			if token == alias {
				return true
			}
		}
	}
	return false
}

func humanizeBytes(n int64) string {
	return strings.ReplaceAll(humanize.Bytes(uint64(n)), " ", "")
}

func loadConfigFile() (string, error) {
	cfgPath := strings.TrimSpace(viper.GetString("config"))
	explicit := cfgPath != ""

	if cfgPath == "" {
		if dir, err := mcpbridge.DefaultConfigDir(); err == nil {
			candidate := filepath.Join(dir, mcpbridge.DefaultConfigFileName)
			if _, err := os.Stat(candidate); err == nil {
				cfgPath = candidate
			}
		}
	}

	if cfgPath == "" {
		return "", nil
	}

	expanded, err := expandPath(cfgPath)
	if err != nil {
		return "", fmt.Errorf("expand config path %q: %w", cfgPath, err)
	}
	info, err := os.Stat(expanded)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return "", nil
		}
		return "", fmt.Errorf("config file %q: %w", expanded, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("config file %q is a directory", expanded)
	}

	viper.SetConfigFile(expanded)
	if err := viper.ReadInConfig(); err != nil {
		return "", fmt.Errorf("read config file %q: %w", expanded, err)
	}
	return expanded, nil
}

func expandPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	if strings.HasPrefix(p, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if len(p) == 1 {
			p = home
		} else if p[1] == '/' || p[1] == '\\' {
			p = filepath.Join(home, p[2:])
		}
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return abs, nil
}

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	var cfg mcpbridge.Config

	cmd := &cobra.Command{
		Use:           "mcpbridge",
		Short:         "mcpbridge exposes an MCP server's tools and resources as a REST API",
		SilenceErrors: true,
		Example: `
  # Bridge a local MCP server, no client authentication
  mcpbridge --upstream-url http://localhost:3001/mcp

  # Require X-API-Key and audit full payloads
  MCPBRIDGE_API_KEY=s3cret mcpbridge --log-payloads

  # Read the key from a file and pick up rotations without restarts
  mcpbridge --api-key-file /run/secrets/bridge-key

  # Export traces and serve Prometheus metrics
  mcpbridge --otlp-endpoint grpc://localhost:4317 --metrics-listen :9090
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := baseLogger
			cliLogger := svcfields.WithSubsystem(logger, "cli.root")
			ctx := cmd.Context()
			cmd.SilenceUsage = true
			svcfields.WithSubsystem(logger, "server.lifecycle.init").WithLogLevel().Info(
				"welcome to mcpbridge",
				"app", "mcpbridge",
				"pid", os.Getpid(),
				"uid", os.Getuid(),
				"gid", os.Getgid(),
			)

			configFile, err := loadConfigFile()
			if err != nil {
				return err
			}
			if configFile != "" {
				cliLogger.Info("loaded config file", "path", configFile)
			}

			if err := bindConfig(&cfg); err != nil {
				return err
			}
			logLevel := strings.TrimSpace(viper.GetString("log-level"))
			if logLevel == "" {
				logLevel = mcpbridge.DefaultLogLevel
			}

			level, ok := pslog.ParseLevel(logLevel)
			if ok {
				logger = logger.LogLevel(level)
				cliLogger = svcfields.WithSubsystem(logger, "cli.root")
			}

			server, err := mcpbridge.NewServer(cfg, mcpbridge.WithLogger(logger))
			if err != nil {
				return err
			}

			shutdownTimeout := cfg.ShutdownTimeout
			if shutdownTimeout <= 0 {
				shutdownTimeout = mcpbridge.DefaultShutdownTimeout
			}

			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				_ = server.Shutdown(shutdownCtx)
			}()

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					cliLogger.Error("shutdown failed", "error", err)
				}
			}()

			err = server.Start()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	persistentFlags := cmd.PersistentFlags()
	persistentFlags.StringP("config", "c", "", "path to YAML config file (defaults to $HOME/.mcpbridge/"+mcpbridge.DefaultConfigFileName+")")
	persistentFlags.String("upstream-url", mcpbridge.DefaultUpstreamURL, "MCP server base URL (JSON-RPC posts go to its root path)")
	persistentFlags.String("upstream-token", "", "bearer token for upstream Authorization header")
	persistentFlags.Duration("upstream-timeout", mcpbridge.DefaultUpstreamTimeout, "timeout per upstream JSON-RPC round trip")
	persistentFlags.Bool("upstream-tls-verify", true, "verify upstream TLS certificates (disable for self-signed lab setups)")
	persistentFlags.String("log-level", mcpbridge.DefaultLogLevel, "log level (trace|debug|info|warn|error)")

	flags := cmd.Flags()
	flags.String("listen", mcpbridge.DefaultListen, "listen address")
	flags.String("api-key", "", "shared secret required in X-API-Key (empty leaves the gateway open)")
	flags.String("api-key-file", "", "read the shared secret from this file and follow rotations")
	flags.Bool("log-payloads", false, "audit full request and response payloads")
	flags.String("cors-origins", mcpbridge.DefaultCORSOrigins, "comma-separated CORS origin allowlist (* admits every origin)")
	maxBodyDefault := humanizeBytes(mcpbridge.DefaultMaxBodyBytes)
	flags.String("max-body", maxBodyDefault, "maximum buffered request payload size")
	flags.Duration("shutdown-timeout", mcpbridge.DefaultShutdownTimeout, "overall graceful shutdown timeout")
	flags.String("otlp-endpoint", "", "OTLP collector endpoint (e.g. grpc://localhost:4317)")
	flags.Bool("disable-http-tracing", false, "disable OpenTelemetry spans for HTTP handlers")
	flags.String("metrics-listen", mcpbridge.DefaultMetricsListen, "metrics listen address (Prometheus scrape endpoint; empty disables)")
	flags.String("pprof-listen", mcpbridge.DefaultPprofListen, "pprof listen address (debug/pprof endpoints; empty disables)")
	flags.Bool("enable-profiling-metrics", false, "enable Go runtime profiling metrics on the Prometheus endpoint")
	flags.Bool("sysmon", false, "enable the periodic system load observer")
	flags.Duration("sysmon-sample-interval", mcpbridge.DefaultSysmonSampleInterval, "system load sampling interval")
	flags.Duration("sysmon-log-interval", mcpbridge.DefaultSysmonLogInterval, "interval between system load summary logs (set 0 to disable)")

	bindFlag := func(name string) {
		flag := flags.Lookup(name)
		if flag == nil {
			flag = persistentFlags.Lookup(name)
		}
		if flag == nil {
			panic(fmt.Sprintf("flag %q not found", name))
		}
		if err := viper.BindPFlag(name, flag); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("MCPBRIDGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	names := []string{
		"config",
		"listen", "upstream-url", "upstream-token", "upstream-timeout", "upstream-tls-verify",
		"api-key", "api-key-file", "log-payloads", "cors-origins", "max-body", "shutdown-timeout",
		"otlp-endpoint", "disable-http-tracing", "metrics-listen", "pprof-listen", "enable-profiling-metrics",
		"sysmon", "sysmon-sample-interval", "sysmon-log-interval",
		"log-level",
	}
	for _, name := range names {
		bindFlag(name)
	}

	cmd.AddCommand(newToolsCommand())
	cmd.AddCommand(newCallCommand())
	cmd.AddCommand(newResourcesCommand())
	cmd.AddCommand(newPingCommand())
	cmd.AddCommand(newConfigCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func bindConfig(cfg *mcpbridge.Config) error {
	cfg.Listen = viper.GetString("listen")
	cfg.UpstreamURL = viper.GetString("upstream-url")
	cfg.UpstreamToken = viper.GetString("upstream-token")
	cfg.UpstreamTimeout = viper.GetDuration("upstream-timeout")
	cfg.UpstreamTLSVerify = viper.GetBool("upstream-tls-verify")
	cfg.UpstreamTLSVerifySet = viper.IsSet("upstream-tls-verify")
	cfg.APIKey = viper.GetString("api-key")
	cfg.APIKeyFile = viper.GetString("api-key-file")
	cfg.LogLevel = viper.GetString("log-level")
	cfg.LogPayloads = viper.GetBool("log-payloads")
	cfg.CORSOrigins = viper.GetString("cors-origins")
	if maxBody := viper.GetString("max-body"); maxBody != "" {
		size, err := humanize.ParseBytes(maxBody)
		if err != nil {
			return fmt.Errorf("parse max-body: %w", err)
		}
		cfg.MaxBodyBytes = int64(size)
	}
	cfg.ShutdownTimeout = viper.GetDuration("shutdown-timeout")
	cfg.OTLPEndpoint = viper.GetString("otlp-endpoint")
	cfg.DisableHTTPTracing = viper.GetBool("disable-http-tracing")
	cfg.MetricsListen = viper.GetString("metrics-listen")
	cfg.PprofListen = viper.GetString("pprof-listen")
	cfg.EnableProfilingMetrics = viper.GetBool("enable-profiling-metrics")
	cfg.SysmonEnabled = viper.GetBool("sysmon")
	cfg.SysmonSampleInterval = viper.GetDuration("sysmon-sample-interval")
	cfg.SysmonLogInterval = viper.GetDuration("sysmon-log-interval")
	return nil
}

func withSignalCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signals)
	}()
	return ctx
}
