package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"pkt.systems/mcpbridge"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage mcpbridge configuration files",
	}
	cmd.AddCommand(newConfigGenCommand())
	return cmd
}

func newConfigGenCommand() *cobra.Command {
	var outPath string
	var force bool
	var stdout bool
	defaultOutput := "$HOME/.mcpbridge/config.yaml"
	if dir, err := mcpbridge.DefaultConfigDir(); err == nil {
		defaultOutput = filepath.Join(dir, mcpbridge.DefaultConfigFileName)
	}

	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Generate a default mcpbridge configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if stdout && outPath != "" {
				return fmt.Errorf("--stdout and --out are mutually exclusive")
			}
			if outPath == "" {
				dir, err := mcpbridge.DefaultConfigDir()
				if err != nil {
					return fmt.Errorf("resolve config dir: %w", err)
				}
				outPath = filepath.Join(dir, "config.yaml")
			}

			data, err := defaultConfigYAML()
			if err != nil {
				return err
			}

			if stdout {
				fmt.Print(string(data))
				return nil
			}

			if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
				return fmt.Errorf("create config dir: %w", err)
			}
			if !force {
				if _, err := os.Stat(outPath); err == nil {
					return fmt.Errorf("config file %s already exists (use --force to overwrite)", outPath)
				} else if !errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("stat config file: %w", err)
				}
			}
			if err := os.WriteFile(outPath, data, 0o600); err != nil {
				return fmt.Errorf("write config file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote default config to %s\n", outPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&outPath, "out", "", fmt.Sprintf("output path for generated config (defaults to %s)", defaultOutput))
	cmd.Flags().BoolVar(&force, "force", false, "overwrite the target file if it already exists")
	cmd.Flags().BoolVar(&stdout, "stdout", false, "print the config to stdout instead of writing a file")
	return cmd
}

type configDefaults struct {
	Listen                 string `yaml:"listen"`
	UpstreamURL            string `yaml:"upstream-url"`
	UpstreamToken          string `yaml:"upstream-token"`
	UpstreamTimeout        string `yaml:"upstream-timeout"`
	UpstreamTLSVerify      bool   `yaml:"upstream-tls-verify"`
	APIKey                 string `yaml:"api-key"`
	APIKeyFile             string `yaml:"api-key-file"`
	LogPayloads            bool   `yaml:"log-payloads"`
	CORSOrigins            string `yaml:"cors-origins"`
	MaxBody                string `yaml:"max-body"`
	ShutdownTimeout        string `yaml:"shutdown-timeout"`
	OTLPEndpoint           string `yaml:"otlp-endpoint"`
	DisableHTTPTracing     bool   `yaml:"disable-http-tracing"`
	MetricsListen          string `yaml:"metrics-listen"`
	PprofListen            string `yaml:"pprof-listen"`
	EnableProfilingMetrics bool   `yaml:"enable-profiling-metrics"`
	Sysmon                 bool   `yaml:"sysmon"`
	SysmonSampleInterval   string `yaml:"sysmon-sample-interval"`
	SysmonLogInterval      string `yaml:"sysmon-log-interval"`
	LogLevel               string `yaml:"log-level"`
}

func configHumanizeBytes(n int64) string {
	return strings.ReplaceAll(humanize.Bytes(uint64(n)), " ", "")
}

func defaultConfigYAML(overrides ...func(*configDefaults)) ([]byte, error) {
	defaults := configDefaults{
		Listen:                 mcpbridge.DefaultListen,
		UpstreamURL:            mcpbridge.DefaultUpstreamURL,
		UpstreamToken:          "",
		UpstreamTimeout:        mcpbridge.DefaultUpstreamTimeout.String(),
		UpstreamTLSVerify:      true,
		APIKey:                 "",
		APIKeyFile:             "",
		LogPayloads:            false,
		CORSOrigins:            mcpbridge.DefaultCORSOrigins,
		MaxBody:                configHumanizeBytes(mcpbridge.DefaultMaxBodyBytes),
		ShutdownTimeout:        mcpbridge.DefaultShutdownTimeout.String(),
		OTLPEndpoint:           "",
		DisableHTTPTracing:     false,
		MetricsListen:          mcpbridge.DefaultMetricsListen,
		PprofListen:            mcpbridge.DefaultPprofListen,
		EnableProfilingMetrics: false,
		Sysmon:                 false,
		SysmonSampleInterval:   mcpbridge.DefaultSysmonSampleInterval.String(),
		SysmonLogInterval:      mcpbridge.DefaultSysmonLogInterval.String(),
		LogLevel:               mcpbridge.DefaultLogLevel,
	}
	for _, fn := range overrides {
		if fn != nil {
			fn(&defaults)
		}
	}

	out, err := yaml.Marshal(&defaults)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return out, nil
}
