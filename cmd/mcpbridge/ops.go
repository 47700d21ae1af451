package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"pkt.systems/mcpbridge"
	"pkt.systems/mcpbridge/api"
	"pkt.systems/mcpbridge/client"
	"pkt.systems/mcpbridge/internal/jsonutil"
	"pkt.systems/pslog"
)

const envCorrelation = "MCPBRIDGE_CORRELATION_ID"

// upstreamClient builds a JSON-RPC client from the root connection flags, so
// the ops subcommands talk to the same upstream the gateway would.
func upstreamClient(verbose bool) (*client.Client, error) {
	serverURL := strings.TrimSpace(viper.GetString("upstream-url"))
	if serverURL == "" {
		serverURL = mcpbridge.DefaultUpstreamURL
	}
	timeout := viper.GetDuration("upstream-timeout")
	if timeout <= 0 {
		timeout = mcpbridge.DefaultUpstreamTimeout
	}
	opts := []client.Option{
		client.WithTimeout(timeout),
		client.WithTLSVerify(viper.GetBool("upstream-tls-verify")),
	}
	if token := strings.TrimSpace(viper.GetString("upstream-token")); token != "" {
		opts = append(opts, client.WithAuthToken(token))
	}
	if verbose {
		opts = append(opts,
			client.WithLogger(pslog.NewStructured(context.Background(), os.Stderr).LogLevel(pslog.TraceLevel)),
			client.WithPayloadLogging(true),
		)
	}
	return client.New(serverURL, opts...)
}

func resolveCorrelationID() string {
	if env := strings.TrimSpace(os.Getenv(envCorrelation)); env != "" {
		if normalized, ok := client.NormalizeCorrelationID(env); ok {
			return normalized
		}
	}
	return client.GenerateCorrelationID()
}

func commandContextWithCorrelation(cmd *cobra.Command) (context.Context, string) {
	id := resolveCorrelationID()
	ctx := client.WithCorrelationID(cmd.Context(), id)
	return ctx, id
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newToolsCommand() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:           "tools",
		Short:         "List tools advertised by the upstream MCP server",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := upstreamClient(verbose)
			if err != nil {
				return err
			}
			defer cli.Close()
			ctx, _ := commandContextWithCorrelation(cmd)
			tools, err := cli.ListTools(ctx)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), api.ToolListResponse{Tools: tools})
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose (trace) client logging")
	return cmd
}

func newCallCommand() *cobra.Command {
	var verbose bool
	var argsFile string
	var argPairs []string
	cmd := &cobra.Command{
		Use:   "call <tool>",
		Short: "Execute a tool on the upstream MCP server",
		Example: `  # Arguments from a file (JSON or YAML; use - for stdin)
  mcpbridge call search -f query.yaml

  # Inline arguments (values parsed as JSON when possible)
  mcpbridge call search --arg query="index=main" --arg limit=10`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			arguments, err := loadToolArguments(argsFile, argPairs)
			if err != nil {
				return err
			}
			cli, err := upstreamClient(verbose)
			if err != nil {
				return err
			}
			defer cli.Close()
			ctx, _ := commandContextWithCorrelation(cmd)
			res, err := cli.CallTool(ctx, args[0], arguments)
			if err != nil {
				return err
			}
			out := api.ToolExecutionResponse{IsError: res.Bool("isError")}
			if err := res.Decode("content", &out.Content); err != nil {
				return fmt.Errorf("malformed content member: %w", err)
			}
			if out.Content == nil {
				out.Content = []json.RawMessage{}
			}
			if err := writeJSON(cmd.OutOrStdout(), out); err != nil {
				return err
			}
			if out.IsError {
				return fmt.Errorf("tool %s reported an error", args[0])
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&argsFile, "file", "f", "", "tool arguments file, JSON or YAML (use - for stdin)")
	cmd.Flags().StringArrayVar(&argPairs, "arg", nil, "tool argument as key=value (repeatable; overrides --file keys)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose (trace) client logging")
	return cmd
}

func newResourcesCommand() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "resources [uri]",
		Short: "List upstream resources, or read one by URI",
		Example: `  # Catalog
  mcpbridge resources

  # Read a single resource
  mcpbridge resources splunk://indexes/main`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := upstreamClient(verbose)
			if err != nil {
				return err
			}
			defer cli.Close()
			ctx, _ := commandContextWithCorrelation(cmd)
			if len(args) == 0 {
				resources, err := cli.ListResources(ctx)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), api.ResourceListResponse{Resources: resources})
			}
			res, err := cli.ReadResource(ctx, args[0])
			if err != nil {
				return err
			}
			var out api.ResourceReadResponse
			if err := res.Decode("contents", &out.Contents); err != nil {
				return fmt.Errorf("malformed contents member: %w", err)
			}
			if out.Contents == nil {
				out.Contents = []api.ResourceContent{}
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose (trace) client logging")
	return cmd
}

func newPingCommand() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:           "ping",
		Short:         "Probe the upstream MCP server with a live tools/list call",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := upstreamClient(verbose)
			if err != nil {
				return err
			}
			defer cli.Close()
			ctx, _ := commandContextWithCorrelation(cmd)
			health := api.HealthResponse{Status: "healthy", MCPConnection: "connected"}
			if _, err := cli.ListTools(ctx); err != nil {
				health = api.HealthResponse{Status: "degraded", MCPConnection: "disconnected", Error: err.Error()}
			}
			if err := writeJSON(cmd.OutOrStdout(), health); err != nil {
				return err
			}
			if health.Status != "healthy" {
				return fmt.Errorf("upstream %s is %s", cli.ServerURL(), health.Status)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose (trace) client logging")
	return cmd
}

func loadToolArguments(path string, pairs []string) (map[string]any, error) {
	arguments := map[string]any{}
	if path != "" {
		data, err := readInput(path)
		if err != nil {
			return nil, err
		}
		jsonData, err := normalizeArgumentsJSON(path, data)
		if err != nil {
			return nil, err
		}
		doc, err := parseJSONObject(jsonData)
		if err != nil {
			return nil, fmt.Errorf("parse arguments %s: %w", path, err)
		}
		arguments = doc
	}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid --arg %q (expected key=value)", pair)
		}
		arguments[strings.TrimSpace(key)] = parseArgValue(value)
	}
	return arguments, nil
}

// normalizeArgumentsJSON returns compact JSON for the supplied arguments file.
// YAML extensions convert; extension-less input (stdin included) falls back to
// YAML when it does not parse as JSON.
func normalizeArgumentsJSON(path string, data []byte) ([]byte, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	switch formatExt(path) {
	case ".yaml", ".yml":
		return convertYAMLToJSON(path, data)
	}
	compact, err := jsonutil.CompactToBuffer(bytes.NewReader(data), int64(len(data))+1)
	if err == nil {
		return compact, nil
	}
	if formatExt(path) == ".json" {
		return nil, fmt.Errorf("parse arguments %s: %w", path, err)
	}
	return convertYAMLToJSON(path, data)
}

// parseArgValue keeps --arg ergonomic: numbers, booleans, nulls, arrays and
// objects pass through as JSON; everything else stays a string.
func parseArgValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

func parseJSONObject(data []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]any{}, nil
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func convertYAMLToJSON(path string, data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml %s: %w", path, err)
	}
	return json.Marshal(yamlToJSON(doc))
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func formatExt(path string) string {
	return strings.ToLower(filepath.Ext(path))
}

func yamlToJSON(v any) any {
	switch val := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			key := fmt.Sprint(k)
			out[key] = yamlToJSON(v)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			out[k] = yamlToJSON(v)
		}
		return out
	case []any:
		slice := make([]any, len(val))
		for i, elem := range val {
			slice[i] = yamlToJSON(elem)
		}
		return slice
	default:
		return val
	}
}
