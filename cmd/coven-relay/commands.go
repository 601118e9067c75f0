// ABOUTME: Offline CLI commands: correlation token tools, config schema, and interactive init
// ABOUTME: None of these need a running relay

package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/2389/coven-relay/internal/config"
	"github.com/2389/coven-relay/internal/correlation"
)

// runToken converts between session ids and correlation tokens.
func runToken(w io.Writer, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: coven-relay token encode <hex-id> | decode <token>")
	}

	switch args[0] {
	case "encode":
		token, err := correlation.Encode(strings.TrimSpace(args[1]))
		if err != nil {
			return fmt.Errorf("encoding session id: %w", err)
		}
		fmt.Fprintln(w, token)
	case "decode":
		id, err := correlation.Decode(strings.TrimSpace(args[1]))
		if err != nil {
			return fmt.Errorf("decoding token: %w", err)
		}
		fmt.Fprintln(w, id)
	default:
		return fmt.Errorf("unknown token subcommand: %s", args[0])
	}
	return nil
}

// runSchema prints the JSON Schema of the config file.
func runSchema(w io.Writer) error {
	data, err := config.JSONSchema()
	if err != nil {
		return fmt.Errorf("generating schema: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func runInit(in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)

	fmt.Fprintln(out, "coven-relay configuration setup")
	fmt.Fprintln(out, "===============================")
	fmt.Fprintln(out)

	defaultConfigPath := getConfigPath()
	defaultDbPath := filepath.Join(getDataPath(), "relay.db")

	outputFile := prompt(reader, out, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, out, "File exists. Overwrite?", "no")) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	fmt.Fprintln(out, "\n--- Server Configuration ---")
	httpAddr := prompt(reader, out, "HTTP address", config.DefaultHTTPAddr)

	fmt.Fprintln(out, "\n--- Database Configuration ---")
	dbPath := prompt(reader, out, "SQLite database path", defaultDbPath)

	fmt.Fprintln(out, "\n--- Model Configuration ---")
	provider := prompt(reader, out, "Model provider (openai/echo)", config.ProviderOpenAI)
	var baseURL, modelName string
	if provider == config.ProviderOpenAI {
		baseURL = prompt(reader, out, "API base URL", config.DefaultModelBaseURL)
		modelName = prompt(reader, out, "Model name", config.DefaultModelName)
	}

	fmt.Fprintln(out, "\n--- Mail Configuration ---")
	mailDomain := prompt(reader, out, "Message-ID domain", config.DefaultMailDomain)
	mailFrom := prompt(reader, out, "From address", "assistant@"+mailDomain)
	smtpHost := prompt(reader, out, "SMTP host (leave empty to log mail only)", "")

	fmt.Fprintln(out, "\n--- Tailscale Configuration ---")
	tailscaleEnabled := yes(prompt(reader, out, "Enable Tailscale?", "no"))
	var tsHostname string
	var tsEphemeral bool
	if tailscaleEnabled {
		tsHostname = prompt(reader, out, "Tailscale hostname", "coven-relay")
		tsEphemeral = yes(prompt(reader, out, "Ephemeral node?", "no"))
	}

	fmt.Fprintln(out, "\n--- Logging Configuration ---")
	logLevel := prompt(reader, out, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, out, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# coven-relay configuration\n")
	cfg.WriteString("# Generated by coven-relay init\n\n")

	cfg.WriteString("server:\n")
	fmt.Fprintf(&cfg, "  http_addr: %q\n\n", httpAddr)

	cfg.WriteString("database:\n")
	fmt.Fprintf(&cfg, "  path: %q\n\n", dbPath)

	cfg.WriteString("model:\n")
	fmt.Fprintf(&cfg, "  provider: %q\n", provider)
	if provider == config.ProviderOpenAI {
		fmt.Fprintf(&cfg, "  base_url: %q\n", baseURL)
		cfg.WriteString("  api_key: \"${GROQ_API_KEY}\"\n")
		fmt.Fprintf(&cfg, "  name: %q\n", modelName)
		fmt.Fprintf(&cfg, "  max_tokens: %d\n", config.DefaultMaxTokens)
	}
	cfg.WriteString("\n")

	cfg.WriteString("mail:\n")
	fmt.Fprintf(&cfg, "  from: %q\n", mailFrom)
	fmt.Fprintf(&cfg, "  domain: %q\n", mailDomain)
	if smtpHost != "" {
		cfg.WriteString("  smtp:\n")
		fmt.Fprintf(&cfg, "    host: %q\n", smtpHost)
		fmt.Fprintf(&cfg, "    port: %d\n", config.DefaultSMTPPort)
		cfg.WriteString("    username: \"${SMTP_USERNAME}\"\n")
		cfg.WriteString("    password: \"${SMTP_PASSWORD}\"\n")
	}
	cfg.WriteString("\n")

	cfg.WriteString("tailscale:\n")
	fmt.Fprintf(&cfg, "  enabled: %t\n", tailscaleEnabled)
	if tailscaleEnabled {
		fmt.Fprintf(&cfg, "  hostname: %q\n", tsHostname)
		fmt.Fprintf(&cfg, "  ephemeral: %t\n", tsEphemeral)
	}
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	fmt.Fprintf(&cfg, "  level: %q\n", logLevel)
	fmt.Fprintf(&cfg, "  format: %q\n\n", logFormat)

	cfg.WriteString("metrics:\n")
	cfg.WriteString("  enabled: true\n")
	fmt.Fprintf(&cfg, "  path: %q\n", config.DefaultMetricsPath)

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Fprintf(out, "\nConfig written to %s\n", outputFile)
	fmt.Fprintf(out, "Data directory: %s\n", dataDir)
	fmt.Fprintln(out, "\nTo start the server:")
	fmt.Fprintln(out, "  coven-relay serve")

	return nil
}

func prompt(reader *bufio.Reader, out io.Writer, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "%s [%s]: ", question, defaultVal)
	} else {
		fmt.Fprintf(out, "%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		// On EOF or error, return default
		fmt.Fprintln(out)
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

func yes(answer string) bool {
	answer = strings.ToLower(answer)
	return answer == "yes" || answer == "y"
}
