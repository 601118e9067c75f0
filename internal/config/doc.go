// Package config handles configuration loading for coven-relay.
//
// # Overview
//
// Configuration is loaded from YAML files, or TOML when the file name ends
// in .toml, with environment variable expansion. Omitted fields get
// defaults and the result is validated before it is returned.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from COVEN_RELAY_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/coven/relay.yaml
//  3. ~/.config/coven/relay.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	model:
//	  api_key: "${GROQ_API_KEY}"
//
// Unset variables expand to the empty string.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "127.0.0.1:8080"
//
//	database:
//	  path: "/var/lib/coven/relay.db"   # or ":memory:"
//
//	model:
//	  provider: "openai"                # openai, echo
//	  base_url: "https://api.groq.com/openai/v1"
//	  name: "llama-3.3-70b-versatile"
//	  max_tokens: 500
//	  timeout: "60s"
//
//	session:
//	  queue_size: 64
//
//	mail:
//	  from: "assistant@example.com"
//	  domain: "example.com"
//	  smtp:
//	    host: "smtp.example.com"
//	    port: 587
//	  simulate_reply_after: "2s"       # development only
//	  simulated_reply: "Sounds good"
//
//	dedupe:
//	  ttl: "24h"
//	  max_size: 10000
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Schema
//
// JSONSchema reflects the Config struct for editor validation.
package config
