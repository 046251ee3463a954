// Package config provides YAML configuration parsing for tunnelup.
//
// This package enables running tunnelup as a standalone binary with a
// configuration file, as an alternative to the programmatic SDK approach.
//
// Example configuration:
//
//	status_port: 8080
//	poll_interval: 2s
//	wait_timeout: 60s
//	status_endpoint: http://127.0.0.1:4040/api/tunnels
//	matcher: tunnels-api
//
//	app:
//	  name: web
//	  command: [python3, app.py]
//	  port: 5000
//	  env:
//	    FLASK_ENV: production
//
//	agent:
//	  name: ngrok
//	  command: [ngrok, http, "{{.Port}}"]
//	  stop_timeout: 5s
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// minPollInterval is the minimum allowed polling interval for production
// configs. This prevents accidental busy-looping against the agent API.
const minPollInterval = 1 * time.Second

// Config is the root configuration structure for tunnelup.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	// StatusPort is the port for tunnelup's own status API.
	// 0 (the default) disables the server.
	StatusPort int `yaml:"status_port"`

	// StatusEndpoint is the agent's local tunnel-listing URL.
	// Supports environment variable substitution: ${VAR} or ${VAR:-default}.
	// Defaults to http://127.0.0.1:4040/api/tunnels.
	StatusEndpoint string `yaml:"status_endpoint"`

	// PollInterval is the sleep between poll attempts.
	// Accepts duration strings like "2s", "1m", "1500ms". Defaults to 2s.
	PollInterval Duration `yaml:"poll_interval"`

	// AttemptTimeout is the per-request timeout. Defaults to 3s.
	AttemptTimeout Duration `yaml:"attempt_timeout"`

	// WaitTimeout is the overall deadline for the tunnel to appear.
	// Defaults to 60s. An explicit "0s" disables the deadline.
	WaitTimeout *Duration `yaml:"wait_timeout"`

	// Matcher determines how the public URL is extracted from the agent's
	// status response. Can be shorthand ("tunnels-api", "regex:PATTERN",
	// "hostsuffix:SUFFIX") or structured.
	Matcher MatcherConfig `yaml:"matcher"`

	// App is the application process to supervise. Required.
	App ProcessConfig `yaml:"app"`

	// Agent is the tunneling agent process to supervise. Required.
	// Its command arguments may reference {{.Port}}, expanded to App.Port.
	Agent ProcessConfig `yaml:"agent"`
}

// ProcessConfig defines one supervised process.
type ProcessConfig struct {
	// Name is the display name used in logs and the status API.
	Name string `yaml:"name"`

	// Command is the argv vector; the first element is the executable.
	// Elements support environment variable substitution.
	Command []string `yaml:"command"`

	// Env contains extra environment variables for the process.
	// Values support environment variable substitution.
	Env map[string]string `yaml:"env"`

	// Dir is the working directory. Empty inherits tunnelup's.
	Dir string `yaml:"dir"`

	// Port is the local TCP port the process listens on. Only meaningful
	// for the app block, where it feeds the agent's {{.Port}} template.
	Port int `yaml:"port"`

	// StopTimeout is the SIGTERM-to-SIGKILL grace period. Defaults to 10s.
	StopTimeout Duration `yaml:"stop_timeout"`
}

// MatcherConfig specifies how to extract a public URL from a status response.
//
// It supports two formats in YAML:
//
// Shorthand string:
//
//	matcher: tunnels-api
//	matcher: regex:https://[a-z0-9-]+\.trycloudflare\.com
//	matcher: hostsuffix:.ngrok-free.app
//	matcher: default
//
// Structured object:
//
//	matcher:
//	  type: regex
//	  pattern: https://[a-z0-9-]+\.trycloudflare\.com
type MatcherConfig struct {
	// Type is the matcher type: "default", "tunnels-api", "regex", "hostsuffix".
	Type string

	// Pattern is the regular expression (for type: regex).
	Pattern string

	// Suffix is the hostname suffix (for type: hostsuffix).
	Suffix string
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// UnmarshalYAML implements yaml.Unmarshaler for MatcherConfig.
func (m *MatcherConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		return m.parseShorthand(s)
	}

	if node.Kind == yaml.MappingNode {
		// temporary struct to avoid infinite recursion
		var raw struct {
			Type    string `yaml:"type"`
			Pattern string `yaml:"pattern"`
			Suffix  string `yaml:"suffix"`
		}
		if err := node.Decode(&raw); err != nil {
			return err
		}
		m.Type = raw.Type
		m.Pattern = raw.Pattern
		m.Suffix = raw.Suffix
		return nil
	}

	return fmt.Errorf("matcher must be a string or object, got %v", node.Kind)
}

// parseShorthand parses matcher shorthand syntax.
//
// Supported formats:
//   - "default" → tunnels API document, then known ngrok hostnames
//   - "tunnels-api" → ngrok-style /api/tunnels JSON document
//   - "regex:PATTERN" → first substring matching PATTERN
//   - "hostsuffix:SUFFIX" → first https URL whose hostname ends in SUFFIX
func (m *MatcherConfig) parseShorthand(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	if idx := strings.Index(s, ":"); idx != -1 {
		m.Type = s[:idx]
		value := s[idx+1:]

		switch m.Type {
		case "regex":
			m.Pattern = value
		case "hostsuffix":
			m.Suffix = value
		default:
			return fmt.Errorf("unknown matcher type %q", m.Type)
		}
		return nil
	}

	switch s {
	case "default", "tunnels-api":
		m.Type = s
	default:
		return fmt.Errorf("unknown matcher %q (expected 'default', 'tunnels-api', 'regex:PATTERN', or 'hostsuffix:SUFFIX')", s)
	}
	return nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} references.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// already have an error, skip processing
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		// submatches[2] is ":-..." (non-empty if default syntax was used)
		// submatches[3] is the actual default value (may be empty for ${VAR:-})
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file.
//
// The file is read, parsed, environment variables are expanded, defaults are
// applied, and the result is validated. Returns an error describing the
// first problem found.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration bytes.
//
// Like [Load] but from memory, useful for tests and embedded configs.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyDefaults fills in zero-valued fields.
func (c *Config) applyDefaults() {
	if c.StatusEndpoint == "" {
		c.StatusEndpoint = "http://127.0.0.1:4040/api/tunnels"
	}
	if c.PollInterval == 0 {
		c.PollInterval = Duration(2 * time.Second)
	}
	if c.AttemptTimeout == 0 {
		c.AttemptTimeout = Duration(3 * time.Second)
	}
	if c.WaitTimeout == nil {
		d := Duration(60 * time.Second)
		c.WaitTimeout = &d
	}
	if c.App.StopTimeout == 0 {
		c.App.StopTimeout = Duration(10 * time.Second)
	}
	if c.Agent.StopTimeout == 0 {
		c.Agent.StopTimeout = Duration(10 * time.Second)
	}
}

// validate checks the configuration and expands environment variables in place.
func (c *Config) validate() error {
	if c.StatusPort < 0 || c.StatusPort > 65535 {
		return fmt.Errorf("status_port must be between 0 and 65535, got %d", c.StatusPort)
	}

	expanded, err := expandEnvVars(c.StatusEndpoint)
	if err != nil {
		return fmt.Errorf("status_endpoint: %w", err)
	}
	c.StatusEndpoint = expanded

	parsedURL, err := url.Parse(c.StatusEndpoint)
	if err != nil {
		return fmt.Errorf("invalid status_endpoint: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("status_endpoint scheme must be http or https, got %q", parsedURL.Scheme)
	}

	if c.PollInterval.Duration() < minPollInterval {
		return fmt.Errorf("poll_interval must be at least %s, got %s", minPollInterval, c.PollInterval.Duration())
	}
	if c.AttemptTimeout.Duration() <= 0 {
		return fmt.Errorf("attempt_timeout must be positive, got %s", c.AttemptTimeout.Duration())
	}
	if c.WaitTimeout.Duration() < 0 {
		return fmt.Errorf("wait_timeout cannot be negative, got %s", c.WaitTimeout.Duration())
	}

	if err := c.validateMatcher(); err != nil {
		return err
	}

	if err := c.validateProcess(&c.App, "app"); err != nil {
		return err
	}
	if err := c.validateProcess(&c.Agent, "agent"); err != nil {
		return err
	}

	if c.App.Name == c.Agent.Name {
		return fmt.Errorf("app and agent must have distinct names, both are %q", c.App.Name)
	}

	return nil
}

// validateMatcher validates the matcher configuration.
func (c *Config) validateMatcher() error {
	switch c.Matcher.Type {
	case "", "default", "tunnels-api":
		// no additional validation needed
	case "regex":
		if c.Matcher.Pattern == "" {
			return errors.New("matcher type 'regex' requires a pattern")
		}
		if _, err := regexp.Compile(c.Matcher.Pattern); err != nil {
			return fmt.Errorf("matcher: invalid pattern: %w", err)
		}
	case "hostsuffix":
		if c.Matcher.Suffix == "" {
			return errors.New("matcher type 'hostsuffix' requires a suffix")
		}
	default:
		return fmt.Errorf("unknown matcher type %q", c.Matcher.Type)
	}
	return nil
}

// validateProcess validates one process block and expands environment
// variables in its command, env values, and dir.
func (c *Config) validateProcess(p *ProcessConfig, block string) error {
	if p.Name == "" {
		return fmt.Errorf("%s: name is required", block)
	}
	if len(p.Command) == 0 {
		return fmt.Errorf("%s (%s): command is required", block, p.Name)
	}

	for i, arg := range p.Command {
		expanded, err := expandEnvVars(arg)
		if err != nil {
			return fmt.Errorf("%s (%s): command[%d]: %w", block, p.Name, i, err)
		}
		p.Command[i] = expanded
	}
	if p.Command[0] == "" {
		return fmt.Errorf("%s (%s): command[0] (executable) cannot be empty", block, p.Name)
	}

	for k, v := range p.Env {
		expanded, err := expandEnvVars(v)
		if err != nil {
			return fmt.Errorf("%s (%s): env[%s]: %w", block, p.Name, k, err)
		}
		p.Env[k] = expanded
	}

	expanded, err := expandEnvVars(p.Dir)
	if err != nil {
		return fmt.Errorf("%s (%s): dir: %w", block, p.Name, err)
	}
	p.Dir = expanded

	if p.Port < 0 || p.Port > 65535 {
		return fmt.Errorf("%s (%s): port must be between 0 and 65535, got %d", block, p.Name, p.Port)
	}

	if p.StopTimeout.Duration() <= 0 {
		return fmt.Errorf("%s (%s): stop_timeout must be positive, got %s", block, p.Name, p.StopTimeout.Duration())
	}

	return nil
}
