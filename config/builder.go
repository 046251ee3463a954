package config

import (
	"bytes"
	"fmt"
	"sort"
	"text/template"

	"github.com/quietriver/tunnelup"
)

// BuildOptions converts parsed configuration into SDK options for
// [tunnelup.New].
//
// The agent's command arguments are rendered as Go templates with the
// application port available as {{.Port}}, so the agent can be pointed at
// whatever port the app block declares without repeating the number.
func BuildOptions(cfg *Config) ([]tunnelup.Option, error) {
	app, err := buildProcess(cfg.App)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	agentCfg := cfg.Agent
	agentCfg.Command, err = renderAgentCommand(agentCfg.Command, cfg.App.Port)
	if err != nil {
		return nil, fmt.Errorf("agent: %w", err)
	}
	agent, err := buildProcess(agentCfg)
	if err != nil {
		return nil, fmt.Errorf("agent: %w", err)
	}

	matcher, err := buildMatcher(cfg.Matcher)
	if err != nil {
		return nil, err
	}

	opts := []tunnelup.Option{
		tunnelup.WithApp(app),
		tunnelup.WithAgent(agent),
		tunnelup.WithStatusEndpoint(cfg.StatusEndpoint),
		tunnelup.WithMatcher(matcher),
		tunnelup.WithPollInterval(cfg.PollInterval.Duration()),
		tunnelup.WithAttemptTimeout(cfg.AttemptTimeout.Duration()),
		tunnelup.WithWaitTimeout(cfg.WaitTimeout.Duration()),
	}
	if cfg.StatusPort > 0 {
		opts = append(opts, tunnelup.WithStatusPort(cfg.StatusPort))
	}

	return opts, nil
}

// buildProcess converts a ProcessConfig to an SDK Process.
func buildProcess(pc ProcessConfig) (tunnelup.Process, error) {
	var opts []tunnelup.ProcessOption

	if len(pc.Env) > 0 {
		opts = append(opts, tunnelup.WithEnv(mapToKeyValuePairs(pc.Env)...))
	}
	if pc.Dir != "" {
		opts = append(opts, tunnelup.WithDir(pc.Dir))
	}
	if pc.StopTimeout != 0 {
		opts = append(opts, tunnelup.WithStopTimeout(pc.StopTimeout.Duration()))
	}

	return tunnelup.NewProcess(pc.Name, pc.Command, opts...)
}

// renderAgentCommand expands {{.Port}} references in the agent's arguments.
//
// missingkey=error makes a template referencing anything other than .Port
// fail fast instead of rendering "<no value>" into an argv element. An
// argument that actually uses the template requires app.port to be set;
// silently rendering "0" would launch the agent pointed at nothing.
func renderAgentCommand(command []string, appPort int) ([]string, error) {
	data := struct{ Port int }{Port: appPort}

	rendered := make([]string, len(command))
	for i, arg := range command {
		tmpl, err := template.New("arg").Option("missingkey=error").Parse(arg)
		if err != nil {
			return nil, fmt.Errorf("command[%d]: invalid template: %w", i, err)
		}

		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data); err != nil {
			return nil, fmt.Errorf("command[%d]: template execution failed: %w", i, err)
		}
		if appPort == 0 && buf.String() != arg {
			return nil, fmt.Errorf("command[%d]: references {{.Port}} but app.port is not set", i)
		}
		rendered[i] = buf.String()
	}
	return rendered, nil
}

// buildMatcher converts a MatcherConfig to a URLMatcher.
func buildMatcher(mc MatcherConfig) (tunnelup.URLMatcher, error) {
	switch mc.Type {
	case "", "default":
		return tunnelup.DefaultMatcher, nil
	case "tunnels-api":
		return tunnelup.TunnelsAPIMatcher(), nil
	case "regex":
		return tunnelup.RegexMatcher(mc.Pattern)
	case "hostsuffix":
		return tunnelup.HostSuffixMatcher(mc.Suffix), nil
	default:
		// validate() rejects unknown types before this point
		return nil, fmt.Errorf("unknown matcher type %q", mc.Type)
	}
}

// mapToKeyValuePairs converts a map to a sorted slice of key-value pairs.
func mapToKeyValuePairs(m map[string]string) []string {
	// sort keys for deterministic ordering
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(m)*2)
	for _, k := range keys {
		pairs = append(pairs, k, m[k])
	}
	return pairs
}
