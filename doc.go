// Package tunnelup supervises a local application process together with a
// tunneling agent, waits for the agent to report a public URL, and exposes
// the combined state over a small status API.
//
// A tunneling agent (ngrok, cloudflared, and friends) forwards a public
// hostname to a local TCP port and reports active tunnels on a local HTTP
// endpoint. tunnelup owns both OS processes as explicit handles, polls the
// agent's status endpoint until a public URL appears, and tears everything
// down on context cancellation.
//
// # Quick Start
//
// Describe the two processes, create a supervisor, and run it with graceful
// shutdown:
//
//	app, _ := tunnelup.NewProcess("web", []string{"python3", "app.py"})
//	agent, _ := tunnelup.NewProcess("ngrok", []string{"ngrok", "http", "5000"})
//
//	sup, _ := tunnelup.New(
//	    tunnelup.WithApp(app),
//	    tunnelup.WithAgent(agent),
//	    tunnelup.WithURLCallback(func(ts tunnelup.TunnelStatus) {
//	        fmt.Println("public URL:", ts.PublicURL)
//	    }),
//	)
//
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	sup.Run(ctx) // blocks until context is cancelled
//
// # Configuration
//
// tunnelup uses the functional options pattern for configuration:
//
//	sup, err := tunnelup.New(
//	    tunnelup.WithApp(app),
//	    tunnelup.WithAgent(agent),
//	    tunnelup.WithStatusEndpoint("http://127.0.0.1:4040/api/tunnels"),
//	    tunnelup.WithPollInterval(2 * time.Second),
//	    tunnelup.WithWaitTimeout(60 * time.Second),
//	    tunnelup.WithStatusPort(8080),
//	)
//
// # URL Matchers
//
// Matchers determine how the agent's status response is scanned for a public
// URL. Several built-in matchers are provided:
//
//   - [TunnelsAPIMatcher]: Decodes an ngrok-style /api/tunnels JSON document
//   - [RegexMatcher]: Returns the first substring matching a pattern
//   - [HostSuffixMatcher]: Returns the first https URL with a fixed hostname suffix
//   - [FirstMatch]: Tries multiple matchers in order
//   - [DefaultMatcher]: Tries the tunnels API document, then known ngrok hostnames
//
// Custom matchers can be created by implementing the [URLMatcher] function type.
//
// # Waiting Without Supervision
//
// [WaitForURL] runs the poll-and-match loop against an already running agent,
// for cases where process lifecycles are managed elsewhere:
//
//	url, err := tunnelup.WaitForURL(ctx, "http://127.0.0.1:4040/api/tunnels",
//	    tunnelup.DefaultMatcher, tunnelup.WaitOptions{})
//
// # Architecture
//
// tunnelup consists of several internal packages (under internal/):
//
//   - internal/proc: Process handles with graceful stop and output forwarding
//   - internal/poller: HTTP polling of the agent's status endpoint
//   - internal/store: Supervision snapshot storage with pub/sub updates
//   - internal/server: Status HTTP server with REST API and Server-Sent Events
//
// The internal packages are not part of the public API and may change
// without notice.
package tunnelup
