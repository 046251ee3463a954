// Demo of tunnelup supervising a local web server behind a mock tunneling
// agent. No real tunnel is created; the mock agent (see cmd/mockagent)
// registers a fake tunnel a few seconds after starting.
//
// Run from the repository root:
//
//	go run ./example
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quietriver/tunnelup"
)

func main() {
	// the "application": a static file server on port 5000
	app, err := tunnelup.NewProcess("web", []string{"python3", "-m", "http.server", "5000"})
	if err != nil {
		slog.Error("failed to describe app", "error", err)
		os.Exit(1)
	}

	// the "agent": the mock agent registers a fake tunnel after 5 seconds
	agent, err := tunnelup.NewProcess("mockagent",
		[]string{"go", "run", "./example/cmd/mockagent", "-port", "4040", "-local", "5000"},
		tunnelup.WithStopTimeout(5*time.Second),
	)
	if err != nil {
		slog.Error("failed to describe agent", "error", err)
		os.Exit(1)
	}

	sup, err := tunnelup.New(
		tunnelup.WithApp(app),
		tunnelup.WithAgent(agent),
		tunnelup.WithPollInterval(1*time.Second),
		tunnelup.WithWaitTimeout(30*time.Second),
		tunnelup.WithStatusPort(8080),
		tunnelup.WithURLCallback(func(ts tunnelup.TunnelStatus) {
			fmt.Println()
			fmt.Println("  ╔═══════════════════════════════════════════════════════╗")
			fmt.Println("  ║                                                       ║")
			fmt.Println("  ║   tunnelup Demo                                       ║")
			fmt.Println("  ║                                                       ║")
			fmt.Printf("  ║   Public URL: %-39s ║\n", ts.PublicURL)
			fmt.Printf("  ║   Ready after %-39s ║\n", ts.ReadyAfter.Round(time.Millisecond))
			fmt.Println("  ║                                                       ║")
			fmt.Println("  ║   Status API: http://localhost:8080/api/status       ║")
			fmt.Println("  ║                                                       ║")
			fmt.Println("  ║   Press Ctrl+C to stop                                ║")
			fmt.Println("  ║                                                       ║")
			fmt.Println("  ╚═══════════════════════════════════════════════════════╝")
			fmt.Println()
		}),
	)
	if err != nil {
		slog.Error("failed to create supervisor", "error", err)
		os.Exit(1)
	}

	// set up context with signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sup.Run(ctx); err != nil {
		slog.Error("supervisor error", "error", err)
		os.Exit(1)
	}
}
