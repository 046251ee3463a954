// Command mockagent is a stand-in tunneling agent for demos and local
// development.
//
// It serves an ngrok-style /api/tunnels endpoint that starts with an empty
// tunnel list and registers a fake tunnel after a delay, reproducing the
// registration lag of a real agent.
//
// Usage:
//
//	go run ./example/cmd/mockagent -port 4040 -local 5000 -delay 5s
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

func main() {
	port := flag.Int("port", 4040, "port for the status API")
	local := flag.Int("local", 5000, "local port the fake tunnel points at")
	delay := flag.Duration("delay", 5*time.Second, "time before the tunnel registers")
	flag.Parse()

	started := time.Now()
	subdomain := strings.Split(uuid.NewString(), "-")[0]
	publicURL := fmt.Sprintf("https://%s.ngrok-free.app", subdomain)

	http.HandleFunc("/api/tunnels", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		tunnels := []map[string]any{}
		if time.Since(started) >= *delay {
			tunnels = append(tunnels, map[string]any{
				"name":       "command_line",
				"public_url": publicURL,
				"proto":      "https",
				"config": map[string]any{
					"addr": fmt.Sprintf("http://localhost:%d", *local),
				},
			})
		}

		if err := json.NewEncoder(w).Encode(map[string]any{
			"tunnels": tunnels,
			"uri":     "/api/tunnels",
		}); err != nil {
			slog.Error("failed to write response", "error", err)
		}
	})

	slog.Info("mock agent listening",
		"addr", fmt.Sprintf("http://127.0.0.1:%d/api/tunnels", *port),
		"public_url", publicURL,
		"registers_in", delay.String(),
	)
	if err := http.ListenAndServe(fmt.Sprintf(":%d", *port), nil); err != nil {
		slog.Error("mock agent failed", "error", err)
		os.Exit(1)
	}
}
