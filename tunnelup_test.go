package tunnelup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

const tunnelsBody = `{"tunnels": [{"name": "command_line", "public_url": "https://abc123.ngrok-free.app", "proto": "https"}]}`

// fakeAgentAPI serves a static /api/tunnels-style body.
func fakeAgentAPI(t *testing.T, body string) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(ts.Close)
	return ts
}

// newTestSupervisor builds a supervisor around two sleep processes and the
// given status endpoint, with fast polling for tests.
func newTestSupervisor(t *testing.T, endpoint string, extra ...Option) *Supervisor {
	t.Helper()
	app, agent := testProcesses(t)

	opts := []Option{
		WithApp(app),
		WithAgent(agent),
		WithStatusEndpoint(endpoint),
		WithPollInterval(50 * time.Millisecond),
		WithAttemptTimeout(time.Second),
	}
	opts = append(opts, extra...)

	sup, err := New(opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return sup
}

// TestRun_BlocksUntilContextCancelled verifies that Run finds the URL, keeps
// supervising, and returns nil once the context is cancelled.
func TestRun_BlocksUntilContextCancelled(t *testing.T) {
	ts := fakeAgentAPI(t, tunnelsBody)

	urlCh := make(chan TunnelStatus, 1)
	sup := newTestSupervisor(t, ts.URL,
		WithURLCallback(func(s TunnelStatus) { urlCh <- s }),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- sup.Run(ctx)
	}()

	// the callback fires once the tunnel is extracted
	var status TunnelStatus
	select {
	case status = <-urlCh:
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("url callback was not invoked")
	}

	if status.PublicURL != "https://abc123.ngrok-free.app" {
		t.Errorf("PublicURL = %q, want https://abc123.ngrok-free.app", status.PublicURL)
	}
	if status.RunID != sup.RunID() {
		t.Errorf("RunID = %q, want %q", status.RunID, sup.RunID())
	}

	// verify Run is still blocking after the URL is known
	select {
	case err := <-done:
		t.Fatalf("Run() returned early with error: %v", err)
	default:
		// expected: still supervising
	}

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() returned error: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("Run() did not return after context cancellation")
	}
}

// TestRun_FirstURLWins verifies the first tunnel in the document is reported
// when several are registered.
func TestRun_FirstURLWins(t *testing.T) {
	body := `{"tunnels": [
		{"public_url": "https://first.ngrok-free.app", "proto": "https"},
		{"public_url": "https://second.ngrok-free.app", "proto": "https"}
	]}`
	ts := fakeAgentAPI(t, body)

	urlCh := make(chan TunnelStatus, 1)
	sup := newTestSupervisor(t, ts.URL,
		WithURLCallback(func(s TunnelStatus) { urlCh <- s }),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	select {
	case s := <-urlCh:
		if s.PublicURL != "https://first.ngrok-free.app" {
			t.Errorf("PublicURL = %q, want first occurrence", s.PublicURL)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("url callback was not invoked")
	}

	cancel()
	<-done
}

// TestRun_NoMatchIsNotFatal verifies that a wait deadline passing without a
// tunnel keeps the processes running.
func TestRun_NoMatchIsNotFatal(t *testing.T) {
	ts := fakeAgentAPI(t, `{"tunnels": []}`)

	sup := newTestSupervisor(t, ts.URL,
		WithWaitTimeout(200*time.Millisecond),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	// well past the wait deadline, supervision must still be running
	time.Sleep(600 * time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("Run() ended after no-match, want continued supervision (err = %v)", err)
	default:
	}

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() returned error: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("Run() did not return after context cancellation")
	}
}

// TestRun_UnexpectedAppExit verifies that an application exiting on its own
// ends supervision with a non-nil error.
func TestRun_UnexpectedAppExit(t *testing.T) {
	ts := fakeAgentAPI(t, `{"tunnels": []}`)

	app, err := NewProcess("web", []string{"sh", "-c", "exit 3"})
	if err != nil {
		t.Fatalf("NewProcess() error = %v", err)
	}
	agent, err := NewProcess("agent", []string{"sleep", "60"},
		WithStopTimeout(2*time.Second),
	)
	if err != nil {
		t.Fatalf("NewProcess() error = %v", err)
	}

	sup, err := New(
		WithApp(app),
		WithAgent(agent),
		WithStatusEndpoint(ts.URL),
		WithPollInterval(50*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- sup.Run(context.Background()) }()

	select {
	case err := <-done:
		if err == nil {
			t.Error("Run() = nil, want error for unexpected app exit")
		}
	case <-time.After(15 * time.Second):
		t.Fatal("Run() did not return after app exit")
	}
}

// TestRun_CallbackPanicDoesNotAbort verifies that a panicking URL callback is
// contained and later callbacks still run.
func TestRun_CallbackPanicDoesNotAbort(t *testing.T) {
	ts := fakeAgentAPI(t, tunnelsBody)

	secondCh := make(chan struct{}, 1)
	sup := newTestSupervisor(t, ts.URL,
		WithURLCallback(func(TunnelStatus) { panic("boom") }),
		WithURLCallback(func(TunnelStatus) { secondCh <- struct{}{} }),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	select {
	case <-secondCh:
		// the panic in the first callback did not prevent the second
	case <-time.After(5 * time.Second):
		t.Fatal("second callback was not invoked after first panicked")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() returned error: %v", err)
	}
}

// TestRun_ContextAlreadyCancelled verifies that Run with a dead context
// starts nothing and returns nil.
func TestRun_ContextAlreadyCancelled(t *testing.T) {
	ts := fakeAgentAPI(t, tunnelsBody)
	sup := newTestSupervisor(t, ts.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := sup.Run(ctx); err != nil {
		t.Errorf("Run() with cancelled context = %v, want nil", err)
	}
}

// freePort grabs an ephemeral port from the kernel and releases it so the
// status server can bind it, avoiding collisions with parallel tests.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("failed to find a free port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return port
}

// TestRun_StatusAPI verifies the status server reports the ready state and
// public URL once the tunnel registers.
func TestRun_StatusAPI(t *testing.T) {
	ts := fakeAgentAPI(t, tunnelsBody)

	statusPort := freePort(t)
	urlCh := make(chan TunnelStatus, 1)
	sup := newTestSupervisor(t, ts.URL,
		WithStatusPort(statusPort),
		WithURLCallback(func(s TunnelStatus) { urlCh <- s }),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	select {
	case <-urlCh:
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("url callback was not invoked")
	}

	resp, err := http.Get(fmt.Sprintf("http://localhost:%d/api/status", statusPort))
	if err != nil {
		cancel()
		t.Fatalf("GET /api/status error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	var snap struct {
		State     string `json:"state"`
		PublicURL string `json:"public_url"`
	}
	if err := json.Unmarshal(body, &snap); err != nil {
		cancel()
		t.Fatalf("status response is not JSON: %v (body %q)", err, body)
	}
	if snap.State != "ready" {
		t.Errorf("state = %q, want ready", snap.State)
	}
	if snap.PublicURL != "https://abc123.ngrok-free.app" {
		t.Errorf("public_url = %q, want https://abc123.ngrok-free.app", snap.PublicURL)
	}

	cancel()
	<-done
}

// TestRun_UnexpectedExitReleasesResources verifies that a return on an
// unexpected process exit also ends the poll loop and unbinds the status
// port, even with no wait deadline.
func TestRun_UnexpectedExitReleasesResources(t *testing.T) {
	var polls atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		polls.Add(1)
		_, _ = w.Write([]byte(`{"tunnels": []}`))
	}))
	defer ts.Close()

	app, err := NewProcess("web", []string{"sh", "-c", "exit 3"})
	if err != nil {
		t.Fatalf("NewProcess() error = %v", err)
	}
	agent, err := NewProcess("agent", []string{"sleep", "60"},
		WithStopTimeout(2*time.Second),
	)
	if err != nil {
		t.Fatalf("NewProcess() error = %v", err)
	}

	statusPort := freePort(t)
	sup, err := New(
		WithApp(app),
		WithAgent(agent),
		WithStatusEndpoint(ts.URL),
		WithPollInterval(50*time.Millisecond),
		WithWaitTimeout(0), // no deadline: only teardown can end the poll loop
		WithStatusPort(statusPort),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := sup.Run(context.Background()); err == nil {
		t.Fatal("Run() = nil, want error for unexpected app exit")
	}

	// let any in-flight poll attempt settle, then verify the loop is dead
	time.Sleep(200 * time.Millisecond)
	before := polls.Load()
	time.Sleep(400 * time.Millisecond)
	if after := polls.Load(); after != before {
		t.Errorf("poll count grew from %d to %d after Run returned", before, after)
	}

	// the status port must be released shortly after Run returns
	deadline := time.Now().Add(3 * time.Second)
	for {
		_, err := http.Get(fmt.Sprintf("http://localhost:%d/api/status", statusPort))
		if err != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("status server still answering after Run returned")
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// TestRun_ShutdownStopsAgentFirst verifies stop ordering on shutdown: the
// agent is terminated before the application, so the tunnel never outlives
// its backend.
func TestRun_ShutdownStopsAgentFirst(t *testing.T) {
	ts := fakeAgentAPI(t, `{"tunnels": []}`)

	dir := t.TempDir()
	agentMarker := filepath.Join(dir, "agent-stopped")
	orderFile := filepath.Join(dir, "order")

	// the agent drops a marker on TERM; the app records whether the marker
	// already existed when its own TERM arrived
	agent, err := NewProcess("agent",
		[]string{"sh", "-c", `trap 'touch "$0"; exit 0' TERM; while true; do sleep 0.2; done`, agentMarker},
		WithStopTimeout(5*time.Second),
	)
	if err != nil {
		t.Fatalf("NewProcess() error = %v", err)
	}
	app, err := NewProcess("web",
		[]string{"sh", "-c", `trap 'if [ -f "$0" ]; then echo agent-first > "$1"; else echo app-first > "$1"; fi; exit 0' TERM; while true; do sleep 0.2; done`, agentMarker, orderFile},
		WithStopTimeout(5*time.Second),
	)
	if err != nil {
		t.Fatalf("NewProcess() error = %v", err)
	}

	sup, err := New(
		WithApp(app),
		WithAgent(agent),
		WithStatusEndpoint(ts.URL),
		WithPollInterval(50*time.Millisecond),
		WithWaitTimeout(200*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	// give both traps time to install before shutting down
	time.Sleep(500 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() returned error: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("Run() did not return after context cancellation")
	}

	order, err := os.ReadFile(orderFile)
	if err != nil {
		t.Fatalf("reading stop-order file: %v", err)
	}
	if got := strings.TrimSpace(string(order)); got != "agent-first" {
		t.Errorf("stop order = %q, want agent-first", got)
	}
}
