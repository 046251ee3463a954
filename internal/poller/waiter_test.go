package poller

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync/atomic"
	"testing"
	"time"
)

var ngrokURL = regexp.MustCompile(`https://[a-zA-Z0-9-]+\.ngrok-free\.app`)

func regexMatcher(re *regexp.Regexp) Matcher {
	return func(body []byte) (string, bool) {
		if m := re.Find(body); m != nil {
			return string(m), true
		}
		return "", false
	}
}

// TestWaiter_Wait_SingleMatch verifies that a reachable endpoint whose body
// contains one matching URL yields that URL.
func TestWaiter_Wait_SingleMatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"tunnels": [{"public_url": "https://abc.ngrok-free.app"}]}`))
	}))
	defer server.Close()

	w := NewWaiter(server.URL, regexMatcher(ngrokURL),
		50*time.Millisecond, time.Second, 5*time.Second, nil)

	url, err := w.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if url != "https://abc.ngrok-free.app" {
		t.Errorf("Wait() = %q, want https://abc.ngrok-free.app", url)
	}
}

// TestWaiter_Wait_FirstOccurrenceWins verifies that when the body contains
// several matches, the first occurrence is returned.
func TestWaiter_Wait_FirstOccurrenceWins(t *testing.T) {
	body := `https://first.ngrok-free.app https://second.ngrok-free.app`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	w := NewWaiter(server.URL, regexMatcher(ngrokURL),
		50*time.Millisecond, time.Second, 5*time.Second, nil)

	url, err := w.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if url != "https://first.ngrok-free.app" {
		t.Errorf("Wait() = %q, want first occurrence", url)
	}
}

// TestWaiter_Wait_NoMatch verifies that a deadline passing without a match
// returns an error wrapping ErrNoMatch.
func TestWaiter_Wait_NoMatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"tunnels": []}`))
	}))
	defer server.Close()

	w := NewWaiter(server.URL, regexMatcher(ngrokURL),
		50*time.Millisecond, time.Second, 200*time.Millisecond, nil)

	url, err := w.Wait(context.Background())
	if !errors.Is(err, ErrNoMatch) {
		t.Fatalf("Wait() error = %v, want ErrNoMatch", err)
	}
	if url != "" {
		t.Errorf("Wait() = %q, want empty URL on no-match", url)
	}
}

// TestWaiter_Wait_RecoverFromUnreachable verifies that an endpoint that drops
// connections for the first several attempts is retried until it answers.
func TestWaiter_Wait_RecoverFromUnreachable(t *testing.T) {
	var attempts atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 3 {
			// drop the connection so the client sees a transport error
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Error("response writer does not support hijacking")
				return
			}
			conn, _, err := hj.Hijack()
			if err != nil {
				t.Errorf("hijack failed: %v", err)
				return
			}
			_ = conn.Close()
			return
		}
		_, _ = w.Write([]byte(`https://late.ngrok-free.app`))
	}))
	defer server.Close()

	w := NewWaiter(server.URL, regexMatcher(ngrokURL),
		50*time.Millisecond, time.Second, 10*time.Second, nil)

	url, err := w.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if url != "https://late.ngrok-free.app" {
		t.Errorf("Wait() = %q, want https://late.ngrok-free.app", url)
	}
	if got := attempts.Load(); got < 4 {
		t.Errorf("server saw %d attempts, want at least 4", got)
	}
}

// TestWaiter_Wait_ContextCancelled verifies that cancellation interrupts the
// wait loop.
func TestWaiter_Wait_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"tunnels": []}`))
	}))
	defer server.Close()

	// no deadline: only cancellation can end the wait
	w := NewWaiter(server.URL, regexMatcher(ngrokURL),
		50*time.Millisecond, time.Second, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(150 * time.Millisecond)
		cancel()
	}()

	_, err := w.Wait(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() error = %v, want context.Canceled", err)
	}
}

// TestWaiter_Wait_MatcherPanic verifies that a panicking matcher is contained
// and treated as a non-match.
func TestWaiter_Wait_MatcherPanic(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`anything`))
	}))
	defer server.Close()

	panicky := func(body []byte) (string, bool) {
		panic("matcher exploded")
	}

	w := NewWaiter(server.URL, panicky,
		50*time.Millisecond, time.Second, 200*time.Millisecond, nil)

	_, err := w.Wait(context.Background())
	if !errors.Is(err, ErrNoMatch) {
		t.Errorf("Wait() error = %v, want ErrNoMatch after contained panics", err)
	}
}
