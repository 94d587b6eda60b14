package auth

import (
	"context"
	"fmt"
	"html"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// AuthURLer renders the consent URL for a state value and redirect URI.
type AuthURLer interface {
	AuthCodeURL(state, redirectURI string) string
}

// callback carries one outcome of the loopback redirect.
type callback struct {
	code string
	err  error
}

// loopbackServer receives the OAuth redirect on 127.0.0.1.
type loopbackServer struct {
	redirectURL string
	results     <-chan callback
	listener    net.Listener
	server      *http.Server
}

// Close stops the server and releases its port.
func (l *loopbackServer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := l.server.Shutdown(ctx)
	// Serve may not have taken ownership of the listener yet.
	_ = l.listener.Close()
	return err
}

// startLocalServer starts a local HTTP server to receive the OAuth callback.
// The server's results channel yields at most one outcome.
// Uses port 8080 by default, or a random port if 8080 is unavailable.
func startLocalServer(state string) (*loopbackServer, error) {
	// Try port 8080 first, it is the redirect URI most clients register.
	listener, err := net.Listen("tcp", "127.0.0.1:8080")
	if err != nil {
		listener, err = net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return nil, fmt.Errorf("failed to start local server: %w", err)
		}
	}

	port := listener.Addr().(*net.TCPAddr).Port
	results := make(chan callback, 1)
	deliver := func(c callback) {
		select {
		case results <- c:
		default:
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		switch {
		case query.Get("state") != state:
			fmt.Fprint(w, "<html><body><h1>Authorization failed</h1><p>State mismatch.</p></body></html>")
			deliver(callback{err: fmt.Errorf("state mismatch in authorization callback")})
		case query.Get("code") != "":
			fmt.Fprint(w, "<html><body><h1>Authorization successful!</h1><p>You can close this window.</p></body></html>")
			deliver(callback{code: query.Get("code")})
		case query.Get("error") != "":
			errMsg := query.Get("error")
			fmt.Fprintf(w, "<html><body><h1>Authorization failed</h1><p>Error: %s</p></body></html>", html.EscapeString(errMsg))
			deliver(callback{err: fmt.Errorf("authorization error: %s", errMsg)})
		default:
			fmt.Fprint(w, "<html><body><h1>No authorization code received</h1></body></html>")
			deliver(callback{err: fmt.Errorf("no authorization code received")})
		}
	})

	server := &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  10 * time.Second,
	}
	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			deliver(callback{err: fmt.Errorf("server error: %w", err)})
		}
	}()

	return &loopbackServer{
		redirectURL: fmt.Sprintf("http://127.0.0.1:%d", port),
		results:     results,
		listener:    listener,
		server:      server,
	}, nil
}

// Authorize runs the interactive consent flow: it prints the consent URL to out
// and waits for the loopback redirect. Failures are reported inside the result
// so the caller can hand it to Manager.Acquire unchanged.
func Authorize(ctx context.Context, urls AuthURLer, out io.Writer, timeout time.Duration) AuthorizationResult {
	state := uuid.NewString()
	srv, err := startLocalServer(state)
	if err != nil {
		return AuthorizationResult{Err: err}
	}
	// Released on every path, including timeout and cancellation.
	defer srv.Close()
	redirectURL := srv.redirectURL

	fmt.Fprintf(out, "Starting local server on %s\n", redirectURL)
	if redirectURL != "http://127.0.0.1:8080" {
		fmt.Fprintf(out, "Note: Port 8080 was unavailable. Make sure %s is an authorized redirect URI.\n", redirectURL)
	}
	fmt.Fprintln(out, "\nPlease visit the following URL to authorize the application:")
	fmt.Fprintln(out, urls.AuthCodeURL(state, redirectURL))
	fmt.Fprintln(out, "\nWaiting for authorization...")

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-srv.results:
		return AuthorizationResult{Code: res.code, RedirectURI: redirectURL, Err: res.err}
	case <-timer.C:
		return AuthorizationResult{RedirectURI: redirectURL, Err: fmt.Errorf("authorization timeout: no response received within %s", timeout)}
	case <-ctx.Done():
		return AuthorizationResult{RedirectURI: redirectURL, Err: ctx.Err()}
	}
}
