// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"go.astrophena.name/cardserve/internal/cli"

	"github.com/benbjohnson/hashfs"
)

// ListenAndServeConfig is used to configure the HTTP server started by
// [ListenAndServe].
//
// All fields of ListenAndServeConfig can't be modified after [ListenAndServe]
// is called.
type ListenAndServeConfig struct {
	// Addr is a network address to listen on (in the form of "host:port").
	Addr string
	// Mux is a http.ServeMux to serve.
	Mux *http.ServeMux
	// Debuggable specifies whether to register debug handlers at /debug/.
	Debuggable bool
	// DebugAuth specifies an optional function that's invoked on every request to
	// debug handlers at /debug/ to allow or deny access to them. If not provided,
	// all access is allowed. It's ignored unless Debuggable is true, leaving
	// /debug/ to Mux.
	DebugAuth func(r *http.Request) bool
	// Ready specifies an optional function to be called when the server is ready
	// to accept connections.
	Ready func()
	// Middleware specifies an optional list of middleware applied to every
	// request, debug ones included. The first one sees the request first.
	Middleware []Middleware
}

// Middleware wraps an [http.Handler] with additional behavior.
type Middleware func(http.Handler) http.Handler

var (
	errNoAddr = errors.New("c.Addr is empty")
	errNilMux = errors.New("c.Mux is nil")
)

// ListenAndServe starts the HTTP server based on the provided
// [ListenAndServeConfig] and blocks until ctx is canceled, after which the
// server is gracefully shut down.
//
// The environment carried by ctx (see [cli.WithEnv]) is used for logging and
// is also made available to handlers through request contexts.
func ListenAndServe(ctx context.Context, c *ListenAndServeConfig) error {
	if c.Addr == "" {
		return errNoAddr
	}
	if c.Mux == nil {
		return errNilMux
	}
	env := cli.GetEnv(ctx)

	l, err := net.Listen("tcp", c.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	defer l.Close()
	env.Logf("Listening on %s...", l.Addr().String())

	if c.Debuggable {
		Debugger(c.Mux)
	}

	handler := protectDebug(c, c.Mux)
	for i := len(c.Middleware) - 1; i >= 0; i-- {
		handler = c.Middleware[i](handler)
	}

	s := &http.Server{
		ErrorLog:          log.New(logWriter{env}, "", 0),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			// Requests must survive the start of a graceful shutdown.
			return context.WithoutCancel(ctx)
		},
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if c.Ready != nil {
		c.Ready()
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		env.Logf("Gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := s.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}

	return nil
}

type logWriter struct{ env *cli.Env }

func (lw logWriter) Write(p []byte) (int, error) {
	lw.env.Logf("%s", strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}

func protectDebug(c *ListenAndServeConfig, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !c.Debuggable || c.DebugAuth == nil || !strings.HasPrefix(r.URL.Path, "/debug/") {
			next.ServeHTTP(w, r)
			return
		}
		// If access denied, pretend that debug endpoints don't exist.
		if !c.DebugAuth(r) {
			RespondError(w, r, ErrNotFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// AllowLoopback is a DebugAuth function for [ListenAndServeConfig] that only
// allows requests coming from the loopback interface.
func AllowLoopback(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return false
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

//go:embed static
var embedFS embed.FS

// StaticFS is a [fs.FS] that contains static resources served by debug pages
// on the /debug/static/ path prefix.
var StaticFS = hashfs.NewFS(embedFS)

// StaticHashName returns the URL path of the static resource name with its
// content hash embedded, suitable for caching forever.
func StaticHashName(name string) string {
	return "/debug/" + StaticFS.HashName(name)
}
