// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.astrophena.name/cardserve/internal/cli"
	"go.astrophena.name/cardserve/internal/cli/clitest"
	"go.astrophena.name/cardserve/internal/logger"
	"go.astrophena.name/cardserve/internal/site"
	"go.astrophena.name/cardserve/internal/testutil"
	"go.astrophena.name/cardserve/internal/version"
)

func TestEngineMain(t *testing.T) {
	t.Parallel()

	siteDir := testutil.SiteDir(t, filepath.Join("testdata", "site.txtar"))
	emptyDir := t.TempDir()

	envFile := filepath.Join(t.TempDir(), "cardserve.env")
	if err := os.WriteFile(envFile, []byte("PORT=7070\nAPP_NAME=FromFile\nHOST=127.0.0.1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	checkConfig := func(host, port, app, version string) func(*testing.T, *engine) {
		return func(t *testing.T, e *engine) {
			testutil.AssertEqual(t, []string{e.host, e.port, e.app, e.version}, []string{host, port, app, version})
		}
	}

	clitest.Run(t, func(t *testing.T) *engine {
		e := new(engine)
		e.noServerStart = true
		return e
	}, map[string]clitest.Case[*engine]{
		"prints usage with help flag": {
			Args:         []string{"-h"},
			WantErr:      flag.ErrHelp,
			WantInStderr: "Cardserve serves a business card",
		},
		"version": {
			Args:    []string{"-version"},
			WantErr: cli.ErrExitVersion,
		},
		"too many arguments": {
			Args:    []string{siteDir, emptyDir},
			WantErr: cli.ErrInvalidArgs,
		},
		"missing directory": {
			Args:    []string{filepath.Join(emptyDir, "nope")},
			WantErr: cli.ErrInvalidArgs,
		},
		"file instead of directory": {
			Args:    []string{filepath.Join(siteDir, "index.html")},
			WantErr: cli.ErrInvalidArgs,
		},
		"invalid port flag": {
			Args:    []string{"-port", "http", siteDir},
			WantErr: cli.ErrInvalidArgs,
		},
		"invalid port in environment": {
			Args:    []string{siteDir},
			Env:     map[string]string{"PORT": "99999"},
			WantErr: cli.ErrInvalidArgs,
		},
		"invalid debug in environment": {
			Args:    []string{siteDir},
			Env:     map[string]string{"DEBUG": "sometimes"},
			WantErr: cli.ErrInvalidArgs,
		},
		"missing env file": {
			Args:    []string{"-env-file", filepath.Join(emptyDir, "nope.env"), siteDir},
			WantErr: fs.ErrNotExist,
		},
		"check passes": {
			Args:         []string{"-check", siteDir},
			WantInStdout: "No problems found.",
		},
		"check fails": {
			Args:         []string{"-check", emptyDir},
			WantErr:      errProblems,
			WantInStdout: "manifest.json: missing",
		},
		"site root from environment": {
			Args:         []string{"-check"},
			Env:          map[string]string{"SITE_ROOT": siteDir},
			WantInStdout: "No problems found.",
		},
		"warns about problems on startup": {
			Args:         []string{emptyDir},
			WantInStderr: "Warning: index.html: missing",
		},
		"reports passing check on startup": {
			Args:         []string{siteDir},
			WantInStderr: "Site check passed.",
		},
		"defaults": {
			Args:      []string{siteDir},
			CheckFunc: checkConfig("0.0.0.0", "5000", "Capmatic", version.Version().Version),
		},
		"environment": {
			Args: []string{siteDir},
			Env: map[string]string{
				"HOST":        "127.0.0.1",
				"PORT":        "9090",
				"APP_NAME":    "Card",
				"APP_VERSION": "1.0.0",
			},
			CheckFunc: checkConfig("127.0.0.1", "9090", "Card", "1.0.0"),
		},
		"flags take precedence over environment": {
			Args: []string{"-host", "::1", "-port", "8080", "-app", "Flagged", siteDir},
			Env: map[string]string{
				"HOST":     "127.0.0.1",
				"PORT":     "9090",
				"APP_NAME": "Card",
			},
			CheckFunc: checkConfig("::1", "8080", "Flagged", version.Version().Version),
		},
		"environment takes precedence over env file": {
			Args:      []string{"-env-file", envFile, siteDir},
			Env:       map[string]string{"APP_NAME": "FromEnv"},
			CheckFunc: checkConfig("127.0.0.1", "7070", "FromEnv", version.Version().Version),
		},
		"debug flag takes precedence over environment": {
			Args:            []string{"-debug=false", siteDir},
			Env:             map[string]string{"DEBUG": "true"},
			WantNotInStderr: "Watching",
			CheckFunc: func(t *testing.T, e *engine) {
				testutil.AssertEqual(t, e.debug, false)
			},
		},
		"debug from environment": {
			Args:         []string{siteDir},
			Env:          map[string]string{"DEBUG": "1"},
			WantInStderr: "Watching " + siteDir + " for changes.",
			CheckFunc: func(t *testing.T, e *engine) {
				testutil.AssertEqual(t, e.debug, true)
			},
		},
	})
}

// startServer runs the command with args in the background until the test
// ends and returns a function that fetches a path from it.
func startServer(t *testing.T, args ...string) (get func(path string) (int, http.Header, string)) {
	t.Helper()

	port, err := getFreePort()
	if err != nil {
		t.Fatalf("Failed to find a free port: %v", err)
	}
	addr := net.JoinHostPort("127.0.0.1", fmt.Sprint(port))

	ready := make(chan struct{})
	e := &engine{ready: func() { close(ready) }}

	env := &cli.Env{
		Args:   append([]string{"-host", "127.0.0.1", "-port", fmt.Sprint(port)}, args...),
		Getenv: func(string) string { return "" },
		Stdin:  strings.NewReader(""),
		Stdout: io.Discard,
		Stderr: logger.NewBuffer(1000),
	}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- cli.Run(cli.WithEnv(ctx, env), e) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run: %v", err)
			}
		case <-time.After(40 * time.Second):
			t.Error("Run did not return after cancellation")
		}
	})

	select {
	case err := <-done:
		t.Fatalf("Run returned before the server was ready: %v", err)
	case <-ready:
	}

	return func(path string) (int, http.Header, string) {
		t.Helper()
		resp, err := http.Get("http://" + addr + path)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			t.Fatal(err)
		}
		return resp.StatusCode, resp.Header, string(b)
	}
}

func TestServe(t *testing.T) {
	dir := testutil.SiteDir(t, filepath.Join("testdata", "site.txtar"))
	get := startServer(t, "-debug", dir)

	code, hdr, body := get("/")
	testutil.AssertEqual(t, code, http.StatusOK)
	testutil.AssertEqual(t, hdr.Get("Cache-Control"), "public, max-age=0")
	testutil.AssertEqual(t, strings.Contains(body, "<title>Capmatic</title>"), true)

	code, _, body = get("/images/../app.py")
	testutil.AssertEqual(t, code, http.StatusNotFound)
	testutil.AssertEqual(t, body, "File not found")

	code, _, body = get("/health")
	testutil.AssertEqual(t, code, http.StatusOK)
	testutil.AssertEqual(t, testutil.UnmarshalJSON[map[string]string](t, []byte(body)), map[string]string{
		"status":  "healthy",
		"app":     "Capmatic",
		"version": version.Version().Version,
	})

	code, _, body = get("/debug/")
	testutil.AssertEqual(t, code, http.StatusOK)
	for _, want := range []string{dir, `<a href="/health">Health check</a>`, `<a href="/debug/check">`} {
		if !strings.Contains(body, want) {
			t.Errorf("/debug/ must contain %q", want)
		}
	}

	code, _, body = get("/debug/logs")
	testutil.AssertEqual(t, code, http.StatusOK)
	testutil.AssertEqual(t, strings.Contains(body, "Site check passed."), true)

	code, _, body = get("/debug/check")
	testutil.AssertEqual(t, code, http.StatusOK)
	testutil.AssertEqual(t, testutil.UnmarshalJSON[report](t, []byte(body)).Problems, []site.Problem(nil))

	// Break the manifest and wait for the watcher to notice.
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		_, _, body = get("/debug/")
		if strings.Contains(body, "manifest.json: invalid JSON") {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("/debug/ doesn't report the broken manifest:\n%s", body)
		}
		time.Sleep(50 * time.Millisecond)
	}

	// Remove the service worker and check on demand.
	if err := os.Remove(filepath.Join(dir, "service-worker.js")); err != nil {
		t.Fatal(err)
	}
	_, _, body = get("/debug/check")
	problems := testutil.UnmarshalJSON[report](t, []byte(body)).Problems
	testutil.AssertEqual(t, problems[len(problems)-1], site.Problem{Path: "service-worker.js", Message: "missing"})
}

func TestServeWithoutDebug(t *testing.T) {
	dir := testutil.SiteDir(t, filepath.Join("testdata", "site.txtar"))
	if err := os.MkdirAll(filepath.Join(dir, "debug"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "debug", "resume.pdf"), []byte("%PDF-1.7"), 0o644); err != nil {
		t.Fatal(err)
	}
	get := startServer(t, dir)

	code, hdr, body := get("/debug/resume.pdf")
	testutil.AssertEqual(t, code, http.StatusOK)
	testutil.AssertEqual(t, hdr.Get("Content-Type"), "application/pdf")
	testutil.AssertEqual(t, body, "%PDF-1.7")

	code, _, body = get("/debug/")
	testutil.AssertEqual(t, code, http.StatusNotFound)
	testutil.AssertEqual(t, body, "File not found")
}

func getFreePort() (port int, err error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
