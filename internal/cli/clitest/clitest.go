// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package clitest runs command-line applications built with package cli in
// tests.
package clitest

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"go.astrophena.name/cardserve/internal/cli"
)

// Case is a single run of an application and the expectations about it.
type Case[App cli.App] struct {
	// Args are the command-line arguments.
	Args []string
	// Stdin is the standard input.
	Stdin string
	// Env holds the environment variables visible to the application.
	Env map[string]string

	// WantErr is the error the run must fail with, checked with errors.Is.
	// If nil, the run must succeed.
	WantErr error
	// WantInStdout and WantInStderr must be substrings of the output, if set.
	WantInStdout string
	WantInStderr string
	// WantNotInStderr must not appear in standard error, if set.
	WantNotInStderr string
	// CheckFunc, if set, inspects the application after the run.
	CheckFunc func(*testing.T, App)
}

// Result is what a run of an application produced.
type Result struct {
	Stdout string
	Stderr string
	Err    error
}

// Exec runs app with the arguments, input and environment of c.
func Exec[App cli.App](ctx context.Context, app App, c Case[App]) Result {
	var stdout, stderr bytes.Buffer
	env := &cli.Env{
		Args: c.Args,
		Getenv: func(key string) string {
			return c.Env[key]
		},
		Stdin:  strings.NewReader(c.Stdin),
		Stdout: &stdout,
		Stderr: &stderr,
	}
	err := cli.Run(cli.WithEnv(ctx, env), app)
	return Result{Stdout: stdout.String(), Stderr: stderr.String(), Err: err}
}

// Run runs each case in parallel as a subtest against a fresh application
// returned by setup.
func Run[App cli.App](t *testing.T, setup func(*testing.T) App, cases map[string]Case[App]) {
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			app := setup(t)
			c.check(t, Exec(context.Background(), app, c))
			if c.CheckFunc != nil {
				c.CheckFunc(t, app)
			}
		})
	}
}

func (c Case[App]) check(t *testing.T, res Result) {
	t.Helper()

	if c.WantErr == nil && res.Err != nil {
		t.Fatalf("got error: %v", res.Err)
	}
	if c.WantErr != nil && !errors.Is(res.Err, c.WantErr) {
		t.Fatalf("must fail with error %v, got %v", c.WantErr, res.Err)
	}

	if c.WantInStdout != "" && !strings.Contains(res.Stdout, c.WantInStdout) {
		t.Errorf("stdout must contain %q, got: %q", c.WantInStdout, res.Stdout)
	}
	if c.WantInStderr != "" && !strings.Contains(res.Stderr, c.WantInStderr) {
		t.Errorf("stderr must contain %q, got: %q", c.WantInStderr, res.Stderr)
	}
	if c.WantNotInStderr != "" && strings.Contains(res.Stderr, c.WantNotInStderr) {
		t.Errorf("stderr must not contain %q, got: %q", c.WantNotInStderr, res.Stderr)
	}
}
