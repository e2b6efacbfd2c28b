// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"cmp"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"go.astrophena.name/cardserve/internal/cli"
	"go.astrophena.name/cardserve/internal/logger"
	"go.astrophena.name/cardserve/internal/site"
	"go.astrophena.name/cardserve/internal/site/watch"
	"go.astrophena.name/cardserve/internal/syncx"
	"go.astrophena.name/cardserve/internal/version"
	"go.astrophena.name/cardserve/internal/web"

	"github.com/joho/godotenv"
)

func main() { cli.Main(new(engine)) }

const (
	defaultHost    = "0.0.0.0"
	defaultPort    = "5000"
	defaultApp     = "Capmatic"
	defaultEnvFile = ".env"
)

type engine struct {
	// configuration
	host    string
	port    string
	app     string
	envFile string
	debug   bool
	check   bool
	flags   *flag.FlagSet

	// initialized by Run
	root    string
	version string
	fs      fs.FS
	report  syncx.Value[report]

	// used in tests
	noServerStart bool
	ready         func()
}

type report struct {
	Problems []site.Problem `json:"problems"`
	Checked  time.Time      `json:"checked"`
}

func (e *engine) Flags(fs *flag.FlagSet) {
	e.flags = fs
	fs.StringVar(&e.host, "host", "", "Listen on `address`. Defaults to $HOST or "+defaultHost+".")
	fs.StringVar(&e.port, "port", "", "Listen on `port`. Defaults to $PORT or "+defaultPort+".")
	fs.StringVar(&e.app, "app", "", "Application `name` reported by /health. Defaults to $APP_NAME or "+defaultApp+".")
	fs.StringVar(&e.envFile, "env-file", "", "Read environment variables from `file`, if it exists. Defaults to "+defaultEnvFile+".")
	fs.BoolVar(&e.debug, "debug", false, "Serve debug pages and watch the site for changes. Defaults to $DEBUG.")
	fs.BoolVar(&e.check, "check", false, "Check the site, print the problems found and exit.")
}

var errProblems = errors.New("site has problems")

func (e *engine) Run(ctx context.Context) error {
	env := cli.GetEnv(ctx)

	if len(env.Args) > 1 {
		return fmt.Errorf("%w: at most one directory is allowed", cli.ErrInvalidArgs)
	}
	if err := e.configure(env); err != nil {
		return err
	}

	problems := site.Check(e.fs)
	e.report.Store(report{Problems: problems, Checked: time.Now()})

	if e.check {
		for _, p := range problems {
			fmt.Fprintln(env.Stdout, p)
		}
		if len(problems) > 0 {
			return fmt.Errorf("%w: %d found", errProblems, len(problems))
		}
		fmt.Fprintln(env.Stdout, "No problems found.")
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/", site.New(site.Config{
		FS:      e.fs,
		App:     e.app,
		Version: e.version,
	}))

	if e.debug {
		logs := logger.NewBuffer(1000)
		env = &cli.Env{
			Args:   env.Args,
			Getenv: env.Getenv,
			Stdin:  env.Stdin,
			Stdout: env.Stdout,
			Stderr: io.MultiWriter(env.Stderr, logs),
		}
		ctx = cli.WithEnv(ctx, env)
		stop := e.initDebug(ctx, mux, logs)
		defer stop()
	}

	logProblems(env, problems)

	env.Logf("Serving %s (%s %s).", e.root, e.app, e.version)

	if e.noServerStart {
		return nil
	}

	return web.ListenAndServe(ctx, &web.ListenAndServeConfig{
		Addr:       net.JoinHostPort(e.host, e.port),
		Mux:        mux,
		Debuggable: e.debug,
		DebugAuth:  web.AllowLoopback,
		Ready:      e.ready,
		Middleware: []web.Middleware{site.Wrap},
	})
}

// configure fills in the configuration not set by flags from the environment,
// then from the dotenv file.
func (e *engine) configure(env *cli.Env) error {
	dotenv, err := readEnvFile(e.envFile)
	if err != nil {
		return err
	}
	getenv := func(key string) string {
		return cmp.Or(env.Getenv(key), dotenv[key])
	}

	e.host = cmp.Or(e.host, getenv("HOST"), defaultHost)
	e.port = cmp.Or(e.port, getenv("PORT"), defaultPort)
	if n, err := strconv.Atoi(e.port); err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("%w: invalid port %q", cli.ErrInvalidArgs, e.port)
	}
	e.app = cmp.Or(e.app, getenv("APP_NAME"), defaultApp)
	e.version = cmp.Or(getenv("APP_VERSION"), version.Version().Version)
	if !e.isSet("debug") {
		if v := getenv("DEBUG"); v != "" {
			e.debug, err = strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%w: invalid DEBUG value %q", cli.ErrInvalidArgs, v)
			}
		}
	}

	var arg string
	if len(env.Args) == 1 {
		arg = env.Args[0]
	}
	e.root = cmp.Or(arg, getenv("SITE_ROOT"), ".")
	if e.fs == nil {
		fi, err := os.Stat(e.root)
		if err != nil {
			return fmt.Errorf("%w: %v", cli.ErrInvalidArgs, err)
		}
		if !fi.IsDir() {
			return fmt.Errorf("%w: %s is not a directory", cli.ErrInvalidArgs, e.root)
		}
		e.fs = os.DirFS(e.root)
	}

	return nil
}

// isSet reports whether the flag name was passed on the command line.
func (e *engine) isSet(name string) bool {
	var set bool
	if e.flags != nil {
		e.flags.Visit(func(f *flag.Flag) {
			set = set || f.Name == name
		})
	}
	return set
}

// readEnvFile reads the dotenv file name. The default file may be missing.
func readEnvFile(name string) (map[string]string, error) {
	optional := name == ""
	name = cmp.Or(name, defaultEnvFile)
	m, err := godotenv.Read(name)
	if errors.Is(err, fs.ErrNotExist) && optional {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	return m, nil
}

// initDebug registers the site state on the debug page and starts watching
// the site. It returns a function that stops watching.
func (e *engine) initDebug(ctx context.Context, mux *http.ServeMux, logs *logger.Buffer) (stop func()) {
	env := cli.GetEnv(ctx)

	dbg := web.Debugger(mux)
	dbg.KV("Site root", e.root)
	dbg.KV("App", e.app+" "+e.version)
	dbg.KVFunc("Site check", func() any { return e.report.Load().String() })
	dbg.Handle("logs", "Logs", logs)
	dbg.Handle("check", "Check the site now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		e.recheck(env)("")
		web.RespondJSON(w, r, e.report.Load())
	}))
	dbg.Link("/health", "Health check")
	dbg.Link("/offline", "Offline page")

	w, err := watch.New(e.root)
	if err != nil {
		env.Logf("Not watching %s: %v", e.root, err)
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := w.Run(ctx, e.recheck(env)); err != nil {
			env.Logf("Watching %s: %v", e.root, err)
		}
	}()
	env.Logf("Watching %s for changes.", e.root)

	return func() {
		cancel()
		<-done
	}
}

// recheck returns a function that checks the site again after name has
// changed. An empty name means the check was requested.
func (e *engine) recheck(env *cli.Env) func(name string) {
	return func(name string) {
		if name != "" {
			env.Logf("%s changed, checking the site.", name)
		}
		problems := site.Check(e.fs)
		e.report.Store(report{Problems: problems, Checked: time.Now()})
		logProblems(env, problems)
	}
}

func logProblems(env *cli.Env, problems []site.Problem) {
	if len(problems) == 0 {
		env.Logf("Site check passed.")
		return
	}
	for _, p := range problems {
		env.Logf("Warning: %s", p)
	}
}

func (r report) String() string {
	if len(r.Problems) == 0 {
		return "No problems (checked at " + r.Checked.Format(time.TimeOnly) + ")"
	}
	var sb strings.Builder
	for i, p := range r.Problems {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(p.String())
	}
	return sb.String()
}
