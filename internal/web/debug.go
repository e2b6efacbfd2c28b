// Copyright (c) 2021 Tailscale Inc & AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file located at
// https://github.com/tailscale/tailscale/blob/main/LICENSE.

// Adapted from https://pkg.go.dev/tailscale.com/tsweb#Debugger.

package web

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"net/http"
	"net/http/pprof"
	"net/url"
	"os"
	"runtime"
	"sync"
	"time"

	"go.astrophena.name/cardserve/internal/version"

	"github.com/benbjohnson/hashfs"
)

var (
	//go:embed templates/debug.html
	debugTemplateStr string
	debugTemplate    = template.Must(template.New("debug").Parse(debugTemplateStr))
)

// DebugHandler serves the /debug/ page: a table of named values describing
// the running server, followed by links to other debug pages in the order
// they were added.
//
// Methods of DebugHandler can be safely called by multiple goroutines.
type DebugHandler struct {
	mux *http.ServeMux

	mu    sync.RWMutex
	rows  []debugRow
	links []debugLink
}

type (
	debugRow struct {
		name  string
		value func() any
	}
	debugLink struct{ URL, Desc string }
)

// Debugger returns the [DebugHandler] registered on mux at /debug/, creating it
// if necessary.
func Debugger(mux *http.ServeMux) *DebugHandler {
	h, pat := mux.Handler(&http.Request{Method: http.MethodGet, URL: &url.URL{Path: "/debug/"}})
	if d, ok := h.(*DebugHandler); ok && pat == "GET /debug/" {
		return d
	}

	d := &DebugHandler{mux: mux}
	// GET patterns don't conflict with the GET patterns of the caller.
	mux.Handle("GET /debug/", d)
	mux.Handle("GET /debug/static/", http.StripPrefix("/debug/", hashfs.FileServer(StaticFS)))
	mux.HandleFunc("GET /debug/pprof/profile", pprof.Profile)

	if hostname, err := os.Hostname(); err == nil {
		d.KV("Machine", hostname)
	}
	d.KVFunc("Uptime", func() any { return time.Since(started).Round(time.Second) })
	d.KVFunc("Goroutines", func() any { return runtime.NumGoroutine() })
	d.Handle("pprof/", "Profiles", http.HandlerFunc(pprof.Index))
	d.Link("/debug/pprof/goroutine?debug=2", "Goroutine stacks")
	d.Handle("gc", "Run garbage collection", http.HandlerFunc(serveGC))

	return d
}

var started = time.Now()

func serveGC(w http.ResponseWriter, r *http.Request) {
	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	runtime.GC()
	runtime.ReadMemStats(&after)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "Heap in use: %d KiB -> %d KiB\n", before.HeapInuse/1024, after.HeapInuse/1024)
}

// ServeHTTP implements the [http.Handler] interface.
func (d *DebugHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Pages below /debug/ that nobody registered end up here.
	if r.URL.Path != "/debug/" {
		RespondError(w, r, ErrNotFound)
		return
	}

	type row struct {
		Name  string
		Value any
	}
	page := struct {
		CmdName    string
		Version    version.Info
		Rows       []row
		Links      []debugLink
		Stylesheet string
	}{
		CmdName:    version.CmdName(),
		Version:    version.Version(),
		Stylesheet: StaticHashName("static/css/main.css"),
	}

	d.mu.RLock()
	for _, dr := range d.rows {
		page.Rows = append(page.Rows, row{dr.name, dr.value()})
	}
	page.Links = append(page.Links, d.links...)
	d.mu.RUnlock()

	var buf bytes.Buffer
	if err := debugTemplate.Execute(&buf, page); err != nil {
		RespondError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	buf.WriteTo(w)
}

// Handle registers handler for GET requests at /debug/<slug> and links to it
// from /debug/.
func (d *DebugHandler) Handle(slug, desc string, handler http.Handler) {
	href := "/debug/" + slug
	d.mux.Handle("GET "+href, handler)
	d.Link(href, desc)
}

// KV adds a row with a fixed value to /debug/.
func (d *DebugHandler) KV(name string, v any) {
	d.KVFunc(name, func() any { return v })
}

// KVFunc adds a row to /debug/. v is called on every render of /debug/.
func (d *DebugHandler) KVFunc(name string, v func() any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rows = append(d.rows, debugRow{name, v})
}

// Link adds a link to url to /debug/.
func (d *DebugHandler) Link(url, desc string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.links = append(d.links, debugLink{url, desc})
}
