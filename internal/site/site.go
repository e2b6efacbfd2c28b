// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package site serves a Progressive Web App from a file tree: the entry
// document, the web app manifest, the service worker, images and any other
// static file, plus the /health and /offline endpoints.
package site

import (
	"bytes"
	"errors"
	"io/fs"
	"net/http"
	"strings"
	"syscall"

	"go.astrophena.name/cardserve/internal/web"
)

// Config configures a [Handler].
type Config struct {
	// FS is the site tree. Usually os.DirFS of the site root.
	FS fs.FS
	// App is the application name reported by /health and shown on /offline.
	App string
	// Version is the application version reported by /health.
	Version string
}

// Handler is an [http.Handler] that serves the site.
type Handler struct {
	fs      fs.FS
	mux     *http.ServeMux
	handler http.Handler
	offline []byte
}

// New returns a new Handler serving the site described by c.
func New(c Config) *Handler {
	h := &Handler{
		fs:      c.FS,
		mux:     http.NewServeMux(),
		offline: renderOffline(c.App),
	}

	h.mux.Handle("GET /{$}", h.asset(asset{
		name:  "index.html",
		ctype: "text/html; charset=utf-8",
	}))
	h.mux.Handle("GET /manifest.json", h.asset(asset{
		name:  "manifest.json",
		ctype: "application/manifest+json",
	}))
	// Service-Worker-Allowed lets the worker control the whole origin.
	h.mux.Handle("GET /service-worker.js", h.asset(asset{
		name:   "service-worker.js",
		ctype:  "application/javascript",
		header: map[string]string{"Service-Worker-Allowed": "/"},
	}))
	h.mux.HandleFunc("GET /images/{name...}", h.serveImage)
	web.Health(h.mux, c.App, c.Version)
	h.mux.HandleFunc("GET /offline", h.serveOffline)
	h.mux.HandleFunc("GET /", h.serveFile)
	h.handler = Wrap(h.mux)

	return h
}

// ServeHTTP implements the [http.Handler] interface.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.handler.ServeHTTP(w, r)
}

// Wrap is a [web.Middleware] that adds the headers every site response
// carries and rejects paths with a .. element before next sees them. It must
// wrap any [http.ServeMux] that has a Handler mounted, because ServeMux
// redirects such paths to their cleaned form, which for /images/../x ends up
// outside of the images directory.
func Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hdr := w.Header()
		hdr.Set("Cache-Control", "public, max-age=0")
		hdr.Set("X-UA-Compatible", "IE=edge")
		hdr.Set("X-Content-Type-Options", "nosniff")
		hdr.Set("Access-Control-Allow-Origin", "*")
		hdr.Set("Access-Control-Allow-Methods", "GET, HEAD")
		hdr.Set("Access-Control-Allow-Headers", "*")

		if hasDotDot(r.URL.Path) {
			web.RespondError(w, r, errFileNotFound)
			return
		}

		next.ServeHTTP(w, r)
	})
}

var errFileNotFound = web.Errorf(web.ErrNotFound, "File not found")

// asset is a file at a fixed location in the site tree.
type asset struct {
	name   string
	ctype  string
	header map[string]string // set only if the file was read
}

func (h *Handler) asset(a asset) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, err := h.readFile(a.name)
		if err != nil {
			web.RespondError(w, r, web.Errorf(web.ErrInternalServerError, "Error loading %s: %w", a.name, err))
			return
		}
		for k, v := range a.header {
			w.Header().Set(k, v)
		}
		f.serve(w, r, a.ctype)
	})
}

func (h *Handler) serveImage(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var f *file
	err := fs.ErrNotExist
	if name != "" && !isHidden(name) {
		f, err = h.readFile("images/" + name)
	}
	switch {
	case isNotFound(err):
		web.RespondError(w, r, web.Errorf(web.ErrNotFound, "Image not found: %s", name))
	case err != nil:
		web.RespondError(w, r, web.Errorf(web.ErrInternalServerError, "Error loading image %s: %w", name, err))
	default:
		f.serve(w, r, "")
	}
}

func (h *Handler) serveOffline(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(h.offline)
}

func (h *Handler) serveFile(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/")

	var f *file
	err := fs.ErrNotExist
	if name != "" && !isHidden(name) {
		f, err = h.readFile(name)
	}
	switch {
	case isNotFound(err):
		web.RespondError(w, r, errFileNotFound)
	case err != nil:
		web.RespondError(w, r, web.Errorf(web.ErrInternalServerError, "Error loading %s: %w", name, err))
	default:
		f.serve(w, r, "")
	}
}

// file is a regular file read from the site tree.
type file struct {
	fi   fs.FileInfo
	data []byte
}

var errIsDir = errors.New("is a directory")

// readFile reads the whole file, so that a failure can still be reported
// with a proper status code.
func (h *Handler) readFile(name string) (*file, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	fi, err := fs.Stat(h.fs, name)
	if err != nil {
		return nil, err
	}
	if fi.IsDir() {
		return nil, &fs.PathError{Op: "read", Path: name, Err: errIsDir}
	}
	b, err := fs.ReadFile(h.fs, name)
	if err != nil {
		return nil, err
	}
	return &file{fi: fi, data: b}, nil
}

// serve writes the file to w. If ctype is empty, it's inferred from the file
// name.
func (f *file) serve(w http.ResponseWriter, r *http.Request, ctype string) {
	if ctype == "" {
		ctype = contentType(f.fi.Name())
	}
	w.Header().Set("Content-Type", ctype)
	http.ServeContent(w, r, f.fi.Name(), f.fi.ModTime(), bytes.NewReader(f.data))
}

// isNotFound reports whether err means that there is no file at the
// requested path. A path through a regular file or a name too long for the
// file system can't exist either.
func isNotFound(err error) bool {
	return errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, errIsDir) ||
		errors.Is(err, syscall.ENOTDIR) ||
		errors.Is(err, syscall.ENAMETOOLONG)
}

func hasDotDot(p string) bool {
	if !strings.Contains(p, "..") {
		return false
	}
	for _, seg := range strings.FieldsFunc(p, isSlashRune) {
		if seg == ".." {
			return true
		}
	}
	return false
}

func isSlashRune(r rune) bool { return r == '/' || r == '\\' }

// isHidden reports whether any element of the slash-separated path name
// starts with a dot. /.well-known/ is not considered hidden.
func isHidden(name string) bool {
	for i, seg := range strings.Split(name, "/") {
		if i == 0 && seg == ".well-known" {
			continue
		}
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}
