// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package site

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"path"
	"strconv"
	"strings"
)

// Problem is something in the site tree that prevents the app from being
// installed or working offline.
type Problem struct {
	Path    string `json:"path"` // slash-separated, relative to the site root
	Message string `json:"message"`
}

// String implements the [fmt.Stringer] interface.
func (p Problem) String() string { return p.Path + ": " + p.Message }

// Manifest is the subset of the web app manifest that browsers need to offer
// installation.
//
// See https://developer.mozilla.org/en-US/docs/Web/Manifest.
type Manifest struct {
	Name      string `json:"name"`
	ShortName string `json:"short_name"`
	StartURL  string `json:"start_url"`
	Display   string `json:"display"`
	Icons     []Icon `json:"icons"`
}

// Icon is an image in the "icons" member of the manifest.
type Icon struct {
	Src     string `json:"src"`
	Sizes   string `json:"sizes"`
	Type    string `json:"type"`
	Purpose string `json:"purpose"`
}

// Check verifies that the site in fsys can be served as an installable PWA
// and returns the problems found, in a stable order. It returns nil when
// there are none.
func Check(fsys fs.FS) []Problem {
	var ps []Problem

	ps = append(ps, checkFile(fsys, "index.html")...)

	m, mps := readManifest(fsys)
	ps = append(ps, mps...)
	if m != nil {
		ps = append(ps, checkManifest(fsys, m)...)
	}

	ps = append(ps, checkFile(fsys, "service-worker.js")...)

	return ps
}

func checkFile(fsys fs.FS, name string) []Problem {
	fi, err := fs.Stat(fsys, name)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return []Problem{{name, "missing"}}
	case err != nil:
		return []Problem{{name, err.Error()}}
	case fi.IsDir():
		return []Problem{{name, "is a directory"}}
	}
	return nil
}

func readManifest(fsys fs.FS) (*Manifest, []Problem) {
	const name = "manifest.json"
	if ps := checkFile(fsys, name); ps != nil {
		return nil, ps
	}
	b, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, []Problem{{name, err.Error()}}
	}
	m := new(Manifest)
	if err := json.Unmarshal(b, m); err != nil {
		return nil, []Problem{{name, "invalid JSON: " + err.Error()}}
	}
	return m, nil
}

func checkManifest(fsys fs.FS, m *Manifest) []Problem {
	const name = "manifest.json"
	var ps []Problem
	add := func(format string, args ...any) {
		ps = append(ps, Problem{name, fmt.Sprintf(format, args...)})
	}

	if m.Name == "" && m.ShortName == "" {
		add("name or short_name is required")
	}
	if m.StartURL == "" {
		add("start_url is required")
	}
	if m.Display == "" {
		add("display is required")
	}
	if len(m.Icons) == 0 {
		add("icons are required")
		return ps
	}

	var largest int
	for _, icon := range m.Icons {
		largest = max(largest, iconSize(icon.Sizes))
	}
	for _, want := range []int{192, 512} {
		if largest < want {
			add("no icon of at least %[1]dx%[1]d", want)
		}
	}

	for _, icon := range m.Icons {
		p, ok := localPath(icon.Src)
		if !ok {
			continue
		}
		if !fs.ValidPath(p) {
			ps = append(ps, Problem{icon.Src, "icon path is invalid"})
			continue
		}
		if fi, err := fs.Stat(fsys, p); err != nil || fi.IsDir() {
			ps = append(ps, Problem{p, "icon referenced by manifest.json is missing"})
		}
	}

	return ps
}

// anySize is the size of icons declared with "any", usually vector ones.
const anySize = 1 << 30

// iconSize returns the smaller dimension of the largest size listed in sizes,
// such as "48x48 192x192" or "any".
func iconSize(sizes string) int {
	var largest int
	for _, s := range strings.Fields(strings.ToLower(sizes)) {
		if s == "any" {
			return anySize
		}
		ws, hs, ok := strings.Cut(s, "x")
		if !ok {
			continue
		}
		w, err1 := strconv.Atoi(ws)
		h, err2 := strconv.Atoi(hs)
		if err1 != nil || err2 != nil {
			continue
		}
		largest = max(largest, min(w, h))
	}
	return largest
}

// localPath resolves src, as written in the manifest at the site root, to a
// path in the site tree. It reports false for icons on other origins.
func localPath(src string) (string, bool) {
	u, err := url.Parse(src)
	if err != nil || u.Scheme != "" || u.Host != "" || u.Path == "" {
		return "", false
	}
	p := u.Path
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return strings.TrimPrefix(path.Clean(p), "/"), true
}
