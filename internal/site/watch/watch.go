// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package watch reports changes to files in a site tree.
package watch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"go.astrophena.name/cardserve/internal/cli"
	"go.astrophena.name/cardserve/internal/logger"
)

// DefaultDelay is how long a file must stay unchanged before it's reported.
// Editors often write a file several times when saving it.
const DefaultDelay = 50 * time.Millisecond

// Watcher watches a directory tree, skipping hidden files and directories.
type Watcher struct {
	root  string
	fw    *fsnotify.Watcher
	delay time.Duration

	closeOnce sync.Once
	closeErr  error
}

// New returns a Watcher that watches root and every directory below it,
// including the ones created later.
func New(root string) (*Watcher, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		root:  root,
		fw:    fw,
		delay: DefaultDelay,
	}
	if err := w.addTree(root); err != nil {
		fw.Close()
		return nil, err
	}
	return w, nil
}

// Run calls onChange with the slash-separated path, relative to the root, of
// every file or directory that was created, written, removed or renamed.
// Paths changed at the same time are reported in lexical order. Calls to
// onChange are not concurrent.
//
// Run returns when ctx is canceled or the Watcher is closed. It closes the
// Watcher before returning.
func (w *Watcher) Run(ctx context.Context, onChange func(name string)) error {
	defer w.Close()
	env := cli.GetEnv(ctx)

	var (
		pending = make(map[string]time.Time)
		fire    <-chan time.Time
	)
	schedule := func() {
		if len(pending) == 0 {
			fire = nil
			return
		}
		var next time.Time
		for _, at := range pending {
			if next.IsZero() || at.Before(next) {
				next = at
			}
		}
		fire = time.After(time.Until(next))
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			name, ok := w.handle(ev, env.Logf)
			if !ok {
				continue
			}
			pending[name] = time.Now().Add(w.delay)
			schedule()
		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			env.Logf("watch: %v", err)
		case now := <-fire:
			var ready []string
			for name, at := range pending {
				if !at.After(now) {
					ready = append(ready, name)
					delete(pending, name)
				}
			}
			slices.Sort(ready)
			for _, name := range ready {
				onChange(name)
			}
			schedule()
		}
	}
}

// Close stops watching. It's safe to call Close more than once.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() { w.closeErr = w.fw.Close() })
	return w.closeErr
}

// handle starts watching new directories and returns the relative name of
// the changed path, or false if the event should not be reported.
func (w *Watcher) handle(ev fsnotify.Event, logf logger.Logf) (string, bool) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return "", false
	}
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil || rel == "." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	name := filepath.ToSlash(rel)
	if skip(name) {
		return "", false
	}
	if ev.Has(fsnotify.Create) {
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
			// Files may have been created inside before the directory was
			// added.
			if err := w.addTree(ev.Name); err != nil {
				logf("watch: not watching %s: %v", name, err)
			}
		}
	}
	return name, true
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.fw.Add(path)
	})
}

// skip reports whether changes to the slash-separated name are not
// interesting: hidden files and editor backups.
func skip(name string) bool {
	for _, seg := range strings.Split(name, "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	base := name[strings.LastIndex(name, "/")+1:]
	return strings.HasSuffix(base, "~") ||
		strings.HasSuffix(base, ".swp") ||
		strings.HasSuffix(base, ".swx") ||
		strings.HasPrefix(base, "#")
}
