// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package logger defines a type for writing to logs and an in-memory log
// buffer that keeps the most recent lines and serves them over HTTP.
package logger

import (
	"container/ring"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// Logf is the basic logger type: a printf-like func. Like [log.Printf], the
// format need not end in a newline. Logf functions must be safe for concurrent
// use.
type Logf func(format string, args ...any)

// Write implements the [io.Writer] interface.
func (f Logf) Write(p []byte) (n int, err error) {
	f("%s", p)
	return len(p), nil
}

// Buffer is an [io.Writer] that keeps the last logged lines in memory and
// fans newly written lines out to subscribers.
//
// Buffer implements [http.Handler]: it replies with the kept lines, and, if
// the client asks for text/event-stream, keeps the connection open and sends
// new lines as server-sent events.
type Buffer struct {
	mu      sync.Mutex
	size    int
	partial string
	r       *ring.Ring
	subs    map[chan string]struct{}
}

// NewBuffer returns a new Buffer that keeps up to size lines.
func NewBuffer(size int) *Buffer {
	return &Buffer{
		size: size,
		r:    ring.New(size),
		subs: make(map[chan string]struct{}),
	}
}

// Write implements the [io.Writer] interface. Incomplete lines are held back
// until the terminating newline arrives.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	text := b.partial + string(p)
	for {
		i := strings.IndexByte(text, '\n')
		if i == -1 {
			break
		}
		line := text[:i+1]
		b.r.Value = line
		b.r = b.r.Next()
		for sub := range b.subs {
			select {
			case sub <- line:
			default:
				// Slow subscriber, drop the line.
			}
		}
		text = text[i+1:]
	}
	b.partial = text
	return len(p), nil
}

// Lines returns the kept lines, oldest first.
func (b *Buffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	lines := make([]string, 0, b.size)
	b.r.Do(func(v any) {
		if v != nil {
			lines = append(lines, v.(string))
		}
	})
	return lines
}

// Subscribe returns a channel receiving every line written after the call.
// The returned function unsubscribes and closes the channel.
func (b *Buffer) Subscribe() (<-chan string, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan string, b.size+1)
	b.subs[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, ch)
			close(ch)
		})
	}
}

// ServeHTTP implements the [http.Handler] interface.
func (b *Buffer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.Contains(strings.ToLower(r.Header.Get("Accept")), "text/event-stream") {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		for _, line := range b.Lines() {
			fmt.Fprint(w, line)
		}
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flush := func() {
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
	flush()

	lines, unsubscribe := b.Subscribe()
	defer unsubscribe()

	for {
		select {
		case line := <-lines:
			// See https://developer.mozilla.org/en-US/docs/Web/API/Server-sent_events/Using_server-sent_events.
			fmt.Fprintf(w, "event: logline\ndata: %s\n\n", strings.TrimSuffix(line, "\n"))
			flush()
		case <-r.Context().Done():
			return
		}
	}
}
