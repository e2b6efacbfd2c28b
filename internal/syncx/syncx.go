// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package syncx contains generic synchronization helpers.
package syncx

import "sync"

// Value holds a value of type T that is read and replaced as a whole by
// multiple goroutines. The zero Value holds the zero T.
type Value[T any] struct {
	mu sync.RWMutex
	v  T
}

// Load returns the current value.
func (v *Value[T]) Load() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.v
}

// Store replaces the current value with x.
func (v *Value[T]) Store(x T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.v = x
}

// Lazy is a value of type T computed on first use. The zero Lazy is ready to
// use.
type Lazy[T any] struct {
	once sync.Once
	v    T
}

// Get returns the value, calling f to compute it on the first call.
func (l *Lazy[T]) Get(f func() T) T {
	l.once.Do(func() { l.v = f() })
	return l.v
}
