// Package stream provides the closeable lazy iterator shared by backends, the
// aggregation engine, the view pipeline and chain results.
//
// Usage mirrors database/sql.Rows:
//
//	defer it.Close()
//	for it.Next() {
//		use(it.Item())
//	}
//	if err := it.Err(); err != nil { ... }
package stream

import (
	"errors"
	"sync"
)

// Iterator is a lazy, closeable sequence. Close must be idempotent and must
// release any upstream resource (cursor, transaction, connection).
type Iterator[T any] interface {
	Next() bool
	Item() T
	Err() error
	Close() error
}

// sliceIter iterates over an in-memory slice.
type sliceIter[T any] struct {
	items  []T
	pos    int
	closed bool
}

// FromSlice returns an iterator over items. It holds no resources.
func FromSlice[T any](items []T) Iterator[T] {
	return &sliceIter[T]{items: items, pos: -1}
}

// Empty returns an exhausted iterator.
func Empty[T any]() Iterator[T] { return FromSlice[T](nil) }

func (s *sliceIter[T]) Next() bool {
	if s.closed || s.pos+1 >= len(s.items) {
		return false
	}
	s.pos++
	return true
}

func (s *sliceIter[T]) Item() T {
	if s.pos < 0 || s.pos >= len(s.items) {
		var zero T
		return zero
	}
	return s.items[s.pos]
}

func (s *sliceIter[T]) Err() error { return nil }

func (s *sliceIter[T]) Close() error {
	s.closed = true
	return nil
}

// Func adapts a pull function to an Iterator. next returns the next item,
// false at the end of the sequence, or an error that terminates it. closeFn
// is invoked at most once; it may be nil.
func Func[T any](next func() (T, bool, error), closeFn func() error) Iterator[T] {
	return &funcIter[T]{next: next, closer: OnceCloser(closeFn)}
}

type funcIter[T any] struct {
	next   func() (T, bool, error)
	closer func() error
	cur    T
	err    error
	done   bool
}

func (f *funcIter[T]) Next() bool {
	if f.done {
		return false
	}
	item, ok, err := f.next()
	if err != nil {
		f.err = err
		f.done = true
		return false
	}
	if !ok {
		f.done = true
		return false
	}
	f.cur = item
	return true
}

func (f *funcIter[T]) Item() T    { return f.cur }
func (f *funcIter[T]) Err() error { return f.err }

func (f *funcIter[T]) Close() error {
	f.done = true
	return f.closer()
}

// OnceCloser wraps fn so that only the first call runs it. Later calls return
// the first call's error. A nil fn yields a no-op.
func OnceCloser(fn func() error) func() error {
	if fn == nil {
		return func() error { return nil }
	}
	var (
		once sync.Once
		err  error
	)
	return func() error {
		once.Do(func() { err = fn() })
		return err
	}
}

// Map lazily applies fn to each item of src. Closing the result closes src.
func Map[T, U any](src Iterator[T], fn func(T) (U, error)) Iterator[U] {
	return Func(func() (U, bool, error) {
		var zero U
		if !src.Next() {
			return zero, false, src.Err()
		}
		out, err := fn(src.Item())
		if err != nil {
			return zero, false, err
		}
		return out, true, nil
	}, src.Close)
}

// Filter lazily keeps the items of src for which keep returns true.
func Filter[T any](src Iterator[T], keep func(T) bool) Iterator[T] {
	return Func(func() (T, bool, error) {
		for src.Next() {
			if item := src.Item(); keep(item) {
				return item, true, nil
			}
		}
		var zero T
		return zero, false, src.Err()
	}, src.Close)
}

// Limit yields at most n items from src, then closes it.
func Limit[T any](src Iterator[T], n int) Iterator[T] {
	seen := 0
	return Func(func() (T, bool, error) {
		var zero T
		if seen >= n {
			return zero, false, src.Close()
		}
		if !src.Next() {
			return zero, false, src.Err()
		}
		seen++
		return src.Item(), true, nil
	}, src.Close)
}

// Collect drains it into a slice and closes it.
func Collect[T any](it Iterator[T]) ([]T, error) {
	var out []T
	for it.Next() {
		out = append(out, it.Item())
	}
	return out, errors.Join(it.Err(), it.Close())
}
