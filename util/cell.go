package util

import (
	"sync/atomic"
)

// cell holds the latest published value of T. Exactly one CellWriter exists
// per cell; any number of CellReaders may load from it. Values are published
// by pointer swap, so a stored value must not be mutated afterwards.
type cell[T any] struct {
	value atomic.Pointer[T]
}

// CellWriter is the only handle able to publish into a cell.
type CellWriter[T any] struct {
	c *cell[T]
}

// CellReader is a read-only view of a cell.
type CellReader[T any] struct {
	c *cell[T]
}

// NewCell creates a cell holding initial and returns its writer and a
// reader. Further readers are obtained via CellWriter.Reader.
func NewCell[T any](initial T) (*CellWriter[T], *CellReader[T]) {
	c := &cell[T]{}
	c.value.Store(&initial)
	return &CellWriter[T]{c: c}, &CellReader[T]{c: c}
}

// Store publishes v as the latest value.
func (w *CellWriter[T]) Store(v T) {
	w.c.value.Store(&v)
}

// Load returns the value last published by the writer.
func (w *CellWriter[T]) Load() T {
	return *w.c.value.Load()
}

// Reader returns another read-only handle on the same cell.
func (w *CellWriter[T]) Reader() *CellReader[T] {
	return &CellReader[T]{c: w.c}
}

// Load returns the latest published value.
func (r *CellReader[T]) Load() T {
	return *r.c.value.Load()
}

// FlagWriter owns a boolean switch such as SystemEnable or HoldFlag. It is
// handed only to the input edge handler.
type FlagWriter struct {
	v *atomic.Bool
}

// FlagReader reads a boolean switch.
type FlagReader struct {
	v *atomic.Bool
}

// NewFlag creates a flag with the given initial value.
func NewFlag(initial bool) (*FlagWriter, *FlagReader) {
	v := &atomic.Bool{}
	v.Store(initial)
	return &FlagWriter{v: v}, &FlagReader{v: v}
}

func (f *FlagWriter) Set(on bool) {
	f.v.Store(on)
}

// Toggle flips the flag and returns the new value.
func (f *FlagWriter) Toggle() bool {
	for {
		old := f.v.Load()
		if f.v.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

func (f *FlagWriter) Get() bool {
	return f.v.Load()
}

// Reader returns a read-only handle on the same flag.
func (f *FlagWriter) Reader() *FlagReader {
	return &FlagReader{v: f.v}
}

func (f *FlagReader) Get() bool {
	return f.v.Load()
}
