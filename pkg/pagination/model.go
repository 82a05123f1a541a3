package pagination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"

	"github.com/Sternrassler/usda-ndb-client/pkg/apierr"
)

// Converter builds a typed value from one raw record.
type Converter[T any] func(raw json.RawMessage) (T, error)

// ModelPaginator converts the records of a RawPaginator into values of T.
// It holds no cursor of its own; offset and exhaustion are read from the
// wrapped RawPaginator.
type ModelPaginator[T any] struct {
	raw     *RawPaginator
	convert Converter[T]
	err     error
}

// NewModelPaginator wraps raw. It panics if raw or convert is nil.
func NewModelPaginator[T any](raw *RawPaginator, convert Converter[T]) *ModelPaginator[T] {
	if raw == nil {
		panic("raw paginator cannot be nil")
	}
	if convert == nil {
		panic("converter cannot be nil")
	}
	return &ModelPaginator[T]{
		raw:     raw,
		convert: convert,
	}
}

// Next returns the next converted value, Done at the end of the sequence,
// or the first fetch or conversion error. Errors are final: a record that
// fails conversion is consumed, and every later call returns the same
// error instead of moving past it.
func (m *ModelPaginator[T]) Next(ctx context.Context) (T, error) {
	var zero T
	if m.err != nil {
		return zero, m.err
	}

	raw, err := m.raw.Next(ctx)
	if err != nil {
		return zero, err
	}

	v, err := m.convert(raw)
	if err != nil {
		if !errors.Is(err, apierr.ErrConversion) {
			err = &apierr.ConversionError{Type: fmt.Sprintf("%T", zero), Err: err}
		}
		m.err = err
		return zero, err
	}
	return v, nil
}

// All returns an iterator over the remaining values. Iteration stops after
// the first error, which is yielded with the zero value of T.
func (m *ModelPaginator[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for {
			v, err := m.Next(ctx)
			if errors.Is(err, Done) {
				return
			}
			if err != nil {
				var zero T
				yield(zero, err)
				return
			}
			if !yield(v, nil) {
				return
			}
		}
	}
}

// Collect drains the paginator into a slice.
func (m *ModelPaginator[T]) Collect(ctx context.Context) ([]T, error) {
	var out []T
	for v, err := range m.All(ctx) {
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Raw returns the wrapped RawPaginator.
func (m *ModelPaginator[T]) Raw() *RawPaginator {
	return m.raw
}

// Offset returns the wrapped paginator's offset cursor.
func (m *ModelPaginator[T]) Offset() int {
	return m.raw.Offset()
}

// Exhausted returns the wrapped paginator's exhaustion state.
func (m *ModelPaginator[T]) Exhausted() bool {
	return m.raw.Exhausted()
}
