package caimogu

// optional marks a lazily computed field, it separates "not fetched yet" from
// a legitimately zero value.
type optional[T any] struct {
	value T
	ok    bool
}

func some[T any](value T) optional[T] {
	return optional[T]{value: value, ok: true}
}

func (o optional[T]) get() (T, bool) {
	return o.value, o.ok
}
