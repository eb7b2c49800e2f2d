// Package assert panics on wiring mistakes (missing dependencies), never on
// user or network input.
package assert

import "reflect"

// NotNil panics if value is nil, this includes nil pointers, maps, slices,
// funcs and channels stored in an interface.
func NotNil(value any) {
	if value == nil {
		panic("expected value to be not nil")
	}
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		if v.IsNil() {
			panic("expected " + v.Type().String() + " to be not nil")
		}
	}
}
