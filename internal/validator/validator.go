package validator

import (
	"fmt"
	"reflect"
)

// Validate reports an error if any dependency is nil or a zero value.
// Struct values are exempt from the zero check: a stateless zero-sized
// implementation passed by value is a present dependency, not a missing one.
func Validate(name string, deps ...any) error {
	for _, dep := range deps {
		v := reflect.ValueOf(dep)
		if !v.IsValid() || isNil(v) || isZero(v) {
			return fmt.Errorf("missing required deps for component: %s", name)
		}
	}

	return nil
}

func isNil(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Pointer, reflect.Slice:
		return v.IsNil()
	default:
		return false
	}
}

func isZero(v reflect.Value) bool {
	if v.Kind() == reflect.Struct {
		return false
	}

	return v.IsZero()
}
