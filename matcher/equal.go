package matcher

import (
	"fmt"
	"reflect"
	"strconv"
)

// DeepEqual compares values structurally. Numbers compare by value across int,
// uint and float kinds, and a string that parses as a number equals that number,
// so 3, 3.0 and "3" are equal. Otherwise kinds must agree: strings only equal
// strings, bools only bools, nil only nil. Maps compare independently of key order;
// slices compare element by element.
func DeepEqual(a, b interface{}) bool {
	return deepEqual(reflect.ValueOf(a), reflect.ValueOf(b))
}

func deepEqual(a, b reflect.Value) bool {
	a, b = deref(a), deref(b)
	if !a.IsValid() || !b.IsValid() {
		return !a.IsValid() && !b.IsValid()
	}

	if fa, ok := numeric(a); ok {
		fb, ok := numericOrNumericString(b)
		return ok && fa == fb
	}
	if fb, ok := numeric(b); ok {
		fa, ok := numericOrNumericString(a)
		return ok && fa == fb
	}

	switch a.Kind() {
	case reflect.String:
		return b.Kind() == reflect.String && a.String() == b.String()
	case reflect.Bool:
		return b.Kind() == reflect.Bool && a.Bool() == b.Bool()
	case reflect.Slice, reflect.Array:
		if b.Kind() != reflect.Slice && b.Kind() != reflect.Array {
			return false
		}
		if a.Len() != b.Len() {
			return false
		}
		for i := 0; i < a.Len(); i++ {
			if !deepEqual(a.Index(i), b.Index(i)) {
				return false
			}
		}
		return true
	case reflect.Map:
		if b.Kind() != reflect.Map || a.Len() != b.Len() {
			return false
		}
		other := make(map[string]reflect.Value, b.Len())
		iter := b.MapRange()
		for iter.Next() {
			other[fmt.Sprint(iter.Key().Interface())] = iter.Value()
		}
		iter = a.MapRange()
		for iter.Next() {
			bv, ok := other[fmt.Sprint(iter.Key().Interface())]
			if !ok || !deepEqual(iter.Value(), bv) {
				return false
			}
		}
		return true
	default:
		return a.Kind() == b.Kind() && reflect.DeepEqual(a.Interface(), b.Interface())
	}
}

// deref unwraps interfaces and pointers; a nil one becomes the invalid Value.
func deref(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Interface || v.Kind() == reflect.Pointer) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

func numeric(v reflect.Value) (float64, bool) {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint()), true
	case reflect.Float32, reflect.Float64:
		return v.Float(), true
	}
	return 0, false
}

func numericOrNumericString(v reflect.Value) (float64, bool) {
	if f, ok := numeric(v); ok {
		return f, true
	}
	if v.Kind() != reflect.String {
		return 0, false
	}
	f, err := strconv.ParseFloat(v.String(), 64)
	return f, err == nil
}
