package codec

import (
	"fmt"
	"reflect"
	"strings"
)

const inspectMaxDepth = 8

// Inspect walks a value and reports every part of it that cannot be
// serialized (channels, functions, unsafe pointers, complex numbers).
// It returns a human-readable summary for error messages.
func Inspect(v any) string {
	if v == nil {
		return "value is nil"
	}
	var problems []string
	seen := make(map[uintptr]struct{})
	inspect(reflect.ValueOf(v), "value", 0, seen, &problems)
	if len(problems) == 0 {
		return "all fields appear serializable"
	}
	return strings.Join(problems, "; ")
}

func inspect(val reflect.Value, path string, depth int, seen map[uintptr]struct{}, problems *[]string) {
	if depth > inspectMaxDepth || !val.IsValid() {
		return
	}

	switch val.Kind() {
	case reflect.Chan, reflect.Func, reflect.UnsafePointer:
		*problems = append(*problems, fmt.Sprintf("%s is a %s", path, val.Kind()))
	case reflect.Complex64, reflect.Complex128:
		*problems = append(*problems, fmt.Sprintf("%s is a %s", path, val.Kind()))
	case reflect.Ptr:
		if val.IsNil() {
			return
		}
		if _, ok := seen[val.Pointer()]; ok {
			return
		}
		seen[val.Pointer()] = struct{}{}
		inspect(val.Elem(), path, depth+1, seen, problems)
	case reflect.Interface:
		if !val.IsNil() {
			inspect(val.Elem(), path, depth+1, seen, problems)
		}
	case reflect.Struct:
		t := val.Type()
		for i := 0; i < val.NumField(); i++ {
			if !t.Field(i).IsExported() {
				continue
			}
			inspect(val.Field(i), path+"."+t.Field(i).Name, depth+1, seen, problems)
		}
	case reflect.Map:
		for _, key := range val.MapKeys() {
			inspect(val.MapIndex(key), fmt.Sprintf("%s[%v]", path, key), depth+1, seen, problems)
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < val.Len(); i++ {
			inspect(val.Index(i), fmt.Sprintf("%s[%d]", path, i), depth+1, seen, problems)
		}
	}
}
