package value

import (
	"fmt"
	"reflect"
	"strings"
)

var interfaceType = reflect.TypeOf((*interface{})(nil)).Elem()

var basicTypes = map[string]reflect.Type{
	"bool":        reflect.TypeOf(false),
	"int":         reflect.TypeOf(int(0)),
	"int8":        reflect.TypeOf(int8(0)),
	"int16":       reflect.TypeOf(int16(0)),
	"int32":       reflect.TypeOf(int32(0)),
	"int64":       reflect.TypeOf(int64(0)),
	"uint":        reflect.TypeOf(uint(0)),
	"uint8":       reflect.TypeOf(uint8(0)),
	"uint16":      reflect.TypeOf(uint16(0)),
	"uint32":      reflect.TypeOf(uint32(0)),
	"uint64":      reflect.TypeOf(uint64(0)),
	"float32":     reflect.TypeOf(float32(0)),
	"float64":     reflect.TypeOf(float64(0)),
	"string":      reflect.TypeOf(""),
	"interface {}": interfaceType,
}

// ParseType turns a type expression produced by reflect.Type.String back into
// a reflect.Type. Supported: predeclared scalar types, interface {}, []T and
// map[string]T.
func ParseType(expr string) (reflect.Type, error) {
	t, rest, err := parseType(expr)
	if err != nil {
		return nil, err
	}
	if rest != "" {
		return nil, fmt.Errorf("%w: trailing %q in type %q", ErrUnsupported, rest, expr)
	}
	return t, nil
}

func parseType(expr string) (reflect.Type, string, error) {
	switch {
	case strings.HasPrefix(expr, "[]"):
		elem, rest, err := parseType(expr[2:])
		if err != nil {
			return nil, "", err
		}
		return reflect.SliceOf(elem), rest, nil
	case strings.HasPrefix(expr, "map["):
		key, rest, err := parseType(expr[4:])
		if err != nil {
			return nil, "", err
		}
		if key.Kind() != reflect.String {
			return nil, "", fmt.Errorf("%w: map key %s", ErrUnsupported, key)
		}
		if !strings.HasPrefix(rest, "]") {
			return nil, "", fmt.Errorf("%w: malformed map type %q", ErrUnsupported, expr)
		}
		elem, rest, err := parseType(rest[1:])
		if err != nil {
			return nil, "", err
		}
		return reflect.MapOf(key, elem), rest, nil
	case strings.HasPrefix(expr, "interface {}"):
		return interfaceType, expr[len("interface {}"):], nil
	}

	end := 0
	for end < len(expr) && isIdentByte(expr[end]) {
		end++
	}
	t, ok := basicTypes[expr[:end]]
	if !ok || end == 0 {
		return nil, "", fmt.Errorf("%w: type %q", ErrUnsupported, expr)
	}
	return t, expr[end:], nil
}

func isIdentByte(b byte) bool {
	return b == '_' || ('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z') || ('0' <= b && b <= '9')
}
