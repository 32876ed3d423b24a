// Package value defines the serializable value sum type used for persisted
// session variables, and the filter that decides which runtime values can
// cross into durable state.
//
// A Value records both the data and the Go type it came from (as written by
// reflect.Type.String), so a []string persisted by one run comes back as a
// []string in the next one rather than as []interface{}. Only types built
// from predeclared types are representable: booleans, integers, floats,
// strings, slices, string-keyed maps and interface{} containers. Anything
// else (structs, pointers, funcs, channels, named types from packages) is
// rejected.
package value

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
)

// Kind is the shape of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindUint
	KindFloat
	KindString
	KindList
	KindMap
)

var kindNames = [...]string{"null", "bool", "int", "uint", "float", "string", "list", "map"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// maxDepth guards against self-referencing containers.
const maxDepth = 64

// ErrUnsupported is returned for values with no representation.
var ErrUnsupported = errors.New("unsupported value")

// Value is a tagged union of the persistable shapes.
type Value struct {
	Kind  Kind             `json:"k"`
	Type  string           `json:"t"`
	Bool  bool             `json:"b,omitempty"`
	Int   int64            `json:"i,omitempty"`
	Uint  uint64           `json:"u,omitempty"`
	Float float64          `json:"f,omitempty"`
	Str   string           `json:"s,omitempty"`
	List  []Value          `json:"l,omitempty"`
	Map   map[string]Value `json:"m,omitempty"`
}

// Null returns the null value with static type interface{}.
func Null() Value {
	return Value{Kind: KindNull, Type: interfaceType.String()}
}

// FromGo maps a runtime value into the sum type.
func FromGo(x interface{}) (Value, error) {
	if x == nil {
		return Null(), nil
	}
	return fromReflect(reflect.ValueOf(x), 0)
}

func fromReflect(rv reflect.Value, depth int) (Value, error) {
	if depth > maxDepth {
		return Value{}, fmt.Errorf("%w: nesting deeper than %d", ErrUnsupported, maxDepth)
	}
	if !rv.IsValid() {
		return Null(), nil
	}
	t := rv.Type()
	if t.PkgPath() != "" {
		return Value{}, fmt.Errorf("%w: named type %s", ErrUnsupported, t)
	}

	v := Value{Type: t.String()}
	switch t.Kind() {
	case reflect.Interface:
		if rv.IsNil() {
			return Value{Kind: KindNull, Type: t.String()}, nil
		}
		return fromReflect(rv.Elem(), depth+1)
	case reflect.Bool:
		v.Kind, v.Bool = KindBool, rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		v.Kind, v.Int = KindInt, rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		v.Kind, v.Uint = KindUint, rv.Uint()
	case reflect.Float32, reflect.Float64:
		v.Kind, v.Float = KindFloat, rv.Float()
	case reflect.String:
		v.Kind, v.Str = KindString, rv.String()
	case reflect.Slice:
		if err := checkType(t.Elem()); err != nil {
			return Value{}, err
		}
		v.Kind = KindList
		if rv.Len() > 0 {
			v.List = make([]Value, rv.Len())
		}
		for i := 0; i < rv.Len(); i++ {
			elem, err := fromReflect(rv.Index(i), depth+1)
			if err != nil {
				return Value{}, fmt.Errorf("index %d: %w", i, err)
			}
			v.List[i] = elem
		}
	case reflect.Map:
		if t.Key().Kind() != reflect.String || t.Key().PkgPath() != "" {
			return Value{}, fmt.Errorf("%w: map key type %s", ErrUnsupported, t.Key())
		}
		if err := checkType(t.Elem()); err != nil {
			return Value{}, err
		}
		v.Kind = KindMap
		if rv.Len() > 0 {
			v.Map = make(map[string]Value, rv.Len())
		}
		iter := rv.MapRange()
		for iter.Next() {
			key := iter.Key().String()
			elem, err := fromReflect(iter.Value(), depth+1)
			if err != nil {
				return Value{}, fmt.Errorf("key %q: %w", key, err)
			}
			v.Map[key] = elem
		}
	default:
		return Value{}, fmt.Errorf("%w: %s", ErrUnsupported, t)
	}
	return v, nil
}

// checkType rejects element types that could never be restored, even when
// the container is empty.
func checkType(t reflect.Type) error {
	_, err := ParseType(t.String())
	if err != nil {
		return fmt.Errorf("%w: element type %s", ErrUnsupported, t)
	}
	return nil
}

// Reflect rebuilds a runtime value of the recorded Go type.
func (v Value) Reflect() (reflect.Value, error) {
	t, err := ParseType(v.Type)
	if err != nil {
		return reflect.Value{}, err
	}
	return v.reflectAs(t)
}

func (v Value) reflectAs(t reflect.Type) (reflect.Value, error) {
	out := reflect.New(t).Elem()
	if t.Kind() == reflect.Interface {
		if v.Kind == KindNull {
			return out, nil
		}
		inner, err := v.Reflect()
		if err != nil {
			return reflect.Value{}, err
		}
		out.Set(inner)
		return out, nil
	}

	switch v.Kind {
	case KindNull:
		return out, nil
	case KindBool:
		out.SetBool(v.Bool)
	case KindInt:
		out.SetInt(v.Int)
	case KindUint:
		out.SetUint(v.Uint)
	case KindFloat:
		out.SetFloat(v.Float)
	case KindString:
		out.SetString(v.Str)
	case KindList:
		if t.Kind() != reflect.Slice {
			return reflect.Value{}, fmt.Errorf("list value recorded with type %s", t)
		}
		out.Set(reflect.MakeSlice(t, len(v.List), len(v.List)))
		for i, elem := range v.List {
			ev, err := elem.reflectAs(t.Elem())
			if err != nil {
				return reflect.Value{}, err
			}
			out.Index(i).Set(ev)
		}
	case KindMap:
		if t.Kind() != reflect.Map {
			return reflect.Value{}, fmt.Errorf("map value recorded with type %s", t)
		}
		out.Set(reflect.MakeMapWithSize(t, len(v.Map)))
		for key, elem := range v.Map {
			ev, err := elem.reflectAs(t.Elem())
			if err != nil {
				return reflect.Value{}, err
			}
			out.SetMapIndex(reflect.ValueOf(key).Convert(t.Key()), ev)
		}
	default:
		return reflect.Value{}, fmt.Errorf("unknown kind %s", v.Kind)
	}
	return out, nil
}

// Interface rebuilds the value and returns it as interface{}.
func (v Value) Interface() (interface{}, error) {
	rv, err := v.Reflect()
	if err != nil {
		return nil, err
	}
	if !rv.IsValid() {
		return nil, nil
	}
	return rv.Interface(), nil
}

// Equal reports structural equality. Nil and empty containers are equal.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind || v.Type != o.Type {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindBool:
		return v.Bool == o.Bool
	case KindInt:
		return v.Int == o.Int
	case KindUint:
		return v.Uint == o.Uint
	case KindFloat:
		return v.Float == o.Float
	case KindString:
		return v.Str == o.Str
	case KindList:
		if len(v.List) != len(o.List) {
			return false
		}
		for i := range v.List {
			if !v.List[i].Equal(o.List[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.Map) != len(o.Map) {
			return false
		}
		for k, a := range v.Map {
			b, ok := o.Map[k]
			if !ok || !a.Equal(b) {
				return false
			}
		}
		return true
	}
	return false
}

// Keys returns the map keys in sorted order.
func (v Value) Keys() []string {
	keys := make([]string, 0, len(v.Map))
	for k := range v.Map {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String renders a short description for status listings.
func (v Value) String() string {
	switch v.Kind {
	case KindList:
		return fmt.Sprintf("%s (len %d)", v.Type, len(v.List))
	case KindMap:
		return fmt.Sprintf("%s (len %d)", v.Type, len(v.Map))
	case KindNull:
		return "nil"
	}
	return v.Type
}
