// Package mockmeta is the mock-metadata extractor/generator spec.md §1
// names as an external collaborator: "introspects a value, emits a
// structural mock". GetMetadata walks an exported (i.e. already
// goja.Value.Export()-ed, or any plain Go) value's shape; GenerateFromMetadata
// synthesizes a same-shaped value with every function replaced by a no-op
// MockFunction and every plain value replaced by a shallow copy, the way
// Jest's automock turns a real module's exports into mock exports.
package mockmeta

import "reflect"

// Kind is the structural category Metadata records for one node.
type Kind int

const (
	KindValue Kind = iota
	KindFunction
	KindObject
	KindArray
)

// Metadata is the introspection result for one value. Object/array members
// are recorded as nested *Metadata, and a value that refers back to an
// ancestor (a circular reference) shares that ancestor's *Metadata pointer
// rather than recursing, which is what lets introspection of a cyclic graph
// terminate.
type Metadata struct {
	Kind    Kind
	Value   interface{}          // KindValue: the literal to copy
	Members map[string]*Metadata // KindObject
	Items   []*Metadata          // KindArray
}

// GetMetadata introspects value and returns its structural Metadata, or
// (nil, nil) when value is nil — callers (runtime._generateMock) must treat
// a nil result as fatal, mirroring the source's "getMetadata returning null
// is fatal" contract.
func GetMetadata(value interface{}) (*Metadata, error) {
	if value == nil {
		return nil, nil
	}
	return getMetadata(reflect.ValueOf(value), map[uintptr]*Metadata{})
}

func getMetadata(rv reflect.Value, seen map[uintptr]*Metadata) (*Metadata, error) {
	switch rv.Kind() {
	case reflect.Func:
		return &Metadata{Kind: KindFunction}, nil

	case reflect.Map:
		if rv.IsNil() {
			return &Metadata{Kind: KindValue, Value: nil}, nil
		}
		ptr := rv.Pointer()
		if m, ok := seen[ptr]; ok {
			return m, nil
		}
		m := &Metadata{Kind: KindObject, Members: map[string]*Metadata{}}
		seen[ptr] = m
		iter := rv.MapRange()
		for iter.Next() {
			key := iter.Key()
			child, err := getMetadata(reflect.ValueOf(iter.Value().Interface()), seen)
			if err != nil {
				return nil, err
			}
			m.Members[toStringKey(key)] = child
		}
		return m, nil

	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return &Metadata{Kind: KindValue, Value: nil}, nil
		}
		var ptr uintptr
		if rv.Kind() == reflect.Slice {
			ptr = rv.Pointer()
			if m, ok := seen[ptr]; ok {
				return m, nil
			}
		}
		m := &Metadata{Kind: KindArray}
		if rv.Kind() == reflect.Slice {
			seen[ptr] = m
		}
		for i := 0; i < rv.Len(); i++ {
			child, err := getMetadata(reflect.ValueOf(rv.Index(i).Interface()), seen)
			if err != nil {
				return nil, err
			}
			m.Items = append(m.Items, child)
		}
		return m, nil

	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return &Metadata{Kind: KindValue, Value: nil}, nil
		}
		return getMetadata(rv.Elem(), seen)

	case reflect.Struct:
		m := &Metadata{Kind: KindObject, Members: map[string]*Metadata{}}
		t := rv.Type()
		for i := 0; i < rv.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}
			child, err := getMetadata(rv.Field(i), seen)
			if err != nil {
				return nil, err
			}
			m.Members[field.Name] = child
		}
		return m, nil

	default:
		return &Metadata{Kind: KindValue, Value: safeInterface(rv)}, nil
	}
}

func safeInterface(rv reflect.Value) interface{} {
	if !rv.IsValid() || !rv.CanInterface() {
		return nil
	}
	return rv.Interface()
}

func toStringKey(v reflect.Value) string {
	if v.Kind() == reflect.String {
		return v.String()
	}
	return sprintKey(v)
}

// sprintKey avoids pulling in fmt just for the rare non-string map key.
func sprintKey(v reflect.Value) string {
	type stringer interface{ String() string }
	if s, ok := v.Interface().(stringer); ok {
		return s.String()
	}
	return "<key>"
}

// GenerateFromMetadata synthesizes a value matching meta's shape: functions
// become fresh no-op MockFunctions, objects/arrays are rebuilt recursively
// (a cyclic Metadata graph produces a cyclic result, using the same
// allocate-then-populate trick GetMetadata uses to terminate), and plain
// values are copied as-is.
func GenerateFromMetadata(meta *Metadata) (interface{}, error) {
	if meta == nil {
		return nil, nil
	}
	return generate(meta, map[*Metadata]interface{}{})
}

func generate(meta *Metadata, seen map[*Metadata]interface{}) (interface{}, error) {
	if existing, ok := seen[meta]; ok {
		return existing, nil
	}
	switch meta.Kind {
	case KindFunction:
		fn := NewMockFunction(nil)
		seen[meta] = fn
		return fn, nil

	case KindObject:
		out := make(map[string]interface{}, len(meta.Members))
		seen[meta] = out
		for k, child := range meta.Members {
			v, err := generate(child, seen)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil

	case KindArray:
		out := make([]interface{}, len(meta.Items))
		seen[meta] = out
		for i, child := range meta.Items {
			v, err := generate(child, seen)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil

	default:
		return meta.Value, nil
	}
}

// MockFunction is the automatically generated stand-in for any real
// function: it records every call and, unless given an Impl, returns
// nothing. Tests can install an Impl or inspect Calls the way Jest tests
// inspect `fn.mock.calls`.
type MockFunction struct {
	Impl  func(args ...interface{}) (interface{}, error)
	Calls [][]interface{}
}

// NewMockFunction returns a MockFunction, optionally wrapping impl.
func NewMockFunction(impl func(args ...interface{}) (interface{}, error)) *MockFunction {
	return &MockFunction{Impl: impl}
}

// Call records args and, if an Impl is installed, delegates to it.
func (f *MockFunction) Call(args ...interface{}) (interface{}, error) {
	f.Calls = append(f.Calls, args)
	if f.Impl == nil {
		return nil, nil
	}
	return f.Impl(args...)
}

// MockClear resets recorded calls without touching the installed Impl,
// matching jest.fn().mockClear() semantics.
func (f *MockFunction) MockClear() {
	f.Calls = nil
}

// IsMockFunction reports whether v is a *MockFunction.
func IsMockFunction(v interface{}) bool {
	_, ok := v.(*MockFunction)
	return ok
}
