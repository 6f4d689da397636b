package codec

import (
	"fmt"
	"reflect"
)

// TypeCodec serializes and reconstructs instances of one registered
// struct type. The type's identity on the wire is its (Module, Name)
// global reference.
type TypeCodec struct {
	Module string
	Name   string

	// Encode decomposes a value into its serialized parts.
	Encode func(v any) ([]any, error)
	// Decode rebuilds a value from decoded parts.
	Decode func(parts []any) (any, error)
}

type globalKey struct {
	module, name string
}

var (
	typesByGo      = map[reflect.Type]*TypeCodec{}
	globalsByName  = map[globalKey]any{}
	globalsByValue = map[any]Global{}
)

// RegisterType registers a struct codec for sample's dynamic type.
// Intended to be called from init functions; registration is not
// synchronized.
func RegisterType(sample any, c *TypeCodec) {
	rt := reflect.TypeOf(sample)
	if _, dup := typesByGo[rt]; dup {
		panic(fmt.Sprintf("codec: duplicate type registration for %v", rt))
	}
	typesByGo[rt] = c
	registerName(c.Module, c.Name, c)
}

// RegisterGlobal whitelists a named top-level value. Serializing the
// value (when comparable) emits a reference; deserializing the reference
// looks the value up again.
func RegisterGlobal(module, name string, v any) {
	registerName(module, name, v)
	if v != nil && reflect.TypeOf(v).Comparable() {
		globalsByValue[v] = Global{Module: module, Name: name}
	}
}

func registerName(module, name string, v any) {
	k := globalKey{module, name}
	if _, dup := globalsByName[k]; dup {
		panic(fmt.Sprintf("codec: duplicate global registration for %s.%s", module, name))
	}
	globalsByName[k] = v
}

// findGlobal returns the Global reference for a whitelisted value.
func findGlobal(v any) (Global, bool) {
	if v == nil || !reflect.TypeOf(v).Comparable() {
		return Global{}, false
	}
	g, ok := globalsByValue[v]
	return g, ok
}

// resolveGlobal returns the registered value for a decoded reference.
func resolveGlobal(module, name string) (any, error) {
	v, ok := globalsByName[globalKey{module, name}]
	if !ok {
		return nil, fmt.Errorf("global %s.%s is not registered: %w", module, name, ErrUnknownType)
	}
	return v, nil
}

func typeCodecFor(v any) *TypeCodec {
	return typesByGo[reflect.TypeOf(v)]
}
