// Package codec implements canonical value serialization for the
// content-addressable store.
//
// A value serializes to a compound digest whose body is the concatenation
// of sub-digests: the first names the value's type (a short byte key for
// built-in types, a global reference for registered struct types), the
// rest are the value's parts. Byte strings are the one leaf type; their
// digest is the digest of the raw bytes. Short values are encoded
// entirely inside their digest, so decoding them needs no store lookup.
//
// Supported built-in values: nil, bool, int/int64, string, []byte, List,
// Tuple, Map, sig.Sig, Global references, ModuleRef and FuncVal. Struct
// types are added through RegisterType, globals through RegisterGlobal.
package codec

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/javanhut/muninn/internal/sig"
)

// ErrUnknownType is reported when a value cannot be serialized or a type
// key cannot be resolved during deserialization.
var ErrUnknownType = errors.New("unknown value type")

// List is an ordered sequence (type key "L"). A plain []any also encodes
// as a List.
type List []any

// Tuple is an ordered, fixed-shape sequence (type key "T").
type Tuple []any

// Map is a mapping with canonically sorted keys (type key "D"). Build
// through NewMap or MapOf so the key order is canonical; two maps with
// equal contents share a digest regardless of construction order.
type Map struct {
	Keys []any
	Vals []any
}

// NewMap builds a Map from parallel key/value slices, sorting the pairs
// into canonical order: all-string keys sort by UTF-8 byte order, any
// other key mix sorts by the keys' canonical digest bytes.
func NewMap(keys, vals []any) (Map, error) {
	if len(keys) != len(vals) {
		return Map{}, fmt.Errorf("map has %d keys but %d values", len(keys), len(vals))
	}
	ks := append([]any(nil), keys...)
	vs := append([]any(nil), vals...)
	if err := sortPairs(ks, vs); err != nil {
		return Map{}, err
	}
	return Map{Keys: ks, Vals: vs}, nil
}

// MapOf builds a canonical Map from a string-keyed map.
func MapOf(m map[string]any) Map {
	keys := make([]any, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	vals := make([]any, len(keys))
	out, _ := NewMap(keys, vals)
	for i, k := range out.Keys {
		out.Vals[i] = m[k.(string)]
	}
	return out
}

// Len returns the number of entries.
func (m Map) Len() int { return len(m.Keys) }

// Get returns the value stored under a string key.
func (m Map) Get(key string) (any, bool) {
	for i, k := range m.Keys {
		if s, ok := k.(string); ok && s == key {
			return m.Vals[i], true
		}
	}
	return nil, false
}

// GlobalObj is the singleton identifying the global-reference type itself
// (type key "G").
type GlobalObj struct{}

// Global is a by-name reference to a whitelisted top-level value. It
// serializes as (G, module, name) and deserializes by registry lookup.
type Global struct {
	Module string
	Name   string
}

// ModuleRef is a by-name reference to a module (type key "M").
type ModuleRef string

// FuncVal is the serialized identity of a memoized function: an explicit
// (module, name, version) triple under type key "F". Hashing compiled
// code is not portable, so rule authors version functions explicitly;
// rule modules default the version to their BUILD file digest.
type FuncVal struct {
	Module  string
	Name    string
	Version string
}

// Signed is implemented by values that cache their own digest.
type Signed interface {
	CachedSig() (sig.Sig, bool)
	CacheSig(sig.Sig)
}

// Leafer is implemented by values that serialize as a raw byte leaf
// rather than a compound (e.g. blobs, which must share their content's
// digest).
type Leafer interface {
	LeafBytes() ([]byte, error)
}

// Sink receives long bodies during a storing encode. *cas.Store
// implements it.
type Sink interface {
	Put(h sig.Sig, body []byte) error
	Has(h sig.Sig) (bool, error)
}

// Source supplies long bodies during decode. *cas.Store implements it.
type Source interface {
	Get(h sig.Sig) ([]byte, error)
}

// intBytes encodes i as minimal-length little-endian two's complement:
// zero encodes as no bytes, other values keep their sign bit.
func intBytes(i int64) []byte {
	if i == 0 {
		return nil
	}
	var bl int
	if i > 0 {
		bl = bits.Len64(uint64(i))
	} else {
		bl = bits.Len64(uint64(-(i + 1)))
	}
	n := bl/8 + 1
	out := make([]byte, n)
	u := uint64(i)
	for k := 0; k < n; k++ {
		out[k] = byte(u)
		u >>= 8
	}
	return out
}

func intFromBytes(b []byte) (int64, error) {
	if len(b) > 8 {
		return 0, fmt.Errorf("integer of %d bytes overflows int64", len(b))
	}
	if len(b) == 0 {
		return 0, nil
	}
	var u uint64
	for i := len(b) - 1; i >= 0; i-- {
		u = u<<8 | uint64(b[i])
	}
	if b[len(b)-1]&0x80 != 0 && len(b) < 8 {
		u |= ^uint64(0) << (8 * len(b))
	}
	return int64(u), nil
}
