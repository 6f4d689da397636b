package codec

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/javanhut/muninn/internal/sig"
)

// SigOf computes the canonical digest of v without persisting anything.
func SigOf(v any) (sig.Sig, error) {
	return encodeVal(nil, v)
}

// Encode computes the digest of v and persists every long body (compound
// bodies and long byte leaves) into st, so the value can later be rebuilt
// from its digest alone.
func Encode(st Sink, v any) (sig.Sig, error) {
	return encodeVal(st, v)
}

func encodeVal(st Sink, v any) (sig.Sig, error) {
	if sv, ok := v.(Signed); ok {
		if h, ok := sv.CachedSig(); ok {
			if st == nil {
				return h, nil
			}
			if has, err := st.Has(h); err != nil {
				return sig.Sig{}, err
			} else if has {
				return h, nil
			}
		}
	}

	// Leaf byte values: the digest is the digest of the raw bytes.
	if b, ok := leafBytes(v); ok {
		h := sig.HashBytes(b, 0)
		if st != nil && h.IsLong() {
			if err := st.Put(h, b); err != nil {
				return sig.Sig{}, err
			}
		}
		if sv, ok := v.(Signed); ok {
			sv.CacheSig(h)
		}
		return h, nil
	}
	if l, ok := v.(Leafer); ok {
		b, err := l.LeafBytes()
		if err != nil {
			return sig.Sig{}, err
		}
		h := sig.HashBytes(b, 0)
		if st != nil && h.IsLong() {
			if err := st.Put(h, b); err != nil {
				return sig.Sig{}, err
			}
		}
		if sv, ok := v.(Signed); ok {
			sv.CacheSig(h)
		}
		return h, nil
	}

	key, parts, err := serialize(v)
	if err != nil {
		return sig.Sig{}, err
	}
	sigs := make([]sig.Sig, 0, len(parts)+1)
	ks, err := encodeVal(st, key)
	if err != nil {
		return sig.Sig{}, err
	}
	sigs = append(sigs, ks)
	for _, p := range parts {
		ps, err := encodeVal(st, p)
		if err != nil {
			return sig.Sig{}, err
		}
		sigs = append(sigs, ps)
	}
	body, h := sig.Hcat(sigs...)
	if st != nil && h.IsLong() {
		if err := st.Put(h, body); err != nil {
			return sig.Sig{}, err
		}
	}
	if sv, ok := v.(Signed); ok {
		sv.CacheSig(h)
	}
	return h, nil
}

func leafBytes(v any) ([]byte, bool) {
	b, ok := v.([]byte)
	return b, ok
}

// serialize decomposes v into its type key (a []byte for built-in types,
// a Global or GlobalObj for referenced types) and its parts.
func serialize(v any) (key any, parts []any, err error) {
	switch x := v.(type) {
	case nil:
		return []byte(""), nil, nil
	case bool:
		if x {
			return []byte("t"), nil, nil
		}
		return []byte("f"), nil, nil
	case GlobalObj:
		return []byte("G"), nil, nil
	case Global:
		return GlobalObj{}, []any{[]byte(x.Module), []byte(x.Name)}, nil
	case int:
		return []byte("i"), []any{intBytes(int64(x))}, nil
	case int64:
		return []byte("i"), []any{intBytes(x)}, nil
	case string:
		return []byte("s"), []any{[]byte(x)}, nil
	case List:
		return []byte("L"), []any(x), nil
	case []any:
		return []byte("L"), x, nil
	case Tuple:
		return []byte("T"), []any(x), nil
	case Map:
		ks := append([]any(nil), x.Keys...)
		vs := append([]any(nil), x.Vals...)
		if err := sortPairs(ks, vs); err != nil {
			return nil, nil, err
		}
		return []byte("D"), []any{List(ks), List(vs)}, nil
	case sig.Sig:
		return []byte("S"), []any{x.Bytes()}, nil
	case ModuleRef:
		return []byte("M"), []any{[]byte(x)}, nil
	case FuncVal:
		return []byte("F"), []any{[]byte(x.Module), []byte(x.Name), []byte(x.Version)}, nil
	}

	if g, ok := findGlobal(v); ok {
		return GlobalObj{}, []any{[]byte(g.Module), []byte(g.Name)}, nil
	}
	if c := typeCodecFor(v); c != nil {
		parts, err := c.Encode(v)
		if err != nil {
			return nil, nil, err
		}
		return Global{Module: c.Module, Name: c.Name}, parts, nil
	}
	return nil, nil, fmt.Errorf("cannot serialize %T: %w", v, ErrUnknownType)
}

// sortPairs sorts parallel key/value slices into canonical map order.
func sortPairs(keys, vals []any) error {
	if len(keys) < 2 {
		return nil
	}
	allStrings := true
	for _, k := range keys {
		if _, ok := k.(string); !ok {
			allStrings = false
			break
		}
	}
	idx := make([]int, len(keys))
	for i := range idx {
		idx[i] = i
	}
	if allStrings {
		sort.Slice(idx, func(a, b int) bool {
			return keys[idx[a]].(string) < keys[idx[b]].(string)
		})
	} else {
		digests := make([][]byte, len(keys))
		for i, k := range keys {
			h, err := SigOf(k)
			if err != nil {
				return err
			}
			digests[i] = h.Bytes()
		}
		sort.Slice(idx, func(a, b int) bool {
			return bytes.Compare(digests[idx[a]], digests[idx[b]]) < 0
		})
	}
	ks := make([]any, len(keys))
	vs := make([]any, len(vals))
	for out, in := range idx {
		ks[out] = keys[in]
		vs[out] = vals[in]
	}
	copy(keys, ks)
	copy(vals, vs)
	return nil
}
