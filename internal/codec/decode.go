package codec

import (
	"fmt"

	"github.com/javanhut/muninn/internal/sig"
)

// Decode reconstructs the value identified by h. Short digests decode
// from the identifier alone; long digests fetch their body from src.
func Decode(src Source, h sig.Sig) (any, error) {
	body, ok := h.Body()
	if !ok {
		if src == nil {
			return nil, fmt.Errorf("cannot decode long digest %s without a store", h)
		}
		var err error
		body, err = src.Get(h)
		if err != nil {
			return nil, err
		}
	}
	if !h.IsCompound() {
		out := make([]byte, len(body))
		copy(out, body)
		return out, nil
	}

	subs, err := sig.Hsplit(body)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, fmt.Errorf("compound digest %s has no type key", h)
	}
	objs := make([]any, len(subs))
	for i, s := range subs {
		objs[i], err = Decode(src, s)
		if err != nil {
			return nil, err
		}
	}

	parts := objs[1:]
	switch key := objs[0].(type) {
	case []byte:
		return decodeBuiltin(string(key), parts)
	case GlobalObj:
		// The value is itself a global reference; resolve it.
		m, n, err := twoNames(parts)
		if err != nil {
			return nil, err
		}
		return resolveGlobal(m, n)
	case *TypeCodec:
		return key.Decode(parts)
	default:
		return nil, fmt.Errorf("compound digest %s has type key %T: %w", h, objs[0], ErrUnknownType)
	}
}

func decodeBuiltin(key string, parts []any) (any, error) {
	switch key {
	case "":
		return nil, nil
	case "f":
		return false, nil
	case "t":
		return true, nil
	case "G":
		return GlobalObj{}, nil
	case "i":
		b, err := onePart(parts)
		if err != nil {
			return nil, err
		}
		return intFromBytes(b)
	case "s":
		b, err := onePart(parts)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case "L":
		return List(parts), nil
	case "T":
		return Tuple(parts), nil
	case "D":
		if len(parts) != 2 {
			return nil, fmt.Errorf("mapping has %d parts, want 2", len(parts))
		}
		ks, ok1 := parts[0].(List)
		vs, ok2 := parts[1].(List)
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("mapping parts are %T/%T, want lists", parts[0], parts[1])
		}
		if len(ks) != len(vs) {
			return nil, fmt.Errorf("mapping has %d keys but %d values", len(ks), len(vs))
		}
		// Keys were sorted when encoded; keep them as stored.
		return Map{Keys: []any(ks), Vals: []any(vs)}, nil
	case "S":
		b, err := onePart(parts)
		if err != nil {
			return nil, err
		}
		return sig.FromBytes(b)
	case "M":
		b, err := onePart(parts)
		if err != nil {
			return nil, err
		}
		return ModuleRef(b), nil
	case "F":
		if len(parts) != 3 {
			return nil, fmt.Errorf("function identity has %d parts, want 3", len(parts))
		}
		m, okM := parts[0].([]byte)
		n, okN := parts[1].([]byte)
		ver, okV := parts[2].([]byte)
		if !okM || !okN || !okV {
			return nil, fmt.Errorf("function identity parts must be bytes")
		}
		return FuncVal{Module: string(m), Name: string(n), Version: string(ver)}, nil
	default:
		return nil, fmt.Errorf("type key %q: %w", key, ErrUnknownType)
	}
}

func onePart(parts []any) ([]byte, error) {
	if len(parts) != 1 {
		return nil, fmt.Errorf("value has %d parts, want 1", len(parts))
	}
	b, ok := parts[0].([]byte)
	if !ok {
		return nil, fmt.Errorf("value part is %T, want bytes", parts[0])
	}
	return b, nil
}

func twoNames(parts []any) (string, string, error) {
	if len(parts) != 2 {
		return "", "", fmt.Errorf("global reference has %d parts, want 2", len(parts))
	}
	m, okM := parts[0].([]byte)
	n, okN := parts[1].([]byte)
	if !okM || !okN {
		return "", "", fmt.Errorf("global reference parts must be bytes")
	}
	return string(m), string(n), nil
}
