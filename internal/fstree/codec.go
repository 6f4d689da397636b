package fstree

import (
	"fmt"

	"github.com/javanhut/muninn/internal/codec"
)

// Serialization of the filesystem values. Blob needs no registration: it
// serializes as a transparent byte leaf through codec.Leafer. Trees
// serialize as their name mapping's canonical encoding, so construction
// order never reaches the digest.
func init() {
	codec.RegisterType(&Tree{}, &codec.TypeCodec{
		Module: "fstree",
		Name:   "Tree",
		Encode: func(v any) ([]any, error) {
			t := v.(*Tree)
			names := make([]any, len(t.entries))
			children := make([]any, len(t.entries))
			for i, e := range t.entries {
				names[i] = e.Name
				children[i] = e.Node
			}
			return []any{codec.List(names), codec.List(children)}, nil
		},
		Decode: func(parts []any) (any, error) {
			if len(parts) != 2 {
				return nil, fmt.Errorf("tree has %d parts, want 2", len(parts))
			}
			names, ok1 := parts[0].(codec.List)
			children, ok2 := parts[1].(codec.List)
			if !ok1 || !ok2 || len(names) != len(children) {
				return nil, fmt.Errorf("malformed tree parts")
			}
			entries := make([]Entry, len(names))
			for i := range names {
				name, ok := names[i].(string)
				if !ok {
					return nil, fmt.Errorf("tree entry name is %T, want string", names[i])
				}
				node, err := nodeFromValue(children[i])
				if err != nil {
					return nil, fmt.Errorf("tree entry %q: %w", name, err)
				}
				entries[i] = Entry{Name: name, Node: node}
			}
			return FromEntries(entries)
		},
	})

	codec.RegisterType(&XBlob{}, &codec.TypeCodec{
		Module: "fstree",
		Name:   "XBlob",
		Encode: func(v any) ([]any, error) {
			x := v.(*XBlob)
			if b, ok := x.bytes(); ok {
				return []any{b}, nil
			}
			// Content lives in the store; a plain blob part carries the
			// same leaf digest without loading the bytes.
			blob, err := BlobFromSig(x.contentSig())
			if err != nil {
				return nil, err
			}
			return []any{blob}, nil
		},
		Decode: func(parts []any) (any, error) {
			if len(parts) != 1 {
				return nil, fmt.Errorf("xblob has %d parts, want 1", len(parts))
			}
			b, ok := parts[0].([]byte)
			if !ok {
				return nil, fmt.Errorf("xblob part is %T, want bytes", parts[0])
			}
			return NewXBlob(b), nil
		},
	})

	codec.RegisterType(Path{}, &codec.TypeCodec{
		Module: "fstree",
		Name:   "Path",
		Encode: func(v any) ([]any, error) {
			p := v.(Path)
			if p.root == RootGen {
				return nil, fmt.Errorf("%s: %w", p, ErrRulePath)
			}
			if p.root == rootTree {
				return []any{p.tree, p.rel}, nil
			}
			return []any{p.root.String(), p.rel}, nil
		},
		Decode: func(parts []any) (any, error) {
			if len(parts) != 2 {
				return nil, fmt.Errorf("path has %d parts, want 2", len(parts))
			}
			rel, ok := parts[1].(string)
			if !ok {
				return nil, fmt.Errorf("path rel is %T, want string", parts[1])
			}
			switch r := parts[0].(type) {
			case string:
				root, err := rootFromTag(r)
				if err != nil {
					return nil, err
				}
				return NewPath(root, rel)
			case *Tree:
				return r.Path(rel), nil
			default:
				return nil, fmt.Errorf("path root is %T, want string or tree", parts[0])
			}
		},
	})
}

// nodeFromValue lifts a decoded child value back into a tree node. Plain
// blobs come back as raw bytes because they serialize transparently.
func nodeFromValue(v any) (Node, error) {
	switch c := v.(type) {
	case []byte:
		return NewBlob(c), nil
	case *XBlob:
		return c, nil
	case *Tree:
		return c, nil
	default:
		return nil, fmt.Errorf("unexpected tree child type %T", v)
	}
}
