package fstree

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
)

// ErrRulePath reports a rule error: an attempt to use a generated path
// where a deterministic input is required.
var ErrRulePath = errors.New("generated path cannot be used as an input")

// Root names a configured directory a Path is relative to.
type Root uint8

const (
	// RootAbs is an absolute path outside of the build tree.
	RootAbs Root = iota + 1
	// RootSrc is the read-only source root.
	RootSrc
	// RootGen is the scratch root for tool output directories.
	RootGen
	// RootOut is the final artifact root.
	RootOut
	// RootCas is the object store root.
	RootCas

	// rootTree marks a path relative to an in-memory Tree.
	rootTree
)

// String returns the root's stable tag, which is what gets hashed.
func (r Root) String() string {
	switch r {
	case RootAbs:
		return "abs"
	case RootSrc:
		return "src_root"
	case RootGen:
		return "gen_root"
	case RootOut:
		return "out_root"
	case RootCas:
		return "cas_root"
	case rootTree:
		return "tree"
	default:
		return fmt.Sprintf("root(%d)", uint8(r))
	}
}

func rootFromTag(tag string) (Root, error) {
	for _, r := range []Root{RootAbs, RootSrc, RootGen, RootOut, RootCas} {
		if r.String() == tag {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown path root %q", tag)
}

func normRel(rel string) string {
	rel = path.Clean(rel)
	if rel == "." {
		return ""
	}
	return rel
}

// Path is a symbolic location: a root plus a '/'-separated relative path.
// The choice of root is part of the path's digest; the root's on-disk
// location and the contents of the file there are not.
type Path struct {
	root Root
	tree *Tree
	rel  string
}

// NewPath creates a path under root. rel must be absolute exactly when
// root is RootAbs.
func NewPath(root Root, rel string) (Path, error) {
	if root == RootAbs {
		if !filepath.IsAbs(rel) {
			return Path{}, fmt.Errorf("path %q under abs root must be absolute", rel)
		}
		return Path{root: root, rel: filepath.Clean(rel)}, nil
	}
	if path.IsAbs(rel) {
		return Path{}, fmt.Errorf("path %q under %s must be relative", rel, root)
	}
	return Path{root: root, rel: normRel(rel)}, nil
}

// Root returns the path's root.
func (p Path) Root() Root { return p.root }

// Rel returns the root-relative part.
func (p Path) Rel() string { return p.rel }

// TreeRoot returns the tree a tree-rooted path hangs off, or nil.
func (p Path) TreeRoot() *Tree { return p.tree }

// Join appends a component, normalizing on POSIX rules (native rules for
// absolute paths).
func (p Path) Join(rel string) Path {
	out := p
	if p.root == RootAbs {
		out.rel = filepath.Join(p.rel, rel)
	} else {
		out.rel = normRel(path.Join(p.rel, rel))
	}
	return out
}

func (p Path) String() string {
	if p.root == rootTree {
		return "{tree}/" + p.rel
	}
	if p.root == RootAbs {
		return p.rel
	}
	if p.rel == "" {
		return "{" + p.root.String() + "}"
	}
	return "{" + p.root.String() + "}/" + p.rel
}
