package fstree

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/javanhut/muninn/internal/cas"
	"github.com/javanhut/muninn/internal/codec"
	"github.com/javanhut/muninn/internal/sig"
)

// Roots holds the configured root directories paths resolve against.
type Roots struct {
	Src string
	Gen string
	Out string
	Cas string
}

// FS materializes filesystem values onto a real filesystem and lifts
// on-disk contents back into values. It holds the configured roots and
// the backing store, in the manner of a workspace materializer.
type FS struct {
	roots Roots
	store *cas.Store

	// Canonical tree directories found on disk are validated once per
	// process and remembered here.
	validated map[sig.Sig]struct{}
}

// NewFS creates a materializer over the given roots and store.
func NewFS(roots Roots, st *cas.Store) *FS {
	return &FS{roots: roots, store: st, validated: make(map[sig.Sig]struct{})}
}

// Store returns the backing object store.
func (f *FS) Store() *cas.Store { return f.store }

// RootDir returns the configured directory for a root.
func (f *FS) RootDir(r Root) (string, error) {
	switch r {
	case RootSrc:
		return f.roots.Src, nil
	case RootGen:
		return f.roots.Gen, nil
	case RootOut:
		return f.roots.Out, nil
	case RootCas:
		return f.roots.Cas, nil
	default:
		return "", fmt.Errorf("root %s has no configured directory", r)
	}
}

// Abs resolves a path to its absolute location on disk. Tree-rooted paths
// materialize their tree first.
func (f *FS) Abs(p Path) (string, error) {
	if p.root == rootTree {
		dir, err := f.TreePath(p.tree)
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, filepath.FromSlash(p.rel)), nil
	}
	if p.root == RootAbs {
		return filepath.Clean(p.rel), nil
	}
	dir, err := f.RootDir(p.root)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, filepath.FromSlash(p.rel)), nil
}

// Exists reports whether something exists at p.
func (f *FS) Exists(p Path) (bool, error) {
	abs, err := f.Abs(p)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(abs); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// IsFile reports whether p names a regular file.
func (f *FS) IsFile(p Path) (bool, error) {
	abs, err := f.Abs(p)
	if err != nil {
		return false, err
	}
	fi, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return fi.Mode().IsRegular(), nil
}

// IsDir reports whether p names a directory.
func (f *FS) IsDir(p Path) (bool, error) {
	abs, err := f.Abs(p)
	if err != nil {
		return false, err
	}
	fi, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return fi.IsDir(), nil
}

// Remove recursively deletes p. Only paths under the gen and out roots
// may be removed.
func (f *FS) Remove(p Path) error {
	if p.root != RootGen && p.root != RootOut {
		return fmt.Errorf("refusing to remove %s: only gen and out paths may be removed", p)
	}
	abs, err := f.Abs(p)
	if err != nil {
		return err
	}
	return os.RemoveAll(abs)
}

// Scan lifts the current on-disk contents at p into a value: a Tree for
// a directory, a Blob or XBlob for a file. Leaf contents are copied into
// the store as a side effect.
func (f *FS) Scan(p Path) (Node, error) {
	abs, err := f.Abs(p)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	return f.scan(abs, fi)
}

func (f *FS) scan(abs string, fi os.FileInfo) (Node, error) {
	if fi.IsDir() {
		return f.scanDir(abs)
	}
	h, err := f.store.StoreFile(abs, fi)
	if err != nil {
		return nil, err
	}
	if fi.Mode()&0111 != 0 {
		return XBlobFromSig(h)
	}
	return BlobFromSig(h)
}

func (f *FS) scanDir(abs string) (*Tree, error) {
	ents, err := os.ReadDir(abs)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(ents))
	for _, ent := range ents {
		full := filepath.Join(abs, ent.Name())
		fi, err := os.Stat(full)
		if err != nil {
			return nil, err
		}
		node, err := f.scan(full, fi)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Name: ent.Name(), Node: node})
	}
	return FromEntries(entries)
}

// Bytes returns the content of a blob node, loading it from the store if
// it is not in memory.
func (f *FS) Bytes(n Node) ([]byte, error) {
	d, _, err := blobOf(n)
	if err != nil {
		return nil, err
	}
	if b, ok := d.bytes(); ok {
		return append([]byte{}, b...), nil
	}
	return f.store.Get(d.contentSig())
}

func blobOf(n Node) (*blobData, cas.Kind, error) {
	switch b := n.(type) {
	case *Blob:
		return &b.blobData, cas.KindBlob, nil
	case *XBlob:
		return &b.blobData, cas.KindXBlob, nil
	default:
		return nil, "", fmt.Errorf("node is a %s, not a blob", n.nodeKind())
	}
}

// BlobPath returns a filesystem path to a read-only file whose bytes are
// the blob's content, materializing it under the store root if needed.
func (f *FS) BlobPath(n Node) (string, error) {
	d, kind, err := blobOf(n)
	if err != nil {
		return "", err
	}
	h := d.contentSig()
	dst, err := f.store.ObjectPath(h, kind)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(dst); err == nil {
		return dst, nil
	}
	body, ok := d.bytes()
	if !ok {
		body, err = f.store.Get(h)
		if err != nil {
			return "", err
		}
	}
	return f.store.WriteObject(h, kind, body)
}

// TreePath returns a filesystem path to a directory mirroring the tree,
// materializing it under the store root if needed. An existing canonical
// directory is trusted after a once-per-process entry check. A failed
// build leaves no partially-populated canonical directory behind.
func (f *FS) TreePath(t *Tree) (string, error) {
	h, err := codec.SigOf(t)
	if err != nil {
		return "", err
	}
	dst, err := f.store.ObjectPath(h, cas.KindTree)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(dst); err == nil {
		if _, ok := f.validated[h]; !ok {
			if err := validateTreeDir(dst, t); err != nil {
				return "", err
			}
			f.validated[h] = struct{}{}
		}
		return dst, nil
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return "", err
	}
	tmp, err := os.MkdirTemp(filepath.Dir(dst), ".tmp-")
	if err != nil {
		return "", err
	}
	if err := f.populateTreeDir(tmp, t); err != nil {
		os.RemoveAll(tmp)
		return "", err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.RemoveAll(tmp)
		if _, serr := os.Stat(dst); serr == nil {
			// Someone beat us to it; the canonical dir is content-named.
			f.validated[h] = struct{}{}
			return dst, nil
		}
		return "", err
	}
	f.validated[h] = struct{}{}
	return dst, nil
}

func (f *FS) populateTreeDir(dir string, t *Tree) error {
	for _, e := range t.entries {
		at := filepath.Join(dir, e.Name)
		switch child := e.Node.(type) {
		case *Tree:
			target, err := f.TreePath(child)
			if err != nil {
				return err
			}
			if err := os.Symlink(target, at); err != nil {
				return err
			}
		default:
			target, err := f.BlobPath(child)
			if err != nil {
				return err
			}
			if err := os.Link(target, at); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateTreeDir(dir string, t *Tree) error {
	for _, e := range t.entries {
		if _, err := os.Lstat(filepath.Join(dir, e.Name)); err != nil {
			return fmt.Errorf("materialized tree %s is missing entry %q: %w", dir, e.Name, err)
		}
	}
	return nil
}

// MakeOutputDir creates a fresh empty directory with a random 12-hex-char
// name under the gen root and returns its path. Collisions retry with a
// new name.
func (f *FS) MakeOutputDir() (Path, error) {
	for attempt := 0; attempt < 100; attempt++ {
		var b [6]byte
		if _, err := rand.Read(b[:]); err != nil {
			return Path{}, err
		}
		hx := hex.EncodeToString(b[:])
		rel := hx[:2] + "/" + hx[2:]
		abs := filepath.Join(f.roots.Gen, hx[:2], hx[2:])
		if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
			return Path{}, err
		}
		if err := os.Mkdir(abs, 0755); err != nil {
			if os.IsExist(err) {
				continue
			}
			return Path{}, err
		}
		return NewPath(RootGen, rel)
	}
	return Path{}, fmt.Errorf("could not create a fresh output directory")
}

// WriteCopy writes a fresh deep copy of a node at dst (never a link).
// clobber replaces existing files and merges into existing directories;
// makedirs creates missing parent directories.
func (f *FS) WriteCopy(n Node, dst string, clobber, makedirs bool) error {
	if makedirs {
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return err
		}
	}
	switch node := n.(type) {
	case *Tree:
		fi, err := os.Stat(dst)
		switch {
		case err == nil && fi.IsDir():
			if !clobber {
				return fmt.Errorf("%s already exists", dst)
			}
		case err == nil:
			if !clobber {
				return fmt.Errorf("%s already exists", dst)
			}
			if err := os.RemoveAll(dst); err != nil {
				return err
			}
			if err := os.Mkdir(dst, 0755); err != nil {
				return err
			}
		case os.IsNotExist(err):
			if err := os.Mkdir(dst, 0755); err != nil {
				return err
			}
		default:
			return err
		}
		for _, e := range node.entries {
			if err := f.WriteCopy(e.Node, filepath.Join(dst, e.Name), clobber, false); err != nil {
				return err
			}
		}
		return nil
	default:
		if _, err := os.Lstat(dst); err == nil {
			if !clobber {
				return fmt.Errorf("%s already exists", dst)
			}
			if err := os.RemoveAll(dst); err != nil {
				return err
			}
		}
		body, err := f.Bytes(n)
		if err != nil {
			return err
		}
		mode := os.FileMode(0644)
		if n.nodeKind() == cas.KindXBlob {
			mode = 0755
		}
		return os.WriteFile(dst, body, mode)
	}
}
