// Package fstree implements the typed filesystem values layered over the
// content-addressable store: Blob (immutable bytes), XBlob (executable
// blob), Tree (ordered name to node mapping) and Path (root-relative
// symbolic location), together with their on-demand materialization.
package fstree

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/javanhut/muninn/internal/cas"
	"github.com/javanhut/muninn/internal/sig"
)

// ErrNotFound is returned when a tree has no entry at a requested path.
var ErrNotFound = errors.New("no such tree entry")

// Node is a filesystem value: *Blob, *XBlob or *Tree.
type Node interface {
	nodeKind() cas.Kind
}

type blobData struct {
	content []byte
	leaf    sig.Sig
}

// contentSig returns the content digest, computing it on first use.
func (d *blobData) contentSig() sig.Sig {
	if d.leaf.IsZero() {
		d.leaf = sig.HashBytes(d.content, 0)
	}
	return d.leaf
}

// bytes returns the in-memory content if available. Short digests carry
// their content inline, so blobs built from a short digest qualify too.
func (d *blobData) bytes() ([]byte, bool) {
	if d.content != nil {
		return d.content, true
	}
	if !d.leaf.IsZero() {
		if b, ok := d.leaf.Body(); ok {
			return b, true
		}
	}
	return nil, false
}

// Blob is an immutable byte string with a known content digest. A blob
// hashes exactly as its raw bytes do, so sig(Blob(b)) == sig(b).
type Blob struct {
	blobData
}

// NewBlob creates a blob holding a copy of b.
func NewBlob(b []byte) *Blob {
	return &Blob{blobData{content: append([]byte{}, b...)}}
}

// BlobFromSig creates a blob whose content is identified by h without
// loading it. h must be a leaf digest.
func BlobFromSig(h sig.Sig) (*Blob, error) {
	if h.IsCompound() {
		return nil, fmt.Errorf("blob digest %s must be a leaf", h)
	}
	return &Blob{blobData{leaf: h}}, nil
}

func (b *Blob) nodeKind() cas.Kind { return cas.KindBlob }

// Sig returns the blob's content digest.
func (b *Blob) Sig() sig.Sig { return b.contentSig() }

// CachedSig implements codec.Signed.
func (b *Blob) CachedSig() (sig.Sig, bool) { return b.contentSig(), true }

// CacheSig implements codec.Signed.
func (b *Blob) CacheSig(h sig.Sig) { b.leaf = h }

// LeafBytes implements codec.Leafer: a blob serializes as its raw bytes.
func (b *Blob) LeafBytes() ([]byte, error) {
	if bs, ok := b.bytes(); ok {
		return bs, nil
	}
	return nil, fmt.Errorf("blob %s content is not loaded", b.leaf)
}

// XBlob is a blob with executable mode bits. Unlike Blob it serializes as
// a tagged struct so executability survives a store round trip.
type XBlob struct {
	blobData
	sum sig.Sig // struct digest cache
}

// NewXBlob creates an executable blob holding a copy of b.
func NewXBlob(b []byte) *XBlob {
	return &XBlob{blobData: blobData{content: append([]byte{}, b...)}}
}

// XBlobFromSig creates an executable blob whose content is identified by
// the leaf digest h.
func XBlobFromSig(h sig.Sig) (*XBlob, error) {
	if h.IsCompound() {
		return nil, fmt.Errorf("blob digest %s must be a leaf", h)
	}
	return &XBlob{blobData: blobData{leaf: h}}, nil
}

func (x *XBlob) nodeKind() cas.Kind { return cas.KindXBlob }

// ContentSig returns the digest of the executable's raw bytes.
func (x *XBlob) ContentSig() sig.Sig { return x.contentSig() }

// CachedSig implements codec.Signed for the struct digest.
func (x *XBlob) CachedSig() (sig.Sig, bool) {
	if x.sum.IsZero() {
		return sig.Sig{}, false
	}
	return x.sum, true
}

// CacheSig implements codec.Signed.
func (x *XBlob) CacheSig(h sig.Sig) { x.sum = h }

// Entry is a single named child of a Tree.
type Entry struct {
	Name string
	Node Node
}

// Tree is an immutable ordered mapping from name to Blob, XBlob or Tree.
// Entries are kept sorted by name so two trees with equal contents share
// a digest regardless of construction order.
type Tree struct {
	entries []Entry
	sum     sig.Sig
}

// validateName checks a tree entry name: non-empty, no path separator,
// and not one of the dot names.
func validateName(name string) error {
	if name == "" {
		return errors.New("empty entry name")
	}
	if name == "." || name == ".." {
		return fmt.Errorf("invalid entry name: %q", name)
	}
	if strings.Contains(name, "/") {
		return fmt.Errorf("entry name cannot contain path separator: %q", name)
	}
	return nil
}

// NewTree builds a tree from a name-to-node map.
func NewTree(entries map[string]Node) (*Tree, error) {
	es := make([]Entry, 0, len(entries))
	for name, n := range entries {
		es = append(es, Entry{Name: name, Node: n})
	}
	sort.Slice(es, func(i, j int) bool { return es[i].Name < es[j].Name })
	return FromEntries(es)
}

// FromEntries builds a tree from sorted entries, validating names,
// ordering and uniqueness.
func FromEntries(entries []Entry) (*Tree, error) {
	for i, e := range entries {
		if err := validateName(e.Name); err != nil {
			return nil, err
		}
		if e.Node == nil {
			return nil, fmt.Errorf("entry %q has no node", e.Name)
		}
		if i > 0 && entries[i-1].Name >= e.Name {
			return nil, fmt.Errorf("entries not sorted: %q before %q", entries[i-1].Name, e.Name)
		}
	}
	return &Tree{entries: append([]Entry{}, entries...)}, nil
}

func (t *Tree) nodeKind() cas.Kind { return cas.KindTree }

// Len returns the number of entries.
func (t *Tree) Len() int { return len(t.entries) }

// Entries returns the entries in name order.
func (t *Tree) Entries() []Entry { return append([]Entry{}, t.entries...) }

// Get returns the child stored under name.
func (t *Tree) Get(name string) (Node, bool) {
	i := sort.Search(len(t.entries), func(i int) bool { return t.entries[i].Name >= name })
	if i < len(t.entries) && t.entries[i].Name == name {
		return t.entries[i].Node, true
	}
	return nil, false
}

// Resolve walks a '/'-separated relative path and returns the node there.
func (t *Tree) Resolve(rel string) (Node, error) {
	rel = path.Clean(rel)
	if rel == "." || rel == "" {
		return t, nil
	}
	var cur Node = t
	for _, part := range strings.Split(rel, "/") {
		sub, ok := cur.(*Tree)
		if !ok {
			return nil, fmt.Errorf("%s: %w", rel, ErrNotFound)
		}
		next, ok := sub.Get(part)
		if !ok {
			return nil, fmt.Errorf("%s: %w", rel, ErrNotFound)
		}
		cur = next
	}
	return cur, nil
}

// Pick returns a new tree holding only the named top-level entries.
func (t *Tree) Pick(names ...string) (*Tree, error) {
	es := make([]Entry, 0, len(names))
	for _, name := range names {
		n, ok := t.Get(name)
		if !ok {
			return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		es = append(es, Entry{Name: name, Node: n})
	}
	sort.Slice(es, func(i, j int) bool { return es[i].Name < es[j].Name })
	return FromEntries(es)
}

// Path returns a lazy tree-rooted path below this tree.
func (t *Tree) Path(rel string) Path {
	return Path{root: rootTree, tree: t, rel: normRel(rel)}
}

// CachedSig implements codec.Signed.
func (t *Tree) CachedSig() (sig.Sig, bool) {
	if t.sum.IsZero() {
		return sig.Sig{}, false
	}
	return t.sum, true
}

// CacheSig implements codec.Signed.
func (t *Tree) CacheSig(h sig.Sig) { t.sum = h }
