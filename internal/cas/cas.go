// Package cas implements the persistent content-addressable store.
//
// Long digests map to their serialized bodies in a key-value database
// under cas_root; short digests carry their body inline and are never
// stored. Blob contents can additionally be materialized as read-only
// files under blob/ (regular) or xblob/ (executable), and whole trees
// under tree/, all named by hex digest: the first two hex digits name a
// subdirectory and the remaining digits name the entry inside it.
package cas

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/javanhut/muninn/internal/fscache"
	"github.com/javanhut/muninn/internal/sig"
	"github.com/javanhut/muninn/internal/store"
)

// ErrNotFound is returned when a long digest has no stored body.
var ErrNotFound = errors.New("object not found")

// Kind selects the materialized object directory for a digest.
type Kind string

const (
	KindBlob  Kind = "blob"
	KindXBlob Kind = "xblob"
	KindTree  Kind = "tree"
)

// KindForMode maps a file mode to the object kind it materializes as.
func KindForMode(mode os.FileMode) Kind {
	switch {
	case mode.IsDir():
		return KindTree
	case mode&0111 != 0:
		return KindXBlob
	default:
		return KindBlob
	}
}

// Store is the content-addressable store rooted at a cas_root directory.
// It owns the cas_db body table and the fs_sig_db stat cache.
type Store struct {
	root  string
	db    *store.DB
	cache *fscache.Cache
}

// Open opens (creating if necessary) the store under casRoot.
func Open(casRoot string) (*Store, error) {
	if err := os.MkdirAll(casRoot, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cas root: %w", err)
	}
	db, err := store.Open(filepath.Join(casRoot, "cas_db"), "cas")
	if err != nil {
		return nil, err
	}
	s := &Store{root: casRoot, db: db}
	cache, err := fscache.Open(filepath.Join(casRoot, "fs_sig_db"), s.hashFile)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.cache = cache
	return s, nil
}

// Close closes the underlying databases.
func (s *Store) Close() error {
	cerr := s.cache.Close()
	if err := s.db.Close(); err != nil {
		return err
	}
	return cerr
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

// DB exposes the body table for bulk operations such as pack export.
func (s *Store) DB() *store.DB { return s.db }

func (s *Store) hashFile(path string) (sig.Sig, error) {
	f, err := os.Open(path)
	if err != nil {
		return sig.Sig{}, err
	}
	defer f.Close()
	return sig.HashStream(f, 0)
}

// Put stores the raw body for h. Short digests and already-present keys
// are no-ops.
func (s *Store) Put(h sig.Sig, body []byte) error {
	if !h.IsLong() {
		return nil
	}
	key := h.Bytes()
	if ok, err := s.db.Has(key); err != nil || ok {
		return err
	}
	return s.db.Put(key, body)
}

// Get returns the serialized body for h. Short digests decode from the
// identifier itself. A long leaf digest missing from the database falls
// back to a materialized blob or xblob file.
func (s *Store) Get(h sig.Sig) ([]byte, error) {
	if body, ok := h.Body(); ok {
		return body, nil
	}
	body, err := s.db.Get(h.Bytes())
	if err == nil {
		return body, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if !h.IsCompound() {
		for _, kind := range []Kind{KindBlob, KindXBlob} {
			p, perr := s.ObjectPath(h, kind)
			if perr != nil {
				break
			}
			if b, rerr := os.ReadFile(p); rerr == nil {
				return b, nil
			}
		}
	}
	return nil, fmt.Errorf("%s: %w", h, ErrNotFound)
}

// Has reports whether the body for h is available, either in the database
// or (for leaf digests) as a materialized blob file.
func (s *Store) Has(h sig.Sig) (bool, error) {
	if !h.IsLong() {
		return true, nil
	}
	ok, err := s.db.Has(h.Bytes())
	if err != nil || ok {
		return ok, err
	}
	if !h.IsCompound() {
		for _, kind := range []Kind{KindBlob, KindXBlob} {
			p, perr := s.ObjectPath(h, kind)
			if perr != nil {
				break
			}
			if _, serr := os.Stat(p); serr == nil {
				return true, nil
			}
		}
	}
	return false, nil
}

// RelPath returns the path, relative to the store root, where an object
// with digest h materializes for the given kind. Tree digests must be
// compound and blob digests must be leaves.
func (s *Store) RelPath(h sig.Sig, kind Kind) (string, error) {
	if (kind == KindTree) != h.IsCompound() {
		return "", fmt.Errorf("wrong kind %s for digest %s", kind, h)
	}
	hx := h.String()
	return filepath.Join(string(kind), hx[:2], hx[2:]), nil
}

// ObjectPath returns the absolute materialization path for h.
func (s *Store) ObjectPath(h sig.Sig, kind Kind) (string, error) {
	rel, err := s.RelPath(h, kind)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, rel), nil
}

// FileHash returns the content digest of the file at path through the
// stat cache. fi may be nil.
func (s *Store) FileHash(path string, fi os.FileInfo) (sig.Sig, error) {
	return s.cache.Hash(path, fi)
}

// StoreFile is equivalent to storing the file's contents, but copies the
// file into the mode-appropriate object path instead of reading it
// through memory. Returns the content digest.
func (s *Store) StoreFile(path string, fi os.FileInfo) (sig.Sig, error) {
	var err error
	if fi == nil {
		fi, err = os.Stat(path)
		if err != nil {
			return sig.Sig{}, err
		}
	}
	h, err := s.cache.Hash(path, fi)
	if err != nil {
		return sig.Sig{}, err
	}
	dst, err := s.ObjectPath(h, KindForMode(fi.Mode()))
	if err != nil {
		return sig.Sig{}, err
	}
	if _, err := os.Stat(dst); err == nil {
		return h, nil
	}
	mode := os.FileMode(0444)
	if fi.Mode()&0111 != 0 {
		mode = 0555
	}
	if err := copyFile(path, dst, mode); err != nil {
		return sig.Sig{}, err
	}
	return h, nil
}

// WriteObject writes body to the materialization path for h, creating it
// atomically. Existing files are trusted and left alone.
func (s *Store) WriteObject(h sig.Sig, kind Kind, body []byte) (string, error) {
	dst, err := s.ObjectPath(h, kind)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(dst); err == nil {
		return dst, nil
	}
	mode := os.FileMode(0444)
	if kind == KindXBlob {
		mode = 0555
	}
	if err := writeFileAtomic(dst, body, mode); err != nil {
		return "", err
	}
	return dst, nil
}

// CheckFile verifies that the file at path hashes to expected.
func (s *Store) CheckFile(path string, expected sig.Sig) error {
	h, err := s.hashFile(path)
	if err != nil {
		return err
	}
	if h != expected {
		return fmt.Errorf("hash mismatch in file %s: got %s, want %s", path, h, expected)
	}
	return nil
}

// copyFile copies src to dst through a temp file and rename, so readers
// never observe a partial object.
func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	_, err = io.Copy(tmp, in)
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Chmod(tmp.Name(), mode)
	}
	if err == nil {
		err = os.Rename(tmp.Name(), dst)
	}
	if err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write object: %w", err)
	}
	return nil
}

func writeFileAtomic(dst string, body []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	_, err = tmp.Write(body)
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Chmod(tmp.Name(), mode)
	}
	if err == nil {
		err = os.Rename(tmp.Name(), dst)
	}
	if err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write object: %w", err)
	}
	return nil
}
