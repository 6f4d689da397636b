// Package fscache caches content digests of filesystem files so large
// inputs are not re-hashed on every build.
//
// Each cache entry is keyed by the canonical absolute path and stores the
// stat key (inode, size, ctime, mtime) of the file that was hashed
// followed by the digest. The cached digest is reused as long as the stat
// key matches.
package fscache

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/javanhut/muninn/internal/sig"
	"github.com/javanhut/muninn/internal/store"
)

// ErrIsDirectory is returned when asked to hash the contents of a
// directory.
var ErrIsDirectory = errors.New("attempt to hash contents of a directory")

// RaceError reports that a file changed while it was being hashed. The
// cache is not updated in that case.
type RaceError struct {
	Path string
}

func (e *RaceError) Error() string {
	return fmt.Sprintf("file %s was modified while hashing", e.Path)
}

// Hasher computes the content digest of the file at path.
type Hasher func(path string) (sig.Sig, error)

// Cache is a persistent stat-keyed digest cache.
type Cache struct {
	db     *store.DB
	hasher Hasher
}

// Open opens the cache database at dbPath. hasher is called to hash file
// contents on cache misses.
func Open(dbPath string, hasher Hasher) (*Cache, error) {
	db, err := store.Open(dbPath, "fs_sig")
	if err != nil {
		return nil, err
	}
	return &Cache{db: db, hasher: hasher}, nil
}

func (c *Cache) Close() error { return c.db.Close() }

const statKeySize = 32

// statKey packs the parts of a stat result that invalidate the cache:
// inode, size, ctime and mtime, each as a little-endian 64-bit value.
func statKey(fi os.FileInfo) []byte {
	var ino, ctime uint64
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		ino = st.Ino
		ctime = uint64(st.Ctim.Nano())
	}
	b := make([]byte, statKeySize)
	binary.LittleEndian.PutUint64(b[0:], ino)
	binary.LittleEndian.PutUint64(b[8:], uint64(fi.Size()))
	binary.LittleEndian.PutUint64(b[16:], ctime)
	binary.LittleEndian.PutUint64(b[24:], uint64(fi.ModTime().UnixNano()))
	return b
}

func inode(fi os.FileInfo) uint64 {
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		return st.Ino
	}
	return 0
}

// keyMatch compares a stat key against a stored one. Stats coming from a
// directory scan may carry a zero inode; those match ignoring the inode.
func keyMatch(key, stored []byte, haveInode bool) bool {
	if len(stored) != statKeySize {
		return false
	}
	if haveInode {
		return bytes.Equal(key, stored)
	}
	return bytes.Equal(key[8:], stored[8:])
}

// Hash returns the content digest of the file at path, reusing the cached
// digest when the stat key is unchanged. fi may be nil, in which case the
// file is stat'ed; callers holding a scandir stat can pass it to save the
// call.
func (c *Cache) Hash(path string, fi os.FileInfo) (sig.Sig, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return sig.Sig{}, err
	}
	if fi == nil {
		fi, err = os.Stat(abs)
		if err != nil {
			return sig.Sig{}, err
		}
	}
	if fi.IsDir() {
		return sig.Sig{}, fmt.Errorf("%s: %w", abs, ErrIsDirectory)
	}

	key := []byte(abs)
	sk := statKey(fi)
	if old, err := c.db.Get(key); err == nil && len(old) > statKeySize {
		if keyMatch(sk, old[:statKeySize], inode(fi) != 0) {
			return sig.FromBytes(old[statKeySize:])
		}
	} else if err != nil && !errors.Is(err, store.ErrNotFound) {
		return sig.Sig{}, err
	}

	// Heavier work ahead; make sure we hold a full stat result (scandir
	// stats may have a zero inode).
	if inode(fi) == 0 {
		fi, err = os.Stat(abs)
		if err != nil {
			return sig.Sig{}, err
		}
	}
	h, err := c.hasher(abs)
	if err != nil {
		return sig.Sig{}, err
	}
	after, err := os.Stat(abs)
	if err != nil {
		return sig.Sig{}, err
	}
	if !bytes.Equal(statKey(fi), statKey(after)) {
		return sig.Sig{}, &RaceError{Path: abs}
	}
	if err := c.db.Put(key, append(statKey(after), h.Bytes()...)); err != nil {
		return sig.Sig{}, err
	}
	return h, nil
}
