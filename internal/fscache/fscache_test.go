package fscache

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/javanhut/muninn/internal/sig"
)

func readHasher(calls *int) Hasher {
	return func(path string) (sig.Sig, error) {
		*calls++
		b, err := os.ReadFile(path)
		if err != nil {
			return sig.Sig{}, err
		}
		return sig.HashBytes(b, 0), nil
	}
}

func openCache(t *testing.T, h Hasher) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "fs_sig_db"), h)
	if err != nil {
		t.Fatalf("failed to open cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestHashCachesUnchangedFiles(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "input.txt")
	content := []byte("hello world\n")
	if err := os.WriteFile(file, content, 0644); err != nil {
		t.Fatal(err)
	}

	calls := 0
	c := openCache(t, readHasher(&calls))

	h1, err := c.Hash(file, nil)
	if err != nil {
		t.Fatalf("first hash failed: %v", err)
	}
	if h1 != sig.HashBytes(content, 0) {
		t.Errorf("digest = %s, want digest of content", h1)
	}
	if calls != 1 {
		t.Fatalf("first hash should read the file once, read %d times", calls)
	}

	h2, err := c.Hash(file, nil)
	if err != nil {
		t.Fatalf("second hash failed: %v", err)
	}
	if h2 != h1 {
		t.Error("cached digest differs")
	}
	if calls != 1 {
		t.Errorf("unchanged file was re-read (%d reads)", calls)
	}
}

func TestHashSeesChanges(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "input.txt")
	if err := os.WriteFile(file, []byte("one"), 0644); err != nil {
		t.Fatal(err)
	}

	calls := 0
	c := openCache(t, readHasher(&calls))

	h1, err := c.Hash(file, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(file, []byte("two!"), 0644); err != nil {
		t.Fatal(err)
	}
	h2, err := c.Hash(file, nil)
	if err != nil {
		t.Fatal(err)
	}
	if h1 == h2 {
		t.Error("changed file should get a new digest")
	}
	if calls != 2 {
		t.Errorf("changed file should be re-read, %d reads", calls)
	}
}

func TestHashRejectsDirectories(t *testing.T) {
	c := openCache(t, readHasher(new(int)))
	_, err := c.Hash(t.TempDir(), nil)
	if !errors.Is(err, ErrIsDirectory) {
		t.Errorf("hashing a directory returned %v, want ErrIsDirectory", err)
	}
}

func TestRaceDetection(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "input.txt")
	if err := os.WriteFile(file, []byte("original"), 0644); err != nil {
		t.Fatal(err)
	}

	// A hasher that mutates the file while "reading" it.
	mutating := func(path string) (sig.Sig, error) {
		if err := os.WriteFile(path, []byte("mutated while hashing"), 0644); err != nil {
			return sig.Sig{}, err
		}
		return sig.HashBytes([]byte("mutated while hashing"), 0), nil
	}
	c := openCache(t, mutating)

	_, err := c.Hash(file, nil)
	var race *RaceError
	if !errors.As(err, &race) {
		t.Fatalf("hash of mutating file returned %v, want RaceError", err)
	}

	// The cache must not have been updated: a well-behaved hasher now
	// sees a miss and reads the file.
	calls := 0
	c.hasher = readHasher(&calls)
	if _, err := c.Hash(file, nil); err != nil {
		t.Fatalf("hash after race failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("cache was updated despite the race (%d reads)", calls)
	}
}

func TestStatKeyIgnoresInodeWhenMissing(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "input.txt")
	if err := os.WriteFile(file, []byte("stable"), 0644); err != nil {
		t.Fatal(err)
	}
	calls := 0
	c := openCache(t, readHasher(&calls))
	fi, err := os.Stat(file)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Hash(file, fi); err != nil {
		t.Fatal(err)
	}
	key := statKey(fi)
	zeroIno := make([]byte, statKeySize)
	copy(zeroIno, key)
	for i := 0; i < 8; i++ {
		zeroIno[i] = 0
	}
	if !keyMatch(zeroIno, key, false) {
		t.Error("inode-less stat should match ignoring the inode")
	}
	if keyMatch(zeroIno, key, true) {
		t.Error("inode-bearing stat must compare the inode")
	}
}
