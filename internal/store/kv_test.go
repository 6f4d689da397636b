package store

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
)

func TestKVRoundtrip(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "test_db"), "test")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	if _, err := db.Get([]byte("missing")); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get of missing key returned %v, want ErrNotFound", err)
	}
	if ok, _ := db.Has([]byte("missing")); ok {
		t.Error("Has of missing key should be false")
	}

	if err := db.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, err := db.Get([]byte("k"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(got, []byte("v")) {
		t.Errorf("Get = %q, want v", got)
	}
	if ok, _ := db.Has([]byte("k")); !ok {
		t.Error("Has after Put should be true")
	}

	if err := db.Delete([]byte("k")); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if ok, _ := db.Has([]byte("k")); ok {
		t.Error("key survived Delete")
	}
}

func TestKVForEachOrder(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "test_db"), "test")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	for _, k := range []string{"c", "a", "b"} {
		if err := db.Put([]byte(k), []byte(k)); err != nil {
			t.Fatal(err)
		}
	}
	var keys []string
	err = db.ForEach(func(k, v []byte) error {
		keys = append(keys, string(k))
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 3 || keys[0] != "a" || keys[1] != "b" || keys[2] != "c" {
		t.Errorf("ForEach order = %v, want sorted", keys)
	}
	if n, _ := db.Count(); n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}
}

func TestKVPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test_db")
	db, err := Open(path, "test")
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	db, err = Open(path, "test")
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer db.Close()
	got, err := db.Get([]byte("k"))
	if err != nil || !bytes.Equal(got, []byte("v")) {
		t.Errorf("value did not persist: %q, %v", got, err)
	}
}
