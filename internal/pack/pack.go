// Package pack serializes the object store to a single portable file.
//
// Format:
//
//	magic "MPAK" + version uint32 (big endian) + entry count uint32
//	per entry: uvarint(len key) key uvarint(len frame) zstd-frame(body)
//	trailer: BLAKE3-256 of everything before it
//
// The trailer guards the transport copy; the entries themselves stay
// content-addressed by their keys.
package pack

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"lukechampine.com/blake3"

	"github.com/javanhut/muninn/internal/store"
)

var magic = []byte{'M', 'P', 'A', 'K'}

const packVersion uint32 = 1

// Export writes every entry of db to w and returns the entry count.
func Export(db *store.DB, w io.Writer) (int, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return 0, err
	}
	defer enc.Close()

	type entry struct{ k, frame []byte }
	var entries []entry
	err = db.ForEach(func(k, v []byte) error {
		kc := append([]byte{}, k...)
		entries = append(entries, entry{k: kc, frame: enc.EncodeAll(v, nil)})
		return nil
	})
	if err != nil {
		return 0, err
	}

	var body bytes.Buffer
	body.Write(magic)
	if err := binary.Write(&body, binary.BigEndian, packVersion); err != nil {
		return 0, err
	}
	if err := binary.Write(&body, binary.BigEndian, uint32(len(entries))); err != nil {
		return 0, err
	}
	lenBuf := make([]byte, binary.MaxVarintLen64)
	for _, e := range entries {
		n := binary.PutUvarint(lenBuf, uint64(len(e.k)))
		body.Write(lenBuf[:n])
		body.Write(e.k)
		n = binary.PutUvarint(lenBuf, uint64(len(e.frame)))
		body.Write(lenBuf[:n])
		body.Write(e.frame)
	}

	sum := blake3.Sum256(body.Bytes())
	body.Write(sum[:])

	if _, err := w.Write(body.Bytes()); err != nil {
		return 0, err
	}
	return len(entries), nil
}

// Import reads a pack stream and stores its entries into db, skipping
// keys that are already present. Returns the number of entries read.
func Import(db *store.DB, r io.Reader) (int, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	if len(data) < len(magic)+8+32 {
		return 0, fmt.Errorf("pack stream too short")
	}
	body, trailer := data[:len(data)-32], data[len(data)-32:]
	sum := blake3.Sum256(body)
	if !bytes.Equal(sum[:], trailer) {
		return 0, fmt.Errorf("pack checksum mismatch")
	}
	if !bytes.Equal(body[:4], magic) {
		return 0, fmt.Errorf("bad pack magic")
	}
	version := binary.BigEndian.Uint32(body[4:8])
	if version != packVersion {
		return 0, fmt.Errorf("unsupported pack version %d", version)
	}
	count := binary.BigEndian.Uint32(body[8:12])

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return 0, err
	}
	defer dec.Close()

	buf := bytes.NewReader(body[12:])
	readChunk := func() ([]byte, error) {
		n, err := binary.ReadUvarint(buf)
		if err != nil {
			return nil, err
		}
		out := make([]byte, n)
		if _, err := io.ReadFull(buf, out); err != nil {
			return nil, err
		}
		return out, nil
	}

	for i := uint32(0); i < count; i++ {
		key, err := readChunk()
		if err != nil {
			return 0, fmt.Errorf("failed to read entry %d key: %w", i, err)
		}
		frame, err := readChunk()
		if err != nil {
			return 0, fmt.Errorf("failed to read entry %d body: %w", i, err)
		}
		val, err := dec.DecodeAll(frame, nil)
		if err != nil {
			return 0, fmt.Errorf("failed to decompress entry %d: %w", i, err)
		}
		if ok, err := db.Has(key); err != nil {
			return 0, err
		} else if ok {
			continue
		}
		if err := db.Put(key, val); err != nil {
			return 0, err
		}
	}
	return int(count), nil
}
