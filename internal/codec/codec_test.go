package codec

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/javanhut/muninn/internal/sig"
)

// memStore is an in-memory Sink/Source for round-trip tests.
type memStore struct {
	data map[sig.Sig][]byte
}

func newMemStore() *memStore { return &memStore{data: make(map[sig.Sig][]byte)} }

func (m *memStore) Put(h sig.Sig, body []byte) error {
	m.data[h] = append([]byte{}, body...)
	return nil
}

func (m *memStore) Has(h sig.Sig) (bool, error) {
	_, ok := m.data[h]
	return ok, nil
}

func (m *memStore) Get(h sig.Sig) ([]byte, error) {
	b, ok := m.data[h]
	if !ok {
		return nil, fmt.Errorf("missing body for %s", h)
	}
	return b, nil
}

func mustSig(t *testing.T, v any) sig.Sig {
	t.Helper()
	h, err := SigOf(v)
	if err != nil {
		t.Fatalf("SigOf(%v) failed: %v", v, err)
	}
	return h
}

func TestPrims(t *testing.T) {
	cases := []struct {
		v    any
		want string
	}{
		{[]byte(""), "\x01"},
		{[]byte("foo"), "\x04foo"},
		{nil, "\x42\x01"},
		{false, "\x43\x02f"},
		{true, "\x43\x02t"},
		{int64(0), "\x44\x02i\x01"},
		{int64(1), "\x45\x02i\x02\x01"},
		{int64(127), "\x45\x02i\x02\x7f"},
		{int64(-128), "\x45\x02i\x02\x80"},
		{int64(0x7FFF), "\x46\x02i\x03\xff\x7f"},
		{int64(-0x8000), "\x46\x02i\x03\x00\x80"},
		{GlobalObj{}, "\x43\x02G"},
		{Global{Module: "X", Name: "Y"}, "\x48\x43\x02G\x02X\x02Y"},
		{List{}, "\x43\x02L"},
		{Tuple{}, "\x43\x02T"},
		{List{nil, true}, "\x48\x02L\x42\x01\x43\x02t"},
	}
	for _, c := range cases {
		got := mustSig(t, c.v)
		if !bytes.Equal(got.Bytes(), []byte(c.want)) {
			t.Errorf("sig(%v) = %x, want %x", c.v, got.Bytes(), []byte(c.want))
		}
	}
}

func TestIntWidths(t *testing.T) {
	// Plain int and int64 share an encoding.
	if mustSig(t, 42) != mustSig(t, int64(42)) {
		t.Error("int and int64 should hash alike")
	}
	for _, i := range []int64{0, 1, -1, 127, -128, 128, 0x7FFF, 0x8000, -0x8000, -0x8001, 1 << 40, -(1 << 40)} {
		b := intBytes(i)
		back, err := intFromBytes(b)
		if err != nil {
			t.Fatalf("intFromBytes(%x) failed: %v", b, err)
		}
		if back != i {
			t.Errorf("int %d round-tripped to %d via %x", i, back, b)
		}
	}
}

func TestDictOrder(t *testing.T) {
	a, err := NewMap([]any{int64(1), int64(3)}, []any{int64(2), int64(4)})
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewMap([]any{int64(3), int64(1)}, []any{int64(4), int64(2)})
	if err != nil {
		t.Fatal(err)
	}
	if mustSig(t, a) != mustSig(t, b) {
		t.Error("map digest must not depend on insertion order")
	}

	s1 := MapOf(map[string]any{"a": int64(1), "b": int64(2)})
	s2 := MapOf(map[string]any{"b": int64(2), "a": int64(1)})
	if mustSig(t, s1) != mustSig(t, s2) {
		t.Error("string-keyed map digest must not depend on insertion order")
	}
}

func TestEqualValuesShareDigest(t *testing.T) {
	// Two distinct instances with equal contents must not hash apart.
	a := List{int64(1), "x", List{true}}
	b := List{int64(1), "x", List{true}}
	if mustSig(t, a) != mustSig(t, b) {
		t.Error("equal lists should share a digest")
	}
}

type thing struct {
	X int64
	Y int64
}

var globalFun = func() {}

func init() {
	RegisterType(&thing{}, &TypeCodec{
		Module: "codec_test",
		Name:   "thing",
		Encode: func(v any) ([]any, error) {
			th := v.(*thing)
			return []any{th.X, th.Y}, nil
		},
		Decode: func(parts []any) (any, error) {
			return &thing{X: parts[0].(int64), Y: parts[1].(int64)}, nil
		},
	})
	RegisterGlobal("codec_test", "global_fun", &globalFun)
}

func TestRoundtrip(t *testing.T) {
	long := "this string is longer than 31 bytes so it must actually be hashed"
	cases := []any{
		[]byte(""),
		[]byte("foo"),
		nil,
		true,
		false,
		"",
		"foo",
		"仙侠小说",
		int64(0),
		int64(-1),
		int64(1),
		int64(0x7FFF),
		int64(0x8000),
		int64(-0x8000),
		int64(-0x8001),
		List{},
		Tuple{},
		List{int64(0)},
		List{int64(0), int64(1)},
		List{int64(0), List{int64(1), int64(2)}, Tuple{int64(3), int64(4), List{}}},
		MapOf(nil),
		MapOf(map[string]any{"a": int64(1), "b": int64(2), "c": List{int64(0), int64(1), int64(2)}}),
		long,
		MapOf(map[string]any{
			"a": "short",
			"b": List{
				"this string is part of a list",
				"that is too long to represent",
				"as a short hash",
			},
		}),
		mustSig(t, []byte("spam")),
		GlobalObj{},
		ModuleRef("fstree"),
		FuncVal{Module: "root.foo", Name: "build", Version: "3"},
		&thing{X: 1, Y: 2},
	}

	st := newMemStore()
	for _, v := range cases {
		h, err := Encode(st, v)
		if err != nil {
			t.Fatalf("Encode(%#v) failed: %v", v, err)
		}
		back, err := Decode(st, h)
		if err != nil {
			t.Fatalf("Decode of %#v failed: %v", v, err)
		}
		if diff := cmp.Diff(normalize(v), normalize(back), cmp.AllowUnexported(sig.Sig{})); diff != "" {
			t.Errorf("round trip of %#v changed the value (-want +got):\n%s", v, diff)
		}
	}
}

// normalize maps encode-equivalent representations onto one shape so
// go-cmp can compare decoded values against their inputs.
func normalize(v any) any {
	switch x := v.(type) {
	case List:
		out := make(List, len(x))
		for i, e := range x {
			out[i] = normalize(e)
		}
		return out
	case Tuple:
		out := make(Tuple, len(x))
		for i, e := range x {
			out[i] = normalize(e)
		}
		return out
	case Map:
		out := Map{}
		for i := range x.Keys {
			out.Keys = append(out.Keys, normalize(x.Keys[i]))
			out.Vals = append(out.Vals, normalize(x.Vals[i]))
		}
		return out
	case string:
		return x
	default:
		return v
	}
}

func TestGlobalReference(t *testing.T) {
	st := newMemStore()
	h, err := Encode(st, &globalFun)
	if err != nil {
		t.Fatalf("Encode of whitelisted global failed: %v", err)
	}
	want := mustSig(t, Global{Module: "codec_test", Name: "global_fun"})
	if h != want {
		t.Errorf("whitelisted value should hash as its reference: %s != %s", h, want)
	}
	back, err := Decode(st, h)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if back != any(&globalFun) {
		t.Error("decoding a global reference should return the registered value")
	}
}

func TestUnknownGlobalRejected(t *testing.T) {
	st := newMemStore()
	h, err := Encode(st, Global{Module: "nowhere", Name: "nothing"})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if _, err := Decode(st, h); err == nil {
		t.Error("decoding an unregistered global should fail")
	}
}

func TestUnknownTypeRejected(t *testing.T) {
	type unregistered struct{}
	if _, err := SigOf(unregistered{}); err == nil {
		t.Error("serializing an unregistered type should fail")
	}
}

func TestLongBodyStored(t *testing.T) {
	st := newMemStore()
	long := []byte("this string is longer than 31 bytes so it must actually be hashed")
	h, err := Encode(st, long)
	if err != nil {
		t.Fatal(err)
	}
	if !h.IsLong() {
		t.Fatal("expected a long digest")
	}
	body, err := st.Get(h)
	if err != nil || !bytes.Equal(body, long) {
		t.Errorf("stored body = %q, err=%v", body, err)
	}
	// SigOf must not store anything.
	st2 := newMemStore()
	if _, err := SigOf(long); err != nil {
		t.Fatal(err)
	}
	if len(st2.data) != 0 {
		t.Error("SigOf must not persist bodies")
	}
}

func TestShortSelfIdentifies(t *testing.T) {
	// Short values decode with no store at all.
	h := mustSig(t, List{int64(1), "hi"})
	if h.IsLong() {
		t.Skip("value unexpectedly long")
	}
	back, err := Decode(nil, h)
	if err != nil {
		t.Fatalf("Decode without store failed: %v", err)
	}
	if diff := cmp.Diff(normalize(List{int64(1), "hi"}), normalize(back)); diff != "" {
		t.Errorf("short value mismatch:\n%s", diff)
	}
}
