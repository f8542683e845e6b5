package dbus

import (
	"bytes"
	"testing"

	"github.com/ferrouswire/dbus/fragments"
)

func TestReadDuplicateDictKeyRejected(t *testing.T) {
	w := NewWriter(fragments.LittleEndian)
	dict := Dict{{Key: "a", Value: int32(1)}, {Key: "a", Value: int32(2)}}
	if err := w.Write("a{si}", dict); err != nil {
		t.Fatal(err)
	}
	r := NewReader(fragments.LittleEndian, bytes.NewReader(w.Bytes()))
	_, err := r.Read("a{si}")
	if err == nil {
		t.Fatal("Read of dict with duplicate keys succeeded, want ProtocolError")
	}
	if _, ok := err.(*ProtocolError); !ok {
		t.Fatalf("error = %v (%T), want *ProtocolError", err, err)
	}
}

func TestReadInvalidUTF8Rejected(t *testing.T) {
	enc := fragments.Encoder{Order: fragments.LittleEndian}
	enc.String(string([]byte{0xff, 0xfe}))
	dec := fragments.Decoder{Order: fragments.LittleEndian, In: bytes.NewReader(enc.Out)}
	_, err := readValue(&dec, mustType("s"))
	if err == nil {
		t.Fatal("readValue(s) of non-UTF-8 bytes succeeded, want ProtocolError")
	}
	if _, ok := err.(*ProtocolError); !ok {
		t.Fatalf("error = %v (%T), want *ProtocolError", err, err)
	}
}

func TestReadArrayUnderrunIsProtocolError(t *testing.T) {
	// A hand-crafted array that claims 8 bytes of int32 elements but
	// only has 4: the second read must fail with an overrun error,
	// not succeed by reading into whatever follows.
	enc := fragments.Encoder{Order: fragments.LittleEndian}
	enc.Uint32(8) // declared length: 8 bytes (two int32s)
	enc.Uint32(1) // only one actually present
	dec := fragments.Decoder{Order: fragments.LittleEndian, In: bytes.NewReader(enc.Out)}
	_, err := readValue(&dec, mustType("ai"))
	if err == nil {
		t.Fatal("readValue(ai) on truncated array succeeded, want error")
	}
	if _, ok := err.(*ProtocolError); !ok {
		t.Fatalf("error = %v (%T), want *ProtocolError", err, err)
	}
}

func TestReadEmptyArray(t *testing.T) {
	w := NewWriter(fragments.LittleEndian)
	if err := w.Write("as", []any{}); err != nil {
		t.Fatal(err)
	}
	r := NewReader(fragments.LittleEndian, bytes.NewReader(w.Bytes()))
	got, err := r.Read("as")
	if err != nil {
		t.Fatal(err)
	}
	items, ok := got.([]any)
	if !ok || len(items) != 0 {
		t.Fatalf("Read(as) of empty array = %#v, want empty []any", got)
	}
}

func TestReadVariantRoundTrip(t *testing.T) {
	w := NewWriter(fragments.LittleEndian)
	v := Variant{Sig: mustType("a{sv}"), Value: Dict{
		{Key: "k", Value: Variant{Sig: mustType("i"), Value: int32(7)}},
	}}
	if err := w.Write("v", v); err != nil {
		t.Fatal(err)
	}
	r := NewReader(fragments.LittleEndian, bytes.NewReader(w.Bytes()))
	got, err := r.Read("v")
	if err != nil {
		t.Fatal(err)
	}
	gv, ok := got.(Variant)
	if !ok {
		t.Fatalf("Read(v) = %#v, want Variant", got)
	}
	if gv.Sig.String() != "a{sv}" {
		t.Fatalf("variant signature = %q, want a{sv}", gv.Sig.String())
	}
}
