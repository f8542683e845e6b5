package dbus

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/ferrouswire/dbus/fragments"
)

type nameVersion struct {
	Name    string
	Version uint32
}

func TestMarshalUnmarshalStruct(t *testing.T) {
	in := nameVersion{Name: "widget", Version: 3}
	bs, err := Marshal(fragments.LittleEndian, "(su)", in)
	if err != nil {
		t.Fatal(err)
	}
	var out nameVersion
	if err := Unmarshal(fragments.LittleEndian, "(su)", bs, &out); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestMarshalUnmarshalMap(t *testing.T) {
	in := map[string]int32{"a": 1, "b": 2}
	bs, err := Marshal(fragments.LittleEndian, "a{si}", in)
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]int32
	if err := Unmarshal(fragments.LittleEndian, "a{si}", bs, &out); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestMarshalUnmarshalVariantInference(t *testing.T) {
	var in any = int32(99)
	bs, err := Marshal(fragments.LittleEndian, "v", in)
	if err != nil {
		t.Fatal(err)
	}
	var out any
	if err := Unmarshal(fragments.LittleEndian, "v", bs, &out); err != nil {
		t.Fatal(err)
	}
	if out != int32(99) {
		t.Errorf("got %#v, want int32(99)", out)
	}
}

func TestMarshalUnmarshalSlice(t *testing.T) {
	in := []string{"a", "bb", "ccc"}
	bs, err := Marshal(fragments.LittleEndian, "as", in)
	if err != nil {
		t.Fatal(err)
	}
	var out []string
	if err := Unmarshal(fragments.LittleEndian, "as", bs, &out); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestMarshalUnmarshalFile(t *testing.T) {
	in := File{Index: 3}
	bs, err := Marshal(fragments.LittleEndian, "h", in)
	if err != nil {
		t.Fatal(err)
	}
	var out File
	if err := Unmarshal(fragments.LittleEndian, "h", bs, &out); err != nil {
		t.Fatal(err)
	}
	if out != in {
		t.Errorf("got %#v, want %#v", out, in)
	}
}

func TestSignatureOf(t *testing.T) {
	tests := []struct {
		v    any
		want string
	}{
		{int32(1), "i"},
		{"s", "s"},
		{nameVersion{}, "(su)"},
		{map[string]int32{}, "a{si}"},
		{[]byte{1, 2}, "ay"},
		{ObjectPath("/a"), "o"},
	}
	for _, tc := range tests {
		got, err := SignatureOf(tc.v)
		if err != nil {
			t.Errorf("SignatureOf(%#v) error: %v", tc.v, err)
			continue
		}
		if got != tc.want {
			t.Errorf("SignatureOf(%#v) = %q, want %q", tc.v, got, tc.want)
		}
	}
}
