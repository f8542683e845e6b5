package fragments_test

import (
	"bytes"
	"testing"

	"github.com/ferrouswire/dbus/fragments"
)

func TestEncoder(t *testing.T) {
	tests := []struct {
		name string
		in   func(*fragments.Encoder) error
		want []byte
	}{
		{
			"raw bytes",
			func(e *fragments.Encoder) error {
				e.Write([]byte{1, 2, 3})
				return nil
			},
			[]byte{0x01, 0x02, 0x03},
		},

		{
			"byte array",
			func(e *fragments.Encoder) error {
				e.Bytes([]byte{1, 2, 3})
				return nil
			},
			[]byte{
				0x00, 0x00, 0x00, 0x03, // length
				0x01, 0x02, 0x03, // val
			},
		},

		{
			"string",
			func(e *fragments.Encoder) error {
				e.String("foo")
				return nil
			},
			[]byte{
				0x00, 0x00, 0x00, 0x03, // length
				0x66, 0x6f, 0x6f, // val
				0x00, // terminator
			},
		},

		{
			"small string",
			func(e *fragments.Encoder) error {
				e.SmallString("i")
				return nil
			},
			[]byte{0x01, 0x69, 0x00},
		},

		{
			"uints",
			func(e *fragments.Encoder) error {
				e.Uint8(42)
				e.Uint16(66)
				e.Uint32(42)
				e.Uint64(66)
				return nil
			},
			[]byte{
				0x2a,
				0x00, // pad
				0x00, 0x42,
				0x00, 0x00, 0x00, 0x2a,
				0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x42,
			},
		},

		{
			"struct padding",
			func(e *fragments.Encoder) error {
				e.Struct(func() error { e.Uint64(66); return nil })
				e.Struct(func() error { e.Uint32(42); return nil })
				e.Struct(func() error { e.Uint16(66); return nil })
				e.Struct(func() error { e.Uint8(42); return nil })
				return nil
			},
			[]byte{
				0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x42,
				0x00, 0x00, 0x00, 0x2a,
				0x00, 0x00, 0x00, 0x00, // pad
				0x00, 0x42,
				0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // pad
				0x2a,
			},
		},

		{
			"array",
			func(e *fragments.Encoder) error {
				return e.Array(2, func() error {
					e.Uint16(1)
					e.Uint16(2)
					return nil
				})
			},
			[]byte{
				0x00, 0x00, 0x00, 0x04, // length
				0x00, 0x01,
				0x00, 0x02,
			},
		},

		{
			"empty array",
			func(e *fragments.Encoder) error {
				return e.Array(2, func() error { return nil })
			},
			[]byte{
				0x00, 0x00, 0x00, 0x00, // length
			},
		},

		{
			"struct array",
			func(e *fragments.Encoder) error {
				return e.Array(8, func() error {
					e.Struct(func() error { e.Uint16(1); return nil })
					e.Struct(func() error { e.Uint16(2); return nil })
					return nil
				})
			},
			[]byte{
				0x00, 0x00, 0x00, 0x0a, // length
				0x00, 0x00, 0x00, 0x00, // pad
				0x00, 0x01,
				0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // pad
				0x00, 0x02,
			},
		},

		{
			"empty struct array",
			func(e *fragments.Encoder) error {
				return e.Array(8, func() error { return nil })
			},
			[]byte{
				0x00, 0x00, 0x00, 0x00, // length
				0x00, 0x00, 0x00, 0x00, // pad
			},
		},

		{
			"array followed by other stuff",
			func(e *fragments.Encoder) error {
				if err := e.Array(2, func() error {
					e.Uint16(1)
					e.Uint16(2)
					return nil
				}); err != nil {
					return err
				}
				e.Uint16(3)
				return nil
			},
			[]byte{
				0x00, 0x00, 0x00, 0x04, // length
				0x00, 0x01,
				0x00, 0x02,
				0x00, 0x03,
			},
		},

		{
			"byte order flag",
			func(e *fragments.Encoder) error {
				e.Order = fragments.BigEndian
				e.ByteOrderFlag()
				e.Order = fragments.LittleEndian
				e.ByteOrderFlag()
				return nil
			},
			[]byte{'B', 'l'},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := fragments.Encoder{
				Order: fragments.BigEndian,
			}
			if err := tc.in(&e); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := e.Out; !bytes.Equal(got, tc.want) {
				t.Errorf("incorrect encode:\n  got: % x\n want: % x", got, tc.want)
			} else if testing.Verbose() {
				t.Logf("encoder got: % x", got)
			}
		})
	}
}

func TestWriteLaterSingleFire(t *testing.T) {
	e := fragments.Encoder{Order: fragments.LittleEndian}
	fill := e.WriteLater('u', 4, 4)
	if err := fill(5); err != nil {
		t.Fatalf("first fill failed: %v", err)
	}
	err := fill(6)
	if err == nil {
		t.Fatalf("second fill unexpectedly succeeded")
	}
	want := `multiple calls to writeLater callback for signature "u" at position 0`
	if err.Error() != want {
		t.Errorf("fill error = %q, want %q", err.Error(), want)
	}
}

func TestMeasure(t *testing.T) {
	e := fragments.Encoder{Order: fragments.LittleEndian}
	e.Uint8(1)
	n, err := e.Measure(func() error {
		e.Uint16(2)
		e.Uint16(3)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 5 {
		// Uint16 aligns to 2, so there's one byte of padding measured
		// along with the two uint16s.
		t.Errorf("Measure = %d, want 5", n)
	}
}
