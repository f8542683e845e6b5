package fragments_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/ferrouswire/dbus/fragments"
)

type mustDecoder struct {
	t *testing.T
	*fragments.Decoder
}

func (d *mustDecoder) MustRead(n int, want []byte) {
	got, err := d.Read(n)
	if err != nil {
		d.t.Fatalf("Read(%d) got err: %v", n, err)
	}
	if !bytes.Equal(got, want) {
		d.t.Fatalf("Read(%d) wrong output:\n  got: % x\n want: % x", n, got, want)
	}
}

func (d *mustDecoder) MustBytes(want []byte) {
	got, err := d.Bytes()
	if err != nil {
		d.t.Fatalf("Bytes() got err: %v", err)
	}
	if !bytes.Equal(got, want) {
		d.t.Fatalf("Bytes() wrong output:\n  got: % x\n want: % x", got, want)
	}
}

func (d *mustDecoder) MustString(want string) {
	got, err := d.String()
	if err != nil {
		d.t.Fatalf("String() got err: %v", err)
	}
	if got != want {
		d.t.Fatalf("String() got %q, want %q", got, want)
	}
}

func (d *mustDecoder) MustUint8(want uint8) {
	got, err := d.Uint8()
	if err != nil {
		d.t.Fatalf("Uint8() got err: %v", err)
	}
	if got != want {
		d.t.Fatalf("Uint8() got %d, want %d", got, want)
	}
}

func (d *mustDecoder) MustUint16(want uint16) {
	got, err := d.Uint16()
	if err != nil {
		d.t.Fatalf("Uint16() got err: %v", err)
	}
	if got != want {
		d.t.Fatalf("Uint16() got %d, want %d", got, want)
	}
}

func (d *mustDecoder) MustUint32(want uint32) {
	got, err := d.Uint32()
	if err != nil {
		d.t.Fatalf("Uint32() got err: %v", err)
	}
	if got != want {
		d.t.Fatalf("Uint32() got %d, want %d", got, want)
	}
}

func (d *mustDecoder) MustUint64(want uint64) {
	got, err := d.Uint64()
	if err != nil {
		d.t.Fatalf("Uint64() got err: %v", err)
	}
	if got != want {
		d.t.Fatalf("Uint64() got %d, want %d", got, want)
	}
}

func (d *mustDecoder) MustStruct(fields func() error) {
	if err := d.Struct(fields); err != nil {
		d.t.Fatalf("Struct() got err: %v", err)
	}
}

func (d *mustDecoder) MustArray(elemAlign int, wantLen int, readElement func(int) error) {
	gotLen, err := d.Array(elemAlign, readElement)
	if err != nil {
		d.t.Fatalf("Array() got err: %v", err)
	}
	if gotLen != wantLen {
		d.t.Fatalf("Array() got size %d, want %d", gotLen, wantLen)
	}
}

func (d *mustDecoder) MustByteOrderFlag(want fragments.ByteOrder) {
	if err := d.ByteOrderFlag(); err != nil {
		d.t.Fatalf("ByteOrderFlag() got err: %v", err)
	}
	if got := d.Order; got != want {
		d.t.Fatalf("ByteOrderFlag() set byte order %v, want %v", got, want)
	}
}

func TestDecoder(t *testing.T) {
	tests := []struct {
		name   string
		in     []byte
		decode func(d *mustDecoder)
	}{
		{
			"raw bytes",
			[]byte{0x01, 0x02, 0x03},
			func(d *mustDecoder) {
				d.MustRead(3, []byte{1, 2, 3})
			},
		},

		{
			"byte array",
			[]byte{
				0x00, 0x00, 0x00, 0x03,
				0x01, 0x02, 0x03,
			},
			func(d *mustDecoder) {
				d.MustBytes([]byte{1, 2, 3})
			},
		},

		{
			"string",
			[]byte{
				0x00, 0x00, 0x00, 0x03,
				0x66, 0x6f, 0x6f,
				0x00,
			},
			func(d *mustDecoder) {
				d.MustString("foo")
			},
		},

		{
			"small string",
			[]byte{0x01, 0x69, 0x00},
			func(d *mustDecoder) {
				got, err := d.SmallString()
				if err != nil {
					d.t.Fatalf("SmallString() got err: %v", err)
				}
				if got != "i" {
					d.t.Fatalf("SmallString() got %q, want %q", got, "i")
				}
			},
		},

		{
			"uints",
			[]byte{
				0x2a,
				0x00, // pad
				0x00, 0x42,
				0x00, 0x00, 0x00, 0x2a,
				0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x42,
			},
			func(d *mustDecoder) {
				d.MustUint8(42)
				d.MustUint16(66)
				d.MustUint32(42)
				d.MustUint64(66)
			},
		},

		{
			"struct padding",
			[]byte{
				0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x42,
				0x00, 0x00, 0x00, 0x2a,
				0x00, 0x00, 0x00, 0x00, // pad
				0x00, 0x42,
				0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // pad
				0x2a,
			},
			func(d *mustDecoder) {
				d.MustStruct(func() error { d.MustUint64(66); return nil })
				d.MustStruct(func() error { d.MustUint32(42); return nil })
				d.MustStruct(func() error { d.MustUint16(66); return nil })
				d.MustStruct(func() error { d.MustUint8(42); return nil })
			},
		},

		{
			"array",
			[]byte{
				0x00, 0x00, 0x00, 0x04, // length
				0x00, 0x01,
				0x00, 0x02,
			},
			func(d *mustDecoder) {
				var got []uint16
				d.MustArray(2, 2, func(int) error {
					v, err := d.Uint16()
					if err != nil {
						return err
					}
					got = append(got, v)
					return nil
				})
				if len(got) != 2 || got[0] != 1 || got[1] != 2 {
					d.t.Fatalf("array elements got %v, want [1 2]", got)
				}
			},
		},

		{
			"empty array",
			[]byte{
				0x00, 0x00, 0x00, 0x00, // length
			},
			func(d *mustDecoder) {
				d.MustArray(2, 0, func(int) error {
					d.t.Fatalf("readElement called for empty array")
					return nil
				})
			},
		},

		{
			"struct array",
			[]byte{
				0x00, 0x00, 0x00, 0x0a, // length
				0x00, 0x00, 0x00, 0x00, // pad
				0x00, 0x01,
				0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // pad
				0x00, 0x02,
			},
			func(d *mustDecoder) {
				var got []uint16
				d.MustArray(8, 2, func(int) error {
					return d.Struct(func() error {
						v, err := d.Uint16()
						if err != nil {
							return err
						}
						got = append(got, v)
						return nil
					})
				})
				if len(got) != 2 || got[0] != 1 || got[1] != 2 {
					d.t.Fatalf("array elements got %v, want [1 2]", got)
				}
			},
		},

		{
			"empty struct array",
			[]byte{
				0x00, 0x00, 0x00, 0x00, // length
				0x00, 0x00, 0x00, 0x00, // pad
			},
			func(d *mustDecoder) {
				d.MustArray(8, 0, func(int) error {
					d.t.Fatalf("readElement called for empty array")
					return nil
				})
			},
		},

		{
			"byte order flag",
			[]byte{'B', 'l'},
			func(d *mustDecoder) {
				d.MustByteOrderFlag(fragments.BigEndian)
				d.MustByteOrderFlag(fragments.LittleEndian)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := bytes.NewReader(tc.in)
			d := mustDecoder{
				t: t,
				Decoder: &fragments.Decoder{
					Order: fragments.BigEndian,
					In:    r,
				},
			}
			tc.decode(&d)
			if r.Len() > 0 {
				t.Fatalf("decoder failed to consume %d trailing bytes", r.Len())
			}
		})
	}
}

func TestDecoderByteOrderFlagInvalid(t *testing.T) {
	d := fragments.Decoder{In: bytes.NewReader([]byte{'?'})}
	if err := d.ByteOrderFlag(); err == nil {
		t.Fatalf("ByteOrderFlag did not error on invalid byte order")
	}
}

func TestDecoderArrayOverrun(t *testing.T) {
	// Declares a 2-byte array body, but the element reader tries to
	// consume 4 bytes per element: the first element's read must fail
	// rather than spilling into whatever data follows the array.
	in := []byte{
		0x00, 0x00, 0x00, 0x02, // length = 2
		0xff, 0xff, // array body
		0x11, 0x22, 0x33, 0x44, // trailing data the array must not touch
	}
	d := fragments.Decoder{Order: fragments.BigEndian, In: bytes.NewReader(in)}
	_, err := d.Array(1, func(int) error {
		_, err := d.Read(4)
		return err
	})
	if err == nil {
		t.Fatalf("Array did not detect overrun")
	}
	if err != io.ErrUnexpectedEOF {
		t.Fatalf("Array overrun error = %v, want %v", err, io.ErrUnexpectedEOF)
	}
}
