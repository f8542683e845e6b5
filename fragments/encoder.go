package fragments

import (
	"fmt"
)

// An Encoder provides utilities to write a DBus wire format message
// to a byte slice.
//
// Methods insert padding as needed to conform to DBus alignment
// rules, except for [Encoder.Write] which outputs bytes verbatim.
type Encoder struct {
	// Order is the byte order to use when encoding multi-byte values.
	Order ByteOrder
	// Out is the encoded output.
	Out []byte
}

// Pad inserts padding bytes as needed to make the message a multiple
// of align bytes. If the message is already correctly aligned, no
// padding is inserted.
func (e *Encoder) Pad(align int) {
	extra := len(e.Out) % align
	if extra == 0 {
		return
	}
	var pad [8]byte
	e.Out = append(e.Out, pad[:align-extra]...)
}

// Write writes bs as-is to the output. It is the caller's
// responsibility to ensure correct padding and encoding.
func (e *Encoder) Write(bs []byte) {
	e.Out = append(e.Out, bs...)
}

// Bytes writes bs as a DBus byte array: a 32-bit length prefix
// followed by the raw bytes, with no trailing terminator.
func (e *Encoder) Bytes(bs []byte) {
	e.Pad(4)
	e.Uint32(uint32(len(bs)))
	e.Out = append(e.Out, bs...)
}

// String writes s as a DBus string: a 32-bit byte-length prefix,
// followed by the UTF-8 bytes of s, followed by a NUL terminator not
// counted in the length.
func (e *Encoder) String(s string) {
	e.Pad(4)
	e.Uint32(uint32(len(s)))
	e.Out = append(e.Out, s...)
	e.Out = append(e.Out, 0)
}

// SmallString writes s as a DBus signature-like string: an 8-bit
// byte-length prefix, followed by the bytes of s, followed by a NUL
// terminator not counted in the length.
func (e *Encoder) SmallString(s string) {
	e.Out = append(e.Out, byte(len(s)))
	e.Out = append(e.Out, s...)
	e.Out = append(e.Out, 0)
}

// Uint8 writes a uint8.
func (e *Encoder) Uint8(u8 uint8) {
	e.Out = append(e.Out, u8)
}

// Uint16 writes uint16.
func (e *Encoder) Uint16(u16 uint16) {
	e.Pad(2)
	e.Out = e.Order.AppendUint16(e.Out, u16)
}

// Uint32 writes uint32.
func (e *Encoder) Uint32(u32 uint32) {
	e.Pad(4)
	e.Out = e.Order.AppendUint32(e.Out, u32)
}

// Uint64 writes uint64.
func (e *Encoder) Uint64(u64 uint64) {
	e.Pad(8)
	e.Out = e.Order.AppendUint64(e.Out, u64)
}

// WriteLater reserves size bytes aligned to align, and returns a
// closure that fills the reservation with the wire encoding of
// length once it is known.
//
// The returned closure must be called exactly once. code names the
// DBus type the reservation is for, and is used only to build an
// error message; it is typically 'u' for an array or dict-entry
// length prefix.
//
// WriteLater is the mechanism for writing a length prefix before its
// contents are known: reserve the slot, encode the contents, then
// fill the slot in with the length measured by [Encoder.Measure].
func (e *Encoder) WriteLater(code byte, size, align int) func(length uint32) error {
	e.Pad(align)
	pos := len(e.Out)
	var zero [8]byte
	e.Out = append(e.Out, zero[:size]...)
	fired := false
	return func(length uint32) error {
		if fired {
			return fmt.Errorf("multiple calls to writeLater callback for signature %q at position %d", string(code), pos)
		}
		fired = true
		switch size {
		case 1:
			e.Out[pos] = byte(length)
		case 4:
			e.Order.PutUint32(e.Out[pos:pos+4], length)
		default:
			panic(fmt.Sprintf("WriteLater: unsupported reservation size %d", size))
		}
		return nil
	}
}

// Measure runs f, and returns the number of bytes f appended to the
// output.
func (e *Encoder) Measure(f func() error) (int, error) {
	start := len(e.Out)
	if err := f(); err != nil {
		return 0, err
	}
	return len(e.Out) - start, nil
}

// Array writes a DBus array.
//
// Array elements must be added within the provided elements
// function. The elements function is responsible for padding each
// array element to the correct alignment for the element type.
//
// elemAlign is the alignment of the array's element type, used to pad
// the array body even when the array is empty.
func (e *Encoder) Array(elemAlign int, elements func() error) error {
	fill := e.WriteLater('u', 4, 4)
	e.Pad(elemAlign)
	n, err := e.Measure(elements)
	if err != nil {
		return err
	}
	return fill(uint32(n))
}

// Struct writes a DBus struct.
//
// Struct fields must be added within the provided elements function.
func (e *Encoder) Struct(elements func() error) error {
	e.Pad(8)
	return elements()
}

// ByteOrderFlag writes the DBus byte order flag byte ('l' or 'B')
// that matches [Encoder.Order].
func (e *Encoder) ByteOrderFlag() {
	e.Write([]byte{e.Order.dbusFlag()})
}
