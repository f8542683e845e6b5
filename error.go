package dbus

import "fmt"

// SignatureError is returned by [ParseOne] and [ParseMany] when a
// signature string cannot be parsed.
type SignatureError struct {
	// Signature is the full signature text that failed to parse.
	Signature string
	// Pos is the byte offset into Signature where the problem was
	// detected.
	Pos int
	// Reason is a human-readable description of the problem.
	Reason string
}

func (e *SignatureError) Error() string {
	return e.Reason
}

// DomainError is returned when a value is out of the representable
// range for the DBus type it is being encoded as, such as a negative
// number for an unsigned wire type.
type DomainError struct {
	// Signature is the DBus type the value was being encoded or
	// decoded against.
	Signature string
	// Value is the offending value.
	Value any
	// Bounds describes the valid range, such as "0..255".
	Bounds string
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("value %v for DBus type %q out of range %s", e.Value, e.Signature, e.Bounds)
}

// ProtocolError is returned when a peer sends data that violates the
// DBus wire protocol: invalid booleans, non-UTF-8 strings, duplicate
// dict keys, array bodies whose declared length doesn't match their
// contents, and the like.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("dbus protocol error: %s", e.Reason)
}

func protocolErrorf(format string, args ...any) *ProtocolError {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...)}
}

// TransportError wraps an I/O failure encountered while reading from
// or writing to the underlying connection.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("dbus transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// AuthError is returned when the SASL authentication handshake with
// the bus fails.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("dbus authentication failed: %s", e.Reason)
}

// MethodReplyError is the error returned from a failed DBus method
// call: one whose reply was an ERROR message rather than a
// METHOD_RETURN.
type MethodReplyError struct {
	// Name is the DBus error name provided by the remote peer, such as
	// "org.freedesktop.DBus.Error.UnknownMethod".
	Name string
	// Detail is the human-readable explanation of what went wrong, if
	// the peer provided one as the first string in the error body.
	Detail string
}

func (e *MethodReplyError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("call error %s", e.Name)
	}
	return fmt.Sprintf("call error %s: %s", e.Name, e.Detail)
}
