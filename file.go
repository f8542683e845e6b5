package dbus

// File is an escape hatch for the UnixFD ('h') wire type.
//
// This package never negotiates NEGOTIATE_UNIX_FD and never attaches
// SCM_RIGHTS ancillary data to a message (an explicit non-goal): the
// 'h' wire type carries nothing but a uint32 index into a side
// channel both peers are assumed to already agree on. File exists so
// a caller who manages that side channel itself, outside this package
// (transport.Dial does not expose its underlying socket), can still
// read and write values at this type through [Marshal]/[Unmarshal]
// without dropping to the dynamic [Writer]/[Reader] API and juggling
// a bare uint32.
type File struct {
	Index uint32
}
