// package fragments provides low-level, alignment-aware primitives for
// reading and writing the DBus wire format.
//
// The provided encoder and decoder encode no DBus type semantics of
// their own. It is the caller's responsibility to sequence calls to
// produce valid DBus messages. [Encoder.WriteLater] and
// [Encoder.Measure] exist specifically to let a caller write a
// length-prefixed container (an array or a dict) without knowing the
// length up front: reserve the prefix, measure the body, then fill
// the prefix in.
//
// You should not need to use this package directly unless you are
// implementing the dynamic marshalling kernel in the parent dbus
// package, or writing your own low-level wire-format tooling.
package fragments
