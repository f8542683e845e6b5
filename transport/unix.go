// Package transport implements DBus transport acquisition: dialing
// the bus's Unix domain socket and performing the SASL EXTERNAL
// authentication handshake.
package transport

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Transport is a raw, authenticated DBus connection.
type Transport interface {
	io.ReadWriteCloser
}

// Dial connects to the bus at address, which must be of the form
// "unix:path=/some/path". It performs the SASL EXTERNAL
// authentication handshake before returning.
func Dial(ctx context.Context, address string) (Transport, error) {
	path, ok := strings.CutPrefix(address, "unix:path=")
	if !ok {
		return nil, fmt.Errorf("unsupported DBus address %q: only unix:path= addresses are supported", address)
	}

	conn, err := net.DialUnix("unix", nil, &net.UnixAddr{Net: "unix", Name: path})
	if err != nil {
		return nil, &AuthError{Reason: err.Error()}
	}

	ret := &unixTransport{
		conn: conn,
		buf:  bufio.NewReader(conn),
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	if err := ret.conn.SetDeadline(deadline); err != nil {
		ret.Close()
		return nil, err
	}
	if err := ret.auth(); err != nil {
		ret.Close()
		return nil, err
	}
	if err := ret.conn.SetDeadline(time.Time{}); err != nil {
		ret.Close()
		return nil, err
	}

	return ret, nil
}

// SessionBusAddress resolves the address of the caller's session bus,
// the way libdbus does: from $DBUS_SESSION_BUS_ADDRESS, falling back
// to the well-known path under $XDG_RUNTIME_DIR.
func SessionBusAddress() (string, error) {
	if addr := os.Getenv("DBUS_SESSION_BUS_ADDRESS"); addr != "" {
		for _, uri := range strings.Split(addr, ";") {
			if strings.HasPrefix(uri, "unix:path=") {
				return uri, nil
			}
		}
		return "", fmt.Errorf("no usable unix:path= address in DBUS_SESSION_BUS_ADDRESS %q", addr)
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return "unix:path=" + dir + "/bus", nil
	}
	return "", fmt.Errorf("session bus address not available: set DBUS_SESSION_BUS_ADDRESS or XDG_RUNTIME_DIR")
}

// AuthError is returned when dialing or authenticating with the bus
// fails. It mirrors [github.com/ferrouswire/dbus.AuthError] so that
// transport failures surface with the same shape callers already
// handle; the two are kept separate to avoid an import cycle between
// this package and the root package.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("dbus authentication failed: %s", e.Reason)
}

// unixTransport is a Transport that runs over a Unix domain socket.
type unixTransport struct {
	conn *net.UnixConn
	buf  *bufio.Reader
}

func (u *unixTransport) Read(bs []byte) (int, error) {
	return u.buf.Read(bs)
}

func (u *unixTransport) Write(bs []byte) (int, error) {
	return u.conn.Write(bs)
}

func (u *unixTransport) Close() error {
	return u.conn.Close()
}

// auth performs the minimal SASL EXTERNAL handshake: send a leading
// NUL, AUTH EXTERNAL with the hex-encoded ASCII decimal UID, and
// BEGIN. It does not negotiate NEGOTIATE_UNIX_FD: this package never
// attaches file descriptors to outgoing messages, and the 'h' wire
// type's space is reserved but otherwise unused.
func (u *unixTransport) auth() error {
	uid := os.Getuid()
	uidHex := hex.EncodeToString([]byte(strconv.Itoa(uid)))

	if _, err := u.conn.Write([]byte("\x00")); err != nil {
		return &AuthError{Reason: err.Error()}
	}
	if _, err := fmt.Fprintf(u.conn, "AUTH EXTERNAL %s\r\n", uidHex); err != nil {
		return &AuthError{Reason: err.Error()}
	}

	resp, err := u.buf.ReadString('\n')
	if err != nil {
		return &AuthError{Reason: err.Error()}
	}
	if !strings.HasPrefix(resp, "OK ") {
		return &AuthError{Reason: fmt.Sprintf("AUTH EXTERNAL failed, server said %q", strings.TrimSpace(resp))}
	}

	if _, err := u.conn.Write([]byte("BEGIN\r\n")); err != nil {
		return &AuthError{Reason: err.Error()}
	}
	return nil
}
