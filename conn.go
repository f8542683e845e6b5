package dbus

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"reflect"
	"sync"

	"github.com/ferrouswire/dbus/fragments"
	"github.com/ferrouswire/dbus/transport"
)

// ConnOption configures a [Conn] at construction time.
type ConnOption func(*connConfig)

type connConfig struct {
	signalBuf    int
	unhandledBuf int
}

// WithSignalBuffer sets the buffer size of the channel [Conn.Signal]
// returns. The default is 16; signals that arrive when the buffer is
// full are dropped, and logged.
func WithSignalBuffer(n int) ConnOption {
	return func(c *connConfig) { c.signalBuf = n }
}

// WithUnhandledCallBuffer sets the buffer size of the channel
// [Conn.UnhandledCall] returns. The default is 16.
func WithUnhandledCallBuffer(n int) ConnOption {
	return func(c *connConfig) { c.unhandledBuf = n }
}

// SystemBus connects to the system bus.
func SystemBus(ctx context.Context, opts ...ConnOption) (*Conn, error) {
	return newConn(ctx, "unix:path=/run/dbus/system_bus_socket", opts)
}

// SessionBus connects to the current user's session bus, resolving
// its address the way libdbus does: from $DBUS_SESSION_BUS_ADDRESS,
// or derived from $XDG_RUNTIME_DIR if that's unset.
func SessionBus(ctx context.Context, opts ...ConnOption) (*Conn, error) {
	addr, err := transport.SessionBusAddress()
	if err != nil {
		return nil, err
	}
	return newConn(ctx, addr, opts)
}

func newConn(ctx context.Context, addr string, opts []ConnOption) (*Conn, error) {
	cfg := connConfig{signalBuf: 16, unhandledBuf: 16}
	for _, o := range opts {
		o(&cfg)
	}

	t, err := transport.Dial(ctx, addr)
	if err != nil {
		var authErr *transport.AuthError
		if errors.As(err, &authErr) {
			return nil, &AuthError{Reason: authErr.Reason}
		}
		return nil, &TransportError{Err: err}
	}

	ret := &Conn{
		t:         t,
		order:     fragments.NativeEndian,
		calls:     map[uint32]*pendingCall{},
		signals:   make(chan *Message, cfg.signalBuf),
		unhandled: make(chan *Message, cfg.unhandledBuf),
	}

	go ret.readLoop()

	var name string
	if err := ret.Call(ctx, "org.freedesktop.DBus", "/org/freedesktop/DBus", "org.freedesktop.DBus", "Hello", "", nil, "s", []any{&name}); err != nil {
		ret.Close()
		return nil, fmt.Errorf("getting DBus client ID: %w", err)
	}
	ret.uniqueName = name

	return ret, nil
}

// Conn is a DBus connection: it multiplexes outgoing method calls and
// their replies, and delivers incoming signals and method calls, over
// a single duplex transport stream.
type Conn struct {
	t     transport.Transport
	order fragments.ByteOrder

	uniqueName string

	writeMu sync.Mutex

	mu         sync.Mutex
	closed     bool
	calls      map[uint32]*pendingCall
	lastSerial uint32

	signals   chan *Message
	unhandled chan *Message
}

type pendingCall struct {
	notify chan struct{}
	msg    *Message
	err    error
}

// Close closes the DBus connection. Any calls awaiting a reply
// return [net.ErrClosed].
func (c *Conn) Close() error {
	var pend map[uint32]*pendingCall
	c.mu.Lock()
	c.closed = true
	pend, c.calls = c.calls, nil
	c.mu.Unlock()

	for _, p := range pend {
		p.err = net.ErrClosed
		close(p.notify)
	}
	close(c.signals)
	close(c.unhandled)
	return c.t.Close()
}

// LocalName returns the connection's unique bus name, as assigned by
// the bus during the Hello handshake.
func (c *Conn) LocalName() string {
	return c.uniqueName
}

// Signal returns the channel on which incoming SIGNAL messages are
// delivered.
func (c *Conn) Signal() <-chan *Message {
	return c.signals
}

// UnhandledCall returns the channel on which incoming METHOD_CALL
// messages are delivered. Callers are responsible for constructing
// and sending a reply themselves with [Conn.Reply] or
// [Conn.ReplyError].
func (c *Conn) UnhandledCall() <-chan *Message {
	return c.unhandled
}

func (c *Conn) nextSerial() (uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, false
	}
	c.lastSerial++
	return c.lastSerial, true
}

func (c *Conn) send(msg *Message) error {
	bs, err := EncodeMessage(c.order, msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.t.Write(bs)
	return err
}

// Reply sends a METHOD_RETURN in response to call, a message received
// from [Conn.UnhandledCall].
func (c *Conn) Reply(call *Message, sig string, body ...any) error {
	serial, ok := c.nextSerial()
	if !ok {
		return net.ErrClosed
	}
	return c.send(&Message{
		Type:        TypeMethodReturn,
		Serial:      serial,
		Destination: call.Sender,
		ReplySerial: call.Serial,
		Signature:   sig,
		Body:        body,
	})
}

// ReplyError sends an ERROR in response to call, a message received
// from [Conn.UnhandledCall].
func (c *Conn) ReplyError(call *Message, name, detail string) error {
	serial, ok := c.nextSerial()
	if !ok {
		return net.ErrClosed
	}
	msg := &Message{
		Type:        TypeError,
		Serial:      serial,
		Destination: call.Sender,
		ReplySerial: call.Serial,
		ErrorName:   name,
	}
	if detail != "" {
		msg.Signature = "s"
		msg.Body = []any{detail}
	}
	return c.send(msg)
}

// Call invokes method on interfaceName at path on the peer named
// destination, using reqSig/body as the request signature and body,
// waits for the reply, and stores its body values into resp, one
// pointer per value, in order, once it arrives. respSig is not checked
// against the reply's signature; when resp and the reply body differ
// in length, only as many values as the shorter of the two are stored.
func (c *Conn) Call(ctx context.Context, destination string, path ObjectPath, interfaceName, method, reqSig string, body []any, respSig string, resp []any) error {
	serial, pending, err := c.registerCall()
	if err != nil {
		return err
	}
	defer c.unregisterCall(serial, pending)

	msg := &Message{
		Type:        TypeMethodCall,
		Serial:      serial,
		Destination: destination,
		Path:        path,
		Interface:   interfaceName,
		Member:      method,
		Signature:   reqSig,
		Body:        body,
	}
	if err := c.send(msg); err != nil {
		return &TransportError{Err: err}
	}

	select {
	case <-pending.notify:
	case <-ctx.Done():
		return ctx.Err()
	}
	if pending.err != nil {
		return pending.err
	}
	return decodeBodyInto(pending.msg, resp)
}

func (c *Conn) registerCall() (uint32, *pendingCall, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, nil, net.ErrClosed
	}
	c.lastSerial++
	serial := c.lastSerial
	pend := &pendingCall{notify: make(chan struct{})}
	c.calls[serial] = pend
	return serial, pend, nil
}

func (c *Conn) unregisterCall(serial uint32, pending *pendingCall) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls[serial] == pending {
		delete(c.calls, serial)
	}
}

// decodeBodyInto stores msg's decoded body values into resp, one
// pointer per value, in order.
func decodeBodyInto(msg *Message, resp []any) error {
	if msg == nil {
		return nil
	}
	n := len(resp)
	if n > len(msg.Body) {
		n = len(msg.Body)
	}
	for i := 0; i < n; i++ {
		rv := reflect.ValueOf(resp[i])
		if rv.Kind() != reflect.Pointer || rv.IsNil() {
			return fmt.Errorf("Call response slot %d must be a non-nil pointer, got %T", i, resp[i])
		}
		if err := fromDynamic(msg.Body[i], rv.Elem()); err != nil {
			return err
		}
	}
	return nil
}

func (c *Conn) readLoop() {
	for {
		msg, order, err := DecodeMessage(c.t)
		if err != nil {
			if c.isClosed() {
				return
			}
			log.Printf("dbus: read error: %v", err)
			return
		}
		c.order = order
		c.dispatch(msg)
	}
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) dispatch(msg *Message) {
	switch msg.Type {
	case TypeMethodReturn, TypeError:
		c.dispatchReply(msg)
	case TypeSignal:
		select {
		case c.signals <- msg:
		default:
			log.Printf("dbus: dropped signal %s.%s: receiver not keeping up", msg.Interface, msg.Member)
		}
	case TypeMethodCall:
		select {
		case c.unhandled <- msg:
		default:
			log.Printf("dbus: dropped call %s.%s: receiver not keeping up", msg.Interface, msg.Member)
		}
	}
}

func (c *Conn) dispatchReply(msg *Message) {
	pending := func() *pendingCall {
		c.mu.Lock()
		defer c.mu.Unlock()
		p := c.calls[msg.ReplySerial]
		delete(c.calls, msg.ReplySerial)
		return p
	}()
	if pending == nil {
		return // reply to a call we've stopped waiting for
	}
	if msg.Type == TypeError {
		detail := ""
		if len(msg.Body) > 0 {
			if s, ok := msg.Body[0].(string); ok {
				detail = s
			}
		}
		pending.err = &MethodReplyError{Name: msg.ErrorName, Detail: detail}
	} else {
		pending.msg = msg
	}
	close(pending.notify)
}
