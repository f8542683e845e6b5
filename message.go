package dbus

import (
	"fmt"
	"io"

	"github.com/ferrouswire/dbus/fragments"
)

// MessageType is the type of a DBus message.
type MessageType byte

const (
	TypeMethodCall   MessageType = 1
	TypeMethodReturn MessageType = 2
	TypeError        MessageType = 3
	TypeSignal       MessageType = 4
)

// Header flag bits, as carried in [Message.Flags].
const (
	FlagNoReplyExpected             byte = 0x1
	FlagNoAutoStart                 byte = 0x2
	FlagAllowInteractiveAuthorization byte = 0x4
)

// headerKey identifies a DBus message header field.
type headerKey byte

const (
	keyPath        headerKey = 1
	keyInterface   headerKey = 2
	keyMember      headerKey = 3
	keyErrorName   headerKey = 4
	keyReplySerial headerKey = 5
	keyDestination headerKey = 6
	keySender      headerKey = 7
	keySignature   headerKey = 8
	keyUnixFDs     headerKey = 9
)

// headerFieldOrder is the order header fields are emitted on the
// wire. Order has no protocol significance, but keeping it fixed
// makes encoded messages deterministic and easy to test against a
// known byte sequence.
var headerFieldOrder = []headerKey{
	keyPath, keyDestination, keyInterface, keyMember,
	keyErrorName, keyReplySerial, keySender, keySignature, keyUnixFDs,
}

var (
	sigObjectPath = &Type{Kind: KindPrimitive, Code: TypeObjectPath}
	sigString     = &Type{Kind: KindPrimitive, Code: TypeString}
	sigUint32     = &Type{Kind: KindPrimitive, Code: TypeUint32}
	sigSignature  = &Type{Kind: KindPrimitive, Code: TypeSignature}
)

// Message is a decoded DBus message: the header fields relevant to
// routing and dispatch, plus the decoded message body.
type Message struct {
	Type   MessageType
	Flags  byte
	Serial uint32

	Path        ObjectPath
	Interface   string
	Member      string
	ErrorName   string
	ReplySerial uint32
	Destination string
	Sender      string
	Signature   string // body signature text; empty means an empty body
	UnixFDs     uint32

	// Unknown holds header fields this package doesn't interpret,
	// keyed by their wire key code.
	Unknown map[byte]Variant

	// Body holds the decoded body values, one per top-level type
	// described by Signature.
	Body []any
}

// Valid reports whether m's header fields satisfy the requirements of
// its message Type.
func (m *Message) Valid() error {
	if m.Serial == 0 {
		return fmt.Errorf("invalid message with zero serial")
	}
	switch m.Type {
	case TypeMethodCall, TypeSignal:
		if m.Path == "" {
			return fmt.Errorf("missing required header field PATH")
		}
		if m.Member == "" {
			return fmt.Errorf("missing required header field MEMBER")
		}
		if m.Type == TypeMethodCall && m.Destination == "" {
			return fmt.Errorf("missing required header field DESTINATION")
		}
	case TypeMethodReturn:
		if m.ReplySerial == 0 {
			return fmt.Errorf("missing required header field REPLY_SERIAL")
		}
	case TypeError:
		if m.ReplySerial == 0 {
			return fmt.Errorf("missing required header field REPLY_SERIAL")
		}
		if m.ErrorName == "" {
			return fmt.Errorf("missing required header field ERROR_NAME")
		}
	default:
		return fmt.Errorf("invalid message type %d", m.Type)
	}
	return nil
}

// WantReply reports whether this message requires a METHOD_RETURN or
// ERROR reply.
func (m *Message) WantReply() bool {
	return m.Type == TypeMethodCall && m.Flags&FlagNoReplyExpected == 0
}

// CanInteract reports whether the message's sender is prepared to
// wait for an interactive authorization prompt.
func (m *Message) CanInteract() bool {
	return m.Type == TypeMethodCall && m.Flags&FlagAllowInteractiveAuthorization != 0
}

// EncodeMessage serializes msg to the DBus wire format, using order
// for the message's byte order mark and all multi-byte fields.
func EncodeMessage(order fragments.ByteOrder, msg *Message) ([]byte, error) {
	if err := msg.Valid(); err != nil {
		return nil, &ProtocolError{Reason: err.Error()}
	}

	bodyEnc := fragments.Encoder{Order: order}
	if len(msg.Body) > 0 {
		types, err := ParseMany(msg.Signature)
		if err != nil {
			return nil, err
		}
		if len(types) != len(msg.Body) {
			return nil, fmt.Errorf("message signature %q describes %d values, got %d body values", msg.Signature, len(types), len(msg.Body))
		}
		for i, t := range types {
			if err := writeValue(&bodyEnc, t, msg.Body[i]); err != nil {
				return nil, err
			}
		}
	} else if msg.Signature != "" {
		return nil, fmt.Errorf("message has header field SIGNATURE %q but an empty body", msg.Signature)
	}
	body := bodyEnc.Out

	enc := fragments.Encoder{Order: order}
	enc.ByteOrderFlag()
	enc.Uint8(byte(msg.Type))
	enc.Uint8(msg.Flags)
	enc.Uint8(1) // protocol major version

	fillBodyLen := enc.WriteLater('u', 4, 4)
	enc.Uint32(msg.Serial)

	if err := writeHeaderFields(&enc, msg); err != nil {
		return nil, err
	}
	enc.Pad(8)

	if err := fillBodyLen(uint32(len(body))); err != nil {
		return nil, err
	}

	return append(enc.Out, body...), nil
}

func writeHeaderFields(enc *fragments.Encoder, msg *Message) error {
	return enc.Array(8, func() error {
		for _, key := range headerFieldOrder {
			val, sig, ok := headerFieldValue(msg, key)
			if !ok {
				continue
			}
			if err := enc.Struct(func() error {
				enc.Uint8(byte(key))
				enc.SmallString(sig.String())
				return writeValue(enc, sig, val)
			}); err != nil {
				return err
			}
		}
		for key, v := range msg.Unknown {
			if err := enc.Struct(func() error {
				enc.Uint8(key)
				enc.SmallString(v.Sig.String())
				return writeValue(enc, v.Sig, v.Value)
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

func headerFieldValue(msg *Message, key headerKey) (value any, sig *Type, ok bool) {
	switch key {
	case keyPath:
		if msg.Path == "" {
			return nil, nil, false
		}
		return msg.Path, sigObjectPath, true
	case keyInterface:
		if msg.Interface == "" {
			return nil, nil, false
		}
		return msg.Interface, sigString, true
	case keyMember:
		if msg.Member == "" {
			return nil, nil, false
		}
		return msg.Member, sigString, true
	case keyErrorName:
		if msg.ErrorName == "" {
			return nil, nil, false
		}
		return msg.ErrorName, sigString, true
	case keyReplySerial:
		if msg.ReplySerial == 0 {
			return nil, nil, false
		}
		return msg.ReplySerial, sigUint32, true
	case keyDestination:
		if msg.Destination == "" {
			return nil, nil, false
		}
		return msg.Destination, sigString, true
	case keySender:
		if msg.Sender == "" {
			return nil, nil, false
		}
		return msg.Sender, sigString, true
	case keySignature:
		if msg.Signature == "" {
			return nil, nil, false
		}
		return msg.Signature, sigSignature, true
	case keyUnixFDs:
		if msg.UnixFDs == 0 {
			return nil, nil, false
		}
		return msg.UnixFDs, sigUint32, true
	}
	return nil, nil, false
}

// DecodeMessage reads one complete DBus message from r.
func DecodeMessage(r io.Reader) (*Message, fragments.ByteOrder, error) {
	dec := fragments.Decoder{In: r}
	if err := dec.ByteOrderFlag(); err != nil {
		return nil, nil, &ProtocolError{Reason: fmt.Sprintf("reading byte order mark: %v", err)}
	}

	typeByte, err := dec.Uint8()
	if err != nil {
		return nil, nil, err
	}
	flags, err := dec.Uint8()
	if err != nil {
		return nil, nil, err
	}
	version, err := dec.Uint8()
	if err != nil {
		return nil, nil, err
	}
	if version != 1 {
		return nil, nil, &ProtocolError{Reason: fmt.Sprintf("unsupported DBus protocol version %d", version)}
	}
	bodyLen, err := dec.Uint32()
	if err != nil {
		return nil, nil, err
	}
	serial, err := dec.Uint32()
	if err != nil {
		return nil, nil, err
	}

	msg := &Message{
		Type:   MessageType(typeByte),
		Flags:  flags,
		Serial: serial,
	}

	if err := readHeaderFields(&dec, msg); err != nil {
		return nil, nil, err
	}
	if err := dec.Pad(8); err != nil {
		return nil, nil, err
	}

	if bodyLen > 0 {
		if msg.Signature == "" {
			return nil, nil, &ProtocolError{Reason: "message has a non-empty body but no SIGNATURE header field"}
		}
		body := io.LimitReader(dec.In, int64(bodyLen))
		bodyDec := fragments.Decoder{Order: dec.Order, In: body}
		types, err := ParseMany(msg.Signature)
		if err != nil {
			return nil, nil, err
		}
		msg.Body = make([]any, len(types))
		for i, t := range types {
			v, err := readValue(&bodyDec, t)
			if err != nil {
				return nil, nil, wrapOverrun(err)
			}
			msg.Body[i] = v
		}
	}

	if err := msg.Valid(); err != nil {
		return nil, nil, &ProtocolError{Reason: err.Error()}
	}

	return msg, dec.Order, nil
}

func readHeaderFields(dec *fragments.Decoder, msg *Message) error {
	_, err := dec.Array(8, func(int) error {
		return dec.Struct(func() error {
			key, err := dec.Uint8()
			if err != nil {
				return err
			}
			sigText, err := dec.SmallString()
			if err != nil {
				return err
			}
			sig, err := ParseOne(sigText)
			if err != nil {
				return &ProtocolError{Reason: fmt.Sprintf("header field %d has invalid signature %q: %v", key, sigText, err)}
			}
			value, err := readValue(dec, sig)
			if err != nil {
				return err
			}
			return assignHeaderField(msg, headerKey(key), sig, value)
		})
	})
	return err
}

func assignHeaderField(msg *Message, key headerKey, sig *Type, value any) error {
	switch key {
	case keyPath:
		p, ok := value.(ObjectPath)
		if !ok {
			return protocolErrorf("header field PATH has wrong type %T", value)
		}
		msg.Path = p
	case keyInterface:
		s, ok := value.(string)
		if !ok {
			return protocolErrorf("header field INTERFACE has wrong type %T", value)
		}
		msg.Interface = s
	case keyMember:
		s, ok := value.(string)
		if !ok {
			return protocolErrorf("header field MEMBER has wrong type %T", value)
		}
		msg.Member = s
	case keyErrorName:
		s, ok := value.(string)
		if !ok {
			return protocolErrorf("header field ERROR_NAME has wrong type %T", value)
		}
		msg.ErrorName = s
	case keyReplySerial:
		u, ok := value.(uint32)
		if !ok {
			return protocolErrorf("header field REPLY_SERIAL has wrong type %T", value)
		}
		msg.ReplySerial = u
	case keyDestination:
		s, ok := value.(string)
		if !ok {
			return protocolErrorf("header field DESTINATION has wrong type %T", value)
		}
		msg.Destination = s
	case keySender:
		s, ok := value.(string)
		if !ok {
			return protocolErrorf("header field SENDER has wrong type %T", value)
		}
		msg.Sender = s
	case keySignature:
		s, ok := value.(string)
		if !ok {
			return protocolErrorf("header field SIGNATURE has wrong type %T", value)
		}
		msg.Signature = s
	case keyUnixFDs:
		u, ok := value.(uint32)
		if !ok {
			return protocolErrorf("header field UNIX_FDS has wrong type %T", value)
		}
		msg.UnixFDs = u
	default:
		if msg.Unknown == nil {
			msg.Unknown = map[byte]Variant{}
		}
		msg.Unknown[byte(key)] = Variant{Sig: sig, Value: value}
	}
	return nil
}
