package message

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"gossipkv/internal/cluster"
	"gossipkv/internal/replication"
)

const (
	// Version is the frame format version written in the first header byte.
	Version byte = 1
	// HeaderSize is the minimum length of a valid frame.
	HeaderSize = 2
)

var (
	ErrShortMessage       = errors.New("message shorter than header")
	ErrUnsupportedVersion = errors.New("unsupported message version")
	ErrUnknownKind        = errors.New("unknown message kind")
	ErrMalformed          = errors.New("malformed message body")
)

// Field numbers of the frame body.
const (
	fieldSender    protowire.Number = 1
	fieldHeartbeat protowire.Number = 2
	fieldMember    protowire.Number = 3
	fieldTxID      protowire.Number = 4
	fieldKey       protowire.Number = 5
	fieldValue     protowire.Number = 6
	fieldRole      protowire.Number = 7
	fieldSuccess   protowire.Number = 8

	fieldAddrID   protowire.Number = 1
	fieldAddrPort protowire.Number = 2
)

// Encode serializes m into a frame.
func Encode(m Message) ([]byte, error) {
	buf := []byte{Version, byte(m.Kind())}

	switch msg := m.(type) {
	case *Membership:
		if !msg.Type.IsMembership() {
			return nil, fmt.Errorf("%w: %s is not a membership kind", ErrUnknownKind, msg.Type)
		}
		buf = appendAddress(buf, fieldSender, msg.Sender)
		buf = protowire.AppendTag(buf, fieldHeartbeat, protowire.VarintType)
		buf = protowire.AppendVarint(buf, protowire.EncodeZigZag(msg.Heartbeat))
		for _, member := range msg.Members {
			buf = appendAddress(buf, fieldMember, member)
		}
	case *Data:
		if !msg.Type.IsData() {
			return nil, fmt.Errorf("%w: %s is not a data kind", ErrUnknownKind, msg.Type)
		}
		buf = appendAddress(buf, fieldSender, msg.Sender)
		buf = protowire.AppendTag(buf, fieldTxID, protowire.VarintType)
		buf = protowire.AppendVarint(buf, protowire.EncodeZigZag(msg.TxID))
		if msg.Key != "" {
			buf = protowire.AppendTag(buf, fieldKey, protowire.BytesType)
			buf = protowire.AppendString(buf, msg.Key)
		}
		if msg.Value != "" {
			buf = protowire.AppendTag(buf, fieldValue, protowire.BytesType)
			buf = protowire.AppendString(buf, msg.Value)
		}
		if msg.Role != replication.RoleNone {
			buf = protowire.AppendTag(buf, fieldRole, protowire.VarintType)
			buf = protowire.AppendVarint(buf, uint64(msg.Role))
		}
		if msg.Success {
			buf = protowire.AppendTag(buf, fieldSuccess, protowire.VarintType)
			buf = protowire.AppendVarint(buf, protowire.EncodeBool(true))
		}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKind, m)
	}

	return buf, nil
}

// Decode parses a frame produced by Encode. Frames shorter than HeaderSize
// yield ErrShortMessage; unknown kinds yield ErrUnknownKind. A body without
// a sender is ErrMalformed.
func Decode(frame []byte) (Message, error) {
	if len(frame) < HeaderSize {
		return nil, ErrShortMessage
	}
	if frame[0] != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, frame[0])
	}

	kind := Kind(frame[1])
	body := frame[HeaderSize:]

	switch {
	case kind.IsMembership():
		m := &Membership{Type: kind}
		if err := decodeMembership(body, m); err != nil {
			return nil, err
		}
		if m.Sender.IsZero() {
			return nil, fmt.Errorf("%w: %s without sender", ErrMalformed, kind)
		}
		return m, nil
	case kind.IsData():
		m := &Data{Type: kind}
		if err := decodeData(body, m); err != nil {
			return nil, err
		}
		if m.Sender.IsZero() {
			return nil, fmt.Errorf("%w: %s without sender", ErrMalformed, kind)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, frame[1])
	}
}

func decodeMembership(b []byte, m *Membership) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldSender && typ == protowire.BytesType:
			return consumeAddress(b, &m.Sender)
		case num == fieldMember && typ == protowire.BytesType:
			var addr cluster.Address
			n, err := consumeAddress(b, &addr)
			if err == nil {
				m.Members = append(m.Members, addr)
			}
			return n, err
		case num == fieldHeartbeat && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			m.Heartbeat = protowire.DecodeZigZag(v)
			return n, nil
		default:
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
	})
}

func decodeData(b []byte, m *Data) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldSender && typ == protowire.BytesType:
			return consumeAddress(b, &m.Sender)
		case num == fieldTxID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			m.TxID = protowire.DecodeZigZag(v)
			return n, nil
		case num == fieldKey && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			m.Key = v
			return n, nil
		case num == fieldValue && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			m.Value = v
			return n, nil
		case num == fieldRole && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			m.Role = replication.Role(v)
			return n, nil
		case num == fieldSuccess && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			m.Success = protowire.DecodeBool(v)
			return n, nil
		default:
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
	})
}

// walkFields calls fn for each field of b. fn consumes the field value and
// returns the number of bytes used, negative on a protowire parse error.
func walkFields(b []byte, fn func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		n, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return nil
}

func appendAddress(buf []byte, num protowire.Number, addr cluster.Address) []byte {
	var nested []byte
	nested = protowire.AppendTag(nested, fieldAddrID, protowire.VarintType)
	nested = protowire.AppendVarint(nested, uint64(uint32(addr.ID)))
	nested = protowire.AppendTag(nested, fieldAddrPort, protowire.VarintType)
	nested = protowire.AppendVarint(nested, uint64(addr.Port))

	buf = protowire.AppendTag(buf, num, protowire.BytesType)
	return protowire.AppendBytes(buf, nested)
}

func consumeAddress(b []byte, addr *cluster.Address) (int, error) {
	nested, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return n, nil
	}

	err := walkFields(nested, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldAddrID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			addr.ID = int32(uint32(v))
			return n, nil
		case num == fieldAddrPort && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			addr.Port = uint16(v)
			return n, nil
		default:
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
	})
	return n, err
}
