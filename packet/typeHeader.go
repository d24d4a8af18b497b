package packet

import (
	"errors"
	"fmt"
)

//MessageType distinguishes the three epidemic control messages. The numeric
//tags are fixed on the wire.
type MessageType uint8

const (
	//Beacon advertises a node's presence to everyone in radio range.
	Beacon MessageType = 0
	//Reply carries the summary vector of the session initiator.
	Reply MessageType = 1
	//ReplyBack carries the summary vector of the responder.
	ReplyBack MessageType = 2
)

//TypeHeaderSize is the serialized size of a TypeHeader in bytes.
const TypeHeaderSize = 1

//ErrShortBuffer is returned when a frame is truncated.
var ErrShortBuffer = errors.New("packet: buffer too short")

//ErrMalformedHeader is returned when a frame carries an unknown message type
//or an otherwise unparsable header.
var ErrMalformedHeader = errors.New("packet: malformed header")

//TypeHeader is the one byte header that starts every control frame.
type TypeHeader struct {
	Type MessageType
}

//IsMessageType checks the TypeHeader against an expected message type.
func (h TypeHeader) IsMessageType(t MessageType) bool {
	return h.Type == t
}

func (h TypeHeader) String() string {
	switch h.Type {
	case Beacon:
		return "BEACON"
	case Reply:
		return "REPLY"
	case ReplyBack:
		return "REPLY_BACK"
	default:
		return "UNKNOWN_TYPE"
	}
}

//Marshal serializes the TypeHeader to its one byte wire form.
func (h TypeHeader) Marshal() []byte {
	return []byte{byte(h.Type)}
}

//UnmarshalTypeHeader parses the first byte of buf. A value outside the three
//known message types yields ErrMalformedHeader; the caller drops the frame.
func UnmarshalTypeHeader(buf []byte) (TypeHeader, error) {
	if len(buf) < TypeHeaderSize {
		return TypeHeader{}, ErrShortBuffer
	}
	switch t := MessageType(buf[0]); t {
	case Beacon, Reply, ReplyBack:
		return TypeHeader{Type: t}, nil
	default:
		return TypeHeader{}, fmt.Errorf("%w: message type %d", ErrMalformedHeader, buf[0])
	}
}
