package packet

import (
	"encoding/binary"
	"fmt"
)

//Ipv4HeaderSize is the serialized size of the Ipv4Header envelope in bytes.
const Ipv4HeaderSize = 12

//ProtocolICMP is the IP protocol number the agent refuses to route.
const ProtocolICMP = 1

//ProtocolUDP is the IP protocol number stamped on user datagrams.
const ProtocolUDP = 17

//Ipv4Header carries the addressing fields the routing agent needs from the
//surrounding IP layer. A real stack hands these in with every datagram; the
//UDP transport serializes them as a 12 byte envelope in front of forwarded
//data frames.
type Ipv4Header struct {
	Source      Address
	Destination Address
	TTL         uint8
	Protocol    uint8
}

//Marshal serializes the header: u32 source, u32 destination, u8 TTL,
//u8 protocol and two reserved bytes, all big-endian.
func (h Ipv4Header) Marshal() []byte {
	buf := make([]byte, Ipv4HeaderSize)
	binary.BigEndian.PutUint32(buf, uint32(h.Source))
	binary.BigEndian.PutUint32(buf[4:], uint32(h.Destination))
	buf[8] = h.TTL
	buf[9] = h.Protocol
	return buf
}

//UnmarshalIpv4Header parses an Ipv4Header from the first 12 bytes of buf.
func UnmarshalIpv4Header(buf []byte) (Ipv4Header, error) {
	if len(buf) < Ipv4HeaderSize {
		return Ipv4Header{}, ErrShortBuffer
	}
	return Ipv4Header{
		Source:      Address(binary.BigEndian.Uint32(buf)),
		Destination: Address(binary.BigEndian.Uint32(buf[4:])),
		TTL:         buf[8],
		Protocol:    buf[9],
	}, nil
}

func (h Ipv4Header) String() string {
	return fmt.Sprintf("%s > %s ttl %d proto %d", h.Source, h.Destination, h.TTL, h.Protocol)
}
