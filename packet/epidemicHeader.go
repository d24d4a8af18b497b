package packet

import (
	"encoding/binary"
	"fmt"
	"time"
)

//EpidemicHeaderSize is the serialized size of an EpidemicHeader in bytes.
const EpidemicHeaderSize = 16

//EpidemicHeader is stamped on every data packet the first time a node
//ingests it and travels with the packet for its whole life.
//PacketID is the global identifier built by GlobalPacketID. HopCount is the
//number of forwards the packet has left; it is decremented on every
//re-ingest from the network and the packet dies when it reaches one.
//Timestamp is the wall time at the originating node; the packet expires
//everywhere at Timestamp + QueueEntryExpireTime.
type EpidemicHeader struct {
	PacketID  uint32
	HopCount  uint32
	Timestamp time.Time
}

//Marshal serializes the header as three big-endian fields:
//u32 packet ID, u32 hop count, u64 timestamp in nanoseconds.
func (h EpidemicHeader) Marshal() []byte {
	buf := make([]byte, EpidemicHeaderSize)
	binary.BigEndian.PutUint32(buf, h.PacketID)
	binary.BigEndian.PutUint32(buf[4:], h.HopCount)
	binary.BigEndian.PutUint64(buf[8:], uint64(h.Timestamp.UnixNano()))
	return buf
}

//UnmarshalEpidemicHeader parses an EpidemicHeader from the first 16 bytes
//of buf.
func UnmarshalEpidemicHeader(buf []byte) (EpidemicHeader, error) {
	if len(buf) < EpidemicHeaderSize {
		return EpidemicHeader{}, ErrShortBuffer
	}
	return EpidemicHeader{
		PacketID:  binary.BigEndian.Uint32(buf),
		HopCount:  binary.BigEndian.Uint32(buf[4:]),
		Timestamp: time.Unix(0, int64(binary.BigEndian.Uint64(buf[8:]))),
	}, nil
}

func (h EpidemicHeader) String() string {
	return fmt.Sprintf("Packet ID: %d Hop count: %d TimeStamp: %s",
		h.PacketID, h.HopCount, h.Timestamp.Format(time.RFC3339Nano))
}
