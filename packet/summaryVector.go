package packet

import (
	"encoding/binary"
	"fmt"
	"strings"
)

//SummaryVector is the ordered list of global packet IDs a node currently
//buffers. It is exchanged during an anti-entropy session so that each side
//can compute which packets the other one misses. The order on the wire is
//the insertion order of the packet queue.
type SummaryVector struct {
	ids []uint32
}

//SummaryVectorFactory creates an empty SummaryVector with room for size IDs.
func SummaryVectorFactory(size int) *SummaryVector {
	return &SummaryVector{ids: make([]uint32, 0, size)}
}

//Add appends a packet ID to the vector.
func (sv *SummaryVector) Add(packetID uint32) {
	sv.ids = append(sv.ids, packetID)
}

//Size returns the number of IDs in the vector.
func (sv *SummaryVector) Size() int {
	return len(sv.ids)
}

//Contains checks whether the vector holds the given packet ID.
func (sv *SummaryVector) Contains(packetID uint32) bool {
	for _, id := range sv.ids {
		if id == packetID {
			return true
		}
	}
	return false
}

//IDs returns the packet IDs in wire order. The caller must not mutate the
//returned slice.
func (sv *SummaryVector) IDs() []uint32 {
	return sv.ids
}

//MarshaledSize returns the serialized size of the vector in bytes.
func (sv *SummaryVector) MarshaledSize() int {
	return 4 + 4*len(sv.ids)
}

//Marshal serializes the vector as a big-endian u32 length followed by the
//IDs as big-endian u32 values.
func (sv *SummaryVector) Marshal() []byte {
	buf := make([]byte, sv.MarshaledSize())
	binary.BigEndian.PutUint32(buf, uint32(len(sv.ids)))
	for i, id := range sv.ids {
		binary.BigEndian.PutUint32(buf[4+4*i:], id)
	}
	return buf
}

//UnmarshalSummaryVector parses a SummaryVector from buf. A declared length
//that overruns the buffer yields ErrShortBuffer.
func UnmarshalSummaryVector(buf []byte) (*SummaryVector, error) {
	if len(buf) < 4 {
		return nil, ErrShortBuffer
	}
	length := binary.BigEndian.Uint32(buf)
	if uint32(len(buf)-4)/4 < length {
		return nil, ErrShortBuffer
	}
	sv := SummaryVectorFactory(int(length))
	for i := uint32(0); i < length; i++ {
		sv.Add(binary.BigEndian.Uint32(buf[4+4*i:]))
	}
	return sv, nil
}

//String lists the vector as NodeID:PacketID pairs, one per line.
func (sv *SummaryVector) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Summary vector with size: %d\nNodeID:PacketID\n", len(sv.ids))
	for _, id := range sv.ids {
		fmt.Fprintf(&b, "%s:%d\n", Address(id>>16&0xFFFF), id&0xFFFF)
	}
	return b.String()
}
