//Package buffer holds the epidemic packet queue: a bounded, content-addressed
//store of in-flight data packets. The queue is not a routing table; it is the
//set of things a node gossips to every peer it encounters.
package buffer

import (
	"time"

	"github.com/tomhenderson/epidemic-routing/packet"
	"github.com/tomhenderson/epidemic-routing/stack"
)

//QueueEntry owns one buffered data packet: the payload copy with its
//epidemic header still attached, the IPv4 header it arrived with, the
//callbacks of the ingress context and the absolute expiry instant.
//The callbacks must be cheap to copy; the buffer may outlive the ingress
//context that supplied them.
type QueueEntry struct {
	Packet         *packet.Packet
	Header         packet.Ipv4Header
	UnicastForward stack.UnicastForwardCallback
	Error          stack.ErrorCallback
	ExpireTime     time.Time
	PacketID       uint32
}

//PacketQueue keeps at most maxQueueLen entries in insertion order, keyed by
//the global packet ID. All methods run on the agent's event loop, so the
//queue is unsynchronized.
type PacketQueue struct {
	maxQueueLen uint32
	entries     []QueueEntry
	members     map[uint32]struct{}
	clock       func() time.Time
}

//PacketQueueFactory creates an empty queue. clock supplies the current time
//for expiry checks; a nil clock means time.Now.
func PacketQueueFactory(maxQueueLen uint32, clock func() time.Time) *PacketQueue {
	if clock == nil {
		clock = time.Now
	}
	return &PacketQueue{
		maxQueueLen: maxQueueLen,
		entries:     make([]QueueEntry, 0, maxQueueLen),
		members:     make(map[uint32]struct{}),
		clock:       clock,
	}
}

//Enqueue appends entry unless its packet ID is already buffered. At capacity
//the oldest entry is evicted first. Enqueue never fails.
func (q *PacketQueue) Enqueue(entry QueueEntry) {
	if _, ok := q.members[entry.PacketID]; ok {
		return
	}
	if uint32(len(q.entries)) == q.maxQueueLen && len(q.entries) > 0 {
		q.removeAt(0)
	}
	q.entries = append(q.entries, entry)
	q.members[entry.PacketID] = struct{}{}
}

//Dequeue pops the oldest non-expired entry into out. Expired entries met
//during the scan are dropped silently. It returns false when the queue has
//no live entry left.
func (q *PacketQueue) Dequeue(out *QueueEntry) bool {
	now := q.clock()
	for len(q.entries) > 0 {
		entry := q.entries[0]
		q.removeAt(0)
		if entry.ExpireTime.Before(now) {
			continue
		}
		*out = entry
		return true
	}
	return false
}

//Find returns the entry with the given packet ID. A miss returns the zero
//entry, whose PacketID is 0; real traffic never uses ID 0 because the local
//counter is incremented before the first stamp.
func (q *PacketQueue) Find(packetID uint32) QueueEntry {
	if _, ok := q.members[packetID]; ok {
		for _, entry := range q.entries {
			if entry.PacketID == packetID {
				return entry
			}
		}
	}
	return QueueEntry{}
}

//DropExpiredPackets removes every entry whose expiry lies in the past.
func (q *PacketQueue) DropExpiredPackets() {
	now := q.clock()
	kept := q.entries[:0]
	for _, entry := range q.entries {
		if entry.ExpireTime.Before(now) {
			delete(q.members, entry.PacketID)
			continue
		}
		kept = append(kept, entry)
	}
	q.entries = kept
}

//GetSummaryVector drops expired entries and returns the buffered packet IDs
//in insertion order.
func (q *PacketQueue) GetSummaryVector() *packet.SummaryVector {
	q.DropExpiredPackets()
	sv := packet.SummaryVectorFactory(len(q.entries))
	for _, entry := range q.entries {
		sv.Add(entry.PacketID)
	}
	return sv
}

//FindDisjointPackets returns the IDs buffered here that are absent from the
//peer's summary vector, in insertion order. The peer vector is indexed once
//so each membership test is O(1).
func (q *PacketQueue) FindDisjointPackets(peer *packet.SummaryVector) *packet.SummaryVector {
	peerSet := make(map[uint32]struct{}, peer.Size())
	for _, id := range peer.IDs() {
		peerSet[id] = struct{}{}
	}
	disjoint := packet.SummaryVectorFactory(len(q.entries))
	for _, entry := range q.entries {
		if _, ok := peerSet[entry.PacketID]; !ok {
			disjoint.Add(entry.PacketID)
		}
	}
	return disjoint
}

//SetMaxQueueLen caps the queue, evicting oldest entries if it already holds
//more than the new limit.
func (q *PacketQueue) SetMaxQueueLen(maxQueueLen uint32) {
	q.maxQueueLen = maxQueueLen
	for uint32(len(q.entries)) > q.maxQueueLen {
		q.removeAt(0)
	}
}

func (q *PacketQueue) GetMaxQueueLen() uint32 {
	return q.maxQueueLen
}

func (q *PacketQueue) GetSize() int {
	return len(q.entries)
}

func (q *PacketQueue) removeAt(i int) {
	delete(q.members, q.entries[i].PacketID)
	q.entries = append(q.entries[:i], q.entries[i+1:]...)
}
