package routing

import (
	"github.com/tomhenderson/epidemic-routing/buffer"
	"github.com/tomhenderson/epidemic-routing/helper"
	"github.com/tomhenderson/epidemic-routing/packet"
	"github.com/tomhenderson/epidemic-routing/stack"
)

//recvEpidemic handles every control frame arriving on the epidemic port and
//drives the anti-entropy state machine:
//
//	BEACON     -> REPLY with our summary vector, if we are the initiator
//	REPLY      -> send disjoint packets, then REPLY_BACK with our vector
//	REPLY_BACK -> send disjoint packets
//
//Only the node with the smaller address reacts to a beacon, so exactly one
//side of a symmetric encounter initiates the exchange.
func (a *Agent) recvEpidemic(_ stack.Socket, p *packet.Packet, sender packet.Address) {
	a.queue.DropExpiredPackets()

	tHeader, err := packet.UnmarshalTypeHeader(p.Data)
	if err != nil {
		helper.Log.WithField("from", sender).WithError(err).Warn("dropping malformed control frame")
		return
	}

	switch tHeader.Type {
	case packet.Beacon:
		if a.mainAddress < sender && !a.isHostContactedRecently(sender) {
			a.sendSummaryVector(sender, true)
		}
	case packet.Reply:
		summary, err := packet.UnmarshalSummaryVector(p.Data[packet.TypeHeaderSize:])
		if err != nil {
			helper.Log.WithField("from", sender).WithError(err).Warn("dropping malformed reply")
			return
		}
		a.sendDisjointPackets(summary, sender)
		a.sendSummaryVector(sender, false)
	case packet.ReplyBack:
		summary, err := packet.UnmarshalSummaryVector(p.Data[packet.TypeHeaderSize:])
		if err != nil {
			helper.Log.WithField("from", sender).WithError(err).Warn("dropping malformed reply back")
			return
		}
		a.sendDisjointPackets(summary, sender)
	}
}

//sendSummaryVector unicasts this node's summary vector to dest, as a REPLY
//when this node initiates the session and as a REPLY_BACK otherwise.
func (a *Agent) sendSummaryVector(dest packet.Address, firstNode bool) {
	messageType := packet.ReplyBack
	if firstNode {
		messageType = packet.Reply
	}
	summary := a.queue.GetSummaryVector()
	data := append(packet.TypeHeader{Type: messageType}.Marshal(), summary.Marshal()...)
	a.sendPacket(&packet.Packet{Data: data, Tag: packet.TagControl}, dest)
}

//sendDisjointPackets schedules an immediate unicast of every buffered packet
//the peer does not hold, in buffer insertion order.
func (a *Agent) sendDisjointPackets(peerSummary *packet.SummaryVector, dest packet.Address) {
	for _, id := range a.queue.FindDisjointPackets(peerSummary).IDs() {
		entry := a.queue.Find(id)
		if entry.Packet == nil {
			continue
		}
		a.host.Schedule(0, func() {
			a.sendPacketFromQueue(dest, entry)
		})
	}
}

//sendPacketFromQueue forwards one queued data packet toward dest. The IP TTL
//is incremented so the surrounding stack's own decrement leaves it at its
//original value: the protocol drops packets on the epidemic hop count, never
//on TTL. The packet is suppressed when dest originated it or when it is
//addressed to this node.
func (a *Agent) sendPacketFromQueue(dest packet.Address, entry buffer.QueueEntry) {
	header := entry.Header
	header.TTL++
	route := &stack.Route{
		Source:       header.Source,
		Destination:  header.Destination,
		Gateway:      dest,
		OutputDevice: a.findDeviceForLocal(a.mainAddress),
	}
	if dest != header.Source && !a.isMyOwnAddress(header.Destination) {
		entry.UnicastForward(route, entry.Packet.Copy(), header)
	}
}
