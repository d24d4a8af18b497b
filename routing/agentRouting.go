package routing

import (
	"github.com/tomhenderson/epidemic-routing/buffer"
	"github.com/tomhenderson/epidemic-routing/helper"
	"github.com/tomhenderson/epidemic-routing/packet"
	"github.com/tomhenderson/epidemic-routing/stack"
)

//RouteOutput decides the egress route for a packet generated on this node.
//Packets addressed to ourselves are handed back for local delivery. For
//everything else the gateway is simply the destination; control packets
//leave through the device whose subnet contains the destination, while user
//data is deliberately funneled through the loopback device so that it
//re-enters RouteInput and gets stamped and buffered there.
func (a *Agent) RouteOutput(p *packet.Packet, header packet.Ipv4Header) *stack.Route {
	if a.isMyOwnAddress(header.Destination) {
		return &stack.Route{
			Source:       a.mainAddress,
			Destination:  header.Destination,
			OutputDevice: -1,
		}
	}
	route := &stack.Route{
		Source:      a.mainAddress,
		Destination: header.Destination,
		Gateway:     header.Destination,
	}
	if p.Tag == packet.TagControl {
		route.OutputDevice = a.findOutputDeviceForAddress(header.Destination)
	} else {
		route.OutputDevice = a.findLoopbackDevice()
	}
	return route
}

//RouteInput is the ingress path for every datagram the stack hands to the
//agent. It returns true when the packet has been consumed, whether or not it
//was stored; false means the agent refuses it (dead TTL, ICMP, no
//interfaces) and the stack may try another protocol.
func (a *Agent) RouteInput(p *packet.Packet, header packet.Ipv4Header, inputDevice int,
	ucb stack.UnicastForwardCallback, ecb stack.ErrorCallback, lcb stack.LocalDeliverCallback) bool {

	if len(a.sockets) == 0 {
		helper.Log.Error("no interfaces")
		return false
	}
	if header.TTL < 1 {
		return false
	}
	if header.Protocol == packet.ProtocolICMP {
		return false
	}

	//Local delivery: the destination is a broadcast of the arriving
	//interface or our own main address.
	for _, se := range a.sockets {
		if se.device != inputDevice {
			continue
		}
		if header.Destination != se.iface.Broadcast() && header.Destination != a.mainAddress {
			continue
		}

		localCopy := p.Copy()
		duplicatePacket := false
		//Data packets are entered into the queue at delivery so later
		//copies of the same packet are recognized as duplicates.
		if p.Tag == packet.TagNotSet {
			currentHeader, err := packet.UnmarshalEpidemicHeader(p.Data)
			if err != nil {
				helper.Log.WithError(err).Warn("dropping data packet without epidemic header")
				return true
			}
			localCopy.Data = localCopy.Data[packet.EpidemicHeaderSize:]
			if a.queue.Find(currentHeader.PacketID).PacketID == 0 {
				a.queue.Enqueue(buffer.QueueEntry{
					Packet:         p.Copy(),
					Header:         header,
					UnicastForward: ucb,
					Error:          ecb,
					ExpireTime:     currentHeader.Timestamp.Add(a.cfg.QueueEntryExpireTime),
					PacketID:       currentHeader.PacketID,
				})
			} else {
				duplicatePacket = true
			}
		}
		localCopy.Tag = packet.TagNotSet
		if !duplicatePacket {
			lcb(localCopy, header, inputDevice)
		}
		return true
	}

	//Forward path: the packet is not for us. Locally originated packets get
	//a fresh epidemic header; packets in transit get their hop count
	//decremented and die here when the budget or lifetime is gone.
	forwardCopy := p.Copy()
	a.dataPacketCounter++
	globalPacketID := packet.GlobalPacketID(header.Source, a.dataPacketCounter)

	newEntry := buffer.QueueEntry{
		Packet:         forwardCopy,
		Header:         header,
		UnicastForward: ucb,
		Error:          ecb,
		PacketID:       globalPacketID,
	}
	now := a.host.Now()

	if a.isMyOwnAddress(header.Source) {
		newHeader := packet.EpidemicHeader{
			PacketID:  globalPacketID,
			Timestamp: now,
			HopCount:  a.cfg.HopCount,
		}
		forwardCopy.Data = append(newHeader.Marshal(), forwardCopy.Data...)
		newEntry.ExpireTime = now.Add(a.cfg.QueueEntryExpireTime)
	} else {
		currentHeader, err := packet.UnmarshalEpidemicHeader(forwardCopy.Data)
		if err != nil {
			helper.Log.WithError(err).Warn("dropping transit packet without epidemic header")
			return true
		}
		if currentHeader.HopCount <= 1 ||
			currentHeader.Timestamp.Add(a.cfg.QueueEntryExpireTime).Before(now) {
			//The packet is consumed but not worth storing.
			return true
		}
		payload := forwardCopy.Data[packet.EpidemicHeaderSize:]
		newEntry.ExpireTime = currentHeader.Timestamp.Add(a.cfg.QueueEntryExpireTime)
		newEntry.PacketID = currentHeader.PacketID
		currentHeader.HopCount--
		forwardCopy.Data = append(currentHeader.Marshal(), payload...)
	}

	a.queue.Enqueue(newEntry)
	return true
}

//QueueSize reports how many packets the agent currently buffers.
func (a *Agent) QueueSize() int {
	return a.queue.GetSize()
}

//SummaryVector exposes the current summary vector, mainly for status
//reporting. It must be called on the agent's event loop.
func (a *Agent) SummaryVector() *packet.SummaryVector {
	return a.queue.GetSummaryVector()
}
