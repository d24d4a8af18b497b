//Package stack defines what the epidemic routing agent requires from its
//host network stack. The agent is single-threaded: every callback, timer and
//receive handler runs to completion on the stack's one event loop, so none
//of the routing state needs locking.
package stack

import (
	"time"

	"github.com/tomhenderson/epidemic-routing/packet"
)

//RecvCallback is invoked on the event loop for every datagram that arrives
//on a socket. sender is the IPv4 address of the emitting node.
type RecvCallback func(s Socket, p *packet.Packet, sender packet.Address)

//Socket is one UDP endpoint bound to an interface.
type Socket interface {
	//SendTo transmits p to dst on the given port. Sending to the interface
	//broadcast address or to 255.255.255.255 reaches every node in range.
	//Failures are non-fatal; the next encounter redrives the gossip.
	SendTo(p *packet.Packet, dst packet.Address, port uint16) error
	Close() error
}

//Stack is the host environment of one agent: a clock, a timer wheel, a
//uniform PRNG and a socket factory. Implementations must run Schedule
//callbacks on a single event loop and dispatch same-instant callbacks in
//submission order.
type Stack interface {
	Now() time.Time
	Schedule(delay time.Duration, fn func())
	//Jitter draws a uniform random duration in [0, max].
	Jitter(max time.Duration) time.Duration
	NewSocket(iface packet.InterfaceAddress, port uint16, recv RecvCallback) (Socket, error)
}

//Route is the forwarding decision the agent returns from RouteOutput and
//attaches to every unicast forward. There is no next-hop discipline: the
//gateway of a forwarded data packet is simply the encountered peer.
type Route struct {
	Source      packet.Address
	Destination packet.Address
	Gateway     packet.Address
	//OutputDevice is the index of the device the packet leaves through,
	//or -1 when the stack delivers it locally.
	OutputDevice int
}

//UnicastForwardCallback hands a routed packet back to the IP layer for
//transmission toward route.Gateway.
type UnicastForwardCallback func(route *Route, p *packet.Packet, header packet.Ipv4Header)

//ErrorCallback reports a packet the stack could not move any further.
type ErrorCallback func(p *packet.Packet, header packet.Ipv4Header, err error)

//LocalDeliverCallback delivers a packet addressed to this node to the local
//stack. iif is the index of the device it arrived on.
type LocalDeliverCallback func(p *packet.Packet, header packet.Ipv4Header, iif int)
