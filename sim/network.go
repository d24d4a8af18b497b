package sim

import (
	"time"

	"github.com/tomhenderson/epidemic-routing/helper"
	"github.com/tomhenderson/epidemic-routing/packet"
	"github.com/tomhenderson/epidemic-routing/routing"
	"github.com/tomhenderson/epidemic-routing/stack"
)

//Device numbering used for every simulated node.
const (
	LoopbackDevice = 0
	RadioDevice    = 1
)

//Network is a set of epidemic nodes joined by dynamic pairwise contacts.
//A frame only crosses between two nodes while their link is up.
type Network struct {
	sim   *Simulator
	nodes map[packet.Address]*Node
	order []*Node
	links map[[2]packet.Address]struct{}
	//Delay is the one-way propagation delay of every link.
	Delay time.Duration
}

//NetworkFactory creates an empty network on the given simulator.
func NetworkFactory(sim *Simulator) *Network {
	return &Network{
		sim:   sim,
		nodes: make(map[packet.Address]*Node),
		links: make(map[[2]packet.Address]struct{}),
		Delay: time.Millisecond,
	}
}

func linkKey(a, b packet.Address) [2]packet.Address {
	if a > b {
		a, b = b, a
	}
	return [2]packet.Address{a, b}
}

//Connect brings the link between two nodes up.
func (n *Network) Connect(a, b packet.Address) {
	n.links[linkKey(a, b)] = struct{}{}
}

//Disconnect tears the link between two nodes down.
func (n *Network) Disconnect(a, b packet.Address) {
	delete(n.links, linkKey(a, b))
}

//Linked reports whether two nodes are currently in contact.
func (n *Network) Linked(a, b packet.Address) bool {
	_, ok := n.links[linkKey(a, b)]
	return ok
}

//AddNode creates a node with one radio interface, wires its agent and starts
//it. Nodes receive in the order they were added when a broadcast reaches
//several of them at once.
func (n *Network) AddNode(cfg routing.Config, iface packet.InterfaceAddress) *Node {
	node := &Node{
		network: n,
		sim:     n.sim,
		Addr:    iface.Local,
		iface:   iface,
	}
	node.Agent = routing.AgentFactory(cfg, node)
	node.Agent.NotifyInterfaceUp(LoopbackDevice, packet.InterfaceAddress{
		Local: packet.AddressLoopback,
		Mask:  0xFF000000,
	})
	node.Agent.NotifyInterfaceUp(RadioDevice, iface)
	node.Agent.Start()
	n.nodes[node.Addr] = node
	n.order = append(n.order, node)
	return node
}

//Delivery is one payload a node handed to its local stack, together with the
//headers it carried on arrival.
type Delivery struct {
	Payload  []byte
	Header   packet.Ipv4Header
	Epidemic packet.EpidemicHeader
	At       time.Time
}

//Node is one simulated host: an epidemic agent, a radio interface and a
//minimal IP layer. It implements stack.Stack for its agent.
type Node struct {
	network *Network
	sim     *Simulator
	Addr    packet.Address
	iface   packet.InterfaceAddress
	Agent   *routing.Agent
	sockets []*simSocket
	//Delivered collects every payload delivered locally, in order.
	Delivered []Delivery

	pendingEpidemic packet.EpidemicHeader
}

func (nd *Node) Now() time.Time {
	return nd.sim.Now()
}

func (nd *Node) Schedule(delay time.Duration, fn func()) {
	nd.sim.Schedule(delay, fn)
}

func (nd *Node) Jitter(max time.Duration) time.Duration {
	return nd.sim.Jitter(max)
}

func (nd *Node) NewSocket(iface packet.InterfaceAddress, port uint16, recv stack.RecvCallback) (stack.Socket, error) {
	socket := &simSocket{node: nd, iface: iface, port: port, recv: recv}
	nd.sockets = append(nd.sockets, socket)
	return socket, nil
}

//SendData originates a user datagram on this node. The agent routes it:
//datagrams for other nodes funnel through loopback back into RouteInput,
//where they are stamped and buffered for gossip.
func (nd *Node) SendData(dst packet.Address, payload []byte) {
	header := packet.Ipv4Header{
		Source:      nd.Addr,
		Destination: dst,
		TTL:         64,
		Protocol:    packet.ProtocolUDP,
	}
	p := packet.PacketFactory(append([]byte(nil), payload...))
	route := nd.Agent.RouteOutput(p, header)
	if route.OutputDevice == LoopbackDevice {
		nd.Agent.RouteInput(p, header, LoopbackDevice,
			nd.unicastForward, nd.routeError, nd.localDeliver)
		return
	}
	//Addressed to ourselves: the stack delivers it straight back.
	nd.localDeliver(p, header, LoopbackDevice)
}

//unicastForward is the node's IP forwarding layer: it decrements the TTL the
//agent pre-incremented and carries the frame across the link to the gateway,
//if that link is still up on arrival.
func (nd *Node) unicastForward(route *stack.Route, p *packet.Packet, header packet.Ipv4Header) {
	gateway := route.Gateway
	header.TTL--
	if header.TTL < 1 {
		return
	}
	nd.sim.Schedule(nd.network.Delay, func() {
		if !nd.network.Linked(nd.Addr, gateway) {
			return
		}
		peer := nd.network.nodes[gateway]
		if peer == nil {
			return
		}
		peer.receiveData(p, header)
	})
}

//receiveData hands an arriving data frame to the agent. The epidemic header
//of frames addressed to this node is remembered so localDeliver can record
//it next to the payload.
func (nd *Node) receiveData(p *packet.Packet, header packet.Ipv4Header) {
	nd.pendingEpidemic = packet.EpidemicHeader{}
	if p.Tag == packet.TagNotSet && header.Destination == nd.Addr {
		if epi, err := packet.UnmarshalEpidemicHeader(p.Data); err == nil {
			nd.pendingEpidemic = epi
		}
	}
	nd.Agent.RouteInput(p, header, RadioDevice,
		nd.unicastForward, nd.routeError, nd.localDeliver)
}

func (nd *Node) localDeliver(p *packet.Packet, header packet.Ipv4Header, _ int) {
	nd.Delivered = append(nd.Delivered, Delivery{
		Payload:  p.Data,
		Header:   header,
		Epidemic: nd.pendingEpidemic,
		At:       nd.sim.Now(),
	})
}

func (nd *Node) routeError(_ *packet.Packet, header packet.Ipv4Header, err error) {
	helper.Log.WithField("header", header.String()).WithError(err).Debug("route error")
}

//simSocket is a virtual UDP endpoint. Control frames sent through it reach
//every linked node (broadcast) or the one addressed node (unicast) after the
//network delay, tags included: the harness models a simulator where
//in-process tags travel with the frame, which is why receivers strip them
//before local delivery.
type simSocket struct {
	node   *Node
	iface  packet.InterfaceAddress
	port   uint16
	recv   stack.RecvCallback
	closed bool
}

func (s *simSocket) SendTo(p *packet.Packet, dst packet.Address, port uint16) error {
	if s.closed {
		return nil
	}
	sender := s.node
	frame := p.Copy()
	for _, peer := range sender.network.order {
		if peer == sender || !sender.network.Linked(sender.Addr, peer.Addr) {
			continue
		}
		broadcast := dst == packet.AddressBroadcast || dst == peer.iface.Broadcast()
		if !broadcast && dst != peer.Addr {
			continue
		}
		peer := peer
		delivered := frame.Copy()
		sender.sim.Schedule(sender.network.Delay, func() {
			if !sender.network.Linked(sender.Addr, peer.Addr) {
				return
			}
			peer.deliverControl(delivered, port, sender.Addr)
		})
	}
	return nil
}

func (s *simSocket) Close() error {
	s.closed = true
	return nil
}

func (nd *Node) deliverControl(p *packet.Packet, port uint16, sender packet.Address) {
	for _, socket := range nd.sockets {
		if socket.port == port && !socket.closed {
			socket.recv(socket, p, sender)
			return
		}
	}
}
