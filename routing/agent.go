//Package routing implements the epidemic routing agent: a store-carry-forward
//unicast router for delay-tolerant networks. Nodes broadcast periodic beacons;
//when two nodes hear each other, the one with the smaller address starts an
//anti-entropy session and both sides exchange the data packets the other one
//misses. Packets die by hop-count exhaustion or queue expiry only; there is
//no routing table and no acknowledgement.
//
//The implementation follows the protocol described in "Epidemic Routing for
//Partially-Connected Ad Hoc Networks" (Vahdat and Becker), with a beacon
//mechanism standing in for a neighbor-discovery layer.
package routing

import (
	"sort"
	"time"

	"github.com/tomhenderson/epidemic-routing/buffer"
	"github.com/tomhenderson/epidemic-routing/helper"
	"github.com/tomhenderson/epidemic-routing/packet"
	"github.com/tomhenderson/epidemic-routing/stack"
)

//EpidemicPort is the UDP port for MANET routing protocols, based on RFC 5498.
const EpidemicPort uint16 = 269

//Config collects the protocol knobs. All of them are fixed at construction.
type Config struct {
	//HopCount is the hop budget stamped on locally originated packets.
	HopCount uint32
	//QueueLength is the maximum number of packets the queue holds.
	QueueLength uint32
	//QueueEntryExpireTime is how long a packet may live anywhere in the
	//network, counted from its origin timestamp.
	QueueEntryExpireTime time.Duration
	//HostRecentPeriod is the cool-down between two anti-entropy sessions
	//with the same peer.
	HostRecentPeriod time.Duration
	//BeaconInterval is the nominal period between beacon broadcasts.
	BeaconInterval time.Duration
	//BeaconMaxJitter is the upper bound of the uniform random time added to
	//each beacon interval to avoid collisions.
	BeaconMaxJitter time.Duration
}

//DefaultConfig returns the standard protocol parameters.
func DefaultConfig() Config {
	return Config{
		HopCount:             64,
		QueueLength:          64,
		QueueEntryExpireTime: 100 * time.Second,
		HostRecentPeriod:     10 * time.Second,
		BeaconInterval:       time.Second,
		BeaconMaxJitter:      100 * time.Millisecond,
	}
}

type socketEntry struct {
	socket stack.Socket
	iface  packet.InterfaceAddress
	device int
}

//Agent is the per-node routing agent. It owns the packet queue and one UDP
//socket per up interface. Every method runs on the host stack's event loop;
//the agent holds no locks and must not be shared across loops.
type Agent struct {
	cfg  Config
	host stack.Stack

	mainAddress       packet.Address
	dataPacketCounter uint16
	queue             *buffer.PacketQueue
	sockets           []socketEntry
	ifaces            map[int]packet.InterfaceAddress
	hostContactTime   map[packet.Address]time.Time
	disposed          bool
}

//AgentFactory creates an agent bound to the given host stack. The agent does
//nothing until Start and at least one NotifyInterfaceUp.
func AgentFactory(cfg Config, host stack.Stack) *Agent {
	return &Agent{
		cfg:             cfg,
		host:            host,
		queue:           buffer.PacketQueueFactory(cfg.QueueLength, host.Now),
		ifaces:          make(map[int]packet.InterfaceAddress),
		hostContactTime: make(map[packet.Address]time.Time),
	}
}

//Start arms the beacon timer. The first beacon fires after one interval plus
//a uniform jitter draw.
func (a *Agent) Start() {
	a.dataPacketCounter = 0
	a.queue.SetMaxQueueLen(a.cfg.QueueLength)
	a.scheduleBeacon()
}

//Dispose closes every socket and stops the beacon timer. The queue contents
//are dropped with the agent.
func (a *Agent) Dispose() {
	for _, se := range a.sockets {
		helper.LogError(se.socket.Close())
	}
	a.sockets = nil
	a.disposed = true
}

//MainAddress returns the first non-loopback address assigned to this node.
func (a *Agent) MainAddress() packet.Address {
	return a.mainAddress
}

func (a *Agent) scheduleBeacon() {
	a.host.Schedule(a.cfg.BeaconInterval+a.host.Jitter(a.cfg.BeaconMaxJitter), a.sendBeacons)
}

//sendBeacons broadcasts one beacon on every socket and re-arms the timer.
//Only the type header matters to the receiver; the epidemic header rides
//along with a nonzero hop count so the frame survives the receiver's
//sanity check. That check is the only reason the field is set.
func (a *Agent) sendBeacons() {
	if a.disposed {
		return
	}
	header := packet.EpidemicHeader{
		HopCount:  a.cfg.HopCount,
		Timestamp: a.host.Now(),
	}
	data := append(packet.TypeHeader{Type: packet.Beacon}.Marshal(), header.Marshal()...)
	a.broadcastPacket(&packet.Packet{Data: data, Tag: packet.TagControl})
	a.scheduleBeacon()
}

//broadcastPacket sends p on every socket, to the all-hosts broadcast for /32
//interfaces and to the subnet-directed broadcast otherwise.
func (a *Agent) broadcastPacket(p *packet.Packet) {
	for _, se := range a.sockets {
		destination := se.iface.Broadcast()
		if se.iface.Mask == packet.MaskOnes {
			destination = packet.AddressBroadcast
		}
		helper.LogError(se.socket.SendTo(p, destination, EpidemicPort))
	}
}

//sendPacket unicasts p from the socket bound to the main address.
func (a *Agent) sendPacket(p *packet.Packet, dst packet.Address) {
	for _, se := range a.sockets {
		if se.iface.Local == a.mainAddress {
			helper.LogError(se.socket.SendTo(p, dst, EpidemicPort))
		}
	}
}

//isMyOwnAddress checks whether addr belongs to one of this node's
//interfaces.
func (a *Agent) isMyOwnAddress(addr packet.Address) bool {
	for _, se := range a.sockets {
		if addr == se.iface.Local {
			return true
		}
	}
	return false
}

//isHostContactedRecently reports whether an anti-entropy session with host
//ran within the recent period. A first sighting records the contact and
//reports false; a sighting within the period reports true without
//refreshing; a later sighting refreshes the contact time and reports false.
func (a *Agent) isHostContactedRecently(host packet.Address) bool {
	contact, ok := a.hostContactTime[host]
	if !ok {
		a.hostContactTime[host] = a.host.Now()
		return false
	}
	if a.host.Now().Before(contact.Add(a.cfg.HostRecentPeriod)) {
		return true
	}
	a.hostContactTime[host] = a.host.Now()
	return false
}

//NotifyInterfaceUp records a device coming up with its single address and,
//for non-loopback interfaces, opens the epidemic socket on it. The first
//non-loopback address becomes the node's main address.
func (a *Agent) NotifyInterfaceUp(device int, iface packet.InterfaceAddress) {
	a.ifaces[device] = iface
	if iface.Local.IsLoopback() {
		return
	}
	if a.mainAddress == 0 {
		a.mainAddress = iface.Local
	}
	socket, err := a.host.NewSocket(iface, EpidemicPort, a.recvEpidemic)
	if err != nil {
		helper.LogError(err)
		return
	}
	a.sockets = append(a.sockets, socketEntry{socket: socket, iface: iface, device: device})
}

//NotifyInterfaceDown closes and forgets the socket of a device going down.
func (a *Agent) NotifyInterfaceDown(device int) {
	for i, se := range a.sockets {
		if se.device == device {
			helper.LogError(se.socket.Close())
			a.sockets = append(a.sockets[:i], a.sockets[i+1:]...)
			break
		}
	}
	delete(a.ifaces, device)
}

//NotifyAddAddress opens a socket for a device that just received its first
//address. Epidemic routing does not work with more than one address per
//interface; additional addresses are ignored and logged.
func (a *Agent) NotifyAddAddress(device int, iface packet.InterfaceAddress) {
	if _, ok := a.ifaces[device]; ok {
		helper.Log.WithField("device", device).
			Warn("epidemic does not work with more than one address per interface, ignoring added address")
		return
	}
	a.NotifyInterfaceUp(device, iface)
}

//NotifyRemoveAddress closes the socket bound to the removed address.
func (a *Agent) NotifyRemoveAddress(device int, iface packet.InterfaceAddress) {
	for i, se := range a.sockets {
		if se.device == device && se.iface == iface {
			helper.LogError(se.socket.Close())
			a.sockets = append(a.sockets[:i], a.sockets[i+1:]...)
			delete(a.ifaces, device)
			return
		}
	}
	helper.Log.WithField("device", device).
		Debug("removed address not participating in epidemic operation")
}

//deviceIndexes returns the known device indexes in ascending order so that
//device lookups stay deterministic.
func (a *Agent) deviceIndexes() []int {
	indexes := make([]int, 0, len(a.ifaces))
	for device := range a.ifaces {
		indexes = append(indexes, device)
	}
	sort.Ints(indexes)
	return indexes
}

//findOutputDeviceForAddress returns the device whose subnet contains dst, or
//-1 if no interface matches.
func (a *Agent) findOutputDeviceForAddress(dst packet.Address) int {
	for _, device := range a.deviceIndexes() {
		if a.ifaces[device].Contains(dst) {
			return device
		}
	}
	return -1
}

//findLoopbackDevice returns the loopback device index, or -1.
func (a *Agent) findLoopbackDevice() int {
	for _, device := range a.deviceIndexes() {
		if a.ifaces[device].Local.IsLoopback() {
			return device
		}
	}
	return -1
}

//findDeviceForLocal returns the device owning the given local address, or -1.
func (a *Agent) findDeviceForLocal(addr packet.Address) int {
	for _, device := range a.deviceIndexes() {
		if a.ifaces[device].Local == addr {
			return device
		}
	}
	return -1
}
