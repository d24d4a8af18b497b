package routing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomhenderson/epidemic-routing/packet"
	"github.com/tomhenderson/epidemic-routing/stack"
)

const (
	testLoopbackDevice = 0
	testRadioDevice    = 1
)

type sentFrame struct {
	p     *packet.Packet
	dst   packet.Address
	port  uint16
	iface packet.InterfaceAddress
}

type fakeEvent struct {
	at  time.Time
	seq int
	fn  func()
}

//fakeStack is a hand-driven stack.Stack: tests inject frames straight into
//the agent and advance virtual time explicitly.
type fakeStack struct {
	now    time.Time
	seq    int
	events []fakeEvent
	sent   []sentFrame
	jitter time.Duration
}

func fakeStackFactory() *fakeStack {
	return &fakeStack{now: time.Unix(1000, 0)}
}

func (f *fakeStack) Now() time.Time {
	return f.now
}

func (f *fakeStack) Schedule(delay time.Duration, fn func()) {
	f.seq++
	f.events = append(f.events, fakeEvent{at: f.now.Add(delay), seq: f.seq, fn: fn})
}

func (f *fakeStack) Jitter(max time.Duration) time.Duration {
	if f.jitter > max {
		return max
	}
	return f.jitter
}

func (f *fakeStack) NewSocket(iface packet.InterfaceAddress, port uint16, recv stack.RecvCallback) (stack.Socket, error) {
	return &fakeSocket{stack: f, iface: iface, port: port, recv: recv}, nil
}

//advance runs every event due within d and moves the clock to the end.
func (f *fakeStack) advance(d time.Duration) {
	target := f.now.Add(d)
	for {
		best := -1
		for i, e := range f.events {
			if e.at.After(target) {
				continue
			}
			if best == -1 || e.at.Before(f.events[best].at) ||
				(e.at.Equal(f.events[best].at) && e.seq < f.events[best].seq) {
				best = i
			}
		}
		if best == -1 {
			break
		}
		event := f.events[best]
		f.events = append(f.events[:best], f.events[best+1:]...)
		f.now = event.at
		event.fn()
	}
	f.now = target
}

type fakeSocket struct {
	stack *fakeStack
	iface packet.InterfaceAddress
	port  uint16
	recv  stack.RecvCallback
}

func (s *fakeSocket) SendTo(p *packet.Packet, dst packet.Address, port uint16) error {
	s.stack.sent = append(s.stack.sent, sentFrame{p: p, dst: dst, port: port, iface: s.iface})
	return nil
}

func (s *fakeSocket) Close() error { return nil }

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.BeaconMaxJitter = 0
	return cfg
}

func testAgent(t *testing.T, local packet.Address) (*Agent, *fakeStack) {
	t.Helper()
	fs := fakeStackFactory()
	agent := AgentFactory(testConfig(), fs)
	agent.NotifyInterfaceUp(testLoopbackDevice, packet.InterfaceAddress{
		Local: packet.AddressLoopback,
		Mask:  0xFF000000,
	})
	agent.NotifyInterfaceUp(testRadioDevice, packet.InterfaceAddress{
		Local: local,
		Mask:  0xFFFFFF00,
	})
	agent.Start()
	return agent, fs
}

func makeBeacon(now time.Time) *packet.Packet {
	header := packet.EpidemicHeader{HopCount: 64, Timestamp: now}
	data := append(packet.TypeHeader{Type: packet.Beacon}.Marshal(), header.Marshal()...)
	return &packet.Packet{Data: data, Tag: packet.TagControl}
}

func makeReply(messageType packet.MessageType, sv *packet.SummaryVector) *packet.Packet {
	data := append(packet.TypeHeader{Type: messageType}.Marshal(), sv.Marshal()...)
	return &packet.Packet{Data: data, Tag: packet.TagControl}
}

func frameType(t *testing.T, frame sentFrame) packet.MessageType {
	t.Helper()
	header, err := packet.UnmarshalTypeHeader(frame.p.Data)
	require.NoError(t, err)
	return header.Type
}

func discard(_ *packet.Packet, _ packet.Ipv4Header, _ int) {}

func noForward(t *testing.T) stack.UnicastForwardCallback {
	return func(_ *stack.Route, _ *packet.Packet, _ packet.Ipv4Header) {
		t.Fatal("unexpected unicast forward")
	}
}

func noError(t *testing.T) stack.ErrorCallback {
	return func(_ *packet.Packet, _ packet.Ipv4Header, err error) {
		t.Fatalf("unexpected error callback: %v", err)
	}
}

//originate pushes one locally generated datagram through the loopback funnel.
func originate(a *Agent, fs *fakeStack, dst packet.Address, payload []byte,
	ucb stack.UnicastForwardCallback) bool {
	header := packet.Ipv4Header{
		Source:      a.MainAddress(),
		Destination: dst,
		TTL:         64,
		Protocol:    packet.ProtocolUDP,
	}
	return a.RouteInput(packet.PacketFactory(payload), header, testLoopbackDevice,
		ucb, func(_ *packet.Packet, _ packet.Ipv4Header, _ error) {}, discard)
}

func TestBeaconBroadcast(t *testing.T) {
	_, fs := testAgent(t, 0x0A000001)

	fs.advance(1100 * time.Millisecond)
	require.Len(t, fs.sent, 1)
	assert.Equal(t, packet.Beacon, frameType(t, fs.sent[0]))
	assert.Equal(t, packet.Address(0x0A0000FF), fs.sent[0].dst, "subnet-directed broadcast")
	assert.Equal(t, EpidemicPort, fs.sent[0].port)
	assert.Equal(t, packet.TagControl, fs.sent[0].p.Tag)

	//The beacon header carries a nonzero hop count so it survives the
	//receiver's drop check.
	epi, err := packet.UnmarshalEpidemicHeader(fs.sent[0].p.Data[packet.TypeHeaderSize:])
	require.NoError(t, err)
	assert.Greater(t, epi.HopCount, uint32(1))

	fs.advance(time.Second)
	assert.Len(t, fs.sent, 2, "beacon timer re-arms")
}

func TestBeaconBroadcastAllHostsOnSlash32(t *testing.T) {
	fs := fakeStackFactory()
	agent := AgentFactory(testConfig(), fs)
	agent.NotifyInterfaceUp(testRadioDevice, packet.InterfaceAddress{
		Local: 0x0A000001,
		Mask:  packet.MaskOnes,
	})
	agent.Start()

	fs.advance(1100 * time.Millisecond)
	require.Len(t, fs.sent, 1)
	assert.Equal(t, packet.AddressBroadcast, fs.sent[0].dst)
}

func TestLowerAddressInitiatesAntiEntropy(t *testing.T) {
	agent, fs := testAgent(t, 0x0A000001)

	agent.recvEpidemic(nil, makeBeacon(fs.now), 0x0A000005)
	require.Len(t, fs.sent, 1)
	assert.Equal(t, packet.Reply, frameType(t, fs.sent[0]))
	assert.Equal(t, packet.Address(0x0A000005), fs.sent[0].dst)
}

func TestHigherAddressIgnoresBeacon(t *testing.T) {
	agent, fs := testAgent(t, 0x0A000005)

	agent.recvEpidemic(nil, makeBeacon(fs.now), 0x0A000001)
	assert.Empty(t, fs.sent)
}

func TestHostRecentPeriodDampsRepeatedSessions(t *testing.T) {
	agent, fs := testAgent(t, 0x0A000001)
	peer := packet.Address(0x0A000005)

	agent.recvEpidemic(nil, makeBeacon(fs.now), peer)
	require.Len(t, fs.sent, 1)

	//A second beacon within the recent period starts no new session.
	fs.now = fs.now.Add(2 * time.Second)
	agent.recvEpidemic(nil, makeBeacon(fs.now), peer)
	assert.Len(t, fs.sent, 1)

	//After the period expires the next beacon starts one again.
	fs.now = fs.now.Add(11 * time.Second)
	agent.recvEpidemic(nil, makeBeacon(fs.now), peer)
	assert.Len(t, fs.sent, 2)
}

func TestReplySendsDisjointAndReplyBack(t *testing.T) {
	agent, fs := testAgent(t, 0x0A000001)
	peer := packet.Address(0x0A000005)

	var forwarded []packet.Ipv4Header
	var routes []*stack.Route
	ucb := func(route *stack.Route, p *packet.Packet, header packet.Ipv4Header) {
		forwarded = append(forwarded, header)
		routes = append(routes, route)
	}

	require.True(t, originate(agent, fs, 0x0A000009, []byte("one"), ucb))
	require.True(t, originate(agent, fs, 0x0A000009, []byte("two"), ucb))
	require.Equal(t, 2, agent.QueueSize())

	agent.recvEpidemic(nil, makeReply(packet.Reply, packet.SummaryVectorFactory(0)), peer)

	require.Len(t, fs.sent, 1)
	assert.Equal(t, packet.ReplyBack, frameType(t, fs.sent[0]))
	assert.Equal(t, peer, fs.sent[0].dst)

	sv, err := packet.UnmarshalSummaryVector(fs.sent[0].p.Data[packet.TypeHeaderSize:])
	require.NoError(t, err)
	assert.Equal(t, 2, sv.Size())

	//Disjoint sends are dispatched at schedule(0, ...) in insertion order.
	fs.advance(0)
	require.Len(t, forwarded, 2)
	assert.Equal(t, uint8(65), forwarded[0].TTL, "TTL incremented to defeat the IP layer decrement")
	assert.Equal(t, peer, routes[0].Gateway)
	assert.Equal(t, packet.Address(0x0A000009), routes[0].Destination)
}

func TestReplyBackSendsDisjointOnly(t *testing.T) {
	agent, fs := testAgent(t, 0x0A000001)
	peer := packet.Address(0x0A000005)

	var forwarded int
	ucb := func(_ *stack.Route, _ *packet.Packet, _ packet.Ipv4Header) { forwarded++ }
	require.True(t, originate(agent, fs, 0x0A000009, []byte("one"), ucb))

	agent.recvEpidemic(nil, makeReply(packet.ReplyBack, packet.SummaryVectorFactory(0)), peer)
	assert.Empty(t, fs.sent, "no summary vector goes back after a reply back")
	fs.advance(0)
	assert.Equal(t, 1, forwarded)
}

func TestDisjointSkipsPacketsKnownToPeer(t *testing.T) {
	agent, fs := testAgent(t, 0x0A000001)
	peer := packet.Address(0x0A000005)

	var forwarded int
	ucb := func(_ *stack.Route, _ *packet.Packet, _ packet.Ipv4Header) { forwarded++ }
	require.True(t, originate(agent, fs, 0x0A000009, []byte("one"), ucb))
	require.True(t, originate(agent, fs, 0x0A000009, []byte("two"), ucb))

	peerSV := packet.SummaryVectorFactory(1)
	peerSV.Add(packet.GlobalPacketID(0x0A000001, 1))
	agent.recvEpidemic(nil, makeReply(packet.ReplyBack, peerSV), peer)
	fs.advance(0)
	assert.Equal(t, 1, forwarded)
}

func TestForwardSuppressedTowardSourceAndOwnDestination(t *testing.T) {
	agent, fs := testAgent(t, 0x0A000001)
	peer := packet.Address(0x0A000005)

	var forwarded int
	ucb := func(_ *stack.Route, _ *packet.Packet, _ packet.Ipv4Header) { forwarded++ }

	//A transit packet originated by the peer itself.
	epi := packet.EpidemicHeader{PacketID: 0x00050001, HopCount: 8, Timestamp: fs.now}
	data := append(epi.Marshal(), []byte("from-peer")...)
	header := packet.Ipv4Header{Source: peer, Destination: 0x0A000009, TTL: 64, Protocol: packet.ProtocolUDP}
	require.True(t, agent.RouteInput(packet.PacketFactory(data), header, testRadioDevice,
		ucb, noError(t), discard))
	require.Equal(t, 1, agent.QueueSize())

	//A packet addressed to this node, remembered at local delivery.
	own := packet.EpidemicHeader{PacketID: 0x00090001, HopCount: 8, Timestamp: fs.now}
	ownData := append(own.Marshal(), []byte("for-me")...)
	ownHeader := packet.Ipv4Header{Source: 0x0A000009, Destination: 0x0A000001, TTL: 64, Protocol: packet.ProtocolUDP}
	require.True(t, agent.RouteInput(packet.PacketFactory(ownData), ownHeader, testRadioDevice,
		ucb, noError(t), discard))
	require.Equal(t, 2, agent.QueueSize())

	agent.recvEpidemic(nil, makeReply(packet.ReplyBack, packet.SummaryVectorFactory(0)), peer)
	fs.advance(0)
	assert.Equal(t, 0, forwarded, "never forward a packet back to its source or one addressed to us")
}

func TestRouteInputLocalOrigination(t *testing.T) {
	agent, fs := testAgent(t, 0x0A000001)

	require.True(t, originate(agent, fs, 0x0A000009, []byte("hello"), noForward(t)))
	require.Equal(t, 1, agent.QueueSize())

	id := packet.GlobalPacketID(0x0A000001, 1)
	entry := agent.queue.Find(id)
	require.Equal(t, id, entry.PacketID)

	epi, err := packet.UnmarshalEpidemicHeader(entry.Packet.Data)
	require.NoError(t, err)
	assert.Equal(t, id, epi.PacketID)
	assert.Equal(t, uint32(64), epi.HopCount)
	assert.Equal(t, fs.now.UnixNano(), epi.Timestamp.UnixNano())
	assert.Equal(t, []byte("hello"), entry.Packet.Data[packet.EpidemicHeaderSize:])
	assert.Equal(t, fs.now.Add(100*time.Second), entry.ExpireTime)
}

func TestRouteInputTransitDecrementsHopCount(t *testing.T) {
	agent, fs := testAgent(t, 0x0A000001)

	epi := packet.EpidemicHeader{PacketID: 0x00090002, HopCount: 5, Timestamp: fs.now}
	data := append(epi.Marshal(), []byte("transit")...)
	header := packet.Ipv4Header{Source: 0x0A000009, Destination: 0x0A000007, TTL: 64, Protocol: packet.ProtocolUDP}

	require.True(t, agent.RouteInput(packet.PacketFactory(data), header, testRadioDevice,
		noForward(t), noError(t), discard))
	require.Equal(t, 1, agent.QueueSize())

	stored, err := packet.UnmarshalEpidemicHeader(agent.queue.Find(0x00090002).Packet.Data)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), stored.HopCount)
	assert.Equal(t, fs.now.Add(100*time.Second), agent.queue.Find(0x00090002).ExpireTime)
}

func TestRouteInputTransitDropsExhaustedHopCount(t *testing.T) {
	agent, fs := testAgent(t, 0x0A000001)

	epi := packet.EpidemicHeader{PacketID: 0x00090003, HopCount: 1, Timestamp: fs.now}
	data := append(epi.Marshal(), []byte("dying")...)
	header := packet.Ipv4Header{Source: 0x0A000009, Destination: 0x0A000007, TTL: 64, Protocol: packet.ProtocolUDP}

	assert.True(t, agent.RouteInput(packet.PacketFactory(data), header, testRadioDevice,
		noForward(t), noError(t), discard), "consumed but not stored")
	assert.Equal(t, 0, agent.QueueSize())
}

func TestRouteInputTransitDropsExpiredHeader(t *testing.T) {
	agent, fs := testAgent(t, 0x0A000001)

	epi := packet.EpidemicHeader{
		PacketID:  0x00090004,
		HopCount:  8,
		Timestamp: fs.now.Add(-101 * time.Second),
	}
	data := append(epi.Marshal(), []byte("stale")...)
	header := packet.Ipv4Header{Source: 0x0A000009, Destination: 0x0A000007, TTL: 64, Protocol: packet.ProtocolUDP}

	assert.True(t, agent.RouteInput(packet.PacketFactory(data), header, testRadioDevice,
		noForward(t), noError(t), discard))
	assert.Equal(t, 0, agent.QueueSize())
}

func TestRouteInputLocalDeliveryDedup(t *testing.T) {
	agent, fs := testAgent(t, 0x0A000001)

	epi := packet.EpidemicHeader{PacketID: 0x00090005, HopCount: 8, Timestamp: fs.now}
	data := append(epi.Marshal(), []byte("for-me")...)
	header := packet.Ipv4Header{Source: 0x0A000009, Destination: 0x0A000001, TTL: 64, Protocol: packet.ProtocolUDP}

	var delivered [][]byte
	lcb := func(p *packet.Packet, _ packet.Ipv4Header, _ int) {
		delivered = append(delivered, p.Data)
	}

	require.True(t, agent.RouteInput(packet.PacketFactory(data), header, testRadioDevice,
		noForward(t), noError(t), lcb))
	require.Len(t, delivered, 1)
	assert.Equal(t, []byte("for-me"), delivered[0], "epidemic header stripped before delivery")
	assert.Equal(t, 1, agent.QueueSize(), "delivered packet remembered for dedup")

	//The same packet again: consumed, suppressed.
	require.True(t, agent.RouteInput(packet.PacketFactory(data), header, testRadioDevice,
		noForward(t), noError(t), lcb))
	assert.Len(t, delivered, 1)
	assert.Equal(t, 1, agent.QueueSize())
}

func TestRouteInputRejections(t *testing.T) {
	agent, fs := testAgent(t, 0x0A000001)

	header := packet.Ipv4Header{Source: 0x0A000009, Destination: 0x0A000007, TTL: 0, Protocol: packet.ProtocolUDP}
	assert.False(t, agent.RouteInput(packet.PacketFactory([]byte("x")), header, testRadioDevice,
		noForward(t), noError(t), discard), "dead TTL")

	header = packet.Ipv4Header{Source: 0x0A000009, Destination: 0x0A000007, TTL: 64, Protocol: packet.ProtocolICMP}
	assert.False(t, agent.RouteInput(packet.PacketFactory([]byte("x")), header, testRadioDevice,
		noForward(t), noError(t), discard), "ICMP")

	bare := AgentFactory(testConfig(), fs)
	header = packet.Ipv4Header{Source: 0x0A000009, Destination: 0x0A000007, TTL: 64, Protocol: packet.ProtocolUDP}
	assert.False(t, bare.RouteInput(packet.PacketFactory([]byte("x")), header, testRadioDevice,
		noForward(t), noError(t), discard), "no interfaces")
}

func TestRecvEpidemicDropsMalformedFrames(t *testing.T) {
	agent, fs := testAgent(t, 0x0A000001)

	agent.recvEpidemic(nil, packet.PacketFactory([]byte{0xFF, 1, 2}), 0x0A000005)
	agent.recvEpidemic(nil, packet.PacketFactory(nil), 0x0A000005)
	//A reply whose summary vector is truncated.
	agent.recvEpidemic(nil, packet.PacketFactory([]byte{byte(packet.Reply), 0, 0}), 0x0A000005)
	assert.Empty(t, fs.sent)
}

func TestRouteOutput(t *testing.T) {
	agent, _ := testAgent(t, 0x0A000001)

	//User data funnels through loopback so RouteInput can stamp it.
	dataHeader := packet.Ipv4Header{Source: 0x0A000001, Destination: 0x0A000009, TTL: 64, Protocol: packet.ProtocolUDP}
	route := agent.RouteOutput(packet.PacketFactory([]byte("x")), dataHeader)
	assert.Equal(t, testLoopbackDevice, route.OutputDevice)
	assert.Equal(t, packet.Address(0x0A000009), route.Gateway)

	//Control packets leave through the device whose subnet holds the
	//destination.
	control := &packet.Packet{Data: []byte("c"), Tag: packet.TagControl}
	route = agent.RouteOutput(control, dataHeader)
	assert.Equal(t, testRadioDevice, route.OutputDevice)

	//Packets for ourselves are delivered locally, no gateway.
	ownHeader := packet.Ipv4Header{Source: 0x0A000009, Destination: 0x0A000001, TTL: 64, Protocol: packet.ProtocolUDP}
	route = agent.RouteOutput(packet.PacketFactory([]byte("x")), ownHeader)
	assert.Equal(t, -1, route.OutputDevice)
	assert.Equal(t, packet.Address(0), route.Gateway)
}

func TestInterfaceLifecycle(t *testing.T) {
	fs := fakeStackFactory()
	agent := AgentFactory(testConfig(), fs)

	agent.NotifyInterfaceUp(testLoopbackDevice, packet.InterfaceAddress{
		Local: packet.AddressLoopback,
		Mask:  0xFF000000,
	})
	assert.Empty(t, agent.sockets, "no socket on loopback")

	iface := packet.InterfaceAddress{Local: 0x0A000001, Mask: 0xFFFFFF00}
	agent.NotifyInterfaceUp(testRadioDevice, iface)
	assert.Len(t, agent.sockets, 1)
	assert.Equal(t, packet.Address(0x0A000001), agent.MainAddress())

	//A second address on the same interface is refused.
	agent.NotifyAddAddress(testRadioDevice, packet.InterfaceAddress{Local: 0x0A000002, Mask: 0xFFFFFF00})
	assert.Len(t, agent.sockets, 1)

	agent.NotifyInterfaceDown(testRadioDevice)
	assert.Empty(t, agent.sockets)

	agent.NotifyAddAddress(testRadioDevice, iface)
	assert.Len(t, agent.sockets, 1, "address add on a bare interface opens the socket")
}

func TestDisposeStopsBeacons(t *testing.T) {
	agent, fs := testAgent(t, 0x0A000001)

	fs.advance(1100 * time.Millisecond)
	require.Len(t, fs.sent, 1)

	agent.Dispose()
	fs.advance(5 * time.Second)
	assert.Len(t, fs.sent, 1)
}
