package main

import (
	"fmt"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/tomhenderson/epidemic-routing/helper"
	"github.com/tomhenderson/epidemic-routing/packet"
	"github.com/tomhenderson/epidemic-routing/routing"
	"github.com/tomhenderson/epidemic-routing/stack"
	"github.com/tomhenderson/epidemic-routing/stack/udp"
)

const (
	loopbackDevice = 0
	radioDevice    = 1
	//dataPort carries forwarded data frames between daemons, wrapped in the
	//12 byte Ipv4Header envelope that stands in for the raw IP layer the
	//protocol was designed against.
	dataPort = 270
)

//node glues one agent to the outside world: the data-frame transport between
//daemons, the UI port for the client and local delivery.
type node struct {
	st       *udp.Stack
	agent    *routing.Agent
	iface    packet.InterfaceAddress
	dataConn *net.UDPConn
}

func nodeFactory(st *udp.Stack, agent *routing.Agent, iface packet.InterfaceAddress) (*node, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: dataPort})
	if err != nil {
		return nil, err
	}
	n := &node{st: st, agent: agent, iface: iface, dataConn: conn}
	go n.dataLoop()
	return n, nil
}

//dataLoop receives enveloped data frames from other daemons and feeds them
//to the agent on the event loop.
func (n *node) dataLoop() {
	buffer := make([]byte, 65536)
	for {
		nn, _, err := n.dataConn.ReadFromUDP(buffer)
		if err != nil {
			return
		}
		header, err := packet.UnmarshalIpv4Header(buffer[:nn])
		if err != nil {
			helper.LogError(err)
			continue
		}
		payload := make([]byte, nn-packet.Ipv4HeaderSize)
		copy(payload, buffer[packet.Ipv4HeaderSize:nn])
		n.st.Post(func() {
			n.agent.RouteInput(packet.PacketFactory(payload), header, radioDevice,
				n.unicastForward, n.routeError, n.localDeliver)
		})
	}
}

//unicastForward plays the IP forwarding layer: it decrements the TTL the
//agent pre-incremented and ships the frame to the gateway daemon.
func (n *node) unicastForward(route *stack.Route, p *packet.Packet, header packet.Ipv4Header) {
	header.TTL--
	if header.TTL < 1 {
		return
	}
	frame := append(header.Marshal(), p.Data...)
	_, err := n.dataConn.WriteToUDP(frame, &net.UDPAddr{IP: route.Gateway.ToIP(), Port: dataPort})
	helper.LogError(err)
}

func (n *node) localDeliver(p *packet.Packet, header packet.Ipv4Header, _ int) {
	helper.Log.WithFields(logrus.Fields{
		"origin": header.Source.String(),
		"bytes":  len(p.Data),
	}).Info("delivered")
	fmt.Printf("DELIVERED origin %s contents %s\n", header.Source, string(p.Data))
}

func (n *node) routeError(_ *packet.Packet, header packet.Ipv4Header, err error) {
	helper.Log.WithField("header", header.String()).WithError(err).Warn("route error")
}

//originate injects one user datagram. Runs on the event loop.
func (n *node) originate(dest packet.Address, payload []byte) {
	header := packet.Ipv4Header{
		Source:      n.agent.MainAddress(),
		Destination: dest,
		TTL:         64,
		Protocol:    packet.ProtocolUDP,
	}
	p := packet.PacketFactory(payload)
	route := n.agent.RouteOutput(p, header)
	if route.OutputDevice == loopbackDevice {
		//The loopback funnel: back through RouteInput for stamping.
		n.agent.RouteInput(p, header, loopbackDevice,
			n.unicastForward, n.routeError, n.localDeliver)
		return
	}
	n.localDeliver(p, header, loopbackDevice)
}

//uiListener accepts client Messages on 127.0.0.1 and turns them into
//originated datagrams.
func (n *node) uiListener(uiPort string) {
	udpAddr, err := net.ResolveUDPAddr("udp4", "127.0.0.1:"+uiPort)
	if err != nil {
		helper.HandleCrashingErr(err)
	}
	conn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		helper.HandleCrashingErr(err)
	}
	defer conn.Close()

	buffer := make([]byte, 10000)
	for {
		nn, _, err := conn.ReadFromUDP(buffer)
		helper.LogError(err)
		if err != nil {
			continue
		}
		message, err := packet.GetMessage(buffer, nn)
		if err != nil {
			continue
		}
		dest, err := packet.ParseAddress(message.Destination)
		if err != nil {
			helper.LogError(err)
			continue
		}
		payload := []byte(message.Text)
		n.st.Post(func() {
			n.originate(dest, payload)
		})
	}
}
