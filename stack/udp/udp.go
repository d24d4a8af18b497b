//Package udp realizes stack.Stack on real UDP sockets. One goroutine drains
//an event channel and runs every agent callback; receiver goroutines and
//expired timers only post closures into it, so the agent still sees a
//single-threaded world.
package udp

import (
	"math/rand"
	"net"
	"time"

	"github.com/tomhenderson/epidemic-routing/helper"
	"github.com/tomhenderson/epidemic-routing/packet"
	"github.com/tomhenderson/epidemic-routing/stack"
)

//Stack is the production host stack.
type Stack struct {
	events chan func()
	quit   chan struct{}
	rng    *rand.Rand
}

//StackFactory creates a stack whose jitter source is seeded from the clock.
func StackFactory() *Stack {
	return &Stack{
		events: make(chan func(), 1024),
		quit:   make(chan struct{}),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

//Run drains the event loop until Stop is called. It must be the only
//goroutine executing posted closures.
func (s *Stack) Run() {
	for {
		select {
		case fn := <-s.events:
			fn()
		case <-s.quit:
			return
		}
	}
}

//Stop terminates Run.
func (s *Stack) Stop() {
	close(s.quit)
}

//Post queues fn onto the event loop.
func (s *Stack) Post(fn func()) {
	select {
	case s.events <- fn:
	case <-s.quit:
	}
}

//Call runs fn on the event loop and waits for it to finish. Used by the
//status endpoints to snapshot agent state without locking.
func (s *Stack) Call(fn func()) {
	done := make(chan struct{})
	s.Post(func() {
		fn()
		close(done)
	})
	select {
	case <-done:
	case <-s.quit:
	}
}

func (s *Stack) Now() time.Time {
	return time.Now()
}

func (s *Stack) Schedule(delay time.Duration, fn func()) {
	time.AfterFunc(delay, func() {
		s.Post(fn)
	})
}

//Jitter draws a uniform random duration in [0, max]. Only called from the
//event loop, so the unsynchronized source is fine.
func (s *Stack) Jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(s.rng.Int63n(int64(max) + 1))
}

//NewSocket binds a broadcast-capable UDP socket on 0.0.0.0:port for the
//given interface and feeds received frames to recv on the event loop.
func (s *Stack) NewSocket(iface packet.InterfaceAddress, port uint16, recv stack.RecvCallback) (stack.Socket, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: int(port)})
	if err != nil {
		return nil, err
	}
	socket := &udpSocket{stack: s, conn: conn, iface: iface}
	go socket.readLoop(recv)
	return socket, nil
}

type udpSocket struct {
	stack *Stack
	conn  *net.UDPConn
	iface packet.InterfaceAddress
}

func (u *udpSocket) readLoop(recv stack.RecvCallback) {
	buffer := make([]byte, 65536)
	for {
		n, from, err := u.conn.ReadFromUDP(buffer)
		if err != nil {
			//Closed socket; the interface went down.
			return
		}
		sender := packet.AddressFromIP(from.IP)
		if sender == u.iface.Local {
			//Our own broadcast looped back.
			continue
		}
		data := make([]byte, n)
		copy(data, buffer[:n])
		u.stack.Post(func() {
			recv(u, packet.PacketFactory(data), sender)
		})
	}
}

//SendTo transmits the raw payload; the in-process tag never touches the
//wire.
func (u *udpSocket) SendTo(p *packet.Packet, dst packet.Address, port uint16) error {
	_, err := u.conn.WriteToUDP(p.Data, &net.UDPAddr{IP: dst.ToIP(), Port: int(port)})
	if err != nil {
		helper.LogError(err)
	}
	return err
}

func (u *udpSocket) Close() error {
	return u.conn.Close()
}
