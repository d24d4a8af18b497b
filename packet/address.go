package packet

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/tomhenderson/epidemic-routing/helper"
)

//Address is an IPv4 address kept in host byte order so that nodes can be
//ordered numerically. The anti-entropy tie-break compares two addresses with
//the < operator.
type Address uint32

//AddressLoopback is the conventional loopback address 127.0.0.1.
const AddressLoopback Address = 0x7F000001

//MaskOnes is the /32 netmask.
const MaskOnes Address = 0xFFFFFFFF

//AddressBroadcast is the all-hosts broadcast address 255.255.255.255.
const AddressBroadcast Address = 0xFFFFFFFF

//AddressFromIP converts a net.IP to an Address. Non-IPv4 addresses map to 0.
func AddressFromIP(ip net.IP) Address {
	v4 := ip.To4()
	if v4 == nil {
		return 0
	}
	return Address(binary.BigEndian.Uint32(v4))
}

//ParseAddress parses a dotted-quad string such as "10.0.0.1".
func ParseAddress(s string) (Address, error) {
	ip := net.ParseIP(s)
	if ip == nil || ip.To4() == nil {
		return 0, &helper.IllegalArgumentError{
			ErrorMessage: fmt.Sprintf("%q is not an IPv4 address", s),
			Where:        "packet.ParseAddress",
		}
	}
	return AddressFromIP(ip), nil
}

//ToIP converts the Address back to a net.IP.
func (a Address) ToIP() net.IP {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(a))
	return net.IP(buf)
}

func (a Address) String() string {
	return a.ToIP().String()
}

//IsLoopback reports whether the address lies in 127.0.0.0/8.
func (a Address) IsLoopback() bool {
	return a>>24 == 127
}

//InterfaceAddress is the single IPv4 address assigned to an interface
//together with its netmask.
type InterfaceAddress struct {
	Local Address
	Mask  Address
}

//Broadcast returns the subnet-directed broadcast address of the interface.
func (i InterfaceAddress) Broadcast() Address {
	return i.Local | ^i.Mask
}

//Contains reports whether addr belongs to the interface subnet.
func (i InterfaceAddress) Contains(addr Address) bool {
	return addr&i.Mask == i.Local&i.Mask
}

//GlobalPacketID builds the 32 bit global packet identifier from the low 16
//bits of the source address and the source-local counter. Two distinct
//packets can collide when their sources share the low address bits and the
//counters wrap to the same value; the protocol accepts this.
func GlobalPacketID(source Address, counter uint16) uint32 {
	return uint32(uint16(source))<<16 | uint32(counter)
}
