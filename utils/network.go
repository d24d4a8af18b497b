package utils

import (
	"net"
	"strconv"
)

//ValidPort checks if the port given as argument is valid.
//A port is valid if it is between 0 and 65535
//It returns a boolean depending on the validity of the port.
func ValidPort(port string) bool {
	portInt, err := strconv.Atoi(port)
	return err == nil && 0 < portInt && portInt < 65535
}

//ValidIPv4 checks if the given string is a valid IPv4 address
func ValidIPv4(ip string) bool {
	valid := net.ParseIP(ip)
	return valid.To4() != nil
}

//ValidNetmask checks if the given string is a contiguous IPv4 netmask,
//such as 255.255.255.0.
func ValidNetmask(mask string) bool {
	ip := net.ParseIP(mask)
	if ip == nil {
		return false
	}
	v4 := ip.To4()
	if v4 == nil {
		return false
	}
	ones, bits := net.IPv4Mask(v4[0], v4[1], v4[2], v4[3]).Size()
	return bits == 32 && (ones > 0 || v4.Equal(net.IPv4zero.To4()))
}
