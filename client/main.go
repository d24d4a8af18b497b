package main

import (
	"flag"
	"log"
	"net"

	"github.com/tomhenderson/epidemic-routing/helper"
	"github.com/tomhenderson/epidemic-routing/packet"
	"github.com/tomhenderson/epidemic-routing/utils"
)

var (
	uiPort   string
	msg      string
	nodeAddr string
	dest     string
)

func init() {
	flag.StringVar(&uiPort, "UIPort", "8080", "port for the UI client (default \"8080\")")
	flag.StringVar(&msg, "msg", "", "payload to be carried to the destination node")
	flag.StringVar(&dest, "dest", "", "IPv4 address of the destination node")
	flag.StringVar(&nodeAddr, "nodeAddr", "127.0.0.1", "ip address of the local epidemic node")
	flag.Parse()

	if !utils.ValidPort(uiPort) {
		helper.HandleCrashingErr(&helper.IllegalArgumentError{
			ErrorMessage: "UIPort is not a valid port",
			Where:        "client/main.go",
		})
	}
	if !utils.ValidIPv4(dest) {
		helper.HandleCrashingErr(&helper.IllegalArgumentError{
			ErrorMessage: "dest must be a valid IPv4 address",
			Where:        "client/main.go",
		})
	}
	nodeAddr += ":" + uiPort
}

func main() {
	udpAddr, conn := connectUDP()
	defer conn.Close()

	message := &packet.Message{
		Text:        msg,
		Destination: dest,
	}

	packetBytes, err := packet.GetMessageBytes(message)
	helper.HandleCrashingErr(err)
	sendPacket(conn, packetBytes, udpAddr)
}

// sendPacket sends the previously created packet.
func sendPacket(conn *net.UDPConn, packetBytes []byte, udpAddr *net.UDPAddr) {
	i, err := conn.Write(packetBytes)
	if err != nil {
		helper.HandleCrashingErr(err)
	} else if len(packetBytes) != i {
		log.Printf("%d bytes have been sent instead of %d\n", i, len(packetBytes))
	}
}

//connectUDP connects to the node's UI port through UDP.
// It returns the resolved address used for UDP and the connection.
func connectUDP() (*net.UDPAddr, *net.UDPConn) {
	udpAddr, err := net.ResolveUDPAddr("udp4", nodeAddr)
	if err != nil {
		helper.HandleCrashingErr(err)
	}
	conn, err := net.DialUDP("udp4", nil, udpAddr)
	if err != nil {
		helper.HandleCrashingErr(err)
	}
	return udpAddr, conn
}
