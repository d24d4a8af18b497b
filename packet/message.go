package packet

import (
	"go.dedis.ch/protobuf"

	"github.com/tomhenderson/epidemic-routing/helper"
)

//Message is what the client sends to a running node on the UI port:
//a payload and the IPv4 address of the destination node. It never touches
//the inter-node wire, so protobuf encoding is fine here.
type Message struct {
	Text        string
	Destination string
}

//GetMessageBytes serializes a Message for the UI port.
func GetMessageBytes(message *Message) ([]byte, error) {
	packetBytes, err := protobuf.Encode(message)
	if err != nil {
		helper.LogError(err)
		return nil, err
	}
	return packetBytes, nil
}

//GetMessage deserialize the n first bytes of buffer to get a Message
func GetMessage(buffer []byte, n int) (*Message, error) {
	receivedPacket := &Message{}
	err := protobuf.Decode(buffer[:n], receivedPacket)
	if err != nil {
		helper.LogError(err)
		return nil, err
	}
	return receivedPacket, err
}
