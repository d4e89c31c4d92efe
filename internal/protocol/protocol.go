package protocol

import "encoding/json"

const Version = "1.0"

// Game-server frame types.
const (
	TypeMap            = "map"
	TypeYou            = "you"
	TypeAgentsSensing  = "agents sensing"
	TypeParcelsSensing = "parcels sensing"
	TypeMsg            = "msg"
	TypeAck            = "ack"

	TypeMove    = "move"
	TypePickup  = "pickup"
	TypePutdown = "putdown"
	TypeSay     = "say"
	TypeShout   = "shout"
)

// BaseMessage lets us route unknown JSON frames by type.
type BaseMessage struct {
	Type string `json:"type"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
