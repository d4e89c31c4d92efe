package protocol

import "encoding/json"

// MAP (server -> client), sent once after the connection is accepted.
type MapMsg struct {
	Type   string    `json:"type"`
	Width  int       `json:"width"`
	Height int       `json:"height"`
	Tiles  []MapTile `json:"tiles"`
}

// MapTile lists a walkable tile. Tiles absent from the list are walls.
type MapTile struct {
	X        int  `json:"x"`
	Y        int  `json:"y"`
	Delivery bool `json:"delivery"`
}

// YOU (server -> client): the connected agent itself.
type YouMsg struct {
	Type string `json:"type"`
	AgentInfo
}

type AgentInfo struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Score int     `json:"score"`
}

type ParcelInfo struct {
	ID        string  `json:"id"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	CarriedBy string  `json:"carriedBy,omitempty"`
	Reward    int     `json:"reward"`
}

type AgentsSensingMsg struct {
	Type   string      `json:"type"`
	Agents []AgentInfo `json:"agents"`
}

type ParcelsSensingMsg struct {
	Type    string       `json:"type"`
	Parcels []ParcelInfo `json:"parcels"`
}

// MSG (server -> client): a team message relayed by the game server.
type RelayMsg struct {
	Type     string          `json:"type"`
	FromID   string          `json:"from_id"`
	FromName string          `json:"from_name"`
	Msg      json.RawMessage `json:"msg"`
}

// ACK (server -> client) answers a MOVE/PICKUP/PUTDOWN request.
type AckMsg struct {
	Type    string   `json:"type"`
	ReqID   string   `json:"req_id"`
	OK      bool     `json:"ok"`
	Code    string   `json:"code,omitempty"`
	Parcels []string `json:"parcels,omitempty"`
}

// MOVE/PICKUP/PUTDOWN (client -> server).
type ActionReq struct {
	Type      string `json:"type"`
	ReqID     string `json:"req_id"`
	Direction string `json:"direction,omitempty"`
}

// SAY/SHOUT (client -> server). SAY is addressed, SHOUT reaches every connected agent.
type SayReq struct {
	Type string          `json:"type"`
	To   string          `json:"to,omitempty"`
	Msg  json.RawMessage `json:"msg"`
}

// Sensed is one perception frame handed from the game connection to the
// agent runtime. Exactly one of the payload fields is set, per Type.
type Sensed struct {
	Type    string
	Map     *MapMsg
	You     *AgentInfo
	Agents  []AgentInfo
	Parcels []ParcelInfo
}
