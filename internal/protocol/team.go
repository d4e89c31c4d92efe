package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Team message types exchanged between cooperating agents.
const (
	TypeInform       = "INFORM"
	TypeIntention    = "INTENTION"
	TypeAskForLeader = "ASKFORLEADER"
	TypeLeader       = "LEADER"
	TypeAskForPlan   = "ASKFORPLAN"
	TypePlan         = "PLAN"
	TypeAckAction    = "ACKACTION"
)

var (
	ErrUnknownType = errors.New("unknown team message type")
	ErrInvalid     = errors.New("invalid team message")
)

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// TeamMessage is immutable once built; handlers consume it once.
type TeamMessage struct {
	Type           string      `json:"type"`
	SenderID       string      `json:"senderId"`
	SenderPosition Position    `json:"senderPosition"`
	Timestamp      string      `json:"timestamp"`
	Payload        TeamPayload `json:"payload"`
}

type TeamPayload struct {
	Agents           []AgentInfo  `json:"agents,omitempty"`
	Parcels          []ParcelInfo `json:"parcels,omitempty"`
	DeliveredParcels []ParcelInfo `json:"deliveredParcels,omitempty"`
	ParcelIDs        []string     `json:"parcelIds,omitempty"`
	Actions          []string     `json:"actions,omitempty"`
}

func newTeamMessage(typ, senderID string, pos Position, now time.Time) TeamMessage {
	return TeamMessage{
		Type:           typ,
		SenderID:       senderID,
		SenderPosition: pos,
		Timestamp:      now.UTC().Format(time.RFC3339Nano),
	}
}

func NewInform(senderID string, pos Position, now time.Time, agents []AgentInfo, parcels []ParcelInfo, delivered []ParcelInfo) TeamMessage {
	m := newTeamMessage(TypeInform, senderID, pos, now)
	m.Payload = TeamPayload{Agents: agents, Parcels: parcels, DeliveredParcels: delivered}
	return m
}

func NewIntention(senderID string, pos Position, now time.Time, parcelIDs []string) TeamMessage {
	m := newTeamMessage(TypeIntention, senderID, pos, now)
	m.Payload = TeamPayload{ParcelIDs: parcelIDs}
	return m
}

func NewAskForLeader(senderID string, pos Position, now time.Time) TeamMessage {
	return newTeamMessage(TypeAskForLeader, senderID, pos, now)
}

func NewLeader(senderID string, pos Position, now time.Time) TeamMessage {
	return newTeamMessage(TypeLeader, senderID, pos, now)
}

func NewAskForPlan(senderID string, pos Position, now time.Time) TeamMessage {
	return newTeamMessage(TypeAskForPlan, senderID, pos, now)
}

func NewPlan(senderID string, pos Position, now time.Time, actions []string) TeamMessage {
	m := newTeamMessage(TypePlan, senderID, pos, now)
	m.Payload = TeamPayload{Actions: actions}
	return m
}

func NewAckAction(senderID string, pos Position, now time.Time) TeamMessage {
	return newTeamMessage(TypeAckAction, senderID, pos, now)
}

// EncodeTeam marshals a team message for the bus. An empty payload is
// always encoded as {} so the receiving side can validate it.
func EncodeTeam(m TeamMessage) ([]byte, error) {
	return json.Marshal(m)
}

// DecodeTeam validates raw against the team message schema and decodes it.
// Anything failing validation is reported as ErrInvalid; a well-formed
// message with a type this build does not know is ErrUnknownType.
func DecodeTeam(raw []byte) (TeamMessage, error) {
	var m TeamMessage
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return m, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if obj, ok := doc.(map[string]any); ok {
		if typ, _ := obj["type"].(string); typ != "" && !KnownTeamType(typ) {
			return m, fmt.Errorf("%w: %q", ErrUnknownType, typ)
		}
	}
	if err := validateTeam(doc); err != nil {
		return m, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return m, nil
}

func KnownTeamType(t string) bool {
	switch t {
	case TypeInform, TypeIntention, TypeAskForLeader, TypeLeader, TypeAskForPlan, TypePlan, TypeAckAction:
		return true
	}
	return false
}
