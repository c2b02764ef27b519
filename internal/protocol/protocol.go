package protocol

import "encoding/json"

const Version = "1.0"

// Push message types carried over the websocket channel.
const (
	TypeHello               = "HELLO"
	TypeWelcome             = "WELCOME"
	TypeResourceTick        = "resource_tick"
	TypeBaseBuilt           = "base_built"
	TypeConstructionUpdated = "construction_updated"
	TypeResearchCompleted   = "research_completed"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
