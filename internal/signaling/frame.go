package signaling

// Op names a websocket frame between a client and the signaling server.
type Op string

const (
	// client -> server
	OpJoin  Op = "join"
	OpLeave Op = "leave"
	OpSend  Op = "send"

	// server -> client
	OpDeliver Op = "deliver"
	OpError   Op = "error"
)

// Frame is one websocket message. Message is set for send and deliver.
type Frame struct {
	Op            Op       `json:"op"`
	RoomID        string   `json:"room_id,omitempty"`
	ParticipantID string   `json:"participant_id,omitempty"`
	Message       *Message `json:"message,omitempty"`
	Error         string   `json:"error,omitempty"`
}
