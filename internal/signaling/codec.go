package signaling

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// binaryMessage is the msgpack envelope used for stored messages.
type binaryMessage struct {
	Type      Kind               `msgpack:"type"`
	Sender    string             `msgpack:"sender"`
	Receiver  string             `msgpack:"receiver"`
	Payload   msgpack.RawMessage `msgpack:"payload"`
	CreatedAt time.Time          `msgpack:"created_at"`
	ExpiresAt time.Time          `msgpack:"expires_at"`
}

// EncodeBinary packs msg with msgpack.
func EncodeBinary(msg Message) ([]byte, error) {
	if msg.Payload == nil {
		return nil, fmt.Errorf("message from %q has no payload", msg.Sender)
	}
	payload, err := msgpack.Marshal(msg.Payload)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(binaryMessage{
		Type:      msg.Payload.Kind(),
		Sender:    msg.Sender,
		Receiver:  msg.Receiver,
		Payload:   payload,
		CreatedAt: msg.CreatedAt,
		ExpiresAt: msg.ExpiresAt,
	})
}

// DecodeBinary is the inverse of EncodeBinary.
func DecodeBinary(data []byte) (Message, error) {
	var b binaryMessage
	if err := msgpack.Unmarshal(data, &b); err != nil {
		return Message{}, err
	}
	p, err := newPayload(b.Type)
	if err != nil {
		return Message{}, err
	}
	if err := msgpack.Unmarshal(b.Payload, p); err != nil {
		return Message{}, fmt.Errorf("decode %s payload: %w", b.Type, err)
	}
	return Message{
		Sender:    b.Sender,
		Receiver:  b.Receiver,
		Payload:   deref(p),
		CreatedAt: b.CreatedAt,
		ExpiresAt: b.ExpiresAt,
	}, nil
}
