package collab

import (
	"encoding/json"
	"errors"
	"fmt"

	"docsync/api/internal/crdt"
)

// MessageType names a protocol message. Every message is one JSON object per
// websocket text frame.
type MessageType string

const (
	// Client to server.
	MsgJoin      MessageType = "join"
	MsgUpdate    MessageType = "update"
	MsgAwareness MessageType = "awareness"
	MsgLeave     MessageType = "leave"
	MsgPing      MessageType = "ping"

	// Server to client.
	MsgWelcome MessageType = "welcome"
	MsgSync    MessageType = "sync"
	MsgPong    MessageType = "pong"
	MsgError   MessageType = "error"
)

// maxDocumentName bounds the names clients may join.
const maxDocumentName = 512

// ErrProtocol reports a message the server cannot act on.
var ErrProtocol = errors.New("collab: protocol error")

// Message is the single envelope used in both directions.
//
// A join carries the client's state vector and, when it synced this document
// before, the session it synced with. The sync reply carries the missing
// operations and the server's session; Reset tells the client to drop its local
// replica because the server's copy was rebuilt since.
type Message struct {
	Type        MessageType      `json:"type"`
	Document    string           `json:"document,omitempty"`
	Session     string           `json:"session,omitempty"`
	ClientID    uint64           `json:"clientId,omitempty"`
	StateVector crdt.StateVector `json:"stateVector,omitempty"`
	Update      *crdt.Update     `json:"update,omitempty"`
	State       json.RawMessage  `json:"state,omitempty"`
	Reset       bool             `json:"reset,omitempty"`
	Message     string           `json:"message,omitempty"`
}

func decodeMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: decode message: %v", ErrProtocol, err)
	}
	switch msg.Type {
	case MsgPing:
		return msg, nil
	case MsgJoin, MsgUpdate, MsgAwareness, MsgLeave:
	default:
		return Message{}, fmt.Errorf("%w: unknown message type %q", ErrProtocol, msg.Type)
	}
	if msg.Document == "" || len(msg.Document) > maxDocumentName {
		return Message{}, fmt.Errorf("%w: missing or oversized document name", ErrProtocol)
	}
	if msg.Type == MsgUpdate && msg.Update == nil {
		return Message{}, fmt.Errorf("%w: update without operations", ErrProtocol)
	}
	return msg, nil
}

func encodeMessage(msg Message) []byte {
	data, err := json.Marshal(msg)
	if err != nil {
		// Message holds only marshalable fields; State is validated JSON.
		panic(fmt.Sprintf("collab: encode %s message: %v", msg.Type, err))
	}
	return data
}
