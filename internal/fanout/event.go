// Package fanout pushes domain events to the live connections of the users
// they concern. Publishing never blocks the caller.
package fanout

import "encoding/json"

// Event types pushed to clients.
const (
	TypeAuthenticated   = "authenticated"
	TypeReceiveMessage  = "receiveMessage"
	TypeMessageEdited   = "messageEdited"
	TypeMessageDeleted  = "messageDeleted"
	TypeNewNotification = "newNotification"
)

// Event is the envelope written to a connection.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Encode returns the wire form of e.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// delivery is one encoded event bound for a set of users. It is also the
// payload carried by a Relay.
type delivery struct {
	Key        string          `json:"key"`
	Type       string          `json:"type"`
	Recipients []string        `json:"recipients"`
	Frame      json.RawMessage `json:"frame"`
}
