package protocol

import (
	"encoding/json"
	"errors"
	"sort"
	"time"
)

// Inbound command names
const (
	CmdSignIn          = "SIGN_IN"
	CmdSignOut         = "SIGN_OUT"
	CmdNewMessage      = "NEW_MESSAGE"
	CmdGetMoreMessages = "GET_MORE_MESSAGES"
)

// Outbound frame types
const (
	TypeSignedIn          = "SIGNED_IN"
	TypeSignedOut         = "SIGNED_OUT"
	TypeNewMessageCreated = "NEW_MESSAGE_CREATED"
	TypeMessageHistory    = "MESSAGE_HISTORY"
	TypeDiscussionUpdated = "DISCUSSION_UPDATED"
	TypeError             = "ERROR"
)

// ErrInvalidFormat indicates an inbound frame that could not be decoded.
var ErrInvalidFormat = errors.New("invalid message format")

// Command is an inbound client frame.
type Command struct {
	Command string  `json:"command"`
	Payload Payload `json:"payload,omitempty"`
}

// Payload carries the optional arguments of a Command. Which fields are
// meaningful depends on the command; unknown fields are ignored.
type Payload struct {
	UserName         string `json:"userName,omitempty"`
	Message          string `json:"message,omitempty"`
	LastEvaluatedKey string `json:"lastEvaluatedKey,omitempty"`
}

// Message is a single chat message as seen on the wire. The same shape is
// used for history pages, creation acks, live updates and bus events.
type Message struct {
	UserName  string    `json:"userName"`
	Text      string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// ParseCommand decodes an inbound frame. Any decode failure maps to
// ErrInvalidFormat; the caller reports it and keeps the connection open.
func ParseCommand(data []byte) (*Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, ErrInvalidFormat
	}
	if cmd.Command == "" {
		return nil, ErrInvalidFormat
	}
	return &cmd, nil
}

// SortMessages orders messages ascending by creation time for display.
// Pages come back from storage newest-first; clients render oldest-first.
func SortMessages(messages []Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
}
