package protocol

// HistoryPage is the paginated history block carried by SIGNED_IN and
// MESSAGE_HISTORY frames. LastEvaluatedKey is an opaque storage cursor,
// round-tripped by the client verbatim; nil means no further pages.
type HistoryPage struct {
	Messages         []Message `json:"messages"`
	LastEvaluatedKey *string   `json:"lastEvaluatedKey"`
	TotalMessages    int       `json:"totalMessages"`
}

// SignedInFrame acknowledges a successful sign-in with the newest page of
// history.
type SignedInFrame struct {
	Type string      `json:"type"`
	Data HistoryPage `json:"data"`
}

// SignedOutFrame acknowledges a sign-out.
type SignedOutFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewMessageCreatedFrame acknowledges message creation to its author.
type NewMessageCreatedFrame struct {
	Type string  `json:"type"`
	Data Message `json:"data"`
}

// MessageHistoryFrame carries one further page of history.
type MessageHistoryFrame struct {
	Type             string    `json:"type"`
	Messages         []Message `json:"messages"`
	LastEvaluatedKey *string   `json:"lastEvaluatedKey"`
	TotalMessages    int       `json:"totalMessages"`
}

// DiscussionUpdatedFrame pushes another user's message to a connection.
type DiscussionUpdatedFrame struct {
	Type string  `json:"type"`
	Data Message `json:"data"`
}

// ErrorFrame reports a command failure. The connection stays open.
type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewSignedIn builds a SIGNED_IN frame.
func NewSignedIn(page HistoryPage) *SignedInFrame {
	return &SignedInFrame{Type: TypeSignedIn, Data: page}
}

// NewSignedOut builds a SIGNED_OUT frame.
func NewSignedOut(message string) *SignedOutFrame {
	return &SignedOutFrame{Type: TypeSignedOut, Message: message}
}

// NewMessageCreated builds a NEW_MESSAGE_CREATED frame.
func NewMessageCreated(msg Message) *NewMessageCreatedFrame {
	return &NewMessageCreatedFrame{Type: TypeNewMessageCreated, Data: msg}
}

// NewMessageHistory builds a MESSAGE_HISTORY frame.
func NewMessageHistory(page HistoryPage) *MessageHistoryFrame {
	return &MessageHistoryFrame{
		Type:             TypeMessageHistory,
		Messages:         page.Messages,
		LastEvaluatedKey: page.LastEvaluatedKey,
		TotalMessages:    page.TotalMessages,
	}
}

// NewDiscussionUpdated builds a DISCUSSION_UPDATED frame.
func NewDiscussionUpdated(msg Message) *DiscussionUpdatedFrame {
	return &DiscussionUpdatedFrame{Type: TypeDiscussionUpdated, Data: msg}
}

// NewError builds an ERROR frame.
func NewError(message string) *ErrorFrame {
	return &ErrorFrame{Type: TypeError, Message: message}
}
