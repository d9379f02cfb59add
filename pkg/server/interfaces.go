package server

import (
	"context"

	"github.com/driftchat/driftchat/pkg/store"
)

// MessageStore defines the storage gateway operations used by the server.
// This abstraction allows for easier testing and potential future storage
// backends.
type MessageStore interface {
	// Session directory
	RegisterUser(ctx context.Context, username, sessionID string) error
	GetUsername(ctx context.Context, sessionID string) (string, error)
	DeleteUser(ctx context.Context, sessionID string) error

	// Message log
	CreateMessage(ctx context.Context, text, username string) (store.Message, error)
	FetchMessages(ctx context.Context, limit int, cursor string) (store.Page, error)

	// Close the store
	Close() error
}
