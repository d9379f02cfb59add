package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/driftchat/driftchat/pkg/bus"
	"github.com/driftchat/driftchat/pkg/protocol"
	"github.com/driftchat/driftchat/pkg/store"
)

// dispatch routes one inbound command. Authentication is derived by
// registry lookup, not tracked per connection.
func (s *Server) dispatch(conn Handle, connID string, cmd *protocol.Command) {
	switch cmd.Command {
	case protocol.CmdSignIn:
		s.handleSignIn(conn, connID, cmd.Payload.UserName)
	case protocol.CmdSignOut:
		s.handleSignOut(conn, connID)
	case protocol.CmdNewMessage:
		s.handleNewMessage(conn, connID, cmd.Payload.Message)
	case protocol.CmdGetMoreMessages:
		s.handleGetMoreMessages(conn, cmd.Payload.LastEvaluatedKey)
	default:
		s.sendError(conn, "Unknown command")
	}
}

// commandContext bounds every storage/bus call made on behalf of a command.
func (s *Server) commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.config.RequestTimeout)
}

// handleSignIn registers the user in the directory, binds the session, and
// replies SIGNED_IN with the newest page of history. Registration and bind
// are not transactional: if the bind or the history fetch fails, the
// directory row is rolled back and the connection stays anonymous. An
// already-bound connection is rejected before the directory is written;
// the live session's row stays until sign-out or disconnect.
func (s *Server) handleSignIn(conn Handle, connID, username string) {
	if username == "" {
		s.sendError(conn, "Username is required")
		return
	}
	if _, bound := s.registry.Resolve(connID); bound {
		s.sendError(conn, "Connection is already signed in")
		return
	}

	ctx, cancel := s.commandContext()
	defer cancel()

	if err := s.store.RegisterUser(ctx, username, connID); err != nil {
		s.sendError(conn, capitalize(err.Error()))
		return
	}

	if err := s.registry.Bind(connID, username, conn); err != nil {
		if derr := s.store.DeleteUser(ctx, connID); derr != nil {
			errorLog.Printf("Connection %s: failed to roll back registration: %v", connID, derr)
		}
		switch {
		case errors.Is(err, ErrUsernameTaken):
			s.sendError(conn, "Username is already taken")
		case errors.Is(err, ErrAlreadyBound):
			s.sendError(conn, "Connection is already signed in")
		default:
			s.sendError(conn, capitalize(err.Error()))
		}
		return
	}

	page, err := s.store.FetchMessages(ctx, s.config.HistoryPageSize, "")
	if err != nil {
		s.registry.Unbind(connID)
		if derr := s.store.DeleteUser(ctx, connID); derr != nil {
			errorLog.Printf("Connection %s: failed to roll back registration: %v", connID, derr)
		}
		s.sendError(conn, capitalize(err.Error()))
		return
	}

	debugLog.Printf("Connection %s: signed in as %s", connID, username)
	if s.metrics != nil {
		s.metrics.RecordSessionSignedIn()
		s.metrics.RecordActiveSessions(s.registry.Len())
	}

	s.send(conn, protocol.TypeSignedIn, protocol.NewSignedIn(historyPage(page)))
}

// handleSignOut deletes the directory entry, unbinds the session, and
// replies SIGNED_OUT.
func (s *Server) handleSignOut(conn Handle, connID string) {
	username, ok := s.registry.Resolve(connID)
	if !ok {
		s.sendError(conn, "User does not exist")
		return
	}

	ctx, cancel := s.commandContext()
	defer cancel()

	if err := s.store.DeleteUser(ctx, connID); err != nil {
		errorLog.Printf("Connection %s: sign-out failed: %v", connID, err)
		s.sendError(conn, fmt.Sprintf("%s could not be logged out properly", username))
		return
	}

	s.registry.Unbind(connID)
	debugLog.Printf("Connection %s: %s signed out", connID, username)
	if s.metrics != nil {
		s.metrics.RecordActiveSessions(s.registry.Len())
	}

	s.send(conn, protocol.TypeSignedOut, protocol.NewSignedOut(username+" logged out"))
}

// handleNewMessage persists the message, publishes the creation event for
// every process's fan-out listener, and acks the author.
func (s *Server) handleNewMessage(conn Handle, connID, text string) {
	if strings.TrimSpace(text) == "" {
		s.sendError(conn, "Comment field cannot be empty")
		return
	}
	if s.config.MaxMessageLength > 0 && len(text) > s.config.MaxMessageLength {
		s.sendError(conn, fmt.Sprintf("Message too long (max %d bytes)", s.config.MaxMessageLength))
		return
	}

	username, ok := s.registry.Resolve(connID)
	if !ok {
		s.sendError(conn, "User must be authenticated")
		return
	}

	ctx, cancel := s.commandContext()
	defer cancel()

	msg, err := s.store.CreateMessage(ctx, text, username)
	if err != nil {
		s.sendError(conn, capitalize(err.Error()))
		return
	}

	wire := protocol.Message{UserName: msg.UserName, Text: msg.Text, CreatedAt: msg.CreatedAt}
	event, err := json.Marshal(wire)
	if err != nil {
		s.sendError(conn, capitalize(err.Error()))
		return
	}
	if err := s.bus.Publish(ctx, bus.SubjectMessageCreated, event); err != nil {
		// The message is persisted; only the cross-process announcement
		// failed. Report it like any collaborator failure.
		errorLog.Printf("Connection %s: failed to publish message event: %v", connID, err)
		s.sendError(conn, capitalize(err.Error()))
		return
	}

	if s.metrics != nil {
		s.metrics.RecordMessageCreated()
	}

	s.send(conn, protocol.TypeNewMessageCreated, protocol.NewMessageCreated(wire))
}

// handleGetMoreMessages pages backwards through history using the opaque
// storage cursor, newest page when no cursor is given.
func (s *Server) handleGetMoreMessages(conn Handle, cursor string) {
	ctx, cancel := s.commandContext()
	defer cancel()

	page, err := s.store.FetchMessages(ctx, s.config.HistoryPageSize, cursor)
	if err != nil {
		s.sendError(conn, capitalize(err.Error()))
		return
	}

	s.send(conn, protocol.TypeMessageHistory, protocol.NewMessageHistory(historyPage(page)))
}

// send pushes a frame to a connection. Send failures are swallowed: the
// read loop notices the dead transport and runs cleanup.
func (s *Server) send(conn Handle, frameType string, frame any) {
	if err := conn.Send(frame); err != nil {
		debugLog.Printf("Failed to send %s frame: %v", frameType, err)
		return
	}
	if s.metrics != nil {
		s.metrics.RecordFrameSent(frameType)
	}
}

// sendError reports a command failure on the originating connection.
func (s *Server) sendError(conn Handle, message string) {
	s.send(conn, protocol.TypeError, protocol.NewError(message))
}

// historyPage converts a storage page to its wire form, re-sorted
// ascending by creation time for display.
func historyPage(page store.Page) protocol.HistoryPage {
	messages := make([]protocol.Message, 0, len(page.Messages))
	for _, msg := range page.Messages {
		messages = append(messages, protocol.Message{
			UserName:  msg.UserName,
			Text:      msg.Text,
			CreatedAt: msg.CreatedAt,
		})
	}
	protocol.SortMessages(messages)

	return protocol.HistoryPage{
		Messages:         messages,
		LastEvaluatedKey: page.NextCursor,
		TotalMessages:    page.Total,
	}
}

// capitalize upper-cases the first byte of an error message for client
// display.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	if s[0] >= 'a' && s[0] <= 'z' {
		return string(s[0]-'a'+'A') + s[1:]
	}
	return s
}
