package server

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/driftchat/driftchat/pkg/bus"
	"github.com/driftchat/driftchat/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// initTestLoggers discards log output to keep test output clean
func initTestLoggers() {
	errorLog = log.New(io.Discard, "ERROR: ", log.LstdFlags)
	debugLog = log.New(io.Discard, "DEBUG: ", log.LstdFlags)
}

// testServer creates a server with a mock store and an in-process bus, with
// the fan-out listener subscribed.
func testServer(t *testing.T) (*Server, *mockStore) {
	t.Helper()
	initTestLoggers()

	st := newMockStore()
	b := bus.NewMemoryBus()
	srv := NewServer(st, b, DefaultConfig())
	require.NoError(t, srv.startFanout())
	t.Cleanup(func() { b.Close() })

	return srv, st
}

func signIn(srv *Server, conn Handle, connID, username string) {
	srv.dispatch(conn, connID, &protocol.Command{
		Command: protocol.CmdSignIn,
		Payload: protocol.Payload{UserName: username},
	})
}

func postMessage(srv *Server, conn Handle, connID, text string) {
	srv.dispatch(conn, connID, &protocol.Command{
		Command: protocol.CmdNewMessage,
		Payload: protocol.Payload{Message: text},
	})
}

func requireErrorFrame(t *testing.T, frame any, message string) {
	t.Helper()
	errFrame, ok := frame.(*protocol.ErrorFrame)
	require.True(t, ok, "expected ERROR frame, got %T", frame)
	assert.Equal(t, message, errFrame.Message)
}

func TestSignInReturnsHistoryAscending(t *testing.T) {
	srv, st := testServer(t)
	ctx := context.Background()

	for _, text := range []string{"first", "second", "third"} {
		_, err := st.CreateMessage(ctx, text, "earlier")
		require.NoError(t, err)
	}

	conn := newMockHandle()
	signIn(srv, conn, "10.0.0.1:5000", "alice")

	frame, ok := conn.lastFrame().(*protocol.SignedInFrame)
	require.True(t, ok, "expected SIGNED_IN frame, got %T", conn.lastFrame())
	require.Len(t, frame.Data.Messages, 3)
	assert.Equal(t, "first", frame.Data.Messages[0].Text)
	assert.Equal(t, "second", frame.Data.Messages[1].Text)
	assert.Equal(t, "third", frame.Data.Messages[2].Text)
	assert.Equal(t, 3, frame.Data.TotalMessages)

	username, bound := srv.registry.Resolve("10.0.0.1:5000")
	require.True(t, bound)
	assert.Equal(t, "alice", username)
}

func TestSignInEmptyUsername(t *testing.T) {
	srv, st := testServer(t)

	conn := newMockHandle()
	signIn(srv, conn, "10.0.0.1:5000", "")

	requireErrorFrame(t, conn.lastFrame(), "Username is required")
	_, bound := srv.registry.Resolve("10.0.0.1:5000")
	assert.False(t, bound)
	assert.Zero(t, st.sessionCount())
}

func TestSignInDuplicateUsernameRejected(t *testing.T) {
	srv, st := testServer(t)

	first := newMockHandle()
	signIn(srv, first, "10.0.0.1:5000", "alice")
	require.IsType(t, &protocol.SignedInFrame{}, first.lastFrame())

	second := newMockHandle()
	signIn(srv, second, "10.0.0.2:5000", "alice")

	requireErrorFrame(t, second.lastFrame(), "Username is already taken")

	// The rejected sign-in left neither a binding nor a directory row
	_, bound := srv.registry.Resolve("10.0.0.2:5000")
	assert.False(t, bound)
	assert.Equal(t, 1, st.sessionCount())

	// The first session is untouched
	username, bound := srv.registry.Resolve("10.0.0.1:5000")
	require.True(t, bound)
	assert.Equal(t, "alice", username)
}

func TestSignInOnBoundConnectionKeepsSession(t *testing.T) {
	srv, st := testServer(t)
	ctx := context.Background()

	conn := newMockHandle()
	signIn(srv, conn, "10.0.0.1:5000", "alice")
	require.IsType(t, &protocol.SignedInFrame{}, conn.lastFrame())

	// A second SIGN_IN on the same connection is rejected
	signIn(srv, conn, "10.0.0.1:5000", "bob")
	requireErrorFrame(t, conn.lastFrame(), "Connection is already signed in")

	// The live session survives intact: binding and directory row both
	// still resolve to the original username
	username, bound := srv.registry.Resolve("10.0.0.1:5000")
	require.True(t, bound)
	assert.Equal(t, "alice", username)

	stored, err := st.GetUsername(ctx, "10.0.0.1:5000")
	require.NoError(t, err)
	assert.Equal(t, "alice", stored)

	// Repeating the same username is rejected the same way
	signIn(srv, conn, "10.0.0.1:5000", "alice")
	requireErrorFrame(t, conn.lastFrame(), "Connection is already signed in")
	stored, err = st.GetUsername(ctx, "10.0.0.1:5000")
	require.NoError(t, err)
	assert.Equal(t, "alice", stored)
}

func TestSignInRegisterFailure(t *testing.T) {
	srv, st := testServer(t)
	st.failRegister = errors.New("directory unavailable")

	conn := newMockHandle()
	signIn(srv, conn, "10.0.0.1:5000", "alice")

	requireErrorFrame(t, conn.lastFrame(), "Directory unavailable")
	_, bound := srv.registry.Resolve("10.0.0.1:5000")
	assert.False(t, bound)
}

func TestSignInHistoryFetchFailureRollsBack(t *testing.T) {
	srv, st := testServer(t)
	st.failFetch = errors.New("log unavailable")

	conn := newMockHandle()
	signIn(srv, conn, "10.0.0.1:5000", "alice")

	requireErrorFrame(t, conn.lastFrame(), "Log unavailable")

	// Registered-but-not-signed-in must not survive
	_, bound := srv.registry.Resolve("10.0.0.1:5000")
	assert.False(t, bound)
	assert.Zero(t, st.sessionCount())
}

func TestSignOut(t *testing.T) {
	srv, st := testServer(t)

	conn := newMockHandle()
	signIn(srv, conn, "10.0.0.1:5000", "alice")

	srv.dispatch(conn, "10.0.0.1:5000", &protocol.Command{Command: protocol.CmdSignOut})

	frame, ok := conn.lastFrame().(*protocol.SignedOutFrame)
	require.True(t, ok, "expected SIGNED_OUT frame, got %T", conn.lastFrame())
	assert.Equal(t, "alice logged out", frame.Message)

	_, bound := srv.registry.Resolve("10.0.0.1:5000")
	assert.False(t, bound)
	assert.Zero(t, st.sessionCount())
	assert.Empty(t, srv.registry.LocalUsernames())
}

func TestSignOutWhileAnonymous(t *testing.T) {
	srv, _ := testServer(t)

	conn := newMockHandle()
	srv.dispatch(conn, "10.0.0.1:5000", &protocol.Command{Command: protocol.CmdSignOut})

	requireErrorFrame(t, conn.lastFrame(), "User does not exist")
}

func TestSignOutDirectoryFailure(t *testing.T) {
	srv, st := testServer(t)

	conn := newMockHandle()
	signIn(srv, conn, "10.0.0.1:5000", "alice")
	st.failDelete = errors.New("directory unavailable")

	srv.dispatch(conn, "10.0.0.1:5000", &protocol.Command{Command: protocol.CmdSignOut})

	requireErrorFrame(t, conn.lastFrame(), "alice could not be logged out properly")

	// The session survives a failed sign-out; the connection stays usable
	username, bound := srv.registry.Resolve("10.0.0.1:5000")
	require.True(t, bound)
	assert.Equal(t, "alice", username)
}

func TestNewMessageAfterSignOut(t *testing.T) {
	srv, _ := testServer(t)

	conn := newMockHandle()
	signIn(srv, conn, "10.0.0.1:5000", "alice")
	srv.dispatch(conn, "10.0.0.1:5000", &protocol.Command{Command: protocol.CmdSignOut})

	postMessage(srv, conn, "10.0.0.1:5000", "still there?")

	requireErrorFrame(t, conn.lastFrame(), "User must be authenticated")
}

func TestNewMessageAcksAuthor(t *testing.T) {
	srv, st := testServer(t)

	conn := newMockHandle()
	signIn(srv, conn, "10.0.0.1:5000", "alice")

	postMessage(srv, conn, "10.0.0.1:5000", "hi")

	frame, ok := conn.lastFrame().(*protocol.NewMessageCreatedFrame)
	require.True(t, ok, "expected NEW_MESSAGE_CREATED frame, got %T", conn.lastFrame())
	assert.Equal(t, "hi", frame.Data.Text)
	assert.Equal(t, "alice", frame.Data.UserName)
	assert.False(t, frame.Data.CreatedAt.IsZero())
	assert.Equal(t, 1, st.messageCount())
}

func TestNewMessageRejectsEmpty(t *testing.T) {
	srv, st := testServer(t)

	conn := newMockHandle()
	signIn(srv, conn, "10.0.0.1:5000", "alice")

	for _, text := range []string{"", "   ", "\t\n"} {
		postMessage(srv, conn, "10.0.0.1:5000", text)
		requireErrorFrame(t, conn.lastFrame(), "Comment field cannot be empty")
	}
	assert.Zero(t, st.messageCount())
}

func TestNewMessageRejectsTooLong(t *testing.T) {
	srv, st := testServer(t)

	conn := newMockHandle()
	signIn(srv, conn, "10.0.0.1:5000", "alice")

	postMessage(srv, conn, "10.0.0.1:5000", strings.Repeat("x", srv.config.MaxMessageLength+1))

	requireErrorFrame(t, conn.lastFrame(), "Message too long (max 4096 bytes)")
	assert.Zero(t, st.messageCount())
}

func TestNewMessageWhileAnonymous(t *testing.T) {
	srv, st := testServer(t)

	conn := newMockHandle()
	postMessage(srv, conn, "10.0.0.1:5000", "hello")

	requireErrorFrame(t, conn.lastFrame(), "User must be authenticated")
	assert.Zero(t, st.messageCount())
}

func TestNewMessageStoreFailure(t *testing.T) {
	srv, st := testServer(t)

	conn := newMockHandle()
	signIn(srv, conn, "10.0.0.1:5000", "alice")
	st.failCreate = errors.New("log unavailable")

	postMessage(srv, conn, "10.0.0.1:5000", "hello")

	requireErrorFrame(t, conn.lastFrame(), "Log unavailable")
	// The connection stays usable
	username, bound := srv.registry.Resolve("10.0.0.1:5000")
	require.True(t, bound)
	assert.Equal(t, "alice", username)
}

func TestUnknownCommand(t *testing.T) {
	srv, _ := testServer(t)

	conn := newMockHandle()
	srv.dispatch(conn, "10.0.0.1:5000", &protocol.Command{Command: "DANCE"})

	requireErrorFrame(t, conn.lastFrame(), "Unknown command")
}

func TestGetMoreMessagesPagination(t *testing.T) {
	srv, st := testServer(t)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		_, err := st.CreateMessage(ctx, "message "+strings.Repeat("i", i+1), "earlier")
		require.NoError(t, err)
	}

	conn := newMockHandle()
	srv.dispatch(conn, "10.0.0.1:5000", &protocol.Command{Command: protocol.CmdGetMoreMessages})

	first, ok := conn.lastFrame().(*protocol.MessageHistoryFrame)
	require.True(t, ok, "expected MESSAGE_HISTORY frame, got %T", conn.lastFrame())
	require.Len(t, first.Messages, 10)
	assert.Equal(t, 25, first.TotalMessages)
	require.NotNil(t, first.LastEvaluatedKey)

	// Messages inside a page are ascending for display
	for i := 1; i < len(first.Messages); i++ {
		assert.False(t, first.Messages[i].CreatedAt.Before(first.Messages[i-1].CreatedAt))
	}

	// The cursor is fed back verbatim and never repeats a message
	srv.dispatch(conn, "10.0.0.1:5000", &protocol.Command{
		Command: protocol.CmdGetMoreMessages,
		Payload: protocol.Payload{LastEvaluatedKey: *first.LastEvaluatedKey},
	})

	second, ok := conn.lastFrame().(*protocol.MessageHistoryFrame)
	require.True(t, ok)
	require.Len(t, second.Messages, 10)

	seen := make(map[string]bool)
	for _, msg := range first.Messages {
		seen[msg.Text] = true
	}
	for _, msg := range second.Messages {
		assert.False(t, seen[msg.Text], "message %q returned twice", msg.Text)
	}
}

func TestGetMoreMessagesFetchFailure(t *testing.T) {
	srv, st := testServer(t)
	st.failFetch = errors.New("log unavailable")

	conn := newMockHandle()
	srv.dispatch(conn, "10.0.0.1:5000", &protocol.Command{Command: protocol.CmdGetMoreMessages})

	requireErrorFrame(t, conn.lastFrame(), "Log unavailable")
}

// Full scenario: Alice posts, Bob receives the update unrequested, Alice
// never sees her own echo.
func TestBroadcastReachesOtherUsersOnly(t *testing.T) {
	srv, _ := testServer(t)

	alice := newMockHandle()
	signIn(srv, alice, "10.0.0.1:5000", "Alice")
	bob := newMockHandle()
	signIn(srv, bob, "10.0.0.2:5000", "Bob")

	postMessage(srv, alice, "10.0.0.1:5000", "hi")

	require.Eventually(t, func() bool {
		for _, frame := range bob.sentFrames() {
			if _, ok := frame.(*protocol.DiscussionUpdatedFrame); ok {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond, "Bob never received DISCUSSION_UPDATED")

	var update *protocol.DiscussionUpdatedFrame
	for _, frame := range bob.sentFrames() {
		if f, ok := frame.(*protocol.DiscussionUpdatedFrame); ok {
			require.Nil(t, update, "Bob received more than one update")
			update = f
		}
	}
	assert.Equal(t, "hi", update.Data.Text)
	assert.Equal(t, "Alice", update.Data.UserName)
	assert.False(t, update.Data.CreatedAt.IsZero())

	for _, frame := range alice.sentFrames() {
		_, isUpdate := frame.(*protocol.DiscussionUpdatedFrame)
		assert.False(t, isUpdate, "Alice received her own echo")
	}
}

func TestDisconnectCleansUpSession(t *testing.T) {
	srv, st := testServer(t)

	conn := newMockHandle()
	signIn(srv, conn, "10.0.0.1:5000", "alice")
	require.Equal(t, 1, st.sessionCount())

	srv.cleanupConnection("10.0.0.1:5000")

	_, bound := srv.registry.Resolve("10.0.0.1:5000")
	assert.False(t, bound)
	assert.Empty(t, srv.registry.LocalUsernames())
	assert.Zero(t, st.sessionCount())

	// Cleanup runs on every exit path; a second pass is harmless
	srv.cleanupConnection("10.0.0.1:5000")
}

func TestStopIsIdempotent(t *testing.T) {
	srv, _ := testServer(t)

	require.NoError(t, srv.Stop())
	assert.NotPanics(t, func() {
		assert.NoError(t, srv.Stop())
	})
}
