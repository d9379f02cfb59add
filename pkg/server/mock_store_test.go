package server

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/driftchat/driftchat/pkg/store"
)

// mockStore is a simple in-memory storage gateway for testing
type mockStore struct {
	mu        sync.RWMutex
	sessions  map[string]string // session id -> username
	messages  []store.Message
	nextMsgID int64

	// Failure injection
	failRegister error
	failCreate   error
	failFetch    error
	failDelete   error
}

func newMockStore() *mockStore {
	return &mockStore{
		sessions:  make(map[string]string),
		nextMsgID: 1,
	}
}

func (m *mockStore) RegisterUser(ctx context.Context, username, sessionID string) error {
	if m.failRegister != nil {
		return m.failRegister
	}
	if username == "" {
		return store.ErrEmptyUsername
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sessionID] = username
	return nil
}

func (m *mockStore) GetUsername(ctx context.Context, sessionID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	username, ok := m.sessions[sessionID]
	if !ok {
		return "", store.ErrSessionNotFound
	}
	return username, nil
}

func (m *mockStore) DeleteUser(ctx context.Context, sessionID string) error {
	if m.failDelete != nil {
		return m.failDelete
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

func (m *mockStore) CreateMessage(ctx context.Context, text, username string) (store.Message, error) {
	if m.failCreate != nil {
		return store.Message{}, m.failCreate
	}
	if strings.TrimSpace(text) == "" {
		return store.Message{}, store.ErrEmptyMessage
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	msg := store.Message{
		ID:        m.nextMsgID,
		UserName:  username,
		Text:      text,
		CreatedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(m.nextMsgID) * time.Second),
	}
	m.nextMsgID++
	m.messages = append(m.messages, msg)
	return msg, nil
}

func (m *mockStore) FetchMessages(ctx context.Context, limit int, cursor string) (store.Page, error) {
	if m.failFetch != nil {
		return store.Page{}, m.failFetch
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Newest first; cursor is the index of the oldest message already seen
	start := len(m.messages)
	if cursor != "" {
		for i, msg := range m.messages {
			if msg.Text == cursor { // tests use message text as cursor
				start = i
				break
			}
		}
	}

	var page store.Page
	page.Total = len(m.messages)
	for i := start - 1; i >= 0 && len(page.Messages) < limit; i-- {
		page.Messages = append(page.Messages, m.messages[i])
	}
	if len(page.Messages) == limit && limit > 0 {
		token := page.Messages[len(page.Messages)-1].Text
		page.NextCursor = &token
	}
	return page, nil
}

func (m *mockStore) Close() error {
	return nil
}

func (m *mockStore) sessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *mockStore) messageCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.messages)
}
