package mocks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mindcare/realtime-service/internal/domain"
	"github.com/mindcare/realtime-service/pkg/contextkeys"
)

var ErrStoreUnavailable = errors.New("store unavailable")

// MockChatStore keeps messages in memory and assigns increasing ids.
type MockChatStore struct {
	mu       sync.Mutex
	messages []domain.ChatMessage
	nextID   int64
	saveErr  error
}

var _ domain.ChatStore = (*MockChatStore)(nil)

func NewMockChatStore() *MockChatStore {
	return &MockChatStore{}
}

// FailSaves makes Save return err until called again with nil.
func (m *MockChatStore) FailSaves(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveErr = err
}

func (m *MockChatStore) Save(ctx context.Context, msg domain.ChatMessage) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return 0, m.saveErr
	}
	m.nextID++
	msg.ID = m.nextID
	m.messages = append(m.messages, msg)
	return msg.ID, nil
}

func (m *MockChatStore) List(ctx context.Context, roomID int64) ([]domain.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.ChatMessage{}
	for _, msg := range m.messages {
		if msg.RoomID == roomID {
			out = append(out, msg)
		}
	}
	return out, nil
}

// Seed stores messages directly, bypassing FailSaves.
func (m *MockChatStore) Seed(msgs ...domain.ChatMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range msgs {
		m.nextID++
		msg.ID = m.nextID
		m.messages = append(m.messages, msg)
	}
}

// MockCallSessionStore keeps call markers in a map.
type MockCallSessionStore struct {
	mu       sync.Mutex
	sessions map[domain.Identity]domain.CallSession
	Ended    []domain.Identity
}

var _ domain.CallSessionStore = (*MockCallSessionStore)(nil)

func NewMockCallSessionStore() *MockCallSessionStore {
	return &MockCallSessionStore{sessions: make(map[domain.Identity]domain.CallSession)}
}

func (m *MockCallSessionStore) Start(ctx context.Context, s domain.CallSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.CallerID] = s
	return nil
}

func (m *MockCallSessionStore) End(ctx context.Context, callerID domain.Identity) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Ended = append(m.Ended, callerID)
	_, ok := m.sessions[callerID]
	delete(m.sessions, callerID)
	return ok, nil
}

func (m *MockCallSessionStore) Get(ctx context.Context, callerID domain.Identity) (domain.CallSession, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[callerID]
	return s, ok, nil
}

// MockPresenceRecorder counts presence updates per identity.
type MockPresenceRecorder struct {
	mu      sync.Mutex
	touches map[domain.Identity]int
	clears  map[domain.Identity]int
	ttl     time.Duration
}

var _ domain.PresenceRecorder = (*MockPresenceRecorder)(nil)

func NewMockPresenceRecorder() *MockPresenceRecorder {
	return &MockPresenceRecorder{
		touches: make(map[domain.Identity]int),
		clears:  make(map[domain.Identity]int),
	}
}

func (m *MockPresenceRecorder) Touch(ctx context.Context, id domain.Identity, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touches[id]++
	m.ttl = ttl
	return nil
}

func (m *MockPresenceRecorder) Clear(ctx context.Context, id domain.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clears[id]++
	return nil
}

func (m *MockPresenceRecorder) Touches(id domain.Identity) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.touches[id]
}

func (m *MockPresenceRecorder) Clears(id domain.Identity) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clears[id]
}

// LastActive reports a fixed time for identities that were touched and not cleared.
func (m *MockPresenceRecorder) LastActive(ctx context.Context, id domain.Identity) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.touches[id] > 0 && m.clears[id] == 0 {
		return time.Unix(1700000000, 0).UTC(), true, nil
	}
	return time.Time{}, false, nil
}

// MockEventPublisher records published events.
type MockEventPublisher struct {
	mu           sync.Mutex
	callEnded    []domain.CallEnded
	chatMessages []domain.ChatMessage
	err          error
}

var _ domain.EventPublisher = (*MockEventPublisher)(nil)

func NewMockEventPublisher() *MockEventPublisher {
	return &MockEventPublisher{}
}

func (m *MockEventPublisher) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockEventPublisher) PublishCallEnded(ctx context.Context, event domain.CallEnded) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.callEnded = append(m.callEnded, event)
	return nil
}

func (m *MockEventPublisher) PublishChatMessage(ctx context.Context, msg domain.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.chatMessages = append(m.chatMessages, msg)
	return nil
}

func (m *MockEventPublisher) CallEnded() []domain.CallEnded {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.CallEnded(nil), m.callEnded...)
}

func (m *MockEventPublisher) ChatMessages() []domain.ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ChatMessage(nil), m.chatMessages...)
}

// MockDispatcher implements domain.NotificationDispatcher with a fixed result.
type MockDispatcher struct {
	mu       sync.Mutex
	Requests []domain.NotificationRequest
	Sources  []string // contextkeys.SubsystemKey of each call
	Result   domain.DeliveryResult
	Err      error
}

var _ domain.NotificationDispatcher = (*MockDispatcher)(nil)

func (m *MockDispatcher) Dispatch(ctx context.Context, req domain.NotificationRequest) (domain.Notification, domain.DeliveryResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, req)
	source, _ := ctx.Value(contextkeys.SubsystemKey).(string)
	m.Sources = append(m.Sources, source)
	if m.Err != nil {
		return domain.Notification{}, domain.DeliveryFailed, m.Err
	}
	return domain.Notification{ID: "n-1", ReceiverID: req.ReceiverID, Message: req.Message}, m.Result, nil
}
