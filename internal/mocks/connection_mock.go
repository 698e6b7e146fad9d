package mocks

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/mindcare/realtime-service/internal/domain"
)

var ErrWriteFailed = errors.New("mock write failed")

// MockConnection implements domain.ManagedConnection over channels. Tests feed
// inbound frames with Send and inspect what the service wrote with Frames.
type MockConnection struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc

	inbound    chan []byte
	peerClosed chan struct{}
	peerOnce   sync.Once
	closed     chan struct{}
	closeOnce  sync.Once

	failWrites atomic.Bool
	dead       atomic.Bool

	mu          sync.Mutex
	written     [][]byte
	closeCode   websocket.StatusCode
	closeReason string
	closeGate   <-chan struct{}
}

var _ domain.ManagedConnection = (*MockConnection)(nil)

func NewMockConnection() *MockConnection {
	ctx, cancel := context.WithCancel(context.Background())
	return &MockConnection{
		id:         uuid.NewString(),
		ctx:        ctx,
		cancel:     cancel,
		inbound:    make(chan []byte),
		peerClosed: make(chan struct{}),
		closed:     make(chan struct{}),
		closeCode:  -1,
	}
}

func (m *MockConnection) ID() string               { return m.id }
func (m *MockConnection) RemoteAddr() string       { return "192.0.2.1:40000" }
func (m *MockConnection) Context() context.Context { return m.ctx }

func (m *MockConnection) IsAlive() bool {
	if m.dead.Load() {
		return false
	}
	select {
	case <-m.closed:
		return false
	default:
		return true
	}
}

// SetDead makes IsAlive report false without closing.
func (m *MockConnection) SetDead() { m.dead.Store(true) }

// FailWrites makes every later WriteJSON fail.
func (m *MockConnection) FailWrites(fail bool) { m.failWrites.Store(fail) }

func (m *MockConnection) WriteJSON(v any) error {
	if m.failWrites.Load() {
		return ErrWriteFailed
	}
	select {
	case <-m.closed:
		return domain.ErrConnectionClosed
	default:
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.written = append(m.written, data)
	m.mu.Unlock()
	return nil
}

func (m *MockConnection) ReadMessage(ctx context.Context) ([]byte, error) {
	select {
	case data := <-m.inbound:
		return data, nil
	case <-m.peerClosed:
		return nil, domain.ErrPeerClosed
	case <-m.closed:
		return nil, domain.ErrConnectionClosed
	case <-ctx.Done():
		select {
		case <-m.closed:
			return nil, domain.ErrConnectionClosed
		default:
			return nil, domain.ErrReadTimeout
		}
	}
}

// Close records the first code and reason. With HoldClose set it returns only
// after the gate opens.
func (m *MockConnection) Close(code websocket.StatusCode, reason string) error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closeCode = code
		m.closeReason = reason
		gate := m.closeGate
		m.mu.Unlock()
		if gate != nil {
			<-gate
		}
		close(m.closed)
		m.cancel()
	})
	return nil
}

// Send delivers one inbound frame, failing after timeout if nobody reads it.
func (m *MockConnection) Send(data string) bool {
	select {
	case m.inbound <- []byte(data):
		return true
	case <-m.closed:
		return false
	case <-time.After(2 * time.Second):
		return false
	}
}

// HoldClose makes Close block until release is closed, the way a real
// connection waits on a peer that never answers the close frame.
func (m *MockConnection) HoldClose(release <-chan struct{}) {
	m.mu.Lock()
	m.closeGate = release
	m.mu.Unlock()
}

// CloseStarted reports whether Close has been called, even if it is still held.
func (m *MockConnection) CloseStarted() bool {
	return m.CloseCode() != -1
}

// PeerClose simulates the client sending a close frame.
func (m *MockConnection) PeerClose() {
	m.peerOnce.Do(func() { close(m.peerClosed) })
}

// Closed is closed once Close has been called.
func (m *MockConnection) Closed() <-chan struct{} { return m.closed }

// CloseCode returns the code passed to the first Close, or -1.
func (m *MockConnection) CloseCode() websocket.StatusCode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCode
}

func (m *MockConnection) CloseReason() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeReason
}

// Frames decodes every written frame into a generic map.
func (m *MockConnection) Frames() []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]map[string]any, 0, len(m.written))
	for _, data := range m.written {
		var f map[string]any
		if json.Unmarshal(data, &f) == nil {
			out = append(out, f)
		}
	}
	return out
}

// FramesOfType returns the written frames whose type field equals t.
func (m *MockConnection) FramesOfType(t string) []map[string]any {
	var out []map[string]any
	for _, f := range m.Frames() {
		if f["type"] == t {
			out = append(out, f)
		}
	}
	return out
}

// WaitForFrames polls until at least n frames of type t were written.
func (m *MockConnection) WaitForFrames(t string, n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if len(m.FramesOfType(t)) >= n {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return len(m.FramesOfType(t)) >= n
}

// WaitClosed waits for Close and reports whether it happened in time.
func (m *MockConnection) WaitClosed(timeout time.Duration) bool {
	select {
	case <-m.closed:
		return true
	case <-time.After(timeout):
		return false
	}
}
