package transport

import (
	"encoding/json"
	"sync"
)

// MockTransport is a notify.Transport that records emitted events for testing
type MockTransport struct {
	Events  []MockEvent
	EmitErr error
	mu      sync.Mutex
}

// MockEvent is one recorded emit, with the payload already JSON-encoded
type MockEvent struct {
	Event string
	Data  json.RawMessage
}

// Emit records the event, or returns EmitErr when set
func (m *MockTransport) Emit(event string, payload any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.EmitErr != nil {
		return m.EmitErr
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	m.Events = append(m.Events, MockEvent{Event: event, Data: data})
	return nil
}

// Recorded returns a copy of the recorded events
func (m *MockTransport) Recorded() []MockEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockEvent, len(m.Events))
	copy(out, m.Events)
	return out
}

// Reset clears all recorded events
func (m *MockTransport) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = nil
}
