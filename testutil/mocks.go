package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// MockNomiServer creates a test server that mocks the character-chat API.
type MockNomiServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc
}

// NewMockNomiServer creates a new mock chat API server. Unregistered paths
// answer 404.
func NewMockNomiServer(t *testing.T) *MockNomiServer {
	t.Helper()
	m := &MockNomiServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path
		if handler, ok := m.Handlers[key]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// Handle registers a handler for "METHOD /path".
func (m *MockNomiServer) Handle(methodAndPath string, h http.HandlerFunc) {
	m.Handlers[methodAndPath] = h
}

// MockCharacters adds a handler for GET /nomis.
func (m *MockNomiServer) MockCharacters(chars []map[string]string) {
	m.Handlers["GET /nomis"] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"nomis": chars}) //nolint:errcheck // test mock response
	}
}

// MockRoomMessages adds a handler for GET /rooms/{id}/chat returning the
// given wire messages.
func (m *MockNomiServer) MockRoomMessages(roomID string, messages []map[string]any) {
	m.Handlers["GET /rooms/"+roomID+"/chat"] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"messages": messages}) //nolint:errcheck // test mock response
	}
}

// MockCharacterMessages adds a handler for GET /nomis/{id}/chat.
func (m *MockNomiServer) MockCharacterMessages(characterID string, messages []map[string]any) {
	m.Handlers["GET /nomis/"+characterID+"/chat"] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"messages": messages}) //nolint:errcheck // test mock response
	}
}

// MockLLMServer creates a test server that mocks a chat-completions endpoint.
type MockLLMServer struct {
	*httptest.Server
	// Reply is returned as the assistant message content.
	Reply string
	// Status overrides the response code when non-zero.
	Status int
	// Calls counts completion requests served.
	Calls int
}

// NewMockLLMServer creates a new mock completion API server.
func NewMockLLMServer(t *testing.T) *MockLLMServer {
	t.Helper()
	m := &MockLLMServer{Reply: "mock answer."}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		m.Calls++
		if m.Status != 0 && m.Status != http.StatusOK {
			w.WriteHeader(m.Status)
			_, _ = w.Write([]byte(`{"error":{"message":"mock failure"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck // test mock response
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": m.Reply}},
			},
		})
	}))
	t.Cleanup(m.Close)
	return m
}
