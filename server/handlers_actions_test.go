package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/onnwee/nomi-bridge/bridge"
	"github.com/onnwee/nomi-bridge/config"
	"github.com/onnwee/nomi-bridge/nomiapi"
	"github.com/onnwee/nomi-bridge/openaiapi"
	"github.com/onnwee/nomi-bridge/testutil"
)

func testHandlers(t *testing.T, chat ChatClient, orch *bridge.Orchestrator) *Handlers {
	t.Helper()
	if orch == nil {
		orch = &bridge.Orchestrator{}
	}
	return NewHandlers(context.Background(), &config.Config{}, nil, nil, chat, orch, &bridge.Membership{})
}

func postAction(t *testing.T, h *Handlers, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/actions", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.HandleActions(w, req)
	return w
}

func TestActionsUnknownAction(t *testing.T) {
	h := testHandlers(t, nil, nil)
	w := postAction(t, h, `{"action":"frobnicate"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	var body map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if !strings.Contains(body["error"], "unknown action") {
		t.Errorf("error = %q", body["error"])
	}
	if body["time"] == "" {
		t.Error("error body missing timestamp")
	}
}

func TestActionsRejectsGet(t *testing.T) {
	h := testHandlers(t, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/actions", nil)
	w := httptest.NewRecorder()
	h.HandleActions(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", w.Code)
	}
}

func TestActionsInvalidJSON(t *testing.T) {
	h := testHandlers(t, nil, nil)
	w := postAction(t, h, `{not json`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestActionsValidationBeforeUpstream(t *testing.T) {
	// No upstream clients are wired; reaching one would panic, so a 400
	// proves validation fired first.
	cases := []struct {
		name string
		body string
	}{
		{"create_room missing name", `{"action":"create_room","member_ids":["c1"]}`},
		{"create_room missing members", `{"action":"create_room","room_name":"den"}`},
		{"send_message missing text", `{"action":"send_message","character_id":"c1"}`},
		{"send_message missing character", `{"action":"send_message","text":"hi"}`},
		{"request_reply missing room", `{"action":"request_reply","character_id":"c1"}`},
		{"add_member missing ids", `{"action":"add_member"}`},
		{"get_room missing id", `{"action":"get_room"}`},
		{"add_selection missing character", `{"action":"add_selection"}`},
		{"remove_selection missing character", `{"action":"remove_selection"}`},
		{"set_credential missing user", `{"action":"set_credential","provider":"llm","api_key":"k"}`},
		{"set_credential bad provider", `{"action":"set_credential","user_id":"u","provider":"ftp","api_key":"k"}`},
		{"set_credential missing key", `{"action":"set_credential","user_id":"u","provider":"llm"}`},
		{"test_answer empty question", `{"action":"test_answer","question":"*shrug*"}`},
	}
	h := testHandlers(t, nil, nil)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := postAction(t, h, tc.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (%s)", w.Code, w.Body.String())
			}
		})
	}
}

func TestActionPollRequiresCredentials(t *testing.T) {
	h := testHandlers(t, nil, nil)
	w := postAction(t, h, `{"action":"poll"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}

func TestActionListCharacters(t *testing.T) {
	mock := testutil.NewMockNomiServer(t)
	mock.MockCharacters([]map[string]string{
		{"uuid": "c1", "name": "Paige"},
		{"uuid": "c2", "name": "Rex"},
	})
	chat := &nomiapi.Client{APIKey: "k", BaseURL: mock.URL}
	h := testHandlers(t, chat, nil)

	w := postAction(t, h, `{"action":"list_characters"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		Characters []nomiapi.Character `json:"characters"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Characters) != 2 || body.Characters[0].Name != "Paige" {
		t.Fatalf("characters = %+v", body.Characters)
	}
}

func TestActionListCharactersUpstreamFailure(t *testing.T) {
	mock := testutil.NewMockNomiServer(t)
	mock.Handle("GET /nomis", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	})
	chat := &nomiapi.Client{APIKey: "k", BaseURL: mock.URL}
	h := testHandlers(t, chat, nil)

	w := postAction(t, h, `{"action":"list_characters"}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
}

func TestActionTestAnswer(t *testing.T) {
	mock := testutil.NewMockLLMServer(t)
	mock.Reply = "Blue, mostly."
	orch := &bridge.Orchestrator{LLM: &openaiapi.Client{APIKey: "k", BaseURL: mock.URL}}
	h := testHandlers(t, nil, orch)

	w := postAction(t, h, `{"action":"test_answer","question":"Why is the sky blue?"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var body map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body["answer"] != "Blue, mostly." {
		t.Errorf("answer = %q", body["answer"])
	}
	if mock.Calls != 1 {
		t.Errorf("llm calls = %d", mock.Calls)
	}
}

func TestActionSetCredentialNeverEchoesKey(t *testing.T) {
	database := testutil.SetupTestDB(t)
	h := NewHandlers(context.Background(), &config.Config{}, database, nil, nil, &bridge.Orchestrator{}, &bridge.Membership{})

	w := postAction(t, h, `{"action":"set_credential","user_id":"u1","provider":"llm","api_key":"sk-secret","model":"gpt-4o-mini"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if strings.Contains(w.Body.String(), "sk-secret") {
		t.Fatal("response echoed the credential")
	}
}

func TestStatusForError(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&bridge.BadRequestError{Msg: "x"}, http.StatusBadRequest},
		{&bridge.ConfigurationError{Msg: "x"}, http.StatusServiceUnavailable},
		{nomiapi.ErrNotReady, http.StatusServiceUnavailable},
		{bridge.ErrPollInProgress, http.StatusConflict},
		{&nomiapi.APIError{Status: 404}, http.StatusNotFound},
		{&nomiapi.APIError{Status: 500}, http.StatusBadGateway},
		{errors.New("mystery"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusForError(tc.err); got != tc.want {
			t.Errorf("statusForError(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
