package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/onnwee/nomi-bridge/bridge"
	"github.com/onnwee/nomi-bridge/db"
	"github.com/onnwee/nomi-bridge/telemetry"
)

// actionRequest is the single request envelope for POST /actions. Fields are
// interpreted per action; unused fields are ignored.
type actionRequest struct {
	Action        string   `json:"action"`
	CharacterID   string   `json:"character_id"`
	CharacterName string   `json:"character_name"`
	RoomID        string   `json:"room_id"`
	RoomName      string   `json:"room_name"`
	MemberIDs     []string `json:"member_ids"`
	CrossTalk     bool     `json:"cross_talk"`
	Text          string   `json:"text"`
	Question      string   `json:"question"`
	UserID        string   `json:"user_id"`
	Provider      string   `json:"provider"`
	APIKey        string   `json:"api_key"`
	Model         string   `json:"model"`
}

type actionFunc func(ctx context.Context, req *actionRequest) (any, error)

// HandleActions dispatches the action envelope. Validation failures answer
// 4xx before any upstream call; upstream failures map through the error
// taxonomy. Batch-style actions (poll) answer 200 with embedded per-item
// errors instead of failing the whole request.
func (h *Handlers) HandleActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	fn, ok := h.actions()[req.Action]
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown action: "+req.Action)
		return
	}
	ctx := r.Context()
	out, err := fn(ctx, &req)
	if err != nil {
		status := statusForError(err)
		telemetry.LoggerWithCorr(ctx).Warn("action failed",
			slog.String("action", req.Action),
			slog.Int("status", status),
			slog.Any("err", err))
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) actions() map[string]actionFunc {
	return map[string]actionFunc{
		"poll":             h.actionPoll,
		"list_characters":  h.actionListCharacters,
		"list_rooms":       h.actionListRooms,
		"get_room":         h.actionGetRoom,
		"create_room":      h.actionCreateRoom,
		"add_member":       h.actionAddMember,
		"remove_member":    h.actionRemoveMember,
		"send_message":     h.actionSendMessage,
		"request_reply":    h.actionRequestReply,
		"test_answer":      h.actionTestAnswer,
		"add_selection":    h.actionAddSelection,
		"remove_selection": h.actionRemoveSelection,
		"list_selections":  h.actionListSelections,
		"set_credential":   h.actionSetCredential,
	}
}

// statusForError maps the error taxonomy to HTTP statuses. A poll overlap is
// a conflict rather than unavailability: the work is already happening.
func statusForError(err error) int {
	if errors.Is(err, bridge.ErrPollInProgress) {
		return http.StatusConflict
	}
	switch bridge.Classify(err) {
	case bridge.KindBadRequest:
		return http.StatusBadRequest
	case bridge.KindNotFound:
		return http.StatusNotFound
	case bridge.KindTransientBusy, bridge.KindConfiguration:
		return http.StatusServiceUnavailable
	case bridge.KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) actionPoll(ctx context.Context, _ *actionRequest) (any, error) {
	if err := h.cfg.ValidatePollReady(); err != nil {
		return nil, &bridge.ConfigurationError{Msg: err.Error()}
	}
	report, err := h.orch.RunPollPass(ctx)
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (h *Handlers) actionListCharacters(ctx context.Context, _ *actionRequest) (any, error) {
	chars, err := h.chat.ListCharacters(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"characters": chars}, nil
}

func (h *Handlers) actionListRooms(ctx context.Context, _ *actionRequest) (any, error) {
	rooms, err := h.chat.ListRooms(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"rooms": rooms}, nil
}

func (h *Handlers) actionGetRoom(ctx context.Context, req *actionRequest) (any, error) {
	if req.RoomID == "" {
		return nil, &bridge.BadRequestError{Msg: "room_id is required"}
	}
	room, err := h.chat.GetRoom(ctx, req.RoomID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"room": room}, nil
}

func (h *Handlers) actionCreateRoom(ctx context.Context, req *actionRequest) (any, error) {
	if req.RoomName == "" {
		return nil, &bridge.BadRequestError{Msg: "room_name is required"}
	}
	if len(req.MemberIDs) == 0 {
		return nil, &bridge.BadRequestError{Msg: "member_ids must not be empty"}
	}
	room, err := h.chat.CreateRoom(ctx, req.RoomName, req.MemberIDs, req.CrossTalk)
	if err != nil {
		return nil, err
	}
	return map[string]any{"room": room}, nil
}

func (h *Handlers) actionAddMember(ctx context.Context, req *actionRequest) (any, error) {
	room, err := h.rooms.Add(ctx, req.RoomID, req.CharacterID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"room": room}, nil
}

func (h *Handlers) actionRemoveMember(ctx context.Context, req *actionRequest) (any, error) {
	room, err := h.rooms.Remove(ctx, req.RoomID, req.CharacterID)
	if err != nil {
		return nil, err
	}
	// The returned id differs from the requested one whenever the removal
	// actually rebuilt the room. Callers must adopt it.
	return map[string]any{"room": room, "room_id_changed": room.ID != req.RoomID}, nil
}

func (h *Handlers) actionSendMessage(ctx context.Context, req *actionRequest) (any, error) {
	if req.CharacterID == "" {
		return nil, &bridge.BadRequestError{Msg: "character_id is required"}
	}
	if req.Text == "" {
		return nil, &bridge.BadRequestError{Msg: "text is required"}
	}
	if err := h.chat.SendMessage(ctx, req.CharacterID, req.RoomID, req.Text); err != nil {
		return nil, err
	}
	return map[string]any{"sent": true}, nil
}

func (h *Handlers) actionRequestReply(ctx context.Context, req *actionRequest) (any, error) {
	if req.CharacterID == "" || req.RoomID == "" {
		return nil, &bridge.BadRequestError{Msg: "character_id and room_id are required"}
	}
	rec, err := h.orch.RequestAndRecord(ctx, db.Selection{
		CharacterID:   req.CharacterID,
		CharacterName: req.CharacterName,
		RoomID:        req.RoomID,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"record": rec}, nil
}

func (h *Handlers) actionTestAnswer(ctx context.Context, req *actionRequest) (any, error) {
	answer, err := h.orch.Answer(ctx, req.Question)
	if err != nil {
		return nil, err
	}
	return map[string]any{"question": req.Question, "answer": answer}, nil
}

func (h *Handlers) actionAddSelection(ctx context.Context, req *actionRequest) (any, error) {
	if req.CharacterID == "" {
		return nil, &bridge.BadRequestError{Msg: "character_id is required"}
	}
	sel := db.Selection{
		CharacterID:   req.CharacterID,
		CharacterName: req.CharacterName,
		RoomID:        req.RoomID,
		RoomName:      req.RoomName,
	}
	if err := h.store.AddSelection(ctx, sel); err != nil {
		return nil, err
	}
	return map[string]any{"selection": sel}, nil
}

func (h *Handlers) actionRemoveSelection(ctx context.Context, req *actionRequest) (any, error) {
	if req.CharacterID == "" {
		return nil, &bridge.BadRequestError{Msg: "character_id is required"}
	}
	if err := h.store.RemoveSelection(ctx, req.CharacterID, req.RoomID); err != nil {
		return nil, err
	}
	return map[string]any{"removed": true}, nil
}

func (h *Handlers) actionListSelections(ctx context.Context, _ *actionRequest) (any, error) {
	sels, err := h.store.ListSelections(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"selections": sels}, nil
}

func (h *Handlers) actionSetCredential(ctx context.Context, req *actionRequest) (any, error) {
	if req.UserID == "" {
		return nil, &bridge.BadRequestError{Msg: "user_id is required"}
	}
	if req.Provider != db.ProviderNomi && req.Provider != db.ProviderLLM {
		return nil, &bridge.BadRequestError{Msg: "provider must be nomi or llm"}
	}
	if req.APIKey == "" {
		return nil, &bridge.BadRequestError{Msg: "api_key is required"}
	}
	if err := db.UpsertCredential(ctx, h.db, req.UserID, req.Provider, req.APIKey, req.Model); err != nil {
		return nil, err
	}
	// The key is never echoed back.
	return map[string]any{"user_id": req.UserID, "provider": req.Provider, "model": req.Model}, nil
}
