package bridge

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/onnwee/nomi-bridge/db"
	"github.com/onnwee/nomi-bridge/nomiapi"
)

type sentMessage struct {
	characterID string
	roomID      string
	text        string
}

type fakeChat struct {
	messages      map[string][]nomiapi.Message
	fetchErr      error
	replyErr      error
	sendErr       error
	sent          []sentMessage
	replyRequests int
}

func (f *fakeChat) FetchMessages(ctx context.Context, roomID, characterID string) ([]nomiapi.Message, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.messages[characterID], nil
}

func (f *fakeChat) RequestReply(ctx context.Context, roomID, characterID string) (nomiapi.Message, error) {
	f.replyRequests++
	if f.replyErr != nil {
		return nomiapi.Message{}, f.replyErr
	}
	return nomiapi.Message{Text: "requested reply", FromCharacter: true}, nil
}

func (f *fakeChat) SendMessage(ctx context.Context, characterID, roomID, text string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentMessage{characterID: characterID, roomID: roomID, text: text})
	return nil
}

type fakeLLM struct {
	reply string
	err   error
	calls int
}

func (f *fakeLLM) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

type fakeStore struct {
	sels []db.Selection
	recs map[string]db.ProcessedMessage
}

func newFakeStore(sels ...db.Selection) *fakeStore {
	return &fakeStore{sels: sels, recs: make(map[string]db.ProcessedMessage)}
}

func (f *fakeStore) ListSelections(ctx context.Context) ([]db.Selection, error) {
	return f.sels, nil
}

func (f *fakeStore) ExistsByCharacterAndText(ctx context.Context, characterID, text string) (bool, error) {
	_, ok := f.recs[characterID+"|"+text]
	return ok, nil
}

func (f *fakeStore) InsertProcessed(ctx context.Context, rec db.ProcessedMessage) (bool, error) {
	key := rec.CharacterID + "|" + rec.OriginalText
	if _, ok := f.recs[key]; ok {
		return false, nil
	}
	f.recs[key] = rec
	return true, nil
}

func charMsg(text string) nomiapi.Message {
	return nomiapi.Message{Text: text, FromCharacter: true}
}

func TestRunPollPassAnswersQuestion(t *testing.T) {
	chat := &fakeChat{messages: map[string][]nomiapi.Message{
		"c1": {charMsg("What is 2+2? *curious*")},
	}}
	llm := &fakeLLM{reply: "It is 4."}
	store := newFakeStore(db.Selection{CharacterID: "c1", CharacterName: "Paige"})
	orch := &Orchestrator{Chat: chat, LLM: llm, Store: store}

	report, err := orch.RunPollPass(context.Background())
	if err != nil {
		t.Fatalf("RunPollPass: %v", err)
	}
	if !report.Success || report.MessagesFound != 1 || report.MessagesProcessed != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if llm.calls != 1 {
		t.Errorf("llm calls = %d, want 1", llm.calls)
	}
	if len(chat.sent) != 1 || chat.sent[0].text != "It is 4." {
		t.Fatalf("unexpected sends: %+v", chat.sent)
	}
	rec := report.Records[0]
	if rec.Kind != db.KindQuestionAnswered {
		t.Errorf("kind = %q, want %q", rec.Kind, db.KindQuestionAnswered)
	}
	if rec.Question != "What is 2+2?" {
		t.Errorf("question = %q, monologue not stripped", rec.Question)
	}
	if rec.OriginalText != "What is 2+2? *curious*" {
		t.Errorf("original text altered: %q", rec.OriginalText)
	}
}

func TestRunPollPassNudgesNonQuestion(t *testing.T) {
	chat := &fakeChat{messages: map[string][]nomiapi.Message{
		"c1": {charMsg("I like turtles.")},
	}}
	llm := &fakeLLM{reply: "unused"}
	store := newFakeStore(db.Selection{CharacterID: "c1"})
	orch := &Orchestrator{Chat: chat, LLM: llm, Store: store}

	report, err := orch.RunPollPass(context.Background())
	if err != nil {
		t.Fatalf("RunPollPass: %v", err)
	}
	if llm.calls != 0 {
		t.Errorf("llm called for non-question")
	}
	if len(chat.sent) != 1 || chat.sent[0].text != nudgePrompt {
		t.Fatalf("unexpected sends: %+v", chat.sent)
	}
	if report.Records[0].Kind != db.KindRegular {
		t.Errorf("kind = %q, want %q", report.Records[0].Kind, db.KindRegular)
	}
}

func TestRunPollPassSkipsUserMessages(t *testing.T) {
	chat := &fakeChat{messages: map[string][]nomiapi.Message{
		"c1": {{Text: "my own message?", FromCharacter: false}},
	}}
	store := newFakeStore(db.Selection{CharacterID: "c1"})
	orch := &Orchestrator{Chat: chat, LLM: &fakeLLM{}, Store: store}

	report, err := orch.RunPollPass(context.Background())
	if err != nil {
		t.Fatalf("RunPollPass: %v", err)
	}
	if report.MessagesFound != 0 || len(chat.sent) != 0 {
		t.Fatalf("user-origin message was processed: %+v", report)
	}
}

func TestRunPollPassIdempotent(t *testing.T) {
	chat := &fakeChat{messages: map[string][]nomiapi.Message{
		"c1": {charMsg("Why is the sky blue?")},
	}}
	llm := &fakeLLM{reply: "Scattering."}
	store := newFakeStore(db.Selection{CharacterID: "c1"})
	orch := &Orchestrator{Chat: chat, LLM: llm, Store: store}

	if _, err := orch.RunPollPass(context.Background()); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	report, err := orch.RunPollPass(context.Background())
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if report.MessagesFound != 1 {
		t.Errorf("found = %d, want 1", report.MessagesFound)
	}
	if report.MessagesProcessed != 0 {
		t.Errorf("second pass reprocessed: %+v", report)
	}
	if len(chat.sent) != 1 {
		t.Errorf("sends = %d, want 1", len(chat.sent))
	}
}

func TestRunPollPassIsolatesCharacterFailures(t *testing.T) {
	// First selection fails on fetch, second succeeds.
	failing := &fakeChat{fetchErr: errors.New("boom")}
	ok := &fakeChat{messages: map[string][]nomiapi.Message{
		"c2": {charMsg("Question?")},
	}}
	chat := &switchChat{byCharacter: map[string]ChatAPI{"c1": failing, "c2": ok}}
	store := newFakeStore(
		db.Selection{CharacterID: "c1", CharacterName: "Rex"},
		db.Selection{CharacterID: "c2", CharacterName: "Paige"},
	)
	orch := &Orchestrator{Chat: chat, LLM: &fakeLLM{reply: "Answer."}, Store: store}

	report, err := orch.RunPollPass(context.Background())
	if err != nil {
		t.Fatalf("RunPollPass: %v", err)
	}
	if !report.Success {
		t.Error("pass should succeed with embedded errors")
	}
	if len(report.Errors) != 1 || !strings.Contains(report.Errors[0], "Rex") {
		t.Fatalf("errors = %v", report.Errors)
	}
	if report.MessagesProcessed != 1 {
		t.Errorf("processed = %d, want 1", report.MessagesProcessed)
	}
}

// switchChat routes calls to a per-character ChatAPI.
type switchChat struct {
	byCharacter map[string]ChatAPI
}

func (s *switchChat) FetchMessages(ctx context.Context, roomID, characterID string) ([]nomiapi.Message, error) {
	return s.byCharacter[characterID].FetchMessages(ctx, roomID, characterID)
}

func (s *switchChat) RequestReply(ctx context.Context, roomID, characterID string) (nomiapi.Message, error) {
	return s.byCharacter[characterID].RequestReply(ctx, roomID, characterID)
}

func (s *switchChat) SendMessage(ctx context.Context, characterID, roomID, text string) error {
	return s.byCharacter[characterID].SendMessage(ctx, characterID, roomID, text)
}

func TestRunPollPassToleratesReplyNotReady(t *testing.T) {
	chat := &fakeChat{
		replyErr: nomiapi.ErrNotReady,
		messages: map[string][]nomiapi.Message{
			"c1": {charMsg("Ready yet?")},
		},
	}
	store := newFakeStore(db.Selection{CharacterID: "c1", RoomID: "r1"})
	orch := &Orchestrator{Chat: chat, LLM: &fakeLLM{reply: "Yes."}, Store: store}

	report, err := orch.RunPollPass(context.Background())
	if err != nil {
		t.Fatalf("RunPollPass: %v", err)
	}
	if chat.replyRequests != 1 {
		t.Errorf("reply requests = %d, want 1", chat.replyRequests)
	}
	if len(report.Errors) != 0 || report.MessagesProcessed != 1 {
		t.Fatalf("not-ready should not fail the character: %+v", report)
	}
}

func TestRunPollPassSkipsNudgeOutsideRooms(t *testing.T) {
	chat := &fakeChat{messages: map[string][]nomiapi.Message{}}
	store := newFakeStore(db.Selection{CharacterID: "c1"})
	orch := &Orchestrator{Chat: chat, LLM: &fakeLLM{}, Store: store}

	if _, err := orch.RunPollPass(context.Background()); err != nil {
		t.Fatalf("RunPollPass: %v", err)
	}
	if chat.replyRequests != 0 {
		t.Errorf("reply requested for direct-chat selection")
	}
}

func TestRunPollPassRejectsOverlap(t *testing.T) {
	orch := &Orchestrator{Chat: &fakeChat{}, LLM: &fakeLLM{}, Store: newFakeStore()}
	orch.runMu.Lock()
	defer orch.runMu.Unlock()
	_, err := orch.RunPollPass(context.Background())
	if !errors.Is(err, ErrPollInProgress) {
		t.Fatalf("err = %v, want ErrPollInProgress", err)
	}
}

func TestAnswerStripsAndTruncates(t *testing.T) {
	llm := &fakeLLM{reply: strings.Repeat("a", MaxAnswerLen+100)}
	orch := &Orchestrator{LLM: llm}
	got, err := orch.Answer(context.Background(), "*leans in* Tell me everything?")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if len(got) != MaxAnswerLen {
		t.Errorf("len = %d, want %d", len(got), MaxAnswerLen)
	}
}

func TestAnswerRejectsEmptyQuestion(t *testing.T) {
	orch := &Orchestrator{LLM: &fakeLLM{}}
	_, err := orch.Answer(context.Background(), "*just a sigh*")
	var badReq *BadRequestError
	if !errors.As(err, &badReq) {
		t.Fatalf("err = %v, want BadRequestError", err)
	}
}

func TestRequestAndRecordPassthrough(t *testing.T) {
	chat := &fakeChat{}
	store := newFakeStore()
	orch := &Orchestrator{Chat: chat, LLM: &fakeLLM{}, Store: store}

	rec, err := orch.RequestAndRecord(context.Background(), db.Selection{CharacterID: "c1", RoomID: "r1"})
	if err != nil {
		t.Fatalf("RequestAndRecord: %v", err)
	}
	if rec.Kind != db.KindPassthrough {
		t.Errorf("kind = %q, want %q", rec.Kind, db.KindPassthrough)
	}
	if rec.OriginalText != "requested reply" {
		t.Errorf("original text = %q", rec.OriginalText)
	}
	if len(store.recs) != 1 {
		t.Errorf("record not stored")
	}
}

func TestRequestAndRecordNotReady(t *testing.T) {
	chat := &fakeChat{replyErr: nomiapi.ErrNotReady}
	orch := &Orchestrator{Chat: chat, LLM: &fakeLLM{}, Store: newFakeStore()}
	_, err := orch.RequestAndRecord(context.Background(), db.Selection{CharacterID: "c1", RoomID: "r1"})
	if !errors.Is(err, nomiapi.ErrNotReady) {
		t.Fatalf("err = %v, want ErrNotReady", err)
	}
}
