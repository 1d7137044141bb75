package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/nomi-bridge/db"
	"github.com/onnwee/nomi-bridge/nomiapi"
	"github.com/onnwee/nomi-bridge/telemetry"
)

// answerSystemPrompt frames the completion call for character questions.
const answerSystemPrompt = "You are answering a question asked by an AI companion character. Reply directly and conversationally. Keep the answer short."

// nudgePrompt is sent back when a character message is not a question.
const nudgePrompt = "Ask me a question"

// ChatAPI is the slice of the character-chat client the orchestrator needs.
type ChatAPI interface {
	FetchMessages(ctx context.Context, roomID, characterID string) ([]nomiapi.Message, error)
	RequestReply(ctx context.Context, roomID, characterID string) (nomiapi.Message, error)
	SendMessage(ctx context.Context, characterID, roomID, text string) error
}

// AnswerEngine produces completions for character questions.
type AnswerEngine interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// RecordStore is the slice of the database layer the orchestrator needs.
// *db.Store satisfies it.
type RecordStore interface {
	ListSelections(ctx context.Context) ([]db.Selection, error)
	ExistsByCharacterAndText(ctx context.Context, characterID, text string) (bool, error)
	InsertProcessed(ctx context.Context, rec db.ProcessedMessage) (bool, error)
}

// Report summarizes one poll pass. Per-character failures are embedded as
// strings rather than failing the pass; Success reflects only whether the
// pass itself could run.
type Report struct {
	Success                bool                  `json:"success"`
	TotalCharactersChecked int                   `json:"total_characters_checked"`
	MessagesFound          int                   `json:"messages_found"`
	MessagesProcessed      int                   `json:"messages_processed"`
	Records                []db.ProcessedMessage `json:"processed_records"`
	Errors                 []string              `json:"errors,omitempty"`
}

// Orchestrator runs poll passes over the selected character/room pairs:
// fetch new character messages, answer questions through the completion API,
// nudge non-questions, and record every handled message exactly once.
type Orchestrator struct {
	Chat    ChatAPI
	LLM     AnswerEngine
	Store   RecordStore
	Timeout time.Duration

	runMu sync.Mutex
}

func (o *Orchestrator) timeout() time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	return 20 * time.Second
}

// RunPollPass executes one full pass over all selections, strictly
// sequentially. Concurrent calls are rejected with ErrPollInProgress so the
// scheduler and the manual trigger cannot overlap.
func (o *Orchestrator) RunPollPass(ctx context.Context) (Report, error) {
	if !o.runMu.TryLock() {
		if telemetry.PollSkipsOverlap != nil {
			telemetry.PollSkipsOverlap.Inc()
		}
		return Report{}, ErrPollInProgress
	}
	defer o.runMu.Unlock()

	var report Report
	sels, err := o.Store.ListSelections(ctx)
	if err != nil {
		return report, fmt.Errorf("list selections: %w", err)
	}
	telemetry.SetSelections(len(sels))
	if telemetry.PollPasses != nil {
		telemetry.PollPasses.Inc()
	}

	for _, sel := range sels {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.TotalCharactersChecked++
		if telemetry.CharactersChecked != nil {
			telemetry.CharactersChecked.Inc()
		}
		if err := o.pollOne(ctx, sel, &report); err != nil {
			name := sel.CharacterName
			if name == "" {
				name = sel.CharacterID
			}
			telemetry.LoggerWithCorr(ctx).Warn("character poll failed",
				slog.String("character", name),
				slog.String("room_id", sel.RoomID),
				slog.Any("err", err))
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", name, err))
			continue
		}
	}
	report.Success = true
	return report, nil
}

// pollOne handles a single character/room pair. Any error aborts this pair
// only; the caller records it and moves on.
func (o *Orchestrator) pollOne(ctx context.Context, sel db.Selection, report *Report) error {
	// In a room context, nudge the character to produce its next reply
	// before reading history. Not-ready is a normal state; the reply will
	// land in a later pass.
	if sel.RoomID != "" {
		cctx, cancel := context.WithTimeout(ctx, o.timeout())
		_, err := o.Chat.RequestReply(cctx, sel.RoomID, sel.CharacterID)
		cancel()
		if err != nil && !errors.Is(err, nomiapi.ErrNotReady) {
			telemetry.RecordUpstreamError("nomi")
			return fmt.Errorf("request reply: %w", err)
		}
	}

	cctx, cancel := context.WithTimeout(ctx, o.timeout())
	msgs, err := o.Chat.FetchMessages(cctx, sel.RoomID, sel.CharacterID)
	cancel()
	if err != nil {
		telemetry.RecordUpstreamError("nomi")
		return fmt.Errorf("fetch messages: %w", err)
	}

	for _, msg := range msgs {
		if !msg.FromCharacter {
			continue
		}
		report.MessagesFound++
		if telemetry.MessagesFound != nil {
			telemetry.MessagesFound.Inc()
		}
		seen, err := o.Store.ExistsByCharacterAndText(ctx, sel.CharacterID, msg.Text)
		if err != nil {
			return err
		}
		if seen {
			if telemetry.DedupHits != nil {
				telemetry.DedupHits.Inc()
			}
			continue
		}
		rec, err := o.handleMessage(ctx, sel, msg)
		if err != nil {
			return err
		}
		inserted, err := o.Store.InsertProcessed(ctx, rec)
		if err != nil {
			return err
		}
		if inserted {
			report.MessagesProcessed++
			report.Records = append(report.Records, rec)
			if telemetry.MessagesProcessed != nil {
				telemetry.MessagesProcessed.Inc()
			}
		}
	}
	return nil
}

// handleMessage classifies one new character message and sends the reply.
// Questions get a completion-backed answer; everything else gets the nudge.
func (o *Orchestrator) handleMessage(ctx context.Context, sel db.Selection, msg nomiapi.Message) (db.ProcessedMessage, error) {
	rec := db.ProcessedMessage{
		CharacterID:   sel.CharacterID,
		CharacterName: sel.CharacterName,
		OriginalText:  msg.Text,
	}
	stripped := strings.TrimSpace(StripMonologue(msg.Text))
	if IsQuestion(stripped) {
		answer, err := o.answer(ctx, stripped)
		if err != nil {
			return rec, err
		}
		if err := o.send(ctx, sel, answer); err != nil {
			return rec, err
		}
		rec.Kind = db.KindQuestionAnswered
		rec.Question = stripped
		rec.Answer = answer
		return rec, nil
	}
	if err := o.send(ctx, sel, nudgePrompt); err != nil {
		return rec, err
	}
	rec.Kind = db.KindRegular
	rec.Answer = nudgePrompt
	return rec, nil
}

func (o *Orchestrator) answer(ctx context.Context, question string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, o.timeout())
	defer cancel()
	if telemetry.LLMCalls != nil {
		telemetry.LLMCalls.Inc()
	}
	var raw string
	var err error
	telemetry.TimeFunc(telemetry.LLMCallDuration, func() {
		raw, err = o.LLM.Complete(cctx, answerSystemPrompt, question)
	})
	if err != nil {
		telemetry.RecordUpstreamError("llm")
		return "", fmt.Errorf("complete: %w", err)
	}
	return TruncateAnswer(strings.TrimSpace(raw), MaxAnswerLen), nil
}

func (o *Orchestrator) send(ctx context.Context, sel db.Selection, text string) error {
	cctx, cancel := context.WithTimeout(ctx, o.timeout())
	defer cancel()
	if err := o.Chat.SendMessage(cctx, sel.CharacterID, sel.RoomID, text); err != nil {
		telemetry.RecordUpstreamError("nomi")
		return fmt.Errorf("send reply: %w", err)
	}
	if telemetry.RepliesSent != nil {
		telemetry.RepliesSent.Inc()
	}
	return nil
}

// Answer runs a one-off question through the same strip/complete/truncate
// pipeline the poll pass uses, without touching the chat API or the store.
func (o *Orchestrator) Answer(ctx context.Context, question string) (string, error) {
	stripped := strings.TrimSpace(StripMonologue(question))
	if stripped == "" {
		return "", &BadRequestError{Msg: "question must not be empty"}
	}
	return o.answer(ctx, stripped)
}

// RequestAndRecord triggers an on-demand reply from a character in a room and
// records the relayed message as a passthrough record. ErrNotReady passes
// through untouched so callers can report the transient state.
func (o *Orchestrator) RequestAndRecord(ctx context.Context, sel db.Selection) (db.ProcessedMessage, error) {
	cctx, cancel := context.WithTimeout(ctx, o.timeout())
	msg, err := o.Chat.RequestReply(cctx, sel.RoomID, sel.CharacterID)
	cancel()
	if err != nil {
		if !errors.Is(err, nomiapi.ErrNotReady) {
			telemetry.RecordUpstreamError("nomi")
		}
		return db.ProcessedMessage{}, err
	}
	rec := db.ProcessedMessage{
		CharacterID:   sel.CharacterID,
		CharacterName: sel.CharacterName,
		OriginalText:  msg.Text,
		Kind:          db.KindPassthrough,
	}
	if _, err := o.Store.InsertProcessed(ctx, rec); err != nil {
		return rec, err
	}
	return rec, nil
}
