package nomiapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// wireMessage is the remote message shape. sender is "user" for messages we
// (or the account owner) sent and the character uuid otherwise.
type wireMessage struct {
	ID     string    `json:"uuid"`
	Text   string    `json:"text"`
	Sent   time.Time `json:"sent"`
	Sender string    `json:"sender"`
}

func (w wireMessage) message() Message {
	return Message{ID: w.ID, Text: w.Text, Sent: w.Sent, FromCharacter: w.Sender != "user"}
}

// FetchMessages returns the recent messages for a character, preferring room
// addressing and falling back to the character's direct chat when the room
// endpoint reports not-found. When both addressing schemes miss, it returns
// an empty list rather than an error so the poll pipeline stays live while
// history is temporarily unavailable.
func (c *Client) FetchMessages(ctx context.Context, roomID, characterID string) ([]Message, error) {
	var body struct {
		Messages []wireMessage `json:"messages"`
	}
	if roomID != "" {
		err := c.do(ctx, "fetch room messages", http.MethodGet, "/rooms/"+roomID+"/chat", nil, &body)
		if err == nil {
			return toMessages(body.Messages), nil
		}
		if !IsNotFound(err) {
			return nil, err
		}
	}
	body.Messages = nil
	err := c.do(ctx, "fetch character messages", http.MethodGet, "/nomis/"+characterID+"/chat", nil, &body)
	if err == nil {
		return toMessages(body.Messages), nil
	}
	if IsNotFound(err) {
		return []Message{}, nil
	}
	return nil, err
}

func toMessages(in []wireMessage) []Message {
	out := make([]Message, 0, len(in))
	for _, w := range in {
		out = append(out, w.message())
	}
	return out
}

// RequestReply asks a character to produce the next reply in a room. Three
// outcomes: the reply message, ErrNotReady when the character is busy (retry
// on a later tick), or an *APIError for hard failures.
func (c *Client) RequestReply(ctx context.Context, roomID, characterID string) (Message, error) {
	var body struct {
		Reply wireMessage `json:"replyMessage"`
	}
	payload := map[string]string{"nomiUuid": characterID}
	err := c.do(ctx, "request reply", http.MethodPost, "/rooms/"+roomID+"/chat/request", payload, &body)
	if err != nil {
		var ae *APIError
		if errors.As(err, &ae) && (ae.Status == http.StatusServiceUnavailable || ae.Status == http.StatusTooEarly) {
			return Message{}, ErrNotReady
		}
		return Message{}, err
	}
	return body.Reply.message(), nil
}

// SendMessage posts text to the character, addressing the room first and
// falling back to the character's direct chat. When both paths fail the
// combined error carries both upstream statuses.
func (c *Client) SendMessage(ctx context.Context, characterID, roomID, text string) error {
	payload := map[string]string{"messageText": text}
	var roomErr error
	if roomID != "" {
		roomErr = c.do(ctx, "send room message", http.MethodPost, "/rooms/"+roomID+"/chat", payload, nil)
		if roomErr == nil {
			return nil
		}
	}
	directErr := c.do(ctx, "send character message", http.MethodPost, "/nomis/"+characterID+"/chat", payload, nil)
	if directErr == nil {
		return nil
	}
	if roomErr != nil {
		return &SendError{RoomErr: roomErr, DirectErr: directErr}
	}
	return directErr
}

// SendError combines the room-path and direct-path failures of SendMessage.
type SendError struct {
	RoomErr   error
	DirectErr error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send message failed on both paths: room: %v; direct: %v", e.RoomErr, e.DirectErr)
}
