package nomiapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// roomPayload is the wire shape for room create/update calls. The API takes
// the full member list on every call; there is no incremental add primitive.
type roomPayload struct {
	Name          string   `json:"name,omitempty"`
	MemberIDs     []string `json:"nomiUuids"`
	Backchanneling bool    `json:"backchannelingEnabled"`
}

// ListRooms lists all rooms with their member characters.
func (c *Client) ListRooms(ctx context.Context) ([]Room, error) {
	var body struct {
		Rooms []Room `json:"rooms"`
	}
	if err := c.do(ctx, "list rooms", http.MethodGet, "/rooms", nil, &body); err != nil {
		return nil, err
	}
	return body.Rooms, nil
}

// GetRoom fetches a single room by id.
func (c *Client) GetRoom(ctx context.Context, roomID string) (Room, error) {
	var room Room
	if err := c.do(ctx, "get room", http.MethodGet, "/rooms/"+roomID, nil, &room); err != nil {
		return Room{}, err
	}
	return room, nil
}

// CreateRoom creates a room with the given members. crossTalk enables
// character-to-character backchanneling.
func (c *Client) CreateRoom(ctx context.Context, name string, memberIDs []string, crossTalk bool) (Room, error) {
	if name == "" {
		return Room{}, errors.New("create room: name empty")
	}
	var room Room
	payload := roomPayload{Name: name, MemberIDs: memberIDs, Backchanneling: crossTalk}
	if err := c.do(ctx, "create room", http.MethodPost, "/rooms", payload, &room); err != nil {
		return Room{}, err
	}
	return room, nil
}

// ReplaceMembers submits a full member list for a room (PUT semantics).
func (c *Client) ReplaceMembers(ctx context.Context, roomID string, memberIDs []string) (Room, error) {
	var room Room
	payload := roomPayload{MemberIDs: memberIDs}
	if err := c.do(ctx, "replace members", http.MethodPut, "/rooms/"+roomID, payload, &room); err != nil {
		return Room{}, err
	}
	return room, nil
}

// DeleteRoom deletes a room by id.
func (c *Client) DeleteRoom(ctx context.Context, roomID string) error {
	return c.do(ctx, "delete room", http.MethodDelete, "/rooms/"+roomID, nil, nil)
}

// AddMember unions characterID into the room's member set and submits the
// full list as a replacement. Adding an already-present member is a no-op.
// The room keeps its id.
func (c *Client) AddMember(ctx context.Context, roomID, characterID string) (Room, error) {
	room, err := c.GetRoom(ctx, roomID)
	if err != nil {
		return Room{}, fmt.Errorf("add member: %w", err)
	}
	ids := make([]string, 0, len(room.Members)+1)
	for _, m := range room.Members {
		if m.ID == characterID {
			return room, nil
		}
		ids = append(ids, m.ID)
	}
	ids = append(ids, characterID)
	return c.ReplaceMembers(ctx, roomID, ids)
}

// RemoveMember removes a character from a room. The API has no removal
// primitive, so this deletes the room and recreates it with the remaining
// members. The returned room carries a NEW id; every held reference to the
// old id must be replaced.
//
// The two phases are not atomic. An error before the delete is safely
// retryable. If the recreate fails after the delete succeeded, the room is
// gone remotely and a *RoomLostError is returned; callers must treat that
// as fatal and surface it for manual remediation.
func (c *Client) RemoveMember(ctx context.Context, roomID, characterID string) (Room, error) {
	room, err := c.GetRoom(ctx, roomID)
	if err != nil {
		return Room{}, fmt.Errorf("remove member: %w", err)
	}
	remaining := make([]string, 0, len(room.Members))
	for _, m := range room.Members {
		if m.ID != characterID {
			remaining = append(remaining, m.ID)
		}
	}
	if len(remaining) == len(room.Members) {
		return room, nil
	}
	if len(remaining) == 0 {
		return Room{}, ErrLastMember
	}
	if err := c.DeleteRoom(ctx, roomID); err != nil {
		return Room{}, fmt.Errorf("remove member: %w", err)
	}
	recreated, err := c.CreateRoom(ctx, room.Name, remaining, room.CrossTalk)
	if err != nil {
		return Room{}, &RoomLostError{Name: room.Name, DeletedID: roomID, Cause: err}
	}
	return recreated, nil
}
