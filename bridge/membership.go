package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/onnwee/nomi-bridge/nomiapi"
	"github.com/onnwee/nomi-bridge/telemetry"
)

// RoomAPI is the slice of the chat client that membership changes need.
type RoomAPI interface {
	AddMember(ctx context.Context, roomID, characterID string) (nomiapi.Room, error)
	RemoveMember(ctx context.Context, roomID, characterID string) (nomiapi.Room, error)
}

// SelectionStore repoints tracked selections when a room id changes.
// *db.Store satisfies it.
type SelectionStore interface {
	ReassignRoom(ctx context.Context, oldID, newID, newName string) error
}

// Membership applies room membership changes and keeps local selections
// consistent with them. The remote API cannot shrink a member list in place,
// so a removal replaces the room wholesale and the room id changes; every
// selection pointing at the old id must be repointed or it will poll a dead
// room forever.
type Membership struct {
	Chat  RoomAPI
	Store SelectionStore
}

// Add puts a character into a room. Idempotent on the remote side.
func (m *Membership) Add(ctx context.Context, roomID, characterID string) (nomiapi.Room, error) {
	if roomID == "" || characterID == "" {
		return nomiapi.Room{}, &BadRequestError{Msg: "room_id and character_id are required"}
	}
	room, err := m.Chat.AddMember(ctx, roomID, characterID)
	if err != nil {
		telemetry.RecordUpstreamError("nomi")
		return nomiapi.Room{}, fmt.Errorf("add member: %w", err)
	}
	return room, nil
}

// Remove takes a character out of a room via delete-and-recreate. On success
// the returned room carries the replacement id and selections are repointed.
// A RoomLostError means the old room is gone remotely but no replacement
// exists; the error is surfaced as-is for the operator, and stale selections
// fall back to the characters' direct chats so the poll loop stops hitting
// the dead id.
func (m *Membership) Remove(ctx context.Context, roomID, characterID string) (nomiapi.Room, error) {
	if roomID == "" || characterID == "" {
		return nomiapi.Room{}, &BadRequestError{Msg: "room_id and character_id are required"}
	}
	room, err := m.Chat.RemoveMember(ctx, roomID, characterID)
	if err != nil {
		var lost *nomiapi.RoomLostError
		if errors.As(err, &lost) {
			telemetry.LoggerWithCorr(ctx).Error("room lost during member removal",
				slog.String("room", lost.Name),
				slog.String("deleted_id", lost.DeletedID),
				slog.Any("cause", lost.Cause))
			if derr := m.Store.ReassignRoom(ctx, lost.DeletedID, "", lost.Name); derr != nil {
				telemetry.LoggerWithCorr(ctx).Warn("failed to repoint selections off lost room", slog.Any("err", derr))
			}
			return nomiapi.Room{}, err
		}
		if !errors.Is(err, nomiapi.ErrLastMember) {
			telemetry.RecordUpstreamError("nomi")
		}
		return nomiapi.Room{}, fmt.Errorf("remove member: %w", err)
	}
	if room.ID != roomID {
		if err := m.Store.ReassignRoom(ctx, roomID, room.ID, room.Name); err != nil {
			return room, fmt.Errorf("room recreated as %s but selections not repointed: %w", room.ID, err)
		}
		telemetry.LoggerWithCorr(ctx).Info("room recreated after member removal",
			slog.String("old_id", roomID),
			slog.String("new_id", room.ID),
			slog.String("name", room.Name))
	}
	return room, nil
}
