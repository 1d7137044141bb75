package bridge

import (
	"context"
	"errors"
	"testing"

	"github.com/onnwee/nomi-bridge/nomiapi"
)

type fakeRoomAPI struct {
	addRoom    nomiapi.Room
	addErr     error
	removeRoom nomiapi.Room
	removeErr  error
}

func (f *fakeRoomAPI) AddMember(ctx context.Context, roomID, characterID string) (nomiapi.Room, error) {
	return f.addRoom, f.addErr
}

func (f *fakeRoomAPI) RemoveMember(ctx context.Context, roomID, characterID string) (nomiapi.Room, error) {
	return f.removeRoom, f.removeErr
}

type reassignCall struct {
	oldID, newID, newName string
}

type fakeSelectionStore struct {
	calls []reassignCall
	err   error
}

func (f *fakeSelectionStore) ReassignRoom(ctx context.Context, oldID, newID, newName string) error {
	f.calls = append(f.calls, reassignCall{oldID, newID, newName})
	return f.err
}

func TestMembershipRemoveRepointsSelections(t *testing.T) {
	store := &fakeSelectionStore{}
	m := &Membership{
		Chat:  &fakeRoomAPI{removeRoom: nomiapi.Room{ID: "r2", Name: "den"}},
		Store: store,
	}
	room, err := m.Remove(context.Background(), "r1", "c1")
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if room.ID != "r2" {
		t.Errorf("room id = %q, want r2", room.ID)
	}
	if len(store.calls) != 1 || store.calls[0] != (reassignCall{"r1", "r2", "den"}) {
		t.Fatalf("reassign calls = %+v", store.calls)
	}
}

func TestMembershipRemoveNoopKeepsID(t *testing.T) {
	store := &fakeSelectionStore{}
	m := &Membership{
		Chat:  &fakeRoomAPI{removeRoom: nomiapi.Room{ID: "r1", Name: "den"}},
		Store: store,
	}
	if _, err := m.Remove(context.Background(), "r1", "absent"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if len(store.calls) != 0 {
		t.Errorf("selections repointed without id change: %+v", store.calls)
	}
}

func TestMembershipRemoveRoomLost(t *testing.T) {
	store := &fakeSelectionStore{}
	lost := &nomiapi.RoomLostError{Name: "den", DeletedID: "r1", Cause: errors.New("create failed")}
	m := &Membership{Chat: &fakeRoomAPI{removeErr: lost}, Store: store}

	_, err := m.Remove(context.Background(), "r1", "c1")
	var got *nomiapi.RoomLostError
	if !errors.As(err, &got) {
		t.Fatalf("err = %v, want RoomLostError", err)
	}
	// Selections must stop referencing the dead room id.
	if len(store.calls) != 1 || store.calls[0].oldID != "r1" || store.calls[0].newID != "" {
		t.Fatalf("reassign calls = %+v", store.calls)
	}
}

func TestMembershipRemoveLastMember(t *testing.T) {
	m := &Membership{Chat: &fakeRoomAPI{removeErr: nomiapi.ErrLastMember}, Store: &fakeSelectionStore{}}
	_, err := m.Remove(context.Background(), "r1", "c1")
	if !errors.Is(err, nomiapi.ErrLastMember) {
		t.Fatalf("err = %v, want ErrLastMember", err)
	}
}

func TestMembershipValidation(t *testing.T) {
	m := &Membership{Chat: &fakeRoomAPI{}, Store: &fakeSelectionStore{}}
	var badReq *BadRequestError
	if _, err := m.Add(context.Background(), "", "c1"); !errors.As(err, &badReq) {
		t.Errorf("Add with empty room: err = %v, want BadRequestError", err)
	}
	if _, err := m.Remove(context.Background(), "r1", ""); !errors.As(err, &badReq) {
		t.Errorf("Remove with empty character: err = %v, want BadRequestError", err)
	}
}
