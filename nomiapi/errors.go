package nomiapi

import (
	"errors"
	"fmt"
)

// APIError is a non-success response from the Nomi API. The upstream status
// code and body are preserved so callers can surface them for diagnosis.
type APIError struct {
	Op     string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("nomi api: %s: status %d: %s", e.Op, e.Status, e.Body)
}

var (
	// ErrNotReady signals the character is not yet ready to produce a reply.
	// It is a transient state, not a failure; callers retry on a later tick.
	ErrNotReady = errors.New("reply not ready")

	// ErrLastMember is returned when a removal would leave a room empty.
	ErrLastMember = errors.New("cannot remove last member of room")
)

// RoomLostError reports the fatal half-failure of a member removal: the old
// room was deleted remotely but the replacement could not be created. The
// room is gone from the remote side and needs manual remediation.
type RoomLostError struct {
	Name      string
	DeletedID string
	Cause     error
}

func (e *RoomLostError) Error() string {
	return fmt.Sprintf("room %q (old id %s) deleted but recreate failed: %v", e.Name, e.DeletedID, e.Cause)
}

func (e *RoomLostError) Unwrap() error { return e.Cause }

// IsNotFound reports whether err is a 404 from the remote API.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status == 404
}
