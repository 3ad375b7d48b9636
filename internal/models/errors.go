package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for conditions callers branch on with errors.Is.
var (
	// ErrAuthExpired means the remote authority rejected our credentials.
	// Local auth state has been cleared; the caller must re-authenticate.
	ErrAuthExpired = errors.New("authentication expired")

	// ErrNotConnected means the group has no open or pending transport.
	// The caller should retry the user action after reconnecting; the
	// session layer does not retry on its own.
	ErrNotConnected = errors.New("transport not connected")

	// ErrNoParticipants means an expense had nobody to share it. This is
	// a programmer error: upstream validation must guarantee at least one
	// participant.
	ErrNoParticipants = errors.New("expense has no participants")

	// ErrGroupFinalized means the group was ended by its owner. Live join
	// is impossible; read the frozen snapshot instead.
	ErrGroupFinalized = errors.New("group has been finalized")
)

// RemoteError is a domain rejection from the remote authority: the HTTP
// exchange succeeded but the envelope carried a non-success code. Message
// is suitable for direct display.
type RemoteError struct {
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote error (code %d)", e.Code)
	}
	return fmt.Sprintf("remote error (code %d): %s", e.Code, e.Message)
}
