// Package transfer holds the contact transfer state machine: the closed set of
// statuses a transfer request can be in, the table of legal transitions between
// them, and the capability token that lets an invited contact accept by link.
//
// Every status write in the service layer is checked with Transition before it
// reaches the database, so legality is decided in exactly one place.
package transfer

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Status is the lifecycle state of a transfer request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusCompleted Status = "completed"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// ErrIllegalTransition is returned when a status change is not in the table.
var ErrIllegalTransition = errors.New("illegal transfer status transition")

// ErrUnknownStatus is returned by ParseStatus for values outside the closed set.
var ErrUnknownStatus = errors.New("unknown transfer status")

// table maps a source status to the statuses it may move to.
type table map[Status][]Status

func (t table) allow(from Status, to ...Status) table {
	for _, s := range to {
		if !slices.Contains(t[from], s) {
			t[from] = append(t[from], s)
		}
	}
	return t
}

var transitions = table{}.
	allow(StatusPending, StatusAccepted, StatusCancelled, StatusExpired, StatusRejected, StatusCompleted).
	allow(StatusAccepted, StatusCompleted)

// All returns every status in declaration order.
func All() []Status {
	return []Status{StatusPending, StatusAccepted, StatusCompleted, StatusRejected, StatusCancelled, StatusExpired}
}

// ParseStatus converts a raw string (e.g. a query parameter) into a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
	return st, nil
}

// Valid reports whether s is one of the declared statuses.
func (s Status) Valid() bool {
	return slices.Contains(All(), s)
}

// IsTerminal reports whether no further transition is possible from s.
func (s Status) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// CanTransition reports whether from → to is in the transition table.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

// Transition validates a status change. The returned error wraps
// ErrIllegalTransition and names both states.
func Transition(from, to Status) error {
	if !from.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, string(from))
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}

// IsExpired reports whether a transfer expiring at expiresAt is past its horizon at now.
func IsExpired(expiresAt, now time.Time) bool {
	return !now.Before(expiresAt)
}
