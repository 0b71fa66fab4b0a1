package services

import (
	"errors"
	"fmt"

	"github.com/cppla/clubcheckin/models"
)

var (
	// ErrInvalidPayload means a submission could not be turned into a check-in. Nothing is recorded.
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrEmptyCardUID is returned for manual entries without a card UID.
	ErrEmptyCardUID = errors.New("card uid is required")
	// ErrMemberNotFound is returned when a member id does not exist.
	ErrMemberNotFound = errors.New("member not found")
	// ErrBindConflict is returned when a card is bound to someone else and no override was given.
	ErrBindConflict = errors.New("card already bound to another member")
	// ErrGatewayUnreachable means the local gateway adapter did not answer in time.
	ErrGatewayUnreachable = errors.New("gateway unreachable")
	// ErrImmutableCheckin re-exports the model hook error.
	ErrImmutableCheckin = models.ErrImmutableCheckin
)

// BindConflictError carries the member currently holding the card.
type BindConflictError struct {
	CardUID       string
	CurrentMember uint
}

func (e *BindConflictError) Error() string {
	return fmt.Sprintf("card %s already bound to member %d", e.CardUID, e.CurrentMember)
}

func (e *BindConflictError) Unwrap() error { return ErrBindConflict }

// Dedup rejection reasons. These are informational, not errors.
const (
	ReasonDuplicateID = "duplicate-id"
	ReasonDebounced   = "debounced"
)
