//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=mocks/mock_store.go -package=mocks

// Package store persists participants keyed by phone number.
package store

import (
	"context"
)

// TableName is the relational table backing the participant store.
const TableName = "participant_items"

// Participant is one known contact.
type Participant struct {
	ID          int64 `db:"id" json:"id"`
	PhoneNumber int64 `db:"phone_number" json:"phone_number"`
}

// Store is transactional access to participants. Every call reflects the
// latest committed state; nothing is cached.
type Store interface {
	// GetAll returns every participant ordered by id. An empty table yields an
	// empty, non-nil slice.
	GetAll(ctx context.Context) ([]Participant, error)
	// FindByPhoneNumber reports the participant holding phoneNumber, if any.
	FindByPhoneNumber(ctx context.Context, phoneNumber int64) (Participant, bool, error)
	// Create inserts a participant in its own transaction and returns the new
	// id. An existing phone number yields *DuplicateParticipantError.
	Create(ctx context.Context, phoneNumber int64) (int64, error)
	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error
	// Close releases the connection pool.
	Close() error
}

// Opener opens a Store. The worker calls it on every start and owns the
// returned handle until stop.
type Opener func(ctx context.Context) (Store, error)
