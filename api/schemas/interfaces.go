package schemas

import (
	"context"
)

// -- Store Interface --

// ProfileStore defines the persistence contract for behavior profiles. The
// abstraction keeps the behavioral core independent of the concrete backend
// (in-memory, JSON files on disk, PostgreSQL). Implementations must be safe
// for concurrent use: distinct sessions run against the same store.
//
// Get returns *NotFoundError for an unknown id; Save and Delete wrap backend
// failures in *IOError. Implementations exchange deep copies with callers so
// a stored document is never aliased by live session state.
type ProfileStore interface {
	// SaveProfile inserts the profile or overwrites the stored document with
	// the same id.
	SaveProfile(ctx context.Context, profile *BehaviorProfile) error
	// GetProfile retrieves one profile by id.
	GetProfile(ctx context.Context, id string) (*BehaviorProfile, error)
	// DeleteProfile removes the stored document. Deleting an unknown id
	// returns *NotFoundError.
	DeleteProfile(ctx context.Context, id string) error
	// ListProfiles returns every stored profile, most recently used first.
	ListProfiles(ctx context.Context) ([]*BehaviorProfile, error)
	// Close releases any resources held by the backend.
	Close() error
}
