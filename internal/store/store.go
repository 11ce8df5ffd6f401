package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get/lookup operations when no record matches.
var ErrNotFound = errors.New("store: not found")

// Store defines persistence for Ships and SessionShip bindings.
//
// FindAvailableShip and the counter adjustments it composes with
// (IncrementShipSessionCount, CreateSessionShip) each run as a separate
// call; two concurrent callers must never both observe the same last free
// slot and both claim it, and it is the caller (the Allocator, through its
// own mutex) that serializes the whole find-bind-increment sequence.
type Store interface {
	CreateShip(ctx context.Context, ship *Ship) error
	GetShip(ctx context.Context, id string) (*Ship, error)
	UpdateShip(ctx context.Context, ship *Ship) error
	DeleteShip(ctx context.Context, id string) error
	ListActiveShips(ctx context.Context) ([]*Ship, error)
	CountActiveShips(ctx context.Context) (int, error)

	CreateSessionShip(ctx context.Context, binding *SessionShip) error
	GetSessionShip(ctx context.Context, sessionID, shipID string) (*SessionShip, error)
	ListSessionShipsForShip(ctx context.Context, shipID string) ([]*SessionShip, error)
	UpdateSessionActivity(ctx context.Context, sessionID, shipID string) error

	// FindAvailableShip returns a running Ship with a free session slot,
	// preferring one sessionID is already bound to over any other
	// qualifying Ship. Returns ErrNotFound if none qualify.
	FindAvailableShip(ctx context.Context, sessionID string) (*Ship, error)

	IncrementShipSessionCount(ctx context.Context, shipID string) error
	DecrementShipSessionCount(ctx context.Context, shipID string) error

	Close() error
}
