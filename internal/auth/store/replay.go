package store

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable marks a replay store outage. Callers must surface it as a
// service failure, never as an invalid or replayed token.
var ErrUnavailable = errors.New("store: unavailable")

// ReplayStore is the shared TTL-keyed session state behind refresh rotation.
// Every server instance talks to the same store, so a credential replayed
// against instance B is caught even if instance A rotated it.
//
// All records carry a TTL so state for expired credentials disappears on its
// own; nothing here needs housekeeping.
type ReplayStore interface {
	// MarkUsedIfAbsent atomically records a refresh token id as spent.
	// It returns true when this call created the marker (first use) and
	// false when the marker already existed (replay). The check and the
	// write are a single step; two concurrent calls for the same id see
	// exactly one true.
	MarkUsedIfAbsent(ctx context.Context, jti string, ttl time.Duration) (bool, error)

	// InvalidateFamily poisons a token family. Every refresh token in the
	// family is rejected from this point until the record expires.
	InvalidateFamily(ctx context.Context, family string, ttl time.Duration) error

	// IsFamilyInvalidated reports whether a family has been poisoned.
	IsFamilyInvalidated(ctx context.Context, family string) (bool, error)

	// AddFamily registers a family under its owning user so LogoutAll can
	// find it later. Re-adding an existing family refreshes the index TTL.
	AddFamily(ctx context.Context, userID, family string, ttl time.Duration) error

	// FamiliesForUser lists the families currently registered for a user.
	FamiliesForUser(ctx context.Context, userID string) ([]string, error)

	// ClearFamilies drops the user's family index (the invalidation records
	// themselves stay until their TTLs lapse).
	ClearFamilies(ctx context.Context, userID string) error

	// Ping verifies the replay store connection is still alive.
	Ping(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}
