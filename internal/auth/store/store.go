package store

import (
	"context"
	"errors"

	"github.com/rentloop/rentloop/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface for durable records (users and
// permission sets). Concrete drivers (sqlite for now) implement this. Session
// state lives in the ReplayStore instead; nothing here needs multi-step
// atomicity, so there is no Tx surface.
type Store interface {
	Users() Users
	Permissions() Permissions

	ApplyMigrations() error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

type Users interface {
	// GetUserByID returns a user by id.
	GetUserByID(ctx context.Context, id string) (domain.User, error)

	// GetUserByUsername is used during login.
	GetUserByUsername(ctx context.Context, username string) (domain.User, error)

	// CreateUser inserts a new user (id is provided by app via ULID).
	CreateUser(ctx context.Context, u domain.User) error

	// SetUserActive flips the active flag and bumps updated_at. Deactivated
	// users fail login and refresh.
	SetUserActive(ctx context.Context, userID string, active bool) error

	// UpdatePasswordHash sets the password_hash (argon2) and bumps updated_at.
	UpdatePasswordHash(ctx context.Context, userID string, newHash string) error
}

type Permissions interface {
	// GetPermissionSet returns the permission set for a user type.
	GetPermissionSet(ctx context.Context, userType string) (domain.PermissionSet, error)

	// UpsertPermissionSet creates or replaces the permission set for a user type.
	UpsertPermissionSet(ctx context.Context, ps domain.PermissionSet) error

	// ListPermissionSets returns every permission set, ordered by user type.
	ListPermissionSets(ctx context.Context) ([]domain.PermissionSet, error)
}
