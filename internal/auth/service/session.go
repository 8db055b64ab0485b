package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rentloop/rentloop/internal/auth/domain"
	"github.com/rentloop/rentloop/internal/auth/store"
	"github.com/rentloop/rentloop/pkg/cryptox"
	"github.com/rentloop/rentloop/pkg/idx"
	"github.com/rentloop/rentloop/pkg/slogx"
	"github.com/rentloop/rentloop/pkg/tokenx"
)

var (
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrNoPermissions      = errors.New("no_permissions_for_user_type")
)

// SessionService issues and ends sessions. Access tokens carry the permission
// set of the user's type at issue time; refresh tokens flow through the
// RotationService.
type SessionService struct {
	Store    store.Store
	Rotation *RotationService
	Codec    *tokenx.Codec

	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Login verifies credentials and opens a new session with its own token
// family. Unknown usernames, wrong passwords and deactivated accounts all
// collapse into ErrInvalidCredentials; a user type without a permission set
// is reported separately so operators can tell a config gap from an attack.
func (s *SessionService) Login(ctx context.Context, username, password string) (domain.TokenPair, error) {
	l := slogx.FromContext(ctx)

	user, err := s.Store.Users().GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			l.Info("login failed: unknown username", slog.String("username", username))
			return domain.TokenPair{}, ErrInvalidCredentials
		}
		return domain.TokenPair{}, err
	}

	if !user.Active {
		l.Info("login failed: account deactivated", slog.String("user_id", user.ID))
		return domain.TokenPair{}, ErrInvalidCredentials
	}

	if err := cryptox.VerifyPassword(password, user.PasswordHash); err != nil {
		l.Info("login failed: password mismatch", slog.String("user_id", user.ID))
		return domain.TokenPair{}, ErrInvalidCredentials
	}

	perms, err := s.permissionsFor(ctx, user)
	if err != nil {
		return domain.TokenPair{}, err
	}

	family := idx.New().String()
	pair, err := s.issuePair(user.ID, family, perms)
	if err != nil {
		return domain.TokenPair{}, err
	}

	if err := s.Rotation.Replay.AddFamily(ctx, user.ID, family, s.RefreshTTL); err != nil {
		return domain.TokenPair{}, err
	}

	l.Info("session opened",
		slog.String("user_id", user.ID),
		slog.String("user_type", user.UserType),
		slog.String("family", family),
	)
	return pair, nil
}

// Refresh rotates the refresh credential and mints a fresh access token with
// the permission set current at refresh time, so permission changes take
// effect without forcing a re-login.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (domain.TokenPair, error) {
	l := slogx.FromContext(ctx)

	next, claims, err := s.Rotation.Rotate(ctx, refreshToken)
	if err != nil {
		return domain.TokenPair{}, err
	}

	user, err := s.Store.Users().GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// The account vanished mid-session. Poison the family so the
			// remaining credential chain dies with it.
			_ = s.Rotation.InvalidateFamily(ctx, claims.Family)
			return domain.TokenPair{}, ErrInvalidRefresh
		}
		return domain.TokenPair{}, err
	}
	if !user.Active {
		l.Info("refresh rejected for deactivated account", slog.String("user_id", user.ID))
		if err := s.Rotation.InvalidateFamily(ctx, claims.Family); err != nil {
			return domain.TokenPair{}, err
		}
		return domain.TokenPair{}, ErrInvalidRefresh
	}

	perms, err := s.permissionsFor(ctx, user)
	if err != nil {
		return domain.TokenPair{}, err
	}

	access, err := s.Codec.IssueAccess(user.ID, perms, s.AccessTTL)
	if err != nil {
		return domain.TokenPair{}, err
	}

	return domain.TokenPair{
		AccessToken:  access,
		RefreshToken: next,
		TokenType:    "bearer",
		ExpiresIn:    int64(s.AccessTTL.Seconds()),
	}, nil
}

// Logout spends the presented credential's jti without rotating, so it can
// never be exchanged again. Idempotent: a token that is already invalid or
// already spent has nothing left to revoke, and that is still a success.
func (s *SessionService) Logout(ctx context.Context, refreshToken string) error {
	claims, err := s.Codec.ValidateRefresh(refreshToken)
	if err != nil {
		return nil
	}

	if _, err := s.Rotation.Replay.MarkUsedIfAbsent(ctx, claims.ID, markerTTL(claims.ExpiresAt.Time)); err != nil {
		return err
	}

	slogx.FromContext(ctx).Info("session closed",
		slog.String("user_id", claims.UserID),
		slog.String("family", claims.Family),
	)
	return nil
}

// LogoutAll resolves the user from the refresh credential and ends every
// session they have, across devices.
func (s *SessionService) LogoutAll(ctx context.Context, refreshToken string) error {
	claims, err := s.Codec.ValidateRefresh(refreshToken)
	if err != nil {
		return ErrInvalidRefresh
	}

	if err := s.Rotation.RevokeAllForUser(ctx, claims.UserID); err != nil {
		return err
	}

	slogx.FromContext(ctx).Info("all sessions closed", slog.String("user_id", claims.UserID))
	return nil
}

func (s *SessionService) permissionsFor(ctx context.Context, user domain.User) ([]string, error) {
	ps, err := s.Store.Permissions().GetPermissionSet(ctx, user.UserType)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			slogx.FromContext(ctx).Error("no permission set for user type",
				slog.String("user_id", user.ID),
				slog.String("user_type", user.UserType),
			)
			return nil, ErrNoPermissions
		}
		return nil, err
	}
	return ps.Permissions, nil
}

func (s *SessionService) issuePair(userID, family string, perms []string) (domain.TokenPair, error) {
	access, err := s.Codec.IssueAccess(userID, perms, s.AccessTTL)
	if err != nil {
		return domain.TokenPair{}, err
	}

	refresh, err := s.Codec.IssueRefresh(userID, family, idx.New().String(), s.RefreshTTL)
	if err != nil {
		return domain.TokenPair{}, err
	}

	return domain.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int64(s.AccessTTL.Seconds()),
	}, nil
}
