package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rentloop/rentloop/internal/auth/store"
	"github.com/rentloop/rentloop/pkg/idx"
	"github.com/rentloop/rentloop/pkg/slogx"
	"github.com/rentloop/rentloop/pkg/tokenx"
)

var (
	ErrInvalidRefresh    = errors.New("invalid_refresh_token")
	ErrReplayDetected    = errors.New("refresh_token_replayed")
	ErrFamilyInvalidated = errors.New("token_family_invalidated")
)

// RotationService implements single-use refresh rotation over the shared
// replay store. A refresh credential may be exchanged exactly once; a second
// presentation of the same jti means the credential leaked, and the whole
// token family is poisoned in response.
type RotationService struct {
	Codec      *tokenx.Codec
	Replay     store.ReplayStore
	RefreshTTL time.Duration
}

// Rotate exchanges a refresh credential for a fresh one in the same family.
//
// The jti is consumed atomically before anything else: under concurrent
// presentations of the same credential exactly one caller proceeds, and the
// loser is treated as a replay. Replay-store outages propagate as
// store.ErrUnavailable and never count as replays.
func (s *RotationService) Rotate(ctx context.Context, token string) (string, tokenx.RefreshClaims, error) {
	l := slogx.FromContext(ctx)

	claims, err := s.Codec.ValidateRefresh(token)
	if err != nil {
		l.Info("refresh rotation rejected", slog.String("reason", err.Error()))
		return "", tokenx.RefreshClaims{}, ErrInvalidRefresh
	}

	first, err := s.Replay.MarkUsedIfAbsent(ctx, claims.ID, markerTTL(claims.ExpiresAt.Time))
	if err != nil {
		return "", tokenx.RefreshClaims{}, err
	}
	if !first {
		// Someone already spent this jti. The legitimate holder and the
		// attacker are indistinguishable now, so nobody in the family
		// keeps a session.
		if err := s.Replay.InvalidateFamily(ctx, claims.Family, s.RefreshTTL); err != nil {
			return "", tokenx.RefreshClaims{}, err
		}
		l.Warn("refresh token replay detected, family invalidated",
			slog.String("user_id", claims.UserID),
			slog.String("family", claims.Family),
		)
		return "", tokenx.RefreshClaims{}, ErrReplayDetected
	}

	invalidated, err := s.Replay.IsFamilyInvalidated(ctx, claims.Family)
	if err != nil {
		return "", tokenx.RefreshClaims{}, err
	}
	if invalidated {
		l.Info("refresh rejected for invalidated family",
			slog.String("user_id", claims.UserID),
			slog.String("family", claims.Family),
		)
		return "", tokenx.RefreshClaims{}, ErrFamilyInvalidated
	}

	next, err := s.Codec.IssueRefresh(claims.UserID, claims.Family, idx.New().String(), s.RefreshTTL)
	if err != nil {
		return "", tokenx.RefreshClaims{}, err
	}

	// Keep the user's family index alive as long as the newest credential.
	if err := s.Replay.AddFamily(ctx, claims.UserID, claims.Family, s.RefreshTTL); err != nil {
		return "", tokenx.RefreshClaims{}, err
	}

	return next, claims, nil
}

// InvalidateFamily poisons one family for the remaining refresh lifetime.
func (s *RotationService) InvalidateFamily(ctx context.Context, family string) error {
	return s.Replay.InvalidateFamily(ctx, family, s.RefreshTTL)
}

// RevokeAllForUser poisons every family registered for a user, then drops the
// index. Credentials the index no longer knows about are already expired.
func (s *RotationService) RevokeAllForUser(ctx context.Context, userID string) error {
	families, err := s.Replay.FamiliesForUser(ctx, userID)
	if err != nil {
		return err
	}
	for _, family := range families {
		if err := s.Replay.InvalidateFamily(ctx, family, s.RefreshTTL); err != nil {
			return err
		}
	}
	return s.Replay.ClearFamilies(ctx, userID)
}

// markerTTL sizes a used-jti marker to the credential's remaining lifetime.
// Once the credential is expired the codec rejects it anyway, so the marker
// only needs to outlive it; the 1s floor covers clock skew right at expiry.
func markerTTL(expiresAt time.Time) time.Duration {
	remaining := time.Until(expiresAt)
	if remaining < time.Second {
		return time.Second
	}
	return remaining
}
