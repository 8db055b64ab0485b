package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/rentloop/rentloop/internal/auth/domain"
)

type permissionsRepo struct {
	db *sql.DB
}

func (r *permissionsRepo) GetPermissionSet(ctx context.Context, userType string) (domain.PermissionSet, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT user_type, permissions, created_at, updated_at
		 FROM permission_sets WHERE user_type = ?`, userType)

	var ps domain.PermissionSet
	var permissions string
	if err := row.Scan(&ps.UserType, &permissions, &ps.CreatedAt, &ps.UpdatedAt); err != nil {
		return domain.PermissionSet{}, mapNotFound(err)
	}
	ps.Permissions = splitPermissions(permissions)
	return ps, nil
}

func (r *permissionsRepo) UpsertPermissionSet(ctx context.Context, ps domain.PermissionSet) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO permission_sets (user_type, permissions, created_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_type) DO UPDATE SET permissions = excluded.permissions, updated_at = excluded.updated_at`,
		ps.UserType, strings.Join(ps.Permissions, " "), now, now)
	return err
}

func (r *permissionsRepo) ListPermissionSets(ctx context.Context) ([]domain.PermissionSet, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_type, permissions, created_at, updated_at
		 FROM permission_sets ORDER BY user_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PermissionSet
	for rows.Next() {
		var ps domain.PermissionSet
		var permissions string
		if err := rows.Scan(&ps.UserType, &permissions, &ps.CreatedAt, &ps.UpdatedAt); err != nil {
			return nil, err
		}
		ps.Permissions = splitPermissions(permissions)
		out = append(out, ps)
	}
	return out, rows.Err()
}

// splitPermissions splits the space-separated column, dropping empties and
// duplicates.
func splitPermissions(s string) []string {
	parts := strings.Fields(s)
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		if _, ok := seen[part]; ok {
			continue
		}
		seen[part] = struct{}{}
		out = append(out, part)
	}
	return out
}
