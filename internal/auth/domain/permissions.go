package domain

import "time"

// PermissionSet maps a user type to the permissions baked into access tokens
// issued for users of that type. A user type without a permission set cannot
// log in; that absence is a distinct failure from bad credentials.
type PermissionSet struct {
	UserType    string
	Permissions []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
