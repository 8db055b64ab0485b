package domain

import "time"

type User struct {
	ID           string
	Username     string
	PasswordHash string // argon2 encoded
	UserType     string // permission set key (e.g. tenant, landlord, agent, admin)
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
