package users

import "time"

// User represents a user account for management. Roles carries the names of
// the user's active role memberships.
type User struct {
	ID        int64
	Username  string
	Nickname  string
	Email     string
	IsActive  bool
	Roles     []string
	CreatedAt time.Time
	UpdatedAt time.Time
}
