package model

import "time"

// User represents a show-office account as stored in the `users`
// table.  Stewards assign and release numbers during the event; admins
// may additionally force a specific number through the override path.
//
// Fields:
//
//	ID           – primary key identifier of the user.
//	Email        – unique email address.
//	PasswordHash – bcrypt hashed password.
//	DisplayName  – name shown in audit trails.
//	Role         – STEWARD or ADMIN.
//	IsActive     – whether the account may sign in.
//	CreatedAt    – timestamp of creation.
//	UpdatedAt    – timestamp of last update.
type User struct {
	ID           uint64    // users.id
	Email        string    // users.email
	PasswordHash string    // users.password_hash
	DisplayName  string    // users.display_name
	Role         string    // users.role
	IsActive     bool      // users.is_active
	CreatedAt    time.Time // users.created_at
	UpdatedAt    time.Time // users.updated_at
}

// Roles accepted in the `users.role` column and the JWT role claim.
const (
	RoleSteward = "STEWARD"
	RoleAdmin   = "ADMIN"
)
