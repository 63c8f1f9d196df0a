package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/showgrounds/startnumber-service/internal/model"
)

// UserRepo provides lookups on the `users` table for show-office
// accounts.  Account management itself lives in the tournament CRUD
// screens; this service only authenticates existing stewards so that
// every mutation carries a created_by identity.
type UserRepo struct {
	db *sql.DB
}

// NewUserRepo returns a UserRepo bound to the given database.
func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{db: db} }

// ByEmail returns the active user with the given email address, or
// ErrNotFound.  Inactive accounts are treated as absent so a revoked
// steward cannot sign in.
func (r *UserRepo) ByEmail(ctx context.Context, email string) (*model.User, error) {
	const q = `SELECT id, email, password_hash, display_name, role, is_active, created_at, updated_at
	           FROM users WHERE email = ? AND is_active = 1`
	var u model.User
	err := r.db.QueryRowContext(ctx, q, email).Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.DisplayName, &u.Role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ByID returns the user with the given id, or ErrNotFound.
func (r *UserRepo) ByID(ctx context.Context, id uint64) (*model.User, error) {
	const q = `SELECT id, email, password_hash, display_name, role, is_active, created_at, updated_at
	           FROM users WHERE id = ?`
	var u model.User
	err := r.db.QueryRowContext(ctx, q, id).Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.DisplayName, &u.Role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
