package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pulseim/realtime/internal/errs"
	"github.com/pulseim/realtime/internal/model"
)

// UserRepo implements store.UserDirectory on PostgreSQL.
type UserRepo struct{ db *DB }

// NewUserRepo constructs a user directory repository.
func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

const selectUser = `SELECT id, name, pic, is_online, last_seen FROM users WHERE id=$1`

// Get returns a user's directory entry.
func (r *UserRepo) Get(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := r.db.Pool.QueryRow(ctx, selectUser, id).
		Scan(&u.ID, &u.Name, &u.Pic, &u.Online, &u.LastSeen)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

const setOnline = `UPDATE users SET is_online=$2, last_seen=$3 WHERE id=$1`

// SetOnline mirrors the in-memory presence state with a fresh timestamp.
func (r *UserRepo) SetOnline(ctx context.Context, id string, online bool, at time.Time) error {
	if _, err := r.db.Pool.Exec(ctx, setOnline, id, online, at); err != nil {
		return fmt.Errorf("set online flag: %w", err)
	}
	return nil
}
