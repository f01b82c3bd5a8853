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

// CallRepo implements store.CallStore on PostgreSQL.
type CallRepo struct{ db *DB }

// NewCallRepo constructs a call repository.
func NewCallRepo(db *DB) *CallRepo { return &CallRepo{db: db} }

const insertCall = `INSERT INTO calls (id, caller_id, receiver_id, status, kind, duration_ms, created_at) VALUES ($1,$2,$3,$4,$5,0,$6)`

// Create persists a new call record.
func (r *CallRepo) Create(ctx context.Context, c *model.Call) error {
	_, err := r.db.Pool.Exec(ctx, insertCall,
		c.ID, c.CallerID, c.ReceiverID, string(c.Status), string(c.Kind), c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert call: %w", err)
	}
	return nil
}

const callColumns = `id, caller_id, receiver_id, status, kind, started_at, ended_at, duration_ms, created_at`

const acceptCall = `UPDATE calls SET status='ongoing', started_at=$2 WHERE id=$1 RETURNING ` + callColumns

// Accept transitions the call to ongoing and stamps the start time.
func (r *CallRepo) Accept(ctx context.Context, id string, at time.Time) (*model.Call, error) {
	return r.scanOne(r.db.Pool.QueryRow(ctx, acceptCall, id, at))
}

const rejectCall = `UPDATE calls SET status='rejected', ended_at=$2 WHERE id=$1 RETURNING ` + callColumns

// Reject transitions the call to the terminal rejected state.
func (r *CallRepo) Reject(ctx context.Context, id string, at time.Time) (*model.Call, error) {
	return r.scanOne(r.db.Pool.QueryRow(ctx, rejectCall, id, at))
}

const completeCall = `UPDATE calls SET status='completed', ended_at=$2, duration_ms=COALESCE((EXTRACT(EPOCH FROM ($2::timestamptz - started_at)) * 1000)::bigint, 0) WHERE id=$1 RETURNING ` + callColumns

// Complete transitions the call to completed; the duration is derived from
// the recorded start time, zero when the call was never answered.
func (r *CallRepo) Complete(ctx context.Context, id string, at time.Time) (*model.Call, error) {
	return r.scanOne(r.db.Pool.QueryRow(ctx, completeCall, id, at))
}

func (r *CallRepo) scanOne(row pgx.Row) (*model.Call, error) {
	var (
		c      model.Call
		status string
		kind   string
	)
	err := row.Scan(&c.ID, &c.CallerID, &c.ReceiverID, &status, &kind,
		&c.StartedAt, &c.EndedAt, &c.Duration, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	c.Status = model.CallStatus(status)
	c.Kind = model.CallKind(kind)
	return &c, nil
}
