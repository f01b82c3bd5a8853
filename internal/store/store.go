// Package store declares the durable collaborator interfaces the core issues
// create/read/update operations against. Implementations live in subpackages.
package store

import (
	"context"
	"time"

	"github.com/pulseim/realtime/internal/model"
)

// Routing carries the minimal destination fields of a persisted message,
// enough to decide where a reaction delta goes without loading content.
type Routing struct {
	SenderID   string
	ReceiverID string
	GroupID    string
}

// MessageStore is the durable message collaborator.
type MessageStore interface {
	// Create persists a new message. m.ID and m.CreatedAt are set by the caller.
	Create(ctx context.Context, m *model.Message) error

	// HistoryGroup returns messages of a group conversation, oldest first,
	// capped at limit, sender profile fields populated.
	HistoryGroup(ctx context.Context, groupID string, limit int) ([]model.Message, error)

	// HistoryDirect returns non-private messages exchanged between two users
	// in either direction, oldest first, capped at limit.
	HistoryDirect(ctx context.Context, userA, userB string, limit int) ([]model.Message, error)

	// MarkRead flips all unread messages from senderID to receiverID to read
	// and returns how many rows changed.
	MarkRead(ctx context.Context, senderID, receiverID string) (int64, error)

	// AddReaction inserts userID into the tag's reacting-user set with set
	// semantics. Returns the message routing and whether the set changed.
	// errs.ErrNotFound when the message does not exist.
	AddReaction(ctx context.Context, messageID, tag, userID string) (Routing, bool, error)

	// RemoveReaction deletes userID from the tag's set; an emptied set drops
	// the tag key entirely.
	RemoveReaction(ctx context.Context, messageID, tag, userID string) (Routing, bool, error)
}

// CallStore is the durable call collaborator.
type CallStore interface {
	Create(ctx context.Context, c *model.Call) error

	// Accept transitions initiated → ongoing and stamps the start time.
	Accept(ctx context.Context, id string, at time.Time) (*model.Call, error)

	// Reject transitions to the terminal rejected state and stamps the end time.
	Reject(ctx context.Context, id string, at time.Time) (*model.Call, error)

	// Complete transitions to completed, stamps the end time and computes the
	// duration from the start time when one was recorded.
	Complete(ctx context.Context, id string, at time.Time) (*model.Call, error)
}

// UserDirectory looks up profiles and mirrors the online flag.
type UserDirectory interface {
	Get(ctx context.Context, id string) (*model.User, error)
	SetOnline(ctx context.Context, id string, online bool, at time.Time) error
}

// GroupDirectory resolves group membership.
type GroupDirectory interface {
	MemberIDs(ctx context.Context, groupID string) ([]string, error)
}
