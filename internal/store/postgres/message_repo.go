package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pulseim/realtime/internal/errs"
	"github.com/pulseim/realtime/internal/model"
	"github.com/pulseim/realtime/internal/store"
)

// MessageRepo implements store.MessageStore on PostgreSQL. Reactions live in
// a JSONB column mutated under row lock to keep set semantics atomic.
type MessageRepo struct{ db *DB }

// NewMessageRepo constructs a message repository.
func NewMessageRepo(db *DB) *MessageRepo { return &MessageRepo{db: db} }

const insertMessage = `INSERT INTO messages (id, sender_id, receiver_id, group_id, content, kind, is_read, is_private, reply_to_id, reply_to_sender, reply_to_snippet, reactions, created_at) VALUES ($1,$2,$3,$4,$5,$6,false,$7,$8,$9,$10,'{}',$11)`

// Create persists a new message.
func (r *MessageRepo) Create(ctx context.Context, m *model.Message) error {
	var receiverID, groupID any
	if m.ReceiverID != "" {
		receiverID = m.ReceiverID
	}
	if m.GroupID != "" {
		groupID = m.GroupID
	}
	var replyID, replySender, replySnippet any
	if m.ReplyTo != nil {
		replyID = m.ReplyTo.MessageID
		replySender = m.ReplyTo.SenderName
		replySnippet = m.ReplyTo.Snippet
	}
	_, err := r.db.Pool.Exec(ctx, insertMessage,
		m.ID, m.SenderID, receiverID, groupID, m.Content, string(m.Kind),
		m.Private, replyID, replySender, replySnippet, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

const selectMessage = `
SELECT m.id, m.sender_id, COALESCE(u.name,''), COALESCE(u.pic,''),
       COALESCE(m.receiver_id,''), COALESCE(m.group_id,''),
       m.content, m.kind, m.is_read, m.is_private,
       m.reply_to_id, m.reply_to_sender, m.reply_to_snippet,
       m.reactions, m.created_at
FROM messages m LEFT JOIN users u ON u.id = m.sender_id`

// HistoryGroup returns a group's messages, oldest first, capped at limit.
func (r *MessageRepo) HistoryGroup(ctx context.Context, groupID string, limit int) ([]model.Message, error) {
	q := selectMessage + `
WHERE m.group_id=$1
ORDER BY m.created_at ASC LIMIT $2`
	rows, err := r.db.Pool.Query(ctx, q, groupID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

// HistoryDirect returns non-private messages between two users in either
// direction, oldest first, capped at limit.
func (r *MessageRepo) HistoryDirect(ctx context.Context, userA, userB string, limit int) ([]model.Message, error) {
	q := selectMessage + `
WHERE ((m.sender_id=$1 AND m.receiver_id=$2) OR (m.sender_id=$2 AND m.receiver_id=$1))
  AND m.is_private=false
ORDER BY m.created_at ASC LIMIT $3`
	rows, err := r.db.Pool.Query(ctx, q, userA, userB, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows pgx.Rows) ([]model.Message, error) {
	var out []model.Message
	for rows.Next() {
		var (
			m             model.Message
			kind          string
			replyID       *string
			replySender   *string
			replySnippet  *string
			reactionsJSON []byte
		)
		if err := rows.Scan(
			&m.ID, &m.SenderID, &m.SenderName, &m.SenderPic,
			&m.ReceiverID, &m.GroupID, &m.Content, &kind, &m.Read, &m.Private,
			&replyID, &replySender, &replySnippet, &reactionsJSON, &m.CreatedAt,
		); err != nil {
			return nil, err
		}
		m.Kind = model.MessageKind(kind)
		if replyID != nil && replySender != nil && replySnippet != nil {
			m.ReplyTo = &model.ReplyRef{MessageID: *replyID, SenderName: *replySender, Snippet: *replySnippet}
		}
		if len(reactionsJSON) > 0 {
			reactions := make(map[string][]string)
			if err := json.Unmarshal(reactionsJSON, &reactions); err != nil {
				return nil, fmt.Errorf("decode reactions: %w", err)
			}
			if len(reactions) > 0 {
				m.Reactions = reactions
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

const markRead = `UPDATE messages SET is_read=true WHERE sender_id=$1 AND receiver_id=$2 AND is_read=false`

// MarkRead flips all unread messages from senderID to receiverID to read.
func (r *MessageRepo) MarkRead(ctx context.Context, senderID, receiverID string) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, markRead, senderID, receiverID)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return tag.RowsAffected(), nil
}

// AddReaction inserts userID into the tag's reacting set.
func (r *MessageRepo) AddReaction(ctx context.Context, messageID, tag, userID string) (store.Routing, bool, error) {
	return r.mutateReactions(ctx, messageID, func(reactions map[string][]string) bool {
		return store.ApplyAdd(reactions, tag, userID)
	})
}

// RemoveReaction deletes userID from the tag's set.
func (r *MessageRepo) RemoveReaction(ctx context.Context, messageID, tag, userID string) (store.Routing, bool, error) {
	return r.mutateReactions(ctx, messageID, func(reactions map[string][]string) bool {
		return store.ApplyRemove(reactions, tag, userID)
	})
}

const selectRouting = `SELECT sender_id, COALESCE(receiver_id,''), COALESCE(group_id,''), reactions FROM messages WHERE id=$1 FOR UPDATE`
const updateReactions = `UPDATE messages SET reactions=$2 WHERE id=$1`

// mutateReactions applies one set mutation under row lock. The unchanged
// fast path skips the write.
func (r *MessageRepo) mutateReactions(
	ctx context.Context, messageID string, apply func(map[string][]string) bool,
) (routing store.Routing, changed bool, err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return store.Routing{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	var reactionsJSON []byte
	row := tx.QueryRow(ctx, selectRouting, messageID)
	if err = row.Scan(&routing.SenderID, &routing.ReceiverID, &routing.GroupID, &reactionsJSON); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = errs.ErrNotFound
		}
		return store.Routing{}, false, err
	}

	reactions := make(map[string][]string)
	if len(reactionsJSON) > 0 {
		if err = json.Unmarshal(reactionsJSON, &reactions); err != nil {
			return store.Routing{}, false, fmt.Errorf("decode reactions: %w", err)
		}
	}
	if changed = apply(reactions); !changed {
		return routing, false, nil
	}

	encoded, err := json.Marshal(reactions)
	if err != nil {
		return store.Routing{}, false, fmt.Errorf("encode reactions: %w", err)
	}
	if _, err = tx.Exec(ctx, updateReactions, messageID, encoded); err != nil {
		return store.Routing{}, false, err
	}
	return routing, true, nil
}
