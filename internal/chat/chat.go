// Package chat implements the realtime core components: message fanout,
// reaction aggregation and call signaling. Components validate at the
// boundary, persist through the store collaborators and route through the
// presence registry. No lock is held across a store call.
package chat

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/pulseim/realtime/internal/model"
	"github.com/pulseim/realtime/internal/presence"
	"github.com/pulseim/realtime/internal/protocol"
)

// Bounds applied at the event boundary.
const (
	maxContentLen  = 4000
	maxReplyName   = 80
	maxSnippetLen  = 400
	maxReactionLen = 32
	historyLimit   = 100
)

// Publisher receives fire-and-forget copies of persisted state changes for
// external consumers (push dispatch, cross-process fanout). Implementations
// must never block.
type Publisher interface {
	MessageCreated(m *model.Message)
	CallUpdated(c *model.Call)
}

// NopPublisher discards all notifications.
type NopPublisher struct{}

func (NopPublisher) MessageCreated(*model.Message) {}
func (NopPublisher) CallUpdated(*model.Call)       {}

// truncate caps s at n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// emit marshals an event and offers it to a session's send buffer.
func emit(logger zerolog.Logger, sess presence.Session, event string, payload any) {
	data, err := protocol.Marshal(event, payload)
	if err != nil {
		logger.Error().Err(err).Str("event", event).Msg("Failed to encode outbound event")
		return
	}
	if !sess.Enqueue(data) {
		logger.Debug().
			Str("event", event).
			Str("user_id", sess.UserID()).
			Msg("Emit dropped: session buffer full")
	}
}

// emitError sends an error notice to the originating session only.
func emitError(logger zerolog.Logger, sess presence.Session, event, code, msg string) {
	emit(logger, sess, protocol.EventError, protocol.ErrorNotice{
		Event:   event,
		Code:    code,
		Message: msg,
	})
}

// cleanReplyRef returns a bounded copy of ref when all three fields are
// present after trimming, nil otherwise. A reply-reference is stored whole
// or not at all.
func cleanReplyRef(ref *model.ReplyRef) *model.ReplyRef {
	if ref == nil {
		return nil
	}
	id := strings.TrimSpace(ref.MessageID)
	name := strings.TrimSpace(truncate(ref.SenderName, maxReplyName))
	snippet := strings.TrimSpace(truncate(ref.Snippet, maxSnippetLen))
	if id == "" || name == "" || snippet == "" {
		return nil
	}
	return &model.ReplyRef{MessageID: id, SenderName: name, Snippet: snippet}
}
