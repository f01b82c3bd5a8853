package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pulseim/realtime/internal/errs"
	"github.com/pulseim/realtime/internal/presence"
	"github.com/pulseim/realtime/internal/protocol"
	"github.com/pulseim/realtime/internal/store"
)

// Reactions applies emoji-tag mutations to persisted messages and
// re-broadcasts the delta to all parties of the conversation.
type Reactions struct {
	messages store.MessageStore
	groups   store.GroupDirectory
	registry *presence.Registry
	logger   zerolog.Logger
	now      func() time.Time
}

// NewReactions wires the reaction aggregator.
func NewReactions(messages store.MessageStore, groups store.GroupDirectory, registry *presence.Registry, logger zerolog.Logger) *Reactions {
	return &Reactions{
		messages: messages,
		groups:   groups,
		registry: registry,
		logger:   logger.With().Str("component", "reactions").Logger(),
		now:      time.Now,
	}
}

// Add inserts the acting user into the tag's reacting set (duplicate adds
// are no-ops for persistence) and broadcasts the delta.
func (r *Reactions) Add(ctx context.Context, sess presence.Session, req protocol.ReactionRequest) {
	messageID, tag, ok := r.clean(req)
	if !ok {
		return
	}
	routing, _, err := r.messages.AddReaction(ctx, messageID, tag, sess.UserID())
	if err != nil {
		r.fail(err, messageID, "Reaction add failed")
		return
	}
	r.deliver(ctx, routing, protocol.EventReactionAdd, protocol.ReactionDelta{
		MessageID: messageID,
		UserID:    sess.UserID(),
		UserName:  sess.DisplayName(),
		Reaction:  tag,
		Timestamp: r.now(),
	})
}

// Remove deletes the acting user from the tag's set and broadcasts the delta.
func (r *Reactions) Remove(ctx context.Context, sess presence.Session, req protocol.ReactionRequest) {
	messageID, tag, ok := r.clean(req)
	if !ok {
		return
	}
	routing, _, err := r.messages.RemoveReaction(ctx, messageID, tag, sess.UserID())
	if err != nil {
		r.fail(err, messageID, "Reaction remove failed")
		return
	}
	r.deliver(ctx, routing, protocol.EventReactionRemove, protocol.ReactionDelta{
		MessageID: messageID,
		UserID:    sess.UserID(),
		Reaction:  tag,
	})
}

// clean validates and bounds the request fields. Invalid requests are
// dropped silently per the event contract.
func (r *Reactions) clean(req protocol.ReactionRequest) (messageID, tag string, ok bool) {
	messageID = strings.TrimSpace(req.MessageID)
	tag = strings.TrimSpace(truncate(req.Reaction, maxReactionLen))
	if messageID == "" || tag == "" {
		return "", "", false
	}
	return messageID, tag, true
}

// fail logs a mutation failure. An unknown message aborts silently at debug
// severity; anything else is an infrastructure error.
func (r *Reactions) fail(err error, messageID, msg string) {
	if errors.Is(err, errs.ErrNotFound) {
		r.logger.Debug().Str("message_id", messageID).Msg("Reaction target not found")
		return
	}
	r.logger.Error().Err(err).Str("message_id", messageID).Msg(msg)
}

// deliver routes a delta to every party of the conversation: all current
// group members for a group message, otherwise the message's sender and
// receiver. Only live sessions receive anything.
func (r *Reactions) deliver(ctx context.Context, routing store.Routing, event string, delta protocol.ReactionDelta) {
	data, err := protocol.Marshal(event, delta)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to encode reaction delta")
		return
	}

	if routing.GroupID != "" {
		members, err := r.groups.MemberIDs(ctx, routing.GroupID)
		if err != nil {
			r.logger.Error().Err(err).Str("group_id", routing.GroupID).Msg("Group membership lookup failed")
			return
		}
		for _, member := range members {
			if dest, ok := r.registry.Lookup(member); ok {
				dest.Enqueue(data)
			}
		}
		return
	}

	targets := []string{routing.SenderID}
	if routing.ReceiverID != "" && routing.ReceiverID != routing.SenderID {
		targets = append(targets, routing.ReceiverID)
	}
	for _, target := range targets {
		if dest, ok := r.registry.Lookup(target); ok {
			dest.Enqueue(data)
		}
	}
}
