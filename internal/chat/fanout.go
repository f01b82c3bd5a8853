package chat

import (
	"context"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/rs/zerolog"

	"github.com/pulseim/realtime/internal/model"
	"github.com/pulseim/realtime/internal/presence"
	"github.com/pulseim/realtime/internal/protocol"
	"github.com/pulseim/realtime/internal/store"
)

// Fanout validates, persists and routes chat messages, and relays typing
// notices to the same destinations.
type Fanout struct {
	messages store.MessageStore
	groups   store.GroupDirectory
	users    store.UserDirectory
	registry *presence.Registry
	bus      Publisher
	logger   zerolog.Logger
	now      func() time.Time
	newID    func() string
}

// NewFanout wires the fanout engine. A nil bus disables publishing.
func NewFanout(messages store.MessageStore, groups store.GroupDirectory, users store.UserDirectory, registry *presence.Registry, bus Publisher, logger zerolog.Logger) *Fanout {
	if bus == nil {
		bus = NopPublisher{}
	}
	return &Fanout{
		messages: messages,
		groups:   groups,
		users:    users,
		registry: registry,
		bus:      bus,
		logger:   logger.With().Str("component", "fanout").Logger(),
		now:      time.Now,
		newID:    func() string { return uuid.Must(uuid.NewV4()).String() },
	}
}

// Send persists one message and routes it: to the receiver's live session
// for a direct message, to every live member except the sender for a group
// message. The sender always gets a "message:sent" confirmation carrying the
// persisted message, regardless of recipient liveness.
func (f *Fanout) Send(ctx context.Context, sess presence.Session, req protocol.SendRequest) {
	content := strings.TrimSpace(truncate(req.Content, maxContentLen))
	if content == "" {
		emitError(f.logger, sess, protocol.EventMessageSend, protocol.CodeInvalid, "message content is empty")
		return
	}
	receiverID := strings.TrimSpace(req.ReceiverID)
	groupID := strings.TrimSpace(req.GroupID)
	if receiverID == "" && groupID == "" {
		emitError(f.logger, sess, protocol.EventMessageSend, protocol.CodeInvalid, "either receiverId or groupId is required")
		return
	}
	// A direct receiver wins when both are present.
	if receiverID != "" {
		groupID = ""
	}

	kind := model.MessageKind(req.Kind)
	if !kind.Valid() {
		kind = model.MessageText
	}

	senderName, senderPic := f.senderProfile(ctx, sess)

	msg := &model.Message{
		ID:         f.newID(),
		SenderID:   sess.UserID(),
		SenderName: senderName,
		SenderPic:  senderPic,
		ReceiverID: receiverID,
		GroupID:    groupID,
		Content:    content,
		Kind:       kind,
		Private:    req.Private,
		ReplyTo:    cleanReplyRef(req.ReplyTo),
		CreatedAt:  f.now(),
	}

	if err := f.messages.Create(ctx, msg); err != nil {
		f.logger.Error().
			Err(err).
			Str("sender_id", msg.SenderID).
			Str("group_id", groupID).
			Msg("Message persist failed")
		emitError(f.logger, sess, protocol.EventMessageSend, protocol.CodeInternal, "failed to store message")
		return
	}

	receive, err := protocol.Marshal(protocol.EventMessageReceive, msg)
	if err != nil {
		f.logger.Error().Err(err).Msg("Failed to encode message")
	} else if groupID != "" {
		f.deliverGroup(ctx, groupID, msg.SenderID, receive)
	} else if dest, ok := f.registry.Lookup(receiverID); ok {
		if !dest.Enqueue(receive) {
			f.logger.Debug().Str("receiver_id", receiverID).Msg("Delivery dropped: buffer full")
		}
	}

	emit(f.logger, sess, protocol.EventMessageSent, msg)
	f.bus.MessageCreated(msg)
}

// senderProfile resolves the sender's display name and picture from the
// directory so live deliveries carry the same profile fields a history load
// would. Falls back to the token's display name when the lookup fails.
func (f *Fanout) senderProfile(ctx context.Context, sess presence.Session) (name, pic string) {
	u, err := f.users.Get(ctx, sess.UserID())
	if err != nil {
		f.logger.Debug().
			Err(err).
			Str("user_id", sess.UserID()).
			Msg("Sender profile lookup failed")
		return sess.DisplayName(), ""
	}
	return u.Name, u.Pic
}

// deliverGroup routes data to every live member of a group except the
// sender. Members without a live session receive nothing from this core.
func (f *Fanout) deliverGroup(ctx context.Context, groupID, senderID string, data []byte) {
	members, err := f.groups.MemberIDs(ctx, groupID)
	if err != nil {
		f.logger.Error().Err(err).Str("group_id", groupID).Msg("Group membership lookup failed")
		return
	}
	for _, member := range members {
		if member == senderID {
			continue
		}
		if dest, ok := f.registry.Lookup(member); ok {
			if !dest.Enqueue(data) {
				f.logger.Debug().Str("member_id", member).Msg("Group delivery dropped: buffer full")
			}
		}
	}
}

// History answers messages:get with up to 100 messages, oldest first, sent
// back to the requestor only. With neither id present nothing is emitted.
func (f *Fanout) History(ctx context.Context, sess presence.Session, req protocol.HistoryRequest) {
	groupID := strings.TrimSpace(req.GroupID)
	otherID := strings.TrimSpace(req.OtherUserID)

	var (
		msgs []model.Message
		err  error
	)
	switch {
	case groupID != "":
		msgs, err = f.messages.HistoryGroup(ctx, groupID, historyLimit)
	case otherID != "":
		msgs, err = f.messages.HistoryDirect(ctx, sess.UserID(), otherID, historyLimit)
	default:
		return
	}
	if err != nil {
		f.logger.Error().
			Err(err).
			Str("user_id", sess.UserID()).
			Str("group_id", groupID).
			Msg("History query failed")
		emitError(f.logger, sess, protocol.EventMessagesGet, protocol.CodeInternal, "failed to load history")
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	emit(f.logger, sess, protocol.EventMessageHistory, msgs)
}

// MarkRead flips all unread messages from req.SenderID to the requestor,
// then notifies the other party's live session that the requestor has read
// the conversation. The notice goes out even when no rows flipped, so a
// re-read still refreshes the counterpart's view.
func (f *Fanout) MarkRead(ctx context.Context, sess presence.Session, req protocol.ReadRequest) {
	otherID := strings.TrimSpace(req.SenderID)
	if otherID == "" {
		return
	}
	if _, err := f.messages.MarkRead(ctx, otherID, sess.UserID()); err != nil {
		f.logger.Error().
			Err(err).
			Str("reader_id", sess.UserID()).
			Str("sender_id", otherID).
			Msg("Mark read failed")
		return
	}
	if dest, ok := f.registry.Lookup(otherID); ok {
		emit(f.logger, dest, protocol.EventMessageRead, protocol.ReadNotice{ReaderID: sess.UserID()})
	}
}

// Typing relays a typing:start / typing:stop notice to the same destinations
// a message would reach. Nothing is persisted.
func (f *Fanout) Typing(ctx context.Context, sess presence.Session, event string, req protocol.TypingNotice) {
	notice := protocol.TypingNotice{
		SenderID:   sess.UserID(),
		ReceiverID: strings.TrimSpace(req.ReceiverID),
		GroupID:    strings.TrimSpace(req.GroupID),
	}
	if notice.ReceiverID == "" && notice.GroupID == "" {
		return
	}
	data, err := protocol.Marshal(event, notice)
	if err != nil {
		f.logger.Error().Err(err).Msg("Failed to encode typing notice")
		return
	}
	if notice.ReceiverID != "" {
		if dest, ok := f.registry.Lookup(notice.ReceiverID); ok {
			dest.Enqueue(data)
		}
		return
	}
	f.deliverGroup(ctx, notice.GroupID, sess.UserID(), data)
}
