package chat

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/pulseim/realtime/internal/model"
	"github.com/pulseim/realtime/internal/presence"
	"github.com/pulseim/realtime/internal/protocol"
)

func newTestReactions(groups *fakeGroups) (*Reactions, *fakeMessageStore, *presence.Registry) {
	if groups == nil {
		groups = &fakeGroups{members: map[string][]string{}}
	}
	msgs := &fakeMessageStore{}
	reg := presence.NewRegistry(nil, nil, zerolog.Nop())
	return NewReactions(msgs, groups, reg, zerolog.Nop()), msgs, reg
}

func seedMessage(msgs *fakeMessageStore, m model.Message) {
	msgs.mu.Lock()
	defer msgs.mu.Unlock()
	cp := m
	msgs.messages = append(msgs.messages, &cp)
}

func TestReactions_AddIsIdempotent(t *testing.T) {
	r, msgs, reg := newTestReactions(nil)
	alice := &fakeSession{id: 1, userID: "alice", name: "Alice"}
	reg.Attach(alice)
	seedMessage(msgs, model.Message{ID: "m1", SenderID: "alice", ReceiverID: "bob"})

	req := protocol.ReactionRequest{MessageID: "m1", Reaction: "👍"}
	r.Add(context.Background(), alice, req)
	r.Add(context.Background(), alice, req)
	r.Add(context.Background(), alice, req)

	require.Len(t, msgs.byID("m1").Reactions["👍"], 1)
}

func TestReactions_AddDeliversToBothDirectParties(t *testing.T) {
	r, msgs, reg := newTestReactions(nil)
	alice := &fakeSession{id: 1, userID: "alice", name: "Alice"}
	bob := &fakeSession{id: 2, userID: "bob"}
	reg.Attach(alice)
	reg.Attach(bob)
	seedMessage(msgs, model.Message{ID: "m1", SenderID: "alice", ReceiverID: "bob"})

	r.Add(context.Background(), bob, protocol.ReactionRequest{MessageID: "m1", Reaction: "🔥"})

	require.Equal(t, 1, alice.countEvent(t, protocol.EventReactionAdd))
	require.Equal(t, 1, bob.countEvent(t, protocol.EventReactionAdd))

	var delta protocol.ReactionDelta
	for _, env := range alice.envelopes(t) {
		if env.Event == protocol.EventReactionAdd {
			require.NoError(t, json.Unmarshal(env.Data, &delta))
		}
	}
	require.Equal(t, "bob", delta.UserID)
	require.Equal(t, "🔥", delta.Reaction)
	require.False(t, delta.Timestamp.IsZero())
}

func TestReactions_GroupDeliversToAllLiveMembers(t *testing.T) {
	groups := &fakeGroups{members: map[string][]string{"g1": {"alice", "bob", "carol"}}}
	r, msgs, reg := newTestReactions(groups)
	alice := &fakeSession{id: 1, userID: "alice"}
	bob := &fakeSession{id: 2, userID: "bob"}
	reg.Attach(alice)
	reg.Attach(bob) // carol offline
	seedMessage(msgs, model.Message{ID: "m1", SenderID: "alice", GroupID: "g1"})

	r.Add(context.Background(), alice, protocol.ReactionRequest{MessageID: "m1", Reaction: "👍"})

	require.Equal(t, 1, alice.countEvent(t, protocol.EventReactionAdd))
	require.Equal(t, 1, bob.countEvent(t, protocol.EventReactionAdd))
}

func TestReactions_RemoveClearsMembership(t *testing.T) {
	r, msgs, reg := newTestReactions(nil)
	alice := &fakeSession{id: 1, userID: "alice"}
	reg.Attach(alice)
	seedMessage(msgs, model.Message{
		ID: "m1", SenderID: "alice", ReceiverID: "bob",
		Reactions: map[string][]string{"👍": {"alice"}},
	})

	r.Remove(context.Background(), alice, protocol.ReactionRequest{MessageID: "m1", Reaction: "👍"})

	_, ok := msgs.byID("m1").Reactions["👍"]
	require.False(t, ok)
	require.Equal(t, 1, alice.countEvent(t, protocol.EventReactionRemove))
}

func TestReactions_UnknownMessageAbortsSilently(t *testing.T) {
	r, _, reg := newTestReactions(nil)
	alice := &fakeSession{id: 1, userID: "alice"}
	reg.Attach(alice)
	before := len(alice.eventNames(t))

	r.Add(context.Background(), alice, protocol.ReactionRequest{MessageID: "nope", Reaction: "👍"})

	require.Len(t, alice.eventNames(t), before)
}

func TestReactions_InvalidRequestDroppedSilently(t *testing.T) {
	r, msgs, reg := newTestReactions(nil)
	alice := &fakeSession{id: 1, userID: "alice"}
	reg.Attach(alice)
	seedMessage(msgs, model.Message{ID: "m1", SenderID: "alice", ReceiverID: "bob"})
	before := len(alice.eventNames(t))

	r.Add(context.Background(), alice, protocol.ReactionRequest{MessageID: "m1", Reaction: "   "})
	r.Add(context.Background(), alice, protocol.ReactionRequest{Reaction: "👍"})

	require.Len(t, alice.eventNames(t), before)
	require.Empty(t, msgs.byID("m1").Reactions)
}

func TestReactions_TagIsCapped(t *testing.T) {
	r, msgs, reg := newTestReactions(nil)
	alice := &fakeSession{id: 1, userID: "alice"}
	reg.Attach(alice)
	seedMessage(msgs, model.Message{ID: "m1", SenderID: "alice", ReceiverID: "bob"})

	r.Add(context.Background(), alice, protocol.ReactionRequest{
		MessageID: "m1",
		Reaction:  strings.Repeat("x", 100),
	})

	m := msgs.byID("m1")
	require.Len(t, m.Reactions, 1)
	for tag := range m.Reactions {
		require.Len(t, tag, 32)
	}
}
