package chat

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pulseim/realtime/internal/errs"
	"github.com/pulseim/realtime/internal/model"
	"github.com/pulseim/realtime/internal/protocol"
	"github.com/pulseim/realtime/internal/store"
)

type fakeSession struct {
	id     int64
	userID string
	name   string

	mu   sync.Mutex
	sent [][]byte
}

func (f *fakeSession) ID() int64           { return f.id }
func (f *fakeSession) UserID() string      { return f.userID }
func (f *fakeSession) DisplayName() string { return f.name }

func (f *fakeSession) Enqueue(data []byte) bool {
	f.mu.Lock()
	f.sent = append(f.sent, data)
	f.mu.Unlock()
	return true
}

// envelopes decodes everything the session received.
func (f *fakeSession) envelopes(t *testing.T) []protocol.Envelope {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.Envelope, 0, len(f.sent))
	for _, raw := range f.sent {
		var env protocol.Envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		out = append(out, env)
	}
	return out
}

func (f *fakeSession) eventNames(t *testing.T) []string {
	t.Helper()
	envs := f.envelopes(t)
	names := make([]string, len(envs))
	for i, env := range envs {
		names[i] = env.Event
	}
	return names
}

func (f *fakeSession) countEvent(t *testing.T, name string) int {
	t.Helper()
	n := 0
	for _, ev := range f.eventNames(t) {
		if ev == name {
			n++
		}
	}
	return n
}

type fakeMessageStore struct {
	mu       sync.Mutex
	messages []*model.Message
	failNext error
}

func (s *fakeMessageStore) byID(id string) *model.Message {
	for _, m := range s.messages {
		if m.ID == id {
			return m
		}
	}
	return nil
}

func (s *fakeMessageStore) Create(ctx context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}
	cp := *m
	s.messages = append(s.messages, &cp)
	return nil
}

func (s *fakeMessageStore) HistoryGroup(ctx context.Context, groupID string, limit int) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Message
	for _, m := range s.messages {
		if m.GroupID == groupID && len(out) < limit {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (s *fakeMessageStore) HistoryDirect(ctx context.Context, a, b string, limit int) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Message
	for _, m := range s.messages {
		direct := (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
		if direct && !m.Private && len(out) < limit {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (s *fakeMessageStore) MarkRead(ctx context.Context, senderID, receiverID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.messages {
		if m.SenderID == senderID && m.ReceiverID == receiverID && !m.Read {
			m.Read = true
			n++
		}
	}
	return n, nil
}

func (s *fakeMessageStore) AddReaction(ctx context.Context, messageID, tag, userID string) (store.Routing, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.byID(messageID)
	if m == nil {
		return store.Routing{}, false, errs.ErrNotFound
	}
	if m.Reactions == nil {
		m.Reactions = make(map[string][]string)
	}
	changed := store.ApplyAdd(m.Reactions, tag, userID)
	return store.Routing{SenderID: m.SenderID, ReceiverID: m.ReceiverID, GroupID: m.GroupID}, changed, nil
}

func (s *fakeMessageStore) RemoveReaction(ctx context.Context, messageID, tag, userID string) (store.Routing, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.byID(messageID)
	if m == nil {
		return store.Routing{}, false, errs.ErrNotFound
	}
	if m.Reactions == nil {
		m.Reactions = make(map[string][]string)
	}
	changed := store.ApplyRemove(m.Reactions, tag, userID)
	return store.Routing{SenderID: m.SenderID, ReceiverID: m.ReceiverID, GroupID: m.GroupID}, changed, nil
}

type fakeCallStore struct {
	mu    sync.Mutex
	calls map[string]*model.Call
}

func newFakeCallStore() *fakeCallStore {
	return &fakeCallStore{calls: make(map[string]*model.Call)}
}

func (s *fakeCallStore) Create(ctx context.Context, c *model.Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.calls[c.ID] = &cp
	return nil
}

func (s *fakeCallStore) update(id string, f func(*model.Call)) (*model.Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	f(c)
	cp := *c
	return &cp, nil
}

func (s *fakeCallStore) Accept(ctx context.Context, id string, at time.Time) (*model.Call, error) {
	return s.update(id, func(c *model.Call) {
		c.Status = model.CallOngoing
		c.StartedAt = &at
	})
}

func (s *fakeCallStore) Reject(ctx context.Context, id string, at time.Time) (*model.Call, error) {
	return s.update(id, func(c *model.Call) {
		c.Status = model.CallRejected
		c.EndedAt = &at
	})
}

func (s *fakeCallStore) Complete(ctx context.Context, id string, at time.Time) (*model.Call, error) {
	return s.update(id, func(c *model.Call) {
		c.Status = model.CallCompleted
		c.EndedAt = &at
		if c.StartedAt != nil {
			c.Duration = at.Sub(*c.StartedAt).Milliseconds()
		}
	})
}

type fakeDirectory struct {
	users map[string]*model.User
}

func (d *fakeDirectory) Get(ctx context.Context, id string) (*model.User, error) {
	u, ok := d.users[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (d *fakeDirectory) SetOnline(ctx context.Context, id string, online bool, at time.Time) error {
	return nil
}

type fakeGroups struct {
	members map[string][]string
}

func (g *fakeGroups) MemberIDs(ctx context.Context, groupID string) ([]string, error) {
	return g.members[groupID], nil
}

type capturedBus struct {
	mu       sync.Mutex
	messages []*model.Message
	calls    []*model.Call
}

func (b *capturedBus) MessageCreated(m *model.Message) {
	b.mu.Lock()
	b.messages = append(b.messages, m)
	b.mu.Unlock()
}

func (b *capturedBus) CallUpdated(c *model.Call) {
	b.mu.Lock()
	b.calls = append(b.calls, c)
	b.mu.Unlock()
}
