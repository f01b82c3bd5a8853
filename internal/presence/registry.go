// Package presence maintains the bidirectional mapping between user identity
// and live connection, and is the single routing authority for emits.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pulseim/realtime/internal/protocol"
	"github.com/pulseim/realtime/internal/store"
)

// Session is the routable handle of one live connection. Implemented by the
// transport client; kept as an interface so the registry and everything above
// it can be tested without a live transport.
type Session interface {
	ID() int64
	UserID() string
	DisplayName() string
	// Enqueue offers data to the session's send buffer without blocking.
	Enqueue(data []byte) bool
}

// Registry maps user id → live session, at most one per user. In-memory
// state is authoritative for routing; the durable online flag is mirrored
// asynchronously and best-effort.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]Session
	byConn map[int64]string

	directory store.UserDirectory
	submit    func(func())
	logger    zerolog.Logger
	now       func() time.Time
}

// NewRegistry creates a registry. submit schedules best-effort background
// work (the directory mirror); a nil submit runs mirror writes inline.
func NewRegistry(directory store.UserDirectory, submit func(func()), logger zerolog.Logger) *Registry {
	if submit == nil {
		submit = func(f func()) { f() }
	}
	return &Registry{
		byUser:    make(map[string]Session),
		byConn:    make(map[int64]string),
		directory: directory,
		submit:    submit,
		logger:    logger.With().Str("component", "presence").Logger(),
		now:       time.Now,
	}
}

// Attach records sess as the live connection for its user, replacing any
// prior session (last-writer-wins). Returns the evicted session, if any, so
// the transport can close it. Mirrors the online flag and broadcasts a
// "user:online" notice to all other sessions.
func (r *Registry) Attach(sess Session) Session {
	uid := sess.UserID()

	r.mu.Lock()
	evicted := r.byUser[uid]
	if evicted != nil {
		delete(r.byConn, evicted.ID())
	}
	r.byUser[uid] = sess
	r.byConn[sess.ID()] = uid
	r.mu.Unlock()

	if evicted != nil {
		r.logger.Info().
			Str("user_id", uid).
			Int64("old_conn", evicted.ID()).
			Int64("new_conn", sess.ID()).
			Msg("Prior session evicted by new attach")
	}

	r.mirrorOnline(uid, true)
	r.notifyOthers(sess, protocol.EventUserOnline, uid, sess.DisplayName())
	return evicted
}

// Lookup returns the live session for a user id.
func (r *Registry) Lookup(userID string) (Session, bool) {
	r.mu.RLock()
	sess, ok := r.byUser[userID]
	r.mu.RUnlock()
	return sess, ok
}

// Detach removes sess from the registry. Only when sess is still the active
// mapping for its user does the user go offline: the durable flag is
// mirrored and exactly one "user:offline" notice is broadcast. A session
// that was already evicted by a newer attach detaches silently.
func (r *Registry) Detach(sess Session) {
	r.mu.Lock()
	uid, ok := r.byConn[sess.ID()]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.byConn, sess.ID())
	if r.byUser[uid] != sess {
		r.mu.Unlock()
		return
	}
	delete(r.byUser, uid)
	r.mu.Unlock()

	r.mirrorOnline(uid, false)
	r.notifyOthers(sess, protocol.EventUserOffline, uid, "")
}

// Broadcast enqueues data to every session except the given one. A nil
// except reaches everyone.
func (r *Registry) Broadcast(except Session, data []byte) {
	r.mu.RLock()
	targets := make([]Session, 0, len(r.byUser))
	for _, sess := range r.byUser {
		if sess != except {
			targets = append(targets, sess)
		}
	}
	r.mu.RUnlock()

	for _, sess := range targets {
		if !sess.Enqueue(data) {
			r.logger.Debug().
				Str("user_id", sess.UserID()).
				Msg("Broadcast dropped: session buffer full")
		}
	}
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

func (r *Registry) notifyOthers(origin Session, event, userID, name string) {
	data, err := protocol.Marshal(event, protocol.PresenceNotice{
		UserID: userID,
		Name:   name,
		At:     r.now(),
	})
	if err != nil {
		r.logger.Error().Err(err).Str("event", event).Msg("Failed to encode presence notice")
		return
	}
	r.Broadcast(origin, data)
}

// mirrorOnline pushes the flag to the durable directory off the event path.
// Registry state stays authoritative; a mirror failure is logged and dropped.
func (r *Registry) mirrorOnline(userID string, online bool) {
	if r.directory == nil {
		return
	}
	at := r.now()
	r.submit(func() {
		if err := r.directory.SetOnline(context.Background(), userID, online, at); err != nil {
			r.logger.Warn().
				Err(err).
				Str("user_id", userID).
				Bool("online", online).
				Msg("Online flag mirror failed")
		}
	})
}
