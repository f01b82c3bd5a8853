package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/rs/zerolog"

	"github.com/pulseim/realtime/internal/errs"
	"github.com/pulseim/realtime/internal/model"
	"github.com/pulseim/realtime/internal/presence"
	"github.com/pulseim/realtime/internal/protocol"
	"github.com/pulseim/realtime/internal/store"
)

// Calls manages the call lifecycle and blind-relays signaling payloads.
// Persistence errors surface as a best-effort "call:error" to the
// originating session only; nothing is retried.
type Calls struct {
	calls    store.CallStore
	registry *presence.Registry
	bus      Publisher
	logger   zerolog.Logger
	now      func() time.Time
	newID    func() string
}

// NewCalls wires the call signaling relay. A nil bus disables publishing.
func NewCalls(calls store.CallStore, registry *presence.Registry, bus Publisher, logger zerolog.Logger) *Calls {
	if bus == nil {
		bus = NopPublisher{}
	}
	return &Calls{
		calls:    calls,
		registry: registry,
		bus:      bus,
		logger:   logger.With().Str("component", "calls").Logger(),
		now:      time.Now,
		newID:    func() string { return uuid.Must(uuid.NewV4()).String() },
	}
}

// Start creates a call in the initiated state and notifies the receiver's
// live session. An offline receiver gets nothing, and the caller is not told
// the difference.
func (c *Calls) Start(ctx context.Context, sess presence.Session, req protocol.CallStartRequest) {
	receiverID := strings.TrimSpace(req.ReceiverID)
	if receiverID == "" {
		emitError(c.logger, sess, protocol.EventCallStart, protocol.CodeInvalid, "receiverId is required")
		return
	}
	kind := model.CallKind(req.Kind)
	if kind != model.CallAudio && kind != model.CallVideo {
		kind = model.CallAudio
	}

	call := &model.Call{
		ID:         c.newID(),
		CallerID:   sess.UserID(),
		ReceiverID: receiverID,
		Status:     model.CallInitiated,
		Kind:       kind,
		CreatedAt:  c.now(),
	}
	if err := c.calls.Create(ctx, call); err != nil {
		c.fail(sess, err, call.ID, "Call create failed")
		return
	}
	c.bus.CallUpdated(call)

	if dest, ok := c.registry.Lookup(receiverID); ok {
		emit(c.logger, dest, protocol.EventCallIncoming, protocol.CallNotice{
			Call:   call,
			UserID: sess.UserID(),
		})
	}
}

// Accept transitions initiated → ongoing, stamps the start time and notifies
// the caller.
func (c *Calls) Accept(ctx context.Context, sess presence.Session, req protocol.CallControlRequest) {
	c.transition(ctx, sess, req, protocol.EventCallAccepted, c.calls.Accept)
}

// Reject transitions to the terminal rejected state and notifies the caller.
func (c *Calls) Reject(ctx context.Context, sess presence.Session, req protocol.CallControlRequest) {
	c.transition(ctx, sess, req, protocol.EventCallRejected, c.calls.Reject)
}

// End transitions to completed, stamps the end time and notifies the
// counterpart when one was named and is live. Ending an unanswered call
// still completes it rather than leaving it initiated.
func (c *Calls) End(ctx context.Context, sess presence.Session, req protocol.CallControlRequest) {
	c.transition(ctx, sess, req, protocol.EventCallEnded, c.calls.Complete)
}

func (c *Calls) transition(
	ctx context.Context,
	sess presence.Session,
	req protocol.CallControlRequest,
	event string,
	apply func(context.Context, string, time.Time) (*model.Call, error),
) {
	callID := strings.TrimSpace(req.CallID)
	if callID == "" {
		emitError(c.logger, sess, event, protocol.CodeInvalid, "callId is required")
		return
	}
	call, err := apply(ctx, callID, c.now())
	if err != nil {
		c.fail(sess, err, callID, "Call transition failed")
		return
	}
	c.bus.CallUpdated(call)

	if target := strings.TrimSpace(req.TargetID); target != "" {
		if dest, ok := c.registry.Lookup(target); ok {
			emit(c.logger, dest, event, protocol.CallNotice{Call: call, UserID: sess.UserID()})
		}
	}
}

// Signal blind-relays an opaque payload plus the sender's id to the target's
// live session. Nothing is persisted; an offline target drops the signal.
func (c *Calls) Signal(sess presence.Session, req protocol.CallSignalRequest) {
	targetID := strings.TrimSpace(req.TargetID)
	if targetID == "" || len(req.Signal) == 0 {
		return
	}
	dest, ok := c.registry.Lookup(targetID)
	if !ok {
		return
	}
	emit(c.logger, dest, protocol.EventCallSignal, protocol.CallSignalRelay{
		SenderID: sess.UserID(),
		Signal:   req.Signal,
	})
}

// fail maps a store error: unknown call aborts silently at low severity,
// anything else is logged and surfaced as call:error to the originator.
func (c *Calls) fail(sess presence.Session, err error, callID, msg string) {
	if errors.Is(err, errs.ErrNotFound) {
		c.logger.Debug().Str("call_id", callID).Msg("Call not found")
		return
	}
	c.logger.Error().Err(err).Str("call_id", callID).Msg(msg)
	emit(c.logger, sess, protocol.EventCallError, protocol.ErrorNotice{
		Code:    protocol.CodeInternal,
		Message: "call update failed",
	})
}
