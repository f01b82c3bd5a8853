package server

import (
	"encoding/json"
	"time"

	"github.com/pulseim/realtime/internal/limits"
	"github.com/pulseim/realtime/internal/protocol"
)

// dispatch decodes one inbound frame and routes it to the owning component.
// Called synchronously from the client's read loop, which preserves
// per-connection event order.
func (s *Server) dispatch(c *Client, raw []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
		eventsMalformed.Inc()
		s.logger.Warn().
			Int64("client_id", c.id).
			Msg("Client sent invalid envelope")
		return
	}
	eventsReceived.WithLabelValues(env.Event).Inc()

	switch env.Event {
	case protocol.EventMessageSend:
		if !s.allow(c, env.Event, limits.BudgetMessageSend, true) {
			return
		}
		var req protocol.SendRequest
		if !s.decode(c, env, &req) {
			return
		}
		s.fanout.Send(s.ctx, c, req)

	case protocol.EventMessagesGet:
		if !s.allow(c, env.Event, limits.BudgetHistory, true) {
			return
		}
		var req protocol.HistoryRequest
		if !s.decode(c, env, &req) {
			return
		}
		s.fanout.History(s.ctx, c, req)

	case protocol.EventMessagesRead:
		var req protocol.ReadRequest
		if !s.decode(c, env, &req) {
			return
		}
		s.fanout.MarkRead(s.ctx, c, req)

	case protocol.EventTypingStart, protocol.EventTypingStop:
		// Over-budget typing notices are dropped silently; they are
		// ephemeral and an error event would just add traffic. Each
		// event name draws from its own window.
		if !s.allow(c, env.Event, limits.BudgetTyping, false) {
			return
		}
		var req protocol.TypingNotice
		if !s.decode(c, env, &req) {
			return
		}
		s.fanout.Typing(s.ctx, c, env.Event, req)

	case protocol.EventReactionAdd:
		if !s.allow(c, env.Event, limits.BudgetReaction, false) {
			return
		}
		var req protocol.ReactionRequest
		if !s.decode(c, env, &req) {
			return
		}
		s.reactions.Add(s.ctx, c, req)

	case protocol.EventReactionRemove:
		if !s.allow(c, env.Event, limits.BudgetReaction, false) {
			return
		}
		var req protocol.ReactionRequest
		if !s.decode(c, env, &req) {
			return
		}
		s.reactions.Remove(s.ctx, c, req)

	case protocol.EventCallStart:
		var req protocol.CallStartRequest
		if !s.decode(c, env, &req) {
			return
		}
		s.calls.Start(s.ctx, c, req)

	case protocol.EventCallAccept:
		var req protocol.CallControlRequest
		if !s.decode(c, env, &req) {
			return
		}
		s.calls.Accept(s.ctx, c, req)

	case protocol.EventCallReject:
		var req protocol.CallControlRequest
		if !s.decode(c, env, &req) {
			return
		}
		s.calls.Reject(s.ctx, c, req)

	case protocol.EventCallEnd:
		var req protocol.CallControlRequest
		if !s.decode(c, env, &req) {
			return
		}
		s.calls.End(s.ctx, c, req)

	case protocol.EventCallSignal:
		var req protocol.CallSignalRequest
		if !s.decode(c, env, &req) {
			return
		}
		s.calls.Signal(c, req)

	case protocol.EventHeartbeat:
		if data, err := protocol.Marshal(protocol.EventPong, protocol.Pong{
			Timestamp: time.Now().UnixMilli(),
		}); err == nil {
			c.Enqueue(data)
		}

	default:
		s.logger.Warn().
			Int64("client_id", c.id).
			Str("event", env.Event).
			Msg("Client sent unknown event")
	}
}

// allow checks the connection's budget for the event kind. When notify is
// set an over-budget event earns an error notice on the origin connection;
// otherwise it is dropped silently. Rejections never disconnect.
func (s *Server) allow(c *Client, kind string, b limits.Budget, notify bool) bool {
	if s.budgets.Allow(c.id, kind, b) {
		return true
	}
	eventsRateLimited.WithLabelValues(kind).Inc()
	s.logger.Debug().
		Int64("client_id", c.id).
		Str("user_id", c.userID).
		Str("kind", kind).
		Msg("Event rejected by budget")
	if notify {
		s.sendError(c, kind, protocol.CodeRateLimited, "too many events, slow down")
	}
	return false
}

// decode unmarshals the envelope payload; a malformed payload is logged and
// the frame dropped.
func (s *Server) decode(c *Client, env protocol.Envelope, v any) bool {
	if err := json.Unmarshal(env.Data, v); err != nil {
		eventsMalformed.Inc()
		s.logger.Warn().
			Int64("client_id", c.id).
			Str("event", env.Event).
			Err(err).
			Msg("Client sent invalid payload")
		return false
	}
	return true
}

func (s *Server) sendError(c *Client, event, code, message string) {
	data, err := protocol.Marshal(protocol.EventError, protocol.ErrorNotice{
		Event:   event,
		Code:    code,
		Message: message,
	})
	if err != nil {
		return
	}
	c.Enqueue(data)
}
