package chat

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/pulseim/realtime/internal/model"
	"github.com/pulseim/realtime/internal/presence"
	"github.com/pulseim/realtime/internal/protocol"
)

func newTestCalls() (*Calls, *fakeCallStore, *presence.Registry, *capturedBus) {
	calls := newFakeCallStore()
	bus := &capturedBus{}
	reg := presence.NewRegistry(nil, nil, zerolog.Nop())
	c := NewCalls(calls, reg, bus, zerolog.Nop())
	n := 0
	c.newID = func() string { n++; return string(rune('a' + n - 1)) }
	return c, calls, reg, bus
}

func TestCalls_StartNotifiesLiveReceiver(t *testing.T) {
	c, calls, reg, bus := newTestCalls()
	alice := &fakeSession{id: 1, userID: "alice", name: "Alice"}
	bob := &fakeSession{id: 2, userID: "bob"}
	reg.Attach(alice)
	reg.Attach(bob)

	c.Start(context.Background(), alice, protocol.CallStartRequest{ReceiverID: "bob", Kind: "video"})

	require.Len(t, calls.calls, 1)
	stored := calls.calls["a"]
	require.Equal(t, model.CallInitiated, stored.Status)
	require.Equal(t, model.CallVideo, stored.Kind)

	require.Equal(t, 1, bob.countEvent(t, protocol.EventCallIncoming))
	var notice protocol.CallNotice
	for _, env := range bob.envelopes(t) {
		if env.Event == protocol.EventCallIncoming {
			require.NoError(t, json.Unmarshal(env.Data, &notice))
		}
	}
	require.Equal(t, "alice", notice.UserID)
	require.Equal(t, "a", notice.Call.ID)
	require.Len(t, bus.calls, 1)
}

func TestCalls_StartOfflineReceiverIsSilent(t *testing.T) {
	c, calls, reg, _ := newTestCalls()
	alice := &fakeSession{id: 1, userID: "alice"}
	reg.Attach(alice)

	c.Start(context.Background(), alice, protocol.CallStartRequest{ReceiverID: "bob"})

	// Call is still persisted; the caller gets no feedback either way.
	require.Len(t, calls.calls, 1)
	require.Zero(t, alice.countEvent(t, protocol.EventCallError))
	require.Zero(t, alice.countEvent(t, protocol.EventCallIncoming))
}

func TestCalls_StartDefaultsToAudio(t *testing.T) {
	c, calls, reg, _ := newTestCalls()
	alice := &fakeSession{id: 1, userID: "alice"}
	reg.Attach(alice)

	c.Start(context.Background(), alice, protocol.CallStartRequest{ReceiverID: "bob", Kind: "hologram"})

	require.Equal(t, model.CallAudio, calls.calls["a"].Kind)
}

func TestCalls_AcceptTransitionsAndNotifiesCaller(t *testing.T) {
	c, calls, reg, _ := newTestCalls()
	alice := &fakeSession{id: 1, userID: "alice"}
	bob := &fakeSession{id: 2, userID: "bob"}
	reg.Attach(alice)
	reg.Attach(bob)

	c.Start(context.Background(), alice, protocol.CallStartRequest{ReceiverID: "bob"})
	c.Accept(context.Background(), bob, protocol.CallControlRequest{CallID: "a", TargetID: "alice"})

	stored := calls.calls["a"]
	require.Equal(t, model.CallOngoing, stored.Status)
	require.NotNil(t, stored.StartedAt)
	require.Equal(t, 1, alice.countEvent(t, protocol.EventCallAccepted))
}

func TestCalls_RejectIsTerminal(t *testing.T) {
	c, calls, reg, _ := newTestCalls()
	alice := &fakeSession{id: 1, userID: "alice"}
	bob := &fakeSession{id: 2, userID: "bob"}
	reg.Attach(alice)
	reg.Attach(bob)

	c.Start(context.Background(), alice, protocol.CallStartRequest{ReceiverID: "bob"})
	c.Reject(context.Background(), bob, protocol.CallControlRequest{CallID: "a", TargetID: "alice"})

	stored := calls.calls["a"]
	require.Equal(t, model.CallRejected, stored.Status)
	require.NotNil(t, stored.EndedAt)
	require.Equal(t, 1, alice.countEvent(t, protocol.EventCallRejected))
}

func TestCalls_EndWithoutAcceptStillCompletes(t *testing.T) {
	c, calls, reg, _ := newTestCalls()
	alice := &fakeSession{id: 1, userID: "alice"}
	reg.Attach(alice)

	c.Start(context.Background(), alice, protocol.CallStartRequest{ReceiverID: "bob"})
	c.End(context.Background(), alice, protocol.CallControlRequest{CallID: "a"})

	require.Equal(t, model.CallCompleted, calls.calls["a"].Status)
}

func TestCalls_EndNotifiesTargetWhenLive(t *testing.T) {
	c, _, reg, _ := newTestCalls()
	alice := &fakeSession{id: 1, userID: "alice"}
	bob := &fakeSession{id: 2, userID: "bob"}
	reg.Attach(alice)
	reg.Attach(bob)

	c.Start(context.Background(), alice, protocol.CallStartRequest{ReceiverID: "bob"})
	c.End(context.Background(), alice, protocol.CallControlRequest{CallID: "a", TargetID: "bob"})

	require.Equal(t, 1, bob.countEvent(t, protocol.EventCallEnded))
}

func TestCalls_UnknownCallAbortsSilently(t *testing.T) {
	c, _, reg, _ := newTestCalls()
	alice := &fakeSession{id: 1, userID: "alice"}
	reg.Attach(alice)

	c.Accept(context.Background(), alice, protocol.CallControlRequest{CallID: "nope", TargetID: "bob"})

	require.Zero(t, alice.countEvent(t, protocol.EventCallError))
	require.Zero(t, alice.countEvent(t, protocol.EventCallAccepted))
}

func TestCalls_SignalRelaysOpaquePayload(t *testing.T) {
	c, _, reg, _ := newTestCalls()
	alice := &fakeSession{id: 1, userID: "alice"}
	bob := &fakeSession{id: 2, userID: "bob"}
	reg.Attach(alice)
	reg.Attach(bob)

	payload := json.RawMessage(`{"sdp":"offer","candidates":[1,2]}`)
	c.Signal(alice, protocol.CallSignalRequest{TargetID: "bob", Signal: payload})

	require.Equal(t, 1, bob.countEvent(t, protocol.EventCallSignal))
	var relay protocol.CallSignalRelay
	for _, env := range bob.envelopes(t) {
		if env.Event == protocol.EventCallSignal {
			require.NoError(t, json.Unmarshal(env.Data, &relay))
		}
	}
	require.Equal(t, "alice", relay.SenderID)
	require.JSONEq(t, string(payload), string(relay.Signal))
}

func TestCalls_SignalToOfflineTargetIsDropped(t *testing.T) {
	c, _, reg, _ := newTestCalls()
	alice := &fakeSession{id: 1, userID: "alice"}
	reg.Attach(alice)
	before := len(alice.eventNames(t))

	c.Signal(alice, protocol.CallSignalRequest{TargetID: "ghost", Signal: json.RawMessage(`{}`)})

	require.Len(t, alice.eventNames(t), before)
}
