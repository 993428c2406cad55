package presence

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"notetalk/internal/proto"
)

// loopBus delivers every broadcast to all attached engines, the sender
// included, mirroring how the relay echoes pushes back on the channel.
type loopBus struct {
	mu      sync.Mutex
	engines []*Engine
}

func (b *loopBus) attach(e *Engine) {
	b.mu.Lock()
	b.engines = append(b.engines, e)
	b.mu.Unlock()
}

func (b *loopBus) Broadcast(_ context.Context, payload []byte) error {
	b.mu.Lock()
	engines := append([]*Engine(nil), b.engines...)
	b.mu.Unlock()
	for _, e := range engines {
		e.HandlePresenceMessage(payload)
	}
	return nil
}

func newLoopEngine(t *testing.T, bus *loopBus, userName, waitingID string, hooks Hooks) (*Engine, *Store) {
	t.Helper()

	logger := zerolog.Nop()
	store := NewStore(userName)
	store.SetOwnWaitingID(waitingID)

	e := NewEngine(store, bus, &logger)
	e.SetHooks(hooks)
	bus.attach(e)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	e.Start(ctx)

	return e, store
}

// TestInviteJourneyBetweenTwoClients walks the full outbound/inbound journey
// over a shared bus: bootstrap, invite, accept, join, hang up.
func TestInviteJourneyBetweenTwoClients(t *testing.T) {
	bus := &loopBus{}

	invited := make(chan Invitation, 1)
	engineA, storeA := newLoopEngine(t, bus, "alice", "w-a", Hooks{})
	engineB, storeB := newLoopEngine(t, bus, "bob", "w-b", Hooks{
		InvitationReceived: func(inv Invitation) { invited <- inv },
	})

	// Bootstrap: alice announces, bob replies, both learn each other.
	engineA.SendContact(true)
	waitFor(t, "alice knows bob", func() bool {
		_, ok := findUser(storeA.Snapshot(), "bob")
		return ok
	})
	waitFor(t, "bob knows alice", func() bool {
		_, ok := findUser(storeB.Snapshot(), "alice")
		return ok
	})
	if !storeA.UserCanInvite("bob") {
		t.Fatal("standby bob must be invitable")
	}

	// Alice opens a room and invites bob.
	storeA.SetOwnTalking("talking-x", "t-a")
	storeA.MarkInvited([]string{"bob"})
	engineA.Send(&proto.Invite{
		Targets:         []string{"bob"},
		UserName:        "alice",
		RoomName:        "talking-x",
		TalkingClientID: "t-a",
		JoiningUsers:    []string{"alice"},
	})
	storeA.SetOwnState(StateCalling)
	engineA.BroadcastOwnClient()

	waitFor(t, "bob received the invitation", func() bool {
		select {
		case <-invited:
			return true
		default:
			return false
		}
	})
	waitFor(t, "bob is in invited state", func() bool {
		return storeB.OwnState() == StateInvited
	})
	waitFor(t, "alice sees bob as invited and not invitable", func() bool {
		bob, ok := findUser(storeA.Snapshot(), "bob")
		return ok && bob.IsInvited && !storeA.UserCanInvite("bob")
	})
	waitFor(t, "bob's invitation references alice's live room", func() bool {
		inv := storeB.Invitation()
		return inv.IsActive && storeB.InvitationRoomAlive(inv)
	})

	// Bob accepts: join the room, clear the record, tell the room.
	storeB.SetOwnTalking("talking-x", "t-b")
	storeB.DeactivateInvitation()
	storeB.SetOwnState(StateTalking)
	engineB.BroadcastOwnClient()
	engineB.Send(&proto.CancelInvite{Target: "bob", UserName: "bob", RoomName: "talking-x"})

	waitFor(t, "alice sees bob talking and no longer invited", func() bool {
		bob, ok := findUser(storeA.Snapshot(), "bob")
		return ok && !bob.IsInvited && bob.EffectiveState() == StateTalking
	})

	// Bob's media arrives; alice marks him joined.
	engineA.HandleRemoteStreamAdded("t-b")
	waitFor(t, "alice marks bob joined", func() bool {
		bob, ok := findUser(storeA.Snapshot(), "bob")
		return ok && bob.IsJoined
	})

	// Alice hangs up; bob's view returns to standby-ish facts.
	storeA.ResetCallFlags()
	storeA.SetOwnState(StateStandby)
	engineA.BroadcastOwnClient()
	waitFor(t, "bob sees alice back in standby", func() bool {
		alice, ok := findUser(storeB.Snapshot(), "alice")
		return ok && alice.EffectiveState() == StateStandby
	})
}

// TestRefuseJourneyBetweenTwoClients checks the decline path: the inviter
// with a single target auto-hangs-up on the refusal.
func TestRefuseJourneyBetweenTwoClients(t *testing.T) {
	bus := &loopBus{}

	hangup := make(chan string, 1)
	invited := make(chan Invitation, 1)
	engineA, storeA := newLoopEngine(t, bus, "alice", "w-a", Hooks{
		AutoHangup: func(reason string) { hangup <- reason },
	})
	engineB, storeB := newLoopEngine(t, bus, "bob", "w-b", Hooks{
		InvitationReceived: func(inv Invitation) { invited <- inv },
	})

	engineA.SendContact(true)
	waitFor(t, "alice knows bob", func() bool {
		_, ok := findUser(storeA.Snapshot(), "bob")
		return ok
	})

	storeA.SetOwnTalking("talking-y", "t-a")
	storeA.MarkInvited([]string{"bob"})
	engineA.Send(&proto.Invite{
		Targets: []string{"bob"}, UserName: "alice", RoomName: "talking-y", TalkingClientID: "t-a",
	})
	storeA.SetOwnState(StateCalling)
	engineA.BroadcastOwnClient()

	waitFor(t, "bob received the invitation", func() bool {
		select {
		case <-invited:
			return true
		default:
			return false
		}
	})

	inv := storeB.Invitation()
	engineB.Send(&proto.RefuseInvite{Target: inv.FromUserName, UserName: "bob", RoomName: inv.RoomName})
	storeB.DeactivateInvitation()
	storeB.SetOwnState(StateStandby)
	engineB.BroadcastOwnClient()

	waitFor(t, "alice auto-hangs-up after the only target refused", func() bool {
		select {
		case <-hangup:
			return true
		default:
			return false
		}
	})
}
