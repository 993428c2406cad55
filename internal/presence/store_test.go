package presence

import (
	"testing"
	"time"
)

func TestSnapshotIsDetachedFromStore(t *testing.T) {
	s := NewStore("alice")
	s.mu.Lock()
	s.users["bob"] = &User{Name: "bob", Clients: []Client{{WaitingClientID: "w-bob", UserName: "bob", State: StateStandby}}}
	s.mu.Unlock()

	snap := s.Snapshot()
	snap.Users[0].Clients[0].State = StateTalking
	snap.Users[0].IsJoined = true

	again := s.Snapshot()
	if again.Users[0].Clients[0].State != StateStandby || again.Users[0].IsJoined {
		t.Fatal("mutating a snapshot leaked into the store")
	}
}

func TestSubscribePulsesOnChange(t *testing.T) {
	s := NewStore("alice")
	ch, cancel := s.Subscribe()
	defer cancel()

	s.SetOwnState(StateConfirming)
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("no pulse after a state change")
	}

	// Pulses coalesce: many changes, at most one pending signal.
	s.SetOwnState(StateCalling)
	s.SetOwnState(StateTalking)
	<-ch
	select {
	case <-ch:
		t.Fatal("pulses must coalesce")
	default:
	}
}

func TestSubscribeCancelStopsPulses(t *testing.T) {
	s := NewStore("alice")
	ch, cancel := s.Subscribe()
	cancel()

	s.SetOwnState(StateConfirming)
	select {
	case <-ch:
		t.Fatal("cancelled subscriber still pulsed")
	default:
	}
}

func TestJoinedUserNamesListsOwnFirst(t *testing.T) {
	s := NewStore("alice")
	s.mu.Lock()
	s.users["carol"] = &User{Name: "carol", IsJoined: true}
	s.users["bob"] = &User{Name: "bob", IsJoined: true}
	s.users["dave"] = &User{Name: "dave"}
	s.mu.Unlock()

	got := s.JoinedUserNames()
	want := []string{"alice", "bob", "carol"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestResetCallFlagsClearsCallScopedState(t *testing.T) {
	s := NewStore("alice")
	s.SetOwnTalking("room-a", "t-a")
	s.SetOwnMute(true)
	s.SetOwnSharing(true)
	s.mu.Lock()
	s.users["bob"] = &User{
		Name:      "bob",
		Clients:   []Client{{WaitingClientID: "w-bob", TalkingClientID: "t-bob", UserName: "bob", State: StateTalking}},
		IsInvited: true, IsJoined: true, IsMute: true, IsSharingDisplay: true,
	}
	s.remoteStreams["t-bob"] = struct{}{}
	s.mu.Unlock()

	s.ResetCallFlags()

	own := s.OwnClient()
	if own.TalkingRoomName != "" || own.TalkingClientID != "" || own.IsMute || own.IsSharingDisplay {
		t.Fatalf("own call facts survived reset: %+v", own)
	}
	bob, _ := findUser(s.Snapshot(), "bob")
	if bob.IsInvited || bob.IsJoined || bob.IsMute || bob.IsSharingDisplay {
		t.Fatalf("user flags survived reset: %+v", bob)
	}
	if bob.Clients[0].TalkingClientID != "" {
		t.Fatal("cached talking id survived reset")
	}
	if s.RemoteStreamCount() != 0 {
		t.Fatal("remote streams survived reset")
	}
	// The user entry itself stays; presence is not call-scoped.
	if bob.Clients[0].State != StateTalking {
		t.Fatal("peer-reported state must not be touched by reset")
	}
}

func TestInvitationRoomAlive(t *testing.T) {
	s := NewStore("alice")
	s.mu.Lock()
	s.users["carol"] = &User{
		Name:    "carol",
		Clients: []Client{{WaitingClientID: "w-carol", TalkingClientID: "t-carol", UserName: "carol", State: StateCalling}},
	}
	s.mu.Unlock()

	alive := Invitation{IsActive: true, FromUserName: "carol", FromTalkingClientID: "t-carol"}
	if !s.InvitationRoomAlive(alive) {
		t.Fatal("inviter still holds the room id, invitation must be alive")
	}

	stale := Invitation{IsActive: true, FromUserName: "carol", FromTalkingClientID: "t-gone"}
	if s.InvitationRoomAlive(stale) {
		t.Fatal("invitation with an abandoned room id must be stale")
	}

	unknown := Invitation{IsActive: true, FromUserName: "mallory", FromTalkingClientID: "t-x"}
	if s.InvitationRoomAlive(unknown) {
		t.Fatal("invitation from a departed user must be stale")
	}
}

func TestAlreadyLeftEntriesExpire(t *testing.T) {
	s := NewStore("alice")
	s.mu.Lock()
	s.markLeftLocked("w-old")
	s.alreadyLeft["w-old"] = time.Now().Add(-2 * alreadyLeftTTL)
	expired := s.isAlreadyLeftLocked("w-old")
	s.mu.Unlock()

	if expired {
		t.Fatal("expired suppression entry must not match")
	}
}

func TestMarkInvitedClearsSelection(t *testing.T) {
	s := NewStore("alice")
	s.mu.Lock()
	s.users["bob"] = &User{Name: "bob", IsSelected: true}
	s.mu.Unlock()

	s.MarkInvited([]string{"bob"})
	bob, _ := findUser(s.Snapshot(), "bob")
	if !bob.IsInvited || bob.IsSelected {
		t.Fatalf("inviting must clear the selection: %+v", bob)
	}
}
