package presence

import (
	"sort"
	"sync"
	"time"
)

// alreadyLeftTTL bounds how long a leave notification is remembered while
// waiting for the Contact it may have raced ahead of.
const alreadyLeftTTL = time.Minute

// Store owns the reconciled entity model: the local client and user, every
// remote user, the pending invitation, the set of live remote stream ids and
// the short-lived already-left set. The engine is its only writer for
// channel-driven changes; the lifecycle controller mutates it between its
// suspension points. Readers get copies, never aliases.
type Store struct {
	mu sync.Mutex

	ownClient Client
	ownUser   User
	users     map[string]*User

	invitation Invitation

	remoteStreams map[string]struct{}
	alreadyLeft   map[string]time.Time

	listeners []chan struct{}
}

// NewStore builds a store around the local identity.
func NewStore(userName string) *Store {
	return &Store{
		ownClient:     Client{UserName: userName, State: StateStandby},
		ownUser:       User{Name: userName},
		users:         make(map[string]*User),
		remoteStreams: make(map[string]struct{}),
		alreadyLeft:   make(map[string]time.Time),
	}
}

// Subscribe returns a coalescing change pulse. The returned cancel func must
// be called when the subscriber goes away.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.listeners = append(s.listeners, ch)
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, l := range s.listeners {
			if l == ch {
				s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
				return
			}
		}
	}
	return ch, cancel
}

// notifyLocked pulses every listener. Callers hold s.mu.
func (s *Store) notifyLocked() {
	for _, l := range s.listeners {
		select {
		case l <- struct{}{}:
		default:
		}
	}
}

// Notify pulses listeners after an external batch of mutations.
func (s *Store) Notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifyLocked()
}

/* own identity */

// OwnClient returns a copy of the local client.
func (s *Store) OwnClient() Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ownClient
}

// OwnUserName returns the local display name.
func (s *Store) OwnUserName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ownUser.Name
}

// OwnState returns the local client's state.
func (s *Store) OwnState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ownClient.State
}

// SetOwnWaitingID records the id assigned by the presence channel.
func (s *Store) SetOwnWaitingID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ownClient.WaitingClientID = id
}

// SetOwnState moves the local client to a new state.
func (s *Store) SetOwnState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ownClient.State = state
	s.notifyLocked()
}

// SetOwnTalking records the room the local client just joined.
func (s *Store) SetOwnTalking(roomName, talkingID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ownClient.TalkingRoomName = roomName
	s.ownClient.TalkingClientID = talkingID
	s.notifyLocked()
}

// OwnRoom returns the room the local client occupies, or "".
func (s *Store) OwnRoom() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ownClient.TalkingRoomName
}

// SetOwnMute flips the local mute flag and returns the new value.
func (s *Store) SetOwnMute(mute bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ownClient.IsMute = mute
	s.notifyLocked()
}

// SetOwnSharing flips the local screen-share flag.
func (s *Store) SetOwnSharing(sharing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ownClient.IsSharingDisplay = sharing
	s.notifyLocked()
}

/* users */

// UserCanInvite reports whether the named user exists and is invitable.
func (s *Store) UserCanInvite(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[name]
	return ok && u.CanInvite()
}

// SetSelected toggles the UI selection mark on a user.
func (s *Store) SetSelected(name string, selected bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[name]
	if !ok {
		return false
	}
	u.IsSelected = selected
	s.notifyLocked()
	return true
}

// SelectedUserNames lists users currently marked selected.
func (s *Store) SelectedUserNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for _, u := range s.users {
		if u.IsSelected {
			names = append(names, u.Name)
		}
	}
	sort.Strings(names)
	return names
}

// MarkInvited sets the invited flag on the named users and clears their
// selection.
func (s *Store) MarkInvited(names []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range names {
		if u, ok := s.users[name]; ok {
			u.IsInvited = true
			u.IsSelected = false
		}
	}
	s.notifyLocked()
}

// InvitedUserNames lists users still marked invited.
func (s *Store) InvitedUserNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for _, u := range s.users {
		if u.IsInvited {
			names = append(names, u.Name)
		}
	}
	sort.Strings(names)
	return names
}

// JoinedUserNames lists users marked as participating in the local call,
// the local user first.
func (s *Store) JoinedUserNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := []string{s.ownUser.Name}
	var joined []string
	for _, u := range s.users {
		if u.IsJoined {
			joined = append(joined, u.Name)
		}
	}
	sort.Strings(joined)
	return append(names, joined...)
}

/* invitation */

// Invitation returns a copy of the pending invitation record.
func (s *Store) Invitation() Invitation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyInvitationLocked()
}

func (s *Store) copyInvitationLocked() Invitation {
	inv := s.invitation
	inv.TargetUserNames = append([]string(nil), s.invitation.TargetUserNames...)
	inv.JoinedUserNames = append([]string(nil), s.invitation.JoinedUserNames...)
	return inv
}

// DeactivateInvitation clears the pending invitation.
func (s *Store) DeactivateInvitation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invitation = Invitation{}
	s.notifyLocked()
}

// InvitationRoomAlive reports whether the inviter still holds the room-channel
// id the invitation referenced. A room whose inviter no longer reports the id
// is stale and the invitation must be refused, never silently accepted.
func (s *Store) InvitationRoomAlive(inv Invitation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[inv.FromUserName]
	return ok && u.hasTalkingClient(inv.FromTalkingClientID)
}

/* remote streams */

// HasRemoteStream reports whether the room channel currently carries a stream
// with the given id. Stream ids equal the sender's talking client id.
func (s *Store) HasRemoteStream(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.remoteStreams[id]
	return ok
}

// RemoteStreamCount returns the number of live remote streams.
func (s *Store) RemoteStreamCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.remoteStreams)
}

/* call teardown */

// ResetCallFlags clears every call-scoped local annotation: invited and
// joined marks, user-level mute/share mirrors, locally cached talking ids and
// all remote streams. Fresh ClientUpdates from peers rebuild the view.
func (s *Store) ResetCallFlags() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		u.IsInvited = false
		u.IsJoined = false
		u.IsMute = false
		u.IsSharingDisplay = false
		for i := range u.Clients {
			u.Clients[i].TalkingClientID = ""
		}
	}
	s.ownClient.TalkingRoomName = ""
	s.ownClient.TalkingClientID = ""
	s.ownClient.IsMute = false
	s.ownClient.IsSharingDisplay = false
	s.remoteStreams = make(map[string]struct{})
	s.notifyLocked()
}

/* already-left tracking */

// markLeftLocked records a leave notification that matched no known client,
// so a late Contact for the same id can be discarded.
func (s *Store) markLeftLocked(rawID string) {
	now := time.Now()
	for id, at := range s.alreadyLeft {
		if now.Sub(at) > alreadyLeftTTL {
			delete(s.alreadyLeft, id)
		}
	}
	s.alreadyLeft[rawID] = now
}

func (s *Store) isAlreadyLeftLocked(rawID string) bool {
	at, ok := s.alreadyLeft[rawID]
	if !ok {
		return false
	}
	if time.Since(at) > alreadyLeftTTL {
		delete(s.alreadyLeft, rawID)
		return false
	}
	return true
}

/* snapshots */

// Snapshot is a consistent copy of the model for consumers.
type Snapshot struct {
	OwnClient  Client     `json:"own_client"`
	OwnUser    User       `json:"own_user"`
	Users      []User     `json:"users"`
	Invitation Invitation `json:"invitation"`
}

// Snapshot returns a deep copy of the model, users sorted by name.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		OwnClient:  s.ownClient,
		OwnUser:    s.copyUserLocked(&s.ownUser),
		Invitation: s.copyInvitationLocked(),
	}
	for _, u := range s.users {
		snap.Users = append(snap.Users, s.copyUserLocked(u))
	}
	sort.Slice(snap.Users, func(i, j int) bool { return snap.Users[i].Name < snap.Users[j].Name })
	return snap
}

func (s *Store) copyUserLocked(u *User) User {
	cp := *u
	cp.Clients = append([]Client(nil), u.Clients...)
	return cp
}
