package presence

import (
	"context"

	"github.com/rs/zerolog"

	"notetalk/internal/proto"
)

// Broadcaster sends an opaque payload to every client on the presence
// channel.
type Broadcaster interface {
	Broadcast(ctx context.Context, payload []byte) error
}

// Hooks are callbacks the engine fires toward the lifecycle controller.
// They run on the engine goroutine; blocking work must be spawned off.
type Hooks struct {
	// InvitationReceived fires when an invite targeting the local user
	// activated the invitation record.
	InvitationReceived func(inv Invitation)
	// InvitationCancelled fires when an active invitation was withdrawn by
	// the inviter, so any open accept prompt must be dismissed.
	InvitationCancelled func()
	// AutoHangup fires when a Calling client has no invited target left.
	AutoHangup func(reason string)
	// CallEnded fires when the last remote participant left the room.
	CallEnded func()
	// FirstRemoteStream fires when the first remote stream arrives while the
	// local client is Calling.
	FirstRemoteStream func()
	// StopOwnShare fires when a remote peer claimed the presenter slot while
	// the local client was sharing.
	StopOwnShare func()
}

// Engine is the single authority applying inbound channel events and
// messages to the store. Events are queued and processed sequentially, so
// each apply is atomic relative to the others.
type Engine struct {
	store *Store
	bus   Broadcaster
	hooks Hooks
	log   *zerolog.Logger

	tasks chan func()
	ctx   context.Context // set once in Start, before any concurrent use
}

// NewEngine builds an engine over the store and presence broadcaster.
func NewEngine(store *Store, bus Broadcaster, logger *zerolog.Logger) *Engine {
	return &Engine{
		store: store,
		bus:   bus,
		log:   logger,
		tasks: make(chan func(), 64),
		ctx:   context.Background(),
	}
}

// SetHooks wires the lifecycle controller callbacks. Must be called before
// Start.
func (e *Engine) SetHooks(hooks Hooks) {
	e.hooks = hooks
}

// Start records the context and begins draining the event queue on its own
// goroutine. The context bounds outbound broadcasts and stops the loop; it is
// recorded before the goroutine spawns so callers may broadcast immediately.
func (e *Engine) Start(ctx context.Context) {
	e.ctx = ctx
	go e.run(ctx)
}

// run processes queued events until the context is cancelled.
func (e *Engine) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-e.tasks:
			task()
		}
	}
}

func (e *Engine) enqueue(task func()) {
	e.tasks <- task
}

/* channel event intake */

// HandlePresenceMessage decodes and applies one broadcast payload.
func (e *Engine) HandlePresenceMessage(raw []byte) {
	msg, err := proto.Decode(raw)
	if err != nil {
		e.log.Debug().Err(err).Msg("drop undecodable presence payload")
		return
	}
	e.enqueue(func() { e.apply(msg) })
}

// HandlePeerJoined records a presence-channel join. The raw channel id is
// not the protocol's waiting client id, which clients self-report inside
// Contact, so there is nothing to reconcile yet.
func (e *Engine) HandlePeerJoined(rawID string) {
	e.log.Debug().Str("raw_id", rawID).Msg("peer joined presence channel")
}

// HandlePeerLeft removes every client whose waiting id matches the departed
// connection.
func (e *Engine) HandlePeerLeft(rawID string) {
	e.enqueue(func() { e.onPeerLeft(rawID) })
}

// HandleRemoteStreamAdded records a new remote stream on the room channel.
func (e *Engine) HandleRemoteStreamAdded(streamID string) {
	e.enqueue(func() { e.onRemoteStreamAdded(streamID) })
}

// HandleRemoteStreamRemoved drops a remote stream.
func (e *Engine) HandleRemoteStreamRemoved(streamID string) {
	e.enqueue(func() { e.onRemoteStreamRemoved(streamID) })
}

// HandleRoomPeerLeft clears the talking id of whoever held it.
func (e *Engine) HandleRoomPeerLeft(talkingID string) {
	e.enqueue(func() { e.onRoomPeerLeft(talkingID) })
}

func (e *Engine) apply(msg proto.Message) {
	switch m := msg.(type) {
	case *proto.Contact:
		e.onContact(ClientFromWire(m.Client), m.NeedsResponse)
	case *proto.ClientUpdate:
		e.onClientUpdate(ClientFromWire(m.Client))
	case *proto.Invite:
		e.onInvite(m)
	case *proto.RefuseInvite:
		e.onRefuseInvite(m)
	case *proto.CancelInvite:
		e.onCancelInvite(m)
	case *proto.ShareDisplay:
		e.onShareDisplay(m)
	case *proto.Mute:
		e.onMute(m)
	}
}

/* message applies */

func (e *Engine) onContact(c Client, needsResponse bool) {
	s := e.store
	s.mu.Lock()

	if c.WaitingClientID == s.ownClient.WaitingClientID {
		s.mu.Unlock()
		return
	}
	if s.isAlreadyLeftLocked(c.WaitingClientID) {
		// The leave notification raced ahead of this contact; consume the
		// suppression entry and discard to avoid a zombie client.
		delete(s.alreadyLeft, c.WaitingClientID)
		s.mu.Unlock()
		e.log.Debug().Str("waiting_id", c.WaitingClientID).Msg("drop contact for already-left client")
		return
	}

	if c.UserName == s.ownUser.Name {
		s.ownUser.addClient(c)
	} else {
		u, ok := s.users[c.UserName]
		if !ok {
			u = &User{Name: c.UserName}
			s.users[c.UserName] = u
		}
		u.addClient(c)
		e.refreshJoinedLocked(u)
	}
	s.notifyLocked()

	ownState := s.ownClient.State
	own := s.ownClient
	room := s.ownClient.TalkingRoomName
	s.mu.Unlock()

	if needsResponse {
		e.send(&proto.Contact{Client: own.Wire(), NeedsResponse: false})
		if ownState == StateCalling || ownState == StateTalking {
			// Teach the newcomer the current call state.
			e.send(&proto.Mute{UserName: own.UserName, RoomName: room, IsMute: own.IsMute})
			e.send(&proto.ShareDisplay{UserName: own.UserName, RoomName: room, IsSharingDisplay: own.IsSharingDisplay})
		}
	}
}

func (e *Engine) onClientUpdate(c Client) {
	s := e.store
	s.mu.Lock()

	if c.WaitingClientID == s.ownClient.WaitingClientID || s.isAlreadyLeftLocked(c.WaitingClientID) {
		s.mu.Unlock()
		return
	}

	var owner *User
	if c.UserName == s.ownUser.Name {
		owner = &s.ownUser
	} else {
		owner = s.users[c.UserName]
	}
	if owner == nil {
		// An update may overtake the contact bootstrap; drop it, a fresh
		// contact cycle follows.
		s.mu.Unlock()
		return
	}
	i := owner.findClient(c.WaitingClientID)
	if i < 0 {
		s.mu.Unlock()
		return
	}
	owner.Clients[i].Update(c)
	e.refreshJoinedLocked(owner)
	s.notifyLocked()
	s.mu.Unlock()
}

// refreshJoinedLocked marks a user joined when one of its clients holds a
// talking id matching a tracked remote stream.
func (e *Engine) refreshJoinedLocked(u *User) {
	for i := range u.Clients {
		id := u.Clients[i].TalkingClientID
		if id == "" {
			continue
		}
		if _, ok := e.store.remoteStreams[id]; ok {
			u.IsJoined = true
			u.IsInvited = false
			return
		}
	}
}

func (e *Engine) onInvite(m *proto.Invite) {
	s := e.store
	s.mu.Lock()

	targeted := false
	for _, name := range m.Targets {
		if name == s.ownUser.Name {
			targeted = true
			break
		}
	}

	if targeted {
		var refuse *proto.RefuseInvite
		if s.invitation.IsActive {
			// A newer invite overrides; the first inviter gets a refusal.
			refuse = &proto.RefuseInvite{
				Target:   s.invitation.FromUserName,
				UserName: s.ownUser.Name,
				RoomName: s.invitation.RoomName,
			}
		}
		s.invitation = Invitation{
			IsActive:            true,
			RoomName:            m.RoomName,
			FromUserName:        m.UserName,
			FromTalkingClientID: m.TalkingClientID,
			TargetUserNames:     append([]string(nil), m.Targets...),
			JoinedUserNames:     append([]string(nil), m.JoiningUsers...),
		}
		s.ownClient.State = StateInvited
		inv := s.copyInvitationLocked()
		own := s.ownClient
		s.notifyLocked()
		s.mu.Unlock()

		if refuse != nil {
			e.send(refuse)
		}
		e.send(&proto.ClientUpdate{Client: own.Wire()})
		if e.hooks.InvitationReceived != nil {
			e.hooks.InvitationReceived(inv)
		}
		return
	}

	// Not targeted: if the invite concerns the local client's own room, mark
	// the named targets so room members see who else is being invited.
	if m.RoomName != "" && m.RoomName == s.ownClient.TalkingRoomName {
		for _, name := range m.Targets {
			if u, ok := s.users[name]; ok {
				u.IsInvited = true
			}
		}
		s.notifyLocked()
	}
	s.mu.Unlock()
}

func (e *Engine) onRefuseInvite(m *proto.RefuseInvite) {
	s := e.store
	s.mu.Lock()

	if m.RoomName == "" || m.RoomName != s.ownClient.TalkingRoomName {
		s.mu.Unlock()
		return
	}
	if u, ok := s.users[m.UserName]; ok {
		u.IsInvited = false
	}
	hangup := s.ownClient.State == StateCalling && !s.anyInvitedLocked()
	s.notifyLocked()
	s.mu.Unlock()

	if hangup && e.hooks.AutoHangup != nil {
		e.hooks.AutoHangup("all invitations were declined")
	}
}

func (e *Engine) onCancelInvite(m *proto.CancelInvite) {
	s := e.store
	s.mu.Lock()

	if s.invitation.IsActive && m.RoomName == s.invitation.RoomName &&
		(m.Target == "" || m.Target == s.ownUser.Name) {
		s.invitation = Invitation{}
		s.ownClient.State = StateStandby
		own := s.ownClient
		s.notifyLocked()
		s.mu.Unlock()

		e.send(&proto.ClientUpdate{Client: own.Wire()})
		if e.hooks.InvitationCancelled != nil {
			e.hooks.InvitationCancelled()
		}
		return
	}

	// Within the local room this signals "target is no longer invited",
	// either withdrawn by the inviter or resolved by the target joining.
	// An empty target withdraws every outstanding invitation for the room.
	if m.RoomName != "" && m.RoomName == s.ownClient.TalkingRoomName {
		if m.Target == "" {
			for _, u := range s.users {
				u.IsInvited = false
			}
		} else if u, ok := s.users[m.Target]; ok {
			u.IsInvited = false
		}
		s.notifyLocked()
	}
	s.mu.Unlock()
}

func (e *Engine) onShareDisplay(m *proto.ShareDisplay) {
	s := e.store
	s.mu.Lock()

	if m.RoomName == "" || m.RoomName != s.ownClient.TalkingRoomName || m.UserName == s.ownUser.Name {
		s.mu.Unlock()
		return
	}
	if u, ok := s.users[m.UserName]; ok {
		u.IsSharingDisplay = m.IsSharingDisplay
	}
	// Single-presenter rule: first bit wins, the latecomer yields. If a
	// remote peer now shares while we do too, ours goes off.
	yield := m.IsSharingDisplay && s.ownClient.IsSharingDisplay
	s.notifyLocked()
	s.mu.Unlock()

	if yield && e.hooks.StopOwnShare != nil {
		e.hooks.StopOwnShare()
	}
}

func (e *Engine) onMute(m *proto.Mute) {
	s := e.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.RoomName == "" || m.RoomName != s.ownClient.TalkingRoomName || m.UserName == s.ownUser.Name {
		return
	}
	if u, ok := s.users[m.UserName]; ok {
		u.IsMute = m.IsMute
	}
	s.notifyLocked()
}

/* channel signal applies */

func (e *Engine) onPeerLeft(rawID string) {
	s := e.store
	s.mu.Lock()

	removed := s.ownUser.removeClient(rawID)
	for name, u := range s.users {
		if u.removeClient(rawID) {
			removed = true
		}
		if len(u.Clients) == 0 {
			delete(s.users, name)
		}
	}
	if !removed {
		// The leave may precede the contact push; remember it so the late
		// contact is discarded instead of creating a zombie entry.
		s.markLeftLocked(rawID)
	}
	hangup := s.ownClient.State == StateCalling && !s.anyInvitedLocked()
	s.notifyLocked()
	s.mu.Unlock()

	if hangup && e.hooks.AutoHangup != nil {
		e.hooks.AutoHangup("no invited user is reachable")
	}
}

func (e *Engine) onRemoteStreamAdded(streamID string) {
	s := e.store
	s.mu.Lock()

	s.remoteStreams[streamID] = struct{}{}
	// The stream id equals the sender's talking client id; whoever holds it
	// has joined the call. The id may also arrive here before the owning
	// contact, which is why contact and update applies re-run this check.
	for _, u := range s.users {
		if u.hasTalkingClient(streamID) {
			u.IsJoined = true
			u.IsInvited = false
			break
		}
	}
	first := s.ownClient.State == StateCalling
	s.notifyLocked()
	s.mu.Unlock()

	if first && e.hooks.FirstRemoteStream != nil {
		e.hooks.FirstRemoteStream()
	}
}

func (e *Engine) onRemoteStreamRemoved(streamID string) {
	s := e.store
	s.mu.Lock()
	delete(s.remoteStreams, streamID)
	ended := s.ownClient.State == StateTalking && len(s.remoteStreams) == 0
	s.notifyLocked()
	s.mu.Unlock()

	if ended && e.hooks.CallEnded != nil {
		e.hooks.CallEnded()
	}
}

func (e *Engine) onRoomPeerLeft(talkingID string) {
	s := e.store
	s.mu.Lock()

	for _, u := range s.users {
		changed := false
		for i := range u.Clients {
			if u.Clients[i].TalkingClientID == talkingID {
				u.Clients[i].TalkingClientID = ""
				changed = true
			}
		}
		if changed && !u.anyTalkingClient() {
			u.IsJoined = false
		}
	}
	delete(s.remoteStreams, talkingID)
	ended := s.ownClient.State == StateTalking && len(s.remoteStreams) == 0
	s.notifyLocked()
	s.mu.Unlock()

	if ended && e.hooks.CallEnded != nil {
		e.hooks.CallEnded()
	}
}

func (s *Store) anyInvitedLocked() bool {
	for _, u := range s.users {
		if u.IsInvited {
			return true
		}
	}
	return false
}

/* outbound */

// send encodes and broadcasts a protocol message on the presence channel.
func (e *Engine) send(msg proto.Message) {
	payload, err := proto.Encode(msg)
	if err != nil {
		e.log.Error().Err(err).Str("kind", string(msg.MessageKind())).Msg("encode presence message")
		return
	}
	if err := e.bus.Broadcast(e.ctx, payload); err != nil {
		e.log.Warn().Err(err).Str("kind", string(msg.MessageKind())).Msg("broadcast presence message")
	}
}

// Send broadcasts a message on behalf of the lifecycle controller.
func (e *Engine) Send(msg proto.Message) {
	e.send(msg)
}

// BroadcastOwnClient pushes the current local client snapshot to all peers.
func (e *Engine) BroadcastOwnClient() {
	e.send(&proto.ClientUpdate{Client: e.store.OwnClient().Wire()})
}

// SendContact announces the local client. With needsResponse every recipient
// replies with its own contact, bootstrapping the user list.
func (e *Engine) SendContact(needsResponse bool) {
	e.send(&proto.Contact{Client: e.store.OwnClient().Wire(), NeedsResponse: needsResponse})
}
