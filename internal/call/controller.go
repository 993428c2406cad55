// Package call orchestrates the call journeys: requesting a talk, accepting
// or refusing invitations, mid-call membership changes, screen sharing and
// hang-up. It composes the reconciliation engine with the room channel and
// local media, and re-validates liveness after every user-facing prompt.
package call

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"notetalk/internal/channel"
	"notetalk/internal/dialog"
	"notetalk/internal/media"
	"notetalk/internal/presence"
	"notetalk/internal/proto"
)

var (
	// ErrBusy is returned when a journey is requested from a non-idle state.
	ErrBusy = errors.New("a call is already in progress")
	// ErrNoTargets is returned when no requested user can be invited.
	ErrNoTargets = errors.New("no invitable users")
	// ErrNotInCall is returned by room-scoped actions outside a call.
	ErrNotInCall = errors.New("not in a call")
)

// Notice is a user-visible message raised by the lifecycle layer.
type Notice struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Notice kinds.
const (
	NoticeInfo  = "info"
	NoticeError = "error"
)

// Controller drives the invitation and call lifecycle.
type Controller struct {
	store   *presence.Store
	engine  *presence.Engine
	room    channel.Room
	media   media.Provider
	prompts *dialog.Broker
	notify  func(Notice)
	log     *zerolog.Logger

	shareCurrentTabOnly bool

	ctx context.Context

	mu           sync.Mutex
	localStream  *media.Stream
	invitePrompt context.CancelFunc
}

// NewController wires the lifecycle controller. notify may be nil.
func NewController(
	store *presence.Store,
	engine *presence.Engine,
	room channel.Room,
	mediaProvider media.Provider,
	prompts *dialog.Broker,
	notify func(Notice),
	shareCurrentTabOnly bool,
	logger *zerolog.Logger,
) *Controller {
	if notify == nil {
		notify = func(Notice) {}
	}
	c := &Controller{
		store:               store,
		engine:              engine,
		room:                room,
		media:               mediaProvider,
		prompts:             prompts,
		notify:              notify,
		log:                 logger,
		shareCurrentTabOnly: shareCurrentTabOnly,
		ctx:                 context.Background(),
	}
	engine.SetHooks(presence.Hooks{
		InvitationReceived:  c.onInvitationReceived,
		InvitationCancelled: c.onInvitationCancelled,
		AutoHangup:          c.onAutoHangup,
		CallEnded:           c.onCallEnded,
		FirstRemoteStream:   c.onFirstRemoteStream,
		StopOwnShare:        c.onStopOwnShare,
	})
	return c
}

// Start records the base context for engine-triggered journeys.
func (c *Controller) Start(ctx context.Context) {
	c.ctx = ctx
}

func (c *Controller) roomHandlers() channel.RoomHandlers {
	return channel.RoomHandlers{
		OnRemoteStreamAdded:   c.engine.HandleRemoteStreamAdded,
		OnRemoteStreamRemoved: c.engine.HandleRemoteStreamRemoved,
		OnPeerLeft:            c.engine.HandleRoomPeerLeft,
	}
}

/* outbound journey */

// RequestTalk runs the outbound journey: confirm, acquire the microphone,
// open a fresh room and invite the targets. With no explicit targets the
// current UI selection is used.
func (c *Controller) RequestTalk(ctx context.Context, targets []string) error {
	if len(targets) == 0 {
		targets = c.store.SelectedUserNames()
	}
	invitable := c.invitableOf(targets)
	if len(invitable) == 0 {
		return ErrNoTargets
	}
	if c.store.OwnState() != presence.StateStandby {
		return ErrBusy
	}

	c.store.SetOwnState(presence.StateConfirming)
	c.engine.BroadcastOwnClient()

	ok, err := c.prompts.Ask(ctx, dialog.Prompt{
		Kind:    dialog.KindRequestTalk,
		Body:    fmt.Sprintf("Send a call request to %d user(s)?", len(invitable)),
		Details: invitable,
	})
	if err != nil || !ok {
		c.revertToStandby()
		return err
	}

	// The model may have changed while the dialog was open.
	invitable = c.invitableOf(invitable)
	if len(invitable) == 0 {
		c.notify(Notice{Kind: NoticeInfo, Message: "Nobody is available for a call anymore."})
		c.revertToStandby()
		return ErrNoTargets
	}

	stream, err := c.media.MicrophoneStream(ctx)
	if err != nil {
		c.notify(Notice{Kind: NoticeError, Message: "The microphone is not available, the call was not started."})
		c.revertToStandby()
		return err
	}

	roomName := "talking-" + uuid.NewString()
	talkingID, err := c.room.Connect(ctx, roomName, stream, c.roomHandlers())
	if err != nil {
		stream.Stop()
		c.notify(Notice{Kind: NoticeError, Message: "Starting the call failed."})
		c.revertToStandby()
		return err
	}

	c.mu.Lock()
	c.localStream = stream
	c.mu.Unlock()

	c.store.SetOwnTalking(roomName, talkingID)
	c.store.MarkInvited(invitable)
	c.engine.Send(&proto.Invite{
		Targets:         invitable,
		UserName:        c.store.OwnUserName(),
		RoomName:        roomName,
		TalkingClientID: talkingID,
		JoiningUsers:    []string{c.store.OwnUserName()},
	})
	c.store.SetOwnState(presence.StateCalling)
	c.engine.BroadcastOwnClient()
	return nil
}

// AddMembers invites further users into the running call. Invitees learn who
// already joined so their prompt can show the occupants.
func (c *Controller) AddMembers(ctx context.Context, targets []string) error {
	own := c.store.OwnClient()
	if own.TalkingRoomName == "" {
		return ErrNotInCall
	}
	invitable := c.invitableOf(targets)
	if len(invitable) == 0 {
		return ErrNoTargets
	}

	c.store.MarkInvited(invitable)
	c.engine.Send(&proto.Invite{
		Targets:         invitable,
		UserName:        own.UserName,
		RoomName:        own.TalkingRoomName,
		TalkingClientID: own.TalkingClientID,
		JoiningUsers:    c.store.JoinedUserNames(),
	})
	return nil
}

func (c *Controller) invitableOf(names []string) []string {
	var out []string
	for _, name := range names {
		if c.store.UserCanInvite(name) {
			out = append(out, name)
		}
	}
	return out
}

func (c *Controller) revertToStandby() {
	c.store.SetOwnState(presence.StateStandby)
	c.engine.BroadcastOwnClient()
}

/* inbound journey */

func (c *Controller) onInvitationReceived(inv presence.Invitation) {
	c.mu.Lock()
	if c.invitePrompt != nil {
		// A newer invite supersedes the one whose prompt is still open; the
		// engine already refused the old one.
		c.invitePrompt()
	}
	ctx, cancel := context.WithCancel(c.ctx)
	c.invitePrompt = cancel
	c.mu.Unlock()

	go c.promptInvitation(ctx, inv)
}

func (c *Controller) onInvitationCancelled() {
	c.mu.Lock()
	if c.invitePrompt != nil {
		c.invitePrompt()
		c.invitePrompt = nil
	}
	c.mu.Unlock()
	c.notify(Notice{Kind: NoticeInfo, Message: "The invitation was withdrawn."})
}

func (c *Controller) promptInvitation(ctx context.Context, inv presence.Invitation) {
	defer func() {
		c.mu.Lock()
		c.invitePrompt = nil
		c.mu.Unlock()
	}()

	ok, err := c.prompts.Ask(ctx, dialog.Prompt{
		Kind:    dialog.KindAcceptInvitation,
		Body:    fmt.Sprintf("%s invites you to join a call. Join?", inv.FromUserName),
		Details: inv.TargetUserNames,
	})
	if err != nil {
		// Cancelled or superseded while the prompt was open; the engine has
		// already settled the invitation state.
		return
	}
	if ok {
		c.acceptInvitation(c.ctx)
	} else {
		c.RefuseInvitation(c.ctx)
	}
}

func (c *Controller) acceptInvitation(ctx context.Context) {
	inv := c.store.Invitation()
	if !inv.IsActive {
		c.notify(Notice{Kind: NoticeInfo, Message: "The call has already ended."})
		return
	}
	// The inviter may have hung up while the prompt was open; an invitation
	// whose room has no live occupant must never be accepted silently.
	if !c.store.InvitationRoomAlive(inv) {
		c.notify(Notice{Kind: NoticeInfo, Message: "The call has ended, this invitation is no longer valid."})
		c.settleRefusal(inv)
		return
	}

	stream, err := c.media.MicrophoneStream(ctx)
	if err != nil {
		c.notify(Notice{Kind: NoticeError, Message: "The microphone is not available, the call was not joined."})
		c.settleRefusal(inv)
		return
	}

	talkingID, err := c.room.Connect(ctx, inv.RoomName, stream, c.roomHandlers())
	if err != nil {
		stream.Stop()
		c.notify(Notice{Kind: NoticeError, Message: "Joining the call failed."})
		c.settleRefusal(inv)
		return
	}

	c.mu.Lock()
	c.localStream = stream
	c.mu.Unlock()

	c.store.SetOwnTalking(inv.RoomName, talkingID)
	c.store.DeactivateInvitation()
	c.store.SetOwnState(presence.StateTalking)
	c.engine.BroadcastOwnClient()
	// Tell the room we joined so nobody keeps showing us as invited.
	c.engine.Send(&proto.CancelInvite{
		Target:   c.store.OwnUserName(),
		UserName: c.store.OwnUserName(),
		RoomName: inv.RoomName,
	})
}

// RefuseInvitation declines the pending invitation.
func (c *Controller) RefuseInvitation(context.Context) {
	inv := c.store.Invitation()
	if !inv.IsActive {
		return
	}
	c.settleRefusal(inv)
}

// settleRefusal sends the refusal and returns the local client to standby.
func (c *Controller) settleRefusal(inv presence.Invitation) {
	c.engine.Send(&proto.RefuseInvite{
		Target:   inv.FromUserName,
		UserName: c.store.OwnUserName(),
		RoomName: inv.RoomName,
	})
	c.store.DeactivateInvitation()
	c.store.SetOwnState(presence.StateStandby)
	c.engine.BroadcastOwnClient()
}

/* in-call actions */

// ToggleMute flips the local mute flag and announces it room-wide.
func (c *Controller) ToggleMute(context.Context) error {
	own := c.store.OwnClient()
	if own.TalkingRoomName == "" {
		return ErrNotInCall
	}
	muted := !own.IsMute
	c.store.SetOwnMute(muted)
	c.engine.Send(&proto.Mute{UserName: own.UserName, RoomName: own.TalkingRoomName, IsMute: muted})
	c.engine.BroadcastOwnClient()
	return nil
}

// StartShareDisplay captures a display surface and swaps it onto the
// outgoing video slot.
func (c *Controller) StartShareDisplay(ctx context.Context) error {
	own := c.store.OwnClient()
	if own.TalkingRoomName == "" {
		return ErrNotInCall
	}

	track, err := c.media.DisplayTrack(ctx, c.shareCurrentTabOnly)
	if err != nil {
		c.notify(Notice{Kind: NoticeError, Message: "Display capture is not available."})
		return err
	}
	if err := c.room.ReplaceVideoTrack(ctx, track); err != nil {
		c.notify(Notice{Kind: NoticeError, Message: "Sharing the display failed."})
		return err
	}

	c.store.SetOwnSharing(true)
	c.engine.Send(&proto.ShareDisplay{UserName: own.UserName, RoomName: own.TalkingRoomName, IsSharingDisplay: true})
	c.engine.BroadcastOwnClient()
	return nil
}

// StopShareDisplay swaps the placeholder video track back in.
func (c *Controller) StopShareDisplay(ctx context.Context) error {
	own := c.store.OwnClient()
	if own.TalkingRoomName == "" || !own.IsSharingDisplay {
		return nil
	}

	c.mu.Lock()
	stream := c.localStream
	c.mu.Unlock()
	if stream != nil {
		if placeholder, ok := stream.VideoTrack(); ok {
			if err := c.room.ReplaceVideoTrack(ctx, placeholder); err != nil {
				c.notify(Notice{Kind: NoticeError, Message: "Stopping the display share failed."})
				return err
			}
		}
	}

	c.store.SetOwnSharing(false)
	c.engine.Send(&proto.ShareDisplay{UserName: own.UserName, RoomName: own.TalkingRoomName, IsSharingDisplay: false})
	c.engine.BroadcastOwnClient()
	return nil
}

/* teardown */

// HangUp ends the current call explicitly.
func (c *Controller) HangUp(ctx context.Context) error {
	return c.hangUp(ctx, nil)
}

func (c *Controller) hangUp(ctx context.Context, notice *Notice) error {
	own := c.store.OwnClient()
	if own.TalkingRoomName == "" && own.State == presence.StateStandby {
		return nil
	}

	c.mu.Lock()
	stream := c.localStream
	c.localStream = nil
	c.mu.Unlock()
	if stream != nil {
		stream.Stop()
	}

	if err := c.room.Disconnect(ctx); err != nil {
		c.log.Warn().Err(err).Msg("room disconnect on hang-up")
	}

	if own.TalkingRoomName != "" && len(c.store.InvitedUserNames()) > 0 {
		// Withdraw every outstanding invitation to this room.
		c.engine.Send(&proto.CancelInvite{
			Target:   "",
			UserName: own.UserName,
			RoomName: own.TalkingRoomName,
		})
	}

	c.store.ResetCallFlags()
	// Hanging up while merely invited must also retire the open invitation.
	c.store.DeactivateInvitation()
	c.store.SetOwnState(presence.StateStandby)
	c.engine.BroadcastOwnClient()

	if notice != nil {
		c.notify(*notice)
	}
	return nil
}

// Shutdown tears the call down on process exit.
func (c *Controller) Shutdown(ctx context.Context) {
	_ = c.hangUp(ctx, nil)
}

/* engine hooks */

func (c *Controller) onAutoHangup(reason string) {
	go func() {
		_ = c.hangUp(c.ctx, &Notice{Kind: NoticeInfo, Message: "The call ended: " + reason + "."})
	}()
}

func (c *Controller) onCallEnded() {
	go func() {
		_ = c.hangUp(c.ctx, &Notice{Kind: NoticeInfo, Message: "The call has ended."})
	}()
}

func (c *Controller) onFirstRemoteStream() {
	if c.store.OwnState() != presence.StateCalling {
		return
	}
	c.store.SetOwnState(presence.StateTalking)
	c.engine.BroadcastOwnClient()
}

func (c *Controller) onStopOwnShare() {
	go func() {
		c.notify(Notice{Kind: NoticeInfo, Message: "Another participant started sharing their display."})
		_ = c.StopShareDisplay(c.ctx)
	}()
}
