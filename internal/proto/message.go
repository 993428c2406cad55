// Package proto defines the broadcast payloads exchanged over the presence
// channel. The wire shape is stable JSON so that old and new clients
// interoperate within one call.
package proto

import (
	"encoding/json"
	"fmt"
)

// Kind tags a broadcast payload.
type Kind string

const (
	KindContact      Kind = "contact"
	KindClientUpdate Kind = "client_update"
	KindInvite       Kind = "invite"
	KindRefuseInvite Kind = "refuse_invite"
	KindCancelInvite Kind = "cancel_invite"
	KindShareDisplay Kind = "share_display"
	KindMute         Kind = "mute"
)

// Envelope is the outer wrapper for every presence-channel payload.
type Envelope struct {
	Kind Kind            `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// Message is one of the seven presence-channel payloads.
type Message interface {
	MessageKind() Kind
}

// ClientInfo is the wire snapshot of one client (one tab of one user).
type ClientInfo struct {
	WaitingClientID  string `json:"waiting_client_id"`
	TalkingClientID  string `json:"talking_client_id"`
	TalkingRoomName  string `json:"talking_room_name"`
	UserName         string `json:"user_name"`
	State            string `json:"state"`
	IsMute           bool   `json:"is_mute"`
	IsSharingDisplay bool   `json:"is_sharing_display"`
}

// Contact announces a newly connected client. NeedsResponse asks every
// recipient to reply with their own Contact.
type Contact struct {
	Client        ClientInfo `json:"client"`
	NeedsResponse bool       `json:"needs_response"`
}

// ClientUpdate pushes a changed snapshot of one client.
type ClientUpdate struct {
	Client ClientInfo `json:"client"`
}

// Invite asks the named users to join a room. JoiningUsers tells the invitee
// who already occupies that room.
type Invite struct {
	Targets         []string `json:"target"`
	UserName        string   `json:"user_name"`
	RoomName        string   `json:"room_name"`
	TalkingClientID string   `json:"talking_client_id"`
	JoiningUsers    []string `json:"joining_users"`
}

// RefuseInvite is sent by an invitee declining an invitation.
type RefuseInvite struct {
	Target   string `json:"target"`
	UserName string `json:"user_name"`
	RoomName string `json:"room_name"`
}

// CancelInvite withdraws an invitation for one target, or all when Target is
// empty. Invitees also send it after joining to clear their invited flag.
type CancelInvite struct {
	Target   string `json:"target"`
	UserName string `json:"user_name"`
	RoomName string `json:"room_name"`
}

// ShareDisplay is the room-scoped screen-share toggle.
type ShareDisplay struct {
	UserName         string `json:"user_name"`
	RoomName         string `json:"room_name"`
	IsSharingDisplay bool   `json:"is_sharing_display"`
}

// Mute is the room-scoped mute toggle.
type Mute struct {
	UserName string `json:"user_name"`
	RoomName string `json:"room_name"`
	IsMute   bool   `json:"is_mute"`
}

func (Contact) MessageKind() Kind      { return KindContact }
func (ClientUpdate) MessageKind() Kind { return KindClientUpdate }
func (Invite) MessageKind() Kind       { return KindInvite }
func (RefuseInvite) MessageKind() Kind { return KindRefuseInvite }
func (CancelInvite) MessageKind() Kind { return KindCancelInvite }
func (ShareDisplay) MessageKind() Kind { return KindShareDisplay }
func (Mute) MessageKind() Kind         { return KindMute }

// Encode wraps a message in its envelope and marshals it.
func Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %s data: %w", msg.MessageKind(), err)
	}
	return json.Marshal(Envelope{Kind: msg.MessageKind(), Data: data})
}

// Decode unmarshals an envelope and returns the typed message. Payloads with
// an unknown kind produce an error; callers log and drop them.
func Decode(raw []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	var msg Message
	switch env.Kind {
	case KindContact:
		msg = &Contact{}
	case KindClientUpdate:
		msg = &ClientUpdate{}
	case KindInvite:
		msg = &Invite{}
	case KindRefuseInvite:
		msg = &RefuseInvite{}
	case KindCancelInvite:
		msg = &CancelInvite{}
	case KindShareDisplay:
		msg = &ShareDisplay{}
	case KindMute:
		msg = &Mute{}
	default:
		return nil, fmt.Errorf("unknown message kind %q", env.Kind)
	}

	if err := json.Unmarshal(env.Data, msg); err != nil {
		return nil, fmt.Errorf("unmarshal %s data: %w", env.Kind, err)
	}
	return msg, nil
}
