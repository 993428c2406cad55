package presence

import "notetalk/internal/proto"

// Client is one physical connection (one browser tab or window) of one user.
type Client struct {
	// WaitingClientID is assigned by the presence channel on connect and is
	// unique per connection. Empty until the connect completes.
	WaitingClientID string `json:"waiting_client_id"`
	// TalkingClientID is assigned by the room channel while this client
	// participates in a call. Empty when not in a room.
	TalkingClientID string `json:"talking_client_id"`
	// TalkingRoomName is the room this client currently occupies.
	TalkingRoomName string `json:"talking_room_name"`
	// UserName is the display name shared by all clients of one user.
	UserName string `json:"user_name"`

	State            State `json:"state"`
	IsMute           bool  `json:"is_mute"`
	IsSharingDisplay bool  `json:"is_sharing_display"`
}

// Update overwrites this client with a newer snapshot.
func (c *Client) Update(from Client) {
	*c = from
}

// Wire converts the client to its broadcast snapshot.
func (c Client) Wire() proto.ClientInfo {
	return proto.ClientInfo{
		WaitingClientID:  c.WaitingClientID,
		TalkingClientID:  c.TalkingClientID,
		TalkingRoomName:  c.TalkingRoomName,
		UserName:         c.UserName,
		State:            c.State.String(),
		IsMute:           c.IsMute,
		IsSharingDisplay: c.IsSharingDisplay,
	}
}

// ClientFromWire builds a client from a broadcast snapshot.
func ClientFromWire(info proto.ClientInfo) Client {
	return Client{
		WaitingClientID:  info.WaitingClientID,
		TalkingClientID:  info.TalkingClientID,
		TalkingRoomName:  info.TalkingRoomName,
		UserName:         info.UserName,
		State:            ParseState(info.State),
		IsMute:           info.IsMute,
		IsSharingDisplay: info.IsSharingDisplay,
	}
}
