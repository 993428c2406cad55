package presence

// User is the reconciled, multi-client view of one human identity. All
// clients reporting the same user name collapse into one User.
type User struct {
	Name    string   `json:"name"`
	Clients []Client `json:"clients"`

	// Local-only annotations, never broadcast.
	IsSelected       bool `json:"is_selected"`
	IsInvited        bool `json:"is_invited"`
	IsJoined         bool `json:"is_joined"`
	IsMute           bool `json:"is_mute"`
	IsSharingDisplay bool `json:"is_sharing_display"`
}

// EffectiveState is the highest-priority state among the user's clients.
// A user with one tab mid-call is mid-call, no matter how many idle tabs
// they have open.
func (u *User) EffectiveState() State {
	state := StateStandby
	for _, c := range u.Clients {
		if c.State > state {
			state = c.State
		}
	}
	return state
}

// CanInvite reports whether the user may be invited to a call. Only fully
// idle users qualify.
func (u *User) CanInvite() bool {
	return u.EffectiveState() == StateStandby
}

func (u *User) findClient(waitingID string) int {
	for i := range u.Clients {
		if u.Clients[i].WaitingClientID == waitingID {
			return i
		}
	}
	return -1
}

// addClient inserts a client snapshot unless its waiting id is already
// present. Duplicate contacts are a no-op so retransmissions cannot create
// double entries.
func (u *User) addClient(c Client) bool {
	if u.findClient(c.WaitingClientID) >= 0 {
		return false
	}
	u.Clients = append(u.Clients, c)
	return true
}

// removeClient drops the client with the given waiting id.
func (u *User) removeClient(waitingID string) bool {
	i := u.findClient(waitingID)
	if i < 0 {
		return false
	}
	u.Clients = append(u.Clients[:i], u.Clients[i+1:]...)
	return true
}

// hasTalkingClient reports whether any client occupies a room under the
// given room-channel id.
func (u *User) hasTalkingClient(talkingID string) bool {
	if talkingID == "" {
		return false
	}
	for i := range u.Clients {
		if u.Clients[i].TalkingClientID == talkingID {
			return true
		}
	}
	return false
}

// anyTalkingClient reports whether any client holds a room-channel id.
func (u *User) anyTalkingClient() bool {
	for i := range u.Clients {
		if u.Clients[i].TalkingClientID != "" {
			return true
		}
	}
	return false
}
