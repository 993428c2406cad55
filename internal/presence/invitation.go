package presence

// Invitation is the single pending call invitation targeted at the local
// user. A second invite arriving while one is active auto-refuses the first.
type Invitation struct {
	IsActive            bool     `json:"is_active"`
	RoomName            string   `json:"room_name"`
	FromUserName        string   `json:"from_user_name"`
	FromTalkingClientID string   `json:"from_talking_client_id"`
	TargetUserNames     []string `json:"target_user_names"`
	JoinedUserNames     []string `json:"joined_user_names"`
}
