// Package channel defines the two broadcast primitives the signaling layer
// is built on: a long-lived presence channel shared by every client, and a
// short-lived room channel per active call. Implementations live in
// subpackages; the engine and lifecycle controller only see these interfaces.
package channel

import (
	"context"

	"notetalk/internal/media"
)

// PresenceHandlers receive presence-channel events. The raw ids reported
// here are connection ids assigned by the relay, matching the waiting client
// id each client self-reports in its Contact message.
type PresenceHandlers struct {
	OnPeerJoined func(rawID string)
	OnPeerLeft   func(rawID string)
	OnMessage    func(payload []byte)
}

// Presence is the broadcast bus connecting all clients of all users.
type Presence interface {
	// Connect joins the channel and returns the assigned client id.
	Connect(ctx context.Context, h PresenceHandlers) (string, error)
	// Broadcast delivers an opaque payload to every connected client.
	Broadcast(ctx context.Context, payload []byte) error
	Close(ctx context.Context) error
}

// RoomHandlers receive room-channel events. Remote stream ids equal the
// originating client's talking client id.
type RoomHandlers struct {
	OnRemoteStreamAdded   func(streamID string)
	OnRemoteStreamRemoved func(streamID string)
	OnPeerLeft            func(rawID string)
}

// Room is the per-call media channel. One Room value serves consecutive
// calls: Connect for each call, Disconnect when it ends.
type Room interface {
	// Connect joins the named room publishing the local stream and returns
	// the assigned talking client id.
	Connect(ctx context.Context, roomName string, local *media.Stream, h RoomHandlers) (string, error)
	// ReplaceVideoTrack swaps the outgoing video track, e.g. between the
	// placeholder and a captured display track.
	ReplaceVideoTrack(ctx context.Context, track media.Track) error
	Disconnect(ctx context.Context) error
}
