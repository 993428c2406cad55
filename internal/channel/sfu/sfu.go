// Package sfu implements the presence and room channel primitives against a
// websocket SFU signaling relay. Broadcast payloads ride the relay's push
// frames; join and leave arrive as connection notify events; remote media
// appears as track frames whose stream id equals the sending client's id.
package sfu

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"notetalk/internal/channel"
	"notetalk/internal/media"
	"notetalk/internal/token"
)

// waitingRoomName names the shared presence channel.
const waitingRoomName = "waiting"

// Factory builds channel clients bound to one relay and token provider.
type Factory struct {
	urls   []string
	prefix string
	suffix string
	tokens token.Provider
	log    *zerolog.Logger
}

// NewFactory builds a factory. signalingURL may list several URLs
// comma-separated; the first reachable one wins.
func NewFactory(signalingURL, channelIDPrefix, channelIDSuffix string, tokens token.Provider, logger *zerolog.Logger) *Factory {
	return &Factory{
		urls:   strings.Split(signalingURL, ","),
		prefix: channelIDPrefix,
		suffix: channelIDSuffix,
		tokens: tokens,
		log:    logger,
	}
}

func (f *Factory) channelID(name string) string {
	return f.prefix + name + f.suffix
}

// Presence returns the presence channel client.
func (f *Factory) Presence() channel.Presence {
	return &presenceChannel{factory: f}
}

// Room returns a room channel client, reusable across consecutive calls.
func (f *Factory) Room() channel.Room {
	return &roomChannel{factory: f}
}

type presenceChannel struct {
	factory *Factory

	mu   sync.Mutex
	conn *conn
}

func (p *presenceChannel) Connect(ctx context.Context, h channel.PresenceHandlers) (string, error) {
	f := p.factory
	channelID := f.channelID(waitingRoomName)

	tok, err := f.tokens.AccessToken(ctx, channelID)
	if err != nil {
		return "", err
	}
	c, err := dialChannel(ctx, f.urls, channelID, tok, "", f.log)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	p.conn = c
	p.mu.Unlock()

	c.run(func(msg wireMessage) {
		switch msg.Type {
		case typePush:
			if h.OnMessage != nil {
				h.OnMessage(msg.Data)
			}
		case typeNotify:
			switch msg.EventType {
			case eventConnectionCreated:
				// Our own creation echo is not a peer.
				if msg.ClientID != c.clientID && h.OnPeerJoined != nil {
					h.OnPeerJoined(msg.ClientID)
				}
			case eventConnectionDestroyed:
				if h.OnPeerLeft != nil {
					h.OnPeerLeft(msg.ClientID)
				}
			}
		}
	})
	return c.clientID, nil
}

func (p *presenceChannel) Broadcast(ctx context.Context, payload []byte) error {
	p.mu.Lock()
	c := p.conn
	p.mu.Unlock()
	if c == nil {
		return errors.New("presence channel is not connected")
	}
	return c.send(ctx, wireMessage{Type: typePush, Data: payload})
}

func (p *presenceChannel) Close(ctx context.Context) error {
	p.mu.Lock()
	c := p.conn
	p.conn = nil
	p.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.close(ctx)
}

type roomChannel struct {
	factory *Factory

	mu   sync.Mutex
	conn *conn
}

func (r *roomChannel) Connect(ctx context.Context, roomName string, local *media.Stream, h channel.RoomHandlers) (string, error) {
	f := r.factory
	channelID := f.channelID(roomName)

	tok, err := f.tokens.AccessToken(ctx, channelID)
	if err != nil {
		return "", err
	}
	c, err := dialChannel(ctx, f.urls, channelID, tok, local.ID, f.log)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	if r.conn != nil {
		r.mu.Unlock()
		_ = c.close(ctx)
		return "", errors.New("room channel already connected")
	}
	r.conn = c
	r.mu.Unlock()

	c.run(func(msg wireMessage) {
		switch msg.Type {
		case typeTrack:
			if h.OnRemoteStreamAdded != nil {
				h.OnRemoteStreamAdded(msg.StreamID)
			}
		case typeRemoveTrack:
			if h.OnRemoteStreamRemoved != nil {
				h.OnRemoteStreamRemoved(msg.StreamID)
			}
		case typeNotify:
			if msg.EventType == eventConnectionDestroyed && h.OnPeerLeft != nil {
				h.OnPeerLeft(msg.ClientID)
			}
		}
	})
	return c.clientID, nil
}

func (r *roomChannel) ReplaceVideoTrack(ctx context.Context, track media.Track) error {
	r.mu.Lock()
	c := r.conn
	r.mu.Unlock()
	if c == nil {
		return errors.New("room channel is not connected")
	}
	return c.send(ctx, wireMessage{Type: typeReplace, TrackID: track.ID})
}

func (r *roomChannel) Disconnect(ctx context.Context) error {
	r.mu.Lock()
	c := r.conn
	r.conn = nil
	r.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.close(ctx)
}
