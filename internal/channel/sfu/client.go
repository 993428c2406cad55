package sfu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"
)

// wire message types spoken with the relay.
const (
	typeConnect     = "connect"
	typeConnected   = "connected"
	typeDisconnect  = "disconnect"
	typePush        = "push"
	typeNotify      = "notify"
	typeTrack       = "track"
	typeRemoveTrack = "removetrack"
	typeReplace     = "replacetrack"

	eventConnectionCreated   = "connection.created"
	eventConnectionDestroyed = "connection.destroyed"
)

// wireMessage is the single frame shape exchanged with the relay; unused
// fields stay empty per type.
type wireMessage struct {
	Type        string          `json:"type"`
	ChannelID   string          `json:"channel_id,omitempty"`
	AccessToken string          `json:"access_token,omitempty"`
	ClientID    string          `json:"client_id,omitempty"`
	EventType   string          `json:"event_type,omitempty"`
	StreamID    string          `json:"stream_id,omitempty"`
	TrackID     string          `json:"track_id,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// conn wraps one relay connection with serialized writes.
type conn struct {
	ws       *websocket.Conn
	clientID string
	log      *zerolog.Logger

	writeMu sync.Mutex
	cancel  context.CancelFunc
}

// dialChannel connects to the first reachable signaling URL, joins the
// channel and waits for the assigned client id.
func dialChannel(ctx context.Context, urls []string, channelID, accessToken, streamID string, logger *zerolog.Logger) (*conn, error) {
	var lastErr error
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		ws, _, err := websocket.Dial(ctx, u, nil)
		if err != nil {
			lastErr = err
			logger.Warn().Err(err).Str("url", u).Msg("signaling dial failed")
			continue
		}

		join := wireMessage{
			Type:        typeConnect,
			ChannelID:   channelID,
			AccessToken: accessToken,
			StreamID:    streamID,
		}
		if err := wsjson.Write(ctx, ws, join); err != nil {
			ws.Close(websocket.StatusInternalError, "connect write failed")
			lastErr = err
			continue
		}

		var ack wireMessage
		if err := wsjson.Read(ctx, ws, &ack); err != nil {
			ws.Close(websocket.StatusInternalError, "connect read failed")
			lastErr = err
			continue
		}
		if ack.Type != typeConnected || ack.ClientID == "" {
			ws.Close(websocket.StatusProtocolError, "unexpected connect ack")
			lastErr = fmt.Errorf("unexpected connect ack type %q", ack.Type)
			continue
		}

		return &conn{ws: ws, clientID: ack.ClientID, log: logger}, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no signaling url configured")
	}
	return nil, fmt.Errorf("connect channel %s: %w", channelID, lastErr)
}

// run reads frames and dispatches them until the connection dies.
func (c *conn) run(dispatch func(wireMessage)) {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go func() {
		defer cancel()
		for {
			var msg wireMessage
			if err := wsjson.Read(ctx, c.ws, &msg); err != nil {
				if ctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
					c.log.Warn().Err(err).Msg("channel read loop ended")
				}
				return
			}
			dispatch(msg)
		}
	}()
}

func (c *conn) send(ctx context.Context, msg wireMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsjson.Write(ctx, c.ws, msg)
}

func (c *conn) close(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	_ = c.send(ctx, wireMessage{Type: typeDisconnect})
	return c.ws.Close(websocket.StatusNormalClosure, "bye")
}
