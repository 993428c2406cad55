// Package media abstracts local capture devices. The signaling layer only
// needs track and stream identities; actual capture hardware stays behind
// the Provider interface.
package media

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrDeviceUnavailable is returned when a capture device is denied or busy.
var ErrDeviceUnavailable = errors.New("media device unavailable")

// TrackKind distinguishes audio from video tracks.
type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// Track is one media track of a local stream.
type Track struct {
	ID   string    `json:"id"`
	Kind TrackKind `json:"kind"`
}

// Stream is a local capture stream. The transport always carries one audio
// and one video slot, so microphone streams include a placeholder video
// track.
type Stream struct {
	ID     string
	Tracks []Track

	stop func()
}

// VideoTrack returns the stream's current video track.
func (s *Stream) VideoTrack() (Track, bool) {
	for _, t := range s.Tracks {
		if t.Kind == TrackVideo {
			return t, true
		}
	}
	return Track{}, false
}

// Stop releases every track. Safe to call more than once.
func (s *Stream) Stop() {
	if s.stop != nil {
		s.stop()
		s.stop = nil
	}
}

// Provider acquires local media.
type Provider interface {
	// MicrophoneStream captures the microphone and pairs it with a silent
	// placeholder video track.
	MicrophoneStream(ctx context.Context) (*Stream, error)
	// DisplayTrack captures a display surface for screen sharing.
	DisplayTrack(ctx context.Context, currentTabOnly bool) (Track, error)
}

// StaticProvider hands out synthetic streams. It backs the sidecar until a
// capture backend is attached, and the tests.
type StaticProvider struct{}

// MicrophoneStream returns a fresh synthetic stream.
func (StaticProvider) MicrophoneStream(context.Context) (*Stream, error) {
	return &Stream{
		ID: uuid.NewString(),
		Tracks: []Track{
			{ID: uuid.NewString(), Kind: TrackAudio},
			{ID: uuid.NewString(), Kind: TrackVideo},
		},
		stop: func() {},
	}, nil
}

// DisplayTrack returns a fresh synthetic display track.
func (StaticProvider) DisplayTrack(context.Context, bool) (Track, error) {
	return Track{ID: uuid.NewString(), Kind: TrackVideo}, nil
}
