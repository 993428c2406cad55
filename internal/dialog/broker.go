// Package dialog bridges blocking confirmation prompts between the call
// lifecycle and the UI. The lifecycle controller asks and waits; the UI
// lists pending prompts over the local API and posts the answer.
package dialog

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strconv"
	"sync"
	"time"
)

// ErrUnknownPrompt is returned when answering a prompt that is no longer
// pending.
var ErrUnknownPrompt = errors.New("unknown prompt")

// Prompt kinds surfaced to the UI.
const (
	KindRequestTalk      = "request_talk"
	KindAcceptInvitation = "accept_invitation"
)

// Prompt is one pending yes/no question.
type Prompt struct {
	ID      string   `json:"id"`
	Kind    string   `json:"kind"`
	Body    string   `json:"body"`
	Details []string `json:"details,omitempty"`
}

type pending struct {
	prompt Prompt
	answer chan bool
}

// Broker holds pending prompts and wakes the asking goroutine on answer.
type Broker struct {
	mu      sync.Mutex
	pending map[string]*pending

	listeners []chan struct{}
}

// NewBroker builds an empty broker.
func NewBroker() *Broker {
	return &Broker{pending: make(map[string]*pending)}
}

// Subscribe returns a coalescing pulse fired whenever the pending set
// changes.
func (b *Broker) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	b.listeners = append(b.listeners, ch)
	b.mu.Unlock()
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, l := range b.listeners {
			if l == ch {
				b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
				return
			}
		}
	}
}

func (b *Broker) notifyLocked() {
	for _, l := range b.listeners {
		select {
		case l <- struct{}{}:
		default:
		}
	}
}

// newPromptID returns an identifier for a pending prompt. The UI answers
// prompts by ID, so it only has to be unique within this process.
func newPromptID() string {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "prompt-" + strconv.FormatInt(time.Now().UnixNano(), 10)
	}
	return "prompt-" + hex.EncodeToString(buf)
}

// Ask registers the prompt and blocks until it is answered or the context
// ends. A prompt abandoned at cancellation counts as declined.
func (b *Broker) Ask(ctx context.Context, p Prompt) (bool, error) {
	if p.ID == "" {
		p.ID = newPromptID()
	}
	entry := &pending{prompt: p, answer: make(chan bool, 1)}

	b.mu.Lock()
	b.pending[p.ID] = entry
	b.notifyLocked()
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, p.ID)
		b.notifyLocked()
		b.mu.Unlock()
	}()

	select {
	case ok := <-entry.answer:
		return ok, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Pending lists open prompts.
func (b *Broker) Pending() []Prompt {
	b.mu.Lock()
	defer b.mu.Unlock()
	prompts := make([]Prompt, 0, len(b.pending))
	for _, p := range b.pending {
		prompts = append(prompts, p.prompt)
	}
	return prompts
}

// Answer resolves a pending prompt.
func (b *Broker) Answer(id string, ok bool) error {
	b.mu.Lock()
	entry, found := b.pending[id]
	b.mu.Unlock()
	if !found {
		return ErrUnknownPrompt
	}
	select {
	case entry.answer <- ok:
	default:
		// Already answered; answering twice is a no-op.
	}
	return nil
}
