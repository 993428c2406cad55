package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"notetalk/internal/proto"
)

// recordingBus captures every broadcast message for assertions.
type recordingBus struct {
	mu   sync.Mutex
	sent []proto.Message
}

func (b *recordingBus) Broadcast(_ context.Context, payload []byte) error {
	msg, err := proto.Decode(payload)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.sent = append(b.sent, msg)
	b.mu.Unlock()
	return nil
}

func (b *recordingBus) messages() []proto.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]proto.Message(nil), b.sent...)
}

func newTestEngine(t *testing.T, userName, waitingID string, hooks Hooks) (*Engine, *Store, *recordingBus) {
	t.Helper()

	logger := zerolog.Nop()
	store := NewStore(userName)
	store.SetOwnWaitingID(waitingID)
	bus := &recordingBus{}

	e := NewEngine(store, bus, &logger)
	e.SetHooks(hooks)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	e.Start(ctx)

	return e, store, bus
}

// drain blocks until every event queued so far has been applied.
func drain(t *testing.T, e *Engine) {
	t.Helper()

	done := make(chan struct{})
	e.enqueue(func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not drain its queue")
	}
}

// waitFor polls the condition until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached: %s", what)
}

func deliver(t *testing.T, e *Engine, msg proto.Message) {
	t.Helper()

	payload, err := proto.Encode(msg)
	if err != nil {
		t.Fatalf("encode %s: %v", msg.MessageKind(), err)
	}
	e.HandlePresenceMessage(payload)
}

func wireClient(waitingID, userName string, state State) proto.ClientInfo {
	return Client{WaitingClientID: waitingID, UserName: userName, State: state}.Wire()
}

func findUser(snap Snapshot, name string) (User, bool) {
	for _, u := range snap.Users {
		if u.Name == name {
			return u, true
		}
	}
	return User{}, false
}
