package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"underwriter/pkg/proto"
)

type collector struct {
	mu   sync.Mutex
	got  []*proto.Envelope
	done chan struct{}
	want int
}

func newCollector(want int) *collector {
	return &collector{done: make(chan struct{}), want: want}
}

func (c *collector) HandleMessage(_ context.Context, env *proto.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, env)
	if len(c.got) == c.want {
		close(c.done)
	}
	return nil
}

func (c *collector) wait(t *testing.T) []*proto.Envelope {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %d envelopes", c.want)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*proto.Envelope(nil), c.got...)
}

type memRecorder struct {
	mu  sync.Mutex
	ids []string
}

func (r *memRecorder) WriteEnvelope(env *proto.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, env.ID)
	return nil
}

func stopFabric(t *testing.T, f *Fabric) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.Stop(ctx))
}

func TestFIFOPerReceiver(t *testing.T) {
	rec := &memRecorder{}
	f := New(nil, WithRecorder(rec))
	c := newCollector(50)
	require.NoError(t, f.Register("orchestrator", c, []string{"underwriting"}))

	// Sent before Start; delivery begins on Start.
	for i := 0; i < 50; i++ {
		env := proto.NewEnvelope(proto.MsgTypeStatusUpdate, "client", "orchestrator", "APP_1")
		env.SetPayload("seq", i)
		require.NoError(t, f.Send(context.Background(), env))
	}
	require.NoError(t, f.Start(context.Background()))
	defer stopFabric(t, f)

	got := c.wait(t)
	for i, env := range got {
		assert.Equal(t, i, env.Payload["seq"])
	}
	assert.Len(t, f.History("APP_1"), 50)
	assert.Len(t, rec.ids, 50)
}

func TestUnknownReceiverDropped(t *testing.T) {
	f := New(nil)
	env := proto.NewEnvelope(proto.MsgTypeError, "a", "nobody", "APP_2")
	err := f.Send(context.Background(), env)
	assert.ErrorIs(t, err, ErrUnknownReceiver)
	assert.Len(t, f.History("APP_2"), 1, "history is kept even when delivery fails")
}

func TestSendStampsEnvelope(t *testing.T) {
	f := New(nil)
	require.NoError(t, f.Register("p", newCollector(1), nil))
	env := &proto.Envelope{Type: proto.MsgTypeStatusUpdate, Sender: "s", Receiver: "p"}
	require.NoError(t, f.Send(context.Background(), env))
	assert.NotEmpty(t, env.ID)
	assert.False(t, env.Timestamp.IsZero())
	assert.NotNil(t, env.Payload)
}

func TestRegisterValidation(t *testing.T) {
	f := New(nil)
	require.NoError(t, f.Register("p", newCollector(1), nil))
	assert.ErrorIs(t, f.Register("p", newCollector(1), nil), ErrDuplicateParticipant)
	assert.Error(t, f.Register("", newCollector(1), nil))
	assert.Error(t, f.Register("q", nil, nil))
	assert.True(t, f.Has("p"))
	assert.False(t, f.Has("q"))
}

func TestHandlerFailuresDoNotStopDelivery(t *testing.T) {
	f := New(nil)
	var mu sync.Mutex
	var seen []int
	done := make(chan struct{})
	h := HandlerFunc(func(_ context.Context, env *proto.Envelope) error {
		seq := env.Payload["seq"].(int)
		mu.Lock()
		seen = append(seen, seq)
		n := len(seen)
		mu.Unlock()
		if n == 3 {
			close(done)
		}
		switch seq {
		case 0:
			panic("boom")
		case 1:
			return errors.New("handler failed")
		}
		return nil
	})
	require.NoError(t, f.Register("p", h, nil))
	require.NoError(t, f.Start(context.Background()))
	defer stopFabric(t, f)

	for i := 0; i < 3; i++ {
		env := proto.NewEnvelope(proto.MsgTypeStatusUpdate, "s", "p", "")
		env.SetPayload("seq", i)
		require.NoError(t, f.Send(context.Background(), env))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("delivery stalled after handler failure")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2}, seen)
}

func TestRegisterAfterStart(t *testing.T) {
	f := New(nil)
	require.NoError(t, f.Start(context.Background()))
	defer stopFabric(t, f)

	c := newCollector(1)
	require.NoError(t, f.Register("late", c, nil))
	require.NoError(t, f.Send(context.Background(), proto.NewEnvelope(proto.MsgTypeStatusUpdate, "s", "late", "")))
	c.wait(t)

	assert.Error(t, f.Start(context.Background()), "second start is rejected")
}

func TestSessions(t *testing.T) {
	f := New(nil)
	require.NoError(t, f.Register("p", newCollector(10), nil))

	s := f.CreateSession("APP_S", map[string]any{"customer_id": "C"})
	assert.Equal(t, SessionActive, s.Status)

	require.NoError(t, f.Send(context.Background(), proto.NewEnvelope(proto.MsgTypeStatusUpdate, "x", "p", "APP_S")))

	closed, ok := f.CloseSession("APP_S", map[string]any{"status": "COMPLETED"})
	require.True(t, ok)
	assert.Equal(t, SessionCompleted, closed.Status)
	assert.Equal(t, 1, closed.MessageCount)
	assert.False(t, closed.ClosedAt.IsZero())

	_, ok = f.CloseSession("missing", nil)
	assert.False(t, ok)

	got, ok := f.Session("APP_S")
	require.True(t, ok)
	assert.Equal(t, SessionCompleted, got.Status)
}

func TestParticipantsAndHeads(t *testing.T) {
	f := New(nil)
	require.NoError(t, f.Register("b", newCollector(1), []string{"x"}))
	require.NoError(t, f.Register("a", newCollector(1), nil))
	for i := 0; i < 3; i++ {
		require.NoError(t, f.Send(context.Background(), proto.NewEnvelope(proto.MsgTypeStatusUpdate, "s", "b", "")))
	}

	infos := f.Participants()
	require.Len(t, infos, 2)
	assert.Equal(t, "a", infos[0].Name)
	assert.Equal(t, 3, infos[1].Queued)
	assert.Len(t, f.DumpHeads(2)["b"], 2)
}

func TestStopRejectsSends(t *testing.T) {
	f := New(nil)
	require.NoError(t, f.Register("p", newCollector(1), nil))
	require.NoError(t, f.Start(context.Background()))
	stopFabric(t, f)

	err := f.Send(context.Background(), proto.NewEnvelope(proto.MsgTypeStatusUpdate, "s", "p", ""))
	assert.ErrorIs(t, err, ErrStopped)
}

func TestConcurrentSenders(t *testing.T) {
	f := New(nil)
	const senders, each = 8, 25
	c := newCollector(senders * each)
	require.NoError(t, f.Register("p", c, nil))
	require.NoError(t, f.Start(context.Background()))
	defer stopFabric(t, f)

	var wg sync.WaitGroup
	for s := 0; s < senders; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				env := proto.NewEnvelope(proto.MsgTypeStatusUpdate, fmt.Sprintf("s%d", s), "p", "")
				env.SetPayload("seq", i)
				_ = f.Send(context.Background(), env)
			}
		}(s)
	}
	wg.Wait()

	// Per-sender order is preserved because each sender's sends are sequential.
	last := map[string]int{}
	for _, env := range c.wait(t) {
		seq := env.Payload["seq"].(int)
		prev, ok := last[env.Sender]
		if ok {
			assert.Greater(t, seq, prev)
		}
		last[env.Sender] = seq
	}
}
