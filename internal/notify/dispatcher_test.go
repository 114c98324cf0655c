package notify

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatehouse.org/internal/obs"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
	block  chan struct{}
}

func (s *recordingSink) Deliver(ctx context.Context, evt Event) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return s.err
}

func (s *recordingSink) seen() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

func testEvent(recordID string) Event {
	return NewEvent(CredentialIssued, recordID, "res-1", time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC), nil)
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(sink)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = d.Run(ctx)
		close(done)
	}()

	for _, id := range []string{"a", "b", "c"} {
		d.Emit(testEvent(id))
	}
	require.Eventually(t, func() bool { return len(sink.seen()) == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	got := sink.seen()
	assert.Equal(t, "a", got[0].RecordID)
	assert.Equal(t, "c", got[2].RecordID)
}

func TestDispatcherEmitNeverBlocks(t *testing.T) {
	var buf bytes.Buffer
	d := NewDispatcher(&recordingSink{}, WithQueueSize(2), WithLogger(obs.NewLogger(&buf, "info")))

	finished := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			d.Emit(testEvent("r"))
		}
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a full queue")
	}
	assert.Equal(t, int64(8), d.Dropped())
	assert.Equal(t, 2, d.Pending())
	assert.Contains(t, buf.String(), "dropping event")
}

func TestDispatcherLogsSinkFailures(t *testing.T) {
	var buf bytes.Buffer
	sink := &recordingSink{err: errors.New("sink offline")}
	d := NewDispatcher(sink, WithLogger(obs.NewLogger(&buf, "info")))
	d.Emit(testEvent("r1"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, d.Run(ctx))

	assert.Len(t, sink.seen(), 1)
	assert.Contains(t, buf.String(), "sink offline")
}

func TestDispatcherTimesOutSlowSink(t *testing.T) {
	sink := &recordingSink{block: make(chan struct{})}
	var buf bytes.Buffer
	d := NewDispatcher(sink, WithDeliveryTimeout(20*time.Millisecond), WithLogger(obs.NewLogger(&buf, "info")))
	d.Emit(testEvent("slow"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	require.NoError(t, d.Run(ctx))
	assert.Less(t, time.Since(start), time.Second)
	assert.Contains(t, buf.String(), "context deadline exceeded")
}

func TestHubFanOut(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	a := hub.Subscribe(ctx)
	b := hub.Subscribe(ctx)
	require.Equal(t, 2, hub.Subscribers())

	require.NoError(t, hub.Deliver(context.Background(), testEvent("x")))
	assert.Equal(t, "x", (<-a).RecordID)
	assert.Equal(t, "x", (<-b).RecordID)

	cancel()
	require.Eventually(t, func() bool { return hub.Subscribers() == 0 }, time.Second, 5*time.Millisecond)
	_, open := <-a
	assert.False(t, open)
}

func TestMultiSinkJoinsErrors(t *testing.T) {
	first := &recordingSink{err: errors.New("first down")}
	second := &recordingSink{}
	err := MultiSink{first, nil, second}.Deliver(context.Background(), testEvent("m"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "first down")
	assert.Len(t, second.seen(), 1)
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := LogSink{Logger: obs.NewLogger(&buf, "info")}
	require.NoError(t, sink.Deliver(context.Background(), testEvent("logged")))
	assert.Contains(t, buf.String(), `"record_id":"logged"`)
	assert.Contains(t, buf.String(), `"event_type":"CredentialIssued"`)
}
