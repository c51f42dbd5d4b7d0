package alerts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doorguard/internal/model"
	"doorguard/internal/notify"
)

type fakeNotifier struct {
	mu    sync.Mutex
	calls []notify.AlertRequest
	fail  error
	reply *bool
	block chan struct{}
	enter chan struct{}
	// onSend runs after the call is recorded, before the reply.
	onSend func()
}

func (f *fakeNotifier) SendAlert(ctx context.Context, req notify.AlertRequest) (notify.AlertResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	fail, reply, block, enter, onSend := f.fail, f.reply, f.block, f.enter, f.onSend
	f.mu.Unlock()
	if onSend != nil {
		onSend()
	}
	if enter != nil {
		enter <- struct{}{}
	}
	if block != nil {
		<-block
	}
	if fail != nil {
		return notify.AlertResponse{}, fail
	}
	if reply != nil {
		return notify.AlertResponse{Success: reply}, nil
	}
	ok := true
	return notify.AlertResponse{Success: &ok}, nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestDispatcher(n notify.Notifier, clock *fakeClock) (*Dispatcher, *Store) {
	store := NewStore(10)
	d := NewDispatcher(n, NewMemoryThrottle(), store, DispatcherOptions{Now: clock.Now}, nil)
	return d, store
}

func TestCooldownSuppressesWithinFiveMinutes(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 23, 15, 0, 0, time.UTC)}
	n := &fakeNotifier{}
	d, store := newTestDispatcher(n, clock)
	ctx := context.Background()

	if got := d.MaybeSend(ctx, Trigger{Kind: model.AlertIntrusion, ReadingID: 1}); got != OutcomeSent {
		t.Fatalf("first call: %s", got)
	}
	clock.Advance(10 * time.Second)
	if got := d.MaybeSend(ctx, Trigger{Kind: model.AlertIntrusion, ReadingID: 2}); got != OutcomeCoolingDown {
		t.Fatalf("second call: %s", got)
	}
	if n.count() != 1 {
		t.Fatalf("expected 1 dispatch, got %d", n.count())
	}
	if store.Len() != 1 {
		t.Fatalf("expected 1 stored alert, got %d", store.Len())
	}
}

func TestCooldownExpiresAfterFiveMinutes(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 23, 15, 0, 0, time.UTC)}
	n := &fakeNotifier{}
	d, _ := newTestDispatcher(n, clock)
	ctx := context.Background()

	d.MaybeSend(ctx, Trigger{Kind: model.AlertIntrusion, ReadingID: 1})
	clock.Advance(6 * time.Minute)
	if got := d.MaybeSend(ctx, Trigger{Kind: model.AlertIntrusion, ReadingID: 2}); got != OutcomeSent {
		t.Fatalf("second call: %s", got)
	}
	if n.count() != 2 {
		t.Fatalf("expected 2 dispatches, got %d", n.count())
	}
}

func TestCooldownIsPerKind(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	n := &fakeNotifier{}
	d, _ := newTestDispatcher(n, clock)
	ctx := context.Background()

	d.MaybeSend(ctx, Trigger{Kind: model.AlertIntrusion, ReadingID: 1})
	if got := d.MaybeSend(ctx, Trigger{Kind: model.AlertDoorOpenTooLong, ReadingID: 1}); got != OutcomeSent {
		t.Fatalf("other kind should not be throttled: %s", got)
	}
}

func TestFailureDoesNotAdvanceCooldown(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 23, 15, 0, 0, time.UTC)}
	no := false
	cases := map[string]*fakeNotifier{
		"transport error": {fail: errors.New("connection refused")},
		"success false":   {reply: &no},
	}
	for name, n := range cases {
		t.Run(name, func(t *testing.T) {
			d, store := newTestDispatcher(n, clock)
			ctx := context.Background()
			if got := d.MaybeSend(ctx, Trigger{Kind: model.AlertIntrusion, ReadingID: 1}); got != OutcomeFailed {
				t.Fatalf("expected failure, got %s", got)
			}
			n.mu.Lock()
			n.fail, n.reply = nil, nil
			n.mu.Unlock()
			clock.Advance(3 * time.Second)
			if got := d.MaybeSend(ctx, Trigger{Kind: model.AlertIntrusion, ReadingID: 1}); got != OutcomeSent {
				t.Fatalf("retry should send, got %s", got)
			}
			if store.Len() != 1 {
				t.Fatalf("only the successful send is stored, got %d", store.Len())
			}
		})
	}
}

func TestInFlightGuardSuppressesConcurrentDuplicate(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 23, 15, 0, 0, time.UTC)}
	n := &fakeNotifier{block: make(chan struct{}), enter: make(chan struct{}, 1)}
	d, _ := newTestDispatcher(n, clock)
	ctx := context.Background()

	done := make(chan Outcome, 1)
	go func() { done <- d.MaybeSend(ctx, Trigger{Kind: model.AlertIntrusion, ReadingID: 5, Source: "push"}) }()
	<-n.enter

	if got := d.MaybeSend(ctx, Trigger{Kind: model.AlertIntrusion, ReadingID: 5, Source: "poll"}); got != OutcomeInFlight {
		t.Fatalf("expected in-flight suppression, got %s", got)
	}
	close(n.block)
	if got := <-done; got != OutcomeSent {
		t.Fatalf("first dispatch: %s", got)
	}
	if n.count() != 1 {
		t.Fatalf("expected 1 dispatch, got %d", n.count())
	}
}

func TestRedisThrottleSharesCooldown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	clock := &fakeClock{now: time.Date(2024, 3, 1, 23, 15, 0, 0, time.UTC)}
	n := &fakeNotifier{}
	opts := DispatcherOptions{Now: clock.Now}
	a := NewDispatcher(n, NewRedisThrottle(client, "door:last_sent:", 10*time.Minute), nil, opts, nil)
	b := NewDispatcher(n, NewRedisThrottle(client, "door:last_sent:", 10*time.Minute), nil, opts, nil)
	ctx := context.Background()

	require.Equal(t, OutcomeSent, a.MaybeSend(ctx, Trigger{Kind: model.AlertIntrusion, ReadingID: 1}))
	clock.Advance(30 * time.Second)
	assert.Equal(t, OutcomeCoolingDown, b.MaybeSend(ctx, Trigger{Kind: model.AlertIntrusion, ReadingID: 1}))
	assert.Equal(t, 1, n.count())
	assert.True(t, mr.Exists("door:last_sent:intrusion"))
}

func TestRedisThrottleUnavailableStillSends(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	clock := &fakeClock{now: time.Date(2024, 3, 1, 23, 15, 0, 0, time.UTC)}
	n := &fakeNotifier{}
	d := NewDispatcher(n, NewRedisThrottle(client, "door:", time.Minute), nil, DispatcherOptions{Now: clock.Now}, nil)
	assert.Equal(t, OutcomeSent, d.MaybeSend(context.Background(), Trigger{Kind: model.AlertIntrusion}))
	assert.Equal(t, 1, n.count())
}

func TestStoreRingKeepsNewest(t *testing.T) {
	s := NewStore(2)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		s.Add(model.Alert{ID: string(rune('a' + i)), Timestamp: base.Add(time.Duration(i) * time.Minute)})
	}
	list := s.List(0)
	if len(list) != 2 || list[0].ID != "b" || list[1].ID != "c" {
		t.Fatalf("unexpected ring contents %+v", list)
	}
	if got := s.Since(base.Add(2 * time.Minute)); len(got) != 1 || got[0].ID != "c" {
		t.Fatalf("since: %+v", got)
	}
	if got := s.List(1); len(got) != 1 || got[0].ID != "c" {
		t.Fatalf("list(1): %+v", got)
	}
	s.Clear()
	if s.Len() != 0 {
		t.Fatalf("clear failed")
	}
}

// ctxThrottle fails writes made with a cancelled context, like a network backend would.
type ctxThrottle struct {
	*MemoryThrottle
}

func (c ctxThrottle) MarkSent(ctx context.Context, kind model.AlertKind, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.MemoryThrottle.MarkSent(ctx, kind, at)
}

func TestCooldownRecordedWhenCallerCancelsAfterSend(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 23, 15, 0, 0, time.UTC)}
	ctx, cancel := context.WithCancel(context.Background())
	n := &fakeNotifier{onSend: cancel}
	d := NewDispatcher(n, ctxThrottle{NewMemoryThrottle()}, nil, DispatcherOptions{Now: clock.Now}, nil)

	if got := d.MaybeSend(ctx, Trigger{Kind: model.AlertIntrusion, ReadingID: 1}); got != OutcomeSent {
		t.Fatalf("first call: %s", got)
	}
	clock.Advance(10 * time.Second)
	if got := d.MaybeSend(context.Background(), Trigger{Kind: model.AlertIntrusion, ReadingID: 2}); got != OutcomeCoolingDown {
		t.Fatalf("cooldown lost after cancelled request: %s", got)
	}
}

func TestSetCooldownAndReset(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 23, 15, 0, 0, time.UTC)}
	n := &fakeNotifier{}
	d, _ := newTestDispatcher(n, clock)
	ctx := context.Background()

	d.MaybeSend(ctx, Trigger{Kind: model.AlertIntrusion, ReadingID: 1})
	d.SetCooldown(time.Minute)
	clock.Advance(90 * time.Second)
	if got := d.MaybeSend(ctx, Trigger{Kind: model.AlertIntrusion, ReadingID: 2}); got != OutcomeSent {
		t.Fatalf("shorter cooldown not applied: %s", got)
	}
	if got := d.MaybeSend(ctx, Trigger{Kind: model.AlertIntrusion, ReadingID: 3}); got != OutcomeCoolingDown {
		t.Fatalf("expected cooldown: %s", got)
	}
	if err := d.ResetCooldowns(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if got := d.MaybeSend(ctx, Trigger{Kind: model.AlertIntrusion, ReadingID: 4}); got != OutcomeSent {
		t.Fatalf("reset should re-arm: %s", got)
	}
	d.SetCooldown(0)
	if d.Cooldown() != DefaultCooldown {
		t.Fatalf("zero cooldown should restore default, got %v", d.Cooldown())
	}
}

func TestRedisThrottleReset(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	th := NewRedisThrottle(client, "door:", time.Hour)
	require.NoError(t, th.MarkSent(ctx, model.AlertIntrusion, time.Now()))
	require.NoError(t, th.MarkSent(ctx, model.AlertDoorOpenTooLong, time.Now()))
	require.NoError(t, th.Reset(ctx))
	_, ok, err := th.LastSent(ctx, model.AlertIntrusion)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, mr.Exists("door:door_open_too_long"))
}
