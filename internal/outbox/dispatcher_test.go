package outbox

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-engine/internal/channel"
	"github.com/sells-group/prospect-engine/internal/config"
	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/internal/monitoring"
	"github.com/sells-group/prospect-engine/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "outbox.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

type recorder struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (r *recorder) Send(_ context.Context, recipient, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, recipient+": "+text)
	return nil
}

func enqueue(t *testing.T, st store.Store, ch model.Channel, recipient, payload string) string {
	t.Helper()
	n := &model.Notification{Channel: ch, Recipient: recipient, Payload: payload}
	require.NoError(t, st.EnqueueNotification(context.Background(), n))
	return n.ID
}

func TestTick_DeliversPending(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	email := &recorder{}
	reg := channel.NewRegistry()
	reg.Register(model.ChannelEmail, email)

	enqueue(t, st, model.ChannelEmail, "a@x.ug", "one")
	enqueue(t, st, model.ChannelEmail, "b@x.ug", "two")

	d := NewDispatcher(st, reg, config.OutboxConfig{}, WithMetrics(monitoring.NewMetrics()))
	res, err := d.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, TickResult{Claimed: 2, Sent: 2}, res)
	assert.ElementsMatch(t, []string{"a@x.ug: one", "b@x.ug: two"}, email.sent)

	res, err = d.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Claimed)
}

func TestTick_DisabledChannelCountedAsDropped(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	email := &recorder{}
	reg := channel.NewRegistry()
	reg.Register(model.ChannelEmail, email)
	reg.Register(model.ChannelSMS, channel.Disabled{Channel: model.ChannelSMS})

	enqueue(t, st, model.ChannelEmail, "a@x.ug", "one")
	enqueue(t, st, model.ChannelSMS, "+256700000001", "two")

	d := NewDispatcher(st, reg, config.OutboxConfig{}, WithClock(func() time.Time { return now }))
	res, err := d.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, TickResult{Claimed: 2, Sent: 2}, res, "a drop is not retried")
	assert.Equal(t, []string{"a@x.ug: one"}, email.sent)

	counters, err := st.GetCounters(ctx, model.DayKey(now))
	require.NoError(t, err)
	assert.Equal(t, 1, counters[MetricDropped+"sms"])
	assert.Zero(t, counters[MetricDropped+"email"])
}

func TestTick_RetriesThenDeadLetters(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	sms := &recorder{err: errors.New("gateway sms: status 400")}
	reg := channel.NewRegistry()
	reg.Register(model.ChannelSMS, sms)
	enqueue(t, st, model.ChannelSMS, "+256700000001", "hello")

	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	d := NewDispatcher(st, reg, config.OutboxConfig{MaxAttempts: 3}, WithClock(func() time.Time { return now }))

	for i := 0; i < 2; i++ {
		res, err := d.Tick(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Retrying, "attempt %d", i+1)
	}
	res, err := d.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.DeadLettered)

	res, err = d.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Claimed, "dead letters are never claimed again")

	counters, err := st.GetCounters(ctx, model.DayKey(now))
	require.NoError(t, err)
	assert.Equal(t, 1, counters[MetricDeadLettered])
}

func TestTick_UnsupportedChannelFails(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	enqueue(t, st, model.ChannelInstagram, "ida.ig", "hi")

	d := NewDispatcher(st, channel.NewRegistry(), config.OutboxConfig{MaxAttempts: 1})
	res, err := d.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.DeadLettered)
}

func TestTick_RequeuesStaleSending(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	email := &recorder{}
	reg := channel.NewRegistry()
	reg.Register(model.ChannelEmail, email)
	enqueue(t, st, model.ChannelEmail, "a@x.ug", "stuck")

	// A dispatcher crashed after claiming the row.
	claimed, err := st.ClaimNotifications(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	later := func() time.Time { return time.Now().Add(20 * time.Minute) }
	d := NewDispatcher(st, reg, config.OutboxConfig{}, WithClock(later), WithStaleAfter(10*time.Minute))
	res, err := d.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Requeued)
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, []string{"a@x.ug: stuck"}, email.sent)
}

func TestRun_StopsOnCancel(t *testing.T) {
	st := newTestStore(t)
	email := &recorder{}
	reg := channel.NewRegistry()
	reg.Register(model.ChannelEmail, email)
	enqueue(t, st, model.ChannelEmail, "a@x.ug", "loop")

	ctx, cancel := context.WithCancel(context.Background())
	d := NewDispatcher(st, reg, config.OutboxConfig{PollIntervalSecs: 3600})
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool {
		email.mu.Lock()
		defer email.mu.Unlock()
		return len(email.sent) == 1
	}, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}
