package alerting

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"anomaly-watchdog/internal/monitoring/models"
	"anomaly-watchdog/internal/monitoring/notify"
	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDeliverer struct {
	mu       sync.Mutex
	messages []notify.Message
	result   bool
}

func (r *recordingDeliverer) Deliver(ctx context.Context, msg notify.Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return r.result
}

func (r *recordingDeliverer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

func newTestManager() (*Manager, *recordingDeliverer, *fakeclock.FakeClock) {
	clk := fakeclock.NewFakeClock(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	d := &recordingDeliverer{result: true}
	return NewManager(d, clk), d, clk
}

func TestFireSuppressesSameValueWithinCooldown(t *testing.T) {
	m, d, clk := newTestManager()
	ctx := context.Background()
	msg := notify.Message{Body: "cpu"}

	assert.True(t, m.Fire(ctx, "k", msg, 600*time.Second, 95.0))
	clk.Increment(60 * time.Second)
	assert.False(t, m.Fire(ctx, "k", msg, 600*time.Second, 95.0), "same value inside cooldown must be suppressed")

	// Valor diferente ignora o cooldown
	assert.True(t, m.Fire(ctx, "k", msg, 600*time.Second, 99.0))
	assert.Equal(t, 2, d.count())
}

func TestFireAfterCooldownElapsed(t *testing.T) {
	m, d, clk := newTestManager()
	ctx := context.Background()

	require.True(t, m.Fire(ctx, "k", notify.Message{}, 600*time.Second, 95.0))
	clk.Increment(600 * time.Second)
	assert.True(t, m.Fire(ctx, "k", notify.Message{}, 600*time.Second, 95.0))
	assert.Equal(t, 2, d.count())
}

func TestFireNilValueCountsAsUnchanged(t *testing.T) {
	m, d, clk := newTestManager()
	ctx := context.Background()

	require.True(t, m.Fire(ctx, "offline", notify.Message{}, 60*time.Second, nil))
	clk.Increment(30 * time.Second)
	assert.False(t, m.Fire(ctx, "offline", notify.Message{}, 60*time.Second, nil))

	// Valor atual nil suprime mesmo com valor anterior definido
	require.True(t, m.Fire(ctx, "mac", notify.Message{}, 600*time.Second, "aa:bb"))
	assert.False(t, m.Fire(ctx, "mac", notify.Message{}, 600*time.Second, nil))

	assert.Equal(t, 2, d.count())
}

func TestFireCompositeValue(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()

	require.True(t, m.Fire(ctx, "net", notify.Message{}, 600*time.Second, NetPair{In: 90, Out: 10}))
	assert.False(t, m.Fire(ctx, "net", notify.Message{}, 600*time.Second, NetPair{In: 90, Out: 10}))
	assert.True(t, m.Fire(ctx, "net", notify.Message{}, 600*time.Second, NetPair{In: 90, Out: 11}))
}

func TestClearAllowsImmediateRefire(t *testing.T) {
	m, d, _ := newTestManager()
	ctx := context.Background()

	require.True(t, m.Fire(ctx, "k", notify.Message{}, time.Hour, 95.0))
	assert.True(t, m.Clear("k"))
	assert.False(t, m.Clear("k"), "second clear finds nothing")

	assert.True(t, m.Fire(ctx, "k", notify.Message{}, time.Hour, 95.0), "cleared key must fire again with the same value")
	assert.Equal(t, 2, d.count())
}

func TestRecordUpdatedEvenWhenDeliveryFails(t *testing.T) {
	clk := fakeclock.NewFakeClock(time.Now())
	d := &recordingDeliverer{result: false}
	m := NewManager(d, clk)

	var hookDelivered []bool
	m.OnDispatch(func(key models.AlertKey, msg notify.Message, delivered bool) {
		hookDelivered = append(hookDelivered, delivered)
	})

	assert.True(t, m.Fire(context.Background(), "k", notify.Message{}, time.Minute, 1.0))
	assert.False(t, m.Fire(context.Background(), "k", notify.Message{}, time.Minute, 1.0))
	assert.Equal(t, []bool{false}, hookDelivered)
	assert.Equal(t, 1, m.Len())
}

func TestSnapshotSortedByKey(t *testing.T) {
	m, _, clk := newTestManager()
	ctx := context.Background()

	m.Fire(ctx, "b", notify.Message{}, time.Minute, 1.0)
	m.Fire(ctx, "a", notify.Message{}, time.Minute, 2.0)

	snap := m.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, models.AlertKey("a"), snap[0].Key)
	assert.Equal(t, clk.Now().Add(time.Minute), snap[0].ExpiresAt())
}

func TestConcurrentFireSameKey(t *testing.T) {
	m, d, _ := newTestManager()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Fire(ctx, "shared", notify.Message{}, time.Hour, 95.0)
		}()
	}
	wg.Wait()

	// Apenas o primeiro passa; o resto encontra o registro
	assert.Equal(t, 1, d.count())
}

func TestConcurrentFireManyKeys(t *testing.T) {
	m, d, _ := newTestManager()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := models.HostKey(fmt.Sprintf("10.0.0.%d", i), "cpu_high")
			m.Fire(ctx, key, notify.Message{}, time.Hour, float64(i))
			m.Clear(key)
			m.Fire(ctx, key, notify.Message{}, time.Hour, float64(i))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 40, d.count())
	assert.Equal(t, 20, m.Len())
}
