package instance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testTimeout = 30 * time.Minute

func newTestSweeper(t *testing.T, store Store, clock *fakeClock) *Sweeper {
	t.Helper()
	s, err := NewSweeper(SweeperOptions{
		Store:   store,
		Logger:  zaptest.NewLogger(t),
		Timeout: testTimeout,
		Clock:   clock.Now,
	})
	require.NoError(t, err)
	return s
}

func activeInstance(id string, lastHeartbeat time.Time) Instance {
	return Instance{
		ID:            id,
		ClientID:      "client-" + id,
		Name:          "name-" + id,
		Address:       nullable("10.0.0.1"),
		Active:        true,
		LastHeartbeat: lastHeartbeat,
	}
}

func TestNewSweeper(t *testing.T) {
	logger := zaptest.NewLogger(t)

	_, err := NewSweeper(SweeperOptions{Logger: logger, Timeout: time.Minute})
	assert.EqualError(t, err, "nil Store is invalid")

	_, err = NewSweeper(SweeperOptions{Store: newMemStore(), Timeout: time.Minute})
	assert.EqualError(t, err, "nil Logger is invalid")

	_, err = NewSweeper(SweeperOptions{Store: newMemStore(), Logger: logger})
	assert.EqualError(t, err, "Timeout must be positive")
}

func TestSweepBoundary(t *testing.T) {
	store := newMemStore()
	clock := newFakeClock()
	now := clock.Now()

	store.put(activeInstance("fresh", now.Add(-testTimeout+time.Minute)))
	store.put(activeInstance("stale", now.Add(-testTimeout-time.Minute)))
	stopped := activeInstance("stopped", now.Add(-2*testTimeout))
	stopped.Active = false
	store.put(stopped)

	result, err := newTestSweeper(t, store, clock).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Expired: 1}, result)

	assert.True(t, store.get("fresh").Active)
	stale := store.get("stale")
	assert.False(t, stale.Active)
	assert.Nil(t, stale.Address)
	assert.Equal(t, []EventType{EventServerTimeOut}, store.eventTypes("stale"))
	assert.Empty(t, store.eventTypes("fresh"))
	assert.Empty(t, store.eventTypes("stopped"))
}

func TestSweepIsolatesFailures(t *testing.T) {
	store := newMemStore()
	clock := newFakeClock()
	old := clock.Now().Add(-time.Hour)

	store.put(activeInstance("a", old))
	store.put(activeInstance("b", old))
	store.put(activeInstance("c", old))
	store.expireErr["b"] = errors.New("deadlock detected")

	result, err := newTestSweeper(t, store, clock).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Expired: 2, Failed: 1}, result)

	assert.False(t, store.get("a").Active)
	assert.True(t, store.get("b").Active)
	assert.False(t, store.get("c").Active)
	assert.Empty(t, store.eventTypes("b"))
}

func TestSweepRollsBackWhenEventFails(t *testing.T) {
	store := newMemStore()
	clock := newFakeClock()
	store.put(activeInstance("a", clock.Now().Add(-time.Hour)))
	store.eventErr = errors.New("event log unavailable")

	result, err := newTestSweeper(t, store, clock).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Failed: 1}, result)
	assert.True(t, store.get("a").Active)
}

func TestSweepSkipsRevivedInstance(t *testing.T) {
	store := newMemStore()
	clock := newFakeClock()
	store.put(activeInstance("a", clock.Now().Add(-time.Hour)))

	// a heartbeat lands between listing and expiring
	store.beforeExpire = func(s *memStore, id string) {
		s.instances[id].LastHeartbeat = clock.Now()
	}

	result, err := newTestSweeper(t, store, clock).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, result)
	assert.True(t, store.get("a").Active)
	assert.Empty(t, store.eventTypes("a"))
}

func TestSweepWithRegistry(t *testing.T) {
	reg, store, clock := newTestRegistry(t)
	sweeper := newTestSweeper(t, store, clock)
	ctx := context.Background()

	res, err := reg.Register(ctx, registerRequest("client-a", "game"))
	require.NoError(t, err)

	clock.Advance(testTimeout - time.Minute)
	result, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Expired)

	clock.Advance(2 * time.Minute)
	result, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Expired)

	// the name is free for someone else now
	other, err := reg.Register(ctx, registerRequest("client-b", "game"))
	require.NoError(t, err)
	assert.Equal(t, RegisterCreated, other.Status)

	status, err := reg.Heartbeat(ctx, HeartbeatRequest{ID: res.ID, ClientID: "client-a", Address: "10.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, HeartbeatNameExists, status)
}
