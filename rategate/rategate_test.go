// Copyright 2025 The duesync Authors
// This file is part of the duesync library.
//
// The duesync library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The duesync library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the duesync library. If not, see <http://www.gnu.org/licenses/>.

package rategate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeClock drives a Gate deterministically. Sleepers park on a channel that
// Advance closes, so waiters re-check the gate exactly when time moves.
type fakeClock struct {
	mu   sync.Mutex
	t    time.Time
	wake chan struct{}
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{t: t, wake: make(chan struct{})}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	ch := c.wake
	c.mu.Unlock()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return nil
	}
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	old := c.wake
	c.wake = make(chan struct{})
	c.mu.Unlock()
	close(old)
}

func newTestGate(limit int, clock *fakeClock) *Gate {
	g := New(limit, 0, 0)
	g.now = clock.now
	g.sleep = clock.sleep
	g.windowStart = hourStart(clock.now())
	return g
}

// waitFor polls until cond holds, nudging sleepers each round so a waiter
// that parked just after an advance still observes it.
func waitFor(t *testing.T, clock *fakeClock, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		clock.advance(0)
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached")
}

// stillBlocked asserts that done stays empty while sleepers are nudged.
func stillBlocked(t *testing.T, clock *fakeClock, done chan error) {
	t.Helper()
	for i := 0; i < 20; i++ {
		select {
		case <-done:
			t.Fatal("admit completed while it should block")
		default:
		}
		clock.advance(0)
		time.Sleep(time.Millisecond)
	}
}

// settle drains one admit result, nudging sleepers until it arrives.
func settle(t *testing.T, clock *fakeClock, done chan error) error {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case err := <-done:
			return err
		default:
		}
		clock.advance(0)
		time.Sleep(time.Millisecond)
	}
	t.Fatal("admit never completed")
	return nil
}

// The hourly cap must hold under heavy parallelism: with 64 goroutines
// contending, each window admits exactly limit callers and no more.
func TestHourlyCapUnderParallelism(t *testing.T) {
	const (
		limit   = 10
		callers = 64
	)
	clock := newFakeClock(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	g := newTestGate(limit, clock)

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, g.Admit(context.Background()))
			admitted.Add(1)
		}()
	}

	// First window fills to the cap and holds there.
	waitFor(t, clock, func() bool { return admitted.Load() == limit })
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int64(limit), admitted.Load())
	require.Equal(t, limit, g.Admitted())

	// Each hour boundary releases exactly one more window's worth.
	for total := int64(limit); total < callers; {
		clock.advance(time.Hour)
		next := total + limit
		if next > callers {
			next = callers
		}
		waitFor(t, clock, func() bool { return admitted.Load() == next })
		require.Equal(t, next, admitted.Load())
		require.LessOrEqual(t, g.Admitted(), limit)
		total = next
	}
	wg.Wait()
}

func TestWindowBoundaryAdmitsImmediately(t *testing.T) {
	clock := newFakeClock(time.Date(2024, 3, 1, 10, 59, 0, 0, time.UTC))
	g := newTestGate(2, clock)

	require.NoError(t, g.Admit(context.Background()))
	require.NoError(t, g.Admit(context.Background()))

	done := make(chan error, 1)
	go func() { done <- g.Admit(context.Background()) }()

	stillBlocked(t, clock, done)

	clock.advance(time.Minute) // crosses 11:00
	require.NoError(t, settle(t, clock, done))
	require.Equal(t, 1, g.Admitted())
	require.Equal(t, time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC), g.WindowStart())
}

func TestLockoutBlocksUntilRelease(t *testing.T) {
	clock := newFakeClock(time.Date(2024, 3, 1, 10, 5, 0, 0, time.UTC))
	g := newTestGate(100, clock)

	g.NoteLockout(clock.now().Add(10 * time.Minute))

	done := make(chan error, 1)
	go func() { done <- g.Admit(context.Background()) }()

	clock.advance(5 * time.Minute)
	stillBlocked(t, clock, done)

	clock.advance(6 * time.Minute)
	require.NoError(t, settle(t, clock, done))
}

func TestLockoutOnlyExtends(t *testing.T) {
	clock := newFakeClock(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	g := newTestGate(100, clock)

	late := clock.now().Add(30 * time.Minute)
	g.NoteLockout(late)
	g.NoteLockout(clock.now().Add(5 * time.Minute)) // must not shorten

	done := make(chan error, 1)
	go func() { done <- g.Admit(context.Background()) }()

	clock.advance(10 * time.Minute)
	stillBlocked(t, clock, done)

	clock.advance(21 * time.Minute)
	require.NoError(t, settle(t, clock, done))
}

func TestCancelledAdmitLeaksNoSlot(t *testing.T) {
	clock := newFakeClock(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	g := newTestGate(1, clock)

	require.NoError(t, g.Admit(context.Background()))
	require.Equal(t, 1, g.Admitted())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Admit(ctx) }()
	time.Sleep(10 * time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	require.Equal(t, 1, g.Admitted())
}
