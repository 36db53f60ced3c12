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

// Package rategate enforces the global outbound request budget. The Portal
// Único accounts requests per wall-clock hour and punishes excess traffic
// with escalating lock-outs, so admission is a process-wide concern: every
// worker passes through one Gate before touching the network.
package rategate

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Gate admits at most limit requests per wall-clock hour and honors
// externally imposed lock-outs. Check and increment happen under one mutex;
// concurrent callers cannot race past the budget.
type Gate struct {
	mu           sync.Mutex
	limit        int
	inWindow     int
	windowStart  time.Time
	blockedUntil time.Time

	// burst smooths short spikes below the hourly budget. Nil when burst
	// limiting is disabled.
	burst *rate.Limiter

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New returns a gate admitting limit requests per hour. perHour is the
// upstream-declared ceiling used to derive the steady burst rate; burst <= 0
// disables burst smoothing.
func New(limit, perHour, burst int) *Gate {
	g := &Gate{
		limit: limit,
		now:   time.Now,
		sleep: sleepCtx,
	}
	g.windowStart = hourStart(g.now())
	if burst > 0 && perHour > 0 {
		g.burst = rate.NewLimiter(rate.Limit(float64(perHour)/3600.0), burst)
	}
	return g
}

func hourStart(t time.Time) time.Time {
	return t.Truncate(time.Hour)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Admit blocks until no lock-out is active and the current hour window has
// budget left, then consumes one slot. The slot is never returned: a request
// counts against the upstream's accounting whether or not it succeeds.
// Cancellation via ctx releases the wait without consuming a slot.
func (g *Gate) Admit(ctx context.Context) error {
	if g.burst != nil {
		if err := g.burst.Wait(ctx); err != nil {
			return err
		}
	}
	for {
		g.mu.Lock()
		now := g.now()
		if !now.Before(g.windowStart.Add(time.Hour)) {
			g.windowStart = hourStart(now)
			g.inWindow = 0
		}
		blocked := now.Before(g.blockedUntil)
		if !blocked && g.inWindow < g.limit {
			g.inWindow++
			g.mu.Unlock()
			return nil
		}
		var wake time.Time
		if blocked {
			wake = g.blockedUntil
		}
		if g.inWindow >= g.limit {
			if end := g.windowStart.Add(time.Hour); end.After(wake) {
				wake = end
			}
		}
		g.mu.Unlock()

		if err := g.sleep(ctx, wake.Sub(now)); err != nil {
			return err
		}
	}
}

// NoteLockout records a provider-imposed release instant. The latest of the
// existing and new instants wins, so concurrent reporters can only extend a
// lock, never shorten it.
func (g *Gate) NoteLockout(until time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if until.After(g.blockedUntil) {
		g.blockedUntil = until
	}
}

// WindowStart reports the start of the current accounting window.
func (g *Gate) WindowStart() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.windowStart
}

// Admitted reports how many requests the current window has consumed.
func (g *Gate) Admitted() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inWindow
}
