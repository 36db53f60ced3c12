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

package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/brasilcomex/duesync/internal/log"
)

type fakeGate struct {
	admits   atomic.Int64
	lockedAt atomic.Pointer[time.Time]
}

func (g *fakeGate) Admit(ctx context.Context) error {
	g.admits.Add(1)
	return ctx.Err()
}

func (g *fakeGate) NoteLockout(until time.Time) {
	g.lockedAt.Store(&until)
}

type fakeToken struct {
	invalidated atomic.Int64
}

func (t *fakeToken) AuthHeaders(ctx context.Context) (http.Header, error) {
	h := make(http.Header)
	h.Set("Authorization", "bearer")
	h.Set("X-CSRF-Token", "csrf")
	return h, nil
}

func (t *fakeToken) Invalidate() { t.invalidated.Add(1) }

func newTestClient(srv *httptest.Server, gate *fakeGate, token *fakeToken) *Client {
	return New(srv.Client(), gate, token, time.UTC, log.Nop())
}

func TestSuccessReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"numero":"24BR0000000001"}`))
	}))
	defer srv.Close()

	gate, token := new(fakeGate), new(fakeToken)
	c := newTestClient(srv, gate, token)
	raw, err := c.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	require.JSONEq(t, `{"numero":"24BR0000000001"}`, string(raw))
	require.Equal(t, int64(1), gate.admits.Load())
}

func TestBearerRejectionRetriesOnce(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	gate, token := new(fakeGate), new(fakeToken)
	c := newTestClient(srv, gate, token)
	_, err := c.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, int64(1), token.invalidated.Load())
	// Both sends passed through the gate.
	require.Equal(t, int64(2), gate.admits.Load())
}

func TestPersistentBearerRejectionFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	gate, token := new(fakeGate), new(fakeToken)
	c := newTestClient(srv, gate, token)
	_, err := c.Get(context.Background(), srv.URL)
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, int64(1), token.invalidated.Load())
}

func TestLockoutParsedAndReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"code":"PUCX-ER1001","message":"Limite excedido. Acesso liberado após as 15:30:00"}`))
	}))
	defer srv.Close()

	gate, token := new(fakeGate), new(fakeToken)
	c := newTestClient(srv, gate, token)
	c.now = func() time.Time { return time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC) }

	_, err := c.Get(context.Background(), srv.URL)
	var locked *RateLockedError
	require.ErrorAs(t, err, &locked)
	require.Equal(t, time.Date(2024, 3, 1, 15, 30, 0, 0, time.UTC), locked.Until)

	noted := gate.lockedAt.Load()
	require.NotNil(t, noted)
	require.Equal(t, locked.Until, *noted)
	// No retry on a lock-out: exactly one admission consumed.
	require.Equal(t, int64(1), gate.admits.Load())
}

func TestLockoutReleaseInPastRollsOver(t *testing.T) {
	c := New(nil, new(fakeGate), new(fakeToken), time.UTC, log.Nop())
	c.now = func() time.Time { return time.Date(2024, 3, 1, 16, 0, 0, 0, time.UTC) }

	release := c.parseRelease("liberado após as 15:30")
	require.Equal(t, time.Date(2024, 3, 2, 15, 30, 0, 0, time.UTC), release)
}

func TestLockoutWithoutTimeFallsBackToHourBoundary(t *testing.T) {
	c := New(nil, new(fakeGate), new(fakeToken), time.UTC, log.Nop())
	c.now = func() time.Time { return time.Date(2024, 3, 1, 14, 42, 10, 0, time.UTC) }

	release := c.parseRelease("Limite de requisições excedido")
	require.Equal(t, time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC), release)
}

func TestTransientRetriedThenFails(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	gate, token := new(fakeGate), new(fakeToken)
	c := newTestClient(srv, gate, token)
	_, err := c.Get(context.Background(), srv.URL)
	var te *TransientError
	require.ErrorAs(t, err, &te)
	// Initial send plus two retries.
	require.Equal(t, int64(3), hits.Load())
}

func TestPermanentNotRetried(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	gate, token := new(fakeGate), new(fakeToken)
	c := newTestClient(srv, gate, token)
	_, err := c.Get(context.Background(), srv.URL)
	var pe *PermanentError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, http.StatusNotFound, pe.Status)
	require.Equal(t, int64(1), hits.Load())
}
