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

// Package auth owns the Portal Único bearer credential. One exchange yields
// a Set-Token/CSRF pair valid for about an hour; every outbound request
// carries both. The portal additionally rate limits the auth endpoint
// itself, so exchanges are spaced by a minimum interval and collapsed when
// several workers notice expiry at once.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/brasilcomex/duesync/client"
)

// Credential is one issued bearer. Token goes into Authorization, CSRF into
// X-CSRF-Token.
type Credential struct {
	Token  string    `json:"token"`
	CSRF   string    `json:"csrf"`
	Expiry time.Time `json:"expiry"`
}

// valid reports whether the credential can still be used at instant now,
// keeping the safety margin before the claimed expiry.
func (c Credential) valid(now time.Time, margin time.Duration) bool {
	if c.Token == "" || c.CSRF == "" {
		return false
	}
	return now.Before(c.Expiry.Add(-margin))
}

// Store persists a credential between process runs. Implementations must
// tolerate concurrent processes; last write wins.
type Store interface {
	Load(ctx context.Context) (Credential, bool, error)
	Save(ctx context.Context, cred Credential) error
}

// Config parametrizes an Authority.
type Config struct {
	URL          string
	ClientID     string
	ClientSecret string
	// MinInterval spaces credential exchanges; the portal rejects faster
	// re-authentication with 422.
	MinInterval time.Duration
	// Validity is assumed when the response carries no expiration header.
	Validity     time.Duration
	SafetyMargin time.Duration
}

// Authority provides headers for authenticated requests, refreshing the
// bearer on demand. Refreshes are single-flighted.
type Authority struct {
	cfg   Config
	httpc *http.Client
	store Store // optional
	log   *zap.SugaredLogger

	mu       sync.Mutex
	cred     Credential
	lastAuth time.Time
	loaded   bool

	sf  singleflight.Group
	now func() time.Time
}

// New builds an Authority. store may be nil when persistence between runs is
// disabled.
func New(cfg Config, httpc *http.Client, store Store, log *zap.SugaredLogger) *Authority {
	if httpc == nil {
		httpc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Authority{cfg: cfg, httpc: httpc, store: store, log: log, now: time.Now}
}

// AuthHeaders returns the headers for the next request, refreshing the
// credential when absent, expired or within the safety margin of expiry.
func (a *Authority) AuthHeaders(ctx context.Context) (http.Header, error) {
	cred, err := a.current(ctx)
	if err != nil {
		return nil, err
	}
	h := make(http.Header)
	h.Set("Authorization", cred.Token)
	h.Set("X-CSRF-Token", cred.CSRF)
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	return h, nil
}

// Invalidate drops the held credential so the next AuthHeaders call performs
// a fresh exchange. Called when the upstream rejects the bearer mid-run.
func (a *Authority) Invalidate() {
	a.mu.Lock()
	a.cred = Credential{}
	a.mu.Unlock()
}

func (a *Authority) current(ctx context.Context) (Credential, error) {
	a.mu.Lock()
	if !a.loaded {
		a.loaded = true
		a.loadPersisted(ctx)
	}
	cred := a.cred
	margin := a.cfg.SafetyMargin
	now := a.now()
	a.mu.Unlock()

	if cred.valid(now, margin) {
		return cred, nil
	}

	v, err, _ := a.sf.Do("refresh", func() (interface{}, error) {
		// Re-check under the flight: the caller that lost the race gets
		// the credential the winner just fetched.
		a.mu.Lock()
		if a.cred.valid(a.now(), a.cfg.SafetyMargin) {
			cred := a.cred
			a.mu.Unlock()
			return cred, nil
		}
		a.mu.Unlock()
		return a.refresh(ctx)
	})
	if err != nil {
		return Credential{}, err
	}
	return v.(Credential), nil
}

func (a *Authority) loadPersisted(ctx context.Context) {
	if a.store == nil {
		return
	}
	cred, ok, err := a.store.Load(ctx)
	if err != nil {
		a.log.Warnw("Persisted credential unavailable", "err", err)
		return
	}
	if ok && cred.valid(a.now(), a.cfg.SafetyMargin) {
		a.cred = cred
		a.log.Infow("Reusing persisted credential", "expiry", cred.Expiry)
	}
}

// refresh performs the exchange, honoring the minimum interval between
// authentications and retrying transient failures with a short backoff.
func (a *Authority) refresh(ctx context.Context) (Credential, error) {
	a.mu.Lock()
	wait := a.cfg.MinInterval - a.now().Sub(a.lastAuth)
	a.mu.Unlock()
	if wait > 0 {
		a.log.Infow("Spacing credential exchange", "wait", wait)
		if err := sleepCtx(ctx, wait); err != nil {
			return Credential{}, err
		}
	}

	var cred Credential
	attempt := func() error {
		c, err := a.exchange(ctx)
		if err != nil {
			return err
		}
		cred = c
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	err := backoff.Retry(func() error {
		err := attempt()
		if err == nil {
			return nil
		}
		var authErr *client.AuthError
		if errors.As(err, &authErr) {
			return backoff.Permanent(err)
		}
		a.log.Warnw("Credential exchange failed, retrying", "err", err)
		return err
	}, bo)
	if err != nil {
		return Credential{}, err
	}

	a.mu.Lock()
	a.cred = cred
	a.lastAuth = a.now()
	a.mu.Unlock()

	if a.store != nil {
		if err := a.store.Save(ctx, cred); err != nil {
			a.log.Warnw("Credential persistence failed", "err", err)
		}
	}
	a.log.Infow("Credential refreshed", "expiry", cred.Expiry)
	return cred, nil
}

// exchange performs one POST against the auth endpoint. A 422 is the auth
// endpoint's own rate limit: wait the minimum interval once and try again.
func (a *Authority) exchange(ctx context.Context) (Credential, error) {
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.URL, nil)
		if err != nil {
			return Credential{}, err
		}
		req.Header.Set("Client-Id", a.cfg.ClientID)
		req.Header.Set("Client-Secret", a.cfg.ClientSecret)
		req.Header.Set("Role-Type", "IMPEXP")

		resp, err := a.httpc.Do(req)
		if err != nil {
			return Credential{}, &client.TransientError{URL: a.cfg.URL, Err: err}
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			return a.credentialFrom(resp.Header)
		case resp.StatusCode == http.StatusUnprocessableEntity && attempt == 0:
			a.log.Warnw("Auth endpoint rate limited, waiting before retry", "wait", a.cfg.MinInterval)
			if err := sleepCtx(ctx, a.cfg.MinInterval); err != nil {
				return Credential{}, err
			}
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return Credential{}, &client.AuthError{Status: resp.StatusCode, Reason: "credentials rejected"}
		case resp.StatusCode >= 500:
			return Credential{}, &client.TransientError{URL: a.cfg.URL, Err: fmt.Errorf("status %d", resp.StatusCode)}
		default:
			return Credential{}, &client.AuthError{Status: resp.StatusCode, Reason: "unexpected auth response"}
		}
	}
}

func (a *Authority) credentialFrom(h http.Header) (Credential, error) {
	token := h.Get("Set-Token")
	csrf := h.Get("X-CSRF-Token")
	if token == "" || csrf == "" {
		return Credential{}, &client.AuthError{Reason: "auth response missing token headers"}
	}
	expiry := a.now().Add(a.cfg.Validity)
	if raw := h.Get("X-CSRF-Expiration"); raw != "" {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			expiry = time.UnixMilli(ms)
		}
	}
	return Credential{Token: token, CSRF: csrf, Expiry: expiry}, nil
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
