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

// Package client executes single upstream calls: rate-gate admission,
// authentication headers, response classification and lock-out detection.
// It deliberately never retries a rate-locked call; traffic during a lock
// escalates the penalty, so the error surfaces and the next admission
// blocks instead.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// lockCode is the Portal Único marker for a rate-limit lock-out.
const lockCode = "PUCX-ER1001"

// releasePattern extracts the release clock time from the lock-out message,
// e.g. "Bloqueado. Acesso liberado após as 15:00:00".
var releasePattern = regexp.MustCompile(`após as (\d{1,2}):(\d{2})(?::(\d{2}))?`)

// TokenSource supplies authentication headers and accepts invalidation when
// the upstream rejects the bearer.
type TokenSource interface {
	AuthHeaders(ctx context.Context) (http.Header, error)
	Invalidate()
}

// Gate admits outbound requests and absorbs lock-outs.
type Gate interface {
	Admit(ctx context.Context) error
	NoteLockout(until time.Time)
}

// Client wraps one upstream call end to end.
type Client struct {
	httpc *http.Client
	gate  Gate
	token TokenSource
	loc   *time.Location
	log   *zap.SugaredLogger

	// maxTransientRetries bounds re-sends after 5xx/timeouts. Each retry
	// passes through the gate again.
	maxTransientRetries uint64

	now func() time.Time
}

// New builds a Client. loc is the timezone lock-out release times are
// quoted in.
func New(httpc *http.Client, gate Gate, token TokenSource, loc *time.Location, log *zap.SugaredLogger) *Client {
	if httpc == nil {
		httpc = &http.Client{Timeout: 30 * time.Second}
	}
	if loc == nil {
		loc = time.Local
	}
	return &Client{
		httpc:               httpc,
		gate:                gate,
		token:               token,
		loc:                 loc,
		log:                 log,
		maxTransientRetries: 2,
		now:                 time.Now,
	}
}

// Get issues a GET and decodes nothing; the raw body is returned for the
// caller to unmarshal.
func (c *Client) Get(ctx context.Context, url string) (json.RawMessage, error) {
	return c.Do(ctx, http.MethodGet, url, nil)
}

// Do executes method url with the gate and token attached. Transient
// failures are retried with jittered backoff; auth rejection triggers one
// invalidate-and-retry; a lock-out fails immediately after informing the
// gate.
func (c *Client) Do(ctx context.Context, method, url string, body []byte) (json.RawMessage, error) {
	var out json.RawMessage
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxTransientRetries), ctx)
	err := backoff.Retry(func() error {
		raw, err := c.once(ctx, method, url, body, true)
		if err == nil {
			out = raw
			return nil
		}
		var te *TransientError
		if errors.As(err, &te) {
			c.log.Warnw("Transient upstream failure, will retry", "url", url, "err", err)
			return err
		}
		return backoff.Permanent(err)
	}, bo)
	return out, err
}

// once performs a single send. allowAuthRetry permits one
// invalidate-and-resend when the bearer is rejected.
func (c *Client) once(ctx context.Context, method, url string, body []byte, allowAuthRetry bool) (json.RawMessage, error) {
	if err := c.gate.Admit(ctx); err != nil {
		return nil, err
	}
	headers, err := c.token.AuthHeaders(ctx)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, &TransientError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, &TransientError{URL: url, Err: err}
	}

	// The lock marker can ride on any status code; check before the
	// status switch.
	if until, msg, locked := c.lockoutFrom(payload); locked {
		c.gate.NoteLockout(until)
		c.log.Warnw("Upstream lock-out detected", "until", until, "message", msg)
		return nil, &RateLockedError{Until: until, Message: msg}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return payload, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		if allowAuthRetry {
			c.log.Infow("Bearer rejected, refreshing and retrying once", "url", url)
			c.token.Invalidate()
			return c.once(ctx, method, url, body, false)
		}
		return nil, &AuthError{Status: resp.StatusCode, Reason: "bearer rejected after refresh"}
	case resp.StatusCode >= 500:
		return nil, &TransientError{URL: url, Err: fmt.Errorf("status %d", resp.StatusCode)}
	default:
		return nil, &PermanentError{Status: resp.StatusCode, URL: url}
	}
}

// lockoutFrom inspects a response body for the lock marker and computes the
// release instant. A release clock time is interpreted in the configured
// timezone on the current date; a time already past rolls to the next day;
// an unparseable message falls back to the next hour boundary.
func (c *Client) lockoutFrom(payload []byte) (time.Time, string, bool) {
	var envelope struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil || envelope.Code != lockCode {
		return time.Time{}, "", false
	}
	return c.parseRelease(envelope.Message), envelope.Message, true
}

func (c *Client) parseRelease(message string) time.Time {
	now := c.now().In(c.loc)
	m := releasePattern.FindStringSubmatch(message)
	if m == nil {
		return now.Truncate(time.Hour).Add(time.Hour)
	}
	hour, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	second := 0
	if m[3] != "" {
		second, _ = strconv.Atoi(m[3])
	}
	release := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, second, 0, c.loc)
	if !release.After(now) {
		release = release.Add(24 * time.Hour)
	}
	return release
}
