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
	"fmt"
	"time"
)

// AuthError reports a credential exchange the upstream refused. It aborts
// the run; tight retry against the auth endpoint only worsens things.
type AuthError struct {
	Status int
	Reason string
}

func (e *AuthError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("authentication failed: status %d: %s", e.Status, e.Reason)
	}
	return "authentication failed: " + e.Reason
}

// RateLockedError reports an explicit PUCX-ER1001 lock-out. Until is the
// provider-stated release instant; the gate has already been informed when
// this error surfaces.
type RateLockedError struct {
	Until   time.Time
	Message string
}

func (e *RateLockedError) Error() string {
	return fmt.Sprintf("rate locked until %s: %s", e.Until.Format("15:04:05"), e.Message)
}

// PermanentError reports a 4xx the upstream will keep returning for the same
// request. The affected item is skipped, never retried.
type PermanentError struct {
	Status int
	URL    string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent upstream failure: status %d for %s", e.Status, e.URL)
}

// TransientError wraps 5xx responses, timeouts and connection failures.
// Callers may retry.
type TransientError struct {
	URL string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient upstream failure for %s: %v", e.URL, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }
