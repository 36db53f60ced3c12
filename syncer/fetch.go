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

package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/brasilcomex/duesync/client"
	"github.com/brasilcomex/duesync/due"
	"github.com/brasilcomex/duesync/store"
)

// fetchPrincipal retrieves and decodes one declaration's main payload.
func (s *Syncer) fetchPrincipal(ctx context.Context, numero string) (*due.Document, error) {
	raw, err := s.api.Get(ctx, s.principalURL(numero))
	if err != nil {
		return nil, err
	}
	var doc due.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode declaration %s: %w", numero, err)
	}
	return &doc, nil
}

// fetchActs retrieves one concessionary-act listing. A listing the upstream
// does not have for this declaration comes back as a client-visible 4xx;
// that is an empty listing, not a failure.
func (s *Syncer) fetchActs(ctx context.Context, url string) ([]due.BondedAct, error) {
	raw, err := s.api.Get(ctx, url)
	if err != nil {
		var pe *client.PermanentError
		if errors.As(err, &pe) {
			s.log.Debugw("Auxiliary listing absent", "url", url, "status", pe.Status)
			return nil, nil
		}
		return nil, err
	}
	var acts []due.BondedAct
	if err := json.Unmarshal(raw, &acts); err != nil {
		return nil, fmt.Errorf("decode acts: %w", err)
	}
	return acts, nil
}

func (s *Syncer) fetchFiscal(ctx context.Context, numero string) ([]due.FiscalRequirement, error) {
	raw, err := s.api.Get(ctx, s.fiscalURL(numero))
	if err != nil {
		var pe *client.PermanentError
		if errors.As(err, &pe) {
			s.log.Debugw("Fiscal requirements absent", "due", numero, "status", pe.Status)
			return nil, nil
		}
		return nil, err
	}
	var reqs []due.FiscalRequirement
	if err := json.Unmarshal(raw, &reqs); err != nil {
		return nil, fmt.Errorf("decode fiscal requirements: %w", err)
	}
	return reqs, nil
}

// fetchFull runs the full-fetch protocol for one declaration: the principal
// payload plus the flag-enabled auxiliary listings, issued concurrently,
// then one normalize-and-commit. doc may carry an already-fetched principal
// (the refresh probe reuses its response); links are committed in the same
// transaction. The whole group runs under the per-declaration timeout.
func (s *Syncer) fetchFull(ctx context.Context, numero string, doc *due.Document, links []due.LinkRow) error {
	ctx, cancel := context.WithTimeout(ctx, s.dueTimeout)
	defer cancel()

	var (
		suspension []due.BondedAct
		exemption  []due.BondedAct
		fiscal     []due.FiscalRequirement
	)
	g, gctx := errgroup.WithContext(ctx)
	if doc == nil {
		g.Go(func() error {
			var err error
			doc, err = s.fetchPrincipal(gctx, numero)
			return err
		})
	}
	if s.cfg.FetchBondedSuspension {
		g.Go(func() error {
			var err error
			suspension, err = s.fetchActs(gctx, s.suspensionURL(numero))
			return err
		})
	}
	if s.cfg.FetchBondedExemption {
		g.Go(func() error {
			var err error
			exemption, err = s.fetchActs(gctx, s.exemptionURL(numero))
			return err
		})
	}
	if s.cfg.FetchFiscalRequirements {
		g.Go(func() error {
			var err error
			fiscal, err = s.fetchFiscal(gctx, numero)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	rs, err := due.Normalize(doc, suspension, exemption, fiscal)
	if err != nil {
		return err
	}
	if err := s.storage.UpsertDue(ctx, rs, links); err != nil {
		return err
	}
	for _, l := range links {
		s.links.PutKnown(l.ChaveNF, l.NumeroDue)
	}
	s.metrics.Fetches.Inc()
	s.metrics.Links.Add(float64(len(links)))
	s.log.Infow("Declaration synced", "due", numero, "rows", rs.TotalRows(), "links", len(links))
	return nil
}

// failureClass names an error family for metrics and the run log.
func failureClass(err error) string {
	var (
		rateLocked *client.RateLockedError
		authErr    *client.AuthError
		permanent  *client.PermanentError
		transient  *client.TransientError
		storeErr   *store.Error
		normErr    *due.NormalizeError
	)
	switch {
	case errors.As(err, &rateLocked):
		return "rate_locked"
	case errors.As(err, &authErr):
		return "auth"
	case errors.As(err, &permanent):
		return "permanent"
	case errors.As(err, &transient):
		return "transient"
	case errors.As(err, &storeErr):
		return "store"
	case errors.As(err, &normErr):
		return "normalize"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "other"
	}
}

// noteFailure records a skipped declaration. Authentication failures are the
// one class the run cannot continue past; the caller aborts on fatal=true.
func (s *Syncer) noteFailure(st *Stats, numero string, err error) (fatal bool) {
	class := failureClass(err)
	s.metrics.Failures.WithLabelValues(class).Inc()
	if class == "rate_locked" {
		s.metrics.Lockouts.Inc()
	}
	st.bump(&st.Failed, 1)
	s.log.Warnw("Declaration skipped", "due", numero, "class", class, "err", err)
	return class == "auth"
}
