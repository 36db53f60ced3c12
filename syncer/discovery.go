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
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brasilcomex/duesync/due"
)

// lookup resolves one invoice key to zero or more declaration numbers. An
// empty array is a legitimate answer: the invoice is not export-declared
// yet.
func (s *Syncer) lookup(ctx context.Context, key string) ([]string, error) {
	raw, err := s.api.Get(ctx, s.lookupURL(key))
	if err != nil {
		return nil, err
	}
	var entries []due.LookupEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode lookup for %s: %w", key, err)
	}
	numbers := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Rel != "" {
			numbers = append(numbers, e.Rel)
		}
	}
	return numbers, nil
}

// DiscoverNew finds invoices without a recorded declaration binding,
// resolves each through the lookup endpoint, and runs the full-fetch
// protocol once per unique declaration number. limit <= 0 falls back to the
// configured per-run cap; workers <= 0 to the configured pool size.
func (s *Syncer) DiscoverNew(ctx context.Context, limit, workers int) (*Stats, error) {
	started := time.Now()
	st := &Stats{}
	if limit <= 0 {
		limit = s.cfg.MaxDiscoveryPerRun
	}
	if workers <= 0 {
		workers = s.cfg.Workers
	}

	keys, err := s.storage.UnlinkedInvoiceKeys(ctx, limit)
	if err != nil {
		return st, err
	}
	// The store query excludes persisted bindings; the cache additionally
	// filters ones recorded earlier in this process.
	candidates := keys[:0]
	for _, k := range keys {
		if !s.links.Contains(k) {
			candidates = append(candidates, k)
		}
	}
	s.log.Infow("Discovery run starting", "candidates", len(candidates), "workers", workers)

	// claimed de-duplicates declaration numbers across candidates within
	// this run; the first worker to claim a number fetches it.
	var claimed sync.Map

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, key := range candidates {
		key := key
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			numbers, err := s.lookup(gctx, key)
			s.metrics.Lookups.Inc()
			st.bump(&st.Lookups, 1)
			if err != nil {
				if s.noteFailure(st, key, err) {
					return err
				}
				return nil
			}
			if len(numbers) == 0 {
				st.bump(&st.NoDue, 1)
				return nil
			}
			for _, numero := range numbers {
				if _, loaded := claimed.LoadOrStore(numero, key); loaded {
					// Another candidate already fetched this declaration;
					// only the binding is new.
					if err := s.links.Put(gctx, key, numero); err != nil {
						s.noteFailure(st, numero, err)
						continue
					}
					st.bump(&st.Linked, 1)
					s.metrics.Links.Inc()
					continue
				}
				links := []due.LinkRow{{ChaveNF: key, NumeroDue: numero}}
				if err := s.fetchFull(gctx, numero, nil, links); err != nil {
					if s.noteFailure(st, numero, err) {
						return err
					}
					continue
				}
				st.bump(&st.Fetched, 1)
				st.bump(&st.Linked, 1)
			}
			return nil
		})
	}
	runErr := g.Wait()
	if err := s.links.Flush(ctx); err != nil && runErr == nil {
		runErr = err
	}
	st.Elapsed = time.Since(started)
	final := st.Snapshot()
	s.log.Infow("Discovery run finished",
		"lookups", final.Lookups, "fetched", final.Fetched, "linked", final.Linked,
		"no_due", final.NoDue, "failed", final.Failed, "elapsed", final.Elapsed)
	return st, runErr
}
