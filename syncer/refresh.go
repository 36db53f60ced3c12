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
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brasilcomex/duesync/due"
	"github.com/brasilcomex/duesync/store"
)

// refreshTask is one declaration a refresh run revisits. Orphaned bindings,
// pending declarations and recently settled ones re-download outright; only
// settled declarations past the recent window get the revision probe, since
// dataDeRegistro does not move as the workflow advances and probing a
// pending declaration would mask every situation change.
type refreshTask struct {
	numero string
	stored string
	probe  bool
}

// RefreshExisting revisits stored declarations per the selection policy:
// bindings without a principal row first, then every pending declaration,
// then settled ones past the staleness horizon. Settled candidates outside
// the recent window get a revision probe; a changed remote revision triggers
// the auxiliary fetches and a re-commit. The upstream has no lighter
// endpoint than the principal payload, so the probe response is reused as
// the full fetch's principal.
func (s *Syncer) RefreshExisting(ctx context.Context, limit, workers int) (*Stats, error) {
	started := time.Now()
	st := &Stats{}
	if limit <= 0 {
		limit = s.cfg.MaxRefreshPerRun
	}
	if workers <= 0 {
		workers = s.cfg.Workers
	}

	orphans, err := s.storage.OrphanedDues(ctx)
	if err != nil {
		return st, err
	}
	candidates, err := s.storage.RefreshCandidates(ctx, store.RefreshPolicy{
		Pending:   s.cfg.PendingSituations,
		Settled:   s.cfg.SettledSituations,
		Staleness: s.cfg.Staleness(),
		Limit:     limit,
	})
	if err != nil {
		return st, err
	}

	settled := make(map[string]bool, len(s.cfg.SettledSituations))
	for _, sit := range s.cfg.SettledSituations {
		settled[sit] = true
	}
	recentCutoff := time.Now().Add(-time.Duration(s.cfg.RecentSettledDays) * 24 * time.Hour)

	tasks := make([]refreshTask, 0, len(orphans)+len(candidates))
	for _, numero := range orphans {
		tasks = append(tasks, refreshTask{numero: numero})
	}
	for _, cand := range candidates {
		task := refreshTask{numero: cand.Numero}
		if cand.DataDeRegistro != nil {
			task.stored = *cand.DataDeRegistro
		}
		task.probe = settled[cand.Situacao] && !settledRecently(cand.DataDaAverbacao, recentCutoff)
		tasks = append(tasks, task)
	}
	s.log.Infow("Refresh run starting",
		"orphans", len(orphans), "candidates", len(candidates), "workers", workers)

	var (
		unchangedMu sync.Mutex
		unchanged   []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, task := range tasks {
		task := task
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if !task.probe {
				if err := s.fetchFull(gctx, task.numero, nil, nil); err != nil {
					if s.noteFailure(st, task.numero, err) {
						return err
					}
					return nil
				}
				st.bump(&st.Fetched, 1)
				return nil
			}
			doc, err := s.fetchPrincipal(gctx, task.numero)
			s.metrics.Probes.Inc()
			st.bump(&st.Probes, 1)
			if err != nil {
				if s.noteFailure(st, task.numero, err) {
					return err
				}
				return nil
			}
			changed, older := registroAdvanced(doc.DataDeRegistro, task.stored)
			if !changed {
				if older {
					// A remote revision behind the stored one is not
					// expected; keep the stored rows and move on.
					s.log.Warnw("Remote revision older than stored, keeping local",
						"due", task.numero, "remote", doc.DataDeRegistro, "stored", task.stored)
				}
				s.metrics.Unchanged.Inc()
				st.bump(&st.Unchanged, 1)
				unchangedMu.Lock()
				unchanged = append(unchanged, task.numero)
				unchangedMu.Unlock()
				return nil
			}
			if err := s.fetchFull(gctx, task.numero, doc, nil); err != nil {
				if s.noteFailure(st, task.numero, err) {
					return err
				}
				return nil
			}
			st.bump(&st.Fetched, 1)
			return nil
		})
	}
	runErr := g.Wait()
	if len(unchanged) > 0 {
		if err := s.storage.MarkSynced(ctx, unchanged); err != nil && runErr == nil {
			runErr = err
		}
	}
	st.Elapsed = time.Since(started)
	final := st.Snapshot()
	s.log.Infow("Refresh run finished",
		"probes", final.Probes, "unchanged", final.Unchanged, "fetched", final.Fetched,
		"failed", final.Failed, "elapsed", final.Elapsed)
	return st, runErr
}

// RefreshOne force-fetches a single declaration, skipping the probe.
func (s *Syncer) RefreshOne(ctx context.Context, numero string) error {
	return s.fetchFull(ctx, numero, nil, nil)
}

// RefreshBondedActs re-fetches only the concessionary-act listings for the
// given declarations and swaps the corresponding tables, leaving principal
// and other children untouched.
func (s *Syncer) RefreshBondedActs(ctx context.Context, numbers []string) (*Stats, error) {
	started := time.Now()
	st := &Stats{}
	for _, numero := range numbers {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		var batches []due.Batch
		if s.cfg.FetchBondedSuspension {
			acts, err := s.fetchActs(ctx, s.suspensionURL(numero))
			if err != nil {
				if s.noteFailure(st, numero, err) {
					return st, err
				}
				continue
			}
			batches = append(batches, actsBatch(due.TableSuspensionActs, numero, acts))
		}
		if s.cfg.FetchBondedExemption {
			acts, err := s.fetchActs(ctx, s.exemptionURL(numero))
			if err != nil {
				if s.noteFailure(st, numero, err) {
					return st, err
				}
				continue
			}
			batches = append(batches, actsBatch(due.TableExemptionActs, numero, acts))
		}
		if len(batches) == 0 {
			continue
		}
		if err := s.storage.ReplaceBatches(ctx, numero, batches); err != nil {
			s.noteFailure(st, numero, err)
			continue
		}
		st.bump(&st.Fetched, 1)
		s.log.Infow("Concessionary acts refreshed", "due", numero)
	}
	st.Elapsed = time.Since(started)
	return st, nil
}

// registroLayouts covers the portal's "-0300"-style offsets and the
// colon-separated renderings Postgres hands back.
var registroLayouts = []string{
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05-07",
	"2006-01-02T15:04:05",
}

func parseRegistro(s string) (time.Time, bool) {
	for _, layout := range registroLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// registroAdvanced reports whether the remote registration stamp moved past
// the stored one, comparing instants rather than raw strings so the same
// moment under different offset renderings stays equal. A missing or
// unparseable stamp on either side counts as changed and forces the
// re-download.
func registroAdvanced(remote, stored string) (changed, older bool) {
	if remote == "" || stored == "" {
		return true, false
	}
	rt, rok := parseRegistro(remote)
	st, sok := parseRegistro(stored)
	if !rok || !sok {
		return true, false
	}
	switch {
	case rt.After(st):
		return true, false
	case rt.Before(st):
		return false, true
	}
	return false, false
}

// settledRecently reports whether the settlement stamp parses and falls
// inside the recent window; missing or unparseable stamps route the
// candidate to the probe group.
func settledRecently(stamp *string, cutoff time.Time) bool {
	if stamp == nil {
		return false
	}
	t, ok := parseRegistro(*stamp)
	if !ok {
		return false
	}
	return !t.Before(cutoff)
}

func actsBatch(table, numero string, acts []due.BondedAct) due.Batch {
	rows := due.BondedActRows(numero, acts)
	return due.Batch{Table: table, Rows: rows, Len: len(rows)}
}

// Status reports the stored counts for the status command.
func (s *Syncer) Status(ctx context.Context) (*store.Counts, error) {
	return s.storage.Summary(ctx)
}
