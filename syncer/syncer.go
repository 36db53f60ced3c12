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

// Package syncer drives the discovery and refresh pipelines: it resolves
// invoice keys to declaration numbers, fetches full payloads under the rate
// gate, and hands normalized rows to the store.
package syncer

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/brasilcomex/duesync/config"
	"github.com/brasilcomex/duesync/due"
	"github.com/brasilcomex/duesync/store"
)

// API issues one authenticated, rate-gated upstream GET.
type API interface {
	Get(ctx context.Context, url string) (json.RawMessage, error)
}

// Storage is the slice of the store the pipelines use.
type Storage interface {
	UpsertDue(ctx context.Context, rs *due.RowSet, links []due.LinkRow) error
	UpsertLinks(ctx context.Context, links []due.LinkRow) error
	MarkSynced(ctx context.Context, numbers []string) error
	ReplaceBatches(ctx context.Context, numero string, batches []due.Batch) error
	UnlinkedInvoiceKeys(ctx context.Context, limit int) ([]string, error)
	RefreshCandidates(ctx context.Context, p store.RefreshPolicy) ([]store.Candidate, error)
	OrphanedDues(ctx context.Context) ([]string, error)
	Summary(ctx context.Context) (*store.Counts, error)
}

// Links is the in-memory binding cache shared by the discovery workers.
type Links interface {
	Contains(key string) bool
	Put(ctx context.Context, key, numero string) error
	PutKnown(key, numero string)
	Flush(ctx context.Context) error
}

// Syncer binds the pipelines to their collaborators. One Syncer serves the
// whole process; per-run state lives in Stats.
type Syncer struct {
	cfg     *config.Config
	api     API
	storage Storage
	links   Links
	log     *zap.SugaredLogger
	metrics *Metrics

	// dueTimeout gates the call group of a single declaration.
	dueTimeout time.Duration
}

// New wires a Syncer. metrics may be nil when no scrape endpoint is exposed.
func New(cfg *config.Config, api API, storage Storage, links Links, metrics *Metrics, log *zap.SugaredLogger) *Syncer {
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Syncer{
		cfg:        cfg,
		api:        api,
		storage:    storage,
		links:      links,
		log:        log,
		metrics:    metrics,
		dueTimeout: 4 * cfg.HTTPTimeout,
	}
}

func (s *Syncer) lookupURL(key string) string {
	return s.cfg.APIBaseURL + "?nota-fiscal=" + url.QueryEscape(key)
}

func (s *Syncer) principalURL(numero string) string {
	return s.cfg.APIBaseURL + "/numero-da-due/" + url.PathEscape(numero)
}

func (s *Syncer) suspensionURL(numero string) string {
	return s.cfg.APIBaseURL + "/" + url.PathEscape(numero) + "/drawback/suspensao/atos-concessorios"
}

func (s *Syncer) exemptionURL(numero string) string {
	return s.cfg.APIBaseURL + "/" + url.PathEscape(numero) + "/drawback/isencao/atos-concessorios"
}

func (s *Syncer) fiscalURL(numero string) string {
	return s.cfg.APIBaseURL + "/" + url.PathEscape(numero) + "/exigencias-fiscais"
}

// Stats accumulates one pipeline run's outcome. Counters are written by
// multiple workers under the mutex and read after the run completes.
type Stats struct {
	mu sync.Mutex

	Lookups   int
	NoDue     int
	Fetched   int
	Linked    int
	Probes    int
	Unchanged int
	Failed    int
	Elapsed   time.Duration
}

func (st *Stats) bump(field *int, delta int) {
	st.mu.Lock()
	*field += delta
	st.mu.Unlock()
}

// Snapshot returns a copy safe to read while workers may still be running.
func (st *Stats) Snapshot() Stats {
	st.mu.Lock()
	defer st.mu.Unlock()
	return Stats{
		Lookups:   st.Lookups,
		NoDue:     st.NoDue,
		Fetched:   st.Fetched,
		Linked:    st.Linked,
		Probes:    st.Probes,
		Unchanged: st.Unchanged,
		Failed:    st.Failed,
		Elapsed:   st.Elapsed,
	}
}
