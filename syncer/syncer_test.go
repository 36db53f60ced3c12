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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/brasilcomex/duesync/client"
	"github.com/brasilcomex/duesync/config"
	"github.com/brasilcomex/duesync/due"
	"github.com/brasilcomex/duesync/internal/log"
	"github.com/brasilcomex/duesync/store"
)

const (
	testBase = "https://api.test/due"
	testKey  = "12345678901234567890123456789012345678901234"
	testDue  = "24BR0000000001"
)

type fakeAPI struct {
	mu        sync.Mutex
	responses map[string]string
	errs      map[string]error
	calls     map[string]int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{responses: make(map[string]string), errs: make(map[string]error), calls: make(map[string]int)}
}

func (a *fakeAPI) Get(ctx context.Context, url string) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls[url]++
	if err, ok := a.errs[url]; ok {
		return nil, err
	}
	body, ok := a.responses[url]
	if !ok {
		return nil, &client.PermanentError{Status: 404, URL: url}
	}
	return json.RawMessage(body), nil
}

func (a *fakeAPI) total() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, c := range a.calls {
		n += c
	}
	return n
}

type persisted struct {
	rs    *due.RowSet
	links []due.LinkRow
}

type fakeStorage struct {
	mu         sync.Mutex
	unlinked   []string
	candidates []store.Candidate
	orphans    []string
	upserts    []persisted
	bareLinks  []due.LinkRow
	marked     []string
	replaced   map[string][]due.Batch
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{replaced: make(map[string][]due.Batch)}
}

func (f *fakeStorage) UpsertDue(ctx context.Context, rs *due.RowSet, links []due.LinkRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, persisted{rs: rs, links: links})
	return nil
}

func (f *fakeStorage) UpsertLinks(ctx context.Context, links []due.LinkRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bareLinks = append(f.bareLinks, links...)
	return nil
}

func (f *fakeStorage) MarkSynced(ctx context.Context, numbers []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = append(f.marked, numbers...)
	return nil
}

func (f *fakeStorage) ReplaceBatches(ctx context.Context, numero string, batches []due.Batch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replaced[numero] = batches
	return nil
}

func (f *fakeStorage) UnlinkedInvoiceKeys(ctx context.Context, limit int) ([]string, error) {
	if limit > 0 && limit < len(f.unlinked) {
		return f.unlinked[:limit], nil
	}
	return f.unlinked, nil
}

func (f *fakeStorage) RefreshCandidates(ctx context.Context, p store.RefreshPolicy) ([]store.Candidate, error) {
	return f.candidates, nil
}

func (f *fakeStorage) OrphanedDues(ctx context.Context) ([]string, error) {
	return f.orphans, nil
}

func (f *fakeStorage) Summary(ctx context.Context) (*store.Counts, error) {
	return &store.Counts{BySituation: map[string]int{}}, nil
}

type fakeLinks struct {
	mu      sync.Mutex
	known   map[string]string
	puts    []due.LinkRow
	flushes int
}

func newFakeLinks() *fakeLinks { return &fakeLinks{known: make(map[string]string)} }

func (l *fakeLinks) Contains(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.known[key]
	return ok
}

func (l *fakeLinks) Put(ctx context.Context, key, numero string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.known[key] = numero
	l.puts = append(l.puts, due.LinkRow{ChaveNF: key, NumeroDue: numero})
	return nil
}

func (l *fakeLinks) PutKnown(key, numero string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.known[key] = numero
}

func (l *fakeLinks) Flush(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.flushes++
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		APIBaseURL:              testBase,
		FetchBondedSuspension:   true,
		FetchBondedExemption:    false,
		FetchFiscalRequirements: true,
		MaxRefreshPerRun:        500,
		StalenessHours:          24,
		RecentSettledDays:       7,
		Workers:                 3,
		HTTPTimeout:             time.Second,
		PendingSituations:       config.DefaultPendingSituations,
		SettledSituations:       config.DefaultSettledSituations,
		CancelledSituations:     config.DefaultCancelledSituations,
	}
}

func newTestSyncer(api *fakeAPI, storage *fakeStorage, links *fakeLinks) *Syncer {
	return New(testConfig(), api, storage, links, nil, log.Nop())
}

func principalBody(numero, registro string) string {
	return principalBodyIn(numero, registro, "REGISTRADA")
}

func principalBodyIn(numero, registro, situacao string) string {
	return `{"numero":"` + numero + `","dataDeRegistro":"` + registro + `","situacao":"` + situacao + `"}`
}

func seedFullFetch(api *fakeAPI, s *Syncer, numero string) {
	api.responses[s.principalURL(numero)] = principalBody(numero, "2024-03-01T10:00:00-03:00")
	api.responses[s.suspensionURL(numero)] = `[]`
	api.responses[s.fiscalURL(numero)] = `[]`
}

func TestDiscoverNewNoDueFound(t *testing.T) {
	api, storage, links := newFakeAPI(), newFakeStorage(), newFakeLinks()
	storage.unlinked = []string{testKey}
	s := newTestSyncer(api, storage, links)
	api.responses[s.lookupURL(testKey)] = `[]`

	st, err := s.DiscoverNew(context.Background(), 0, 1)
	require.NoError(t, err)
	require.Equal(t, 1, st.Lookups)
	require.Equal(t, 1, st.NoDue)
	require.Zero(t, st.Fetched)
	require.Empty(t, storage.upserts)
	require.Empty(t, links.puts)
	require.Equal(t, 1, api.total())
}

func TestDiscoverNewFetchesAndLinks(t *testing.T) {
	api, storage, links := newFakeAPI(), newFakeStorage(), newFakeLinks()
	storage.unlinked = []string{testKey}
	s := newTestSyncer(api, storage, links)
	api.responses[s.lookupURL(testKey)] = `[{"rel":"` + testDue + `","href":"` + testBase + `/numero-da-due/` + testDue + `"}]`
	seedFullFetch(api, s, testDue)

	st, err := s.DiscoverNew(context.Background(), 0, 2)
	require.NoError(t, err)
	require.Equal(t, 1, st.Fetched)
	require.Equal(t, 1, st.Linked)
	require.Len(t, storage.upserts, 1)
	require.Equal(t, testDue, storage.upserts[0].rs.Principal.Numero)
	// The link rides in the declaration transaction and lands in the cache.
	require.Equal(t, []due.LinkRow{{ChaveNF: testKey, NumeroDue: testDue}}, storage.upserts[0].links)
	require.True(t, links.Contains(testKey))
	// lookup + principal + suspension + fiscal.
	require.Equal(t, 4, api.total())
}

func TestDiscoverNewDeduplicatesAcrossKeys(t *testing.T) {
	otherKey := "99999999999999999999999999999999999999999999"
	api, storage, links := newFakeAPI(), newFakeStorage(), newFakeLinks()
	storage.unlinked = []string{testKey, otherKey}
	s := newTestSyncer(api, storage, links)
	entry := `[{"rel":"` + testDue + `"}]`
	api.responses[s.lookupURL(testKey)] = entry
	api.responses[s.lookupURL(otherKey)] = entry
	seedFullFetch(api, s, testDue)

	st, err := s.DiscoverNew(context.Background(), 0, 1)
	require.NoError(t, err)
	require.Equal(t, 1, st.Fetched)
	require.Equal(t, 2, st.Linked)
	require.Len(t, storage.upserts, 1)
	// The second key resolves to an already-claimed declaration; its
	// binding goes through the buffered cache path instead.
	require.Len(t, links.puts, 1)
	require.Equal(t, 1, api.calls[s.principalURL(testDue)])
}

func TestDiscoverNewSkipsCachedKeys(t *testing.T) {
	api, storage, links := newFakeAPI(), newFakeStorage(), newFakeLinks()
	storage.unlinked = []string{testKey}
	links.known[testKey] = testDue
	s := newTestSyncer(api, storage, links)

	st, err := s.DiscoverNew(context.Background(), 0, 1)
	require.NoError(t, err)
	require.Zero(t, st.Lookups)
	require.Zero(t, api.total())
}

func TestDiscoverNewRateLockRecordsAndContinues(t *testing.T) {
	otherKey := "99999999999999999999999999999999999999999999"
	otherDue := "24BR0000000002"
	api, storage, links := newFakeAPI(), newFakeStorage(), newFakeLinks()
	storage.unlinked = []string{testKey, otherKey}
	s := newTestSyncer(api, storage, links)
	api.responses[s.lookupURL(testKey)] = `[{"rel":"` + testDue + `"}]`
	api.responses[s.lookupURL(otherKey)] = `[{"rel":"` + otherDue + `"}]`
	api.errs[s.principalURL(testDue)] = &client.RateLockedError{
		Until:   time.Now().Add(2 * time.Minute),
		Message: "Limite excedido",
	}
	seedFullFetch(api, s, otherDue)

	st, err := s.DiscoverNew(context.Background(), 0, 1)
	require.NoError(t, err)
	require.Equal(t, 1, st.Failed)
	require.Equal(t, 1, st.Fetched)
	require.Len(t, storage.upserts, 1)
	require.Equal(t, otherDue, storage.upserts[0].rs.Principal.Numero)
}

func TestDiscoverNewCancelledBeforeStart(t *testing.T) {
	api, storage, links := newFakeAPI(), newFakeStorage(), newFakeLinks()
	storage.unlinked = []string{testKey}
	s := newTestSyncer(api, storage, links)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.DiscoverNew(ctx, 0, 1)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, api.total())
}

func TestRefreshUnchangedOnlyAdvancesSyncStamp(t *testing.T) {
	registro := "2024-03-01T10:00:00-03:00"
	api, storage, links := newFakeAPI(), newFakeStorage(), newFakeLinks()
	storage.candidates = []store.Candidate{
		{Numero: testDue, Situacao: "AVERBADA_SEM_DIVERGENCIA", DataDeRegistro: &registro},
	}
	s := newTestSyncer(api, storage, links)
	api.responses[s.principalURL(testDue)] = principalBody(testDue, registro)

	st, err := s.RefreshExisting(context.Background(), 0, 1)
	require.NoError(t, err)
	require.Equal(t, 1, st.Probes)
	require.Equal(t, 1, st.Unchanged)
	require.Zero(t, st.Fetched)
	require.Empty(t, storage.upserts)
	require.Equal(t, []string{testDue}, storage.marked)
	// The probe is the only upstream traffic.
	require.Equal(t, 1, api.total())
}

func TestRefreshChangedReplacesChildren(t *testing.T) {
	stored := "2024-03-01T10:00:00-03:00"
	remote := "2024-03-02T12:00:00-03:00"
	api, storage, links := newFakeAPI(), newFakeStorage(), newFakeLinks()
	storage.candidates = []store.Candidate{
		{Numero: testDue, Situacao: "AVERBADA_SEM_DIVERGENCIA", DataDeRegistro: &stored},
	}
	s := newTestSyncer(api, storage, links)
	api.responses[s.principalURL(testDue)] = principalBody(testDue, remote)
	api.responses[s.suspensionURL(testDue)] = `[]`
	api.responses[s.fiscalURL(testDue)] = `[]`

	st, err := s.RefreshExisting(context.Background(), 0, 1)
	require.NoError(t, err)
	require.Equal(t, 1, st.Fetched)
	require.Empty(t, storage.marked)
	require.Len(t, storage.upserts, 1)
	require.Equal(t, remote, *storage.upserts[0].rs.Principal.DataDeRegistro)
	// Probe response doubles as the full fetch's principal: probe plus the
	// two enabled auxiliary calls.
	require.Equal(t, 3, api.total())
	require.Equal(t, 1, api.calls[s.principalURL(testDue)])
}

func TestRefreshOlderRemoteKeepsLocal(t *testing.T) {
	stored := "2024-03-02T12:00:00-03:00"
	api, storage, links := newFakeAPI(), newFakeStorage(), newFakeLinks()
	storage.candidates = []store.Candidate{
		{Numero: testDue, Situacao: "AVERBADA_SEM_DIVERGENCIA", DataDeRegistro: &stored},
	}
	s := newTestSyncer(api, storage, links)
	api.responses[s.principalURL(testDue)] = principalBody(testDue, "2024-03-01T10:00:00-03:00")

	st, err := s.RefreshExisting(context.Background(), 0, 1)
	require.NoError(t, err)
	require.Empty(t, storage.upserts)
	require.Equal(t, []string{testDue}, storage.marked)
	require.Zero(t, st.Fetched)
}

func TestRefreshPendingRedownloadsOnStableRegistration(t *testing.T) {
	// The registration stamp does not move when the workflow advances
	// (EM_CARGA to DESEMBARACADA to AVERBADA), so pending declarations skip
	// the probe and re-download outright.
	registro := "2024-03-01T10:00:00-03:00"
	api, storage, links := newFakeAPI(), newFakeStorage(), newFakeLinks()
	storage.candidates = []store.Candidate{
		{Numero: testDue, Situacao: "EM_CARGA", DataDeRegistro: &registro},
	}
	s := newTestSyncer(api, storage, links)
	api.responses[s.principalURL(testDue)] = principalBodyIn(testDue, registro, "DESEMBARACADA")
	api.responses[s.suspensionURL(testDue)] = `[]`
	api.responses[s.fiscalURL(testDue)] = `[]`

	st, err := s.RefreshExisting(context.Background(), 0, 1)
	require.NoError(t, err)
	require.Zero(t, st.Probes)
	require.Equal(t, 1, st.Fetched)
	require.Empty(t, storage.marked)
	require.Len(t, storage.upserts, 1)
	require.Equal(t, "DESEMBARACADA", storage.upserts[0].rs.Principal.Situacao)
}

func TestRefreshRecentlySettledRedownloadsWithoutProbe(t *testing.T) {
	registro := "2024-03-01T10:00:00-03:00"
	averbacao := time.Now().Add(-24 * time.Hour).Format("2006-01-02T15:04:05-0700")
	api, storage, links := newFakeAPI(), newFakeStorage(), newFakeLinks()
	storage.candidates = []store.Candidate{
		{Numero: testDue, Situacao: "AVERBADA_SEM_DIVERGENCIA",
			DataDeRegistro: &registro, DataDaAverbacao: &averbacao},
	}
	s := newTestSyncer(api, storage, links)
	seedFullFetch(api, s, testDue)

	st, err := s.RefreshExisting(context.Background(), 0, 1)
	require.NoError(t, err)
	require.Zero(t, st.Probes)
	require.Equal(t, 1, st.Fetched)
	require.Len(t, storage.upserts, 1)
}

func TestRefreshOldSettledSameInstantDifferentOffsetRendering(t *testing.T) {
	// Postgres renders the stored stamp with a colon in the offset; the
	// portal emits "-0300". Equal instants must still read as unchanged.
	stored := "2024-03-01T10:00:00-03:00"
	api, storage, links := newFakeAPI(), newFakeStorage(), newFakeLinks()
	storage.candidates = []store.Candidate{
		{Numero: testDue, Situacao: "AVERBADA_SEM_DIVERGENCIA", DataDeRegistro: &stored},
	}
	s := newTestSyncer(api, storage, links)
	api.responses[s.principalURL(testDue)] = principalBody(testDue, "2024-03-01T10:00:00.000-0300")

	st, err := s.RefreshExisting(context.Background(), 0, 1)
	require.NoError(t, err)
	require.Equal(t, 1, st.Probes)
	require.Equal(t, 1, st.Unchanged)
	require.Empty(t, storage.upserts)
	require.Equal(t, []string{testDue}, storage.marked)
}

func TestRefreshHealsOrphanedBindings(t *testing.T) {
	// A binding whose declaration fetch failed leaves a link row with no
	// principal; the next refresh run downloads it before the candidates.
	api, storage, links := newFakeAPI(), newFakeStorage(), newFakeLinks()
	storage.orphans = []string{testDue}
	s := newTestSyncer(api, storage, links)
	seedFullFetch(api, s, testDue)

	st, err := s.RefreshExisting(context.Background(), 0, 1)
	require.NoError(t, err)
	require.Zero(t, st.Probes)
	require.Equal(t, 1, st.Fetched)
	require.Len(t, storage.upserts, 1)
	require.Equal(t, testDue, storage.upserts[0].rs.Principal.Numero)
}

func TestRegistroAdvancedComparesInstants(t *testing.T) {
	cases := []struct {
		name           string
		remote, stored string
		changed, older bool
	}{
		{"same instant, same rendering", "2024-03-01T10:00:00-03:00", "2024-03-01T10:00:00-03:00", false, false},
		{"same instant, portal offset", "2024-03-01T10:00:00.000-0300", "2024-03-01T10:00:00-03:00", false, false},
		{"remote advanced", "2024-03-02T10:00:00.000-0300", "2024-03-01T10:00:00-03:00", true, false},
		{"remote behind", "2024-02-28T10:00:00.000-0300", "2024-03-01T10:00:00-03:00", false, true},
		{"remote missing", "", "2024-03-01T10:00:00-03:00", true, false},
		{"stored missing", "2024-03-01T10:00:00.000-0300", "", true, false},
		{"unparseable stored", "2024-03-01T10:00:00.000-0300", "not-a-date", true, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			changed, older := registroAdvanced(tc.remote, tc.stored)
			require.Equal(t, tc.changed, changed)
			require.Equal(t, tc.older, older)
		})
	}
}

func TestRefreshOneForcesFullFetch(t *testing.T) {
	api, storage, links := newFakeAPI(), newFakeStorage(), newFakeLinks()
	s := newTestSyncer(api, storage, links)
	seedFullFetch(api, s, testDue)

	require.NoError(t, s.RefreshOne(context.Background(), testDue))
	require.Len(t, storage.upserts, 1)
	require.Equal(t, 3, api.total())
}

func TestRefreshBondedActsReplacesOnlyActTables(t *testing.T) {
	api, storage, links := newFakeAPI(), newFakeStorage(), newFakeLinks()
	s := newTestSyncer(api, storage, links)
	api.responses[s.suspensionURL(testDue)] = `[{"numero":"20240001234","tipo":{"codigo":1,"descricao":"Suspensao"}}]`

	st, err := s.RefreshBondedActs(context.Background(), []string{testDue})
	require.NoError(t, err)
	require.Equal(t, 1, st.Fetched)
	require.Empty(t, storage.upserts)

	batches := storage.replaced[testDue]
	require.Len(t, batches, 1)
	require.Equal(t, due.TableSuspensionActs, batches[0].Table)
	require.Equal(t, 1, batches[0].Len)
}

func TestFetchFullTreatsMissingAuxiliariesAsEmpty(t *testing.T) {
	api, storage, links := newFakeAPI(), newFakeStorage(), newFakeLinks()
	s := newTestSyncer(api, storage, links)
	// Only the principal exists; both auxiliary endpoints 404.
	api.responses[s.principalURL(testDue)] = principalBody(testDue, "2024-03-01T10:00:00-03:00")

	require.NoError(t, s.RefreshOne(context.Background(), testDue))
	require.Len(t, storage.upserts, 1)
}

func TestFailureClassNames(t *testing.T) {
	require.Equal(t, "rate_locked", failureClass(&client.RateLockedError{}))
	require.Equal(t, "auth", failureClass(&client.AuthError{}))
	require.Equal(t, "permanent", failureClass(&client.PermanentError{}))
	require.Equal(t, "transient", failureClass(&client.TransientError{}))
	require.Equal(t, "store", failureClass(&store.Error{}))
	require.Equal(t, "normalize", failureClass(&due.NormalizeError{}))
	require.Equal(t, "cancelled", failureClass(context.Canceled))
}
