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

package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/brasilcomex/duesync/due"
)

// RefreshPolicy selects which stored declarations a refresh run revisits.
type RefreshPolicy struct {
	Pending   []string
	Settled   []string
	Staleness time.Duration
	Limit     int
}

// Candidate is one declaration due for a refresh. DataDeRegistro is the
// stored remote revision; DataDaAverbacao lets the pipeline split settled
// candidates into direct re-downloads and probes.
type Candidate struct {
	Numero          string  `db:"numero"`
	Situacao        string  `db:"situacao"`
	DataDeRegistro  *string `db:"data_de_registro"`
	DataDaAverbacao *string `db:"data_da_averbacao"`
}

// UnlinkedInvoiceKeys lists imported invoice access keys with no recorded
// declaration binding, oldest import first. limit <= 0 means no cap.
func (s *Store) UnlinkedInvoiceKeys(ctx context.Context, limit int) ([]string, error) {
	if err := s.scoped(ctx); err != nil {
		return nil, err
	}
	query := `SELECT n.chave_nf FROM nfe_sap n
		LEFT JOIN nf_due_vinculo v ON v.chave_nf = n.chave_nf
		WHERE v.chave_nf IS NULL
		ORDER BY n.data_importacao`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}
	var keys []string
	if err := s.db.SelectContext(ctx, &keys, query, args...); err != nil {
		return nil, &Error{Op: "unlinked invoice keys", Err: err}
	}
	return keys, nil
}

// KnownLinks loads every recorded invoice binding, for cache hydration.
func (s *Store) KnownLinks(ctx context.Context) ([]due.LinkRow, error) {
	if err := s.scoped(ctx); err != nil {
		return nil, err
	}
	var links []due.LinkRow
	err := s.db.SelectContext(ctx, &links,
		"SELECT chave_nf, numero_due FROM nf_due_vinculo")
	if err != nil {
		return nil, &Error{Op: "known links", Err: err}
	}
	return links, nil
}

// Revision returns the stored remote revision of one declaration. ok is
// false when the declaration is not stored yet.
func (s *Store) Revision(ctx context.Context, numero string) (revision string, ok bool, err error) {
	if err := s.scoped(ctx); err != nil {
		return "", false, err
	}
	var rev sql.NullString
	err = s.db.GetContext(ctx, &rev,
		"SELECT data_de_registro FROM "+due.TablePrincipal+" WHERE numero = $1", numero)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, &Error{Op: "revision", Err: err}
	}
	return rev.String, true, nil
}

// RefreshCandidates selects declarations per policy: every pending one, and
// every settled one whose last sync is older than the staleness horizon,
// however long ago it settled. How a settled candidate is revisited (direct
// re-download or probe) is the pipeline's call, not the selection's.
// Cancelled situations are simply absent from both sets. Never-synced rows
// sort first.
func (s *Store) RefreshCandidates(ctx context.Context, p RefreshPolicy) ([]Candidate, error) {
	if err := s.scoped(ctx); err != nil {
		return nil, err
	}
	stale := time.Now().Add(-p.Staleness)

	query, args, err := sqlx.In(`SELECT numero, situacao, data_de_registro, data_da_averbacao
		FROM `+due.TablePrincipal+`
		WHERE situacao IN (?)
		   OR (situacao IN (?)
		       AND (data_ultima_atualizacao IS NULL OR data_ultima_atualizacao < ?))
		ORDER BY data_ultima_atualizacao ASC NULLS FIRST
		LIMIT ?`,
		p.Pending, p.Settled, stale, p.Limit)
	if err != nil {
		return nil, &Error{Op: "refresh candidates", Err: err}
	}
	var out []Candidate
	if err := s.db.SelectContext(ctx, &out, s.db.Rebind(query), args...); err != nil {
		return nil, &Error{Op: "refresh candidates", Err: err}
	}
	return out, nil
}

// OrphanedDues lists declaration numbers that carry an invoice binding but
// no principal row, which happens when a binding was recorded and the fetch
// for its declaration later failed. The refresh pipeline downloads these
// before anything else; nothing but a full fetch can heal them.
func (s *Store) OrphanedDues(ctx context.Context) ([]string, error) {
	if err := s.scoped(ctx); err != nil {
		return nil, err
	}
	var numbers []string
	err := s.db.SelectContext(ctx, &numbers, `SELECT DISTINCT v.numero_due
		FROM nf_due_vinculo v
		LEFT JOIN `+due.TablePrincipal+` p ON p.numero = v.numero_due
		WHERE p.numero IS NULL`)
	if err != nil {
		return nil, &Error{Op: "orphaned dues", Err: err}
	}
	return numbers, nil
}

// Counts summarizes the stored state for the status report.
type Counts struct {
	Invoices    int
	Linked      int
	BySituation map[string]int
	ByTable     map[string]int
}

// Summary computes the status counts in one round trip per table.
func (s *Store) Summary(ctx context.Context) (*Counts, error) {
	if err := s.scoped(ctx); err != nil {
		return nil, err
	}
	out := &Counts{BySituation: make(map[string]int), ByTable: make(map[string]int)}
	if err := s.db.GetContext(ctx, &out.Invoices, "SELECT COUNT(*) FROM nfe_sap"); err != nil {
		return nil, &Error{Op: "summary nfe_sap", Err: err}
	}
	if err := s.db.GetContext(ctx, &out.Linked, "SELECT COUNT(*) FROM nf_due_vinculo"); err != nil {
		return nil, &Error{Op: "summary nf_due_vinculo", Err: err}
	}
	rows, err := s.db.QueryxContext(ctx,
		"SELECT situacao, COUNT(*) FROM "+due.TablePrincipal+" GROUP BY situacao")
	if err != nil {
		return nil, &Error{Op: "summary situations", Err: err}
	}
	defer rows.Close()
	for rows.Next() {
		var situacao string
		var n int
		if err := rows.Scan(&situacao, &n); err != nil {
			return nil, &Error{Op: "summary situations", Err: err}
		}
		out.BySituation[situacao] = n
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: "summary situations", Err: err}
	}
	for _, table := range due.AllTables {
		var n int
		if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM "+table); err != nil {
			return nil, &Error{Op: "summary " + table, Err: err}
		}
		out.ByTable[table] = n
	}
	return out, nil
}
