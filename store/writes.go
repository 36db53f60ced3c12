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
	"reflect"
	"strings"
	"sync"

	"github.com/jmoiron/sqlx"

	"github.com/brasilcomex/duesync/due"
)

// markSyncedChunk bounds the IN list of a batch last-synced update.
const markSyncedChunk = 50

var (
	sqlCache sync.Map // table name -> insert statement

	principalOnce sync.Once
	principalSQL  string
)

// columnsOf lists the db-tagged columns of a row struct, in field order.
func columnsOf(rt reflect.Type) []string {
	cols := make([]string, 0, rt.NumField())
	for i := 0; i < rt.NumField(); i++ {
		tag := rt.Field(i).Tag.Get("db")
		if tag == "" || tag == "-" {
			continue
		}
		cols = append(cols, tag)
	}
	return cols
}

// insertSQL builds (and caches) the named INSERT for one child table,
// deriving the column list from the row type's db tags.
func insertSQL(table string, rows any) string {
	if cached, ok := sqlCache.Load(table); ok {
		return cached.(string)
	}
	cols := columnsOf(reflect.TypeOf(rows).Elem())
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(strings.Join(cols, ", "))
	b.WriteString(") VALUES (:")
	b.WriteString(strings.Join(cols, ", :"))
	b.WriteString(")")
	stmt := b.String()
	sqlCache.Store(table, stmt)
	return stmt
}

// upsertPrincipalSQL keys on the declaration number and refreshes every
// column on conflict. The last-synced stamp is always NOW(); it is the
// store's record of the sync, not part of the upstream payload.
func upsertPrincipalSQL() string {
	principalOnce.Do(func() {
		cols := columnsOf(reflect.TypeOf(due.PrincipalRow{}))
		sets := make([]string, 0, len(cols))
		for _, c := range cols {
			if c == "numero" {
				continue
			}
			sets = append(sets, c+" = EXCLUDED."+c)
		}
		var b strings.Builder
		b.WriteString("INSERT INTO ")
		b.WriteString(due.TablePrincipal)
		b.WriteString(" (")
		b.WriteString(strings.Join(cols, ", "))
		b.WriteString(", data_ultima_atualizacao) VALUES (:")
		b.WriteString(strings.Join(cols, ", :"))
		b.WriteString(", NOW()) ON CONFLICT (numero) DO UPDATE SET ")
		b.WriteString(strings.Join(sets, ", "))
		b.WriteString(", data_ultima_atualizacao = NOW()")
		principalSQL = b.String()
	})
	return principalSQL
}

// UpsertDue commits one normalized declaration atomically, together with the
// invoice bindings that resolved to it. Child tables are cleared for the
// declaration before re-insert; an empty batch therefore removes rows the
// upstream no longer reports.
func (s *Store) UpsertDue(ctx context.Context, rs *due.RowSet, links []due.LinkRow) error {
	if err := s.scoped(ctx); err != nil {
		return err
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return &Error{Op: "begin", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.NamedExecContext(ctx, upsertPrincipalSQL(), rs.Principal); err != nil {
		return &Error{Op: "upsert " + due.TablePrincipal, Err: err}
	}
	for _, b := range rs.Children {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+b.Table+" WHERE numero_due = $1", rs.Principal.Numero); err != nil {
			return &Error{Op: "clear " + b.Table, Err: err}
		}
		if b.Len == 0 {
			continue
		}
		if _, err := tx.NamedExecContext(ctx, insertSQL(b.Table, b.Rows), b.Rows); err != nil {
			return &Error{Op: "insert " + b.Table, Err: err}
		}
	}
	if len(links) > 0 {
		if _, err := tx.NamedExecContext(ctx, upsertLinkSQL, links); err != nil {
			return &Error{Op: "upsert nf_due_vinculo", Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &Error{Op: "commit", Err: err}
	}
	s.log.Debugw("Declaration persisted", "due", rs.Principal.Numero, "rows", rs.TotalRows())
	return nil
}

// ReplaceBatches swaps out a subset of a declaration's child tables without
// touching the principal, for targeted subpayload refreshes.
func (s *Store) ReplaceBatches(ctx context.Context, numero string, batches []due.Batch) error {
	if err := s.scoped(ctx); err != nil {
		return err
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return &Error{Op: "begin", Err: err}
	}
	defer tx.Rollback()

	for _, b := range batches {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+b.Table+" WHERE numero_due = $1", numero); err != nil {
			return &Error{Op: "clear " + b.Table, Err: err}
		}
		if b.Len == 0 {
			continue
		}
		if _, err := tx.NamedExecContext(ctx, insertSQL(b.Table, b.Rows), b.Rows); err != nil {
			return &Error{Op: "insert " + b.Table, Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &Error{Op: "commit", Err: err}
	}
	return nil
}

// upsertLinkSQL records one invoice-to-declaration binding. A key already
// bound is repointed; a declaration can legitimately absorb another's
// invoice after a cancellation and re-registration.
const upsertLinkSQL = `INSERT INTO nf_due_vinculo (chave_nf, numero_due, origem)
	VALUES (:chave_nf, :numero_due, 'api')
	ON CONFLICT (chave_nf) DO UPDATE SET numero_due = EXCLUDED.numero_due`

// UpsertLinks persists invoice bindings outside a declaration transaction,
// in bounded chunks. The link-cache flush path lands here.
func (s *Store) UpsertLinks(ctx context.Context, links []due.LinkRow) error {
	if len(links) == 0 {
		return nil
	}
	if err := s.scoped(ctx); err != nil {
		return err
	}
	for start := 0; start < len(links); start += markSyncedChunk {
		end := start + markSyncedChunk
		if end > len(links) {
			end = len(links)
		}
		if _, err := s.db.NamedExecContext(ctx, upsertLinkSQL, links[start:end]); err != nil {
			return &Error{Op: "upsert nf_due_vinculo", Err: err}
		}
	}
	return nil
}

// MarkSynced advances the last-synced stamp for declarations whose remote
// revision probe came back unchanged, in chunks to keep statements bounded.
func (s *Store) MarkSynced(ctx context.Context, numbers []string) error {
	if len(numbers) == 0 {
		return nil
	}
	if err := s.scoped(ctx); err != nil {
		return err
	}
	for start := 0; start < len(numbers); start += markSyncedChunk {
		end := start + markSyncedChunk
		if end > len(numbers) {
			end = len(numbers)
		}
		query, args, err := sqlx.In(
			"UPDATE "+due.TablePrincipal+" SET data_ultima_atualizacao = NOW() WHERE numero IN (?)",
			numbers[start:end])
		if err != nil {
			return &Error{Op: "mark synced", Err: err}
		}
		if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
			return &Error{Op: "mark synced", Err: err}
		}
	}
	return nil
}
