package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/shawkridge/athena/internal/apperr"
	"github.com/shawkridge/athena/internal/storage"
)

func (s *Store) Put(ctx context.Context, ns storage.Namespace, rec storage.Record) (int64, error) {
	tbl := tableName(ns)
	fieldsJSON, err := encodeFields(rec.Fields)
	if err != nil {
		return 0, apperr.Wrap("encode fields", err)
	}
	embedding := encodeEmbedding(rec.Embedding)
	hash := contentHashOf(rec)

	if rec.ID != 0 {
		// #nosec G201 - tbl is drawn from the fixed namespaces table, not user input.
		q := fmt.Sprintf(`UPDATE %s SET project_id=?, fields=?, body=?, content=?, embedding=?, content_hash=? WHERE id=?`, tbl)
		_, err := s.db.ExecContext(ctx, q, rec.ProjectID, fieldsJSON, rec.Body, rec.Content, embedding, hash, rec.ID)
		if err != nil {
			return 0, wrapDBError(fmt.Sprintf("update %s", ns), err)
		}
		return rec.ID, nil
	}

	// #nosec G201 - tbl is drawn from the fixed namespaces table, not user input.
	q := fmt.Sprintf(`INSERT INTO %s (project_id, fields, body, content, embedding, content_hash) VALUES (?, ?, ?, ?, ?, ?)`, tbl)
	res, err := s.db.ExecContext(ctx, q, rec.ProjectID, fieldsJSON, rec.Body, rec.Content, embedding, hash)
	if err != nil {
		return 0, wrapDBError(fmt.Sprintf("insert %s", ns), err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, wrapDBError(fmt.Sprintf("insert %s: get id", ns), err)
	}
	return id, nil
}

func (s *Store) Get(ctx context.Context, ns storage.Namespace, id int64) (storage.Record, error) {
	tbl := tableName(ns)
	// #nosec G201 - tbl is drawn from the fixed namespaces table, not user input.
	q := fmt.Sprintf(`SELECT id, project_id, fields, body, content, embedding FROM %s WHERE id=?`, tbl)
	row := s.db.QueryRowContext(ctx, q, id)
	rec, err := scanRecord(row, ns)
	if err != nil {
		return storage.Record{}, wrapDBError(fmt.Sprintf("get %s/%d", ns, id), err)
	}
	return rec, nil
}

func (s *Store) Delete(ctx context.Context, ns storage.Namespace, id int64) error {
	tbl := tableName(ns)
	// #nosec G201 - tbl is drawn from the fixed namespaces table, not user input.
	q := fmt.Sprintf(`DELETE FROM %s WHERE id=?`, tbl)
	res, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return wrapDBError(fmt.Sprintf("delete %s/%d", ns, id), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapDBError(fmt.Sprintf("delete %s/%d: rows affected", ns, id), err)
	}
	if n == 0 {
		return apperr.Wrapf(apperr.ErrNotFound, "delete %s/%d", ns, id)
	}
	return nil
}

type rowsIterator struct {
	rows *sql.Rows
	ns   storage.Namespace
	cur  storage.Record
	err  error
}

func (it *rowsIterator) Next(_ context.Context) bool {
	if !it.rows.Next() {
		return false
	}
	rec, err := scanRecord(it.rows, it.ns)
	if err != nil {
		it.err = err
		return false
	}
	it.cur = rec
	return true
}

func (it *rowsIterator) Record() storage.Record { return it.cur }
func (it *rowsIterator) Err() error {
	if it.err != nil {
		return it.err
	}
	return it.rows.Err()
}
func (it *rowsIterator) Close() error { return it.rows.Close() }

// Scan returns matching rows ordered by id, enforcing deterministic
// ascending-id ordering. project_id is pushed
// into SQL; any remaining Equals constraints are applied in Go against
// the decoded fields since they may reference arbitrary JSON keys.
func (s *Store) Scan(ctx context.Context, ns storage.Namespace, filter storage.Filter) (storage.RecordIterator, error) {
	tbl := tableName(ns)
	var (
		where []string
		args  []any
	)
	if pid, ok := filter.Equals["project_id"]; ok {
		where = append(where, "project_id = ?")
		args = append(args, pid)
	}
	q := fmt.Sprintf(`SELECT id, project_id, fields, body, content, embedding FROM %s`, tbl)
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id ASC"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrapDBError(fmt.Sprintf("scan %s", ns), err)
	}

	// Post-filter for non-project_id constraints (those are opaque JSON
	// keys not guaranteed to have a dedicated index).
	it := &rowsIterator{rows: rows, ns: ns}
	return &postFilterIterator{inner: it, filter: filter}, nil
}

type postFilterIterator struct {
	inner  storage.RecordIterator
	filter storage.Filter
}

func (it *postFilterIterator) Next(ctx context.Context) bool {
	for it.inner.Next(ctx) {
		if it.filter.Matches(it.inner.Record()) {
			return true
		}
	}
	return false
}
func (it *postFilterIterator) Record() storage.Record { return it.inner.Record() }
func (it *postFilterIterator) Err() error              { return it.inner.Err() }
func (it *postFilterIterator) Close() error            { return it.inner.Close() }
