package clustered

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shawkridge/athena/internal/apperr"
	"github.com/shawkridge/athena/internal/storage"
)

func encodeFields(f map[string]any) (string, error) {
	if f == nil {
		f = map[string]any{}
	}
	b, err := json.Marshal(f)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeFields(s string) map[string]any {
	if s == "" {
		return map[string]any{}
	}
	var f map[string]any
	_ = json.Unmarshal([]byte(s), &f)
	if f == nil {
		f = map[string]any{}
	}
	return f
}

func encodeEmbedding(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	b, _ := json.Marshal(v)
	return b
}

func decodeEmbedding(b []byte) []float32 {
	if len(b) == 0 {
		return nil
	}
	var v []float32
	_ = json.Unmarshal(b, &v)
	return v
}

func contentHashOf(rec storage.Record) any {
	v, ok := rec.Fields["content_hash"]
	if !ok {
		return nil
	}
	return v
}

func (s *Store) Put(ctx context.Context, ns storage.Namespace, rec storage.Record) (int64, error) {
	return putOn(ctx, s.db, ns, rec)
}

func putOn(ctx context.Context, exec interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}, ns storage.Namespace, rec storage.Record) (int64, error) {
	tbl := tableName(ns)
	fieldsJSON, err := encodeFields(rec.Fields)
	if err != nil {
		return 0, apperr.Wrap("encode fields", err)
	}
	embedding := encodeEmbedding(rec.Embedding)
	hash := contentHashOf(rec)

	if rec.ID != 0 {
		q := fmt.Sprintf(`UPDATE %s SET project_id=?, fields=?, body=?, content=?, embedding=?, content_hash=? WHERE id=?`, tbl) // #nosec G201 - fixed table name
		_, err := exec.ExecContext(ctx, q, rec.ProjectID, fieldsJSON, rec.Body, rec.Content, embedding, hash, rec.ID)
		if err != nil {
			return 0, wrapDBError(fmt.Sprintf("update %s", ns), err)
		}
		return rec.ID, nil
	}

	q := fmt.Sprintf(`INSERT INTO %s (project_id, fields, body, content, embedding, content_hash) VALUES (?, ?, ?, ?, ?, ?)`, tbl) // #nosec G201 - fixed table name
	res, err := exec.ExecContext(ctx, q, rec.ProjectID, fieldsJSON, rec.Body, rec.Content, embedding, hash)
	if err != nil {
		return 0, wrapDBError(fmt.Sprintf("insert %s", ns), err)
	}
	return res.LastInsertId()
}

func (s *Store) Get(ctx context.Context, ns storage.Namespace, id int64) (storage.Record, error) {
	tbl := tableName(ns)
	q := fmt.Sprintf(`SELECT id, project_id, fields, body, content, embedding FROM %s WHERE id=?`, tbl) // #nosec G201 - fixed table name
	row := s.db.QueryRowContext(ctx, q, id)
	rec, err := scanRecord(row, ns)
	if err != nil {
		return storage.Record{}, wrapDBError(fmt.Sprintf("get %s/%d", ns, id), err)
	}
	return rec, nil
}

func (s *Store) Delete(ctx context.Context, ns storage.Namespace, id int64) error {
	tbl := tableName(ns)
	q := fmt.Sprintf(`DELETE FROM %s WHERE id=?`, tbl) // #nosec G201 - fixed table name
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

func scanRecord(row interface{ Scan(...any) error }, ns storage.Namespace) (storage.Record, error) {
	var (
		id, projectID int64
		fieldsJSON    string
		body          []byte
		content       sql.NullString
		embeddingRaw  []byte
	)
	if err := row.Scan(&id, &projectID, &fieldsJSON, &body, &content, &embeddingRaw); err != nil {
		return storage.Record{}, err
	}
	return storage.Record{
		ID:        id,
		ProjectID: projectID,
		Fields:    decodeFields(fieldsJSON),
		Body:      body,
		Content:   content.String,
		Embedding: decodeEmbedding(embeddingRaw),
	}, nil
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
	q := fmt.Sprintf(`SELECT id, project_id, fields, body, content, embedding FROM %s`, tbl) // #nosec G201 - fixed table name
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id ASC"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrapDBError(fmt.Sprintf("scan %s", ns), err)
	}
	inner := &rowsIterator{rows: rows, ns: ns}
	return &postFilterIterator{inner: inner, filter: filter}, nil
}

func (s *Store) Transaction(ctx context.Context, fn storage.TxFunc) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = sqlTx.Rollback()
		}
	}()

	if err := fn(ctx, &clusteredTx{raw: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	committed = true
	return nil
}

type clusteredTx struct {
	raw *sql.Tx
}

func (tx *clusteredTx) Put(ctx context.Context, ns storage.Namespace, rec storage.Record) (int64, error) {
	return putOn(ctx, tx.raw, ns, rec)
}

func (tx *clusteredTx) Get(ctx context.Context, ns storage.Namespace, id int64) (storage.Record, error) {
	tbl := tableName(ns)
	q := fmt.Sprintf(`SELECT id, project_id, fields, body, content, embedding FROM %s WHERE id=?`, tbl) // #nosec G201 - fixed table name
	row := tx.raw.QueryRowContext(ctx, q, id)
	rec, err := scanRecord(row, ns)
	if err != nil {
		return storage.Record{}, wrapDBError(fmt.Sprintf("get %s/%d", ns, id), err)
	}
	return rec, nil
}

func (tx *clusteredTx) Delete(ctx context.Context, ns storage.Namespace, id int64) error {
	tbl := tableName(ns)
	q := fmt.Sprintf(`DELETE FROM %s WHERE id=?`, tbl) // #nosec G201 - fixed table name
	_, err := tx.raw.ExecContext(ctx, q, id)
	return wrapDBError(fmt.Sprintf("delete %s/%d", ns, id), err)
}

func (tx *clusteredTx) Scan(ctx context.Context, ns storage.Namespace, filter storage.Filter) (storage.RecordIterator, error) {
	tbl := tableName(ns)
	q := fmt.Sprintf(`SELECT id, project_id, fields, body, content, embedding FROM %s ORDER BY id ASC`, tbl) // #nosec G201 - fixed table name
	rows, err := tx.raw.QueryContext(ctx, q)
	if err != nil {
		return nil, wrapDBError(fmt.Sprintf("scan %s", ns), err)
	}
	inner := &rowsIterator{rows: rows, ns: ns}
	return &postFilterIterator{inner: inner, filter: filter}, nil
}
