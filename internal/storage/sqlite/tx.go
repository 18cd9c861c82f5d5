package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shawkridge/athena/internal/storage"
)

// beginImmediateWithRetry starts an IMMEDIATE transaction on conn,
// retrying with backoff on SQLITE_BUSY. IMMEDIATE acquires a RESERVED
// lock up front so writers serialize deterministically instead of
// discovering a conflict mid-transaction. Raw SQL is required here
// because database/sql's BeginTx does not expose transaction modes and
// modernc.org/sqlite's default is DEFERRED.
func beginImmediateWithRetry(ctx context.Context, conn *sql.Conn) error {
	backoff := 5 * time.Millisecond
	for attempt := 0; attempt < 8; attempt++ {
		_, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE")
		if err == nil {
			return nil
		}
		if !isBusyError(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return errors.New("sqlite: exhausted retries starting immediate transaction")
}

func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// sqlTx adapts a single dedicated *sql.Conn to storage.Tx for the
// duration of one transaction block.
type sqlTx struct {
	raw *sql.Conn
}

func (tx *sqlTx) Put(ctx context.Context, ns storage.Namespace, rec storage.Record) (int64, error) {
	return putOnConn(ctx, tx.raw, ns, rec)
}

func (tx *sqlTx) Get(ctx context.Context, ns storage.Namespace, id int64) (storage.Record, error) {
	tbl := tableName(ns)
	// #nosec G201 - tbl is drawn from the fixed namespaces table, not user input.
	q := fmt.Sprintf(`SELECT id, project_id, fields, body, content, embedding FROM %s WHERE id=?`, tbl)
	row := tx.raw.QueryRowContext(ctx, q, id)
	rec, err := scanRecord(row, ns)
	if err != nil {
		return storage.Record{}, wrapDBError(fmt.Sprintf("get %s/%d", ns, id), err)
	}
	return rec, nil
}

func (tx *sqlTx) Delete(ctx context.Context, ns storage.Namespace, id int64) error {
	tbl := tableName(ns)
	// #nosec G201 - tbl is drawn from the fixed namespaces table, not user input.
	q := fmt.Sprintf(`DELETE FROM %s WHERE id=?`, tbl)
	_, err := tx.raw.ExecContext(ctx, q, id)
	return wrapDBError(fmt.Sprintf("delete %s/%d", ns, id), err)
}

func (tx *sqlTx) Scan(ctx context.Context, ns storage.Namespace, filter storage.Filter) (storage.RecordIterator, error) {
	tbl := tableName(ns)
	// #nosec G201 - tbl is drawn from the fixed namespaces table, not user input.
	q := fmt.Sprintf(`SELECT id, project_id, fields, body, content, embedding FROM %s ORDER BY id ASC`, tbl)
	rows, err := tx.raw.QueryContext(ctx, q)
	if err != nil {
		return nil, wrapDBError(fmt.Sprintf("scan %s", ns), err)
	}
	inner := &rowsIterator{rows: rows, ns: ns}
	return &postFilterIterator{inner: inner, filter: filter}, nil
}

func putOnConn(ctx context.Context, conn *sql.Conn, ns storage.Namespace, rec storage.Record) (int64, error) {
	tbl := tableName(ns)
	fieldsJSON, err := encodeFields(rec.Fields)
	if err != nil {
		return 0, err
	}
	embedding := encodeEmbedding(rec.Embedding)
	hash := contentHashOf(rec)

	if rec.ID != 0 {
		// #nosec G201 - tbl is drawn from the fixed namespaces table, not user input.
		q := fmt.Sprintf(`UPDATE %s SET project_id=?, fields=?, body=?, content=?, embedding=?, content_hash=? WHERE id=?`, tbl)
		_, err := conn.ExecContext(ctx, q, rec.ProjectID, fieldsJSON, rec.Body, rec.Content, embedding, hash, rec.ID)
		if err != nil {
			return 0, wrapDBError(fmt.Sprintf("update %s", ns), err)
		}
		return rec.ID, nil
	}

	// #nosec G201 - tbl is drawn from the fixed namespaces table, not user input.
	q := fmt.Sprintf(`INSERT INTO %s (project_id, fields, body, content, embedding, content_hash) VALUES (?, ?, ?, ?, ?, ?)`, tbl)
	res, err := conn.ExecContext(ctx, q, rec.ProjectID, fieldsJSON, rec.Body, rec.Content, embedding, hash)
	if err != nil {
		return 0, wrapDBError(fmt.Sprintf("insert %s", ns), err)
	}
	return res.LastInsertId()
}

// Transaction acquires a dedicated connection so the raw BEGIN
// IMMEDIATE / COMMIT / ROLLBACK statements land on the same underlying
// connection, then runs fn against it.
func (s *Store) Transaction(ctx context.Context, fn storage.TxFunc) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if err := beginImmediateWithRetry(ctx, conn); err != nil {
		return fmt.Errorf("beginning immediate transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	if err := fn(ctx, &sqlTx{raw: conn}); err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	committed = true
	return nil
}
