package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shawkridge/athena/internal/storage"
)

// namespaces lists every persisted collection. Each gets a
// generic table plus, where search applies, an FTS5 content table.
var namespaces = []storage.Namespace{
	storage.NSProjects,
	storage.NSEpisodicEvents,
	storage.NSSemanticMemories,
	storage.NSProcedures,
	storage.NSProcedureVersions,
	storage.NSTasks,
	storage.NSGoals,
	storage.NSEntities,
	storage.NSRelations,
	storage.NSMetaEntries,
	storage.NSWorkingMemory,
	storage.NSSessionContexts,
	storage.NSSessionEvents,
	storage.NSConsolidationRuns,
	storage.NSDecisionLog,
}

// searchableNamespaces get an FTS5 shadow table for lexical_search.
var searchableNamespaces = map[storage.Namespace]bool{
	storage.NSEpisodicEvents:   true,
	storage.NSSemanticMemories: true,
	storage.NSProcedures:       true,
}

func tableName(ns storage.Namespace) string {
	return "ns_" + string(ns)
}

func ftsTableName(ns storage.Namespace) string {
	return "ns_" + string(ns) + "_fts"
}

// migrate runs forward-only idempotent schema creation. Each table and
// index uses CREATE ... IF NOT EXISTS, matching bd's migration style of
// tolerating re-application on every boot rather than tracking applied
// migration numbers per namespace.
func migrate(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("applying %q: %w", p, err)
		}
	}

	for _, ns := range namespaces {
		tbl := tableName(ns)
		ddl := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				project_id INTEGER NOT NULL,
				fields TEXT NOT NULL DEFAULT '{}',
				body BLOB,
				content TEXT,
				embedding BLOB,
				content_hash TEXT
			)`, tbl)
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("creating table %s: %w", tbl, err)
		}

		idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_project ON %s(project_id)`, tbl, tbl)
		if _, err := db.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("creating index on %s: %w", tbl, err)
		}

		if ns == storage.NSEpisodicEvents {
			uniq := fmt.Sprintf(
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_%s_content_hash ON %s(project_id, content_hash) WHERE content_hash IS NOT NULL`,
				tbl, tbl)
			if _, err := db.ExecContext(ctx, uniq); err != nil {
				return fmt.Errorf("creating content_hash unique index on %s: %w", tbl, err)
			}
		}

		if ns == storage.NSRelations {
			for _, col := range []string{"from_entity_id", "to_entity_id"} {
				rIdx := fmt.Sprintf(
					`CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s(json_extract(fields, '$.%s'))`,
					tbl, col, tbl, col)
				if _, err := db.ExecContext(ctx, rIdx); err != nil {
					return fmt.Errorf("creating %s index on %s: %w", col, tbl, err)
				}
			}
		}

		if ns == storage.NSTasks {
			sIdx := fmt.Sprintf(
				`CREATE INDEX IF NOT EXISTS idx_%s_status ON %s(project_id, json_extract(fields, '$.status'))`,
				tbl, tbl)
			if _, err := db.ExecContext(ctx, sIdx); err != nil {
				return fmt.Errorf("creating status index on %s: %w", tbl, err)
			}
		}

		if searchableNamespaces[ns] {
			fts := ftsTableName(ns)
			ftsDDL := fmt.Sprintf(`
				CREATE VIRTUAL TABLE IF NOT EXISTS %s USING fts5(
					content, content='%s', content_rowid='id', tokenize='porter unicode61'
				)`, fts, tbl)
			if _, err := db.ExecContext(ctx, ftsDDL); err != nil {
				return fmt.Errorf("creating fts table %s: %w", fts, err)
			}

			trgInsert := fmt.Sprintf(`
				CREATE TRIGGER IF NOT EXISTS trg_%[1]s_ai AFTER INSERT ON %[2]s BEGIN
					INSERT INTO %[1]s(rowid, content) VALUES (new.id, new.content);
				END`, fts, tbl)
			trgDelete := fmt.Sprintf(`
				CREATE TRIGGER IF NOT EXISTS trg_%[1]s_ad AFTER DELETE ON %[2]s BEGIN
					INSERT INTO %[1]s(%[1]s, rowid, content) VALUES('delete', old.id, old.content);
				END`, fts, tbl)
			trgUpdate := fmt.Sprintf(`
				CREATE TRIGGER IF NOT EXISTS trg_%[1]s_au AFTER UPDATE ON %[2]s BEGIN
					INSERT INTO %[1]s(%[1]s, rowid, content) VALUES('delete', old.id, old.content);
					INSERT INTO %[1]s(rowid, content) VALUES (new.id, new.content);
				END`, fts, tbl)
			for _, trg := range []string{trgInsert, trgDelete, trgUpdate} {
				if _, err := db.ExecContext(ctx, trg); err != nil {
					return fmt.Errorf("creating trigger for %s: %w", fts, err)
				}
			}
		}
	}

	return nil
}
