package clustered

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shawkridge/athena/internal/storage"
)

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

var searchableNamespaces = map[storage.Namespace]bool{
	storage.NSEpisodicEvents:   true,
	storage.NSSemanticMemories: true,
	storage.NSProcedures:       true,
}

func tableName(ns storage.Namespace) string {
	return "ns_" + string(ns)
}

// migrate creates one table per namespace with MySQL/Dolt syntax. Dolt
// has no full-text index type, so content stays a plain TEXT column;
// lexical_search builds an in-memory BM25 corpus from it at query time
// (see search.go) rather than relying on a native index.
func migrate(ctx context.Context, db *sql.DB) error {
	for _, ns := range namespaces {
		tbl := tableName(ns)
		ddl := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id BIGINT AUTO_INCREMENT PRIMARY KEY,
				project_id BIGINT NOT NULL,
				fields JSON NOT NULL,
				body LONGBLOB,
				content TEXT,
				embedding LONGBLOB,
				content_hash VARCHAR(64),
				INDEX idx_project (project_id)
			)`, tbl)
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("creating table %s: %w", tbl, err)
		}

		if ns == storage.NSEpisodicEvents {
			uniq := fmt.Sprintf(
				`CREATE UNIQUE INDEX idx_%s_content_hash ON %s(project_id, content_hash)`, tbl, tbl)
			if err := createIndexIfMissing(ctx, db, tbl, "idx_"+tbl+"_content_hash", uniq); err != nil {
				return err
			}
		}
		if ns == storage.NSRelations {
			for _, col := range []string{"from_entity_id", "to_entity_id"} {
				idxName := fmt.Sprintf("idx_%s_%s", tbl, col)
				ddl := fmt.Sprintf(
					`CREATE INDEX %s ON %s((CAST(fields->>'$.%s' AS UNSIGNED)))`, idxName, tbl, col)
				if err := createIndexIfMissing(ctx, db, tbl, idxName, ddl); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// createIndexIfMissing works around Dolt/MySQL's lack of `CREATE INDEX
// IF NOT EXISTS` by checking information_schema first.
func createIndexIfMissing(ctx context.Context, db *sql.DB, table, index, ddl string) error {
	var count int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM information_schema.statistics WHERE table_name = ? AND index_name = ?`,
		table, index,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking index %s: %w", index, err)
	}
	if count > 0 {
		return nil
	}
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("creating index %s: %w", index, err)
	}
	return nil
}
