package sqlite

import (
	"context"
	"fmt"

	"github.com/shawkridge/athena/internal/storage"
)

// HealthCheck verifies every required namespace table exists and that
// up to 50 sampled embeddings in semantic_memories match the configured
// dimension, the startup health probe every backend implements.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging sqlite database: %w", err)
	}

	for _, ns := range namespaces {
		tbl := tableName(ns)
		var exists int
		err := s.db.QueryRowContext(ctx,
			`SELECT count(*) FROM sqlite_master WHERE type='table' AND name=?`, tbl,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("checking table %s: %w", tbl, err)
		}
		if exists == 0 {
			return fmt.Errorf("required namespace table %s is missing", tbl)
		}
	}

	if s.embeddingDim > 0 {
		for ns := range searchableNamespaces {
			if ns != storage.NSSemanticMemories {
				continue
			}
			tbl := tableName(ns)
			rows, err := s.db.QueryContext(ctx,
				fmt.Sprintf(`SELECT embedding FROM %s WHERE embedding IS NOT NULL LIMIT 50`, tbl)) // #nosec G201 - fixed table name
			if err != nil {
				return fmt.Errorf("checking embeddings in %s: %w", tbl, err)
			}
			for rows.Next() {
				var raw []byte
				if err := rows.Scan(&raw); err != nil {
					_ = rows.Close()
					return fmt.Errorf("scanning embedding in %s: %w", tbl, err)
				}
				if v := decodeEmbedding(raw); len(v) != s.embeddingDim {
					_ = rows.Close()
					return fmt.Errorf("embedding in %s has dimension %d, expected %d", tbl, len(v), s.embeddingDim)
				}
			}
			_ = rows.Close()
		}
	}

	return nil
}
