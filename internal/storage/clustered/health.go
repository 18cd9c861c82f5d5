package clustered

import (
	"context"
	"fmt"

	"github.com/shawkridge/athena/internal/storage"
)

// HealthCheck verifies connectivity, that every namespace table exists,
// and that sampled embeddings in semantic_memories match the configured
// dimension, mirroring the embedded backend's startup health probe.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging clustered storage: %w", err)
	}

	for _, ns := range namespaces {
		tbl := tableName(ns)
		var exists int
		err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM information_schema.tables WHERE table_name = ?`, tbl,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("checking table %s: %w", tbl, err)
		}
		if exists == 0 {
			return fmt.Errorf("required namespace table %s is missing", tbl)
		}
	}

	if s.embeddingDim > 0 {
		tbl := tableName(storage.NSSemanticMemories)
		rows, err := s.db.QueryContext(ctx,
			fmt.Sprintf(`SELECT embedding FROM %s WHERE embedding IS NOT NULL LIMIT 50`, tbl)) // #nosec G201 - fixed table name
		if err != nil {
			return fmt.Errorf("checking embeddings in %s: %w", tbl, err)
		}
		defer rows.Close()
		for rows.Next() {
			var raw []byte
			if err := rows.Scan(&raw); err != nil {
				return fmt.Errorf("scanning embedding in %s: %w", tbl, err)
			}
			if v := decodeEmbedding(raw); len(v) != s.embeddingDim {
				return fmt.Errorf("embedding in %s has dimension %d, expected %d", tbl, len(v), s.embeddingDim)
			}
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterating embeddings in %s: %w", tbl, err)
		}
	}

	return nil
}
