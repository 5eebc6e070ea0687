package migration

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresSource lists the legacy ids still awaiting availability, ascending,
// so the batch cursor is just the last id seen.
type PostgresSource struct {
	db *sql.DB
}

func NewPostgresSource(db *sql.DB) *PostgresSource {
	return &PostgresSource{db: db}
}

func (s *PostgresSource) NextBatch(ctx context.Context, afterLegacyID int64, limit int) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT legacy_id
		FROM correspondences
		WHERE legacy_id IS NOT NULL AND is_migrating AND legacy_id > $1
		ORDER BY legacy_id ASC
		LIMIT $2
	`, afterLegacyID, limit)
	if err != nil {
		return nil, fmt.Errorf("query legacy batch: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan legacy id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
