package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"meldeboks/internal/correspondence"
)

// DefaultWindow is the page size sweep jobs use unless configured otherwise.
const DefaultWindow = 1000

// Source produces keyset windows ordered by (created, id) ascending, strictly
// after the cursor. correspondence.Store satisfies it.
type Source interface {
	WindowAfter(ctx context.Context, limit int, afterCreated *time.Time, afterID *uuid.UUID) ([]correspondence.WindowRow, error)
}

// Visit handles one page of rows. Returning an error stops the scan.
type Visit func(ctx context.Context, rows []correspondence.WindowRow) error

// Scanner walks every correspondence exactly once in (created, id) order.
// The cursor is derived from the last row of each page, never stored, so a
// cancelled scan resumes cleanly on the next invocation and rows inserted
// behind the cursor during the scan are picked up by later pages. Consumers
// filter rows per page; filtering never affects cursor advancement.
type Scanner struct {
	source  Source
	window  int
	log     *slog.Logger
	metrics *Metrics
}

func New(source Source, window int, log *slog.Logger) *Scanner {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Scanner{source: source, window: window, log: log, metrics: sharedMetrics}
}

// Scan fetches window+1 rows per page; the extra row only signals that
// another page exists and is handed to the visitor with the page it opens.
func (s *Scanner) Scan(ctx context.Context, visit Visit) error {
	var (
		afterCreated *time.Time
		afterID      *uuid.UUID
		pages        int
		total        int
	)
	for {
		if err := ctx.Err(); err != nil {
			s.log.Info("scan cancelled", "pages", pages, "rows", total)
			return err
		}

		rows, err := s.source.WindowAfter(ctx, s.window+1, afterCreated, afterID)
		if err != nil {
			return fmt.Errorf("fetch window after page %d: %w", pages, err)
		}
		hasMore := len(rows) > s.window
		if hasMore {
			rows = rows[:s.window]
		}
		if len(rows) == 0 {
			break
		}

		if err := visit(ctx, rows); err != nil {
			return err
		}
		pages++
		total += len(rows)
		s.metrics.Page(len(rows))

		if !hasMore {
			break
		}
		last := rows[len(rows)-1]
		created, id := last.Created, last.ID
		afterCreated, afterID = &created, &id
	}
	s.log.Info("scan complete", "pages", pages, "rows", total)
	return nil
}
