package attachment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"meldeboks/pkg/platform/sentinel"
	txcontext "meldeboks/pkg/platform/tx"
)

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Create(ctx context.Context, a *Attachment) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO attachments (id, resource_id, sender, storage_provider, byte_size, created)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, a.ID, a.ResourceID, a.Sender, a.StorageProvider, a.ByteSize, a.Created)
	if err != nil {
		return fmt.Errorf("insert attachment: %w", err)
	}
	for _, e := range a.Statuses {
		if err := s.AddStatusEvent(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id uuid.UUID) (*Attachment, error) {
	a := &Attachment{}
	err := s.execer(ctx).QueryRowContext(ctx, `
		SELECT id, resource_id, sender, storage_provider, byte_size, created
		FROM attachments
		WHERE id = $1
	`, id).Scan(&a.ID, &a.ResourceID, &a.Sender, &a.StorageProvider, &a.ByteSize, &a.Created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query attachment: %w", err)
	}
	if a.Statuses, err = s.statusLedger(ctx, id); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *PostgresStore) statusLedger(ctx context.Context, id uuid.UUID) ([]StatusEvent, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT id, attachment_id, status, occurred_at, party_uuid, note
		FROM attachment_statuses
		WHERE attachment_id = $1
		ORDER BY seq ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query attachment statuses: %w", err)
	}
	defer rows.Close()

	var events []StatusEvent
	for rows.Next() {
		var e StatusEvent
		var party uuid.NullUUID
		if err := rows.Scan(&e.ID, &e.AttachmentID, &e.Status, &e.OccurredAt, &party, &e.Note); err != nil {
			return nil, fmt.Errorf("scan attachment status: %w", err)
		}
		if party.Valid {
			e.PartyUUID = party.UUID
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *PostgresStore) GetByCorrespondence(ctx context.Context, correspondenceID uuid.UUID) ([]*Attachment, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT attachment_id
		FROM correspondence_attachments
		WHERE correspondence_id = $1
	`, correspondenceID)
	if err != nil {
		return nil, fmt.Errorf("query correspondence attachments: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan attachment id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*Attachment, 0, len(ids))
	for _, id := range ids {
		a, err := s.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *PostgresStore) AddStatusEvent(ctx context.Context, event StatusEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	var party any
	if event.PartyUUID != uuid.Nil {
		party = event.PartyUUID
	}
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO attachment_statuses (id, attachment_id, status, occurred_at, party_uuid, note)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, event.ID, event.AttachmentID, string(event.Status), event.OccurredAt, party, event.Note)
	if err != nil {
		return fmt.Errorf("insert attachment status: %w", err)
	}
	return nil
}

// CanBeDeleted is true when every correspondence referencing the attachment
// has a terminal purge status as its current status.
func (s *PostgresStore) CanBeDeleted(ctx context.Context, id uuid.UUID) (bool, error) {
	var blocking int
	err := s.execer(ctx).QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM correspondence_attachments ca
		JOIN LATERAL (
			SELECT status
			FROM correspondence_statuses
			WHERE correspondence_id = ca.correspondence_id
			ORDER BY occurred_at DESC, seq DESC
			LIMIT 1
		) current ON true
		WHERE ca.attachment_id = $1
		  AND current.status NOT IN ('purged_by_recipient', 'purged_by_owner')
	`, id).Scan(&blocking)
	if err != nil {
		return false, fmt.Errorf("count blocking references: %w", err)
	}
	return blocking == 0, nil
}

func (s *PostgresStore) HardDeleteOrphaned(ctx context.Context) (int, error) {
	res, err := s.execer(ctx).ExecContext(ctx, `
		DELETE FROM attachments a
		WHERE NOT EXISTS (
			SELECT 1 FROM correspondence_attachments ca
			WHERE ca.attachment_id = a.id
		)
	`)
	if err != nil {
		return 0, fmt.Errorf("delete orphaned attachments: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("orphaned attachments rows affected: %w", err)
	}
	return int(n), nil
}
