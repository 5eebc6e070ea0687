package correspondence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"meldeboks/pkg/platform/sentinel"
	txcontext "meldeboks/pkg/platform/tx"
)

// PostgresStore implements Store on PostgreSQL via database/sql and lib/pq.
// Ledgers are append-only tables; ledger order is the bigserial insertion
// order, which AddStatusEvents preserves by inserting in caller order.
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

func (s *PostgresStore) Create(ctx context.Context, c *Correspondence) error {
	exec := s.execer(ctx)

	_, err := exec.ExecContext(ctx, `
		INSERT INTO correspondences (
			id, resource_id, sender, recipient, created,
			requested_publish_at, due_at, allow_system_delete_after,
			is_confidential, is_confirmation_needed, legacy_id, is_migrating
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		c.ID, c.ResourceID, c.Sender, c.Recipient, c.Created,
		c.RequestedPublishAt, c.DueAt, c.AllowSystemDeleteAfter,
		c.IsConfidential, c.IsConfirmationNeeded, c.LegacyID, c.IsMigrating,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert correspondence: %w", err)
	}

	for _, ref := range c.ExternalReferences {
		if _, err := exec.ExecContext(ctx, `
			INSERT INTO correspondence_references (correspondence_id, reference_type, reference_value)
			VALUES ($1, $2, $3)
		`, c.ID, string(ref.Type), ref.Value); err != nil {
			return fmt.Errorf("insert external reference: %w", err)
		}
	}
	for _, attachmentID := range c.AttachmentIDs {
		if _, err := exec.ExecContext(ctx, `
			INSERT INTO correspondence_attachments (correspondence_id, attachment_id)
			VALUES ($1, $2)
		`, c.ID, attachmentID); err != nil {
			return fmt.Errorf("link attachment: %w", err)
		}
	}
	if len(c.Statuses) > 0 {
		if err := s.AddStatusEvents(ctx, c.Statuses); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id uuid.UUID) (*Correspondence, error) {
	exec := s.execer(ctx)

	c := &Correspondence{}
	err := exec.QueryRowContext(ctx, `
		SELECT id, resource_id, sender, recipient, created,
		       requested_publish_at, due_at, allow_system_delete_after,
		       is_confidential, is_confirmation_needed, legacy_id, is_migrating
		FROM correspondences
		WHERE id = $1
	`, id).Scan(
		&c.ID, &c.ResourceID, &c.Sender, &c.Recipient, &c.Created,
		&c.RequestedPublishAt, &c.DueAt, &c.AllowSystemDeleteAfter,
		&c.IsConfidential, &c.IsConfirmationNeeded, &c.LegacyID, &c.IsMigrating,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query correspondence: %w", err)
	}

	if c.Statuses, err = s.statusLedger(ctx, id); err != nil {
		return nil, err
	}
	if c.ExternalReferences, err = s.references(ctx, id); err != nil {
		return nil, err
	}
	if c.AttachmentIDs, err = s.attachmentIDs(ctx, id); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *PostgresStore) GetByLegacyID(ctx context.Context, legacyID int64) (*Correspondence, error) {
	var id uuid.UUID
	err := s.execer(ctx).QueryRowContext(ctx, `
		SELECT id FROM correspondences WHERE legacy_id = $1
	`, legacyID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query correspondence by legacy id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *PostgresStore) SetMigrationCompleted(ctx context.Context, id uuid.UUID) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE correspondences SET is_migrating = false WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("complete migration: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) statusLedger(ctx context.Context, id uuid.UUID) ([]StatusEvent, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT id, correspondence_id, status, occurred_at, party_uuid, note, synced_at
		FROM correspondence_statuses
		WHERE correspondence_id = $1
		ORDER BY seq ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query status ledger: %w", err)
	}
	defer rows.Close()

	var events []StatusEvent
	for rows.Next() {
		var e StatusEvent
		var party uuid.NullUUID
		if err := rows.Scan(&e.ID, &e.CorrespondenceID, &e.Status, &e.OccurredAt, &party, &e.Note, &e.SyncedAt); err != nil {
			return nil, fmt.Errorf("scan status event: %w", err)
		}
		if party.Valid {
			e.PartyUUID = party.UUID
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status ledger: %w", err)
	}
	return events, nil
}

func (s *PostgresStore) references(ctx context.Context, id uuid.UUID) ([]ExternalReference, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT reference_type, reference_value
		FROM correspondence_references
		WHERE correspondence_id = $1
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query references: %w", err)
	}
	defer rows.Close()

	var refs []ExternalReference
	for rows.Next() {
		var ref ExternalReference
		if err := rows.Scan(&ref.Type, &ref.Value); err != nil {
			return nil, fmt.Errorf("scan reference: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (s *PostgresStore) attachmentIDs(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT attachment_id
		FROM correspondence_attachments
		WHERE correspondence_id = $1
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query attachment links: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var attachmentID uuid.UUID
		if err := rows.Scan(&attachmentID); err != nil {
			return nil, fmt.Errorf("scan attachment link: %w", err)
		}
		ids = append(ids, attachmentID)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) AddStatusEvent(ctx context.Context, event StatusEvent) error {
	return s.AddStatusEvents(ctx, []StatusEvent{event})
}

func (s *PostgresStore) AddStatusEvents(ctx context.Context, events []StatusEvent) error {
	exec := s.execer(ctx)
	for _, e := range events {
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		var party any
		if e.PartyUUID != uuid.Nil {
			party = e.PartyUUID
		}
		_, err := exec.ExecContext(ctx, `
			INSERT INTO correspondence_statuses (id, correspondence_id, status, occurred_at, party_uuid, note, synced_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, e.ID, e.CorrespondenceID, string(e.Status), e.OccurredAt, party, e.Note, e.SyncedAt)
		if err != nil {
			if isForeignKeyViolation(err) {
				return sentinel.ErrNotFound
			}
			return fmt.Errorf("insert status event: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) AddDeleteEvent(ctx context.Context, event DeleteEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	var party any
	if event.PartyUUID != uuid.Nil {
		party = event.PartyUUID
	}
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO correspondence_delete_events (id, correspondence_id, event_type, occurred_at, party_uuid, synced_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, event.ID, event.CorrespondenceID, string(event.Type), event.OccurredAt, party, event.SyncedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return sentinel.ErrNotFound
		}
		return fmt.Errorf("insert delete event: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteEvents(ctx context.Context, correspondenceID uuid.UUID) ([]DeleteEvent, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT id, correspondence_id, event_type, occurred_at, party_uuid, synced_at
		FROM correspondence_delete_events
		WHERE correspondence_id = $1
		ORDER BY seq ASC
	`, correspondenceID)
	if err != nil {
		return nil, fmt.Errorf("query delete events: %w", err)
	}
	defer rows.Close()

	var events []DeleteEvent
	for rows.Next() {
		var e DeleteEvent
		var party uuid.NullUUID
		if err := rows.Scan(&e.ID, &e.CorrespondenceID, &e.Type, &e.OccurredAt, &party, &e.SyncedAt); err != nil {
			return nil, fmt.Errorf("scan delete event: %w", err)
		}
		if party.Valid {
			e.PartyUUID = party.UUID
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// WindowAfter pages by keyset, never offset: the compound (created, id) cursor
// keeps rows from being skipped or revisited when inserts land mid-scan.
func (s *PostgresStore) WindowAfter(ctx context.Context, limit int, afterCreated *time.Time, afterID *uuid.UUID) ([]WindowRow, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if afterCreated == nil {
		rows, err = s.execer(ctx).QueryContext(ctx, `
			SELECT id, created
			FROM correspondences
			ORDER BY created ASC, id ASC
			LIMIT $1
		`, limit)
	} else {
		rows, err = s.execer(ctx).QueryContext(ctx, `
			SELECT id, created
			FROM correspondences
			WHERE (created, id) > ($2, $3)
			ORDER BY created ASC, id ASC
			LIMIT $1
		`, limit, *afterCreated, *afterID)
	}
	if err != nil {
		return nil, fmt.Errorf("query correspondence window: %w", err)
	}
	defer rows.Close()

	var out []WindowRow
	for rows.Next() {
		var row WindowRow
		if err := rows.Scan(&row.ID, &row.Created); err != nil {
			return nil, fmt.Errorf("scan window row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *PostgresStore) FilterByReferenceAndStatus(ctx context.Context, ids []uuid.UUID, refType ReferenceType, statuses []Status) ([]*Correspondence, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	statusValues := make([]string, 0, len(statuses))
	for _, st := range statuses {
		statusValues = append(statusValues, string(st))
	}

	// Current status per correspondence is the latest occurred_at, ties
	// broken by ledger sequence, matching CurrentStatus.
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT c.id
		FROM correspondences c
		JOIN correspondence_references r
		  ON r.correspondence_id = c.id AND r.reference_type = $2
		JOIN LATERAL (
			SELECT status
			FROM correspondence_statuses
			WHERE correspondence_id = c.id
			ORDER BY occurred_at DESC, seq DESC
			LIMIT 1
		) current ON true
		WHERE c.id = ANY($1) AND current.status = ANY($3)
	`, pq.Array(ids), string(refType), pq.Array(statusValues))
	if err != nil {
		return nil, fmt.Errorf("filter window: %w", err)
	}
	defer rows.Close()

	var matched []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan filtered id: %w", err)
		}
		matched = append(matched, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*Correspondence, 0, len(matched))
	for _, id := range matched {
		c, err := s.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}
