package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"idrelay/internal/lifecycle/models"
	"idrelay/pkg/platform/sentinel"
	txcontext "idrelay/pkg/platform/tx"
)

// PostgresStore persists entities in the entities table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbRunner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) runner(ctx context.Context) dbRunner {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const entityColumns = `
	id, subject_id, kind, email, first_name, last_name, national_id,
	specialty, is_active, under_investigation, investigation_notes,
	correlation_hash, soft_deleted_at, anonymized_at, deletion_reason,
	last_login_at, created_at, updated_at
`

func (s *PostgresStore) Create(ctx context.Context, entity *models.Entity) error {
	now := time.Now()
	entity.CreatedAt = now
	entity.UpdatedAt = now

	query := `
		INSERT INTO entities (` + entityColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`
	_, err := s.runner(ctx).ExecContext(ctx, query,
		entity.ID, entity.SubjectID, string(entity.Kind),
		entity.Email, entity.FirstName, entity.LastName, entity.NationalID,
		entity.Specialty, entity.IsActive, entity.UnderInvestigation, entity.InvestigationNotes,
		entity.CorrelationHash, entity.SoftDeletedAt, entity.AnonymizedAt, string(entity.DeletionReason),
		entity.LastLoginAt, entity.CreatedAt, entity.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("entity %s: %w", entity.SubjectID, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert entity: %w", err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, entity *models.Entity) error {
	entity.UpdatedAt = time.Now()

	query := `
		UPDATE entities SET
			subject_id = $2, email = $3, first_name = $4, last_name = $5,
			national_id = $6, specialty = $7, is_active = $8,
			under_investigation = $9, investigation_notes = $10,
			correlation_hash = $11, soft_deleted_at = $12, anonymized_at = $13,
			deletion_reason = $14, last_login_at = $15, updated_at = $16
		WHERE id = $1
	`
	res, err := s.runner(ctx).ExecContext(ctx, query,
		entity.ID, entity.SubjectID, entity.Email, entity.FirstName, entity.LastName,
		entity.NationalID, entity.Specialty, entity.IsActive,
		entity.UnderInvestigation, entity.InvestigationNotes,
		entity.CorrelationHash, entity.SoftDeletedAt, entity.AnonymizedAt,
		string(entity.DeletionReason), entity.LastLoginAt, entity.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update entity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("entity %s: %w", entity.ID, sentinel.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id uuid.UUID) (*models.Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities WHERE id = $1`
	return s.scanOne(s.runner(ctx).QueryRowContext(ctx, query, id))
}

func (s *PostgresStore) FindBySubject(ctx context.Context, subjectID string) (*models.Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities WHERE subject_id = $1 AND anonymized_at IS NULL`
	return s.scanOne(s.runner(ctx).QueryRowContext(ctx, query, subjectID))
}

func (s *PostgresStore) FindAnonymizedByCorrelationHash(ctx context.Context, hash string) (*models.Entity, error) {
	query := `
		SELECT ` + entityColumns + `
		FROM entities
		WHERE correlation_hash = $1 AND anonymized_at IS NOT NULL
		ORDER BY anonymized_at DESC
		LIMIT 1
	`
	return s.scanOne(s.runner(ctx).QueryRowContext(ctx, query, hash))
}

func (s *PostgresStore) ListDueForAnonymization(ctx context.Context, cutoff time.Time, limit int) ([]*models.Entity, error) {
	query := `
		SELECT ` + entityColumns + `
		FROM entities
		WHERE soft_deleted_at IS NOT NULL
		  AND soft_deleted_at < $1
		  AND anonymized_at IS NULL
		ORDER BY soft_deleted_at
		LIMIT $2
	`
	rows, err := s.runner(ctx).QueryContext(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("query due entities: %w", err)
	}
	defer rows.Close()
	return s.scanMany(rows)
}

func (s *PostgresStore) ListSoftDeleted(ctx context.Context) ([]*models.Entity, error) {
	query := `
		SELECT ` + entityColumns + `
		FROM entities
		WHERE soft_deleted_at IS NOT NULL AND anonymized_at IS NULL
		ORDER BY soft_deleted_at
	`
	rows, err := s.runner(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query soft-deleted entities: %w", err)
	}
	defer rows.Close()
	return s.scanMany(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) scanOne(row rowScanner) (*models.Entity, error) {
	e, err := scanEntity(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan entity: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) scanMany(rows *sql.Rows) ([]*models.Entity, error) {
	var out []*models.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}
	return out, nil
}

func scanEntity(row rowScanner) (*models.Entity, error) {
	var (
		e              models.Entity
		kind           string
		deletionReason string
	)
	err := row.Scan(
		&e.ID, &e.SubjectID, &kind, &e.Email, &e.FirstName, &e.LastName, &e.NationalID,
		&e.Specialty, &e.IsActive, &e.UnderInvestigation, &e.InvestigationNotes,
		&e.CorrelationHash, &e.SoftDeletedAt, &e.AnonymizedAt, &deletionReason,
		&e.LastLoginAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Kind = models.EntityKind(kind)
	e.DeletionReason = models.DeletionReason(deletionReason)
	return &e, nil
}
