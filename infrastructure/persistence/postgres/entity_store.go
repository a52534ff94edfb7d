package postgres

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"reconcileedit/application/ports"
	"reconcileedit/domain/core/entities"
	"reconcileedit/domain/core/valueobjects"
	"reconcileedit/infrastructure/persistence/abstractions"
	"reconcileedit/pkg/errors"
)

// Schema creates the tables the store needs. It is idempotent.
const Schema = `
CREATE SEQUENCE IF NOT EXISTS entity_number_seq;

CREATE TABLE IF NOT EXISTS entities (
	id         BIGINT PRIMARY KEY,
	revision   BIGINT NOT NULL,
	document   JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS entity_statements (
	statement_key TEXT NOT NULL,
	entity_id     BIGINT NOT NULL REFERENCES entities(id),
	PRIMARY KEY (statement_key, entity_id)
);

CREATE TABLE IF NOT EXISTS entity_revisions (
	entity_id  BIGINT NOT NULL REFERENCES entities(id),
	revision   BIGINT NOT NULL,
	user_id    TEXT NOT NULL,
	summary    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (entity_id, revision)
);
`

// EntityStore implements ports.EntityStore on PostgreSQL. Each write is one
// transaction; updates are conditioned on the stored revision.
type EntityStore struct {
	pool   *pgxpool.Pool
	guard  *abstractions.WriteGuard
	logger *zap.Logger
	now    func() time.Time
}

var _ ports.EntityStore = (*EntityStore)(nil)

// NewEntityStore creates a store over an existing pool
func NewEntityStore(pool *pgxpool.Pool, guard *abstractions.WriteGuard, logger *zap.Logger) *EntityStore {
	return &EntityStore{pool: pool, guard: guard, logger: logger, now: time.Now}
}

// Connect opens a pool for dsn and applies Schema
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if _, err := pool.Exec(ctx, Schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return pool, nil
}

// LookupByStatement implements ports.EntityStore
func (s *EntityStore) LookupByStatement(ctx context.Context, property valueobjects.PropertyID, value valueobjects.Value) ([]*entities.RevisionedEntity, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT e.revision, e.document
		FROM entity_statements st
		JOIN entities e ON e.id = st.entity_id
		WHERE st.statement_key = $1
		ORDER BY e.id`,
		abstractions.StatementKey(property, value))
	if err != nil {
		return nil, s.unavailable("lookup", err)
	}
	defer rows.Close()

	out := make([]*entities.RevisionedEntity, 0)
	for rows.Next() {
		stored, err := scanEntity(rows)
		if err != nil {
			return nil, s.unavailable("lookup", err)
		}
		out = append(out, stored)
	}
	if err := rows.Err(); err != nil {
		return nil, s.unavailable("lookup", err)
	}
	return out, nil
}

// GetEntity implements ports.EntityStore
func (s *EntityStore) GetEntity(ctx context.Context, id valueobjects.EntityID) (*entities.RevisionedEntity, error) {
	row := s.pool.QueryRow(ctx, `SELECT revision, document FROM entities WHERE id = $1`, id.Number())
	stored, err := scanEntity(row)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NewEntityNotFoundError(id.String())
	}
	if err != nil {
		return nil, s.unavailable("get", err)
	}
	return stored, nil
}

// CreateEntity implements ports.EntityStore
func (s *EntityStore) CreateEntity(ctx context.Context, entity *entities.Entity, session ports.EditSession, summary string) (*entities.RevisionedEntity, error) {
	if err := s.guard.CheckCreate(entity, session); err != nil {
		return nil, err
	}

	ctx, span := otel.Tracer("postgres-entity-store").Start(ctx, "CreateEntity")
	defer span.End()

	var stored *entities.Entity
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var number int64
		if err := tx.QueryRow(ctx, `SELECT nextval('entity_number_seq')`).Scan(&number); err != nil {
			return err
		}
		stored = entity.WithID(valueobjects.EntityIDFromNumber(number))

		doc, err := json.Marshal(stored.ToDocument())
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO entities (id, revision, document, updated_at) VALUES ($1, 1, $2, $3)`,
			number, doc, s.now()); err != nil {
			return err
		}
		return s.writeIndexAndHistory(ctx, tx, stored, 1, session, summary)
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, s.unavailable("create", err)
	}

	span.SetAttributes(attribute.String("entity.id", stored.ID().String()))
	return &entities.RevisionedEntity{Entity: stored.Clone(), Revision: 1}, nil
}

// UpdateEntity implements ports.EntityStore
func (s *EntityStore) UpdateEntity(ctx context.Context, entity *entities.Entity, baseRevision valueobjects.RevisionID, session ports.EditSession, summary string) (*entities.RevisionedEntity, error) {
	if err := s.guard.CheckUpdate(entity, baseRevision, session); err != nil {
		return nil, err
	}

	ctx, span := otel.Tracer("postgres-entity-store").Start(ctx, "UpdateEntity")
	defer span.End()

	id := entity.ID()
	span.SetAttributes(
		attribute.String("entity.id", id.String()),
		attribute.Int64("entity.base_revision", baseRevision.Int64()),
	)

	doc, err := json.Marshal(entity.ToDocument())
	if err != nil {
		return nil, fmt.Errorf("failed to encode entity: %w", err)
	}
	next := baseRevision + 1

	var domainErr error
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE entities SET revision = $3, document = $4, updated_at = $5 WHERE id = $1 AND revision = $2`,
			id.Number(), baseRevision.Int64(), next.Int64(), doc, s.now())
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			domainErr = s.missOrConflict(ctx, tx, id, baseRevision)
			return domainErr
		}

		if _, err := tx.Exec(ctx, `DELETE FROM entity_statements WHERE entity_id = $1`, id.Number()); err != nil {
			return err
		}
		return s.writeIndexAndHistory(ctx, tx, entity, next, session, summary)
	})
	if domainErr != nil {
		return nil, domainErr
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, s.unavailable("update", err)
	}

	return &entities.RevisionedEntity{Entity: entity.Clone(), Revision: next}, nil
}

// Ping implements ports.HealthChecker
func (s *EntityStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return s.unavailable("ping", err)
	}
	return nil
}

// History returns the revisions written for an entity, oldest first
func (s *EntityStore) History(ctx context.Context, id valueobjects.EntityID) ([]abstractions.RevisionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT revision, user_id, summary, created_at FROM entity_revisions WHERE entity_id = $1 ORDER BY revision`,
		id.Number())
	if err != nil {
		return nil, s.unavailable("history", err)
	}
	defer rows.Close()

	var out []abstractions.RevisionRecord
	for rows.Next() {
		rec := abstractions.RevisionRecord{EntityID: id}
		var rev int64
		if err := rows.Scan(&rev, &rec.UserID, &rec.Summary, &rec.CreatedAt); err != nil {
			return nil, s.unavailable("history", err)
		}
		rec.Revision = valueobjects.RevisionID(rev)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *EntityStore) writeIndexAndHistory(ctx context.Context, tx pgx.Tx, entity *entities.Entity, revision valueobjects.RevisionID, session ports.EditSession, summary string) error {
	batch := &pgx.Batch{}
	for _, key := range abstractions.StatementKeys(entity) {
		batch.Queue(`INSERT INTO entity_statements (statement_key, entity_id) VALUES ($1, $2)`, key, entity.ID().Number())
	}
	batch.Queue(`INSERT INTO entity_revisions (entity_id, revision, user_id, summary, created_at) VALUES ($1, $2, $3, $4, $5)`,
		entity.ID().Number(), revision.Int64(), session.UserID, summary, s.now())
	return tx.SendBatch(ctx, batch).Close()
}

func (s *EntityStore) missOrConflict(ctx context.Context, tx pgx.Tx, id valueobjects.EntityID, baseRevision valueobjects.RevisionID) error {
	var current int64
	err := tx.QueryRow(ctx, `SELECT revision FROM entities WHERE id = $1`, id.Number()).Scan(&current)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return errors.NewEntityNotFoundError(id.String())
	}
	if err != nil {
		return s.unavailable("update", err)
	}
	return errors.NewEditConflictError(id.String(), baseRevision.Int64()).
		WithDetail("current_revision", current)
}

func (s *EntityStore) unavailable(operation string, err error) error {
	if de := errors.GetDomainError(err); de != nil {
		return err
	}
	s.logger.Warn("Postgres request failed", zap.String("operation", operation), zap.Error(err))
	return errors.NewStoreUnavailableError(operation, err)
}

func scanEntity(row pgx.Row) (*entities.RevisionedEntity, error) {
	var (
		revision int64
		raw      []byte
	)
	if err := row.Scan(&revision, &raw); err != nil {
		return nil, err
	}
	var doc entities.EntityDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode entity: %w", err)
	}
	return &entities.RevisionedEntity{
		Entity:   entities.ReconstructEntity(doc),
		Revision: valueobjects.RevisionID(revision),
	}, nil
}
