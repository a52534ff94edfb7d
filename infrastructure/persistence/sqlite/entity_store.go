package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"reconcileedit/application/ports"
	"reconcileedit/domain/core/entities"
	"reconcileedit/domain/core/valueobjects"
	"reconcileedit/infrastructure/persistence/abstractions"
	"reconcileedit/pkg/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS entities (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	revision   INTEGER NOT NULL,
	document   TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS entity_statements (
	statement_key TEXT NOT NULL,
	entity_id     INTEGER NOT NULL REFERENCES entities(id),
	PRIMARY KEY (statement_key, entity_id)
);
CREATE TABLE IF NOT EXISTS entity_revisions (
	entity_id  INTEGER NOT NULL REFERENCES entities(id),
	revision   INTEGER NOT NULL,
	user_id    TEXT NOT NULL,
	summary    TEXT NOT NULL,
	created_at TEXT NOT NULL,
	PRIMARY KEY (entity_id, revision)
);
`

// EntityStore implements ports.EntityStore on a single SQLite file. The pool
// is limited to one connection so writers are serialized by database/sql.
type EntityStore struct {
	db     *sql.DB
	path   string
	guard  *abstractions.WriteGuard
	logger *zap.Logger
	now    func() time.Time
}

var _ ports.EntityStore = (*EntityStore)(nil)

// NewEntityStore opens (or creates) the database at path
func NewEntityStore(path string, guard *abstractions.WriteGuard, logger *zap.Logger) (*EntityStore, error) {
	if path == "" {
		path = "reconcile-edit.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !stderrors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA foreign_keys = ON; PRAGMA busy_timeout = 5000;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &EntityStore{db: db, path: path, guard: guard, logger: logger, now: time.Now}, nil
}

// Close releases the database handle
func (s *EntityStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path
func (s *EntityStore) Path() string {
	return s.path
}

// LookupByStatement implements ports.EntityStore
func (s *EntityStore) LookupByStatement(ctx context.Context, property valueobjects.PropertyID, value valueobjects.Value) ([]*entities.RevisionedEntity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.revision, e.document
		FROM entity_statements st
		JOIN entities e ON e.id = st.entity_id
		WHERE st.statement_key = ?
		ORDER BY e.id`,
		abstractions.StatementKey(property, value))
	if err != nil {
		return nil, s.unavailable("lookup", err)
	}
	defer func() { _ = rows.Close() }()

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
	row := s.db.QueryRowContext(ctx, `SELECT revision, document FROM entities WHERE id = ?`, id.Number())
	stored, err := scanEntity(row)
	if stderrors.Is(err, sql.ErrNoRows) {
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

	var stored *entities.Entity
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO entities (revision, document, updated_at) VALUES (1, '{}', ?)`, s.timestamp())
		if err != nil {
			return err
		}
		number, err := res.LastInsertId()
		if err != nil {
			return err
		}
		stored = entity.WithID(valueobjects.EntityIDFromNumber(number))

		doc, err := json.Marshal(stored.ToDocument())
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE entities SET document = ? WHERE id = ?`, string(doc), number); err != nil {
			return err
		}
		return s.writeIndexAndHistory(ctx, tx, stored, 1, session, summary)
	})
	if err != nil {
		return nil, s.unavailable("create", err)
	}
	return &entities.RevisionedEntity{Entity: stored.Clone(), Revision: 1}, nil
}

// UpdateEntity implements ports.EntityStore
func (s *EntityStore) UpdateEntity(ctx context.Context, entity *entities.Entity, baseRevision valueobjects.RevisionID, session ports.EditSession, summary string) (*entities.RevisionedEntity, error) {
	if err := s.guard.CheckUpdate(entity, baseRevision, session); err != nil {
		return nil, err
	}

	id := entity.ID()
	doc, err := json.Marshal(entity.ToDocument())
	if err != nil {
		return nil, fmt.Errorf("failed to encode entity: %w", err)
	}
	next := baseRevision + 1

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE entities SET revision = ?, document = ?, updated_at = ? WHERE id = ? AND revision = ?`,
			next.Int64(), string(doc), s.timestamp(), id.Number(), baseRevision.Int64())
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return s.missOrConflict(ctx, tx, id, baseRevision)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM entity_statements WHERE entity_id = ?`, id.Number()); err != nil {
			return err
		}
		return s.writeIndexAndHistory(ctx, tx, entity, next, session, summary)
	})
	if err != nil {
		return nil, s.unavailable("update", err)
	}
	return &entities.RevisionedEntity{Entity: entity.Clone(), Revision: next}, nil
}

// Ping implements ports.HealthChecker
func (s *EntityStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return s.unavailable("ping", err)
	}
	return nil
}

// History returns the revisions written for an entity, oldest first
func (s *EntityStore) History(ctx context.Context, id valueobjects.EntityID) ([]abstractions.RevisionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT revision, user_id, summary, created_at FROM entity_revisions WHERE entity_id = ? ORDER BY revision`,
		id.Number())
	if err != nil {
		return nil, s.unavailable("history", err)
	}
	defer func() { _ = rows.Close() }()

	var out []abstractions.RevisionRecord
	for rows.Next() {
		var (
			rev     int64
			created string
		)
		rec := abstractions.RevisionRecord{EntityID: id}
		if err := rows.Scan(&rev, &rec.UserID, &rec.Summary, &created); err != nil {
			return nil, s.unavailable("history", err)
		}
		rec.Revision = valueobjects.RevisionID(rev)
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *EntityStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) (retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *EntityStore) writeIndexAndHistory(ctx context.Context, tx *sql.Tx, entity *entities.Entity, revision valueobjects.RevisionID, session ports.EditSession, summary string) error {
	for _, key := range abstractions.StatementKeys(entity) {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO entity_statements (statement_key, entity_id) VALUES (?, ?)`,
			key, entity.ID().Number()); err != nil {
			return err
		}
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO entity_revisions (entity_id, revision, user_id, summary, created_at) VALUES (?, ?, ?, ?, ?)`,
		entity.ID().Number(), revision.Int64(), session.UserID, summary, s.timestamp())
	return err
}

func (s *EntityStore) missOrConflict(ctx context.Context, tx *sql.Tx, id valueobjects.EntityID, baseRevision valueobjects.RevisionID) error {
	var current int64
	err := tx.QueryRowContext(ctx, `SELECT revision FROM entities WHERE id = ?`, id.Number()).Scan(&current)
	if stderrors.Is(err, sql.ErrNoRows) {
		return errors.NewEntityNotFoundError(id.String())
	}
	if err != nil {
		return err
	}
	return errors.NewEditConflictError(id.String(), baseRevision.Int64()).
		WithDetail("current_revision", current)
}

func (s *EntityStore) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

func (s *EntityStore) unavailable(operation string, err error) error {
	if errors.GetDomainError(err) != nil {
		return err
	}
	s.logger.Warn("SQLite request failed", zap.String("operation", operation), zap.Error(err))
	return errors.NewStoreUnavailableError(operation, err)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntity(row scanner) (*entities.RevisionedEntity, error) {
	var (
		revision int64
		raw      string
	)
	if err := row.Scan(&revision, &raw); err != nil {
		return nil, err
	}
	var doc entities.EntityDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("failed to decode entity: %w", err)
	}
	return &entities.RevisionedEntity{
		Entity:   entities.ReconstructEntity(doc),
		Revision: valueobjects.RevisionID(revision),
	}, nil
}
