package memory

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"reconcileedit/application/ports"
	"reconcileedit/domain/core/entities"
	"reconcileedit/domain/core/valueobjects"
	"reconcileedit/infrastructure/persistence/abstractions"
	"reconcileedit/pkg/errors"
)

type record struct {
	doc      entities.EntityDocument
	revision valueobjects.RevisionID
	keys     []string
}

// EntityStore is an in-process revisioned store. A single mutex makes every
// write atomic, which is all the revision check needs.
type EntityStore struct {
	mu      sync.RWMutex
	nextID  int64
	records map[string]*record
	index   map[string]map[string]struct{}
	history map[string][]abstractions.RevisionRecord
	guard   *abstractions.WriteGuard
	logger  *zap.Logger
	now     func() time.Time
}

var _ ports.EntityStore = (*EntityStore)(nil)

// NewEntityStore creates an empty store
func NewEntityStore(guard *abstractions.WriteGuard, logger *zap.Logger) *EntityStore {
	return &EntityStore{
		records: make(map[string]*record),
		index:   make(map[string]map[string]struct{}),
		history: make(map[string][]abstractions.RevisionRecord),
		guard:   guard,
		logger:  logger,
		now:     time.Now,
	}
}

// LookupByStatement implements ports.EntityStore
func (s *EntityStore) LookupByStatement(ctx context.Context, property valueobjects.PropertyID, value valueobjects.Value) ([]*entities.RevisionedEntity, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewStoreUnavailableError("lookup", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.index[abstractions.StatementKey(property, value)]
	out := make([]*entities.RevisionedEntity, 0, len(ids))
	for id := range ids {
		out = append(out, s.snapshot(s.records[id]))
	}
	return out, nil
}

// GetEntity implements ports.EntityStore
func (s *EntityStore) GetEntity(ctx context.Context, id valueobjects.EntityID) (*entities.RevisionedEntity, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewStoreUnavailableError("get", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id.String()]
	if !ok {
		return nil, errors.NewEntityNotFoundError(id.String())
	}
	return s.snapshot(rec), nil
}

// CreateEntity implements ports.EntityStore
func (s *EntityStore) CreateEntity(ctx context.Context, entity *entities.Entity, session ports.EditSession, summary string) (*entities.RevisionedEntity, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewStoreUnavailableError("create", err)
	}
	if err := s.guard.CheckCreate(entity, session); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := valueobjects.EntityIDFromNumber(s.nextID)
	stored := entity.WithID(id)
	rec := &record{
		doc:      stored.ToDocument(),
		revision: 1,
		keys:     abstractions.StatementKeys(stored),
	}
	s.records[id.String()] = rec
	s.addToIndex(id.String(), rec.keys)
	s.appendHistory(id, rec.revision, session, summary)

	s.logger.Debug("Entity created",
		zap.String("entity_id", id.String()),
		zap.String("user_id", session.UserID),
	)
	return s.snapshot(rec), nil
}

// UpdateEntity implements ports.EntityStore
func (s *EntityStore) UpdateEntity(ctx context.Context, entity *entities.Entity, baseRevision valueobjects.RevisionID, session ports.EditSession, summary string) (*entities.RevisionedEntity, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewStoreUnavailableError("update", err)
	}
	if err := s.guard.CheckUpdate(entity, baseRevision, session); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := entity.ID()
	rec, ok := s.records[id.String()]
	if !ok {
		return nil, errors.NewEntityNotFoundError(id.String())
	}
	if rec.revision != baseRevision {
		return nil, errors.NewEditConflictError(id.String(), baseRevision.Int64()).
			WithDetail("current_revision", rec.revision.Int64())
	}

	s.removeFromIndex(id.String(), rec.keys)
	rec.doc = entity.Clone().ToDocument()
	rec.revision++
	rec.keys = abstractions.StatementKeys(entity)
	s.addToIndex(id.String(), rec.keys)
	s.appendHistory(id, rec.revision, session, summary)

	return s.snapshot(rec), nil
}

// Ping implements ports.HealthChecker
func (s *EntityStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// History returns the revisions written for an entity, oldest first
func (s *EntityStore) History(id valueobjects.EntityID) []abstractions.RevisionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]abstractions.RevisionRecord(nil), s.history[id.String()]...)
}

func (s *EntityStore) snapshot(rec *record) *entities.RevisionedEntity {
	return &entities.RevisionedEntity{
		Entity:   entities.ReconstructEntity(rec.doc),
		Revision: rec.revision,
	}
}

func (s *EntityStore) addToIndex(id string, keys []string) {
	for _, k := range keys {
		set, ok := s.index[k]
		if !ok {
			set = make(map[string]struct{})
			s.index[k] = set
		}
		set[id] = struct{}{}
	}
}

func (s *EntityStore) removeFromIndex(id string, keys []string) {
	for _, k := range keys {
		delete(s.index[k], id)
		if len(s.index[k]) == 0 {
			delete(s.index, k)
		}
	}
}

func (s *EntityStore) appendHistory(id valueobjects.EntityID, rev valueobjects.RevisionID, session ports.EditSession, summary string) {
	s.history[id.String()] = append(s.history[id.String()], abstractions.RevisionRecord{
		EntityID:  id,
		Revision:  rev,
		UserID:    session.UserID,
		Summary:   summary,
		CreatedAt: s.now(),
	})
}
