package store

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"modeld/pkg/domain"
)

// MemoryStore keeps everything in-process. Used by tests and for running
// without a database. All mutations happen under one lock, so the
// replace-on-update and delete cascades are atomic here.
type MemoryStore struct {
	mu         sync.RWMutex
	models     map[string]domain.Model
	order      []string // model IDs, insertion order
	records    map[string][]domain.Record // model ID -> records, insertion order
	identities map[string]domain.Identity
	email      map[string]string // email -> identity ID
	roles      map[string]domain.Role
	sess       map[string]string // token -> identity ID
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		models:     make(map[string]domain.Model),
		records:    make(map[string][]domain.Record),
		identities: make(map[string]domain.Identity),
		email:      make(map[string]string),
		roles:      make(map[string]domain.Role),
		sess:       make(map[string]string),
	}
}

// SaveIdentity registers an identity.
func (m *MemoryStore) SaveIdentity(id domain.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identities[id.ID] = id
	m.email[id.Email] = id.ID
	return nil
}

// HasIdentityEmail checks if the email exists.
func (m *MemoryStore) HasIdentityEmail(email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.email[email]
	return ok, nil
}

// GetIdentityByEmail looks up an identity by email.
func (m *MemoryStore) GetIdentityByEmail(email string) (domain.Identity, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id, ok := m.email[email]; ok {
		identity, exists := m.identities[id]
		return identity, exists, nil
	}
	return domain.Identity{}, false, nil
}

// GetIdentityByID returns an identity by ID.
func (m *MemoryStore) GetIdentityByID(id string) (domain.Identity, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	identity, ok := m.identities[id]
	return identity, ok, nil
}

// IdentityCount returns the number of identities.
func (m *MemoryStore) IdentityCount() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.identities), nil
}

// GetRole returns the persisted role assignment, if any.
func (m *MemoryStore) GetRole(identityID string) (domain.Role, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	role, ok := m.roles[identityID]
	return role, ok, nil
}

// SetRole upserts a role assignment.
func (m *MemoryStore) SetRole(identityID string, role domain.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[identityID] = role
	return nil
}

// ListRoles returns all role assignments ordered by identity ID.
func (m *MemoryStore) ListRoles() ([]RoleAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]RoleAssignment, 0, len(m.roles))
	for id, role := range m.roles {
		res = append(res, RoleAssignment{IdentityID: id, Role: role})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].IdentityID < res[j].IdentityID })
	return res, nil
}

// CreateModel stores a model, assigning identifiers.
func (m *MemoryStore) CreateModel(model domain.Model) (domain.Model, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	model.ID = uuid.NewString()
	model.CreatedAt = now
	model.UpdatedAt = now
	if _, exists := m.models[model.ID]; exists {
		return domain.Model{}, ErrConflict
	}
	for i := range model.Fields {
		model.Fields[i].ID = uuid.NewString()
		model.Fields[i].ModelID = model.ID
	}
	m.models[model.ID] = model
	m.order = append(m.order, model.ID)
	return cloneModel(model), nil
}

// GetModel returns the full definition.
func (m *MemoryStore) GetModel(id string) (domain.Model, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	model, ok := m.models[id]
	if !ok {
		return domain.Model{}, ErrNotFound
	}
	return cloneModel(model), nil
}

// ListModels returns summaries, newest first.
func (m *MemoryStore) ListModels() ([]domain.ModelSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.ModelSummary, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		if model, ok := m.models[m.order[i]]; ok {
			res = append(res, model.Summary())
		}
	}
	return res, nil
}

// UpdateModel replaces metadata and the full field set.
func (m *MemoryStore) UpdateModel(id, name, description string, fields []domain.Field) (domain.Model, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	model, ok := m.models[id]
	if !ok {
		return domain.Model{}, ErrNotFound
	}
	model.Name = name
	model.Description = description
	model.UpdatedAt = time.Now().UTC()
	replaced := make([]domain.Field, len(fields))
	copy(replaced, fields)
	for i := range replaced {
		replaced[i].ID = uuid.NewString()
		replaced[i].ModelID = id
	}
	model.Fields = replaced
	m.models[id] = model
	return cloneModel(model), nil
}

// DeleteModel removes the model, its fields, and its records.
func (m *MemoryStore) DeleteModel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.models[id]; !ok {
		return ErrNotFound
	}
	delete(m.models, id)
	delete(m.records, id)
	filtered := m.order[:0]
	for _, item := range m.order {
		if item != id {
			filtered = append(filtered, item)
		}
	}
	m.order = filtered
	return nil
}

// SaveRecord stores or replaces a record.
func (m *MemoryStore) SaveRecord(rec domain.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.records[rec.ModelID]
	for i, existing := range list {
		if existing.ID == rec.ID {
			list[i] = rec
			return nil
		}
	}
	m.records[rec.ModelID] = append(list, rec)
	return nil
}

// GetRecord retrieves one record of a model.
func (m *MemoryStore) GetRecord(modelID, id string) (domain.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rec := range m.records[modelID] {
		if rec.ID == id {
			return rec, nil
		}
	}
	return domain.Record{}, ErrNotFound
}

// ListRecords returns a model's records, newest first.
func (m *MemoryStore) ListRecords(modelID string) ([]domain.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.records[modelID]
	res := make([]domain.Record, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		res = append(res, list[i])
	}
	return res, nil
}

// DeleteRecord removes one record of a model.
func (m *MemoryStore) DeleteRecord(modelID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.records[modelID]
	for i, rec := range list {
		if rec.ID == id {
			m.records[modelID] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// NewSession creates a session token bound to an identity.
func (m *MemoryStore) NewSession(identityID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token := uuid.NewString()
	m.sess[token] = identityID
	return token, nil
}

// GetIdentityIDByToken resolves a token to an identity ID.
func (m *MemoryStore) GetIdentityIDByToken(token string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.sess[token]
	return id, ok, nil
}

// DeleteSession removes a token mapping.
func (m *MemoryStore) DeleteSession(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sess, token)
	return nil
}

func cloneModel(model domain.Model) domain.Model {
	out := model
	out.Fields = make([]domain.Field, len(model.Fields))
	copy(out.Fields, model.Fields)
	return out
}
