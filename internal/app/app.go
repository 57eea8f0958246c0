// Package app orchestrates the schema store, record validator, and access
// control engine. Guards run before any storage access; validator violations
// abort writes and are returned verbatim.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"modeld/internal/access"
	"modeld/internal/auth"
	"modeld/internal/store"
	"modeld/internal/validate"
	"modeld/pkg/domain"
)

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL     string
	RedisAddr       string
	RedisPassword   string
	SessionStrategy string // "redis" (default) or "jwt"
	SessionTTL      time.Duration
	JWTSecret       string
	JWTIssuer       string
	Store           store.Store
	Sessions        store.SessionStore
}

// App wires storage, validation, and authorization together.
type App struct {
	store    store.Store
	sessions store.SessionStore
	engine   *access.Engine
}

// New constructs the application. When no Store is injected it opens the
// Postgres-backed one; when no SessionStore is injected the configured
// strategy decides between Redis and stateless JWT sessions.
func New(cfg Config) (*App, error) {
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 24 * time.Hour
	}

	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}

	sessionStore := cfg.Sessions
	if sessionStore == nil {
		switch strings.ToLower(strings.TrimSpace(cfg.SessionStrategy)) {
		case "", "redis":
			if strings.TrimSpace(cfg.RedisAddr) == "" {
				return nil, fmt.Errorf("redisAddr is required for the redis session strategy")
			}
			sessionStore = store.NewRedisSessionStore(cfg.RedisAddr, cfg.RedisPassword, cfg.SessionTTL)
		case "jwt":
			jwtStore, err := store.NewJWTSessionStore(cfg.JWTSecret, cfg.JWTIssuer, cfg.SessionTTL)
			if err != nil {
				return nil, fmt.Errorf("init jwt session store: %w", err)
			}
			sessionStore = jwtStore
		default:
			return nil, fmt.Errorf("unknown session strategy %q", cfg.SessionStrategy)
		}
	}

	return &App{
		store:    dataStore,
		sessions: sessionStore,
		engine:   access.NewEngine(access.NewResolver(dataStore)),
	}, nil
}

// FieldInput is one submitted field definition. Order follows slice position.
type FieldInput struct {
	Name         string `json:"name"`
	Type         string `json:"fieldType"`
	Required     bool   `json:"required"`
	DefaultValue string `json:"defaultValue"`
}

// ModelInput is a submitted model definition. On update the field set is a
// full replacement: fields not resent are dropped.
type ModelInput struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Fields      []FieldInput `json:"fields"`
}

// SignUp registers a new identity and opens a session. The first identity
// registered is assigned the admin role so a fresh deployment can be
// administered; everyone else resolves to viewer until assigned.
func (a *App) SignUp(email, password string) (domain.Identity, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return domain.Identity{}, "", ErrEmailAndPasswordRequired
	}
	if err := auth.ValidatePassword(password); err != nil {
		return domain.Identity{}, "", err
	}
	exists, err := a.store.HasIdentityEmail(email)
	if err != nil {
		return domain.Identity{}, "", fmt.Errorf("check email: %w", err)
	}
	if exists {
		return domain.Identity{}, "", ErrEmailTaken
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.Identity{}, "", fmt.Errorf("hash password: %w", err)
	}
	count, err := a.store.IdentityCount()
	if err != nil {
		return domain.Identity{}, "", fmt.Errorf("count identities: %w", err)
	}
	identity := domain.Identity{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := a.store.SaveIdentity(identity); err != nil {
		return domain.Identity{}, "", fmt.Errorf("save identity: %w", err)
	}
	if count == 0 {
		if err := a.store.SetRole(identity.ID, domain.RoleAdmin); err != nil {
			return domain.Identity{}, "", fmt.Errorf("assign bootstrap admin: %w", err)
		}
	}
	token, err := a.sessions.NewSession(identity.ID)
	if err != nil {
		return domain.Identity{}, "", fmt.Errorf("open session: %w", err)
	}
	return identity, token, nil
}

// LogIn verifies credentials and opens a session.
func (a *App) LogIn(email, password string) (domain.Identity, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return domain.Identity{}, "", ErrEmailAndPasswordRequired
	}
	identity, found, err := a.store.GetIdentityByEmail(email)
	if err != nil {
		return domain.Identity{}, "", fmt.Errorf("lookup identity: %w", err)
	}
	if !found || !auth.CheckPassword(password, identity.PasswordHash) {
		return domain.Identity{}, "", ErrInvalidCredentials
	}
	token, err := a.sessions.NewSession(identity.ID)
	if err != nil {
		return domain.Identity{}, "", fmt.Errorf("open session: %w", err)
	}
	return identity, token, nil
}

// LogOut revokes a session token.
func (a *App) LogOut(token string) error {
	return a.sessions.DeleteSession(token)
}

// IdentityByToken resolves a session token to its identity.
func (a *App) IdentityByToken(token string) (domain.Identity, bool, error) {
	id, ok, err := a.sessions.GetIdentityIDByToken(token)
	if err != nil || !ok {
		return domain.Identity{}, false, err
	}
	return a.store.GetIdentityByID(id)
}

// ResolveAccess evaluates session and role guards for an operation.
func (a *App) ResolveAccess(ctx context.Context, identity *domain.Identity, op access.Operation) access.Decision {
	return a.engine.ResolveAccess(ctx, identity, op)
}

func (a *App) guard(ctx context.Context, identity *domain.Identity, op access.Operation) error {
	decision := a.engine.ResolveAccess(ctx, identity, op)
	if !decision.Allowed {
		return &DeniedError{Decision: decision}
	}
	return nil
}

// ListModels returns model summaries, newest first.
func (a *App) ListModels(ctx context.Context, identity *domain.Identity) ([]domain.ModelSummary, error) {
	if err := a.guard(ctx, identity, access.OpViewModels); err != nil {
		return nil, err
	}
	models, err := a.store.ListModels()
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	return models, nil
}

// GetModel returns a full model definition with ordered fields.
func (a *App) GetModel(ctx context.Context, identity *domain.Identity, modelID string) (domain.Model, error) {
	if err := a.guard(ctx, identity, access.OpViewModels); err != nil {
		return domain.Model{}, err
	}
	return a.store.GetModel(modelID)
}

// CreateModel validates and persists a new model definition.
func (a *App) CreateModel(ctx context.Context, identity *domain.Identity, input ModelInput) (domain.Model, error) {
	if err := a.guard(ctx, identity, access.OpCreateModel); err != nil {
		return domain.Model{}, err
	}
	model, err := buildModel(input, identity.ID)
	if err != nil {
		return domain.Model{}, err
	}
	created, err := a.store.CreateModel(model)
	if err != nil {
		return domain.Model{}, fmt.Errorf("create model: %w", err)
	}
	return created, nil
}

// UpdateModel replaces a model's metadata and its full field set. Callers
// must resend every field they want to keep.
func (a *App) UpdateModel(ctx context.Context, identity *domain.Identity, modelID string, input ModelInput) (domain.Model, error) {
	if err := a.guard(ctx, identity, access.OpEditModel); err != nil {
		return domain.Model{}, err
	}
	model, err := buildModel(input, identity.ID)
	if err != nil {
		return domain.Model{}, err
	}
	return a.store.UpdateModel(modelID, model.Name, model.Description, model.Fields)
}

// DeleteModel removes a model, cascading to its fields and records.
func (a *App) DeleteModel(ctx context.Context, identity *domain.Identity, modelID string) error {
	if err := a.guard(ctx, identity, access.OpDeleteModel); err != nil {
		return err
	}
	return a.store.DeleteModel(modelID)
}

// ValidateRecord dry-runs validation of a payload against a model and returns
// the canonical record when it passes.
func (a *App) ValidateRecord(ctx context.Context, identity *domain.Identity, modelID string, payload map[string]string) (map[string]string, error) {
	if err := a.guard(ctx, identity, access.OpViewRecords); err != nil {
		return nil, err
	}
	model, err := a.store.GetModel(modelID)
	if err != nil {
		return nil, err
	}
	values, violations := validate.Record(model, payload)
	if violations != nil {
		return nil, &ValidationError{Violations: violations}
	}
	return validate.Canonical(values), nil
}

// ListRecords returns a model's records, newest first.
func (a *App) ListRecords(ctx context.Context, identity *domain.Identity, modelID string) ([]domain.Record, error) {
	if err := a.guard(ctx, identity, access.OpViewRecords); err != nil {
		return nil, err
	}
	if _, err := a.store.GetModel(modelID); err != nil {
		return nil, err
	}
	records, err := a.store.ListRecords(modelID)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return records, nil
}

// CreateRecord validates a payload against the model and stores it.
func (a *App) CreateRecord(ctx context.Context, identity *domain.Identity, modelID string, payload map[string]string) (domain.Record, error) {
	if err := a.guard(ctx, identity, access.OpCreateRecord); err != nil {
		return domain.Record{}, err
	}
	values, err := a.validateAgainstModel(modelID, payload)
	if err != nil {
		return domain.Record{}, err
	}
	now := time.Now().UTC()
	rec := domain.Record{
		ID:        uuid.NewString(),
		ModelID:   modelID,
		Values:    values,
		CreatedBy: identity.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.SaveRecord(rec); err != nil {
		return domain.Record{}, fmt.Errorf("save record: %w", err)
	}
	return rec, nil
}

// UpdateRecord validates a full replacement payload and stores it.
func (a *App) UpdateRecord(ctx context.Context, identity *domain.Identity, modelID, recordID string, payload map[string]string) (domain.Record, error) {
	if err := a.guard(ctx, identity, access.OpEditRecord); err != nil {
		return domain.Record{}, err
	}
	existing, err := a.store.GetRecord(modelID, recordID)
	if err != nil {
		return domain.Record{}, err
	}
	values, err := a.validateAgainstModel(modelID, payload)
	if err != nil {
		return domain.Record{}, err
	}
	existing.Values = values
	existing.UpdatedAt = time.Now().UTC()
	if err := a.store.SaveRecord(existing); err != nil {
		return domain.Record{}, fmt.Errorf("save record: %w", err)
	}
	return existing, nil
}

// DeleteRecord removes one record. Guards only; there is no payload.
func (a *App) DeleteRecord(ctx context.Context, identity *domain.Identity, modelID, recordID string) error {
	if err := a.guard(ctx, identity, access.OpDeleteRecord); err != nil {
		return err
	}
	return a.store.DeleteRecord(modelID, recordID)
}

// ListRoleAssignments returns all persisted role assignments.
func (a *App) ListRoleAssignments(ctx context.Context, identity *domain.Identity) ([]store.RoleAssignment, error) {
	if err := a.guard(ctx, identity, access.OpManageAccess); err != nil {
		return nil, err
	}
	roles, err := a.store.ListRoles()
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	return roles, nil
}

// SetRoleAssignment sets the persisted role of an identity.
func (a *App) SetRoleAssignment(ctx context.Context, identity *domain.Identity, targetID string, role domain.Role) error {
	if err := a.guard(ctx, identity, access.OpManageAccess); err != nil {
		return err
	}
	_, found, err := a.store.GetIdentityByID(targetID)
	if err != nil {
		return fmt.Errorf("lookup identity: %w", err)
	}
	if !found {
		return store.ErrNotFound
	}
	return a.store.SetRole(targetID, role)
}

func (a *App) validateAgainstModel(modelID string, payload map[string]string) (map[string]string, error) {
	model, err := a.store.GetModel(modelID)
	if err != nil {
		return nil, err
	}
	values, violations := validate.Record(model, payload)
	if violations != nil {
		return nil, &ValidationError{Violations: violations}
	}
	return validate.Canonical(values), nil
}

func buildModel(input ModelInput, createdBy string) (domain.Model, error) {
	fields := make([]domain.Field, 0, len(input.Fields))
	for i, in := range input.Fields {
		f, err := domain.NewField(in.Name, in.Type, in.Required, in.DefaultValue, i)
		if err != nil {
			return domain.Model{}, err
		}
		fields = append(fields, f)
	}
	return domain.NewModel(input.Name, input.Description, createdBy, fields)
}
