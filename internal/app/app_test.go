package app

import (
	"context"
	"errors"
	"testing"

	"modeld/internal/access"
	"modeld/internal/store"
	"modeld/internal/validate"
	"modeld/pkg/domain"
)

// countingStore tracks write calls so tests can assert that guards and the
// validator run before any storage access.
type countingStore struct {
	*store.MemoryStore
	createModelCalls int
	saveRecordCalls  int
}

func (c *countingStore) CreateModel(m domain.Model) (domain.Model, error) {
	c.createModelCalls++
	return c.MemoryStore.CreateModel(m)
}

func (c *countingStore) SaveRecord(rec domain.Record) error {
	c.saveRecordCalls++
	return c.MemoryStore.SaveRecord(rec)
}

// partialUpdateStore simulates a backend that cannot keep the metadata write
// and the field replacement atomic.
type partialUpdateStore struct {
	*store.MemoryStore
}

func (p *partialUpdateStore) UpdateModel(id, name, description string, fields []domain.Field) (domain.Model, error) {
	return domain.Model{}, store.ErrPartialUpdate
}

func newTestApp(t *testing.T, backing store.Store) *App {
	t.Helper()
	sessions := store.NewMemoryStore()
	a, err := New(Config{Store: backing, Sessions: sessions})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a
}

func signUp(t *testing.T, a *App, email string) domain.Identity {
	t.Helper()
	identity, _, err := a.SignUp(email, "longenough")
	if err != nil {
		t.Fatalf("sign up %s: %v", email, err)
	}
	return identity
}

func articleInput() ModelInput {
	return ModelInput{
		Name:        "Article",
		Description: "posts",
		Fields: []FieldInput{
			{Name: "title", Type: "string", Required: true},
			{Name: "views", Type: "number", DefaultValue: "0"},
		},
	}
}

func TestFirstSignupIsAdminRestAreViewers(t *testing.T) {
	a := newTestApp(t, store.NewMemoryStore())
	first := signUp(t, a, "first@example.com")
	second := signUp(t, a, "second@example.com")

	ctx := context.Background()
	if d := a.ResolveAccess(ctx, &first, access.OpManageAccess); !d.Allowed || d.Role != domain.RoleAdmin {
		t.Fatalf("first identity should be admin: %+v", d)
	}
	if d := a.ResolveAccess(ctx, &second, access.OpCreateModel); d.Allowed || d.Reason != access.ReasonRoleNotAllowed {
		t.Fatalf("second identity should resolve to viewer: %+v", d)
	}
	if d := a.ResolveAccess(ctx, &second, access.OpViewModels); !d.Allowed || d.Role != domain.RoleViewer {
		t.Fatalf("viewer should read: %+v", d)
	}
}

func TestSignUpRejectsDuplicateEmailAndWeakPassword(t *testing.T) {
	a := newTestApp(t, store.NewMemoryStore())
	signUp(t, a, "a@example.com")
	if _, _, err := a.SignUp("a@example.com", "longenough"); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
	if _, _, err := a.SignUp("b@example.com", "short"); err == nil {
		t.Fatalf("expected weak password rejection")
	}
}

func TestLogInAndSessionResolution(t *testing.T) {
	a := newTestApp(t, store.NewMemoryStore())
	signUp(t, a, "a@example.com")

	identity, token, err := a.LogIn("a@example.com", "longenough")
	if err != nil {
		t.Fatalf("log in: %v", err)
	}
	resolved, found, err := a.IdentityByToken(token)
	if err != nil || !found || resolved.ID != identity.ID {
		t.Fatalf("token should resolve: found=%v err=%v", found, err)
	}

	if err := a.LogOut(token); err != nil {
		t.Fatalf("log out: %v", err)
	}
	if _, found, _ := a.IdentityByToken(token); found {
		t.Fatalf("token should be revoked after logout")
	}

	if _, _, err := a.LogIn("a@example.com", "wrongpassword"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestGuardRunsBeforeStorage(t *testing.T) {
	backing := &countingStore{MemoryStore: store.NewMemoryStore()}
	a := newTestApp(t, backing)
	signUp(t, a, "admin@example.com")
	viewer := signUp(t, a, "viewer@example.com")

	_, err := a.CreateModel(context.Background(), &viewer, articleInput())
	var denied *DeniedError
	if !errors.As(err, &denied) || denied.Decision.Reason != access.ReasonRoleNotAllowed {
		t.Fatalf("expected role denial, got %v", err)
	}
	if backing.createModelCalls != 0 {
		t.Fatalf("storage touched despite denial: %d calls", backing.createModelCalls)
	}

	_, err = a.ListModels(context.Background(), nil)
	if !errors.As(err, &denied) || denied.Decision.Reason != access.ReasonNoSession {
		t.Fatalf("expected no-session denial, got %v", err)
	}
}

func TestCreateModelAndRoundTrip(t *testing.T) {
	a := newTestApp(t, store.NewMemoryStore())
	admin := signUp(t, a, "admin@example.com")
	ctx := context.Background()

	created, err := a.CreateModel(ctx, &admin, articleInput())
	if err != nil {
		t.Fatalf("create model: %v", err)
	}
	got, err := a.GetModel(ctx, &admin, created.ID)
	if err != nil {
		t.Fatalf("get model: %v", err)
	}
	if got.Name != "Article" || len(got.Fields) != 2 || got.Fields[0].Name != "title" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.CreatedBy != admin.ID {
		t.Fatalf("createdBy not recorded: %+v", got)
	}
}

func TestCreateModelRejectsInvalidDefinitions(t *testing.T) {
	a := newTestApp(t, store.NewMemoryStore())
	admin := signUp(t, a, "admin@example.com")
	ctx := context.Background()

	_, err := a.CreateModel(ctx, &admin, ModelInput{Name: ""})
	if !errors.Is(err, domain.ErrInvalidModel) {
		t.Fatalf("expected ErrInvalidModel, got %v", err)
	}
	_, err = a.CreateModel(ctx, &admin, ModelInput{
		Name:   "Bad",
		Fields: []FieldInput{{Name: "x", Type: "number", DefaultValue: "not-a-number"}},
	})
	if !errors.Is(err, domain.ErrInvalidField) {
		t.Fatalf("malformed default must fail at construction, got %v", err)
	}
}

func TestUpdateModelFieldReplacement(t *testing.T) {
	a := newTestApp(t, store.NewMemoryStore())
	admin := signUp(t, a, "admin@example.com")
	ctx := context.Background()

	created, err := a.CreateModel(ctx, &admin, articleInput())
	if err != nil {
		t.Fatalf("create model: %v", err)
	}
	updated, err := a.UpdateModel(ctx, &admin, created.ID, ModelInput{
		Name:   "Article",
		Fields: []FieldInput{{Name: "title", Type: "string", Required: true}},
	})
	if err != nil {
		t.Fatalf("update model: %v", err)
	}
	if len(updated.Fields) != 1 || updated.Fields[0].Name != "title" {
		t.Fatalf("expected exactly title to survive, got %+v", updated.Fields)
	}
}

func TestUpdateModelSurfacesPartialUpdate(t *testing.T) {
	a := newTestApp(t, &partialUpdateStore{MemoryStore: store.NewMemoryStore()})
	admin := signUp(t, a, "admin@example.com")
	_, err := a.UpdateModel(context.Background(), &admin, "some-id", articleInput())
	if !errors.Is(err, store.ErrPartialUpdate) {
		t.Fatalf("partial update must be surfaced verbatim, got %v", err)
	}
}

func TestDeleteModelIdempotence(t *testing.T) {
	a := newTestApp(t, store.NewMemoryStore())
	admin := signUp(t, a, "admin@example.com")
	ctx := context.Background()

	created, err := a.CreateModel(ctx, &admin, articleInput())
	if err != nil {
		t.Fatalf("create model: %v", err)
	}
	if err := a.DeleteModel(ctx, &admin, created.ID); err != nil {
		t.Fatalf("delete model: %v", err)
	}
	if err := a.DeleteModel(ctx, &admin, created.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("second delete should report not found, got %v", err)
	}
}

func TestOverrideAuthorizesDeleteRegardlessOfPersistedRole(t *testing.T) {
	a := newTestApp(t, store.NewMemoryStore())
	admin := signUp(t, a, "admin@example.com")
	viewer := signUp(t, a, "viewer@example.com")
	ctx := context.Background()

	created, err := a.CreateModel(ctx, &admin, articleInput())
	if err != nil {
		t.Fatalf("create model: %v", err)
	}
	if err := a.DeleteModel(ctx, &viewer, created.ID); err == nil {
		t.Fatalf("viewer must not delete without override")
	}
	overridden := access.WithOverride(ctx, domain.RoleAdmin)
	if err := a.DeleteModel(overridden, &viewer, created.ID); err != nil {
		t.Fatalf("override admin should authorize delete: %v", err)
	}
}

func TestCreateRecordValidatesBeforeWrite(t *testing.T) {
	backing := &countingStore{MemoryStore: store.NewMemoryStore()}
	a := newTestApp(t, backing)
	admin := signUp(t, a, "admin@example.com")
	ctx := context.Background()

	created, err := a.CreateModel(ctx, &admin, articleInput())
	if err != nil {
		t.Fatalf("create model: %v", err)
	}

	_, err = a.CreateRecord(ctx, &admin, created.ID, map[string]string{
		"views": "many",
		"extra": "nope",
	})
	var invalid *ValidationError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	wantCodes := []validate.Code{validate.CodeMissingRequiredField, validate.CodeTypeMismatch, validate.CodeUnknownField}
	if len(invalid.Violations) != len(wantCodes) {
		t.Fatalf("expected %d violations, got %+v", len(wantCodes), invalid.Violations)
	}
	for i, code := range wantCodes {
		if invalid.Violations[i].Code != code {
			t.Fatalf("violation %d: got %s, want %s", i, invalid.Violations[i].Code, code)
		}
	}
	if backing.saveRecordCalls != 0 {
		t.Fatalf("record write attempted despite violations")
	}

	rec, err := a.CreateRecord(ctx, &admin, created.ID, map[string]string{"title": "hello"})
	if err != nil {
		t.Fatalf("create record: %v", err)
	}
	if rec.Values["views"] != "0" {
		t.Fatalf("default not applied: %+v", rec.Values)
	}
}

func TestRecordUpdateAndDeletePolicy(t *testing.T) {
	a := newTestApp(t, store.NewMemoryStore())
	admin := signUp(t, a, "admin@example.com")
	editor := signUp(t, a, "editor@example.com")
	ctx := context.Background()
	if err := a.SetRoleAssignment(ctx, &admin, editor.ID, domain.RoleEditor); err != nil {
		t.Fatalf("assign editor: %v", err)
	}

	created, err := a.CreateModel(ctx, &admin, articleInput())
	if err != nil {
		t.Fatalf("create model: %v", err)
	}
	rec, err := a.CreateRecord(ctx, &editor, created.ID, map[string]string{"title": "one"})
	if err != nil {
		t.Fatalf("editor should create records: %v", err)
	}
	if _, err := a.UpdateRecord(ctx, &editor, created.ID, rec.ID, map[string]string{"title": "two"}); err != nil {
		t.Fatalf("editor should edit records: %v", err)
	}
	// Destructive row deletes stay admin-only.
	if err := a.DeleteRecord(ctx, &editor, created.ID, rec.ID); err == nil {
		t.Fatalf("editor must not delete records")
	}
	if err := a.DeleteRecord(ctx, &admin, created.ID, rec.ID); err != nil {
		t.Fatalf("admin delete record: %v", err)
	}
}

func TestValidateRecordDryRun(t *testing.T) {
	a := newTestApp(t, store.NewMemoryStore())
	admin := signUp(t, a, "admin@example.com")
	viewer := signUp(t, a, "viewer@example.com")
	ctx := context.Background()

	created, err := a.CreateModel(ctx, &admin, articleInput())
	if err != nil {
		t.Fatalf("create model: %v", err)
	}
	record, err := a.ValidateRecord(ctx, &viewer, created.ID, map[string]string{"title": "hi", "views": "2.0"})
	if err != nil {
		t.Fatalf("viewer dry-run validation: %v", err)
	}
	if record["views"] != "2" {
		t.Fatalf("expected canonical number, got %+v", record)
	}
	if records, err := a.ListRecords(ctx, &admin, created.ID); err != nil || len(records) != 0 {
		t.Fatalf("dry run must not persist: records=%+v err=%v", records, err)
	}
}

func TestRoleManagementRequiresAdmin(t *testing.T) {
	a := newTestApp(t, store.NewMemoryStore())
	admin := signUp(t, a, "admin@example.com")
	other := signUp(t, a, "other@example.com")
	ctx := context.Background()

	if err := a.SetRoleAssignment(ctx, &other, other.ID, domain.RoleAdmin); err == nil {
		t.Fatalf("non-admin must not manage roles")
	}
	if err := a.SetRoleAssignment(ctx, &admin, "missing-identity", domain.RoleEditor); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for unknown identity, got %v", err)
	}
	if err := a.SetRoleAssignment(ctx, &admin, other.ID, domain.RoleEditor); err != nil {
		t.Fatalf("assign role: %v", err)
	}
	roles, err := a.ListRoleAssignments(ctx, &admin)
	if err != nil {
		t.Fatalf("list roles: %v", err)
	}
	if len(roles) != 2 { // bootstrap admin + the new editor
		t.Fatalf("expected 2 assignments, got %+v", roles)
	}
}
