package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"modeld/internal/app"
	"modeld/internal/store"
)

func newTestServer(t *testing.T, allowOverride bool) *httptest.Server {
	t.Helper()
	mem := store.NewMemoryStore()
	a, err := app.New(app.Config{Store: mem, Sessions: mem})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	srv := httptest.NewServer(New(Config{App: a, AllowRoleOverride: allowOverride}).Router())
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url, token string, body any, headers map[string]string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// signupToken registers an identity and returns its session token. The first
// call against a fresh server yields the bootstrap admin.
func signupToken(t *testing.T, srv *httptest.Server, email string) string {
	t.Helper()
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/auth/signup", "", map[string]string{
		"email":    email,
		"password": "longenough",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup %s: status %d", email, resp.StatusCode)
	}
	var body struct {
		Token string `json:"token"`
	}
	decodeBody(t, resp, &body)
	if body.Token == "" {
		t.Fatalf("signup %s: empty token", email)
	}
	return body.Token
}

func createModel(t *testing.T, srv *httptest.Server, token string) string {
	t.Helper()
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/models", token, map[string]any{
		"name": "Article",
		"fields": []map[string]any{
			{"name": "title", "fieldType": "string", "required": true},
			{"name": "views", "fieldType": "number", "defaultValue": "0"},
		},
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create model: status %d", resp.StatusCode)
	}
	var model struct {
		ID string `json:"id"`
	}
	decodeBody(t, resp, &model)
	return model.ID
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, false)
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status %d", resp.StatusCode)
	}
}

func TestMissingTokenRedirectsToSignIn(t *testing.T) {
	srv := newTestServer(t, false)
	resp := doJSON(t, http.MethodGet, srv.URL+"/api/models", "", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	var body map[string]string
	decodeBody(t, resp, &body)
	if body["reason"] != "no_session" || body["redirect"] != "/auth" {
		t.Fatalf("unexpected denial body: %+v", body)
	}
}

func TestViewerForbiddenRedirectsToLanding(t *testing.T) {
	srv := newTestServer(t, false)
	signupToken(t, srv, "admin@example.com")
	viewerToken := signupToken(t, srv, "viewer@example.com")

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/models", viewerToken, map[string]any{"name": "X"}, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	var body map[string]string
	decodeBody(t, resp, &body)
	if body["reason"] != "role_not_allowed" || body["redirect"] != "/dashboard" {
		t.Fatalf("unexpected denial body: %+v", body)
	}
}

func TestModelLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t, false)
	token := signupToken(t, srv, "admin@example.com")
	id := createModel(t, srv, token)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/models", token, nil, nil)
	var list struct {
		Count int `json:"count"`
	}
	decodeBody(t, resp, &list)
	if list.Count != 1 {
		t.Fatalf("expected one model, got %d", list.Count)
	}

	resp = doJSON(t, http.MethodPut, srv.URL+"/api/models/"+id, token, map[string]any{
		"name":        "Article",
		"description": "renamed",
		"fields": []map[string]any{
			{"name": "title", "fieldType": "string", "required": true},
		},
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update model: status %d", resp.StatusCode)
	}
	var updated struct {
		Description string `json:"description"`
		Fields      []struct {
			Name string `json:"name"`
		} `json:"fields"`
	}
	decodeBody(t, resp, &updated)
	if updated.Description != "renamed" || len(updated.Fields) != 1 {
		t.Fatalf("unexpected update result: %+v", updated)
	}

	resp = doJSON(t, http.MethodDelete, srv.URL+"/api/models/"+id, token, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete model: status %d", resp.StatusCode)
	}
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/models/"+id, token, nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("deleted model should be gone, got %d", resp.StatusCode)
	}
}

func TestRecordLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t, false)
	token := signupToken(t, srv, "admin@example.com")
	modelID := createModel(t, srv, token)

	resp := doJSON(t, http.MethodPost, fmt.Sprintf("%s/api/models/%s/records", srv.URL, modelID), token, map[string]any{
		"values": map[string]string{"title": "hello"},
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create record: status %d", resp.StatusCode)
	}
	var rec struct {
		ID     string            `json:"id"`
		Values map[string]string `json:"values"`
	}
	decodeBody(t, resp, &rec)
	if rec.Values["views"] != "0" {
		t.Fatalf("default not applied over HTTP: %+v", rec.Values)
	}

	resp = doJSON(t, http.MethodPut, fmt.Sprintf("%s/api/models/%s/records/%s", srv.URL, modelID, rec.ID), token, map[string]any{
		"values": map[string]string{"title": "updated", "views": "7"},
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update record: status %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodDelete, fmt.Sprintf("%s/api/models/%s/records/%s", srv.URL, modelID, rec.ID), token, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete record: status %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodGet, fmt.Sprintf("%s/api/models/%s/records", srv.URL, modelID), token, nil, nil)
	var list struct {
		Count int `json:"count"`
	}
	decodeBody(t, resp, &list)
	if list.Count != 0 {
		t.Fatalf("expected empty record list, got %d", list.Count)
	}
}

func TestValidateEndpointReportsViolations(t *testing.T) {
	srv := newTestServer(t, false)
	token := signupToken(t, srv, "admin@example.com")
	modelID := createModel(t, srv, token)

	resp := doJSON(t, http.MethodPost, fmt.Sprintf("%s/api/models/%s/validate", srv.URL, modelID), token, map[string]any{
		"values": map[string]string{"views": "many", "bogus": "x"},
	}, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
	var body struct {
		Violations []struct {
			Field string `json:"field"`
			Code  string `json:"code"`
		} `json:"violations"`
	}
	decodeBody(t, resp, &body)
	if len(body.Violations) != 3 {
		t.Fatalf("expected 3 violations, got %+v", body.Violations)
	}

	resp = doJSON(t, http.MethodPost, fmt.Sprintf("%s/api/models/%s/validate", srv.URL, modelID), token, map[string]any{
		"values": map[string]string{"title": "ok", "views": "3.0"},
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("valid payload: status %d", resp.StatusCode)
	}
	var ok struct {
		Valid  bool              `json:"valid"`
		Record map[string]string `json:"record"`
	}
	decodeBody(t, resp, &ok)
	if !ok.Valid || ok.Record["views"] != "3" {
		t.Fatalf("unexpected validation result: %+v", ok)
	}
}

func TestRoleOverrideHeaderGating(t *testing.T) {
	// Disabled deployments ignore the header entirely.
	locked := newTestServer(t, false)
	signupToken(t, locked, "admin@example.com")
	viewer := signupToken(t, locked, "viewer@example.com")
	resp := doJSON(t, http.MethodPost, locked.URL+"/api/models", viewer, map[string]any{"name": "X"},
		map[string]string{"X-Role-Override": "admin"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("override must be ignored when disabled, got %d", resp.StatusCode)
	}

	open := newTestServer(t, true)
	signupToken(t, open, "admin@example.com")
	viewer = signupToken(t, open, "viewer@example.com")
	resp = doJSON(t, http.MethodPost, open.URL+"/api/models", viewer, map[string]any{
		"name":   "Y",
		"fields": []map[string]any{{"name": "a", "fieldType": "string"}},
	}, map[string]string{"X-Role-Override": "admin"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("override should authorize when enabled, got %d", resp.StatusCode)
	}

	// An unknown role name in the header is dropped, not escalated.
	resp = doJSON(t, http.MethodPost, open.URL+"/api/models", viewer, map[string]any{"name": "Z"},
		map[string]string{"X-Role-Override": "superuser"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("unknown override role must not grant access, got %d", resp.StatusCode)
	}
}

func TestRoleAssignmentEndpoint(t *testing.T) {
	srv := newTestServer(t, false)
	adminToken := signupToken(t, srv, "admin@example.com")
	viewerToken := signupToken(t, srv, "viewer@example.com")

	// The non-admin cannot read or write assignments.
	resp := doJSON(t, http.MethodGet, srv.URL+"/api/access/roles", viewerToken, nil, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("viewer listing roles: got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/access/roles", adminToken, nil, nil)
	var list struct {
		Items []struct {
			IdentityID string `json:"identityId"`
		} `json:"items"`
		Count int `json:"count"`
	}
	decodeBody(t, resp, &list)
	if list.Count != 1 {
		t.Fatalf("expected bootstrap admin assignment only, got %+v", list)
	}

	resp = doJSON(t, http.MethodPut, srv.URL+"/api/access/roles", adminToken, map[string]string{
		"identityId": list.Items[0].IdentityID,
		"role":       "not-a-role",
	}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid role name: got %d", resp.StatusCode)
	}
}

func TestLoginAndLogoutOverHTTP(t *testing.T) {
	srv := newTestServer(t, false)
	signupToken(t, srv, "a@example.com")

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/auth/login", "", map[string]string{
		"email":    "a@example.com",
		"password": "wrong-password",
	}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad credentials: got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/auth/login", "", map[string]string{
		"email":    "a@example.com",
		"password": "longenough",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: got %d", resp.StatusCode)
	}
	var session struct {
		Token string `json:"token"`
	}
	decodeBody(t, resp, &session)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/me", session.Token, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me: got %d", resp.StatusCode)
	}
	var me struct {
		Role string `json:"role"`
	}
	decodeBody(t, resp, &me)
	if me.Role != "admin" {
		t.Fatalf("expected bootstrap admin role, got %q", me.Role)
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/auth/logout", session.Token, nil, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout: got %d", resp.StatusCode)
	}
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/me", session.Token, nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("revoked token should be rejected, got %d", resp.StatusCode)
	}
}

type quotaOf struct{ n int }

func (q *quotaOf) Allow(string) bool {
	q.n--
	return q.n >= 0
}

func TestCredentialEndpointsAreThrottled(t *testing.T) {
	mem := store.NewMemoryStore()
	a, err := app.New(app.Config{Store: mem, Sessions: mem})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	srv := httptest.NewServer(New(Config{App: a, LoginLimiter: &quotaOf{n: 1}}).Router())
	t.Cleanup(srv.Close)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/auth/signup", "", map[string]string{
		"email":    "a@example.com",
		"password": "longenough",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("first signup: got %d", resp.StatusCode)
	}
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/auth/login", "", map[string]string{
		"email":    "a@example.com",
		"password": "longenough",
	}, nil)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("exhausted quota should return 429, got %d", resp.StatusCode)
	}
}

func TestSecurityHeadersPresent(t *testing.T) {
	srv := newTestServer(t, false)
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("missing nosniff header")
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("missing request id header")
	}
}
