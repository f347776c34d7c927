package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/SaadAmer/TFL-line-status/internal/auth"
	"github.com/SaadAmer/TFL-line-status/internal/lifecycle"
	"github.com/SaadAmer/TFL-line-status/internal/storage"
	logx "github.com/SaadAmer/TFL-line-status/pkg/logx"
)

const secret = "test-secret"

type fixture struct {
	srv   *httptest.Server
	store *storage.Memory
	v     *auth.Verifier
}

func newFixture(t *testing.T, authOn bool) *fixture {
	t.Helper()
	store := storage.NewMemory()
	svc := lifecycle.NewService(store, nil, lifecycle.ServiceConfig{Location: time.UTC}, logx.Nop(), nil)
	v, err := auth.NewVerifier(auth.Config{Enabled: authOn, Secret: secret, Issuer: "iss", Audience: "aud"})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	api := New(Options{
		Tasks:  svc,
		Auth:   v,
		Log:    logx.Nop(),
		Status: func(context.Context) any { return map[string]int{"tasks": 0} },
	})
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, store: store, v: v}
}

func (f *fixture) token(t *testing.T, scopes ...string) string {
	t.Helper()
	tok, err := f.v.Sign("svc:test", scopes, time.Hour)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return tok
}

type response struct {
	code   int
	header http.Header
	body   string
}

func (f *fixture) do(t *testing.T, method, path, token, body string) response {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := f.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return response{code: resp.StatusCode, header: resp.Header, body: string(b)}
}

func decodeTask(t *testing.T, body string) lifecycle.Task {
	t.Helper()
	var task lifecycle.Task
	if err := json.Unmarshal([]byte(body), &task); err != nil {
		t.Fatalf("decode task %q: %v", body, err)
	}
	return task
}

func errorOf(t *testing.T, body string) string {
	t.Helper()
	var e struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(body), &e); err != nil {
		t.Fatalf("decode error %q: %v", body, err)
	}
	return e.Error
}

func TestTaskCRUD(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true)
	tok := f.token(t, auth.AllScopes...)

	res := f.do(t, http.MethodPost, "/tasks", tok, `{"lines": "Victoria, central", "schedule_time": "2030-01-02T03:04:05.9Z"}`)
	if res.code != http.StatusCreated {
		t.Fatalf("create status = %d (%s), want 201", res.code, res.body)
	}
	created := decodeTask(t, res.body)
	if created.ID != 1 || created.Lines != "victoria,central" || created.Status != lifecycle.StatusScheduled || created.Result != nil {
		t.Fatalf("created = %+v", created)
	}
	if want := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC); !created.ScheduleTime.Equal(want) {
		t.Fatalf("schedule_time = %v, want %v", created.ScheduleTime, want)
	}
	if !strings.Contains(res.body, `"schedule_time":"2030-01-02T03:04:05Z"`) || !strings.Contains(res.body, `"result":null`) {
		t.Fatalf("body = %s, want second precision time and null result", res.body)
	}
	if res.header.Get(RequestIDHeader) == "" {
		t.Fatalf("missing %s header", RequestIDHeader)
	}

	res = f.do(t, http.MethodGet, "/tasks/1", tok, "")
	if res.code != http.StatusOK || decodeTask(t, res.body).ID != 1 {
		t.Fatalf("get = %d %s", res.code, res.body)
	}

	res = f.do(t, http.MethodPatch, "/tasks/1", tok, `{"lines": "jubilee"}`)
	if res.code != http.StatusOK {
		t.Fatalf("patch status = %d (%s), want 200", res.code, res.body)
	}
	if got := decodeTask(t, res.body); got.Lines != "jubilee" || !got.ScheduleTime.Equal(created.ScheduleTime) {
		t.Fatalf("patched = %+v", got)
	}

	f.do(t, http.MethodPost, "/tasks", tok, `{"lines": "bakerloo", "scheduler_time": "2030-01-01T00:00:00Z"}`)
	res = f.do(t, http.MethodGet, "/tasks", tok, "")
	var list []lifecycle.Task
	if err := json.Unmarshal([]byte(res.body), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 2 || list[0].ID != 1 || list[1].ID != 2 {
		t.Fatalf("list = %+v, want ids 1,2", list)
	}

	res = f.do(t, http.MethodDelete, "/tasks/1", tok, "")
	if res.code != http.StatusNoContent || res.body != "" {
		t.Fatalf("delete = %d %q, want 204 empty", res.code, res.body)
	}
	res = f.do(t, http.MethodGet, "/tasks/1", tok, "")
	if res.code != http.StatusNotFound || errorOf(t, res.body) != "Task not found" {
		t.Fatalf("get deleted = %d %s, want 404 Task not found", res.code, res.body)
	}
}

func TestErrorMapping(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true)
	tok := f.token(t, auth.AllScopes...)

	// Task 1 finished; mutations must conflict.
	done, _ := f.store.Create(context.Background(), time.Now().UTC(), "victoria")
	st := lifecycle.StatusRunning
	if _, err := f.store.Update(context.Background(), done.ID, lifecycle.Patch{Status: &st}); err != nil {
		t.Fatalf("seed running: %v", err)
	}

	tests := []struct {
		name, method, path, body string
		want                     int
		msg                      string
	}{
		{"unknown line", http.MethodPost, "/tasks", `{"lines": "tram"}`, http.StatusBadRequest, "Invalid line id(s): tram."},
		{"empty lines", http.MethodPost, "/tasks", `{"lines": " , "}`, http.StatusBadRequest, "at least one line"},
		{"bad time", http.MethodPost, "/tasks", `{"lines": "victoria", "schedule_time": "soon"}`, http.StatusBadRequest, "invalid datetime"},
		{"unknown field", http.MethodPost, "/tasks", `{"lines": "victoria", "priority": 1}`, http.StatusBadRequest, "unknown field"},
		{"malformed json", http.MethodPost, "/tasks", `{"lines":`, http.StatusBadRequest, "invalid JSON"},
		{"trailing data", http.MethodPost, "/tasks", `{"lines": "victoria"} {}`, http.StatusBadRequest, "trailing"},
		{"malformed id", http.MethodGet, "/tasks/abc", "", http.StatusNotFound, "Task not found"},
		{"negative id", http.MethodDelete, "/tasks/-1", "", http.StatusNotFound, "Task not found"},
		{"missing id", http.MethodPatch, "/tasks/99", `{}`, http.StatusNotFound, "Task not found"},
		{"patch running", http.MethodPatch, "/tasks/1", `{"lines": "central"}`, http.StatusConflict, "only scheduled tasks"},
		{"delete running", http.MethodDelete, "/tasks/1", "", http.StatusConflict, "only scheduled tasks"},
		{"patch invalid before lookup", http.MethodPatch, "/tasks/99", `{"lines": "tram"}`, http.StatusBadRequest, "Invalid line id(s)"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := f.do(t, tc.method, tc.path, tok, tc.body)
			if res.code != tc.want {
				t.Fatalf("status = %d (%s), want %d", res.code, res.body, tc.want)
			}
			if msg := errorOf(t, res.body); !strings.Contains(msg, tc.msg) {
				t.Fatalf("error = %q, want it to contain %q", msg, tc.msg)
			}
		})
	}
}

func TestAuthGate(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true)
	readOnly := f.token(t, auth.ScopeRead)

	res := f.do(t, http.MethodGet, "/tasks", "", "")
	if res.code != http.StatusUnauthorized || res.header.Get("WWW-Authenticate") != "Bearer" {
		t.Fatalf("no token = %d %v, want 401 with WWW-Authenticate", res.code, res.header)
	}
	if msg := errorOf(t, res.body); msg != "Missing bearer token" {
		t.Fatalf("error = %q", msg)
	}

	res = f.do(t, http.MethodGet, "/tasks", "garbage", "")
	if res.code != http.StatusUnauthorized || !strings.HasPrefix(errorOf(t, res.body), "Invalid token") {
		t.Fatalf("bad token = %d %s", res.code, res.body)
	}

	res = f.do(t, http.MethodPost, "/tasks", readOnly, `{"lines": "victoria"}`)
	if res.code != http.StatusForbidden || errorOf(t, res.body) != "Missing scopes: tasks:create" {
		t.Fatalf("missing scope = %d %s, want 403", res.code, res.body)
	}
	if tasks, _ := f.store.List(context.Background()); len(tasks) != 0 {
		t.Fatalf("forbidden create stored %d tasks", len(tasks))
	}

	if res = f.do(t, http.MethodGet, "/tasks", readOnly, ""); res.code != http.StatusOK {
		t.Fatalf("read with scope = %d", res.code)
	}
	if res = f.do(t, http.MethodGet, "/healthz", "", ""); res.code != http.StatusOK || res.body != "ok" {
		t.Fatalf("healthz = %d %q", res.code, res.body)
	}
	if res = f.do(t, http.MethodGet, "/status", readOnly, ""); res.code != http.StatusOK || !strings.Contains(res.body, `"tasks"`) {
		t.Fatalf("status = %d %s", res.code, res.body)
	}
}

func TestAuthDisabled(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	res := f.do(t, http.MethodPost, "/tasks", "", `{"lines": "northern"}`)
	if res.code != http.StatusCreated {
		t.Fatalf("create without auth = %d (%s), want 201", res.code, res.body)
	}
}

func TestEmptyListIsArray(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	res := f.do(t, http.MethodGet, "/tasks", "", "")
	if strings.TrimSpace(res.body) != "[]" {
		t.Fatalf("body = %q, want []", res.body)
	}
}

func TestRecoverAndRequestID(t *testing.T) {
	t.Parallel()

	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }),
		RequestID(), Recover(logx.Nop()))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if got := rec.Header().Get(RequestIDHeader); got != "abc-123" {
		t.Fatalf("request id = %q, want incoming abc-123", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "bad id\n")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get(RequestIDHeader); got == "" || got == "bad id\n" {
		t.Fatalf("request id = %q, want a generated one", got)
	}
}

func TestMissingVerifierDenies(t *testing.T) {
	t.Parallel()

	svc := lifecycle.NewService(storage.NewMemory(), nil, lifecycle.ServiceConfig{}, logx.Nop(), nil)
	api := New(Options{Tasks: svc})
	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tasks", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("GET /tasks without a verifier = %d, want 401", rec.Code)
	}
}

func TestBodyLimit(t *testing.T) {
	t.Parallel()

	store := storage.NewMemory()
	svc := lifecycle.NewService(store, nil, lifecycle.ServiceConfig{}, logx.Nop(), nil)
	v, err := auth.NewVerifier(auth.Config{})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	api := New(Options{Tasks: svc, Auth: v, MaxBodyBytes: 16})
	req := httptest.NewRequest(http.MethodPost, "/tasks", strings.NewReader(`{"lines": "victoria,central,jubilee"}`))
	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "exceeds") {
		t.Fatalf("status = %d %s, want 400 exceeds", rec.Code, rec.Body.String())
	}
}
