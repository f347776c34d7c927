// Package httpapi exposes the task lifecycle over HTTP/JSON.
//
//	POST   /tasks       tasks:create  201 task
//	GET    /tasks       tasks:read    200 [task]
//	GET    /tasks/{id}  tasks:read    200 task
//	PATCH  /tasks/{id}  tasks:update  200 task
//	DELETE /tasks/{id}  tasks:delete  204
//	GET    /healthz     none          200 "ok"
//	GET    /status      tasks:read    200 runtime snapshot
//
// Errors are {"error": "<message>"}.
package httpapi

import (
	"context"
	"net/http"

	"github.com/SaadAmer/TFL-line-status/internal/auth"
	"github.com/SaadAmer/TFL-line-status/internal/lifecycle"
	logx "github.com/SaadAmer/TFL-line-status/pkg/logx"
)

// TaskService is the subset of lifecycle.Service the API calls.
type TaskService interface {
	Create(ctx context.Context, req lifecycle.CreateRequest) (lifecycle.Task, error)
	Get(ctx context.Context, id int64) (lifecycle.Task, error)
	List(ctx context.Context) ([]lifecycle.Task, error)
	Update(ctx context.Context, id int64, req lifecycle.UpdateRequest) (lifecycle.Task, error)
	Delete(ctx context.Context, id int64) error
}

// StatusFunc renders the /status body.
type StatusFunc func(ctx context.Context) any

type Options struct {
	Tasks  TaskService
	Auth   *auth.Verifier
	Status StatusFunc
	Log    logx.Logger
	// MaxBodyBytes caps request bodies; 0 means 1 MiB.
	MaxBodyBytes int64
}

// API is the routed, middleware-wrapped handler.
type API struct {
	tasks  TaskService
	auth   *auth.Verifier
	status StatusFunc
	log    logx.Logger
	mux    *http.ServeMux
	h      http.Handler
}

func New(opts Options) *API {
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	limit := opts.MaxBodyBytes
	if limit <= 0 {
		limit = 1 << 20
	}
	a := &API{tasks: opts.Tasks, auth: opts.Auth, status: opts.Status, log: log, mux: http.NewServeMux()}
	a.routes()
	a.h = Chain(a.mux,
		RequestID(),
		Trace(),
		AccessLog(log),
		Recover(log),
		BodyLimit(limit),
	)
	return a
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) { a.h.ServeHTTP(w, r) }

func (a *API) routes() {
	a.mux.Handle("POST /tasks", a.guard(auth.ScopeCreate, a.handleCreate))
	a.mux.Handle("GET /tasks", a.guard(auth.ScopeRead, a.handleList))
	a.mux.Handle("GET /tasks/{id}", a.guard(auth.ScopeRead, a.handleGet))
	a.mux.Handle("PATCH /tasks/{id}", a.guard(auth.ScopeUpdate, a.handleUpdate))
	a.mux.Handle("DELETE /tasks/{id}", a.guard(auth.ScopeDelete, a.handleDelete))

	a.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	a.mux.Handle("GET /status", a.guard(auth.ScopeRead, a.handleStatus))
}

// guard authenticates the caller and requires scope before calling h.
func (a *API) guard(scope string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := a.auth.Authenticate(r, scope)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		h(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	})
}
