package httpapi

import (
	"net/http"
	"strconv"

	"github.com/SaadAmer/TFL-line-status/internal/auth"
	"github.com/SaadAmer/TFL-line-status/internal/lifecycle"
	logx "github.com/SaadAmer/TFL-line-status/pkg/logx"
)

type createBody struct {
	Lines         string  `json:"lines"`
	ScheduleTime  *string `json:"schedule_time"`
	SchedulerTime *string `json:"scheduler_time"`
}

type updateBody struct {
	Lines         *string `json:"lines"`
	ScheduleTime  *string `json:"schedule_time"`
	SchedulerTime *string `json:"scheduler_time"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// pathID parses {id}. Anything that is not a positive integer cannot name a
// task, so it reports not found.
func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	return id, err == nil && id > 0
}

func (a *API) handleCreate(w http.ResponseWriter, r *http.Request) {
	var body createBody
	if err := decodeJSON(r, &body); err != nil {
		a.fail(w, r, err)
		return
	}
	t, err := a.tasks.Create(r.Context(), lifecycle.CreateRequest{
		Lines:         body.Lines,
		ScheduleTime:  deref(body.ScheduleTime),
		SchedulerTime: deref(body.SchedulerTime),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	tasks, err := a.tasks.List(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if tasks == nil {
		tasks = []lifecycle.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusNotFound, msgTaskNotFound)
		return
	}
	t, err := a.tasks.Get(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *API) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusNotFound, msgTaskNotFound)
		return
	}
	var body updateBody
	if err := decodeJSON(r, &body); err != nil {
		a.fail(w, r, err)
		return
	}
	t, err := a.tasks.Update(r.Context(), id, lifecycle.UpdateRequest{
		Lines:         body.Lines,
		ScheduleTime:  deref(body.ScheduleTime),
		SchedulerTime: deref(body.SchedulerTime),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *API) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusNotFound, msgTaskNotFound)
		return
	}
	if err := a.tasks.Delete(r.Context(), id); err != nil {
		a.fail(w, r, err)
		return
	}
	if p, ok := auth.FromContext(r.Context()); ok {
		a.log.Debug("task deleted by caller", logx.Int64("task_id", id), logx.String("sub", p.Subject))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	if a.status == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	writeJSON(w, http.StatusOK, a.status(r.Context()))
}
