// Package scheduler owns the per-task one-shot triggers.
//
// Each scheduled task has at most one armed timer, keyed by task id. When a
// timer fires the task id is submitted to the job engine; execution itself
// lives in lifecycle.Runner. A cron entry periodically re-arms scheduled tasks
// that have no trigger (missed submits, toggled scheduler).
package scheduler
