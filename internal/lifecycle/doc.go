// Package lifecycle owns the task state machine: input validation and
// normalization, the create/update/delete rules, and the runner that executes
// a due task against the upstream disruption feed.
//
// Persistence, the upstream call and trigger arming are injected as
// interfaces (Store, Fetcher, Trigger) so the package performs no I/O itself.
package lifecycle
