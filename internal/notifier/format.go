package notifier

import (
	"fmt"
	"strings"

	"github.com/SaadAmer/TFL-line-status/internal/lifecycle"
)

// FormatTaskEvent renders one line per task event, plus a trimmed result
// excerpt when the task has one.
//
//	task #7 completed (victoria,central) at 2026-10-15T08:00:00Z
//	[{"$type": ...
func FormatTaskEvent(ev lifecycle.TaskEvent, maxResult int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "task #%d %s (%s)", ev.ID, ev.Status, ev.Lines)
	if !ev.ScheduleTime.IsZero() {
		fmt.Fprintf(&b, " at %s", ev.ScheduleTime.UTC().Format("2006-01-02T15:04:05Z07:00"))
	}
	if r := strings.TrimSpace(ev.Result); r != "" {
		b.WriteByte('\n')
		b.WriteString(truncate(r, maxResult))
	}
	return b.String()
}

func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
