package lifecycle

import (
	"strings"
	"time"
)

// Layouts without an offset are read in the caller's location.
var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// NormalizeScheduleTime resolves the schedule time from the canonical field
// and its legacy alias. The canonical field wins when both are set. The result
// is truncated to whole seconds and expressed in UTC.
//
// A nil result means no time was supplied.
func NormalizeScheduleTime(primary, alias string, loc *time.Location) (*time.Time, error) {
	field := "schedule_time"
	raw := strings.TrimSpace(primary)
	if raw == "" {
		field = "scheduler_time"
		raw = strings.TrimSpace(alias)
	}
	if raw == "" {
		return nil, nil
	}
	if loc == nil {
		loc = time.Local
	}

	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return ptr(t.UTC().Truncate(time.Second)), nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return ptr(t.UTC().Truncate(time.Second)), nil
		}
	}
	return nil, &ValidationError{Field: field, Msg: "invalid datetime " + quote(raw) + "; expected ISO 8601 (e.g. 2025-01-02T15:04:05Z)"}
}

func quote(s string) string {
	if len(s) > 64 {
		s = s[:61] + "..."
	}
	return `"` + s + `"`
}
