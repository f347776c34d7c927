package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestNormalizeLines(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		raw     string
		want    string
		invalid []string
	}{
		{name: "single", raw: "victoria", want: "victoria"},
		{name: "trim and lower", raw: " Victoria , CENTRAL ", want: "victoria,central"},
		{name: "empty tokens dropped", raw: "jubilee,,", want: "jubilee"},
		{name: "order and duplicates kept", raw: "northern,circle,northern", want: "northern,circle,northern"},
		{name: "hyphenated", raw: "hammersmith-city,waterloo-city", want: "hammersmith-city,waterloo-city"},
		{name: "unknown", raw: "victoria,elizabeth,dlr", invalid: []string{"elizabeth", "dlr"}},
		{name: "only separators", raw: " , ,", invalid: nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizeLines(tc.raw)
			if tc.want != "" {
				if err != nil {
					t.Fatalf("NormalizeLines(%q) error: %v", tc.raw, err)
				}
				if got != tc.want {
					t.Fatalf("NormalizeLines(%q) = %q, want %q", tc.raw, got, tc.want)
				}
				return
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("NormalizeLines(%q) err = %v, want *ValidationError", tc.raw, err)
			}
			if ve.Field != "lines" {
				t.Fatalf("Field = %q, want lines", ve.Field)
			}
			if fmt.Sprint(ve.Invalid) != fmt.Sprint(tc.invalid) {
				t.Fatalf("Invalid = %v, want %v", ve.Invalid, tc.invalid)
			}
		})
	}
}

func TestNormalizeLinesIdempotentCatalogTokens(t *testing.T) {
	t.Parallel()
	catalog := map[string]bool{}
	for _, id := range Catalog() {
		catalog[id] = true
	}
	inputs := []string{
		"victoria",
		" Victoria , CENTRAL ",
		"jubilee,,",
		"northern,circle,northern",
		"HAMMERSMITH-CITY, waterloo-city ,Bakerloo",
		strings.ToUpper(strings.Join(Catalog(), " , ")),
	}
	for _, raw := range inputs {
		t.Run(raw, func(t *testing.T) {
			t.Parallel()
			once, err := NormalizeLines(raw)
			if err != nil {
				t.Fatalf("NormalizeLines(%q) error: %v", raw, err)
			}
			twice, err := NormalizeLines(once)
			if err != nil {
				t.Fatalf("NormalizeLines(%q) error: %v", once, err)
			}
			if twice != once {
				t.Fatalf("NormalizeLines(%q) = %q, want %q", once, twice, once)
			}
			for _, tok := range strings.Split(once, ",") {
				if tok != strings.ToLower(tok) || !catalog[tok] {
					t.Fatalf("token %q in %q is not a lower-case catalog id", tok, once)
				}
			}
		})
	}
}

func TestNormalizeLinesMessageListsCatalog(t *testing.T) {
	t.Parallel()
	_, err := NormalizeLines("tram")
	if err == nil {
		t.Fatal("expected error")
	}
	want := "Invalid line id(s): tram. Valid tube lines: bakerloo, central, circle, district, hammersmith-city, jubilee, metropolitan, northern, piccadilly, victoria, waterloo-city"
	if !strings.Contains(err.Error(), want) {
		t.Fatalf("error = %q, want it to contain %q", err.Error(), want)
	}
}

func TestCatalogSorted(t *testing.T) {
	t.Parallel()
	c := Catalog()
	if len(c) != 11 {
		t.Fatalf("len(Catalog) = %d, want 11", len(c))
	}
	for i := 1; i < len(c); i++ {
		if c[i-1] >= c[i] {
			t.Fatalf("Catalog not sorted at %d: %v", i, c)
		}
	}
}

func TestNormalizeScheduleTime(t *testing.T) {
	t.Parallel()
	london, err := time.LoadLocation("Europe/London")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	tests := []struct {
		name    string
		primary string
		alias   string
		want    string // RFC3339 UTC; "" means nil
		field   string // error field when invalid
	}{
		{name: "absent", want: ""},
		{name: "utc", primary: "2030-06-01T12:00:00Z", want: "2030-06-01T12:00:00Z"},
		{name: "offset", primary: "2030-06-01T12:00:00+02:00", want: "2030-06-01T10:00:00Z"},
		{name: "fraction truncated", primary: "2030-06-01T12:00:00.999Z", want: "2030-06-01T12:00:00Z"},
		{name: "naive uses location", primary: "2030-06-01T12:00:00", want: "2030-06-01T11:00:00Z"},
		{name: "space separator", primary: "2030-01-01 12:00", want: "2030-01-01T12:00:00Z"},
		{name: "alias", alias: "2030-06-01T12:00:00Z", want: "2030-06-01T12:00:00Z"},
		{name: "primary wins", primary: "2030-06-01T12:00:00Z", alias: "garbage", want: "2030-06-01T12:00:00Z"},
		{name: "invalid primary", primary: "tomorrow", field: "schedule_time"},
		{name: "invalid alias", alias: "soon", field: "scheduler_time"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizeScheduleTime(tc.primary, tc.alias, london)
			if tc.field != "" {
				var ve *ValidationError
				if !errors.As(err, &ve) || ve.Field != tc.field {
					t.Fatalf("err = %v, want ValidationError on %s", err, tc.field)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.want == "" {
				if got != nil {
					t.Fatalf("got %v, want nil", got)
				}
				return
			}
			if got == nil || got.Format(time.RFC3339) != tc.want {
				t.Fatalf("got %v, want %s", got, tc.want)
			}
		})
	}
}

func TestPatchApply(t *testing.T) {
	t.Parallel()
	base := Task{ID: 1, Lines: "victoria", Status: StatusScheduled}
	running, completed, scheduled := StatusRunning, StatusCompleted, StatusScheduled

	tests := []struct {
		name     string
		task     Task
		patch    Patch
		conflict bool
		want     Status
	}{
		{name: "scheduled to running", task: base, patch: Patch{Status: &running, Expect: StatusScheduled}, want: StatusRunning},
		{name: "expect mismatch", task: base, patch: Patch{Status: &completed, Expect: StatusRunning}, conflict: true},
		{name: "skip running", task: base, patch: Patch{Status: &completed}, conflict: true},
		{name: "running to completed", task: Task{ID: 1, Status: StatusRunning}, patch: Patch{Status: &completed, Expect: StatusRunning}, want: StatusCompleted},
		{name: "terminal is final", task: Task{ID: 1, Status: StatusFailed}, patch: Patch{Status: &scheduled}, conflict: true},
		{name: "same status", task: base, patch: Patch{Status: &scheduled}, want: StatusScheduled},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := tc.patch.Apply(tc.task)
			if tc.conflict {
				if !errors.Is(err, ErrConflict) {
					t.Fatalf("err = %v, want ErrConflict", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Status != tc.want {
				t.Fatalf("Status = %s, want %s", got.Status, tc.want)
			}
		})
	}
}

type kindErr struct{}

func (kindErr) Error() string { return "503 Service Unavailable" }
func (kindErr) Kind() string  { return "HTTPStatusError" }

func TestFailureResult(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want string
	}{
		{kindErr{}, "HTTPStatusError: 503 Service Unavailable"},
		{fmt.Errorf("fetch: %w", kindErr{}), "HTTPStatusError: fetch: 503 Service Unavailable"},
		{context.DeadlineExceeded, "Timeout: context deadline exceeded"},
		{errors.New("weird"), "UpstreamError: weird"},
	}
	for _, tc := range tests {
		if got := FailureResult(tc.err); got != tc.want {
			t.Fatalf("FailureResult(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
