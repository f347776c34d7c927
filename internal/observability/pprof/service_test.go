package pprof

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	logx "github.com/SaadAmer/TFL-line-status/pkg/logx"
)

func TestHandlerToken(t *testing.T) {
	t.Parallel()

	h := Handler("/dbg", "s3cret")
	tests := []struct {
		name   string
		target string
		header string
		want   int
	}{
		{"no token", "/dbg/", "", http.StatusUnauthorized},
		{"wrong token", "/dbg/?token=nope", "", http.StatusUnauthorized},
		{"query token", "/dbg/?token=s3cret", "", http.StatusOK},
		{"bearer", "/dbg/", "Bearer s3cret", http.StatusOK},
		{"redirect", "/dbg?token=s3cret", "", http.StatusPermanentRedirect},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, tc.target, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestReconfigureRefusesInsecureBind(t *testing.T) {
	t.Parallel()

	s := New(Config{}, logx.Nop())
	err := s.Reconfigure(context.Background(), Config{Enabled: true, Addr: "0.0.0.0:0"})
	if !errors.Is(err, ErrInsecureBind) {
		t.Fatalf("Reconfigure = %v, want ErrInsecureBind", err)
	}
}

func TestReconfigureStartStop(t *testing.T) {
	t.Parallel()

	s := New(Config{}, logx.Nop())
	if err := s.Reconfigure(context.Background(), Config{Enabled: true, Addr: "127.0.0.1:0"}); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	if s.Addr() == "" {
		t.Fatalf("Addr empty after enable")
	}
	if err := s.Reconfigure(context.Background(), Config{Enabled: false}); err != nil {
		t.Fatalf("Reconfigure disable: %v", err)
	}
	if s.Addr() != "" {
		t.Fatalf("Addr = %q after disable, want empty", s.Addr())
	}
}
