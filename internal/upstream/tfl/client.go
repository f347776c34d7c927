// Package tfl calls the Transport for London unified API.
package tfl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	logx "github.com/SaadAmer/TFL-line-status/pkg/logx"
)

const (
	DefaultBaseURL   = "https://api.tfl.gov.uk"
	DefaultTimeout   = 10 * time.Second
	defaultUserAgent = "tflsched/1.0"
	maxBodyBytes     = 4 << 20
	tracerName       = "github.com/SaadAmer/TFL-line-status/internal/upstream/tfl"
)

type Config struct {
	BaseURL   string
	AppKey    string
	UserAgent string
	// Timeout bounds one request including the body read.
	Timeout time.Duration
	// RatePerSec throttles outgoing calls; 0 disables throttling.
	RatePerSec float64
	Burst      int
}

// Client fetches line disruptions. It is safe for concurrent use.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger
	tracer  trace.Tracer
	maxBody int64
}

func New(cfg Config, hc *http.Client, log logx.Logger) *Client {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if hc == nil {
		hc = &http.Client{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Client{cfg: cfg, http: hc, log: log, tracer: otel.Tracer(tracerName), maxBody: maxBodyBytes}
	if cfg.RatePerSec > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	return c
}

// DisruptionURL is the endpoint for a normalized, comma separated line list.
func (c *Client) DisruptionURL(lines string) string {
	// Line ids are catalog-checked ([a-z-]) so the list goes into the path as is.
	u := c.cfg.BaseURL + "/Line/" + lines + "/Disruption"
	if c.cfg.AppKey != "" {
		u += "?" + url.Values{"app_key": {c.cfg.AppKey}}.Encode()
	}
	return u
}

// Fetch returns the raw JSON body of the disruption endpoint. Non-2xx answers
// are *HTTPStatusError, deadline expiry *TimeoutError, transport failures
// *NetworkError and bodies over the size cap *ResponseTooLargeError.
func (c *Client) Fetch(ctx context.Context, lines string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "tfl.disruption",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("tfl.lines", lines)),
	)
	defer span.End()

	body, err := c.fetch(ctx, lines)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.log.Debug("tfl request failed", logx.String("lines", lines), logx.Err(err))
		return "", err
	}
	span.SetAttributes(attribute.Int("tfl.body_bytes", len(body)))
	return body, nil
}

func (c *Client) fetch(ctx context.Context, lines string) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return "", err
			}
			// Wait fails early when the deadline would pass before a token frees up.
			return "", &TimeoutError{Err: fmt.Errorf("rate limit wait: %w", err)}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.DisruptionURL(lines), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		return "", classify(ctx, err)
	}
	defer resp.Body.Close()

	// One byte past the cap tells a full body from a cut one.
	b, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return "", classify(ctx, err)
	}
	tooLarge := int64(len(b)) > c.maxBody
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if tooLarge {
			b = b[:c.maxBody]
		}
		return "", &HTTPStatusError{StatusCode: resp.StatusCode, Status: resp.Status, Body: snippet(b)}
	}
	if tooLarge {
		return "", &ResponseTooLargeError{Limit: c.maxBody}
	}
	return string(b), nil
}

func classify(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return &TimeoutError{Err: err}
	}
	return &NetworkError{Err: err}
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
