package app

import (
	"net/http"
	"os"

	"github.com/SaadAmer/TFL-line-status/internal/notifier"
)

type options struct {
	getenv     func(string) string
	senders    notifier.SenderFactory
	upstreamHC *http.Client
	version    string
}

// Option customizes New.
type Option func(*options)

// WithEnv replaces os.Getenv for config overrides.
func WithEnv(getenv func(string) string) Option {
	return func(o *options) { o.getenv = getenv }
}

// WithSenderFactory replaces the Telegram sender used by the notifier.
func WithSenderFactory(f notifier.SenderFactory) Option {
	return func(o *options) { o.senders = f }
}

// WithUpstreamClient sets the HTTP client used for TfL calls.
func WithUpstreamClient(hc *http.Client) Option {
	return func(o *options) { o.upstreamHC = hc }
}

// WithVersion is reported on /status and as the trace resource version.
func WithVersion(v string) Option {
	return func(o *options) { o.version = v }
}

func defaultOptions() options {
	return options{getenv: os.Getenv, senders: notifier.TelegramFactory, version: "dev"}
}
