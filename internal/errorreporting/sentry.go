// Package errorreporting wires Sentry into the service. Everything that
// leaves the process goes through a scrub pass first: layout jobs carry
// client IPs, graph uploads can hold arbitrary node identifiers, and
// startup errors tend to quote connection strings.
package errorreporting

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/exocortex-initiative/forcefield/internal/config"
)

// scrubRules rewrite sensitive fragments before an event is sent. Order
// matters: URL credentials must go before the key/value rule or the rule
// would chew the scheme off first.
var scrubRules = []struct {
	re   *regexp.Regexp
	repl string
}{
	// user:password@ in connection URLs
	{regexp.MustCompile(`(\w+://)[^@/\s]+@`), "${1}[REDACTED]@"},
	// bearer tokens from Authorization headers quoted into errors
	{regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9._~+/=-]{8,}`), "bearer [REDACTED]"},
	// key=value style credentials; the separator needs a : or = so prose
	// like "password authentication failed" survives
	{regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password)"?\s*[:=]\s*"?[^\s",;]+`), "${1}=[REDACTED]"},
	// email-shaped node identifiers
	{regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`), "[REDACTED]"},
	// client addresses from rate limit and job bookkeeping
	{regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`), "[REDACTED]"},
}

var enabled bool

// Init configures the Sentry client. A blank DSN disables reporting and is
// not an error, running without Sentry is the default.
func Init(cfg *config.Config) error {
	if cfg.SentryDSN == "" {
		enabled = false
		return nil
	}

	release := cfg.SentryRelease
	if release == "" {
		release = "dev"
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.SentryDSN,
		Environment:      cfg.SentryEnvironment,
		Release:          release,
		TracesSampleRate: cfg.SentrySampleRate,
		BeforeSend:       beforeSend,
		AttachStacktrace: true,
	})
	if err != nil {
		return fmt.Errorf("init sentry: %w", err)
	}
	enabled = true
	return nil
}

// IsSentryEnabled reports whether Init configured a live client. Callers
// use it to skip hub work on the panic path.
func IsSentryEnabled() bool {
	return enabled
}

// beforeSend scrubs an event in place. Sentry calls it for every capture.
func beforeSend(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
	for i := range event.Exception {
		event.Exception[i].Value = scrub(event.Exception[i].Value)
	}
	if event.Message != "" {
		event.Message = scrub(event.Message)
	}
	for key, value := range event.Extra {
		if str, ok := value.(string); ok {
			event.Extra[key] = scrub(str)
		}
	}

	if event.Request != nil {
		if event.Request.Headers != nil {
			delete(event.Request.Headers, "Authorization")
			delete(event.Request.Headers, "Cookie")
			delete(event.Request.Headers, "X-Api-Key")
		}
		// Query strings can carry since= versions and formats, but also
		// anything a client pastes in. Drop them wholesale.
		event.Request.QueryString = ""
	}
	return event
}

func scrub(text string) string {
	result := text
	for _, rule := range scrubRules {
		result = rule.re.ReplaceAllString(result, rule.repl)
	}
	return result
}

// ScrubPII runs the scrub rules over arbitrary text, for callers that
// capture raw stack traces or log excerpts themselves.
func ScrubPII(text string) string {
	return scrub(text)
}

// CaptureError reports an error on the current hub. Nil errors are ignored
// so callers can pass through return values unconditionally.
func CaptureError(err error) {
	if err == nil {
		return
	}
	sentry.CaptureException(err)
}

// CaptureErrorWithContext reports an error with tags and extras attached.
// Extras pass through beforeSend, so string values get scrubbed.
func CaptureErrorWithContext(err error, tags map[string]string, extras map[string]interface{}) {
	if err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		for k, v := range extras {
			scope.SetExtra(k, v)
		}
		sentry.CaptureException(err)
	})
}

// Flush blocks until buffered events are delivered or the timeout passes.
// Call on shutdown, the transport is async.
func Flush(timeout time.Duration) bool {
	return sentry.Flush(timeout)
}

// ValidateDSN rejects values that cannot be a Sentry DSN. Used by startup
// preflight to fail fast on a mangled deploy secret.
func ValidateDSN(dsn string) error {
	if !strings.HasPrefix(dsn, "https://") && !strings.HasPrefix(dsn, "http://") {
		return fmt.Errorf("sentry DSN must be an http(s) URL")
	}
	return nil
}
