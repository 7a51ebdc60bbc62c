package log

import (
	"context"
	"io"
	"log/slog"
	"regexp"
	"strings"
)

// MaskValue replaces sensitive values.
const MaskValue = "***REDACTED***"

// sensitiveKeys are attribute keys that are always masked.
var sensitiveKeys = map[string]bool{
	"cookie":              true,
	"cookies":             true,
	"set-cookie":          true,
	"authorization":       true,
	"proxy-authorization": true,
	"session":             true,
	"session_id":          true,
	"sessionid":           true,
	"sid":                 true,
	"phpsessid":           true,
	"key":                 true,
	"api_key":             true,
	"apikey":              true,
	"x-api-key":           true,
	"redis_password":      true,
	"captcha":             true,
	"pgp_passphrase":      true,
}

// sensitiveKeywords mask any key containing them. The bare "key" is only
// matched as a suffix to spare names like "keyword".
var sensitiveKeywords = []string{
	"password", "passwd", "passphrase", "secret", "token",
	"csrf", "xsrf", "auth", "credential", "cookie",
}

// sensitivePatterns mask string values regardless of their key.
var sensitivePatterns = []*regexp.Regexp{
	// JWT
	regexp.MustCompile(`^eyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*$`),
	regexp.MustCompile(`(?i)^bearer\s+.+`),
	regexp.MustCompile(`(?i)^basic\s+[A-Za-z0-9+/=]+$`),
	// Cookie header lines.
	regexp.MustCompile(`(?i)^[a-z0-9_.-]*sess[a-z0-9_.-]*=[^;\s]+`),
	regexp.MustCompile(`(?i)-----BEGIN.*(PRIVATE|SECRET).*KEY-----`),
}

// onionHost matches a v3 onion host.
var onionHost = regexp.MustCompile(`\b([a-z2-7]{6})[a-z2-7]{50}\.onion\b`)

// SecureHandler wraps an slog.Handler and masks secrets in every record.
type SecureHandler struct {
	handler    slog.Handler
	maskOnions bool
}

// HandlerOption configures a SecureHandler.
type HandlerOption func(*SecureHandler)

// WithOnionMasking shortens v3 onion hosts in messages and string values
// to their first six characters.
func WithOnionMasking(enabled bool) HandlerOption {
	return func(h *SecureHandler) {
		h.maskOnions = enabled
	}
}

// NewSecureHandler wraps handler. A nil handler wraps slog.Default().Handler().
func NewSecureHandler(handler slog.Handler, opts ...HandlerOption) *SecureHandler {
	if handler == nil {
		handler = slog.Default().Handler()
	}
	h := &SecureHandler{handler: handler}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Enabled delegates to the wrapped handler.
func (h *SecureHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

// Handle masks the record and passes it on.
func (h *SecureHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, h.maskText(r.Message), r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(h.sanitize(a))
		return true
	})
	return h.handler.Handle(ctx, out)
}

// WithAttrs masks attrs before handing them to the wrapped handler.
func (h *SecureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	masked := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		masked[i] = h.sanitize(a)
	}
	return &SecureHandler{handler: h.handler.WithAttrs(masked), maskOnions: h.maskOnions}
}

// WithGroup returns a handler for the named group.
func (h *SecureHandler) WithGroup(name string) slog.Handler {
	return &SecureHandler{handler: h.handler.WithGroup(name), maskOnions: h.maskOnions}
}

func (h *SecureHandler) sanitize(a slog.Attr) slog.Attr {
	a.Value = a.Value.Resolve()

	if a.Value.Kind() == slog.KindGroup {
		group := a.Value.Group()
		masked := make([]slog.Attr, len(group))
		for i, ga := range group {
			masked[i] = h.sanitize(ga)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(masked...)}
	}

	if isSensitiveKey(a.Key) {
		return slog.String(a.Key, MaskValue)
	}

	if a.Value.Kind() == slog.KindString {
		v := a.Value.String()
		if isSensitiveValue(v) {
			return slog.String(a.Key, MaskValue)
		}
		if h.maskOnions {
			return slog.String(a.Key, h.maskText(v))
		}
	}
	return a
}

func (h *SecureHandler) maskText(s string) string {
	if !h.maskOnions {
		return s
	}
	return onionHost.ReplaceAllString(s, "${1}…onion")
}

func isSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	if sensitiveKeys[k] {
		return true
	}
	if strings.HasSuffix(k, "_key") || strings.HasSuffix(k, "-key") {
		return true
	}
	for _, kw := range sensitiveKeywords {
		if strings.Contains(k, kw) {
			return true
		}
	}
	return false
}

func isSensitiveValue(v string) bool {
	for _, p := range sensitivePatterns {
		if p.MatchString(v) {
			return true
		}
	}
	return false
}

func level(verbose bool) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return slog.LevelWarn
}

// NewSecureLogger returns a text logger that masks secrets. The level is
// Debug when verbose, otherwise Warn.
func NewSecureLogger(w io.Writer, verbose bool, opts ...HandlerOption) *slog.Logger {
	text := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level(verbose)})
	return slog.New(NewSecureHandler(text, opts...))
}

// NewSecureJSONLogger is NewSecureLogger with JSON output.
func NewSecureJSONLogger(w io.Writer, verbose bool, opts ...HandlerOption) *slog.Logger {
	js := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level(verbose)})
	return slog.New(NewSecureHandler(js, opts...))
}
