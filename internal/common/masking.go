package common

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"sync/atomic"
)

const masked = "***MASKED***"

// SensitivePattern detects a secret inside free text or by attribute key.
type SensitivePattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
	Keys        []string
}

// DefaultSensitivePatterns covers the credentials this tool handles: bot tokens,
// authorization headers, oauth2 client secrets and webhook tokens embedded in paths.
var DefaultSensitivePatterns = []SensitivePattern{
	{
		Name:        "authorization",
		Regex:       regexp.MustCompile(`\b(Bot|Bearer)\s+[A-Za-z0-9\-._~+/]{16,}=*`),
		Replacement: "$1 " + masked,
		Keys:        []string{"authorization"},
	},
	{
		Name:        "bot_token",
		Regex:       regexp.MustCompile(`[A-Za-z0-9_-]{20,}\.[A-Za-z0-9_-]{6,7}\.[A-Za-z0-9_-]{27,}`),
		Replacement: masked,
		Keys:        []string{"token", "bot_token", "access_token"},
	},
	{
		Name:        "webhook_token",
		Regex:       regexp.MustCompile(`(/webhooks/\d+/)[A-Za-z0-9_-]{16,}`),
		Replacement: "${1}" + masked,
		Keys:        []string{"webhook_token", "interaction_token"},
	},
	{
		Name:        "secret",
		Regex:       regexp.MustCompile(`(?i)(client[_-]?secret|secret|password)(["']?\s*[:=]\s*["']?)([^"',}\]\s]+)`),
		Replacement: "${1}${2}" + masked,
		Keys:        []string{"secret", "client_secret", "password"},
	},
}

// Masker redacts secrets from strings and key/value pairs.
type Masker struct {
	patterns []SensitivePattern
	enabled  atomic.Bool
}

func NewMasker() *Masker {
	return NewMaskerWithPatterns(DefaultSensitivePatterns)
}

func NewMaskerWithPatterns(patterns []SensitivePattern) *Masker {
	m := &Masker{patterns: patterns}
	m.enabled.Store(true)
	return m
}

func (m *Masker) SetEnabled(enabled bool) { m.enabled.Store(enabled) }

func (m *Masker) IsEnabled() bool { return m.enabled.Load() }

// AddLiteral masks an exact secret wherever it appears, e.g. the token loaded from config.
func (m *Masker) AddLiteral(secret string) {
	if len(secret) < 4 {
		return
	}
	m.patterns = append(m.patterns, SensitivePattern{
		Name:        "literal",
		Regex:       regexp.MustCompile(regexp.QuoteMeta(secret)),
		Replacement: masked,
	})
}

// MaskString applies every regex pattern to input.
func (m *Masker) MaskString(input string) string {
	if !m.IsEnabled() || input == "" {
		return input
	}
	out := input
	for _, p := range m.patterns {
		if p.Regex != nil {
			out = p.Regex.ReplaceAllString(out, p.Replacement)
		}
	}
	return out
}

func (m *Masker) sensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, p := range m.patterns {
		for _, s := range p.Keys {
			if k == s {
				return true
			}
		}
	}
	return false
}

// MaskValue masks value entirely when key is sensitive, otherwise scrubs string content.
// Non-string values are returned unchanged.
func (m *Masker) MaskValue(key string, value any) any {
	if !m.IsEnabled() {
		return value
	}
	if m.sensitiveKey(key) {
		return masked
	}
	switch v := value.(type) {
	case string:
		return m.MaskString(v)
	case error:
		return m.MaskString(v.Error())
	default:
		return value
	}
}

// MaskKeyValuePairs masks an alternating key/value slice as passed to slog.
func (m *Masker) MaskKeyValuePairs(pairs ...any) []any {
	out := make([]any, len(pairs))
	copy(out, pairs)
	if !m.IsEnabled() {
		return out
	}
	for i := 0; i+1 < len(out); i += 2 {
		if k, ok := out[i].(string); ok {
			out[i+1] = m.MaskValue(k, out[i+1])
		}
	}
	return out
}

func (m *Masker) maskAttr(a slog.Attr) slog.Attr {
	if !m.IsEnabled() {
		return a
	}
	if m.sensitiveKey(a.Key) {
		return slog.String(a.Key, masked)
	}
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return slog.String(a.Key, m.MaskString(v.String()))
	case slog.KindGroup:
		group := v.Group()
		out := make([]any, 0, len(group))
		for _, g := range group {
			out = append(out, m.maskAttr(g))
		}
		return slog.Group(a.Key, out...)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return slog.String(a.Key, m.MaskString(err.Error()))
		}
	}
	return a
}

var globalMasker atomic.Pointer[Masker]

func init() {
	globalMasker.Store(NewMasker())
}

func SetGlobalMasker(masker *Masker) {
	if masker != nil {
		globalMasker.Store(masker)
	}
}

func GetGlobalMasker() *Masker {
	return globalMasker.Load()
}

func MaskSensitiveData(input string) string {
	return GetGlobalMasker().MaskString(input)
}

func EnableMasking(enabled bool) {
	GetGlobalMasker().SetEnabled(enabled)
}

func IsMaskingEnabled() bool {
	return GetGlobalMasker().IsEnabled()
}

// maskingHandler scrubs the message and attributes of every record before
// handing it to the wrapped handler.
type maskingHandler struct {
	next slog.Handler
}

func (h *maskingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *maskingHandler) Handle(ctx context.Context, r slog.Record) error {
	m := GetGlobalMasker()
	if !m.IsEnabled() {
		return h.next.Handle(ctx, r)
	}
	nr := slog.NewRecord(r.Time, r.Level, m.MaskString(r.Message), r.PC)
	r.Attrs(func(a slog.Attr) bool {
		nr.AddAttrs(m.maskAttr(a))
		return true
	})
	return h.next.Handle(ctx, nr)
}

func (h *maskingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	m := GetGlobalMasker()
	out := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		out[i] = m.maskAttr(a)
	}
	return &maskingHandler{next: h.next.WithAttrs(out)}
}

func (h *maskingHandler) WithGroup(name string) slog.Handler {
	return &maskingHandler{next: h.next.WithGroup(name)}
}
