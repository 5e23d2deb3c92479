// Package redact strips sensitive fields from audit event details before
// they are persisted. Redaction is irreversible: once a value is masked
// there is no way to recover it from the stored event.
package redact

import (
	"regexp"
	"strings"

	"auditcore/internal/audit"
)

// defaultDenylist covers credential-shaped keys. Matching is
// case-insensitive and exact on the normalized key.
var defaultDenylist = []string{
	"password",
	"passwd",
	"token",
	"access_token",
	"refresh_token",
	"secret",
	"client_secret",
	"api_key",
	"apikey",
	"authorization",
	"private_key",
	"credit_card",
	"card_number",
	"cvv",
	"ssn",
	"national_id",
}

// Masker replaces a sensitive value with its stored form.
type Masker interface {
	Mask(value any) any
}

// FullMasker replaces the whole value with a fixed placeholder.
type FullMasker struct{}

func (FullMasker) Mask(any) any { return "[REDACTED]" }

// PartialMasker keeps a short prefix of string values so operators can
// correlate entries without seeing the secret. Non-string values are
// fully masked.
type PartialMasker struct {
	Keep int
}

func (m PartialMasker) Mask(value any) any {
	s, ok := value.(string)
	if !ok {
		return "[REDACTED]"
	}
	keep := m.Keep
	if keep <= 0 {
		keep = 4
	}
	if len(s) <= keep {
		return "[REDACTED]"
	}
	return s[:keep] + "****"
}

// Pipeline walks event details and masks denylisted or PII-pattern keys.
type Pipeline struct {
	denylist map[string]struct{}
	patterns []*regexp.Regexp
	masker   Masker
}

// Option configures the Pipeline.
type Option func(*Pipeline)

// WithMasker overrides the default full-redaction masking strategy.
func WithMasker(m Masker) Option {
	return func(p *Pipeline) {
		if m != nil {
			p.masker = m
		}
	}
}

// WithDenylist adds keys to the built-in denylist.
func WithDenylist(keys ...string) Option {
	return func(p *Pipeline) {
		for _, k := range keys {
			p.denylist[normalizeKey(k)] = struct{}{}
		}
	}
}

// WithPIIPatterns adds regular expressions matched against field keys.
// Keys matching any pattern are masked even when not on the denylist.
func WithPIIPatterns(patterns ...*regexp.Regexp) Option {
	return func(p *Pipeline) {
		p.patterns = append(p.patterns, patterns...)
	}
}

// New builds a pipeline with the built-in denylist and full masking.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		denylist: make(map[string]struct{}, len(defaultDenylist)),
		masker:   FullMasker{},
	}
	for _, k := range defaultDenylist {
		p.denylist[k] = struct{}{}
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Redact returns a sanitized deep copy of event and whether any field was
// actually masked. The input event is never mutated.
func (p *Pipeline) Redact(event audit.Event) (audit.Event, bool) {
	if len(event.Details) == 0 {
		return event.Clone(), false
	}

	out := event.Clone()
	redacted := p.walkMap(out.Details)
	return out, redacted
}

func (p *Pipeline) walkMap(m map[string]any) bool {
	redacted := false
	for k, v := range m {
		if p.sensitive(k) {
			m[k] = p.masker.Mask(v)
			redacted = true
			continue
		}
		if p.walkValue(v) {
			redacted = true
		}
	}
	return redacted
}

func (p *Pipeline) walkValue(v any) bool {
	switch val := v.(type) {
	case map[string]any:
		return p.walkMap(val)
	case []any:
		redacted := false
		for _, item := range val {
			if p.walkValue(item) {
				redacted = true
			}
		}
		return redacted
	default:
		return false
	}
}

func (p *Pipeline) sensitive(key string) bool {
	norm := normalizeKey(key)
	if _, ok := p.denylist[norm]; ok {
		return true
	}
	for _, re := range p.patterns {
		if re.MatchString(key) {
			return true
		}
	}
	return false
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
