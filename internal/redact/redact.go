package redact

import (
	"regexp"

	"github.com/engramhq/engram/internal/domain"
)

type policy int

const (
	// policyReject fails the ingest outright; used for high-certainty
	// matches where a masked remainder would still be worthless.
	policyReject policy = iota
	// policyMask replaces the match and lets the ingest proceed.
	policyMask
)

// pattern is one entry in the fixed scan table. The policy is decided here,
// never by the caller. Replace, when set, is an expansion template that
// keeps harmless context (scheme, key name) around the sentinel.
type pattern struct {
	name    string
	re      *regexp.Regexp
	policy  policy
	replace string
}

var patterns = []pattern{
	{
		name:   "aws_access_key",
		re:     regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
		policy: policyReject,
	},
	{
		name:   "private_key_block",
		re:     regexp.MustCompile(`-----BEGIN (?:[A-Z]+ )*PRIVATE KEY-----`),
		policy: policyReject,
	},
	{
		name:   "github_token",
		re:     regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}\b`),
		policy: policyReject,
	},
	{
		name:   "slack_token",
		re:     regexp.MustCompile(`\bxox[baprs]-[A-Za-z0-9-]{10,}\b`),
		policy: policyReject,
	},
	{
		name:    "connection_credentials",
		re:      regexp.MustCompile(`(?i)\b([a-z][a-z0-9+.-]*://)[^/\s:@]+:[^@\s]+@`),
		policy:  policyMask,
		replace: "${1}[REDACTED:connection_credentials]@",
	},
	{
		name:   "jwt",
		re:     regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}`),
		policy: policyMask,
	},
	{
		name:   "bearer_token",
		re:     regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9_\-.=+/]{16,}`),
		policy: policyMask,
	},
	{
		name:    "credential_assignment",
		re:      regexp.MustCompile(`(?i)\b((?:api[_-]?key|apikey|secret|token|password|passwd|pwd)\s*[=:]\s*)["']?[A-Za-z0-9_\-./+]{8,}["']?`),
		policy:  policyMask,
		replace: "${1}[REDACTED:credential_assignment]",
	},
}

// Redactor scans content against the pattern table before anything else
// touches it. Reject-class matches abort the ingest; mask-class matches are
// replaced in place and reported back as warnings.
type Redactor struct{}

func New() *Redactor {
	return &Redactor{}
}

func (r *Redactor) Redact(content string) (domain.RedactionResult, error) {
	for _, p := range patterns {
		if p.policy != policyReject {
			continue
		}
		if p.re.MatchString(content) {
			// The pattern name is safe to surface; the matched value never is.
			return domain.RedactionResult{}, domain.NewError(
				domain.KindSecretDetected,
				"content contains a secret and was rejected",
			).WithDetail("pattern", p.name)
		}
	}

	masked := []string{}
	for _, p := range patterns {
		if p.policy != policyMask {
			continue
		}
		if !p.re.MatchString(content) {
			continue
		}
		replace := p.replace
		if replace == "" {
			replace = "[REDACTED:" + p.name + "]"
		}
		content = p.re.ReplaceAllString(content, replace)
		masked = append(masked, p.name)
	}

	return domain.RedactionResult{Content: content, Masked: masked}, nil
}

var _ domain.Redactor = (*Redactor)(nil)
