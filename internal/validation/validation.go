// Package validation screens user supplied text before it is stored.
package validation

import (
	"fmt"
	"regexp"
	"unicode/utf8"

	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/errs"
)

// Length bounds, in characters.
const (
	MaxMessageLen   = 10000
	MaxGroupNameLen = 100
)

// Screening classes.
const (
	ClassXSS              = "xss"
	ClassSQLInjection     = "sql_injection"
	ClassCommandInjection = "command_injection"
)

type rule struct {
	class string
	re    *regexp.Regexp
}

// Checked in order; the first match names the class.
var rules = []rule{
	{ClassXSS, regexp.MustCompile(`(?i)<\s*/?\s*(script|iframe|object|embed|svg|img|body|style|link|meta)\b`)},
	{ClassXSS, regexp.MustCompile(`(?i)javascript\s*:`)},
	{ClassXSS, regexp.MustCompile(`(?i)(^|[\s"'<;])on[a-z]+\s*=`)},
	{ClassSQLInjection, regexp.MustCompile(`(?i)\b(union\s+(all\s+)?select|insert\s+into|delete\s+from|drop\s+(table|database)|update\s+\w+\s+set)\b`)},
	{ClassSQLInjection, regexp.MustCompile(`(?i)'\s*(or|and)\s+('?\w+'?)\s*=\s*('?\w+'?)`)},
	{ClassSQLInjection, regexp.MustCompile(`(;|'|")\s*--`)},
	{ClassCommandInjection, regexp.MustCompile("\\$\\(|`")},
	{ClassCommandInjection, regexp.MustCompile(`(?i)(;|&&|\|\|?)\s*(rm|cat|ls|wget|curl|nc|bash|sh|chmod|chown|sudo|kill|python|perl)\b`)},
}

// ScreenError names the class of the detected pattern.
type ScreenError struct {
	Class string
}

func (e *ScreenError) Error() string { return fmt.Sprintf("%s: %s detected", errs.ErrUnsafeContent, e.Class) }

// Unwrap lets errors.Is match errs.ErrUnsafeContent.
func (e *ScreenError) Unwrap() error { return errs.ErrUnsafeContent }

// Screen returns a *ScreenError if text contains an injection or XSS pattern.
func Screen(text string) error {
	for _, r := range rules {
		if r.re.MatchString(text) {
			return &ScreenError{Class: r.class}
		}
	}
	return nil
}

// MaxLen fails with errs.ErrTooLong when text has more than max characters.
func MaxLen(field, text string, max int) error {
	if n := utf8.RuneCountInString(text); n > max {
		return fmt.Errorf("%s: %w (%d > %d)", field, errs.ErrTooLong, n, max)
	}
	return nil
}

// Required fails with errs.ErrMissingField naming the first empty field.
// Arguments alternate name, value.
func Required(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			return fmt.Errorf("%w: %s", errs.ErrMissingField, pairs[i])
		}
	}
	return nil
}
