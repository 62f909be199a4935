package domain

import (
	"fmt"
	"strings"
)

// Violation points at one record of a form tree and the messages it received.
type Violation struct {
	Path      string   `json:"path"`
	Attribute string   `json:"attribute"`
	Messages  []string `json:"messages"`
}

// Report is the outcome of a uniqueness validation of one form.
type Report struct {
	Valid      bool        `json:"valid"`
	Base       []string    `json:"base,omitempty"`
	Violations []Violation `json:"violations,omitempty"`
}

// ErrUniquenessViolation is returned when a form holds duplicate fields.
type ErrUniquenessViolation struct {
	Report Report
}

func (e *ErrUniquenessViolation) Error() string {
	msgs := append([]string(nil), e.Report.Base...)
	for _, v := range e.Report.Violations {
		msgs = append(msgs, fmt.Sprintf("%s.%s %s", v.Path, v.Attribute, strings.Join(v.Messages, ", ")))
	}
	return fmt.Sprintf("uniqueness validation failed: %s", strings.Join(msgs, "; "))
}
