// Package normalize maps raw candidates onto canonical records with deterministic identity keys.
package normalize

import "errors"

// Discard reasons. Candidates failing normalization are dropped with one of these.
var (
	ErrMissingName  = errors.New("missing name")
	ErrMissingDate  = errors.New("missing start date")
	ErrInvalidDate  = errors.New("unparsable date")
	ErrMissingTitle = errors.New("missing title")
	ErrMissingURL   = errors.New("missing url")
	ErrInvalidURL   = errors.New("invalid url")
)

var reasons = []error{ErrMissingName, ErrMissingDate, ErrInvalidDate, ErrMissingTitle, ErrMissingURL, ErrInvalidURL}

// Reason returns the short label for a discard error, used as a metric label.
func Reason(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r) {
			return r.Error()
		}
	}
	return "other"
}
