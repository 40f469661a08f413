package security

import (
	"errors"
	"os"
	"strings"
)

// ClassifiedError carries two renderings of one failure: a short message
// fit for a notification banner, and the verbose detail that belongs in
// the debug log. Supervisor failures routinely embed full binary paths and
// raw client stderr; only the log should see those.
type ClassifiedError struct {
	UserSafe    string
	DebugDetail string
}

func (e *ClassifiedError) Error() string {
	if e == nil || strings.TrimSpace(e.UserSafe) == "" {
		return "operation failed"
	}
	return e.UserSafe
}

// NewClassifiedError builds an error whose banner text and log text differ.
func NewClassifiedError(userSafe, debugDetail string) error {
	return &ClassifiedError{UserSafe: userSafe, DebugDetail: debugDetail}
}

// Classified wraps err with a banner-safe message, keeping err's own text
// as the debug detail.
func Classified(userSafe string, err error) error {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	return &ClassifiedError{UserSafe: userSafe, DebugDetail: detail}
}

// UserMessage extracts the banner-safe text from err, unwrapping as needed.
// With redact set, home-directory prefixes are stripped as well.
func UserMessage(err error, redact bool) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		msg = ce.Error()
	}
	if redact {
		msg = RedactMessage(msg)
	}
	return msg
}

// DebugMessage extracts the log-level detail from err, falling back to the
// plain error text when err carries no classification.
func DebugMessage(err error) string {
	if err == nil {
		return ""
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) && strings.TrimSpace(ce.DebugDetail) != "" {
		return ce.DebugDetail
	}
	return err.Error()
}

// RedactMessage replaces the user's home directory with "~" in
// user-visible text, so notifications never leak a local username into a
// screenshot of the status surface.
func RedactMessage(msg string) string {
	if msg == "" {
		return msg
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return msg
	}
	return strings.ReplaceAll(msg, home, "~")
}
