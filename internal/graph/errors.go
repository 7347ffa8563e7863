package graph

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

const summaryLimit = 300

var plainText = bluemonday.StrictPolicy()

// RemoteError is a non-2xx answer from the remote API. Error() renders as
// "{Op}: {Status} {Body}".
type RemoteError struct {
	Op     string
	Status int
	Body   string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %d %s", e.Op, e.Status, e.Body)
}

// Summary is a single-line, markup-free excerpt of the error suitable for
// logs and the audit list.
func (e *RemoteError) Summary() string {
	text := strings.Join(strings.Fields(plainText.Sanitize(e.Body)), " ")
	if len(text) > summaryLimit {
		text = text[:summaryLimit] + "..."
	}
	return fmt.Sprintf("%s: %d %s", e.Op, e.Status, text)
}

// DecodeError reports a 2xx response whose body did not match the expected
// schema.
type DecodeError struct {
	Op  string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: failed to parse response: %v", e.Op, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Status
	}
	return 0
}

// IsNotFound reports a 404 remote answer.
func IsNotFound(err error) bool { return StatusOf(err) == http.StatusNotFound }

// IsConflict reports a 409 remote answer.
func IsConflict(err error) bool { return StatusOf(err) == http.StatusConflict }

// Summarize returns a log-friendly message for any error.
func Summarize(err error) string {
	if err == nil {
		return ""
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Summary()
	}
	return err.Error()
}
