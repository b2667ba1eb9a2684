package tools

import (
	"fmt"
	"unicode/utf8"
)

const (
	MaxToolOutputChars = 30000
	MaxPDFChars        = 20000
	MaxJSONChars       = 20000
	MaxZipEntryChars   = 8000
	MaxZipChars        = 25000
)

// ErrorPrefix starts every failed tool output sent back to the run.
const ErrorPrefix = "Error: "

// Result is the outcome of one tool execution. Exactly one of Output and Err
// is meaningful; a failed extraction is data for the assistant, not a
// failure of the run.
type Result struct {
	Output string
	Err    error
}

func OK(output string) Result { return Result{Output: output} }

func Failure(op Name, url string, err error) Result {
	return Result{Err: &ExtractionError{Op: op, URL: url, Err: err}}
}

func (r Result) Failed() bool { return r.Err != nil }

// Text renders the result as tool output.
func (r Result) Text() string {
	if r.Err != nil {
		return ErrorPrefix + r.Err.Error()
	}
	return r.Output
}

type ExtractionError struct {
	Op  Name
	URL string
	Err error
}

func (e *ExtractionError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Truncate cuts s to at most n characters (runes).
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
