// Package diag renders klox's scan, parse, resolve, and runtime
// errors uniformly: a file, a line:column, the offending source line, and
// a caret under it. A runtime error additionally gets its
// `Error: line N: MESSAGE` line and, when the BACKTRACE environment
// variable is set, a call-stack dump.
package diag

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dr8co/klox/evaluator"
	"github.com/dr8co/klox/lexer"
	"github.com/dr8co/klox/parser"
	"github.com/dr8co/klox/resolver"
	"github.com/dr8co/klox/token"
	"github.com/dr8co/klox/vm"
)

// SourceError is any klox phase error that can be anchored to a point in
// the original source text.
type SourceError interface {
	error
	// SourceSpan returns the byte range this error is anchored to.
	SourceSpan() token.Span
}

// ScanError wraps a lexer.Error as a SourceError.
type ScanError struct{ Err lexer.Error }

func (e ScanError) Error() string          { return e.Err.Message }
func (e ScanError) SourceSpan() token.Span { return e.Err.Span }

// ParseError wraps a parser.Error as a SourceError.
type ParseError struct{ Err parser.Error }

func (e ParseError) Error() string          { return e.Err.Message }
func (e ParseError) SourceSpan() token.Span { return e.Err.Span }

// ResolveError wraps a resolver.Error as a SourceError.
type ResolveError struct{ Err resolver.Error }

func (e ResolveError) Error() string          { return e.Err.Message }
func (e ResolveError) SourceSpan() token.Span { return e.Err.Span }

// FromScanErrors, FromParseErrors, and FromResolveErrors adapt each
// phase's native []Error slice into []SourceError for Render.
func FromScanErrors(errs []lexer.Error) []SourceError {
	out := make([]SourceError, len(errs))
	for i, e := range errs {
		out[i] = ScanError{e}
	}
	return out
}

func FromParseErrors(errs []parser.Error) []SourceError {
	out := make([]SourceError, len(errs))
	for i, e := range errs {
		out[i] = ParseError{e}
	}
	return out
}

func FromResolveErrors(errs []resolver.Error) []SourceError {
	out := make([]SourceError, len(errs))
	for i, e := range errs {
		out[i] = ResolveError{e}
	}
	return out
}

// Render formats one SourceError as "Error in <file>:<line>:<col>"
// followed by the offending source line and a caret. file may be empty
// (stdin/REPL input), which switches to the "Error at line:col" form.
func Render(source, file string, err SourceError) string {
	span := err.SourceSpan()
	line := span.Line(source)
	col := span.Column(source)

	var sb strings.Builder
	if file != "" {
		fmt.Fprintf(&sb, "Error in %s:%d:%d\n", file, line, col)
	} else {
		fmt.Fprintf(&sb, "Error at line %d:%d\n", line, col)
	}

	if src := sourceLine(source, line); src != "" {
		prefix := fmt.Sprintf("%4d | ", line)
		sb.WriteString(prefix)
		sb.WriteString(src)
		sb.WriteString("\n")
		sb.WriteString(strings.Repeat(" ", len(prefix)+col-1))
		sb.WriteString("^\n")
	}
	sb.WriteString(err.Error())
	return sb.String()
}

// RenderAll formats a batch of phase errors.
func RenderAll(source, file string, errs []SourceError) string {
	if len(errs) == 0 {
		return ""
	}
	if len(errs) == 1 {
		return Render(source, file, errs[0])
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d errors:\n\n", len(errs))
	for i, e := range errs {
		fmt.Fprintf(&sb, "[%d/%d] ", i+1, len(errs))
		sb.WriteString(Render(source, file, e))
		if i < len(errs)-1 {
			sb.WriteString("\n\n")
		}
	}
	return sb.String()
}

func sourceLine(source string, lineNum int) string {
	lines := strings.Split(source, "\n")
	if lineNum < 1 || lineNum > len(lines) {
		return ""
	}
	return lines[lineNum-1]
}

// RenderRuntimeError formats a runtime fault from either execution
// backend as `Error: line N: MESSAGE`, with a backtrace
// appended when the BACKTRACE environment variable is set to anything
// but "0" or "".
func RenderRuntimeError(err error) string {
	var line int
	var message string
	var trace []string

	switch e := err.(type) {
	case *evaluator.RuntimeError:
		line = e.Span.Line(currentSourceHint)
		message = e.Message
		for i, f := range e.Frames {
			trace = append(trace, fmt.Sprintf("  %d: %s()    [line %d]", i, f.Name, f.Span.Line(currentSourceHint)))
		}
	case *vm.RuntimeError:
		line = e.Line
		message = e.Message
		for i, f := range e.Frames {
			trace = append(trace, fmt.Sprintf("  %d: %s()    [line %d]", i, f.Name, f.Line))
		}
	default:
		return "Error: " + err.Error()
	}

	out := "Error: line " + strconv.Itoa(line) + ": " + message
	if backtraceEnabled() && len(trace) > 0 {
		out += "\n" + strings.Join(trace, "\n")
	}
	return out
}

// currentSourceHint lets RenderRuntimeError recompute evaluator.Frame
// line numbers (stored as spans, not lines) without plumbing the source
// text through every call site; SetSource records it once per run.
var currentSourceHint string

// SetSource records the source text of the program currently executing,
// used by RenderRuntimeError to turn evaluator.Frame spans into line
// numbers.
func SetSource(source string) { currentSourceHint = source }

func backtraceEnabled() bool {
	v := os.Getenv("BACKTRACE")
	return v != "" && v != "0"
}
