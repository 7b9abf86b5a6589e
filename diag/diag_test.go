package diag

import (
	"strings"
	"testing"

	"github.com/dr8co/klox/evaluator"
	"github.com/dr8co/klox/lexer"
	"github.com/dr8co/klox/parser"
	"github.com/dr8co/klox/token"
	"github.com/dr8co/klox/vm"
)

func parseErrorsFor(t *testing.T, src string) []SourceError {
	t.Helper()
	p := parser.New(lexer.New(src))
	_, perrs := p.ParseProgram()
	if len(perrs) == 0 {
		t.Fatalf("expected parse errors for %q", src)
	}
	return FromParseErrors(perrs)
}

func TestRenderAnchorsFileLineColumn(t *testing.T) {
	src := "var x = ;"
	errs := parseErrorsFor(t, src)
	out := Render(src, "test.lox", errs[0])

	if !strings.Contains(out, "Error in test.lox:1:9") {
		t.Fatalf("missing file:line:col header:\n%s", out)
	}
	if !strings.Contains(out, "var x = ;") {
		t.Fatalf("missing source line snippet:\n%s", out)
	}
	if !strings.Contains(out, "^") {
		t.Fatalf("missing caret:\n%s", out)
	}
}

func TestRenderWithoutFilenameUsesAtForm(t *testing.T) {
	src := "var x = ;"
	errs := parseErrorsFor(t, src)
	out := Render(src, "", errs[0])
	if !strings.Contains(out, "Error at line 1:9") {
		t.Fatalf("missing line:col header for anonymous input:\n%s", out)
	}
}

func TestRenderCaretColumnOnLaterLine(t *testing.T) {
	src := "var ok = 1;\nvar x = ;"
	errs := parseErrorsFor(t, src)
	out := Render(src, "", errs[0])
	if !strings.Contains(out, "line 2:9") {
		t.Fatalf("error should anchor to line 2:\n%s", out)
	}
	// The caret must sit under column 9: the snippet prefix is 7 chars
	// ("   2 | "), so 7+8 spaces precede it.
	if !strings.Contains(out, "\n"+strings.Repeat(" ", 15)+"^") {
		t.Fatalf("caret misplaced:\n%s", out)
	}
}

func TestRenderAllCountsErrors(t *testing.T) {
	src := "var x = ;\nvar y = ;"
	errs := parseErrorsFor(t, src)
	if len(errs) < 2 {
		t.Fatalf("expected at least 2 errors, got %d", len(errs))
	}
	out := RenderAll(src, "", errs)
	if !strings.Contains(out, "errors:") || !strings.Contains(out, "[1/") {
		t.Fatalf("multi-error report should be numbered:\n%s", out)
	}
}

func TestScanErrorsRenderLikeParseErrors(t *testing.T) {
	src := `print "unterminated;`
	l := lexer.New(src)
	_, serrs := l.ScanAll()
	if len(serrs) == 0 {
		t.Fatal("expected a scan error for an unterminated string")
	}
	out := Render(src, "", FromScanErrors(serrs)[0])
	if !strings.Contains(out, "Error at line 1:") {
		t.Fatalf("scan error should be source-anchored:\n%s", out)
	}
}

func TestRenderRuntimeErrorVMFormat(t *testing.T) {
	t.Setenv("BACKTRACE", "")
	err := &vm.RuntimeError{Message: "boom", Line: 3}
	if got := RenderRuntimeError(err); got != "Error: line 3: boom" {
		t.Fatalf("got %q", got)
	}
}

func TestRenderRuntimeErrorBacktraceGated(t *testing.T) {
	err := &vm.RuntimeError{
		Message: "boom",
		Line:    3,
		Frames: []vm.Frame{
			{Name: "<fn inner>", Line: 2},
			{Name: "<fn outer>", Line: 5},
		},
	}

	t.Setenv("BACKTRACE", "")
	if got := RenderRuntimeError(err); strings.Contains(got, "inner") {
		t.Fatalf("backtrace should be suppressed without BACKTRACE:\n%s", got)
	}

	t.Setenv("BACKTRACE", "1")
	got := RenderRuntimeError(err)
	if !strings.Contains(got, "  0: <fn inner>()    [line 2]") {
		t.Fatalf("missing innermost backtrace frame:\n%s", got)
	}
	if !strings.Contains(got, "  1: <fn outer>()    [line 5]") {
		t.Fatalf("missing outer backtrace frame:\n%s", got)
	}
}

func TestRenderRuntimeErrorEvaluatorSpansToLines(t *testing.T) {
	t.Setenv("BACKTRACE", "")
	src := "var a = 1;\nprint missing;"
	SetSource(src)
	err := &evaluator.RuntimeError{
		Message: "undefined variable 'missing'",
		Span:    token.Span{Offset: strings.Index(src, "missing"), Length: 7},
	}
	got := RenderRuntimeError(err)
	if got != "Error: line 2: undefined variable 'missing'" {
		t.Fatalf("got %q", got)
	}
}
