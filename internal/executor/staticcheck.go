package executor

import (
	"fmt"
	"go/parser"
	"go/scanner"
	"go/token"
	"strings"

	"github.com/spectrascout/trustcore/internal/types"
)

// StaticChecker produces syntax/lint-level diagnostics for a code artifact
// without executing it.
type StaticChecker interface {
	Check(code string) []types.Diagnostic
}

// GoChecker parses Go artifacts with the language's own parser and reports
// every syntax error with its line and column.
type GoChecker struct{}

func (GoChecker) Check(code string) []types.Diagnostic {
	fset := token.NewFileSet()
	_, err := parser.ParseFile(fset, "main.go", code, parser.AllErrors)
	if err == nil {
		return nil
	}

	var diags []types.Diagnostic

	var list scanner.ErrorList
	if ok := errorsAs(err, &list); ok {
		for _, e := range list {
			diags = append(diags, types.Diagnostic{
				Line:     e.Pos.Line,
				Column:   e.Pos.Column,
				Message:  e.Msg,
				Severity: types.SeverityError,
				Origin:   "static",
			})
		}
		return diags
	}

	return []types.Diagnostic{{
		Line:     1,
		Message:  err.Error(),
		Severity: types.SeverityError,
		Origin:   "static",
	}}
}

// errorsAs is a tiny local alias to keep the type assertion readable;
// scanner.ErrorList does not implement Unwrap chains.
func errorsAs(err error, target *scanner.ErrorList) bool {
	if list, ok := err.(scanner.ErrorList); ok {
		*target = list
		return true
	}
	return false
}

// LexicalChecker covers languages without a native parser here. It catches
// the cheap, unambiguous mistakes: unbalanced brackets and stray NUL bytes.
// Real syntax checking for these languages happens in the sandbox dry run.
type LexicalChecker struct{}

type bracketFrame struct {
	ch   rune
	line int
}

func (LexicalChecker) Check(code string) []types.Diagnostic {
	var diags []types.Diagnostic
	var stack []bracketFrame

	pairs := map[rune]rune{')': '(', ']': '[', '}': '{'}
	line := 1
	inString := rune(0)

	for _, ch := range code {
		switch {
		case ch == '\n':
			line++
			inString = 0 // conservatively reset at line end
		case ch == 0:
			diags = append(diags, types.Diagnostic{
				Line:     line,
				Message:  "NUL byte in source",
				Severity: types.SeverityError,
				Origin:   "static",
			})
		case inString != 0:
			if ch == inString {
				inString = 0
			}
		case ch == '"' || ch == '\'':
			inString = ch
		case ch == '(' || ch == '[' || ch == '{':
			stack = append(stack, bracketFrame{ch: ch, line: line})
		case ch == ')' || ch == ']' || ch == '}':
			if len(stack) == 0 {
				diags = append(diags, types.Diagnostic{
					Line:     line,
					Message:  fmt.Sprintf("unmatched %q", ch),
					Severity: types.SeverityWarning,
					Origin:   "static",
				})
				continue
			}
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if top.ch != pairs[ch] {
				diags = append(diags, types.Diagnostic{
					Line:     line,
					Message:  fmt.Sprintf("mismatched %q closes %q opened on line %d", ch, top.ch, top.line),
					Severity: types.SeverityWarning,
					Origin:   "static",
				})
			}
		}
	}

	for _, frame := range stack {
		diags = append(diags, types.Diagnostic{
			Line:     frame.line,
			Message:  fmt.Sprintf("unclosed %q", frame.ch),
			Severity: types.SeverityWarning,
			Origin:   "static",
		})
	}

	return diags
}

// parseRuntimeDiagnostics extracts line-anchored diagnostics from a dry
// run's stderr. Python tracebacks and SyntaxError reports carry
// `File "...", line N` markers; anything unparsed falls back to one
// diagnostic holding the first stderr line.
func parseRuntimeDiagnostics(stderr string, exitCode int) []types.Diagnostic {
	if exitCode == 0 || strings.TrimSpace(stderr) == "" {
		return nil
	}

	var diags []types.Diagnostic
	lines := strings.Split(stderr, "\n")

	for i, raw := range lines {
		trimmed := strings.TrimSpace(raw)
		if !strings.HasPrefix(trimmed, "File \"") {
			continue
		}

		lineNo := parseLineMarker(trimmed)
		if lineNo == 0 {
			continue
		}

		// The message is the last non-empty line of the block that follows
		// (e.g. "SyntaxError: invalid syntax").
		message := ""
		for j := i + 1; j < len(lines); j++ {
			next := strings.TrimSpace(lines[j])
			if next == "" || strings.HasPrefix(next, "File \"") {
				break
			}
			message = next
		}
		if message == "" {
			message = "runtime error"
		}

		diags = append(diags, types.Diagnostic{
			Line:     lineNo,
			Message:  message,
			Severity: types.SeverityError,
			Origin:   "runtime",
		})
	}

	if len(diags) == 0 {
		first := strings.TrimSpace(lines[0])
		if first == "" {
			first = "dry run failed"
		}
		diags = append(diags, types.Diagnostic{
			Line:     1,
			Message:  first,
			Severity: types.SeverityError,
			Origin:   "runtime",
		})
	}

	return diags
}

// parseLineMarker pulls N out of `File "x", line N` (optionally followed by
// ", in <module>").
func parseLineMarker(s string) int {
	idx := strings.Index(s, ", line ")
	if idx < 0 {
		return 0
	}
	rest := s[idx+len(", line "):]
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0
	}
	n := 0
	for _, c := range rest[:end] {
		n = n*10 + int(c-'0')
	}
	return n
}
