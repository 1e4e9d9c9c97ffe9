package translate

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Sentinel errors for the rule engine.
var (
	// ErrSyntax marks a pseudocode line no rule can rewrite.
	ErrSyntax = errors.New("pseudocode syntax error")

	// ErrUnbalancedBlocks marks code whose blocks do not close.
	ErrUnbalancedBlocks = errors.New("unbalanced blocks")
)

// rule rewrites one trimmed pseudocode line. Rules are tried in order and
// the first match wins.
type rule struct {
	pattern *regexp.Regexp
	rewrite func(m []string) string
}

var rules = []rule{
	{regexp.MustCompile(`^(?i)end(\s+\w+)?$`), func([]string) string { return "}" }},
	{regexp.MustCompile(`^(?i)else$`), func([]string) string { return "} else {" }},
	{regexp.MustCompile(`^(?i)else\s+if\s+(.+?)(\s+then)?$`), func(m []string) string { return "} else if " + m[1] + " {" }},
	{regexp.MustCompile(`^(?i)if\s+(.+?)(\s+then)?$`), func(m []string) string { return "if " + m[1] + " {" }},
	{regexp.MustCompile(`^(?i)while\s+(.+?)(\s+do)?$`), func(m []string) string { return "for " + m[1] + " {" }},
	{regexp.MustCompile(`^(?i)for\s+each\s+(\w+)\s+in\s+(.+?)(\s+do)?$`), func(m []string) string {
		return "for _, " + m[1] + " := range " + m[2] + " {"
	}},
	{regexp.MustCompile(`^(?i)repeat\s+(\d+)\s+times$`), func(m []string) string { return "for range " + m[1] + " {" }},
	{regexp.MustCompile(`^(?i)function\s+(\w+)\s*\(([^)]*)\)$`), func(m []string) string {
		return "func " + m[1] + "(" + m[2] + ") {"
	}},
	{regexp.MustCompile(`^(?i)set\s+(\w+)\s+to\s+(.+)$`), func(m []string) string { return m[1] + " = " + m[2] }},
	{regexp.MustCompile(`^(?i)let\s+(\w+)\s+be\s+(.+)$`), func(m []string) string { return m[1] + " := " + m[2] }},
	{regexp.MustCompile(`^(?i)increment\s+(\w+)$`), func(m []string) string { return m[1] + "++" }},
	{regexp.MustCompile(`^(?i)decrement\s+(\w+)$`), func(m []string) string { return m[1] + "--" }},
	{regexp.MustCompile(`^(?i)print\s+(.+)$`), func(m []string) string { return "fmt.Println(" + m[1] + ")" }},
	{regexp.MustCompile(`^(?i)return(\s+.+)?$`), func(m []string) string { return "return" + m[1] }},
	{regexp.MustCompile(`^(?i)call\s+(\w+)\s*\(([^)]*)\)$`), func(m []string) string { return m[1] + "(" + m[2] + ")" }},
	{regexp.MustCompile(`^(#|//)\s*(.*)$`), func(m []string) string { return "// " + m[2] }},
}

// keywords that only make sense through a rule. A line starting with one of
// them that no rule matched is malformed.
var keywords = map[string]bool{
	"set": true, "let": true, "if": true, "while": true, "for": true,
	"function": true, "repeat": true, "call": true, "increment": true, "decrement": true,
}

// RuleEngine is a line-oriented Engine. Indentation is preserved, blank
// lines pass through, and unrecognized statements are emitted verbatim.
type RuleEngine struct{}

// NewRuleEngine creates a rule engine.
func NewRuleEngine() *RuleEngine {
	return &RuleEngine{}
}

// Parse rewrites every line of chunk. Line breaks are kept so outputs of
// consecutive chunks concatenate into the translation of their joined input.
func (e *RuleEngine) Parse(ctx context.Context, chunk string) (string, error) {
	var sb strings.Builder

	sb.Grow(len(chunk))

	for lineNo, line := range strings.SplitAfter(chunk, "\n") {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		body, newline := strings.CutSuffix(line, "\n")

		out, err := rewriteLine(body)
		if err != nil {
			return "", fmt.Errorf("line %d: %w", lineNo+1, err)
		}

		sb.WriteString(out)

		if newline {
			sb.WriteByte('\n')
		}
	}

	return sb.String(), nil
}

func rewriteLine(line string) (string, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return line, nil
	}

	indent := line[:strings.Index(line, trimmed)]

	for _, r := range rules {
		m := r.pattern.FindStringSubmatch(trimmed)
		if m != nil {
			return indent + r.rewrite(m), nil
		}
	}

	first, _, _ := strings.Cut(trimmed, " ")
	if keywords[strings.ToLower(first)] {
		return "", fmt.Errorf("%w: %q", ErrSyntax, trimmed)
	}

	return line, nil
}

// Validate checks that braces and parentheses close in order, ignoring
// string literals and line comments.
func (e *RuleEngine) Validate(ctx context.Context, code string) error {
	var stack []rune

	scanner := bufio.NewScanner(strings.NewReader(code))
	lineNo := 0

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lineNo++

		var err error

		stack, err = scanBrackets(stack, scanner.Text(), lineNo)
		if err != nil {
			return err
		}
	}

	scanErr := scanner.Err()
	if scanErr != nil {
		return fmt.Errorf("scan code: %w", scanErr)
	}

	if len(stack) > 0 {
		return fmt.Errorf("%w: %d unclosed at end of input", ErrUnbalancedBlocks, len(stack))
	}

	return nil
}

var closers = map[rune]rune{'}': '{', ')': '('}

func scanBrackets(stack []rune, line string, lineNo int) ([]rune, error) {
	inString := false

	for idx, r := range line {
		switch {
		case inString:
			if r == '"' && (idx == 0 || line[idx-1] != '\\') {
				inString = false
			}
		case r == '"':
			inString = true
		case r == '/' && strings.HasPrefix(line[idx:], "//"):
			return stack, nil
		case r == '{' || r == '(':
			stack = append(stack, r)
		case closers[r] != 0:
			if len(stack) == 0 || stack[len(stack)-1] != closers[r] {
				return stack, fmt.Errorf("%w: unexpected %q on line %d", ErrUnbalancedBlocks, r, lineNo)
			}

			stack = stack[:len(stack)-1]
		}
	}

	return stack, nil
}
