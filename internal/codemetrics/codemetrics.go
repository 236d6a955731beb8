// Package codemetrics computes cheap per-file source metrics used by the
// agents: an approximate cyclomatic complexity, lines of code and method
// count. The scanner is token-based, not a parser, so it works uniformly
// across the supported languages at the cost of exactness.
package codemetrics

import (
	"bufio"
	"regexp"
	"strings"
)

// FileMetrics holds the measurements for one source file.
type FileMetrics struct {
	LinesOfCode          int
	BlankLines           int
	CommentLines         int
	MethodCount          int
	CyclomaticComplexity int
	MaxNestingDepth      int
}

// Service computes metrics for source content. It is stateless and safe
// for concurrent use.
type Service struct{}

func NewService() *Service {
	return &Service{}
}

// decisionTokens each add one to the cyclomatic count, mirroring the
// classic decision-point definition. "else if" and "elif" are covered by
// the plain "if" tokens they contain.
var decisionTokens = []string{
	"if ", "if(", "for ", "for(", "while ", "while(",
	"case ", "catch ", "catch(", "except ", "&&", "||", " ? ",
}

// methodPattern matches function and method declarations across the common
// source languages (Go, C-family, Python, JS/TS, Ruby, Rust, Kotlin).
var methodPattern = regexp.MustCompile(
	`(?m)^\s*(?:(?:public|private|protected|internal|static|final|override|async|export|pub)\s+)*` +
		`(?:func\s+(?:\([^)]*\)\s*)?\w+|def\s+\w+|function\s*\w*|fn\s+\w+|` +
		`[\w<>\[\],\s\*&]+\s+\w+\s*\([^;{]*\)\s*\{)`)

// Analyze measures one file's content.
func (s *Service) Analyze(content string) FileMetrics {
	m := FileMetrics{
		// base complexity of one, matching the per-function convention
		CyclomaticComplexity: 1,
	}

	depth := 0
	inBlockComment := false
	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "":
			m.BlankLines++
			continue
		case inBlockComment:
			m.CommentLines++
			if strings.Contains(line, "*/") {
				inBlockComment = false
			}
			continue
		case strings.HasPrefix(line, "//") || strings.HasPrefix(line, "#"):
			m.CommentLines++
			continue
		case strings.HasPrefix(line, "/*"):
			m.CommentLines++
			if !strings.Contains(line, "*/") {
				inBlockComment = true
			}
			continue
		}

		m.LinesOfCode++
		for _, tok := range decisionTokens {
			m.CyclomaticComplexity += strings.Count(line, tok)
		}

		depth += strings.Count(line, "{") - strings.Count(line, "}")
		if depth > m.MaxNestingDepth {
			m.MaxNestingDepth = depth
		}
	}

	m.MethodCount = len(methodPattern.FindAllString(content, -1))
	return m
}
