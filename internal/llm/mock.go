package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
	"time"
)

// FileHeader prefixes each file section in agent prompts. The mock client
// keys off it to anchor synthetic findings to real paths.
const FileHeader = "File: "

// MockClient produces deterministic synthetic findings without any I/O.
// The same prompt always yields the same response, which keeps mock-mode
// analysis runs reproducible.
type MockClient struct{}

func NewMockClient() *MockClient {
	return &MockClient{}
}

var mockSeverities = []string{"high", "medium", "low", "info"}

var mockTemplates = []struct {
	category    string
	title       string
	description string
}{
	{"maintainability", "Long function body", "Function exceeds a comfortable length and mixes several responsibilities."},
	{"reliability", "Unchecked error return", "An error return value is silently discarded."},
	{"security", "Unvalidated external input", "Input crosses a trust boundary without validation."},
	{"style", "Inconsistent naming", "Identifier naming deviates from the dominant convention in this file."},
}

func (m *MockClient) Complete(_ context.Context, req Request) (*Response, error) {
	paths := promptFiles(req.UserPrompt, 3)

	seed := fnv.New32a()
	_, _ = seed.Write([]byte(req.SystemPrompt))
	_, _ = seed.Write([]byte(req.UserPrompt))
	h := seed.Sum32()

	findings := make([]RawFinding, 0, len(paths)+1)
	for i, path := range paths {
		tpl := mockTemplates[(int(h)+i)%len(mockTemplates)]
		findings = append(findings, RawFinding{
			Title:       LenientString(tpl.title),
			Category:    LenientString(tpl.category),
			Severity:    LenientString(mockSeverities[(int(h)+i)%len(mockSeverities)]),
			FilePath:    LenientString(path),
			StartLine:   LenientInt(int(h)%40 + 1),
			EndLine:     LenientInt(int(h)%40 + 5),
			Description: LenientString(tpl.description),
			Confidence:  LenientFloat(0.5 + float64(int(h)%50)/100),
		})
	}
	findings = append(findings, RawFinding{
		Title:       "Overall assessment",
		Category:    "summary",
		Severity:    "info",
		Description: LenientString(fmt.Sprintf("Reviewed %d files; see anchored findings for details.", len(paths))),
		Confidence:  1,
	})

	payload, err := json.Marshal(findings)
	if err != nil {
		return nil, err
	}
	return &Response{
		Text:        string(payload),
		InputTokens: EstimateTokens(req.SystemPrompt + req.UserPrompt),
		Duration:    time.Millisecond,
	}, nil
}

// promptFiles collects up to max paths from FileHeader lines in the prompt.
func promptFiles(prompt string, max int) []string {
	var paths []string
	for _, line := range strings.Split(prompt, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, FileHeader) {
			continue
		}
		path := strings.TrimSpace(strings.TrimPrefix(line, FileHeader))
		if path == "" {
			continue
		}
		paths = append(paths, path)
		if len(paths) == max {
			break
		}
	}
	return paths
}
