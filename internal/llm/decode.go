package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// LenientString is a string field decoded from untrusted model output. It
// never fails on a shape mismatch: null yields "", numbers and booleans are
// stringified, arrays decode to their first element recursively, objects
// are dropped.
type LenientString string

func (s *LenientString) UnmarshalJSON(data []byte) error {
	*s = LenientString(lenientScalar(data))
	return nil
}

func lenientScalar(data []byte) string {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return ""
	}
	switch data[0] {
	case '"':
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return ""
		}
		return v
	case 'n': // null
		return ""
	case 't', 'f':
		return string(data)
	case '[':
		var elems []json.RawMessage
		if err := json.Unmarshal(data, &elems); err != nil || len(elems) == 0 {
			return ""
		}
		return lenientScalar(elems[0])
	case '{':
		return ""
	default: // number
		return string(data)
	}
}

// LenientInt decodes an integer field with the same tolerance: numbers,
// numeric strings, null and anything else collapse to a value or zero.
type LenientInt int

func (i *LenientInt) UnmarshalJSON(data []byte) error {
	raw := lenientScalar(data)
	if raw == "" {
		*i = 0
		return nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		*i = LenientInt(int(f))
	} else {
		*i = 0
	}
	return nil
}

// LenientFloat decodes a float field leniently; unparseable input yields -1
// so callers can distinguish "unknown" from a real zero.
type LenientFloat float64

func (f *LenientFloat) UnmarshalJSON(data []byte) error {
	raw := lenientScalar(data)
	if v, err := strconv.ParseFloat(raw, 64); err == nil {
		*f = LenientFloat(v)
	} else {
		*f = -1
	}
	return nil
}

// RawFinding is the shape agents expect the model to emit per finding.
type RawFinding struct {
	Title        LenientString `json:"title"`
	Category     LenientString `json:"category"`
	Severity     LenientString `json:"severity"`
	FilePath     LenientString `json:"filePath"`
	StartLine    LenientInt    `json:"startLine"`
	EndLine      LenientInt    `json:"endLine"`
	Symbol       LenientString `json:"symbol"`
	Description  LenientString `json:"description"`
	Explanation  LenientString `json:"explanation"`
	SuggestedFix LenientString `json:"suggestedFix"`
	Confidence   LenientFloat  `json:"confidence"`
}

// ExtractOutermost returns the outermost JSON array or object embedded in
// text, or an empty string when neither is present. Models wrap their JSON
// in prose and code fences often enough that this cannot be strict.
func ExtractOutermost(text string) string {
	arrStart := strings.IndexByte(text, '[')
	objStart := strings.IndexByte(text, '{')

	start, closer := -1, byte(0)
	switch {
	case arrStart >= 0 && (objStart < 0 || arrStart < objStart):
		start, closer = arrStart, ']'
	case objStart >= 0:
		start, closer = objStart, '}'
	default:
		return ""
	}

	end := strings.LastIndexByte(text, closer)
	if end <= start {
		return ""
	}
	return text[start : end+1]
}

// decodeRaw unmarshals one finding object. Confidence is pre-set to -1
// before decoding: an object that omits the key never reaches the lenient
// decoder, and the preset keeps it reading as "unknown" instead of zero.
func decodeRaw(data json.RawMessage) (RawFinding, error) {
	f := RawFinding{Confidence: -1}
	if err := json.Unmarshal(data, &f); err != nil {
		return RawFinding{}, err
	}
	return f, nil
}

func decodeRawSlice(elems []json.RawMessage) ([]RawFinding, error) {
	findings := make([]RawFinding, 0, len(elems))
	for _, e := range elems {
		f, err := decodeRaw(e)
		if err != nil {
			return nil, err
		}
		findings = append(findings, f)
	}
	return findings, nil
}

// DecodeFindings parses the model's raw text into findings. An outermost
// array decodes directly; an object decodes either via its "findings" field
// or as a single finding.
func DecodeFindings(text string) ([]RawFinding, error) {
	payload := ExtractOutermost(text)
	if payload == "" {
		return nil, fmt.Errorf("no JSON payload in model output")
	}

	if payload[0] == '[' {
		var elems []json.RawMessage
		if err := json.Unmarshal([]byte(payload), &elems); err != nil {
			return nil, fmt.Errorf("decode findings array: %w", err)
		}
		findings, err := decodeRawSlice(elems)
		if err != nil {
			return nil, fmt.Errorf("decode findings array: %w", err)
		}
		return findings, nil
	}

	var wrapped struct {
		Findings []json.RawMessage `json:"findings"`
	}
	if err := json.Unmarshal([]byte(payload), &wrapped); err == nil && len(wrapped.Findings) > 0 {
		findings, err := decodeRawSlice(wrapped.Findings)
		if err != nil {
			return nil, fmt.Errorf("decode wrapped findings: %w", err)
		}
		return findings, nil
	}

	single, err := decodeRaw(json.RawMessage(payload))
	if err != nil {
		return nil, fmt.Errorf("decode finding object: %w", err)
	}
	return []RawFinding{single}, nil
}
