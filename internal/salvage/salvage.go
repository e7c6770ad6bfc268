// Package salvage recovers JSON objects from free-form model output.
//
// Models are asked for JSON but frequently wrap it in prose, code fences or
// truncate it mid-object. Parse runs an ordered chain of pure stages and
// stops at the first one that yields an object. The final stage never
// fails: it returns a typed fallback carrying a preview of the raw text
// and the parse error, so callers can always proceed.
package salvage

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	"github.com/custodia-labs/lectern/internal/core/domain"
)

// PreviewLength bounds the raw text preview kept on fallback results.
const PreviewLength = 200

// Stage identifies which step of the chain produced a result.
type Stage int

// Stages in the order they are tried.
const (
	StageDirect Stage = iota
	StageRepair
	StageExtractSpan
	StageExtractPairs
	StageFallback
)

// String returns the stage name used in logs.
func (s Stage) String() string {
	switch s {
	case StageDirect:
		return "direct"
	case StageRepair:
		return "repair"
	case StageExtractSpan:
		return "extract_span"
	case StageExtractPairs:
		return "extract_pairs"
	case StageFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// Result is the outcome of Parse.
type Result struct {
	// Stage is the stage that produced Data.
	Stage Stage

	// Data is the recovered object. Empty on fallback.
	Data map[string]any

	// Raw is Data re-encoded as JSON, used for path lookups.
	Raw string

	// Text is the original model output.
	Text string

	// Preview is the first PreviewLength characters of Text.
	Preview string

	// Err wraps domain.ErrParseFailed on fallback results.
	Err error
}

// OK reports whether an object was recovered.
func (r Result) OK() bool {
	return r.Stage != StageFallback
}

// Get returns the value at a gjson path such as "function_call.name".
func (r Result) Get(path string) gjson.Result {
	if r.Raw == "" {
		return gjson.Result{}
	}
	return gjson.Get(r.Raw, path)
}

// String returns the string at path, or "" when absent.
// Non-string scalars are rendered as text.
func (r Result) String(path string) string {
	v := r.Get(path)
	if !v.Exists() || v.Type == gjson.Null {
		return ""
	}
	if v.IsObject() || v.IsArray() {
		return v.Raw
	}
	return v.String()
}

// Strings returns the strings of the array at path. A scalar string is
// returned as a one element slice.
func (r Result) Strings(path string) []string {
	v := r.Get(path)
	if !v.Exists() {
		return nil
	}
	if !v.IsArray() {
		if s := v.String(); s != "" && v.Type == gjson.String {
			return []string{s}
		}
		return nil
	}
	var out []string
	for _, item := range v.Array() {
		if s := item.String(); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Has reports whether path exists and is not null.
func (r Result) Has(path string) bool {
	v := r.Get(path)
	return v.Exists() && v.Type != gjson.Null
}

type stage struct {
	id  Stage
	run func(text string) (map[string]any, error)
}

var chain = []stage{
	{StageDirect, Direct},
	{StageRepair, Repair},
	{StageExtractSpan, ExtractSpan},
	{StageExtractPairs, ExtractPairs},
}

// Parse runs the salvage chain over text. It never panics and never
// returns an error; failures are reported through the fallback result.
func Parse(text string) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Fallback(text, fmt.Errorf("panic: %v", r))
		}
	}()

	var lastErr error
	for _, s := range chain {
		data, err := s.run(text)
		if err != nil {
			lastErr = err
			continue
		}
		raw, err := json.Marshal(data)
		if err != nil {
			lastErr = err
			continue
		}
		return Result{
			Stage:   s.id,
			Data:    data,
			Raw:     string(raw),
			Text:    text,
			Preview: preview(text),
		}
	}
	return Fallback(text, lastErr)
}

// Fallback builds the terminal result for unparseable text.
func Fallback(text string, cause error) Result {
	err := domain.ErrParseFailed
	if cause != nil {
		err = fmt.Errorf("%w: %v", domain.ErrParseFailed, cause)
	}
	return Result{
		Stage:   StageFallback,
		Data:    map[string]any{},
		Text:    text,
		Preview: preview(text),
		Err:     err,
	}
}

func preview(text string) string {
	if utf8.RuneCountInString(text) <= PreviewLength {
		return text
	}
	return string([]rune(text)[:PreviewLength])
}
