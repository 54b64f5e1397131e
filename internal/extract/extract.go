// Package extract pulls schema-valid structured values out of free-form
// model text. Models do not reliably honor "respond with JSON only", so
// extraction layers several strategies and takes the first one that
// yields a value passing schema validation.
package extract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ExtractionError reports that no strategy produced a valid value. It
// retains the raw model text and the last schema diagnostic so failures
// can be diagnosed (and repaired) downstream.
type ExtractionError struct {
	RawText    string
	Diagnostic string
}

func (e *ExtractionError) Error() string {
	if e.Diagnostic == "" {
		return "no JSON value found in model output"
	}
	return fmt.Sprintf("no schema-valid JSON in model output: %s", e.Diagnostic)
}

var fencedBlockPattern = regexp.MustCompile("(?s)```[a-zA-Z]*[ \t]*\n(.*?)```")

// CompileSchema compiles a JSON Schema document for use with JSONValue.
func CompileSchema(schemaJSON []byte) (*gojsonschema.Schema, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// JSONValue extracts a JSON value from text that validates against
// schema. Strategies are tried in order, first schema-valid match wins:
// the whole trimmed text, each fenced code block, the widest
// brace-delimited span, the widest bracket-delimited span.
func JSONValue(text string, schema *gojsonschema.Schema) (interface{}, error) {
	lastDiag := ""
	for _, candidate := range candidates(text) {
		var value interface{}
		if err := json.Unmarshal([]byte(candidate), &value); err != nil {
			continue
		}
		if schema == nil {
			return value, nil
		}
		result, err := schema.Validate(gojsonschema.NewGoLoader(value))
		if err != nil {
			lastDiag = err.Error()
			continue
		}
		if result.Valid() {
			return value, nil
		}
		diags := make([]string, 0, len(result.Errors()))
		for _, re := range result.Errors() {
			diags = append(diags, re.String())
		}
		lastDiag = strings.Join(diags, "; ")
	}
	return nil, &ExtractionError{RawText: text, Diagnostic: lastDiag}
}

// JSONObject is JSONValue constrained to an object result.
func JSONObject(text string, schema *gojsonschema.Schema) (map[string]interface{}, error) {
	value, err := JSONValue(text, schema)
	if err != nil {
		return nil, err
	}
	obj, ok := value.(map[string]interface{})
	if !ok {
		return nil, &ExtractionError{RawText: text, Diagnostic: "extracted value is not a JSON object"}
	}
	return obj, nil
}

// RawJSON runs the same strategies with no schema. Best-effort recovery
// paths use it when any parseable JSON is better than none.
func RawJSON(text string) (interface{}, error) {
	return JSONValue(text, nil)
}

func candidates(text string) []string {
	out := []string{strings.TrimSpace(text)}
	for _, m := range fencedBlockPattern.FindAllStringSubmatch(text, -1) {
		out = append(out, strings.TrimSpace(m[1]))
	}
	if span := widestSpan(text, '{', '}'); span != "" {
		out = append(out, span)
	}
	if span := widestSpan(text, '[', ']'); span != "" {
		out = append(out, span)
	}
	return out
}

func widestSpan(text string, open, close byte) string {
	start := strings.IndexByte(text, open)
	end := strings.LastIndexByte(text, close)
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}
