package extract

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const subQuerySchema = `{
	"type": "object",
	"properties": {
		"sub_queries": {
			"type": "array",
			"items": {"type": "object", "required": ["text"]}
		}
	},
	"required": ["sub_queries"]
}`

func TestJSONValueWholeText(t *testing.T) {
	schema, err := CompileSchema([]byte(subQuerySchema))
	require.NoError(t, err)

	v, err := JSONValue(`{"sub_queries":[{"text":"q1"}]}`, schema)
	require.NoError(t, err)
	obj := v.(map[string]interface{})
	assert.Len(t, obj["sub_queries"], 1)
}

func TestJSONValueFencedBlockInProse(t *testing.T) {
	schema, err := CompileSchema([]byte(subQuerySchema))
	require.NoError(t, err)

	text := "Sure! Here is the decomposition you asked for:\n\n" +
		"```json\n{\"sub_queries\":[{\"text\":\"risk assessment\"},{\"text\":\"documentation\"}]}\n```\n\n" +
		"Let me know if you need anything else."
	v, err := JSONValue(text, schema)
	require.NoError(t, err)
	obj := v.(map[string]interface{})
	assert.Len(t, obj["sub_queries"], 2)
}

func TestJSONValuePicksSchemaValidBlock(t *testing.T) {
	schema, err := CompileSchema([]byte(subQuerySchema))
	require.NoError(t, err)

	// First fenced block parses but fails validation; the second passes.
	text := "```json\n{\"other\": true}\n```\nand then\n```json\n{\"sub_queries\":[{\"text\":\"x\"}]}\n```"
	v, err := JSONValue(text, schema)
	require.NoError(t, err)
	obj := v.(map[string]interface{})
	_, hasSubQueries := obj["sub_queries"]
	assert.True(t, hasSubQueries)
}

func TestJSONValueBraceSpanFallback(t *testing.T) {
	v, err := JSONValue(`The answer is {"confidence": 0.8} as computed.`, nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.8, v.(map[string]interface{})["confidence"].(float64), 1e-9)
}

func TestJSONValueBracketSpanFallback(t *testing.T) {
	v, err := JSONValue(`Options considered: [1, 2, 3] overall.`, nil)
	require.NoError(t, err)
	assert.Len(t, v.([]interface{}), 3)
}

func TestJSONValueNoJSONThrowsWithRawText(t *testing.T) {
	raw := "I could not produce JSON, sorry."
	_, err := JSONValue(raw, nil)
	require.Error(t, err)

	var extErr *ExtractionError
	require.True(t, errors.As(err, &extErr))
	assert.Equal(t, raw, extErr.RawText)
}

func TestJSONValueSchemaFailureRetainsDiagnostic(t *testing.T) {
	schema, err := CompileSchema([]byte(subQuerySchema))
	require.NoError(t, err)

	_, err = JSONValue(`{"wrong_field": 1}`, schema)
	var extErr *ExtractionError
	require.True(t, errors.As(err, &extErr))
	assert.NotEmpty(t, extErr.Diagnostic)
}

func TestJSONObjectRejectsArrays(t *testing.T) {
	_, err := JSONObject(`[1,2]`, nil)
	require.Error(t, err)
}

func TestRawJSONSideChannel(t *testing.T) {
	v, err := RawJSON("prefix ```\n{\"k\": \"v\"}\n``` suffix")
	require.NoError(t, err)
	assert.Equal(t, "v", v.(map[string]interface{})["k"])
}
