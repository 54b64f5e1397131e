package stage

// analyzeSchemaJSON constrains the analyze stage's structured output.
// Both generation backends emit sub-queries as objects; the item schema
// accepts either a "text" or a "query" field because the two backends
// disagree on the key name.
const analyzeSchemaJSON = `{
  "type": "object",
  "properties": {
    "analysis": {"type": "string"},
    "sub_queries": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "properties": {
          "text": {"type": "string"},
          "query": {"type": "string"},
          "rationale": {"type": "string"}
        },
        "anyOf": [
          {"required": ["text"]},
          {"required": ["query"]}
        ]
      }
    },
    "entities": {
      "type": "array",
      "items": {"type": "string"}
    },
    "out_of_scope": {
      "type": "array",
      "items": {"type": "string"}
    }
  },
  "required": ["sub_queries"]
}`
