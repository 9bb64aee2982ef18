// Package validation checks payloads handed to the core by the native shell.
package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/spec-kit/marshal-client/internal/domain"
)

const pushSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "messageId": {"type": "string", "maxLength": 256},
    "notification": {
      "type": ["object", "null"],
      "properties": {
        "title": {"type": "string"},
        "body": {"type": "string"}
      }
    },
    "data": {
      "type": ["object", "null"],
      "additionalProperties": {"type": "string"}
    },
    "sentTime": {"type": ["string", "null"], "format": "date-time"}
  }
}`

var pushSchema = mustSchema(pushSchemaJSON)

func mustSchema(src string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("compile schema: %v", err))
	}
	return schema
}

// Error lists the schema violations of a payload.
type Error struct {
	Violations []string
}

func (e *Error) Error() string {
	return "payload validation failed: " + strings.Join(e.Violations, "; ")
}

// ValidatePush checks raw against the push message schema and decodes it.
func ValidatePush(raw []byte) (domain.PushPayload, error) {
	var payload domain.PushPayload
	if len(raw) == 0 {
		return payload, &Error{Violations: []string{"(root): body is empty"}}
	}

	result, err := pushSchema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return payload, &Error{Violations: []string{err.Error()}}
	}
	if !result.Valid() {
		violations := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			violations[i] = desc.String()
		}
		return payload, &Error{Violations: violations}
	}

	if err := json.Unmarshal(raw, &payload); err != nil {
		return payload, &Error{Violations: []string{err.Error()}}
	}
	return payload, nil
}
