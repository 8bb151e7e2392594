package publication

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// SchemaValidationError is returned when a link or locator payload from the
// host does not match its JSON schema.
type SchemaValidationError struct {
	Type     string `json:"type"`
	Document string `json:"document"`
	Details  string `json:"details"`
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("%s validation failed (%s): %s", e.Document, e.Type, e.Details)
}

const linkSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "definitions": {
    "link": {
      "type": "object",
      "required": ["href"],
      "properties": {
        "href": {"type": "string", "minLength": 1},
        "type": {"type": "string"},
        "title": {"type": "string"},
        "templated": {"type": "boolean"},
        "rel": {
          "oneOf": [
            {"type": "string"},
            {"type": "array", "items": {"type": "string"}}
          ]
        },
        "properties": {"type": "object"},
        "height": {"type": "integer", "minimum": 0},
        "width": {"type": "integer", "minimum": 0},
        "duration": {"type": "number", "minimum": 0},
        "language": {
          "oneOf": [
            {"type": "string"},
            {"type": "array", "items": {"type": "string"}}
          ]
        },
        "children": {"type": "array", "items": {"$ref": "#/definitions/link"}}
      }
    }
  },
  "$ref": "#/definitions/link"
}`

const locatorSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["href"],
  "properties": {
    "href": {"type": "string", "minLength": 1},
    "type": {"type": "string"},
    "title": {"type": "string"},
    "locations": {
      "type": "object",
      "properties": {
        "fragments": {"type": "array", "items": {"type": "string"}},
        "progression": {"type": "number", "minimum": 0, "maximum": 1},
        "position": {"type": "integer", "minimum": 1},
        "totalProgression": {"type": "number", "minimum": 0, "maximum": 1},
        "cssSelector": {"type": "string"},
        "partialCfi": {"type": "string"}
      }
    },
    "text": {
      "type": "object",
      "properties": {
        "before": {"type": "string"},
        "highlight": {"type": "string"},
        "after": {"type": "string"}
      }
    }
  }
}`

var (
	schemasOnce    sync.Once
	linkSchemaC    *gojsonschema.Schema
	locatorSchemaC *gojsonschema.Schema
	schemasErr     error
)

func compiledSchemas() (*gojsonschema.Schema, *gojsonschema.Schema, error) {
	schemasOnce.Do(func() {
		linkSchemaC, schemasErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(linkSchema))
		if schemasErr != nil {
			return
		}
		locatorSchemaC, schemasErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(locatorSchema))
	})
	return linkSchemaC, locatorSchemaC, schemasErr
}

// ValidateLinkJSON checks a serialized link object.
func ValidateLinkJSON(data []byte) error {
	link, _, err := compiledSchemas()
	if err != nil {
		return &SchemaValidationError{Type: "SchemaCompilation", Document: "link", Details: err.Error()}
	}
	return validate(link, "link", data)
}

// ValidateLocatorJSON checks a serialized locator.
func ValidateLocatorJSON(data []byte) error {
	_, locator, err := compiledSchemas()
	if err != nil {
		return &SchemaValidationError{Type: "SchemaCompilation", Document: "locator", Details: err.Error()}
	}
	return validate(locator, "locator", data)
}

func validate(schema *gojsonschema.Schema, document string, data []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return &SchemaValidationError{Type: "InvalidJson", Document: document, Details: err.Error()}
	}
	if !result.Valid() {
		var errorDetails []string
		for _, desc := range result.Errors() {
			errorDetails = append(errorDetails, fmt.Sprintf("  - %s", desc))
		}
		return &SchemaValidationError{Type: "SchemaMismatch", Document: document, Details: strings.Join(errorDetails, "\n")}
	}
	return nil
}
