package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// generationSchema describes a generate body. Tags inside sequence items
// must not carry items of their own.
const generationSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["tags", "pixelData"],
  "properties": {
    "tags": {
      "type": "array",
      "items": { "$ref": "#/definitions/topTag" }
    },
    "pixelData": { "$ref": "#/definitions/pixelData" }
  },
  "definitions": {
    "tagNumber": {
      "type": "string",
      "pattern": "^\\([0-9A-Fa-f]{4},[0-9A-Fa-f]{4}\\)$"
    },
    "value": { "type": ["null", "string", "number", "boolean"] },
    "topTag": {
      "type": "object",
      "required": ["tagNumber", "vr"],
      "properties": {
        "tagNumber": { "$ref": "#/definitions/tagNumber" },
        "tagName": { "type": ["string", "null"] },
        "vr": { "type": "string", "pattern": "^[A-Z]{2}$" },
        "value": { "$ref": "#/definitions/value" },
        "children": {
          "type": ["array", "null"],
          "items": {
            "type": "object",
            "properties": {
              "itemNumber": { "type": "integer", "minimum": 1 },
              "tags": {
                "type": ["array", "null"],
                "items": { "$ref": "#/definitions/leafTag" }
              }
            }
          }
        }
      }
    },
    "leafTag": {
      "type": "object",
      "required": ["tagNumber", "vr"],
      "properties": {
        "tagNumber": { "$ref": "#/definitions/tagNumber" },
        "tagName": { "type": ["string", "null"] },
        "vr": { "type": "string", "pattern": "^[A-Z]{2}$" },
        "value": { "$ref": "#/definitions/value" },
        "children": { "type": ["array", "null"], "maxItems": 0 }
      }
    },
    "pixelData": {
      "type": ["object", "null"],
      "properties": {
        "width": { "type": "integer", "minimum": 0 },
        "height": { "type": "integer", "minimum": 0 },
        "bitsAllocated": { "type": "integer", "minimum": 0 },
        "bitsStored": { "type": "integer", "minimum": 0 },
        "samplesPerPixel": { "type": "integer", "minimum": 0 },
        "photometricInterpretation": { "type": ["string", "null"] },
        "pixelRepresentation": { "type": ["string", "null"] },
        "pixelDataBase64": { "type": ["string", "null"] }
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func schema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiledSchema, schemaErr = jsonschema.CompileString("generation.json", generationSchema)
	})
	return compiledSchema, schemaErr
}

// DecodeGenerationRequest validates body against the generation schema and
// decodes it. Bodies that nest sequences below the second level are rejected.
func DecodeGenerationRequest(body []byte) (GenerationRequest, error) {
	sch, err := schema()
	if err != nil {
		return GenerationRequest{}, fmt.Errorf("compiling generation schema: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return GenerationRequest{}, fmt.Errorf("invalid generation request: %w", err)
	}
	if err := sch.Validate(v); err != nil {
		return GenerationRequest{}, fmt.Errorf("invalid generation request: %w", err)
	}

	var req GenerationRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return GenerationRequest{}, fmt.Errorf("invalid generation request: %w", err)
	}
	return req, nil
}
