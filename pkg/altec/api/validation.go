package api

import (
	"context"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-playground/validator/v10"

	"github.com/mindforge/altec/pkg/altec/policy"
)

// descriptorSchemaDoc is a minimal OpenAPI document whose component
// schemas describe each kind's input_descriptor shape. Keeping it as data
// rather than hand-rolled Go structs means new descriptor fields are
// additive and reviewable in one place, the same role an OpenAPI spec
// plays for the teacher's HTTP surface.
const descriptorSchemaDoc = `
{
  "openapi": "3.0.3",
  "info": {"title": "altec-descriptors", "version": "1.0.0"},
  "paths": {},
  "components": {
    "schemas": {
      "text-profile": {
        "type": "object",
        "required": ["document_ref"],
        "properties": {
          "document_ref": {"type": "string"},
          "bytes": {"type": "number"}
        }
      },
      "image-analyze": {
        "type": "object",
        "required": ["image_ref"],
        "properties": {
          "image_ref": {"type": "string"}
        }
      },
      "audio-transcribe": {
        "type": "object",
        "required": ["audio_ref"],
        "properties": {
          "audio_ref": {"type": "string"},
          "media_seconds": {"type": "number"},
          "device": {"type": "string", "enum": ["gpu", "cpu"]}
        }
      },
      "video-deep": {
        "type": "object",
        "required": ["video_ref"],
        "properties": {
          "video_ref": {"type": "string"},
          "media_seconds": {"type": "number"},
          "frames_analyzed": {"type": "number"},
          "device": {"type": "string", "enum": ["gpu", "cpu"]}
        }
      }
    }
  }
}
`

// Validator validates inbound submit requests: struct-level constraints
// via go-playground/validator, and the loosely-typed input_descriptor
// against a per-kind OpenAPI schema via kin-openapi.
type Validator struct {
	structValidator *validator.Validate
	descriptorDoc   *openapi3.T
}

// NewValidator builds a Validator, parsing the embedded descriptor schema
// document once at startup.
func NewValidator() (*Validator, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData([]byte(descriptorSchemaDoc))
	if err != nil {
		return nil, fmt.Errorf("load descriptor schema document: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("invalid descriptor schema document: %w", err)
	}
	return &Validator{
		structValidator: validator.New(),
		descriptorDoc:   doc,
	}, nil
}

// ValidateSubmitRequest checks req's struct-level constraints and, given
// req.Kind is one of the known kinds, its descriptor shape.
func (v *Validator) ValidateSubmitRequest(req SubmitRequest) error {
	if err := v.structValidator.Struct(req); err != nil {
		return fmt.Errorf("invalid submit request: %w", err)
	}
	return v.ValidateDescriptor(req.Kind, req.Descriptor)
}

// ValidateDescriptor checks descriptor against the OpenAPI schema
// registered for kind. Returns an error naming the kind if no schema is
// registered (an unknown kind should already have been rejected by the
// struct-level oneof check).
func (v *Validator) ValidateDescriptor(kind string, descriptor policy.Descriptor) error {
	schemaRef, ok := v.descriptorDoc.Components.Schemas[kind]
	if !ok {
		return fmt.Errorf("no descriptor schema registered for kind %q", kind)
	}
	if err := schemaRef.Value.VisitJSON(map[string]interface{}(descriptor)); err != nil {
		return fmt.Errorf("input_descriptor invalid for kind %q: %w", kind, err)
	}
	return nil
}
