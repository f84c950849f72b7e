package knowledge

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/jonathan/resume-builder/internal/types"
)

//go:embed schema/knowledge_graph.schema.json
var graphSchemaJSON string

var (
	graphSchema     *gojsonschema.Schema
	graphSchemaErr  error
	graphSchemaOnce sync.Once
)

func loadGraphSchema() (*gojsonschema.Schema, error) {
	graphSchemaOnce.Do(func() {
		graphSchema, graphSchemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(graphSchemaJSON))
	})
	return graphSchema, graphSchemaErr
}

// ValidateDocument checks raw JSON against the knowledge graph schema
func ValidateDocument(raw []byte) error {
	schema, err := loadGraphSchema()
	if err != nil {
		return fmt.Errorf("failed to load knowledge graph schema: %w", err)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return &ValidationError{Cause: err}
	}
	if result.Valid() {
		return nil
	}

	validationErr := &ValidationError{
		Errors: make([]FieldError, 0, len(result.Errors())),
	}
	for _, desc := range result.Errors() {
		field := desc.Field()
		if field == "" {
			field = "(root)"
		}
		validationErr.Errors = append(validationErr.Errors, FieldError{
			Field:   field,
			Message: desc.Description(),
		})
	}
	return validationErr
}

// ParseDocument validates raw JSON and decodes it into a normalized graph
func ParseDocument(raw []byte) (*types.KnowledgeGraph, error) {
	if err := ValidateDocument(raw); err != nil {
		return nil, err
	}
	kg := &types.KnowledgeGraph{}
	if err := json.Unmarshal(raw, kg); err != nil {
		return nil, &ValidationError{Cause: err}
	}
	kg.Normalize()
	return kg, nil
}

// ParseValue validates an already decoded value, as produced by LLM response extraction
func ParseValue(v any) (*types.KnowledgeGraph, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, &ValidationError{Cause: err}
	}
	return ParseDocument(raw)
}
