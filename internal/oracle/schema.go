package oracle

import (
	"encoding/json"
	"fmt"

	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/Rogers-F/storyboard-engine/internal/domain"
)

// arraySchema adds item bounds, which jsonschema.Definition does not carry.
type arraySchema struct {
	Type     jsonschema.DataType   `json:"type"`
	Items    jsonschema.Definition `json:"items"`
	MinItems int                   `json:"minItems"`
	MaxItems int                   `json:"maxItems"`
}

type envelopeSchema struct {
	Type                 jsonschema.DataType    `json:"type"`
	Properties           map[string]arraySchema `json:"properties"`
	Required             []string               `json:"required"`
	AdditionalProperties bool                   `json:"additionalProperties"`
}

// itemDefinition describes one structured item with every field required.
func itemDefinition(fields []domain.ItemField) jsonschema.Definition {
	def := jsonschema.Definition{
		Type:                 jsonschema.Object,
		Properties:           make(map[string]jsonschema.Definition, len(fields)),
		AdditionalProperties: false,
	}
	for _, f := range fields {
		switch f.Kind {
		case domain.FieldStringArray:
			def.Properties[f.Name] = jsonschema.Definition{
				Type:  jsonschema.Array,
				Items: &jsonschema.Definition{Type: jsonschema.String},
			}
		default:
			def.Properties[f.Name] = jsonschema.Definition{Type: jsonschema.String}
		}
		def.Required = append(def.Required, f.Name)
	}
	return def
}

// EnvelopeSchema renders the JSON schema of a structured shape: an object
// whose single array property holds exactly shape.Count items.
func EnvelopeSchema(shape domain.OutputShape) (json.RawMessage, error) {
	if shape.Name == "" {
		return nil, fmt.Errorf("structured shape has no name")
	}
	n := shape.Count
	if n < 1 {
		n = 1
	}
	s := envelopeSchema{
		Type: jsonschema.Object,
		Properties: map[string]arraySchema{
			shape.Name: {
				Type:     jsonschema.Array,
				Items:    itemDefinition(shape.Fields),
				MinItems: n,
				MaxItems: n,
			},
		},
		Required:             []string{shape.Name},
		AdditionalProperties: false,
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope schema: %w", err)
	}
	return json.RawMessage(b), nil
}
