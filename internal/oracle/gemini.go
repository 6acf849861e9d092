package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/Rogers-F/storyboard-engine/internal/config"
	"github.com/Rogers-F/storyboard-engine/internal/domain"
)

// Gemini calls the Gemini API through the genai SDK.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini builds a Gemini backend from cfg.
func NewGemini(ctx context.Context, cfg config.OracleConfig) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Gemini{client: client, model: cfg.Model}, nil
}

// Call implements Client.
func (g *Gemini) Call(ctx context.Context, req domain.GenerationRequest) (domain.OracleResponse, error) {
	var system []string
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case domain.RoleSystem:
			system = append(system, m.Content)
		case domain.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}

	gcfg := &genai.GenerateContentConfig{}
	if len(system) > 0 {
		gcfg.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}
	if req.Shape.Kind == domain.ShapeStructured {
		gcfg.ResponseMIMEType = "application/json"
		gcfg.ResponseSchema = geminiSchema(req.Shape)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, gcfg)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) && apiErr.Code != 0 {
			return Fail(domain.CauseNon2xx, apiErr.Code, apiErr.Message, err)
		}
		return Fail(domain.CauseTransport, 0, "", err)
	}
	return Succeed(resp.Text())
}

func geminiSchema(shape domain.OutputShape) *genai.Schema {
	n := int64(shape.Count)
	if n < 1 {
		n = 1
	}
	item := &genai.Schema{
		Type:       genai.TypeObject,
		Properties: make(map[string]*genai.Schema, len(shape.Fields)),
	}
	for _, f := range shape.Fields {
		switch f.Kind {
		case domain.FieldStringArray:
			item.Properties[f.Name] = &genai.Schema{
				Type:  genai.TypeArray,
				Items: &genai.Schema{Type: genai.TypeString},
			}
		default:
			item.Properties[f.Name] = &genai.Schema{Type: genai.TypeString}
		}
		item.Required = append(item.Required, f.Name)
	}
	minItems, maxItems := n, n
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			shape.Name: {
				Type:     genai.TypeArray,
				Items:    item,
				MinItems: &minItems,
				MaxItems: &maxItems,
			},
		},
		Required: []string{shape.Name},
	}
}
