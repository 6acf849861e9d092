package oracle

import (
	"context"
	"errors"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Rogers-F/storyboard-engine/internal/config"
	"github.com/Rogers-F/storyboard-engine/internal/domain"
)

// OpenAI calls an OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI builds an OpenAI backend from cfg. BaseURL points it at any
// compatible server.
func NewOpenAI(cfg config.OracleConfig) *OpenAI {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return &OpenAI{client: openai.NewClientWithConfig(oc), model: cfg.Model}
}

// Call implements Client.
func (o *OpenAI) Call(ctx context.Context, req domain.GenerationRequest) (domain.OracleResponse, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}

	creq := openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: msgs,
	}
	if req.Shape.Kind == domain.ShapeStructured {
		schema, err := EnvelopeSchema(req.Shape)
		if err != nil {
			return Fail(domain.CauseTransport, 0, "", err)
		}
		creq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   req.Shape.Name,
				Schema: schema,
				Strict: true,
			},
		}
	}

	resp, err := o.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return Fail(domain.CauseEmptyBody, http.StatusOK, "", nil)
	}
	return Succeed(resp.Choices[0].Message.Content)
}

func classifyOpenAIError(err error) (domain.OracleResponse, error) {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return Fail(domain.CauseNon2xx, apiErr.HTTPStatusCode, apiErr.Message, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return Fail(domain.CauseNon2xx, reqErr.HTTPStatusCode, "", err)
	}
	return Fail(domain.CauseTransport, 0, "", err)
}
