package llm

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/smallnest/agentgraphgo/storage"
)

// OpenAIAdapter speaks the OpenAI-compatible chat completion API. It works
// against api.openai.com as well as local OpenAI-compatible servers (LM
// Studio, llama.cpp, vLLM) via the base URL.
type OpenAIAdapter struct {
	client *openai.Client
	model  string
}

var _ Adapter = (*OpenAIAdapter)(nil)

// NewOpenAIAdapter creates an adapter for the given model. baseURL may be
// empty for the default endpoint.
func NewOpenAIAdapter(model, baseURL, apiKey string) *OpenAIAdapter {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIAdapter{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// NewOpenAIAdapterWithClient wraps an existing client; used by tests.
func NewOpenAIAdapterWithClient(client *openai.Client, model string) *OpenAIAdapter {
	return &OpenAIAdapter{client: client, model: model}
}

// ChatCompletion implements Adapter.
func (a *OpenAIAdapter) ChatCompletion(ctx context.Context, turns []Turn, tools []ToolSchema) (*Response, error) {
	req := openai.ChatCompletionRequest{
		Model:    a.model,
		Messages: toOpenAIMessages(turns),
		Tools:    toOpenAITools(tools),
	}
	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion: empty choice list")
	}
	return fromOpenAIMessage(resp.Choices[0].Message), nil
}

func toOpenAIMessages(turns []Turn) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(turns))
	for _, t := range turns {
		msg := openai.ChatCompletionMessage{
			Role:       t.Role,
			Content:    t.Content,
			ToolCallID: t.ToolCallID,
		}
		for _, tc := range t.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		out = append(out, msg)
	}
	return out
}

func toOpenAITools(tools []ToolSchema) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			},
		})
	}
	return out
}

func fromOpenAIMessage(msg openai.ChatCompletionMessage) *Response {
	resp := &Response{
		Role:      RoleAssistant,
		Content:   msg.Content,
		Reasoning: msg.ReasoningContent,
	}
	for _, tc := range msg.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{
			ID:   tc.ID,
			Type: string(tc.Type),
			Function: Function{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return resp
}

// OpenAIEmbedder computes embeddings through the same API family. It
// requests vectors at the engine's fixed dimension.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
}

// NewOpenAIEmbedder creates an embedder for the given embedding model.
func NewOpenAIEmbedder(model, baseURL, apiKey string) *OpenAIEmbedder {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// Dimension returns the engine's fixed embedding dimension.
func (e *OpenAIEmbedder) Dimension() int { return storage.EmbeddingDim }

// Embed returns the embedding vector for text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{text},
		Model:      openai.EmbeddingModel(e.model),
		Dimensions: storage.EmbeddingDim,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("create embedding: empty response")
	}
	return resp.Data[0].Embedding, nil
}
