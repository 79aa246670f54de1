package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
)

// LangChainAdapter bridges any langchaingo model to the Adapter contract,
// opening the engine to the providers that ecosystem covers (Ollama,
// Anthropic, Mistral, ...).
type LangChainAdapter struct {
	model llms.Model
}

var _ Adapter = (*LangChainAdapter)(nil)

// NewLangChainAdapter wraps a langchaingo model.
func NewLangChainAdapter(model llms.Model) *LangChainAdapter {
	return &LangChainAdapter{model: model}
}

// ChatCompletion implements Adapter.
func (a *LangChainAdapter) ChatCompletion(ctx context.Context, turns []Turn, tools []ToolSchema) (*Response, error) {
	messages := toLangChainMessages(turns)

	var opts []llms.CallOption
	if len(tools) > 0 {
		var defs []llms.Tool
		for _, t := range tools {
			defs = append(defs, llms.Tool{
				Type: t.Type,
				Function: &llms.FunctionDefinition{
					Name:        t.Function.Name,
					Description: t.Function.Description,
					Parameters:  t.Function.Parameters,
				},
			})
		}
		opts = append(opts, llms.WithTools(defs))
	}

	resp, err := a.model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("generate content: empty choice list")
	}

	choice := resp.Choices[0]
	out := &Response{Role: RoleAssistant, Content: choice.Content}
	for _, tc := range choice.ToolCalls {
		call := ToolCall{ID: tc.ID, Type: tc.Type}
		if tc.FunctionCall != nil {
			call.Function = Function{
				Name:      tc.FunctionCall.Name,
				Arguments: tc.FunctionCall.Arguments,
			}
		}
		out.ToolCalls = append(out.ToolCalls, call)
	}
	return out, nil
}

func toLangChainMessages(turns []Turn) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case RoleSystem:
			out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, t.Content))
		case RoleUser:
			out = append(out, llms.TextParts(llms.ChatMessageTypeHuman, t.Content))
		case RoleAssistant:
			msg := llms.MessageContent{Role: llms.ChatMessageTypeAI}
			if t.Content != "" {
				msg.Parts = append(msg.Parts, llms.TextPart(t.Content))
			}
			for _, tc := range t.ToolCalls {
				msg.Parts = append(msg.Parts, llms.ToolCall{
					ID:   tc.ID,
					Type: tc.Type,
					FunctionCall: &llms.FunctionCall{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				})
			}
			out = append(out, msg)
		case RoleTool:
			out = append(out, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{
					llms.ToolCallResponse{
						ToolCallID: t.ToolCallID,
						Content:    t.Content,
					},
				},
			})
		}
	}
	return out
}
