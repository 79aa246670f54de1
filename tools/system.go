package tools

import (
	"context"
	"time"

	"github.com/smallnest/agentgraphgo/llm"
	"github.com/smallnest/agentgraphgo/memory"
)

// nowFunc is swapped out by tests.
var nowFunc = time.Now

func getDateTime() *Definition {
	return &Definition{
		Name:        "get_date_time",
		Description: "Get the current date and time",
		Parameters:  llm.Parameters{Type: "object", Properties: map[string]llm.Property{}},
		Run: func(ctx context.Context, host Host, args map[string]any) (string, error) {
			return nowFunc().Format("Monday, 02 January 2006, 15:04"), nil
		},
	}
}

func wait() *Definition {
	return &Definition{
		Name: "wait",
		Description: "Do nothing this step. Use this when there is nothing useful to do " +
			"and you are waiting for new input or a scheduled event.",
		Parameters: llm.Parameters{Type: "object", Properties: map[string]llm.Property{}},
		Run: func(ctx context.Context, host Host, args map[string]any) (string, error) {
			return "Waiting.", nil
		},
	}
}

func reason() *Definition {
	return &Definition{
		Name: "reason",
		Description: "Think through a problem step by step before acting. " +
			"The thought is recorded and echoed back to you.",
		Parameters: llm.Parameters{
			Type: "object",
			Properties: map[string]llm.Property{
				"thought": {Type: "string", Description: "Your reasoning about the current situation"},
			},
			Required: []string{"thought"},
		},
		Run: func(ctx context.Context, host Host, args map[string]any) (string, error) {
			return stringArg(args, "thought"), nil
		},
	}
}

func selfReflect() *Definition {
	return &Definition{
		Name: "self_reflect",
		Description: "Record an insight about your own behaviour or knowledge. " +
			"Reflections are stored in your memory stream with high importance.",
		Parameters: llm.Parameters{
			Type: "object",
			Properties: map[string]llm.Property{
				"insight": {Type: "string", Description: "The insight to remember"},
			},
			Required: []string{"insight"},
		},
		Run: func(ctx context.Context, host Host, args map[string]any) (string, error) {
			insight := stringArg(args, "insight")
			if ms := host.Memory(); ms != nil {
				msg := llm.Message{Role: llm.RoleAssistant, Content: insight}
				if err := ms.Add(ctx, memory.ContentMessage, msg, 0.8); err != nil {
					return "", err
				}
				return "Reflection stored.", nil
			}
			return insight, nil
		},
	}
}
