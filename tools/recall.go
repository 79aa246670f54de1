package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/smallnest/agentgraphgo/llm"
	"github.com/smallnest/agentgraphgo/memory"
)

var errNoMemoryStream = fmt.Errorf("no memory stream is bound to this agent")

func recall() *Definition {
	return &Definition{
		Name: "recall",
		Description: "Retrieve a list of memories that relate to the search query. " +
			"You can specify a date range to retrieve memories from.",
		Parameters: llm.Parameters{
			Type: "object",
			Properties: map[string]llm.Property{
				"query":     {Type: "string", Description: "The query the memories are similar to"},
				"k":         {Type: "integer", Description: "Number of memories to retrieve"},
				"from_date": {Type: "string", Description: "Only retrieve memories created on or after this date (ISO format)"},
				"to_date":   {Type: "string", Description: "Only retrieve memories created on or before this date (ISO format)"},
			},
			Required: []string{"query", "k"},
		},
		Run: func(ctx context.Context, host Host, args map[string]any) (string, error) {
			ms := host.Memory()
			if ms == nil {
				return "", errNoMemoryStream
			}
			obs, err := ms.Retrieve(ctx, stringArg(args, "query"), intArg(args, "k", 5),
				timeArg(args, "from_date"), timeArg(args, "to_date"))
			if err != nil {
				return "", err
			}
			if len(obs) == 0 {
				return "No matching memories found.", nil
			}
			return formatObservations(obs), nil
		},
	}
}

// formatObservations renders memories oldest first, one per line, with the
// creation timestamp so the model can reason about when things happened.
func formatObservations(obs []memory.Observation) string {
	var sb strings.Builder
	for i, o := range obs {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(fmt.Sprintf("[%s] %s", o.Created.Format("2006-01-02 15:04"), observationText(&o)))
	}
	return sb.String()
}

func observationText(o *memory.Observation) string {
	switch o.ContentKind {
	case memory.ContentMessage:
		var m llm.Message
		if err := json.Unmarshal(o.Content, &m); err == nil {
			return m.Content
		}
	case memory.ContentToolResult:
		var tr llm.ToolResult
		if err := json.Unmarshal(o.Content, &tr); err == nil {
			return "tool result: " + tr.Content
		}
	case memory.ContentLLMResponse:
		var r llm.Response
		if err := json.Unmarshal(o.Content, &r); err == nil {
			return r.Content
		}
	}
	return string(o.Content)
}
