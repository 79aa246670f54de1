package runtime

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/smallnest/agentgraphgo/memory"
)

// defaultAgentTemplate is the built-in system prompt registered under the
// name "agent". Node configs reference templates by name.
const defaultAgentTemplate = `You are {{.AgentName}}, an autonomous agent embedded in an agent graph.

Current date and time: {{.Timestamp}}.

You receive messages from users and from other agents, prefixed with the
sender's name in square brackets. Use your tools to think, remember, and act
before answering. Answer concisely and only when you have something to say.

When storing knowledge, prefer these entity kinds and properties:
{{.EntitySchemas}}`

// TemplateData is what system prompt templates are rendered with.
type TemplateData struct {
	AgentName     string
	Timestamp     string
	EntitySchemas string
}

// TemplateRegistry maps template names to parsed system prompt templates.
type TemplateRegistry struct {
	templates map[string]*template.Template
}

// NewTemplateRegistry creates a registry preloaded with the built-in "agent"
// template.
func NewTemplateRegistry() *TemplateRegistry {
	r := &TemplateRegistry{templates: make(map[string]*template.Template)}
	// The built-in template is known good.
	if err := r.Register("agent", defaultAgentTemplate); err != nil {
		panic(err)
	}
	return r
}

// Register parses and stores a template under the given name, replacing any
// previous one.
func (r *TemplateRegistry) Register(name, text string) error {
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return fmt.Errorf("parse template %q: %w", name, err)
	}
	r.templates[name] = tmpl
	return nil
}

// Has reports whether a template is registered.
func (r *TemplateRegistry) Has(name string) bool {
	_, ok := r.templates[name]
	return ok
}

// Render produces the system prompt for an agent. The timestamp and entity
// schema summary are filled in at call time, so each turn sees the current
// clock.
func (r *TemplateRegistry) Render(name, agentName string, now time.Time) (string, error) {
	tmpl, ok := r.templates[name]
	if !ok {
		return "", fmt.Errorf("template %q not registered", name)
	}
	var sb strings.Builder
	err := tmpl.Execute(&sb, TemplateData{
		AgentName:     agentName,
		Timestamp:     now.Format("Monday, 02 January 2006, 15:04"),
		EntitySchemas: memory.SchemaForPrompt(),
	})
	if err != nil {
		return "", fmt.Errorf("render template %q: %w", name, err)
	}
	return sb.String(), nil
}
