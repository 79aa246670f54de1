package graph

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Project is the durable unit of work: one design graph plus opaque
// speech-synthesis and speech-recognition settings the engine persists but
// never interprets.
type Project struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Graph       *AgentGraph     `json:"agent_graph"`
	TTSSettings json.RawMessage `json:"tts_settings,omitempty"`
	STTSettings json.RawMessage `json:"stt_settings,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// NewProject creates an empty named project.
func NewProject(name string) *Project {
	now := time.Now().UTC()
	return &Project{
		ID:        uuid.NewString(),
		Name:      name,
		Graph:     NewAgentGraph(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ExportJSON renders the project in the debugging export format, node
// configs embedded.
func (p *Project) ExportJSON() ([]byte, error) {
	return json.MarshalIndent(p, "", "  ")
}

// ImportProjectJSON parses a project from its export format.
func ImportProjectJSON(data []byte) (*Project, error) {
	var p Project
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	if p.Graph == nil {
		p.Graph = NewAgentGraph()
	}
	return &p, nil
}
