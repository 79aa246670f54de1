package tools

import (
	"fmt"
	"net/http"
	"time"
)

// Registry holds every built-in tool plus the shared clients web tools run
// through, and builds toolboxes from name lists or presets.
type Registry struct {
	defs  map[string]*Definition
	order []string

	httpClient   *http.Client
	search       *BraveClient
	wikipediaAPI string
}

type RegistryOption func(*Registry)

// WithHTTPClient sets the client used by read_website and the wikipedia
// tools.
func WithHTTPClient(client *http.Client) RegistryOption {
	return func(r *Registry) {
		r.httpClient = client
	}
}

// WithSearchClient enables search_web and search_news through the given
// Brave client.
func WithSearchClient(client *BraveClient) RegistryOption {
	return func(r *Registry) {
		r.search = client
	}
}

// WithWikipediaAPI overrides the MediaWiki endpoint; used by tests.
func WithWikipediaAPI(baseURL string) RegistryOption {
	return func(r *Registry) {
		r.wikipediaAPI = baseURL
	}
}

// Presets are the predefined tool sets agents can be configured with by a
// single name.
var Presets = map[string][]string{
	"minimal": {
		"wait", "reason", "get_date_time",
	},
	"standard": {
		"wait", "reason", "self_reflect", "get_date_time",
		"recall", "search_web", "read_website",
	},
	"research": {
		"wait", "reason", "self_reflect", "get_date_time",
		"recall", "search_web", "search_news", "read_website",
		"search_wikipedia", "wikipedia_summary",
	},
	"knowledge_extractor": {
		"wait", "reason", "get_date_time", "recall",
		"kg_add_entity", "kg_add_property", "kg_add_relationship",
		"kg_get_entity", "kg_get_relationships",
		"kg_remove_relationship", "kg_remove_entity", "kg_remove_entity_property",
		"kg_add_relationship_property", "kg_get_relationship", "kg_remove_relationship_property",
		"kg_find_by_type", "kg_find_by_property", "kg_find_relationships_by_type",
		"kg_get_neighbors", "kg_find_path", "kg_get_connected",
		"kg_most_connected", "kg_isolated_entities", "kg_check_connectivity",
	},
	// "full" is resolved against the registry's full tool list at build time.
	"full": nil,
}

// NewRegistry builds the registry of built-in tools.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		defs:         make(map[string]*Definition),
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		wikipediaAPI: defaultWikipediaAPI,
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, d := range []*Definition{
		// System
		getDateTime(),
		wait(),
		reason(),
		selfReflect(),

		// Web
		r.readWebsite(),
		r.searchWeb(),
		r.searchNews(),

		// Wikipedia
		r.searchWikipedia(),
		r.wikipediaSummaryTool(),

		// Knowledge graph
		kgAddEntity(),
		kgAddProperty(),
		kgAddRelationship(),
		kgGetEntity(),
		kgGetRelationships(),
		kgRemoveRelationship(),
		kgRemoveEntity(),
		kgRemoveEntityProperty(),
		kgAddRelationshipProperty(),
		kgGetRelationship(),
		kgRemoveRelationshipProperty(),
		kgFindByType(),
		kgFindByProperty(),
		kgFindRelationshipsByType(),
		kgGetNeighbors(),
		kgFindPath(),
		kgGetConnected(),
		kgMostConnected(),
		kgIsolatedEntities(),
		kgCheckConnectivity(),

		// Memory stream
		recall(),
	} {
		r.register(d)
	}
	return r
}

func (r *Registry) register(d *Definition) {
	if _, ok := r.defs[d.Name]; ok {
		return
	}
	r.defs[d.Name] = d
	r.order = append(r.order, d.Name)
}

// Get returns the named definition, or nil.
func (r *Registry) Get(name string) *Definition { return r.defs[name] }

// Names returns all tool names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// PresetNames returns the available preset names.
func PresetNames() []string {
	return []string{"minimal", "standard", "research", "knowledge_extractor", "full"}
}

// Resolve expands a tool-name list: a single element naming a preset expands
// to that preset's tools, anything else passes through unchanged.
func (r *Registry) Resolve(names []string) []string {
	if len(names) == 1 {
		if names[0] == "full" {
			return r.Names()
		}
		if preset, ok := Presets[names[0]]; ok {
			return preset
		}
	}
	return names
}

// Build creates a toolbox from a list of tool names or a single preset name.
// Unknown names are an error.
func (r *Registry) Build(names []string) (*Toolbox, error) {
	tb := NewToolbox()
	for _, name := range r.Resolve(names) {
		d, ok := r.defs[name]
		if !ok {
			return nil, fmt.Errorf("unknown tool: %s", name)
		}
		tb.Add(d)
	}
	return tb, nil
}
