package memory

import (
	"fmt"
	"sort"
	"strings"
)

// PropertySpec describes one expected property of an entity kind.
type PropertySpec struct {
	Name        string
	Type        string
	Description string
}

// EntitySchema describes the expected shape of one entity kind. The registry
// is advisory: it guides extraction and completeness scoring but never
// rejects non-conforming data.
type EntitySchema struct {
	Description         string
	Properties          []PropertySpec
	CommonRelationships []string
}

// Completeness summarises how filled-in an entity is relative to its schema.
type Completeness struct {
	HasSchema  bool
	Filled     int
	Expected   int
	Percentage int
	Missing    []string
}

// entityKinds fixes the registry iteration order for prompts.
var entityKinds = []string{
	"person", "organization", "city", "country", "region",
	"product", "programming_language", "event", "landmark", "concept",
}

var entitySchemas = map[string]EntitySchema{
	"person": {
		Description: "An individual human being",
		Properties: []PropertySpec{
			{"first_name", "string", "First/given name"},
			{"last_name", "string", "Family/surname"},
			{"birth_year", "integer", "Year of birth"},
			{"birth_month", "string", "Month of birth (e.g., 'March')"},
			{"birth_day", "integer", "Day of birth (1-31)"},
			{"gender", "string", "Gender identity"},
			{"occupation", "string", "Primary profession or role"},
		},
		CommonRelationships: []string{
			"lives_in", "born_in", "works_at", "studied_at", "knows",
			"married_to", "friends_with", "parent_of", "child_of", "sibling_of",
		},
	},
	"organization": {
		Description: "A company, institution, or organized group",
		Properties: []PropertySpec{
			{"founded_year", "integer", "Year the organization was founded"},
			{"industry", "string", "Primary industry or sector"},
			{"description", "string", "Brief description of what the organization does"},
			{"website", "string", "Official website URL"},
		},
		CommonRelationships: []string{
			"headquartered_in", "founded_by", "part_of", "subsidiary_of", "competitor_of",
		},
	},
	"city": {
		Description: "A city or town",
		Properties: []PropertySpec{
			{"population", "integer", "Approximate population"},
			{"founded_year", "integer", "Year the city was founded"},
			{"timezone", "string", "Primary timezone"},
		},
		CommonRelationships: []string{"located_in", "capital_of", "part_of"},
	},
	"country": {
		Description: "A sovereign nation",
		Properties: []PropertySpec{
			{"population", "integer", "Approximate population"},
			{"official_language", "string", "Primary official language"},
			{"currency", "string", "Official currency"},
			{"government_type", "string", "Type of government"},
		},
		CommonRelationships: []string{"part_of", "borders", "member_of"},
	},
	"region": {
		Description: "A state, province, or geographic area",
		Properties: []PropertySpec{
			{"population", "integer", "Approximate population"},
			{"area_km2", "number", "Area in square kilometers"},
		},
		CommonRelationships: []string{"located_in", "part_of", "capital_is"},
	},
	"product": {
		Description: "A software application, physical product, or service",
		Properties: []PropertySpec{
			{"created_year", "integer", "Year the product was created/released"},
			{"version", "string", "Current version"},
			{"description", "string", "Brief description of the product"},
			{"license", "string", "License type (for software)"},
		},
		CommonRelationships: []string{"created_by", "owned_by", "part_of", "competes_with"},
	},
	"programming_language": {
		Description: "A programming or scripting language",
		Properties: []PropertySpec{
			{"created_year", "integer", "Year the language was created"},
			{"paradigm", "string", "Programming paradigm (e.g., 'object-oriented')"},
			{"typing", "string", "Type system (e.g., 'static', 'dynamic')"},
		},
		CommonRelationships: []string{"created_by", "influenced_by", "influenced"},
	},
	"event": {
		Description: "A meeting, conference, occurrence, or historical event",
		Properties: []PropertySpec{
			{"date", "string", "Date of the event (YYYY-MM-DD)"},
			{"year", "integer", "Year of the event"},
			{"description", "string", "Brief description of the event"},
		},
		CommonRelationships: []string{"occurred_in", "organized_by", "attended_by", "part_of"},
	},
	"landmark": {
		Description: "A notable building, monument, or geographic feature",
		Properties: []PropertySpec{
			{"built_year", "integer", "Year built/constructed"},
			{"height_meters", "number", "Height in meters"},
			{"description", "string", "Brief description"},
		},
		CommonRelationships: []string{"located_in", "built_by", "owned_by"},
	},
	"concept": {
		Description: "An abstract idea, topic, or field of study",
		Properties: []PropertySpec{
			{"description", "string", "Brief description of the concept"},
			{"field", "string", "Related field or domain"},
		},
		CommonRelationships: []string{"part_of", "related_to", "originated_from"},
	},
}

// SchemaFor returns the schema for an entity kind, case-insensitively.
func SchemaFor(kind string) (EntitySchema, bool) {
	s, ok := entitySchemas[strings.ToLower(kind)]
	return s, ok
}

// EntityKinds returns all registered entity kinds in registry order.
func EntityKinds() []string {
	out := make([]string, len(entityKinds))
	copy(out, entityKinds)
	return out
}

// ExpectedProperties returns the expected property names for a kind, or nil
// for an unregistered kind.
func ExpectedProperties(kind string) []string {
	s, ok := SchemaFor(kind)
	if !ok {
		return nil
	}
	out := make([]string, len(s.Properties))
	for i, p := range s.Properties {
		out[i] = p.Name
	}
	return out
}

// EntityCompleteness scores how many schema properties an entity has filled.
// Unregistered kinds score 100%.
func EntityCompleteness(kind string, props map[string]string) Completeness {
	expected := ExpectedProperties(kind)
	if len(expected) == 0 {
		return Completeness{Filled: len(props), Percentage: 100, Missing: []string{}}
	}
	var missing []string
	for _, name := range expected {
		if _, ok := props[name]; !ok {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	filled := len(expected) - len(missing)
	return Completeness{
		HasSchema:  true,
		Filled:     filled,
		Expected:   len(expected),
		Percentage: int(float64(filled)/float64(len(expected))*100 + 0.5),
		Missing:    missing,
	}
}

// SchemaForPrompt renders a compact one-line-per-kind summary for inclusion
// in system prompts.
func SchemaForPrompt() string {
	var b strings.Builder
	for _, kind := range entityKinds {
		s := entitySchemas[kind]
		props := make([]string, len(s.Properties))
		for i, p := range s.Properties {
			props[i] = p.Name
		}
		propsStr := strings.Join(props, ", ")
		if propsStr == "" {
			propsStr = "none defined"
		}
		rels := s.CommonRelationships
		relsStr := strings.Join(rels[:min(5, len(rels))], ", ")
		if len(rels) > 5 {
			relsStr += ", ..."
		}
		fmt.Fprintf(&b, "- **%s**: [%s] | relationships: [%s]\n", kind, propsStr, relsStr)
	}
	return b.String()
}
