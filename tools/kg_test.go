package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/agentgraphgo/memory"
)

func newKGHost(t *testing.T) (*stubHost, *Toolbox) {
	t.Helper()
	r := NewRegistry()
	tb, err := r.Build([]string{"knowledge_extractor"})
	require.NoError(t, err)
	return &stubHost{name: "ada", kg: memory.NewKnowledgeGraph()}, tb
}

func invoke(t *testing.T, tb *Toolbox, host Host, name, args string) string {
	t.Helper()
	out, err := tb.Invoke(context.Background(), host, name, args)
	require.NoError(t, err)
	return out
}

func TestKGEntityAndRelationshipTools(t *testing.T) {
	host, tb := newKGHost(t)

	out := invoke(t, tb, host, "kg_add_entity", `{"name":"Alice","type":"person"}`)
	assert.Equal(t, "Entity 'Alice' added successfully.", out)
	invoke(t, tb, host, "kg_add_entity", `{"name":"Paris","type":"city"}`)
	invoke(t, tb, host, "kg_add_relationship", `{"entity1":"Alice","relationship":"lives_in","entity2":"Paris"}`)

	out = invoke(t, tb, host, "kg_get_entity", `{"entity":"Alice"}`)
	assert.Contains(t, out, `"name":"Alice"`)
	assert.Contains(t, out, `"type":"person"`)

	out = invoke(t, tb, host, "kg_get_relationships", `{"entity":"Alice"}`)
	assert.Contains(t, out, "lives_in")

	out = invoke(t, tb, host, "kg_find_path", `{"entity1":"Alice","entity2":"Paris"}`)
	assert.Equal(t, `["Alice","Paris"]`, out)

	ents, rels := host.kg.Len()
	assert.Equal(t, 2, ents)
	assert.Equal(t, 1, rels)
}

func TestKGPropertyTools(t *testing.T) {
	host, tb := newKGHost(t)
	invoke(t, tb, host, "kg_add_entity", `{"name":"Alice","type":"person"}`)

	invoke(t, tb, host, "kg_add_property", `{"entity":"Alice","property":"age","value":"34"}`)
	out := invoke(t, tb, host, "kg_get_entity", `{"entity":"Alice"}`)
	assert.Contains(t, out, `"age":"34"`)

	invoke(t, tb, host, "kg_remove_entity_property", `{"entity":"Alice","property":"age"}`)
	out = invoke(t, tb, host, "kg_get_entity", `{"entity":"Alice"}`)
	assert.NotContains(t, out, "age")
}

func TestKGRelationshipPropertyTools(t *testing.T) {
	host, tb := newKGHost(t)
	invoke(t, tb, host, "kg_add_entity", `{"name":"Alice","type":"person"}`)
	invoke(t, tb, host, "kg_add_entity", `{"name":"Acme","type":"organization"}`)
	invoke(t, tb, host, "kg_add_relationship", `{"entity1":"Alice","relationship":"works_at","entity2":"Acme"}`)

	invoke(t, tb, host, "kg_add_relationship_property",
		`{"entity1":"Alice","relationship":"works_at","entity2":"Acme","property":"since","value":"2020"}`)
	out := invoke(t, tb, host, "kg_get_relationship",
		`{"entity1":"Alice","relationship":"works_at","entity2":"Acme"}`)
	assert.Contains(t, out, `"since":"2020"`)

	invoke(t, tb, host, "kg_remove_relationship_property",
		`{"entity1":"Alice","relationship":"works_at","entity2":"Acme","property":"since"}`)
	out = invoke(t, tb, host, "kg_get_relationship",
		`{"entity1":"Alice","relationship":"works_at","entity2":"Acme"}`)
	assert.NotContains(t, out, "since")
}

func TestKGRemovalTools(t *testing.T) {
	host, tb := newKGHost(t)
	invoke(t, tb, host, "kg_add_entity", `{"name":"Alice","type":"person"}`)
	invoke(t, tb, host, "kg_add_entity", `{"name":"Paris","type":"city"}`)
	invoke(t, tb, host, "kg_add_relationship", `{"entity1":"Alice","relationship":"lives_in","entity2":"Paris"}`)

	invoke(t, tb, host, "kg_remove_relationship", `{"entity1":"Alice","relationship":"lives_in","entity2":"Paris"}`)
	_, rels := host.kg.Len()
	assert.Equal(t, 0, rels)

	invoke(t, tb, host, "kg_remove_entity", `{"entity":"Paris"}`)
	ents, _ := host.kg.Len()
	assert.Equal(t, 1, ents)
}

func TestKGQueryTools(t *testing.T) {
	host, tb := newKGHost(t)
	invoke(t, tb, host, "kg_add_entity", `{"name":"Alice","type":"person"}`)
	invoke(t, tb, host, "kg_add_entity", `{"name":"Bob","type":"person"}`)
	invoke(t, tb, host, "kg_add_entity", `{"name":"Paris","type":"city"}`)
	invoke(t, tb, host, "kg_add_entity", `{"name":"Ghost","type":"person"}`)
	invoke(t, tb, host, "kg_add_relationship", `{"entity1":"Alice","relationship":"knows","entity2":"Bob"}`)
	invoke(t, tb, host, "kg_add_relationship", `{"entity1":"Alice","relationship":"lives_in","entity2":"Paris"}`)

	out := invoke(t, tb, host, "kg_find_by_type", `{"entity_type":"person"}`)
	assert.Equal(t, `["Alice","Bob","Ghost"]`, out)

	out = invoke(t, tb, host, "kg_find_by_property", `{"property":"type","value":"city","operator":"eq"}`)
	assert.Equal(t, `["Paris"]`, out)

	out = invoke(t, tb, host, "kg_find_relationships_by_type", `{"relationship_type":"knows"}`)
	assert.Contains(t, out, `"to":"Bob"`)

	out = invoke(t, tb, host, "kg_get_neighbors", `{"entity":"Alice","direction":"outgoing"}`)
	assert.Equal(t, `["Bob","Paris"]`, out)

	out = invoke(t, tb, host, "kg_get_connected", `{"entity":"Bob","max_depth":2}`)
	assert.Contains(t, out, "Paris")

	out = invoke(t, tb, host, "kg_most_connected", `{"n":1}`)
	assert.Contains(t, out, `"entity":"Alice"`)
	assert.Contains(t, out, `"connections":2`)

	out = invoke(t, tb, host, "kg_isolated_entities", `{}`)
	assert.Equal(t, `["Ghost"]`, out)

	out = invoke(t, tb, host, "kg_check_connectivity", `{}`)
	assert.Contains(t, out, `"is_connected":false`)
	assert.Contains(t, out, `"num_components":2`)
}

func TestKGToolsWithoutGraphBound(t *testing.T) {
	_, tb := newKGHost(t)
	bare := &stubHost{name: "ada"}
	_, err := tb.Invoke(context.Background(), bare, "kg_add_entity", `{"name":"x","type":"y"}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no knowledge graph")
}

func TestKGDuplicateEntitySurfacesError(t *testing.T) {
	host, tb := newKGHost(t)
	invoke(t, tb, host, "kg_add_entity", `{"name":"Alice","type":"person"}`)
	_, err := tb.Invoke(context.Background(), host, "kg_add_entity", `{"name":"Alice","type":"person"}`)
	require.Error(t, err)
}
