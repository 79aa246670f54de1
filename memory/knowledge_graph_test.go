package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/agentgraphgo/storage"
)

func seedGraph(t *testing.T) *KnowledgeGraph {
	t.Helper()
	ctx := context.Background()
	kg := NewKnowledgeGraph()
	require.NoError(t, kg.AddEntity(ctx, "Alice", map[string]string{"type": "person", "occupation": "engineer"}))
	require.NoError(t, kg.AddEntity(ctx, "Bob", map[string]string{"type": "person"}))
	require.NoError(t, kg.AddEntity(ctx, "Paris", map[string]string{"type": "city", "population": "2100000"}))
	require.NoError(t, kg.AddEntity(ctx, "France", map[string]string{"type": "country"}))
	require.NoError(t, kg.AddEntity(ctx, "Lyon", map[string]string{"type": "city", "population": "520000"}))
	require.NoError(t, kg.AddRelationship(ctx, "Alice", "knows", "Bob", nil))
	require.NoError(t, kg.AddRelationship(ctx, "Alice", "lives_in", "Paris", nil))
	require.NoError(t, kg.AddRelationship(ctx, "Paris", "capital_of", "France", nil))
	require.NoError(t, kg.AddRelationship(ctx, "Lyon", "located_in", "France", nil))
	return kg
}

func TestAddEntityDuplicate(t *testing.T) {
	ctx := context.Background()
	kg := NewKnowledgeGraph()
	require.NoError(t, kg.AddEntity(ctx, "Alice", nil))
	err := kg.AddEntity(ctx, "Alice", nil)
	assert.True(t, storage.IsDuplicateEntity(err))
}

func TestAddRelationshipErrors(t *testing.T) {
	ctx := context.Background()
	kg := NewKnowledgeGraph()
	require.NoError(t, kg.AddEntity(ctx, "Alice", nil))

	err := kg.AddRelationship(ctx, "Alice", "knows", "Ghost", nil)
	assert.True(t, storage.IsEntityNotFound(err))

	require.NoError(t, kg.AddEntity(ctx, "Bob", nil))
	require.NoError(t, kg.AddRelationship(ctx, "Alice", "knows", "Bob", nil))
	err = kg.AddRelationship(ctx, "Alice", "knows", "Bob", nil)
	assert.True(t, storage.IsDuplicateRelationship(err))
}

func TestRemoveEntityDropsIncidentRelationships(t *testing.T) {
	kg := seedGraph(t)
	require.NoError(t, kg.RemoveEntity(context.Background(), "Alice"))

	assert.Nil(t, kg.GetEntity("Alice"))
	for _, r := range kg.Relationships("") {
		assert.NotEqual(t, "Alice", r.From)
		assert.NotEqual(t, "Alice", r.To)
	}
	entities, rels := kg.Len()
	assert.Equal(t, 4, entities)
	assert.Equal(t, 2, rels)
}

func TestPropertyMutations(t *testing.T) {
	ctx := context.Background()
	kg := seedGraph(t)

	require.NoError(t, kg.SetEntityProperty(ctx, "Bob", "occupation", "writer"))
	assert.Equal(t, "writer", kg.GetEntity("Bob").Properties["occupation"])

	require.NoError(t, kg.RemoveEntityProperty(ctx, "Bob", "occupation"))
	_, ok := kg.GetEntity("Bob").Properties["occupation"]
	assert.False(t, ok)

	require.NoError(t, kg.SetRelationshipProperty(ctx, "Alice", "knows", "Bob", "since", "2019"))
	rels := kg.FindRelationshipsByType("knows")
	require.Len(t, rels, 1)
	assert.Equal(t, "2019", rels[0].Properties["since"])

	require.NoError(t, kg.RemoveRelationship(ctx, "Alice", "knows", "Bob"))
	assert.Empty(t, kg.FindRelationshipsByType("knows"))
}

func TestFindPath(t *testing.T) {
	kg := seedGraph(t)
	// Paths are undirected: Bob -> Alice -> Paris -> France.
	assert.Equal(t, []string{"Bob", "Alice", "Paris", "France"}, kg.FindPath("Bob", "France"))
	assert.Equal(t, []string{"Alice"}, kg.FindPath("Alice", "Alice"))
	assert.Nil(t, kg.FindPath("Alice", "Ghost"))

	require.NoError(t, kg.AddEntity(context.Background(), "Island", nil))
	assert.Nil(t, kg.FindPath("Alice", "Island"))
}

func TestFindAllPaths(t *testing.T) {
	ctx := context.Background()
	kg := seedGraph(t)
	// Add a second route Alice -> France.
	require.NoError(t, kg.AddRelationship(ctx, "Alice", "visited", "France", nil))

	paths := kg.FindAllPaths("Alice", "France", 4)
	require.Len(t, paths, 2)
	assert.Contains(t, paths, []string{"Alice", "France"})
	assert.Contains(t, paths, []string{"Alice", "Paris", "France"})
}

func TestNeighbors(t *testing.T) {
	kg := seedGraph(t)
	assert.Equal(t, []string{"Bob", "Paris"}, kg.Neighbors("Alice", DirectionOut, ""))
	assert.Equal(t, []string{"Paris"}, kg.Neighbors("Alice", DirectionOut, "lives_in"))
	assert.Equal(t, []string{"Alice"}, kg.Neighbors("Paris", DirectionIn, ""))
	assert.Equal(t, []string{"Alice", "France"}, kg.Neighbors("Paris", DirectionBoth, ""))
}

func TestConnectedWithin(t *testing.T) {
	kg := seedGraph(t)
	assert.Equal(t, []string{"Bob", "Paris"}, kg.ConnectedWithin("Alice", 1))
	assert.Equal(t, []string{"Bob", "France", "Paris"}, kg.ConnectedWithin("Alice", 2))
	assert.Equal(t, []string{"Bob", "France", "Lyon", "Paris"}, kg.ConnectedWithin("Alice", 3))
}

func TestMostConnectedAndIsolated(t *testing.T) {
	kg := seedGraph(t)
	require.NoError(t, kg.AddEntity(context.Background(), "Island", nil))

	top := kg.MostConnected(2)
	require.Len(t, top, 2)
	// Alice, Paris and France all have degree 2; ties break by name.
	assert.Equal(t, DegreeCount{Name: "Alice", Degree: 2}, top[0])
	assert.Equal(t, DegreeCount{Name: "France", Degree: 2}, top[1])

	assert.Equal(t, []string{"Island"}, kg.IsolatedEntities())
	assert.False(t, kg.IsConnected())

	comps := kg.ConnectedComponents()
	require.Len(t, comps, 2)
	assert.Equal(t, []string{"Alice", "Bob", "France", "Lyon", "Paris"}, comps[0])
	assert.Equal(t, []string{"Island"}, comps[1])
}

func TestFindEntitiesByTypeAndProperty(t *testing.T) {
	kg := seedGraph(t)
	assert.Equal(t, []string{"Lyon", "Paris"}, kg.FindEntitiesByType("city"))

	assert.Equal(t, []string{"Alice"}, kg.FindEntitiesByProperty("occupation", "", OpExists))
	assert.Equal(t, []string{"Alice"}, kg.FindEntitiesByProperty("occupation", "ENGINEER", OpContains))
	assert.Equal(t, []string{"Paris"}, kg.FindEntitiesByProperty("population", "1000000", OpGreaterThan))
	assert.Equal(t, []string{"Lyon"}, kg.FindEntitiesByProperty("population", "1000000", OpLessThan))
}

func TestSubgraph(t *testing.T) {
	kg := seedGraph(t)
	sub := kg.Subgraph([]string{"Alice", "Paris", "France"})
	entities, rels := sub.Len()
	assert.Equal(t, 3, entities)
	assert.Equal(t, 2, rels)
	assert.Nil(t, sub.GetEntity("Bob"))
}

func TestLoadKnowledgeGraphFromSnapshot(t *testing.T) {
	snap := &storage.KGSnapshot{
		ID: 7,
		Entities: []storage.EntityRecord{
			{ID: 1, Name: "Alice", Properties: map[string]string{"type": "person"}},
			{ID: 2, Name: "Paris", Properties: map[string]string{"type": "city"}},
		},
		Relationships: []storage.RelationshipRecord{
			{ID: 1, From: "Alice", Type: "lives_in", To: "Paris", Properties: map[string]string{}},
		},
	}
	kg := LoadKnowledgeGraph(snap)
	assert.Equal(t, int64(7), kg.StorageID())
	assert.Equal(t, []string{"Alice", "Paris"}, kg.FindPath("Alice", "Paris"))

	empty := LoadKnowledgeGraph(nil)
	entities, rels := empty.Len()
	assert.Zero(t, entities)
	assert.Zero(t, rels)
}
