package sqlite

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/agentgraphgo/graph"
	"github.com/smallnest/agentgraphgo/storage"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := NewBackend(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func testEmbedding(seed int) []float32 {
	vec := make([]float32, storage.EmbeddingDim)
	vec[seed%storage.EmbeddingDim] = 1
	return vec
}

func TestProjectRoundTrip(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	p := graph.NewProject("demo")
	in := graph.NewNode(graph.NodeTextInput, graph.NodeConfig{})
	agent := graph.NewNode(graph.NodeAgent, graph.NodeConfig{Name: "scout", Model: "qwen3"})
	p.Graph.AddNode(in)
	p.Graph.AddNode(agent)
	p.Graph.AddEdge(graph.NewEdge(graph.EdgeMessage, in.ID, "message_out", agent.ID, "message_in"))
	p.TTSSettings = json.RawMessage(`{"voice":"af_bella"}`)

	require.NoError(t, b.SaveProject(ctx, p))

	got, err := b.GetProject(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "demo", got.Name)
	require.Len(t, got.Graph.Nodes, 2)
	assert.Equal(t, graph.NodeTextInput, got.Graph.Nodes[0].Kind)
	assert.Equal(t, "scout", got.Graph.Nodes[1].Config.Name)
	assert.Equal(t, "qwen3", got.Graph.Nodes[1].Config.Model)
	require.Len(t, got.Graph.Edges, 1)
	assert.Equal(t, graph.EdgeMessage, got.Graph.Edges[0].Kind)
	assert.JSONEq(t, `{"voice":"af_bella"}`, string(got.TTSSettings))

	exists, err := b.ProjectExists(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, exists)

	infos, err := b.ListProjects(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, p.ID, infos[0].ID)
}

func TestSaveProjectReplacesGraph(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	p := graph.NewProject("demo")
	a := graph.NewNode(graph.NodeAgent, graph.NodeConfig{Name: "a"})
	p.Graph.AddNode(a)
	require.NoError(t, b.SaveProject(ctx, p))

	p.Graph.RemoveNode(a.ID)
	other := graph.NewNode(graph.NodeAgent, graph.NodeConfig{Name: "b"})
	p.Graph.AddNode(other)
	require.NoError(t, b.SaveProject(ctx, p))

	got, err := b.GetProject(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, got.Graph.Nodes, 1)
	assert.Equal(t, "b", got.Graph.Nodes[0].Config.Name)
	assert.True(t, got.UpdatedAt.After(got.CreatedAt) || got.UpdatedAt.Equal(got.CreatedAt))
}

func TestGetProjectMissingReturnsNil(t *testing.T) {
	b := newTestBackend(t)
	got, err := b.GetProject(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestKGEnsureIdempotent(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	p := graph.NewProject("demo")
	require.NoError(t, b.SaveProject(ctx, p))

	id1, err := b.KGEnsure(ctx, p.ID, "kg-node")
	require.NoError(t, err)
	id2, err := b.KGEnsure(ctx, p.ID, "kg-node")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}

func TestKGEntityRoundTrip(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	p := graph.NewProject("demo")
	require.NoError(t, b.SaveProject(ctx, p))
	kgID, err := b.KGEnsure(ctx, p.ID, "kg-node")
	require.NoError(t, err)

	_, err = b.KGAddEntity(ctx, kgID, "Alice", map[string]string{"type": "person"})
	require.NoError(t, err)
	_, err = b.KGAddEntity(ctx, kgID, "Paris", map[string]string{"type": "city"})
	require.NoError(t, err)
	_, err = b.KGAddRelationship(ctx, kgID, "Alice", "lives_in", "Paris", nil)
	require.NoError(t, err)

	snap, err := b.KGLoadFull(ctx, p.ID, "kg-node")
	require.NoError(t, err)
	require.NotNil(t, snap)
	require.Len(t, snap.Entities, 2)
	assert.Equal(t, "Alice", snap.Entities[0].Name)
	assert.Equal(t, map[string]string{"type": "person"}, snap.Entities[0].Properties)
	require.Len(t, snap.Relationships, 1)
	assert.Equal(t, "Alice", snap.Relationships[0].From)
	assert.Equal(t, "lives_in", snap.Relationships[0].Type)
	assert.Equal(t, "Paris", snap.Relationships[0].To)
}

func TestKGDuplicateAndMissing(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	p := graph.NewProject("demo")
	require.NoError(t, b.SaveProject(ctx, p))
	kgID, err := b.KGEnsure(ctx, p.ID, "kg-node")
	require.NoError(t, err)

	_, err = b.KGAddEntity(ctx, kgID, "Alice", nil)
	require.NoError(t, err)
	_, err = b.KGAddEntity(ctx, kgID, "Alice", nil)
	assert.True(t, storage.IsDuplicateEntity(err))

	_, err = b.KGAddRelationship(ctx, kgID, "Alice", "knows", "Bob", nil)
	assert.True(t, storage.IsEntityNotFound(err))

	_, err = b.KGAddEntity(ctx, kgID, "Bob", nil)
	require.NoError(t, err)
	_, err = b.KGAddRelationship(ctx, kgID, "Alice", "knows", "Bob", nil)
	require.NoError(t, err)
	_, err = b.KGAddRelationship(ctx, kgID, "Alice", "knows", "Bob", nil)
	assert.True(t, storage.IsDuplicateRelationship(err))
}

func TestKGPropertyMutations(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	p := graph.NewProject("demo")
	require.NoError(t, b.SaveProject(ctx, p))
	kgID, err := b.KGEnsure(ctx, p.ID, "kg-node")
	require.NoError(t, err)

	_, err = b.KGAddEntity(ctx, kgID, "Alice", map[string]string{"type": "person"})
	require.NoError(t, err)

	require.NoError(t, b.KGSetEntityProperty(ctx, kgID, "Alice", "occupation", "engineer"))
	require.NoError(t, b.KGSetEntityProperty(ctx, kgID, "Alice", "occupation", "researcher"))
	require.NoError(t, b.KGRemoveEntityProperty(ctx, kgID, "Alice", "type"))

	snap, err := b.KGLoadFull(ctx, p.ID, "kg-node")
	require.NoError(t, err)
	require.Len(t, snap.Entities, 1)
	assert.Equal(t, map[string]string{"occupation": "researcher"}, snap.Entities[0].Properties)

	err = b.KGSetEntityProperty(ctx, kgID, "Ghost", "x", "y")
	assert.True(t, storage.IsEntityNotFound(err))
}

func TestKGRemoveEntityCascadesRelationships(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	p := graph.NewProject("demo")
	require.NoError(t, b.SaveProject(ctx, p))
	kgID, err := b.KGEnsure(ctx, p.ID, "kg-node")
	require.NoError(t, err)

	for _, name := range []string{"Alice", "Bob", "Paris"} {
		_, err = b.KGAddEntity(ctx, kgID, name, nil)
		require.NoError(t, err)
	}
	_, err = b.KGAddRelationship(ctx, kgID, "Alice", "knows", "Bob", nil)
	require.NoError(t, err)
	_, err = b.KGAddRelationship(ctx, kgID, "Alice", "lives_in", "Paris", nil)
	require.NoError(t, err)
	_, err = b.KGAddRelationship(ctx, kgID, "Bob", "lives_in", "Paris", nil)
	require.NoError(t, err)

	require.NoError(t, b.KGRemoveEntity(ctx, kgID, "Alice"))

	snap, err := b.KGLoadFull(ctx, p.ID, "kg-node")
	require.NoError(t, err)
	require.Len(t, snap.Entities, 2)
	require.Len(t, snap.Relationships, 1)
	assert.Equal(t, "Bob", snap.Relationships[0].From)
}

func TestMSAddAndSearch(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	p := graph.NewProject("demo")
	require.NoError(t, b.SaveProject(ctx, p))
	msID, err := b.MSEnsure(ctx, p.ID, "ms-node")
	require.NoError(t, err)

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		_, err := b.MSAddObservation(ctx, msID, &storage.ObservationRecord{
			ContentKind: "message",
			Content:     json.RawMessage(`{"role":"user","content":"msg"}`),
			Created:     base.Add(time.Duration(i) * time.Minute),
			Accessed:    base.Add(time.Duration(i) * time.Minute),
			Embedding:   testEmbedding(i),
		})
		require.NoError(t, err)
	}

	// The query vector matches observation 2 exactly.
	results, err := b.MSSearch(ctx, msID, testEmbedding(2), 3, nil, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, testEmbedding(2), results[0].Embedding)

	// Date bounds exclude everything before the fourth observation.
	from := base.Add(3 * time.Minute)
	bounded, err := b.MSSearch(ctx, msID, testEmbedding(2), 10, &from, nil)
	require.NoError(t, err)
	require.Len(t, bounded, 2)
	for _, rec := range bounded {
		assert.False(t, rec.Created.Before(from))
	}
}

func TestMSUpdateAccessed(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	p := graph.NewProject("demo")
	require.NoError(t, b.SaveProject(ctx, p))
	msID, err := b.MSEnsure(ctx, p.ID, "ms-node")
	require.NoError(t, err)

	created := time.Now().UTC().Add(-time.Hour)
	id, err := b.MSAddObservation(ctx, msID, &storage.ObservationRecord{
		ContentKind: "message",
		Content:     json.RawMessage(`{}`),
		Created:     created,
		Accessed:    created,
		Embedding:   testEmbedding(0),
	})
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, b.MSUpdateAccessed(ctx, []int64{id}, now))

	results, err := b.MSSearch(ctx, msID, testEmbedding(0), 1, nil, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Accessed.Before(created.Add(time.Minute)))
}

func TestMSGetRecentChronological(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	p := graph.NewProject("demo")
	require.NoError(t, b.SaveProject(ctx, p))
	msID, err := b.MSEnsure(ctx, p.ID, "ms-node")
	require.NoError(t, err)

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 6; i++ {
		content, _ := json.Marshal(map[string]any{"i": i})
		_, err := b.MSAddObservation(ctx, msID, &storage.ObservationRecord{
			ContentKind: "message",
			Content:     content,
			Created:     base.Add(time.Duration(i) * time.Second),
			Accessed:    base.Add(time.Duration(i) * time.Second),
			Embedding:   testEmbedding(i),
		})
		require.NoError(t, err)
	}

	recent, err := b.MSGetRecent(ctx, msID, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	// Oldest-first among the 3 most recent.
	var idx []int
	for _, rec := range recent {
		var m map[string]int
		require.NoError(t, json.Unmarshal(rec.Content, &m))
		idx = append(idx, m["i"])
	}
	assert.Equal(t, []int{3, 4, 5}, idx)
}

func TestMSMetadata(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	p := graph.NewProject("demo")
	require.NoError(t, b.SaveProject(ctx, p))
	msID, err := b.MSEnsure(ctx, p.ID, "ms-node")
	require.NoError(t, err)

	md, err := b.MSGetMetadata(ctx, msID)
	require.NoError(t, err)
	assert.Equal(t, 0, md.LastReflectionPoint)

	require.NoError(t, b.MSUpdateMetadata(ctx, msID, storage.StreamMetadata{LastReflectionPoint: 42}))
	md, err = b.MSGetMetadata(ctx, msID)
	require.NoError(t, err)
	assert.Equal(t, 42, md.LastReflectionPoint)
}

func TestDeleteProjectCascades(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	p := graph.NewProject("demo")
	require.NoError(t, b.SaveProject(ctx, p))
	kgID, err := b.KGEnsure(ctx, p.ID, "kg-node")
	require.NoError(t, err)
	_, err = b.KGAddEntity(ctx, kgID, "Alice", nil)
	require.NoError(t, err)
	msID, err := b.MSEnsure(ctx, p.ID, "ms-node")
	require.NoError(t, err)
	_, err = b.MSAddObservation(ctx, msID, &storage.ObservationRecord{
		ContentKind: "message",
		Content:     json.RawMessage(`{}`),
		Created:     time.Now().UTC(),
		Accessed:    time.Now().UTC(),
		Embedding:   testEmbedding(1),
	})
	require.NoError(t, err)

	require.NoError(t, b.DeleteProject(ctx, p.ID))

	got, err := b.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	snap, err := b.KGLoadFull(ctx, p.ID, "kg-node")
	require.NoError(t, err)
	assert.Nil(t, snap)

	recent, err := b.MSGetRecent(ctx, msID, 10)
	require.NoError(t, err)
	assert.Empty(t, recent)
}
