// Package sqlite implements storage.Backend on an embedded SQLite database.
// Embedding vectors are stored as little-endian float32 blobs next to their
// observations; nearest-neighbour search decodes candidates and ranks them
// by cosine distance in process.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/smallnest/agentgraphgo/graph"
	"github.com/smallnest/agentgraphgo/storage"
)

// Backend is the embedded SQLite storage backend.
type Backend struct {
	db *sql.DB
}

var _ storage.Backend = (*Backend)(nil)

// NewBackend opens (or creates) the database at path and initialises the
// schema. Use ":memory:" for an ephemeral database.
func NewBackend(path string) (*Backend, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, storage.WrapInternal("open database", err)
	}
	// A single connection keeps transactions serialised and avoids
	// SQLITE_BUSY under concurrent runtime instances in tests.
	db.SetMaxOpenConns(1)

	b := &Backend{db: db}
	if err := b.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

func (b *Backend) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		tts_settings TEXT,
		stt_settings TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS nodes (
		id TEXT NOT NULL,
		project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		kind TEXT NOT NULL,
		pos_x REAL NOT NULL DEFAULT 0,
		pos_y REAL NOT NULL DEFAULT 0,
		config_json TEXT NOT NULL,
		seq INTEGER NOT NULL,
		PRIMARY KEY (project_id, id)
	);
	CREATE TABLE IF NOT EXISTS edges (
		id TEXT NOT NULL,
		project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		source_node TEXT NOT NULL,
		source_port TEXT NOT NULL,
		target_node TEXT NOT NULL,
		target_port TEXT NOT NULL,
		kind TEXT NOT NULL,
		seq INTEGER NOT NULL,
		PRIMARY KEY (project_id, id)
	);
	CREATE TABLE IF NOT EXISTS knowledge_graphs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		node_id TEXT NOT NULL,
		UNIQUE (project_id, node_id)
	);
	CREATE TABLE IF NOT EXISTS kg_entities (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		knowledge_graph_id INTEGER NOT NULL REFERENCES knowledge_graphs(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		properties TEXT NOT NULL DEFAULT '{}',
		UNIQUE (knowledge_graph_id, name)
	);
	CREATE TABLE IF NOT EXISTS kg_relationships (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		knowledge_graph_id INTEGER NOT NULL REFERENCES knowledge_graphs(id) ON DELETE CASCADE,
		from_entity_id INTEGER NOT NULL REFERENCES kg_entities(id) ON DELETE CASCADE,
		to_entity_id INTEGER NOT NULL REFERENCES kg_entities(id) ON DELETE CASCADE,
		rel_type TEXT NOT NULL,
		properties TEXT NOT NULL DEFAULT '{}',
		UNIQUE (knowledge_graph_id, from_entity_id, rel_type, to_entity_id)
	);
	CREATE TABLE IF NOT EXISTS memory_streams (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		node_id TEXT NOT NULL,
		last_reflection_point INTEGER NOT NULL DEFAULT 0,
		UNIQUE (project_id, node_id)
	);
	CREATE TABLE IF NOT EXISTS observations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		memory_stream_id INTEGER NOT NULL REFERENCES memory_streams(id) ON DELETE CASCADE,
		content_kind TEXT NOT NULL,
		content TEXT NOT NULL,
		importance REAL NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		accessed_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS observation_vectors (
		observation_id INTEGER PRIMARY KEY REFERENCES observations(id) ON DELETE CASCADE,
		embedding BLOB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_observations_stream_created
		ON observations (memory_stream_id, created_at);
	`
	if _, err := b.db.Exec(schema); err != nil {
		return storage.WrapInternal("init schema", err)
	}
	return nil
}

// Close closes the underlying database.
func (b *Backend) Close() error {
	return b.db.Close()
}

func isUniqueViolation(err error) bool {
	if se, ok := err.(sqlite3.Error); ok {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

const timeLayout = time.RFC3339Nano

func encodeTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func decodeTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ---- projects ----

func (b *Backend) ListProjects(ctx context.Context) ([]storage.ProjectInfo, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT id, name, created_at, updated_at FROM projects ORDER BY updated_at DESC`)
	if err != nil {
		return nil, storage.WrapInternal("list projects", err)
	}
	defer rows.Close()

	var out []storage.ProjectInfo
	for rows.Next() {
		var info storage.ProjectInfo
		var created, updated string
		if err := rows.Scan(&info.ID, &info.Name, &created, &updated); err != nil {
			return nil, storage.WrapInternal("scan project row", err)
		}
		info.CreatedAt = decodeTime(created)
		info.UpdatedAt = decodeTime(updated)
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.WrapInternal("iterate project rows", err)
	}
	return out, nil
}

func (b *Backend) GetProject(ctx context.Context, id string) (*graph.Project, error) {
	p := &graph.Project{Graph: graph.NewAgentGraph()}
	var tts, stt sql.NullString
	var created, updated string
	err := b.db.QueryRowContext(ctx,
		`SELECT id, name, tts_settings, stt_settings, created_at, updated_at
		 FROM projects WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &tts, &stt, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storage.WrapInternal("get project", err)
	}
	if tts.Valid && tts.String != "" {
		p.TTSSettings = json.RawMessage(tts.String)
	}
	if stt.Valid && stt.String != "" {
		p.STTSettings = json.RawMessage(stt.String)
	}
	p.CreatedAt = decodeTime(created)
	p.UpdatedAt = decodeTime(updated)

	nrows, err := b.db.QueryContext(ctx,
		`SELECT id, kind, pos_x, pos_y, config_json FROM nodes
		 WHERE project_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, storage.WrapInternal("load nodes", err)
	}
	defer nrows.Close()
	for nrows.Next() {
		n := &graph.Node{}
		var kind, configJSON string
		if err := nrows.Scan(&n.ID, &kind, &n.Position.X, &n.Position.Y, &configJSON); err != nil {
			return nil, storage.WrapInternal("scan node row", err)
		}
		n.Kind = graph.NodeKind(kind)
		if err := json.Unmarshal([]byte(configJSON), &n.Config); err != nil {
			return nil, storage.WrapInternal("decode node config", err)
		}
		p.Graph.Nodes = append(p.Graph.Nodes, n)
	}
	if err := nrows.Err(); err != nil {
		return nil, storage.WrapInternal("iterate node rows", err)
	}

	erows, err := b.db.QueryContext(ctx,
		`SELECT id, source_node, source_port, target_node, target_port, kind
		 FROM edges WHERE project_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, storage.WrapInternal("load edges", err)
	}
	defer erows.Close()
	for erows.Next() {
		e := &graph.Edge{}
		var kind string
		if err := erows.Scan(&e.ID, &e.SourceNode, &e.SourcePort, &e.TargetNode, &e.TargetPort, &kind); err != nil {
			return nil, storage.WrapInternal("scan edge row", err)
		}
		e.Kind = graph.EdgeKind(kind)
		p.Graph.Edges = append(p.Graph.Edges, e)
	}
	if err := erows.Err(); err != nil {
		return nil, storage.WrapInternal("iterate edge rows", err)
	}
	return p, nil
}

func (b *Backend) SaveProject(ctx context.Context, p *graph.Project) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.WrapInternal("begin save project", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	created := p.CreatedAt
	if created.IsZero() {
		created = now
	}
	var tts, stt any
	if len(p.TTSSettings) > 0 {
		tts = string(p.TTSSettings)
	}
	if len(p.STTSettings) > 0 {
		stt = string(p.STTSettings)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO projects (id, name, tts_settings, stt_settings, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			tts_settings = excluded.tts_settings,
			stt_settings = excluded.stt_settings,
			updated_at = excluded.updated_at`,
		p.ID, p.Name, tts, stt, encodeTime(created), encodeTime(now))
	if err != nil {
		return storage.WrapInternal("upsert project", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE project_id = ?`, p.ID); err != nil {
		return storage.WrapInternal("clear nodes", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM edges WHERE project_id = ?`, p.ID); err != nil {
		return storage.WrapInternal("clear edges", err)
	}

	for i, n := range p.Graph.Nodes {
		configJSON, err := json.Marshal(n.Config)
		if err != nil {
			return storage.WrapInternal("encode node config", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO nodes (id, project_id, kind, pos_x, pos_y, config_json, seq)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			n.ID, p.ID, string(n.Kind), n.Position.X, n.Position.Y, string(configJSON), i)
		if err != nil {
			return storage.WrapInternal("insert node", err)
		}
	}
	for i, e := range p.Graph.Edges {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO edges (id, project_id, source_node, source_port, target_node, target_port, kind, seq)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, p.ID, e.SourceNode, e.SourcePort, e.TargetNode, e.TargetPort, string(e.Kind), i)
		if err != nil {
			return storage.WrapInternal("insert edge", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storage.WrapInternal("commit save project", err)
	}
	p.UpdatedAt = now
	if p.CreatedAt.IsZero() {
		p.CreatedAt = created
	}
	return nil
}

func (b *Backend) DeleteProject(ctx context.Context, id string) error {
	// Foreign keys cascade from projects down to vectors.
	if _, err := b.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id); err != nil {
		return storage.WrapInternal("delete project", err)
	}
	return nil
}

func (b *Backend) ProjectExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := b.db.QueryRowContext(ctx, `SELECT 1 FROM projects WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, storage.WrapInternal("project exists", err)
	}
	return true, nil
}

// ---- knowledge graphs ----

func (b *Backend) KGEnsure(ctx context.Context, projectID, nodeID string) (int64, error) {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO knowledge_graphs (project_id, node_id) VALUES (?, ?)
		ON CONFLICT (project_id, node_id) DO NOTHING`, projectID, nodeID)
	if err != nil {
		return 0, storage.WrapInternal("ensure knowledge graph", err)
	}
	var id int64
	err = b.db.QueryRowContext(ctx,
		`SELECT id FROM knowledge_graphs WHERE project_id = ? AND node_id = ?`,
		projectID, nodeID).Scan(&id)
	if err != nil {
		return 0, storage.WrapInternal("lookup knowledge graph", err)
	}
	return id, nil
}

func (b *Backend) entityID(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}, kgID int64, name string) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx,
		`SELECT id FROM kg_entities WHERE knowledge_graph_id = ? AND name = ?`,
		kgID, name).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, storage.NewError(storage.KindEntityNotFound, "entity %q not found", name)
	}
	if err != nil {
		return 0, storage.WrapInternal("lookup entity", err)
	}
	return id, nil
}

func (b *Backend) KGAddEntity(ctx context.Context, kgID int64, name string, props map[string]string) (int64, error) {
	if props == nil {
		props = map[string]string{}
	}
	propsJSON, err := json.Marshal(props)
	if err != nil {
		return 0, storage.WrapInternal("encode entity properties", err)
	}
	res, err := b.db.ExecContext(ctx,
		`INSERT INTO kg_entities (knowledge_graph_id, name, properties) VALUES (?, ?, ?)`,
		kgID, name, string(propsJSON))
	if err != nil {
		if isUniqueViolation(err) {
			return 0, storage.NewError(storage.KindDuplicateEntity, "entity %q already exists", name)
		}
		return 0, storage.WrapInternal("insert entity", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storage.WrapInternal("entity insert id", err)
	}
	return id, nil
}

func (b *Backend) mutateEntityProps(ctx context.Context, kgID int64, name string, mutate func(map[string]string)) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.WrapInternal("begin entity update", err)
	}
	defer tx.Rollback()

	var id int64
	var propsJSON string
	err = tx.QueryRowContext(ctx,
		`SELECT id, properties FROM kg_entities WHERE knowledge_graph_id = ? AND name = ?`,
		kgID, name).Scan(&id, &propsJSON)
	if err == sql.ErrNoRows {
		return storage.NewError(storage.KindEntityNotFound, "entity %q not found", name)
	}
	if err != nil {
		return storage.WrapInternal("lookup entity", err)
	}

	props := map[string]string{}
	if err := json.Unmarshal([]byte(propsJSON), &props); err != nil {
		return storage.WrapInternal("decode entity properties", err)
	}
	mutate(props)
	updated, err := json.Marshal(props)
	if err != nil {
		return storage.WrapInternal("encode entity properties", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE kg_entities SET properties = ? WHERE id = ?`, string(updated), id); err != nil {
		return storage.WrapInternal("update entity properties", err)
	}
	if err := tx.Commit(); err != nil {
		return storage.WrapInternal("commit entity update", err)
	}
	return nil
}

func (b *Backend) KGSetEntityProperty(ctx context.Context, kgID int64, name, prop, value string) error {
	return b.mutateEntityProps(ctx, kgID, name, func(props map[string]string) {
		props[prop] = value
	})
}

func (b *Backend) KGRemoveEntityProperty(ctx context.Context, kgID int64, name, prop string) error {
	return b.mutateEntityProps(ctx, kgID, name, func(props map[string]string) {
		delete(props, prop)
	})
}

func (b *Backend) KGRemoveEntity(ctx context.Context, kgID int64, name string) error {
	id, err := b.entityID(ctx, b.db, kgID, name)
	if err != nil {
		return err
	}
	// Incident relationships cascade via foreign keys.
	if _, err := b.db.ExecContext(ctx, `DELETE FROM kg_entities WHERE id = ?`, id); err != nil {
		return storage.WrapInternal("delete entity", err)
	}
	return nil
}

func (b *Backend) KGAddRelationship(ctx context.Context, kgID int64, from, relType, to string, props map[string]string) (int64, error) {
	if props == nil {
		props = map[string]string{}
	}
	propsJSON, err := json.Marshal(props)
	if err != nil {
		return 0, storage.WrapInternal("encode relationship properties", err)
	}

	fromID, err := b.entityID(ctx, b.db, kgID, from)
	if err != nil {
		return 0, err
	}
	toID, err := b.entityID(ctx, b.db, kgID, to)
	if err != nil {
		return 0, err
	}

	res, err := b.db.ExecContext(ctx, `
		INSERT INTO kg_relationships (knowledge_graph_id, from_entity_id, to_entity_id, rel_type, properties)
		VALUES (?, ?, ?, ?, ?)`,
		kgID, fromID, toID, relType, string(propsJSON))
	if err != nil {
		if isUniqueViolation(err) {
			return 0, storage.NewError(storage.KindDuplicateRelationship,
				"relationship %q -[%s]-> %q already exists", from, relType, to)
		}
		return 0, storage.WrapInternal("insert relationship", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storage.WrapInternal("relationship insert id", err)
	}
	return id, nil
}

func (b *Backend) relationshipID(ctx context.Context, kgID int64, from, relType, to string) (int64, string, error) {
	fromID, err := b.entityID(ctx, b.db, kgID, from)
	if err != nil {
		return 0, "", err
	}
	toID, err := b.entityID(ctx, b.db, kgID, to)
	if err != nil {
		return 0, "", err
	}
	var id int64
	var propsJSON string
	err = b.db.QueryRowContext(ctx, `
		SELECT id, properties FROM kg_relationships
		WHERE knowledge_graph_id = ? AND from_entity_id = ? AND to_entity_id = ? AND rel_type = ?`,
		kgID, fromID, toID, relType).Scan(&id, &propsJSON)
	if err == sql.ErrNoRows {
		return 0, "", storage.NewError(storage.KindEntityNotFound,
			"relationship %q -[%s]-> %q not found", from, relType, to)
	}
	if err != nil {
		return 0, "", storage.WrapInternal("lookup relationship", err)
	}
	return id, propsJSON, nil
}

func (b *Backend) mutateRelationshipProps(ctx context.Context, kgID int64, from, relType, to string, mutate func(map[string]string)) error {
	id, propsJSON, err := b.relationshipID(ctx, kgID, from, relType, to)
	if err != nil {
		return err
	}
	props := map[string]string{}
	if err := json.Unmarshal([]byte(propsJSON), &props); err != nil {
		return storage.WrapInternal("decode relationship properties", err)
	}
	mutate(props)
	updated, err := json.Marshal(props)
	if err != nil {
		return storage.WrapInternal("encode relationship properties", err)
	}
	if _, err := b.db.ExecContext(ctx,
		`UPDATE kg_relationships SET properties = ? WHERE id = ?`, string(updated), id); err != nil {
		return storage.WrapInternal("update relationship properties", err)
	}
	return nil
}

func (b *Backend) KGSetRelationshipProperty(ctx context.Context, kgID int64, from, relType, to, prop, value string) error {
	return b.mutateRelationshipProps(ctx, kgID, from, relType, to, func(props map[string]string) {
		props[prop] = value
	})
}

func (b *Backend) KGRemoveRelationshipProperty(ctx context.Context, kgID int64, from, relType, to, prop string) error {
	return b.mutateRelationshipProps(ctx, kgID, from, relType, to, func(props map[string]string) {
		delete(props, prop)
	})
}

func (b *Backend) KGRemoveRelationship(ctx context.Context, kgID int64, from, relType, to string) error {
	id, _, err := b.relationshipID(ctx, kgID, from, relType, to)
	if err != nil {
		return err
	}
	if _, err := b.db.ExecContext(ctx, `DELETE FROM kg_relationships WHERE id = ?`, id); err != nil {
		return storage.WrapInternal("delete relationship", err)
	}
	return nil
}

func (b *Backend) KGLoadFull(ctx context.Context, projectID, nodeID string) (*storage.KGSnapshot, error) {
	var kgID int64
	err := b.db.QueryRowContext(ctx,
		`SELECT id FROM knowledge_graphs WHERE project_id = ? AND node_id = ?`,
		projectID, nodeID).Scan(&kgID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storage.WrapInternal("lookup knowledge graph", err)
	}

	snap := &storage.KGSnapshot{ID: kgID}
	names := make(map[int64]string)

	erows, err := b.db.QueryContext(ctx,
		`SELECT id, name, properties FROM kg_entities WHERE knowledge_graph_id = ? ORDER BY id`, kgID)
	if err != nil {
		return nil, storage.WrapInternal("load entities", err)
	}
	defer erows.Close()
	for erows.Next() {
		var rec storage.EntityRecord
		var propsJSON string
		if err := erows.Scan(&rec.ID, &rec.Name, &propsJSON); err != nil {
			return nil, storage.WrapInternal("scan entity row", err)
		}
		rec.Properties = map[string]string{}
		if err := json.Unmarshal([]byte(propsJSON), &rec.Properties); err != nil {
			return nil, storage.WrapInternal("decode entity properties", err)
		}
		names[rec.ID] = rec.Name
		snap.Entities = append(snap.Entities, rec)
	}
	if err := erows.Err(); err != nil {
		return nil, storage.WrapInternal("iterate entity rows", err)
	}

	rrows, err := b.db.QueryContext(ctx, `
		SELECT id, from_entity_id, to_entity_id, rel_type, properties
		FROM kg_relationships WHERE knowledge_graph_id = ? ORDER BY id`, kgID)
	if err != nil {
		return nil, storage.WrapInternal("load relationships", err)
	}
	defer rrows.Close()
	for rrows.Next() {
		var rec storage.RelationshipRecord
		var fromID, toID int64
		var propsJSON string
		if err := rrows.Scan(&rec.ID, &fromID, &toID, &rec.Type, &propsJSON); err != nil {
			return nil, storage.WrapInternal("scan relationship row", err)
		}
		rec.From = names[fromID]
		rec.To = names[toID]
		rec.Properties = map[string]string{}
		if err := json.Unmarshal([]byte(propsJSON), &rec.Properties); err != nil {
			return nil, storage.WrapInternal("decode relationship properties", err)
		}
		snap.Relationships = append(snap.Relationships, rec)
	}
	if err := rrows.Err(); err != nil {
		return nil, storage.WrapInternal("iterate relationship rows", err)
	}
	return snap, nil
}

// ---- memory streams ----

func (b *Backend) MSEnsure(ctx context.Context, projectID, nodeID string) (int64, error) {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO memory_streams (project_id, node_id) VALUES (?, ?)
		ON CONFLICT (project_id, node_id) DO NOTHING`, projectID, nodeID)
	if err != nil {
		return 0, storage.WrapInternal("ensure memory stream", err)
	}
	var id int64
	err = b.db.QueryRowContext(ctx,
		`SELECT id FROM memory_streams WHERE project_id = ? AND node_id = ?`,
		projectID, nodeID).Scan(&id)
	if err != nil {
		return 0, storage.WrapInternal("lookup memory stream", err)
	}
	return id, nil
}

func (b *Backend) MSAddObservation(ctx context.Context, streamID int64, obs *storage.ObservationRecord) (int64, error) {
	if len(obs.Embedding) != storage.EmbeddingDim {
		return 0, storage.NewError(storage.KindInternal,
			"embedding has %d dimensions, want %d", len(obs.Embedding), storage.EmbeddingDim)
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storage.WrapInternal("begin add observation", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO observations (memory_stream_id, content_kind, content, importance, created_at, accessed_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		streamID, obs.ContentKind, string(obs.Content), obs.Importance,
		encodeTime(obs.Created), encodeTime(obs.Accessed))
	if err != nil {
		return 0, storage.WrapInternal("insert observation", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storage.WrapInternal("observation insert id", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO observation_vectors (observation_id, embedding) VALUES (?, ?)`,
		id, storage.EncodeVector(obs.Embedding))
	if err != nil {
		return 0, storage.WrapInternal("insert observation vector", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, storage.WrapInternal("commit add observation", err)
	}
	return id, nil
}

func (b *Backend) MSSearch(ctx context.Context, streamID int64, queryVec []float32, k int, from, to *time.Time) ([]storage.ObservationRecord, error) {
	query := `
		SELECT o.id, o.content_kind, o.content, o.importance, o.created_at, o.accessed_at, v.embedding
		FROM observations o
		JOIN observation_vectors v ON v.observation_id = o.id
		WHERE o.memory_stream_id = ?`
	args := []any{streamID}
	if from != nil {
		query += ` AND o.created_at >= ?`
		args = append(args, encodeTime(*from))
	}
	if to != nil {
		query += ` AND o.created_at <= ?`
		args = append(args, encodeTime(*to))
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storage.WrapInternal("search observations", err)
	}
	defer rows.Close()

	type scored struct {
		rec storage.ObservationRecord
		sim float64
	}
	var candidates []scored
	for rows.Next() {
		var rec storage.ObservationRecord
		var created, accessed string
		var blob []byte
		if err := rows.Scan(&rec.ID, &rec.ContentKind, &rec.Content, &rec.Importance,
			&created, &accessed, &blob); err != nil {
			return nil, storage.WrapInternal("scan observation row", err)
		}
		rec.StreamID = streamID
		rec.Created = decodeTime(created)
		rec.Accessed = decodeTime(accessed)
		rec.Embedding = storage.DecodeVector(blob)
		candidates = append(candidates, scored{
			rec: rec,
			sim: storage.CosineSimilarity32(queryVec, rec.Embedding),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, storage.WrapInternal("iterate observation rows", err)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].sim > candidates[j].sim
	})
	if k > 0 && len(candidates) > k {
		candidates = candidates[:k]
	}
	out := make([]storage.ObservationRecord, len(candidates))
	for i, c := range candidates {
		out[i] = c.rec
	}
	return out, nil
}

func (b *Backend) MSUpdateAccessed(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE observations SET accessed_at = ? WHERE id IN (?` +
		repeat(",?", len(ids)-1) + `)`
	args := make([]any, 0, len(ids)+1)
	args = append(args, encodeTime(at))
	for _, id := range ids {
		args = append(args, id)
	}
	if _, err := b.db.ExecContext(ctx, query, args...); err != nil {
		return storage.WrapInternal("update accessed timestamps", err)
	}
	return nil
}

func repeat(s string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}

func (b *Backend) MSGetRecent(ctx context.Context, streamID int64, n int) ([]storage.ObservationRecord, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT id, content_kind, content, importance, created_at, accessed_at
		FROM observations
		WHERE memory_stream_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, streamID, n)
	if err != nil {
		return nil, storage.WrapInternal("get recent observations", err)
	}
	defer rows.Close()

	var out []storage.ObservationRecord
	for rows.Next() {
		var rec storage.ObservationRecord
		var created, accessed string
		if err := rows.Scan(&rec.ID, &rec.ContentKind, &rec.Content, &rec.Importance,
			&created, &accessed); err != nil {
			return nil, storage.WrapInternal("scan observation row", err)
		}
		rec.StreamID = streamID
		rec.Created = decodeTime(created)
		rec.Accessed = decodeTime(accessed)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.WrapInternal("iterate observation rows", err)
	}
	// Query returns newest-first; callers want chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (b *Backend) MSGetMetadata(ctx context.Context, streamID int64) (storage.StreamMetadata, error) {
	var md storage.StreamMetadata
	err := b.db.QueryRowContext(ctx,
		`SELECT last_reflection_point FROM memory_streams WHERE id = ?`, streamID).
		Scan(&md.LastReflectionPoint)
	if err == sql.ErrNoRows {
		return md, nil
	}
	if err != nil {
		return md, storage.WrapInternal("get stream metadata", err)
	}
	return md, nil
}

func (b *Backend) MSUpdateMetadata(ctx context.Context, streamID int64, md storage.StreamMetadata) error {
	_, err := b.db.ExecContext(ctx,
		`UPDATE memory_streams SET last_reflection_point = ? WHERE id = ?`,
		md.LastReflectionPoint, streamID)
	if err != nil {
		return storage.WrapInternal("update stream metadata", err)
	}
	return nil
}
