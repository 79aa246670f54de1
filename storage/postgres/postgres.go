// Package postgres implements storage.Backend on PostgreSQL via pgx.
// Embedding vectors are stored as little-endian float32 BYTEA values next to
// their observations; nearest-neighbour search decodes candidates and ranks
// them by cosine distance in process, same as the sqlite backend.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smallnest/agentgraphgo/graph"
	"github.com/smallnest/agentgraphgo/storage"
)

// DBPool is the subset of pgxpool.Pool the backend uses. Tests substitute a
// pgxmock pool.
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Backend is the hosted PostgreSQL storage backend.
type Backend struct {
	pool DBPool
}

var _ storage.Backend = (*Backend)(nil)

// NewBackend connects to connString and initialises the schema.
func NewBackend(ctx context.Context, connString string) (*Backend, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, storage.WrapInternal("create connection pool", err)
	}
	b := &Backend{pool: pool}
	if err := b.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return b, nil
}

// NewBackendWithPool wraps an existing pool without touching the schema.
func NewBackendWithPool(pool DBPool) *Backend {
	return &Backend{pool: pool}
}

func (b *Backend) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		tts_settings JSONB,
		stt_settings JSONB,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE TABLE IF NOT EXISTS nodes (
		id TEXT NOT NULL,
		project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		kind TEXT NOT NULL,
		pos_x DOUBLE PRECISION NOT NULL DEFAULT 0,
		pos_y DOUBLE PRECISION NOT NULL DEFAULT 0,
		config_json JSONB NOT NULL,
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
		id BIGSERIAL PRIMARY KEY,
		project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		node_id TEXT NOT NULL,
		UNIQUE (project_id, node_id)
	);
	CREATE TABLE IF NOT EXISTS kg_entities (
		id BIGSERIAL PRIMARY KEY,
		knowledge_graph_id BIGINT NOT NULL REFERENCES knowledge_graphs(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		properties JSONB NOT NULL DEFAULT '{}',
		UNIQUE (knowledge_graph_id, name)
	);
	CREATE TABLE IF NOT EXISTS kg_relationships (
		id BIGSERIAL PRIMARY KEY,
		knowledge_graph_id BIGINT NOT NULL REFERENCES knowledge_graphs(id) ON DELETE CASCADE,
		from_entity_id BIGINT NOT NULL REFERENCES kg_entities(id) ON DELETE CASCADE,
		to_entity_id BIGINT NOT NULL REFERENCES kg_entities(id) ON DELETE CASCADE,
		rel_type TEXT NOT NULL,
		properties JSONB NOT NULL DEFAULT '{}',
		UNIQUE (knowledge_graph_id, from_entity_id, rel_type, to_entity_id)
	);
	CREATE TABLE IF NOT EXISTS memory_streams (
		id BIGSERIAL PRIMARY KEY,
		project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		node_id TEXT NOT NULL,
		last_reflection_point INTEGER NOT NULL DEFAULT 0,
		UNIQUE (project_id, node_id)
	);
	CREATE TABLE IF NOT EXISTS observations (
		id BIGSERIAL PRIMARY KEY,
		memory_stream_id BIGINT NOT NULL REFERENCES memory_streams(id) ON DELETE CASCADE,
		content_kind TEXT NOT NULL,
		content JSONB NOT NULL,
		importance DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		accessed_at TIMESTAMPTZ NOT NULL
	);
	CREATE TABLE IF NOT EXISTS observation_vectors (
		observation_id BIGINT PRIMARY KEY REFERENCES observations(id) ON DELETE CASCADE,
		embedding BYTEA NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_observations_stream_created
		ON observations (memory_stream_id, created_at);
	`
	if _, err := b.pool.Exec(ctx, schema); err != nil {
		return storage.WrapInternal("init schema", err)
	}
	return nil
}

// Close closes the underlying pool.
func (b *Backend) Close() error {
	b.pool.Close()
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// ---- projects ----

func (b *Backend) ListProjects(ctx context.Context) ([]storage.ProjectInfo, error) {
	rows, err := b.pool.Query(ctx,
		`SELECT id, name, created_at, updated_at FROM projects ORDER BY updated_at DESC`)
	if err != nil {
		return nil, storage.WrapInternal("list projects", err)
	}
	defer rows.Close()

	var out []storage.ProjectInfo
	for rows.Next() {
		var info storage.ProjectInfo
		if err := rows.Scan(&info.ID, &info.Name, &info.CreatedAt, &info.UpdatedAt); err != nil {
			return nil, storage.WrapInternal("scan project row", err)
		}
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.WrapInternal("iterate project rows", err)
	}
	return out, nil
}

func (b *Backend) GetProject(ctx context.Context, id string) (*graph.Project, error) {
	p := &graph.Project{Graph: graph.NewAgentGraph()}
	var tts, stt []byte
	err := b.pool.QueryRow(ctx,
		`SELECT id, name, tts_settings, stt_settings, created_at, updated_at
		 FROM projects WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &tts, &stt, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storage.WrapInternal("get project", err)
	}
	if len(tts) > 0 {
		p.TTSSettings = json.RawMessage(tts)
	}
	if len(stt) > 0 {
		p.STTSettings = json.RawMessage(stt)
	}

	nrows, err := b.pool.Query(ctx,
		`SELECT id, kind, pos_x, pos_y, config_json FROM nodes
		 WHERE project_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, storage.WrapInternal("load nodes", err)
	}
	defer nrows.Close()
	for nrows.Next() {
		n := &graph.Node{}
		var kind string
		var configJSON []byte
		if err := nrows.Scan(&n.ID, &kind, &n.Position.X, &n.Position.Y, &configJSON); err != nil {
			return nil, storage.WrapInternal("scan node row", err)
		}
		n.Kind = graph.NodeKind(kind)
		if err := json.Unmarshal(configJSON, &n.Config); err != nil {
			return nil, storage.WrapInternal("decode node config", err)
		}
		p.Graph.Nodes = append(p.Graph.Nodes, n)
	}
	if err := nrows.Err(); err != nil {
		return nil, storage.WrapInternal("iterate node rows", err)
	}

	erows, err := b.pool.Query(ctx,
		`SELECT id, source_node, source_port, target_node, target_port, kind
		 FROM edges WHERE project_id = $1 ORDER BY seq`, id)
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
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return storage.WrapInternal("begin save project", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	created := p.CreatedAt
	if created.IsZero() {
		created = now
	}
	var tts, stt any
	if len(p.TTSSettings) > 0 {
		tts = []byte(p.TTSSettings)
	}
	if len(p.STTSettings) > 0 {
		stt = []byte(p.STTSettings)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO projects (id, name, tts_settings, stt_settings, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			tts_settings = EXCLUDED.tts_settings,
			stt_settings = EXCLUDED.stt_settings,
			updated_at = EXCLUDED.updated_at`,
		p.ID, p.Name, tts, stt, created, now)
	if err != nil {
		return storage.WrapInternal("upsert project", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM nodes WHERE project_id = $1`, p.ID); err != nil {
		return storage.WrapInternal("clear nodes", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM edges WHERE project_id = $1`, p.ID); err != nil {
		return storage.WrapInternal("clear edges", err)
	}

	for i, n := range p.Graph.Nodes {
		configJSON, err := json.Marshal(n.Config)
		if err != nil {
			return storage.WrapInternal("encode node config", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO nodes (id, project_id, kind, pos_x, pos_y, config_json, seq)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			n.ID, p.ID, string(n.Kind), n.Position.X, n.Position.Y, configJSON, i)
		if err != nil {
			return storage.WrapInternal("insert node", err)
		}
	}
	for i, e := range p.Graph.Edges {
		_, err = tx.Exec(ctx, `
			INSERT INTO edges (id, project_id, source_node, source_port, target_node, target_port, kind, seq)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			e.ID, p.ID, e.SourceNode, e.SourcePort, e.TargetNode, e.TargetPort, string(e.Kind), i)
		if err != nil {
			return storage.WrapInternal("insert edge", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
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
	if _, err := b.pool.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id); err != nil {
		return storage.WrapInternal("delete project", err)
	}
	return nil
}

func (b *Backend) ProjectExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := b.pool.QueryRow(ctx, `SELECT 1 FROM projects WHERE id = $1`, id).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storage.WrapInternal("project exists", err)
	}
	return true, nil
}

// ---- knowledge graphs ----

func (b *Backend) KGEnsure(ctx context.Context, projectID, nodeID string) (int64, error) {
	_, err := b.pool.Exec(ctx, `
		INSERT INTO knowledge_graphs (project_id, node_id) VALUES ($1, $2)
		ON CONFLICT (project_id, node_id) DO NOTHING`, projectID, nodeID)
	if err != nil {
		return 0, storage.WrapInternal("ensure knowledge graph", err)
	}
	var id int64
	err = b.pool.QueryRow(ctx,
		`SELECT id FROM knowledge_graphs WHERE project_id = $1 AND node_id = $2`,
		projectID, nodeID).Scan(&id)
	if err != nil {
		return 0, storage.WrapInternal("lookup knowledge graph", err)
	}
	return id, nil
}

func (b *Backend) entityID(ctx context.Context, kgID int64, name string) (int64, error) {
	var id int64
	err := b.pool.QueryRow(ctx,
		`SELECT id FROM kg_entities WHERE knowledge_graph_id = $1 AND name = $2`,
		kgID, name).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
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
	var id int64
	err = b.pool.QueryRow(ctx,
		`INSERT INTO kg_entities (knowledge_graph_id, name, properties)
		 VALUES ($1, $2, $3) RETURNING id`,
		kgID, name, propsJSON).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, storage.NewError(storage.KindDuplicateEntity, "entity %q already exists", name)
		}
		return 0, storage.WrapInternal("insert entity", err)
	}
	return id, nil
}

func (b *Backend) mutateEntityProps(ctx context.Context, kgID int64, name string, mutate func(map[string]string)) error {
	var id int64
	var propsJSON []byte
	err := b.pool.QueryRow(ctx,
		`SELECT id, properties FROM kg_entities WHERE knowledge_graph_id = $1 AND name = $2`,
		kgID, name).Scan(&id, &propsJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.NewError(storage.KindEntityNotFound, "entity %q not found", name)
	}
	if err != nil {
		return storage.WrapInternal("lookup entity", err)
	}

	props := map[string]string{}
	if err := json.Unmarshal(propsJSON, &props); err != nil {
		return storage.WrapInternal("decode entity properties", err)
	}
	mutate(props)
	updated, err := json.Marshal(props)
	if err != nil {
		return storage.WrapInternal("encode entity properties", err)
	}
	if _, err := b.pool.Exec(ctx,
		`UPDATE kg_entities SET properties = $1 WHERE id = $2`, updated, id); err != nil {
		return storage.WrapInternal("update entity properties", err)
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
	id, err := b.entityID(ctx, kgID, name)
	if err != nil {
		return err
	}
	// Incident relationships cascade via foreign keys.
	if _, err := b.pool.Exec(ctx, `DELETE FROM kg_entities WHERE id = $1`, id); err != nil {
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

	fromID, err := b.entityID(ctx, kgID, from)
	if err != nil {
		return 0, err
	}
	toID, err := b.entityID(ctx, kgID, to)
	if err != nil {
		return 0, err
	}

	var id int64
	err = b.pool.QueryRow(ctx, `
		INSERT INTO kg_relationships (knowledge_graph_id, from_entity_id, to_entity_id, rel_type, properties)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		kgID, fromID, toID, relType, propsJSON).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, storage.NewError(storage.KindDuplicateRelationship,
				"relationship %q -[%s]-> %q already exists", from, relType, to)
		}
		return 0, storage.WrapInternal("insert relationship", err)
	}
	return id, nil
}

func (b *Backend) relationshipID(ctx context.Context, kgID int64, from, relType, to string) (int64, []byte, error) {
	fromID, err := b.entityID(ctx, kgID, from)
	if err != nil {
		return 0, nil, err
	}
	toID, err := b.entityID(ctx, kgID, to)
	if err != nil {
		return 0, nil, err
	}
	var id int64
	var propsJSON []byte
	err = b.pool.QueryRow(ctx, `
		SELECT id, properties FROM kg_relationships
		WHERE knowledge_graph_id = $1 AND from_entity_id = $2 AND to_entity_id = $3 AND rel_type = $4`,
		kgID, fromID, toID, relType).Scan(&id, &propsJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil, storage.NewError(storage.KindEntityNotFound,
			"relationship %q -[%s]-> %q not found", from, relType, to)
	}
	if err != nil {
		return 0, nil, storage.WrapInternal("lookup relationship", err)
	}
	return id, propsJSON, nil
}

func (b *Backend) mutateRelationshipProps(ctx context.Context, kgID int64, from, relType, to string, mutate func(map[string]string)) error {
	id, propsJSON, err := b.relationshipID(ctx, kgID, from, relType, to)
	if err != nil {
		return err
	}
	props := map[string]string{}
	if err := json.Unmarshal(propsJSON, &props); err != nil {
		return storage.WrapInternal("decode relationship properties", err)
	}
	mutate(props)
	updated, err := json.Marshal(props)
	if err != nil {
		return storage.WrapInternal("encode relationship properties", err)
	}
	if _, err := b.pool.Exec(ctx,
		`UPDATE kg_relationships SET properties = $1 WHERE id = $2`, updated, id); err != nil {
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
	if _, err := b.pool.Exec(ctx, `DELETE FROM kg_relationships WHERE id = $1`, id); err != nil {
		return storage.WrapInternal("delete relationship", err)
	}
	return nil
}

func (b *Backend) KGLoadFull(ctx context.Context, projectID, nodeID string) (*storage.KGSnapshot, error) {
	var kgID int64
	err := b.pool.QueryRow(ctx,
		`SELECT id FROM knowledge_graphs WHERE project_id = $1 AND node_id = $2`,
		projectID, nodeID).Scan(&kgID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storage.WrapInternal("lookup knowledge graph", err)
	}

	snap := &storage.KGSnapshot{ID: kgID}
	names := make(map[int64]string)

	erows, err := b.pool.Query(ctx,
		`SELECT id, name, properties FROM kg_entities WHERE knowledge_graph_id = $1 ORDER BY id`, kgID)
	if err != nil {
		return nil, storage.WrapInternal("load entities", err)
	}
	defer erows.Close()
	for erows.Next() {
		var rec storage.EntityRecord
		var propsJSON []byte
		if err := erows.Scan(&rec.ID, &rec.Name, &propsJSON); err != nil {
			return nil, storage.WrapInternal("scan entity row", err)
		}
		rec.Properties = map[string]string{}
		if err := json.Unmarshal(propsJSON, &rec.Properties); err != nil {
			return nil, storage.WrapInternal("decode entity properties", err)
		}
		names[rec.ID] = rec.Name
		snap.Entities = append(snap.Entities, rec)
	}
	if err := erows.Err(); err != nil {
		return nil, storage.WrapInternal("iterate entity rows", err)
	}

	rrows, err := b.pool.Query(ctx, `
		SELECT id, from_entity_id, to_entity_id, rel_type, properties
		FROM kg_relationships WHERE knowledge_graph_id = $1 ORDER BY id`, kgID)
	if err != nil {
		return nil, storage.WrapInternal("load relationships", err)
	}
	defer rrows.Close()
	for rrows.Next() {
		var rec storage.RelationshipRecord
		var fromID, toID int64
		var propsJSON []byte
		if err := rrows.Scan(&rec.ID, &fromID, &toID, &rec.Type, &propsJSON); err != nil {
			return nil, storage.WrapInternal("scan relationship row", err)
		}
		rec.From = names[fromID]
		rec.To = names[toID]
		rec.Properties = map[string]string{}
		if err := json.Unmarshal(propsJSON, &rec.Properties); err != nil {
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
	_, err := b.pool.Exec(ctx, `
		INSERT INTO memory_streams (project_id, node_id) VALUES ($1, $2)
		ON CONFLICT (project_id, node_id) DO NOTHING`, projectID, nodeID)
	if err != nil {
		return 0, storage.WrapInternal("ensure memory stream", err)
	}
	var id int64
	err = b.pool.QueryRow(ctx,
		`SELECT id FROM memory_streams WHERE project_id = $1 AND node_id = $2`,
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
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return 0, storage.WrapInternal("begin add observation", err)
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO observations (memory_stream_id, content_kind, content, importance, created_at, accessed_at)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		streamID, obs.ContentKind, []byte(obs.Content), obs.Importance,
		obs.Created.UTC(), obs.Accessed.UTC()).Scan(&id)
	if err != nil {
		return 0, storage.WrapInternal("insert observation", err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO observation_vectors (observation_id, embedding) VALUES ($1, $2)`,
		id, storage.EncodeVector(obs.Embedding))
	if err != nil {
		return 0, storage.WrapInternal("insert observation vector", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, storage.WrapInternal("commit add observation", err)
	}
	return id, nil
}

func (b *Backend) MSSearch(ctx context.Context, streamID int64, queryVec []float32, k int, from, to *time.Time) ([]storage.ObservationRecord, error) {
	query := `
		SELECT o.id, o.content_kind, o.content, o.importance, o.created_at, o.accessed_at, v.embedding
		FROM observations o
		JOIN observation_vectors v ON v.observation_id = o.id
		WHERE o.memory_stream_id = $1`
	args := []any{streamID}
	if from != nil {
		args = append(args, from.UTC())
		query += ` AND o.created_at >= $` + strconv.Itoa(len(args))
	}
	if to != nil {
		args = append(args, to.UTC())
		query += ` AND o.created_at <= $` + strconv.Itoa(len(args))
	}

	rows, err := b.pool.Query(ctx, query, args...)
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
		var content, blob []byte
		if err := rows.Scan(&rec.ID, &rec.ContentKind, &content, &rec.Importance,
			&rec.Created, &rec.Accessed, &blob); err != nil {
			return nil, storage.WrapInternal("scan observation row", err)
		}
		rec.StreamID = streamID
		rec.Content = json.RawMessage(content)
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
	_, err := b.pool.Exec(ctx,
		`UPDATE observations SET accessed_at = $1 WHERE id = ANY($2)`, at.UTC(), ids)
	if err != nil {
		return storage.WrapInternal("update accessed timestamps", err)
	}
	return nil
}

func (b *Backend) MSGetRecent(ctx context.Context, streamID int64, n int) ([]storage.ObservationRecord, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT id, content_kind, content, importance, created_at, accessed_at
		FROM observations
		WHERE memory_stream_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, streamID, n)
	if err != nil {
		return nil, storage.WrapInternal("get recent observations", err)
	}
	defer rows.Close()

	var out []storage.ObservationRecord
	for rows.Next() {
		var rec storage.ObservationRecord
		var content []byte
		if err := rows.Scan(&rec.ID, &rec.ContentKind, &content, &rec.Importance,
			&rec.Created, &rec.Accessed); err != nil {
			return nil, storage.WrapInternal("scan observation row", err)
		}
		rec.StreamID = streamID
		rec.Content = json.RawMessage(content)
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
	err := b.pool.QueryRow(ctx,
		`SELECT last_reflection_point FROM memory_streams WHERE id = $1`, streamID).
		Scan(&md.LastReflectionPoint)
	if errors.Is(err, pgx.ErrNoRows) {
		return md, nil
	}
	if err != nil {
		return md, storage.WrapInternal("get stream metadata", err)
	}
	return md, nil
}

func (b *Backend) MSUpdateMetadata(ctx context.Context, streamID int64, md storage.StreamMetadata) error {
	_, err := b.pool.Exec(ctx,
		`UPDATE memory_streams SET last_reflection_point = $1 WHERE id = $2`,
		md.LastReflectionPoint, streamID)
	if err != nil {
		return storage.WrapInternal("update stream metadata", err)
	}
	return nil
}

