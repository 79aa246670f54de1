package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/smallnest/agentgraphgo/storage"
)

// Entity is a named node in the knowledge graph with string properties.
type Entity struct {
	Name       string
	Properties map[string]string
}

// Relationship is a typed directed edge between two entities.
type Relationship struct {
	From       string
	Type       string
	To         string
	Properties map[string]string
}

// KnowledgeGraph is a directed multigraph of typed entities. Mutations write
// through the bound storage backend and update the in-memory copy in
// lock-step, so a query issued after any mutation observes it. Queries are
// pure in-memory traversals.
//
// Agent turns are serialised by the runtime, so the graph carries no lock of
// its own.
type KnowledgeGraph struct {
	backend storage.Backend
	kgID    int64

	entities map[string]map[string]string
	rels     []*Relationship
}

// NewKnowledgeGraph creates an empty unbacked graph (mutations stay in
// memory only).
func NewKnowledgeGraph() *KnowledgeGraph {
	return &KnowledgeGraph{entities: make(map[string]map[string]string)}
}

// LoadKnowledgeGraph builds an in-memory graph from a storage snapshot. The
// graph is unbacked until Bind is called.
func LoadKnowledgeGraph(snap *storage.KGSnapshot) *KnowledgeGraph {
	kg := NewKnowledgeGraph()
	if snap == nil {
		return kg
	}
	kg.kgID = snap.ID
	for _, e := range snap.Entities {
		props := make(map[string]string, len(e.Properties))
		for k, v := range e.Properties {
			props[k] = v
		}
		kg.entities[e.Name] = props
	}
	for _, r := range snap.Relationships {
		props := make(map[string]string, len(r.Properties))
		for k, v := range r.Properties {
			props[k] = v
		}
		kg.rels = append(kg.rels, &Relationship{From: r.From, Type: r.Type, To: r.To, Properties: props})
	}
	return kg
}

// Bind attaches a storage backend so subsequent mutations persist.
func (kg *KnowledgeGraph) Bind(backend storage.Backend, kgID int64) {
	kg.backend = backend
	kg.kgID = kgID
}

// StorageID returns the bound storage id, or 0.
func (kg *KnowledgeGraph) StorageID() int64 { return kg.kgID }

// ---- mutations ----

// AddEntity adds a named entity. Duplicate names fail with a
// duplicate-entity storage error.
func (kg *KnowledgeGraph) AddEntity(ctx context.Context, name string, props map[string]string) error {
	if _, exists := kg.entities[name]; exists {
		return storage.NewError(storage.KindDuplicateEntity, "entity %q already exists", name)
	}
	if props == nil {
		props = map[string]string{}
	}
	if kg.backend != nil {
		if _, err := kg.backend.KGAddEntity(ctx, kg.kgID, name, props); err != nil {
			return err
		}
	}
	copied := make(map[string]string, len(props))
	for k, v := range props {
		copied[k] = v
	}
	kg.entities[name] = copied
	return nil
}

// SetEntityProperty sets one property, last write wins.
func (kg *KnowledgeGraph) SetEntityProperty(ctx context.Context, name, prop, value string) error {
	props, exists := kg.entities[name]
	if !exists {
		return storage.NewError(storage.KindEntityNotFound, "entity %q not found", name)
	}
	if kg.backend != nil {
		if err := kg.backend.KGSetEntityProperty(ctx, kg.kgID, name, prop, value); err != nil {
			return err
		}
	}
	props[prop] = value
	return nil
}

// RemoveEntityProperty deletes one property if present.
func (kg *KnowledgeGraph) RemoveEntityProperty(ctx context.Context, name, prop string) error {
	props, exists := kg.entities[name]
	if !exists {
		return storage.NewError(storage.KindEntityNotFound, "entity %q not found", name)
	}
	if kg.backend != nil {
		if err := kg.backend.KGRemoveEntityProperty(ctx, kg.kgID, name, prop); err != nil {
			return err
		}
	}
	delete(props, prop)
	return nil
}

// RemoveEntity deletes an entity and every relationship incident to it.
func (kg *KnowledgeGraph) RemoveEntity(ctx context.Context, name string) error {
	if _, exists := kg.entities[name]; !exists {
		return storage.NewError(storage.KindEntityNotFound, "entity %q not found", name)
	}
	if kg.backend != nil {
		if err := kg.backend.KGRemoveEntity(ctx, kg.kgID, name); err != nil {
			return err
		}
	}
	delete(kg.entities, name)
	kept := kg.rels[:0]
	for _, r := range kg.rels {
		if r.From != name && r.To != name {
			kept = append(kept, r)
		}
	}
	kg.rels = kept
	return nil
}

// AddRelationship adds a typed edge. Both endpoints must exist; a duplicate
// (from, type, to) triple fails with a duplicate-relationship error.
func (kg *KnowledgeGraph) AddRelationship(ctx context.Context, from, relType, to string, props map[string]string) error {
	if _, ok := kg.entities[from]; !ok {
		return storage.NewError(storage.KindEntityNotFound, "entity %q not found", from)
	}
	if _, ok := kg.entities[to]; !ok {
		return storage.NewError(storage.KindEntityNotFound, "entity %q not found", to)
	}
	if kg.findRelationship(from, relType, to) != nil {
		return storage.NewError(storage.KindDuplicateRelationship,
			"relationship %q -[%s]-> %q already exists", from, relType, to)
	}
	if props == nil {
		props = map[string]string{}
	}
	if kg.backend != nil {
		if _, err := kg.backend.KGAddRelationship(ctx, kg.kgID, from, relType, to, props); err != nil {
			return err
		}
	}
	copied := make(map[string]string, len(props))
	for k, v := range props {
		copied[k] = v
	}
	kg.rels = append(kg.rels, &Relationship{From: from, Type: relType, To: to, Properties: copied})
	return nil
}

// SetRelationshipProperty sets one property on an existing relationship.
func (kg *KnowledgeGraph) SetRelationshipProperty(ctx context.Context, from, relType, to, prop, value string) error {
	rel := kg.findRelationship(from, relType, to)
	if rel == nil {
		return storage.NewError(storage.KindEntityNotFound,
			"relationship %q -[%s]-> %q not found", from, relType, to)
	}
	if kg.backend != nil {
		if err := kg.backend.KGSetRelationshipProperty(ctx, kg.kgID, from, relType, to, prop, value); err != nil {
			return err
		}
	}
	rel.Properties[prop] = value
	return nil
}

// RemoveRelationshipProperty deletes one property from a relationship.
func (kg *KnowledgeGraph) RemoveRelationshipProperty(ctx context.Context, from, relType, to, prop string) error {
	rel := kg.findRelationship(from, relType, to)
	if rel == nil {
		return storage.NewError(storage.KindEntityNotFound,
			"relationship %q -[%s]-> %q not found", from, relType, to)
	}
	if kg.backend != nil {
		if err := kg.backend.KGRemoveRelationshipProperty(ctx, kg.kgID, from, relType, to, prop); err != nil {
			return err
		}
	}
	delete(rel.Properties, prop)
	return nil
}

// RemoveRelationship deletes a relationship.
func (kg *KnowledgeGraph) RemoveRelationship(ctx context.Context, from, relType, to string) error {
	rel := kg.findRelationship(from, relType, to)
	if rel == nil {
		return storage.NewError(storage.KindEntityNotFound,
			"relationship %q -[%s]-> %q not found", from, relType, to)
	}
	if kg.backend != nil {
		if err := kg.backend.KGRemoveRelationship(ctx, kg.kgID, from, relType, to); err != nil {
			return err
		}
	}
	for i, r := range kg.rels {
		if r == rel {
			kg.rels = append(kg.rels[:i], kg.rels[i+1:]...)
			break
		}
	}
	return nil
}

func (kg *KnowledgeGraph) findRelationship(from, relType, to string) *Relationship {
	for _, r := range kg.rels {
		if r.From == from && r.Type == relType && r.To == to {
			return r
		}
	}
	return nil
}

// ---- queries (in-memory only) ----

// GetEntity returns an entity copy, or nil if absent.
func (kg *KnowledgeGraph) GetEntity(name string) *Entity {
	props, ok := kg.entities[name]
	if !ok {
		return nil
	}
	copied := make(map[string]string, len(props))
	for k, v := range props {
		copied[k] = v
	}
	return &Entity{Name: name, Properties: copied}
}

// Entities returns all entity names, sorted.
func (kg *KnowledgeGraph) Entities() []string {
	out := make([]string, 0, len(kg.entities))
	for name := range kg.entities {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Relationships returns all relationships touching the entity, or every
// relationship for the empty string.
func (kg *KnowledgeGraph) Relationships(entity string) []Relationship {
	var out []Relationship
	for _, r := range kg.rels {
		if entity == "" || r.From == entity || r.To == entity {
			out = append(out, *r)
		}
	}
	return out
}

// Len returns (entity count, relationship count).
func (kg *KnowledgeGraph) Len() (int, int) {
	return len(kg.entities), len(kg.rels)
}

// FindPath returns the shortest undirected path between two entities as a
// list of entity names, or nil if none exists.
func (kg *KnowledgeGraph) FindPath(from, to string) []string {
	if _, ok := kg.entities[from]; !ok {
		return nil
	}
	if _, ok := kg.entities[to]; !ok {
		return nil
	}
	if from == to {
		return []string{from}
	}
	prev := map[string]string{from: from}
	queue := []string{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range kg.undirectedNeighbors(cur) {
			if _, seen := prev[next]; seen {
				continue
			}
			prev[next] = cur
			if next == to {
				return rebuildPath(prev, from, to)
			}
			queue = append(queue, next)
		}
	}
	return nil
}

func rebuildPath(prev map[string]string, from, to string) []string {
	var path []string
	for cur := to; ; cur = prev[cur] {
		path = append([]string{cur}, path...)
		if cur == from {
			return path
		}
	}
}

// FindAllPaths returns every simple undirected path between two entities up
// to maxDepth hops.
func (kg *KnowledgeGraph) FindAllPaths(from, to string, maxDepth int) [][]string {
	if _, ok := kg.entities[from]; !ok {
		return nil
	}
	if _, ok := kg.entities[to]; !ok {
		return nil
	}
	var out [][]string
	var walk func(cur string, path []string, visited map[string]bool)
	walk = func(cur string, path []string, visited map[string]bool) {
		if cur == to {
			cp := make([]string, len(path))
			copy(cp, path)
			out = append(out, cp)
			return
		}
		if len(path) > maxDepth {
			return
		}
		for _, next := range kg.undirectedNeighbors(cur) {
			if visited[next] {
				continue
			}
			visited[next] = true
			walk(next, append(path, next), visited)
			visited[next] = false
		}
	}
	walk(from, []string{from}, map[string]bool{from: true})
	return out
}

// Direction selects edge orientation for neighbourhood queries.
type Direction string

const (
	DirectionOut  Direction = "out"
	DirectionIn   Direction = "in"
	DirectionBoth Direction = "both"
)

// Neighbors returns the distinct entities adjacent to the given one, in the
// chosen direction, optionally filtered by relationship type. Results are
// sorted.
func (kg *KnowledgeGraph) Neighbors(entity string, dir Direction, relType string) []string {
	seen := map[string]bool{}
	for _, r := range kg.rels {
		if relType != "" && r.Type != relType {
			continue
		}
		if (dir == DirectionOut || dir == DirectionBoth) && r.From == entity {
			seen[r.To] = true
		}
		if (dir == DirectionIn || dir == DirectionBoth) && r.To == entity {
			seen[r.From] = true
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (kg *KnowledgeGraph) undirectedNeighbors(entity string) []string {
	return kg.Neighbors(entity, DirectionBoth, "")
}

// ConnectedWithin returns all entities reachable from the given one within k
// undirected hops, excluding the entity itself. Results are sorted.
func (kg *KnowledgeGraph) ConnectedWithin(entity string, k int) []string {
	if _, ok := kg.entities[entity]; !ok {
		return nil
	}
	visited := map[string]bool{entity: true}
	frontier := []string{entity}
	for depth := 0; depth < k && len(frontier) > 0; depth++ {
		var next []string
		for _, cur := range frontier {
			for _, n := range kg.undirectedNeighbors(cur) {
				if !visited[n] {
					visited[n] = true
					next = append(next, n)
				}
			}
		}
		frontier = next
	}
	delete(visited, entity)
	out := make([]string, 0, len(visited))
	for name := range visited {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// DegreeCount pairs an entity with its undirected degree.
type DegreeCount struct {
	Name   string
	Degree int
}

// MostConnected returns the n entities with the highest undirected degree,
// descending, ties broken by name.
func (kg *KnowledgeGraph) MostConnected(n int) []DegreeCount {
	degrees := map[string]int{}
	for name := range kg.entities {
		degrees[name] = 0
	}
	for _, r := range kg.rels {
		degrees[r.From]++
		degrees[r.To]++
	}
	out := make([]DegreeCount, 0, len(degrees))
	for name, d := range degrees {
		out = append(out, DegreeCount{Name: name, Degree: d})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Degree != out[j].Degree {
			return out[i].Degree > out[j].Degree
		}
		return out[i].Name < out[j].Name
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// IsolatedEntities returns entities with no relationships, sorted.
func (kg *KnowledgeGraph) IsolatedEntities() []string {
	connected := map[string]bool{}
	for _, r := range kg.rels {
		connected[r.From] = true
		connected[r.To] = true
	}
	var out []string
	for name := range kg.entities {
		if !connected[name] {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// ConnectedComponents returns the undirected components, each sorted, larger
// components first.
func (kg *KnowledgeGraph) ConnectedComponents() [][]string {
	visited := map[string]bool{}
	var components [][]string
	for _, start := range kg.Entities() {
		if visited[start] {
			continue
		}
		var comp []string
		queue := []string{start}
		visited[start] = true
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			comp = append(comp, cur)
			for _, n := range kg.undirectedNeighbors(cur) {
				if !visited[n] {
					visited[n] = true
					queue = append(queue, n)
				}
			}
		}
		sort.Strings(comp)
		components = append(components, comp)
	}
	sort.SliceStable(components, func(i, j int) bool {
		return len(components[i]) > len(components[j])
	})
	return components
}

// IsConnected reports whether the graph forms a single undirected component.
// The empty graph counts as connected.
func (kg *KnowledgeGraph) IsConnected() bool {
	return len(kg.ConnectedComponents()) <= 1
}

// FindEntitiesByType returns entities whose "type" property equals kind,
// sorted.
func (kg *KnowledgeGraph) FindEntitiesByType(kind string) []string {
	var out []string
	for name, props := range kg.entities {
		if props["type"] == kind {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// PropertyOp selects the comparison used by FindEntitiesByProperty.
type PropertyOp string

const (
	OpEquals      PropertyOp = "equals"
	OpContains    PropertyOp = "contains"
	OpGreaterThan PropertyOp = "greater_than"
	OpLessThan    PropertyOp = "less_than"
	OpExists      PropertyOp = "exists"
)

// FindEntitiesByProperty returns entities whose property matches value under
// the given operator, sorted. Numeric comparisons fall back to string
// comparison when either side does not parse as a number.
func (kg *KnowledgeGraph) FindEntitiesByProperty(prop string, value string, op PropertyOp) []string {
	var out []string
	for name, props := range kg.entities {
		got, ok := props[prop]
		if !ok {
			continue
		}
		match := false
		switch op {
		case OpExists:
			match = true
		case OpEquals:
			match = got == value
		case OpContains:
			match = strings.Contains(strings.ToLower(got), strings.ToLower(value))
		case OpGreaterThan:
			match = compareValues(got, value) > 0
		case OpLessThan:
			match = compareValues(got, value) < 0
		}
		if match {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func compareValues(a, b string) int {
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	if errA == nil && errB == nil {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	return strings.Compare(a, b)
}

// FindRelationshipsByType returns all relationships with the given type.
func (kg *KnowledgeGraph) FindRelationshipsByType(relType string) []Relationship {
	var out []Relationship
	for _, r := range kg.rels {
		if r.Type == relType {
			out = append(out, *r)
		}
	}
	return out
}

// Subgraph returns a new unbacked graph restricted to the given entities and
// the relationships among them.
func (kg *KnowledgeGraph) Subgraph(entities []string) *KnowledgeGraph {
	keep := map[string]bool{}
	for _, name := range entities {
		keep[name] = true
	}
	sub := NewKnowledgeGraph()
	for name, props := range kg.entities {
		if !keep[name] {
			continue
		}
		copied := make(map[string]string, len(props))
		for k, v := range props {
			copied[k] = v
		}
		sub.entities[name] = copied
	}
	for _, r := range kg.rels {
		if keep[r.From] && keep[r.To] {
			props := make(map[string]string, len(r.Properties))
			for k, v := range r.Properties {
				props[k] = v
			}
			sub.rels = append(sub.rels, &Relationship{From: r.From, Type: r.Type, To: r.To, Properties: props})
		}
	}
	return sub
}

// String renders a compact textual dump, one entity or relationship per
// line, suitable for tool output.
func (kg *KnowledgeGraph) String() string {
	var b strings.Builder
	for _, name := range kg.Entities() {
		props := kg.entities[name]
		keys := make([]string, 0, len(props))
		for k := range props {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var parts []string
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%s", k, props[k]))
		}
		fmt.Fprintf(&b, "entity %s {%s}\n", name, strings.Join(parts, ", "))
	}
	for _, r := range kg.rels {
		fmt.Fprintf(&b, "%s -[%s]-> %s\n", r.From, r.Type, r.To)
	}
	return b.String()
}
