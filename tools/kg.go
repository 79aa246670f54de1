package tools

import (
	"context"
	"fmt"

	"github.com/smallnest/agentgraphgo/llm"
	"github.com/smallnest/agentgraphgo/memory"
)

var errNoKnowledgeGraph = fmt.Errorf("no knowledge graph is bound to this agent")

func knowledgeOf(host Host) (*memory.KnowledgeGraph, error) {
	kg := host.Knowledge()
	if kg == nil {
		return nil, errNoKnowledgeGraph
	}
	return kg, nil
}

func kgParams(props map[string]llm.Property, required ...string) llm.Parameters {
	return llm.Parameters{Type: "object", Properties: props, Required: required}
}

var relationshipProps = map[string]llm.Property{
	"entity1":      {Type: "string", Description: "The starting entity of the relationship."},
	"relationship": {Type: "string", Description: "The type of relationship."},
	"entity2":      {Type: "string", Description: "The target entity of the relationship."},
}

func withProps(base map[string]llm.Property, extra map[string]llm.Property) map[string]llm.Property {
	out := make(map[string]llm.Property, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func relationshipKey(args map[string]any) (from, relType, to string) {
	return stringArg(args, "entity1"), stringArg(args, "relationship"), stringArg(args, "entity2")
}

// directionFromArg maps the tool-level direction vocabulary onto the graph's.
func directionFromArg(s string) memory.Direction {
	switch s {
	case "outgoing", "out":
		return memory.DirectionOut
	case "incoming", "in":
		return memory.DirectionIn
	default:
		return memory.DirectionBoth
	}
}

// propertyOpFromArg accepts both the short and the long operator spellings.
func propertyOpFromArg(s string) memory.PropertyOp {
	switch s {
	case "contains":
		return memory.OpContains
	case "gt", "greater_than":
		return memory.OpGreaterThan
	case "lt", "less_than":
		return memory.OpLessThan
	case "exists":
		return memory.OpExists
	default:
		return memory.OpEquals
	}
}

func kgAddEntity() *Definition {
	return &Definition{
		Name:        "kg_add_entity",
		Description: "Add a new entity to the knowledge graph with optional properties.",
		Parameters: kgParams(map[string]llm.Property{
			"name": {Type: "string", Description: "The name of the entity."},
			"type": {Type: "string", Description: "The type of the entity (e.g. Person, City, Company, etc)."},
		}, "name", "type"),
		Run: func(ctx context.Context, host Host, args map[string]any) (string, error) {
			kg, err := knowledgeOf(host)
			if err != nil {
				return "", err
			}
			name := stringArg(args, "name")
			if err := kg.AddEntity(ctx, name, map[string]string{"type": stringArg(args, "type")}); err != nil {
				return "", err
			}
			return fmt.Sprintf("Entity '%s' added successfully.", name), nil
		},
	}
}

func kgAddProperty() *Definition {
	return &Definition{
		Name:        "kg_add_property",
		Description: "Add a new property to an existing entity in the knowledge graph.",
		Parameters: kgParams(map[string]llm.Property{
			"entity":   {Type: "string", Description: "The name of the entity"},
			"property": {Type: "string", Description: "The property name"},
			"value":    {Type: "string", Description: "The property value"},
		}, "entity", "property", "value"),
		Run: func(ctx context.Context, host Host, args map[string]any) (string, error) {
			kg, err := knowledgeOf(host)
			if err != nil {
				return "", err
			}
			entity, prop := stringArg(args, "entity"), stringArg(args, "property")
			if err := kg.SetEntityProperty(ctx, entity, prop, stringArg(args, "value")); err != nil {
				return "", err
			}
			return fmt.Sprintf("Property '%s' set on entity '%s'.", prop, entity), nil
		},
	}
}

func kgAddRelationship() *Definition {
	return &Definition{
		Name:        "kg_add_relationship",
		Description: "Add a new relationship between two entities in the knowledge graph.",
		Parameters:  kgParams(relationshipProps, "entity1", "relationship", "entity2"),
		Run: func(ctx context.Context, host Host, args map[string]any) (string, error) {
			kg, err := knowledgeOf(host)
			if err != nil {
				return "", err
			}
			from, relType, to := relationshipKey(args)
			if err := kg.AddRelationship(ctx, from, relType, to, nil); err != nil {
				return "", err
			}
			return fmt.Sprintf("Relationship '%s --%s--> %s' added successfully.", from, relType, to), nil
		},
	}
}

func kgGetEntity() *Definition {
	return &Definition{
		Name:        "kg_get_entity",
		Description: "Retrieve an entity from the knowledge graph.",
		Parameters: kgParams(map[string]llm.Property{
			"entity": {Type: "string", Description: "The entity to retrieve"},
		}, "entity"),
		Run: func(ctx context.Context, host Host, args map[string]any) (string, error) {
			kg, err := knowledgeOf(host)
			if err != nil {
				return "", err
			}
			name := stringArg(args, "entity")
			ent := kg.GetEntity(name)
			if ent == nil {
				return fmt.Sprintf("Entity '%s' not found.", name), nil
			}
			return jsonResult(map[string]any{"name": ent.Name, "properties": ent.Properties}), nil
		},
	}
}

func formatRelationships(rels []memory.Relationship) string {
	out := make([]map[string]any, 0, len(rels))
	for _, r := range rels {
		m := map[string]any{"from": r.From, "type": r.Type, "to": r.To}
		if len(r.Properties) > 0 {
			m["properties"] = r.Properties
		}
		out = append(out, m)
	}
	return jsonResult(out)
}

func kgGetRelationships() *Definition {
	return &Definition{
		Name:        "kg_get_relationships",
		Description: "Retrieve relationships involving a specific entity, or all relationships if no entity is specified.",
		Parameters: kgParams(map[string]llm.Property{
			"entity": {Type: "string", Description: "The entity whose relationships to retrieve. Omit to retrieve all relationships."},
		}),
		Run: func(ctx context.Context, host Host, args map[string]any) (string, error) {
			kg, err := knowledgeOf(host)
			if err != nil {
				return "", err
			}
			rels := kg.Relationships(stringArg(args, "entity"))
			if len(rels) == 0 {
				return "No relationships found.", nil
			}
			return formatRelationships(rels), nil
		},
	}
}

func kgRemoveRelationship() *Definition {
	return &Definition{
		Name: "kg_remove_relationship",
		Description: "Remove a relationship between two entities from the knowledge graph. " +
			"Use this when information has changed (e.g., someone moved, changed jobs).",
		Parameters: kgParams(relationshipProps, "entity1", "relationship", "entity2"),
		Run: func(ctx context.Context, host Host, args map[string]any) (string, error) {
			kg, err := knowledgeOf(host)
			if err != nil {
				return "", err
			}
			from, relType, to := relationshipKey(args)
			if err := kg.RemoveRelationship(ctx, from, relType, to); err != nil {
				return "", err
			}
			return fmt.Sprintf("Relationship '%s --%s--> %s' removed.", from, relType, to), nil
		},
	}
}

func kgRemoveEntity() *Definition {
	return &Definition{
		Name: "kg_remove_entity",
		Description: "Remove an entity and all its relationships from the knowledge graph. " +
			"Use with caution - this will also remove all relationships involving this entity.",
		Parameters: kgParams(map[string]llm.Property{
			"entity": {Type: "string", Description: "The name of the entity to remove."},
		}, "entity"),
		Run: func(ctx context.Context, host Host, args map[string]any) (string, error) {
			kg, err := knowledgeOf(host)
			if err != nil {
				return "", err
			}
			name := stringArg(args, "entity")
			if err := kg.RemoveEntity(ctx, name); err != nil {
				return "", err
			}
			return fmt.Sprintf("Entity '%s' and its relationships removed.", name), nil
		},
	}
}

func kgRemoveEntityProperty() *Definition {
	return &Definition{
		Name: "kg_remove_entity_property",
		Description: "Remove a specific property from an entity in the knowledge graph. " +
			"Use when a property is no longer valid or needs to be cleared before updating.",
		Parameters: kgParams(map[string]llm.Property{
			"entity":   {Type: "string", Description: "The name of the entity."},
			"property": {Type: "string", Description: "The property name to remove."},
		}, "entity", "property"),
		Run: func(ctx context.Context, host Host, args map[string]any) (string, error) {
			kg, err := knowledgeOf(host)
			if err != nil {
				return "", err
			}
			entity, prop := stringArg(args, "entity"), stringArg(args, "property")
			if err := kg.RemoveEntityProperty(ctx, entity, prop); err != nil {
				return "", err
			}
			return fmt.Sprintf("Property '%s' removed from entity '%s'.", prop, entity), nil
		},
	}
}

func kgAddRelationshipProperty() *Definition {
	return &Definition{
		Name: "kg_add_relationship_property",
		Description: "Add a property to an existing relationship in the knowledge graph. " +
			"Use this for relationship metadata like start_date, end_date, confidence, source, etc.",
		Parameters: kgParams(withProps(relationshipProps, map[string]llm.Property{
			"property": {Type: "string", Description: "The property name to add."},
			"value":    {Type: "string", Description: "The property value."},
		}), "entity1", "relationship", "entity2", "property", "value"),
		Run: func(ctx context.Context, host Host, args map[string]any) (string, error) {
			kg, err := knowledgeOf(host)
			if err != nil {
				return "", err
			}
			from, relType, to := relationshipKey(args)
			prop := stringArg(args, "property")
			if err := kg.SetRelationshipProperty(ctx, from, relType, to, prop, stringArg(args, "value")); err != nil {
				return "", err
			}
			return fmt.Sprintf("Property '%s' set on relationship '%s --%s--> %s'.", prop, from, relType, to), nil
		},
	}
}

func kgGetRelationship() *Definition {
	return &Definition{
		Name:        "kg_get_relationship",
		Description: "Retrieve a specific relationship and its properties from the knowledge graph.",
		Parameters:  kgParams(relationshipProps, "entity1", "relationship", "entity2"),
		Run: func(ctx context.Context, host Host, args map[string]any) (string, error) {
			kg, err := knowledgeOf(host)
			if err != nil {
				return "", err
			}
			from, relType, to := relationshipKey(args)
			for _, r := range kg.Relationships(from) {
				if r.From == from && r.Type == relType && r.To == to {
					return formatRelationships([]memory.Relationship{r}), nil
				}
			}
			return fmt.Sprintf("Relationship '%s --%s--> %s' not found.", from, relType, to), nil
		},
	}
}

func kgRemoveRelationshipProperty() *Definition {
	return &Definition{
		Name:        "kg_remove_relationship_property",
		Description: "Remove a specific property from a relationship in the knowledge graph.",
		Parameters: kgParams(withProps(relationshipProps, map[string]llm.Property{
			"property": {Type: "string", Description: "The property name to remove."},
		}), "entity1", "relationship", "entity2", "property"),
		Run: func(ctx context.Context, host Host, args map[string]any) (string, error) {
			kg, err := knowledgeOf(host)
			if err != nil {
				return "", err
			}
			from, relType, to := relationshipKey(args)
			prop := stringArg(args, "property")
			if err := kg.RemoveRelationshipProperty(ctx, from, relType, to, prop); err != nil {
				return "", err
			}
			return fmt.Sprintf("Property '%s' removed from relationship '%s --%s--> %s'.", prop, from, relType, to), nil
		},
	}
}

func kgFindByType() *Definition {
	return &Definition{
		Name: "kg_find_by_type",
		Description: "Find all entities of a specific type in the knowledge graph. " +
			"Use this to discover all entities of a category (e.g., all people, all cities).",
		Parameters: kgParams(map[string]llm.Property{
			"entity_type": {Type: "string", Description: "The type to search for (e.g., 'person', 'city', 'organization')."},
		}, "entity_type"),
		Run: func(ctx context.Context, host Host, args map[string]any) (string, error) {
			kg, err := knowledgeOf(host)
			if err != nil {
				return "", err
			}
			kind := stringArg(args, "entity_type")
			results := kg.FindEntitiesByType(kind)
			if len(results) == 0 {
				return fmt.Sprintf("No entities of type '%s' found.", kind), nil
			}
			return jsonResult(results), nil
		},
	}
}

func kgFindByProperty() *Definition {
	return &Definition{
		Name: "kg_find_by_property",
		Description: "Find entities that have a specific property value. " +
			"Use this to search for entities matching certain criteria.",
		Parameters: kgParams(map[string]llm.Property{
			"property": {Type: "string", Description: "The property name to search."},
			"value":    {Type: "string", Description: "The value to match. Omit with operator 'exists' to find entities where the property exists."},
			"operator": {Type: "string", Description: "Comparison operator: 'eq' (equals), 'contains' (substring), 'gt' (greater than), 'lt' (less than), 'exists' (property exists)."},
		}, "property"),
		Run: func(ctx context.Context, host Host, args map[string]any) (string, error) {
			kg, err := knowledgeOf(host)
			if err != nil {
				return "", err
			}
			prop := stringArg(args, "property")
			op := propertyOpFromArg(stringArg(args, "operator"))
			results := kg.FindEntitiesByProperty(prop, stringArg(args, "value"), op)
			if len(results) == 0 {
				return fmt.Sprintf("No entities found with property '%s' matching criteria.", prop), nil
			}
			return jsonResult(results), nil
		},
	}
}

func kgFindRelationshipsByType() *Definition {
	return &Definition{
		Name: "kg_find_relationships_by_type",
		Description: "Find all relationships of a specific type in the knowledge graph. " +
			"Use this to discover all connections of a certain kind (e.g., all 'works_at' relationships).",
		Parameters: kgParams(map[string]llm.Property{
			"relationship_type": {Type: "string", Description: "The relationship type to search for (e.g., 'lives_in', 'works_at')."},
		}, "relationship_type"),
		Run: func(ctx context.Context, host Host, args map[string]any) (string, error) {
			kg, err := knowledgeOf(host)
			if err != nil {
				return "", err
			}
			relType := stringArg(args, "relationship_type")
			results := kg.FindRelationshipsByType(relType)
			if len(results) == 0 {
				return fmt.Sprintf("No relationships of type '%s' found.", relType), nil
			}
			return formatRelationships(results), nil
		},
	}
}

func kgGetNeighbors() *Definition {
	return &Definition{
		Name: "kg_get_neighbors",
		Description: "Get all entities directly connected to a given entity. " +
			"Use this to explore what an entity is connected to.",
		Parameters: kgParams(map[string]llm.Property{
			"entity":            {Type: "string", Description: "The entity to find neighbors for."},
			"direction":         {Type: "string", Description: "Direction of relationships: 'outgoing', 'incoming', or 'both'."},
			"relationship_type": {Type: "string", Description: "Optional: filter by relationship type."},
		}, "entity"),
		Run: func(ctx context.Context, host Host, args map[string]any) (string, error) {
			kg, err := knowledgeOf(host)
			if err != nil {
				return "", err
			}
			entity := stringArg(args, "entity")
			dir := directionFromArg(stringArg(args, "direction"))
			results := kg.Neighbors(entity, dir, stringArg(args, "relationship_type"))
			if len(results) == 0 {
				return fmt.Sprintf("No neighbors found for entity '%s'.", entity), nil
			}
			return jsonResult(results), nil
		},
	}
}

func kgFindPath() *Definition {
	return &Definition{
		Name: "kg_find_path",
		Description: "Find the shortest path between two entities in the knowledge graph. " +
			"Use this to discover how two entities are connected.",
		Parameters: kgParams(map[string]llm.Property{
			"entity1": {Type: "string", Description: "The starting entity."},
			"entity2": {Type: "string", Description: "The target entity."},
		}, "entity1", "entity2"),
		Run: func(ctx context.Context, host Host, args map[string]any) (string, error) {
			kg, err := knowledgeOf(host)
			if err != nil {
				return "", err
			}
			from, to := stringArg(args, "entity1"), stringArg(args, "entity2")
			path := kg.FindPath(from, to)
			if len(path) == 0 {
				return fmt.Sprintf("No path found between '%s' and '%s'.", from, to), nil
			}
			return jsonResult(path), nil
		},
	}
}

func kgGetConnected() *Definition {
	return &Definition{
		Name: "kg_get_connected",
		Description: "Get all entities connected to a given entity within N hops. " +
			"Use this to explore the neighborhood of an entity.",
		Parameters: kgParams(map[string]llm.Property{
			"entity":    {Type: "string", Description: "The starting entity."},
			"max_depth": {Type: "integer", Description: "Maximum number of hops (1-5 recommended)."},
		}, "entity"),
		Run: func(ctx context.Context, host Host, args map[string]any) (string, error) {
			kg, err := knowledgeOf(host)
			if err != nil {
				return "", err
			}
			entity := stringArg(args, "entity")
			results := kg.ConnectedWithin(entity, intArg(args, "max_depth", 2))
			if len(results) == 0 {
				return fmt.Sprintf("No connected entities found for '%s'.", entity), nil
			}
			return jsonResult(results), nil
		},
	}
}

func kgMostConnected() *Definition {
	return &Definition{
		Name: "kg_most_connected",
		Description: "Get the most connected entities in the knowledge graph. " +
			"Use this to find the most important/central entities.",
		Parameters: kgParams(map[string]llm.Property{
			"n": {Type: "integer", Description: "Number of entities to return."},
		}),
		Run: func(ctx context.Context, host Host, args map[string]any) (string, error) {
			kg, err := knowledgeOf(host)
			if err != nil {
				return "", err
			}
			results := kg.MostConnected(intArg(args, "n", 10))
			if len(results) == 0 {
				return "The knowledge graph is empty.", nil
			}
			out := make([]map[string]any, 0, len(results))
			for _, dc := range results {
				out = append(out, map[string]any{"entity": dc.Name, "connections": dc.Degree})
			}
			return jsonResult(out), nil
		},
	}
}

func kgIsolatedEntities() *Definition {
	return &Definition{
		Name: "kg_isolated_entities",
		Description: "Find entities with no relationships in the knowledge graph. " +
			"Use this to find orphaned entities that might need connections.",
		Parameters: kgParams(map[string]llm.Property{}),
		Run: func(ctx context.Context, host Host, args map[string]any) (string, error) {
			kg, err := knowledgeOf(host)
			if err != nil {
				return "", err
			}
			results := kg.IsolatedEntities()
			if len(results) == 0 {
				return "No isolated entities found. All entities are connected.", nil
			}
			return jsonResult(results), nil
		},
	}
}

func kgCheckConnectivity() *Definition {
	return &Definition{
		Name: "kg_check_connectivity",
		Description: "Check if the knowledge graph is fully connected. " +
			"Use this to verify graph integrity and find disconnected subgraphs.",
		Parameters: kgParams(map[string]llm.Property{}),
		Run: func(ctx context.Context, host Host, args map[string]any) (string, error) {
			kg, err := knowledgeOf(host)
			if err != nil {
				return "", err
			}
			if kg.IsConnected() {
				return "The knowledge graph is fully connected.", nil
			}
			components := kg.ConnectedComponents()
			return jsonResult(map[string]any{
				"is_connected":   false,
				"num_components": len(components),
				"components":     components,
			}), nil
		},
	}
}
