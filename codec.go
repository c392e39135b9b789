package entigraph

import (
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// persistableTypes maps a type name (as returned by typeName) to the
// concrete struct type registered for it, so DecodeSnapshot can allocate the
// right Go type for each node. RegisterPersistableType must be called once
// per domain entity type before any snapshot referencing it is decoded.
var persistableTypes sync.Map // string -> reflect.Type (struct, not pointer)

// RegisterPersistableType makes zero's concrete type decodable by
// DecodeSnapshot. It also warms the schema cache for that type, since
// decoding immediately needs its Schema to place field values.
func RegisterPersistableType(zero Entity) {
	t := reflect.TypeOf(zero)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	persistableTypes.Store(t.Name(), t)
	RegisterType(zero)
}

// snapshotRecord is the on-disk shape of a single EntityTree, per spec.md
// §6's persisted state layout: root_ecs_id, root_lineage_id, schema-typed
// nodes, edges (with kind/index/key/field_name), and ancestry_paths.
// live_id, root_live_id, and from_storage are runtime-only and never
// appear here.
type snapshotRecord struct {
	RootEcsID     uuid.UUID              `yaml:"root_ecs_id"`
	RootLineageID uuid.UUID              `yaml:"root_lineage_id"`
	Nodes         []nodeEnvelope         `yaml:"nodes"`
	Edges         []edgeEnvelope         `yaml:"edges"`
	AncestryPaths map[string][]uuid.UUID `yaml:"ancestry_paths"`
}

type nodeEnvelope struct {
	Type            string                  `yaml:"type"`
	EcsID           uuid.UUID               `yaml:"ecs_id"`
	LineageID       uuid.UUID               `yaml:"lineage_id"`
	RootEcsID       uuid.UUID               `yaml:"root_ecs_id"`
	PreviousEcsID   uuid.UUID               `yaml:"previous_ecs_id,omitempty"`
	OldEcsID        uuid.UUID               `yaml:"old_ecs_id,omitempty"`
	OldIDs          []uuid.UUID             `yaml:"old_ids,omitempty"`
	CreatedAt       time.Time               `yaml:"created_at"`
	ForkedAt        time.Time               `yaml:"forked_at"`
	AttributeSource map[string]*uuid.UUID   `yaml:"attribute_source,omitempty"`
	Fields          map[string]yaml.Node    `yaml:"fields,omitempty"`
}

type edgeEnvelope struct {
	SourceEcsID uuid.UUID `yaml:"source_ecs_id"`
	TargetEcsID uuid.UUID `yaml:"target_ecs_id"`
	Kind        string    `yaml:"kind"`
	Index       int       `yaml:"index,omitempty"`
	Key         string    `yaml:"key,omitempty"`
	FieldName   string    `yaml:"field_name"`
}

// EncodeSnapshot serializes tree into its on-disk YAML form. Every node's
// concrete type must have been registered via RegisterPersistableType.
func EncodeSnapshot(tree *EntityTree) ([]byte, error) {
	rec := snapshotRecord{
		RootEcsID:     tree.RootEcsID,
		AncestryPaths: make(map[string][]uuid.UUID, len(tree.AncestryPaths)),
	}

	if root, ok := tree.Nodes[tree.RootEcsID]; ok {
		rec.RootLineageID = root.EntityHeader().LineageID
	}

	for _, e := range tree.Nodes {
		env, err := encodeNode(e)
		if err != nil {
			return nil, err
		}
		rec.Nodes = append(rec.Nodes, env)
	}
	for _, edge := range tree.Edges {
		rec.Edges = append(rec.Edges, edgeEnvelope{
			SourceEcsID: edge.SourceEcsID,
			TargetEcsID: edge.TargetEcsID,
			Kind:        edge.Kind.String(),
			Index:       edge.Index,
			Key:         edge.Key,
			FieldName:   edge.FieldName,
		})
	}
	for id, path := range tree.AncestryPaths {
		rec.AncestryPaths[id.String()] = path
	}

	return yaml.Marshal(rec)
}

func encodeNode(e Entity) (nodeEnvelope, error) {
	b := e.EntityHeader()
	env := nodeEnvelope{
		Type:            typeName(e),
		EcsID:           b.EcsID,
		LineageID:       b.LineageID,
		RootEcsID:       b.RootEcsID,
		PreviousEcsID:   b.PreviousEcsID,
		OldEcsID:        b.OldEcsID,
		OldIDs:          b.OldIDs,
		CreatedAt:       b.CreatedAt,
		ForkedAt:        b.ForkedAt,
		AttributeSource: b.AttributeSource,
		Fields:          map[string]yaml.Node{},
	}

	s, err := schemaOf(e)
	if err != nil {
		return nodeEnvelope{}, err
	}
	v := dereferencedValue(e)
	for _, f := range s.Fields {
		if f.Kind != FieldPrimitive && f.Kind != FieldOpaque {
			continue // entity-valued fields are reconstructed from edges, not re-serialized
		}
		var n yaml.Node
		if err := n.Encode(v.Field(f.Index).Interface()); err != nil {
			return nodeEnvelope{}, fmt.Errorf("%w: encoding field %s: %v", ErrSchemaMismatch, f.Name, err)
		}
		env.Fields[f.Name] = n
	}
	return env, nil
}

// DecodeSnapshot reconstructs an EntityTree from bytes produced by
// EncodeSnapshot. Every reconstructed node is from_storage = true with a
// freshly minted live_id, matching the runtime contract for anything
// rehydrated from the registry's backing store.
func DecodeSnapshot(data []byte) (*EntityTree, error) {
	var rec snapshotRecord
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}

	tree := newEmptyTree()
	tree.RootEcsID = rec.RootEcsID

	for _, env := range rec.Nodes {
		e, err := decodeNode(env)
		if err != nil {
			return nil, err
		}
		b := e.EntityHeader()
		tree.Nodes[env.EcsID] = e
		tree.LiveIDIndex[b.LiveID] = env.EcsID
		indexType(tree, e)
		if env.EcsID == tree.RootEcsID {
			tree.RootLiveID = b.LiveID
		}
	}

	for _, ee := range rec.Edges {
		kind, err := parseEdgeKind(ee.Kind)
		if err != nil {
			return nil, err
		}
		edge := EntityEdge{
			SourceEcsID: ee.SourceEcsID,
			TargetEcsID: ee.TargetEcsID,
			Kind:        kind,
			Index:       ee.Index,
			Key:         ee.Key,
			FieldName:   ee.FieldName,
		}
		tree.Edges[edgeKey(edge.SourceEcsID, edge.TargetEcsID, edge.Kind, edge.Index, edge.Key)] = edge
	}

	for idStr, path := range rec.AncestryPaths {
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("%w: bad ancestry path key %q", ErrSchemaMismatch, idStr)
		}
		tree.AncestryPaths[id] = path
	}

	tree.NodeCount = len(tree.Nodes)
	tree.EdgeCount = len(tree.Edges)
	for _, path := range tree.AncestryPaths {
		if d := len(path) - 1; d > tree.MaxDepth {
			tree.MaxDepth = d
		}
	}

	return tree, nil
}

func decodeNode(env nodeEnvelope) (Entity, error) {
	rt, ok := persistableTypes.Load(env.Type)
	if !ok {
		return nil, fmt.Errorf("%w: unregistered persisted type %q", ErrSchemaMismatch, env.Type)
	}
	structType := rt.(reflect.Type)

	ptr := reflect.New(structType)
	baseField := ptr.Elem().FieldByName("Base")
	if !baseField.IsValid() {
		return nil, fmt.Errorf("%w: type %q has no embedded Base", ErrSchemaMismatch, env.Type)
	}
	b := baseField.Addr().Interface().(*Base)

	liveID := uuid.New()
	*b = Base{
		EcsID:           env.EcsID,
		LineageID:       env.LineageID,
		LiveID:          liveID,
		RootEcsID:       env.RootEcsID,
		PreviousEcsID:   env.PreviousEcsID,
		OldEcsID:        env.OldEcsID,
		OldIDs:          env.OldIDs,
		CreatedAt:       env.CreatedAt,
		ForkedAt:        env.ForkedAt,
		FromStorage:     true,
		AttributeSource: env.AttributeSource,
		hydratedLiveID:  liveID,
	}

	e := ptr.Interface().(Entity)
	s, err := schemaOf(e)
	if err != nil {
		return nil, err
	}
	v := dereferencedValue(e)
	for _, f := range s.Fields {
		node, ok := env.Fields[f.Name]
		if !ok {
			continue
		}
		fv := v.Field(f.Index)
		if err := node.Decode(fv.Addr().Interface()); err != nil {
			return nil, fmt.Errorf("%w: decoding field %s: %v", ErrSchemaMismatch, f.Name, err)
		}
	}
	return e, nil
}

func parseEdgeKind(s string) (EdgeKind, error) {
	switch s {
	case "DIRECT":
		return EdgeDirect, nil
	case "LIST":
		return EdgeList, nil
	case "SET":
		return EdgeSet, nil
	case "TUPLE":
		return EdgeTuple, nil
	case "DICT":
		return EdgeDict, nil
	default:
		return 0, fmt.Errorf("%w: unknown edge kind %q", ErrSchemaMismatch, s)
	}
}
