package entigraph

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/google/uuid"
)

// EntityTree is an immutable snapshot of a rooted subgraph of entities. Once
// built (or installed in a Registry) it is never mutated in place — every
// versioning operation produces a new *EntityTree (invariant 8).
type EntityTree struct {
	RootEcsID  uuid.UUID
	RootLiveID uuid.UUID

	// Nodes maps ecs_id to the entity at that version within this tree.
	Nodes map[uuid.UUID]Entity

	// Edges maps the canonical edge key (see edge.go's edgeKey) to the edge
	// itself. No two edges in a tree share a key.
	Edges map[string]EntityEdge

	// AncestryPaths maps ecs_id to the ordered sequence of ecs_ids from the
	// root down to (and including) that node.
	AncestryPaths map[uuid.UUID][]uuid.UUID

	// LiveIDIndex maps live_id to ecs_id, for traversing the in-memory graph.
	LiveIDIndex map[uuid.UUID]uuid.UUID

	// TypeIndex maps a type name to the set of ecs_ids of that type present
	// in this tree.
	TypeIndex map[string]map[uuid.UUID]bool

	NodeCount int
	EdgeCount int
	MaxDepth  int
}

// newEmptyTree allocates an EntityTree with every index initialized, ready
// to be populated by BuildTree or by Registry's tree-rewrite step.
func newEmptyTree() *EntityTree {
	return &EntityTree{
		Nodes:         map[uuid.UUID]Entity{},
		Edges:         map[string]EntityEdge{},
		AncestryPaths: map[uuid.UUID][]uuid.UUID{},
		LiveIDIndex:   map[uuid.UUID]uuid.UUID{},
		TypeIndex:     map[string]map[uuid.UUID]bool{},
	}
}

// typeName returns the stable type name used in TypeIndex and in the
// persisted snapshot layout (codec.go).
func typeName(e Entity) string {
	t := reflect.TypeOf(e)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// bfsFrontierEntry is one (fieldName, child, edge-shape) entry discovered on
// the parent BuildTree's BFS is currently expanding.
type bfsFrontierEntry struct {
	child     Entity
	kind      EdgeKind
	index     int
	key       string
	fieldName string
}

// BuildTree performs a BFS from root, classifying every schema field via
// schemaOf, and produces a new EntityTree. root must already satisfy
// root.EntityHeader().RootEcsID == root.EntityHeader().EcsID (spec.md §4.3).
//
// Cycle detection tracks the path-local ancestor chain: if a node reachable
// from itself reappears among its own ancestors, BuildTree fails with
// ErrCycleDetected. A child reachable through two distinct parents instead
// fails with ErrSharingDetected (strict mode, spec.md §4.3's default) — the
// two cases are told apart by parentOf, not by a single global visited set.
//
// Every discovered child has its root_ecs_id/root_live_id stamped to this
// tree's root (invariant 5, spec.md §3).
func BuildTree(root Entity) (*EntityTree, error) {
	rb := root.EntityHeader()
	if rb.RootEcsID != rb.EcsID || rb.RootEcsID == uuid.Nil {
		return nil, withIDs(ErrNotRoot, rb.EcsID, rb.LineageID, rb.RootEcsID)
	}

	tree := newEmptyTree()
	tree.RootEcsID = rb.EcsID
	tree.RootLiveID = rb.LiveID

	parentOf := map[uuid.UUID]uuid.UUID{rb.EcsID: uuid.Nil} // ecs_id -> parent ecs_id, for SharingDetected

	tree.Nodes[rb.EcsID] = root
	tree.AncestryPaths[rb.EcsID] = []uuid.UUID{rb.EcsID}
	tree.LiveIDIndex[rb.LiveID] = rb.EcsID
	indexType(tree, root)

	queue := []Entity{root}
	for len(queue) > 0 {
		parent := queue[0]
		queue = queue[1:]
		pb := parent.EntityHeader()

		frontier, err := schemaChildren(parent)
		if err != nil {
			return nil, err
		}

		for _, fe := range frontier {
			child := fe.child
			cb := child.EntityHeader()

			if isAncestor(tree, pb.EcsID, cb.EcsID) {
				return nil, withIDs(ErrCycleDetected, cb.EcsID, cb.LineageID, tree.RootEcsID)
			}

			if existingParent, seen := parentOf[cb.EcsID]; seen && existingParent != pb.EcsID {
				return nil, withIDs(ErrSharingDetected, cb.EcsID, cb.LineageID, tree.RootEcsID)
			}

			edge := EntityEdge{
				SourceEcsID: pb.EcsID,
				TargetEcsID: cb.EcsID,
				Kind:        fe.kind,
				Index:       fe.index,
				Key:         fe.key,
				FieldName:   fe.fieldName,
			}
			tree.Edges[edgeKey(pb.EcsID, cb.EcsID, fe.kind, fe.index, fe.key)] = edge

			if _, already := tree.Nodes[cb.EcsID]; already {
				// Same child already visited via this same parent (e.g. a
				// set/map holding the same reference under two keys); just
				// the extra edge above is new, nothing else to do.
				continue
			}

			parentOf[cb.EcsID] = pb.EcsID
			cb.RootEcsID = tree.RootEcsID
			cb.RootLiveID = tree.RootLiveID
			tree.Nodes[cb.EcsID] = child
			tree.AncestryPaths[cb.EcsID] = append(append([]uuid.UUID{}, tree.AncestryPaths[pb.EcsID]...), cb.EcsID)
			tree.LiveIDIndex[cb.LiveID] = cb.EcsID
			indexType(tree, child)

			queue = append(queue, child)
		}
	}

	tree.NodeCount = len(tree.Nodes)
	tree.EdgeCount = len(tree.Edges)
	tree.MaxDepth = 0
	for _, path := range tree.AncestryPaths {
		if d := len(path) - 1; d > tree.MaxDepth {
			tree.MaxDepth = d
		}
	}

	return tree, nil
}

// isAncestor reports whether candidateEcsID is nodeEcsID itself or one of
// its proper ancestors, by walking nodeEcsID's already-recorded ancestry
// path. Used to tell a genuine cycle (a child pointing back into the chain
// of its own ancestors) apart from legitimate sharing (a child reachable
// from two unrelated parents).
func isAncestor(tree *EntityTree, nodeEcsID, candidateEcsID uuid.UUID) bool {
	for _, id := range tree.AncestryPaths[nodeEcsID] {
		if id == candidateEcsID {
			return true
		}
	}
	return false
}

func indexType(tree *EntityTree, e Entity) {
	name := typeName(e)
	set, ok := tree.TypeIndex[name]
	if !ok {
		set = map[uuid.UUID]bool{}
		tree.TypeIndex[name] = set
	}
	set[e.EntityHeader().EcsID] = true
}

// schemaChildren classifies every field of parent's schema and returns one
// bfsFrontierEntry per entity reference discovered, in schema-declared field
// order and, within a container field, in container order.
func schemaChildren(parent Entity) ([]bfsFrontierEntry, error) {
	s, err := schemaOf(parent)
	if err != nil {
		return nil, err
	}

	v := dereferencedValue(parent)
	var out []bfsFrontierEntry

	for _, f := range s.Fields {
		fv := v.Field(f.Index)
		switch f.Kind {
		case FieldEntity:
			child, ok := entityOrNil(fv)
			if !ok {
				continue // container slot absent; no edge, provenance slot is None
			}
			out = append(out, bfsFrontierEntry{child: child, kind: EdgeDirect, index: -1, fieldName: f.Name})

		case FieldEntityList, FieldEntityTuple:
			kind := EdgeList
			if f.Kind == FieldEntityTuple {
				kind = EdgeTuple
			}
			for i := 0; i < fv.Len(); i++ {
				child, ok := entityOrNil(fv.Index(i))
				if !ok {
					continue
				}
				out = append(out, bfsFrontierEntry{child: child, kind: kind, index: i, fieldName: f.Name})
			}

		case FieldEntitySet:
			keys := fv.MapKeys()
			sortMapKeysForDeterminism(keys)
			for _, k := range keys {
				child, ok := entityOrNil(fv.MapIndex(k))
				if !ok {
					continue
				}
				out = append(out, bfsFrontierEntry{
					child: child, kind: EdgeSet, index: -1,
					key: child.EntityHeader().EcsID.String(), fieldName: f.Name,
				})
			}

		case FieldEntityMap:
			keys := fv.MapKeys()
			sortMapKeysForDeterminism(keys)
			for _, k := range keys {
				child, ok := entityOrNil(fv.MapIndex(k))
				if !ok {
					continue
				}
				out = append(out, bfsFrontierEntry{
					child: child, kind: EdgeDict, index: -1,
					key: fmt.Sprintf("%v", k.Interface()), fieldName: f.Name,
				})
			}

		case FieldOpaque:
			out = append(out, walkOpaque(fv, f.Name)...)
		}
	}
	return out, nil
}

// entityOrNil extracts an Entity from a reflect.Value that may be nil
// (a nil pointer or interface), returning ok=false if there is nothing
// there — a container slot that's None/absent contributes no edge.
func entityOrNil(v reflect.Value) (Entity, bool) {
	if !v.IsValid() {
		return nil, false
	}
	if (v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface) && v.IsNil() {
		return nil, false
	}
	e, ok := v.Interface().(Entity)
	if !ok || e == nil {
		return nil, false
	}
	return e, true
}

// walkOpaque reflect-walks a field the schema could not classify precisely,
// looking one level into slices/maps for anything implementing Entity,
// wiring each as a DIRECT edge per spec.md §4.2's "mixed/opaque" policy.
func walkOpaque(v reflect.Value, fieldName string) []bfsFrontierEntry {
	var out []bfsFrontierEntry
	if child, ok := entityOrNil(v); ok {
		out = append(out, bfsFrontierEntry{child: child, kind: EdgeDirect, index: -1, fieldName: fieldName})
		return out
	}
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if child, ok := entityOrNil(v.Index(i)); ok {
				out = append(out, bfsFrontierEntry{child: child, kind: EdgeDirect, index: -1, fieldName: fieldName})
			}
		}
	case reflect.Map:
		keys := v.MapKeys()
		sortMapKeysForDeterminism(keys)
		for _, k := range keys {
			if child, ok := entityOrNil(v.MapIndex(k)); ok {
				out = append(out, bfsFrontierEntry{child: child, kind: EdgeDirect, index: -1, fieldName: fieldName})
			}
		}
	}
	return out
}

// sortMapKeysForDeterminism sorts reflect.Value map keys by their string
// form in place, so Set/Map field iteration order (and hence edge discovery
// order during BuildTree) is deterministic across runs even though Go map
// iteration order is not.
func sortMapKeysForDeterminism(keys []reflect.Value) {
	sort.Slice(keys, func(i, j int) bool {
		return fmt.Sprintf("%v", keys[i].Interface()) < fmt.Sprintf("%v", keys[j].Interface())
	})
}
