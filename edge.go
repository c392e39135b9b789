package entigraph

import (
	"fmt"

	"github.com/google/uuid"
)

// EdgeKind identifies the container shape an EntityEdge was produced from.
type EdgeKind int

const (
	// EdgeDirect corresponds to a single Entity field.
	EdgeDirect EdgeKind = iota

	// EdgeList corresponds to an OrderedSeq<Entity> field; Index is set.
	EdgeList

	// EdgeSet corresponds to an UnorderedSet<Entity> field; Key is the
	// child's own ecs_id, stringified.
	EdgeSet

	// EdgeTuple corresponds to a FixedTuple<Entity...> field; Index is set.
	EdgeTuple

	// EdgeDict corresponds to a Map<K, Entity> field; Key is stringify(K).
	EdgeDict
)

func (k EdgeKind) String() string {
	switch k {
	case EdgeDirect:
		return "DIRECT"
	case EdgeList:
		return "LIST"
	case EdgeSet:
		return "SET"
	case EdgeTuple:
		return "TUPLE"
	case EdgeDict:
		return "DICT"
	default:
		return "UNKNOWN"
	}
}

// EntityEdge is a typed directed relation from a parent entity to a child.
// Edges are value objects identified by
// (SourceEcsID, TargetEcsID, Kind, Index-or-Key).
type EntityEdge struct {
	SourceEcsID uuid.UUID
	TargetEcsID uuid.UUID
	Kind        EdgeKind

	// Index is set for EdgeList / EdgeTuple, -1 otherwise.
	Index int

	// Key is set for EdgeSet / EdgeDict, "" otherwise.
	Key string

	// FieldName is the name of the field on the parent this edge came from.
	FieldName string
}

// edgeMapKey is a (src, dst) pair of node ids. EntityTree.Edges is not keyed
// by it but by the string from edgeKey, so two edges between the same
// ordered pair of nodes coexist only if they differ in Kind/Index/Key.
type edgeMapKey struct {
	Src uuid.UUID
	Dst uuid.UUID
}

// edgeKey returns the full identity key for an edge, folding in Kind and the
// slot (Index or Key) so no two distinct slots collide.
func edgeKey(srcEcsID, dstEcsID uuid.UUID, kind EdgeKind, index int, key string) string {
	return fmt.Sprintf("%s|%s|%d|%d|%s", srcEcsID, dstEcsID, kind, index, key)
}
