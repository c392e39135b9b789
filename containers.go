package entigraph

import "github.com/google/uuid"

// Set represents an UnorderedSet<Entity> schema field: a collection of
// entities keyed by their own ecs_id, so "keyed by child ecs_id" (spec.md
// §3, EntityEdge) falls directly out of the representation. Tag the field
// `ecs:"set"` (the default inference already treats map[uuid.UUID]T, T an
// Entity, as a Set, but the tag documents intent and is required if a field
// is genuinely a Map<uuid.UUID, Entity> instead).
type Set[T Entity] map[uuid.UUID]T

// NewSet builds a Set from a slice of entities, keying each by its current
// ecs_id.
func NewSet[T Entity](items ...T) Set[T] {
	s := make(Set[T], len(items))
	for _, it := range items {
		s[it.EntityHeader().EcsID] = it
	}
	return s
}

// Add inserts or replaces an entity in the set, keyed by its current ecs_id.
func (s Set[T]) Add(e T) { s[e.EntityHeader().EcsID] = e }

// Tuple represents a FixedTuple<Entity...> schema field: entities in a fixed
// positional order. Represented as a plain slice; tag the field `ecs:"tuple"`
// to distinguish it from an OrderedSeq<Entity> (list), since Go has no
// arity-checked generic tuple type and both are backed by a slice.
type Tuple[T Entity] []T
