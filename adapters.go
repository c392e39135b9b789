package entigraph

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// OperationKind is the result of the semantic classifier described in
// spec.md §6: given an input root, the output of whatever the excluded
// callable/execution layer did with it, and the set of live_ids handed to
// that execution as isolated copies, classify the relationship.
type OperationKind int

const (
	// OperationCreation: output is unrelated to anything in the input tree.
	OperationCreation OperationKind = iota

	// OperationMutation: output's live_id matches one of the execution
	// copies handed to the callable.
	OperationMutation

	// OperationDetachment: output's live_id belongs to a non-root node of
	// the input tree.
	OperationDetachment
)

func (k OperationKind) String() string {
	switch k {
	case OperationCreation:
		return "CREATION"
	case OperationMutation:
		return "MUTATION"
	case OperationDetachment:
		return "DETACHMENT"
	default:
		return "UNKNOWN"
	}
}

// CallableRegistryAdapter is the surface the excluded callable/execution
// layer is expected to consume (spec.md §6): it never sees Registry's
// internals, only this narrow interface. Registry implements it directly.
type CallableRegistryAdapter interface {
	FetchStoredEntity(rootEcsID, ecsID uuid.UUID) (Entity, error)
	FetchStoredTree(rootEcsID uuid.UUID) (*EntityTree, error)
	Commit(liveRoot Entity, force bool) (bool, error)
	Classify(input, output Entity, executionLiveIDs map[uuid.UUID]bool) (OperationKind, error)
}

// AddressResolverAdapter is the surface the excluded address-resolution
// layer consumes: given an entity's ecs_id and a dotted field path, resolve
// the value found there and the ecs_id that value's provenance names (nil if
// the value was authored locally rather than borrowed).
type AddressResolverAdapter interface {
	Resolve(ecsID uuid.UUID, path []string) (value any, source uuid.UUID, err error)
}

var (
	_ CallableRegistryAdapter = (*Registry)(nil)
	_ AddressResolverAdapter  = (*Registry)(nil)
)

// FetchStoredEntity satisfies CallableRegistryAdapter by delegating to
// GetStoredEntity.
func (r *Registry) FetchStoredEntity(rootEcsID, ecsID uuid.UUID) (Entity, error) {
	return r.GetStoredEntity(rootEcsID, ecsID)
}

// FetchStoredTree satisfies CallableRegistryAdapter by delegating to
// GetStoredTree.
func (r *Registry) FetchStoredTree(rootEcsID uuid.UUID) (*EntityTree, error) {
	return r.GetStoredTree(rootEcsID)
}

// Commit satisfies CallableRegistryAdapter by delegating to VersionEntity —
// the name callable code actually calls after it finishes executing against
// an isolated copy.
func (r *Registry) Commit(liveRoot Entity, force bool) (bool, error) {
	return r.VersionEntity(liveRoot, force)
}

// Classify implements the semantic classifier from spec.md §6:
//
//	MUTATION   iff output's live_id matches one of executionLiveIDs
//	DETACHMENT iff output's live_id appears in input's tree, but not as
//	           input's own root
//	CREATION   otherwise
func (r *Registry) Classify(input, output Entity, executionLiveIDs map[uuid.UUID]bool) (OperationKind, error) {
	ob := output.EntityHeader()

	if executionLiveIDs[ob.LiveID] {
		return OperationMutation, nil
	}

	inputTree, err := BuildTree(input)
	if err != nil {
		return 0, err
	}
	if _, inTree := inputTree.LiveIDIndex[ob.LiveID]; inTree && ob.LiveID != inputTree.RootLiveID {
		return OperationDetachment, nil
	}

	return OperationCreation, nil
}

// Resolve implements AddressResolverAdapter: it locates the stored entity
// with ecsID (via the ecs_id -> root_ecs_id index) and walks path one
// segment at a time. A segment is either a plain field name, or
// "field[N]"/"field[K]" to index into a LIST/TUPLE (N, an integer) or a
// SET/DICT (K, matched against the container's stringified key) field. The
// returned source is the provenance token recorded for the *final* path
// segment's field, or uuid.Nil if the value was authored locally.
func (r *Registry) Resolve(ecsID uuid.UUID, path []string) (any, uuid.UUID, error) {
	r.mu.RLock()
	rootID, ok := r.ecsIDToRootID[ecsID]
	if !ok {
		r.mu.RUnlock()
		return nil, uuid.Nil, withIDs(ErrNotFound, ecsID, uuid.Nil, uuid.Nil)
	}
	tree := r.trees[rootID]
	r.mu.RUnlock()

	entity, ok := tree.Nodes[ecsID]
	if !ok {
		return nil, uuid.Nil, withIDs(ErrNotFound, ecsID, uuid.Nil, rootID)
	}

	v := dereferencedValue(entity)
	var lastFieldKey string

	for _, segment := range path {
		field, slot, hasSlot := splitPathSegment(segment)

		fv := v.FieldByName(field)
		if !fv.IsValid() {
			return nil, uuid.Nil, fmt.Errorf("%w: field %q not found", ErrSchemaMismatch, field)
		}

		if !hasSlot {
			lastFieldKey = field
			v = dereferenceIfEntity(fv)
			continue
		}

		switch fv.Kind() {
		case reflect.Slice, reflect.Array:
			idx, err := strconv.Atoi(slot)
			if err != nil {
				return nil, uuid.Nil, fmt.Errorf("%w: bad index %q on field %s", ErrSchemaMismatch, slot, field)
			}
			if idx < 0 || idx >= fv.Len() {
				return nil, uuid.Nil, fmt.Errorf("%w: index %d out of range on field %s", ErrSchemaMismatch, idx, field)
			}
			lastFieldKey = fmt.Sprintf("%s[%d]", field, idx)
			v = dereferenceIfEntity(fv.Index(idx))

		case reflect.Map:
			found := false
			for _, k := range fv.MapKeys() {
				if fmt.Sprintf("%v", k.Interface()) == slot {
					lastFieldKey = fmt.Sprintf("%s[%s]", field, slot)
					v = dereferenceIfEntity(fv.MapIndex(k))
					found = true
					break
				}
			}
			if !found {
				return nil, uuid.Nil, fmt.Errorf("%w: key %q not found on field %s", ErrSchemaMismatch, slot, field)
			}

		default:
			return nil, uuid.Nil, fmt.Errorf("%w: field %s is not indexable", ErrSchemaMismatch, field)
		}
	}

	var value any
	if v.IsValid() {
		value = v.Interface()
	}

	source := uuid.Nil
	if entity.EntityHeader().AttributeSource != nil {
		if token, ok := entity.EntityHeader().AttributeSource[lastFieldKey]; ok && token != nil {
			source = *token
		}
	}
	return value, source, nil
}

// splitPathSegment splits "field[slot]" into ("field", "slot", true), or
// returns (segment, "", false) for a plain field name.
func splitPathSegment(segment string) (field, slot string, hasSlot bool) {
	open := strings.IndexByte(segment, '[')
	if open < 0 || !strings.HasSuffix(segment, "]") {
		return segment, "", false
	}
	return segment[:open], segment[open+1 : len(segment)-1], true
}

// dereferenceIfEntity dereferences v down to its underlying struct value
// when v holds an Entity, so a subsequent path segment can address that
// entity's own fields directly.
func dereferenceIfEntity(v reflect.Value) reflect.Value {
	if e, ok := entityOrNil(v); ok {
		return dereferencedValue(e)
	}
	return v
}
