package entigraph

import (
	"crypto/sha256"
	"fmt"
	"hash"
	"reflect"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Entity is implemented by every domain type participating in the store.
// Implementations embed Base and expose it via EntityHeader, so the core
// never needs to know anything about a concrete type's own fields beyond
// what its Schema (see schema.go) classifies.
type Entity interface {
	EntityHeader() *Base
}

// Provenance is the token recorded in attribute_source for a single scalar
// field: the ecs_id of the entity the value was copied from, or nil if the
// value was authored locally.
type Provenance = *uuid.UUID

// nowFunc is the injectable clock used for CreatedAt/ForkedAt stamping.
// Tests may override it for deterministic timestamps; application code never
// needs to touch it.
var nowFunc = time.Now

// Base is the identity header every entity embeds. None of its fields are
// schema-classified as application data; the field introspection layer
// (schema.go) always skips an embedded Base when walking a type's fields.
type Base struct {
	// EcsID identifies this specific version. Primary key in snapshots.
	EcsID uuid.UUID

	// LineageID is shared by every version of the same logical entity.
	// Set once at creation and never changed by UpdateIdentity.
	LineageID uuid.UUID

	// LiveID identifies this object within the current process heap. Freshly
	// regenerated every time the entity is materialized live. Never
	// persisted (codec.go omits it).
	LiveID uuid.UUID

	// RootEcsID / RootLiveID identify the tree this entity currently heads
	// or belongs to. Both are uuid.Nil when the entity is free-floating.
	RootEcsID  uuid.UUID
	RootLiveID uuid.UUID

	// PreviousEcsID is the immediate predecessor version's ecs_id.
	PreviousEcsID uuid.UUID

	// OldEcsID is the pre-promotion identity, set on detachment traces.
	OldEcsID uuid.UUID

	// OldIDs is the ordered list of every superseded ecs_id for this
	// lineage (oldest first).
	OldIDs []uuid.UUID

	// CreatedAt / ForkedAt are stamped at first creation and at the most
	// recent fork respectively.
	CreatedAt time.Time
	ForkedAt  time.Time

	// FromStorage is true if this object was hydrated from a snapshot; it
	// guards against treating a read-only historical copy as writable
	// without first re-issuing LiveID via PromoteToRoot.
	FromStorage bool

	// AttributeSource maps a field name (or, for containers, a synthetic
	// "field[i]" / "field[k]" key) to the provenance token recorded the
	// last time that value was borrowed rather than authored locally.
	AttributeSource map[string]Provenance

	// hydratedLiveID freezes the LiveID value at hydration time so
	// UpdateIdentity can detect "still the storage copy, never
	// re-promoted" even if callers mutate LiveID directly (they shouldn't,
	// but nothing stops them).
	hydratedLiveID uuid.UUID
}

// NewBase initializes a Base for a brand-new, free-floating entity: fresh
// ecs_id, lineage_id, and live_id, no root, no history.
func NewBase() Base {
	id := uuid.New()
	now := nowFunc()
	return Base{
		EcsID:           id,
		LineageID:       uuid.New(),
		LiveID:          uuid.New(),
		CreatedAt:       now,
		ForkedAt:        now,
		AttributeSource: map[string]Provenance{},
	}
}

// EntityHeader implements Entity for Base itself, so Base can be embedded
// and used directly in tests without a wrapping domain type.
func (b *Base) EntityHeader() *Base { return b }

// IsRoot reports whether this entity currently heads its own tree.
func (b *Base) IsRoot() bool {
	return b.RootEcsID != uuid.Nil && b.RootEcsID == b.EcsID
}

// UpdateIdentity mints a fresh ecs_id for e, pushes the current ecs_id onto
// old_ids, sets previous_ecs_id, rewrites the root pointers, and stamps
// forked_at. lineage_id is never touched. Returns ErrFrozenEntity if e is a
// from_storage object whose live_id has not been reissued since hydration
// (i.e. it was never passed through PromoteToRoot).
func UpdateIdentity(e Entity, newRootEcsID, newRootLiveID uuid.UUID) error {
	return updateIdentityTo(e, uuid.New(), newRootEcsID, newRootLiveID)
}

// updateIdentityTo is UpdateIdentity with the new ecs_id supplied by the
// caller rather than minted internally — needed by the registry's
// version_entity, where the tree's own root must receive a pre-chosen new
// ecs_id so that RootEcsID == EcsID holds for the forked root.
func updateIdentityTo(e Entity, newEcsID, newRootEcsID, newRootLiveID uuid.UUID) error {
	b := e.EntityHeader()
	if b.FromStorage && b.LiveID == b.hydratedLiveID {
		return withIDs(ErrFrozenEntity, b.EcsID, b.LineageID, b.RootEcsID)
	}

	old := b.EcsID
	b.OldIDs = append(b.OldIDs, old)
	b.PreviousEcsID = old
	b.EcsID = newEcsID
	b.RootEcsID = newRootEcsID
	b.RootLiveID = newRootLiveID
	b.ForkedAt = nowFunc()
	return nil
}

// RecordSource writes attribute_source[field] = token for a scalar field.
// Required after every copy/borrow so provenance stays traceable.
func RecordSource(e Entity, field string, token Provenance) {
	b := e.EntityHeader()
	if b.AttributeSource == nil {
		b.AttributeSource = map[string]Provenance{}
	}
	b.AttributeSource[field] = token
}

// RecordSourceAt writes attribute_source["field[i]"] = token, the
// element-wise form used for list-field provenance.
func RecordSourceAt(e Entity, field string, index int, token Provenance) {
	RecordSource(e, fmt.Sprintf("%s[%d]", field, index), token)
}

// RecordSourceKey writes attribute_source["field[k]"] = token, the
// per-key form used for map-field provenance.
func RecordSourceKey(e Entity, field string, key string, token Provenance) {
	RecordSource(e, fmt.Sprintf("%s[%s]", field, key), token)
}

// HashNonEntityAttributes computes a stable digest over every primitive and
// opaque field of e, in schema order, with container ordering preserved.
// Two entities with the same non-entity digest but different LineageID are
// still considered different by the differ (see differ.go); this function
// only ever compares values, never identity.
func HashNonEntityAttributes(e Entity) ([]byte, error) {
	h := sha256.New()
	s, err := schemaOf(e)
	if err != nil {
		return nil, err
	}

	v := dereferencedValue(e)
	for _, f := range s.Fields {
		if f.Kind != FieldPrimitive && f.Kind != FieldOpaque {
			continue
		}
		fv := v.Field(f.Index)
		fmt.Fprintf(h, "%s=", f.Name)
		hashValue(h, fv)
		h.Write([]byte{0})
	}
	return h.Sum(nil), nil
}

// hashValue writes a stable textual encoding of v into h. Maps are sorted by
// string key first so their contribution to the digest is order-independent
// at the map level while slice/array order is preserved verbatim.
func hashValue(h hash.Hash, v reflect.Value) {
	switch {
	case !v.IsValid() || isNilable(v.Kind()) && v.IsNil():
		h.Write([]byte("<nil>"))
	case v.Kind() == reflect.Map:
		type kv struct {
			key string
			val reflect.Value
		}
		pairs := make([]kv, 0, v.Len())
		for _, k := range v.MapKeys() {
			pairs = append(pairs, kv{key: fmt.Sprintf("%v", k.Interface()), val: v.MapIndex(k)})
		}
		sort.Slice(pairs, func(i, j int) bool { return pairs[i].key < pairs[j].key })
		for _, p := range pairs {
			fmt.Fprintf(h, "%s:", p.key)
			hashValue(h, p.val)
			h.Write([]byte(";"))
		}
	case v.Kind() == reflect.Slice || v.Kind() == reflect.Array:
		for i := 0; i < v.Len(); i++ {
			hashValue(h, v.Index(i))
			h.Write([]byte(","))
		}
	default:
		fmt.Fprintf(h, "%v", v.Interface())
	}
}

func isNilable(k reflect.Kind) bool {
	switch k {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Ptr, reflect.Slice:
		return true
	default:
		return false
	}
}
