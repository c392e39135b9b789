package entigraph

import (
	"reflect"

	"github.com/google/uuid"
)

// PromoteToRoot implements promote_to_root (C6): e must currently be
// free-floating (root_ecs_id is nil) or already self-rooted. A from_storage
// copy whose live_id has not been reissued gets a fresh live_id first. Its
// root pointers are set to itself, a fresh tree is built from it and
// registered, and the installed snapshot is returned. Calling PromoteToRoot
// on an entity whose tree is already installed under its ecs_id registers
// nothing and returns the installed tree — idempotent per spec.md §4.6.
func (r *Registry) PromoteToRoot(e Entity) (*EntityTree, error) {
	b := e.EntityHeader()
	if b.RootEcsID != uuid.Nil && b.RootEcsID != b.EcsID {
		return nil, withIDs(ErrAlreadyAttached, b.EcsID, b.LineageID, b.RootEcsID)
	}

	if b.FromStorage && b.LiveID == b.hydratedLiveID {
		b.LiveID = uuid.New()
	}
	b.RootEcsID = b.EcsID
	b.RootLiveID = b.LiveID

	tree, err := BuildTree(e)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	installed, alreadyInstalled := r.trees[tree.RootEcsID]
	r.mu.RUnlock()
	if alreadyInstalled {
		r.notifyPromoted(e)
		return installed, nil
	}

	if err := r.RegisterTree(tree); err != nil {
		return nil, err
	}
	installed, err = r.GetStoredTree(tree.RootEcsID)
	if err != nil {
		return nil, err
	}
	r.notifyPromoted(e)
	return installed, nil
}

// Attach implements attach (C6): newParentRoot must itself be a root. The
// caller is expected to have already wired e into newParentRoot's live
// object graph (assigned it into a field) before calling Attach; Attach's
// job is to validate the precondition and point e's root pointers at
// newParentRoot's tree so the next VersionEntity(newParentRoot) integrates
// it as a child rather than leaving it looking like a detached root. e's
// old_ids are not changed here. e's previous root
// snapshot, if any, is left installed in the registry — it is superseded,
// not deleted, the next time that old root (if still live) is re-versioned.
func (r *Registry) Attach(e Entity, newParentRoot Entity) error {
	pb := newParentRoot.EntityHeader()
	if !pb.IsRoot() {
		return withIDs(ErrNotRoot, pb.EcsID, pb.LineageID, pb.RootEcsID)
	}

	eb := e.EntityHeader()
	eb.RootEcsID = pb.RootEcsID
	eb.RootLiveID = pb.RootLiveID
	r.notifyAttached(e, pb.RootEcsID)
	return nil
}

// Detach implements detach (C6): e must be non-root. The caller has already
// removed e's field reference from its former parent. Detach appends e's
// current ecs_id to old_ids and clears its root pointers. The former
// parent's own re-versioning (on its next VersionEntity call) is what
// actually drops e from its tree; it does not promote e. e becomes a root
// of its own tree only when it is passed to PromoteToRoot; until then
// VersionEntity(e) fails with ErrNotRoot.
func (r *Registry) Detach(e Entity) error {
	b := e.EntityHeader()
	if b.IsRoot() {
		return withIDs(ErrNotAttached, b.EcsID, b.LineageID, b.RootEcsID)
	}

	formerParentRootEcsID := b.RootEcsID
	b.OldEcsID = b.EcsID
	b.OldIDs = append(b.OldIDs, b.EcsID)
	b.RootEcsID = uuid.Nil
	b.RootLiveID = uuid.Nil
	r.notifyDetached(e, formerParentRootEcsID)
	return nil
}

// BorrowAttributeFrom implements borrow_attribute_from (C6): copies the
// value of source.sourceField into target.targetField and records
// target.attribute_source[targetField] = source's ecs_id. Copying is deep
// (via deepCopyValue) for value-typed fields; for a field holding an Entity
// reference, or a slice, array or map of them, the references themselves are
// copied into a fresh container (not a cloned subtree) — the
// shared reference is exactly what later triggers the differ's structural
// delta on target's owning tree, per spec.md §4.6.
func BorrowAttributeFrom(target, source Entity, sourceField, targetField string) error {
	sourceVal := dereferencedValue(source)
	targetVal := dereferencedValue(target)

	sf := sourceVal.FieldByName(sourceField)
	tf := targetVal.FieldByName(targetField)
	if !sf.IsValid() || !tf.IsValid() {
		return ErrSchemaMismatch
	}

	ft := sf.Type()
	switch {
	case implementsEntity(ft), ft.Kind() == reflect.Array && implementsEntity(ft.Elem()):
		tf.Set(sf)
	case ft.Kind() == reflect.Slice && implementsEntity(ft.Elem()) && !sf.IsNil():
		tf.Set(reflect.AppendSlice(reflect.MakeSlice(ft, 0, sf.Len()), sf))
	case ft.Kind() == reflect.Map && implementsEntity(ft.Elem()) && !sf.IsNil():
		m := reflect.MakeMapWithSize(ft, sf.Len())
		for _, k := range sf.MapKeys() {
			m.SetMapIndex(k, sf.MapIndex(k))
		}
		tf.Set(m)
	default:
		tf.Set(deepCopyValue(sf))
	}

	sourceID := source.EntityHeader().EcsID
	RecordSource(target, targetField, &sourceID)
	return nil
}
