// Package entigraph provides an in-process, typed, versioned entity store: a
// content-addressed, auditable backbone for application state built from
// entities (typed records), entity trees (rooted snapshots of entity graphs),
// and a registry that conducts fork-and-rewrite versioning across them.
package entigraph

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Tree-building errors
var (
	// ErrCycleDetected indicates the tree builder found a node reachable
	// from one of its own ancestors. Fatal to the build; no tree is
	// installed.
	ErrCycleDetected = errors.New("cycle detected")

	// ErrSharingDetected indicates an entity was reachable from two distinct
	// parents while the builder runs in strict mode.
	ErrSharingDetected = errors.New("entity shared by two parents")
)

// Identity errors
var (
	// ErrFrozenEntity indicates an attempt to mutate or re-identify a
	// from_storage entity without first re-promoting it.
	ErrFrozenEntity = errors.New("entity is frozen (from_storage, not re-promoted)")

	// ErrNotRoot indicates an operation that requires a root entity was
	// called on an entity that is not currently a root.
	ErrNotRoot = errors.New("entity is not a root")
)

// Registry errors
var (
	// ErrDuplicateRoot indicates a root with the same ecs_id is already
	// installed in the registry.
	ErrDuplicateRoot = errors.New("duplicate root")

	// ErrInvariantViolation indicates the post-rewrite check in
	// VersionEntity found a stale id or broken ancestry path. The prior
	// snapshot remains installed; nothing is committed.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrNotFound indicates a lookup by ecs_id/root_ecs_id/lineage_id that
	// does not exist. Returned as an explicit value, never panicked.
	ErrNotFound = errors.New("not found")
)

// Schema errors
var (
	// ErrSchemaMismatch indicates attribute digesting or field introspection
	// encountered a field it could not classify.
	ErrSchemaMismatch = errors.New("schema mismatch")
)

// Lifecycle errors
var (
	// ErrAlreadyAttached indicates promote_to_root was called on an entity
	// that is currently attached under a different root.
	ErrAlreadyAttached = errors.New("entity is attached under a different root")

	// ErrNotAttached indicates detach was called on an entity that is
	// already a root (nothing to detach from).
	ErrNotAttached = errors.New("entity is already a root")
)

// idError carries a human-readable message alongside the sentinel it wraps,
// so errors.Is(result, sentinel) keeps working after ids are attached.
type idError struct {
	sentinel error
	msg      string
}

func (e *idError) Error() string { return e.msg }
func (e *idError) Unwrap() error { return e.sentinel }

// withIDs wraps a sentinel error with the entity identity triple the spec
// requires every fatal message to carry, where known. Any of the three ids
// may be uuid.Nil, in which case it is left out.
func withIDs(sentinel error, ecsID, lineageID, rootEcsID uuid.UUID) error {
	msg := sentinel.Error()
	if ecsID != uuid.Nil {
		msg += fmt.Sprintf(" ecs_id=%s", ecsID)
	}
	if lineageID != uuid.Nil {
		msg += fmt.Sprintf(" lineage_id=%s", lineageID)
	}
	if rootEcsID != uuid.Nil {
		msg += fmt.Sprintf(" root_ecs_id=%s", rootEcsID)
	}
	return &idError{sentinel: sentinel, msg: msg}
}
