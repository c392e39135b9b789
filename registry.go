package entigraph

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Registry is the in-memory snapshot store and versioning conductor (C5). It
// holds every installed tree, keyed by its current root ecs_id, plus the
// secondary indexes needed to resolve an arbitrary ecs_id or lineage back to
// its owning tree.
//
// All reads may run concurrently. All writes are serialized per lineage root
// via lineageLocks, following the same "one mutex per unit of mutation, take
// them in a deterministic order for multi-unit operations" discipline the
// teacher's Garland.TransactionStart/Commit/Rollback use for a single
// document.
type Registry struct {
	mu sync.RWMutex

	// trees maps a currently-or-formerly-installed root ecs_id to its tree.
	// Historical roots are retained (spec.md never requires pruning them;
	// Prune/DeleteFork style GC is left to an explicit maintenance pass).
	trees map[uuid.UUID]*EntityTree

	// lineageRegistry maps lineage_id to the ordered history of root ecs_ids
	// that lineage has had, oldest first.
	lineageRegistry map[uuid.UUID][]uuid.UUID

	// ecsIDToRootID maps every ecs_id ever seen, across every installed
	// tree's nodes, to the root ecs_id of the tree that currently contains
	// it.
	ecsIDToRootID map[uuid.UUID]uuid.UUID

	// typeRegistry maps a type name to every ecs_id of that type across all
	// currently installed trees.
	typeRegistry map[string]map[uuid.UUID]bool

	lineageLocks map[uuid.UUID]*sync.Mutex
	locksMu      sync.Mutex

	log      *zap.Logger
	observer Observer
}

// NewRegistry constructs an empty Registry. A nil logger installs zap's no-op
// logger, so callers that don't care about observability don't need to wire
// one up.
func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		trees:           map[uuid.UUID]*EntityTree{},
		lineageRegistry: map[uuid.UUID][]uuid.UUID{},
		ecsIDToRootID:   map[uuid.UUID]uuid.UUID{},
		typeRegistry:    map[string]map[uuid.UUID]bool{},
		lineageLocks:    map[uuid.UUID]*sync.Mutex{},
		log:             log,
	}
}

// lineageMutex returns the (lazily created) mutex guarding writes for a
// single lineage_id.
func (r *Registry) lineageMutex(lineageID uuid.UUID) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	m, ok := r.lineageLocks[lineageID]
	if !ok {
		m = &sync.Mutex{}
		r.lineageLocks[lineageID] = m
	}
	return m
}

// lockLineages locks the mutexes for every distinct lineage in ids, in
// lexicographic order, and returns an unlock function. Taking a fixed global
// order for any multi-lineage operation avoids deadlocks between concurrent
// calls that touch the same pair in opposite orders. VersionEntity is its
// only caller and locks a single lineage; Attach and Detach take no lineage
// lock.
func (r *Registry) lockLineages(ids ...uuid.UUID) func() {
	seen := map[uuid.UUID]bool{}
	var distinct []uuid.UUID
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			distinct = append(distinct, id)
		}
	}
	sort.Slice(distinct, func(i, j int) bool { return distinct[i].String() < distinct[j].String() })

	mutexes := make([]*sync.Mutex, len(distinct))
	for i, id := range distinct {
		mutexes[i] = r.lineageMutex(id)
	}
	for _, m := range mutexes {
		m.Lock()
	}
	return func() {
		for i := len(mutexes) - 1; i >= 0; i-- {
			mutexes[i].Unlock()
		}
	}
}

// RegisterTree installs tree under its root ecs_id. Fails with
// ErrDuplicateRoot if that root is already installed.
//
// tree's nodes are deep-copied before indexing (snapshotNodes) so the
// installed snapshot shares no pointer with the caller's live object graph
// or with any previously installed tree (invariant 8, spec.md §3) — without
// this, an in-place mutation of a live entity after registration would be
// visible through the "immutable" stored tree, and a later version_entity
// comparing against that same aliased tree would never see a difference.
func (r *Registry) RegisterTree(tree *EntityTree) error {
	r.mu.Lock()
	if _, exists := r.trees[tree.RootEcsID]; exists {
		r.mu.Unlock()
		return withIDs(ErrDuplicateRoot, tree.RootEcsID, uuid.Nil, tree.RootEcsID)
	}
	snapshot := snapshotNodes(tree)
	r.installLocked(snapshot)
	r.mu.Unlock()

	r.log.Info("tree registered",
		zap.String("root_ecs_id", snapshot.RootEcsID.String()),
		zap.Int("node_count", snapshot.NodeCount),
		zap.Int("edge_count", snapshot.EdgeCount),
	)
	r.notifyRegistered(snapshot)
	return nil
}

// snapshotNodes returns a copy of tree with every node replaced by an
// independent deep copy (via the existing deepCopyEntity), so storing it can
// never alias a live object or a different installed tree's own copies.
func snapshotNodes(tree *EntityTree) *EntityTree {
	copied := *tree
	copied.Nodes = make(map[uuid.UUID]Entity, len(tree.Nodes))
	for id, e := range tree.Nodes {
		copied.Nodes[id] = deepCopyEntity(e)
	}
	return &copied
}

// installLocked indexes tree into every secondary index. Caller holds mu.
func (r *Registry) installLocked(tree *EntityTree) {
	r.trees[tree.RootEcsID] = tree

	if rootEntity, ok := tree.Nodes[tree.RootEcsID]; ok {
		lineageID := rootEntity.EntityHeader().LineageID
		r.lineageRegistry[lineageID] = append(r.lineageRegistry[lineageID], tree.RootEcsID)
	}

	for ecsID := range tree.Nodes {
		r.ecsIDToRootID[ecsID] = tree.RootEcsID
	}
	for typeName, ids := range tree.TypeIndex {
		set, ok := r.typeRegistry[typeName]
		if !ok {
			set = map[uuid.UUID]bool{}
			r.typeRegistry[typeName] = set
		}
		for id := range ids {
			set[id] = true
		}
	}
}

// GetStoredEntity returns a deep, isolated copy of the entity ecsID within
// the tree rooted at rootEcsID: fresh live_id, from_storage = true,
// root_live_id cleared. Safe to mutate freely without affecting the stored
// tree.
func (r *Registry) GetStoredEntity(rootEcsID, ecsID uuid.UUID) (Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tree, ok := r.trees[rootEcsID]
	if !ok {
		return nil, withIDs(ErrNotFound, uuid.Nil, uuid.Nil, rootEcsID)
	}
	stored, ok := tree.Nodes[ecsID]
	if !ok {
		return nil, withIDs(ErrNotFound, ecsID, uuid.Nil, rootEcsID)
	}

	copied := deepCopyEntity(stored)
	cb := copied.EntityHeader()
	cb.LiveID = uuid.New()
	cb.hydratedLiveID = cb.LiveID
	cb.FromStorage = true
	cb.RootLiveID = uuid.Nil
	return copied, nil
}

// GetStoredTree returns the immutable tree installed under rootEcsID. Any
// mutation must go through VersionEntity; callers must not mutate the
// returned tree or its entities.
func (r *Registry) GetStoredTree(rootEcsID uuid.UUID) (*EntityTree, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tree, ok := r.trees[rootEcsID]
	if !ok {
		return nil, withIDs(ErrNotFound, uuid.Nil, uuid.Nil, rootEcsID)
	}
	return tree, nil
}

// resolveOldTree locates the currently-installed tree that liveRoot's
// previous version belongs to, walking old_ids if the root was re-promoted
// since it was last versioned. Returns nil if liveRoot has never been
// registered (first registration case).
func (r *Registry) resolveOldTree(liveRoot Entity) *EntityTree {
	b := liveRoot.EntityHeader()

	r.mu.RLock()
	defer r.mu.RUnlock()

	// Current ecs_id first, then old_ids from newest to oldest.
	candidates := append(append([]uuid.UUID{}, b.OldIDs...), b.EcsID)
	for i := len(candidates) - 1; i >= 0; i-- {
		if root, ok := r.ecsIDToRootID[candidates[i]]; ok {
			if tree, ok := r.trees[root]; ok {
				return tree
			}
		}
	}
	return nil
}

// VersionEntity is the central orchestration described in spec.md §4.5: it
// builds a fresh tree from the live object graph rooted at liveRoot, diffs
// it against the last installed version, forks every entity the differ
// marks, rewrites every index to use the new ids, and installs the result
// atomically. Returns false (no error) if nothing changed and force is
// false.
func (r *Registry) VersionEntity(liveRoot Entity, force bool) (bool, error) {
	rb := liveRoot.EntityHeader()
	if !rb.IsRoot() {
		return false, withIDs(ErrNotRoot, rb.EcsID, rb.LineageID, rb.RootEcsID)
	}

	unlock := r.lockLineages(rb.LineageID)
	defer unlock()

	oldTree := r.resolveOldTree(liveRoot)

	newTree, err := BuildTree(liveRoot)
	if err != nil {
		return false, err
	}

	if oldTree == nil {
		if err := r.RegisterTree(newTree); err != nil {
			return false, err
		}
		return true, nil
	}

	diffResult, err := Diff(newTree, oldTree)
	if err != nil {
		return false, err
	}
	if len(diffResult.Modified) == 0 {
		if !force {
			return false, nil
		}
		// A forced version re-forks the root even though nothing changed.
		diffResult.Modified[newTree.RootEcsID] = true
	}

	rewritten, err := r.forkAndRewrite(newTree, diffResult.Modified)
	if err != nil {
		return false, err
	}

	if err := r.RegisterTree(rewritten); err != nil {
		return false, err
	}

	r.log.Info("entity versioned",
		zap.String("old_root_ecs_id", oldTree.RootEcsID.String()),
		zap.String("new_root_ecs_id", rewritten.RootEcsID.String()),
		zap.Int("forked_count", len(diffResult.Modified)),
	)
	r.notifyVersioned(oldTree.RootEcsID, rewritten.RootEcsID)
	return true, nil
}

// forkAndRewrite mints new ecs_ids for every entity in modified (deepest
// ancestry path first, per spec.md §4.5 step 4) and produces a brand-new
// EntityTree with every old id replaced by its new id everywhere — nodes,
// edges, ancestry paths, the live_id index, and the type index. Every node,
// modified or not, has its root_ecs_id/root_live_id restamped to the new
// root (invariant 5, spec.md §3) — the whole tree gets a new root identity
// even when most of its nodes were not themselves forked. On any invariant
// violation every live object's Base is restored to its pre-call value
// before the error is returned, so a failed version_entity leaves the
// previous version current (spec.md §4.5 failure semantics).
func (r *Registry) forkAndRewrite(newTree *EntityTree, modified map[uuid.UUID]bool) (*EntityTree, error) {
	ids := make([]uuid.UUID, 0, len(modified))
	for id := range modified {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return len(newTree.AncestryPaths[ids[i]]) > len(newTree.AncestryPaths[ids[j]])
	})

	originalBases := make(map[uuid.UUID]Base, len(newTree.Nodes))
	for id, e := range newTree.Nodes {
		originalBases[id] = *e.EntityHeader()
	}
	restore := func() {
		for id, orig := range originalBases {
			*newTree.Nodes[id].EntityHeader() = orig
		}
	}

	newRootID := uuid.New()
	newRootLiveID := newTree.RootLiveID

	idMapping := map[uuid.UUID]uuid.UUID{}
	for _, id := range ids {
		e := newTree.Nodes[id]
		newID := uuid.New()
		if id == newTree.RootEcsID {
			newID = newRootID
		}
		if err := updateIdentityTo(e, newID, newRootID, newRootLiveID); err != nil {
			restore()
			return nil, err
		}
		idMapping[id] = newID
	}

	for id, e := range newTree.Nodes {
		if modified[id] {
			continue // updateIdentityTo already restamped root pointers above
		}
		eb := e.EntityHeader()
		eb.RootEcsID = newRootID
		eb.RootLiveID = newRootLiveID
	}

	remap := func(id uuid.UUID) uuid.UUID {
		if newID, ok := idMapping[id]; ok {
			return newID
		}
		return id
	}

	rewritten := newEmptyTree()
	rewritten.RootEcsID = newRootID
	rewritten.RootLiveID = newRootLiveID
	rewritten.NodeCount = newTree.NodeCount
	rewritten.EdgeCount = newTree.EdgeCount
	rewritten.MaxDepth = newTree.MaxDepth

	for id, e := range newTree.Nodes {
		rewritten.Nodes[remap(id)] = e
	}
	for _, edge := range newTree.Edges {
		e := edge
		e.SourceEcsID = remap(edge.SourceEcsID)
		e.TargetEcsID = remap(edge.TargetEcsID)
		rewritten.Edges[edgeKey(e.SourceEcsID, e.TargetEcsID, e.Kind, e.Index, e.Key)] = e
	}
	for id, path := range newTree.AncestryPaths {
		newPath := make([]uuid.UUID, len(path))
		for i, p := range path {
			newPath[i] = remap(p)
		}
		rewritten.AncestryPaths[remap(id)] = newPath
	}
	for liveID, ecsID := range newTree.LiveIDIndex {
		rewritten.LiveIDIndex[liveID] = remap(ecsID)
	}
	for typeName, typeIDs := range newTree.TypeIndex {
		set := map[uuid.UUID]bool{}
		for id := range typeIDs {
			set[remap(id)] = true
		}
		rewritten.TypeIndex[typeName] = set
	}

	if err := checkTreeInvariants(rewritten); err != nil {
		restore()
		return nil, withIDs(ErrInvariantViolation, uuid.Nil, uuid.Nil, rewritten.RootEcsID)
	}

	return rewritten, nil
}

// checkTreeInvariants verifies the structural invariants a freshly rewritten
// tree must satisfy before it's safe to install: every edge endpoint is a
// known node, every ancestry path resolves to known nodes and ends in its
// own key, the root is present and self-rooted, and every node's own
// root_ecs_id/root_live_id agree with the tree's (invariant 5, spec.md §3).
func checkTreeInvariants(tree *EntityTree) error {
	if _, ok := tree.Nodes[tree.RootEcsID]; !ok {
		return ErrInvariantViolation
	}
	for _, edge := range tree.Edges {
		if _, ok := tree.Nodes[edge.SourceEcsID]; !ok {
			return ErrInvariantViolation
		}
		if _, ok := tree.Nodes[edge.TargetEcsID]; !ok {
			return ErrInvariantViolation
		}
	}
	for id, path := range tree.AncestryPaths {
		if len(path) == 0 || path[len(path)-1] != id {
			return ErrInvariantViolation
		}
		for _, p := range path {
			if _, ok := tree.Nodes[p]; !ok {
				return ErrInvariantViolation
			}
		}
	}
	for id, e := range tree.Nodes {
		b := e.EntityHeader()
		if b.RootEcsID != tree.RootEcsID || b.RootLiveID != tree.RootLiveID {
			return withIDs(ErrInvariantViolation, id, b.LineageID, tree.RootEcsID)
		}
	}
	return nil
}
