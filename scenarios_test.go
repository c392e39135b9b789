package entigraph

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests exercise the concrete end-to-end scenarios (literal inputs,
// expected outcomes), one test per scenario.

type scenB struct {
	Base
	X int
}

type scenA struct {
	Base
	Child *scenB
	Items []*scenB
	Meta  string
}

func newScenB(x int) *scenB { return &scenB{Base: NewBase(), X: x} }
func newScenA() *scenA      { return &scenA{Base: NewBase()} }

// S1 — Single attribute change.
func TestScenarioS1SingleAttributeChange(t *testing.T) {
	r := newTestRegistry()
	a := newScenA()
	b := newScenB(1)
	a.Child = b
	promote(t, a)
	_, err := r.VersionEntity(a, false)
	require.NoError(t, err)

	oldAEcsID := a.EcsID
	oldBEcsID := b.EcsID
	lineageHistoryBefore := len(r.lineageRegistry[a.LineageID])

	b.X = 2
	changed, err := r.VersionEntity(a, false)
	require.NoError(t, err)
	assert.True(t, changed)

	assert.NotEqual(t, oldAEcsID, a.EcsID)
	assert.NotEqual(t, oldBEcsID, b.EcsID)
	assert.Equal(t, oldBEcsID, b.PreviousEcsID)
	assert.Equal(t, lineageHistoryBefore+1, len(r.lineageRegistry[a.LineageID]))

	oldTree, err := r.GetStoredTree(oldAEcsID)
	require.NoError(t, err)
	assert.Equal(t, oldBEcsID, oldTree.Nodes[oldBEcsID].EntityHeader().EcsID)
}

// S2 — Add leaf to a list container.
func TestScenarioS2AddLeaf(t *testing.T) {
	r := newTestRegistry()
	a := newScenA()
	b := newScenB(1)
	a.Items = append(a.Items, b)
	promote(t, a)
	_, err := r.VersionEntity(a, false)
	require.NoError(t, err)

	oldBEcsID := b.EcsID
	c := newScenB(2)
	a.Items = append(a.Items, c)

	changed, err := r.VersionEntity(a, false)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, oldBEcsID, b.EcsID, "B's own identity is untouched by an unrelated append")

	tree, err := r.GetStoredTree(a.EcsID)
	require.NoError(t, err)
	bEdge, ok := tree.Edges[edgeKey(a.EcsID, b.EcsID, EdgeList, 0, "")]
	require.True(t, ok)
	assert.Equal(t, 0, bEdge.Index)
	cEdge, ok := tree.Edges[edgeKey(a.EcsID, c.EcsID, EdgeList, 1, "")]
	require.True(t, ok)
	assert.Equal(t, 1, cEdge.Index)
}

// S3 — Reorder list: both elements' LIST-edge index changed, so both fork.
func TestScenarioS3ReorderList(t *testing.T) {
	r := newTestRegistry()
	a := newScenA()
	b := newScenB(1)
	c := newScenB(2)
	a.Items = append(a.Items, b, c)
	promote(t, a)
	_, err := r.VersionEntity(a, false)
	require.NoError(t, err)

	oldBEcsID := b.EcsID
	oldCEcsID := c.EcsID
	a.Items = []*scenB{c, b}

	changed, err := r.VersionEntity(a, false)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.NotEqual(t, oldBEcsID, b.EcsID)
	assert.NotEqual(t, oldCEcsID, c.EcsID)
}

// S4 — Multi-step versioning: perform S1, then an independent mutation, and
// check invariants hold after each call.
func TestScenarioS4MultiStepVersioning(t *testing.T) {
	r := newTestRegistry()
	a := newScenA()
	b := newScenB(1)
	a.Child = b
	promote(t, a)
	_, err := r.VersionEntity(a, false)
	require.NoError(t, err)

	b.X = 2
	_, err = r.VersionEntity(a, false)
	require.NoError(t, err)

	tree1, err := r.GetStoredTree(a.EcsID)
	require.NoError(t, err)
	assertTreeInvariantsHold(t, tree1)

	a.Meta = "y"
	_, err = r.VersionEntity(a, false)
	require.NoError(t, err)

	tree2, err := r.GetStoredTree(a.EcsID)
	require.NoError(t, err)
	assertTreeInvariantsHold(t, tree2)
}

func assertTreeInvariantsHold(t *testing.T, tree *EntityTree) {
	t.Helper()
	for id, path := range tree.AncestryPaths {
		_, ok := tree.Nodes[id]
		assert.True(t, ok, "every id in ancestry_paths must exist in nodes")
		require.NotEmpty(t, path)
		assert.Equal(t, tree.RootEcsID, path[0], "every path must start with root_ecs_id")
		assert.Equal(t, id, path[len(path)-1], "every path must end with its own key")
		if len(path) >= 2 {
			p, n := path[len(path)-2], path[len(path)-1]
			found := false
			for _, edge := range tree.Edges {
				if edge.SourceEcsID == p && edge.TargetEcsID == n {
					found = true
					break
				}
			}
			assert.True(t, found, "(parent, node) must be an edge for every non-root path")
		}
	}
}

// S5 — Detachment: A -> B, detach, version, then B.promote_to_root(), version.
func TestScenarioS5Detachment(t *testing.T) {
	r := newTestRegistry()
	a := newScenA()
	b := newScenB(1)
	a.Child = b
	promote(t, a)
	require.NoError(t, r.Attach(b, a))
	_, err := r.VersionEntity(a, false)
	require.NoError(t, err)

	oldARootEcsID := a.EcsID
	oldBEcsID := b.EcsID

	a.Child = nil
	require.NoError(t, r.Detach(b))
	_, err = r.VersionEntity(a, false)
	require.NoError(t, err)

	newATree, err := r.GetStoredTree(a.EcsID)
	require.NoError(t, err)
	_, bStillThere := newATree.Nodes[oldBEcsID]
	assert.False(t, bStillThere, "B must no longer appear in A's new tree")
	assert.Contains(t, b.OldIDs, oldBEcsID)

	bTree, err := r.PromoteToRoot(b)
	require.NoError(t, err)
	assert.Equal(t, b.EcsID, bTree.RootEcsID)

	_, err = r.VersionEntity(b, false)
	require.NoError(t, err)

	r.mu.RLock()
	rootForOldA := r.ecsIDToRootID[oldARootEcsID]
	rootForOldB := r.ecsIDToRootID[oldBEcsID]
	r.mu.RUnlock()
	assert.Equal(t, oldARootEcsID, rootForOldA)
	assert.Equal(t, oldBEcsID, rootForOldB)
}

type scenStudent struct {
	Base
	GPA float64
}

func newScenStudent(gpa float64) *scenStudent { return &scenStudent{Base: NewBase(), GPA: gpa} }

// S6 — Borrow preserves provenance.
func TestScenarioS6BorrowPreservesProvenance(t *testing.T) {
	r := newTestRegistry()
	s := newScenStudent(3.9)
	target := newScenStudent(0)
	promote(t, target)

	require.NoError(t, BorrowAttributeFrom(target, s, "GPA", "GPA"))
	assert.Equal(t, s.GPA, target.GPA)
	token := target.AttributeSource["GPA"]
	require.NotNil(t, token)
	assert.Equal(t, s.EcsID, *token)

	_, err := r.VersionEntity(target, false)
	require.NoError(t, err)

	stored, err := r.GetStoredEntity(target.EcsID, target.EcsID)
	require.NoError(t, err)
	storedToken := stored.EntityHeader().AttributeSource["GPA"]
	require.NotNil(t, storedToken)
	assert.Equal(t, s.EcsID, *storedToken)

	target.GPA = 2.0
	RecordSource(target, "GPA", nil)
	assert.Nil(t, target.AttributeSource["GPA"])
	assert.NotEqual(t, uuid.Nil, target.EcsID)
}
