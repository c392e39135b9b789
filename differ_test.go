package entigraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type diffNote struct {
	Base
	Title string
}

type diffWorkspace struct {
	Base
	Name  string
	Notes []*diffNote
}

func newDiffNote(title string) *diffNote {
	return &diffNote{Base: NewBase(), Title: title}
}

func newDiffWorkspace(name string) *diffWorkspace {
	return &diffWorkspace{Base: NewBase(), Name: name}
}

func TestDiffNoChangesMarksNothing(t *testing.T) {
	ws := newDiffWorkspace("w")
	ws.Notes = append(ws.Notes, newDiffNote("a"))
	promote(t, ws)

	tree, err := BuildTree(ws)
	require.NoError(t, err)

	result, err := Diff(tree, tree)
	require.NoError(t, err)
	assert.Empty(t, result.Modified)
	assert.Equal(t, 0, result.AdditionCount)
	assert.Equal(t, 0, result.EdgeDeltaCount)
	assert.Equal(t, 0, result.AttrDeltaCount)
}

func TestDiffLeafAttributeChangeMarksOnlyLeafAndAncestors(t *testing.T) {
	ws := newDiffWorkspace("w")
	note := newDiffNote("a")
	ws.Notes = append(ws.Notes, note)
	promote(t, ws)
	built, err := BuildTree(ws)
	require.NoError(t, err)
	oldTree := snapshotNodes(built) // independent of the live graph before the mutation below

	note.Title = "b"
	newTree, err := BuildTree(ws)
	require.NoError(t, err)

	result, err := Diff(newTree, oldTree)
	require.NoError(t, err)
	assert.True(t, result.Modified[note.EcsID])
	assert.True(t, result.Modified[ws.EcsID], "root must be re-forked because a descendant changed")
	assert.Equal(t, 1, result.AttrDeltaCount)
	assert.Equal(t, 0, result.AdditionCount)
	assert.Equal(t, 0, result.EdgeDeltaCount)
}

func TestDiffAdditionMarksNewNodeAndAncestors(t *testing.T) {
	ws := newDiffWorkspace("w")
	promote(t, ws)
	oldTree, err := BuildTree(ws)
	require.NoError(t, err)

	added := newDiffNote("new")
	ws.Notes = append(ws.Notes, added)
	newTree, err := BuildTree(ws)
	require.NoError(t, err)

	result, err := Diff(newTree, oldTree)
	require.NoError(t, err)
	assert.True(t, result.Modified[added.EcsID])
	assert.True(t, result.Modified[ws.EcsID])
	assert.Equal(t, 1, result.AdditionCount)
}

func TestDiffRemovalMarksSurvivingParent(t *testing.T) {
	ws := newDiffWorkspace("w")
	keep := newDiffNote("keep")
	drop := newDiffNote("drop")
	ws.Notes = append(ws.Notes, keep, drop)
	promote(t, ws)
	oldTree, err := BuildTree(ws)
	require.NoError(t, err)

	ws.Notes = []*diffNote{keep}
	newTree, err := BuildTree(ws)
	require.NoError(t, err)

	result, err := Diff(newTree, oldTree)
	require.NoError(t, err)
	assert.True(t, result.Modified[ws.EcsID])
	assert.False(t, result.Modified[keep.EcsID], "an untouched sibling is not re-forked merely because another was removed")
	assert.Equal(t, 1, result.EdgeDeltaCount)
}

func TestDiffPrunesAncestorAlreadyMarkedByDescendant(t *testing.T) {
	ws := newDiffWorkspace("w")
	note := newDiffNote("a")
	ws.Notes = append(ws.Notes, note)
	promote(t, ws)
	built, err := BuildTree(ws)
	require.NoError(t, err)
	oldTree := snapshotNodes(built) // independent of the live graph before the mutations below

	// Change the root's own attribute AND a descendant's, in the same
	// version: phase 3 runs deepest-first, so the descendant is hashed first
	// and marks its whole path up to the root; the root is then pruned
	// rather than re-hashed, since it will be re-forked anyway.
	ws.Name = "renamed"
	note.Title = "b"
	newTree, err := BuildTree(ws)
	require.NoError(t, err)

	result, err := Diff(newTree, oldTree)
	require.NoError(t, err)
	assert.True(t, result.Modified[ws.EcsID])
	assert.True(t, result.Modified[note.EcsID])
	assert.Equal(t, 1, result.PrunedCount)
}

func TestDiffLineageMismatchCountsAsDifferent(t *testing.T) {
	ws := newDiffWorkspace("w")
	note := newDiffNote("a")
	ws.Notes = append(ws.Notes, note)
	promote(t, ws)
	oldTree, err := BuildTree(ws)
	require.NoError(t, err)

	// Simulate a same-ecs_id-slot occupied by an entity from a different
	// lineage (should never happen organically, but the differ must treat
	// it conservatively as changed rather than trust the digest alone).
	replacement := newDiffNote("a")
	replacement.EcsID = note.EcsID // same key, different lineage_id
	ws.Notes[0] = replacement
	newTree, err := BuildTree(ws)
	require.NoError(t, err)

	result, err := Diff(newTree, oldTree)
	require.NoError(t, err)
	assert.True(t, result.Modified[note.EcsID])
}
