package entigraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type codecNote struct {
	Base
	Title string
	Count int
}

type codecWorkspace struct {
	Base
	Name  string
	Notes []*codecNote
}

func init() {
	RegisterPersistableType(&codecNote{})
	RegisterPersistableType(&codecWorkspace{})
}

func newCodecNote(title string, count int) *codecNote {
	return &codecNote{Base: NewBase(), Title: title, Count: count}
}

func newCodecWorkspace(name string) *codecWorkspace {
	return &codecWorkspace{Base: NewBase(), Name: name}
}

func TestEncodeDecodeSnapshotRoundTrip(t *testing.T) {
	ws := newCodecWorkspace("w")
	n1 := newCodecNote("first", 1)
	n2 := newCodecNote("second", 2)
	ws.Notes = append(ws.Notes, n1, n2)
	promote(t, ws)

	tree, err := BuildTree(ws)
	require.NoError(t, err)

	data, err := EncodeSnapshot(tree)
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	decoded, err := DecodeSnapshot(data)
	require.NoError(t, err)

	assert.Equal(t, tree.RootEcsID, decoded.RootEcsID)
	assert.Equal(t, tree.NodeCount, decoded.NodeCount)
	assert.Equal(t, tree.EdgeCount, decoded.EdgeCount)

	decodedRoot := decoded.Nodes[tree.RootEcsID].(*codecWorkspace)
	assert.Equal(t, "w", decodedRoot.Name)

	var decodedN1 *codecNote
	for _, e := range decoded.Nodes {
		if n, ok := e.(*codecNote); ok && n.EcsID == n1.EcsID {
			decodedN1 = n
		}
	}
	require.NotNil(t, decodedN1)
	assert.Equal(t, "first", decodedN1.Title)
	assert.Equal(t, 1, decodedN1.Count)
}

func TestDecodeSnapshotRehydratesAsStorageCopy(t *testing.T) {
	ws := newCodecWorkspace("w")
	promote(t, ws)
	tree, err := BuildTree(ws)
	require.NoError(t, err)

	data, err := EncodeSnapshot(tree)
	require.NoError(t, err)

	decoded, err := DecodeSnapshot(data)
	require.NoError(t, err)

	root := decoded.Nodes[tree.RootEcsID]
	rb := root.EntityHeader()
	assert.True(t, rb.FromStorage)
	assert.NotEqual(t, ws.LiveID, rb.LiveID, "a decoded node must carry a freshly minted live_id, not the original")
}

func TestDecodeSnapshotRejectsUnregisteredType(t *testing.T) {
	type unregisteredLeaf struct {
		Base
		X int
	}
	e := &unregisteredLeaf{Base: NewBase()}
	promote(t, e)
	tree, err := BuildTree(e)
	require.NoError(t, err)

	data, err := EncodeSnapshot(tree) // never registered via RegisterPersistableType
	require.NoError(t, err)           // encoding only needs the schema, not the registry

	_, err = DecodeSnapshot(data)
	assert.ErrorIs(t, err, ErrSchemaMismatch)
}
