package entigraph

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type adaptChild struct {
	Base
	Score int
}

type adaptParent struct {
	Base
	Name     string
	Children []*adaptChild
}

func newAdaptChild(score int) *adaptChild {
	return &adaptChild{Base: NewBase(), Score: score}
}

func newAdaptParent(name string) *adaptParent {
	return &adaptParent{Base: NewBase(), Name: name}
}

func TestClassifyMutation(t *testing.T) {
	r := newTestRegistry()
	input := newAdaptParent("p")
	input.RootEcsID = input.EcsID
	input.RootLiveID = input.LiveID

	output := newAdaptParent("p")
	*output = *input // same live_id, simulating the callable's own returned copy
	executionLiveIDs := map[uuid.UUID]bool{input.LiveID: true}

	kind, err := r.Classify(input, output, executionLiveIDs)
	require.NoError(t, err)
	assert.Equal(t, OperationMutation, kind)
}

func TestClassifyDetachment(t *testing.T) {
	r := newTestRegistry()
	parent := newAdaptParent("parent")
	child := newAdaptChild(1)
	parent.Children = append(parent.Children, child)
	parent.RootEcsID = parent.EcsID
	parent.RootLiveID = parent.LiveID

	kind, err := r.Classify(parent, child, map[uuid.UUID]bool{})
	require.NoError(t, err)
	assert.Equal(t, OperationDetachment, kind)
}

func TestClassifyCreation(t *testing.T) {
	r := newTestRegistry()
	parent := newAdaptParent("parent")
	parent.RootEcsID = parent.EcsID
	parent.RootLiveID = parent.LiveID

	unrelated := newAdaptChild(2)
	kind, err := r.Classify(parent, unrelated, map[uuid.UUID]bool{})
	require.NoError(t, err)
	assert.Equal(t, OperationCreation, kind)
}

func TestResolvePlainField(t *testing.T) {
	r := newTestRegistry()
	p := newAdaptParent("p")
	_, err := r.PromoteToRoot(p)
	require.NoError(t, err)

	value, source, err := r.Resolve(p.EcsID, []string{"Name"})
	require.NoError(t, err)
	assert.Equal(t, "p", value)
	assert.Equal(t, uuid.Nil, source)
}

func TestResolveListIndexAndProvenance(t *testing.T) {
	r := newTestRegistry()
	p := newAdaptParent("p")
	c := newAdaptChild(7)
	p.Children = append(p.Children, c)

	src := uuid.New()
	RecordSourceAt(p, "Children", 0, &src)

	_, err := r.PromoteToRoot(p)
	require.NoError(t, err)

	value, source, err := r.Resolve(p.EcsID, []string{"Children[0]", "Score"})
	require.NoError(t, err)
	assert.Equal(t, 7, value)
	assert.Equal(t, uuid.Nil, source, "the final segment, Score, was never itself borrowed")

	_, source, err = r.Resolve(p.EcsID, []string{"Children[0]"})
	require.NoError(t, err)
	assert.Equal(t, src, source)
}

func TestResolveUnknownEcsID(t *testing.T) {
	r := newTestRegistry()
	_, _, err := r.Resolve(uuid.New(), []string{"Name"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveOutOfRangeIndex(t *testing.T) {
	r := newTestRegistry()
	p := newAdaptParent("p")
	_, err := r.PromoteToRoot(p)
	require.NoError(t, err)

	_, _, err = r.Resolve(p.EcsID, []string{"Children[0]"})
	assert.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestCallableRegistryAdapterInterfaceSatisfiedByRegistry(t *testing.T) {
	r := newTestRegistry()
	var adapter CallableRegistryAdapter = r
	var resolver AddressResolverAdapter = r
	assert.NotNil(t, adapter)
	assert.NotNil(t, resolver)
}
