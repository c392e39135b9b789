package entigraph

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type schemaChild struct {
	Base
	Value int
}

type schemaParent struct {
	Base
	Single   *schemaChild
	Tagged   *schemaChild `ecs:"entity"`
	List     []*schemaChild
	Tuple    []*schemaChild `ecs:"tuple"`
	Set      Set[*schemaChild]
	Dict     map[string]*schemaChild `ecs:"map"`
	Name     string
	Blob     []byte `ecs:"opaque"`
	private  string
	Count    int `ecs:"primitive"`
}

func TestClassifyFieldInference(t *testing.T) {
	s, err := schemaOf(&schemaParent{})
	require.NoError(t, err)

	byName := map[string]FieldDescriptor{}
	for _, f := range s.Fields {
		byName[f.Name] = f
	}

	assert.Equal(t, FieldEntity, byName["Single"].Kind)
	assert.Equal(t, FieldEntity, byName["Tagged"].Kind)
	assert.Equal(t, FieldEntityList, byName["List"].Kind)
	assert.Equal(t, FieldEntityTuple, byName["Tuple"].Kind)
	assert.Equal(t, FieldEntitySet, byName["Set"].Kind)
	assert.Equal(t, FieldEntityMap, byName["Dict"].Kind)
	assert.Equal(t, FieldPrimitive, byName["Name"].Kind)
	assert.Equal(t, FieldOpaque, byName["Blob"].Kind)
	assert.Equal(t, FieldPrimitive, byName["Count"].Kind)

	_, hasPrivate := byName["private"]
	assert.False(t, hasPrivate, "unexported fields must never be schema-classified")

	_, hasBase := byName["Base"]
	assert.False(t, hasBase, "the embedded identity header is never a schema field")
}

func TestSchemaOfCachesPerType(t *testing.T) {
	s1, err := schemaOf(&schemaChild{})
	require.NoError(t, err)
	s2, err := schemaOf(&schemaChild{})
	require.NoError(t, err)
	assert.Same(t, s1, s2, "schemaOf must return the cached Schema on repeat calls")
}

func TestClassifyFieldUnknownTagErrors(t *testing.T) {
	type badTag struct {
		Base
		X int `ecs:"bogus"`
	}
	_, err := schemaOf(&badTag{})
	assert.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestRegisterTypePrewarmsCache(t *testing.T) {
	type freshType struct {
		Base
		X int
	}
	v := &freshType{}
	RegisterType(v)
	_, ok := schemaCache.Load(reflect.TypeOf(v))
	assert.True(t, ok)
}
