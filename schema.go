package entigraph

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/google/uuid"
)

var uuidType = reflect.TypeOf(uuid.UUID{})

// FieldKind classifies a single struct field for tree-building purposes.
type FieldKind int

const (
	// FieldPrimitive fields are ignored by the tree builder and included in
	// the non-entity attribute digest.
	FieldPrimitive FieldKind = iota

	// FieldEntity fields produce a DIRECT edge.
	FieldEntity

	// FieldEntityList fields (OrderedSeq<Entity>) produce LIST edges with
	// index = 0..n-1.
	FieldEntityList

	// FieldEntitySet fields (UnorderedSet<Entity>) produce SET edges keyed
	// by the child's own ecs_id.
	FieldEntitySet

	// FieldEntityTuple fields (FixedTuple<Entity...>) produce TUPLE edges
	// with positional index.
	FieldEntityTuple

	// FieldEntityMap fields (Map<K, Entity>) produce DICT edges keyed by
	// stringify(K).
	FieldEntityMap

	// FieldOpaque fields are treated as primitives for digest purposes, but
	// are still reflect-walked for any entity references they might
	// contain, which are wired as DIRECT edges.
	FieldOpaque
)

func (k FieldKind) String() string {
	switch k {
	case FieldPrimitive:
		return "primitive"
	case FieldEntity:
		return "entity"
	case FieldEntityList:
		return "list"
	case FieldEntitySet:
		return "set"
	case FieldEntityTuple:
		return "tuple"
	case FieldEntityMap:
		return "map"
	case FieldOpaque:
		return "opaque"
	default:
		return "unknown"
	}
}

// FieldDescriptor describes one schema-classified field.
type FieldDescriptor struct {
	Name  string
	Kind  FieldKind
	Index int // index into reflect.Type.Field / reflect.Value.Field
}

// Schema is the cached, schema-driven field classification for one entity
// type. Built once per reflect.Type and never mutated afterward.
type Schema struct {
	Type   reflect.Type
	Fields []FieldDescriptor
}

var schemaCache sync.Map // reflect.Type -> *Schema

var entityInterfaceType = reflect.TypeOf((*Entity)(nil)).Elem()
var baseType = reflect.TypeOf(Base{})

// RegisterType pre-warms the schema cache for the type of v. Optional —
// schemaOf lazily builds and caches a Schema on first use — but recommended
// at application init() time per the "generate at registration time, not per
// call" design note.
func RegisterType(v Entity) {
	_, _ = schemaOf(v)
}

// schemaOf returns the cached Schema for e's concrete type, building and
// caching it on first use.
func schemaOf(e Entity) (*Schema, error) {
	t := reflect.TypeOf(e)
	return schemaOfType(t)
}

func schemaOfType(t reflect.Type) (*Schema, error) {
	if cached, ok := schemaCache.Load(t); ok {
		return cached.(*Schema), nil
	}

	et := t
	if et.Kind() == reflect.Ptr {
		et = et.Elem()
	}
	if et.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %s is not a struct or pointer to struct", ErrSchemaMismatch, t)
	}

	s := &Schema{Type: t}
	for i := 0; i < et.NumField(); i++ {
		sf := et.Field(i)
		if sf.Anonymous && sf.Type == baseType {
			continue // identity header, never a schema field
		}
		if !sf.IsExported() {
			continue
		}
		kind, err := classifyField(sf)
		if err != nil {
			return nil, err
		}
		s.Fields = append(s.Fields, FieldDescriptor{
			Name:  sf.Name,
			Kind:  kind,
			Index: i,
		})
	}

	actual, _ := schemaCache.LoadOrStore(t, s)
	return actual.(*Schema), nil
}

// classifyField decides the FieldKind for a single struct field, preferring
// an explicit `ecs:"..."` tag and falling back to reflect-based inference
// for untagged fields.
func classifyField(sf reflect.StructField) (FieldKind, error) {
	tag, hasTag := sf.Tag.Lookup("ecs")
	if hasTag {
		switch tag {
		case "primitive":
			return FieldPrimitive, nil
		case "entity":
			return FieldEntity, nil
		case "list":
			return FieldEntityList, nil
		case "set":
			return FieldEntitySet, nil
		case "tuple":
			return FieldEntityTuple, nil
		case "map":
			return FieldEntityMap, nil
		case "opaque", "-":
			return FieldOpaque, nil
		default:
			return 0, fmt.Errorf("%w: unknown ecs tag %q on field %s", ErrSchemaMismatch, tag, sf.Name)
		}
	}

	t := sf.Type
	if implementsEntity(t) {
		return FieldEntity, nil
	}
	switch t.Kind() {
	case reflect.Slice, reflect.Array:
		if implementsEntity(t.Elem()) {
			return FieldEntityList, nil
		}
	case reflect.Map:
		if isSetType(t) {
			return FieldEntitySet, nil
		}
		if implementsEntity(t.Elem()) {
			return FieldEntityMap, nil
		}
	}
	return FieldPrimitive, nil
}

func implementsEntity(t reflect.Type) bool {
	if t == nil {
		return false
	}
	return t.Implements(entityInterfaceType)
}

// isSetType reports whether t is (or looks like) an entigraph.Set[T]: a map
// keyed by uuid.UUID whose value type implements Entity. Plain
// map[uuid.UUID]Something without an Entity value is left classified by the
// generic map path below (which will fall through to FieldPrimitive if the
// value isn't an Entity either).
func isSetType(t reflect.Type) bool {
	return t.Kind() == reflect.Map && t.Key() == uuidType && implementsEntity(t.Elem())
}

// dereferencedValue returns the addressable struct reflect.Value backing e,
// dereferencing the pointer Entity implementations always are in practice.
func dereferencedValue(e Entity) reflect.Value {
	v := reflect.ValueOf(e)
	for v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	return v
}
