package entigraph

import "reflect"

// deepCopyEntity produces an independent copy of e: every struct, slice, map,
// and pointer reachable from it is freshly allocated, so mutating the copy
// can never reach back into the stored original. Used by
// Registry.GetStoredEntity to hand callers an isolated execution copy
// (spec.md §4.5's "get_stored_entity returns a deep copy").
//
// Unexported fields (Base.hydratedLiveID is the only one in this package)
// are left at their zero value; GetStoredEntity re-stamps the fields that
// matter immediately after cloning.
func deepCopyEntity(e Entity) Entity {
	return deepCopyValue(reflect.ValueOf(e)).Interface().(Entity)
}

func deepCopyValue(v reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.Ptr:
		if v.IsNil() {
			return v
		}
		out := reflect.New(v.Elem().Type())
		out.Elem().Set(deepCopyValue(v.Elem()))
		return out

	case reflect.Struct:
		out := reflect.New(v.Type()).Elem()
		for i := 0; i < v.NumField(); i++ {
			if v.Type().Field(i).PkgPath != "" {
				continue // unexported; left zero-valued
			}
			out.Field(i).Set(deepCopyValue(v.Field(i)))
		}
		return out

	case reflect.Slice:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(deepCopyValue(v.Index(i)))
		}
		return out

	case reflect.Array:
		out := reflect.New(v.Type()).Elem()
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(deepCopyValue(v.Index(i)))
		}
		return out

	case reflect.Map:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		for _, k := range v.MapKeys() {
			out.SetMapIndex(k, deepCopyValue(v.MapIndex(k)))
		}
		return out

	case reflect.Interface:
		if v.IsNil() {
			return v
		}
		out := reflect.New(v.Type()).Elem()
		out.Set(deepCopyValue(v.Elem()))
		return out

	default:
		return v
	}
}
