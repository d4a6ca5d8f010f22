/*
Copyright 2025 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package memory

import "reflect"

// deepCopy returns a copy of rec sharing no pointers, slices or maps with it.
func deepCopy[T any](rec *T) *T {
	out, _ := cloneValue(reflect.ValueOf(rec)).Interface().(*T)

	return out
}

func cloneValue(v reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}

		n := reflect.New(v.Type().Elem())
		n.Elem().Set(cloneValue(v.Elem()))

		return n
	case reflect.Slice:
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}

		n := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := range v.Len() {
			n.Index(i).Set(cloneValue(v.Index(i)))
		}

		return n
	case reflect.Map:
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}

		n := reflect.MakeMapWithSize(v.Type(), v.Len())
		for _, k := range v.MapKeys() {
			n.SetMapIndex(k, cloneValue(v.MapIndex(k)))
		}

		return n
	case reflect.Struct:
		n := reflect.New(v.Type()).Elem()
		n.Set(v)

		for i := range v.NumField() {
			if v.Type().Field(i).IsExported() {
				n.Field(i).Set(cloneValue(v.Field(i)))
			}
		}

		return n
	default:
		return v
	}
}
