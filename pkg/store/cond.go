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

package store

import (
	"fmt"
	"reflect"
	"strings"
)

type op int

const (
	opEq op = iota
	opNe
	opIn
	opNull
	opNotNull
	opOr
)

// Cond is a single query condition on a column. Column names follow the gorm naming strategy.
type Cond struct {
	Column string
	Value  any

	op  op
	any []Cond
}

// Eq matches records whose column equals the value.
func Eq(column string, value any) Cond {
	return Cond{Column: column, Value: value, op: opEq}
}

// Ne matches records whose column is set and differs from the value.
func Ne(column string, value any) Cond {
	return Cond{Column: column, Value: value, op: opNe}
}

// In matches records whose column is one of values. An empty list matches nothing.
func In[V any](column string, values []V) Cond {
	return Cond{Column: column, Value: values, op: opIn}
}

// IsNull matches records whose nullable column is unset.
func IsNull(column string) Cond {
	return Cond{Column: column, op: opNull}
}

// NotNull matches records whose nullable column is set.
func NotNull(column string) Cond {
	return Cond{Column: column, op: opNotNull}
}

// Or matches records satisfying any of conds.
func Or(conds ...Cond) Cond {
	return Cond{op: opOr, any: conds}
}

// SQL renders the condition as a where clause with placeholders.
func (c Cond) SQL() (string, []any) {
	switch c.op {
	case opEq:
		return c.Column + " = ?", []any{c.Value}
	case opNe:
		return c.Column + " <> ?", []any{c.Value}
	case opIn:
		return c.Column + " IN ?", []any{c.Value}
	case opNull:
		return c.Column + " IS NULL", nil
	case opNotNull:
		return c.Column + " IS NOT NULL", nil
	case opOr:
		parts := make([]string, 0, len(c.any))
		args := []any{}

		for _, sub := range c.any {
			expr, subArgs := sub.SQL()
			parts = append(parts, expr)
			args = append(args, subArgs...)
		}

		return "(" + strings.Join(parts, " OR ") + ")", args
	}

	return "", nil
}

// Match evaluates the condition against a struct value.
// The column lookup returns the field for a column name.
func (c Cond) Match(lookup func(column string) (reflect.Value, bool)) bool {
	if c.op == opOr {
		for _, sub := range c.any {
			if sub.Match(lookup) {
				return true
			}
		}

		return false
	}

	field, ok := lookup(c.Column)
	if !ok {
		return false
	}

	isNil := field.Kind() == reflect.Pointer && field.IsNil()
	if field.Kind() == reflect.Pointer && !isNil {
		field = field.Elem()
	}

	switch c.op {
	case opNull:
		return isNil
	case opNotNull:
		return !isNil
	case opEq:
		return !isNil && sameValue(field.Interface(), c.Value)
	case opNe:
		return !isNil && !sameValue(field.Interface(), c.Value)
	case opIn:
		if isNil {
			return false
		}

		values := reflect.ValueOf(c.Value)
		if values.Kind() != reflect.Slice {
			return false
		}

		for i := range values.Len() {
			if sameValue(field.Interface(), values.Index(i).Interface()) {
				return true
			}
		}
	}

	return false
}

func sameValue(a, b any) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}
