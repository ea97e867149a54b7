/*
 * HierDB
 *
 * Copyright 2020 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

/*
Package data contains the data model objects of the hierarchy store.

Object

Object is an ordered keyed container which maps names to typed values.
Values can be scalars (string, integer, double), nested objects, typed
sets, arrays or opaque pointers with a registered operations table.
Keys can be addressed through dot-separated paths which may include
bracket subscripts for array steps and a single wildcard for keyed
subobject fanout.

Set

Set is an ordered set specialized to one element type (string, double
or integer).
*/
package data

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"devt.de/krotik/hierdb/hierarchy/util"
)

/*
ObjectType is the type of a value stored under a key of an Object.
*/
type ObjectType int

/*
Available value types
*/
const (
	TypeNull ObjectType = iota
	TypeString
	TypeLong
	TypeDouble
	TypeObject
	TypeSet
	TypeArray
	TypePointer
)

/*
MaxObjectKeys is the maximum number of keys a single object can hold.
*/
const MaxObjectKeys = 1<<31 - 1

/*
entry is a single keyed value of an Object.
*/
type entry struct {
	kind ObjectType
	str  string
	lng  int64
	num  float64
	obj  *Object
	set  *Set
	arr  []interface{}
	ptr  *Pointer
}

/*
Object is an ordered keyed container mapping names to typed values.
*/
type Object struct {
	entries  map[string]*entry
	order    []string // Key names in name order
	inserted []string // Key names in insertion order
}

/*
NewObject creates a new empty Object.
*/
func NewObject() *Object {
	return &Object{entries: make(map[string]*entry)}
}

/*
Len returns the number of keys in this object.
*/
func (o *Object) Len() int {
	return len(o.order)
}

/*
Keys returns all keys of this object in name order.
*/
func (o *Object) Keys() []string {
	ret := make([]string, len(o.order))
	copy(ret, o.order)
	return ret
}

/*
KeysInserted returns all keys of this object in insertion order.
*/
func (o *Object) KeysInserted() []string {
	ret := make([]string, len(o.inserted))
	copy(ret, o.inserted)
	return ret
}

/*
setEntry inserts or replaces the entry of a single key.
*/
func (o *Object) setEntry(key string, e *entry) error {

	if _, ok := o.entries[key]; !ok {

		if len(o.order) >= MaxObjectKeys {
			return util.NewError(util.ErrObjectTooBig, key)
		}

		i := sort.SearchStrings(o.order, key)
		o.order = append(o.order, "")
		copy(o.order[i+1:], o.order[i:])
		o.order[i] = key

		o.inserted = append(o.inserted, key)
	}

	o.entries[key] = e

	return nil
}

/*
removeEntry removes the entry of a single key.
*/
func (o *Object) removeEntry(key string) bool {
	e, ok := o.entries[key]

	if !ok {
		return false
	}

	if e.kind == TypePointer && e.ptr != nil {
		if ops := LookupPointerType(e.ptr.PType); ops != nil && ops.Free != nil {
			ops.Free(e.ptr.Value)
		}
	}

	delete(o.entries, key)

	i := sort.SearchStrings(o.order, key)
	o.order = append(o.order[:i], o.order[i+1:]...)

	for j, k := range o.inserted {
		if k == key {
			o.inserted = append(o.inserted[:j], o.inserted[j+1:]...)
			break
		}
	}

	return true
}

// Path handling
// =============

/*
pathStep is a single component of a dot-separated path. An index of -1
means no array subscript, an index of -2 means append.
*/
type pathStep struct {
	key   string
	index int
}

/*
splitPath splits a dot-separated path into its components. Bracket
subscripts are parsed into the index of the step.
*/
func splitPath(path string) ([]pathStep, error) {
	var ret []pathStep

	if path == "" {
		return nil, util.NewError(util.ErrInvalidArg, "Empty path")
	}

	for _, part := range strings.Split(path, ".") {
		step := pathStep{key: part, index: -1}

		if i := strings.IndexByte(part, '['); i != -1 {

			if !strings.HasSuffix(part, "]") {
				return nil, util.NewError(util.ErrInvalidArg,
					fmt.Sprintf("Malformed subscript in path: %v", path))
			}

			idxStr := part[i+1 : len(part)-1]
			step.key = part[:i]

			if idxStr == "" {
				step.index = -2
			} else {
				idx, err := strconv.Atoi(idxStr)
				if err != nil {
					return nil, util.NewError(util.ErrInvalidArg,
						fmt.Sprintf("Malformed subscript in path: %v", path))
				}
				if idx < 0 {
					step.index = -2
				} else {
					step.index = idx
				}
			}
		}

		ret = append(ret, step)
	}

	return ret, nil
}

/*
resolveParent walks a path down to the object holding the final key.
Intermediate nested objects are created when create is set. The final
step of the path is returned unresolved.
*/
func (o *Object) resolveParent(steps []pathStep, create bool) (*Object, pathStep, error) {
	cur := o

	for _, step := range steps[:len(steps)-1] {
		e, ok := cur.entries[step.key]

		if !ok {
			if !create {
				return nil, pathStep{}, util.NewError(util.ErrNotFound, step.key)
			}

			// Auto-create an intermediate nested object. A partially
			// constructed chain is left in place if a later step fails.

			e = &entry{kind: TypeObject, obj: NewObject()}
			if err := cur.setEntry(step.key, e); err != nil {
				return nil, pathStep{}, err
			}
		}

		if step.index >= 0 || step.index == -2 {

			if e.kind != TypeArray {
				return nil, pathStep{}, util.NewError(util.ErrInvalidType, step.key)
			}

			if step.index == -2 || step.index >= len(e.arr) {
				return nil, pathStep{}, util.NewError(util.ErrNotFound, step.key)
			}

			sub, ok := e.arr[step.index].(*Object)
			if !ok {
				return nil, pathStep{}, util.NewError(util.ErrInvalidType, step.key)
			}

			cur = sub
			continue
		}

		if e.kind != TypeObject {
			return nil, pathStep{}, util.NewError(util.ErrInvalidType, step.key)
		}

		cur = e.obj
	}

	return cur, steps[len(steps)-1], nil
}

/*
getEntry returns the entry of a given path or an error if the path
cannot be resolved.
*/
func (o *Object) getEntry(path string) (*entry, error) {
	steps, err := splitPath(path)
	if err != nil {
		return nil, err
	}

	parent, last, err := o.resolveParent(steps, false)
	if err != nil {
		return nil, err
	}

	e, ok := parent.entries[last.key]
	if !ok {
		return nil, util.NewError(util.ErrNotFound, path)
	}

	return e, nil
}

/*
setLeaf writes a leaf entry at a given path creating intermediate
nested objects as necessary.
*/
func (o *Object) setLeaf(path string, e *entry) error {
	steps, err := splitPath(path)
	if err != nil {
		return err
	}

	parent, last, err := o.resolveParent(steps, true)
	if err != nil {
		return err
	}

	if last.index == -1 {
		return parent.setEntry(last.key, e)
	}

	// The final step carries an array subscript - write an array slot

	arr, ok := parent.entries[last.key]

	if !ok {
		arr = &entry{kind: TypeArray}
		if err := parent.setEntry(last.key, arr); err != nil {
			return err
		}
	} else if arr.kind != TypeArray {
		return util.NewError(util.ErrInvalidType, last.key)
	}

	val := entryValue(e)

	if last.index == -2 || last.index >= len(arr.arr) {

		// A negative or absent index appends to the existing length

		arr.arr = append(arr.arr, val)
		return nil
	}

	arr.arr[last.index] = val

	return nil
}

/*
entryValue converts an entry into its generic value representation.
*/
func entryValue(e *entry) interface{} {
	switch e.kind {
	case TypeString:
		return e.str
	case TypeLong:
		return e.lng
	case TypeDouble:
		return e.num
	case TypeObject:
		return e.obj
	case TypeSet:
		return e.set
	case TypeArray:
		return e.arr
	case TypePointer:
		return e.ptr
	}
	return nil
}

// Typed accessors
// ===============

/*
Exists checks if a given path exists.
*/
func (o *Object) Exists(path string) bool {
	_, err := o.getEntry(path)
	return err == nil
}

/*
TypeOf returns the type of the value at a given path.
*/
func (o *Object) TypeOf(path string) (ObjectType, error) {
	e, err := o.getEntry(path)
	if err != nil {
		return TypeNull, err
	}
	return e.kind, nil
}

/*
GetString returns a string value.
*/
func (o *Object) GetString(path string) (string, error) {
	e, err := o.getEntry(path)
	if err != nil {
		return "", err
	}
	if e.kind != TypeString {
		return "", util.NewError(util.ErrInvalidType, path)
	}
	return e.str, nil
}

/*
GetLong returns an integer value.
*/
func (o *Object) GetLong(path string) (int64, error) {
	e, err := o.getEntry(path)
	if err != nil {
		return 0, err
	}
	if e.kind != TypeLong {
		return 0, util.NewError(util.ErrInvalidType, path)
	}
	return e.lng, nil
}

/*
GetDouble returns a double value.
*/
func (o *Object) GetDouble(path string) (float64, error) {
	e, err := o.getEntry(path)
	if err != nil {
		return 0, err
	}
	if e.kind == TypeLong {
		return float64(e.lng), nil
	}
	if e.kind != TypeDouble {
		return 0, util.NewError(util.ErrInvalidType, path)
	}
	return e.num, nil
}

/*
GetObject returns a nested object value.
*/
func (o *Object) GetObject(path string) (*Object, error) {
	e, err := o.getEntry(path)
	if err != nil {
		return nil, err
	}
	if e.kind != TypeObject {
		return nil, util.NewError(util.ErrInvalidType, path)
	}
	return e.obj, nil
}

/*
GetSet returns a set value.
*/
func (o *Object) GetSet(path string) (*Set, error) {
	e, err := o.getEntry(path)
	if err != nil {
		return nil, err
	}
	if e.kind != TypeSet {
		return nil, util.NewError(util.ErrInvalidType, path)
	}
	return e.set, nil
}

/*
GetArray returns an array value.
*/
func (o *Object) GetArray(path string) ([]interface{}, error) {
	e, err := o.getEntry(path)
	if err != nil {
		return nil, err
	}
	if e.kind != TypeArray {
		return nil, util.NewError(util.ErrInvalidType, path)
	}
	return e.arr, nil
}

/*
GetPointer returns a pointer value.
*/
func (o *Object) GetPointer(path string) (*Pointer, error) {
	e, err := o.getEntry(path)
	if err != nil {
		return nil, err
	}
	if e.kind != TypePointer {
		return nil, util.NewError(util.ErrInvalidType, path)
	}
	return e.ptr, nil
}

/*
GetAny returns the value at a given path as a generic value.
*/
func (o *Object) GetAny(path string) (interface{}, error) {
	e, err := o.getEntry(path)
	if err != nil {
		return nil, err
	}
	return entryValue(e), nil
}

/*
SetString writes a string value.
*/
func (o *Object) SetString(path string, v string) error {
	return o.setLeaf(path, &entry{kind: TypeString, str: v})
}

/*
SetLong writes an integer value.
*/
func (o *Object) SetLong(path string, v int64) error {
	return o.setLeaf(path, &entry{kind: TypeLong, lng: v})
}

/*
SetDouble writes a double value.
*/
func (o *Object) SetDouble(path string, v float64) error {
	return o.setLeaf(path, &entry{kind: TypeDouble, num: v})
}

/*
SetObject writes a nested object value.
*/
func (o *Object) SetObject(path string, v *Object) error {
	return o.setLeaf(path, &entry{kind: TypeObject, obj: v})
}

/*
SetSet writes a set value.
*/
func (o *Object) SetSet(path string, v *Set) error {
	return o.setLeaf(path, &entry{kind: TypeSet, set: v})
}

/*
SetArray writes an array value.
*/
func (o *Object) SetArray(path string, v []interface{}) error {
	return o.setLeaf(path, &entry{kind: TypeArray, arr: v})
}

/*
SetPointer writes an opaque pointer value.
*/
func (o *Object) SetPointer(path string, v *Pointer) error {
	return o.setLeaf(path, &entry{kind: TypePointer, ptr: v})
}

/*
Delete removes the value at a given path. The removal is recursive at
the final key. Missing intermediate components surface a not-found
error.
*/
func (o *Object) Delete(path string) error {
	steps, err := splitPath(path)
	if err != nil {
		return err
	}

	parent, last, err := o.resolveParent(steps, false)
	if err != nil {
		return err
	}

	if !parent.removeEntry(last.key) {
		return util.NewError(util.ErrNotFound, path)
	}

	return nil
}

/*
Clear removes all keys from this object. A keep filter can be given to
preserve specific top-level keys.
*/
func (o *Object) Clear(keep func(key string) bool) {
	for _, key := range o.Keys() {
		if keep != nil && keep(key) {
			continue
		}
		o.removeEntry(key)
	}
}

/*
ForEach calls a given function for every key of this object in name
order. Iteration stops if the function returns an error.
*/
func (o *Object) ForEach(visit func(key string, kind ObjectType) error) error {
	for _, key := range o.Keys() {
		if e, ok := o.entries[key]; ok {
			if err := visit(key, e.kind); err != nil {
				return err
			}
		}
	}
	return nil
}

/*
WalkWild visits the fanout of a path containing a single .*. wildcard.
The subobject keys are visited in insertion order. Without a wildcard
the path itself is visited.
*/
func (o *Object) WalkWild(path string, visit func(path string, value interface{}) error) error {
	i := strings.Index(path, ".*.")

	if i == -1 {
		val, err := o.GetAny(path)
		if err != nil {
			return err
		}
		return visit(path, val)
	}

	prefix, suffix := path[:i], path[i+3:]

	sub, err := o.GetObject(prefix)
	if err != nil {
		return err
	}

	for _, key := range sub.KeysInserted() {
		p := key
		if suffix != "" {
			p = key + "." + suffix
		}

		val, err := sub.GetAny(p)
		if err != nil {
			continue
		}

		if err := visit(prefix+"."+p, val); err != nil {
			return err
		}
	}

	return nil
}

/*
Copy returns a deep copy of this object. Pointer values are shared.
*/
func (o *Object) Copy() *Object {
	ret := NewObject()

	for _, key := range o.inserted {
		e := o.entries[key]
		ne := &entry{kind: e.kind, str: e.str, lng: e.lng, num: e.num, ptr: e.ptr}

		switch e.kind {
		case TypeObject:
			ne.obj = e.obj.Copy()
		case TypeSet:
			ne.set = e.set.Copy()
		case TypeArray:
			ne.arr = append(ne.arr, e.arr...)
		}

		ret.setEntry(key, ne)
	}

	return ret
}

/*
String returns a string representation of this object.
*/
func (o *Object) String() string {
	var buf strings.Builder

	buf.WriteString("Object{")

	for i, key := range o.order {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(fmt.Sprintf("%v: %v", key, entryValue(o.entries[key])))
	}

	buf.WriteString("}")

	return buf.String()
}
