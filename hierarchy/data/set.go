/*
 * HierDB
 *
 * Copyright 2020 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package data

import (
	"fmt"
	"sort"
	"strings"

	"devt.de/krotik/hierdb/hierarchy/util"
)

/*
SetType is the element type of a Set.
*/
type SetType int

/*
Available set element types
*/
const (
	SetTypeString SetType = iota
	SetTypeDouble
	SetTypeLong
)

/*
Set is an ordered set specialized to one element type. Elements are kept
in their natural order which makes iteration deterministic.
*/
type Set struct {
	stype SetType
	strs  []string
	nums  []float64
	lngs  []int64
}

/*
NewSet creates a new Set of a given element type.
*/
func NewSet(stype SetType) *Set {
	return &Set{stype: stype}
}

/*
Type returns the element type of this set.
*/
func (s *Set) Type() SetType {
	return s.stype
}

/*
Size returns the number of elements in this set.
*/
func (s *Set) Size() int {
	switch s.stype {
	case SetTypeDouble:
		return len(s.nums)
	case SetTypeLong:
		return len(s.lngs)
	}
	return len(s.strs)
}

/*
AddString adds a string element to this set. Returns true if the element
was inserted and false if it was already present.
*/
func (s *Set) AddString(v string) bool {
	if s.stype != SetTypeString {
		return false
	}

	i := sort.SearchStrings(s.strs, v)
	if i < len(s.strs) && s.strs[i] == v {
		return false
	}

	s.strs = append(s.strs, "")
	copy(s.strs[i+1:], s.strs[i:])
	s.strs[i] = v

	return true
}

/*
AddDouble adds a double element to this set. Returns true if the element
was inserted and false if it was already present.
*/
func (s *Set) AddDouble(v float64) bool {
	if s.stype != SetTypeDouble {
		return false
	}

	i := sort.SearchFloat64s(s.nums, v)
	if i < len(s.nums) && s.nums[i] == v {
		return false
	}

	s.nums = append(s.nums, 0)
	copy(s.nums[i+1:], s.nums[i:])
	s.nums[i] = v

	return true
}

/*
AddLong adds an integer element to this set. Returns true if the element
was inserted and false if it was already present.
*/
func (s *Set) AddLong(v int64) bool {
	if s.stype != SetTypeLong {
		return false
	}

	i := sort.Search(len(s.lngs), func(i int) bool { return s.lngs[i] >= v })
	if i < len(s.lngs) && s.lngs[i] == v {
		return false
	}

	s.lngs = append(s.lngs, 0)
	copy(s.lngs[i+1:], s.lngs[i:])
	s.lngs[i] = v

	return true
}

/*
RemoveString removes a string element from this set. Returns true if the
element was present.
*/
func (s *Set) RemoveString(v string) bool {
	i := sort.SearchStrings(s.strs, v)
	if i >= len(s.strs) || s.strs[i] != v {
		return false
	}

	s.strs = append(s.strs[:i], s.strs[i+1:]...)

	return true
}

/*
RemoveDouble removes a double element from this set. Returns true if the
element was present.
*/
func (s *Set) RemoveDouble(v float64) bool {
	i := sort.SearchFloat64s(s.nums, v)
	if i >= len(s.nums) || s.nums[i] != v {
		return false
	}

	s.nums = append(s.nums[:i], s.nums[i+1:]...)

	return true
}

/*
RemoveLong removes an integer element from this set. Returns true if the
element was present.
*/
func (s *Set) RemoveLong(v int64) bool {
	i := sort.Search(len(s.lngs), func(i int) bool { return s.lngs[i] >= v })
	if i >= len(s.lngs) || s.lngs[i] != v {
		return false
	}

	s.lngs = append(s.lngs[:i], s.lngs[i+1:]...)

	return true
}

/*
HasString checks if a string element is in this set.
*/
func (s *Set) HasString(v string) bool {
	i := sort.SearchStrings(s.strs, v)
	return i < len(s.strs) && s.strs[i] == v
}

/*
HasDouble checks if a double element is in this set.
*/
func (s *Set) HasDouble(v float64) bool {
	i := sort.SearchFloat64s(s.nums, v)
	return i < len(s.nums) && s.nums[i] == v
}

/*
HasLong checks if an integer element is in this set.
*/
func (s *Set) HasLong(v int64) bool {
	i := sort.Search(len(s.lngs), func(i int) bool { return s.lngs[i] >= v })
	return i < len(s.lngs) && s.lngs[i] == v
}

/*
Strings returns the string elements of this set in order.
*/
func (s *Set) Strings() []string {
	ret := make([]string, len(s.strs))
	copy(ret, s.strs)
	return ret
}

/*
Doubles returns the double elements of this set in order.
*/
func (s *Set) Doubles() []float64 {
	ret := make([]float64, len(s.nums))
	copy(ret, s.nums)
	return ret
}

/*
Longs returns the integer elements of this set in order.
*/
func (s *Set) Longs() []int64 {
	ret := make([]int64, len(s.lngs))
	copy(ret, s.lngs)
	return ret
}

/*
Values returns all elements of this set in order as generic values.
*/
func (s *Set) Values() []interface{} {
	var ret []interface{}

	switch s.stype {
	case SetTypeDouble:
		for _, v := range s.nums {
			ret = append(ret, v)
		}
	case SetTypeLong:
		for _, v := range s.lngs {
			ret = append(ret, v)
		}
	default:
		for _, v := range s.strs {
			ret = append(ret, v)
		}
	}

	return ret
}

/*
Merge adds all elements of another set of the same type to this set.
Returns the number of elements which were inserted.
*/
func (s *Set) Merge(other *Set) (int, error) {
	if other == nil {
		return 0, nil
	}

	if s.stype != other.stype {
		return 0, util.NewError(util.ErrInvalidType, "Set types differ")
	}

	var count int

	switch s.stype {
	case SetTypeDouble:
		for _, v := range other.nums {
			if s.AddDouble(v) {
				count++
			}
		}
	case SetTypeLong:
		for _, v := range other.lngs {
			if s.AddLong(v) {
				count++
			}
		}
	default:
		for _, v := range other.strs {
			if s.AddString(v) {
				count++
			}
		}
	}

	return count, nil
}

/*
Union returns a new set containing the elements of this and another set.
*/
func (s *Set) Union(other *Set) (*Set, error) {
	ret := NewSet(s.stype)

	if _, err := ret.Merge(s); err != nil {
		return nil, err
	}
	if _, err := ret.Merge(other); err != nil {
		return nil, err
	}

	return ret, nil
}

/*
Copy returns a copy of this set.
*/
func (s *Set) Copy() *Set {
	ret := NewSet(s.stype)
	ret.strs = append(ret.strs, s.strs...)
	ret.nums = append(ret.nums, s.nums...)
	ret.lngs = append(ret.lngs, s.lngs...)
	return ret
}

/*
String returns a string representation of this set.
*/
func (s *Set) String() string {
	items := make([]string, 0, s.Size())

	for _, v := range s.Values() {
		items = append(items, fmt.Sprint(v))
	}

	return fmt.Sprintf("Set{%v}", strings.Join(items, ", "))
}
