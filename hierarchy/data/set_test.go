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
	"testing"
)

func TestStringSet(t *testing.T) {
	s := NewSet(SetTypeString)

	if !s.AddString("b") || !s.AddString("a") || !s.AddString("c") {
		t.Error("Unexpected insert result")
		return
	}

	if s.AddString("a") {
		t.Error("Duplicate insert should not succeed")
		return
	}

	if res := fmt.Sprint(s.Strings()); res != "[a b c]" {
		t.Error("Unexpected set order:", res)
		return
	}

	if !s.HasString("b") || s.HasString("x") {
		t.Error("Unexpected membership result")
		return
	}

	if !s.RemoveString("b") || s.RemoveString("b") {
		t.Error("Unexpected remove result")
		return
	}

	if s.Size() != 2 {
		t.Error("Unexpected size:", s.Size())
		return
	}
}

func TestNumberSets(t *testing.T) {
	d := NewSet(SetTypeDouble)

	d.AddDouble(3.2)
	d.AddDouble(1.1)
	d.AddDouble(2.5)

	if res := fmt.Sprint(d.Doubles()); res != "[1.1 2.5 3.2]" {
		t.Error("Unexpected set order:", res)
		return
	}

	if !d.HasDouble(2.5) || d.HasDouble(9) {
		t.Error("Unexpected membership result")
		return
	}

	l := NewSet(SetTypeLong)

	l.AddLong(5)
	l.AddLong(-1)
	l.AddLong(3)

	if res := fmt.Sprint(l.Longs()); res != "[-1 3 5]" {
		t.Error("Unexpected set order:", res)
		return
	}

	if !l.RemoveLong(3) || l.RemoveLong(3) {
		t.Error("Unexpected remove result")
		return
	}

	// Adding the wrong element type is a no-op

	if l.AddString("x") || l.AddDouble(1) {
		t.Error("Wrong type insert should not succeed")
		return
	}
}

func TestSetMergeAndUnion(t *testing.T) {
	a := NewSet(SetTypeString)
	a.AddString("a")
	a.AddString("b")

	b := NewSet(SetTypeString)
	b.AddString("b")
	b.AddString("c")

	u, err := a.Union(b)
	if err != nil {
		t.Error(err)
		return
	}

	if res := fmt.Sprint(u.Strings()); res != "[a b c]" {
		t.Error("Unexpected union result:", res)
		return
	}

	// The originals are untouched

	if a.Size() != 2 || b.Size() != 2 {
		t.Error("Union should not modify its operands")
		return
	}

	if _, err := a.Merge(NewSet(SetTypeLong)); err == nil {
		t.Error("Merging sets of different types should fail")
		return
	}

	count, err := a.Merge(b)
	if err != nil || count != 1 {
		t.Error("Unexpected merge result:", count, err)
		return
	}
}
