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
	"bufio"
	"bytes"
	"fmt"
	"testing"

	"devt.de/krotik/hierdb/hierarchy/util"
)

func TestObjectBasicAccess(t *testing.T) {
	obj := NewObject()

	obj.SetString("name", "node1")
	obj.SetLong("count", 42)
	obj.SetDouble("weight", 1.5)

	if v, err := obj.GetString("name"); err != nil || v != "node1" {
		t.Error("Unexpected result:", v, err)
		return
	}

	if v, err := obj.GetLong("count"); err != nil || v != 42 {
		t.Error("Unexpected result:", v, err)
		return
	}

	// An integer can be read as a double

	if v, err := obj.GetDouble("count"); err != nil || v != 42 {
		t.Error("Unexpected result:", v, err)
		return
	}

	if _, err := obj.GetLong("name"); !util.IsError(err, util.ErrInvalidType) {
		t.Error("Type mismatch should be detected:", err)
		return
	}

	if _, err := obj.GetString("missing"); !util.IsError(err, util.ErrNotFound) {
		t.Error("Missing key should be detected:", err)
		return
	}

	// Keys iterate in name order

	if res := fmt.Sprint(obj.Keys()); res != "[count name weight]" {
		t.Error("Unexpected key order:", res)
		return
	}

	// Insertion order is preserved separately

	if res := fmt.Sprint(obj.KeysInserted()); res != "[name count weight]" {
		t.Error("Unexpected insertion order:", res)
		return
	}
}

func TestObjectPaths(t *testing.T) {
	obj := NewObject()

	// Writes auto-create intermediate nested objects

	if err := obj.SetString("a.b.c", "deep"); err != nil {
		t.Error(err)
		return
	}

	if v, err := obj.GetString("a.b.c"); err != nil || v != "deep" {
		t.Error("Unexpected result:", v, err)
		return
	}

	// Reads do not auto-create

	if _, err := obj.GetString("a.x.y"); !util.IsError(err, util.ErrNotFound) {
		t.Error("Missing path should be detected:", err)
		return
	}

	// Array subscripts - a missing or negative index appends

	obj.SetString("list[]", "first")
	obj.SetString("list[]", "second")
	obj.SetString("list[0]", "FIRST")

	arr, err := obj.GetArray("list")
	if err != nil || fmt.Sprint(arr) != "[FIRST second]" {
		t.Error("Unexpected array content:", arr, err)
		return
	}

	// Delete is recursive at the final key only

	if err := obj.Delete("a.b"); err != nil {
		t.Error(err)
		return
	}

	if obj.Exists("a.b.c") || !obj.Exists("a") {
		t.Error("Unexpected state after delete")
		return
	}

	if err := obj.Delete("a.nothing"); !util.IsError(err, util.ErrNotFound) {
		t.Error("Deleting a missing key should fail:", err)
		return
	}
}

func TestObjectWildcard(t *testing.T) {
	obj := NewObject()

	obj.SetString("edges.f1.kind", "ref")
	obj.SetString("edges.f2.kind", "set")

	var visited []string

	err := obj.WalkWild("edges.*.kind", func(path string, val interface{}) error {
		visited = append(visited, fmt.Sprintf("%v=%v", path, val))
		return nil
	})

	if err != nil {
		t.Error(err)
		return
	}

	if res := fmt.Sprint(visited); res != "[edges.f1.kind=ref edges.f2.kind=set]" {
		t.Error("Unexpected wildcard result:", res)
		return
	}
}

func TestObjectCodec(t *testing.T) {
	obj := NewObject()

	obj.SetString("name", "node1")
	obj.SetLong("count", -7)
	obj.SetDouble("weight", 2.25)

	nested := NewObject()
	nested.SetString("inner", "value")
	obj.SetObject("sub", nested)

	set := NewSet(SetTypeString)
	set.AddString("x")
	set.AddString("y")
	obj.SetSet("tags", set)

	obj.SetArray("list", []interface{}{"a", int64(1), 2.5})

	var buf bytes.Buffer

	if err := obj.WriteTo(&buf); err != nil {
		t.Error(err)
		return
	}

	loaded, err := ReadObject(bufio.NewReader(&buf))
	if err != nil {
		t.Error(err)
		return
	}

	if v, _ := loaded.GetString("name"); v != "node1" {
		t.Error("Unexpected loaded value:", v)
		return
	}
	if v, _ := loaded.GetLong("count"); v != -7 {
		t.Error("Unexpected loaded value:", v)
		return
	}
	if v, _ := loaded.GetDouble("weight"); v != 2.25 {
		t.Error("Unexpected loaded value:", v)
		return
	}
	if v, _ := loaded.GetObject("sub"); v == nil {
		t.Error("Nested object was not loaded")
		return
	} else if s, _ := v.GetString("inner"); s != "value" {
		t.Error("Unexpected nested value:", s)
		return
	}
	if v, _ := loaded.GetSet("tags"); fmt.Sprint(v.Strings()) != "[x y]" {
		t.Error("Unexpected loaded set:", v)
		return
	}
	if v, _ := loaded.GetArray("list"); fmt.Sprint(v) != "[a 1 2.5]" {
		t.Error("Unexpected loaded array:", v)
		return
	}

	// Insertion order survives the round trip

	if res := fmt.Sprint(loaded.KeysInserted()); res != fmt.Sprint(obj.KeysInserted()) {
		t.Error("Insertion order was not preserved:", res)
		return
	}
}

func TestObjectPointer(t *testing.T) {
	var freed bool

	RegisterPointerType(99, &PointerOps{
		Reply: func(v interface{}) interface{} { return "ptr:" + v.(string) },
		Free:  func(v interface{}) { freed = true },
		Len:   func(v interface{}) int { return len(v.(string)) },
	})

	obj := NewObject()
	obj.SetPointer("p", &Pointer{PType: 99, Value: "payload"})

	ptr, err := obj.GetPointer("p")
	if err != nil || ptr.Value != "payload" {
		t.Error("Unexpected pointer result:", ptr, err)
		return
	}

	// Removing a pointer entry releases the value

	obj.Delete("p")

	if !freed {
		t.Error("Pointer value should have been freed")
		return
	}
}
