/*
 * HierDB
 *
 * Copyright 2020 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package hierarchy

import (
	"fmt"
	"testing"

	"devt.de/krotik/hierdb/hierarchy/util"
)

/*
checkEdgeOrigins verifies that every arc has its origin back-reference
on the destination node.
*/
func checkEdgeOrigins(t *testing.T, h *Hierarchy) {
	h.index.Ascend(func(n *Node) bool {
		for _, name := range n.edges.FieldNames() {
			ef := n.edges.field(name)

			for _, dst := range ef.arcs {
				found := false
				for _, e := range dst.edges.origins[n.id] {
					if e == ef {
						found = true
					}
				}
				if !found {
					t.Error("Origin of", n.ID(), name, "missing on", dst.ID())
				}
			}
		}
		return true
	})
}

func TestEdgeBasics(t *testing.T) {
	h := NewHierarchy("main")

	src, _, _ := h.UpsertNode(mustId(t, "src"))
	dst1, _, _ := h.UpsertNode(mustId(t, "dst1"))
	dst2, _, _ := h.UpsertNode(mustId(t, "dst2"))

	if err := h.EdgeAdd(src, "links", ConstraintDefault, dst1); err != nil {
		t.Error(err)
		return
	}
	if err := h.EdgeAdd(src, "links", ConstraintDefault, dst2); err != nil {
		t.Error(err)
		return
	}

	ef := h.EdgeGetField(src, "links")
	if ef == nil || fmt.Sprint(idStrings(ef.Arcs())) != "[dst1 dst2]" {
		t.Error("Unexpected arcs:", ef)
		return
	}

	if !ef.Has(dst1) {
		t.Error("Arc should be found")
		return
	}

	if h.EdgeRefcount(dst1) != 1 {
		t.Error("Unexpected refcount:", h.EdgeRefcount(dst1))
		return
	}

	checkEdgeOrigins(t, h)

	// A field keeps its constraint

	if err := h.EdgeAdd(src, "links", ConstraintSingleRef, dst1); !util.IsError(err, util.ErrInvalidArg) {
		t.Error("Constraint mismatch should be detected:", err)
		return
	}

	// Deletion cleans up the back-reference

	if err := h.EdgeDelete(src, "links", dst1.ID()); err != nil {
		t.Error(err)
		return
	}

	if h.EdgeRefcount(dst1) != 0 {
		t.Error("Refcount should have dropped to zero")
		return
	}

	count, err := h.EdgeClearField(src, "links")
	if err != nil || count != 1 {
		t.Error("Unexpected clear result:", count, err)
		return
	}

	// Deleting the field removes it entirely

	if err := h.EdgeDeleteField(src, "links"); err != nil {
		t.Error(err)
		return
	}

	if h.EdgeGetField(src, "links") != nil || len(src.edges.FieldNames()) != 0 {
		t.Error("Field should have been removed")
		return
	}

	if err := h.EdgeDeleteField(src, "links"); !util.IsError(err, util.ErrNotFound) {
		t.Error("Deleting a missing field should fail:", err)
		return
	}
}

func TestSingleRefConstraint(t *testing.T) {
	h := NewHierarchy("main")

	src, _, _ := h.UpsertNode(mustId(t, "src"))
	dst1, _, _ := h.UpsertNode(mustId(t, "dst1"))
	dst2, _, _ := h.UpsertNode(mustId(t, "dst2"))

	h.EdgeAdd(src, "ref", ConstraintSingleRef, dst1)
	h.EdgeAdd(src, "ref", ConstraintSingleRef, dst2)

	// A single reference field clears the previous arc on insertion

	ef := h.EdgeGetField(src, "ref")
	if fmt.Sprint(idStrings(ef.Arcs())) != "[dst2]" {
		t.Error("Single reference field should hold one arc:", idStrings(ef.Arcs()))
		return
	}

	if h.EdgeRefcount(dst1) != 0 {
		t.Error("Old arc should have been cleaned up")
		return
	}

	checkEdgeOrigins(t, h)
}

/*
TestBidirectionalEdges covers the author/book scenario: adding the
edge on one side creates the reverse edge and deleting one side
cleans up the other.
*/
func TestBidirectionalEdges(t *testing.T) {
	h := NewHierarchy("main")

	err := h.Constraints().AddDynamic("ma", "authors",
		ConstraintFlagBidirectional, ConstraintDefault, "au", "books")
	if err != nil {
		t.Error(err)
		return
	}

	// Registering the same constraint twice is not allowed

	err = h.Constraints().AddDynamic("ma", "authors", 0, 0, "x", "y")
	if !util.IsError(err, util.ErrExists) {
		t.Error("Duplicate constraint should be rejected:", err)
		return
	}

	book, _, _ := h.UpsertNode(mustId(t, "ma000001"))
	author, _, _ := h.UpsertNode(mustId(t, "au000001"))

	if err := h.EdgeAdd(book, "authors", ConstraintDynamic, author); err != nil {
		t.Error(err)
		return
	}

	// The reverse edge exists

	back := h.EdgeGetField(author, "books")
	if back == nil || fmt.Sprint(idStrings(back.Arcs())) != "[ma000001]" {
		t.Error("Reverse edge should exist:", back)
		return
	}

	checkEdgeOrigins(t, h)

	// Deleting the book cleans up the reverse edge

	if _, _, err := h.DelNode(mustId(t, "ma000001"), DelFlagForce); err != nil {
		t.Error(err)
		return
	}

	back = h.EdgeGetField(author, "books")
	if back == nil || len(back.Arcs()) != 0 {
		t.Error("Reverse edge should have been cleaned up:", back)
		return
	}

	if h.EdgeRefcount(author) != 0 {
		t.Error("Author should no longer be referenced")
		return
	}
}

func TestEdgeMetadata(t *testing.T) {
	h := NewHierarchy("main")

	src, _, _ := h.UpsertNode(mustId(t, "src"))
	dst, _, _ := h.UpsertNode(mustId(t, "dst"))

	h.EdgeAdd(src, "links", ConstraintDefault, dst)

	if meta, err := h.EdgeMetadata(src, "links", dst.ID(), false); err != nil || meta != nil {
		t.Error("No metadata should exist yet:", meta, err)
		return
	}

	meta, err := h.EdgeMetadata(src, "links", dst.ID(), true)
	if err != nil || meta == nil {
		t.Error("Metadata should have been created:", err)
		return
	}

	meta.SetString("role", "primary")

	meta2, _ := h.EdgeMetadata(src, "links", dst.ID(), false)
	if v, _ := meta2.GetString("role"); v != "primary" {
		t.Error("Metadata should be persistent:", v)
		return
	}

	// Removing the arc drops the metadata

	h.EdgeDelete(src, "links", dst.ID())

	if _, err := h.EdgeMetadata(src, "links", dst.ID(), false); !util.IsError(err, util.ErrNotFound) {
		t.Error("Metadata of a removed arc should be gone:", err)
		return
	}

	// A node that is referenced through an edge cannot be deleted
	// without force

	h.EdgeAdd(src, "links", ConstraintDefault, dst)

	if _, _, err := h.DelNode(dst.ID(), 0); !util.IsError(err, util.ErrNotSupported) {
		t.Error("Referenced node should not be deletable:", err)
		return
	}
}
