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
mustId is a test helper to create node ids.
*/
func mustId(t *testing.T, s string) NodeId {
	id, err := NewNodeId(s)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

/*
idStrings renders a node list as id strings.
*/
func idStrings(nodes []*Node) []string {
	ret := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ret = append(ret, n.ID().String())
	}
	return ret
}

/*
checkMutualLinkage verifies that parent and child sets mirror each
other on every node.
*/
func checkMutualLinkage(t *testing.T, h *Hierarchy) {
	h.index.Ascend(func(n *Node) bool {
		for _, p := range n.parents {
			if !containsNode(p.children, n) {
				t.Error("Child", n.ID(), "is missing in parent", p.ID())
			}
		}
		for _, c := range n.children {
			if !containsNode(c.parents, n) {
				t.Error("Parent", n.ID(), "is missing in child", c.ID())
			}
		}
		return true
	})
}

/*
checkHeads verifies that heads are exactly the nodes without parents.
*/
func checkHeads(t *testing.T, h *Hierarchy) {
	heads := make(map[string]bool)
	for _, n := range h.Heads() {
		heads[n.ID().String()] = true
	}

	h.index.Ascend(func(n *Node) bool {
		isHead := heads[n.ID().String()]

		if n == h.root {
			if !isHead {
				t.Error("Root must always be a head")
			}
		} else if isHead != (len(n.parents) == 0) {
			t.Error("Head state of", n.ID(), "is wrong")
		}

		return true
	})
}

func TestNodeIds(t *testing.T) {
	id := mustId(t, "ab000001")

	if id.String() != "ab000001" || id.Type() != "ab" {
		t.Error("Unexpected id rendering:", id.String(), id.Type())
		return
	}

	if _, err := NewNodeId("12345678901"); !util.IsError(err, util.ErrNameTooLong) {
		t.Error("Overlong id should be rejected:", err)
		return
	}

	if !RootNodeId.Less(mustId(t, "z")) {
		t.Error("Unexpected id order")
		return
	}

	// Fixed width wire lists

	ids, err := ParseNodeIdList("aa00000001bb00000002")
	if err != nil || fmt.Sprint(ids) != "[aa00000001 bb00000002]" {
		t.Error("Unexpected list result:", ids, err)
		return
	}

	ids, err = ParseNodeIdList("a\x00b")
	if err != nil || len(ids) != 2 {
		t.Error("Unexpected list result:", ids, err)
		return
	}
}

func TestUpsertAndHeads(t *testing.T) {
	h := NewHierarchy("main")

	if h.Root() == nil || h.NodeCount() != 1 {
		t.Error("New hierarchy should only hold the root node")
		return
	}

	n, created, err := h.UpsertNode(mustId(t, "a"))
	if err != nil || !created {
		t.Error("Unexpected upsert result:", created, err)
		return
	}

	if _, created, _ := h.UpsertNode(mustId(t, "a")); created {
		t.Error("Second upsert should not create")
		return
	}

	// A fresh node is an orphan head

	if res := fmt.Sprint(idStrings(h.Heads())); res != "[a root]" {
		t.Error("Unexpected heads:", res)
		return
	}

	if v, err := n.Object().GetString(FieldId); err != nil || v != "a" {
		t.Error("Node object should carry its id:", v, err)
		return
	}

	if !n.Object().Exists(FieldCreatedAt) || !n.Object().Exists(FieldUpdatedAt) {
		t.Error("Node object should carry its timestamps")
		return
	}
}

/*
TestCreateThenReparent builds the create-then-reparent scenario: a is
a head, b hangs under a and c under b.
*/
func TestCreateThenReparent(t *testing.T) {
	h := NewHierarchy("main")

	if err := h.SetHierarchy(mustId(t, "a"), nil, nil, true); err != nil {
		t.Error(err)
		return
	}

	if err := h.SetParents(mustId(t, "b"), []NodeId{mustId(t, "a")}); err != nil {
		t.Error(err)
		return
	}

	if err := h.SetParents(mustId(t, "c"), []NodeId{mustId(t, "b")}); err != nil {
		t.Error(err)
		return
	}

	if res := fmt.Sprint(idStrings(h.Heads())); res != "[a root]" {
		t.Error("Unexpected heads:", res)
		return
	}

	c, _ := h.FindNode(mustId(t, "c"))
	if res := fmt.Sprint(idStrings(c.Parents())); res != "[b]" {
		t.Error("Unexpected parents:", res)
		return
	}

	checkMutualLinkage(t, h)
	checkHeads(t, h)

	// Without the no-root flag an empty parent list places the node
	// under the root

	if err := h.SetHierarchy(mustId(t, "d"), nil, nil, false); err != nil {
		t.Error(err)
		return
	}

	d, _ := h.FindNode(mustId(t, "d"))
	if res := fmt.Sprint(idStrings(d.Parents())); res != "[root]" {
		t.Error("Unexpected parents:", res)
		return
	}

	checkHeads(t, h)
}

func TestAddAndDelHierarchy(t *testing.T) {
	h := NewHierarchy("main")

	h.SetHierarchy(mustId(t, "p1"), nil, nil, true)
	h.SetHierarchy(mustId(t, "p2"), nil, nil, true)

	if err := h.AddHierarchy(mustId(t, "c1"),
		[]NodeId{mustId(t, "p1")}, nil); err != nil {
		t.Error(err)
		return
	}

	if err := h.AddHierarchy(mustId(t, "c1"),
		[]NodeId{mustId(t, "p2")}, nil); err != nil {
		t.Error(err)
		return
	}

	c1, _ := h.FindNode(mustId(t, "c1"))
	if res := fmt.Sprint(idStrings(c1.Parents())); res != "[p1 p2]" {
		t.Error("Add should be a union:", res)
		return
	}

	if err := h.DelHierarchy(mustId(t, "c1"),
		[]NodeId{mustId(t, "p1")}, nil); err != nil {
		t.Error(err)
		return
	}

	if res := fmt.Sprint(idStrings(c1.Parents())); res != "[p2]" {
		t.Error("Del should remove the listed relation only:", res)
		return
	}

	checkMutualLinkage(t, h)
	checkHeads(t, h)
}

func TestDelNode(t *testing.T) {
	h := NewHierarchy("main")

	h.SetHierarchy(mustId(t, "a"), nil, nil, true)
	h.SetParents(mustId(t, "b"), []NodeId{mustId(t, "a")})
	h.SetParents(mustId(t, "c"), []NodeId{mustId(t, "b")})

	// A referenced node cannot be deleted without force

	if _, _, err := h.DelNode(mustId(t, "b"), 0); !util.IsError(err, util.ErrNotSupported) {
		t.Error("Referenced node should not be deletable:", err)
		return
	}

	// Deleting the subtree root removes the orphaned chain

	count, ids, err := h.DelNode(mustId(t, "a"), DelFlagReplyIds)
	if err != nil || count != 3 {
		t.Error("Unexpected delete result:", count, err)
		return
	}

	if res := fmt.Sprint(ids); res != "[a b c]" {
		t.Error("Unexpected deleted ids:", res)
		return
	}

	if n, _ := h.FindNode(mustId(t, "c")); n != nil {
		t.Error("Node c should be gone")
		return
	}

	checkHeads(t, h)

	// The root node is never destroyed

	h.Root().Object().SetString("title", "x")

	count, _, err = h.DelNode(RootNodeId, DelFlagForce)
	if err != nil || count != 1 {
		t.Error("Unexpected root delete result:", count, err)
		return
	}

	if h.Root().Object().Exists("title") {
		t.Error("Root fields should have been cleared")
		return
	}

	if !h.Root().Object().Exists(FieldId) || !h.Root().Object().Exists(FieldCreatedAt) {
		t.Error("Root identity fields should have been kept")
		return
	}
}

func TestTraversals(t *testing.T) {
	h := NewHierarchy("main")

	// Build a small diamond: top -> l, r -> bottom

	h.SetHierarchy(mustId(t, "top"), nil, nil, true)
	h.SetParents(mustId(t, "l"), []NodeId{mustId(t, "top")})
	h.SetParents(mustId(t, "r"), []NodeId{mustId(t, "top")})
	h.SetParents(mustId(t, "bottom"), []NodeId{mustId(t, "l"), mustId(t, "r")})

	top, _ := h.FindNode(mustId(t, "top"))
	bottom, _ := h.FindNode(mustId(t, "bottom"))

	collect := func(start *Node, dir TraversalDir) []string {
		var ret []string
		h.Traverse(start, dir, nil, func(n *Node) VisitControl {
			ret = append(ret, n.ID().String())
			return VisitContinue
		})
		return ret
	}

	if res := fmt.Sprint(collect(top, TraversalChildren)); res != "[l r]" {
		t.Error("Unexpected children:", res)
		return
	}

	// BFS skips the starting node and visits every node only once

	if res := fmt.Sprint(collect(top, TraversalBFSDescendants)); res != "[l r bottom]" {
		t.Error("Unexpected BFS order:", res)
		return
	}

	if res := fmt.Sprint(collect(bottom, TraversalBFSAncestors)); res != "[l r top]" {
		t.Error("Unexpected BFS order:", res)
		return
	}

	if res := fmt.Sprint(collect(top, TraversalDFSDescendants)); res != "[l bottom r]" {
		t.Error("Unexpected DFS order:", res)
		return
	}

	if res := fmt.Sprint(collect(bottom, TraversalNode)); res != "[bottom]" {
		t.Error("Unexpected node traversal:", res)
		return
	}

	// Full traversal starts at the heads

	var all []string
	h.TraverseAll(nil, func(n *Node) VisitControl {
		all = append(all, n.ID().String())
		return VisitContinue
	})

	if res := fmt.Sprint(all); res != "[root top l bottom r]" {
		t.Error("Unexpected full traversal:", res)
		return
	}

	// Traversals terminate on cyclic hierarchies

	h.AddHierarchy(mustId(t, "top"), []NodeId{mustId(t, "bottom")}, nil)

	if res := collect(top, TraversalBFSDescendants); len(res) != 3 {
		t.Error("Cyclic traversal should visit every node once:", res)
		return
	}

	// A stop callback aborts the traversal

	var visited int
	h.Traverse(top, TraversalBFSDescendants, nil, func(n *Node) VisitControl {
		visited++
		return VisitStop
	})

	if visited != 1 {
		t.Error("Traversal should have stopped after one node:", visited)
		return
	}
}

func TestAliases(t *testing.T) {
	h := NewHierarchy("main")

	h.SetHierarchy(mustId(t, "a"), nil, nil, true)
	h.SetHierarchy(mustId(t, "b"), nil, nil, true)

	a, _ := h.FindNode(mustId(t, "a"))
	b, _ := h.FindNode(mustId(t, "b"))

	h.SetNodeAliases(a, []string{"first", "second"})

	if id, ok := h.ResolveAlias("first"); !ok || id.String() != "a" {
		t.Error("Alias should resolve:", id, ok)
		return
	}

	// Moving an alias re-points it

	h.SetNodeAliases(b, []string{"first"})

	if id, _ := h.ResolveAlias("first"); id.String() != "b" {
		t.Error("Alias should have moved:", id)
		return
	}

	if id, _ := h.ResolveAlias("second"); id.String() != "a" {
		t.Error("Other alias should be untouched:", id)
		return
	}

	// Deleting the node removes its aliases

	h.DelNode(mustId(t, "b"), DelFlagForce)

	if _, ok := h.ResolveAlias("first"); ok {
		t.Error("Alias of a deleted node should be gone")
		return
	}
}

func TestNodeTypes(t *testing.T) {
	h := NewHierarchy("main")

	if err := h.AddNodeType("ma", "match"); err != nil {
		t.Error(err)
		return
	}

	if err := h.AddNodeType("toolong", "x"); !util.IsError(err, util.ErrInvalidArg) {
		t.Error("Overlong prefix should be rejected:", err)
		return
	}

	if res := fmt.Sprint(h.NodeTypes()); res != "[[ma match]]" {
		t.Error("Unexpected types:", res)
		return
	}

	h.ClearNodeTypes()

	if len(h.NodeTypes()) != 0 {
		t.Error("Types should have been cleared")
		return
	}
}
