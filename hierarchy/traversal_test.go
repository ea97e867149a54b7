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

	"devt.de/krotik/hierdb/hierarchy/data"
)

/*
collectTraversal runs a traversal and returns the visited ids.
*/
func collectTraversal(t *testing.T, h *Hierarchy, start *Node,
	dir TraversalDir, opts *TraversalOptions) []string {

	var ret []string

	err := h.Traverse(start, dir, opts, func(n *Node) VisitControl {
		ret = append(ret, n.ID().String())
		return VisitContinue
	})

	if err != nil {
		t.Error("Traversal failed:", dir, err)
	}

	return ret
}

/*
TestTraversalDirections drives every direction mode over a fixed
fixture. The hierarchy is the diamond root -> top -> (l, r) -> bottom,
the node x carries set and array fields referencing l and r and the
chain e1 -> e2 -> e3 is connected through the edge field next.
*/
func TestTraversalDirections(t *testing.T) {
	h := NewHierarchy("main")

	h.SetHierarchy(mustId(t, "top"), nil, nil, false)
	h.SetParents(mustId(t, "l"), []NodeId{mustId(t, "top")})
	h.SetParents(mustId(t, "r"), []NodeId{mustId(t, "top")})
	h.SetParents(mustId(t, "bottom"), []NodeId{mustId(t, "l"), mustId(t, "r")})

	// x references l and r through data fields

	x, _, _ := h.UpsertNode(mustId(t, "x"))

	refs := data.NewSet(data.SetTypeString)
	refs.AddString("l")
	refs.AddString("r")
	x.Object().SetSet("refs", refs)

	x.Object().SetArray("steps", []interface{}{"r", "l", "missing"})

	// e1 -> e2 -> e3 through the edge field next

	e1, _, _ := h.UpsertNode(mustId(t, "e1"))
	e2, _, _ := h.UpsertNode(mustId(t, "e2"))
	e3, _, _ := h.UpsertNode(mustId(t, "e3"))

	h.EdgeAdd(e1, "next", ConstraintDefault, e2)
	h.EdgeAdd(e2, "next", ConstraintDefault, e3)

	top, _ := h.FindNode(mustId(t, "top"))
	bottom, _ := h.FindNode(mustId(t, "bottom"))

	childrenExpr := mustCompile(t, `{ "children" }`)
	nextExpr := mustCompile(t, `{ "next" }`)

	tests := []struct {
		name  string
		start *Node
		dir   TraversalDir
		opts  *TraversalOptions
		want  string
	}{
		{"none", top, TraversalNone, nil, "[]"},
		{"node", top, TraversalNode, nil, "[top]"},
		{"children", top, TraversalChildren, nil, "[l r]"},
		{"parents", bottom, TraversalParents, nil, "[l r]"},
		{"bfs_ancestors", bottom, TraversalBFSAncestors, nil, "[l r top root]"},
		{"bfs_descendants", top, TraversalBFSDescendants, nil, "[l r bottom]"},
		{"dfs_ancestors", bottom, TraversalDFSAncestors, nil, "[l top root r]"},
		{"dfs_descendants", top, TraversalDFSDescendants, nil, "[l bottom r]"},
		{"dfs_full", top, TraversalDFSFull, nil,
			"[e1 e2 e3 root top l bottom r x]"},
		{"ref", x, TraversalRef,
			&TraversalOptions{Field: "refs"}, "[l r]"},
		{"set", x, TraversalSet,
			&TraversalOptions{Field: "refs"}, "[l r]"},
		{"array", x, TraversalArray,
			&TraversalOptions{Field: "steps"}, "[r l]"},
		{"edge_field", e1, TraversalEdgeField,
			&TraversalOptions{Field: "next"}, "[e2]"},
		{"bfs_edge_field", e1, TraversalBFSEdgeField,
			&TraversalOptions{Field: "next"}, "[e1 e2 e3]"},
		{"bfs_expression", e1, TraversalBFSExpression,
			&TraversalOptions{Expr: nextExpr}, "[e2 e3]"},
		{"expression", top, TraversalExpression,
			&TraversalOptions{Expr: childrenExpr}, "[l r]"},
	}

	for _, tc := range tests {
		if res := fmt.Sprint(collectTraversal(t, h, tc.start, tc.dir, tc.opts)); res != tc.want {
			t.Error("Unexpected", tc.name, "traversal:", res, "- expected:", tc.want)
			return
		}
	}
}

/*
TestTraversalEdgeFilter checks that edges whose metadata fails the
edge filter are skipped.
*/
func TestTraversalEdgeFilter(t *testing.T) {
	h := NewHierarchy("main")

	e1, _, _ := h.UpsertNode(mustId(t, "e1"))
	e2, _, _ := h.UpsertNode(mustId(t, "e2"))
	e3, _, _ := h.UpsertNode(mustId(t, "e3"))

	h.EdgeAdd(e1, "next", ConstraintDefault, e2)
	h.EdgeAdd(e1, "next", ConstraintDefault, e3)

	meta, _ := h.EdgeMetadata(e1, "next", e2.ID(), true)
	meta.SetDouble("skip", 1)

	// The filter rejects edges whose metadata carries skip = 1

	opts := &TraversalOptions{
		Field:      "next",
		EdgeFilter: mustCompile(t, `"skip" g #1 F L`),
	}

	var ret []string

	h.Traverse(e1, TraversalEdgeField, opts, func(n *Node) VisitControl {
		ret = append(ret, n.ID().String())
		return VisitContinue
	})

	if res := fmt.Sprint(ret); res != "[e3]" {
		t.Error("Filtered edge should have been skipped:", res)
		return
	}
}
