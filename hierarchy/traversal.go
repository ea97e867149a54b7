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
	"devt.de/krotik/hierdb/hierarchy/util"
	"devt.de/krotik/hierdb/rpn"
)

/*
VisitControl is the return value of a traversal callback.
*/
type VisitControl int

/*
Available traversal callback results
*/
const (
	VisitContinue VisitControl = iota
	VisitStop
)

/*
TraversalOptions carries the optional arguments of a traversal.
*/
type TraversalOptions struct {
	Field          string          // Field name for field based directions
	Expr           *rpn.Expression // Field set expression for expression directions
	EdgeFilter     *rpn.Expression // Filter evaluated against edge metadata
	VMCtx          *rpn.Ctx        // Evaluation context for the expressions
	InhibitRestore bool            // Do not restore detached subtrees
}

/*
traversal is the state of a single traversal run.
*/
type traversal struct {
	h          *Hierarchy
	generation uint64
	now        int64
	opts       *TraversalOptions
	visit      func(*Node) VisitControl
	stopped    bool
}

/*
Traverse runs a traversal from a starting node in a given direction.
The callback is invoked once for every reached node - returning
VisitStop aborts the traversal. Traversals acquire a fresh generation
so every node is visited at most once even in cyclic hierarchies.
Reached detached subtrees are transparently restored unless
InhibitRestore is set.
*/
func (h *Hierarchy) Traverse(start *Node, dir TraversalDir,
	opts *TraversalOptions, visit func(*Node) VisitControl) error {

	if opts == nil {
		opts = &TraversalOptions{}
	}

	t := &traversal{
		h:          h,
		generation: h.nextGeneration(),
		now:        h.clock(),
		opts:       opts,
		visit:      visit,
	}

	switch dir {

	case TraversalNone:
		return nil

	case TraversalNode:
		start.stamp(t.generation, t.now)
		t.visitNode(start)
		return nil

	case TraversalChildren:
		return t.oneHop(start, start.children)

	case TraversalParents:
		return t.oneHop(start, start.parents)

	case TraversalBFSAncestors:
		return t.bfs(start, true, func(n *Node) []*Node { return n.parents })

	case TraversalBFSDescendants:
		return t.bfs(start, true, func(n *Node) []*Node { return n.children })

	case TraversalDFSAncestors:
		return t.dfs(start, true, func(n *Node) []*Node { return n.parents })

	case TraversalDFSDescendants:
		return t.dfs(start, true, func(n *Node) []*Node { return n.children })

	case TraversalDFSFull:
		return t.dfsFull()

	case TraversalRef, TraversalSet:
		return t.oneHop(start, t.fieldSetNodes(start))

	case TraversalArray:
		return t.oneHop(start, t.fieldArrayNodes(start))

	case TraversalEdgeField:
		return t.oneHop(start, t.edgeFieldNodes(start, opts.Field))

	case TraversalBFSEdgeField:
		return t.bfs(start, false, func(n *Node) []*Node {
			return t.edgeFieldNodes(n, opts.Field)
		})

	case TraversalBFSExpression:
		return t.bfs(start, true, t.expressionNodes)

	case TraversalExpression:
		return t.oneHop(start, t.expressionNodes(start))
	}

	return util.NewError(util.ErrInvalidArg, "Unknown traversal direction")
}

/*
TraverseAll runs a traversal over the full hierarchy. Every head node
and everything reachable from it is visited in id order.
*/
func (h *Hierarchy) TraverseAll(opts *TraversalOptions, visit func(*Node) VisitControl) error {
	return h.Traverse(h.root, TraversalDFSFull, opts, visit)
}

/*
visitNode invokes the callback for a reached node.
*/
func (t *traversal) visitNode(n *Node) {
	if t.visit(n) == VisitStop {
		t.stopped = true
	}
}

/*
reach resolves a reached node restoring its detached subtree if
necessary.
*/
func (t *traversal) reach(n *Node) (*Node, error) {
	if !n.IsDetached() || t.opts.InhibitRestore || t.h.restoring {
		return n, nil
	}

	id := n.id

	if err := t.h.RestoreSubtree(id); err != nil {
		return nil, err
	}

	return t.h.lookupNode(id), nil
}

/*
oneHop visits the given neighbors of a starting node.
*/
func (t *traversal) oneHop(start *Node, neighbors []*Node) error {
	start.stamp(t.generation, t.now)

	for _, n := range append([]*Node{}, neighbors...) {
		n, err := t.reach(n)
		if err != nil {
			return err
		}

		if n != nil && n.stamp(t.generation, t.now) {
			if t.visitNode(n); t.stopped {
				return nil
			}
		}
	}

	return nil
}

/*
bfs visits all nodes reachable through an expansion function in
breadth first order.
*/
func (t *traversal) bfs(start *Node, skipHead bool, expand func(*Node) []*Node) error {
	type queueItem struct {
		node  *Node
		depth int
	}

	queue := []queueItem{{start, 0}}
	start.stamp(t.generation, t.now)

	if !skipHead {
		if t.visitNode(start); t.stopped {
			return nil
		}
	}

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		if item.depth >= maxTraversalDepth {
			return util.NewError(util.ErrMaxDepth, t.h.name)
		}

		for _, next := range append([]*Node{}, expand(item.node)...) {
			next, err := t.reach(next)
			if err != nil {
				return err
			}

			if next == nil || !next.stamp(t.generation, t.now) {
				continue
			}

			if t.visitNode(next); t.stopped {
				return nil
			}

			queue = append(queue, queueItem{next, item.depth + 1})
		}
	}

	return nil
}

/*
dfs visits all nodes reachable through an expansion function in depth
first order.
*/
func (t *traversal) dfs(start *Node, skipHead bool, expand func(*Node) []*Node) error {
	start.stamp(t.generation, t.now)

	if !skipHead {
		if t.visitNode(start); t.stopped {
			return nil
		}
	}

	return t.dfsStep(start, 0, expand)
}

/*
dfsStep expands a single node of a depth first traversal.
*/
func (t *traversal) dfsStep(n *Node, depth int, expand func(*Node) []*Node) error {
	if depth >= maxTraversalDepth {
		return util.NewError(util.ErrMaxDepth, t.h.name)
	}

	for _, next := range append([]*Node{}, expand(n)...) {
		next, err := t.reach(next)
		if err != nil {
			return err
		}

		if next == nil || !next.stamp(t.generation, t.now) {
			continue
		}

		if t.visitNode(next); t.stopped {
			return nil
		}

		if err := t.dfsStep(next, depth+1, expand); err != nil {
			return err
		}

		if t.stopped {
			return nil
		}
	}

	return nil
}

/*
dfsFull visits every head node and everything reachable from it.
*/
func (t *traversal) dfsFull() error {
	for _, head := range t.h.Heads() {
		head, err := t.reach(head)
		if err != nil {
			return err
		}

		if head == nil || !head.stamp(t.generation, t.now) {
			continue
		}

		if t.visitNode(head); t.stopped {
			return nil
		}

		err = t.dfsStep(head, 0, func(n *Node) []*Node { return n.children })
		if err != nil || t.stopped {
			return err
		}
	}

	return nil
}

/*
fieldSetNodes resolves a set-valued data field into nodes.
*/
func (t *traversal) fieldSetNodes(n *Node) []*Node {
	set, err := n.obj.GetSet(t.opts.Field)
	if err != nil {
		return nil
	}

	var ret []*Node

	for _, s := range set.Strings() {
		if id, err := NewNodeId(s); err == nil {
			if node := t.h.lookupNode(id); node != nil {
				ret = append(ret, node)
			}
		}
	}

	return ret
}

/*
fieldArrayNodes resolves an array-valued data field into nodes.
*/
func (t *traversal) fieldArrayNodes(n *Node) []*Node {
	arr, err := n.obj.GetArray(t.opts.Field)
	if err != nil {
		return nil
	}

	var ret []*Node

	for _, item := range arr {
		if s, ok := item.(string); ok {
			if id, err := NewNodeId(s); err == nil {
				if node := t.h.lookupNode(id); node != nil {
					ret = append(ret, node)
				}
			}
		}
	}

	return ret
}

/*
edgeFieldNodes resolves a named edge field into its destination
nodes. Edges whose metadata does not pass the edge filter are skipped.
*/
func (t *traversal) edgeFieldNodes(n *Node, field string) []*Node {
	ef := n.edges.field(field)
	if ef == nil {
		return nil
	}

	if t.opts.EdgeFilter == nil {
		return ef.arcs
	}

	var ret []*Node

	for _, dst := range ef.arcs {
		if t.passesEdgeFilter(ef, dst) {
			ret = append(ret, dst)
		}
	}

	return ret
}

/*
passesEdgeFilter evaluates the edge filter against the metadata
object of an edge.
*/
func (t *traversal) passesEdgeFilter(ef *EdgeField, dst *Node) bool {
	ctx := t.opts.VMCtx
	if ctx == nil {
		ctx = rpn.NewCtx(1)
	}

	meta := ef.Metadata(dst.id)

	ctx.Bind(rpn.NewObjectDoc(meta), dst.id.String())

	res, err := t.opts.EdgeFilter.EvalBool(ctx)
	if err != nil {
		log.Warning("Edge filter failed: ", err)
		return false
	}

	return res
}

/*
expressionNodes evaluates the field set expression of the traversal
at a node and resolves the yielded field names into neighbor nodes.
*/
func (t *traversal) expressionNodes(n *Node) []*Node {
	ctx := t.opts.VMCtx
	if ctx == nil {
		ctx = rpn.NewCtx(1)
	}

	ctx.Bind(t.h.NewNodeDoc(n), n.id.String())
	ctx.SetRegString(0, n.id.String())

	set, err := t.opts.Expr.EvalSet(ctx)
	if err != nil {
		log.Warning("Traversal expression failed: ", err)
		return nil
	}

	var ret []*Node

	for _, field := range set.Strings() {
		switch field {
		case FieldChildren:
			ret = append(ret, n.children...)
		case FieldParents:
			ret = append(ret, n.parents...)
		default:
			ret = append(ret, t.edgeFieldNodes(n, field)...)
		}
	}

	return ret
}
