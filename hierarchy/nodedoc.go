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
	"devt.de/krotik/hierdb/hierarchy/data"
	"devt.de/krotik/hierdb/rpn"
)

/*
nodeDoc binds a node to the expression runtime. Besides the data
object of the node it synthesizes the hierarchy relation fields
parents, children, ancestors and descendants as id sets and exposes
the metadata records of edge fields.
*/
type nodeDoc struct {
	h *Hierarchy
	n *Node
}

/*
NewNodeDoc binds a node as an expression evaluation document.
*/
func (h *Hierarchy) NewNodeDoc(n *Node) rpn.Doc {
	return &nodeDoc{h, n}
}

func (d *nodeDoc) GetString(field string) (string, bool) {
	v, err := d.n.obj.GetString(field)
	if err != nil {
		return "", false
	}
	return v, true
}

func (d *nodeDoc) GetNumber(field string) (float64, bool) {
	v, err := d.n.obj.GetDouble(field)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (d *nodeDoc) GetSet(field string) (*data.Set, bool) {
	if IsHierarchyField(field) {
		return d.relationSet(field), true
	}

	v, err := d.n.obj.GetSet(field)
	if err != nil {
		return nil, false
	}

	return v, true
}

func (d *nodeDoc) Exists(field string) bool {
	if IsHierarchyField(field) {
		return d.relationSet(field).Size() > 0
	}

	t, err := d.n.obj.TypeOf(field)
	if err != nil {
		return false
	}

	switch t {
	case data.TypeString:
		v, _ := d.n.obj.GetString(field)
		return v != ""
	case data.TypeSet:
		v, _ := d.n.obj.GetSet(field)
		return v.Size() > 0
	}

	return true
}

func (d *nodeDoc) RecordKeys(field string) ([]string, bool) {
	ef := d.n.edges.field(field)
	if ef == nil || ef.metadata == nil {
		return nil, false
	}

	return ef.metadata.KeysInserted(), true
}

/*
relationSet builds the id set of a synthetic hierarchy relation
field. The transitive relations are collected with a local visited
set - expressions may be evaluated in the middle of a traversal and
must not consume traversal generations.
*/
func (d *nodeDoc) relationSet(field string) *data.Set {
	set := data.NewSet(data.SetTypeString)

	switch field {

	case FieldParents:
		for _, p := range d.n.parents {
			set.AddString(p.id.String())
		}

	case FieldChildren:
		for _, c := range d.n.children {
			set.AddString(c.id.String())
		}

	case FieldAncestors:
		collectRelated(d.n, set, func(n *Node) []*Node { return n.parents })

	case FieldDescendants:
		collectRelated(d.n, set, func(n *Node) []*Node { return n.children })
	}

	return set
}

/*
collectRelated adds all nodes transitively reachable through an
expansion function to an id set.
*/
func collectRelated(start *Node, set *data.Set, expand func(*Node) []*Node) {
	visited := map[*Node]bool{start: true}
	queue := expand(start)

	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]

		if visited[n] {
			continue
		}
		visited[n] = true

		set.AddString(n.id.String())

		queue = append(queue, expand(n)...)
	}
}
