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
	"sort"

	"devt.de/krotik/hierdb/hierarchy/data"
	"devt.de/krotik/hierdb/hierarchy/util"
)

/*
EdgeField is a named typed collection of directed edges out of a
source node. An edge field holds its destination nodes in id order
plus an optional metadata object per destination.
*/
type EdgeField struct {
	constraint *EdgeFieldConstraint
	srcNodeId  NodeId
	name       string
	arcs       []*Node      // Destination nodes ordered by id
	metadata   *data.Object // Destination id to per-edge metadata object
}

/*
Name returns the field name of this edge field.
*/
func (ef *EdgeField) Name() string {
	return ef.name
}

/*
Constraint returns the constraint record of this edge field.
*/
func (ef *EdgeField) Constraint() *EdgeFieldConstraint {
	return ef.constraint
}

/*
Arcs returns the destination nodes of this edge field in id order.
The returned slice must not be modified.
*/
func (ef *EdgeField) Arcs() []*Node {
	return ef.arcs
}

/*
Has checks if this edge field has an arc to a given destination node.
*/
func (ef *EdgeField) Has(dst *Node) bool {
	return containsNode(ef.arcs, dst)
}

/*
Metadata returns the metadata object of the arc to a given
destination or nil if no metadata was set.
*/
func (ef *EdgeField) Metadata(dstId NodeId) *data.Object {
	if ef.metadata == nil {
		return nil
	}

	obj, err := ef.metadata.GetObject(dstId.String())
	if err != nil {
		return nil
	}

	return obj
}

/*
EnsureMetadata returns the metadata object of the arc to a given
destination creating it if necessary.
*/
func (ef *EdgeField) EnsureMetadata(dstId NodeId) *data.Object {
	if obj := ef.Metadata(dstId); obj != nil {
		return obj
	}

	if ef.metadata == nil {
		ef.metadata = data.NewObject()
	}

	obj := data.NewObject()
	ef.metadata.SetObject(dstId.String(), obj)

	return obj
}

/*
EdgeFieldContainer holds the edge fields of a node in both
directions: the fields with edges out of the node and the origin
back-references of edges into the node.
*/
type EdgeFieldContainer struct {
	fields  map[string]*EdgeField
	names   []string // Field names in name order
	origins map[NodeId][]*EdgeField
}

/*
newEdgeFieldContainer creates a new edge field container.
*/
func newEdgeFieldContainer() *EdgeFieldContainer {
	return &EdgeFieldContainer{
		fields:  make(map[string]*EdgeField),
		origins: make(map[NodeId][]*EdgeField),
	}
}

/*
field returns a named edge field or nil.
*/
func (c *EdgeFieldContainer) field(name string) *EdgeField {
	return c.fields[name]
}

/*
addField inserts a new edge field.
*/
func (c *EdgeFieldContainer) addField(ef *EdgeField) {
	c.fields[ef.name] = ef

	i := sort.SearchStrings(c.names, ef.name)
	c.names = append(c.names, "")
	copy(c.names[i+1:], c.names[i:])
	c.names[i] = ef.name
}

/*
removeField removes a named edge field.
*/
func (c *EdgeFieldContainer) removeField(name string) {
	if _, ok := c.fields[name]; !ok {
		return
	}

	delete(c.fields, name)

	i := sort.SearchStrings(c.names, name)
	c.names = append(c.names[:i], c.names[i+1:]...)
}

/*
FieldNames returns the edge field names of this container in name
order.
*/
func (c *EdgeFieldContainer) FieldNames() []string {
	ret := make([]string, len(c.names))
	copy(ret, c.names)
	return ret
}

/*
addOrigin records an edge field pointing at the owning node.
*/
func (c *EdgeFieldContainer) addOrigin(srcId NodeId, ef *EdgeField) {
	for _, e := range c.origins[srcId] {
		if e == ef {
			return
		}
	}
	c.origins[srcId] = append(c.origins[srcId], ef)
}

/*
removeOrigin removes the record of an edge field pointing at the
owning node.
*/
func (c *EdgeFieldContainer) removeOrigin(srcId NodeId, ef *EdgeField) {
	list := c.origins[srcId]

	for i, e := range list {
		if e == ef {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}

	if len(list) == 0 {
		delete(c.origins, srcId)
	} else {
		c.origins[srcId] = list
	}
}

// Hierarchy edge operations
// =========================

/*
EdgeFields returns the edge field container of a node.
*/
func (h *Hierarchy) EdgeFields(n *Node) *EdgeFieldContainer {
	return n.edges
}

/*
EdgeGetField returns a named edge field of a node or nil.
*/
func (h *Hierarchy) EdgeGetField(n *Node, name string) *EdgeField {
	if n == nil {
		return nil
	}
	return n.edges.field(name)
}

/*
EdgeAdd adds an edge from a source node to a destination node. If the
field does not exist yet it is created with the given constraint id.
If the field exists the constraint id must match the field constraint.
Single reference fields clear any existing arc before the insertion.
Bidirectional constraints mirror the insertion into the reverse field
of the destination node.
*/
func (h *Hierarchy) EdgeAdd(src *Node, name string, constraintId ConstraintId, dst *Node) error {
	if src.IsDetached() || dst.IsDetached() {
		return util.NewError(util.ErrNotSupported, "Cannot add edges to detached nodes")
	}

	constraint, err := h.constraints.Resolve(constraintId, src.id.Type(), name)
	if err != nil {
		return err
	}

	ef := src.edges.field(name)

	if ef == nil {
		ef = &EdgeField{
			constraint: constraint,
			srcNodeId:  src.id,
			name:       name,
		}
		src.edges.addField(ef)

	} else if ef.constraint != constraint {
		return util.NewError(util.ErrInvalidArg,
			fmt.Sprintf("Constraint mismatch on field %v", name))
	}

	if ef.Has(dst) {

		// Tolerate the no-op second leg of a bidirectional insertion

		return nil
	}

	h.precheckNode(src)

	if constraint.IsSingleRef() {
		for _, old := range append([]*Node{}, ef.arcs...) {
			h.edgeRemoveArc(src, ef, old, true)
		}
	}

	ef.arcs, _ = insertNode(ef.arcs, dst)
	dst.edges.addOrigin(src.id, ef)

	if !h.loading {
		h.deferFieldChange(src, name)
		h.touchNode(src)
	}

	if constraint.IsBidirectional() {
		if err := h.EdgeAdd(dst, constraint.BckFieldName, ConstraintDynamic, src); err != nil {
			log.Warning("Could not mirror bidirectional edge: ", err)
		}
	}

	return nil
}

/*
EdgeDelete removes the edge from a source node to a destination id.
*/
func (h *Hierarchy) EdgeDelete(src *Node, name string, dstId NodeId) error {
	ef := src.edges.field(name)
	if ef == nil {
		return util.NewError(util.ErrNotFound, name)
	}

	dst := h.lookupNode(dstId)
	if dst == nil || !ef.Has(dst) {
		return util.NewError(util.ErrNotFound, dstId.String())
	}

	h.precheckNode(src)
	h.edgeRemoveArc(src, ef, dst, true)

	h.deferFieldChange(src, name)
	h.touchNode(src)

	return nil
}

/*
edgeRemoveArc removes a single arc of an edge field including its
metadata, the origin back-reference and - for bidirectional fields -
the reverse edge.
*/
func (h *Hierarchy) edgeRemoveArc(src *Node, ef *EdgeField, dst *Node, mirror bool) {
	var removed bool

	if ef.arcs, removed = removeNode(ef.arcs, dst); !removed {
		return
	}

	dst.edges.removeOrigin(src.id, ef)

	if ef.metadata != nil {
		ef.metadata.Delete(dst.id.String())
	}

	if mirror && ef.constraint.IsBidirectional() {
		if bck := dst.edges.field(ef.constraint.BckFieldName); bck != nil {
			h.edgeRemoveArc(dst, bck, src, false)
		}
	}
}

/*
EdgeClearField removes all arcs of an edge field. Returns the number
of removed edges.
*/
func (h *Hierarchy) EdgeClearField(src *Node, name string) (int, error) {
	ef := src.edges.field(name)
	if ef == nil {
		return 0, util.NewError(util.ErrNotFound, name)
	}

	h.precheckNode(src)

	count := len(ef.arcs)

	for _, dst := range append([]*Node{}, ef.arcs...) {
		h.edgeRemoveArc(src, ef, dst, true)
	}

	if count > 0 {
		h.deferFieldChange(src, name)
		h.touchNode(src)
	}

	return count, nil
}

/*
EdgeDeleteField removes an edge field including all of its arcs.
*/
func (h *Hierarchy) EdgeDeleteField(src *Node, name string) error {
	if _, err := h.EdgeClearField(src, name); err != nil {
		return err
	}

	src.edges.removeField(name)

	return nil
}

/*
EdgeRefcount returns the number of edge fields of other nodes which
point at a given node.
*/
func (h *Hierarchy) EdgeRefcount(n *Node) int {
	var count int

	for _, fields := range n.edges.origins {
		count += len(fields)
	}

	return count
}

/*
EdgeMetadata returns the metadata object of an edge. The object is
created if create is set.
*/
func (h *Hierarchy) EdgeMetadata(src *Node, name string, dstId NodeId, create bool) (*data.Object, error) {
	ef := src.edges.field(name)
	if ef == nil {
		return nil, util.NewError(util.ErrNotFound, name)
	}

	dst := h.lookupNode(dstId)
	if dst == nil || !ef.Has(dst) {
		return nil, util.NewError(util.ErrNotFound, dstId.String())
	}

	if create {
		return ef.EnsureMetadata(dstId), nil
	}

	return ef.Metadata(dstId), nil
}

/*
edgeCleanupNode removes all edges of a node in both directions. This
is part of node deletion.
*/
func (h *Hierarchy) edgeCleanupNode(n *Node, events bool) {

	// Remove all outgoing edge fields

	for _, name := range n.edges.FieldNames() {
		ef := n.edges.field(name)

		for _, dst := range append([]*Node{}, ef.arcs...) {
			h.edgeRemoveArc(n, ef, dst, true)
		}

		n.edges.removeField(name)
	}

	// Remove all incoming edges through the origin back-references

	srcIds := make([]NodeId, 0, len(n.edges.origins))
	for srcId := range n.edges.origins {
		srcIds = append(srcIds, srcId)
	}

	sort.Slice(srcIds, func(i, j int) bool { return srcIds[i].Less(srcIds[j]) })

	for _, srcId := range srcIds {
		src := h.lookupNode(srcId)

		for _, ef := range append([]*EdgeField{}, n.edges.origins[srcId]...) {
			if src != nil {
				h.edgeRemoveArc(src, ef, n, true)

				if events {
					h.deferFieldChange(src, ef.name)
				}

			} else {

				// The origin node is gone - drop the dangling back-reference

				log.Warning("Dangling edge origin from ", srcId, " to ", n.id)
				n.edges.removeOrigin(srcId, ef)
			}
		}
	}
}
