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
)

/*
Node is a single node of the hierarchy. A node owns its data object,
its parent and child sets, the markers currently attached to it and
its edge field container. Node objects are stable handles - they stay
valid for the lifetime of the node.
*/
type Node struct {
	id          NodeId
	flags       uint32
	obj         *data.Object
	parents     []*Node   // Parent nodes ordered by id
	children    []*Node   // Child nodes ordered by id
	markers     []*Marker // Attached markers ordered by (subscription, marker)
	flagsFilter uint16    // OR of the flags of all attached markers
	edges       *EdgeFieldContainer
	trxVisit    uint64 // Generation stamp of the last traversal visit
	trxTouch    int64  // Time of the last traversal touch in milliseconds
}

/*
newNode creates a new node.
*/
func newNode(id NodeId) *Node {
	return &Node{
		id:    id,
		obj:   data.NewObject(),
		edges: newEdgeFieldContainer(),
	}
}

/*
ID returns the id of this node.
*/
func (n *Node) ID() NodeId {
	return n.id
}

/*
Object returns the data object of this node.
*/
func (n *Node) Object() *data.Object {
	return n.obj
}

/*
IsDetached checks if the subtree rooted at this node is detached from
the live store.
*/
func (n *Node) IsDetached() bool {
	return n.flags&NodeFlagDetached != 0
}

/*
Parents returns the parent nodes of this node in id order. The
returned slice must not be modified.
*/
func (n *Node) Parents() []*Node {
	return n.parents
}

/*
Children returns the child nodes of this node in id order. The
returned slice must not be modified.
*/
func (n *Node) Children() []*Node {
	return n.children
}

/*
ParentIds returns the parent ids of this node in order.
*/
func (n *Node) ParentIds() []NodeId {
	ret := make([]NodeId, 0, len(n.parents))
	for _, p := range n.parents {
		ret = append(ret, p.id)
	}
	return ret
}

/*
ChildIds returns the child ids of this node in order.
*/
func (n *Node) ChildIds() []NodeId {
	ret := make([]NodeId, 0, len(n.children))
	for _, c := range n.children {
		ret = append(ret, c.id)
	}
	return ret
}

/*
String returns a string representation of this node.
*/
func (n *Node) String() string {
	return fmt.Sprintf("Node %v (parents: %v children: %v)",
		n.id, len(n.parents), len(n.children))
}

// Ordered node list helpers
// =========================

/*
searchNode returns the insertion index of a node id in an id-ordered
node list.
*/
func searchNode(list []*Node, id NodeId) int {
	return sort.Search(len(list), func(i int) bool {
		return !list[i].id.Less(id)
	})
}

/*
insertNode inserts a node into an id-ordered node list. Returns the
new list and true if the node was inserted.
*/
func insertNode(list []*Node, n *Node) ([]*Node, bool) {
	i := searchNode(list, n.id)

	if i < len(list) && list[i] == n {
		return list, false
	}

	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = n

	return list, true
}

/*
removeNode removes a node from an id-ordered node list. Returns the
new list and true if the node was present.
*/
func removeNode(list []*Node, n *Node) ([]*Node, bool) {
	i := searchNode(list, n.id)

	if i >= len(list) || list[i] != n {
		return list, false
	}

	return append(list[:i], list[i+1:]...), true
}

/*
containsNode checks if a node is in an id-ordered node list.
*/
func containsNode(list []*Node, n *Node) bool {
	i := searchNode(list, n.id)
	return i < len(list) && list[i] == n
}

// Marker attachment
// =================

/*
markerBefore imposes the (subscription id, marker id) order on
markers.
*/
func markerBefore(a *Marker, b *Marker) bool {
	if c := a.sub.id.Compare(b.sub.id); c != 0 {
		return c < 0
	}
	return a.id < b.id
}

/*
attachMarker attaches a marker to this node. Attachment is idempotent.
Returns true if the marker was newly attached.
*/
func (n *Node) attachMarker(m *Marker) bool {
	i := sort.Search(len(n.markers), func(i int) bool {
		return !markerBefore(n.markers[i], m)
	})

	if i < len(n.markers) && n.markers[i] == m {
		return false
	}

	n.markers = append(n.markers, nil)
	copy(n.markers[i+1:], n.markers[i:])
	n.markers[i] = m

	n.flagsFilter |= m.flags & MarkerMatcherMask

	return true
}

/*
detachMarker removes a marker from this node. Returns true if the
marker was present.
*/
func (n *Node) detachMarker(m *Marker) bool {
	i := sort.Search(len(n.markers), func(i int) bool {
		return !markerBefore(n.markers[i], m)
	})

	if i >= len(n.markers) || n.markers[i] != m {
		return false
	}

	n.markers = append(n.markers[:i], n.markers[i+1:]...)
	n.updateFlagsFilter()

	return true
}

/*
clearMarkers removes all markers from this node and returns them.
*/
func (n *Node) clearMarkers() []*Marker {
	ret := n.markers
	n.markers = nil
	n.flagsFilter = 0
	return ret
}

/*
updateFlagsFilter recomputes the cached OR of all attached marker
flags.
*/
func (n *Node) updateFlagsFilter() {
	n.flagsFilter = 0
	for _, m := range n.markers {
		n.flagsFilter |= m.flags & MarkerMatcherMask
	}
}

/*
stamp marks this node as visited by a traversal generation. Returns
true if this is the first visit within the generation.
*/
func (n *Node) stamp(generation uint64, now int64) bool {
	if n.trxVisit == generation {
		return false
	}

	n.trxVisit = generation
	n.trxTouch = now

	return true
}
