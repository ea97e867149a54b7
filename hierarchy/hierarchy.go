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
	"time"

	"devt.de/krotik/common/datautil"
	"devt.de/krotik/common/logutil"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/btree"

	"devt.de/krotik/hierdb/hierarchy/data"
	"devt.de/krotik/hierdb/hierarchy/util"
)

/*
log is the logger of the hierarchy package.
*/
var log = logutil.GetLogger("hierdb.hierarchy")

/*
defaultInactiveRingSize is the default capacity of the inactive node
ring buffer.
*/
const defaultInactiveRingSize = 100

/*
Hierarchy is an indexed collection of nodes ordered by id plus the
set of head nodes. All mutations of nodes and their relations go
through the hierarchy so the subscription engine can observe them.

A hierarchy expects a single writer. Deferred subscription events are
accumulated during a command and dispatched through
SendDeferredEvents().
*/
type Hierarchy struct {
	name  string
	index *btree.BTreeG[*Node] // All nodes ordered by id
	heads []*Node              // Nodes without parents ordered by id
	root  *Node

	generation uint64 // Traversal generation counter

	aliases *data.Object // Alias name to node id
	types   *data.Object // Node type prefix to type name

	constraints *ConstraintRegistry

	subs            map[SubscriptionId]*Subscription
	detachedMarkers []*Marker
	missing         map[string][]*Subscription

	defUpdates  mapset.Set[*Subscription] // Deferred update events by subscription
	defClear    mapset.Set[*Subscription] // Subscriptions to clear after dispatch
	defTriggers []triggerEvent            // Deferred trigger events in order

	detached    *detachedRegistry
	detachedDir string
	inactive    *datautil.RingBuffer

	sink EventSink

	saveInProgress bool
	loading        bool
	restoring      bool

	createdWith string // Version tag of the implementation which created the snapshot
	updatedWith string // Version tag of the implementation which last wrote it

	clock func() int64 // Millisecond clock
}

/*
NewHierarchy creates a new hierarchy with a permanent root node.
*/
func NewHierarchy(name string) *Hierarchy {
	h := &Hierarchy{
		name: name,
		index: btree.NewG(32, func(a, b *Node) bool {
			return a.id.Less(b.id)
		}),
		aliases:     data.NewObject(),
		types:       data.NewObject(),
		constraints: NewConstraintRegistry(),
		subs:        make(map[SubscriptionId]*Subscription),
		missing:     make(map[string][]*Subscription),
		defUpdates:  mapset.NewThreadUnsafeSet[*Subscription](),
		defClear:    mapset.NewThreadUnsafeSet[*Subscription](),
		detached:    newDetachedRegistry(),
		inactive:    datautil.NewRingBuffer(defaultInactiveRingSize),
		clock: func() int64 {
			return time.Now().UnixNano() / int64(time.Millisecond)
		},
	}

	h.root, _, _ = h.UpsertNode(RootNodeId)

	return h
}

/*
Name returns the name of this hierarchy.
*/
func (h *Hierarchy) Name() string {
	return h.name
}

/*
Root returns the permanent root node.
*/
func (h *Hierarchy) Root() *Node {
	return h.root
}

/*
NodeCount returns the number of nodes in this hierarchy.
*/
func (h *Hierarchy) NodeCount() int {
	return h.index.Len()
}

/*
Constraints returns the edge constraint registry of this hierarchy.
*/
func (h *Hierarchy) Constraints() *ConstraintRegistry {
	return h.constraints
}

/*
SetEventSink sets the outbound notification sink of this hierarchy.
*/
func (h *Hierarchy) SetEventSink(sink EventSink) {
	h.sink = sink
}

/*
SetDetachedDir sets the directory for disk-backed detached subtrees.
*/
func (h *Hierarchy) SetDetachedDir(dir string) {
	h.detachedDir = dir
}

/*
SetInactiveRingSize resizes the inactive node ring buffer.
*/
func (h *Hierarchy) SetInactiveRingSize(size int) {
	h.inactive = datautil.NewRingBuffer(size)
}

/*
nextGeneration acquires a fresh traversal generation.
*/
func (h *Hierarchy) nextGeneration() uint64 {
	h.generation++
	return h.generation
}

/*
lookupNode returns a node from the index without restoring detached
subtrees.
*/
func (h *Hierarchy) lookupNode(id NodeId) *Node {
	probe := &Node{id: id}

	if n, ok := h.index.Get(probe); ok {
		return n
	}

	return nil
}

/*
FindNode returns a node by its id or nil if the node does not exist.
If the node is part of a detached subtree the subtree is transparently
restored before the node is returned.
*/
func (h *Hierarchy) FindNode(id NodeId) (*Node, error) {
	n := h.lookupNode(id)

	if n == nil {

		// The node might be a non-root member of a detached subtree

		if h.detached.Exists(id) && !h.restoring {
			if err := h.RestoreSubtree(id); err != nil {
				return nil, err
			}
			return h.lookupNode(id), nil
		}

		return nil, nil
	}

	if n.IsDetached() && !h.restoring {
		if err := h.RestoreSubtree(n.id); err != nil {
			return nil, err
		}
		n = h.lookupNode(id)
	}

	return n, nil
}

/*
UpsertNode returns the node of a given id creating an orphan node if
it does not exist yet.
*/
func (h *Hierarchy) UpsertNode(id NodeId) (*Node, bool, error) {
	if id.IsEmpty() {
		return nil, false, util.NewError(util.ErrInvalidArg, "Empty node id")
	}

	if n := h.lookupNode(id); n != nil {
		return n, false, nil
	}

	n := newNode(id)

	now := h.clock()

	n.obj.SetString(FieldId, id.String())
	n.obj.SetString(FieldType, id.Type())
	n.obj.SetLong(FieldCreatedAt, now)
	n.obj.SetLong(FieldUpdatedAt, now)

	h.index.ReplaceOrInsert(n)
	h.heads, _ = insertNode(h.heads, n)

	if !h.loading {
		h.deferMissingAccessor(id.String())
		h.deferTrigger(TriggerCreated, n)
	}

	return n, true, nil
}

/*
touchNode updates the modification time of a node and defers the
field change event for it.
*/
func (h *Hierarchy) touchNode(n *Node) {
	n.obj.SetLong(FieldUpdatedAt, h.clock())
	h.deferFieldChange(n, FieldUpdatedAt)
}

/*
linkNodes adds a parent/child relation. Returns true if the relation
was newly created.
*/
func (h *Hierarchy) linkNodes(p *Node, c *Node) bool {
	if p == c || c == h.root {
		return false
	}

	var inserted bool

	if p.children, inserted = insertNode(p.children, c); !inserted {
		return false
	}
	c.parents, _ = insertNode(c.parents, p)

	// The child can no longer be a head

	h.heads, _ = removeNode(h.heads, c)

	if !h.loading {
		h.inheritMarkers(p, c)
	}

	return true
}

/*
unlinkNodes removes a parent/child relation. Returns true if the
relation existed.
*/
func (h *Hierarchy) unlinkNodes(p *Node, c *Node) bool {
	var removed bool

	if p.children, removed = removeNode(p.children, c); !removed {
		return false
	}
	c.parents, _ = removeNode(c.parents, p)

	if len(c.parents) == 0 {
		h.heads, _ = insertNode(h.heads, c)
	}

	return true
}

/*
Heads returns the head nodes of this hierarchy in id order. Heads are
the nodes without parents - the root node is permanently a head.
*/
func (h *Hierarchy) Heads() []*Node {
	ret := make([]*Node, len(h.heads))
	copy(ret, h.heads)
	return ret
}

/*
resolveNodes upserts all nodes of an id list.
*/
func (h *Hierarchy) resolveNodes(ids []NodeId) ([]*Node, error) {
	ret := make([]*Node, 0, len(ids))

	for _, id := range ids {
		n, _, err := h.UpsertNode(id)
		if err != nil {
			return nil, err
		}
		ret = append(ret, n)
	}

	return ret, nil
}

/*
collectRelationMarkers collects the markers of a node before its
relations are changed destructively. The markers are cleared from the
affected subgraph and re-applied after the mutation.
*/
func (h *Hierarchy) collectRelationMarkers(n *Node) []*Marker {
	markers := n.clearMarkers()

	for _, m := range markers {
		h.clearMarkerFromNodes(m)
	}

	return markers
}

/*
deferRelationEvents defers the events produced by a relation change of
a node.
*/
func (h *Hierarchy) deferRelationEvents(n *Node, created bool) {
	h.deferHierarchyChange(n)

	h.deferFieldChange(n, FieldParents)
	h.deferFieldChange(n, FieldChildren)
	h.deferFieldChange(n, FieldAncestors)
	h.deferFieldChange(n, FieldDescendants)

	h.touchNode(n)

	if !created {
		h.deferTrigger(TriggerUpdated, n)
	}
}

/*
SetHierarchy replaces the parents and the children of a node with the
given id lists. Missing referenced nodes are created. If the parent
list is empty and noRoot is not set the node is placed under the root
node.
*/
func (h *Hierarchy) SetHierarchy(id NodeId, parents []NodeId, children []NodeId, noRoot bool) error {
	n, created, err := h.UpsertNode(id)
	if err != nil {
		return err
	}

	if n.IsDetached() {
		return util.NewError(util.ErrNotSupported,
			fmt.Sprintf("Cannot write to detached node %v", id))
	}

	if len(parents) == 0 && !noRoot && n != h.root {
		parents = []NodeId{RootNodeId}
	}

	h.precheckNode(n)

	newParents, err := h.resolveNodes(parents)
	if err != nil {
		return err
	}
	newChildren, err := h.resolveNodes(children)
	if err != nil {
		return err
	}

	markers := h.collectRelationMarkers(n)

	h.replaceRelations(n, newParents, true)
	h.replaceRelations(n, newChildren, false)

	h.refreshMarkers(markers)

	h.deferRelationEvents(n, created)

	return nil
}

/*
SetParents replaces the parents of a node with a given id list.
*/
func (h *Hierarchy) SetParents(id NodeId, parents []NodeId) error {
	return h.setRelationAxis(id, parents, true)
}

/*
SetChildren replaces the children of a node with a given id list.
*/
func (h *Hierarchy) SetChildren(id NodeId, children []NodeId) error {
	return h.setRelationAxis(id, children, false)
}

/*
setRelationAxis replaces one relation axis of a node.
*/
func (h *Hierarchy) setRelationAxis(id NodeId, ids []NodeId, parentAxis bool) error {
	n, created, err := h.UpsertNode(id)
	if err != nil {
		return err
	}

	if n.IsDetached() {
		return util.NewError(util.ErrNotSupported,
			fmt.Sprintf("Cannot write to detached node %v", id))
	}

	h.precheckNode(n)

	nodes, err := h.resolveNodes(ids)
	if err != nil {
		return err
	}

	markers := h.collectRelationMarkers(n)

	h.replaceRelations(n, nodes, parentAxis)

	h.refreshMarkers(markers)

	h.deferRelationEvents(n, created)

	return nil
}

/*
replaceRelations diffs one relation axis of a node against a new node
list. Relations which are not in the new list are removed, new ones
are added.
*/
func (h *Hierarchy) replaceRelations(n *Node, nodes []*Node, parentAxis bool) {
	wanted := mapset.NewThreadUnsafeSet[*Node]()
	for _, o := range nodes {
		wanted.Add(o)
	}

	var current []*Node
	if parentAxis {
		current = append(current, n.parents...)
	} else {
		current = append(current, n.children...)
	}

	for _, o := range current {
		if !wanted.Contains(o) {
			if parentAxis {
				h.unlinkNodes(o, n)
			} else {
				h.unlinkNodes(n, o)
			}
			h.deferRelationEvents(o, false)
		}
	}

	for _, o := range nodes {
		var linked bool

		if parentAxis {
			linked = h.linkNodes(o, n)
		} else {
			linked = h.linkNodes(n, o)
		}

		if linked {
			h.deferRelationEvents(o, false)
		}
	}
}

/*
AddHierarchy adds parent and child relations to a node without
removing existing relations.
*/
func (h *Hierarchy) AddHierarchy(id NodeId, parents []NodeId, children []NodeId) error {
	n, created, err := h.UpsertNode(id)
	if err != nil {
		return err
	}

	if n.IsDetached() {
		return util.NewError(util.ErrNotSupported,
			fmt.Sprintf("Cannot write to detached node %v", id))
	}

	h.precheckNode(n)

	newParents, err := h.resolveNodes(parents)
	if err != nil {
		return err
	}
	newChildren, err := h.resolveNodes(children)
	if err != nil {
		return err
	}

	var changed bool

	for _, p := range newParents {
		if h.linkNodes(p, n) {
			h.deferRelationEvents(p, false)
			changed = true
		}
	}
	for _, c := range newChildren {
		if h.linkNodes(n, c) {
			h.deferRelationEvents(c, false)
			changed = true
		}
	}

	if changed || created {
		h.deferRelationEvents(n, created)
	}

	return nil
}

/*
DelHierarchy removes the listed parent and child relations of a node.
*/
func (h *Hierarchy) DelHierarchy(id NodeId, parents []NodeId, children []NodeId) error {
	n := h.lookupNode(id)
	if n == nil {
		return util.NewError(util.ErrNotFound, id.String())
	}

	h.precheckNode(n)

	markers := h.collectRelationMarkers(n)

	var changed bool

	for _, pid := range parents {
		if p := h.lookupNode(pid); p != nil {
			if h.unlinkNodes(p, n) {
				h.deferRelationEvents(p, false)
				changed = true
			}
		}
	}
	for _, cid := range children {
		if c := h.lookupNode(cid); c != nil {
			if h.unlinkNodes(n, c) {
				h.deferRelationEvents(c, false)
				changed = true
			}
		}
	}

	h.refreshMarkers(markers)

	if changed {
		h.deferRelationEvents(n, false)
	}

	return nil
}

/*
DelNode deletes a node. A node can only be deleted if it has no
parents and no incoming edge references unless DelFlagForce is given.
Children which become orphans are deleted recursively. The root node
is never destroyed - deleting it clears its data fields instead.

Returns the number of nodes which were removed and, if
DelFlagReplyIds is set, their ids.
*/
func (h *Hierarchy) DelNode(id NodeId, flags int) (int, []NodeId, error) {
	n := h.lookupNode(id)
	if n == nil {
		return 0, nil, util.NewError(util.ErrNotFound, id.String())
	}

	if n == h.root {
		h.precheckNode(n)
		h.clearRootFields()
		h.deferTrigger(TriggerUpdated, n)
		return 1, []NodeId{n.id}, nil
	}

	force := flags&DelFlagForce != 0

	if !force && (len(n.parents) > 0 || h.EdgeRefcount(n) > 0) {
		return 0, nil, util.NewError(util.ErrNotSupported,
			fmt.Sprintf("Node %v is still referenced", id))
	}

	var count int
	var ids []NodeId

	h.deleteNodeRec(n, flags, &count, &ids)

	if flags&DelFlagReplyIds == 0 {
		ids = nil
	}

	return count, ids, nil
}

/*
deleteNodeRec deletes a node and recursively all children which
become orphans through the deletion.
*/
func (h *Hierarchy) deleteNodeRec(n *Node, flags int, count *int, ids *[]NodeId) {
	detaching := flags&DelFlagDetach != 0

	if !detaching {
		h.precheckNode(n)
		h.deferTrigger(TriggerDeleted, n)
	}

	// Clean up all edges in both directions

	h.edgeCleanupNode(n, !detaching)

	// Remove all hierarchy relations

	for _, p := range append([]*Node{}, n.parents...) {
		h.unlinkNodes(p, n)
		if !detaching {
			h.deferRelationEvents(p, false)
		}
	}

	orphans := make([]*Node, 0, len(n.children))

	for _, c := range append([]*Node{}, n.children...) {
		h.unlinkNodes(n, c)

		if len(c.parents) == 0 {
			orphans = append(orphans, c)
		} else if !detaching {
			h.deferRelationEvents(c, false)
		}
	}

	// Remove any attached markers and the node itself

	n.clearMarkers()

	h.removeNodeAliases(n, !detaching)

	h.index.Delete(n)
	h.heads, _ = removeNode(h.heads, n)

	*count++
	*ids = append(*ids, n.id)

	// Children which became orphans are removed as well unless they
	// are still referenced through edge fields

	for _, c := range orphans {
		if flags&DelFlagForce == 0 && h.EdgeRefcount(c) > 0 {
			continue
		}
		h.deleteNodeRec(c, flags, count, ids)
	}
}

/*
clearRootFields clears the data fields of the root node keeping its
identity fields.
*/
func (h *Hierarchy) clearRootFields() {
	h.root.obj.Clear(func(key string) bool {
		return key == FieldId || key == FieldType ||
			key == FieldCreatedAt || key == FieldAliases
	})
}

// Aliases
// =======

/*
SetNodeAliases registers aliases for a node. An alias which was
registered for another node before is moved - the previous owner
observes an alias change event.
*/
func (h *Hierarchy) SetNodeAliases(n *Node, aliases []string) {
	set := data.NewSet(data.SetTypeString)

	for _, alias := range aliases {

		if prev, err := h.aliases.GetString(alias); err == nil && prev != n.id.String() {
			if prevID, err := NewNodeId(prev); err == nil {
				if prevNode := h.lookupNode(prevID); prevNode != nil {
					h.deferAliasChange(prevNode)
					h.removeAliasFromNode(prevNode, alias)
				}
			}
		}

		h.aliases.SetString(alias, n.id.String())
		set.AddString(alias)

		if !h.loading {
			h.deferMissingAccessor(alias)
		}
	}

	n.obj.SetSet(FieldAliases, set)
}

/*
removeAliasFromNode removes a single alias from the alias set of a
node.
*/
func (h *Hierarchy) removeAliasFromNode(n *Node, alias string) {
	if set, err := n.obj.GetSet(FieldAliases); err == nil {
		set.RemoveString(alias)
	}
}

/*
removeNodeAliases removes all aliases of a node from the registry.
*/
func (h *Hierarchy) removeNodeAliases(n *Node, events bool) {
	set, err := n.obj.GetSet(FieldAliases)
	if err != nil {
		return
	}

	for _, alias := range set.Strings() {
		if owner, err := h.aliases.GetString(alias); err == nil && owner == n.id.String() {
			h.aliases.Delete(alias)

			if events {
				h.deferAliasChange(n)
			}
		}
	}
}

/*
ResolveAlias resolves an alias to a node id.
*/
func (h *Hierarchy) ResolveAlias(alias string) (NodeId, bool) {
	s, err := h.aliases.GetString(alias)
	if err != nil {
		return EmptyNodeId, false
	}

	id, err := NewNodeId(s)
	if err != nil {
		return EmptyNodeId, false
	}

	return id, true
}

// Node types
// ==========

/*
AddNodeType registers the name of a node type prefix.
*/
func (h *Hierarchy) AddNodeType(prefix string, name string) error {
	if len(prefix) != NodeTypeSize {
		return util.NewError(util.ErrInvalidArg,
			fmt.Sprintf("Invalid node type prefix: %v", prefix))
	}

	return h.types.SetString(prefix, name)
}

/*
ClearNodeTypes removes all registered node types.
*/
func (h *Hierarchy) ClearNodeTypes() {
	h.types.Clear(nil)
}

/*
NodeTypes returns all registered node types as prefix / name pairs in
prefix order.
*/
func (h *Hierarchy) NodeTypes() [][2]string {
	var ret [][2]string

	for _, prefix := range h.types.Keys() {
		name, _ := h.types.GetString(prefix)
		ret = append(ret, [2]string{prefix, name})
	}

	return ret
}
