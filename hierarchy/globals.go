/*
 * HierDB
 *
 * Copyright 2020 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

/*
Package hierarchy contains the main API of the hierarchical graph store.

Hierarchy API

The main API is provided by a Hierarchy object which can be created with
the NewHierarchy() constructor function. The hierarchy holds typed nodes
identified by fixed-width ids and connects them through a built-in
parent/child relation and through user-declared edge fields. Nodes own a
data object which maps names to typed values.

Traversal

Nodes can be traversed in various directions. Traversals stamp nodes
with a per-hierarchy generation so every node is visited at most once
per traversal. Parent and child sets iterate in node id order which
makes traversals deterministic.

Subscriptions

A subscription groups markers which observe parts of the hierarchy.
Markers are placed on nodes by running their traversal and produce
deferred events when observed nodes change. Deferred events are
dispatched once per command through SendDeferredEvents().

Detached subtrees

Cold subtrees can be detached from the live store. A detached subtree
is serialized, compressed and replaced by a stub node. Any access to a
detached region transparently restores it. A periodic task detaches
subtrees which have not been touched by traversals for a while.

Snapshots

The complete state of a hierarchy can be written to and restored from
a byte stream. Detached subtrees are stored in their compressed form.
*/
package hierarchy

import (
	"bytes"
	"fmt"
	"strings"

	"devt.de/krotik/hierdb/hierarchy/util"
)

/*
VERSION is the snapshot encoding version of the hierarchy store
*/
const VERSION = 1

/*
NodeIdSize is the fixed width of a node id in bytes.
*/
const NodeIdSize = 10

/*
NodeTypeSize is the width of the node type prefix of a node id.
*/
const NodeTypeSize = 2

/*
NodeId is a fixed-width node identifier. The first two bytes are the
node type.
*/
type NodeId [NodeIdSize]byte

/*
RootNodeId is the id of the permanent root node.
*/
var RootNodeId = NodeId{'r', 'o', 'o', 't'}

/*
EmptyNodeId is the all-zero node id which is used as the snapshot EOF
sentinel.
*/
var EmptyNodeId = NodeId{}

/*
NewNodeId creates a node id from a string. The string is padded with
zero bytes to the fixed width.
*/
func NewNodeId(s string) (NodeId, error) {
	var ret NodeId

	if len(s) > NodeIdSize {
		return ret, util.NewError(util.ErrNameTooLong, s)
	}

	copy(ret[:], s)

	return ret, nil
}

/*
String returns the printable form of this node id with trailing zero
bytes trimmed.
*/
func (id NodeId) String() string {
	return string(bytes.TrimRight(id[:], "\x00"))
}

/*
Type returns the node type prefix of this node id.
*/
func (id NodeId) Type() string {
	return string(bytes.TrimRight(id[:NodeTypeSize], "\x00"))
}

/*
IsEmpty checks if this is the all-zero node id.
*/
func (id NodeId) IsEmpty() bool {
	return id == EmptyNodeId
}

/*
Less imposes the id order on node ids.
*/
func (id NodeId) Less(other NodeId) bool {
	return bytes.Compare(id[:], other[:]) < 0
}

// Node flags
// ==========

/*
NodeFlagDetached marks a node whose subtree is compressed and detached
from the live store.
*/
const NodeFlagDetached = 0x01

// Delete flags
// ============

/*
DelFlagForce deletes a node even if it is still referenced.
*/
const DelFlagForce = 0x01

/*
DelFlagDetach records the deleted subtree as detached. The caller must
supply the compressed subtree record.
*/
const DelFlagDetach = 0x02

/*
DelFlagReplyIds streams the deleted ids back to the caller.
*/
const DelFlagReplyIds = 0x04

// Traversal directions
// ====================

/*
TraversalDir selects how a traversal expands from its starting node.
*/
type TraversalDir int

/*
Available traversal directions
*/
const (
	TraversalNone TraversalDir = iota
	TraversalNode
	TraversalChildren
	TraversalParents
	TraversalBFSAncestors
	TraversalBFSDescendants
	TraversalDFSAncestors
	TraversalDFSDescendants
	TraversalDFSFull
	TraversalRef
	TraversalEdgeField
	TraversalBFSEdgeField
	TraversalBFSExpression
	TraversalExpression
	TraversalArray
	TraversalSet
)

/*
traversalNames maps the external names of traversal directions.
*/
var traversalNames = map[string]TraversalDir{
	"none":            TraversalNone,
	"node":            TraversalNode,
	"children":        TraversalChildren,
	"parents":         TraversalParents,
	"bfs_ancestors":   TraversalBFSAncestors,
	"bfs_descendants": TraversalBFSDescendants,
	"dfs_ancestors":   TraversalDFSAncestors,
	"dfs_descendants": TraversalDFSDescendants,
	"dfs_full":        TraversalDFSFull,
	"ref":             TraversalRef,
	"edge_field":      TraversalEdgeField,
	"bfs_edge_field":  TraversalBFSEdgeField,
	"bfs_expression":  TraversalBFSExpression,
	"expression":      TraversalExpression,
	"array":           TraversalArray,
	"set":             TraversalSet,
}

/*
ParseTraversalDir parses the external name of a traversal direction.
The plain names ancestors and descendants select the BFS variants.
*/
func ParseTraversalDir(name string) (TraversalDir, error) {
	switch name {
	case "ancestors":
		return TraversalBFSAncestors, nil
	case "descendants":
		return TraversalBFSDescendants, nil
	}

	if dir, ok := traversalNames[name]; ok {
		return dir, nil
	}

	return TraversalNone, util.NewError(util.ErrInvalidArg,
		fmt.Sprintf("Unknown traversal direction: %v", name))
}

/*
String returns the external name of a traversal direction.
*/
func (d TraversalDir) String() string {
	for name, dir := range traversalNames {
		if dir == d {
			return name
		}
	}
	return "unknown"
}

/*
maxTraversalDepth bounds the expansion depth of a single traversal.
*/
const maxTraversalDepth = 4096

// Canonical node fields
// =====================

/*
Canonical keys of the node data object
*/
const (
	FieldId          = "id"
	FieldType        = "type"
	FieldAliases     = "aliases"
	FieldParents     = "parents"
	FieldChildren    = "children"
	FieldAncestors   = "ancestors"
	FieldDescendants = "descendants"
	FieldCreatedAt   = "createdAt"
	FieldUpdatedAt   = "updatedAt"
)

/*
IsHierarchyField checks if a field name is one of the synthetic
hierarchy relation fields.
*/
func IsHierarchyField(field string) bool {
	return field == FieldParents || field == FieldChildren ||
		field == FieldAncestors || field == FieldDescendants
}

/*
ParseNodeIdList parses a list of node ids from its wire form. The wire
form is either a concatenation of fixed-width id records or a list of
printable ids separated by zero bytes.
*/
func ParseNodeIdList(s string) ([]NodeId, error) {
	var ret []NodeId

	if len(s)%NodeIdSize == 0 && len(s) > 0 {

		for i := 0; i < len(s); i += NodeIdSize {
			var id NodeId

			copy(id[:], s[i:i+NodeIdSize])

			if !id.IsEmpty() {
				ret = append(ret, id)
			}
		}

		return ret, nil
	}

	for _, part := range strings.Split(s, "\x00") {
		if part == "" {
			continue
		}

		id, err := NewNodeId(part)
		if err != nil {
			return nil, err
		}

		ret = append(ret, id)
	}

	return ret, nil
}
