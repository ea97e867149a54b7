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
	"bytes"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"devt.de/krotik/hierdb/hierarchy/util"
	"devt.de/krotik/hierdb/rpn"
)

/*
SubscriptionIdSize is the width of a subscription id in bytes.
*/
const SubscriptionIdSize = 32

/*
SubscriptionId is an opaque subscription identifier. It is rendered
externally as a 64 character hex string.
*/
type SubscriptionId [SubscriptionIdSize]byte

/*
ParseSubscriptionId parses the hex form of a subscription id.
*/
func ParseSubscriptionId(s string) (SubscriptionId, error) {
	var ret SubscriptionId

	b, err := hex.DecodeString(s)
	if err != nil || len(b) != SubscriptionIdSize {
		return ret, util.NewError(util.ErrInvalidArg,
			fmt.Sprintf("Invalid subscription id: %v", s))
	}

	copy(ret[:], b)

	return ret, nil
}

/*
String returns the hex form of this subscription id.
*/
func (id SubscriptionId) String() string {
	return hex.EncodeToString(id[:])
}

/*
Compare imposes an order on subscription ids.
*/
func (id SubscriptionId) Compare(other SubscriptionId) int {
	return bytes.Compare(id[:], other[:])
}

/*
MarkerId identifies a marker within a subscription.
*/
type MarkerId int64

// Marker flags
// ============

/*
Matcher flags select on which kind of change a marker fires. They are
cached in the flags filter of every node the marker is attached to.
Modifier flags modify the match result or the behavior of the marker.
*/
const (
	MarkerFlagClHierarchy uint16 = 0x0001 // Marker set is cleared on a hierarchy change
	MarkerFlagChHierarchy uint16 = 0x0002 // Fires on parent/child changes
	MarkerFlagChField     uint16 = 0x0004 // Fires on changes of a listed field
	MarkerFlagChAlias     uint16 = 0x0008 // Fires on alias moves and deletions

	MarkerFlagRef     uint16 = 0x0100 // Only fire for referenced nodes
	MarkerFlagDetach  uint16 = 0x0200 // Marker lives in the detached marker set
	MarkerFlagTrigger uint16 = 0x0410 // Marker is an event type trigger

	MarkerMatcherMask  uint16 = 0x00ff
	MarkerModifierMask uint16 = 0xff00
)

/*
TriggerType is the event type a trigger marker fires on.
*/
type TriggerType int

/*
Available trigger types
*/
const (
	TriggerCreated TriggerType = iota
	TriggerUpdated
	TriggerDeleted
)

/*
ParseTriggerType parses the external name of a trigger type.
*/
func ParseTriggerType(name string) (TriggerType, error) {
	switch name {
	case "created":
		return TriggerCreated, nil
	case "updated":
		return TriggerUpdated, nil
	case "deleted":
		return TriggerDeleted, nil
	}

	return TriggerCreated, util.NewError(util.ErrInvalidArg,
		fmt.Sprintf("Unknown trigger type: %v", name))
}

/*
Subscription groups markers under a single id. A subscription is the
unit of external event delivery - no matter how many of its markers
fire during a command, a single update notification is dispatched.
*/
type Subscription struct {
	id      SubscriptionId
	h       *Hierarchy
	markers []*Marker // Markers ordered by marker id
}

/*
ID returns the id of this subscription.
*/
func (s *Subscription) ID() SubscriptionId {
	return s.id
}

/*
Markers returns the markers of this subscription in marker id order.
The returned slice must not be modified.
*/
func (s *Subscription) Markers() []*Marker {
	return s.markers
}

/*
Marker returns a marker of this subscription by its id or nil.
*/
func (s *Subscription) Marker(id MarkerId) *Marker {
	i := sort.Search(len(s.markers), func(i int) bool {
		return s.markers[i].id >= id
	})

	if i < len(s.markers) && s.markers[i].id == id {
		return s.markers[i]
	}

	return nil
}

/*
MarkerOptions carries the optional attributes of a new marker.
*/
type MarkerOptions struct {
	EventType     TriggerType     // Event type for trigger markers
	RefField      string          // Field name for field based traversals
	TraversalExpr *rpn.Expression // Field set expression for expression traversals
	Filter        *rpn.Expression // Filter expression
	FilterCtx     *rpn.Ctx        // Evaluation context of the filter
	Fields        []string        // Field names the marker is sensitive to
}

/*
Marker is a reactive observer. It binds a traversal, an optional
filter expression, an optional field name list and flags. Markers are
attached to every node their traversal reaches.
*/
type Marker struct {
	sub       *Subscription
	id        MarkerId
	flags     uint16
	dir       TraversalDir
	nodeId    NodeId
	eventType TriggerType
	refField  string
	travExpr  *rpn.Expression
	filter    *rpn.Expression
	filterCtx *rpn.Ctx
	fields    []string

	// Pre-mutation filter outcome of the node currently being changed

	history struct {
		nodeId NodeId
		res    bool
		valid  bool
	}
}

/*
ID returns the id of this marker.
*/
func (m *Marker) ID() MarkerId {
	return m.id
}

/*
Flags returns the flags of this marker.
*/
func (m *Marker) Flags() uint16 {
	return m.flags
}

/*
Subscription returns the owning subscription of this marker.
*/
func (m *Marker) Subscription() *Subscription {
	return m.sub
}

/*
watchesField checks if this marker is sensitive to a given field. An
empty field list means any field.
*/
func (m *Marker) watchesField(field string) bool {
	if len(m.fields) == 0 {
		return true
	}

	for _, f := range m.fields {
		if f == field {
			return true
		}
	}

	return false
}

/*
evalFilter evaluates the filter expression of this marker against a
node. A marker without filter matches everything.
*/
func (m *Marker) evalFilter(h *Hierarchy, n *Node) bool {
	if m.filter == nil {
		return true
	}

	ctx := m.filterCtx
	if ctx == nil {
		ctx = rpn.NewCtx(1)
		m.filterCtx = ctx
	}

	ctx.Bind(h.NewNodeDoc(n), n.id.String())
	ctx.SetRegString(0, n.id.String())

	res, err := m.filter.EvalBool(ctx)
	if err != nil {
		log.Warning("Marker filter failed: ", err)
		return false
	}

	return res
}

/*
isDetachedMarker checks if this marker lives in the detached marker
set of the hierarchy instead of on nodes.
*/
func (m *Marker) isDetachedMarker() bool {
	return m.flags&MarkerFlagDetach != 0 ||
		m.flags&MarkerFlagTrigger == MarkerFlagTrigger ||
		m.dir == TraversalNone
}

// Subscription management
// =======================

/*
CreateSubscription returns the subscription of a given id creating it
if it does not exist yet.
*/
func (h *Hierarchy) CreateSubscription(id SubscriptionId) *Subscription {
	if s, ok := h.subs[id]; ok {
		return s
	}

	s := &Subscription{id: id, h: h}
	h.subs[id] = s

	return s
}

/*
GetSubscription returns the subscription of a given id.
*/
func (h *Hierarchy) GetSubscription(id SubscriptionId) (*Subscription, bool) {
	s, ok := h.subs[id]
	return s, ok
}

/*
Subscriptions returns all subscriptions of this hierarchy in id
order.
*/
func (h *Hierarchy) Subscriptions() []*Subscription {
	ret := make([]*Subscription, 0, len(h.subs))

	for _, s := range h.subs {
		ret = append(ret, s)
	}

	sort.Slice(ret, func(i, j int) bool {
		return ret[i].id.Compare(ret[j].id) < 0
	})

	return ret
}

/*
RemoveSubscription removes a subscription and all of its markers.
*/
func (h *Hierarchy) RemoveSubscription(id SubscriptionId) bool {
	s, ok := h.subs[id]
	if !ok {
		return false
	}

	h.clearSubscriptionMarkers(s)

	for accessor, subs := range h.missing {
		for i, sub := range subs {
			if sub == s {
				h.missing[accessor] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(h.missing[accessor]) == 0 {
			delete(h.missing, accessor)
		}
	}

	h.defUpdates.Remove(s)
	h.defClear.Remove(s)

	delete(h.subs, id)

	return true
}

/*
AddMarker adds a new marker to this subscription.
*/
func (s *Subscription) AddMarker(id MarkerId, flags uint16, dir TraversalDir,
	nodeId NodeId, opts *MarkerOptions) (*Marker, error) {

	if s.Marker(id) != nil {
		return nil, util.NewError(util.ErrExists,
			fmt.Sprintf("Marker %v on subscription %v", id, s.id))
	}

	if opts == nil {
		opts = &MarkerOptions{}
	}

	m := &Marker{
		sub:       s,
		id:        id,
		flags:     flags,
		dir:       dir,
		nodeId:    nodeId,
		eventType: opts.EventType,
		refField:  opts.RefField,
		travExpr:  opts.TraversalExpr,
		filter:    opts.Filter,
		filterCtx: opts.FilterCtx,
		fields:    opts.Fields,
	}

	i := sort.Search(len(s.markers), func(i int) bool {
		return s.markers[i].id >= id
	})

	s.markers = append(s.markers, nil)
	copy(s.markers[i+1:], s.markers[i:])
	s.markers[i] = m

	return m, nil
}

/*
AddMarkerFields appends field names to the field list of a marker.
*/
func (s *Subscription) AddMarkerFields(id MarkerId, fields []string) error {
	m := s.Marker(id)
	if m == nil {
		return util.NewError(util.ErrNotFound, fmt.Sprintf("Marker %v", id))
	}

	for _, field := range fields {
		if !m.watchesField(field) || len(m.fields) == 0 {
			m.fields = append(m.fields, field)
		}
	}

	return nil
}

/*
AddMissingAccessor registers a subscription to be notified once a
given id or alias becomes present.
*/
func (h *Hierarchy) AddMissingAccessor(accessor string, s *Subscription) {
	for _, sub := range h.missing[accessor] {
		if sub == s {
			return
		}
	}

	h.missing[accessor] = append(h.missing[accessor], s)
}

/*
RefreshSubscription walks the markers of a subscription and attaches
each to every node its traversal reaches. Detached markers are placed
in the detached marker set of the hierarchy. Refreshing is idempotent.
*/
func (h *Hierarchy) RefreshSubscription(s *Subscription) error {
	for _, m := range s.markers {
		if err := h.placeMarker(m); err != nil {
			return err
		}
	}

	return nil
}

/*
placeMarker attaches a marker along its traversal.
*/
func (h *Hierarchy) placeMarker(m *Marker) error {
	if m.isDetachedMarker() {

		for _, dm := range h.detachedMarkers {
			if dm == m {
				return nil
			}
		}

		h.detachedMarkers = append(h.detachedMarkers, m)

		return nil
	}

	start, err := h.FindNode(m.nodeId)
	if err != nil {
		return err
	}
	if start == nil {
		return util.NewError(util.ErrNotFound, m.nodeId.String())
	}

	start.attachMarker(m)

	opts := &TraversalOptions{Field: m.refField, Expr: m.travExpr, VMCtx: m.filterCtx}

	return h.Traverse(start, m.dir, opts, func(n *Node) VisitControl {
		n.attachMarker(m)
		return VisitContinue
	})
}

/*
clearMarkerFromNodes removes a marker from all nodes and from the
detached marker set.
*/
func (h *Hierarchy) clearMarkerFromNodes(m *Marker) {
	h.index.Ascend(func(n *Node) bool {
		n.detachMarker(m)
		return true
	})

	for i, dm := range h.detachedMarkers {
		if dm == m {
			h.detachedMarkers = append(h.detachedMarkers[:i], h.detachedMarkers[i+1:]...)
			break
		}
	}
}

/*
clearSubscriptionMarkers removes all markers of a subscription from
the hierarchy and empties the marker set of the subscription.
*/
func (h *Hierarchy) clearSubscriptionMarkers(s *Subscription) {
	for _, m := range s.markers {
		h.clearMarkerFromNodes(m)
	}

	s.markers = nil
}

/*
refreshMarkers re-places a set of markers after a destructive
relation change.
*/
func (h *Hierarchy) refreshMarkers(markers []*Marker) {
	for _, m := range markers {
		if err := h.placeMarker(m); err != nil {
			log.Warning("Could not refresh marker: ", err)
		}
	}
}

/*
markerCoversDescendants checks if the traversal of a marker subsumes
the descendants of an attached node.
*/
func markerCoversDescendants(m *Marker) bool {
	return m.dir == TraversalBFSDescendants || m.dir == TraversalDFSDescendants ||
		m.dir == TraversalDFSFull || m.dir == TraversalBFSExpression
}

/*
markerCoversAncestors checks if the traversal of a marker subsumes
the ancestors of an attached node.
*/
func markerCoversAncestors(m *Marker) bool {
	return m.dir == TraversalBFSAncestors || m.dir == TraversalDFSAncestors
}

/*
inheritMarkers propagates markers when a new parent/child relation is
created. Markers on the parent whose traversal covers descendants
spread onto the child and its subtree - markers on the child covering
ancestors spread onto the parent and its ancestors.
*/
func (h *Hierarchy) inheritMarkers(p *Node, c *Node) {
	for _, m := range append([]*Marker{}, p.markers...) {
		if markerCoversDescendants(m) {
			c.attachMarker(m)

			h.Traverse(c, TraversalBFSDescendants, nil, func(n *Node) VisitControl {
				n.attachMarker(m)
				return VisitContinue
			})
		}
	}

	for _, m := range append([]*Marker{}, c.markers...) {
		if markerCoversAncestors(m) {
			p.attachMarker(m)

			h.Traverse(p, TraversalBFSAncestors, nil, func(n *Node) VisitControl {
				n.attachMarker(m)
				return VisitContinue
			})
		}
	}
}

/*
DebugString returns a textual dump of a subscription and its markers.
*/
func (s *Subscription) DebugString() string {
	var buf strings.Builder

	buf.WriteString(fmt.Sprintf("Subscription %v\n", s.id))

	for _, m := range s.markers {
		buf.WriteString(fmt.Sprintf("  marker %v flags: %#04x dir: %v node: %v",
			m.id, m.flags, m.dir, m.nodeId))

		if m.filter != nil {
			buf.WriteString(fmt.Sprintf(" filter: %v", m.filter.Source()))
		}

		if len(m.fields) > 0 {
			buf.WriteString(fmt.Sprintf(" fields: %v", strings.Join(m.fields, ",")))
		}

		buf.WriteString("\n")
	}

	return buf.String()
}
