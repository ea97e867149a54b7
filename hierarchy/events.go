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

/*
EventSink receives the outbound notifications of a hierarchy. The
sink is the only consumer of dispatched subscription events - it is
usually the publisher which forwards events to external subscribers.
*/
type EventSink interface {

	/*
		PublishUpdate signals that a marker of a subscription fired.
	*/
	PublishUpdate(sub SubscriptionId)

	/*
		PublishTrigger signals that a trigger marker of a subscription
		fired for a node.
	*/
	PublishTrigger(sub SubscriptionId, node NodeId)
}

/*
triggerEvent is a single deferred trigger notification.
*/
type triggerEvent struct {
	sub    *Subscription
	nodeId NodeId
}

/*
precheckNode captures the pre-mutation filter outcome of every marker
which could fire for a node. The outcome is consulted after the
mutation to detect matching to non-matching transitions.
*/
func (h *Hierarchy) precheckNode(n *Node) {
	if h.loading {
		return
	}

	check := func(m *Marker) {
		if m.flags&MarkerMatcherMask == 0 || m.filter == nil {
			return
		}

		m.history.nodeId = n.id
		m.history.res = m.evalFilter(h, n)
		m.history.valid = true
	}

	for _, m := range n.markers {
		check(m)
	}
	for _, m := range h.detachedMarkers {
		check(m)
	}
}

/*
markerFires decides if a marker fires for a changed node. A marker
fires if its filter matches the post-image or if it matched the
pre-image of this node - covering both the became-true and the
became-false transition.
*/
func (h *Hierarchy) markerFires(m *Marker, n *Node) bool {
	if m.evalFilter(h, n) {
		return true
	}

	return m.history.valid && m.history.res && m.history.nodeId == n.id
}

/*
deferFieldChange defers the events of a field change of a node.
*/
func (h *Hierarchy) deferFieldChange(n *Node, field string) {
	if h.loading {
		return
	}

	if n.flagsFilter&MarkerFlagChField == 0 && len(h.detachedMarkers) == 0 {
		return
	}

	fire := func(m *Marker) {
		if m.flags&MarkerFlagTrigger == MarkerFlagTrigger {
			return
		}
		if m.flags&MarkerFlagChField == 0 {
			return
		}
		if m.flags&MarkerFlagRef != 0 && m.nodeId == n.id {
			return
		}
		if !m.watchesField(field) {
			return
		}

		if h.markerFires(m, n) {
			h.defUpdates.Add(m.sub)
		}
	}

	for _, m := range n.markers {
		fire(m)
	}
	for _, m := range h.detachedMarkers {
		fire(m)
	}
}

/*
deferHierarchyChange defers the events of a parent/child change of a
node.
*/
func (h *Hierarchy) deferHierarchyChange(n *Node) {
	if h.loading {
		return
	}

	fire := func(m *Marker) {
		if m.flags&MarkerFlagTrigger == MarkerFlagTrigger {
			return
		}
		if m.flags&MarkerFlagChHierarchy == 0 {
			return
		}
		if m.flags&MarkerFlagRef != 0 && m.nodeId == n.id {
			return
		}

		if h.markerFires(m, n) {
			h.defUpdates.Add(m.sub)

			if m.flags&MarkerFlagClHierarchy != 0 {
				h.defClear.Add(m.sub)
			}
		}
	}

	for _, m := range n.markers {
		fire(m)
	}
	for _, m := range h.detachedMarkers {
		fire(m)
	}
}

/*
deferAliasChange defers the events of an alias move or deletion on a
node. Alias markers clear the marker set of their subscription after
the event was dispatched.
*/
func (h *Hierarchy) deferAliasChange(n *Node) {
	if h.loading {
		return
	}

	fire := func(m *Marker) {
		if m.flags&MarkerFlagChAlias == 0 {
			return
		}

		h.defUpdates.Add(m.sub)
		h.defClear.Add(m.sub)
	}

	for _, m := range n.markers {
		fire(m)
	}
	for _, m := range h.detachedMarkers {
		fire(m)
	}
}

/*
deferTrigger defers the trigger events of an event type for a node.
Triggers are matched by their event type regardless of field lists.
*/
func (h *Hierarchy) deferTrigger(eventType TriggerType, n *Node) {
	if h.loading {
		return
	}

	for _, m := range h.detachedMarkers {
		if m.flags&MarkerFlagTrigger != MarkerFlagTrigger {
			continue
		}
		if m.eventType != eventType {
			continue
		}

		if m.filter != nil && !m.evalFilter(h, n) {
			continue
		}

		h.defTriggers = append(h.defTriggers, triggerEvent{m.sub, n.id})
	}
}

/*
deferMissingAccessor notifies the subscriptions waiting for an id or
alias to become present. The fired entries are removed from the
accessor map.
*/
func (h *Hierarchy) deferMissingAccessor(accessor string) {
	subs, ok := h.missing[accessor]
	if !ok {
		return
	}

	for _, s := range subs {
		h.defUpdates.Add(s)
	}

	delete(h.missing, accessor)
}

/*
Precheck captures the pre-mutation filter outcomes for a node which
is about to be changed by an external command.
*/
func (h *Hierarchy) Precheck(n *Node) {
	h.precheckNode(n)
}

/*
NotifyFieldChange defers the events of an externally applied field
change.
*/
func (h *Hierarchy) NotifyFieldChange(n *Node, field string) {
	h.deferFieldChange(n, field)
}

/*
NotifyTrigger defers the trigger events of an event type for a node.
*/
func (h *Hierarchy) NotifyTrigger(eventType TriggerType, n *Node) {
	h.deferTrigger(eventType, n)
}

/*
Touch updates the modification time of a node and defers the field
change event for it.
*/
func (h *Hierarchy) Touch(n *Node) {
	h.touchNode(n)
}

/*
SendDeferredEvents dispatches all deferred events which were
accumulated since the last call. Update events are deduplicated by
subscription - trigger events are dispatched individually in order.
This is the only place where outbound notifications are produced.

Returns the number of dispatched update and trigger notifications.
*/
func (h *Hierarchy) SendDeferredEvents() (int, int) {
	var updates, triggers int

	for _, s := range h.defUpdates.ToSlice() {
		if h.sink != nil {
			h.sink.PublishUpdate(s.id)
		}
		updates++
	}
	h.defUpdates.Clear()

	// Subscriptions whose markers are cleared after delivery

	for _, s := range h.defClear.ToSlice() {
		h.clearSubscriptionMarkers(s)
	}
	h.defClear.Clear()

	for _, ev := range h.defTriggers {
		if h.sink != nil {
			h.sink.PublishTrigger(ev.sub.id, ev.nodeId)
		}
		triggers++
	}
	h.defTriggers = nil

	return updates, triggers
}
