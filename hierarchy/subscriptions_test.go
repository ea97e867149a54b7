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

	"devt.de/krotik/hierdb/rpn"
)

/*
testSink records dispatched notifications.
*/
type testSink struct {
	updates  []string
	triggers []string
}

func (s *testSink) PublishUpdate(sub SubscriptionId) {
	s.updates = append(s.updates, sub.String())
}

func (s *testSink) PublishTrigger(sub SubscriptionId, node NodeId) {
	s.triggers = append(s.triggers, fmt.Sprintf("%v:%v", sub.String()[:2], node))
}

/*
subId creates a test subscription id.
*/
func subId(b byte) SubscriptionId {
	var id SubscriptionId
	id[0] = b
	return id
}

/*
mustCompile compiles an expression for tests.
*/
func mustCompile(t *testing.T, src string) *rpn.Expression {
	expr, err := rpn.Compile(src)
	if err != nil {
		t.Fatal(err)
	}
	return expr
}

/*
TestSubscriptionOnFieldChange covers the main reactive path: a marker
over the descendants of the root observes a field and a modification
produces exactly one update notification for the subscription.
*/
func TestSubscriptionOnFieldChange(t *testing.T) {
	h := NewHierarchy("main")
	sink := &testSink{}
	h.SetEventSink(sink)

	h.SetHierarchy(mustId(t, "x1"), nil, nil, false)
	h.SendDeferredEvents()
	sink.updates = nil

	s := h.CreateSubscription(subId(1))

	_, err := s.AddMarker(1, MarkerFlagChHierarchy|MarkerFlagChField,
		TraversalBFSDescendants, RootNodeId, &MarkerOptions{
			Filter: mustCompile(t, "#1"),
			Fields: []string{"title"},
		})
	if err != nil {
		t.Error(err)
		return
	}

	if err := h.RefreshSubscription(s); err != nil {
		t.Error(err)
		return
	}

	// Modify the observed field - multiple marker hits still produce
	// a single update notification

	n, _ := h.FindNode(mustId(t, "x1"))

	h.Precheck(n)
	n.Object().SetString("title", "hello")
	h.NotifyFieldChange(n, "title")
	h.NotifyFieldChange(n, "title")

	updates, _ := h.SendDeferredEvents()

	if updates != 1 || len(sink.updates) != 1 || sink.updates[0] != subId(1).String() {
		t.Error("Expected exactly one update:", updates, sink.updates)
		return
	}

	// A change to an unobserved field does not fire

	h.Precheck(n)
	n.Object().SetString("other", "x")
	h.NotifyFieldChange(n, "other")

	if updates, _ := h.SendDeferredEvents(); updates != 0 {
		t.Error("Unobserved field should not fire:", updates)
		return
	}
}

/*
TestSubscriptionIdempotence checks that refreshing twice yields the
same attached marker set as refreshing once.
*/
func TestSubscriptionIdempotence(t *testing.T) {
	h := NewHierarchy("main")

	h.SetHierarchy(mustId(t, "x1"), nil, nil, false)
	h.SetHierarchy(mustId(t, "x2"), nil, nil, false)

	s := h.CreateSubscription(subId(1))
	s.AddMarker(1, MarkerFlagChHierarchy, TraversalBFSDescendants, RootNodeId, nil)

	h.RefreshSubscription(s)

	counts := func() string {
		var ret []int
		h.index.Ascend(func(n *Node) bool {
			ret = append(ret, len(n.markers))
			return true
		})
		return fmt.Sprint(ret)
	}

	first := counts()

	h.RefreshSubscription(s)

	if second := counts(); second != first {
		t.Error("Refresh should be idempotent:", first, second)
		return
	}

	if first != "[1 1 1]" {
		t.Error("Marker should be attached everywhere:", first)
		return
	}
}

/*
TestFilterHistory checks the became-true / became-false firing rule.
*/
func TestFilterHistory(t *testing.T) {
	h := NewHierarchy("main")
	sink := &testSink{}
	h.SetEventSink(sink)

	h.SetHierarchy(mustId(t, "x1"), nil, nil, false)
	h.SendDeferredEvents()

	s := h.CreateSubscription(subId(1))
	s.AddMarker(1, MarkerFlagChField, TraversalBFSDescendants, RootNodeId,
		&MarkerOptions{Filter: mustCompile(t, `"title" f "hello" c`)})
	h.RefreshSubscription(s)

	n, _ := h.FindNode(mustId(t, "x1"))

	// Became true - fires

	h.Precheck(n)
	n.Object().SetString("title", "hello")
	h.NotifyFieldChange(n, "title")

	if updates, _ := h.SendDeferredEvents(); updates != 1 {
		t.Error("Became-true transition should fire:", updates)
		return
	}

	// Became false - fires because the pre-image matched

	h.Precheck(n)
	n.Object().SetString("title", "bye")
	h.NotifyFieldChange(n, "title")

	if updates, _ := h.SendDeferredEvents(); updates != 1 {
		t.Error("Became-false transition should fire:", updates)
		return
	}

	// Stayed false - does not fire

	h.Precheck(n)
	n.Object().SetString("title", "xyz")
	h.NotifyFieldChange(n, "title")

	if updates, _ := h.SendDeferredEvents(); updates != 0 {
		t.Error("Stayed-false should not fire:", updates)
		return
	}
}

/*
TestRefModifier checks that a ref marker ignores changes to its own
starting node.
*/
func TestRefModifier(t *testing.T) {
	h := NewHierarchy("main")
	sink := &testSink{}
	h.SetEventSink(sink)

	h.SetHierarchy(mustId(t, "x1"), nil, nil, false)
	h.SendDeferredEvents()

	s := h.CreateSubscription(subId(1))
	s.AddMarker(1, MarkerFlagChField|MarkerFlagRef,
		TraversalBFSDescendants, RootNodeId, nil)
	h.RefreshSubscription(s)

	// A change to the marker node itself is suppressed

	root := h.Root()
	h.Precheck(root)
	root.Object().SetString("title", "x")
	h.NotifyFieldChange(root, "title")

	if updates, _ := h.SendDeferredEvents(); updates != 0 {
		t.Error("Ref marker should ignore its own node:", updates)
		return
	}

	// A change to a referenced node fires

	n, _ := h.FindNode(mustId(t, "x1"))
	h.Precheck(n)
	n.Object().SetString("title", "x")
	h.NotifyFieldChange(n, "title")

	if updates, _ := h.SendDeferredEvents(); updates != 1 {
		t.Error("Ref marker should fire for referenced nodes:", updates)
		return
	}
}

/*
TestMarkerInheritance checks that markers spread onto newly linked
subtrees.
*/
func TestMarkerInheritance(t *testing.T) {
	h := NewHierarchy("main")
	sink := &testSink{}
	h.SetEventSink(sink)

	h.SetHierarchy(mustId(t, "p"), nil, nil, false)
	h.SendDeferredEvents()

	s := h.CreateSubscription(subId(1))
	s.AddMarker(1, MarkerFlagChHierarchy|MarkerFlagChField,
		TraversalBFSDescendants, RootNodeId, nil)
	h.RefreshSubscription(s)

	// Link a new child - the marker must spread onto it

	h.SetParents(mustId(t, "c"), []NodeId{mustId(t, "p")})
	h.SendDeferredEvents()

	c, _ := h.FindNode(mustId(t, "c"))

	if len(c.markers) != 1 {
		t.Error("Marker should have been inherited:", len(c.markers))
		return
	}

	// And changes to the new child fire

	h.Precheck(c)
	c.Object().SetString("title", "x")
	h.NotifyFieldChange(c, "title")

	if updates, _ := h.SendDeferredEvents(); updates != 1 {
		t.Error("Inherited marker should fire:", updates)
		return
	}
}

/*
TestHierarchyChangeEvents checks CH_HIERARCHY markers.
*/
func TestHierarchyChangeEvents(t *testing.T) {
	h := NewHierarchy("main")
	sink := &testSink{}
	h.SetEventSink(sink)

	h.SetHierarchy(mustId(t, "a"), nil, nil, false)
	h.SendDeferredEvents()

	s := h.CreateSubscription(subId(1))
	s.AddMarker(1, MarkerFlagChHierarchy, TraversalBFSDescendants, RootNodeId, nil)
	h.RefreshSubscription(s)

	h.SetParents(mustId(t, "b"), []NodeId{mustId(t, "a")})

	if updates, _ := h.SendDeferredEvents(); updates != 1 {
		t.Error("Hierarchy change should fire:", updates)
		return
	}
}

/*
TestTriggers checks created/updated/deleted trigger markers.
*/
func TestTriggers(t *testing.T) {
	h := NewHierarchy("main")
	sink := &testSink{}
	h.SetEventSink(sink)

	s := h.CreateSubscription(subId(5))

	s.AddMarker(1, MarkerFlagTrigger, TraversalNone, EmptyNodeId,
		&MarkerOptions{EventType: TriggerCreated})
	s.AddMarker(2, MarkerFlagTrigger, TraversalNone, EmptyNodeId,
		&MarkerOptions{EventType: TriggerDeleted})

	h.RefreshSubscription(s)

	h.SetHierarchy(mustId(t, "t1"), nil, nil, false)

	if _, triggers := h.SendDeferredEvents(); triggers != 1 {
		t.Error("Creation should produce one trigger:", triggers)
		return
	}

	if fmt.Sprint(sink.triggers) != "[05:t1]" {
		t.Error("Unexpected trigger payload:", sink.triggers)
		return
	}

	// Trigger events are not deduplicated

	sink.triggers = nil

	h.SetHierarchy(mustId(t, "t2"), nil, nil, false)
	h.SetHierarchy(mustId(t, "t3"), nil, nil, false)

	if _, triggers := h.SendDeferredEvents(); triggers != 2 {
		t.Error("Each creation should produce its own trigger:", triggers)
		return
	}

	// Deletion triggers carry the deleted node id

	sink.triggers = nil

	h.DelNode(mustId(t, "t1"), DelFlagForce)

	if _, triggers := h.SendDeferredEvents(); triggers != 1 {
		t.Error("Deletion should produce one trigger:", triggers)
		return
	}

	if fmt.Sprint(sink.triggers) != "[05:t1]" {
		t.Error("Unexpected trigger payload:", sink.triggers)
		return
	}
}

/*
TestMissingAccessor checks the missing accessor notification path for
ids and aliases.
*/
func TestMissingAccessor(t *testing.T) {
	h := NewHierarchy("main")
	sink := &testSink{}
	h.SetEventSink(sink)

	s := h.CreateSubscription(subId(9))

	h.AddMissingAccessor("zz000001", s)
	h.AddMissingAccessor("myalias", s)

	// The accessor map fires once when the id appears

	h.SetHierarchy(mustId(t, "zz000001"), nil, nil, false)

	if updates, _ := h.SendDeferredEvents(); updates != 1 {
		t.Error("Missing id should fire once:", updates)
		return
	}

	// A second creation does not fire again

	h.DelNode(mustId(t, "zz000001"), DelFlagForce)
	h.SendDeferredEvents()

	h.SetHierarchy(mustId(t, "zz000001"), nil, nil, false)

	if updates, _ := h.SendDeferredEvents(); updates != 0 {
		t.Error("Accessor entry should have been removed:", updates)
		return
	}

	// Aliases fire through the same map

	n, _ := h.FindNode(mustId(t, "zz000001"))
	h.SetNodeAliases(n, []string{"myalias"})

	if updates, _ := h.SendDeferredEvents(); updates != 1 {
		t.Error("Missing alias should fire once:", updates)
		return
	}
}

/*
TestSubscriptionRemoval checks that removing a subscription detaches
all of its markers.
*/
func TestSubscriptionRemoval(t *testing.T) {
	h := NewHierarchy("main")

	h.SetHierarchy(mustId(t, "x1"), nil, nil, false)

	s := h.CreateSubscription(subId(1))
	s.AddMarker(1, MarkerFlagChField, TraversalBFSDescendants, RootNodeId, nil)
	h.RefreshSubscription(s)

	if len(h.Subscriptions()) != 1 {
		t.Error("Subscription should be listed")
		return
	}

	if !h.RemoveSubscription(subId(1)) {
		t.Error("Removal should succeed")
		return
	}

	if h.RemoveSubscription(subId(1)) {
		t.Error("Second removal should fail")
		return
	}

	h.index.Ascend(func(n *Node) bool {
		if len(n.markers) != 0 {
			t.Error("Markers should have been cleared from", n.ID())
		}
		return true
	})
}
