/*
 * HierDB
 *
 * Copyright 2020 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package events

import (
	"testing"

	"devt.de/krotik/hierdb/hierarchy"
)

func TestPublisherRingOverflow(t *testing.T) {
	p := NewPublisher(2)

	var sub hierarchy.SubscriptionId
	sub[0] = 1

	nodeId, _ := hierarchy.NewNodeId("n1")

	p.PublishUpdate(sub)
	p.PublishTrigger(sub, nodeId)

	// The ring is full - the next notification is dropped and counted

	p.PublishUpdate(sub)

	if p.Dropped() != 1 {
		t.Error("Overflow should have been counted:", p.Dropped())
		return
	}

	if p.ring.Size() != 2 {
		t.Error("Ring should hold two notifications:", p.ring.Size())
		return
	}

	// The worker drains the ring - without subscribers the
	// notifications are simply discarded

	p.Start()
	p.Stop()

	if p.ring.Size() != 0 {
		t.Error("Ring should have been drained:", p.ring.Size())
		return
	}
}

func TestNotificationChannels(t *testing.T) {
	p := NewPublisher(10)

	var sub hierarchy.SubscriptionId
	sub[0] = 0xab

	nodeId, _ := hierarchy.NewNodeId("x1")

	p.PublishUpdate(sub)
	p.PublishTrigger(sub, nodeId)

	n1 := p.ring.Get(0).(*Notification)
	n2 := p.ring.Get(1).(*Notification)

	if n1.Channel != UpdateChannelPrefix+sub.String() || n1.Payload != "" {
		t.Error("Unexpected update notification:", n1)
		return
	}

	if n2.Channel != TriggerChannelPrefix+sub.String() || n2.Payload != "x1" {
		t.Error("Unexpected trigger notification:", n2)
		return
	}
}
