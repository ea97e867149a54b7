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
	"devt.de/krotik/common/timeutil"
	mapset "github.com/deckarep/golang-set/v2"
)

/*
StartAutoCompression registers the periodic autocompression task of
this hierarchy with a cron scheduler. Each run first detaches the
candidates which were buffered by the previous run and then scans the
hierarchy for subtrees which have not been touched by traversals for
longer than maxAgeMs milliseconds.
*/
func (h *Hierarchy) StartAutoCompression(cron *timeutil.Cron, spec string, maxAgeMs int64) {
	cron.Register(spec, func() {
		h.AutoCompressionScan(maxAgeMs)
	})
}

/*
AutoCompressionScan runs a single autocompression pass. The scan is
skipped while a snapshot save is in progress. Candidates buffered in
the inactive ring are detached to memory, then the hierarchy is
scanned for the topmost subtrees whose members have all been idle for
longer than the given age.

The scan walks the structure directly - using a traversal would
refresh the very age stamps the scan inspects.
*/
func (h *Hierarchy) AutoCompressionScan(maxAgeMs int64) {
	if h.saveInProgress {
		return
	}

	// Detach the candidates found by the previous run

	for _, id := range h.drainInactiveNodeIds() {
		if err := h.Detach(id, DetachedCompressedMem); err != nil {
			log.Debug("Autocompression skipped ", id, ": ", err)
		}
	}

	now := h.clock()
	seen := mapset.NewThreadUnsafeSet[*Node]()

	idle := func(n *Node) bool {
		return !n.IsDetached() && now-n.trxTouch > maxAgeMs
	}

	// subtreeIdle checks if every member of a subtree is idle. The
	// visited set guards against cycles.

	var subtreeIdle func(n *Node, visited mapset.Set[*Node]) bool
	subtreeIdle = func(n *Node, visited mapset.Set[*Node]) bool {
		if !visited.Add(n) {
			return true
		}
		if !idle(n) {
			return false
		}
		for _, c := range n.children {
			if !subtreeIdle(c, visited) {
				return false
			}
		}
		return true
	}

	// scan descends until it finds the top of an idle chain

	var scan func(n *Node)
	scan = func(n *Node) {
		if !seen.Add(n) {
			return
		}

		if n != h.root && idle(n) && subtreeIdle(n, mapset.NewThreadUnsafeSet[*Node]()) {
			if err := h.VerifyDetachable(n); err == nil {
				h.AddInactiveNodeId(n.id)
			}
			return
		}

		for _, c := range n.children {
			scan(c)
		}
	}

	for _, head := range h.Heads() {
		scan(head)
	}
}
