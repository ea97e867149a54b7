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
AddInactiveNodeId buffers a node id which is a candidate for
detachment. Buffered candidates are picked up by the next
autocompression run. The buffer is a bounded ring - when it is full
the oldest candidate is dropped.
*/
func (h *Hierarchy) AddInactiveNodeId(id NodeId) {
	h.inactive.Add(id)
}

/*
drainInactiveNodeIds returns and clears the buffered detachment
candidates.
*/
func (h *Hierarchy) drainInactiveNodeIds() []NodeId {
	var ret []NodeId

	for _, v := range h.inactive.Slice() {
		if id, ok := v.(NodeId); ok {
			ret = append(ret, id)
		}
	}

	h.inactive.Reset()

	return ret
}
