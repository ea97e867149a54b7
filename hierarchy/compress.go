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
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	mapset "github.com/deckarep/golang-set/v2"

	"devt.de/krotik/hierdb/hierarchy/util"
)

/*
VerifyDetachable checks if the subtree rooted at a node can be
detached from the live store. The subtree must form a proper tree
with the node as its sole root, no member may have live subscription
markers and no member may participate in edge fields in either
direction.
*/
func (h *Hierarchy) VerifyDetachable(n *Node) error {
	if n == h.root {
		return util.NewError(util.ErrInvalidArg, "Cannot detach the root node")
	}

	if n.IsDetached() {
		return util.NewError(util.ErrNotSupported,
			fmt.Sprintf("Node %v is already detached", n.id))
	}

	members := mapset.NewThreadUnsafeSet[*Node]()
	members.Add(n)

	err := h.Traverse(n, TraversalDFSDescendants,
		&TraversalOptions{InhibitRestore: true}, func(m *Node) VisitControl {
			members.Add(m)
			return VisitContinue
		})

	if err != nil {
		return err
	}

	var verr error

	members.Each(func(m *Node) bool {

		if m != n {
			for _, p := range m.parents {
				if !members.Contains(p) {
					verr = util.NewError(util.ErrNotSupported,
						fmt.Sprintf("Node %v has a parent outside the subtree", m.id))
					return true
				}
			}

			if m.IsDetached() {
				verr = util.NewError(util.ErrNotSupported,
					fmt.Sprintf("Node %v is a nested detached subtree", m.id))
				return true
			}
		}

		if len(m.markers) > 0 {
			verr = util.NewError(util.ErrNotSupported,
				fmt.Sprintf("Node %v has live subscription markers", m.id))
			return true
		}

		if len(m.edges.fields) > 0 || len(m.edges.origins) > 0 {
			verr = util.NewError(util.ErrNotSupported,
				fmt.Sprintf("Node %v participates in edge fields", m.id))
			return true
		}

		return false
	})

	return verr
}

/*
Detach compresses the subtree rooted at a node and removes it from
the live store. The node survives as a stub carrying only its parent
relations. The compressed subtree is registered for every member id
so any access to the region can restore it.
*/
func (h *Hierarchy) Detach(id NodeId, typ DetachedType) error {
	n := h.lookupNode(id)
	if n == nil {
		return util.NewError(util.ErrNotFound, id.String())
	}

	if err := h.VerifyDetachable(n); err != nil {
		return err
	}

	parentIds := n.ParentIds()

	// Serialize and compress the subtree

	var buf bytes.Buffer

	if err := h.saveSubtree(&buf, n); err != nil {
		return err
	}

	cb := CompressBuffer(buf.Bytes())

	rec := &DetachedSubtree{Type: typ, Buf: cb}

	if typ == DetachedCompressedDisk {
		path := filepath.Join(h.detachedDir, fmt.Sprintf("%x.sub", id[:]))

		if err := writeBlobFile(path, cb); err != nil {

			// Fall back to keeping the subtree in memory

			log.Warning("Could not write detached subtree to disk: ", err)
			rec.Type = DetachedCompressedMem

		} else {
			rec.Path = path
			rec.Buf = nil
		}
	}

	// Collect the member ids before the subtree is deleted

	memberIds := []NodeId{n.id}

	h.Traverse(n, TraversalDFSDescendants,
		&TraversalOptions{InhibitRestore: true}, func(m *Node) VisitControl {
			memberIds = append(memberIds, m.id)
			return VisitContinue
		})

	// Remove the live subtree and register the compressed form

	var count int
	var ids []NodeId

	h.deleteNodeRec(n, DelFlagForce|DelFlagDetach, &count, &ids)

	for _, mid := range memberIds {

		// This is a documented crash point - the live subtree is gone
		// and the registry insert must not fail

		if err := h.detached.Add(mid, rec); err != nil {
			panic(fmt.Sprintf("Cannot register detached subtree %v: %v", mid, err))
		}
	}

	// Recreate the stub with only the saved parent relations

	wasLoading := h.loading
	h.loading = true

	stub, _, err := h.UpsertNode(id)
	if err == nil {
		stub.flags |= NodeFlagDetached

		stub.obj.Clear(func(key string) bool { return key == FieldId })

		for _, pid := range parentIds {
			if p := h.lookupNode(pid); p != nil {
				h.linkNodes(p, stub)
			}
		}
	}

	h.loading = wasLoading

	return err
}

/*
RestoreSubtree restores the detached subtree a node id is a member
of. The stub node is repopulated, all subtree members reappear in the
live store and the registry entries of the subtree are removed.
*/
func (h *Hierarchy) RestoreSubtree(id NodeId) error {
	rec, err := h.detached.Get(id)
	if err != nil {
		return err
	}

	cb := rec.Buf

	if rec.Type == DetachedCompressedDisk {
		if cb, err = readBlobFile(rec.Path); err != nil {
			return err
		}
	}

	raw, err := cb.Decompress()
	if err != nil {
		return err
	}

	// Collect the markers which were attached to the stub so they can
	// be re-applied to the restored subtree. The restore may have been
	// triggered through any member id - the stub is found through the
	// registry.

	var stubMarkers []*Marker

	for _, mid := range h.detached.SubtreeIds(rec) {
		if stub := h.lookupNode(mid); stub != nil && stub.IsDetached() {
			stubMarkers = stub.clearMarkers()
			break
		}
	}

	wasLoading, wasRestoring := h.loading, h.restoring
	h.loading = true
	h.restoring = true

	err = h.loadSubtree(bufio.NewReader(bytes.NewReader(raw)))

	h.loading = wasLoading
	h.restoring = wasRestoring

	if err != nil {
		return err
	}

	// All registry entries pointing at this subtree are removed by
	// record identity

	h.detached.RemoveSubtree(rec)

	if rec.Type == DetachedCompressedDisk {
		os.Remove(rec.Path)
	}

	h.refreshMarkers(stubMarkers)

	return nil
}
