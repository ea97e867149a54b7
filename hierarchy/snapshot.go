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
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"devt.de/krotik/hierdb/hierarchy/data"
	"devt.de/krotik/hierdb/hierarchy/util"
)

/*
snapshotMagic marks the beginning of a hierarchy snapshot.
*/
var snapshotMagic = []byte("HDBSNAP")

/*
versionTag identifies the writing implementation in a snapshot.
*/
var versionTag = fmt.Sprintf("hierdb/%v", VERSION)

/*
Save writes a complete snapshot of this hierarchy to a writer. The
snapshot holds the dynamic edge constraints first, then a full depth
first dump of every node and an EOF sentinel. Detached subtrees are
written as inline compressed blobs. The dump never restores detached
subtrees.
*/
func (h *Hierarchy) Save(w io.Writer) error {
	h.saveInProgress = true
	defer func() { h.saveInProgress = false }()

	bw := bufio.NewWriter(w)

	if _, err := bw.Write(snapshotMagic); err != nil {
		return err
	}
	if err := writeSnapUvarint(bw, VERSION); err != nil {
		return err
	}

	// Version tags: the snapshot records which implementation created
	// it and which one updated it last

	createdWith := h.createdWith
	if createdWith == "" {
		createdWith = versionTag
	}

	if err := writeSnapString(bw, createdWith); err != nil {
		return err
	}
	if err := writeSnapString(bw, versionTag); err != nil {
		return err
	}

	if err := h.constraintsObject().WriteTo(bw); err != nil {
		return err
	}

	var werr error

	err := h.TraverseAll(&TraversalOptions{InhibitRestore: true}, func(n *Node) VisitControl {
		if werr = h.writeNodeRecord(bw, n); werr != nil {
			return VisitStop
		}
		return VisitContinue
	})

	if err == nil {
		err = werr
	}
	if err != nil {
		return err
	}

	// EOF sentinel

	if _, err := bw.Write(EmptyNodeId[:]); err != nil {
		return err
	}

	return bw.Flush()
}

/*
Load restores a hierarchy snapshot from a reader. The loader accepts
its current encoding version or lower. Detached subtrees are restored
into the live store and immediately re-detached so their stored
representation is preserved.
*/
func (h *Hierarchy) Load(r io.Reader) error {
	h.loading = true
	defer func() { h.loading = false }()

	br := bufio.NewReader(r)

	magic := make([]byte, len(snapshotMagic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return util.NewError(util.ErrInvalidArg, "Not a hierarchy snapshot")
	}
	if string(magic) != string(snapshotMagic) {
		return util.NewError(util.ErrInvalidArg, "Not a hierarchy snapshot")
	}

	version, err := binary.ReadUvarint(br)
	if err != nil {
		return err
	}
	if version > VERSION {
		return util.NewError(util.ErrInvalidArg,
			fmt.Sprintf("Unsupported snapshot version: %v", version))
	}

	if h.createdWith, err = readSnapString(br); err != nil {
		return err
	}
	if h.updatedWith, err = readSnapString(br); err != nil {
		return err
	}

	constraints, err := data.ReadObject(br)
	if err != nil {
		return err
	}
	if err := h.loadConstraintsObject(constraints); err != nil {
		return err
	}

	var redetach []redetachRecord

	for {
		done, err := h.readNodeRecord(br, &redetach)
		if err != nil {
			return err
		}
		if done {
			break
		}
	}

	// Loaded detached subtrees are decompressed into the live store
	// and immediately detached again so their stored representation
	// and the full member registry are preserved

	for _, rd := range redetach {
		if err := h.RestoreSubtree(rd.id); err != nil {
			log.Warning("Could not restore subtree ", rd.id, ": ", err)
			continue
		}
		if err := h.Detach(rd.id, rd.typ); err != nil {
			log.Warning("Could not re-detach subtree ", rd.id, ": ", err)
		}
	}

	return nil
}

/*
redetachRecord remembers a detached subtree which was restored during
loading and needs to be detached again.
*/
type redetachRecord struct {
	id  NodeId
	typ DetachedType
}

/*
constraintsObject serializes the dynamic constraint registry into an
ordered object.
*/
func (h *Hierarchy) constraintsObject() *data.Object {
	obj := data.NewObject()

	for i, c := range h.constraints.Dynamic() {
		rec := data.NewObject()

		rec.SetLong("flags", int64(c.Flags))
		rec.SetString("fwdType", c.FwdNodeType)
		rec.SetString("fwdField", c.FwdFieldName)
		rec.SetLong("bckConstraint", int64(c.BckConstraintId))
		rec.SetString("bckType", c.BckNodeType)
		rec.SetString("bckField", c.BckFieldName)

		// Records are keyed by position - a dotted type.field key would
		// be split into a nested path by the object

		obj.SetObject(fmt.Sprint(i), rec)
	}

	return obj
}

/*
loadConstraintsObject restores the dynamic constraint registry from
its serialized form.
*/
func (h *Hierarchy) loadConstraintsObject(obj *data.Object) error {
	for _, key := range obj.Keys() {
		rec, err := obj.GetObject(key)
		if err != nil {
			return err
		}

		flags, _ := rec.GetLong("flags")
		fwdType, _ := rec.GetString("fwdType")
		fwdField, _ := rec.GetString("fwdField")
		bckConstraint, _ := rec.GetLong("bckConstraint")
		bckType, _ := rec.GetString("bckType")
		bckField, _ := rec.GetString("bckField")

		k := dynKey(fwdType, fwdField)

		if _, ok := h.constraints.dynamic[k]; ok {
			continue
		}

		h.constraints.dynamic[k] = &EdgeFieldConstraint{
			ID:              ConstraintDynamic,
			Flags:           int(flags),
			FwdNodeType:     fwdType,
			FwdFieldName:    fwdField,
			BckConstraintId: ConstraintId(bckConstraint),
			BckNodeType:     bckType,
			BckFieldName:    bckField,
		}
	}

	return nil
}

/*
writeNodeRecord writes a single node record. Detached nodes carry
their storage tag and the compressed blob inline - no children
follow. Live nodes carry their edge fields, their data object and
their child ids.
*/
func (h *Hierarchy) writeNodeRecord(w io.Writer, n *Node) error {
	if _, err := w.Write(n.id[:]); err != nil {
		return err
	}

	if err := writeSnapUvarint(w, uint64(n.flags)); err != nil {
		return err
	}

	if n.IsDetached() {
		rec, err := h.detached.Get(n.id)
		if err != nil {
			return err
		}

		cb := rec.Buf

		if rec.Type == DetachedCompressedDisk {
			if cb, err = readBlobFile(rec.Path); err != nil {
				return err
			}
		}

		if _, err := w.Write([]byte{byte(rec.Type)}); err != nil {
			return err
		}
		if err := writeSnapVarint(w, int64(cb.UncompressedSize)); err != nil {
			return err
		}
		if err := writeSnapUvarint(w, uint64(len(cb.Data))); err != nil {
			return err
		}
		if _, err := w.Write(cb.Data); err != nil {
			return err
		}

		return nil
	}

	if err := h.edgesObject(n).WriteTo(w); err != nil {
		return err
	}

	if err := n.obj.WriteTo(w); err != nil {
		return err
	}

	if err := writeSnapUvarint(w, uint64(len(n.children))); err != nil {
		return err
	}

	for _, c := range n.children {
		if _, err := w.Write(c.id[:]); err != nil {
			return err
		}
	}

	return nil
}

/*
readNodeRecord reads a single node record. Returns true when the EOF
sentinel was reached.
*/
func (h *Hierarchy) readNodeRecord(r *bufio.Reader, redetach *[]redetachRecord) (bool, error) {
	var id NodeId

	if _, err := io.ReadFull(r, id[:]); err != nil {
		return false, err
	}

	if id.IsEmpty() {
		return true, nil
	}

	flags, err := binary.ReadUvarint(r)
	if err != nil {
		return false, err
	}

	if uint32(flags)&NodeFlagDetached != 0 {
		tag, err := r.ReadByte()
		if err != nil {
			return false, err
		}

		size, err := binary.ReadVarint(r)
		if err != nil {
			return false, err
		}

		dataLen, err := binary.ReadUvarint(r)
		if err != nil {
			return false, err
		}

		blob := make([]byte, dataLen)
		if _, err := io.ReadFull(r, blob); err != nil {
			return false, err
		}

		rec := &DetachedSubtree{
			Type: DetachedCompressedMem,
			Buf:  &CompressedBuffer{UncompressedSize: int(size), Data: blob},
		}

		n, _, err := h.UpsertNode(id)
		if err != nil {
			return false, err
		}

		n.flags |= NodeFlagDetached

		if err := h.detached.Add(id, rec); err != nil {
			return false, err
		}

		if redetach != nil {
			*redetach = append(*redetach, redetachRecord{id, DetachedType(tag)})
		}

		return false, nil
	}

	edges, err := data.ReadObject(r)
	if err != nil {
		return false, err
	}

	obj, err := data.ReadObject(r)
	if err != nil {
		return false, err
	}

	childCount, err := binary.ReadUvarint(r)
	if err != nil {
		return false, err
	}

	children := make([]NodeId, 0, childCount)

	for i := uint64(0); i < childCount; i++ {
		var cid NodeId

		if _, err := io.ReadFull(r, cid[:]); err != nil {
			return false, err
		}

		children = append(children, cid)
	}

	// Materialize the node - child ids upsert placeholder nodes which
	// later records may fill in

	n, _, err := h.UpsertNode(id)
	if err != nil {
		return false, err
	}

	n.flags = uint32(flags)
	n.obj = obj

	if err := h.loadEdgesObject(n, edges); err != nil {
		return false, err
	}

	for _, cid := range children {
		c, _, err := h.UpsertNode(cid)
		if err != nil {
			return false, err
		}

		h.linkNodes(n, c)
	}

	// Register any aliases of the restored node

	if set, err := obj.GetSet(FieldAliases); err == nil {
		for _, alias := range set.Strings() {
			h.aliases.SetString(alias, id.String())
		}
	}

	return false, nil
}

/*
edgesObject serializes the edge fields of a node into an ordered
object.
*/
func (h *Hierarchy) edgesObject(n *Node) *data.Object {
	obj := data.NewObject()

	for _, name := range n.edges.FieldNames() {
		ef := n.edges.field(name)

		rec := data.NewObject()

		var cid ConstraintId = ConstraintDefault

		if ef.constraint.Flags&ConstraintFlagDynamic != 0 {
			cid = ConstraintDynamic
		} else if ef.constraint.IsSingleRef() {
			cid = ConstraintSingleRef
		}

		rec.SetLong("constraint", int64(cid))

		arcs := data.NewSet(data.SetTypeString)
		for _, dst := range ef.arcs {
			arcs.AddString(dst.id.String())
		}
		rec.SetSet("arcs", arcs)

		if ef.metadata != nil {
			rec.SetObject("meta", ef.metadata)
		}

		obj.SetObject(name, rec)
	}

	return obj
}

/*
loadEdgesObject restores the edge fields of a node from their
serialized form. Destination ids upsert placeholder nodes.
*/
func (h *Hierarchy) loadEdgesObject(n *Node, obj *data.Object) error {
	for _, name := range obj.Keys() {
		rec, err := obj.GetObject(name)
		if err != nil {
			return err
		}

		cid, _ := rec.GetLong("constraint")

		arcs, err := rec.GetSet("arcs")
		if err != nil {
			return err
		}

		for _, dstStr := range arcs.Strings() {
			dstId, err := NewNodeId(dstStr)
			if err != nil {
				return err
			}

			dst, _, err := h.UpsertNode(dstId)
			if err != nil {
				return err
			}

			if err := h.EdgeAdd(n, name, ConstraintId(cid), dst); err != nil {
				return err
			}
		}

		if meta, err := rec.GetObject("meta"); err == nil {
			if ef := n.edges.field(name); ef != nil {
				ef.metadata = meta
			}
		}
	}

	return nil
}

/*
saveSubtree serializes the subtree rooted at a node. The records use
the same format as full snapshots followed by the EOF sentinel.
*/
func (h *Hierarchy) saveSubtree(w io.Writer, root *Node) error {
	nodes := []*Node{root}

	err := h.Traverse(root, TraversalDFSDescendants,
		&TraversalOptions{InhibitRestore: true}, func(n *Node) VisitControl {
			nodes = append(nodes, n)
			return VisitContinue
		})

	if err != nil {
		return err
	}

	for _, n := range nodes {
		if err := h.writeNodeRecord(w, n); err != nil {
			return err
		}
	}

	_, err = w.Write(EmptyNodeId[:])

	return err
}

/*
loadSubtree restores a serialized subtree into the live store.
*/
func (h *Hierarchy) loadSubtree(r *bufio.Reader) error {
	for {
		done, err := h.readNodeRecord(r, nil)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

/*
readBlobFile reads a compressed blob from a file.
*/
func readBlobFile(path string) (*CompressedBuffer, error) {
	raw, err := os.ReadFile(path)
	if err != nil || len(raw) < 8 {
		return nil, util.NewError(util.ErrGeneral,
			fmt.Sprintf("Could not read detached subtree file: %v", path))
	}

	size := int64(binary.LittleEndian.Uint64(raw[:8]))

	return &CompressedBuffer{UncompressedSize: int(size), Data: raw[8:]}, nil
}

/*
writeBlobFile writes a compressed blob to a file.
*/
func writeBlobFile(path string, cb *CompressedBuffer) error {
	var head [8]byte

	binary.LittleEndian.PutUint64(head[:], uint64(cb.UncompressedSize))

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(head[:]); err != nil {
		return err
	}

	_, err = f.Write(cb.Data)

	return err
}

// Small codec helpers shared with the object codec
// ================================================

/*
writeSnapUvarint writes an unsigned varint.
*/
func writeSnapUvarint(w io.Writer, v uint64) error {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	_, err := w.Write(buf[:n])
	return err
}

/*
writeSnapVarint writes a signed varint.
*/
func writeSnapVarint(w io.Writer, v int64) error {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutVarint(buf[:], v)
	_, err := w.Write(buf[:n])
	return err
}

/*
writeSnapString writes a length-prefixed string.
*/
func writeSnapString(w io.Writer, s string) error {
	if err := writeSnapUvarint(w, uint64(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

/*
readSnapString reads a length-prefixed string.
*/
func readSnapString(r *bufio.Reader) (string, error) {
	l, err := binary.ReadUvarint(r)
	if err != nil {
		return "", err
	}

	buf := make([]byte, l)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}

	return string(buf), nil
}
