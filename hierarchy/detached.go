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
	"fmt"
	"io"
	"sort"

	"github.com/klauspost/compress/zlib"

	"devt.de/krotik/hierdb/hierarchy/data"
	"devt.de/krotik/hierdb/hierarchy/util"
)

/*
DetachedType is the storage backend of a detached subtree.
*/
type DetachedType int

/*
Available detached subtree storage types
*/
const (
	DetachedCompressedMem  DetachedType = 1 // Compressed and stored in memory
	DetachedCompressedDisk DetachedType = 2 // Compressed and stored on disk
)

/*
ParseDetachedType parses the external name of a detached storage
type.
*/
func ParseDetachedType(name string) (DetachedType, error) {
	switch name {
	case "mem":
		return DetachedCompressedMem, nil
	case "disk":
		return DetachedCompressedDisk, nil
	}

	return 0, util.NewError(util.ErrInvalidArg,
		fmt.Sprintf("Unknown detached storage type: %v", name))
}

/*
CompressedBuffer holds a serialized subtree in compressed form. If
compression did not shrink the data the raw bytes are kept and the
uncompressed size carries the sentinel value -1.
*/
type CompressedBuffer struct {
	UncompressedSize int
	Data             []byte
}

/*
CompressBuffer compresses a raw byte buffer.
*/
func CompressBuffer(raw []byte) *CompressedBuffer {
	var buf bytes.Buffer

	w := zlib.NewWriter(&buf)

	if _, err := w.Write(raw); err != nil {
		w.Close()
		return &CompressedBuffer{UncompressedSize: -1, Data: raw}
	}
	w.Close()

	if buf.Len() >= len(raw) {

		// Compression did not shrink the data - keep the raw form

		return &CompressedBuffer{UncompressedSize: -1, Data: raw}
	}

	return &CompressedBuffer{UncompressedSize: len(raw), Data: buf.Bytes()}
}

/*
Decompress returns the raw bytes of this buffer.
*/
func (cb *CompressedBuffer) Decompress() ([]byte, error) {
	if cb.UncompressedSize < 0 {
		return cb.Data, nil
	}

	r, err := zlib.NewReader(bytes.NewReader(cb.Data))
	if err != nil {
		return nil, util.NewError(util.ErrGeneral, err.Error())
	}
	defer r.Close()

	raw := make([]byte, 0, cb.UncompressedSize)

	out := bytes.NewBuffer(raw)
	if _, err := io.Copy(out, r); err != nil {
		return nil, util.NewError(util.ErrGeneral, err.Error())
	}

	return out.Bytes(), nil
}

/*
DetachedSubtree is the record of a detached subtree. Depending on the
storage type it either holds the compressed buffer in memory or the
path of the file holding it.
*/
type DetachedSubtree struct {
	Type DetachedType
	Buf  *CompressedBuffer // Set for memory resident subtrees
	Path string            // Set for disk resident subtrees
}

/*
ptypeDetachedSubtree is the pointer type id of detached subtree
records stored in the registry object.
*/
const ptypeDetachedSubtree data.PointerType = 1

func init() {

	// Detached subtree records participate in object replies through
	// the pointer operations table

	data.RegisterPointerType(ptypeDetachedSubtree, &data.PointerOps{
		Reply: func(v interface{}) interface{} {
			rec := v.(*DetachedSubtree)
			if rec.Type == DetachedCompressedDisk {
				return fmt.Sprintf("disk:%v", rec.Path)
			}
			return "mem"
		},
		Len: func(v interface{}) int {
			rec := v.(*DetachedSubtree)
			if rec.Buf != nil {
				return len(rec.Buf.Data)
			}
			return 0
		},
	})
}

/*
detachedRegistry maps node ids to the detached subtree they are part
of. The registry is indexed by every member id of a subtree, not only
by its root.
*/
type detachedRegistry struct {
	obj *data.Object
}

/*
newDetachedRegistry creates a new detached subtree registry.
*/
func newDetachedRegistry() *detachedRegistry {
	return &detachedRegistry{obj: data.NewObject()}
}

/*
Exists checks if an id is a member of a detached subtree.
*/
func (r *detachedRegistry) Exists(id NodeId) bool {
	return r.obj.Exists(id.String())
}

/*
Get returns the detached subtree record of a member id.
*/
func (r *detachedRegistry) Get(id NodeId) (*DetachedSubtree, error) {
	ptr, err := r.obj.GetPointer(id.String())
	if err != nil {
		return nil, util.NewError(util.ErrNotFound, id.String())
	}

	return ptr.Value.(*DetachedSubtree), nil
}

/*
Add registers a member id of a detached subtree.
*/
func (r *detachedRegistry) Add(id NodeId, rec *DetachedSubtree) error {
	return r.obj.SetPointer(id.String(), &data.Pointer{
		PType: ptypeDetachedSubtree,
		Value: rec,
	})
}

/*
RemoveSubtree removes all registry entries which point at a given
subtree record. Entries are matched by record identity.
*/
func (r *detachedRegistry) RemoveSubtree(rec *DetachedSubtree) {
	for _, key := range r.obj.Keys() {
		if ptr, err := r.obj.GetPointer(key); err == nil && ptr.Value == rec {
			r.obj.Delete(key)
		}
	}
}

/*
SubtreeIds returns the member ids of a given subtree record in id
order.
*/
func (r *detachedRegistry) SubtreeIds(rec *DetachedSubtree) []NodeId {
	var ids []NodeId

	for _, key := range r.obj.Keys() {
		if ptr, err := r.obj.GetPointer(key); err == nil && ptr.Value == rec {
			if id, err := NewNodeId(key); err == nil {
				ids = append(ids, id)
			}
		}
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })

	return ids
}

/*
Ids returns all member ids of detached subtrees in id order.
*/
func (r *detachedRegistry) Ids() []NodeId {
	keys := r.obj.Keys()

	ids := make([]NodeId, 0, len(keys))

	for _, key := range keys {
		if id, err := NewNodeId(key); err == nil {
			ids = append(ids, id)
		}
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })

	return ids
}

/*
ListDetached returns the member ids of all detached subtrees of this
hierarchy in id order.
*/
func (h *Hierarchy) ListDetached() []NodeId {
	return h.detached.Ids()
}
