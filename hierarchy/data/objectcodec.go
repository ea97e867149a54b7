/*
 * HierDB
 *
 * Copyright 2020 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package data

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"devt.de/krotik/hierdb/hierarchy/util"
)

/*
PointerType is a numeric type id selecting the operations table of an
opaque pointer value.
*/
type PointerType int

/*
Pointer is an opaque value stored under a key of an Object. The
operations table registered for its type id controls how the value
participates in replies and in the snapshot codec.
*/
type Pointer struct {
	PType PointerType
	Value interface{}
}

/*
PointerOps is the operations table of a pointer type.
*/
type PointerOps struct {
	Reply func(v interface{}) interface{}        // Produce a client reply value
	Free  func(v interface{})                    // Release the value
	Len   func(v interface{}) int                // Size of the value
	Save  func(w io.Writer, v interface{}) error // Serialize the value
	Load  func(r io.Reader) (interface{}, error) // Deserialize the value
}

var pointerRegistry = make(map[PointerType]*PointerOps)

/*
RegisterPointerType registers the operations table of a pointer type.
Registration is expected to happen during initialization - the registry
is not protected against concurrent mutation.
*/
func RegisterPointerType(ptype PointerType, ops *PointerOps) {
	pointerRegistry[ptype] = ops
}

/*
LookupPointerType returns the operations table of a pointer type or nil.
*/
func LookupPointerType(ptype PointerType) *PointerOps {
	return pointerRegistry[ptype]
}

// Binary codec
// ============

/*
writeUvarint writes an unsigned varint to a writer.
*/
func writeUvarint(w io.Writer, v uint64) error {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	_, err := w.Write(buf[:n])
	return err
}

/*
writeVarint writes a signed varint to a writer.
*/
func writeVarint(w io.Writer, v int64) error {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutVarint(buf[:], v)
	_, err := w.Write(buf[:n])
	return err
}

/*
writeString writes a length-prefixed string to a writer.
*/
func writeString(w io.Writer, s string) error {
	if err := writeUvarint(w, uint64(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

/*
byteReader combines the byte-wise and block-wise reader interfaces
needed by the codec.
*/
type byteReader interface {
	io.Reader
	io.ByteReader
}

/*
readString reads a length-prefixed string from a reader.
*/
func readString(r byteReader) (string, error) {
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

/*
WriteTo serializes this object to a writer. Keys are written in
insertion order which keeps the serialized form deterministic for a
given mutation history.
*/
func (o *Object) WriteTo(w io.Writer) error {

	if err := writeUvarint(w, uint64(len(o.inserted))); err != nil {
		return err
	}

	for _, key := range o.inserted {
		e := o.entries[key]

		if err := writeString(w, key); err != nil {
			return err
		}

		if _, err := w.Write([]byte{byte(e.kind)}); err != nil {
			return err
		}

		if err := writeEntryValue(w, e); err != nil {
			return err
		}
	}

	return nil
}

/*
writeEntryValue serializes the value part of an entry.
*/
func writeEntryValue(w io.Writer, e *entry) error {
	switch e.kind {

	case TypeString:
		return writeString(w, e.str)

	case TypeLong:
		return writeVarint(w, e.lng)

	case TypeDouble:
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(e.num))
		_, err := w.Write(buf[:])
		return err

	case TypeObject:
		return e.obj.WriteTo(w)

	case TypeSet:
		return writeSet(w, e.set)

	case TypeArray:
		return writeArray(w, e.arr)

	case TypePointer:
		ops := LookupPointerType(e.ptr.PType)
		if ops == nil || ops.Save == nil {
			return util.NewError(util.ErrNotSupported,
				fmt.Sprintf("Pointer type %v cannot be serialized", e.ptr.PType))
		}
		if err := writeUvarint(w, uint64(e.ptr.PType)); err != nil {
			return err
		}
		return ops.Save(w, e.ptr.Value)
	}

	return nil
}

/*
writeSet serializes a set.
*/
func writeSet(w io.Writer, s *Set) error {
	if _, err := w.Write([]byte{byte(s.stype)}); err != nil {
		return err
	}

	if err := writeUvarint(w, uint64(s.Size())); err != nil {
		return err
	}

	switch s.stype {
	case SetTypeDouble:
		for _, v := range s.nums {
			var buf [8]byte
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
			if _, err := w.Write(buf[:]); err != nil {
				return err
			}
		}
	case SetTypeLong:
		for _, v := range s.lngs {
			if err := writeVarint(w, v); err != nil {
				return err
			}
		}
	default:
		for _, v := range s.strs {
			if err := writeString(w, v); err != nil {
				return err
			}
		}
	}

	return nil
}

/*
writeArray serializes an array. Array items are restricted to strings,
integers, doubles and nested objects.
*/
func writeArray(w io.Writer, arr []interface{}) error {
	if err := writeUvarint(w, uint64(len(arr))); err != nil {
		return err
	}

	for _, item := range arr {
		switch v := item.(type) {

		case string:
			if _, err := w.Write([]byte{byte(TypeString)}); err != nil {
				return err
			}
			if err := writeString(w, v); err != nil {
				return err
			}

		case int64:
			if _, err := w.Write([]byte{byte(TypeLong)}); err != nil {
				return err
			}
			if err := writeVarint(w, v); err != nil {
				return err
			}

		case float64:
			var buf [8]byte
			if _, err := w.Write([]byte{byte(TypeDouble)}); err != nil {
				return err
			}
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
			if _, err := w.Write(buf[:]); err != nil {
				return err
			}

		case *Object:
			if _, err := w.Write([]byte{byte(TypeObject)}); err != nil {
				return err
			}
			if err := v.WriteTo(w); err != nil {
				return err
			}

		default:
			return util.NewError(util.ErrInvalidType,
				fmt.Sprintf("Array item %v cannot be serialized", item))
		}
	}

	return nil
}

/*
ReadObject deserializes an object from a reader.
*/
func ReadObject(r byteReader) (*Object, error) {
	count, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}

	ret := NewObject()

	for i := uint64(0); i < count; i++ {
		key, err := readString(r)
		if err != nil {
			return nil, err
		}

		kind, err := r.ReadByte()
		if err != nil {
			return nil, err
		}

		e, err := readEntryValue(r, ObjectType(kind))
		if err != nil {
			return nil, err
		}

		if err := ret.setEntry(key, e); err != nil {
			return nil, err
		}
	}

	return ret, nil
}

/*
readEntryValue deserializes the value part of an entry.
*/
func readEntryValue(r byteReader, kind ObjectType) (*entry, error) {
	e := &entry{kind: kind}

	switch kind {

	case TypeString:
		s, err := readString(r)
		if err != nil {
			return nil, err
		}
		e.str = s

	case TypeLong:
		v, err := binary.ReadVarint(r)
		if err != nil {
			return nil, err
		}
		e.lng = v

	case TypeDouble:
		var buf [8]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, err
		}
		e.num = math.Float64frombits(binary.LittleEndian.Uint64(buf[:]))

	case TypeObject:
		obj, err := ReadObject(r)
		if err != nil {
			return nil, err
		}
		e.obj = obj

	case TypeSet:
		set, err := readSet(r)
		if err != nil {
			return nil, err
		}
		e.set = set

	case TypeArray:
		arr, err := readArray(r)
		if err != nil {
			return nil, err
		}
		e.arr = arr

	case TypePointer:
		pt, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, err
		}

		ops := LookupPointerType(PointerType(pt))
		if ops == nil || ops.Load == nil {
			return nil, util.NewError(util.ErrNotSupported,
				fmt.Sprintf("Pointer type %v cannot be deserialized", pt))
		}

		val, err := ops.Load(r)
		if err != nil {
			return nil, err
		}
		e.ptr = &Pointer{PType: PointerType(pt), Value: val}

	default:
		return nil, util.NewError(util.ErrInvalidType,
			fmt.Sprintf("Unknown value type %v", kind))
	}

	return e, nil
}

/*
readSet deserializes a set.
*/
func readSet(r byteReader) (*Set, error) {
	st, err := r.ReadByte()
	if err != nil {
		return nil, err
	}

	count, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}

	ret := NewSet(SetType(st))

	for i := uint64(0); i < count; i++ {
		switch ret.stype {

		case SetTypeDouble:
			var buf [8]byte
			if _, err := io.ReadFull(r, buf[:]); err != nil {
				return nil, err
			}
			ret.AddDouble(math.Float64frombits(binary.LittleEndian.Uint64(buf[:])))

		case SetTypeLong:
			v, err := binary.ReadVarint(r)
			if err != nil {
				return nil, err
			}
			ret.AddLong(v)

		default:
			s, err := readString(r)
			if err != nil {
				return nil, err
			}
			ret.AddString(s)
		}
	}

	return ret, nil
}

/*
readArray deserializes an array.
*/
func readArray(r byteReader) ([]interface{}, error) {
	count, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}

	var ret []interface{}

	for i := uint64(0); i < count; i++ {
		kind, err := r.ReadByte()
		if err != nil {
			return nil, err
		}

		e, err := readEntryValue(r, ObjectType(kind))
		if err != nil {
			return nil, err
		}

		ret = append(ret, entryValue(e))
	}

	return ret, nil
}
