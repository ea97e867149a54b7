/*
 * HierDB
 *
 * Copyright 2020 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package rpn

import (
	"fmt"
	"math"
	"strconv"

	"devt.de/krotik/hierdb/hierarchy/data"
)

/*
operandKind discriminates the value arms of an operand.
*/
type operandKind int

/*
Available operand kinds
*/
const (
	opdNumber operandKind = iota
	opdString
	opdSet
)

/*
Operand is a single typed value on the evaluation stack or in a
register file.
*/
type Operand struct {
	kind operandKind
	num  float64
	str  string
	set  *data.Set
}

/*
NumberOperand creates a number operand.
*/
func NumberOperand(v float64) *Operand {
	return &Operand{kind: opdNumber, num: v}
}

/*
StringOperand creates a string operand.
*/
func StringOperand(v string) *Operand {
	return &Operand{kind: opdString, str: v}
}

/*
SetOperand creates a set operand.
*/
func SetOperand(v *data.Set) *Operand {
	return &Operand{kind: opdSet, set: v}
}

/*
truthy returns the truth value of this operand. Numbers are true if
they are not zero, strings if they are not empty and sets if they
contain elements.
*/
func (op *Operand) truthy() bool {
	switch op.kind {
	case opdString:
		return op.str != ""
	case opdSet:
		return op.set != nil && op.set.Size() > 0
	}
	return op.num != 0 && !math.IsNaN(op.num)
}

/*
number returns this operand as a number. Strings are parsed, sets and
unparseable strings yield NaN.
*/
func (op *Operand) number() float64 {
	switch op.kind {
	case opdString:
		if v, err := strconv.ParseFloat(op.str, 64); err == nil {
			return v
		}
		return math.NaN()
	case opdSet:
		return math.NaN()
	}
	return op.num
}

/*
text returns this operand as a string.
*/
func (op *Operand) text() string {
	switch op.kind {
	case opdString:
		return op.str
	case opdSet:
		return op.set.String()
	}
	return strconv.FormatFloat(op.num, 'f', -1, 64)
}

/*
String returns a string representation of this operand.
*/
func (op *Operand) String() string {
	switch op.kind {
	case opdString:
		return fmt.Sprintf("%q", op.str)
	case opdSet:
		return op.set.String()
	}
	return op.text()
}

/*
Doc is the data source an expression is evaluated against. A document
is usually the data object of a node or the metadata object of an
edge.
*/
type Doc interface {

	/*
	   GetString returns a string field of the document.
	*/
	GetString(field string) (string, bool)

	/*
	   GetNumber returns a numeric field of the document.
	*/
	GetNumber(field string) (float64, bool)

	/*
	   GetSet returns a set field of the document.
	*/
	GetSet(field string) (*data.Set, bool)

	/*
	   Exists checks if a field of the document exists and is non-empty.
	*/
	Exists(field string) bool

	/*
		RecordKeys returns the keys of a keyed record field of the
		document.
	*/
	RecordKeys(field string) ([]string, bool)
}

/*
objectDoc is a Doc implementation backed by a plain data object.
*/
type objectDoc struct {
	obj *data.Object
}

/*
NewObjectDoc wraps a data object as an evaluation document.
*/
func NewObjectDoc(obj *data.Object) Doc {
	return &objectDoc{obj}
}

func (d *objectDoc) GetString(field string) (string, bool) {
	if d.obj == nil {
		return "", false
	}

	v, err := d.obj.GetString(field)
	if err != nil {
		return "", false
	}

	return v, true
}

func (d *objectDoc) GetNumber(field string) (float64, bool) {
	if d.obj == nil {
		return 0, false
	}

	v, err := d.obj.GetDouble(field)
	if err != nil {
		return 0, false
	}

	return v, true
}

func (d *objectDoc) GetSet(field string) (*data.Set, bool) {
	if d.obj == nil {
		return nil, false
	}

	v, err := d.obj.GetSet(field)
	if err != nil {
		return nil, false
	}

	return v, true
}

func (d *objectDoc) Exists(field string) bool {
	if d.obj == nil {
		return false
	}

	t, err := d.obj.TypeOf(field)
	if err != nil {
		return false
	}

	switch t {
	case data.TypeString:
		v, _ := d.obj.GetString(field)
		return v != ""
	case data.TypeSet:
		v, _ := d.obj.GetSet(field)
		return v.Size() > 0
	}

	return true
}

func (d *objectDoc) RecordKeys(field string) ([]string, bool) {
	if d.obj == nil {
		return nil, false
	}

	sub, err := d.obj.GetObject(field)
	if err != nil {
		return nil, false
	}

	return sub.KeysInserted(), true
}

/*
Ctx is the evaluation context of an expression. It holds the user
register file and the document binding. A context can be reused
across evaluations - operand values must not be stashed between
calls.
*/
type Ctx struct {
	regs   []*Operand
	doc    Doc
	nodeID string
}

/*
NewCtx creates a new evaluation context with a given number of user
registers.
*/
func NewCtx(nrRegs int) *Ctx {
	return &Ctx{regs: make([]*Operand, nrRegs)}
}

/*
Bind binds a document and the current node id to this context.
*/
func (c *Ctx) Bind(doc Doc, nodeID string) {
	c.doc = doc
	c.nodeID = nodeID
}

/*
SetRegString sets a user register to a string value.
*/
func (c *Ctx) SetRegString(i int, v string) error {
	if i < 0 || i >= len(c.regs) {
		return newError(ErrBounds, fmt.Sprintf("Register %v", i))
	}
	c.regs[i] = StringOperand(v)
	return nil
}

/*
SetRegNumber sets a user register to a number value.
*/
func (c *Ctx) SetRegNumber(i int, v float64) error {
	if i < 0 || i >= len(c.regs) {
		return newError(ErrBounds, fmt.Sprintf("Register %v", i))
	}
	c.regs[i] = NumberOperand(v)
	return nil
}

/*
SetRegSet sets a user register to a set value.
*/
func (c *Ctx) SetRegSet(i int, v *data.Set) error {
	if i < 0 || i >= len(c.regs) {
		return newError(ErrBounds, fmt.Sprintf("Register %v", i))
	}
	c.regs[i] = SetOperand(v)
	return nil
}

/*
reg returns the operand of a user register.
*/
func (c *Ctx) reg(i int) (*Operand, error) {
	if i < 0 || i >= len(c.regs) || c.regs[i] == nil {
		return nil, newError(ErrBounds, fmt.Sprintf("Register %v", i))
	}
	return c.regs[i], nil
}
