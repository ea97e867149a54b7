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
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"devt.de/krotik/hierdb/hierarchy/data"
)

/*
errReturn stops the evaluation and keeps the current top of the stack
as the result.
*/
var errReturn = errors.New("return")

/*
vm is the evaluation state of a single eval call.
*/
type vm struct {
	ctx   *Ctx
	stack []*Operand
}

/*
push pushes an operand onto the stack.
*/
func (v *vm) push(op *Operand) error {
	if len(v.stack) >= maxStack {
		return newError(ErrBadStack, "Stack overflow")
	}
	v.stack = append(v.stack, op)
	return nil
}

/*
pop pops an operand from the stack.
*/
func (v *vm) pop() (*Operand, error) {
	if len(v.stack) == 0 {
		return nil, newError(ErrBadStack, "Stack underflow")
	}
	op := v.stack[len(v.stack)-1]
	v.stack = v.stack[:len(v.stack)-1]
	return op, nil
}

/*
eval runs the compiled token stream against a context.
*/
func (e *Expression) eval(ctx *Ctx) (*Operand, error) {
	v := &vm{ctx: ctx}

	for ip := 0; ip < len(e.tokens); ip++ {
		t := e.tokens[ip]

		switch t.kind {

		case tkLiteral:

			// Literal operands are immutable and shared between calls

			if err := v.push(e.literals[t.arg]); err != nil {
				return nil, err
			}

		case tkRegNum:
			op, err := ctx.reg(t.arg)
			if err != nil {
				return nil, err
			}
			if err := v.push(NumberOperand(op.number())); err != nil {
				return nil, err
			}

		case tkRegStr:
			op, err := ctx.reg(t.arg)
			if err != nil {
				return nil, err
			}
			if err := v.push(StringOperand(op.text())); err != nil {
				return nil, err
			}

		case tkRegSet:
			op, err := ctx.reg(t.arg)
			if err != nil {
				return nil, err
			}
			if op.kind != opdSet {
				return nil, newError(ErrType, fmt.Sprintf("Register %v is not a set", t.arg))
			}
			if err := v.push(op); err != nil {
				return nil, err
			}

		case tkJump:
			cond, err := v.pop()
			if err != nil {
				return nil, err
			}
			if cond.truthy() {
				ip = t.arg - 1
			}

		case tkOp:
			err := opFuncs[t.op](v)

			if err == errBreak || err == errReturn {

				// A modal short-circuit or return unwinds to the top of
				// the evaluation keeping the final operand

				return v.result()
			}

			if err != nil {
				return nil, err
			}
		}
	}

	return v.result()
}

/*
result returns the final operand of an evaluation.
*/
func (v *vm) result() (*Operand, error) {
	if len(v.stack) == 0 {
		return nil, newError(ErrBadStack, "Evaluation left no result")
	}
	return v.stack[len(v.stack)-1], nil
}

/*
EvalBool evaluates this expression and coerces the result to a truth
value.
*/
func (e *Expression) EvalBool(ctx *Ctx) (bool, error) {
	op, err := e.eval(ctx)
	if err != nil {
		return false, err
	}
	return op.truthy(), nil
}

/*
EvalNumber evaluates this expression and coerces the result to a
number.
*/
func (e *Expression) EvalNumber(ctx *Ctx) (float64, error) {
	op, err := e.eval(ctx)
	if err != nil {
		return 0, err
	}
	return op.number(), nil
}

/*
EvalInteger evaluates this expression and coerces the result to an
integer.
*/
func (e *Expression) EvalInteger(ctx *Ctx) (int64, error) {
	op, err := e.eval(ctx)
	if err != nil {
		return 0, err
	}

	n := op.number()
	if math.IsNaN(n) {
		return 0, newError(ErrNotANumber, op.String())
	}

	return int64(n), nil
}

/*
EvalString evaluates this expression and coerces the result to a
string.
*/
func (e *Expression) EvalString(ctx *Ctx) (string, error) {
	op, err := e.eval(ctx)
	if err != nil {
		return "", err
	}
	return op.text(), nil
}

/*
EvalSet evaluates this expression and returns the result set.
*/
func (e *Expression) EvalSet(ctx *Ctx) (*data.Set, error) {
	op, err := e.eval(ctx)
	if err != nil {
		return nil, err
	}
	if op.kind != opdSet {
		return nil, newError(ErrType, "Result is not a set")
	}
	return op.set, nil
}

// Opcode implementations
// ======================

/*
bool01 converts a truth value into a number operand.
*/
func bool01(b bool) *Operand {
	if b {
		return NumberOperand(1)
	}
	return NumberOperand(0)
}

/*
binaryNumOp pops two operands and pushes the result of a numeric
operation.
*/
func binaryNumOp(v *vm, f func(a, b float64) (float64, error)) error {
	b, err := v.pop()
	if err != nil {
		return err
	}
	a, err := v.pop()
	if err != nil {
		return err
	}

	res, err := f(a.number(), b.number())
	if err != nil {
		return err
	}

	return v.push(NumberOperand(res))
}

/*
resolveSet returns the set of an operand. A string operand is treated
as the name of a set field of the bound document. A missing field
resolves to an empty set.
*/
func (v *vm) resolveSet(op *Operand) (*data.Set, error) {
	if op.kind == opdSet {
		return op.set, nil
	}

	if op.kind == opdString {
		if v.ctx.doc == nil {
			return nil, newError(ErrNilPointer, "No document bound")
		}

		if set, ok := v.ctx.doc.GetSet(op.str); ok {
			return set, nil
		}

		return data.NewSet(data.SetTypeString), nil
	}

	return nil, newError(ErrType, "Operand is not a set")
}

/*
setContains checks if an operand value is an element of a set.
*/
func setContains(set *data.Set, op *Operand) bool {
	switch set.Type() {
	case data.SetTypeDouble:
		return set.HasDouble(op.number())
	case data.SetTypeLong:
		return set.HasLong(int64(op.number()))
	}
	return set.HasString(op.text())
}

/*
padID pads an id string to its fixed 10 byte form.
*/
func padID(id string) string {
	if len(id) >= 10 {
		return id[:10]
	}
	return id + strings.Repeat("\x00", 10-len(id))
}

/*
typeOfID returns the node type prefix of an id string.
*/
func typeOfID(id string) string {
	if len(id) < 2 {
		return id
	}
	return id[:2]
}

/*
docField pops a field name and requires a bound document.
*/
func (v *vm) docField() (string, error) {
	op, err := v.pop()
	if err != nil {
		return "", err
	}

	if v.ctx.doc == nil {
		return "", newError(ErrNilPointer, "No document bound")
	}

	return op.text(), nil
}

/*
opFuncs maps opcode letters to their implementations.
*/
var opFuncs = map[byte]func(*vm) error{

	'A': func(v *vm) error { // add
		return binaryNumOp(v, func(a, b float64) (float64, error) { return a + b, nil })
	},

	'B': func(v *vm) error { // sub
		return binaryNumOp(v, func(a, b float64) (float64, error) { return a - b, nil })
	},

	'C': func(v *vm) error { // div
		return binaryNumOp(v, func(a, b float64) (float64, error) {
			if b == 0 {
				return 0, newError(ErrDivZero, "")
			}
			return a / b, nil
		})
	},

	'D': func(v *vm) error { // mul
		return binaryNumOp(v, func(a, b float64) (float64, error) { return a * b, nil })
	},

	'E': func(v *vm) error { // positive modulo
		return binaryNumOp(v, func(a, b float64) (float64, error) {
			if b == 0 {
				return 0, newError(ErrDivZero, "")
			}
			r := math.Mod(a, b)
			if r < 0 {
				r += math.Abs(b)
			}
			return r, nil
		})
	},

	'F': func(v *vm) error { // num ==
		return binaryNumOp(v, func(a, b float64) (float64, error) {
			if a == b {
				return 1, nil
			}
			return 0, nil
		})
	},

	'G': func(v *vm) error { // num !=
		return binaryNumOp(v, func(a, b float64) (float64, error) {
			if a != b {
				return 1, nil
			}
			return 0, nil
		})
	},

	'H': func(v *vm) error { // <
		return binaryNumOp(v, func(a, b float64) (float64, error) {
			if a < b {
				return 1, nil
			}
			return 0, nil
		})
	},

	'I': func(v *vm) error { // >
		return binaryNumOp(v, func(a, b float64) (float64, error) {
			if a > b {
				return 1, nil
			}
			return 0, nil
		})
	},

	'J': func(v *vm) error { // <=
		return binaryNumOp(v, func(a, b float64) (float64, error) {
			if a <= b {
				return 1, nil
			}
			return 0, nil
		})
	},

	'K': func(v *vm) error { // >=
		return binaryNumOp(v, func(a, b float64) (float64, error) {
			if a >= b {
				return 1, nil
			}
			return 0, nil
		})
	},

	'L': func(v *vm) error { // not
		op, err := v.pop()
		if err != nil {
			return err
		}
		return v.push(bool01(!op.truthy()))
	},

	'M': func(v *vm) error { // and
		b, err := v.pop()
		if err != nil {
			return err
		}
		a, err := v.pop()
		if err != nil {
			return err
		}
		return v.push(bool01(a.truthy() && b.truthy()))
	},

	'N': func(v *vm) error { // or
		b, err := v.pop()
		if err != nil {
			return err
		}
		a, err := v.pop()
		if err != nil {
			return err
		}
		return v.push(bool01(a.truthy() || b.truthy()))
	},

	'O': func(v *vm) error { // xor
		b, err := v.pop()
		if err != nil {
			return err
		}
		a, err := v.pop()
		if err != nil {
			return err
		}
		return v.push(bool01(a.truthy() != b.truthy()))
	},

	'P': func(v *vm) error { // necessarily
		op, err := v.pop()
		if err != nil {
			return err
		}

		if !op.truthy() {
			if err := v.push(NumberOperand(0)); err != nil {
				return err
			}
			return errBreak
		}

		return v.push(op)
	},

	'Q': func(v *vm) error { // possibly
		op, err := v.pop()
		if err != nil {
			return err
		}

		if err := v.push(op); err != nil {
			return err
		}

		if op.truthy() {
			return errBreak
		}

		return nil
	},

	'R': func(v *vm) error { // dup
		if len(v.stack) == 0 {
			return newError(ErrBadStack, "Stack underflow")
		}
		return v.push(v.stack[len(v.stack)-1])
	},

	'S': func(v *vm) error { // swap
		b, err := v.pop()
		if err != nil {
			return err
		}
		a, err := v.pop()
		if err != nil {
			return err
		}
		if err := v.push(b); err != nil {
			return err
		}
		return v.push(a)
	},

	'T': func(v *vm) error { // ternary
		cond, err := v.pop()
		if err != nil {
			return err
		}
		b, err := v.pop()
		if err != nil {
			return err
		}
		c, err := v.pop()
		if err != nil {
			return err
		}

		if cond.truthy() {
			return v.push(b)
		}
		return v.push(c)
	},

	'U': func(v *vm) error { // drop
		_, err := v.pop()
		return err
	},

	'V': func(v *vm) error { // over
		if len(v.stack) < 2 {
			return newError(ErrBadStack, "Stack underflow")
		}
		return v.push(v.stack[len(v.stack)-2])
	},

	'W': func(v *vm) error { // rot - swaps the two items below the top
		a, err := v.pop()
		if err != nil {
			return err
		}
		b, err := v.pop()
		if err != nil {
			return err
		}
		c, err := v.pop()
		if err != nil {
			return err
		}
		if err := v.push(b); err != nil {
			return err
		}
		if err := v.push(c); err != nil {
			return err
		}
		return v.push(a)
	},

	'X': func(v *vm) error { // nop
		return nil
	},

	'Z': func(v *vm) error { // return
		return errReturn
	},

	'a': func(v *vm) error { // value in set or field-set
		s, err := v.pop()
		if err != nil {
			return err
		}
		val, err := v.pop()
		if err != nil {
			return err
		}

		set, err := v.resolveSet(s)
		if err != nil {
			return err
		}

		return v.push(bool01(setContains(set, val)))
	},

	'b': func(v *vm) error { // node type of an id
		op, err := v.pop()
		if err != nil {
			return err
		}
		return v.push(StringOperand(typeOfID(op.text())))
	},

	'c': func(v *vm) error { // string equality
		b, err := v.pop()
		if err != nil {
			return err
		}
		a, err := v.pop()
		if err != nil {
			return err
		}
		return v.push(bool01(a.text() == b.text()))
	},

	'd': func(v *vm) error { // id equality
		b, err := v.pop()
		if err != nil {
			return err
		}
		a, err := v.pop()
		if err != nil {
			return err
		}
		return v.push(bool01(padID(a.text()) == padID(b.text())))
	},

	'e': func(v *vm) error { // bound node type equality
		op, err := v.pop()
		if err != nil {
			return err
		}

		if v.ctx.nodeID == "" {
			return newError(ErrNilPointer, "No node bound")
		}

		return v.push(bool01(typeOfID(v.ctx.nodeID) == typeOfID(op.text())))
	},

	'f': func(v *vm) error { // string field
		field, err := v.docField()
		if err != nil {
			return err
		}

		s, _ := v.ctx.doc.GetString(field)

		return v.push(StringOperand(s))
	},

	'g': func(v *vm) error { // double field
		field, err := v.docField()
		if err != nil {
			return err
		}

		n, ok := v.ctx.doc.GetNumber(field)
		if !ok {
			n = math.NaN()
		}

		return v.push(NumberOperand(n))
	},

	'h': func(v *vm) error { // field exists
		field, err := v.docField()
		if err != nil {
			return err
		}
		return v.push(bool01(v.ctx.doc.Exists(field)))
	},

	'i': func(v *vm) error { // range a <= b <= c
		c, err := v.pop()
		if err != nil {
			return err
		}
		b, err := v.pop()
		if err != nil {
			return err
		}
		a, err := v.pop()
		if err != nil {
			return err
		}

		bn := b.number()

		return v.push(bool01(a.number() <= bn && bn <= c.number()))
	},

	'j': func(v *vm) error { // first non-empty field
		field, err := v.docField()
		if err != nil {
			return err
		}

		for _, f := range strings.Split(field, "\n") {
			if f != "" && v.ctx.doc.Exists(f) {
				return v.push(StringOperand(f))
			}
		}

		return v.push(StringOperand(""))
	},

	'k': func(v *vm) error { // all fields non-empty
		field, err := v.docField()
		if err != nil {
			return err
		}

		for _, f := range strings.Split(field, "\n") {
			if f == "" || !v.ctx.doc.Exists(f) {
				return v.push(bool01(false))
			}
		}

		return v.push(bool01(true))
	},

	'l': func(v *vm) error { // set or field-set contained in set
		b, err := v.pop()
		if err != nil {
			return err
		}
		a, err := v.pop()
		if err != nil {
			return err
		}

		bSet, err := v.resolveSet(b)
		if err != nil {
			return err
		}
		aSet, err := v.resolveSet(a)
		if err != nil {
			return err
		}

		if aSet.Type() != bSet.Type() {
			return v.push(bool01(false))
		}

		for _, val := range aSet.Values() {
			var has bool

			switch e := val.(type) {
			case float64:
				has = bSet.HasDouble(e)
			case int64:
				has = bSet.HasLong(e)
			case string:
				has = bSet.HasString(e)
			}

			if !has {
				return v.push(bool01(false))
			}
		}

		return v.push(bool01(aSet.Size() > 0))
	},

	'm': func(v *vm) error { // string includes
		needle, err := v.pop()
		if err != nil {
			return err
		}
		hay, err := v.pop()
		if err != nil {
			return err
		}
		return v.push(bool01(strings.Contains(hay.text(), needle.text())))
	},

	'n': func(v *vm) error { // current clock in milliseconds
		return v.push(NumberOperand(float64(time.Now().UnixNano() / int64(time.Millisecond))))
	},

	'o': opRecFilter,

	'z': func(v *vm) error { // set union
		b, err := v.pop()
		if err != nil {
			return err
		}
		a, err := v.pop()
		if err != nil {
			return err
		}

		bSet, err := v.resolveSet(b)
		if err != nil {
			return err
		}
		aSet, err := v.resolveSet(a)
		if err != nil {
			return err
		}

		res, err := aSet.Union(bSet)
		if err != nil {
			return newError(ErrType, err.Error())
		}

		return v.push(SetOperand(res))
	},
}

/*
opRecFilter filters the keys of a keyed record field. It pops the
record field name, a two letter selector and comparison operator and
the comparison value. The result is a string set of field.key entries
for the matching record keys. The selector is one of a (all matches),
f (first match) or l (last match).
*/
func opRecFilter(v *vm) error {
	field, err := v.pop()
	if err != nil {
		return err
	}
	selOp, err := v.pop()
	if err != nil {
		return err
	}
	val, err := v.pop()
	if err != nil {
		return err
	}

	so := selOp.text()
	if len(so) != 2 {
		return newError(ErrIllegalOpcode, so)
	}

	sel, cmpOp := so[0], so[1]

	if sel != 'a' && sel != 'f' && sel != 'l' {
		return newError(ErrIllegalOperand, so)
	}

	valStr := val.text()
	if valStr == "" {
		return newError(ErrIllegalOperand, "Empty comparison value")
	}

	if v.ctx.doc == nil {
		return newError(ErrNilPointer, "No document bound")
	}

	res := data.NewSet(data.SetTypeString)

	keys, ok := v.ctx.doc.RecordKeys(field.text())
	if !ok {
		return v.push(SetOperand(res))
	}

	var lastMatch string

	for _, key := range keys {
		var match bool

		r := strings.Compare(key, valStr)

		switch cmpOp {
		case 'F':
			match = r == 0
		case 'G':
			match = r != 0
		case 'H':
			match = r < 0
		case 'I':
			match = r > 0
		case 'J':
			match = r <= 0
		case 'K':
			match = r >= 0
		case 'm':
			match = strings.Contains(key, valStr)
		default:
			return newError(ErrIllegalOpcode, so)
		}

		if match {
			if sel == 'a' || sel == 'f' {
				res.AddString(field.text() + "." + key)

				if sel == 'f' {
					break
				}
			} else {
				lastMatch = key
			}
		}
	}

	if sel == 'l' && lastMatch != "" {
		res.AddString(field.text() + "." + lastMatch)
	}

	return v.push(SetOperand(res))
}
