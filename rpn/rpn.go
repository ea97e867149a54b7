/*
 * HierDB
 *
 * Copyright 2020 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

/*
Package rpn implements the postfix expression language which is used
to filter traversals and to compute derived values.

Syntax

Expressions are whitespace-separated postfix tokens. Literal strings
are double-quoted, literal numbers are prefixed with # and set
literals are written as { "a", "b" }. Registers of the evaluation
context are read with @i (as number), $i (as string) and &i (as set).
A token starting with .N: defines label N at its position and >N pops
the stack and jumps forward to label N if the popped value is truthy.

Operators are single letters. Uppercase letters are arithmetic, logic
and stack operations, lowercase letters are string, id and set
operations, document field reads, the range check (i) and the clock (n).

Compilation

Compile() translates the text form into a flat token stream plus a
register file of literal operands. The literal register file is
immutable after compilation and shared between evaluations.

Evaluation

An Expression is evaluated against a Ctx which holds the user
registers and the document binding. The caller selects the result
coercion by using EvalBool, EvalNumber, EvalInteger, EvalString or
EvalSet.
*/
package rpn

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"devt.de/krotik/hierdb/hierarchy/data"
)

/*
Error is an expression related error
*/
type Error struct {
	Type   error  // Error type (to be used for equal checks)
	Detail string // Details of this error
}

/*
Error returns a human-readable string representation of this error.
*/
func (re *Error) Error() string {
	if re.Detail != "" {
		return fmt.Sprintf("RPNError: %v (%v)", re.Type, re.Detail)
	}

	return fmt.Sprintf("RPNError: %v", re.Type)
}

/*
Expression related error types
*/
var (
	ErrCompile        = errors.New("Expression did not compile")
	ErrIllegalOpcode  = errors.New("Illegal opcode")
	ErrIllegalOperand = errors.New("Illegal operand")
	ErrNotANumber     = errors.New("Operand is not a number")
	ErrBadStack       = errors.New("Unbalanced stack")
	ErrBounds         = errors.New("Out of bounds")
	ErrNilPointer     = errors.New("Missing binding")
	ErrType           = errors.New("Type mismatch")
	ErrDivZero        = errors.New("Division by zero")
)

/*
errBreak unwinds a modal short-circuit to the top of the evaluation.
It is internal and never surfaced to the caller.
*/
var errBreak = errors.New("break")

/*
newError creates a new expression error.
*/
func newError(errType error, detail string) *Error {
	return &Error{Type: errType, Detail: detail}
}

/*
MaxLabels is the highest usable jump label number.
*/
const MaxLabels = 16

/*
maxStack bounds the evaluation stack.
*/
const maxStack = 256

/*
tokenKind discriminates compiled tokens.
*/
type tokenKind int

const (
	tkOp tokenKind = iota
	tkLiteral
	tkRegNum
	tkRegStr
	tkRegSet
	tkJump
)

/*
token is a single compiled instruction.
*/
type token struct {
	kind tokenKind
	op   byte // Opcode letter for tkOp
	arg  int  // Literal index, register index or jump target
}

/*
Expression is a compiled expression: a flat token stream plus the
literal operand register file.
*/
type Expression struct {
	source   string
	tokens   []token
	literals []*Operand
}

/*
Source returns the text form this expression was compiled from.
*/
func (e *Expression) Source() string {
	return e.source
}

/*
Compile compiles the text form of an expression.
*/
func Compile(source string) (*Expression, error) {
	expr := &Expression{source: source}

	rawTokens, err := scan(source)
	if err != nil {
		return nil, err
	}

	labelPos := make(map[int]int)
	jumps := make([]int, 0)

	for _, raw := range rawTokens {

		// A token may carry a label definition prefix

		if strings.HasPrefix(raw, ".") {
			c := strings.IndexByte(raw, ':')

			if c == -1 {
				return nil, newError(ErrCompile,
					fmt.Sprintf("Malformed label: %v", raw))
			}

			label, err := strconv.Atoi(raw[1:c])
			if err != nil || label < 1 || label > MaxLabels {
				return nil, newError(ErrCompile,
					fmt.Sprintf("Invalid label number: %v", raw))
			}

			if _, ok := labelPos[label]; ok {
				return nil, newError(ErrCompile,
					fmt.Sprintf("Duplicate label: %v", label))
			}

			labelPos[label] = len(expr.tokens)

			if raw = raw[c+1:]; raw == "" {
				continue
			}
		}

		if err := expr.compileToken(raw, &jumps); err != nil {
			return nil, err
		}
	}

	// Resolve jump targets - jumps must go forward to a known label

	for _, ji := range jumps {
		label := expr.tokens[ji].arg

		pos, ok := labelPos[label]
		if !ok {
			return nil, newError(ErrCompile,
				fmt.Sprintf("Jump to unknown label: %v", label))
		}

		if pos <= ji {
			return nil, newError(ErrCompile,
				fmt.Sprintf("Backward jump to label: %v", label))
		}

		expr.tokens[ji].arg = pos
	}

	return expr, nil
}

/*
scan splits the text form into raw tokens. Set literals spanning
multiple whitespace-separated fields are joined into a single token.
*/
func scan(source string) ([]string, error) {
	var ret []string

	fields := strings.Fields(source)

	for i := 0; i < len(fields); i++ {
		f := fields[i]

		if f == "{" || strings.HasPrefix(f, "{") {

			// Collect the whole set literal

			var lit []string

			for ; i < len(fields); i++ {
				lit = append(lit, fields[i])
				if strings.HasSuffix(fields[i], "}") {
					break
				}
			}

			if i == len(fields) && !strings.HasSuffix(lit[len(lit)-1], "}") {
				return nil, newError(ErrCompile, "Unterminated set literal")
			}

			ret = append(ret, strings.Join(lit, " "))
			continue
		}

		ret = append(ret, f)
	}

	return ret, nil
}

/*
compileToken compiles a single raw token.
*/
func (e *Expression) compileToken(raw string, jumps *[]int) error {

	switch raw[0] {

	case '#': // Number literal
		v, err := strconv.ParseFloat(raw[1:], 64)
		if err != nil {
			return newError(ErrNotANumber, raw)
		}
		e.addLiteral(NumberOperand(v))

	case '"': // String literal
		if len(raw) < 2 || !strings.HasSuffix(raw, "\"") {
			return newError(ErrIllegalOperand, raw)
		}
		e.addLiteral(StringOperand(raw[1 : len(raw)-1]))

	case '{': // Set literal
		set, err := parseSetLiteral(raw)
		if err != nil {
			return err
		}
		e.addLiteral(SetOperand(set))

	case '@': // Register read as number
		return e.addRegister(tkRegNum, raw)

	case '$': // Register read as string
		return e.addRegister(tkRegStr, raw)

	case '&': // Register read as set
		return e.addRegister(tkRegSet, raw)

	case '>': // Conditional forward jump
		label, err := strconv.Atoi(raw[1:])
		if err != nil || label < 1 || label > MaxLabels {
			return newError(ErrCompile, fmt.Sprintf("Invalid jump: %v", raw))
		}
		*jumps = append(*jumps, len(e.tokens))
		e.tokens = append(e.tokens, token{kind: tkJump, arg: label})

	default:
		if len(raw) != 1 || opFuncs[raw[0]] == nil {
			return newError(ErrIllegalOpcode, raw)
		}
		e.tokens = append(e.tokens, token{kind: tkOp, op: raw[0]})
	}

	return nil
}

/*
addLiteral appends a literal operand and its read instruction.
*/
func (e *Expression) addLiteral(op *Operand) {
	e.tokens = append(e.tokens, token{kind: tkLiteral, arg: len(e.literals)})
	e.literals = append(e.literals, op)
}

/*
addRegister appends a register read instruction.
*/
func (e *Expression) addRegister(kind tokenKind, raw string) error {
	i, err := strconv.Atoi(raw[1:])
	if err != nil || i < 0 {
		return newError(ErrIllegalOperand, raw)
	}

	e.tokens = append(e.tokens, token{kind: kind, arg: i})

	return nil
}

/*
parseSetLiteral parses a set literal token. The element type of the
set follows the first element - an empty literal produces an empty
string set.
*/
func parseSetLiteral(raw string) (*data.Set, error) {
	inner := strings.TrimSpace(raw[1 : len(raw)-1])

	if inner == "" {
		return data.NewSet(data.SetTypeString), nil
	}

	var set *data.Set

	for _, item := range strings.Split(inner, ",") {
		item = strings.TrimSpace(item)

		if strings.HasPrefix(item, "\"") {
			if set == nil {
				set = data.NewSet(data.SetTypeString)
			} else if set.Type() != data.SetTypeString {
				return nil, newError(ErrIllegalOperand, raw)
			}

			if len(item) < 2 || !strings.HasSuffix(item, "\"") {
				return nil, newError(ErrIllegalOperand, raw)
			}

			set.AddString(item[1 : len(item)-1])

		} else {
			v, err := strconv.ParseFloat(strings.TrimPrefix(item, "#"), 64)
			if err != nil {
				return nil, newError(ErrNotANumber, raw)
			}

			if set == nil {
				set = data.NewSet(data.SetTypeDouble)
			} else if set.Type() != data.SetTypeDouble {
				return nil, newError(ErrIllegalOperand, raw)
			}

			set.AddDouble(v)
		}
	}

	return set, nil
}
