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
	"math"
	"testing"

	"devt.de/krotik/hierdb/hierarchy/data"
)

/*
evalNumber is a helper which compiles and evaluates an expression as
a number.
*/
func evalNumber(t *testing.T, src string, ctx *Ctx) float64 {
	expr, err := Compile(src)
	if err != nil {
		t.Error("Compile failed:", src, err)
		return math.NaN()
	}

	if ctx == nil {
		ctx = NewCtx(1)
	}

	res, err := expr.EvalNumber(ctx)
	if err != nil {
		t.Error("Eval failed:", src, err)
		return math.NaN()
	}

	return res
}

func TestArithmetic(t *testing.T) {
	if res := evalNumber(t, "#1 #2 A", nil); res != 3 {
		t.Error("Unexpected result:", res)
	}
	if res := evalNumber(t, "#5 #2 B", nil); res != 3 {
		t.Error("Unexpected result:", res)
	}
	if res := evalNumber(t, "#6 #2 C", nil); res != 3 {
		t.Error("Unexpected result:", res)
	}
	if res := evalNumber(t, "#3 #4 D", nil); res != 12 {
		t.Error("Unexpected result:", res)
	}

	// E is a positive modulo

	if res := evalNumber(t, "#-5 #3 E", nil); res != 1 {
		t.Error("Unexpected result:", res)
	}

	expr, _ := Compile("#1 #0 C")
	if _, err := expr.EvalNumber(NewCtx(1)); err == nil {
		t.Error("Division by zero should fail")
	}
}

func TestComparisonAndLogic(t *testing.T) {
	if res := evalNumber(t, "#1 #1 F", nil); res != 1 {
		t.Error("Unexpected result:", res)
	}
	if res := evalNumber(t, "#1 #2 G", nil); res != 1 {
		t.Error("Unexpected result:", res)
	}
	if res := evalNumber(t, "#1 #2 H", nil); res != 1 {
		t.Error("Unexpected result:", res)
	}
	if res := evalNumber(t, "#1 #2 I", nil); res != 0 {
		t.Error("Unexpected result:", res)
	}
	if res := evalNumber(t, "#2 #2 J", nil); res != 1 {
		t.Error("Unexpected result:", res)
	}
	if res := evalNumber(t, "#2 #2 K", nil); res != 1 {
		t.Error("Unexpected result:", res)
	}
	if res := evalNumber(t, "#0 L", nil); res != 1 {
		t.Error("Unexpected result:", res)
	}
	if res := evalNumber(t, "#1 #0 M", nil); res != 0 {
		t.Error("Unexpected result:", res)
	}
	if res := evalNumber(t, "#1 #0 N", nil); res != 1 {
		t.Error("Unexpected result:", res)
	}
	if res := evalNumber(t, "#1 #1 O", nil); res != 0 {
		t.Error("Unexpected result:", res)
	}

	// Range: a <= b <= c

	if res := evalNumber(t, "#1 #2 #3 i", nil); res != 1 {
		t.Error("Unexpected result:", res)
	}
	if res := evalNumber(t, "#1 #5 #3 i", nil); res != 0 {
		t.Error("Unexpected result:", res)
	}
}

func TestStackOperations(t *testing.T) {
	if res := evalNumber(t, "#2 R A", nil); res != 4 {
		t.Error("Unexpected result:", res)
	}
	if res := evalNumber(t, "#6 #2 S C", nil); res != 1.0/3 {
		t.Error("Unexpected result:", res)
	}

	// Ternary: c b a -> a ? b : c

	if res := evalNumber(t, "#3 #2 #1 T", nil); res != 2 {
		t.Error("Unexpected result:", res)
	}
	if res := evalNumber(t, "#3 #2 #0 T", nil); res != 3 {
		t.Error("Unexpected result:", res)
	}

	if res := evalNumber(t, "#1 #2 U", nil); res != 1 {
		t.Error("Unexpected result:", res)
	}
	if res := evalNumber(t, "#1 #2 V A A", nil); res != 4 {
		t.Error("Unexpected result:", res)
	}

	// Rot keeps the top element fixed and swaps the two items
	// beneath it: 1 2 3 becomes 2 1 3

	if res := evalNumber(t, "#1 #2 #3 W B B", nil); res != 4 {
		t.Error("Unexpected result:", res)
	}
	if res := evalNumber(t, "#1 #2 #3 W U U", nil); res != 2 {
		t.Error("Unexpected result:", res)
	}

	// Z returns the current top of the stack

	if res := evalNumber(t, "#7 Z #9", nil); res != 7 {
		t.Error("Unexpected result:", res)
	}
}

/*
TestModalShortCircuit covers the necessarily/possibly operators: the
expression @1 P @2 N computes necessarily(r1) or r2.
*/
func TestModalShortCircuit(t *testing.T) {
	ctx := NewCtx(3)
	ctx.SetRegString(1, "0")
	ctx.SetRegString(2, "1")

	if res := evalNumber(t, "@1 P @2 N", ctx); res != 0 {
		t.Error("Unexpected result:", res)
		return
	}

	ctx.SetRegString(1, "1")
	ctx.SetRegString(2, "0")

	if res := evalNumber(t, "@1 P @2 N", ctx); res != 1 {
		t.Error("Unexpected result:", res)
		return
	}

	// Q short-circuits on a truthy operand

	if res := evalNumber(t, "#1 Q #0 M", nil); res != 1 {
		t.Error("Unexpected result:", res)
		return
	}
}

func TestJumpsAndLabels(t *testing.T) {

	// A truthy condition jumps forward past the label

	if res := evalNumber(t, "#1 >1 #10 Z .1:#20", nil); res != 20 {
		t.Error("Unexpected result:", res)
		return
	}

	if res := evalNumber(t, "#0 >1 #10 Z .1:#20", nil); res != 10 {
		t.Error("Unexpected result:", res)
		return
	}

	// Backward jumps and unknown labels are compile errors

	if _, err := Compile(".1:#1 #1 >1"); err == nil {
		t.Error("Backward jump should not compile")
		return
	}

	if _, err := Compile("#1 >5"); err == nil {
		t.Error("Jump to an unknown label should not compile")
		return
	}
}

func TestStringsAndSets(t *testing.T) {
	expr, err := Compile(`"abc" "abc" c`)
	if err != nil {
		t.Error(err)
		return
	}

	if res, _ := expr.EvalBool(NewCtx(1)); !res {
		t.Error("Strings should compare equal")
		return
	}

	// Ids compare in their padded fixed-width form

	expr, _ = Compile(`"ab" "ab" d`)
	if res, _ := expr.EvalBool(NewCtx(1)); !res {
		t.Error("Ids should compare equal")
		return
	}

	// Set literal membership

	expr, _ = Compile(`"b" { "a", "b" } a`)
	if res, _ := expr.EvalBool(NewCtx(1)); !res {
		t.Error("Element should be found in set literal")
		return
	}

	expr, _ = Compile(`"x" { "a", "b" } a`)
	if res, _ := expr.EvalBool(NewCtx(1)); res {
		t.Error("Element should not be found in set literal")
		return
	}

	// Empty set literal is falsy

	expr, _ = Compile(`{}`)
	if res, _ := expr.EvalBool(NewCtx(1)); res {
		t.Error("Empty set should be falsy")
		return
	}

	// Union of set registers

	set1 := data.NewSet(data.SetTypeString)
	set1.AddString("a")

	set2 := data.NewSet(data.SetTypeString)
	set2.AddString("b")

	ctx := NewCtx(3)
	ctx.SetRegSet(1, set1)
	ctx.SetRegSet(2, set2)

	expr, _ = Compile("&1 &2 z")

	res, err := expr.EvalSet(ctx)
	if err != nil || res.Size() != 2 {
		t.Error("Unexpected union result:", res, err)
		return
	}

	// String includes

	expr, _ = Compile(`"haystack" "ays" m`)
	if res, _ := expr.EvalBool(NewCtx(1)); !res {
		t.Error("Substring should be found")
		return
	}

	// typeof returns the node type prefix of an id

	expr, _ = Compile(`"ma000001" b "ma" c`)
	if res, _ := expr.EvalBool(NewCtx(1)); !res {
		t.Error("Type prefix should match")
		return
	}
}

func TestDocumentOperations(t *testing.T) {
	obj := data.NewObject()
	obj.SetString("title", "hello")
	obj.SetDouble("value", 4)

	set := data.NewSet(data.SetTypeString)
	set.AddString("n1")
	set.AddString("n2")
	obj.SetSet("refs", set)

	ctx := NewCtx(1)
	ctx.Bind(NewObjectDoc(obj), "ab000001")

	expr, _ := Compile(`"title" f "hello" c`)
	if res, _ := expr.EvalBool(ctx); !res {
		t.Error("Field read should match")
		return
	}

	expr, _ = Compile(`"value" g #4 F`)
	if res, _ := expr.EvalBool(ctx); !res {
		t.Error("Numeric field read should match")
		return
	}

	// A missing numeric field reads as NaN

	expr, _ = Compile(`"missing" g`)
	if res, _ := expr.EvalNumber(ctx); !math.IsNaN(res) {
		t.Error("Missing field should read as NaN:", res)
		return
	}

	expr, _ = Compile(`"title" h`)
	if res, _ := expr.EvalBool(ctx); !res {
		t.Error("Field should exist")
		return
	}

	// Membership in a set field by name

	expr, _ = Compile(`"n1" "refs" a`)
	if res, _ := expr.EvalBool(ctx); !res {
		t.Error("Element should be found in set field")
		return
	}

	// Field name lists are newline separated and usually passed in
	// through registers

	lctx := NewCtx(3)
	lctx.Bind(NewObjectDoc(obj), "ab000001")
	lctx.SetRegString(1, "nope\ntitle")
	lctx.SetRegString(2, "title\nmissing")

	// First non-empty field of a list

	expr, _ = Compile(`$1 j "title" c`)
	if res, _ := expr.EvalBool(lctx); !res {
		t.Error("First non-empty field should be title")
		return
	}

	// All fields non-empty

	expr, _ = Compile(`$1 k`)
	if res, _ := expr.EvalBool(lctx); res {
		t.Error("A missing field should fail the all check")
		return
	}

	expr, _ = Compile(`$2 k`)
	if res, _ := expr.EvalBool(lctx); res {
		t.Error("Missing field should fail the all check")
		return
	}

	// Bound node type check

	expr, _ = Compile(`"ab999999" e`)
	if res, _ := expr.EvalBool(ctx); !res {
		t.Error("Bound node type should match")
		return
	}
}

func TestCompileErrors(t *testing.T) {
	if _, err := Compile("#notanumber"); err == nil {
		t.Error("Bad number literal should not compile")
	}
	if _, err := Compile("?"); err == nil {
		t.Error("Unknown opcode should not compile")
	}
	if _, err := Compile(`"unterminated`); err == nil {
		t.Error("Unterminated string should not compile")
	}
	if _, err := Compile(`{ "a", #x }`); err == nil {
		t.Error("Bad set literal should not compile")
	}

	// Runtime: leftover operands are allowed and the top of the stack is
	// the result - a stack underflow surfaces an error

	expr, _ := Compile("#1 #2")
	if _, err := expr.EvalNumber(NewCtx(1)); err != nil {
		t.Error("Top of stack should be the result:", err)
	}

	expr, _ = Compile("A")
	if _, err := expr.EvalNumber(NewCtx(1)); err == nil {
		t.Error("Stack underflow should surface an error")
	}
}

/*
TestDeterminism checks that evaluation is a pure function of its
inputs.
*/
func TestDeterminism(t *testing.T) {
	ctx := NewCtx(2)
	ctx.SetRegNumber(1, 21)

	expr, _ := Compile("@1 #2 D")

	first, err := expr.EvalNumber(ctx)
	if err != nil || first != 42 {
		t.Error("Unexpected result:", first, err)
		return
	}

	for i := 0; i < 10; i++ {
		if res, _ := expr.EvalNumber(ctx); res != first {
			t.Error("Evaluation should be deterministic:", res)
			return
		}
	}
}
