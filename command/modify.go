/*
 * HierDB
 *
 * Copyright 2020 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package command

import (
	"fmt"
	"strconv"
	"strings"

	"devt.de/krotik/hierdb/hierarchy"
	"devt.de/krotik/hierdb/hierarchy/data"
	"devt.de/krotik/hierdb/hierarchy/util"
)

/*
Modify argument types
*/
const (
	modifyArgString          = '0' // Value is a string
	modifyArgDefaultString   = '2' // Set a string value if unset
	modifyArgLong            = '3' // Value is an integer
	modifyArgDefaultLong     = '8' // Set an integer value if unset
	modifyArgDouble          = 'A' // Value is a double
	modifyArgDefaultDouble   = '9' // Set a double value if unset
	modifyArgIncrement       = '4' // Increment an integer value
	modifyArgIncrementDouble = 'B' // Increment a double value
	modifyArgSet             = '5' // Value is a set
	modifyArgStringArray     = '6' // Value is an array of strings
	modifyArgDelete          = '7' // Delete the field
)

/*
modifyFlags holds the parsed flag characters of a modify command.
*/
type modifyFlags struct {
	noRoot     bool // N - do not place new nodes under the root
	noMerge    bool // M - clear existing fields first
	createOnly bool // C - fail if the node exists
	updateOnly bool // U - fail if the node does not exist
	setCreated bool // c - set createdAt on create
	setUpdated bool // u - set updatedAt on change
}

/*
parseModifyFlags parses the flag characters of a modify command.
*/
func parseModifyFlags(s string) (modifyFlags, error) {
	var f modifyFlags

	for _, c := range s {
		switch c {
		case 'N':
			f.noRoot = true
		case 'M':
			f.noMerge = true
		case 'C':
			f.createOnly = true
		case 'U':
			f.updateOnly = true
		case 'c':
			f.setCreated = true
		case 'u':
			f.setUpdated = true
		default:
			return f, util.NewError(util.ErrInvalidArg,
				fmt.Sprintf("Unknown modify flag: %c", c))
		}
	}

	return f, nil
}

/*
cmdModify applies field modifications to a node. Every triplet of
(type, field, value) arguments is applied in order and produces its
own status in the reply.
*/
func cmdModify(r *Registry, h *hierarchy.Hierarchy, args []string) (interface{}, error) {
	if err := needArgs(args, 2); err != nil {
		return nil, err
	}

	id, err := nodeIdArg(args[0])
	if err != nil {
		return nil, err
	}

	flags, err := parseModifyFlags(args[1])
	if err != nil {
		return nil, err
	}

	triplets := args[2:]
	if len(triplets)%3 != 0 {
		return nil, util.NewError(util.ErrInvalidArg,
			"Modify arguments must be triplets of type, field and value")
	}

	existing, err := h.FindNode(id)
	if err != nil {
		return nil, err
	}

	if existing != nil && flags.createOnly {
		return nil, util.NewError(util.ErrExists, id.String())
	}
	if existing == nil && flags.updateOnly {
		return nil, util.NewError(util.ErrNotFound, id.String())
	}

	created := existing == nil

	if created {
		if err := h.SetHierarchy(id, nil, nil, flags.noRoot); err != nil {
			return nil, err
		}
	}

	n, err := h.FindNode(id)
	if err != nil {
		return nil, err
	}

	if flags.noMerge && !created {

		// No-merge clears all data fields except the identity fields -
		// updatedAt is preserved as well since the clear itself is a
		// mutation-producing write

		n.Object().Clear(func(key string) bool {
			return key == hierarchy.FieldId || key == hierarchy.FieldType ||
				key == hierarchy.FieldCreatedAt || key == hierarchy.FieldAliases ||
				key == hierarchy.FieldUpdatedAt
		})
	}

	h.Precheck(n)

	reply := []interface{}{id.String()}

	var anyChange bool

	for i := 0; i < len(triplets); i += 3 {
		changed, err := applyModifyTriplet(h, n, triplets[i], triplets[i+1], triplets[i+2])

		if err != nil {
			reply = append(reply, util.Code(err))
			continue
		}

		if changed {
			anyChange = true
			h.NotifyFieldChange(n, triplets[i+1])
			reply = append(reply, "UPDATED")
		} else {
			reply = append(reply, "OK")
		}
	}

	if anyChange || created {
		h.Touch(n)

		if !created {
			h.NotifyTrigger(hierarchy.TriggerUpdated, n)
		}
	}

	if created && len(triplets) == 0 {
		reply = append(reply, "UPDATED")
	}

	return reply, nil
}

/*
applyModifyTriplet applies a single modification. Returns true if the
node was changed.
*/
func applyModifyTriplet(h *hierarchy.Hierarchy, n *hierarchy.Node,
	argType string, field string, value string) (bool, error) {

	if len(argType) != 1 {
		return false, util.NewError(util.ErrInvalidArg,
			fmt.Sprintf("Unknown modify argument type: %v", argType))
	}

	obj := n.Object()

	switch argType[0] {

	case modifyArgString, modifyArgDefaultString:
		if argType[0] == modifyArgDefaultString && obj.Exists(field) {
			return false, nil
		}

		if old, err := obj.GetString(field); err == nil && old == value {
			return false, nil
		}

		return true, obj.SetString(field, value)

	case modifyArgLong, modifyArgDefaultLong:
		v, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return false, util.NewError(util.ErrInvalidArg, value)
		}

		if argType[0] == modifyArgDefaultLong && obj.Exists(field) {
			return false, nil
		}

		if old, err := obj.GetLong(field); err == nil && old == v {
			return false, nil
		}

		return true, obj.SetLong(field, v)

	case modifyArgDouble, modifyArgDefaultDouble:
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return false, util.NewError(util.ErrInvalidArg, value)
		}

		if argType[0] == modifyArgDefaultDouble && obj.Exists(field) {
			return false, nil
		}

		if old, err := obj.GetDouble(field); err == nil && old == v {
			return false, nil
		}

		return true, obj.SetDouble(field, v)

	case modifyArgIncrement:
		def, inc, err := parseIncrement(value)
		if err != nil {
			return false, err
		}

		if old, gerr := obj.GetLong(field); gerr == nil {
			return true, obj.SetLong(field, old+int64(inc))
		}

		return true, obj.SetLong(field, int64(def))

	case modifyArgIncrementDouble:
		def, inc, err := parseIncrement(value)
		if err != nil {
			return false, err
		}

		if old, gerr := obj.GetDouble(field); gerr == nil {
			return true, obj.SetDouble(field, old+inc)
		}

		return true, obj.SetDouble(field, def)

	case modifyArgSet:
		return applyModifySet(h, n, field, value)

	case modifyArgStringArray:
		var arr []interface{}

		for _, s := range strings.Split(value, "\x00") {
			if s != "" {
				arr = append(arr, s)
			}
		}

		return true, obj.SetArray(field, arr)

	case modifyArgDelete:

		// A delete removes an edge field of the same name including
		// all of its arcs - otherwise the data object field

		if h.EdgeGetField(n, field) != nil {
			if err := h.EdgeDeleteField(n, field); err != nil {
				return false, err
			}
			return true, nil
		}

		if err := obj.Delete(field); err != nil {
			return false, err
		}
		return true, nil
	}

	return false, util.NewError(util.ErrInvalidArg,
		fmt.Sprintf("Unknown modify argument type: %v", argType))
}

/*
parseIncrement parses the default,increment value of an increment
operation.
*/
func parseIncrement(value string) (float64, float64, error) {
	parts := strings.SplitN(value, ",", 2)
	if len(parts) != 2 {
		return 0, 0, util.NewError(util.ErrInvalidArg, value)
	}

	def, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, 0, util.NewError(util.ErrInvalidArg, value)
	}

	inc, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return 0, 0, util.NewError(util.ErrInvalidArg, value)
	}

	return def, inc, nil
}

/*
applyModifySet applies a set modification. The hierarchy relation
fields mutate the parent/child relations of the node, the aliases
field maintains the alias registry - any other field holds a plain
string set.
*/
func applyModifySet(h *hierarchy.Hierarchy, n *hierarchy.Node,
	field string, value string) (bool, error) {

	switch field {

	case hierarchy.FieldParents:
		ids, err := hierarchy.ParseNodeIdList(value)
		if err != nil {
			return false, err
		}
		return true, h.SetParents(n.ID(), ids)

	case hierarchy.FieldChildren:
		ids, err := hierarchy.ParseNodeIdList(value)
		if err != nil {
			return false, err
		}
		return true, h.SetChildren(n.ID(), ids)

	case hierarchy.FieldAliases:
		var aliases []string

		for _, s := range strings.Split(value, "\x00") {
			if s != "" {
				aliases = append(aliases, s)
			}
		}

		h.SetNodeAliases(n, aliases)

		return true, nil
	}

	set := data.NewSet(data.SetTypeString)

	for _, s := range strings.Split(value, "\x00") {
		if s != "" {
			set.AddString(s)
		}
	}

	return true, n.Object().SetSet(field, set)
}
