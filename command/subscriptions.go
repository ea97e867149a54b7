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
	"devt.de/krotik/hierdb/hierarchy/util"
	"devt.de/krotik/hierdb/rpn"
)

/*
parseMarkerArgs parses the trailing optional arguments of a
subscription command: an optional field list introduced by the token
fields and an optional filter expression with its register arguments.
*/
func parseMarkerArgs(r *Registry, args []string) (*hierarchy.MarkerOptions, bool, error) {
	opts := &hierarchy.MarkerOptions{}
	hasFields := false

	for len(args) > 0 {

		if args[0] == "fields" {
			if len(args) < 2 {
				return nil, false, util.NewError(util.ErrInvalidArg, "Missing field names")
			}

			for _, f := range strings.Split(strings.TrimRight(args[1], "\x00"), "\n") {
				if f != "" {
					opts.Fields = append(opts.Fields, f)
				}
			}

			hasFields = true
			args = args[2:]
			continue
		}

		// Remaining arguments are the filter expression plus its
		// register values - register 0 holds the current node id

		expr, err := r.compile(args[0])
		if err != nil {
			return nil, false, err
		}

		opts.Filter = expr
		opts.FilterCtx = rpn.NewCtx(len(args))

		for i, arg := range args[1:] {
			opts.FilterCtx.SetRegString(i+1, arg)
		}

		break
	}

	return opts, hasFields, nil
}

func cmdSubscriptionsAdd(r *Registry, h *hierarchy.Hierarchy, args []string) (interface{}, error) {
	if err := needArgs(args, 4); err != nil {
		return nil, err
	}

	subId, err := hierarchy.ParseSubscriptionId(args[0])
	if err != nil {
		return nil, err
	}

	markerId, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return nil, util.NewError(util.ErrInvalidArg, args[1])
	}

	dir, err := hierarchy.ParseTraversalDir(args[2])
	if err != nil {
		return nil, err
	}

	nodeId, err := nodeIdArg(args[3])
	if err != nil {
		return nil, err
	}

	opts, hasFields, err := parseMarkerArgs(r, args[4:])
	if err != nil {
		return nil, err
	}

	flags := hierarchy.MarkerFlagChHierarchy
	if hasFields {
		flags |= hierarchy.MarkerFlagChField
	}

	s := h.CreateSubscription(subId)

	if _, err := s.AddMarker(hierarchy.MarkerId(markerId), flags, dir, nodeId, opts); err != nil {
		return nil, err
	}

	return 1, nil
}

func cmdSubscriptionsAddAlias(r *Registry, h *hierarchy.Hierarchy, args []string) (interface{}, error) {
	if err := needArgs(args, 3); err != nil {
		return nil, err
	}

	subId, err := hierarchy.ParseSubscriptionId(args[0])
	if err != nil {
		return nil, err
	}

	markerId, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return nil, util.NewError(util.ErrInvalidArg, args[1])
	}

	alias := args[2]

	nodeId, ok := h.ResolveAlias(alias)
	if !ok {

		// The alias does not exist yet - register a missing accessor

		s := h.CreateSubscription(subId)
		h.AddMissingAccessor(alias, s)

		return 1, nil
	}

	s := h.CreateSubscription(subId)

	_, err = s.AddMarker(hierarchy.MarkerId(markerId),
		hierarchy.MarkerFlagChAlias, hierarchy.TraversalNode, nodeId, nil)
	if err != nil {
		return nil, err
	}

	return 1, nil
}

func cmdSubscriptionsAddTrigger(r *Registry, h *hierarchy.Hierarchy, args []string) (interface{}, error) {
	if err := needArgs(args, 3); err != nil {
		return nil, err
	}

	subId, err := hierarchy.ParseSubscriptionId(args[0])
	if err != nil {
		return nil, err
	}

	markerId, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return nil, util.NewError(util.ErrInvalidArg, args[1])
	}

	eventType, err := hierarchy.ParseTriggerType(args[2])
	if err != nil {
		return nil, err
	}

	opts, _, err := parseMarkerArgs(r, args[3:])
	if err != nil {
		return nil, err
	}

	opts.EventType = eventType

	s := h.CreateSubscription(subId)

	_, err = s.AddMarker(hierarchy.MarkerId(markerId),
		hierarchy.MarkerFlagTrigger, hierarchy.TraversalNone, hierarchy.EmptyNodeId, opts)
	if err != nil {
		return nil, err
	}

	return 1, nil
}

func cmdSubscriptionsAddMissing(r *Registry, h *hierarchy.Hierarchy, args []string) (interface{}, error) {
	if err := needArgs(args, 2); err != nil {
		return nil, err
	}

	subId, err := hierarchy.ParseSubscriptionId(args[0])
	if err != nil {
		return nil, err
	}

	s := h.CreateSubscription(subId)

	for _, accessor := range args[1:] {
		h.AddMissingAccessor(strings.TrimRight(accessor, "\x00"), s)
	}

	return 1, nil
}

func cmdSubscriptionsAddMarkerFields(r *Registry, h *hierarchy.Hierarchy, args []string) (interface{}, error) {
	if err := needArgs(args, 3); err != nil {
		return nil, err
	}

	subId, err := hierarchy.ParseSubscriptionId(args[0])
	if err != nil {
		return nil, err
	}

	markerId, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return nil, util.NewError(util.ErrInvalidArg, args[1])
	}

	s, ok := h.GetSubscription(subId)
	if !ok {
		return nil, util.NewError(util.ErrNotFound, args[0])
	}

	var fields []string

	for _, f := range strings.Split(strings.TrimRight(args[2], "\x00"), "\n") {
		if f != "" {
			fields = append(fields, f)
		}
	}

	if err := s.AddMarkerFields(hierarchy.MarkerId(markerId), fields); err != nil {
		return nil, err
	}

	return 1, nil
}

func cmdSubscriptionsRefresh(r *Registry, h *hierarchy.Hierarchy, args []string) (interface{}, error) {
	if err := needArgs(args, 1); err != nil {
		return nil, err
	}

	subId, err := hierarchy.ParseSubscriptionId(args[0])
	if err != nil {
		return nil, err
	}

	s, ok := h.GetSubscription(subId)
	if !ok {
		return nil, util.NewError(util.ErrNotFound, args[0])
	}

	if err := h.RefreshSubscription(s); err != nil {
		return nil, err
	}

	return 1, nil
}

func cmdSubscriptionsList(r *Registry, h *hierarchy.Hierarchy, args []string) (interface{}, error) {
	var ret []string

	for _, s := range h.Subscriptions() {
		ret = append(ret, s.ID().String())
	}

	return ret, nil
}

func cmdSubscriptionsDebug(r *Registry, h *hierarchy.Hierarchy, args []string) (interface{}, error) {
	if err := needArgs(args, 1); err != nil {
		return nil, err
	}

	subId, err := hierarchy.ParseSubscriptionId(args[0])
	if err != nil {
		return nil, err
	}

	s, ok := h.GetSubscription(subId)
	if !ok {
		return nil, util.NewError(util.ErrNotFound, args[0])
	}

	return s.DebugString(), nil
}

func cmdSubscriptionsDel(r *Registry, h *hierarchy.Hierarchy, args []string) (interface{}, error) {
	if err := needArgs(args, 1); err != nil {
		return nil, err
	}

	subId, err := hierarchy.ParseSubscriptionId(args[0])
	if err != nil {
		return nil, err
	}

	if h.RemoveSubscription(subId) {
		return 1, nil
	}

	return 0, nil
}

func cmdFind(r *Registry, h *hierarchy.Hierarchy, args []string) (interface{}, error) {
	if err := needArgs(args, 2); err != nil {
		return nil, err
	}

	dir, err := hierarchy.ParseTraversalDir(args[0])
	if err != nil {
		return nil, err
	}

	nodeId, err := nodeIdArg(args[1])
	if err != nil {
		return nil, err
	}

	args = args[2:]

	opts := &hierarchy.TraversalOptions{}

	// Field based traversals take the field or expression argument next

	switch dir {
	case hierarchy.TraversalRef, hierarchy.TraversalEdgeField,
		hierarchy.TraversalBFSEdgeField, hierarchy.TraversalArray, hierarchy.TraversalSet:

		if err := needArgs(args, 1); err != nil {
			return nil, err
		}

		opts.Field = args[0]
		args = args[1:]

	case hierarchy.TraversalBFSExpression, hierarchy.TraversalExpression:
		if err := needArgs(args, 1); err != nil {
			return nil, err
		}

		if opts.Expr, err = r.compile(args[0]); err != nil {
			return nil, err
		}

		args = args[1:]
	}

	var filter *rpn.Expression
	var fields []string

	ctx := rpn.NewCtx(len(args) + 1)
	opts.VMCtx = ctx

	for len(args) > 0 {

		if args[0] == "fields" {
			if len(args) < 2 {
				return nil, util.NewError(util.ErrInvalidArg, "Missing field names")
			}

			for _, f := range strings.Split(strings.TrimRight(args[1], "\x00"), "\n") {
				if f != "" {
					fields = append(fields, f)
				}
			}

			args = args[2:]
			continue
		}

		if filter, err = r.compile(args[0]); err != nil {
			return nil, err
		}

		for i, arg := range args[1:] {
			ctx.SetRegString(i+1, arg)
		}

		break
	}

	start, err := h.FindNode(nodeId)
	if err != nil {
		return nil, err
	}
	if start == nil {
		return nil, util.NewError(util.ErrNotFound, nodeId.String())
	}

	var ret []interface{}
	var terr error

	err = h.Traverse(start, dir, opts, func(n *hierarchy.Node) hierarchy.VisitControl {

		if filter != nil {
			ctx.Bind(h.NewNodeDoc(n), n.ID().String())
			ctx.SetRegString(0, n.ID().String())

			res, err := filter.EvalBool(ctx)
			if err != nil {
				terr = err
				return hierarchy.VisitStop
			}

			if !res {
				return hierarchy.VisitContinue
			}
		}

		if len(fields) == 0 {
			ret = append(ret, n.ID().String())
			return hierarchy.VisitContinue
		}

		vals := make(map[string]interface{})

		for _, f := range fields {
			if v, err := n.Object().GetAny(f); err == nil {
				vals[f] = v
			}
		}

		ret = append(ret, []interface{}{n.ID().String(), vals})

		return hierarchy.VisitContinue
	})

	if err == nil {
		err = terr
	}
	if err != nil {
		return nil, err
	}

	return ret, nil
}

func cmdResolveNodeId(r *Registry, h *hierarchy.Hierarchy, args []string) (interface{}, error) {
	if err := needArgs(args, 1); err != nil {
		return nil, err
	}

	for _, candidate := range args {
		candidate = strings.TrimRight(candidate, "\x00")

		if id, ok := h.ResolveAlias(candidate); ok {
			return id.String(), nil
		}

		id, err := hierarchy.NewNodeId(candidate)
		if err != nil {
			continue
		}

		if n, err := h.FindNode(id); err == nil && n != nil {
			return id.String(), nil
		}
	}

	return nil, util.NewError(util.ErrNotFound,
		fmt.Sprintf("No candidate could be resolved: %v", strings.Join(args, ", ")))
}
