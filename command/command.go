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
Package command contains the host command dispatch of the hierarchy
store.

Commands operate on named hierarchies held in a Registry. Every
command takes the hierarchy key name as its first argument followed
by the command specific arguments. Replies are plain Go values which
the host transport renders. Deferred subscription events are
dispatched once at the end of every command.
*/
package command

import (
	"fmt"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"devt.de/krotik/hierdb/hierarchy"
	"devt.de/krotik/hierdb/hierarchy/data"
	"devt.de/krotik/hierdb/hierarchy/util"
	"devt.de/krotik/hierdb/rpn"
)

/*
exprCacheSize is the number of compiled expressions kept in the
cache.
*/
const exprCacheSize = 256

/*
Registry holds the named hierarchies of a process and the compiled
expression cache.
*/
type Registry struct {
	hierarchies map[string]*hierarchy.Hierarchy
	exprCache   *lru.Cache[string, *rpn.Expression]
}

/*
NewRegistry creates a new hierarchy registry.
*/
func NewRegistry() *Registry {
	cache, _ := lru.New[string, *rpn.Expression](exprCacheSize)

	return &Registry{
		hierarchies: make(map[string]*hierarchy.Hierarchy),
		exprCache:   cache,
	}
}

/*
Get returns a named hierarchy creating it if necessary.
*/
func (r *Registry) Get(name string) *hierarchy.Hierarchy {
	h, ok := r.hierarchies[name]

	if !ok {
		h = hierarchy.NewHierarchy(name)
		r.hierarchies[name] = h
	}

	return h
}

/*
Names returns the names of all hierarchies in this registry.
*/
func (r *Registry) Names() []string {
	ret := make([]string, 0, len(r.hierarchies))
	for name := range r.hierarchies {
		ret = append(ret, name)
	}
	return ret
}

/*
compile compiles an expression through the cache. Compilation errors
are wrapped into the external compile error.
*/
func (r *Registry) compile(src string) (*rpn.Expression, error) {
	if expr, ok := r.exprCache.Get(src); ok {
		return expr, nil
	}

	expr, err := rpn.Compile(src)
	if err != nil {
		return nil, util.NewError(util.ErrCompile, err.Error())
	}

	r.exprCache.Add(src, expr)

	return expr, nil
}

/*
CommandFunc executes a single command against a hierarchy.
*/
type CommandFunc func(r *Registry, h *hierarchy.Hierarchy, args []string) (interface{}, error)

/*
commands is the dispatch table.
*/
var commands = map[string]CommandFunc{
	"hierarchy.del":                 cmdHierarchyDel,
	"hierarchy.heads":               cmdHierarchyHeads,
	"hierarchy.parents":             cmdHierarchyParents,
	"hierarchy.children":            cmdHierarchyChildren,
	"hierarchy.edgelist":            cmdHierarchyEdgeList,
	"hierarchy.edgeget":             cmdHierarchyEdgeGet,
	"hierarchy.edgegetmetadata":     cmdHierarchyEdgeGetMetadata,
	"hierarchy.compress":            cmdHierarchyCompress,
	"hierarchy.listcompressed":      cmdHierarchyListCompressed,
	"hierarchy.types.add":           cmdHierarchyTypesAdd,
	"hierarchy.types.clear":         cmdHierarchyTypesClear,
	"hierarchy.types.list":          cmdHierarchyTypesList,
	"edge.addconstraint":            cmdEdgeAddConstraint,
	"edge.add":                      cmdEdgeAdd,
	"edge.del":                      cmdEdgeDel,
	"subscriptions.add":             cmdSubscriptionsAdd,
	"subscriptions.addAlias":        cmdSubscriptionsAddAlias,
	"subscriptions.addTrigger":      cmdSubscriptionsAddTrigger,
	"subscriptions.addMissing":      cmdSubscriptionsAddMissing,
	"subscriptions.addMarkerFields": cmdSubscriptionsAddMarkerFields,
	"subscriptions.refresh":         cmdSubscriptionsRefresh,
	"subscriptions.list":            cmdSubscriptionsList,
	"subscriptions.debug":           cmdSubscriptionsDebug,
	"subscriptions.del":             cmdSubscriptionsDel,
	"modify":                        cmdModify,
	"resolve.nodeid":                cmdResolveNodeId,
	"find":                          cmdFind,
}

/*
Dispatch executes a command against a named hierarchy. The first
argument is always the hierarchy key name. Deferred subscription
events are dispatched before the reply is returned.
*/
func (r *Registry) Dispatch(name string, args ...string) (interface{}, error) {
	cmd, ok := commands[name]
	if !ok {
		return nil, util.NewError(util.ErrInvalidArg,
			fmt.Sprintf("Unknown command: %v", name))
	}

	if len(args) < 1 {
		return nil, util.NewError(util.ErrInvalidArg, "Missing hierarchy key")
	}

	h := r.Get(args[0])

	res, err := cmd(r, h, args[1:])

	h.SendDeferredEvents()

	return res, err
}

/*
needArgs checks the argument count of a command.
*/
func needArgs(args []string, min int) error {
	if len(args) < min {
		return util.NewError(util.ErrInvalidArg, "Not enough arguments")
	}
	return nil
}

/*
nodeIdArg parses a node id argument.
*/
func nodeIdArg(s string) (hierarchy.NodeId, error) {
	return hierarchy.NewNodeId(strings.TrimRight(s, "\x00"))
}

// Hierarchy commands
// ==================

func cmdHierarchyDel(r *Registry, h *hierarchy.Hierarchy, args []string) (interface{}, error) {
	if err := needArgs(args, 2); err != nil {
		return nil, err
	}

	var flags int

	for _, c := range args[0] {
		switch c {
		case 'F':
			flags |= hierarchy.DelFlagForce
		case 'I':
			flags |= hierarchy.DelFlagReplyIds
		default:
			return nil, util.NewError(util.ErrInvalidArg,
				fmt.Sprintf("Unknown delete flag: %c", c))
		}
	}

	var count int
	var allIds []string

	for _, arg := range args[1:] {
		id, err := nodeIdArg(arg)
		if err != nil {
			return nil, err
		}

		c, ids, err := h.DelNode(id, flags)
		if err != nil {
			if util.IsError(err, util.ErrNotFound) {
				continue
			}
			return nil, err
		}

		count += c

		for _, did := range ids {
			allIds = append(allIds, did.String())
		}
	}

	if flags&hierarchy.DelFlagReplyIds != 0 {
		return allIds, nil
	}

	return count, nil
}

func cmdHierarchyHeads(r *Registry, h *hierarchy.Hierarchy, args []string) (interface{}, error) {
	var ret []string

	for _, n := range h.Heads() {
		ret = append(ret, n.ID().String())
	}

	return ret, nil
}

func cmdHierarchyParents(r *Registry, h *hierarchy.Hierarchy, args []string) (interface{}, error) {
	return hierarchyRelation(h, args, true)
}

func cmdHierarchyChildren(r *Registry, h *hierarchy.Hierarchy, args []string) (interface{}, error) {
	return hierarchyRelation(h, args, false)
}

func hierarchyRelation(h *hierarchy.Hierarchy, args []string, parents bool) (interface{}, error) {
	if err := needArgs(args, 1); err != nil {
		return nil, err
	}

	id, err := nodeIdArg(args[0])
	if err != nil {
		return nil, err
	}

	n, err := h.FindNode(id)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, util.NewError(util.ErrNotFound, id.String())
	}

	var ids []hierarchy.NodeId
	if parents {
		ids = n.ParentIds()
	} else {
		ids = n.ChildIds()
	}

	ret := make([]string, 0, len(ids))
	for _, rid := range ids {
		ret = append(ret, rid.String())
	}

	return ret, nil
}

func cmdHierarchyEdgeList(r *Registry, h *hierarchy.Hierarchy, args []string) (interface{}, error) {
	if err := needArgs(args, 1); err != nil {
		return nil, err
	}

	id, err := nodeIdArg(args[0])
	if err != nil {
		return nil, err
	}

	n, err := h.FindNode(id)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, util.NewError(util.ErrNotFound, id.String())
	}

	names := h.EdgeFields(n).FieldNames()

	if len(args) > 1 {
		names = []string{args[1]}
	}

	ret := make(map[string]interface{})

	for _, name := range names {
		if ef := h.EdgeGetField(n, name); ef != nil {
			ret[name] = edgeFieldReply(ef)
		}
	}

	return ret, nil
}

func cmdHierarchyEdgeGet(r *Registry, h *hierarchy.Hierarchy, args []string) (interface{}, error) {
	if err := needArgs(args, 2); err != nil {
		return nil, err
	}

	id, err := nodeIdArg(args[0])
	if err != nil {
		return nil, err
	}

	n, err := h.FindNode(id)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, util.NewError(util.ErrNotFound, id.String())
	}

	ef := h.EdgeGetField(n, args[1])
	if ef == nil {
		return nil, nil
	}

	return edgeFieldReply(ef), nil
}

/*
edgeFieldReply renders an edge field as [constraint id, ids...].
*/
func edgeFieldReply(ef *hierarchy.EdgeField) []interface{} {
	ret := []interface{}{int(ef.Constraint().ID)}

	for _, dst := range ef.Arcs() {
		ret = append(ret, dst.ID().String())
	}

	return ret
}

func cmdHierarchyEdgeGetMetadata(r *Registry, h *hierarchy.Hierarchy, args []string) (interface{}, error) {
	if err := needArgs(args, 3); err != nil {
		return nil, err
	}

	id, err := nodeIdArg(args[0])
	if err != nil {
		return nil, err
	}

	dstId, err := nodeIdArg(args[2])
	if err != nil {
		return nil, err
	}

	n, err := h.FindNode(id)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, util.NewError(util.ErrNotFound, id.String())
	}

	meta, err := h.EdgeMetadata(n, args[1], dstId, false)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, nil
	}

	return ObjectReply(meta), nil
}

func cmdHierarchyCompress(r *Registry, h *hierarchy.Hierarchy, args []string) (interface{}, error) {
	if err := needArgs(args, 1); err != nil {
		return nil, err
	}

	id, err := nodeIdArg(args[0])
	if err != nil {
		return nil, err
	}

	typ := hierarchy.DetachedCompressedMem

	if len(args) > 1 {
		if typ, err = hierarchy.ParseDetachedType(args[1]); err != nil {
			return nil, err
		}
	}

	if err := h.Detach(id, typ); err != nil {
		return nil, err
	}

	return 1, nil
}

func cmdHierarchyListCompressed(r *Registry, h *hierarchy.Hierarchy, args []string) (interface{}, error) {
	ids := h.ListDetached()

	if len(ids) == 0 {
		return nil, nil
	}

	ret := make([]string, 0, len(ids))
	for _, id := range ids {
		ret = append(ret, id.String())
	}

	return ret, nil
}

func cmdHierarchyTypesAdd(r *Registry, h *hierarchy.Hierarchy, args []string) (interface{}, error) {
	if err := needArgs(args, 2); err != nil {
		return nil, err
	}

	if err := h.AddNodeType(args[0], args[1]); err != nil {
		return nil, err
	}

	return 1, nil
}

func cmdHierarchyTypesClear(r *Registry, h *hierarchy.Hierarchy, args []string) (interface{}, error) {
	h.ClearNodeTypes()
	return 1, nil
}

func cmdHierarchyTypesList(r *Registry, h *hierarchy.Hierarchy, args []string) (interface{}, error) {
	var ret []interface{}

	for _, t := range h.NodeTypes() {
		ret = append(ret, []string{t[0], t[1]})
	}

	return ret, nil
}

// Edge commands
// =============

func cmdEdgeAddConstraint(r *Registry, h *hierarchy.Hierarchy, args []string) (interface{}, error) {
	if err := needArgs(args, 6); err != nil {
		return nil, err
	}

	flags, err := strconv.Atoi(args[2])
	if err != nil {
		return nil, util.NewError(util.ErrInvalidArg, args[2])
	}

	bckCid, err := strconv.Atoi(args[3])
	if err != nil {
		return nil, util.NewError(util.ErrInvalidArg, args[3])
	}

	err = h.Constraints().AddDynamic(args[0], args[1], flags,
		hierarchy.ConstraintId(bckCid), args[4], args[5])
	if err != nil {
		return nil, err
	}

	return 1, nil
}

func cmdEdgeAdd(r *Registry, h *hierarchy.Hierarchy, args []string) (interface{}, error) {
	if err := needArgs(args, 3); err != nil {
		return nil, err
	}

	id, err := nodeIdArg(args[0])
	if err != nil {
		return nil, err
	}

	src, _, err := h.UpsertNode(id)
	if err != nil {
		return nil, err
	}

	field := args[1]

	// Use the dynamic constraint of the field if one is registered

	cid := hierarchy.ConstraintDefault

	if _, err := h.Constraints().Resolve(hierarchy.ConstraintDynamic, id.Type(), field); err == nil {
		cid = hierarchy.ConstraintDynamic
	}

	var count int

	for _, arg := range args[2:] {
		dstId, err := nodeIdArg(arg)
		if err != nil {
			return nil, err
		}

		dst, _, err := h.UpsertNode(dstId)
		if err != nil {
			return nil, err
		}

		if err := h.EdgeAdd(src, field, cid, dst); err != nil {
			return nil, err
		}

		count++
	}

	return count, nil
}

func cmdEdgeDel(r *Registry, h *hierarchy.Hierarchy, args []string) (interface{}, error) {
	if err := needArgs(args, 3); err != nil {
		return nil, err
	}

	id, err := nodeIdArg(args[0])
	if err != nil {
		return nil, err
	}

	dstId, err := nodeIdArg(args[2])
	if err != nil {
		return nil, err
	}

	n, err := h.FindNode(id)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, util.NewError(util.ErrNotFound, id.String())
	}

	if err := h.EdgeDelete(n, args[1], dstId); err != nil {
		return nil, err
	}

	return 1, nil
}

/*
ObjectReply renders a data object as a generic reply value. Pointer
values render through their registered reply operation.
*/
func ObjectReply(obj *data.Object) map[string]interface{} {
	ret := make(map[string]interface{})

	for _, key := range obj.Keys() {
		val, err := obj.GetAny(key)
		if err != nil {
			continue
		}

		switch v := val.(type) {

		case *data.Object:
			ret[key] = ObjectReply(v)

		case *data.Set:
			ret[key] = v.Values()

		case *data.Pointer:
			if ops := data.LookupPointerType(v.PType); ops != nil && ops.Reply != nil {
				ret[key] = ops.Reply(v.Value)
			}

		default:
			ret[key] = v
		}
	}

	return ret
}
