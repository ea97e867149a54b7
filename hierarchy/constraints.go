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
	"fmt"
	"sort"

	"devt.de/krotik/hierdb/hierarchy/util"
)

/*
ConstraintId identifies an edge field constraint. Small ids select
built-in constraints, the reserved dynamic id selects a constraint
from the registry by node type and field name.
*/
type ConstraintId uint

/*
Built-in constraint ids
*/
const (
	ConstraintDefault   ConstraintId = 0
	ConstraintSingleRef ConstraintId = 1
	ConstraintDynamic   ConstraintId = 2
)

/*
Constraint flags
*/
const (
	ConstraintFlagSingleRef     = 0x01 // At most one arc
	ConstraintFlagBidirectional = 0x02 // Insertions mirror into the reverse field
	ConstraintFlagDynamic       = 0x04 // Declared at runtime
)

/*
EdgeFieldConstraint governs the cardinality and the bidirectionality
of an edge field.
*/
type EdgeFieldConstraint struct {
	ID    ConstraintId
	Flags int

	FwdNodeType  string // Node type of the source node (dynamic constraints)
	FwdFieldName string // Field name on the source node (dynamic constraints)

	BckConstraintId ConstraintId // Constraint of the reverse field
	BckNodeType     string       // Node type of the reverse side
	BckFieldName    string       // Field name of the reverse field
}

/*
IsSingleRef checks if this constraint allows at most one arc.
*/
func (c *EdgeFieldConstraint) IsSingleRef() bool {
	return c.Flags&ConstraintFlagSingleRef != 0
}

/*
IsBidirectional checks if insertions through this constraint mirror
into a reverse field.
*/
func (c *EdgeFieldConstraint) IsBidirectional() bool {
	return c.Flags&ConstraintFlagBidirectional != 0
}

/*
Built-in constraint records
*/
var (
	constraintDefault   = &EdgeFieldConstraint{ID: ConstraintDefault}
	constraintSingleRef = &EdgeFieldConstraint{ID: ConstraintSingleRef, Flags: ConstraintFlagSingleRef}
)

/*
ConstraintRegistry holds the dynamic edge field constraints of a
hierarchy. Dynamic constraints are keyed by node type and field name.
*/
type ConstraintRegistry struct {
	dynamic map[string]*EdgeFieldConstraint
}

/*
NewConstraintRegistry creates a new constraint registry.
*/
func NewConstraintRegistry() *ConstraintRegistry {
	return &ConstraintRegistry{dynamic: make(map[string]*EdgeFieldConstraint)}
}

/*
dynKey builds the registry key of a dynamic constraint.
*/
func dynKey(nodeType string, fieldName string) string {
	return nodeType + "." + fieldName
}

/*
AddDynamic registers a dynamic constraint. For bidirectional
constraints the mirrored constraint of the reverse field is
registered as well so edges can be maintained from either side.
*/
func (r *ConstraintRegistry) AddDynamic(fwdNodeType string, fwdFieldName string,
	flags int, bckConstraintId ConstraintId, bckNodeType string, bckFieldName string) error {

	key := dynKey(fwdNodeType, fwdFieldName)

	if _, ok := r.dynamic[key]; ok {
		return util.NewError(util.ErrExists, key)
	}

	fwd := &EdgeFieldConstraint{
		ID:              ConstraintDynamic,
		Flags:           flags | ConstraintFlagDynamic,
		FwdNodeType:     fwdNodeType,
		FwdFieldName:    fwdFieldName,
		BckConstraintId: bckConstraintId,
		BckNodeType:     bckNodeType,
		BckFieldName:    bckFieldName,
	}

	r.dynamic[key] = fwd

	if fwd.IsBidirectional() {

		bckFlags := ConstraintFlagBidirectional | ConstraintFlagDynamic
		if bckConstraintId == ConstraintSingleRef {
			bckFlags |= ConstraintFlagSingleRef
		}

		bckKey := dynKey(bckNodeType, bckFieldName)

		if _, ok := r.dynamic[bckKey]; !ok {
			r.dynamic[bckKey] = &EdgeFieldConstraint{
				ID:              ConstraintDynamic,
				Flags:           bckFlags,
				FwdNodeType:     bckNodeType,
				FwdFieldName:    bckFieldName,
				BckConstraintId: ConstraintDynamic,
				BckNodeType:     fwdNodeType,
				BckFieldName:    fwdFieldName,
			}
		}
	}

	return nil
}

/*
Resolve looks up the constraint record of a constraint id. Dynamic
constraints are resolved by node type and field name.
*/
func (r *ConstraintRegistry) Resolve(id ConstraintId, nodeType string,
	fieldName string) (*EdgeFieldConstraint, error) {

	switch id {

	case ConstraintDefault:
		return constraintDefault, nil

	case ConstraintSingleRef:
		return constraintSingleRef, nil

	case ConstraintDynamic:
		if c, ok := r.dynamic[dynKey(nodeType, fieldName)]; ok {
			return c, nil
		}
		return nil, util.NewError(util.ErrNotFound,
			fmt.Sprintf("No constraint for %v.%v", nodeType, fieldName))
	}

	return nil, util.NewError(util.ErrInvalidArg,
		fmt.Sprintf("Unknown constraint id: %v", id))
}

/*
Dynamic returns all dynamic constraints in key order.
*/
func (r *ConstraintRegistry) Dynamic() []*EdgeFieldConstraint {
	keys := make([]string, 0, len(r.dynamic))
	for key := range r.dynamic {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	ret := make([]*EdgeFieldConstraint, 0, len(keys))
	for _, key := range keys {
		ret = append(ret, r.dynamic[key])
	}

	return ret
}
