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
Package util contains utility classes for the hierarchy store.

HierarchyError

Models a hierarchy related error. Low-level errors should be wrapped in a
HierarchyError before they are returned to a client. The Type field holds
one of the exported error values and can be used for equality checks.
*/
package util

import (
	"errors"
	"fmt"
)

/*
HierarchyError is a hierarchy related error
*/
type HierarchyError struct {
	Type   error  // Error type (to be used for equal checks)
	Detail string // Details of this error
}

/*
Error returns a human-readable string representation of this error.
*/
func (he *HierarchyError) Error() string {
	if he.Detail != "" {
		return fmt.Sprintf("HierarchyError: %v (%v)", he.Type, he.Detail)
	}

	return fmt.Sprintf("HierarchyError: %v", he.Type)
}

/*
General error types
*/
var (
	ErrGeneral      = errors.New("Unknown failure")
	ErrNotSupported = errors.New("Operation not supported in the current state")
	ErrInvalidArg   = errors.New("Invalid argument")
	ErrInvalidType  = errors.New("Type mismatch")
	ErrNameTooLong  = errors.New("Identifier or path too long")
	ErrNoMemory     = errors.New("Out of memory")
	ErrNotFound     = errors.New("Not found")
	ErrExists       = errors.New("Already exists")
	ErrBufferFull   = errors.New("Internal buffer is full")
	ErrMaxDepth     = errors.New("Maximum traversal depth reached")
	ErrCompile      = errors.New("Expression did not compile")
	ErrObjectTooBig = errors.New("Object key count saturated")
)

/*
NewError wraps an error type and a detail string into a HierarchyError.
*/
func NewError(errType error, detail string) *HierarchyError {
	return &HierarchyError{Type: errType, Detail: detail}
}

/*
IsError checks if a given error is a HierarchyError of a certain type.
*/
func IsError(err error, errType error) bool {
	he, ok := err.(*HierarchyError)
	return ok && he.Type == errType
}

/*
errorCodes maps error types to their external short codes.
*/
var errorCodes = map[error]string{
	ErrGeneral:      "EGENERAL",
	ErrNotSupported: "ENOTSUP",
	ErrInvalidArg:   "EINVAL",
	ErrInvalidType:  "EINTYPE",
	ErrNameTooLong:  "ENAMETOOLONG",
	ErrNoMemory:     "ENOMEM",
	ErrNotFound:     "ENOENT",
	ErrExists:       "EEXIST",
	ErrBufferFull:   "ENOBUFS",
	ErrMaxDepth:     "ETRMAX",
	ErrCompile:      "ECOMP",
	ErrObjectTooBig: "EOBIG",
}

/*
Code returns the external short code of an error.
*/
func Code(err error) string {
	if he, ok := err.(*HierarchyError); ok {
		if code, ok := errorCodes[he.Type]; ok {
			return code
		}
	}

	return "EGENERAL"
}
