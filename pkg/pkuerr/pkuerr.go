// Copyright 2026 The pkugate Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package pkuerr holds the standardized error definitions for pkugate.
//
// Every failure the isolation core can report is one of the sentinel errors
// below. They are exported as *Error pointers so comparison via errors.Is is
// a pointer check, comparable in cost to unix.Errno equality. Each sentinel
// carries a stable Code and a unix.Errno so the native backend can translate
// OS failures into the taxonomy and callers can surface errno-compatible
// results.
package pkuerr

import (
	"golang.org/x/sys/unix"
)

// Code identifies a failure class independent of message text.
type Code uint32

// Failure classes, in the order they appear in the isolation core's contract.
const (
	CodeNotInitialized Code = iota + 1
	CodeAlreadyInitialized
	CodeInvalidDomain
	CodeInvalidArgument
	CodeResourceExhausted
	CodeAlreadyRegistered
	CodePermissionDenied
	CodeTransportFailure
	CodeOperationFailure
)

// Error is a failure with a stable code, an errno mapping, and a
// descriptive message.
type Error struct {
	code    Code
	errno   unix.Errno
	message string
}

// New creates a new *Error.
func New(code Code, errno unix.Errno, message string) *Error {
	return &Error{
		code:    code,
		errno:   errno,
		message: message,
	}
}

// Error implements error.Error.
func (e *Error) Error() string { return e.message }

// Code returns the failure class.
func (e *Error) Code() Code { return e.code }

// Errno returns the closest unix.Errno for this failure.
func (e *Error) Errno() unix.Errno { return e.errno }

// The full taxonomy. These are the only errors the core returns; wrapped
// causes are attached by callers with fmt.Errorf("...: %w", ...) where extra
// context helps.
var (
	ErrNotInitialized     = New(CodeNotInitialized, unix.EACCES, "isolation context not initialized")
	ErrAlreadyInitialized = New(CodeAlreadyInitialized, unix.EACCES, "isolation context already initialized")
	ErrInvalidDomain      = New(CodeInvalidDomain, unix.EINVAL, "domain does not exist")
	ErrInvalidArgument    = New(CodeInvalidArgument, unix.EINVAL, "invalid argument")
	ErrResourceExhausted  = New(CodeResourceExhausted, unix.ENOSPC, "no free table slot")
	ErrAlreadyRegistered  = New(CodeAlreadyRegistered, unix.EEXIST, "call slot already registered")
	ErrPermissionDenied   = New(CodePermissionDenied, unix.EPERM, "operation not permitted")
	ErrTransportFailure   = New(CodeTransportFailure, unix.EHOSTDOWN, "host-call transport failed")
	ErrOperationFailure   = New(CodeOperationFailure, unix.EIO, "host operation failed")
)

// FromUnix translates an OS error into the taxonomy. Resource and permission
// errnos keep their class; everything else is an operation failure.
func FromUnix(errno unix.Errno) *Error {
	switch errno {
	case 0:
		return nil
	case unix.EINVAL:
		return ErrInvalidArgument
	case unix.ENOSPC, unix.ENOMEM, unix.EMFILE:
		return ErrResourceExhausted
	case unix.EPERM, unix.EACCES:
		return ErrPermissionDenied
	case unix.EEXIST:
		return ErrAlreadyRegistered
	default:
		return ErrOperationFailure
	}
}
