// Copyright (c) 2022 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package errors

import (
	stderrors "errors"

	"github.com/pkg/errors"
)

// Error kinds surfaced by network endpoints and the device manager.
// Match them with errors.Is, they survive any amount of wrapping.
var (
	ErrInvalidAddress  = stderrors.New("invalid hardware address")
	ErrConstruction    = stderrors.New("endpoint construction failed")
	ErrConfig          = stderrors.New("invalid device configuration")
	ErrDeviceOperation = stderrors.New("device operation failed")

	// ErrDeviceExists and ErrDeviceNotFound are both ErrDeviceOperation.
	ErrDeviceExists   error = &deviceError{msg: "device already exists"}
	ErrDeviceNotFound error = &deviceError{msg: "device not found"}
)

type deviceError struct {
	msg string
}

func (e *deviceError) Error() string {
	return e.msg
}

func (e *deviceError) Is(target error) bool {
	return target == ErrDeviceOperation
}

// kindError tags an underlying cause with one of the error kinds above.
type kindError struct {
	kind  error
	msg   string
	cause error
}

func (e *kindError) Error() string {
	if e.cause == nil {
		return e.msg + ": " + e.kind.Error()
	}
	return e.msg + ": " + e.cause.Error()
}

func (e *kindError) Is(target error) bool {
	return target == e.kind
}

func (e *kindError) Unwrap() error {
	return e.cause
}

// Cause makes kindError transparent to errors.Cause. Without an underlying
// cause the kind itself is the root.
func (e *kindError) Cause() error {
	if e.cause == nil {
		return e.kind
	}
	return e.cause
}

func withKind(kind, cause error, format string, args ...interface{}) error {
	return errors.WithStack(&kindError{
		kind:  kind,
		msg:   errors.Errorf(format, args...).Error(),
		cause: cause,
	})
}

// InvalidAddress reports a malformed hardware address.
func InvalidAddress(format string, args ...interface{}) error {
	return withKind(ErrInvalidAddress, nil, format, args...)
}

// Construction reports that a host side resource for an endpoint could not
// be created or opened.
func Construction(cause error, format string, args ...interface{}) error {
	return withKind(ErrConstruction, cause, format, args...)
}

// Config reports that an endpoint could not produce a valid device
// configuration.
func Config(cause error, format string, args ...interface{}) error {
	return withKind(ErrConfig, cause, format, args...)
}

// DeviceOperation reports a hotplug failure. A cause that already is an
// ErrDeviceOperation keeps its more specific kind.
func DeviceOperation(cause error, format string, args ...interface{}) error {
	if stderrors.Is(cause, ErrDeviceOperation) {
		return errors.Wrapf(cause, format, args...)
	}
	return withKind(ErrDeviceOperation, cause, format, args...)
}

// Is reports whether err matches the target kind.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

var New = errors.New

var Errorf = errors.Errorf
var Wrapf = errors.Wrapf
var Wrap = errors.Wrap
var Cause = errors.Cause

// ErrorContext adds ctx to *err in place. Nothing happens when *err is nil.
func ErrorContext(err *error, ctx string) {
	if *err == nil {
		return
	}
	*err = errors.Wrap(*err, ctx)
}
