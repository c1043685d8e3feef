// Copyright (c) 2022 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindsSurviveWrapping(t *testing.T) {
	assert := assert.New(t)

	cause := stderrors.New("file exists")

	err := Construction(cause, "create link %s", "tap0")
	err = Wrap(err, "new tap endpoint")
	err = fmt.Errorf("sandbox network: %w", err)

	assert.True(Is(err, ErrConstruction))
	assert.True(Is(err, cause))
	assert.False(Is(err, ErrConfig))
	assert.Equal(cause, Cause(Wrap(Construction(cause, "x"), "y")))
	assert.Contains(err.Error(), "create link tap0: file exists")
}

func TestInvalidAddressWithoutCause(t *testing.T) {
	assert := assert.New(t)

	err := InvalidAddress("mac %q", "zz")
	assert.True(Is(err, ErrInvalidAddress))
	assert.Equal(`mac "zz": invalid hardware address`, err.Error())
	assert.Equal(ErrInvalidAddress, Cause(err))
}

func TestDeviceOperationKinds(t *testing.T) {
	assert := assert.New(t)

	assert.True(Is(ErrDeviceExists, ErrDeviceOperation))
	assert.True(Is(ErrDeviceNotFound, ErrDeviceOperation))
	assert.False(Is(ErrDeviceExists, ErrDeviceNotFound))

	err := DeviceOperation(ErrDeviceNotFound, "remove device")
	assert.True(Is(err, ErrDeviceNotFound))
	assert.True(Is(err, ErrDeviceOperation))

	err = DeviceOperation(stderrors.New("qmp: timeout"), "handle device")
	assert.True(Is(err, ErrDeviceOperation))
	assert.False(Is(err, ErrDeviceNotFound))
}

func TestErrorContext(t *testing.T) {
	assert := assert.New(t)

	var err error
	ErrorContext(&err, "nothing")
	assert.NoError(err)

	err = Config(nil, "guest mac")
	ErrorContext(&err, "get network config")
	assert.EqualError(err, "get network config: guest mac: invalid device configuration")
	assert.True(Is(err, ErrConfig))
}
