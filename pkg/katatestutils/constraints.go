// Copyright (c) 2019 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

// This file contains the test constraints facility used to skip tests
// that need privileges the test run may not have, such as creating links
// in the host network namespace.

package katatestutils

import (
	"errors"
	"fmt"
	"os"
)

const (
	TestDisabledNeedRoot    = "Test disabled as requires root user"
	TestDisabledNeedNonRoot = "Test disabled as requires non-root user"
)

// Operator represents an operator to apply to a test constraint value.
type Operator int

const (
	eqOperator Operator = iota
	neOperator Operator = iota
)

var errInvalidOpForConstraint = errors.New("invalid operator for constraint type")

func (o Operator) String() (s string) {
	switch o {
	case eqOperator:
		s = "=="
	case neOperator:
		s = "!="
	}

	return s
}

// Result is the outcome of checking a single constraint.
type Result struct {
	// Details of the constraint
	// (human-readable result of testing for a constraint).
	Description string

	// true if constraint was valid
	Success bool
}

// Constraints encapsulates all information about a test constraint.
type Constraints struct {
	UID int

	// Not ideal: set when UID needs to be checked. This allows
	// a test for UID 0 to be detected.
	UIDSet bool

	// Operator is the operator to apply to one of the constraints.
	Operator Operator
}

// Constraint is a function that operates on a Constraints object to set
// particular values.
type Constraint func(c *Constraints)

// TestConstraint records details about test constraints.
type TestConstraint struct {
	Debug bool

	// Effective user ID of running test
	ActualEUID int

	// Used to record all passed and failed constraints in
	// human-readable form.
	Passed []Result
	Failed []Result
}

// NewTestConstraint creates a new TestConstraint object and is the main
// interface to the test constraints feature.
func NewTestConstraint(debug bool) TestConstraint {
	return TestConstraint{
		Debug:      debug,
		ActualEUID: os.Geteuid(),
	}
}

// NotValid checks if the specified list of constraints are all valid,
// returning true if any _fail_.
//
// If the function fails to determine whether it can check the constraints,
// it will panic.
func (tc *TestConstraint) NotValid(constraints ...Constraint) bool {
	if len(constraints) == 0 {
		panic("need atleast one constraint")
	}

	// Reset in case of a previous call
	tc.Passed = nil
	tc.Failed = nil

	for _, c := range constraints {
		if !tc.constraintValid(c) {
			return true
		}
	}

	return false
}

// NeedUID skips the test unless running as a user with the specified user ID.
func NeedUID(uid int, op Operator) Constraint {
	return func(c *Constraints) {
		c.Operator = op
		c.UID = uid
		c.UIDSet = true
	}
}

// NeedRoot skips the test unless running as root.
func NeedRoot() Constraint {
	return NeedUID(0, eqOperator)
}

// NeedNonRoot skips the test if running as the root user.
func NeedNonRoot() Constraint {
	return NeedUID(0, neOperator)
}

func (tc *TestConstraint) handleUID(uid int, op Operator) (result Result, err error) {
	if uid < 0 {
		return Result{}, fmt.Errorf("uid must be >= 0, got %d", uid)
	}

	var success bool

	switch op {
	case eqOperator:
		success = tc.ActualEUID == uid
	case neOperator:
		success = tc.ActualEUID != uid
	default:
		return Result{}, errInvalidOpForConstraint
	}

	return Result{
		Description: fmt.Sprintf("need uid %s %d, got euid %d", op, uid, tc.ActualEUID),
		Success:     success,
	}, nil
}

// handleResults stores the result of a constraint check, panicking when
// the check itself could not be made.
func (tc *TestConstraint) handleResults(result Result, err error) {
	if err != nil {
		panic(fmt.Sprintf("%+v: failed to check test constraints: error: %s\n", tc, err))
	}

	if result.Success {
		tc.Passed = append(tc.Passed, result)
	} else {
		tc.Failed = append(tc.Failed, result)
	}

	if tc.Debug {
		var outcome string

		if result.Success {
			outcome = "valid"
		} else {
			outcome = "invalid"
		}

		fmt.Printf("Constraint %s: %s\n", outcome, result.Description)
	}
}

func (tc *TestConstraint) constraintValid(fn Constraint) bool {
	c := Constraints{}

	// Call the constraint function that sets the Constraints values
	fn(&c)

	if c.UIDSet {
		result, err := tc.handleUID(c.UID, c.Operator)
		tc.handleResults(result, err)
		if !result.Success {
			return false
		}
	}

	// Constraint is valid
	return true
}
