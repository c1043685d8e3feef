// Copyright (c) 2019 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

// Package rootless detects whether the runtime runs inside a user
// namespace without host root, and relocates the host paths this layer
// writes (vhost-user sockets, persisted endpoint state) below
// XDG_RUNTIME_DIR when it does.
package rootless

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	// initRootless states whether the isRootless variable
	// has been set yet
	initRootless bool

	// isRootless states whether execution is rootless or not
	isRootless bool

	// lock for the initRootless and isRootless variables
	rLock sync.Mutex

	// XDG_RUNTIME_DIR defines the base directory relative to
	// which user-specific non-essential runtime files are stored.
	rootlessDir = os.Getenv("XDG_RUNTIME_DIR")

	// uidMapPath defines the location of the uid_map file to
	// determine whether a user is root or not
	uidMapPath = "/proc/self/uid_map"

	rootlessLog = logrus.WithFields(logrus.Fields{
		"source": "rootless",
	})
)

// SetLogger sets up a logger for the rootless pkg
func SetLogger(ctx context.Context, logger *logrus.Entry) {
	fields := rootlessLog.Data
	rootlessLog = logger.WithFields(fields)
}

// parseUIDMap reports whether a uid_map maps root inside the namespace
// onto a non-root host user.
func parseUIDMap(r io.Reader) (bool, error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parseError := errors.Errorf("Failed to parse uid map line %q", line)

		ids := strings.Fields(line)
		if len(ids) != 3 {
			return false, parseError
		}

		var vals [3]uint64
		for i, id := range ids {
			v, err := strconv.ParseUint(id, 10, 0)
			if err != nil {
				return false, parseError
			}
			vals[i] = v
		}

		userNSUid, hostUID, rangeUID := vals[0], vals[1], vals[2]
		if rangeUID == 0 {
			return false, parseError
		}

		if userNSUid == 0 && hostUID != 0 {
			return true, nil
		}
	}

	return false, scanner.Err()
}

func setRootless() error {
	initRootless = true

	file, err := os.Open(uidMapPath)
	if err != nil {
		return err
	}
	defer file.Close()

	rootless, err := parseUIDMap(file)
	if err != nil {
		return err
	}

	if rootless {
		rootlessLog.Info("Running as rootless")
	}
	isRootless = rootless

	return nil
}

// IsRootless states whether kata is being ran with root or not
func IsRootless() bool {
	rLock.Lock()
	defer rLock.Unlock()

	if !initRootless {
		if err := setRootless(); err != nil {
			rootlessLog.WithError(err).Error("Unable to determine if running rootless")
		}
	}

	return isRootless
}

// GetRootlessDir returns the path to the location for rootless
// container and sandbox storage
func GetRootlessDir() string {
	return rootlessDir
}

// StatePath returns path unchanged when running as root, or path placed
// below the rootless directory otherwise.
func StatePath(path string) string {
	if !IsRootless() || rootlessDir == "" {
		return path
	}

	return filepath.Join(rootlessDir, path)
}
