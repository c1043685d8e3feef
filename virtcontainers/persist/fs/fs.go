// Copyright (c) 2016 Intel Corporation
// Copyright (c) 2018 Huawei Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package fs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	persistapi "github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/persist/api"
)

// persistFile is the file name for JSON network state
const persistFile = "persist.json"

// dirMode is the permission bits used for creating a directory
const dirMode = os.FileMode(0700) | os.ModeDir

// fileMode is the permission bits used for creating a file
const fileMode = os.FileMode(0600)

// storagePathSuffix is the suffix used for all storage paths
//
// Note: this very brief path represents "virtcontainers". It is as
// terse as possible to minimise path length.
const storagePathSuffix = "vc"

// sandboxPathSuffix is the suffix used for sandbox storage
const sandboxPathSuffix = "sbs"

// DefaultRunStoragePath is the sandbox runtime directory.
// It will contain one persist.json for each created sandbox.
var DefaultRunStoragePath = filepath.Join("/run", storagePathSuffix, sandboxPathSuffix)

// FS storage driver implementation
type FS struct {
	runStoragePath string
}

var fsLog = logrus.WithField("source", "virtcontainers/persist/fs")

// Logger returns a logrus logger appropriate for logging Store messages
func (fs *FS) Logger() *logrus.Entry {
	return fsLog.WithFields(logrus.Fields{
		"subsystem": "persist",
	})
}

// SetLogger sets the logger for the fs persist driver.
func SetLogger(logger *logrus.Entry) {
	fields := fsLog.Data
	fsLog = logger.WithFields(fields)
}

// Name returns driver name
func Name() string {
	return "fs"
}

// Init FS persist driver and return abstract PersistDriver
func Init(rootPath string) (persistapi.PersistDriver, error) {
	if rootPath == "" {
		rootPath = DefaultRunStoragePath
	}

	return &FS{runStoragePath: rootPath}, nil
}

// RunStoragePath returns the directory holding one subdirectory per sandbox.
func (fs *FS) RunStoragePath() string {
	return fs.runStoragePath
}

func (fs *FS) sandboxDir(sid string) (string, error) {
	if sid == "" {
		return "", fmt.Errorf("sandbox container id required")
	}

	return filepath.Join(fs.runStoragePath, sid), nil
}

// ToDisk writes the network state of sandbox sid. The file is replaced
// atomically so a crash never leaves a truncated snapshot behind.
func (fs *FS) ToDisk(sid string, info persistapi.NetworkInfo) (retErr error) {
	sandboxDir, err := fs.sandboxDir(sid)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(sandboxDir, dirMode); err != nil {
		return err
	}

	f, err := os.CreateTemp(sandboxDir, persistFile+".*")
	if err != nil {
		return err
	}
	tmpName := f.Name()

	defer func() {
		if retErr != nil {
			f.Close()
			if err := os.Remove(tmpName); err != nil && !os.IsNotExist(err) {
				fs.Logger().WithError(err).WithField("file", tmpName).Warn("failed to remove temporary state file")
			}
		}
	}()

	if err := f.Chmod(fileMode); err != nil {
		return err
	}

	if err := json.NewEncoder(f).Encode(info); err != nil {
		return err
	}

	if err := f.Sync(); err != nil {
		return err
	}

	if err := f.Close(); err != nil {
		return err
	}

	return os.Rename(tmpName, filepath.Join(sandboxDir, persistFile))
}

// FromDisk restores state for sandbox with name sid
func (fs *FS) FromDisk(sid string) (persistapi.NetworkInfo, error) {
	var info persistapi.NetworkInfo

	sandboxDir, err := fs.sandboxDir(sid)
	if err != nil {
		return info, err
	}

	f, err := os.Open(filepath.Join(sandboxDir, persistFile))
	if os.IsNotExist(err) {
		return info, fmt.Errorf("sandbox %s: %w", sid, persistapi.ErrNotFound)
	}
	if err != nil {
		return info, err
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(&info); err != nil {
		return persistapi.NetworkInfo{}, err
	}

	return info, nil
}

// Destroy removes everything from disk
func (fs *FS) Destroy(sid string) error {
	sandboxDir, err := fs.sandboxDir(sid)
	if err != nil {
		return err
	}

	return os.RemoveAll(sandboxDir)
}

// Lock takes a flock on the sandbox directory. ToDisk and FromDisk do not
// lock on their own, callers serialize with other processes through Lock.
func (fs *FS) Lock(sid string, exclusive bool) (func() error, error) {
	sandboxDir, err := fs.sandboxDir(sid)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(sandboxDir, dirMode); err != nil {
		return nil, err
	}

	f, err := os.Open(sandboxDir)
	if err != nil {
		return nil, err
	}

	lockType := unix.LOCK_SH
	if exclusive {
		lockType = unix.LOCK_EX
	}

	if err := unix.Flock(int(f.Fd()), lockType); err != nil {
		f.Close()
		return nil, err
	}

	unlockFunc := func() error {
		defer f.Close()
		return unix.Flock(int(f.Fd()), unix.LOCK_UN)
	}

	return unlockFunc, nil
}

// Close is a no-op, the driver keeps no open files between calls.
func (fs *FS) Close() error {
	return nil
}
