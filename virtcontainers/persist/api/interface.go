// Copyright (c) 2019 Huawei Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package persistapi

import "errors"

// ErrNotFound is returned by FromDisk when nothing was saved for a sandbox.
var ErrNotFound = errors.New("no persisted network state")

// PersistDriver is interface describing operations to save/restore persist data
type PersistDriver interface {
	// ToDisk flushes data to disk(or other storage media such as a remote db)
	ToDisk(sid string, info NetworkInfo) error
	// FromDisk will restore the network of sandbox `sid` from storage.
	FromDisk(sid string) (NetworkInfo, error)
	// Destroy will remove everything from storage
	Destroy(sid string) error
	// Lock locks the persist driver, "exclusive" decides whether the lock is exclusive or shared.
	// It returns Unlock Function and errors
	Lock(sid string, exclusive bool) (func() error, error)
	// Close releases the storage backend.
	Close() error
}
