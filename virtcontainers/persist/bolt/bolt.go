// Copyright (c) 2019 Huawei Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package bolt

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	persistapi "github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/persist/api"
)

const (
	dbFile = "network.db"

	// openTimeout bounds how long Init waits for another process holding
	// the database file lock.
	openTimeout = 30 * time.Second
)

var sandboxesBucket = []byte("sandboxes")

var boltLog = logrus.WithField("source", "virtcontainers/persist/bolt")

// Name returns driver name
func Name() string {
	return "bolt"
}

// Bolt stores the network state of every sandbox in one bbolt database,
// keyed by sandbox id.
type Bolt struct {
	db *bolt.DB

	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

// Init opens (creating if needed) the database under rootPath.
func Init(rootPath string) (persistapi.PersistDriver, error) {
	if rootPath == "" {
		return nil, fmt.Errorf("bolt persist driver requires a root path")
	}

	if err := os.MkdirAll(rootPath, 0700); err != nil {
		return nil, fmt.Errorf("failed to create db dir: %w", err)
	}

	path := filepath.Join(rootPath, dbFile)
	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout:        openTimeout,
		NoFreelistSync: true,
		FreelistType:   bolt.FreelistMapType,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sandboxesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	boltLog.WithField("path", path).Debug("opened network state database")

	return &Bolt{
		db:    db,
		locks: make(map[string]*sync.RWMutex),
	}, nil
}

func checkID(sid string) error {
	if sid == "" {
		return fmt.Errorf("sandbox container id required")
	}
	return nil
}

// ToDisk stores the network state of sandbox sid.
func (b *Bolt) ToDisk(sid string, info persistapi.NetworkInfo) error {
	if err := checkID(sid); err != nil {
		return err
	}

	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal network state: %w", err)
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sandboxesBucket).Put([]byte(sid), data)
	})
}

// FromDisk loads the network state of sandbox sid.
func (b *Bolt) FromDisk(sid string) (persistapi.NetworkInfo, error) {
	var info persistapi.NetworkInfo

	if err := checkID(sid); err != nil {
		return info, err
	}

	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(sandboxesBucket).Get([]byte(sid))
		if data == nil {
			return fmt.Errorf("sandbox %s: %w", sid, persistapi.ErrNotFound)
		}
		return json.Unmarshal(data, &info)
	})
	if err != nil {
		return persistapi.NetworkInfo{}, err
	}

	return info, nil
}

// Destroy removes the state of sandbox sid. Removing a missing sandbox is
// not an error.
func (b *Bolt) Destroy(sid string) error {
	if err := checkID(sid); err != nil {
		return err
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sandboxesBucket).Delete([]byte(sid))
	})
}

// Sandboxes lists the ids that have state stored.
func (b *Bolt) Sandboxes() ([]string, error) {
	var ids []string

	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(sandboxesBucket).ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})

	return ids, err
}

// Lock serializes access to one sandbox within this process. bbolt holds
// an exclusive flock on the database file, so no other process can have
// it open at the same time.
func (b *Bolt) Lock(sid string, exclusive bool) (func() error, error) {
	if err := checkID(sid); err != nil {
		return nil, err
	}

	b.mu.Lock()
	l, ok := b.locks[sid]
	if !ok {
		l = &sync.RWMutex{}
		b.locks[sid] = l
	}
	b.mu.Unlock()

	if exclusive {
		l.Lock()
		return func() error { l.Unlock(); return nil }, nil
	}

	l.RLock()
	return func() error { l.RUnlock(); return nil }, nil
}

// Close closes the database.
func (b *Bolt) Close() error {
	return b.db.Close()
}
