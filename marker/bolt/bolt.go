/* Copyright 2019 Comcast Cable Communications Management, LLC
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package bolt archives the latest marker sets in a bbolt database so
// that a restarted daemon can serve them before its first tick.
//
// Each target gets a bucket.  Within a bucket, the key is the marker
// set key and the value is the set's JSON snapshot.
package bolt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/Comcast/entitymarkers/marker"
)

var NotOpen = errors.New("archive not open")

type Archive struct {
	Logger *zap.Logger

	filename string
	db       *bolt.DB
}

func NewArchive(filename string, logger *zap.Logger) *Archive {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archive{
		Logger:   logger,
		filename: filename,
	}
}

func (a *Archive) Open() error {
	opts := &bolt.Options{
		Timeout: time.Second,
	}

	db, err := bolt.Open(a.filename, 0644, opts)
	if err != nil {
		return err
	}
	a.db = db
	return nil
}

func (a *Archive) Close() error {
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

// Publish writes the snapshot.  It's a marker.Publisher.
func (a *Archive) Publish(ctx context.Context, targetID, key string, snap *marker.Snapshot) error {
	if a.db == nil {
		return NotOpen
	}
	js, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return a.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(targetID))
		if err != nil {
			return err
		}
		return b.Put([]byte(key), js)
	})
}

// Targets lists the archived targets.
func (a *Archive) Targets() ([]string, error) {
	if a.db == nil {
		return nil, NotOpen
	}
	var acc []string
	err := a.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			acc = append(acc, string(name))
			return nil
		})
	})
	return acc, err
}

// Get returns a target's archived sets.  An unknown target has none.
func (a *Archive) Get(targetID string) (map[string]*marker.Snapshot, error) {
	if a.db == nil {
		return nil, NotOpen
	}
	acc := make(map[string]*marker.Snapshot, 8)
	err := a.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(targetID))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, bs := c.First(); k != nil; k, bs = c.Next() {
			var snap marker.Snapshot
			if err := json.Unmarshal(bs, &snap); err != nil {
				return fmt.Errorf("%s/%s: %w", targetID, k, err)
			}
			acc[string(k)] = &snap
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return acc, nil
}

// Forget removes a target's bucket.
func (a *Archive) Forget(targetID string) error {
	if a.db == nil {
		return NotOpen
	}
	return a.db.Update(func(tx *bolt.Tx) error {
		err := tx.DeleteBucket([]byte(targetID))
		if errors.Is(err, bolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
}

// Prune forgets every target not in the given list.
func (a *Archive) Prune(keep []string) error {
	have, err := a.Targets()
	if err != nil {
		return err
	}
	want := make(map[string]bool, len(keep))
	for _, id := range keep {
		want[id] = true
	}
	for _, id := range have {
		if want[id] {
			continue
		}
		a.Logger.Info("forgetting archived target", zap.String("target", id))
		if err := a.Forget(id); err != nil {
			return err
		}
	}
	return nil
}

// Load restores archived sets into the backend and returns how many
// sets it restored.  Targets the backend doesn't know are skipped.
func (a *Archive) Load(backend marker.Backend) (int, error) {
	ids, err := a.Targets()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		logger := a.Logger.With(zap.String("target", id))
		sets, err := backend.Sets(id)
		if err != nil {
			logger.Debug("skipping archived target", zap.Error(err))
			continue
		}
		snaps, err := a.Get(id)
		if err != nil {
			return n, err
		}
		for key, snap := range snaps {
			sets.Restore(key, snap)
			n++
		}
		logger.Debug("restored", zap.Int("sets", len(snaps)))
	}
	return n, nil
}
