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

// Package assets answers whether an icon reference points at
// something the web front end can serve.
package assets

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// IconDir is where icons live relative to the web root.
const IconDir = "assets/bmfe-icons"

// Store checks for the existence of an icon.  The path is relative
// to the icon directory.
type Store interface {
	Exists(path string) bool
}

// Dir is a Store backed by a web root on disk.
type Dir struct {
	WebRoot string
}

// Resolve returns the filesystem location of an icon.  The second
// value is false when the path would escape the icon directory.
func (d *Dir) Resolve(path string) (string, bool) {
	path = filepath.FromSlash(path)
	if !filepath.IsLocal(path) {
		return "", false
	}
	return filepath.Join(d.WebRoot, filepath.FromSlash(IconDir), path), true
}

func (d *Dir) Exists(path string) bool {
	filename, ok := d.Resolve(path)
	if !ok {
		return false
	}
	info, err := os.Stat(filename)
	return err == nil && !info.IsDir()
}

// Set is an in-memory Store.
type Set struct {
	sync.RWMutex
	paths map[string]bool
}

func NewSet(paths ...string) *Set {
	s := &Set{
		paths: make(map[string]bool, len(paths)),
	}
	for _, p := range paths {
		s.Add(p)
	}
	return s
}

func (s *Set) Add(path string) {
	s.Lock()
	s.paths[strings.TrimPrefix(path, "/")] = true
	s.Unlock()
}

func (s *Set) Exists(path string) bool {
	s.RLock()
	defer s.RUnlock()
	return s.paths[strings.TrimPrefix(path, "/")]
}

// Any is a Store that accepts every icon.  The CLI uses it when no
// web root is configured.
type Any struct{}

func (Any) Exists(path string) bool {
	return true
}
