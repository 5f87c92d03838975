package marker

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrTargetNotFound is returned when a backend has no marker sets
// for a target.
var ErrTargetNotFound = errors.New("target not found")

// Backend resolves a target to its marker sets.
type Backend interface {
	Sets(targetID string) (*Sets, error)
}

// Memory is a Backend that keeps everything in memory.
//
// When Fixed is false, Sets creates a target's sets on first use.
// When Fixed is true, only targets given to Sync exist.
type Memory struct {
	sync.RWMutex

	Fixed   bool
	targets map[string]*Sets
}

func NewMemory() *Memory {
	return &Memory{
		targets: make(map[string]*Sets, 8),
	}
}

func (b *Memory) Sets(targetID string) (*Sets, error) {
	b.RLock()
	ss, have := b.targets[targetID]
	b.RUnlock()
	if have {
		return ss, nil
	}
	if b.Fixed {
		return nil, fmt.Errorf("%w: %s", ErrTargetNotFound, targetID)
	}

	b.Lock()
	defer b.Unlock()
	if ss, have = b.targets[targetID]; !have {
		ss = NewSets(targetID)
		b.targets[targetID] = ss
	}
	return ss, nil
}

// Lookup is Sets without creation.
func (b *Memory) Lookup(targetID string) (*Sets, error) {
	b.RLock()
	defer b.RUnlock()
	ss, have := b.targets[targetID]
	if !have {
		return nil, fmt.Errorf("%w: %s", ErrTargetNotFound, targetID)
	}
	return ss, nil
}

// Sync makes the backend's targets exactly the given ones.  Existing
// sets of surviving targets are kept.
func (b *Memory) Sync(targetIDs []string) {
	b.Lock()
	defer b.Unlock()
	keep := make(map[string]bool, len(targetIDs))
	for _, id := range targetIDs {
		keep[id] = true
		if _, have := b.targets[id]; !have {
			b.targets[id] = NewSets(id)
		}
	}
	for id := range b.targets {
		if !keep[id] {
			delete(b.targets, id)
		}
	}
}

// Targets returns the known target ids in sorted order.
func (b *Memory) Targets() []string {
	b.RLock()
	acc := make([]string, 0, len(b.targets))
	for id := range b.targets {
		acc = append(acc, id)
	}
	b.RUnlock()
	sort.Strings(acc)
	return acc
}
