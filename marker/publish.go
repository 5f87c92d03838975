package marker

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// Publisher is told about every rebuilt marker set.
type Publisher interface {
	Publish(ctx context.Context, targetID, key string, snap *Snapshot) error
}

// PublisherFunc adapts a function to a Publisher.
type PublisherFunc func(ctx context.Context, targetID, key string, snap *Snapshot) error

func (f PublisherFunc) Publish(ctx context.Context, targetID, key string, snap *Snapshot) error {
	return f(ctx, targetID, key, snap)
}

// Publishers fans out to several Publishers.  A failing Publisher is
// logged and doesn't stop the others.
type Publishers struct {
	sync.RWMutex

	logger *zap.Logger
	ps     []Publisher
}

func NewPublishers(logger *zap.Logger, ps ...Publisher) *Publishers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publishers{
		logger: logger,
		ps:     ps,
	}
}

func (p *Publishers) Add(pub Publisher) {
	p.Lock()
	p.ps = append(p.ps, pub)
	p.Unlock()
}

func (p *Publishers) Len() int {
	p.RLock()
	defer p.RUnlock()
	return len(p.ps)
}

// Publish always returns nil.
func (p *Publishers) Publish(ctx context.Context, targetID, key string, snap *Snapshot) error {
	p.RLock()
	ps := p.ps
	p.RUnlock()

	for _, pub := range ps {
		if err := pub.Publish(ctx, targetID, key, snap); err != nil {
			p.logger.Warn("publish failed",
				zap.String("target", targetID),
				zap.String("key", key),
				zap.Error(err))
		}
	}
	return nil
}

// FilePublisher writes one JSON file per target into Dir.  The file
// maps each marker set key to the set's latest snapshot and is
// replaced atomically.
type FilePublisher struct {
	sync.Mutex

	Dir string

	targets map[string]map[string]*Snapshot
}

func NewFilePublisher(dir string) *FilePublisher {
	return &FilePublisher{
		Dir:     dir,
		targets: make(map[string]map[string]*Snapshot, 8),
	}
}

// Filename returns the file that holds a target's sets.
func (p *FilePublisher) Filename(targetID string) string {
	return filepath.Join(p.Dir, targetID+".json")
}

func (p *FilePublisher) Publish(ctx context.Context, targetID, key string, snap *Snapshot) error {
	p.Lock()
	defer p.Unlock()

	sets, have := p.targets[targetID]
	if !have {
		sets = make(map[string]*Snapshot, 4)
		p.targets[targetID] = sets
	}
	sets[key] = snap

	js, err := json.MarshalIndent(sets, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(p.Filename(targetID), js)
}

func writeFileAtomic(filename string, bs []byte) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(filename)+"-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err = f.Write(bs); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err = f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err = os.Chmod(tmp, 0644); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, filename)
}
