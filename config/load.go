package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/Comcast/entitymarkers/filter"
	"github.com/Comcast/entitymarkers/registry"
)

// Extensions are the suffixes of target documents.
var Extensions = []string{".yaml", ".yml", ".json", ".conf"}

// IsTargetFile reports whether the filename looks like a target
// document.
func IsTargetFile(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	for _, ext := range Extensions {
		if strings.HasSuffix(base, ext) {
			return true
		}
	}
	return false
}

// Problem is whatever went wrong with one target document.
type Problem struct {
	Target      string             `json:"target"`
	File        string             `json:"file"`
	Error       string             `json:"error,omitempty"`
	Diagnostics filter.Diagnostics `json:"diagnostics,omitempty"`
}

// Report summarizes a Load.
type Report struct {
	// Targets that loaded with at least one group.
	Targets []string `json:"targets"`

	Groups int `json:"groups"`

	Problems []Problem `json:"problems,omitempty"`
}

// OK reports whether every document loaded without complaint.
func (r *Report) OK() bool {
	return 0 == len(r.Problems)
}

// Loader reads every target document in a directory.
type Loader struct {
	Dir    string
	Env    *filter.Env
	Logger *zap.Logger

	// reloading serializes Reload so that an older read of the
	// directory can't be installed after a newer one.
	reloading sync.Mutex
}

func NewLoader(dir string, env *filter.Env, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		Dir:    dir,
		Env:    env,
		Logger: logger,
	}
}

// LoadFile reads and compiles a single target document.  The target
// id is the filename without its extension.
func LoadFile(filename string, env *filter.Env) (*registry.Target, filter.Diagnostics, error) {
	bs, err := os.ReadFile(filename)
	if err != nil {
		return nil, nil, err
	}
	raw, err := DecodeTarget(bs)
	if err != nil {
		return nil, nil, err
	}
	base := filepath.Base(filename)
	id := strings.TrimSuffix(base, filepath.Ext(base))
	t, ds := CompileTarget(id, raw, env)
	return t, ds, nil
}

// Load builds a registry snapshot from the directory.
//
// One target's bad document never keeps the others from loading.
// The error is only for a directory we can't read.
func (l *Loader) Load() (*registry.Snapshot, *Report, error) {
	files, err := os.ReadDir(l.Dir)
	if err != nil {
		return nil, nil, err
	}

	var (
		report  = &Report{}
		targets = make([]*registry.Target, 0, len(files))
		seen    = make(map[string]string, len(files))
	)

	for _, fi := range files {
		name := fi.Name()
		if fi.IsDir() || !IsTargetFile(name) {
			continue
		}
		id := strings.TrimSuffix(name, filepath.Ext(name))
		logger := l.Logger.With(zap.String("target", id), zap.String("file", name))

		if prev, have := seen[id]; have {
			msg := fmt.Sprintf("target already defined by %s", prev)
			logger.Error(msg)
			report.Problems = append(report.Problems, Problem{
				Target: id,
				File:   name,
				Error:  msg,
			})
			continue
		}
		seen[id] = name

		t, ds, err := LoadFile(filepath.Join(l.Dir, name), l.Env)
		if err != nil {
			logger.Error("failed to load target", zap.Error(err))
			report.Problems = append(report.Problems, Problem{
				Target: id,
				File:   name,
				Error:  err.Error(),
			})
			continue
		}
		if 0 < len(ds) {
			ds.Log(logger)
			report.Problems = append(report.Problems, Problem{
				Target:      id,
				File:        name,
				Diagnostics: ds,
			})
		}
		if t == nil {
			logger.Warn("target has no valid filter sets")
			continue
		}

		logger.Debug("loaded target", zap.String("world", t.World), zap.Int("groups", len(t.Groups)))
		targets = append(targets, t)
		report.Targets = append(report.Targets, id)
		report.Groups += len(t.Groups)
	}

	l.Logger.Info("loaded targets",
		zap.Int("targets", len(report.Targets)),
		zap.Int("groups", report.Groups),
		zap.Int("problems", len(report.Problems)))

	return registry.NewSnapshot(targets...), report, nil
}

// Reload loads the directory and installs the result.  When the
// directory can't be read, the registry keeps its current snapshot.
//
// The prepare functions see the report before the swap, so sinks for
// new targets exist before any tick can dispatch them.  Reloads run
// one at a time, prepare functions included.
func (l *Loader) Reload(reg *registry.Registry, prepare ...func(*Report)) (*Report, error) {
	l.reloading.Lock()
	defer l.reloading.Unlock()

	s, report, err := l.Load()
	if err != nil {
		l.Logger.Error("reload failed", zap.String("dir", l.Dir), zap.Error(err))
		return nil, err
	}
	for _, f := range prepare {
		f(report)
	}
	reg.Swap(s)
	l.Logger.Info("registry swapped", zap.Uint64("version", s.Version))
	return report, nil
}
