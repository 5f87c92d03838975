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

// Package reconcile rebuilds one target's marker sets from a world
// snapshot.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Comcast/entitymarkers/assets"
	"github.com/Comcast/entitymarkers/filter"
	"github.com/Comcast/entitymarkers/marker"
	"github.com/Comcast/entitymarkers/popup"
	"github.com/Comcast/entitymarkers/world"
)

// Builder evaluates rule groups against entities and writes the
// resulting marker sets.
//
// One Builder can serve many targets concurrently, but a given
// target must be processed by only one goroutine at a time.
type Builder struct {
	Backend marker.Backend

	// Publisher, if not nil, gets every rebuilt set.
	Publisher marker.Publisher

	// EyeLevel raises markers by half the entity's height for
	// groups that don't say otherwise.
	EyeLevel bool

	Logger *zap.Logger
}

func NewBuilder(backend marker.Backend, pub marker.Publisher, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		Backend:   backend,
		Publisher: pub,
		Logger:    logger,
	}
}

// Result summarizes processing one target.
type Result struct {
	Target string

	// Skipped is true if the target's marker sets couldn't be
	// resolved.
	Skipped bool

	// Groups counts the groups whose sets were rebuilt.
	Groups int

	// Failed counts groups that failed (and were left as they
	// were).
	Failed int

	// Markers counts markers written.
	Markers int

	// EvalErrors counts filter evaluations that failed.
	EvalErrors int

	// Canceled is true if the context ended before every group was
	// processed.
	Canceled bool

	Elapsed time.Duration
}

// Process rebuilds the marker set of every group for the target.
//
// Players are never marked.  For each entity, the first matching
// filter in a group wins.  A failure in one group is logged and
// doesn't affect the other groups.
func (b *Builder) Process(ctx context.Context, targetID string, es []*world.Entity, groups []*filter.Set) Result {
	then := time.Now()
	r := Result{
		Target: targetID,
	}
	logger := b.logger().With(zap.String("target", targetID))

	sets, err := b.Backend.Sets(targetID)
	if err != nil {
		logger.Error("can't resolve marker sets", zap.Error(err))
		r.Skipped = true
		r.Elapsed = time.Since(then)
		return r
	}

	for _, g := range groups {
		if ctx.Err() != nil {
			r.Canceled = true
			break
		}
		n, evalErrs, err := b.processGroup(ctx, sets, targetID, g, es, logger)
		r.EvalErrors += evalErrs
		switch {
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			r.Canceled = true
		case err != nil:
			r.Failed++
			logger.Error("group failed", zap.String("group", g.ID), zap.Error(err))
		default:
			r.Groups++
			r.Markers += n
		}
	}

	r.Elapsed = time.Since(then)
	return r
}

func (b *Builder) logger() *zap.Logger {
	if b.Logger == nil {
		return zap.NewNop()
	}
	return b.Logger
}

func (b *Builder) processGroup(ctx context.Context, sets *marker.Sets, targetID string, g *filter.Set, es []*world.Entity, logger *zap.Logger) (n int, evalErrs int, err error) {
	defer func() {
		if x := recover(); x != nil {
			err = fmt.Errorf("panic: %v", x)
		}
	}()

	eyeLevel := b.EyeLevel
	if g.EyeLevel != nil {
		eyeLevel = *g.EyeLevel
	}

	ms := make([]*marker.Marker, 0, 32)
	for _, e := range es {
		if err = ctx.Err(); err != nil {
			return 0, evalErrs, err
		}
		if e.IsPlayer() {
			continue
		}
		f, merr := g.Match(ctx, e)
		if merr != nil {
			evalErrs++
			logger.Warn("filter evaluation failed",
				zap.String("group", g.ID),
				zap.Stringer("entity", e.UUID),
				zap.Error(merr))
		}
		if f == nil {
			continue
		}
		ms = append(ms, Marker(g, f, e, eyeLevel))
	}

	key := filter.MarkerSetKey(targetID, g.ID)
	set := sets.GetOrCreate(key, g.NewMarkerSet)
	set.Replace(ms)

	logger.Debug("rebuilt marker set",
		zap.String("group", g.ID),
		zap.String("key", key),
		zap.Int("markers", len(ms)))

	if b.Publisher != nil {
		if err = b.Publisher.Publish(ctx, targetID, key, set.Snapshot()); err != nil {
			return len(ms), evalErrs, fmt.Errorf("publish %s: %w", key, err)
		}
	}

	return len(ms), evalErrs, nil
}

// Marker builds the marker for an entity matched by a filter.
func Marker(g *filter.Set, f *filter.Filter, e *world.Entity, eyeLevel bool) *marker.Marker {
	text := popup.Render(f.Template(), e)

	pos := e.Position
	if eyeLevel {
		pos = e.EyeLevel()
	}

	m := &marker.Marker{
		ID:       marker.IDPrefix + e.UUID.String(),
		Label:    popup.Label(text, f.Format()),
		Detail:   popup.Detail(text, f.Format()),
		Position: pos,
		Classes:  []string{g.Style},
	}
	if icon := f.Icon(); icon != "" {
		a := f.Anchor()
		m.Icon = assets.IconDir + "/" + icon
		m.Anchor = &a
	}
	if d, have := f.MaxDistance(); have {
		m.MaxDistance = &d
	}
	return m
}
