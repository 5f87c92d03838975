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

// Package scheduler runs reconciliation ticks.
//
// A tick takes one registry snapshot, resolves each target's world,
// runs one task per target on a bounded pool, and waits for all of
// them before reporting.  Ticks never overlap: the next tick is
// scheduled only after the previous one finishes.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Comcast/entitymarkers/reconcile"
	"github.com/Comcast/entitymarkers/registry"
	"github.com/Comcast/entitymarkers/world"
)

// DefaultBudget is how long a tick can take before it's reported as
// slow.
var DefaultBudget = time.Second

// State is where the scheduler is in its cycle.
type State int32

const (
	Idle State = iota
	Dispatching
	Awaiting
	Reporting
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Dispatching:
		return "dispatching"
	case Awaiting:
		return "awaiting"
	case Reporting:
		return "reporting"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type Config struct {
	// Interval is the delay between ticks.  Ignored when Cron is
	// given.
	Interval time.Duration

	// Cron, if not empty, is a cron expression for tick times.
	Cron string

	// Concurrency limits concurrent target tasks.  Zero means no
	// limit.
	Concurrency int

	// Budget is how long a tick can take before a warning.
	Budget time.Duration

	// TickTimeout, if positive, bounds each tick.  Tasks stop
	// between groups and entities when it expires.
	TickTimeout time.Duration

	// TickOnStart runs a tick as soon as Run starts.
	TickOnStart bool
}

// Report summarizes one tick.
type Report struct {
	// Version is the registry snapshot's version.
	Version uint64 `json:"version"`

	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`

	// Targets counts targets dispatched.
	Targets int `json:"targets"`

	// Skipped counts targets whose world or marker sets couldn't
	// be resolved.
	Skipped int `json:"skipped"`

	Markers      int `json:"markers"`
	GroupsFailed int `json:"groupsFailed"`
	EvalErrors   int `json:"evalErrors"`

	OverBudget bool `json:"overBudget"`
	TimedOut   bool `json:"timedOut"`

	// Results are ordered by target.
	Results []reconcile.Result `json:"results"`
}

// Scheduler runs ticks on a cadence.
type Scheduler struct {
	Registry *registry.Registry
	Source   world.Source
	Builder  *reconcile.Builder
	Logger   *zap.Logger
	Metrics  *Metrics

	cfg     Config
	cadence Cadence
	tracer  trace.Tracer

	// ticking keeps ticks from overlapping.
	ticking sync.Mutex

	state   atomic.Int32
	last    atomic.Pointer[Report]
	trigger chan struct{}
}

// New makes a Scheduler.  The logger and metrics can be nil.
func New(cfg Config, reg *registry.Registry, src world.Source, b *reconcile.Builder, logger *zap.Logger, m *Metrics) (*Scheduler, error) {
	cadence, err := ParseCadence(cfg.Interval, cfg.Cron)
	if err != nil {
		return nil, err
	}
	if cfg.Budget <= 0 {
		cfg.Budget = DefaultBudget
	}
	if cfg.Concurrency < 0 {
		cfg.Concurrency = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		Registry: reg,
		Source:   src,
		Builder:  b,
		Logger:   logger,
		Metrics:  m,
		cfg:      cfg,
		cadence:  cadence,
		tracer:   otel.Tracer("github.com/Comcast/entitymarkers/scheduler"),
		trigger:  make(chan struct{}, 1),
	}, nil
}

func (s *Scheduler) State() State {
	return State(s.state.Load())
}

func (s *Scheduler) setState(st State) {
	s.state.Store(int32(st))
}

// LastReport returns the report of the latest tick, or nil.
func (s *Scheduler) LastReport() *Report {
	return s.last.Load()
}

func (s *Scheduler) Cadence() Cadence {
	return s.cadence
}

// Trigger asks Run to tick now rather than waiting.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// resolve gets a world's entities.  A panicking Source is reported
// as an error so that only the target is skipped.
func (s *Scheduler) resolve(ctx context.Context, worldID string) (es []*world.Entity, err error) {
	defer func() {
		if x := recover(); x != nil {
			es, err = nil, fmt.Errorf("panic resolving world %s: %v", worldID, x)
		}
	}()
	return s.Source.Entities(ctx, worldID)
}

// Tick runs one tick.  Problems are logged and reflected in the
// Report; nothing propagates.
func (s *Scheduler) Tick(ctx context.Context) Report {
	s.ticking.Lock()
	defer s.ticking.Unlock()

	then := time.Now()

	if 0 < s.cfg.TickTimeout {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.TickTimeout)
		defer cancel()
	}

	ctx, span := s.tracer.Start(ctx, "scheduler.Tick")
	defer span.End()

	s.setState(Dispatching)

	snap := s.Registry.Snapshot()
	r := Report{
		Version: snap.Version,
		Started: then,
	}

	var (
		mu      sync.Mutex
		results = make([]reconcile.Result, 0, snap.Len())
	)

	g, gctx := errgroup.WithContext(ctx)
	if 0 < s.cfg.Concurrency {
		g.SetLimit(s.cfg.Concurrency)
	}

	for _, t := range snap.Targets() {
		if 0 == len(t.Groups) {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		es, err := s.resolve(ctx, t.World)
		if err != nil {
			s.Logger.Error("can't resolve world",
				zap.String("target", t.ID),
				zap.String("world", t.World),
				zap.Error(err))
			r.Skipped++
			continue
		}

		r.Targets++
		g.Go(func() error {
			tctx, tspan := s.tracer.Start(gctx, "reconcile.Process",
				trace.WithAttributes(
					attribute.String("target", t.ID),
					attribute.Int("entities", len(es)),
					attribute.Int("groups", len(t.Groups))))
			res := s.Builder.Process(tctx, t.ID, es, t.Groups)
			tspan.SetAttributes(
				attribute.Int("markers", res.Markers),
				attribute.Int("failed", res.Failed))
			if res.Skipped || 0 < res.Failed {
				tspan.SetStatus(codes.Error, "target incomplete")
			}
			tspan.End()

			mu.Lock()
			results = append(results, res)
			mu.Unlock()

			// Tasks log their own problems.
			return nil
		})
	}

	s.setState(Awaiting)
	_ = g.Wait()
	s.setState(Reporting)

	sort.Slice(results, func(i, j int) bool {
		return results[i].Target < results[j].Target
	})
	r.Results = results
	for _, res := range results {
		if res.Skipped {
			r.Skipped++
		}
		if res.Canceled {
			r.TimedOut = true
		}
		r.Markers += res.Markers
		r.GroupsFailed += res.Failed
		r.EvalErrors += res.EvalErrors
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		r.TimedOut = true
	}

	r.Duration = time.Since(then)
	r.OverBudget = s.cfg.Budget < r.Duration

	fields := []zap.Field{
		zap.Duration("duration", r.Duration),
		zap.Int("targets", r.Targets),
		zap.Int("skipped", r.Skipped),
		zap.Int("markers", r.Markers),
		zap.Uint64("version", r.Version),
	}
	switch {
	case r.TimedOut:
		s.Logger.Warn("tick timed out", append(fields, zap.Duration("timeout", s.cfg.TickTimeout))...)
	case r.OverBudget:
		s.Logger.Warn("tick took longer than its budget; consider fewer targets, entities, or filters",
			append(fields, zap.Duration("budget", s.cfg.Budget))...)
	default:
		s.Logger.Info("tick", fields...)
	}

	span.SetAttributes(
		attribute.Int("targets", r.Targets),
		attribute.Int("skipped", r.Skipped),
		attribute.Int("markers", r.Markers),
		attribute.Bool("over_budget", r.OverBudget))
	if r.TimedOut {
		span.SetStatus(codes.Error, "tick timed out")
	}

	s.Metrics.observe(&r)
	s.last.Store(&r)
	s.setState(Idle)

	return r
}

// Run ticks until the context is done.  A tick in progress when that
// happens runs to completion (subject to TickTimeout).
func (s *Scheduler) Run(ctx context.Context) error {
	defer s.setState(Stopped)

	s.Logger.Info("scheduler starting", zap.String("cadence", fmt.Sprint(s.cadence)))

	// Ticks finish even if ctx ends while they run.
	tickCtx := context.WithoutCancel(ctx)

	if s.cfg.TickOnStart {
		if ctx.Err() != nil {
			return nil
		}
		s.Tick(tickCtx)
	}

	for {
		next := s.cadence.Next(time.Now())
		if next.IsZero() {
			s.Logger.Error("cadence has no next tick")
			return ErrNoNextTick
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.Logger.Info("scheduler stopping")
			return nil
		case <-s.trigger:
			timer.Stop()
		case <-timer.C:
		}
		s.Tick(tickCtx)
	}
}
