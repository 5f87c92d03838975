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

package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/gorhill/cronexpr"
)

// DefaultInterval is the cadence when neither an interval nor a cron
// expression is given.
var DefaultInterval = 10 * time.Second

// ErrNoNextTick is returned by Run when the cadence has no future
// time.
var ErrNoNextTick = errors.New("no next tick")

// Cadence says when the next tick starts.
type Cadence interface {
	// Next returns the start of the next tick after t.  The zero
	// time means never.
	Next(t time.Time) time.Time
}

// Every is a fixed delay between the end of one tick and the start
// of the next.
type Every time.Duration

func (d Every) Next(t time.Time) time.Time {
	return t.Add(time.Duration(d))
}

func (d Every) String() string {
	return "every " + time.Duration(d).String()
}

// Cron follows a cron expression.  Seconds and years fields are
// optional.
type Cron struct {
	Src  string
	expr *cronexpr.Expression
}

func ParseCron(src string) (*Cron, error) {
	expr, err := cronexpr.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("cron %q: %w", src, err)
	}
	return &Cron{
		Src:  src,
		expr: expr,
	}, nil
}

func (c *Cron) Next(t time.Time) time.Time {
	return c.expr.Next(t)
}

func (c *Cron) String() string {
	return "cron " + c.Src
}

// ParseCadence prefers the cron expression when given.  A zero
// interval is DefaultInterval.
func ParseCadence(interval time.Duration, cron string) (Cadence, error) {
	if cron != "" {
		return ParseCron(cron)
	}
	if interval < 0 {
		return nil, fmt.Errorf("negative interval %s", interval)
	}
	if interval == 0 {
		interval = DefaultInterval
	}
	return Every(interval), nil
}
