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

package filter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/Comcast/entitymarkers/match"
	"github.com/Comcast/entitymarkers/world"
)

var (
	// InterruptedMessage is the string value of Interrupted.
	InterruptedMessage = "RuntimeError: timeout"

	// Interrupted is returned by Script.Eval if the evaluation
	// ran out of time.
	Interrupted = errors.New(InterruptedMessage)
)

// DefaultScriptTimeout bounds one script evaluation.
var DefaultScriptTimeout = 50 * time.Millisecond

// Script is a compiled script predicate.
//
// The source is an ECMAScript expression.  The runtime provides
//
//	entity: the entity (as its JSON representation)
//	_.match(pat, obj): the pattern matcher
//	_.inCategory(cat): category membership via the catalog
//
// A truthy result is a match.
type Script struct {
	Src     string
	Timeout time.Duration

	program *goja.Program
	catalog *world.Catalog
}

func wrapSrc(src string) string {
	return fmt.Sprintf("(function() {\nreturn (\n%s\n);\n}());\n", src)
}

// CompileScript compiles the expression.
func CompileScript(src string, catalog *world.Catalog, timeout time.Duration) (*Script, error) {
	p, err := goja.Compile("script", wrapSrc(src), true)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = DefaultScriptTimeout
	}
	if catalog == nil {
		catalog = world.DefaultCatalog
	}
	return &Script{
		Src:     src,
		Timeout: timeout,
		program: p,
		catalog: catalog,
	}, nil
}

func protest(o *goja.Runtime, x interface{}) {
	panic(o.ToValue(x))
}

// entityValue gives the entity's JSON representation.
func entityValue(e *world.Entity) (interface{}, error) {
	js, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	var x interface{}
	if err = json.Unmarshal(js, &x); err != nil {
		return nil, err
	}
	return x, nil
}

// Eval runs the script against the entity in a fresh runtime.
func (s *Script) Eval(ctx context.Context, e *world.Entity) (bool, error) {
	x, err := entityValue(e)
	if err != nil {
		return false, err
	}

	o := goja.New()

	env := map[string]interface{}{}

	env["match"] = func(pat, obj goja.Value) bool {
		p, err := match.Canonicalize(pat.Export())
		if err != nil {
			protest(o, err.Error())
		}
		m, err := match.Canonicalize(obj.Export())
		if err != nil {
			protest(o, err.Error())
		}
		ok, err := match.Matches(p, m)
		if err != nil {
			protest(o, err.Error())
		}
		return ok
	}

	env["inCategory"] = func(cat string) bool {
		return e.Is(s.catalog, cat)
	}

	if err = o.Set("_", env); err != nil {
		return false, err
	}
	if err = o.Set("entity", x); err != nil {
		return false, err
	}

	// We want to make sure that the following goroutine is
	// terminated as soon as possible.
	ictx, cancel := context.WithTimeout(ctx, s.Timeout)
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ictx.Done()
		// If Eval calls cancel() after RunProgram returns,
		// the interrupt is harmless since nothing runs in o
		// anymore.
		o.Interrupt(InterruptedMessage)
	}()

	v, err := o.RunProgram(s.program)
	cancel()
	<-done

	if err != nil {
		var ie *goja.InterruptedError
		if errors.As(err, &ie) {
			return false, Interrupted
		}
		return false, err
	}

	return v.ToBoolean(), nil
}
