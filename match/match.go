/* Copyright 2018 Comcast Cable Communications Management, LLC
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

// Package match implements a structural pattern matcher for the
// free-form data that hosts attach to entities.
//
// A pattern is a JSON-like value.  A map pattern matches a map that
// has at least the pattern's keys (with matching values).  An array
// pattern is a set: every constant element must appear in the fact
// array, and every other element must match a distinct fact element.
// Numbers are compared as float64s.
//
// Strings that start with '?' are variables:
//
//	"?"      matches any value
//	"?x"     matches any value and binds it; every "?x" must agree
//	"??x"    like "?x", but as a map value the key may be absent
//	"?<10"   matches a number less than 10 (also <=, >, >=, !=)
//
// Inequalities can be optional too: "??>=3".
package match

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Bindings maps named variables to the values they matched.
type Bindings map[string]interface{}

// Copy makes a shallow copy of the Bindings.
func (bs Bindings) Copy() Bindings {
	acc := make(Bindings, len(bs))
	for k, v := range bs {
		acc[k] = v
	}
	return acc
}

type Matcher struct {
	// Inequalities enables variables like "?<10".  When off, such
	// a variable is just a named variable.
	Inequalities bool
}

var DefaultMatcher = &Matcher{
	Inequalities: true,
}

// UnknownPatternType is an error that includes the thing that's
// causing the trouble.
type UnknownPatternType struct {
	Pattern interface{}
}

func (e *UnknownPatternType) Error() string {
	return fmt.Sprintf("unknown pattern type %T", e.Pattern)
}

var (
	// NotAMap is returned by CheckMap for a pattern that isn't an
	// object.
	NotAMap = errors.New("pattern must be a map")

	BadInequality = errors.New("bad inequality")
)

// IsVariable reports if the string represents a pattern variable.
func IsVariable(s string) bool {
	return strings.HasPrefix(s, "?")
}

func isOptional(x interface{}) bool {
	if s, is := x.(string); is {
		return strings.HasPrefix(s, "??")
	}
	return false
}

// unoptional turns "??x" into "?x".
func unoptional(s string) string {
	if strings.HasPrefix(s, "??") {
		return s[1:]
	}
	return s
}

func isConstant(x interface{}) bool {
	switch vv := x.(type) {
	case nil, bool, float64:
		return true
	case string:
		return !IsVariable(vv)
	}
	return false
}

// fudge is a hack to cast numbers to float64s.
func fudge(x interface{}) interface{} {
	switch vv := x.(type) {
	case float32:
		return float64(vv)
	case int:
		return float64(vv)
	case int8:
		return float64(vv)
	case int16:
		return float64(vv)
	case int32:
		return float64(vv)
	case int64:
		return float64(vv)
	case uint:
		return float64(vv)
	case uint8:
		return float64(vv)
	case uint16:
		return float64(vv)
	case uint32:
		return float64(vv)
	case uint64:
		return float64(vv)
	default:
		return x
	}
}

// inequality parses a variable like "?<=10".  The first value is
// false when the variable isn't an inequality.
func (m *Matcher) inequality(v string) (bool, string, float64, error) {
	if !m.Inequalities {
		return false, "", 0, nil
	}
	v = unoptional(v)
	if len(v) < 2 {
		return false, "", 0, nil
	}
	for _, op := range []string{"<=", ">=", "!=", "<", ">"} {
		if !strings.HasPrefix(v[1:], op) {
			continue
		}
		s := strings.TrimSpace(v[1+len(op):])
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return true, op, 0, fmt.Errorf("%w: %q", BadInequality, v)
		}
		return true, op, n, nil
	}
	return false, "", 0, nil
}

func compare(op string, a, b float64) bool {
	switch op {
	case "<":
		return a < b
	case "<=":
		return a <= b
	case ">":
		return a > b
	case ">=":
		return a >= b
	case "!=":
		return a != b
	}
	return false
}

// Matches reports whether the fact matches the pattern using the
// DefaultMatcher.
func Matches(pattern interface{}, fact interface{}) (bool, error) {
	bss, err := DefaultMatcher.Match(pattern, fact, nil)
	if err != nil {
		return false, err
	}
	return 0 < len(bss), nil
}

// Match attempts to match the given fact with the given pattern.
// Returns every set of bindings that works.  The initial bindings,
// which can be nil, are not modified.
//
// More than one set of bindings is possible when an array pattern
// contains a variable.
func (m *Matcher) Match(pattern interface{}, fact interface{}, bs Bindings) ([]Bindings, error) {
	return m.match(pattern, fact, bs.Copy())
}

// match can modify the given bindings.
func (m *Matcher) match(pattern interface{}, fact interface{}, bs Bindings) ([]Bindings, error) {
	pattern = fudge(pattern)
	fact = fudge(fact)

	switch vv := pattern.(type) {
	case nil:
		if fact == nil {
			return []Bindings{bs}, nil
		}
		return nil, nil

	case bool:
		if b, is := fact.(bool); is && b == vv {
			return []Bindings{bs}, nil
		}
		return nil, nil

	case float64:
		if x, is := fact.(float64); is && x == vv {
			return []Bindings{bs}, nil
		}
		return nil, nil

	case string:
		if !IsVariable(vv) {
			if s, is := fact.(string); is && s == vv {
				return []Bindings{bs}, nil
			}
			return nil, nil
		}
		return m.variable(vv, fact, bs)

	case map[string]interface{}:
		fm, is := fact.(map[string]interface{})
		if !is {
			return nil, nil
		}
		return m.matchMap(vv, fm, bs)

	case []interface{}:
		fa, is := fact.([]interface{})
		if !is {
			return nil, nil
		}
		return m.matchArray(vv, fa, bs)

	default:
		return nil, &UnknownPatternType{pattern}
	}
}

func (m *Matcher) variable(v string, fact interface{}, bs Bindings) ([]Bindings, error) {
	ineq, op, n, err := m.inequality(v)
	if err != nil {
		return nil, err
	}
	if ineq {
		x, is := fact.(float64)
		if !is || !compare(op, x, n) {
			return nil, nil
		}
		return []Bindings{bs}, nil
	}

	v = unoptional(v)
	if v == "?" {
		return []Bindings{bs}, nil
	}
	if bound, have := bs[v]; have {
		return m.match(bound, fact, bs)
	}
	bs[v] = fact
	return []Bindings{bs}, nil
}

func (m *Matcher) matchMap(pattern map[string]interface{}, fact map[string]interface{}, bs Bindings) ([]Bindings, error) {
	// Go's map order is random, and bindings make the order of
	// evaluation visible in the results.
	ks := make([]string, 0, len(pattern))
	for k := range pattern {
		ks = append(ks, k)
	}
	sort.Strings(ks)

	bss := []Bindings{bs}
	for _, k := range ks {
		v := pattern[k]
		fv, have := fact[k]
		if !have {
			if isOptional(v) {
				continue
			}
			return nil, nil
		}
		acc := make([]Bindings, 0, len(bss))
		for _, bs := range bss {
			got, err := m.match(v, fv, bs.Copy())
			if err != nil {
				return nil, err
			}
			acc = append(acc, got...)
		}
		if 0 == len(acc) {
			return nil, nil
		}
		bss = acc
	}
	return bss, nil
}

func (m *Matcher) matchArray(pattern []interface{}, fact []interface{}, bs Bindings) ([]Bindings, error) {
	remaining := make([]interface{}, 0, len(fact))
	for _, x := range fact {
		remaining = append(remaining, fudge(x))
	}

	structured := make([]interface{}, 0, len(pattern))
LOOP:
	for _, x := range pattern {
		x = fudge(x)
		if !isConstant(x) {
			structured = append(structured, x)
			continue
		}
		for i, y := range remaining {
			if isConstant(y) && x == y {
				remaining = append(remaining[:i:i], remaining[i+1:]...)
				continue LOOP
			}
		}
		return nil, nil
	}

	return m.assign(structured, remaining, bs)
}

// assign matches each pattern against a distinct fact, backtracking
// as needed.
func (m *Matcher) assign(patterns []interface{}, facts []interface{}, bs Bindings) ([]Bindings, error) {
	if 0 == len(patterns) {
		return []Bindings{bs}, nil
	}
	p := patterns[0]

	var acc []Bindings
	for i, f := range facts {
		bss, err := m.match(p, f, bs.Copy())
		if err != nil {
			return nil, err
		}
		if 0 == len(bss) {
			continue
		}
		rest := append(facts[:i:i], facts[i+1:]...)
		for _, b := range bss {
			more, err := m.assign(patterns[1:], rest, b)
			if err != nil {
				return nil, err
			}
			acc = append(acc, more...)
		}
	}

	if isOptional(p) {
		more, err := m.assign(patterns[1:], facts, bs)
		if err != nil {
			return nil, err
		}
		acc = append(acc, more...)
	}

	return acc, nil
}

// Check reports problems with a pattern that would otherwise only
// show up during matching.
func (m *Matcher) Check(pattern interface{}) error {
	switch vv := fudge(pattern).(type) {
	case nil, bool, float64:
		return nil
	case string:
		if IsVariable(vv) {
			_, _, _, err := m.inequality(vv)
			return err
		}
		return nil
	case map[string]interface{}:
		for k, v := range vv {
			if err := m.Check(v); err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
		}
		return nil
	case []interface{}:
		for i, v := range vv {
			if err := m.Check(v); err != nil {
				return fmt.Errorf("%d: %w", i, err)
			}
		}
		return nil
	default:
		return &UnknownPatternType{pattern}
	}
}

// CheckMap is Check for a pattern that must be a map.
func CheckMap(pattern interface{}) error {
	if _, is := pattern.(map[string]interface{}); !is {
		return NotAMap
	}
	return DefaultMatcher.Check(pattern)
}
