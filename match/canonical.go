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

package match

import (
	"encoding/json"
	"errors"
)

// Canonicalize converts a value into what encoding/json would give
// back: map[string]interface{}, []interface{}, float64, string, bool,
// or nil.
func Canonicalize(x interface{}) (interface{}, error) {
	x, err := stringMaps(x)
	if err != nil {
		return nil, err
	}

	js, err := json.Marshal(&x)
	if err != nil {
		return nil, err
	}
	var y interface{}
	if err = json.Unmarshal(js, &y); err != nil {
		return nil, err
	}

	return y, nil
}

// stringMaps recursively converts map[interface{}]interface{} to
// map[string]interface{}, which some YAML decoders like to produce.
//
// Doesn't work through structs.
func stringMaps(x interface{}) (interface{}, error) {
	switch vv := x.(type) {
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(vv))
		for thing, val := range vv {
			s, is := thing.(string)
			if !is {
				return nil, errors.New("non-string key")
			}
			val, err := stringMaps(val)
			if err != nil {
				return nil, err
			}
			m[s] = val
		}
		return m, nil
	case map[string]interface{}:
		m := make(map[string]interface{}, len(vv))
		for s, val := range vv {
			val, err := stringMaps(val)
			if err != nil {
				return nil, err
			}
			m[s] = val
		}
		return m, nil
	case []interface{}:
		acc := make([]interface{}, len(vv))
		for i, x := range vv {
			y, err := stringMaps(x)
			if err != nil {
				return nil, err
			}
			acc[i] = y
		}
		return acc, nil
	default:
		return x, nil
	}
}
