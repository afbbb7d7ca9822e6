// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package statepath resolves and mutates dotted paths over a tree of plain
// Go values (map[string]any, []any, string, number, bool). It is the single
// mechanism profiles use to read and update run state, so lookups must never
// panic: an unresolvable path reports absence, nothing else.
package statepath

import (
	"fmt"
	"strconv"
	"strings"
)

// Resolve walks path ("team.work_modules.wm_1.status") through root.
// Numeric components index into lists. Returns (nil, false) when any
// component is missing or the value cannot be descended into.
func Resolve(root map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	var current any = root
	for _, part := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			v, ok := node[part]
			if !ok {
				return nil, false
			}
			current = v
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// Set writes value at path, creating intermediate maps as needed.
// Fails only when an intermediate component exists and is not a map.
func Set(root map[string]any, path string, value any) error {
	parent, last, err := descend(root, path)
	if err != nil {
		return err
	}
	parent[last] = value
	return nil
}

// Increment adds delta to the number at path, treating an absent value as 0.
func Increment(root map[string]any, path string, delta float64) error {
	parent, last, err := descend(root, path)
	if err != nil {
		return err
	}
	current, ok := parent[last]
	if !ok {
		parent[last] = delta
		return nil
	}
	n, ok := AsNumber(current)
	if !ok {
		return fmt.Errorf("statepath: cannot increment non-numeric value at %q", path)
	}
	parent[last] = n + delta
	return nil
}

// Append appends value to the list at path, creating the list if absent.
func Append(root map[string]any, path string, value any) error {
	parent, last, err := descend(root, path)
	if err != nil {
		return err
	}
	current, ok := parent[last]
	if !ok {
		parent[last] = []any{value}
		return nil
	}
	list, ok := current.([]any)
	if !ok {
		return fmt.Errorf("statepath: cannot append to non-list value at %q", path)
	}
	parent[last] = append(list, value)
	return nil
}

// descend returns the map holding the final path component, creating
// intermediate maps along the way.
func descend(root map[string]any, path string) (map[string]any, string, error) {
	if path == "" {
		return nil, "", fmt.Errorf("statepath: empty path")
	}
	parts := strings.Split(path, ".")
	current := root
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part]
		if !ok {
			child := make(map[string]any)
			current[part] = child
			current = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return nil, "", fmt.Errorf("statepath: %q blocked by non-map component %q", path, part)
		}
		current = child
	}
	return current, parts[len(parts)-1], nil
}

// Truthy reports whether a resolved value counts as true in profile
// conditions. Absent (nil), empty string, zero, false, and empty
// collections are falsey; everything else is truthy.
func Truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		if n, ok := AsNumber(v); ok {
			return n != 0
		}
		return true
	}
}

// AsNumber converts any numeric Go value to float64.
func AsNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// Stringify renders a resolved value for template interpolation.
// Absent values render as the empty string.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// DeepCopy clones a value tree. Snapshots handed to the evaluator must not
// alias live state.
func DeepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = DeepCopy(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = DeepCopy(item)
		}
		return out
	default:
		return v
	}
}
