/*
Copyright 2026 The tekton-queue-controller Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package tekton

import (
	"fmt"
	"regexp"
	"strings"
)

// NamespaceMatcher compiles a glob pattern (the only wildcard is "*",
// matching any run of characters) once at startup, rather than
// re-parsing it on every classification pass.
//
// No glob library appears anywhere in the example pack, so this is a
// deliberate, narrow standard-library substitute.
type NamespaceMatcher struct {
	pattern string
	re      *regexp.Regexp
}

// NewNamespaceMatcher compiles pattern into a NamespaceMatcher.
func NewNamespaceMatcher(pattern string) (*NamespaceMatcher, error) {
	if pattern == "" {
		return nil, fmt.Errorf("namespace pattern must not be empty")
	}
	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	re, err := regexp.Compile("^" + strings.Join(parts, ".*") + "$")
	if err != nil {
		return nil, fmt.Errorf("error compiling namespace pattern %q: %w", pattern, err)
	}
	return &NamespaceMatcher{pattern: pattern, re: re}, nil
}

// Match reports whether namespace falls within the managed set.
func (m *NamespaceMatcher) Match(namespace string) bool {
	return m.re.MatchString(namespace)
}

// String returns the original pattern.
func (m *NamespaceMatcher) String() string {
	return m.pattern
}
