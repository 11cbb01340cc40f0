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

// Package config parses the optional YAML bootstrap file (spec.md §6,
// "Config file" **[EXPANDED]**) that seeds defaults below whatever the
// command-line flags and TQC_* environment overrides already set.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Bootstrap is the structured representation of the optional YAML
// bootstrap configuration. Every field is optional; a zero value means
// "let the flag default stand."
type Bootstrap struct {
	DefaultLimit      *int           `yaml:"defaultLimit"`
	NamespacePattern  *string        `yaml:"namespacePattern"`
	ManagedLabelValue *string        `yaml:"managedLabelValue"`
	TickInterval      *time.Duration `yaml:"tickInterval"`
}

// Load reads and parses the bootstrap file at path. An empty path is a
// no-op that returns a zero Bootstrap.
func Load(path string) (*Bootstrap, error) {
	if path == "" {
		return &Bootstrap{}, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading bootstrap config %q: %w", path, err)
	}

	var b Bootstrap
	if err := yaml.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("error unmarshalling bootstrap config %q: %w", path, err)
	}

	return &b, nil
}

// OverrideIfUnset replaces *target with the bootstrap value when the
// caller reports the flag was left at its default (flagIsDefault) and
// the bootstrap file actually set the field. Flags and TQC_*
// environment overrides always win over the bootstrap file, mirroring
// the precedence order spec.md §6 documents for the config file.
func OverrideIfUnset[T any](flagIsDefault bool, bootstrapValue *T, target *T) {
	if flagIsDefault && bootstrapValue != nil {
		*target = *bootstrapValue
	}
}
