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
package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// LoadAll reads every profile document (*.yaml, *.yml) in dir into a raw
// table keyed by profile name. Profiles are loaded once at boot; the table
// is read-only afterwards.
func LoadAll(dir string, logger *zap.Logger) (map[string]*Profile, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading profile directory %s: %w", dir, err)
	}

	profiles := make(map[string]*Profile)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		p, err := LoadFile(path)
		if err != nil {
			return nil, err
		}

		if _, dup := profiles[p.Name]; dup {
			return nil, fmt.Errorf("duplicate profile name %q in %s", p.Name, path)
		}
		profiles[p.Name] = p

		logger.Debug("loaded profile",
			zap.String("name", p.Name),
			zap.String("type", p.Type),
			zap.String("base", p.BaseProfile),
			zap.String("file", entry.Name()),
		)
	}

	logger.Info("profiles loaded", zap.Int("count", len(profiles)), zap.String("dir", dir))
	return profiles, nil
}

// LoadFile parses a single profile document.
func LoadFile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profile %s: %w", path, err)
	}
	return Parse(data, path)
}

// Parse decodes a profile document. Unknown keys are tolerated.
func Parse(data []byte, source string) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing profile %s: %w", source, err)
	}
	if p.Name == "" {
		return nil, fmt.Errorf("profile %s: missing required key 'name'", source)
	}
	return &p, nil
}
