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
package run

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/teradata-labs/tapestry/pkg/engine"
	"github.com/teradata-labs/tapestry/pkg/llm"
	"github.com/teradata-labs/tapestry/pkg/team"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// Snapshot is the terminal state of a run, captured once after RunEnd.
type Snapshot struct {
	RunID             string         `json:"run_id"`
	Outcome           engine.Outcome `json:"outcome"`
	CompletedAt       time.Time      `json:"completed_at"`
	TeamView          map[string]any `json:"team"`
	Modules           []team.Module  `json:"work_modules"`
	PrincipalMessages []llm.Message  `json:"principal_messages"`
}

// DumpSink persists a run snapshot.
type DumpSink interface {
	Dump(snap *Snapshot) error
}

// NewSinkForPath picks a sink by file extension: .db and .sqlite get the
// SQLite archive, anything else gets a JSON file.
func NewSinkForPath(path string) (DumpSink, error) {
	if path == "" {
		return nil, fmt.Errorf("state dump path is empty")
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return NewSQLiteSink(path)
	default:
		return &JSONSink{Path: path}, nil
	}
}

// JSONSink writes the snapshot as one pretty-printed JSON document.
type JSONSink struct {
	Path string
}

func (s *JSONSink) Dump(snap *Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if dir := filepath.Dir(s.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create dump directory: %w", err)
		}
	}
	if err := os.WriteFile(s.Path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// SQLiteSink archives snapshots into a SQLite database. Multiple runs can
// share one archive file.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink opens (creating if needed) the archive at path.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create archive directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	s := &SQLiteSink{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteSink) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		outcome TEXT NOT NULL,
		error TEXT,
		team_view TEXT,
		completed_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS modules (
		module_id TEXT NOT NULL,
		run_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT,
		status TEXT NOT NULL,
		assigned_profile TEXT,
		assigned_role TEXT,
		deliverables TEXT,
		PRIMARY KEY (run_id, module_id),
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT,
		reasoning TEXT,
		tool_calls TEXT,
		tool_call_id TEXT,
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE INDEX IF NOT EXISTS idx_modules_run ON modules(run_id);
	CREATE INDEX IF NOT EXISTS idx_messages_run ON messages(run_id, seq);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize archive schema: %w", err)
	}
	return nil
}

func (s *SQLiteSink) Dump(snap *Snapshot) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin archive transaction: %w", err)
	}
	defer tx.Rollback()

	teamJSON, err := json.Marshal(snap.TeamView)
	if err != nil {
		return fmt.Errorf("failed to encode team view: %w", err)
	}
	if _, err := tx.Exec(
		`INSERT OR REPLACE INTO runs (id, outcome, error, team_view, completed_at) VALUES (?, ?, ?, ?, ?)`,
		snap.RunID, snap.Outcome.Status, snap.Outcome.ErrorMessage, string(teamJSON), snap.CompletedAt,
	); err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for _, mod := range snap.Modules {
		deliverables, err := json.Marshal(mod.Deliverables)
		if err != nil {
			return fmt.Errorf("failed to encode deliverables for %s: %w", mod.ModuleID, err)
		}
		if _, err := tx.Exec(
			`INSERT OR REPLACE INTO modules
			 (module_id, run_id, name, description, status, assigned_profile, assigned_role, deliverables)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			mod.ModuleID, snap.RunID, mod.Name, mod.Description, mod.Status,
			mod.AssignedProfileName, mod.AssignedRoleName, string(deliverables),
		); err != nil {
			return fmt.Errorf("failed to insert module %s: %w", mod.ModuleID, err)
		}
	}

	for i, msg := range snap.PrincipalMessages {
		var toolCalls string
		if len(msg.ToolCalls) > 0 {
			data, err := json.Marshal(msg.ToolCalls)
			if err != nil {
				return fmt.Errorf("failed to encode tool calls: %w", err)
			}
			toolCalls = string(data)
		}
		if _, err := tx.Exec(
			`INSERT INTO messages (run_id, seq, role, content, reasoning, tool_calls, tool_call_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			snap.RunID, i, msg.Role, msg.Content, msg.ReasoningContent, toolCalls, msg.ToolCallID,
		); err != nil {
			return fmt.Errorf("failed to insert message %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit archive transaction: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
