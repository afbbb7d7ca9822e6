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
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/teradata-labs/tapestry/pkg/profile"
)

var validateCmd = &cobra.Command{
	Use:   "validate [dir]",
	Short: "Validate agent profiles",
	Long: `Load every profile in the directory and resolve its inheritance
chain, reporting unknown base profiles, cycles, and invalid actions.

Examples:
  tapestry validate profiles/`,
	Args: cobra.ExactArgs(1),
	Run:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) {
	dir := args[0]
	raw, err := profile.LoadAll(dir, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to load %s: %v\n", dir, err)
		os.Exit(1)
	}

	resolver := profile.NewResolver(raw)
	failed := false
	for _, name := range resolver.Names() {
		p, err := resolver.Resolve(name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "❌ %s: %v\n", name, err)
			failed = true
			continue
		}
		fmt.Printf("✅ %s (%s, %d segments, %d decider rules)\n",
			name, p.Type, len(p.SystemPromptConstruction.Segments), len(p.FlowDecider))
	}
	if failed {
		os.Exit(1)
	}
}
