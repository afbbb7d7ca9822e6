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
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/teradata-labs/tapestry/pkg/builtin"
	"github.com/teradata-labs/tapestry/pkg/engine"
	"github.com/teradata-labs/tapestry/pkg/events"
)

var runCmd = &cobra.Command{
	Use:   `run "<research goal>"`,
	Short: "Execute one research run and stream its progress",
	Long: `Start a run for the given research goal. The Principal plans work
modules, dispatches Associates, and synthesizes a final report, which is
printed when the run completes.

Examples:
  tapestry run "Summarize recent research on LLM agent orchestration"
  tapestry run --state-dump runs.db "Compare vector database architectures"`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	logger := buildLogger()
	defer func() { _ = logger.Sync() }()

	a, err := buildApp(logger)
	if err != nil {
		return err
	}
	r, err := a.newRun()
	if err != nil {
		return err
	}

	sub := r.Bus().Subscribe(1024)
	if err := r.Start(args[0]); err != nil {
		return err
	}
	fmt.Printf("run %s started\n\n", r.ID())

	// Ctrl-C cancels the run; the event loop drains until RunEnd.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\ninterrupt received, cancelling run")
		r.Cancel()
	}()

	for ev := range sub.C {
		printEvent(ev)
	}

	outcome := r.Wait()
	if report, ok := r.Team().SharedContext()[builtin.SharedContextReportKey].(string); ok {
		fmt.Printf("\n%s\n", report)
	}
	if outcome.Status != engine.OutcomeSuccess {
		return fmt.Errorf("run ended with outcome %s: %s", outcome.Status, outcome.ErrorMessage)
	}
	return nil
}

// printEvent renders one bus event for the terminal.
func printEvent(ev events.Event) {
	switch ev.Type {
	case events.TypeLLMChunk:
		if ev.Payload["chunk_type"] == "content_delta" {
			fmt.Print(ev.Payload["delta"])
		}
	case events.TypeLLMResponse:
		fmt.Println()
	case events.TypeToolCall:
		fmt.Printf("[%s] -> %v\n", ev.FlowID, ev.Payload["tool_name"])
	case events.TypeToolResult:
		status := "ok"
		if isErr, _ := ev.Payload["is_error"].(bool); isErr {
			status = "error"
		}
		fmt.Printf("[%s] <- %v (%s)\n", ev.FlowID, ev.Payload["tool_name"], status)
	case events.TypeWorkModulesUpdate:
		fmt.Printf("[%s] work modules updated\n", ev.FlowID)
	case events.TypeDispatchStart:
		fmt.Printf("[%s] dispatching module %v to %v\n", ev.FlowID, ev.Payload["module_id"], ev.Payload["agent_profile"])
	case events.TypeDispatchComplete:
		fmt.Printf("[%s] dispatch complete\n", ev.FlowID)
	case events.TypeFlowEnd:
		fmt.Printf("[%s] flow ended: %v\n", ev.FlowID, ev.Payload["outcome"])
	case events.TypeRunEnd:
		fmt.Printf("\nrun ended: %v\n", ev.Payload["outcome"])
	}
}
