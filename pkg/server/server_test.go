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
package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/tapestry/pkg/builtin"
	"github.com/teradata-labs/tapestry/pkg/engine"
	"github.com/teradata-labs/tapestry/pkg/llm"
	"github.com/teradata-labs/tapestry/pkg/profile"
	"github.com/teradata-labs/tapestry/pkg/run"
	"github.com/teradata-labs/tapestry/pkg/shuttle"
)

// oneShotLLM immediately asks to finish the flow.
type oneShotLLM struct{}

func (oneShotLLM) Call(ctx context.Context, messages []llm.Message, tools []shuttle.Tool, onFrame llm.FrameFunc) (*llm.Message, error) {
	msg := &llm.Message{
		Role:      llm.RoleAssistant,
		Content:   "wrapping up",
		ToolCalls: []llm.ToolCall{{ID: "c1", Name: "finish_flow", Input: map[string]interface{}{}}},
	}
	if onFrame != nil {
		onFrame(llm.Frame{Type: llm.FrameDone, Message: msg})
	}
	return msg, nil
}

func (oneShotLLM) Model() string { return "one-shot" }

// parkedLLM blocks until the run context is cancelled.
type parkedLLM struct{}

func (parkedLLM) Call(ctx context.Context, messages []llm.Message, tools []shuttle.Tool, onFrame llm.FrameFunc) (*llm.Message, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (parkedLLM) Model() string { return "parked" }

func testProfiles() *profile.Resolver {
	return profile.NewResolver(map[string]*profile.Profile{
		"Principal": {
			Name: "Principal",
			Type: profile.TypePrincipal,
			ToolAccessPolicy: profile.ToolAccessPolicy{
				AllowedToolsets: []string{builtin.ToolsetPlanning, builtin.ToolsetCore},
			},
			FlowDecider: []profile.Rule{
				{ID: "finish", Condition: "v['state.flags.finish_requested']",
					Action: profile.Action{Type: profile.ActionEndAgentTurn, Outcome: engine.OutcomeSuccess}},
				{ID: "acted", Condition: "v['state.current_action']",
					Action: profile.Action{Type: profile.ActionContinueWithTool}},
				{ID: "fallback", Condition: "True",
					Action: profile.Action{Type: profile.ActionEndAgentTurn, Outcome: engine.OutcomeError, ErrorMessage: "no action"}},
			},
		},
	})
}

func factoryWith(caller engine.LLMCaller) RunFactory {
	return func() (*run.Run, error) {
		registry := shuttle.NewRegistry()
		builtin.RegisterAll(registry, builtin.Options{})
		return run.New(run.Options{
			Profiles:         testProfiles(),
			Registry:         registry,
			LLM:              func(ref string) (engine.LLMCaller, error) { return caller, nil },
			PrincipalProfile: "Principal",
			Config:           run.Config{MaxTurnsPerFlow: 4},
		})
	}
}

func newTestServer(t *testing.T, caller engine.LLMCaller) *httptest.Server {
	t.Helper()
	s, err := New(Options{NewRun: factoryWith(caller)})
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, oneShotLLM{})
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStartRunAndStatus(t *testing.T) {
	ts := newTestServer(t, oneShotLLM{})

	resp, body := postJSON(t, ts.URL+"/v1/runs", `{"prompt": "short task"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	runID, ok := body["run_id"].(string)
	require.True(t, ok)
	require.NotEmpty(t, runID)

	statusResp, err := http.Get(ts.URL + "/v1/runs/" + runID)
	require.NoError(t, err)
	defer statusResp.Body.Close()
	assert.Equal(t, http.StatusOK, statusResp.StatusCode)

	var status map[string]any
	require.NoError(t, json.NewDecoder(statusResp.Body).Decode(&status))
	assert.Equal(t, runID, status["run_id"])
	assert.Contains(t, status, "team")
}

func TestStartRunRequiresPrompt(t *testing.T) {
	ts := newTestServer(t, oneShotLLM{})
	resp, _ := postJSON(t, ts.URL+"/v1/runs", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUnknownRunIs404(t *testing.T) {
	ts := newTestServer(t, oneShotLLM{})
	resp, err := http.Get(ts.URL + "/v1/runs/run_nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEventStreamDeliversRunEnd(t *testing.T) {
	ts := newTestServer(t, parkedLLM{})

	resp, body := postJSON(t, ts.URL+"/v1/runs", `{"prompt": "long task"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	runID := body["run_id"].(string)

	// Attach to the stream, then cancel the run; the stream must carry
	// run_end and then close.
	streamed := make(chan string, 1)
	go func() {
		streamResp, err := http.Get(ts.URL + "/v1/runs/" + runID + "/events")
		if err != nil {
			streamed <- "request failed: " + err.Error()
			return
		}
		defer streamResp.Body.Close()
		data, _ := io.ReadAll(streamResp.Body)
		streamed <- string(data)
	}()

	// Give the subscriber a moment to attach before cancelling.
	time.Sleep(100 * time.Millisecond)
	cancelResp, cancelBody := postJSON(t, ts.URL+"/v1/runs/"+runID+"/cancel", `{}`)
	assert.Equal(t, http.StatusAccepted, cancelResp.StatusCode)
	assert.Equal(t, "cancelling", cancelBody["status"])

	select {
	case data := <-streamed:
		assert.Contains(t, data, "run_end")
		assert.Contains(t, data, "cancelled")
	case <-time.After(5 * time.Second):
		t.Fatal("event stream did not terminate after cancel")
	}
}
