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
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sseServer streams the given data lines in SSE format.
func sseServer(t *testing.T, lines []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, line := range lines {
			fmt.Fprintf(w, "data: %s\n\n", line)
			flusher.Flush()
		}
	}))
}

func testConfig(endpoint string) *Config {
	return &Config{
		EndpointURL: endpoint,
		Model:       "test-model",
		APIKey:      "test-key",
		TimeoutMs:   5000,
		MaxRetries:  2,
		Retry:       BackoffConfig{InitialDelayMs: 1, MaxDelayMs: 5, Multiplier: 2},
	}
}

func TestCallAggregatesStream(t *testing.T) {
	srv := sseServer(t, []string{
		`{"choices":[{"delta":{"role":"assistant","content":"Hel"}}]}`,
		`{"choices":[{"delta":{"content":"lo"}}]}`,
		`{"choices":[{"delta":{"reasoning_content":"thinking"}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"web_search","arguments":"{\"que"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"ry\":\"T\"}"}}]}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
		`[DONE]`,
	})
	defer srv.Close()

	var frames []Frame
	client := NewClient(testConfig(srv.URL), nil)
	msg, err := client.Call(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil,
		func(f Frame) { frames = append(frames, f) })

	require.NoError(t, err)
	assert.Equal(t, "Hello", msg.Content)
	assert.Equal(t, "thinking", msg.ReasoningContent)
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "call_1", msg.ToolCalls[0].ID)
	assert.Equal(t, "web_search", msg.ToolCalls[0].Name)
	assert.Equal(t, map[string]interface{}{"query": "T"}, msg.ToolCalls[0].Input)

	// frames stream in arrival order and end with Done
	require.NotEmpty(t, frames)
	assert.Equal(t, FrameContentDelta, frames[0].Type)
	last := frames[len(frames)-1]
	require.Equal(t, FrameDone, last.Type)
	assert.Equal(t, msg, last.Message)
}

func TestCallReasoningOnlyIsNotEmpty(t *testing.T) {
	srv := sseServer(t, []string{
		`{"choices":[{"delta":{"reasoning_content":"analyzing the problem..."}}]}`,
		`[DONE]`,
	})
	defer srv.Close()

	client := NewClient(testConfig(srv.URL), nil)
	msg, err := client.Call(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil, nil)

	require.NoError(t, err, "reasoning-only responses must not trigger the empty-response error")
	assert.Equal(t, "", msg.Content)
	assert.Equal(t, "analyzing the problem...", msg.ReasoningContent)
}

func TestCallEmptyResponse(t *testing.T) {
	srv := sseServer(t, []string{
		`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
		`[DONE]`,
	})
	defer srv.Close()

	client := NewClient(testConfig(srv.URL), nil)
	_, err := client.Call(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestCallRetriesTransportErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"recovered\"}}]}\n\ndata: [DONE]\n\n")
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL), nil)
	msg, err := client.Call(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil, nil)

	require.NoError(t, err)
	assert.Equal(t, "recovered", msg.Content)
	assert.Equal(t, int32(3), calls.Load())
}

func TestCallRetriesExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL), nil)
	_, err := client.Call(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil, nil)

	require.Error(t, err)
	var transportErr *TransportError
	assert.ErrorAs(t, err, &transportErr)
	assert.Equal(t, http.StatusBadGateway, transportErr.StatusCode)
}

func TestCallCancellationYieldsPartialAggregate(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n")
		flusher.Flush()
		<-release // hold the stream open until the client cancels
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	client := NewClient(testConfig(srv.URL), nil)

	var sawContent atomic.Bool
	done := make(chan struct{})
	var msg *Message
	var err error
	go func() {
		defer close(done)
		msg, err = client.Call(ctx, []Message{{Role: RoleUser, Content: "hi"}}, nil, func(f Frame) {
			if f.Type == FrameContentDelta {
				sawContent.Store(true)
				cancel()
			}
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cancellation not observed within grace period")
	}

	require.True(t, sawContent.Load())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	require.NotNil(t, msg, "cancellation must yield the aggregate so far")
	assert.Equal(t, "partial", msg.Content)
}

func TestCallTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.TimeoutMs = 50
	cfg.MaxRetries = 1
	client := NewClient(cfg, nil)

	_, err := client.Call(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestAggregatorUnparsableArguments(t *testing.T) {
	agg := newAggregator()
	agg.addDelta(chatMessageDelta{ToolCalls: []toolCallDelta{
		{Index: 0, ID: "call_1", Function: functionCall{Name: "broken", Arguments: "{not json"}},
	}})

	msg := agg.finalize()
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, map[string]interface{}{"_raw": "{not json"}, msg.ToolCalls[0].Input)
}

func TestAggregatorOrdersToolCallsByIndex(t *testing.T) {
	agg := newAggregator()
	agg.addDelta(chatMessageDelta{ToolCalls: []toolCallDelta{
		{Index: 1, ID: "call_b", Function: functionCall{Name: "second", Arguments: "{}"}},
		{Index: 0, ID: "call_a", Function: functionCall{Name: "first", Arguments: "{}"}},
	}})

	msg := agg.finalize()
	require.Len(t, msg.ToolCalls, 2)
	assert.Equal(t, "first", msg.ToolCalls[0].Name)
	assert.Equal(t, "second", msg.ToolCalls[1].Name)
}

func TestConfigRegistry(t *testing.T) {
	reg := NewConfigRegistry(map[string]*Config{
		"fast": {EndpointURL: "http://localhost:1", Model: "m"},
	})

	cfg, err := reg.Resolve("fast")
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxRetries, cfg.MaxRetries, "defaults applied")
	assert.Equal(t, DefaultTimeout, cfg.Timeout())

	_, err = reg.Resolve("missing")
	require.Error(t, err)
	var nfErr *ConfigNotFoundError
	assert.ErrorAs(t, err, &nfErr)
}
