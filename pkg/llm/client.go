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
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/teradata-labs/tapestry/pkg/shuttle"
	"go.uber.org/zap"
)

// Client streams chat completions from one OpenAI-compatible endpoint.
type Client struct {
	cfg        *Config
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a client for cfg. The HTTP client carries no timeout of
// its own; per-call timeouts come from the call context so cancellation and
// deadline handling stay in one place.
func NewClient(cfg *Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := *cfg
	c.applyDefaults()
	return &Client{
		cfg:        &c,
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.cfg.Model }

// Call streams one chat completion. Frames are delivered through onFrame as
// deltas arrive, ending with a FrameDone carrying the aggregated message.
//
// Error contract:
//   - transport errors and per-call timeouts are retried with exponential
//     backoff up to MaxRetries, then surfaced (ErrTimeout for deadlines,
//     *TransportError otherwise);
//   - cancellation of ctx aborts the stream, emits FrameDone with the
//     aggregate so far, and returns that partial message alongside the
//     context error;
//   - a final message with no content, no tool calls, and no reasoning
//     returns ErrEmptyResponse (never retried here: the flow decider owns
//     recovery).
func (c *Client) Call(ctx context.Context, messages []Message, tools []shuttle.Tool, onFrame FrameFunc) (*Message, error) {
	if onFrame == nil {
		onFrame = func(Frame) {}
	}

	body, err := c.buildRequest(messages, tools)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	delay := time.Duration(c.cfg.Retry.InitialDelayMs) * time.Millisecond
	maxDelay := time.Duration(c.cfg.Retry.MaxDelayMs) * time.Millisecond

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		msg, err := c.stream(ctx, body, onFrame)
		if err == nil {
			if msg.IsEmpty() {
				return msg, ErrEmptyResponse
			}
			if attempt > 0 {
				c.logger.Info("llm retry succeeded", zap.Int("attempt", attempt+1))
			}
			onFrame(Frame{Type: FrameDone, Message: msg})
			return msg, nil
		}

		// Cancellation wins over everything: hand back the aggregate so far.
		if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
			onFrame(Frame{Type: FrameDone, Message: msg})
			return msg, ctx.Err()
		}

		lastErr = err
		if attempt >= c.cfg.MaxRetries {
			break
		}

		c.logger.Warn("llm call failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", c.cfg.MaxRetries),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * c.cfg.Retry.Multiplier)
		if delay > maxDelay {
			delay = maxDelay
		}
	}

	if errors.Is(lastErr, context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w after %d attempts: %s", ErrTimeout, c.cfg.MaxRetries+1, lastErr)
	}
	return nil, fmt.Errorf("llm call failed after %d attempts: %w", c.cfg.MaxRetries+1, lastErr)
}

// stream performs one HTTP attempt and parses the SSE response.
// The returned message may be a partial aggregate when err is non-nil.
func (c *Client) stream(ctx context.Context, body []byte, onFrame FrameFunc) (*Message, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.cfg.EndpointURL, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Message: err.Error(), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if key := c.cfg.ResolveAPIKey(); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if callCtx.Err() != nil {
			return newAggregator().finalize(), callCtx.Err()
		}
		return nil, &TransportError{Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &TransportError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	agg := newAggregator()
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			break
		}

		var chunk chatCompletionStreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			// Malformed chunks are skipped, not fatal.
			continue
		}
		if chunk.Error != nil {
			return agg.finalize(), &TransportError{Message: chunk.Error.Message}
		}
		for _, choice := range chunk.Choices {
			for _, frame := range agg.addDelta(choice.Delta) {
				onFrame(frame)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		if callCtx.Err() != nil {
			return agg.finalize(), callCtx.Err()
		}
		return agg.finalize(), &TransportError{Message: fmt.Sprintf("reading stream: %v", err), Err: err}
	}
	if callCtx.Err() != nil {
		return agg.finalize(), callCtx.Err()
	}

	return agg.finalize(), nil
}

func (c *Client) buildRequest(messages []Message, tools []shuttle.Tool) ([]byte, error) {
	req := chatCompletionRequest{
		Model:       c.cfg.Model,
		Messages:    convertMessages(messages),
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
		Stream:      true,
	}
	if apiTools := convertTools(tools); len(apiTools) > 0 {
		req.Tools = apiTools
		req.ToolChoice = "auto"
	}
	return json.Marshal(req)
}

func convertMessages(messages []Message) []chatMessage {
	out := make([]chatMessage, 0, len(messages))
	for _, msg := range messages {
		api := chatMessage{Role: msg.Role, Content: msg.Content}
		switch msg.Role {
		case RoleAssistant:
			for _, tc := range msg.ToolCalls {
				argsJSON, err := json.Marshal(tc.Input)
				if err != nil {
					argsJSON = []byte("{}")
				}
				api.ToolCalls = append(api.ToolCalls, wireToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: functionCall{
						Name:      tc.Name,
						Arguments: string(argsJSON),
					},
				})
			}
		case RoleTool:
			api.ToolCallID = msg.ToolCallID
			api.Name = msg.Name
		}
		out = append(out, api)
	}
	return out
}

func convertTools(tools []shuttle.Tool) []wireTool {
	var out []wireTool
	for _, tool := range tools {
		api := wireTool{
			Type: "function",
			Function: functionDef{
				Name:        tool.Name(),
				Description: tool.Description(),
			},
		}
		if schema := tool.InputSchema(); schema != nil {
			if data, err := schema.ToJSON(); err == nil {
				var params map[string]interface{}
				if json.Unmarshal(data, &params) == nil {
					api.Function.Parameters = params
				}
			}
		}
		out = append(out, api)
	}
	return out
}
