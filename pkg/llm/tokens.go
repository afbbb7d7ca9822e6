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
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encoderOnce sync.Once
	encoder     *tiktoken.Tiktoken
)

// per-message overhead in the OpenAI chat format
const tokensPerMessage = 4

// EstimateTokens approximates the prompt size of a message list. Used for
// logging and budget warnings only, so a rough count is fine: unknown
// models fall back to the cl100k_base encoding, and if no encoding is
// available at all we approximate at four characters per token.
func EstimateTokens(model string, messages []Message) int {
	encoderOnce.Do(func() {
		enc, err := tiktoken.EncodingForModel(model)
		if err != nil {
			enc, err = tiktoken.GetEncoding("cl100k_base")
			if err != nil {
				return
			}
		}
		encoder = enc
	})

	total := 0
	for _, msg := range messages {
		total += tokensPerMessage
		total += countTokens(msg.Content)
		total += countTokens(msg.ReasoningContent)
		for _, tc := range msg.ToolCalls {
			total += countTokens(tc.Name)
		}
	}
	return total
}

func countTokens(text string) int {
	if text == "" {
		return 0
	}
	if encoder == nil {
		return len(text) / 4
	}
	return len(encoder.Encode(text, nil, nil))
}
