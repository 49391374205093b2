package prober

import (
	"fmt"

	relaymodel "github.com/nebulablock/rpdprobe/relay/model"
)

// PayloadFunc builds the request body for the request at index.
type PayloadFunc func(index int) any

// ChatPayload builds a minimal non-streaming chat completion whose prompt carries the request index.
func ChatPayload(model string, maxTokens int, temperature float64) PayloadFunc {
	return func(index int) any {
		temp := temperature
		return relaymodel.ChatCompletionRequest{
			Model: model,
			Messages: []relaymodel.Message{
				{Role: "user", Content: fmt.Sprintf("Test request #%d. Hi", index)},
			},
			MaxTokens:   maxTokens,
			Temperature: &temp,
			Stream:      false,
		}
	}
}
