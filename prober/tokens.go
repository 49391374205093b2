package prober

import (
	"sync"

	"github.com/Laisky/zap"
	"github.com/pkoukk/tiktoken-go"

	"github.com/nebulablock/rpdprobe/common/config"
	"github.com/nebulablock/rpdprobe/common/logger"
	relaymodel "github.com/nebulablock/rpdprobe/relay/model"
)

const fallbackEncoding = "cl100k_base"

var (
	encoderMu sync.Mutex
	encoders  = map[string]*tiktoken.Tiktoken{}
)

// getTokenEncoder returns the model's encoder, cl100k_base for unknown models,
// or nil when no encoder can be loaded from TIKTOKEN_CACHE_DIR.
func getTokenEncoder(model string) *tiktoken.Tiktoken {
	encoderMu.Lock()
	defer encoderMu.Unlock()

	if enc, ok := encoders[model]; ok {
		return enc
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			logger.Logger.Warn("no token encoder available, using approximation",
				zap.String("model", model), zap.Error(err))
			enc = nil
		}
	}
	encoders[model] = enc
	return enc
}

func approximateTokens(text string) int {
	return int(float64(len(text)) * 0.38)
}

func countTextTokens(model, text string) int {
	if config.ApproximateTokenEnabled || config.TiktokenCacheDir == "" {
		return approximateTokens(text)
	}
	enc := getTokenEncoder(model)
	if enc == nil {
		return approximateTokens(text)
	}
	return len(enc.Encode(text, nil, nil))
}

// CountPromptTokens estimates the prompt size of a chat completion payload.
// Each message costs 3 tokens of framing plus its content, and the reply is primed with 3 more.
func CountPromptTokens(req relaymodel.ChatCompletionRequest) int {
	const tokensPerMessage = 3
	total := 3
	for _, msg := range req.Messages {
		total += tokensPerMessage
		total += countTextTokens(req.Model, msg.StringContent())
		total += countTextTokens(req.Model, msg.Role)
		if msg.Name != "" {
			total += countTextTokens(req.Model, msg.Name) + 1
		}
	}
	return total
}

// EstimatePayloadTokens returns the prompt estimate for chat payloads and 0 for anything else.
func EstimatePayloadTokens(payload any) int {
	switch p := payload.(type) {
	case relaymodel.ChatCompletionRequest:
		return CountPromptTokens(p)
	case *relaymodel.ChatCompletionRequest:
		if p == nil {
			return 0
		}
		return CountPromptTokens(*p)
	default:
		return 0
	}
}
