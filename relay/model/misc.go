package model

// Usage is the token usage information returned by OpenAI-compatible APIs.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

type Error struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param"`
	Code    any    `json:"code"`
}

type ErrorWithStatusCode struct {
	Error
	StatusCode int `json:"status_code"`
}

// ErrorResponse is the envelope upstreams use for non-2xx bodies.
type ErrorResponse struct {
	Error Error `json:"error"`
}
