package simulator

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	gmw "github.com/Laisky/gin-middlewares/v6"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nebulablock/rpdprobe/common/graceful"
	"github.com/nebulablock/rpdprobe/common/helper"
	"github.com/nebulablock/rpdprobe/common/logger"
	relaymodel "github.com/nebulablock/rpdprobe/relay/model"
)

// Server is an OpenAI-compatible chat completion endpoint that enforces
// per-key daily request limits.
type Server struct {
	quota    *Quota
	latency  time.Duration
	logLevel string
	registry prometheus.Registerer
	metrics  *serverMetrics
}

type Option func(*Server)

// WithLatency delays every admitted response.
func WithLatency(d time.Duration) Option {
	return func(s *Server) { s.latency = d }
}

// WithLogLevel sets the level of the gin access log.
func WithLogLevel(level string) Option {
	return func(s *Server) { s.logLevel = level }
}

// WithRegisterer exports request counters to reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *Server) { s.registry = reg }
}

func New(quota *Quota, opts ...Option) (*Server, error) {
	s := &Server{
		quota:    quota,
		logLevel: "info",
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry != nil {
		m, err := newServerMetrics(s.registry)
		if err != nil {
			return nil, err
		}
		s.metrics = m
	}
	return s, nil
}

func (s *Server) Quota() *Quota { return s.quota }

// Router builds the gin engine. Callers may add routes before serving it.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.RedirectTrailingSlash = false
	r.Use(
		PanicRecover(),
		gmw.NewLoggerMiddleware(
			gmw.WithLoggerMwColored(),
			gmw.WithLevel(s.logLevel),
			gmw.WithLogger(logger.Logger.Named("gin")),
		),
		RequestId(),
		graceful.GinRequestTracker(),
	)

	r.POST("/v1/chat/completions", s.chatCompletions)

	admin := r.Group("/admin")
	admin.POST("/reset", s.reset)
	admin.GET("/usage", s.usage)
	return r
}

func abortWithError(c *gin.Context, status int, errType, code, message string) {
	c.AbortWithStatusJSON(status, relaymodel.ErrorResponse{
		Error: relaymodel.Error{
			Message: message,
			Type:    errType,
			Code:    code,
		},
	})
}

func bearerToken(header string) string {
	token, ok := strings.CutPrefix(strings.TrimSpace(header), "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

func (s *Server) chatCompletions(c *gin.Context) {
	lg := gmw.GetLogger(c)

	key := bearerToken(c.GetHeader("Authorization"))
	if key == "" {
		s.metrics.observe(VerdictUnknownKey)
		abortWithError(c, http.StatusUnauthorized, "invalid_request_error", "missing_api_key", "no API key provided")
		return
	}

	var req relaymodel.ChatCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "invalid_request_error", "invalid_body", "invalid request body: "+err.Error())
		return
	}
	if req.Stream {
		abortWithError(c, http.StatusBadRequest, "invalid_request_error", "stream_unsupported", "streaming is not supported")
		return
	}
	if len(req.Messages) == 0 {
		abortWithError(c, http.StatusBadRequest, "invalid_request_error", "invalid_body", "messages must not be empty")
		return
	}

	verdict, policy := s.quota.Admit(key)
	s.metrics.observe(verdict)
	switch verdict {
	case VerdictUnknownKey:
		lg.Debug("unknown api key", zap.String("key", helper.MaskKey(key)))
		abortWithError(c, http.StatusUnauthorized, "invalid_request_error", "invalid_api_key", "incorrect API key provided")
		return
	case VerdictForcedFailure:
		abortWithError(c, policy.FailStatus, "upstream_error", "simulated_failure",
			fmt.Sprintf("simulated failure with status %d", policy.FailStatus))
		return
	case VerdictRateLimited:
		lg.Info("daily limit reached",
			zap.String("key", helper.MaskKey(key)),
			zap.String("limit", policy.Limit.String()))
		abortWithError(c, http.StatusTooManyRequests, "rate_limit_error", "rate_limit_exceeded",
			fmt.Sprintf("Rate limit reached: %s requests per day", policy.Limit.String()))
		return
	}

	if s.latency > 0 {
		select {
		case <-time.After(s.latency):
		case <-c.Request.Context().Done():
			return
		}
	}

	content := "Hello from rpdsim."
	c.JSON(http.StatusOK, relaymodel.TextResponse{
		Id:      "chatcmpl-" + c.GetString(requestIdCtxKey),
		Object:  "chat.completion",
		Created: helper.GetTimestamp(),
		Model:   req.Model,
		Choices: []relaymodel.TextResponseChoice{{
			Index:        0,
			Message:      &relaymodel.Message{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
		Usage: relaymodel.Usage{PromptTokens: 12, CompletionTokens: 4, TotalTokens: 16},
	})
}

func (s *Server) reset(c *gin.Context) {
	s.quota.Reset()
	gmw.GetLogger(c).Info("quota counters reset")
	c.JSON(http.StatusOK, gin.H{"success": true, "message": ""})
}

func (s *Server) usage(c *gin.Context) {
	masked := make(map[string]int)
	for k, v := range s.quota.Usage() {
		masked[helper.MaskKey(k)] = v
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": masked})
}
