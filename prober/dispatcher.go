package prober

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/Laisky/errors/v2"
	glog "github.com/Laisky/go-utils/v5/log"
	"github.com/Laisky/zap"

	"github.com/nebulablock/rpdprobe/common/helper"
	"github.com/nebulablock/rpdprobe/common/logger"
)

const (
	defaultRequestTimeout = 30 * time.Second
	maxResponseBodySize   = 1 << 20 // 1 MiB
	userAgent             = "rpdprobe/1.0"
)

// Request is one unit of work handed to a Dispatcher.
type Request struct {
	Index      int
	Credential string
	Payload    any
}

// Dispatcher sends a single request and reports its classified outcome.
// Implementations must not retry and must not return transport problems as panics;
// every failure is expressed as a RequestOutcome.
type Dispatcher interface {
	Dispatch(ctx context.Context, req Request) RequestOutcome
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, req Request) RequestOutcome

func (f DispatcherFunc) Dispatch(ctx context.Context, req Request) RequestOutcome {
	return f(ctx, req)
}

// HTTPDispatcher posts JSON payloads to a chat completion endpoint with bearer authentication.
// It holds no per-request state and is safe for concurrent use.
type HTTPDispatcher struct {
	endpoint   string
	client     *http.Client
	timeout    time.Duration
	classifier Classifier
	logger     glog.Logger
}

type DispatcherOption func(*HTTPDispatcher)

// WithHTTPClient replaces the default client. Its own Timeout is left as is;
// the per-request deadline comes from WithRequestTimeout.
func WithHTTPClient(c *http.Client) DispatcherOption {
	return func(d *HTTPDispatcher) { d.client = c }
}

func WithRequestTimeout(timeout time.Duration) DispatcherOption {
	return func(d *HTTPDispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

func WithClassifier(c Classifier) DispatcherOption {
	return func(d *HTTPDispatcher) { d.classifier = c }
}

func WithDispatcherLogger(lg glog.Logger) DispatcherOption {
	return func(d *HTTPDispatcher) { d.logger = lg }
}

func NewHTTPDispatcher(endpoint string, opts ...DispatcherOption) *HTTPDispatcher {
	d := &HTTPDispatcher{
		endpoint: endpoint,
		client:   &http.Client{},
		timeout:  defaultRequestTimeout,
		logger:   logger.Logger.Named("dispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *HTTPDispatcher) Endpoint() string { return d.endpoint }

// Dispatch performs one POST. Timeouts, transport errors and unexpected statuses all
// come back as Failed outcomes; nothing is retried.
func (d *HTTPDispatcher) Dispatch(ctx context.Context, req Request) (outcome RequestOutcome) {
	start := time.Now()
	outcome = RequestOutcome{Index: req.Index}
	defer func() {
		outcome.Duration = time.Since(start)
		if outcome.Category != CategorySuccess {
			d.logger.Debug("request not successful",
				zap.Int("index", outcome.Index),
				zap.String("category", string(outcome.Category)),
				zap.Int("status", outcome.StatusCode),
				zap.String("detail", helper.Shorten(outcome.Detail, 200)),
				zap.Duration("duration", outcome.Duration),
			)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	payload, err := json.Marshal(req.Payload)
	if err != nil {
		outcome.Category, outcome.Detail = d.classifier.Classify(nil, errors.Wrap(err, "marshal payload"))
		return outcome
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(payload))
	if err != nil {
		outcome.Category, outcome.Detail = d.classifier.Classify(nil, errors.Wrap(err, "build request"))
		return outcome
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.Credential)
	httpReq.Header.Set("User-Agent", userAgent)

	resp, err := d.client.Do(httpReq)
	if err != nil {
		outcome.Category, outcome.Detail = d.classifier.Classify(nil, err)
		return outcome
	}
	defer resp.Body.Close()
	outcome.StatusCode = resp.StatusCode

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		outcome.Category, outcome.Detail = d.classifier.Classify(nil, errors.Wrap(err, "read response"))
		return outcome
	}

	outcome.Category, outcome.Detail = d.classifier.Classify(&Response{StatusCode: resp.StatusCode, Body: body}, nil)
	return outcome
}
