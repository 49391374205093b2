// Package e2e holds black-box suites that drive the prober over real HTTP,
// either against the bundled simulator or a live endpoint.
package e2e

import (
	"net/http"
	"time"

	"github.com/nebulablock/rpdprobe/common"
	"github.com/nebulablock/rpdprobe/common/config"
	"github.com/nebulablock/rpdprobe/common/env"
)

// Config drives which suites run and against what.
type Config struct {
	// Live enables the suite that talks to the real endpoint and spends real quota.
	Live bool
	// LiveMode is smoke (one request per tier) or validate (full boundary walk).
	LiveMode string
	Endpoint string
	Tiers    []string
	Timeout  time.Duration
}

func LoadConfig() Config {
	return Config{
		Live:     env.Bool("E2E_LIVE", false),
		LiveMode: env.String("E2E_LIVE_MODE", "smoke"),
		Endpoint: config.ChatCompletionsURL(),
		Tiers:    common.SplitList(env.String("E2E_TIERS", "")),
		Timeout:  env.Duration("E2E_TIMEOUT", 30*time.Minute),
	}
}

// LoopbackClient keeps connections to a local server alive across a large batch.
func LoopbackClient(maxConns int) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = maxConns
	transport.MaxIdleConnsPerHost = maxConns
	return &http.Client{Transport: transport}
}
