package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/nebulablock/rpdprobe/common/config"
	"github.com/nebulablock/rpdprobe/common/env"
	"github.com/nebulablock/rpdprobe/common/graceful"
	"github.com/nebulablock/rpdprobe/common/logger"
	"github.com/nebulablock/rpdprobe/simulator"
)

type options struct {
	listen          string
	keys            string
	latency         time.Duration
	shutdownTimeout time.Duration
	debug           bool
}

func (o *options) AddFlags(f *pflag.FlagSet) {
	f.StringVar(&o.listen, "listen", env.String("RPDSIM_LISTEN", ":3009"), "address to serve on")
	f.StringVar(&o.keys, "keys", env.String("RPDSIM_KEYS", ""), "API keys and daily limits, e.g. sk-a=200,sk-b=unlimited,sk-c=fail:500")
	f.DurationVar(&o.latency, "latency", env.Duration("RPDSIM_LATENCY", 0), "delay added to every admitted response")
	f.DurationVar(&o.shutdownTimeout, "shutdown-timeout", 10*time.Second, "how long to wait for in-flight requests on shutdown")
	f.BoolVar(&o.debug, "debug", config.DebugEnabled, "verbose logging")
}

func main() {
	var opts options
	opts.AddFlags(pflag.CommandLine)
	pflag.Parse()

	config.DebugEnabled = opts.debug
	logger.SetupLogger()

	if os.Getenv("GIN_MODE") != gin.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		logger.Logger.Error("rpdsim failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	keys, err := simulator.ParseKeys(opts.keys)
	if err != nil {
		return errors.Wrap(err, "parse --keys")
	}
	if len(keys) == 0 {
		return errors.New("no keys configured, pass --keys or set RPDSIM_KEYS")
	}

	level := "info"
	if opts.debug {
		level = "debug"
	}
	sim, err := simulator.New(simulator.NewQuota(keys),
		simulator.WithLatency(opts.latency),
		simulator.WithLogLevel(level),
		simulator.WithRegisterer(prometheus.DefaultRegisterer),
	)
	if err != nil {
		return errors.Wrap(err, "build simulator")
	}

	router := sim.Router()
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:              opts.listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Logger.Info("rpdsim listening",
			zap.String("address", opts.listen),
			zap.Int("keys", len(keys)),
			zap.Duration("latency", opts.latency))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err, ok := <-serveErr:
		if ok {
			return errors.Wrap(err, "serve")
		}
		return nil
	case <-ctx.Done():
	}

	logger.Logger.Info("shutting down")
	graceful.SetDraining()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown http server")
	}
	return graceful.Drain(shutdownCtx)
}
