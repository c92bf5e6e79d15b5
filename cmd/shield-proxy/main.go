// Command shield-proxy runs the shield in front of an HTTP origin.
//
// Configuration comes from the YAML file named by SHIELD_CONFIG, with
// SHIELD_LISTEN, SHIELD_UPSTREAM, SHIELD_LOG_LEVEL, SHIELD_LOG_PRETTY and
// SHIELD_TRACE overriding it.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"

	"github.com/Sternrassler/http-shield/pkg/config"
	"github.com/Sternrassler/http-shield/pkg/logging"
	"github.com/Sternrassler/http-shield/pkg/metrics"
	"github.com/Sternrassler/http-shield/pkg/shield"
	"github.com/Sternrassler/http-shield/pkg/upstream"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load(config.LoadOptions{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "shield-proxy: %v\n", err)
		os.Exit(1)
	}
	logging.Setup(cfg.Logging())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("Proxy failed")
	}
	log.Info().Msg("Shutdown complete")
}

// run serves until ctx is cancelled, then shuts the server down.
func run(ctx context.Context, cfg config.Config) error {
	shutdownTracing, err := setupTracing(cfg.Trace)
	if err != nil {
		return err
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(tctx); err != nil {
			log.Warn().Err(err).Msg("Trace provider shutdown failed")
		}
	}()

	handler, engine, err := newProxy(cfg)
	if err != nil {
		return err
	}
	defer engine.Close()

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().
			Str("listen", cfg.Listen).
			Str("upstream", cfg.Upstream.BaseURL).
			Int("rules", len(cfg.Rules)).
			Msg("Starting shield proxy")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutdown initiated")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(sctx)
	})
	return g.Wait()
}

// newProxy wires the origin client behind the engine.
func newProxy(cfg config.Config) (http.Handler, *shield.Engine, error) {
	client, err := upstream.New(cfg.UpstreamClient())
	if err != nil {
		return nil, nil, fmt.Errorf("create upstream client: %w", err)
	}

	engineCfg, err := cfg.ShieldConfig()
	if err != nil {
		return nil, nil, err
	}
	engine, err := shield.New(engineCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("create engine: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/stats", statsHandler(engine))
	mux.Handle("/", engine.Handler(client))
	return mux, engine, nil
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func statsHandler(engine *shield.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := engine.Stats()
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "inflight %d\ncache_entries %d\npass %d\nhit %d\nqueue %d\nthrough %d\nrefuse %d\n",
			s.InFlight, s.CacheEntries, s.PassThrough, s.Hits, s.Queued, s.Through, s.Rejected)
		fmt.Fprintf(w, "success %d\nerror %d\nredirect %d\ntimeout %d\nlate %d\n",
			s.Successes, s.Errors, s.Redirects, s.Timeouts, s.LateSignals)
	}
}

// setupTracing installs a global trace provider for the named exporter.
// The returned func flushes and stops it.
func setupTracing(exporter string) (func(context.Context) error, error) {
	switch exporter {
	case "":
		return func(context.Context) error { return nil }, nil
	case "stdout":
		exp, err := stdouttrace.New(stdouttrace.WithWriter(os.Stdout))
		if err != nil {
			return nil, fmt.Errorf("create trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.AlwaysSample()),
			sdktrace.WithBatcher(exp),
		)
		otel.SetTracerProvider(tp)
		return tp.Shutdown, nil
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", exporter)
	}
}
