// cmd/sun2000/main.go
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

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tamzrod/sun2000-bridge/internal/collect"
	"github.com/tamzrod/sun2000-bridge/internal/config"
	"github.com/tamzrod/sun2000-bridge/internal/control"
	"github.com/tamzrod/sun2000-bridge/internal/driver"
	"github.com/tamzrod/sun2000-bridge/internal/poller"
	"github.com/tamzrod/sun2000-bridge/internal/state"
	"github.com/tamzrod/sun2000-bridge/internal/store"
	"github.com/tamzrod/sun2000-bridge/internal/transport"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: sun2000 <config.yaml>")
		os.Exit(2)
	}

	// --------------------
	// Load + validate config
	// --------------------

	cfg, err := config.Load(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err = run(ctx, cfg, log)
	stop()
	os.Exit(exitCode(log, err))
}

// exitCode reports how run ended. run's deferred cleanup has completed by then.
func exitCode(log zerolog.Logger, err error) int {
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("bridge stopped")
		return 1
	}
	log.Info().Msg("bridge stopped")
	return 0
}

func newLogger(lc config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(lc.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339

	var l zerolog.Logger
	if lc.Pretty {
		l = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	} else {
		l = zerolog.New(os.Stderr)
	}
	return l.Level(level).With().Timestamp().Logger()
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	clk := clock.New()
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	// --------------------
	// State store + cache
	// --------------------

	st, closeStore, err := buildStore(cfg.MQTT, log)
	if err != nil {
		return err
	}
	defer closeStore()

	sink := store.NewSink(st, log, clk)
	cache := state.New(sink)

	// --------------------
	// Shared link
	// --------------------

	sess, err := transport.New(transport.Config{
		Endpoint:     cfg.Modbus.Endpoint,
		Timeout:      cfg.Modbus.Timeout(),
		Delay:        cfg.Modbus.Delay(),
		ConnectDelay: cfg.Modbus.ConnectDelay(),
		AutoAdjust:   cfg.Modbus.AutoAdjust,
		MinDelay:     cfg.Modbus.MinDelay(),
		MaxDelay:     cfg.Modbus.MaxDelay(),
		Logger:       log.With().Str("component", "transport").Logger(),
		Clock:        clk,
		Metrics:      transport.NewMetrics(reg),
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.Open(ctx, cfg.Modbus.ConnectRetries); err != nil {
		return fmt.Errorf("modbus open %s: %w", cfg.Modbus.Endpoint, err)
	}

	// --------------------
	// Devices + controls
	// --------------------

	drivers, err := poller.BuildDrivers(cfg, cache, clk, log)
	if err != nil {
		return err
	}

	controls := make(map[string]poller.Controller)
	var inverters []string
	for _, d := range drivers {
		declareObjects(ctx, sink, d, log)

		if d.Model() == driver.InverterModel {
			inverters = append(inverters, d.Name())
		}

		q, err := control.ForDriver(d, control.StoreAcker{Store: st, Device: d.Name(), Clock: clk}, log)
		if err != nil {
			return err
		}
		if q == nil {
			continue
		}
		if err := control.Declare(ctx, st, q); err != nil {
			log.Warn().Err(err).Str("device", d.Name()).Msg("control objects not declared")
		}
		if err := control.Subscribe(st, q, log); err != nil {
			return fmt.Errorf("subscribe controls %s: %w", d.Name(), err)
		}
		controls[d.Name()] = control.Binding{
			Queue:  q,
			Writer: control.Mirror(sess.Unit(d.UnitID()), d.Registers()),
		}
	}

	collector, err := collect.New(collect.Config{Inverters: inverters, Cache: cache, Logger: log})
	if err != nil {
		return err
	}

	sched, err := poller.Build(cfg, sess, drivers, controls, []poller.Hook{collector}, clk, poller.NewMetrics(reg), log)
	if err != nil {
		return err
	}

	// --------------------
	// Run
	// --------------------

	g, gctx := errgroup.WithContext(ctx)
	results := make(chan poller.PollResult)

	g.Go(func() error {
		sched.Run(gctx, results)
		return gctx.Err()
	})

	orch := newOrchestrator(drivers, cache, clk, 3*cfg.Poll.High(), log)
	g.Go(func() error {
		orch.run(gctx, results)
		return nil
	})

	g.Go(func() error {
		watchTuning(gctx, sess, cache, log)
		return nil
	})

	if cfg.Metrics.Listen != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Info().Str("listen", cfg.Metrics.Listen).Msg("metrics listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	log.Info().
		Str("endpoint", cfg.Modbus.Endpoint).
		Int("devices", len(drivers)).
		Dur("high", cfg.Poll.High()).
		Msg("bridge running")

	return g.Wait()
}

func buildStore(mc config.MQTTConfig, log zerolog.Logger) (store.Store, func(), error) {
	if mc.Broker == "" {
		log.Info().Msg("no broker configured, states kept in memory")
		return store.NewMemory(), func() {}, nil
	}
	m, err := store.NewMQTT(store.MQTTConfig{
		Broker:   mc.Broker,
		ClientID: mc.ClientID,
		Prefix:   mc.TopicPrefix,
		Username: mc.Username,
		Password: mc.Password,
	}, log.With().Str("component", "mqtt").Logger())
	if err != nil {
		return nil, nil, err
	}
	return m, m.Close, nil
}

// declareObjects publishes the static object table of a driver.
// Objects of materialized blocks are declared lazily by the sink.
func declareObjects(ctx context.Context, sink *store.Sink, d *driver.Driver, log zerolog.Logger) {
	for _, o := range d.Objects() {
		obj := store.Object{Type: kindType(o.Kind), Unit: o.Unit}
		if err := sink.Declare(ctx, o.Path, obj); err != nil {
			log.Warn().Err(err).Str("path", o.Path).Msg("declare object failed")
			return
		}
	}
}

func kindType(k state.Kind) string {
	switch k {
	case state.KindNumber:
		return "number"
	case state.KindString:
		return "string"
	case state.KindBoolean:
		return "boolean"
	default:
		return "mixed"
	}
}

// watchTuning persists the adaptive delay once the tuner stops.
func watchTuning(ctx context.Context, sess *transport.Session, cache *state.Cache, log zerolog.Logger) {
	select {
	case <-ctx.Done():
	case res := <-sess.Tuned():
		cache.Set("info.modbus.delayMs", float64(res.Delay.Milliseconds()), state.Options{Store: state.StoreAlways})
		cache.Set("info.modbus.tuningConverged", res.Converged, state.Options{Store: state.StoreAlways})
		log.Info().Bool("converged", res.Converged).Dur("delay", res.Delay).Msg("modbus delay persisted")
	}
}
