package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/LeonardoBeccarini/sentry_relay/internal/config"
	"github.com/LeonardoBeccarini/sentry_relay/internal/metrics"
	"github.com/LeonardoBeccarini/sentry_relay/internal/services/alert"
	"github.com/LeonardoBeccarini/sentry_relay/internal/services/history"
	"github.com/LeonardoBeccarini/sentry_relay/internal/services/ingest"
	"github.com/LeonardoBeccarini/sentry_relay/internal/services/relay"
	"github.com/LeonardoBeccarini/sentry_relay/pkg/breaker"
	"github.com/LeonardoBeccarini/sentry_relay/pkg/dedup"
	"github.com/LeonardoBeccarini/sentry_relay/pkg/rabbitmq"
)

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	return cfg.Build()
}

func main() {
	configPath := pflag.StringP("config", "c", os.Getenv("RELAY_CONFIG"), "path to the YAML config file")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, err := newLogger(cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("relay stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// === Metrics ===
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// === Store and bus ===
	store := relay.NewStore(relay.StoreConfig{UseDeviceTimestamp: cfg.Relay.UseDeviceTimestamp})
	bus := relay.NewBus(store, relay.BusConfig{QueueCapacity: cfg.Relay.QueueCapacity}, log.Named("bus"), m)
	defer bus.Close()

	probes := relay.NewHealthReporter(log.Named("health"))
	var wg sync.WaitGroup
	goRun := func(f func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f()
		}()
	}

	// === History (InfluxDB) ===
	if cfg.Influx.Enabled {
		influx := influxdb2.NewClient(cfg.Influx.URL, cfg.Influx.Token)
		defer influx.Close()
		writer := history.NewWriter(
			influx.WriteAPIBlocking(cfg.Influx.Org, cfg.Influx.Bucket),
			breaker.New("influx", cfg.Breaker.Failures, cfg.Breaker.OpenFor, log),
			m,
		)
		rec := history.NewRecorder(bus, writer, cfg.Influx.Measurement, log.Named("history"))
		goRun(func() { rec.Run(ctx) })
		probes.Register("influx", false, func(context.Context) error {
			if age := writer.LastErrorAge(); age < 30*time.Second {
				return fmt.Errorf("last write failed %s ago", age.Round(time.Second))
			}
			return nil
		})
	}

	// === Alerts (Postgres) ===
	var repo alert.Repository
	if cfg.Postgres.Enabled {
		db, err := sql.Open("postgres", cfg.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		defer db.Close()
		pg, err := alert.NewPostgresRepository(db, cfg.Postgres.Table,
			breaker.New("postgres", cfg.Breaker.Failures, cfg.Breaker.OpenFor, log))
		if err != nil {
			return err
		}
		sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := pg.EnsureSchema(sctx); err != nil {
			log.Warn("alerts table not ready", zap.Error(err))
		}
		cancel()
		repo = pg
		probes.Register("postgres", false, pg.Ping)
	}
	rules := alert.Rules{
		TemperatureMin: cfg.Alerts.TemperatureMin,
		TemperatureMax: cfg.Alerts.TemperatureMax,
		HumidityMin:    cfg.Alerts.HumidityMin,
		HumidityMax:    cfg.Alerts.HumidityMax,
	}
	alerts := alert.NewService(bus, rules, repo, log.Named("alert"), m)
	goRun(func() { alerts.Run(ctx) })

	// === TCP ingest ===
	var ingestSrv *ingest.Server
	if cfg.Ingest.TCPAddr != "" {
		ingestSrv = ingest.NewServer(ingest.ServerConfig{
			Addr:          cfg.Ingest.TCPAddr,
			MaxBufferSize: cfg.Ingest.MaxBufferSize,
			IdleTimeout:   cfg.Ingest.IdleTimeout,
		}, bus, log.Named("ingest"), m)
		ln, err := net.Listen("tcp", cfg.Ingest.TCPAddr)
		if err != nil {
			return fmt.Errorf("ingest listen: %w", err)
		}
		goRun(func() {
			if err := ingestSrv.Serve(ctx, ln); err != nil {
				log.Error("ingest server error", zap.Error(err))
				stop()
			}
		})
		probes.Register("ingest", true, func(context.Context) error {
			if ingestSrv.Addr() == nil {
				return errors.New("not listening")
			}
			return nil
		})
	}

	// === MQTT ingest ===
	if cfg.MQTT.Enabled {
		client, err := rabbitmq.NewRabbitMQConn(ctx, &rabbitmq.RabbitMQConfig{
			Host:     cfg.MQTT.Host,
			Port:     cfg.MQTT.Port,
			User:     cfg.MQTT.User,
			Password: cfg.MQTT.Password,
			ClientID: cfg.MQTT.ClientID,
		}, log.Named("mqtt"))
		if err != nil {
			return err
		}
		defer rabbitmq.CloseRabbitMQConn(client, log.Named("mqtt"))
		handler := ingest.NewMQTTHandler(bus, dedup.New(cfg.MQTT.DedupTTL, 20000),
			cfg.Ingest.MaxBufferSize, log.Named("ingest"), m).WithIdleTimeout(cfg.Ingest.IdleTimeout)
		consumer := rabbitmq.NewMultiConsumer(client, cfg.MQTT.Topics, handler.Handle, log.Named("mqtt"))
		goRun(func() {
			if err := consumer.ConsumeMessage(ctx); err != nil {
				log.Error("mqtt subscribe failed", zap.Error(err))
				stop()
			}
		})
		probes.Register("mqtt", true, func(context.Context) error { return mqttCheck(client) })
	}

	// === gRPC health ===
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, probes.GRPC())
	glis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	goRun(func() {
		log.Info("grpc health listening", zap.String("addr", cfg.GRPC.Addr))
		if err := gs.Serve(glis); err != nil {
			log.Error("grpc server error", zap.Error(err))
		}
	})
	goRun(func() { probes.Run(ctx, 5*time.Second) })

	// === HTTP ===
	mux := relay.NewHTTPMux(bus, relay.APIConfig{
		HeartbeatInterval: cfg.Stream.HeartbeatInterval,
		IdleTimeout:       cfg.Stream.IdleTimeout,
	}, probes, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), log.Named("http"), m)
	hs := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	goRun(func() {
		log.Info("http listening", zap.String("addr", cfg.HTTP.Addr))
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", zap.Error(err))
			stop()
		}
	})

	<-ctx.Done()
	log.Info("shutting down")

	shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// streams end with ctx through BaseContext, so Shutdown does not wait on them
	_ = hs.Shutdown(shCtx)
	gs.GracefulStop()
	bus.Close()
	wg.Wait()
	return nil
}

func mqttCheck(c mqtt.Client) error {
	if !c.IsConnectionOpen() {
		return errors.New("broker connection down")
	}
	return nil
}
