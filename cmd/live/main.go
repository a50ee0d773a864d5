package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Rajchodisetti/sensex-scalper/internal/broker"
	"github.com/Rajchodisetti/sensex-scalper/internal/config"
	"github.com/Rajchodisetti/sensex-scalper/internal/control"
	"github.com/Rajchodisetti/sensex-scalper/internal/engine"
	"github.com/Rajchodisetti/sensex-scalper/internal/feed"
	"github.com/Rajchodisetti/sensex-scalper/internal/ledger"
	"github.com/Rajchodisetti/sensex-scalper/internal/observ"
	"github.com/Rajchodisetti/sensex-scalper/internal/report"
	"github.com/Rajchodisetti/sensex-scalper/internal/risk"
	"github.com/Rajchodisetti/sensex-scalper/internal/transport"
)

var version = "dev"

func main() {
	log.SetFlags(0)
	var cfgPath string
	var envFile string
	flag.StringVar(&cfgPath, "config", "config/scalper.yaml", "config path")
	flag.StringVar(&envFile, "env", ".env", "dotenv file with SCALPER_* secrets")
	flag.Parse()

	if err := godotenv.Load(envFile); err != nil {
		log.Printf("no %s file, using process environment", envFile)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config after env overrides: %v", err)
	}
	observ.SetVersion(version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := buildBroker(cfg)
	if err != nil {
		log.Fatalf("broker: %v", err)
	}
	sink, store, err := buildLedger(cfg)
	if err != nil {
		log.Fatalf("ledger: %v", err)
	}
	defer sink.Close()

	breaker := risk.NewCircuitBreaker(cfg.Breaker.EventLog)
	eng, err := engine.New(cfg, engine.Options{
		Broker:  b,
		Ledger:  sink,
		Breaker: breaker,
		Store:   risk.NewSessionStore(cfg.Session.StatePath),
	})
	if err != nil {
		log.Fatalf("build engine: %v", err)
	}

	client, err := transport.NewClient(transport.Config{
		URL:         cfg.Feed.URL,
		ReadTimeout: time.Duration(cfg.Feed.ReadTimeoutMs) * time.Millisecond,
		Reconnect: transport.ReconnectConfig{
			InitialDelayMs: cfg.Feed.Reconnect.InitialDelayMs,
			MaxDelayMs:     cfg.Feed.Reconnect.MaxDelayMs,
			JitterMs:       cfg.Feed.Reconnect.InitialDelayMs / 2,
		},
	})
	if err != nil {
		log.Fatalf("feed: %v", err)
	}
	defer client.Close()
	stream, err := feed.NewStream(ctx, client, time.Duration(cfg.Feed.WaitTimeoutMs)*time.Millisecond)
	if err != nil {
		log.Fatalf("feed: %v", err)
	}

	ctl := control.New(breaker, cfg.Control)
	go func() {
		if err := ctl.ListenAndServe(ctx, cfg.Control.Addr); err != nil {
			observ.Error("control_server_failed", map[string]any{"error": err.Error()})
		}
	}()

	observ.Log("startup", map[string]any{
		"mode":          cfg.Mode,
		"symbol":        cfg.Symbol,
		"broker":        cfg.Broker.Kind,
		"feed":          cfg.Feed.URL,
		"tiers":         len(cfg.Tiers),
		"capital":       cfg.Risk.Capital,
		"breaker_state": string(breaker.State()),
		"kafka":         len(cfg.Ledger.Kafka.Brokers) > 0,
		"postgres":      store != nil,
	})

	if err := eng.Run(ctx, stream); err != nil && !errors.Is(err, context.Canceled) {
		observ.Error("engine_stopped", map[string]any{"error": err.Error()})
	}

	rep := eng.Report()
	if store != nil {
		if fromDB, err := sessionReport(store, cfg); err == nil {
			rep = fromDB
		} else {
			observ.Warn("session_report_query_failed", map[string]any{"error": err.Error()})
		}
	}
	rep.OpenPositions = len(eng.Positions())
	body, _ := rep.JSON()
	observ.Log("shutdown", map[string]any{
		"open_positions": rep.OpenPositions,
		"session":        eng.Session(),
		"pending_orders": eng.PendingOrders(),
	})
	fmt.Println(string(body))
}

func buildBroker(cfg config.Root) (broker.Broker, error) {
	var inner broker.Broker
	switch cfg.Broker.Kind {
	case "paper":
		inner = broker.NewPaper()
	case "alpaca":
		if cfg.Broker.Alpaca.APIKey == "" || cfg.Broker.Alpaca.APISecret == "" {
			return nil, &config.ConfigError{Field: "broker.alpaca", Reason: "SCALPER_ALPACA_API_KEY and SCALPER_ALPACA_API_SECRET are required"}
		}
		inner = broker.NewAlpaca(cfg.Broker.Alpaca)
	default:
		return nil, &config.ConfigError{Field: "broker.kind", Reason: "unknown broker " + cfg.Broker.Kind}
	}
	return broker.GuardFromConfig(inner, cfg.Broker), nil
}

// buildLedger always writes the JSONL file and adds Kafka and Postgres when
// they are configured. The store is returned separately for queries.
func buildLedger(cfg config.Root) (ledger.Multi, *ledger.Store, error) {
	jsonl, err := ledger.NewJSONL(cfg.Ledger.Path)
	if err != nil {
		return nil, nil, err
	}
	sinks := ledger.Multi{jsonl}

	if len(cfg.Ledger.Kafka.Brokers) > 0 {
		k, err := ledger.NewKafka(cfg.Ledger.Kafka.Brokers, cfg.Ledger.Kafka.Topic)
		if err != nil {
			sinks.Close()
			return nil, nil, fmt.Errorf("kafka: %w", err)
		}
		sinks = append(sinks, k)
	}

	var store *ledger.Store
	if cfg.Ledger.Postgres.DSN != "" {
		store, err = ledger.OpenPostgres(cfg.Ledger.Postgres.DSN)
		if err != nil {
			sinks.Close()
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		sinks = append(sinks, store)
	}
	return sinks, store, nil
}

// sessionReport rebuilds today's report from the store so trades closed
// before a restart are included.
func sessionReport(store *ledger.Store, cfg config.Root) (report.PerformanceReport, error) {
	loc := cfg.Session.Location()
	now := time.Now().In(loc)
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	recs, err := store.Trades(ctx, from, from.AddDate(0, 0, 1), "")
	if err != nil {
		return report.PerformanceReport{}, err
	}
	return report.Compute(recs, cfg.Risk.Capital), nil
}
