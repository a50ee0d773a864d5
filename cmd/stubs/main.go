package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Rajchodisetti/sensex-scalper/internal/config"
	"github.com/Rajchodisetti/sensex-scalper/internal/feed"
	"github.com/Rajchodisetti/sensex-scalper/internal/indicator"
	"github.com/Rajchodisetti/sensex-scalper/internal/observ"
	"github.com/Rajchodisetti/sensex-scalper/internal/stubs"
)

func main() {
	log.SetFlags(0)
	var (
		addr     string
		dataPath string
		seed     int64
		steps    int
		day      string
		pace     time.Duration
	)
	flag.StringVar(&addr, "addr", ":8091", "listen address")
	flag.StringVar(&dataPath, "data", "", "tick file (.csv or .json); simulated when empty")
	flag.Int64Var(&seed, "seed", 42, "simulator seed")
	flag.IntVar(&steps, "steps", 375, "simulated ticks")
	flag.StringVar(&day, "date", "2024-03-04", "simulated session date (YYYY-MM-DD)")
	flag.DurationVar(&pace, "pace", 200*time.Millisecond, "delay between ticks")
	flag.Parse()

	obs, err := load(dataPath, seed, steps, day)
	if err != nil {
		log.Fatalf("load ticks: %v", err)
	}
	srv, err := stubs.NewTickServer(obs, pace)
	if err != nil {
		log.Fatalf("encode ticks: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hs := &http.Server{Addr: addr, Handler: srv.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = hs.Shutdown(shutdownCtx)
	}()

	observ.Log("stub_listening", map[string]any{"addr": addr, "ticks": srv.Len(), "pace_ms": pace.Milliseconds()})
	if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("listen: %v", err)
	}
}

func load(path string, seed int64, steps int, day string) ([]indicator.Observation, error) {
	switch {
	case strings.HasSuffix(path, ".csv"):
		return feed.LoadCSV(path)
	case strings.HasSuffix(path, ".json"):
		return feed.LoadJSON(path)
	case path != "":
		return nil, &config.ConfigError{Field: "data", Reason: "expected a .csv or .json file"}
	}
	sess := config.Default().Session
	date, err := time.ParseInLocation("2006-01-02", day, sess.Location())
	if err != nil {
		return nil, err
	}
	open, err := config.ParseClock(sess.Open)
	if err != nil {
		return nil, err
	}
	return feed.Simulate(feed.SimConfig{
		Seed:      seed,
		Start:     date.Add(open),
		Steps:     steps,
		Interval:  time.Minute,
		BasePrice: 80000,
		Strikes:   5,
	}), nil
}
