package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"

	"streamgate/internal/admin"
	"streamgate/internal/client"
	"streamgate/internal/config"
	"streamgate/internal/filter"
	"streamgate/internal/fserve"
	"streamgate/internal/logging"
	"streamgate/internal/metrics"
	"streamgate/internal/server"
	"streamgate/internal/worker"
)

func main() {
	configPath := flag.String("config", "streamgate.yaml", "configuration file")
	workers := flag.Int("workers", runtime.NumCPU(), "worker pool size")
	flag.Parse()

	if err := run(*configPath, *workers); err != nil {
		fmt.Fprintf(os.Stderr, "streamgate: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, workers int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	store := config.NewStore(cfg)

	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, Output: "stdout"})
	if err != nil {
		return err
	}

	filters, err := filter.NewStore(filter.StoreConfig{
		BanFile:       cfg.BanFile,
		AllowFile:     cfg.AllowFile,
		AgentFile:     cfg.AgentFile,
		GeoIPDatabase: cfg.GeoIP.Database,
		DenyCountries: cfg.GeoIP.DenyCountries,
	}, logger)
	if err != nil {
		return err
	}

	m := metrics.New()
	registry := client.NewRegistry()
	pool := worker.NewPool(workers, registry)

	srv := server.New(server.Config{
		Store:    store,
		Logger:   logger,
		Metrics:  m,
		Filters:  filters,
		Registry: registry,
		Workers:  pool,
		Handlers: server.Handlers{
			FileServer: fserve.New(fserve.Config{
				Registry: registry,
				Logger:   logger,
			}),
			Admin: admin.New(admin.Config{
				Store:    store,
				Metrics:  m,
				Filters:  filters,
				Registry: registry,
				Logger:   logger,
			}),
		},
		ReloadFunc: func() (*config.Config, error) {
			return config.Load(configPath)
		},
	})

	pool.Start(func(c *client.Client) worker.Outcome {
		switch srv.Process(c) {
		case server.StepAgain:
			return worker.OutcomeAgain
		case server.StepHandoff:
			return worker.OutcomeHandoff
		default:
			return worker.OutcomeDestroy
		}
	})
	defer pool.Stop()

	// Run owns signal handling: SIGINT/SIGTERM stop the loop, SIGHUP
	// rereads the configuration.
	srv.Run()
	return nil
}
