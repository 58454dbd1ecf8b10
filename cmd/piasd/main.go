package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/sanonone/pias/internal/config"
	"github.com/sanonone/pias/internal/server"
	"github.com/sanonone/pias/pkg/cache"
	"github.com/sanonone/pias/pkg/classifier"
	"github.com/sanonone/pias/pkg/persistence"
	"github.com/sanonone/pias/pkg/solver"
	"github.com/sanonone/pias/pkg/store"
	"github.com/sanonone/pias/pkg/workflow"
)

func main() {
	// A missing .env is fine; a malformed one is not.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("Error loading .env file: %v", err)
	}

	configPath := flag.String("config", os.Getenv("PIAS_CONFIG"), "Path to the YAML configuration file")
	address := flag.String("address", "", "Messaging base address (unix:///path or tcp://host:port)")
	httpAddr := flag.String("http-addr", "", "Admin HTTP address (e.g. :9095)")
	storePath := flag.String("store", "", "Path of the SQLite graph store")
	journalPath := flag.String("journal", "", "Path of the label/round journal")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if *address != "" {
		cfg.Address = *address
	}
	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}
	if *storePath != "" {
		cfg.Store.Path = *storePath
	}
	if *journalPath != "" {
		cfg.Journal.Path = *journalPath
	}
	if env := os.Getenv("PIAS_AUTH_TOKEN"); env != "" && cfg.AuthToken == "" {
		cfg.AuthToken = env
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	graphStore, err := store.OpenSQLite(cfg.Store.Path)
	if err != nil {
		log.Fatalf("Failed to open graph store: %v", err)
	}
	defer graphStore.Close()

	// Replay the journal before anything can append to it.
	var (
		recovery persistence.Recovery
		journal  *persistence.Journal
	)
	if cfg.Journal.Path != "" {
		journal, err = persistence.OpenJournal(cfg.Journal.Path, cfg.Journal.SyncEvery, recovery.Apply)
		if err != nil {
			log.Fatalf("Failed to open journal: %v", err)
		}
		defer journal.Close()
	}

	features := cache.NewEdgeFeatureCache(graphStore)
	features.SetMaxNodeID(cfg.Store.MaxNodeID)
	var labels *cache.EdgeLabelCache
	var opts workflow.Options
	if journal != nil {
		labels = cache.NewEdgeLabelCache(journal)
		opts.Journal = journal
	} else {
		labels = cache.NewEdgeLabelCache(nil)
	}
	labels.Restore(recovery.Labels)

	classifiers := cache.NewClassifierCache(func() classifier.Classifier {
		return classifier.NewLogisticRegression(cfg.Classifier.L2, cfg.Classifier.MaxIterations)
	}, cfg.Classifier.RequiredLabels)
	partition := solver.New(nil, solver.Options{Epsilon: cfg.Solver.Epsilon, Beta: cfg.Solver.Beta})

	opts.PollInterval = cfg.Workflow.PollInterval
	opts.RoundHistory = cfg.Workflow.RoundHistory
	opts.LastSolutionID = recovery.LastSolutionID
	wf := workflow.New(features, labels, classifiers, partition, opts)

	if err := wf.RequestUpdateEdges(context.Background()); err != nil {
		log.Fatalf("Failed to load edges: %v", err)
	}
	slog.Info("Service state restored",
		"edges", features.Len(),
		"labels", labels.Len(),
		"last_solution_id", recovery.LastSolutionID,
	)

	messaging, err := server.NewMessaging(wf, cfg.Address, server.MessagingOptions{
		PollInterval: cfg.Messaging.PollInterval,
		IOTimeout:    cfg.Messaging.IOTimeout,
		QueueSize:    cfg.Messaging.QueueSize,
		PutTimeout:   cfg.Messaging.PutTimeout,
	})
	if err != nil {
		log.Fatalf("Failed to bind messaging endpoints: %v", err)
	}

	wf.Start()
	messaging.Start()

	var admin *server.Server
	if cfg.HTTPAddr != "" {
		admin = server.NewServer(wf, wf, cfg.HTTPAddr, cfg.AuthToken)
		go func() {
			if err := admin.Run(); err != nil {
				log.Fatalf("Admin HTTP server failed: %v", err)
			}
		}()
	}

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-shutdownChan
	slog.Info("Shutting down", "signal", sig.String())

	if admin != nil {
		admin.Shutdown()
	}
	messaging.Close()
	wf.Stop()
	if journal != nil {
		if err := journal.Sync(); err != nil {
			slog.Error("Final journal sync failed", "error", err)
		}
	}
}
