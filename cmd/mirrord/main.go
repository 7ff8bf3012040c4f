// mirrord hosts the node mirror service: it owns this node's local slot
// store and answers remote slot-allocation calls from writers on other
// nodes.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/stagewise/handoff/internal/infrastructure/config"
	"github.com/stagewise/handoff/internal/logging"
	"github.com/stagewise/handoff/internal/mirror"
	"github.com/stagewise/handoff/internal/shared/id"
	"github.com/stagewise/handoff/internal/store/memstore"
)

func main() {
	addr := flag.String("addr", "", "Listen address (overrides HANDOFF_MIRROR_ADDR)")
	flag.Parse()

	cfg := config.LoadOrDefault()
	if *addr != "" {
		cfg.Mirror.Addr = *addr
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	node := id.NodeID(cfg.Node.ID)
	if node == "" {
		node = id.NewNodeID()
		logger.Info("no node identity configured, generated one", zap.String("node", string(node)))
	}

	var opts []memstore.Option
	opts = append(opts, memstore.WithLogger(logger))
	if cfg.Mirror.StoreBudgetBytes > 0 {
		opts = append(opts, memstore.WithBudget(cfg.Mirror.StoreBudgetBytes))
	}

	srv := mirror.NewServer(node, memstore.New(opts...), logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run(cfg.Mirror.Addr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("shutdown failed", zap.Error(err))
		}
	case err := <-errCh:
		if err != nil {
			logger.Fatal("mirror service failed", zap.Error(err))
		}
	}
}
