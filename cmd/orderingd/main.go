// Command orderingd runs the ordering service: it accepts inbound
// transactions over TCP, batches them into monotonically numbered
// proposals under a size/deadline policy, persists the last-emitted
// height durably, and broadcasts each proposal to a configured peer
// set. Bootstrap follows cmd/empower1d/main.go's narrated, linear
// startup.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/empower1/orderingd/internal/config"
	"github.com/empower1/orderingd/internal/heightstore"
	"github.com/empower1/orderingd/internal/ordering"
	"github.com/empower1/orderingd/internal/peerdirectory"
	"github.com/empower1/orderingd/internal/proposalfactory"
	"github.com/empower1/orderingd/internal/transport"
	"github.com/empower1/orderingd/internal/txqueue"
)

func main() {
	root := config.NewRootCommand(run)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	fmt.Println("Starting orderingd...")

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	// 1. Durable height cell.
	store, err := heightstore.Open(cfg.HeightStorePath)
	if err != nil {
		return fmt.Errorf("failed to open height store: %w", err)
	}
	defer store.Close()
	fmt.Printf("-> Height store opened at %s\n", cfg.HeightStorePath)

	// 2. Static peer directory from configured addresses.
	peers := peerdirectory.NewStatic(cfg.Peers)
	fmt.Printf("-> Peer directory initialized with %d configured peers.\n", len(cfg.Peers))

	// 3. Proposal factory.
	factory, err := proposalfactory.New(cfg.MaxSize)
	if err != nil {
		return fmt.Errorf("failed to initialize proposal factory: %w", err)
	}
	fmt.Println("-> Proposal factory initialized.")

	// 4. Pending transaction queue and inbound/outbound transport.
	queue := txqueue.New()
	publisher := transport.NewPublisher()
	fmt.Println("-> Transaction queue and publisher initialized.")

	// 5. Ordering core: wires the queue, height store, peer directory,
	// proposal factory, and publisher behind the emission policy.
	reg := prometheus.NewRegistry()
	core, err := ordering.New(ordering.Config{
		MaxSize:          cfg.MaxSize,
		DeadlineInterval: cfg.DeadlineInterval,
		IsAsync:          cfg.IsAsync,
	}, store, peers, factory, publisher, queue, logger, reg)
	if err != nil {
		return fmt.Errorf("failed to initialize ordering core: %w", err)
	}
	fmt.Printf("-> Ordering core initialized. Resuming from height %d.\n", core.CurrentHeight())

	// 6. Inbound transport server, wired to notify the core on arrival.
	server := transport.NewServer(cfg.ListenAddr, queue, core.Notify)
	if err := server.Start(); err != nil {
		return fmt.Errorf("failed to start transport server: %w", err)
	}
	fmt.Printf("-> Transport server listening on %s\n", cfg.ListenAddr)

	// 7. Admin server exposing Prometheus metrics and a liveness probe.
	admin := startAdminServer(cfg.MetricsAddr, reg)
	fmt.Printf("-> Admin server listening on %s\n", cfg.MetricsAddr)

	if err := core.Start(); err != nil {
		return fmt.Errorf("failed to start ordering core: %w", err)
	}
	fmt.Println("--> Ordering core running. Waiting for transactions...")

	waitForShutdownSignal()

	fmt.Println("Shutting down orderingd...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = admin.Shutdown(shutdownCtx)
	_ = core.Stop()
	_ = server.Stop()
	publisher.Shutdown()

	return nil
}

func startAdminServer(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "admin server error: %v\n", err)
		}
	}()
	return srv
}

func waitForShutdownSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
}
