package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"gossipkv/internal/clock"
	"gossipkv/internal/cluster"
	"gossipkv/internal/config"
	"gossipkv/internal/eventlog"
	"gossipkv/internal/message"
	"gossipkv/internal/metrics"
	"gossipkv/internal/node"
	"gossipkv/internal/transport"
)

var (
	serveNodeID      int32
	serveListen      string
	servePeers       []string
	serveTick        time.Duration
	serveMetricsAddr string
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run one node over gRPC",
		Long: `Serve runs a single node. Peers are given as id=host:port; every
node of the cluster, including this one, should appear in --peers.
Node 1 is the introducer and must be started for others to join.`,
		RunE: runServe,
	}

	cmd.Flags().Int32Var(&serveNodeID, "node-id", 0, "Node id (1 is the introducer)")
	cmd.Flags().StringVar(&serveListen, "listen", "", "Address to accept peer traffic on")
	cmd.Flags().StringSliceVar(&servePeers, "peers", nil, "Peers as id=host:port (comma separated or repeated)")
	cmd.Flags().DurationVar(&serveTick, "tick", 0, "Length of one protocol round")
	cmd.Flags().StringVar(&serveMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("node-id") {
		cfg.Serve.NodeID = serveNodeID
	}
	if flags.Changed("listen") {
		cfg.Serve.Listen = serveListen
	}
	if flags.Changed("peers") {
		cfg.Serve.Peers = servePeers
	}
	if flags.Changed("tick") {
		cfg.Serve.Tick = serveTick
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = serveMetricsAddr
	}

	logger, err := initLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	peers, err := config.ParsePeers(cfg.Serve.Peers)
	if err != nil {
		return err
	}
	endpoints := make(map[cluster.Address]string, len(peers))
	for _, p := range peers {
		endpoints[p.Addr] = p.Endpoint
	}

	self := cluster.Address{ID: cfg.Serve.NodeID, Port: cfg.Port}
	if self.ID < 1 {
		return fmt.Errorf("%w: node id must be positive", config.ErrInvalid)
	}
	if cfg.Serve.Tick <= 0 {
		return fmt.Errorf("%w: tick must be positive", config.ErrInvalid)
	}

	runID := uuid.NewString()
	logger = logger.With(zap.String("run_id", runID))

	reg := prometheus.NewRegistry()
	m := metrics.New(reg, runID)

	tr := transport.NewGRPCNet(self, endpoints, logger)
	lis, err := net.Listen("tcp", cfg.Serve.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Serve.Listen, err)
	}

	serverErrors := make(chan error, 2)
	go func() {
		serverErrors <- tr.Serve(lis)
	}()
	defer tr.Close()

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsServer := &http.Server{
			Addr:         cfg.Metrics.Addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("Starting metrics server", zap.String("address", cfg.Metrics.Addr))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErrors <- fmt.Errorf("metrics server failed: %w", err)
			}
		}()
		defer metricsServer.Close()
	}

	clk := clock.NewWallClock(cfg.Serve.Tick)
	n := node.New(self, clk, tr,
		node.WithSink(eventlog.NewZapSink(logger)),
		node.WithLogger(logger),
		node.WithMetrics(m),
		node.WithRingSize(cfg.RingSize),
		node.WithFailureThreshold(cfg.FailureThreshold),
		node.WithTransactionTimeout(cfg.TransactionTimeout),
		node.WithIntroducer(cluster.Introducer(cfg.Port)))
	n.Start()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return loop(ctx, n, clk, cfg, serverErrors, logger)
}

// loop advances the node once per tick and issues the node's share of the
// configured workload as its round comes up.
func loop(ctx context.Context, n *node.Node, clk clock.Clock, cfg *config.Config, serverErrors <-chan error, logger *zap.Logger) error {
	ticker := time.NewTicker(cfg.Serve.Tick)
	defer ticker.Stop()

	last := int64(-1)
	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutting down")
			return nil
		case err := <-serverErrors:
			return err
		case <-ticker.C:
			round := clk.Now()
			for _, op := range cfg.Workload {
				if op.Node != n.Addr().ID || op.At <= last || op.At > round {
					continue
				}
				issue(n, op, logger)
			}
			last = round

			n.Receive()
			n.Tick()
		}
	}
}

func issue(n *node.Node, op config.Operation, logger *zap.Logger) {
	kind, err := config.ParseOp(op.Op)
	if err != nil {
		logger.Warn("Skipping workload operation", zap.Error(err))
		return
	}

	var id int64
	switch kind {
	case message.KindCreate:
		id = n.Create(op.Key, op.Value)
	case message.KindRead:
		id = n.Read(op.Key)
	case message.KindUpdate:
		id = n.Update(op.Key, op.Value)
	case message.KindDelete:
		id = n.Delete(op.Key)
	}
	logger.Info("Issued operation",
		zap.Stringer("op", kind),
		zap.String("key", op.Key),
		zap.Int64("tx_id", id))
}
