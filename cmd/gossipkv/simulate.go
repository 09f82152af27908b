package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"gossipkv/internal/config"
	"gossipkv/internal/eventlog"
	"gossipkv/internal/sim"
)

var (
	simNodes    int
	simRounds   int
	simDropRate float64
	simSeed     int64
	simStagger  int64
	simFailures []string
	simAudit    bool
)

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a whole cluster in lock-step rounds",
		RunE:  runSimulate,
	}

	cmd.Flags().IntVar(&simNodes, "nodes", 0, "Number of nodes")
	cmd.Flags().IntVar(&simRounds, "rounds", 0, "Number of rounds to run")
	cmd.Flags().Float64Var(&simDropRate, "drop-rate", 0, "Probability that a message is lost")
	cmd.Flags().Int64Var(&simSeed, "seed", 0, "Seed for message drops")
	cmd.Flags().Int64Var(&simStagger, "join-stagger", 0, "Rounds between consecutive node starts")
	cmd.Flags().StringSliceVar(&simFailures, "fail", nil, "Crash node at round, as id@round (repeatable)")
	cmd.Flags().BoolVar(&simAudit, "audit", false, "Write audit records to the log")

	return cmd
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("nodes") {
		cfg.Nodes = simNodes
	}
	if flags.Changed("rounds") {
		cfg.Rounds = simRounds
	}
	if flags.Changed("drop-rate") {
		cfg.DropRate = simDropRate
	}
	if flags.Changed("seed") {
		cfg.Seed = simSeed
	}
	if flags.Changed("join-stagger") {
		cfg.JoinStagger = simStagger
	}
	for _, f := range simFailures {
		failure, err := parseFailure(f)
		if err != nil {
			return err
		}
		cfg.Failures = append(cfg.Failures, failure)
	}

	logger, err := initLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	opts := []sim.Option{sim.WithLogger(logger)}
	if simAudit {
		opts = append(opts, sim.WithSink(eventlog.NewZapSink(logger)))
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, sim.WithRegistry(prometheus.DefaultRegisterer))
	}

	s, err := sim.New(cfg, opts...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := s.Run(ctx)
	if err != nil {
		logger.Warn("Simulation interrupted", zap.Error(err))
	}
	printSummary(cmd, summary)
	return err
}

func printSummary(cmd *cobra.Command, s sim.Summary) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run        %s\n", s.RunID)
	fmt.Fprintf(out, "rounds     %d\n", s.Rounds)
	fmt.Fprintf(out, "nodes      %d (%d live)\n", s.Nodes, s.Live)
	fmt.Fprintf(out, "converged  %t\n", s.Converged)
	fmt.Fprintf(out, "membership +%d -%d\n", s.Added, s.Removed)
	fmt.Fprintf(out, "ops        %d issued, %d ok, %d failed, %d pending\n", s.Issued, s.Succeeded, s.Failed, s.Pending)
	fmt.Fprintf(out, "network    %d sent, %d received, %d dropped\n", s.Network.Sent, s.Network.Received, s.Network.Dropped)
}

// parseFailure parses "id@round".
func parseFailure(s string) (config.Failure, error) {
	id, at, ok := strings.Cut(s, "@")
	if !ok {
		return config.Failure{}, fmt.Errorf("invalid failure %q (expected id@round)", s)
	}
	node, err := strconv.ParseInt(strings.TrimSpace(id), 10, 32)
	if err != nil {
		return config.Failure{}, fmt.Errorf("invalid failure node %q: %w", id, err)
	}
	round, err := strconv.ParseInt(strings.TrimSpace(at), 10, 64)
	if err != nil {
		return config.Failure{}, fmt.Errorf("invalid failure round %q: %w", at, err)
	}
	return config.Failure{Node: int32(node), At: round}, nil
}
