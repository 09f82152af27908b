// Package config loads simulation and node parameters.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"gossipkv/internal/cluster"
	"gossipkv/internal/message"
)

var ErrInvalid = errors.New("invalid configuration")

// Config holds every tunable of a cluster run.
type Config struct {
	Nodes              int     `yaml:"nodes"`
	IntroducerID       int32   `yaml:"introducer_id"`
	Port               uint16  `yaml:"port"`
	FailureThreshold   int64   `yaml:"failure_threshold"`
	TransactionTimeout int64   `yaml:"transaction_timeout"`
	RingSize           uint64  `yaml:"ring_size"`
	Replicas           int     `yaml:"replicas"`
	DropRate           float64 `yaml:"drop_rate"`
	Rounds             int     `yaml:"rounds"`
	JoinStagger        int64   `yaml:"join_stagger"`
	Seed               int64   `yaml:"seed"`

	Failures []Failure   `yaml:"failures"`
	Workload []Operation `yaml:"workload"`

	Serve   ServeConfig   `yaml:"serve"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// Failure stops a node from responding at a given round.
type Failure struct {
	Node int32 `yaml:"node"`
	At   int64 `yaml:"at"`
}

// Operation is a client request issued by Node at round At.
type Operation struct {
	At    int64  `yaml:"at"`
	Node  int32  `yaml:"node"`
	Op    string `yaml:"op"`
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
}

// ServeConfig configures a single node running over gRPC.
type ServeConfig struct {
	NodeID int32         `yaml:"node_id"`
	Listen string        `yaml:"listen"`
	Peers  []string      `yaml:"peers"`
	Tick   time.Duration `yaml:"tick"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// Peer maps a node address to the network endpoint serving it.
type Peer struct {
	Addr     cluster.Address
	Endpoint string
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

// Load reads a YAML file, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML configuration, applies defaults and validates it.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Nodes == 0 {
		cfg.Nodes = 10
	}
	if cfg.IntroducerID == 0 {
		cfg.IntroducerID = cluster.IntroducerID
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 2
	}
	if cfg.TransactionTimeout == 0 {
		cfg.TransactionTimeout = 2
	}
	if cfg.RingSize == 0 {
		cfg.RingSize = 512
	}
	if cfg.Replicas == 0 {
		cfg.Replicas = 3
	}
	if cfg.Rounds == 0 {
		cfg.Rounds = 100
	}

	if cfg.Serve.NodeID == 0 {
		cfg.Serve.NodeID = cfg.IntroducerID
	}
	if cfg.Serve.Listen == "" {
		cfg.Serve.Listen = ":7001"
	}
	if cfg.Serve.Tick == 0 {
		cfg.Serve.Tick = time.Second
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}

	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

// Validate checks the configuration for values the protocol cannot run with.
func (c *Config) Validate() error {
	if c.Nodes < 1 {
		return fmt.Errorf("%w: nodes must be positive, got %d", ErrInvalid, c.Nodes)
	}
	if c.IntroducerID != cluster.IntroducerID {
		return fmt.Errorf("%w: introducer_id must be %d", ErrInvalid, cluster.IntroducerID)
	}
	if c.FailureThreshold < 1 {
		return fmt.Errorf("%w: failure_threshold must be positive", ErrInvalid)
	}
	if c.TransactionTimeout < 1 {
		return fmt.Errorf("%w: transaction_timeout must be positive", ErrInvalid)
	}
	if c.RingSize < 1 {
		return fmt.Errorf("%w: ring_size must be positive", ErrInvalid)
	}
	if c.Replicas != 3 {
		return fmt.Errorf("%w: replicas is fixed at 3, got %d", ErrInvalid, c.Replicas)
	}
	if c.DropRate < 0 || c.DropRate > 1 {
		return fmt.Errorf("%w: drop_rate must be in [0,1], got %v", ErrInvalid, c.DropRate)
	}
	if c.Rounds < 1 {
		return fmt.Errorf("%w: rounds must be positive", ErrInvalid)
	}
	if c.JoinStagger < 0 {
		return fmt.Errorf("%w: join_stagger must not be negative", ErrInvalid)
	}

	for _, f := range c.Failures {
		if f.Node < 1 || int(f.Node) > c.Nodes {
			return fmt.Errorf("%w: failure targets unknown node %d", ErrInvalid, f.Node)
		}
	}
	for i, op := range c.Workload {
		if op.Node < 1 || int(op.Node) > c.Nodes {
			return fmt.Errorf("%w: workload[%d] targets unknown node %d", ErrInvalid, i, op.Node)
		}
		if _, err := ParseOp(op.Op); err != nil {
			return fmt.Errorf("%w: workload[%d]: %v", ErrInvalid, i, err)
		}
		if op.Key == "" {
			return fmt.Errorf("%w: workload[%d] has empty key", ErrInvalid, i)
		}
	}

	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("%w: log.format must be console or json, got %q", ErrInvalid, c.Log.Format)
	}

	return nil
}

// Addresses returns the identities of a simulated cluster: ids 1..Nodes on Port.
func (c *Config) Addresses() []cluster.Address {
	addrs := make([]cluster.Address, 0, c.Nodes)
	for id := 1; id <= c.Nodes; id++ {
		addrs = append(addrs, cluster.Address{ID: int32(id), Port: c.Port})
	}
	return addrs
}

// ParseOp maps a workload op name to its message kind.
func ParseOp(op string) (message.Kind, error) {
	switch strings.ToLower(strings.TrimSpace(op)) {
	case "create":
		return message.KindCreate, nil
	case "read":
		return message.KindRead, nil
	case "update":
		return message.KindUpdate, nil
	case "delete":
		return message.KindDelete, nil
	default:
		return 0, fmt.Errorf("unknown operation %q", op)
	}
}

// ParseAddresses parses a comma-separated list of identities in the format:
// "1:7000,2:7000,3"
func ParseAddresses(s string) ([]cluster.Address, error) {
	if strings.TrimSpace(s) == "" {
		return []cluster.Address{}, nil
	}

	parts := strings.Split(s, ",")
	addrs := make([]cluster.Address, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		addr, err := cluster.ParseAddress(part)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, addr)
	}

	return addrs, nil
}

// ParsePeers parses peers in the format "id=host:port", where id is a
// node identity accepted by cluster.ParseAddress.
func ParsePeers(specs []string) ([]Peer, error) {
	peers := make([]Peer, 0, len(specs))

	for _, spec := range specs {
		for _, part := range strings.Split(spec, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}

			id, endpoint, ok := strings.Cut(part, "=")
			if !ok {
				return nil, fmt.Errorf("invalid peer format: %s (expected id=host:port)", part)
			}

			id = strings.TrimSpace(id)
			endpoint = strings.TrimSpace(endpoint)
			if id == "" || endpoint == "" {
				return nil, fmt.Errorf("peer ID and endpoint cannot be empty: %s", part)
			}

			addr, err := cluster.ParseAddress(id)
			if err != nil {
				return nil, fmt.Errorf("invalid peer %s: %w", part, err)
			}

			peers = append(peers, Peer{Addr: addr, Endpoint: endpoint})
		}
	}

	return peers, nil
}
