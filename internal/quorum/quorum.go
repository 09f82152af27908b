package quorum

import (
	"maps"
	"slices"

	"go.uber.org/zap"

	"gossipkv/internal/clock"
	"gossipkv/internal/cluster"
	"gossipkv/internal/eventlog"
	"gossipkv/internal/message"
	"gossipkv/internal/metrics"
	"gossipkv/internal/replication"
)

const (
	// SuccessQuorum is the number of positive replies that completes a transaction.
	SuccessQuorum = 2
	// FailureQuorum is the number of negative replies that fails a transaction.
	FailureQuorum = 1
	// DefaultTimeout is the age at which a pending transaction is failed.
	DefaultTimeout = 2
	// SilentTxID marks requests that expect no reply and leave no record.
	SilentTxID = 0
)

// Transaction tracks one client operation until it resolves.
type Transaction struct {
	ID        int64
	Op        message.Kind
	Key       string
	Value     string
	Start     int64
	Successes int
	Failures  int
}

// Locator returns the role-tagged replica set currently responsible for key.
type Locator interface {
	Replicas(key string) []replication.Replica
}

// LocatorFunc adapts a function to Locator.
type LocatorFunc func(key string) []replication.Replica

func (f LocatorFunc) Replicas(key string) []replication.Replica {
	return f(key)
}

// Coordinator issues client operations on behalf of one node.
type Coordinator struct {
	self    cluster.Address
	clock   clock.Clock
	sender  message.Sender
	locator Locator
	sink    eventlog.Sink
	timeout int64

	nextID  int64
	pending map[int64]*Transaction

	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(timeout int64) Option {
	return func(c *Coordinator) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records transaction outcomes in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// NewCoordinator creates a coordinator for self.
func NewCoordinator(self cluster.Address, clk clock.Clock, sender message.Sender, locator Locator, sink eventlog.Sink, opts ...Option) *Coordinator {
	if sink == nil {
		sink = eventlog.Nop{}
	}

	c := &Coordinator{
		self:    self,
		clock:   clk,
		sender:  sender,
		locator: locator,
		sink:    sink,
		timeout: DefaultTimeout,
		pending: make(map[int64]*Transaction),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.Stringer("node", self))
	return c
}

// Create stores key=value on the key's replicas and returns the transaction id.
func (c *Coordinator) Create(key, value string) int64 {
	return c.issue(message.KindCreate, key, value)
}

// Read fetches key from its replicas and returns the transaction id.
func (c *Coordinator) Read(key string) int64 {
	return c.issue(message.KindRead, key, "")
}

// Update overwrites key on its replicas and returns the transaction id.
func (c *Coordinator) Update(key, value string) int64 {
	return c.issue(message.KindUpdate, key, value)
}

// Delete removes key from its replicas and returns the transaction id.
func (c *Coordinator) Delete(key string) int64 {
	return c.issue(message.KindDelete, key, "")
}

// CreateSilent sends a CREATE under SilentTxID: replicas apply it without
// logging or replying and no transaction is recorded.
func (c *Coordinator) CreateSilent(key, value string) {
	c.fanOut(SilentTxID, message.KindCreate, key, value)
}

func (c *Coordinator) issue(op message.Kind, key, value string) int64 {
	c.nextID++
	txn := &Transaction{
		ID:    c.nextID,
		Op:    op,
		Key:   key,
		Value: value,
		Start: c.clock.Now(),
	}
	c.pending[txn.ID] = txn
	c.metrics.SetPending(c.self.String(), len(c.pending))

	if n := c.fanOut(txn.ID, op, key, value); n == 0 {
		c.logger.Debug("No replicas for key yet",
			zap.Int64("tx_id", txn.ID),
			zap.String("key", key))
	}
	return txn.ID
}

func (c *Coordinator) fanOut(txID int64, op message.Kind, key, value string) int {
	replicas := c.locator.Replicas(key)
	for _, r := range replicas {
		m := &message.Data{
			Type:   op,
			TxID:   txID,
			Sender: c.self,
			Key:    key,
		}
		if op == message.KindCreate || op == message.KindUpdate {
			m.Value = value
			m.Role = r.Role
		}
		c.sender.Send(r.Addr, m)
	}
	return len(replicas)
}

// OnReply accounts a REPLY for a create, update or delete. Replies for
// unknown or already resolved transactions are ignored.
func (c *Coordinator) OnReply(txID int64, success bool) {
	txn, ok := c.pending[txID]
	if !ok {
		return
	}
	c.account(txn, success, txn.Value)
}

// OnReadReply accounts a READREPLY. An empty value counts as a miss.
func (c *Coordinator) OnReadReply(txID int64, value string) {
	txn, ok := c.pending[txID]
	if !ok {
		return
	}
	c.account(txn, value != "", value)
}

// Handle routes a REPLY or READREPLY message.
func (c *Coordinator) Handle(m *message.Data) {
	switch m.Type {
	case message.KindReply:
		c.OnReply(m.TxID, m.Success)
	case message.KindReadReply:
		c.OnReadReply(m.TxID, m.Value)
	}
}

func (c *Coordinator) account(txn *Transaction, success bool, value string) {
	if success {
		txn.Successes++
		if txn.Successes >= SuccessQuorum {
			c.resolve(txn, true, value, "success")
		}
		return
	}

	txn.Failures++
	if txn.Failures >= FailureQuorum {
		c.resolve(txn, false, txn.Value, "failure")
	}
}

// resolve removes txn before logging so a late reply finds nothing.
func (c *Coordinator) resolve(txn *Transaction, success bool, value, outcome string) {
	delete(c.pending, txn.ID)
	c.metrics.SetPending(c.self.String(), len(c.pending))
	c.metrics.TransactionDone(txn.Op.String(), outcome)

	if success {
		c.sink.OpSuccess(c.self, txn.Op, true, txn.ID, txn.Key, value)
	} else {
		c.sink.OpFail(c.self, txn.Op, true, txn.ID, txn.Key, value)
	}

	c.logger.Info("Transaction resolved",
		zap.Int64("tx_id", txn.ID),
		zap.Stringer("op", txn.Op),
		zap.String("key", txn.Key),
		zap.String("outcome", outcome),
		zap.Int("successes", txn.Successes),
		zap.Int("failures", txn.Failures))
}

// Sweep fails every transaction whose age has reached the timeout and
// returns their ids in ascending order.
func (c *Coordinator) Sweep() []int64 {
	now := c.clock.Now()

	var expired []int64
	for _, id := range slices.Sorted(maps.Keys(c.pending)) {
		txn := c.pending[id]
		if now-txn.Start < c.timeout {
			continue
		}
		expired = append(expired, id)
		c.resolve(txn, false, txn.Value, "timeout")
	}
	return expired
}

// Pending returns the number of unresolved transactions.
func (c *Coordinator) Pending() int {
	return len(c.pending)
}

// Transaction returns a copy of the pending transaction with id.
func (c *Coordinator) Transaction(id int64) (Transaction, bool) {
	txn, ok := c.pending[id]
	if !ok {
		return Transaction{}, false
	}
	return *txn, true
}
