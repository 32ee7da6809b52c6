// Package ordering implements OrderingCore (C7): the state machine that
// consumes triggers, drains the pending queue under the emission
// policy, builds a proposal, persists the new height, and publishes —
// all as a single logical transaction that never overlaps itself.
// Sequencing is ported directly from
// ordering_service_impl.cpp's generateProposal/publishProposal; the
// lifecycle (sync.Once-guarded Start/Stop, atomic running flag,
// context cancellation) follows
// internal/consensus/consensus_engine.go's ConsensusEngine.
package ordering

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/empower1/orderingd/internal/trigger"
	"github.com/empower1/orderingd/internal/txmodel"
)

// HeightStore is the C1 collaborator contract the core depends on.
type HeightStore interface {
	Load() (txmodel.Height, error)
	Save(txmodel.Height) error
}

// PeerDirectory is the C2 collaborator contract the core depends on.
type PeerDirectory interface {
	Peers() ([]string, bool)
}

// ProposalFactory is the C3 collaborator contract the core depends on.
type ProposalFactory interface {
	Create(height txmodel.Height, createdAt time.Time, txs []txmodel.Transaction) (*txmodel.Proposal, error)
}

// Publisher is the outbound half of C4 that the core depends on.
type Publisher interface {
	PublishProposal(proposal txmodel.Proposal, peers []string)
}

// Queue is the C5 collaborator contract the core depends on.
type Queue interface {
	Drain(maxSize int) []txmodel.Transaction
	Size() int
}

var (
	ErrAlreadyRunning      = errors.New("ordering core: already running")
	ErrNotRunning          = errors.New("ordering core: not running")
	ErrInvalidCollaborator = errors.New("ordering core: collaborator not configured")
)

// Config bounds the core's behavior.
type Config struct {
	MaxSize          int
	DeadlineInterval time.Duration
	IsAsync          bool
}

// Core is the ordering service's single-consumer reactor.
type Core struct {
	cfg         Config
	heightStore HeightStore
	peers       PeerDirectory
	factory     ProposalFactory
	publisher   Publisher
	queue       Queue

	logger *zap.Logger

	emitMu        sync.Mutex
	currentHeight txmodel.Height

	stream *trigger.Stream

	isRunning atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once

	metrics coreMetrics
}

type coreMetrics struct {
	emitted    prometheus.Counter
	skipped    *prometheus.CounterVec
	queueGauge prometheus.Gauge
}

// New constructs a Core. It loads the starting height from heightStore
// synchronously: a failure here is fatal per the spec's error model and
// is returned to the caller to abort initialization.
func New(cfg Config, heightStore HeightStore, peers PeerDirectory, factory ProposalFactory, publisher Publisher, queue Queue, logger *zap.Logger, reg prometheus.Registerer) (*Core, error) {
	if cfg.MaxSize <= 0 {
		return nil, fmt.Errorf("%w: MaxSize must be positive", ErrInvalidCollaborator)
	}
	if heightStore == nil || peers == nil || factory == nil || publisher == nil || queue == nil {
		return nil, fmt.Errorf("%w: all collaborators must be provided", ErrInvalidCollaborator)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	startHeight, err := heightStore.Load()
	if err != nil {
		return nil, fmt.Errorf("ordering core: fatal: cannot load starting height: %w", err)
	}

	c := &Core{
		cfg:           cfg,
		heightStore:   heightStore,
		peers:         peers,
		factory:       factory,
		publisher:     publisher,
		queue:         queue,
		logger:        logger,
		currentHeight: startHeight,
	}
	c.metrics = newCoreMetrics(reg)
	c.stream = trigger.New(cfg.DeadlineInterval, cfg.IsAsync, c.handleTrigger)

	logger.Info("ordering core initialized", zap.Uint64("start_height", uint64(startHeight)))
	return c, nil
}

func newCoreMetrics(reg prometheus.Registerer) coreMetrics {
	m := coreMetrics{
		emitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ordering_proposals_emitted_total",
			Help: "Total number of proposals successfully persisted.",
		}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ordering_emissions_skipped_total",
			Help: "Total number of drain cycles that did not result in a published proposal, by reason.",
		}, []string{"reason"}),
		queueGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ordering_queue_size_estimate",
			Help: "Approximate number of pending transactions at last trigger evaluation.",
		}),
	}
	reg.MustRegister(m.emitted, m.skipped, m.queueGauge)
	return m
}

// Notify signals an Arrival trigger. Called by the transport's inbound
// handlers after a successful enqueue.
func (c *Core) Notify() {
	c.stream.Notify()
}

// Start begins consuming triggers.
func (c *Core) Start() error {
	var err error
	c.startOnce.Do(func() {
		if c.isRunning.Load() {
			err = ErrAlreadyRunning
			return
		}
		c.isRunning.Store(true)
		c.stream.Start()
		c.logger.Info("ordering core started")
	})
	return err
}

// Stop releases the trigger subscription and waits for any in-flight
// emission to complete before returning.
func (c *Core) Stop() error {
	var err error
	c.stopOnce.Do(func() {
		if !c.isRunning.Load() {
			err = ErrNotRunning
			return
		}
		c.stream.Stop()
		c.emitMu.Lock()
		defer c.emitMu.Unlock()
		c.isRunning.Store(false)
		c.logger.Info("ordering core stopped")
	})
	return err
}

// CurrentHeight returns the height of the last successfully persisted
// proposal (or the height loaded at startup if none has been emitted
// yet). Safe to call concurrently; it only reflects a consistent value
// because it is read under the same lock the emission path holds.
func (c *Core) CurrentHeight() txmodel.Height {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	return c.currentHeight
}

// handleTrigger is the Handler passed to the trigger stream. It
// evaluates the emission guard and, if satisfied, runs one emission
// cycle. Steps 1-6 of the emission procedure execute under emitMu, so
// no two emissions (and no emission and a concurrent Stop) ever
// overlap.
func (c *Core) handleTrigger(kind trigger.Kind) {
	size := c.queue.Size()
	c.metrics.queueGauge.Set(float64(size))

	shouldEmit := false
	switch kind {
	case trigger.Deadline:
		shouldEmit = size > 0
	case trigger.Arrival:
		shouldEmit = size >= c.cfg.MaxSize
	}
	if !shouldEmit {
		return
	}

	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.emit()
}

// emit runs the emission procedure described in spec.md §4.7. Callers
// must hold emitMu.
func (c *Core) emit() {
	txs := c.queue.Drain(c.cfg.MaxSize)
	if len(txs) == 0 {
		c.metrics.skipped.WithLabelValues("empty-queue").Inc()
		return
	}

	nextHeight := c.currentHeight + 1
	now := time.Now()

	proposal, err := c.factory.Create(nextHeight, now, txs)
	if err != nil {
		c.logger.Warn("proposal construction failed, discarding drained transactions",
			zap.Uint64("attempted_height", uint64(nextHeight)),
			zap.Int("dropped_tx_count", len(txs)),
			zap.Error(err))
		c.metrics.skipped.WithLabelValues("factory-error").Inc()
		return
	}

	if err := c.heightStore.Save(nextHeight); err != nil {
		c.logger.Warn("height persistence failed, skipping publication",
			zap.Uint64("attempted_height", uint64(nextHeight)),
			zap.Error(err))
		c.metrics.skipped.WithLabelValues("persist-error").Inc()
		return
	}

	c.currentHeight = nextHeight
	c.metrics.emitted.Inc()
	c.logger.Info("emitted proposal",
		zap.Uint64("height", uint64(proposal.Height)),
		zap.Int("tx_count", len(proposal.Transactions)))

	peers, ok := c.peers.Peers()
	if !ok {
		c.logger.Error("cannot get peer list, skipping publication; height remains advanced",
			zap.Uint64("height", uint64(proposal.Height)))
		c.metrics.skipped.WithLabelValues("no-peers").Inc()
		return
	}

	c.publisher.PublishProposal(*proposal, peers)
}
