package ordering

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/empower1/orderingd/internal/txmodel"
	"github.com/empower1/orderingd/internal/txqueue"
)

// fakeHeightStore is a mutex-guarded in-memory stand-in for heightstore.Store.
type fakeHeightStore struct {
	mu       sync.Mutex
	height   txmodel.Height
	saveErr  error
	saved    []txmodel.Height
}

func (f *fakeHeightStore) Load() (txmodel.Height, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.height, nil
}

func (f *fakeHeightStore) Save(h txmodel.Height) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.height = h
	f.saved = append(f.saved, h)
	return nil
}

func (f *fakeHeightStore) savedHeights() []txmodel.Height {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]txmodel.Height, len(f.saved))
	copy(out, f.saved)
	return out
}

// fakePeers is a settable stand-in for peerdirectory.Directory.
type fakePeers struct {
	mu    sync.Mutex
	peers []string
	ok    bool
}

func (f *fakePeers) Peers() ([]string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peers, f.ok
}

func (f *fakePeers) set(peers []string, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.peers = peers
	f.ok = ok
}

// fakeFactory lets individual tests force a construction failure.
type fakeFactory struct {
	mu      sync.Mutex
	failNow bool
}

func (f *fakeFactory) Create(height txmodel.Height, createdAt time.Time, txs []txmodel.Transaction) (*txmodel.Proposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNow {
		return nil, errors.New("fake factory: forced failure")
	}
	return &txmodel.Proposal{Height: height, CreatedAt: createdAt, Transactions: txs}, nil
}

func (f *fakeFactory) setFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNow = fail
}

// fakePublisher records every PublishProposal call.
type fakePublisher struct {
	mu    sync.Mutex
	calls []publishCall
}

type publishCall struct {
	height  txmodel.Height
	peers   []string
	txCount int
}

func (f *fakePublisher) PublishProposal(proposal txmodel.Proposal, peers []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, publishCall{height: proposal.Height, peers: peers, txCount: len(proposal.Transactions)})
}

func (f *fakePublisher) totalTxCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, c := range f.calls {
		total += c.txCount
	}
	return total
}

func (f *fakePublisher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakePublisher) last() publishCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func newTestCore(t *testing.T, cfg Config, hs *fakeHeightStore, peers *fakePeers, factory *fakeFactory, pub *fakePublisher, q *txqueue.Queue) *Core {
	t.Helper()
	c, err := New(cfg, hs, peers, factory, pub, q, nil, prometheus.NewRegistry())
	require.NoError(t, err)
	return c
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestCore_FillTriggeredEmission(t *testing.T) {
	hs := &fakeHeightStore{}
	peers := &fakePeers{peers: []string{"peer-a"}, ok: true}
	factory := &fakeFactory{}
	pub := &fakePublisher{}
	q := txqueue.New()

	c := newTestCore(t, Config{MaxSize: 3, DeadlineInterval: time.Hour, IsAsync: false}, hs, peers, factory, pub, q)
	require.NoError(t, c.Start())
	defer c.Stop()

	q.Push(txmodel.Transaction{ID: []byte("1")})
	c.Notify()
	q.Push(txmodel.Transaction{ID: []byte("2")})
	c.Notify()
	q.Push(txmodel.Transaction{ID: []byte("3")})
	c.Notify()

	assert.Equal(t, txmodel.Height(1), c.CurrentHeight())
	assert.Equal(t, 1, pub.callCount())
	assert.Equal(t, 0, q.Size())
}

func TestCore_DeadlineTriggeredEmission(t *testing.T) {
	hs := &fakeHeightStore{}
	peers := &fakePeers{peers: []string{"peer-a"}, ok: true}
	factory := &fakeFactory{}
	pub := &fakePublisher{}
	q := txqueue.New()

	c := newTestCore(t, Config{MaxSize: 100, DeadlineInterval: 10 * time.Millisecond, IsAsync: true}, hs, peers, factory, pub, q)
	require.NoError(t, c.Start())
	defer c.Stop()

	q.Push(txmodel.Transaction{ID: []byte("only")})

	waitFor(t, time.Second, func() bool { return pub.callCount() == 1 })
	assert.Equal(t, txmodel.Height(1), c.CurrentHeight())
}

func TestCore_RestartPreservesHeight(t *testing.T) {
	hs := &fakeHeightStore{height: 41}
	peers := &fakePeers{peers: []string{"peer-a"}, ok: true}
	factory := &fakeFactory{}
	pub := &fakePublisher{}
	q := txqueue.New()

	c := newTestCore(t, Config{MaxSize: 1, DeadlineInterval: time.Hour, IsAsync: false}, hs, peers, factory, pub, q)
	assert.Equal(t, txmodel.Height(41), c.CurrentHeight())

	require.NoError(t, c.Start())
	q.Push(txmodel.Transaction{ID: []byte("a")})
	c.Notify()
	c.Stop()

	assert.Equal(t, txmodel.Height(42), c.CurrentHeight())
	assert.Equal(t, []txmodel.Height{42}, hs.savedHeights())
}

func TestCore_PersistenceFailureSkipsPublication(t *testing.T) {
	hs := &fakeHeightStore{saveErr: errors.New("disk full")}
	peers := &fakePeers{peers: []string{"peer-a"}, ok: true}
	factory := &fakeFactory{}
	pub := &fakePublisher{}
	q := txqueue.New()

	c := newTestCore(t, Config{MaxSize: 1, DeadlineInterval: time.Hour, IsAsync: false}, hs, peers, factory, pub, q)
	require.NoError(t, c.Start())
	defer c.Stop()

	q.Push(txmodel.Transaction{ID: []byte("a")})
	c.Notify()

	assert.Equal(t, txmodel.Height(0), c.CurrentHeight())
	assert.Equal(t, 0, pub.callCount())
}

func TestCore_FactoryFailureDiscardsDrainedTransactions(t *testing.T) {
	hs := &fakeHeightStore{}
	peers := &fakePeers{peers: []string{"peer-a"}, ok: true}
	factory := &fakeFactory{}
	factory.setFail(true)
	pub := &fakePublisher{}
	q := txqueue.New()

	c := newTestCore(t, Config{MaxSize: 1, DeadlineInterval: time.Hour, IsAsync: false}, hs, peers, factory, pub, q)
	require.NoError(t, c.Start())
	defer c.Stop()

	q.Push(txmodel.Transaction{ID: []byte("a")})
	c.Notify()

	assert.Equal(t, txmodel.Height(0), c.CurrentHeight())
	assert.Equal(t, 0, pub.callCount())
	assert.Equal(t, 0, q.Size(), "drained transactions are discarded, not returned to the queue")
}

func TestCore_EmptyPeerListStillAdvancesHeight(t *testing.T) {
	hs := &fakeHeightStore{}
	peers := &fakePeers{peers: nil, ok: false}
	factory := &fakeFactory{}
	pub := &fakePublisher{}
	q := txqueue.New()

	c := newTestCore(t, Config{MaxSize: 1, DeadlineInterval: time.Hour, IsAsync: false}, hs, peers, factory, pub, q)
	require.NoError(t, c.Start())
	defer c.Stop()

	q.Push(txmodel.Transaction{ID: []byte("a")})
	c.Notify()

	assert.Equal(t, txmodel.Height(1), c.CurrentHeight())
	assert.Equal(t, []txmodel.Height{1}, hs.savedHeights())
	assert.Equal(t, 0, pub.callCount(), "publication is skipped when no peer snapshot is available")
}

func TestCore_ConcurrentProducersWithDeadline(t *testing.T) {
	hs := &fakeHeightStore{}
	peers := &fakePeers{peers: []string{"peer-a"}, ok: true}
	factory := &fakeFactory{}
	pub := &fakePublisher{}
	q := txqueue.New()

	const (
		producers = 8
		perEach   = 1000
		maxSize   = 100
	)

	c := newTestCore(t, Config{MaxSize: maxSize, DeadlineInterval: 10 * time.Millisecond, IsAsync: true}, hs, peers, factory, pub, q)
	require.NoError(t, c.Start())

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perEach; i++ {
				q.Push(txmodel.Transaction{ID: []byte{byte(p), byte(i), byte(i >> 8)}})
				c.Notify()
			}
		}(p)
	}
	wg.Wait()

	waitFor(t, 5*time.Second, func() bool { return q.Size() == 0 })
	// The queue can reach zero while the last emission is still in
	// flight; waiting until every transaction has been published covers it.
	waitFor(t, time.Second, func() bool { return pub.totalTxCount() == producers*perEach })
	c.Stop()

	assert.Equal(t, len(hs.savedHeights()), pub.callCount(), "every persisted height corresponds to exactly one publication")
	assert.Equal(t, int(c.CurrentHeight()), pub.callCount())
}
