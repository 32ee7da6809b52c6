// Package transport implements the Transport collaborator (C4): an
// inbound surface that accepts transactions and batches over
// length-prefixed gob connections and enqueues them, and an outbound
// surface that fans a proposal out to a peer set, one independent
// asynchronous call per destination. Grounded on
// internal/p2p/server.go's connection handling and
// original_source/irohad/ordering/impl/ordering_service_transport_grpc.cpp's
// method set and per-peer async publish.
package transport

import (
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/empower1/orderingd/internal/txmodel"
	"github.com/empower1/orderingd/internal/txqueue"
	"github.com/empower1/orderingd/internal/wire"
)

var (
	ErrServerAlreadyRunning = errors.New("transport: server is already running")
	ErrServerNotRunning     = errors.New("transport: server is not running")
	ErrFailedToListen       = errors.New("transport: failed to listen")
	ErrMalformedMessage     = errors.New("transport: malformed inbound message")
)

const dialTimeout = 5 * time.Second

// Server is the inbound surface of C4. It listens for peer connections,
// decodes frames, and enqueues well-formed transactions into a Queue.
// Each successful enqueue notifies OnArrival, which the trigger stream
// subscribes to.
type Server struct {
	listenAddr string
	queue      *txqueue.Queue
	onArrival  func()
	logger     *log.Logger

	mu       sync.Mutex
	listener net.Listener
	quit     chan struct{}
	wg       sync.WaitGroup
	running  bool
}

// NewServer creates a Server that enqueues accepted transactions into
// queue and invokes onArrival once per accepted transaction (including
// once per transaction within an accepted batch), matching
// ordering_service_impl.cpp's one ProposalEvent per onTransaction call.
func NewServer(listenAddr string, queue *txqueue.Queue, onArrival func()) *Server {
	logger := log.New(os.Stdout, "TRANSPORT: ", log.Ldate|log.Ltime|log.Lshortfile)
	return &Server{
		listenAddr: listenAddr,
		queue:      queue,
		onArrival:  onArrival,
		logger:     logger,
	}
}

// Start begins listening and accepting connections in a background
// goroutine.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrServerAlreadyRunning
	}

	ln, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFailedToListen, err)
	}
	s.listener = ln
	s.quit = make(chan struct{})
	s.running = true

	s.wg.Add(1)
	go s.acceptLoop()

	s.logger.Printf("Transport server listening on %s", s.listenAddr)
	return nil
}

// Stop closes the listener and waits for in-flight connection handlers
// to finish.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrServerNotRunning
	}
	s.running = false
	close(s.quit)
	s.listener.Close()
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Println("Transport server stopped.")
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
				s.logger.Printf("TRANSPORT_WARN: accept error: %v", err)
				continue
			}
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	for {
		frame, err := wire.ReadFrame(conn)
		if err != nil {
			return
		}
		if err := s.dispatch(frame); err != nil {
			s.logger.Printf("TRANSPORT_WARN: dropping malformed message from %s: %v", conn.RemoteAddr(), err)
		}
	}
}

func (s *Server) dispatch(f wire.Frame) error {
	switch f.Kind {
	case wire.KindTransaction:
		msg, err := wire.DecodeTransaction(f)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		return s.OnTransaction(txmodel.Transaction{ID: msg.ID, Payload: msg.Payload})
	case wire.KindBatch:
		msg, err := wire.DecodeBatch(f)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		txs := make([]txmodel.Transaction, len(msg.Transactions))
		for i, m := range msg.Transactions {
			txs[i] = txmodel.Transaction{ID: m.ID, Payload: m.Payload}
		}
		return s.OnBatch(txs)
	default:
		return fmt.Errorf("%w: unknown frame kind %d", ErrMalformedMessage, f.Kind)
	}
}

// OnTransaction accepts a single transaction after transport-level
// validation. A malformed transaction (no ID) is dropped: nothing is
// enqueued and no arrival signal fires.
func (s *Server) OnTransaction(tx txmodel.Transaction) error {
	if len(tx.ID) == 0 {
		return fmt.Errorf("%w: transaction has no ID", ErrMalformedMessage)
	}
	s.queue.Push(tx)
	if s.onArrival != nil {
		s.onArrival()
	}
	return nil
}

// OnBatch accepts an ordered batch, enqueuing each transaction in order.
// The whole batch is rejected if any member is malformed, so either
// every transaction of the batch is enqueued, in batch order, or none is.
func (s *Server) OnBatch(txs []txmodel.Transaction) error {
	for _, tx := range txs {
		if len(tx.ID) == 0 {
			return fmt.Errorf("%w: batch contains a transaction with no ID", ErrMalformedMessage)
		}
	}
	s.queue.PushBatch(txs)
	for range txs {
		if s.onArrival != nil {
			s.onArrival()
		}
	}
	return nil
}

// Publisher is the outbound surface of C4: it fans a proposal out to a
// peer address set, one independent asynchronous call per destination.
type Publisher struct {
	dialTimeout time.Duration
	logger      *log.Logger
	wg          sync.WaitGroup
}

// NewPublisher creates a Publisher with the default dial timeout.
func NewPublisher() *Publisher {
	return &Publisher{
		dialTimeout: dialTimeout,
		logger:      log.New(os.Stdout, "PUBLISHER: ", log.Ldate|log.Ltime|log.Lshortfile),
	}
}

// PublishProposal fans proposal out to every address in peers. Each
// destination is attempted on its own goroutine; a failure on one
// destination is logged and ignored, never retried, and never affects
// delivery to the others. PublishProposal itself does not block on
// dialing or delivery: it returns as soon as one goroutine per
// destination has been launched.
func (p *Publisher) PublishProposal(proposal txmodel.Proposal, peers []string) {
	msg := toProposalMsg(proposal)
	frame, err := wire.EncodePayload(wire.KindProposal, msg)
	if err != nil {
		p.logger.Printf("PUBLISHER_ERROR: failed to encode proposal %d: %v", proposal.Height, err)
		return
	}

	for _, addr := range peers {
		addr := addr
		callID := uuid.New()
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			if err := p.send(addr, frame); err != nil {
				p.logger.Printf("PUBLISHER_WARN: call %s: proposal %d delivery to %s failed: %v",
					callID, proposal.Height, addr, err)
			}
		}()
	}
}

func (p *Publisher) send(addr string, frame wire.Frame) error {
	conn, err := net.DialTimeout("tcp", addr, p.dialTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()
	return wire.WriteFrame(conn, frame)
}

// Shutdown waits for all in-flight outbound calls to finish. This is
// the completion reaper: it must run before any per-call state (the
// connections opened by send) could otherwise be abandoned mid-flight.
func (p *Publisher) Shutdown() {
	p.wg.Wait()
}

func toProposalMsg(p txmodel.Proposal) wire.ProposalMsg {
	txs := make([]wire.TransactionMsg, len(p.Transactions))
	for i, tx := range p.Transactions {
		txs[i] = wire.TransactionMsg{ID: tx.ID, Payload: tx.Payload}
	}
	return wire.ProposalMsg{
		Height:       uint64(p.Height),
		CreatedAtUTC: p.CreatedAt.UnixMilli(),
		Transactions: txs,
	}
}
