package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/switchboard-io/switchboard/pkg/bus"
)

// mailboxIdleTimeout is how long an empty mailbox keeps its worker
// before it is torn down and the conversation entry released.
const mailboxIdleTimeout = time.Minute

// mailbox is the single-consumer queue of one conversation. All runs
// for the conversation execute on its worker goroutine, which
// serializes state and context writes without explicit locking.
type mailbox struct {
	ch      chan Event
	stopped bool
}

// mailboxSet owns one mailbox per active conversation. Mailboxes are
// created on first enqueue and torn down after an idle period.
type mailboxSet struct {
	mu      sync.Mutex
	boxes   map[string]*mailbox
	depth   int
	handler func(Event)
	done    chan struct{}
	closed  bool
	wg      sync.WaitGroup
}

func newMailboxSet(depth int, handler func(Event)) *mailboxSet {
	return &mailboxSet{
		boxes:   map[string]*mailbox{},
		depth:   depth,
		handler: handler,
		done:    make(chan struct{}),
	}
}

// enqueue queues an event for its conversation, spawning the worker if
// needed. A full mailbox rejects with bus.ErrOverloaded.
func (s *mailboxSet) enqueue(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("coordinator is shut down")
	}
	box := s.boxes[event.ConversationID]
	if box == nil || box.stopped {
		box = &mailbox{ch: make(chan Event, s.depth)}
		s.boxes[event.ConversationID] = box
		s.wg.Add(1)
		go s.work(event.ConversationID, box)
	}

	select {
	case box.ch <- event:
		return nil
	default:
		return fmt.Errorf("conversation %s mailbox full: %w", event.ConversationID, bus.ErrOverloaded)
	}
}

// work drains one mailbox until shutdown or idle teardown. Teardown
// holds the set lock while checking emptiness, so an enqueue can never
// land on a worker that already decided to exit.
func (s *mailboxSet) work(conversationID string, box *mailbox) {
	defer s.wg.Done()
	idle := time.NewTimer(mailboxIdleTimeout)
	defer idle.Stop()

	for {
		select {
		case event := <-box.ch:
			s.handler(event)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(mailboxIdleTimeout)
		case <-s.done:
			return
		case <-idle.C:
			s.mu.Lock()
			if len(box.ch) == 0 {
				box.stopped = true
				delete(s.boxes, conversationID)
				s.mu.Unlock()
				return
			}
			s.mu.Unlock()
			idle.Reset(mailboxIdleTimeout)
		}
	}
}

// depthTotal reports the number of queued events across all mailboxes.
func (s *mailboxSet) depthTotal() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, box := range s.boxes {
		total += len(box.ch)
	}
	return total
}

// close stops all workers and waits for in-flight runs to return.
func (s *mailboxSet) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()
	s.wg.Wait()
}

// cancelRegistry tracks the cancel function of each conversation's
// in-flight run so control events can preempt it.
type cancelRegistry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func newCancelRegistry() *cancelRegistry {
	return &cancelRegistry{cancels: map[string]context.CancelFunc{}}
}

func (r *cancelRegistry) register(conversationID string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancels[conversationID] = cancel
}

// Runs per conversation are serialized, so the entry being removed is
// always the one this run registered.
func (r *cancelRegistry) unregister(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cancels, conversationID)
}

func (r *cancelRegistry) cancel(conversationID string) {
	r.mu.Lock()
	cancel, ok := r.cancels[conversationID]
	if ok {
		delete(r.cancels, conversationID)
	}
	r.mu.Unlock()
	if ok {
		cancel()
	}
}

func (r *cancelRegistry) cancelAll() {
	r.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(r.cancels))
	for _, cancel := range r.cancels {
		cancels = append(cancels, cancel)
	}
	r.cancels = map[string]context.CancelFunc{}
	r.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}
