package services

import (
	"context"
	"sync"

	evalhub_errors "evalhub/pkg/errors"
	"evalhub/pkg/logger"

	"github.com/google/uuid"
)

// ReassemblyHandler processes one completed upload end to end. It must not
// return until the attachment has reached a terminal or ready state.
type ReassemblyHandler func(ctx context.Context, attachmentID uuid.UUID)

// ReassemblyQueue runs reassembly jobs on a fixed pool of workers with a
// bounded backlog. Callers reserve a slot before flipping an attachment to
// processing, so a saturated queue is reported while the row is still
// retryable.
type ReassemblyQueue struct {
	handler ReassemblyHandler
	jobs    chan uuid.UUID
	slots   chan struct{}
	workers int

	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	log      *logger.Logger
}

func NewReassemblyQueue(workers, capacity int, handler ReassemblyHandler, log *logger.Logger) *ReassemblyQueue {
	if workers < 1 {
		workers = 1
	}
	if capacity < 1 {
		capacity = 1
	}
	q := &ReassemblyQueue{
		handler:  handler,
		jobs:     make(chan uuid.UUID, capacity),
		slots:    make(chan struct{}, capacity),
		workers:  workers,
		stopChan: make(chan struct{}),
		log:      log,
	}
	for i := 0; i < capacity; i++ {
		q.slots <- struct{}{}
	}
	return q
}

func (q *ReassemblyQueue) Start() {
	if q.running {
		return
	}
	q.running = true
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.run()
	}
	q.log.Infof("reassembly queue started with %d workers, capacity %d", q.workers, cap(q.jobs))
}

func (q *ReassemblyQueue) Stop() {
	if !q.running {
		return
	}
	q.running = false
	close(q.stopChan)
	q.wg.Wait()
	if pending := len(q.jobs); pending > 0 {
		q.log.Warnf("reassembly queue stopped with %d jobs pending", pending)
	}
}

// Reserve claims a backlog slot. Every successful Reserve must be followed by
// exactly one Submit or Release.
func (q *ReassemblyQueue) Reserve() error {
	select {
	case <-q.slots:
		return nil
	default:
		return evalhub_errors.ErrQueueFull
	}
}

// Release returns an unused reservation, e.g. when the status flip that was
// supposed to precede Submit lost its race.
func (q *ReassemblyQueue) Release() {
	q.slots <- struct{}{}
}

// Submit hands a job to the pool. It never blocks: the caller holds a
// reservation, so the backlog has room.
func (q *ReassemblyQueue) Submit(attachmentID uuid.UUID) {
	q.jobs <- attachmentID
}

func (q *ReassemblyQueue) run() {
	defer q.wg.Done()
	for {
		select {
		case <-q.stopChan:
			return
		case id := <-q.jobs:
			q.process(id)
			q.slots <- struct{}{}
		}
	}
}

// process shields the worker goroutine: a panicking handler must not take
// the pool down. Handlers are expected to recover on their own first and
// record a terminal state for the job.
func (q *ReassemblyQueue) process(id uuid.UUID) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Errorf("reassembly job %s panicked: %v", id, r)
		}
	}()
	q.handler(context.Background(), id)
}
