// dispatch.go - weighted priority dispatch bank.
// Copyright (C) 2017  Yawning Angel.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package dbl

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/eapache/channels"
)

// ErrQueueFull is returned by Submit when the target priority's queue has
// a configured capacity bound and is currently full.
var ErrQueueFull = errors.New("dispatch: queue full")

// ErrClosed is returned by Submit once the bank has been closed.
var ErrClosed = errors.New("dispatch: bank closed")

var priorityOrder = []Priority{PriorityLow, PriorityNormal, PriorityHigh}

// DispatchBank is three FIFO queues keyed by priority, offering
// non-blocking submission from any number of producers and weighted-random
// dequeue for a single consumer. Within one priority, ordering is FIFO;
// across priorities, the weighted random draw is the only tie-break.
type DispatchBank struct {
	queues map[Priority]channels.Channel

	rngMu sync.Mutex
	rng   *rand.Rand

	closeOnce sync.Once
	closed    chan struct{}
}

// NewDispatchBank builds a bank with three queues, one per priority.
// capacity <= 0 means an unbounded queue (Submit never returns
// ErrQueueFull for that priority); capacity > 0 bounds each queue to that
// many pending requests.
func NewDispatchBank(capacity int) *DispatchBank {
	b := &DispatchBank{
		queues: make(map[Priority]channels.Channel, len(priorityOrder)),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		closed: make(chan struct{}),
	}
	for _, p := range priorityOrder {
		if capacity > 0 {
			b.queues[p] = channels.NewNativeChannel(channels.BufferCap(capacity))
		} else {
			b.queues[p] = channels.NewInfiniteChannel()
		}
	}
	return b
}

// Submit enqueues req on the queue selected by req.Priority. It never
// blocks on anything but internal queue-lock acquisition: a capacity-
// bounded queue that is full returns ErrQueueFull immediately instead of
// waiting for room. A panic while submitting (defensive: none of this
// package's own code should panic) is recovered and returned as an error
// rather than propagated into the caller's goroutine, matching the
// disposition table for "Panics/exceptions in Submit".
func (b *DispatchBank) Submit(req *Request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch: panic in submit: %v", r)
		}
	}()

	select {
	case <-b.closed:
		return ErrClosed
	default:
	}

	q, ok := b.queues[req.Priority]
	if !ok {
		return fmt.Errorf("dispatch: unknown priority %v", req.Priority)
	}

	select {
	case q.In() <- req:
		return nil
	default:
		return ErrQueueFull
	}
}

// Next returns the next request per the weighted-random scheduling rule,
// or nil if the bank currently has nothing to offer. For each priority
// whose queue is non-empty, the queue is entered into a candidate pool
// Priority.Weight() times; one pool entry is then chosen uniformly at
// random and popped. If the chosen queue raced to empty between the
// emptiness check and the pop, Next returns nil and the caller is expected
// to call it again - it never blocks waiting for work to appear.
func (b *DispatchBank) Next() *Request {
	var pool []channels.Channel
	for _, p := range priorityOrder {
		q := b.queues[p]
		if q.Len() == 0 {
			continue
		}
		for i := 0; i < p.Weight(); i++ {
			pool = append(pool, q)
		}
	}
	if len(pool) == 0 {
		return nil
	}

	b.rngMu.Lock()
	idx := b.rng.Intn(len(pool))
	b.rngMu.Unlock()

	chosen := pool[idx]
	select {
	case v, ok := <-chosen.Out():
		if !ok {
			return nil
		}
		return v.(*Request)
	default:
		return nil
	}
}

// Close shuts down every queue. Submit returns ErrClosed afterwards; Next
// continues to drain whatever was already enqueued, then returns nil
// forever. Close is idempotent.
func (b *DispatchBank) Close() {
	b.closeOnce.Do(func() {
		close(b.closed)
		for _, q := range b.queues {
			q.Close()
		}
	})
}
