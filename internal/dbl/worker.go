// worker.go - the single DB worker loop.
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
	"context"
	"fmt"
	"time"

	"github.com/kouritron/l6sk/internal/logging"
)

// Worker is the single consumer that drains a DispatchBank onto one DAO.
// There is exactly one Worker per DAO instance: the DAO is constructed on
// the Worker's own goroutine via factory and is never touched by any other
// goroutine for its entire lifetime.
type Worker struct {
	dispatch *DispatchBank
	factory  DAOFactory
	log      *logging.Logger

	idleThreshold int
	idleSleep     time.Duration
}

// NewWorker builds a Worker. idleThreshold is the number of consecutive
// empty polls of the dispatch bank tolerated before the loop starts
// sleeping idleSleep between polls; once work reappears the idle counter
// resets to zero and polling goes back to busy-spin.
func NewWorker(dispatch *DispatchBank, factory DAOFactory, log *logging.Logger, idleThreshold int, idleSleep time.Duration) *Worker {
	return &Worker{
		dispatch:      dispatch,
		factory:       factory,
		log:           log,
		idleThreshold: idleThreshold,
		idleSleep:     idleSleep,
	}
}

// Run builds the DAO and drives the worker loop until ctx is done. It
// returns the error from the DAOFactory call, if any; otherwise it returns
// nil once ctx is canceled and the DAO has been closed. Run never exits
// early because of a request-serving failure: every error that isn't a
// factory error is logged and the loop continues, because exactly one
// worker owns this DAO and there is nobody else to take over.
func (w *Worker) Run(ctx context.Context) error {
	dao, err := w.factory()
	if err != nil {
		return fmt.Errorf("dbl: worker: build dao: %w", err)
	}
	defer func() {
		if cerr := dao.Close(); cerr != nil {
			w.log.Warningf("dbl: worker: close dao: %v", cerr)
		}
	}()

	idle := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		req := w.dispatch.Next()
		if req == nil {
			idle++
			if idle > w.idleThreshold {
				time.Sleep(w.idleSleep)
				if idle > 0 {
					idle--
				}
			}
			continue
		}

		idle = 0
		w.serve(dao, req)
	}
}

// serve calls dao.Serve and guarantees req ends up completed no matter
// what happens inside: a panic is recovered, a returned error is logged,
// and if the DAO still left req incomplete (buggy DAO, or an error path)
// serve fails req itself so no submitter ever waits forever.
func (w *Worker) serve(dao DAO, req *Request) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Errorf("dbl: worker: panic serving %s: %v", req.Op, r)
		}
		if !req.IsComplete() {
			req.Fail(&FailCause{
				HTTPCode: 500,
				UserMsg:  "Internal Server Error",
				DbgInfo:  fmt.Sprintf("dbl: worker: %s left incomplete", req.Op),
			})
		}
	}()

	if err := dao.Serve(req); err != nil {
		w.log.Warningf("dbl: worker: serve %s: %v", req.Op, err)
	}
}
