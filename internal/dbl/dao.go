// dao.go - the DAO contract implementations bind to.
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

// DAO is the storage-facing object the worker loop owns exclusively for
// its entire lifetime. Serve must, on return, leave req in a completed
// state unless it returns a non-nil error - the worker loop's safety net
// covers that case, but a well-behaved DAO never relies on it. Close
// releases whatever resources the DAO opened (file handles, connection
// pools) and is called exactly once, when the worker loop exits.
type DAO interface {
	Serve(req *Request) error
	Close() error
}

// DAOFactory builds a DAO. It is invoked exactly once per worker, on the
// worker's own goroutine, so that a DAO requiring thread affinity (a SQL
// driver that is not safe to open on one goroutine and use on another,
// for instance) is always constructed on the goroutine that will use it.
type DAOFactory func() (DAO, error)
