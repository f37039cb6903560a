// ops.go - DBL operation contracts shared by every DAO implementation.
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

import "fmt"

// Backend is the storage-facing half of a DAO: the set of operations a DAO
// implementation must provide. ServeWithBackend dispatches a Request onto
// these methods so that every Backend gets the same op-handling and error
// disposition for free; only the storage mechanics differ between, say, an
// in-memory map and a SQL-backed store.
//
// A Backend method's error return is reserved for system-level failures
// (a dropped connection, a marshaling bug); logical outcomes like "no such
// user" or "wrong password" are reported on the Result itself via
// OpFailed, because those are not system errors (see the DAO contract's
// error disposition table).
type Backend interface {
	CreateUser(CreateUserInput) (CreateUserResult, error)
	UpdateUser(UpdateUserInput) (UpdateUserResult, error)
	DescribeUser(DescribeUserInput) (DescribeUserResult, error)
	AuthenticateUser(AuthenticateInput) (AuthenticateResult, error)
	CreateLogRecord(CreateLogRecordInput) (CreateLogRecordResult, error)
	DescribeLogGroup(DescribeLogGroupInput) (DescribeLogGroupResult, error)
}

// CreateUserInput is the operation-specific input for OpCreateUser.
type CreateUserInput struct {
	Username  string
	Password  string
	FirstName string
	LastName  string
	Email     string
}

// CreateUserResult is the operation-specific success payload for
// OpCreateUser. A logical failure (e.g. the username is taken) sets
// OpFailed/OpFailedDesc rather than returning a Go error.
type CreateUserResult struct {
	OpFailed     bool
	OpFailedDesc string
	UID          string
}

// UpdateUserInput is the operation-specific input for OpUpdateUser. Empty
// string fields leave the corresponding column unchanged.
type UpdateUserInput struct {
	UID       string
	FirstName string
	LastName  string
	Email     string
}

// UpdateUserResult is the operation-specific success payload for
// OpUpdateUser.
type UpdateUserResult struct {
	OpFailed     bool
	OpFailedDesc string
	UID          string
}

// DescribeUserInput is the operation-specific input for OpDescribeUser.
type DescribeUserInput struct {
	Username string
}

// DescribeUserResult is the operation-specific success payload for
// OpDescribeUser.
type DescribeUserResult struct {
	OpFailed     bool
	OpFailedDesc string
	UID          string
	Username     string
	FirstName    string
	LastName     string
	Email        string
}

// AuthenticateInput is the operation-specific input for
// OpAuthenticateUser.
type AuthenticateInput struct {
	Username string
	Password string
}

// AuthenticateResult is the operation-specific success payload for
// OpAuthenticateUser. InvalidUser and InvalidPass are mutually exclusive
// OpFailed reasons; the zero value (OpFailed=false) means the credentials
// matched and the remaining fields describe the authenticated user.
type AuthenticateResult struct {
	OpFailed    bool
	InvalidUser bool
	InvalidPass bool
	UID         string
	Username    string
	FirstName   string
	LastName    string
	Email       string
}

// CreateLogRecordInput is the operation-specific input for
// OpCreateLogRecord: the HTTP-visible log-ingestion path.
type CreateLogRecordInput struct {
	LogGroup   string
	Record     string
	SyncLevel  int
}

// CreateLogRecordResult is the operation-specific success payload for
// OpCreateLogRecord.
type CreateLogRecordResult struct {
	OpFailed     bool
	OpFailedDesc string
	RecordID     string
}

// DescribeLogGroupInput is the operation-specific input for
// OpDescribeLogGroup.
type DescribeLogGroupInput struct {
	LogGroup string
	Limit    int
}

// LogRecordEntry is one record returned by DescribeLogGroup.
type LogRecordEntry struct {
	RecordID  string
	Record    string
	SyncLevel int
	CreatedAt string
}

// DescribeLogGroupResult is the operation-specific success payload for
// OpDescribeLogGroup.
type DescribeLogGroupResult struct {
	OpFailed     bool
	OpFailedDesc string
	Records      []LogRecordEntry
}

const healthCheckOK = "DBL health check: OK"

// ServeWithBackend implements the DAO contract's dispatch-on-req.Op step
// for any Backend: when it returns nil, req has exactly one of its result
// slots set; when it returns an error (bad input type, unknown op, or a
// Backend error), req is left incomplete. Health checks complete directly;
// every other op is type-asserted onto its input struct and handed to the
// matching Backend method.
func ServeWithBackend(req *Request, b Backend) error {
	switch req.Op {
	case OpHealthCheck1, OpHealthCheck2, OpHealthCheck3:
		req.Complete(healthCheckOK)
		return nil

	case OpCreateUser:
		in, ok := req.Data.(CreateUserInput)
		if !ok {
			return fmt.Errorf("dbl: CREATE_USER: bad input type %T", req.Data)
		}
		res, err := b.CreateUser(in)
		if err != nil {
			return err
		}
		req.Complete(res)
		return nil

	case OpUpdateUser:
		in, ok := req.Data.(UpdateUserInput)
		if !ok {
			return fmt.Errorf("dbl: UPDATE_USER: bad input type %T", req.Data)
		}
		res, err := b.UpdateUser(in)
		if err != nil {
			return err
		}
		req.Complete(res)
		return nil

	case OpDescribeUser:
		in, ok := req.Data.(DescribeUserInput)
		if !ok {
			return fmt.Errorf("dbl: DESCRIBE_USER: bad input type %T", req.Data)
		}
		res, err := b.DescribeUser(in)
		if err != nil {
			return err
		}
		req.Complete(res)
		return nil

	case OpAuthenticateUser:
		in, ok := req.Data.(AuthenticateInput)
		if !ok {
			return fmt.Errorf("dbl: AUTHENTICATE_USER: bad input type %T", req.Data)
		}
		res, err := b.AuthenticateUser(in)
		if err != nil {
			return err
		}
		req.Complete(res)
		return nil

	case OpCreateLogRecord:
		in, ok := req.Data.(CreateLogRecordInput)
		if !ok {
			return fmt.Errorf("dbl: CREATE_LOG_RECORD: bad input type %T", req.Data)
		}
		res, err := b.CreateLogRecord(in)
		if err != nil {
			return err
		}
		req.Complete(res)
		return nil

	case OpDescribeLogGroup:
		in, ok := req.Data.(DescribeLogGroupInput)
		if !ok {
			return fmt.Errorf("dbl: DESCRIBE_LOG_GROUP: bad input type %T", req.Data)
		}
		res, err := b.DescribeLogGroup(in)
		if err != nil {
			return err
		}
		req.Complete(res)
		return nil

	default:
		return fmt.Errorf("dbl: unknown op %v", req.Op)
	}
}
