// dao_mem.go - in-memory DAO, mainly for tests and the default dev config.
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
	"crypto/subtle"
	"fmt"

	"github.com/kouritron/l6sk/internal/kdf"
	"github.com/kouritron/l6sk/internal/uuidgen"
)

type userRecord struct {
	uid       string
	username  string
	shadow    string
	firstName string
	lastName  string
	email     string
}

type logRecord struct {
	id        string
	record    string
	syncLevel int
	createdAt string
}

// MemDAO is a Backend/DAO implemented with bare Go maps. It carries no
// locks of its own: the worker loop is the only goroutine ever permitted
// to touch it, exactly like every other DAO implementation.
type MemDAO struct {
	kdf   *kdf.AuthKDF
	uuids *uuidgen.Generator

	usersByName map[string]*userRecord
	usersByUID  map[string]*userRecord
	logGroups   map[string][]logRecord
}

// NewMemDAOFactory returns a DAOFactory that builds a fresh, empty MemDAO.
func NewMemDAOFactory(k *kdf.AuthKDF, u *uuidgen.Generator) DAOFactory {
	return func() (DAO, error) {
		return &MemDAO{
			kdf:         k,
			uuids:       u,
			usersByName: make(map[string]*userRecord),
			usersByUID:  make(map[string]*userRecord),
			logGroups:   make(map[string][]logRecord),
		}, nil
	}
}

// Serve dispatches req onto the Backend methods below.
func (d *MemDAO) Serve(req *Request) error {
	return ServeWithBackend(req, d)
}

// Close is a no-op: MemDAO owns nothing that outlives the process.
func (d *MemDAO) Close() error {
	return nil
}

func (d *MemDAO) CreateUser(in CreateUserInput) (CreateUserResult, error) {
	if _, exists := d.usersByName[in.Username]; exists {
		return CreateUserResult{OpFailed: true, OpFailedDesc: "username already exists"}, nil
	}

	shadow, err := d.kdf.Shadow(in.Password)
	if err != nil {
		return CreateUserResult{}, fmt.Errorf("dao_mem: shadow password: %w", err)
	}

	uid, err := d.uuids.Next()
	if err != nil {
		return CreateUserResult{}, fmt.Errorf("dao_mem: generate uid: %w", err)
	}

	rec := &userRecord{
		uid:       uid,
		username:  in.Username,
		shadow:    shadow,
		firstName: in.FirstName,
		lastName:  in.LastName,
		email:     in.Email,
	}
	d.usersByName[in.Username] = rec
	d.usersByUID[uid] = rec

	return CreateUserResult{UID: uid}, nil
}

func (d *MemDAO) UpdateUser(in UpdateUserInput) (UpdateUserResult, error) {
	rec, ok := d.usersByUID[in.UID]
	if !ok {
		return UpdateUserResult{OpFailed: true, OpFailedDesc: "no such user"}, nil
	}

	if in.FirstName != "" {
		rec.firstName = in.FirstName
	}
	if in.LastName != "" {
		rec.lastName = in.LastName
	}
	if in.Email != "" {
		rec.email = in.Email
	}

	return UpdateUserResult{UID: rec.uid}, nil
}

func (d *MemDAO) DescribeUser(in DescribeUserInput) (DescribeUserResult, error) {
	rec, ok := d.usersByName[in.Username]
	if !ok {
		return DescribeUserResult{OpFailed: true, OpFailedDesc: "no such user"}, nil
	}

	return DescribeUserResult{
		UID:       rec.uid,
		Username:  rec.username,
		FirstName: rec.firstName,
		LastName:  rec.lastName,
		Email:     rec.email,
	}, nil
}

func (d *MemDAO) AuthenticateUser(in AuthenticateInput) (AuthenticateResult, error) {
	rec, ok := d.usersByName[in.Username]
	if !ok {
		return AuthenticateResult{OpFailed: true, InvalidUser: true}, nil
	}

	shadow, err := d.kdf.Shadow(in.Password)
	if err != nil {
		return AuthenticateResult{}, fmt.Errorf("dao_mem: shadow password: %w", err)
	}

	if subtle.ConstantTimeCompare([]byte(shadow), []byte(rec.shadow)) != 1 {
		return AuthenticateResult{OpFailed: true, InvalidPass: true}, nil
	}

	return AuthenticateResult{
		UID:       rec.uid,
		Username:  rec.username,
		FirstName: rec.firstName,
		LastName:  rec.lastName,
		Email:     rec.email,
	}, nil
}

func (d *MemDAO) CreateLogRecord(in CreateLogRecordInput) (CreateLogRecordResult, error) {
	id, err := d.uuids.Next()
	if err != nil {
		return CreateLogRecordResult{}, fmt.Errorf("dao_mem: generate record id: %w", err)
	}

	d.logGroups[in.LogGroup] = append(d.logGroups[in.LogGroup], logRecord{
		id:        id,
		record:    in.Record,
		syncLevel: in.SyncLevel,
		createdAt: "",
	})

	return CreateLogRecordResult{RecordID: id}, nil
}

func (d *MemDAO) DescribeLogGroup(in DescribeLogGroupInput) (DescribeLogGroupResult, error) {
	recs, ok := d.logGroups[in.LogGroup]
	if !ok || len(recs) == 0 {
		return DescribeLogGroupResult{OpFailed: true, OpFailedDesc: "no such log group"}, nil
	}

	limit := in.Limit
	if limit <= 0 || limit > len(recs) {
		limit = len(recs)
	}

	start := len(recs) - limit
	out := make([]LogRecordEntry, 0, limit)
	for _, r := range recs[start:] {
		out = append(out, LogRecordEntry{
			RecordID:  r.id,
			Record:    r.record,
			SyncLevel: r.syncLevel,
			CreatedAt: r.createdAt,
		})
	}

	return DescribeLogGroupResult{Records: out}, nil
}
