// dao_sqlite.go - embedded-SQL DAO backed by modernc.org/sqlite.
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
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kouritron/l6sk/internal/archive"
	"github.com/kouritron/l6sk/internal/kdf"
	"github.com/kouritron/l6sk/internal/logging"
	"github.com/kouritron/l6sk/internal/uuidgen"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	uid        TEXT PRIMARY KEY,
	username   TEXT NOT NULL UNIQUE,
	shadow     TEXT NOT NULL,
	first_name TEXT NOT NULL DEFAULT '',
	last_name  TEXT NOT NULL DEFAULT '',
	email      TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS log_records (
	id          TEXT PRIMARY KEY,
	log_group   TEXT NOT NULL,
	record      TEXT NOT NULL,
	sync_level  INTEGER NOT NULL DEFAULT 0,
	created_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);

CREATE INDEX IF NOT EXISTS idx_log_records_group ON log_records(log_group, id);
`

// SqliteDAO is a Backend/DAO backed by a single modernc.org/sqlite
// connection. It is the disk-backed DAO: it owns the file at path,
// reconnects on transient errors, and retries each failed statement once
// after reconnecting. CreateUser runs two statements, each with its own
// retry, so one CREATE_USER request can reconnect and retry up to twice.
type SqliteDAO struct {
	path           string
	reconnectDelay time.Duration

	kdf   *kdf.AuthKDF
	uuids *uuidgen.Generator
	log   *logging.Logger

	// archive is an optional durable write-behind copy of log records,
	// kept in a bbolt-backed store alongside the primary sqlite file. A
	// failure to write to it is logged but never fails the request: the
	// sqlite row is the authoritative copy.
	archive *archive.Store

	db *sql.DB
}

// NewSqliteDAOFactory returns a DAOFactory that opens (and migrates) a
// sqlite database at path on the worker's own goroutine. arc may be nil,
// in which case log records are not additionally archived to bbolt.
func NewSqliteDAOFactory(path string, reconnectDelay time.Duration, k *kdf.AuthKDF, u *uuidgen.Generator, log *logging.Logger, arc *archive.Store) DAOFactory {
	return func() (DAO, error) {
		d := &SqliteDAO{
			path:           path,
			reconnectDelay: reconnectDelay,
			kdf:            k,
			uuids:          u,
			log:            log,
			archive:        arc,
		}
		if err := d.open(); err != nil {
			return nil, err
		}
		return d, nil
	}
}

func (d *SqliteDAO) open() error {
	db, err := sql.Open("sqlite", d.path)
	if err != nil {
		return fmt.Errorf("dao_sqlite: open %s: %w", d.path, err)
	}
	// A single logical connection: sqlite's writer lock means more open
	// conns would just serialize at the driver anyway, and a single conn
	// keeps WAL checkpoint behavior predictable under this DAO's
	// single-consumer usage.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		db.Close()
		return fmt.Errorf("dao_sqlite: enable WAL: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return fmt.Errorf("dao_sqlite: migrate schema: %w", err)
	}

	d.db = db
	return nil
}

// reconnect closes the current handle, if any, waits reconnectDelay, then
// reopens. A close failure is logged and otherwise ignored: the old handle
// is being discarded regardless.
func (d *SqliteDAO) reconnect() error {
	if d.db != nil {
		if err := d.db.Close(); err != nil {
			d.log.Warningf("dao_sqlite: close before reconnect: %v", err)
		}
		d.db = nil
	}
	time.Sleep(d.reconnectDelay)
	return d.open()
}

// withRetry runs fn; on error it logs, reconnects, and retries fn exactly
// once. If the retry also fails, the second error is returned and no
// further attempt is made for this statement.
func (d *SqliteDAO) withRetry(fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}

	d.log.Warningf("dao_sqlite: op failed, reconnecting: %v", err)
	if rerr := d.reconnect(); rerr != nil {
		return fmt.Errorf("dao_sqlite: reconnect after %v: %w", err, rerr)
	}

	return fn()
}

// Serve dispatches req onto the Backend methods below.
func (d *SqliteDAO) Serve(req *Request) error {
	return ServeWithBackend(req, d)
}

// Close releases the underlying sql.DB handle.
func (d *SqliteDAO) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

func (d *SqliteDAO) CreateUser(in CreateUserInput) (CreateUserResult, error) {
	var exists bool
	var out CreateUserResult

	err := d.withRetry(func() error {
		row := d.db.QueryRow(`SELECT 1 FROM users WHERE username = ?`, in.Username)
		var one int
		scanErr := row.Scan(&one)
		if scanErr == sql.ErrNoRows {
			exists = false
			return nil
		}
		if scanErr != nil {
			return scanErr
		}
		exists = true
		return nil
	})
	if err != nil {
		return CreateUserResult{}, err
	}
	if exists {
		return CreateUserResult{OpFailed: true, OpFailedDesc: "username already exists"}, nil
	}

	shadow, err := d.kdf.Shadow(in.Password)
	if err != nil {
		return CreateUserResult{}, fmt.Errorf("dao_sqlite: shadow password: %w", err)
	}
	uid, err := d.uuids.Next()
	if err != nil {
		return CreateUserResult{}, fmt.Errorf("dao_sqlite: generate uid: %w", err)
	}

	err = d.withRetry(func() error {
		_, execErr := d.db.Exec(
			`INSERT INTO users (uid, username, shadow, first_name, last_name, email) VALUES (?, ?, ?, ?, ?, ?)`,
			uid, in.Username, shadow, in.FirstName, in.LastName, in.Email,
		)
		return execErr
	})
	if err != nil {
		return CreateUserResult{}, err
	}

	out.UID = uid
	return out, nil
}

func (d *SqliteDAO) UpdateUser(in UpdateUserInput) (UpdateUserResult, error) {
	var rowsAffected int64

	err := d.withRetry(func() error {
		res, execErr := d.db.Exec(
			`UPDATE users SET
				first_name = CASE WHEN ? != '' THEN ? ELSE first_name END,
				last_name  = CASE WHEN ? != '' THEN ? ELSE last_name  END,
				email      = CASE WHEN ? != '' THEN ? ELSE email      END
			 WHERE uid = ?`,
			in.FirstName, in.FirstName,
			in.LastName, in.LastName,
			in.Email, in.Email,
			in.UID,
		)
		if execErr != nil {
			return execErr
		}
		rowsAffected, execErr = res.RowsAffected()
		return execErr
	})
	if err != nil {
		return UpdateUserResult{}, err
	}
	if rowsAffected == 0 {
		return UpdateUserResult{OpFailed: true, OpFailedDesc: "no such user"}, nil
	}

	return UpdateUserResult{UID: in.UID}, nil
}

func (d *SqliteDAO) DescribeUser(in DescribeUserInput) (DescribeUserResult, error) {
	var out DescribeUserResult
	var found bool

	err := d.withRetry(func() error {
		row := d.db.QueryRow(
			`SELECT uid, username, first_name, last_name, email FROM users WHERE username = ?`,
			in.Username,
		)
		scanErr := row.Scan(&out.UID, &out.Username, &out.FirstName, &out.LastName, &out.Email)
		if scanErr == sql.ErrNoRows {
			found = false
			return nil
		}
		if scanErr != nil {
			return scanErr
		}
		found = true
		return nil
	})
	if err != nil {
		return DescribeUserResult{}, err
	}
	if !found {
		return DescribeUserResult{OpFailed: true, OpFailedDesc: "no such user"}, nil
	}

	return out, nil
}

func (d *SqliteDAO) AuthenticateUser(in AuthenticateInput) (AuthenticateResult, error) {
	var uid, username, shadow, firstName, lastName, email string
	var found bool

	err := d.withRetry(func() error {
		row := d.db.QueryRow(
			`SELECT uid, username, shadow, first_name, last_name, email FROM users WHERE username = ?`,
			in.Username,
		)
		scanErr := row.Scan(&uid, &username, &shadow, &firstName, &lastName, &email)
		if scanErr == sql.ErrNoRows {
			found = false
			return nil
		}
		if scanErr != nil {
			return scanErr
		}
		found = true
		return nil
	})
	if err != nil {
		return AuthenticateResult{}, err
	}
	if !found {
		return AuthenticateResult{OpFailed: true, InvalidUser: true}, nil
	}

	candidate, err := d.kdf.Shadow(in.Password)
	if err != nil {
		return AuthenticateResult{}, fmt.Errorf("dao_sqlite: shadow password: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(candidate), []byte(shadow)) != 1 {
		return AuthenticateResult{OpFailed: true, InvalidPass: true}, nil
	}

	return AuthenticateResult{
		UID:       uid,
		Username:  username,
		FirstName: firstName,
		LastName:  lastName,
		Email:     email,
	}, nil
}

func (d *SqliteDAO) CreateLogRecord(in CreateLogRecordInput) (CreateLogRecordResult, error) {
	id, err := d.uuids.Next()
	if err != nil {
		return CreateLogRecordResult{}, fmt.Errorf("dao_sqlite: generate record id: %w", err)
	}

	err = d.withRetry(func() error {
		_, execErr := d.db.Exec(
			`INSERT INTO log_records (id, log_group, record, sync_level) VALUES (?, ?, ?, ?)`,
			id, in.LogGroup, in.Record, in.SyncLevel,
		)
		return execErr
	})
	if err != nil {
		return CreateLogRecordResult{}, err
	}

	if d.archive != nil {
		if aerr := d.archive.StoreLogRecord(in.LogGroup, id, in.Record); aerr != nil {
			d.log.Warningf("dao_sqlite: archive log record %s: %v", id, aerr)
		}
	}

	return CreateLogRecordResult{RecordID: id}, nil
}

func (d *SqliteDAO) DescribeLogGroup(in DescribeLogGroupInput) (DescribeLogGroupResult, error) {
	limit := in.Limit
	if limit <= 0 {
		limit = 100
	}

	var out []LogRecordEntry
	err := d.withRetry(func() error {
		out = nil
		rows, queryErr := d.db.Query(
			`SELECT id, record, sync_level, created_at FROM log_records
			 WHERE log_group = ? ORDER BY rowid DESC LIMIT ?`,
			in.LogGroup, limit,
		)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()

		for rows.Next() {
			var e LogRecordEntry
			if scanErr := rows.Scan(&e.RecordID, &e.Record, &e.SyncLevel, &e.CreatedAt); scanErr != nil {
				return scanErr
			}
			out = append(out, e)
		}
		return rows.Err()
	})
	if err != nil {
		return DescribeLogGroupResult{}, err
	}
	if len(out) == 0 {
		return DescribeLogGroupResult{OpFailed: true, OpFailedDesc: "no such log group"}, nil
	}

	return DescribeLogGroupResult{Records: out}, nil
}
