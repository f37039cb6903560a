// server.go - l6sk's thin HTTP adapter over the DB layer.
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

// Package httpapi exposes l6sk's DBL over HTTP. Every handler's job is
// narrow: decode the request, build a dbl.Request, submit it to the
// dispatch bank, wait for completion, and translate the result back into
// an HTTP response. None of the domain logic lives here - that is the
// DAO's job.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kouritron/l6sk/internal/dbl"
	"github.com/kouritron/l6sk/internal/logging"
)

// Server wires a dbl.DispatchBank into an http.Handler.
type Server struct {
	bank *dbl.DispatchBank
	log  *logging.Logger

	pollInterval time.Duration
	waitTimeout  time.Duration

	handler http.Handler
}

// NewServer builds a Server. pollInterval and waitTimeout govern
// submitAndWait: handlers poll a submitted Request at pollInterval and
// give up with a 504 if it has not completed within waitTimeout.
func NewServer(bank *dbl.DispatchBank, log *logging.Logger, pollInterval, waitTimeout time.Duration) *Server {
	s := &Server{
		bank:         bank,
		log:          log,
		pollInterval: pollInterval,
		waitTimeout:  waitTimeout,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/", s.handleIndex)
	r.Get("/api/hchk", s.handleHealthCheck)
	r.Post("/api/lgr/new", s.handleCreateLogRecord)
	r.Get("/api/lgr/describe", s.handleDescribeLogGroup)
	r.Post("/api/user/new", s.handleCreateUser)
	r.Get("/api/user/describe", s.handleDescribeUser)
	r.Post("/api/user/auth", s.handleAuthenticateUser)

	s.handler = r
	return s
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("l6sk log ingestion service\n"))
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	pingID := r.URL.Query().Get("ping_id")

	req := dbl.NewRequest(dbl.OpHealthCheck1, dbl.PriorityHigh, nil)
	succ, fail := s.submitAndWait(r.Context(), req)
	if fail != nil {
		writeFailCause(w, fail)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ping_id": pingID,
		"err":     "SUCC",
		"detail":  succ,
	})
}

type createLogRecordBody struct {
	LogGroup  string `json:"log_group"`
	Record    string `json:"record"`
	SyncLevel int    `json:"sync_level"`
}

func (s *Server) handleCreateLogRecord(w http.ResponseWriter, r *http.Request) {
	var body createLogRecordBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"err": "bad request body"})
		return
	}

	req := dbl.NewRequest(dbl.OpCreateLogRecord, dbl.PriorityNormal, dbl.CreateLogRecordInput{
		LogGroup:  body.LogGroup,
		Record:    body.Record,
		SyncLevel: body.SyncLevel,
	})
	succ, fail := s.submitAndWait(r.Context(), req)
	if fail != nil {
		writeFailCause(w, fail)
		return
	}

	res := succ.(dbl.CreateLogRecordResult)
	if res.OpFailed {
		writeJSON(w, http.StatusConflict, map[string]string{"err": res.OpFailedDesc})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"err": "SUCC", "record_id": res.RecordID})
}

func (s *Server) handleDescribeLogGroup(w http.ResponseWriter, r *http.Request) {
	logGroup := r.URL.Query().Get("log_group")

	req := dbl.NewRequest(dbl.OpDescribeLogGroup, dbl.PriorityLow, dbl.DescribeLogGroupInput{LogGroup: logGroup})
	succ, fail := s.submitAndWait(r.Context(), req)
	if fail != nil {
		writeFailCause(w, fail)
		return
	}

	res := succ.(dbl.DescribeLogGroupResult)
	if res.OpFailed {
		writeJSON(w, http.StatusNotFound, map[string]string{"err": res.OpFailedDesc})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"err": "SUCC", "records": res.Records})
}

type createUserBody struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var body createUserBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"err": "bad request body"})
		return
	}

	req := dbl.NewRequest(dbl.OpCreateUser, dbl.PriorityNormal, dbl.CreateUserInput{
		Username:  body.Username,
		Password:  body.Password,
		FirstName: body.FirstName,
		LastName:  body.LastName,
		Email:     body.Email,
	})
	succ, fail := s.submitAndWait(r.Context(), req)
	if fail != nil {
		writeFailCause(w, fail)
		return
	}

	res := succ.(dbl.CreateUserResult)
	if res.OpFailed {
		writeJSON(w, http.StatusConflict, map[string]string{"err": res.OpFailedDesc})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"err": "SUCC", "uid": res.UID})
}

func (s *Server) handleDescribeUser(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")

	req := dbl.NewRequest(dbl.OpDescribeUser, dbl.PriorityLow, dbl.DescribeUserInput{Username: username})
	succ, fail := s.submitAndWait(r.Context(), req)
	if fail != nil {
		writeFailCause(w, fail)
		return
	}

	res := succ.(dbl.DescribeUserResult)
	if res.OpFailed {
		writeJSON(w, http.StatusNotFound, map[string]string{"err": res.OpFailedDesc})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type authenticateBody struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleAuthenticateUser(w http.ResponseWriter, r *http.Request) {
	var body authenticateBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"err": "bad request body"})
		return
	}

	req := dbl.NewRequest(dbl.OpAuthenticateUser, dbl.PriorityHigh, dbl.AuthenticateInput{
		Username: body.Username,
		Password: body.Password,
	})
	succ, fail := s.submitAndWait(r.Context(), req)
	if fail != nil {
		writeFailCause(w, fail)
		return
	}

	res := succ.(dbl.AuthenticateResult)
	if res.OpFailed {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"err": "invalid credentials"})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// submitAndWait submits req and polls for its completion at s.pollInterval
// until it completes, ctx is done, or s.waitTimeout elapses - whichever
// comes first. A submission failure (queue full, bank closed) and a wait
// timeout are both reported as a *dbl.FailCause so callers have one
// uniform path to a response.
func (s *Server) submitAndWait(ctx context.Context, req *dbl.Request) (interface{}, *dbl.FailCause) {
	if err := s.bank.Submit(req); err != nil {
		return nil, &dbl.FailCause{
			HTTPCode: http.StatusServiceUnavailable,
			UserMsg:  "Service Unavailable",
			DbgInfo:  err.Error(),
		}
	}

	deadline := time.NewTimer(s.waitTimeout)
	defer deadline.Stop()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		if succ, fail, ok := req.Result(); ok {
			return succ, fail
		}

		select {
		case <-req.Done():
			succ, fail, _ := req.Result()
			return succ, fail
		case <-ctx.Done():
			return nil, &dbl.FailCause{
				HTTPCode: http.StatusRequestTimeout,
				UserMsg:  "Request Canceled",
				DbgInfo:  ctx.Err().Error(),
			}
		case <-deadline.C:
			return nil, &dbl.FailCause{
				HTTPCode: http.StatusGatewayTimeout,
				UserMsg:  "Gateway Timeout",
				DbgInfo:  "dbl request did not complete before waitTimeout",
			}
		case <-ticker.C:
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeFailCause(w http.ResponseWriter, fc *dbl.FailCause) {
	code := fc.HTTPCode
	if code == 0 {
		code = http.StatusInternalServerError
	}
	writeJSON(w, code, map[string]string{"err": fc.UserMsg})
}
