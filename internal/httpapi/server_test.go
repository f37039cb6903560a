package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kouritron/l6sk/internal/dbl"
	"github.com/kouritron/l6sk/internal/kdf"
	"github.com/kouritron/l6sk/internal/logging"
	"github.com/kouritron/l6sk/internal/uuidgen"
)

func newTestServer(t *testing.T) (*Server, func()) {
	t.Helper()

	k, err := kdf.New(kdf.Params{Salt: []byte("server-test-salt"), PBKDF2Iters: 1000, DKLen: 18, Method: kdf.MethodPBKDF2})
	require.NoError(t, err)
	uuids, err := uuidgen.New(uuidgen.V1, 18)
	require.NoError(t, err)

	bank := dbl.NewDispatchBank(0)
	log := logging.New("httpapi_test", nil, "CRITICAL")
	worker := dbl.NewWorker(bank, dbl.NewMemDAOFactory(k, uuids), log, 10, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go worker.Run(ctx)

	srv := NewServer(bank, log, time.Millisecond, 2*time.Second)
	return srv, cancel
}

func TestHealthCheckEndpoint(t *testing.T) {
	srv, cancel := newTestServer(t)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/hchk?ping_id=abc123", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "SUCC", body["err"])
	require.Equal(t, "abc123", body["ping_id"])
}

func TestCreateAndDescribeUserEndpoints(t *testing.T) {
	srv, cancel := newTestServer(t)
	defer cancel()

	createBody := `{"username":"carol","password":"s3cret","first_name":"Carol","last_name":"Cho","email":"carol@example.com"}`
	req := httptest.NewRequest(http.MethodPost, "/api/user/new", strings.NewReader(createBody))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var createResp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &createResp))
	require.Equal(t, "SUCC", createResp["err"])
	require.NotEmpty(t, createResp["uid"])

	descReq := httptest.NewRequest(http.MethodGet, "/api/user/describe?username=carol", nil)
	descRec := httptest.NewRecorder()
	srv.ServeHTTP(descRec, descReq)
	require.Equal(t, http.StatusOK, descRec.Code)

	var descResp dbl.DescribeUserResult
	require.NoError(t, json.Unmarshal(descRec.Body.Bytes(), &descResp))
	require.Equal(t, "Carol", descResp.FirstName)
}

func TestCreateLogRecordAndDescribeLogGroupEndpoints(t *testing.T) {
	srv, cancel := newTestServer(t)
	defer cancel()

	createBody := `{"log_group":"web","record":"GET /","sync_level":1}`
	req := httptest.NewRequest(http.MethodPost, "/api/lgr/new", strings.NewReader(createBody))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	descReq := httptest.NewRequest(http.MethodGet, "/api/lgr/describe?log_group=web", nil)
	descRec := httptest.NewRecorder()
	srv.ServeHTTP(descRec, descReq)
	require.Equal(t, http.StatusOK, descRec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(descRec.Body.Bytes(), &body))
	require.Equal(t, "SUCC", body["err"])
}

func TestAuthenticateUserEndpointRejectsBadPassword(t *testing.T) {
	srv, cancel := newTestServer(t)
	defer cancel()

	createBody := `{"username":"dave","password":"correct-horse"}`
	req := httptest.NewRequest(http.MethodPost, "/api/user/new", strings.NewReader(createBody))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	authBody := `{"username":"dave","password":"wrong"}`
	authReq := httptest.NewRequest(http.MethodPost, "/api/user/auth", strings.NewReader(authBody))
	authRec := httptest.NewRecorder()
	srv.ServeHTTP(authRec, authReq)
	require.Equal(t, http.StatusUnauthorized, authRec.Code)
}

func TestDescribeLogGroupEndpointMissingGroup(t *testing.T) {
	srv, cancel := newTestServer(t)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/lgr/describe?log_group=nowhere", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
