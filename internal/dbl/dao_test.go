package dbl

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kouritron/l6sk/internal/archive"
	"github.com/kouritron/l6sk/internal/kdf"
	"github.com/kouritron/l6sk/internal/logging"
	"github.com/kouritron/l6sk/internal/uuidgen"
)

func testKDF(t *testing.T) *kdf.AuthKDF {
	t.Helper()
	k, err := kdf.New(kdf.Params{
		Salt:        []byte("test-salt"),
		PBKDF2Iters: 1000,
		DKLen:       18,
		Method:      kdf.MethodPBKDF2,
	})
	require.NoError(t, err)
	return k
}

func testUUIDs(t *testing.T) *uuidgen.Generator {
	t.Helper()
	g, err := uuidgen.New(uuidgen.V1, 18)
	require.NoError(t, err)
	return g
}

// runBackendContract exercises the Backend contract against any factory,
// so MemDAO and SqliteDAO are held to exactly the same behavior.
func runBackendContract(t *testing.T, factory DAOFactory) {
	t.Helper()

	dao, err := factory()
	require.NoError(t, err)
	defer dao.Close()

	backend, ok := dao.(Backend)
	require.True(t, ok)

	createRes, err := backend.CreateUser(CreateUserInput{
		Username:  "alice",
		Password:  "hunter2",
		FirstName: "Alice",
		LastName:  "Anderson",
		Email:     "alice@example.com",
	})
	require.NoError(t, err)
	require.False(t, createRes.OpFailed)
	require.NotEmpty(t, createRes.UID)

	dupRes, err := backend.CreateUser(CreateUserInput{Username: "alice", Password: "whatever"})
	require.NoError(t, err)
	require.True(t, dupRes.OpFailed)

	descRes, err := backend.DescribeUser(DescribeUserInput{Username: "alice"})
	require.NoError(t, err)
	require.False(t, descRes.OpFailed)
	require.Equal(t, createRes.UID, descRes.UID)
	require.Equal(t, "Alice", descRes.FirstName)

	missingRes, err := backend.DescribeUser(DescribeUserInput{Username: "nobody"})
	require.NoError(t, err)
	require.True(t, missingRes.OpFailed)

	authOK, err := backend.AuthenticateUser(AuthenticateInput{Username: "alice", Password: "hunter2"})
	require.NoError(t, err)
	require.False(t, authOK.OpFailed)
	require.Equal(t, createRes.UID, authOK.UID)

	authBadPass, err := backend.AuthenticateUser(AuthenticateInput{Username: "alice", Password: "wrong"})
	require.NoError(t, err)
	require.True(t, authBadPass.OpFailed)
	require.True(t, authBadPass.InvalidPass)

	authBadUser, err := backend.AuthenticateUser(AuthenticateInput{Username: "nobody", Password: "x"})
	require.NoError(t, err)
	require.True(t, authBadUser.OpFailed)
	require.True(t, authBadUser.InvalidUser)

	updRes, err := backend.UpdateUser(UpdateUserInput{UID: createRes.UID, LastName: "Aaronson"})
	require.NoError(t, err)
	require.False(t, updRes.OpFailed)

	descAfterUpdate, err := backend.DescribeUser(DescribeUserInput{Username: "alice"})
	require.NoError(t, err)
	require.Equal(t, "Aaronson", descAfterUpdate.LastName)
	require.Equal(t, "Alice", descAfterUpdate.FirstName)

	updMissing, err := backend.UpdateUser(UpdateUserInput{UID: "does-not-exist", LastName: "X"})
	require.NoError(t, err)
	require.True(t, updMissing.OpFailed)

	logRes, err := backend.CreateLogRecord(CreateLogRecordInput{LogGroup: "web", Record: "hello", SyncLevel: 1})
	require.NoError(t, err)
	require.False(t, logRes.OpFailed)
	require.NotEmpty(t, logRes.RecordID)

	_, err = backend.CreateLogRecord(CreateLogRecordInput{LogGroup: "web", Record: "world", SyncLevel: 1})
	require.NoError(t, err)

	descGroup, err := backend.DescribeLogGroup(DescribeLogGroupInput{LogGroup: "web"})
	require.NoError(t, err)
	require.False(t, descGroup.OpFailed)
	require.Len(t, descGroup.Records, 2)

	descGroupMissing, err := backend.DescribeLogGroup(DescribeLogGroupInput{LogGroup: "nowhere"})
	require.NoError(t, err)
	require.True(t, descGroupMissing.OpFailed)
}

func TestMemDAOBackendContract(t *testing.T) {
	runBackendContract(t, NewMemDAOFactory(testKDF(t), testUUIDs(t)))
}

func TestSqliteDAOBackendContract(t *testing.T) {
	path := filepath.Join(t.TempDir(), "l6sk-test.db")
	log := logging.New("dbl_test", nil, "CRITICAL")
	runBackendContract(t, NewSqliteDAOFactory(path, time.Millisecond, testKDF(t), testUUIDs(t), log, nil))
}

func TestSqliteDAOArchivesLogRecords(t *testing.T) {
	sqlitePath := filepath.Join(t.TempDir(), "l6sk-test.db")
	archivePath := filepath.Join(t.TempDir(), "l6sk-test-archive.db")

	arc, err := archive.Open(archivePath)
	require.NoError(t, err)
	defer arc.Close()

	log := logging.New("dbl_test", nil, "CRITICAL")
	factory := NewSqliteDAOFactory(sqlitePath, time.Millisecond, testKDF(t), testUUIDs(t), log, arc)

	dao, err := factory()
	require.NoError(t, err)
	defer dao.Close()
	backend := dao.(Backend)

	res, err := backend.CreateLogRecord(CreateLogRecordInput{LogGroup: "web", Record: "archived hello"})
	require.NoError(t, err)
	require.False(t, res.OpFailed)

	archived, ok := arc.GetLogRecord("web", res.RecordID)
	require.True(t, ok)
	require.Equal(t, "archived hello", archived)
}

func TestMemDAOServeDispatchesThroughOps(t *testing.T) {
	dao, err := NewMemDAOFactory(testKDF(t), testUUIDs(t))()
	require.NoError(t, err)
	defer dao.Close()

	req := NewRequest(OpCreateUser, PriorityNormal, CreateUserInput{Username: "bob", Password: "pw"})
	require.NoError(t, dao.Serve(req))

	succ, fail, ok := req.Result()
	require.True(t, ok)
	require.Nil(t, fail)
	res, isCreate := succ.(CreateUserResult)
	require.True(t, isCreate)
	require.False(t, res.OpFailed)
}
