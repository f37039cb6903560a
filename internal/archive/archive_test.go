package archive

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kouritron/l6sk/internal/uuidgen"
)

func testUUIDs(t *testing.T) *uuidgen.Generator {
	t.Helper()
	g, err := uuidgen.New(uuidgen.V1, 18)
	require.NoError(t, err)
	return g
}

func TestNodeIdentityPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.db")

	s1, err := Open(path)
	require.NoError(t, err)
	id1, err := s1.NodeIdentity(testUUIDs(t))
	require.NoError(t, err)
	require.NotEmpty(t, id1)
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()
	id2, err := s2.NodeIdentity(testUUIDs(t))
	require.NoError(t, err)

	require.Equal(t, id1, id2)
}

func TestStoreAndGetLogRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.StoreLogRecord("web", "rec-1", "hello"))

	got, ok := s.GetLogRecord("web", "rec-1")
	require.True(t, ok)
	require.Equal(t, "hello", got)

	_, ok = s.GetLogRecord("web", "nonexistent")
	require.False(t, ok)

	_, ok = s.GetLogRecord("nowhere", "rec-1")
	require.False(t, ok)
}
