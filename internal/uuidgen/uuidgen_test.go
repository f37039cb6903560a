package uuidgen

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRejectsBadParams(t *testing.T) {
	_, err := New(V1, 11)
	require.Error(t, err)

	_, err = New(V1, 64)
	require.Error(t, err)

	_, err = New(Version(99), 18)
	require.Error(t, err)

	_, err = New(V1, 18)
	require.NoError(t, err)
}

func TestNextLengthAndRoundTrip(t *testing.T) {
	for _, v := range []Version{V1, V2, V3} {
		g, err := New(v, 18)
		require.NoError(t, err)

		id, err := g.Next()
		require.NoError(t, err)
		require.False(t, strings.ContainsAny(id, "+/="), "must be URL-safe and unpadded")

		decoded, err := base64.RawURLEncoding.DecodeString(id)
		require.NoError(t, err)
		require.Len(t, decoded, 18)

		reencoded := base64.RawURLEncoding.EncodeToString(decoded)
		require.Equal(t, id, reencoded)
	}
}

func TestNextIsNotConstant(t *testing.T) {
	g, err := New(V3, 18)
	require.NoError(t, err)

	a, err := g.Next()
	require.NoError(t, err)
	b, err := g.Next()
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestV3CounterAdvancesAcrossCalls(t *testing.T) {
	g, err := New(V3, 18)
	require.NoError(t, err)

	_, err = g.Next()
	require.NoError(t, err)
	firstCounter := g.counter

	_, err = g.Next()
	require.NoError(t, err)
	require.Greater(t, g.counter, firstCounter)
}
