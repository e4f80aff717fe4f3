package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hubmakerlabs/poolr/pkg/nostr/relayurl"
)

const (
	A = relayurl.T("wss://a.com")
	B = relayurl.T("wss://b.com")
)

func testStore(t *testing.T, s I) {
	m, err := s.Load("feed")
	require.NoError(t, err)
	assert.Empty(t, m)

	require.NoError(t, s.Save("feed", A, 100))
	require.NoError(t, s.Save("feed", A, 90))
	require.NoError(t, s.Save("feed", B, 5))
	require.NoError(t, s.Save("feed2", A, 7))
	// a scope that is a prefix of another must not see its marks
	require.NoError(t, s.Save("fee", A, 1))

	m, err = s.Load("feed")
	require.NoError(t, err)
	assert.Equal(t, Marks{A: 100, B: 5}, m)
	m, err = s.Load("feed2")
	require.NoError(t, err)
	assert.Equal(t, Marks{A: 7}, m)

	require.NoError(t, s.Save("feed", A, 120))
	m, _ = s.Load("feed")
	assert.EqualValues(t, 120, m[A])
}

func TestMemory(t *testing.T) {
	s := NewMemory()
	testStore(t, s)
	require.NoError(t, s.Close())
	_, err := s.Load("feed")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Save("feed", A, 1), ErrClosed)
}

func TestBadgerInMemory(t *testing.T) {
	s, err := OpenBadger("")
	require.NoError(t, err)
	defer s.Close()
	testStore(t, s)
}

func TestBadgerReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenBadger(dir)
	require.NoError(t, err)
	require.NoError(t, s.Save("feed", A, 42))
	require.NoError(t, s.Close())

	s, err = OpenBadger(dir)
	require.NoError(t, err)
	defer s.Close()
	m, err := s.Load("feed")
	require.NoError(t, err)
	assert.Equal(t, Marks{A: 42}, m)
}
