package risk

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStore_RoundTripSameDay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "session.json")
	store := NewSessionStore(path)

	_, ok, err := store.Load("2024-03-04")
	require.NoError(t, err)
	assert.False(t, ok)

	s := NewSessionState("2024-03-04")
	s.TradesOpened = 3
	s.TradesByTier["forced"] = 1
	s.RealizedPnL = -125.5
	require.NoError(t, store.Save(s))
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))

	got, ok, err := NewSessionStore(path).Load("2024-03-04")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, s, got)
}

func TestSessionStore_OtherDayIsIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	store := NewSessionStore(path)
	require.NoError(t, store.Save(NewSessionState("2024-03-04")))

	_, ok, err := store.Load("2024-03-05")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSessionStore_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))
	_, _, err := NewSessionStore(path).Load("2024-03-04")
	assert.Error(t, err)
}
