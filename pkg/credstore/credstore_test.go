package credstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	store := New(t.TempDir())

	creds := Credentials{Token: "t1", UserID: "7", Username: "alice"}
	require.NoError(t, store.Save(creds))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, creds, *loaded)
	assert.True(t, loaded.Complete())
}

func TestLoadAbsentIsNotAnError(t *testing.T) {
	store := New(t.TempDir())

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, loaded)
	assert.False(t, loaded.Complete())
}

func TestClear(t *testing.T) {
	store := New(t.TempDir())
	require.NoError(t, store.Save(Credentials{Token: "t", UserID: "1", Username: "u"}))

	require.NoError(t, store.Clear())
	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, loaded)

	// Clearing an empty store is fine too.
	require.NoError(t, store.Clear())
}

func TestPartialCredentialsAreIncomplete(t *testing.T) {
	creds := &Credentials{Token: "t", Username: "u"}
	assert.False(t, creds.Complete())
}
