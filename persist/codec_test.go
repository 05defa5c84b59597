package persist_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remedia-app/appcore/persist"
)

type launchBlob struct {
	SessionID string             `json:"session_id"`
	ColdStart bool               `json:"cold_start"`
	Durations map[string]float64 `json:"durations"`
	At        time.Time          `json:"at"`
}

func TestCodecRoundTrip(t *testing.T) {
	in := []launchBlob{
		{
			SessionID: "a1b2",
			ColdStart: true,
			Durations: map[string]float64{"critical": 812.5, "deferred": 1210},
			At:        time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
		},
		{SessionID: "c3d4", Durations: map[string]float64{"critical": 640}},
	}

	blob, err := persist.Encode(in)
	require.NoError(t, err)

	var out []launchBlob
	require.NoError(t, persist.Decode(blob, &out))
	assert.Equal(t, in, out)

	// Encoding the same value twice must yield the same bytes so the
	// persisted logs round-trip byte-for-byte across sessions.
	again, err := persist.Encode(in)
	require.NoError(t, err)
	assert.Equal(t, blob, again)
}

func TestSaveLoadJSON(t *testing.T) {
	store := persist.NewMemoryStore()
	in := launchBlob{SessionID: "e5f6", ColdStart: false}

	require.NoError(t, persist.SaveJSON(store, persist.KeyLaunchLog, in))

	var out launchBlob
	found, err := persist.LoadJSON(store, persist.KeyLaunchLog, &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, in, out)
}

func TestLoadJSONMissingKey(t *testing.T) {
	store := persist.NewMemoryStore()

	var out launchBlob
	found, err := persist.LoadJSON(store, "appcore.never_written", &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLoadJSONCorruptBlob(t *testing.T) {
	store := persist.NewMemoryStore()
	require.NoError(t, store.Set(persist.KeyLaunchLog, "not-an-envelope"))

	var out launchBlob
	found, err := persist.LoadJSON(store, persist.KeyLaunchLog, &out)
	assert.True(t, found)

	var decodeErr *persist.DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, persist.KeyLaunchLog, decodeErr.Key)
}

func TestMemoryStoreRemove(t *testing.T) {
	store := persist.NewMemoryStore()
	require.NoError(t, store.Set("k", "v"))

	v, ok, err := store.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", v)

	require.NoError(t, store.Remove("k"))
	_, ok, err = store.Get("k")
	require.NoError(t, err)
	assert.False(t, ok)

	// Removing a missing key is not an error.
	assert.NoError(t, store.Remove("k"))
}

type failingStore struct{ err error }

func (f *failingStore) Get(string) (string, bool, error) { return "", false, f.err }
func (f *failingStore) Set(string, string) error         { return f.err }
func (f *failingStore) Remove(string) error              { return f.err }

func TestBreakerStoreOpensAfterConsecutiveFailures(t *testing.T) {
	inner := &failingStore{err: errors.New("disk full")}
	store := persist.NewBreakerStore(inner, nil)

	for i := 0; i < 3; i++ {
		err := store.Set("k", "v")
		require.Error(t, err)
		assert.NotErrorIs(t, err, persist.ErrStoreUnavailable)
	}

	// Fourth call is shed without touching the inner store.
	err := store.Set("k", "v")
	assert.ErrorIs(t, err, persist.ErrStoreUnavailable)

	_, _, err = store.Get("k")
	assert.ErrorIs(t, err, persist.ErrStoreUnavailable)
}

func TestBreakerStorePassesThrough(t *testing.T) {
	store := persist.NewBreakerStore(persist.NewMemoryStore(), nil)

	require.NoError(t, store.Set("k", "v"))
	v, ok, err := store.Get("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}
