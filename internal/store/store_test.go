package store

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	logpkg "github.com/Tyrowin/veilchat/internal/log"
	"github.com/Tyrowin/veilchat/internal/metrics"
	"github.com/Tyrowin/veilchat/internal/room"
)

func openTemp(t *testing.T) (*DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.db")
	db, err := Open(path, logpkg.Discard().GetLogger("store"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, path
}

func sampleRecord() Record {
	until := time.UnixMilli(time.Now().Add(time.Hour).UnixMilli())
	return Record{
		Snapshot: room.Snapshot{
			Blocklist: map[string]time.Time{"gone": until},
			Usernames: map[string]map[string]string{
				"live": {"S1": "Alice", "S2": "User 2"},
			},
		},
		Totals: metrics.Totals{RoomsCreated: 3, Joins: 7, KeyExchanges: 2},
	}
}

// TestSaveLoad tests that a saved record is read back intact.
func TestSaveLoad(t *testing.T) {
	db, _ := openTemp(t)

	empty, err := db.Load()
	require.NoError(t, err)
	assert.Empty(t, empty.Snapshot.Blocklist)
	assert.Empty(t, empty.Snapshot.Usernames)

	want := sampleRecord()
	require.NoError(t, db.Save(want))

	got, err := db.Load()
	require.NoError(t, err)
	require.Len(t, got.Snapshot.Blocklist, 1)
	assert.True(t, want.Snapshot.Blocklist["gone"].Equal(got.Snapshot.Blocklist["gone"]))
	assert.Equal(t, want.Snapshot.Usernames, got.Snapshot.Usernames)
	assert.Equal(t, want.Totals, got.Totals)
}

// TestSaveReplaces tests that entries missing from a later save are gone.
func TestSaveReplaces(t *testing.T) {
	db, _ := openTemp(t)
	require.NoError(t, db.Save(sampleRecord()))
	require.NoError(t, db.Save(Record{}))

	got, err := db.Load()
	require.NoError(t, err)
	assert.Empty(t, got.Snapshot.Blocklist)
	assert.Empty(t, got.Snapshot.Usernames)
	assert.Zero(t, got.Totals)
}

// TestReopen tests that state survives closing and reopening the file.
func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	log := logpkg.Discard().GetLogger("store")

	db, err := Open(path, log)
	require.NoError(t, err)
	require.NoError(t, db.Save(sampleRecord()))
	require.NoError(t, db.Close())

	db, err = Open(path, log)
	require.NoError(t, err)
	defer db.Close()

	got, err := db.Load()
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Snapshot.Usernames["live"]["S1"])
	assert.Equal(t, uint64(7), got.Totals.Joins)
}

// TestCorruptFileColdStart tests that an unreadable file is moved aside and
// the store starts empty.
func TestCorruptFileColdStart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.db")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a bolt file, just some bytes padding it out"), 0600))

	db, err := Open(path, logpkg.Discard().GetLogger("store"))
	require.NoError(t, err)
	defer db.Close()

	got, err := db.Load()
	require.NoError(t, err)
	assert.Empty(t, got.Snapshot.Blocklist)

	aside, err := filepath.Glob(path + ".corrupt-*")
	require.NoError(t, err)
	assert.Len(t, aside, 1)
}

// TestIncompatibleVersionColdStart tests that a file from another schema
// version is moved aside like a corrupt one.
func TestIncompatibleVersionColdStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	log := logpkg.Discard().GetLogger("store")

	db, err := Open(path, log)
	require.NoError(t, err)
	require.NoError(t, db.Save(sampleRecord()))
	require.NoError(t, db.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(metadataBucket)).Put([]byte(versionKey), []byte{schemaVersion + 8})
	}))
	require.NoError(t, db.Close())

	db, err = Open(path, log)
	require.NoError(t, err)
	defer db.Close()

	got, err := db.Load()
	require.NoError(t, err)
	assert.Empty(t, got.Snapshot.Blocklist)
	assert.Empty(t, got.Snapshot.Usernames)
	assert.Zero(t, got.Totals)

	aside, err := filepath.Glob(path + ".corrupt-*")
	require.NoError(t, err)
	assert.Len(t, aside, 1)
}

// TestWriterDebounces tests that a burst of notifications produces one save
// and that cancelling Run flushes the final state.
func TestWriterDebounces(t *testing.T) {
	db, _ := openTemp(t)
	w := NewWriter(db, 20*time.Millisecond, logpkg.Discard().GetLogger("store"))

	var calls atomic.Int32
	var joins atomic.Uint64
	source := func() Record {
		calls.Add(1)
		return Record{Totals: metrics.Totals{Joins: joins.Load()}}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx, source)
		close(done)
	}()

	for i := 0; i < 50; i++ {
		joins.Add(1)
		w.Notify()
	}

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, time.Second, 5*time.Millisecond)

	joins.Add(1)
	cancel()
	<-done

	got, err := db.Load()
	require.NoError(t, err)
	assert.Equal(t, uint64(51), got.Totals.Joins)
}

// TestWriterFailure tests that a failed save reports through OnFailure.
func TestWriterFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	db, err := Open(path, logpkg.Discard().GetLogger("store"))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	w := NewWriter(db, 0, logpkg.Discard().GetLogger("store"))
	failures := 0
	w.OnFailure = func() { failures++ }

	assert.False(t, w.Flush(sampleRecord()))
	assert.Equal(t, 1, failures)
}
