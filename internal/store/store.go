// Package store persists the state that outlives a process: the room token
// blocklist, remembered display names and the lifetime analytics totals. It
// is a single bbolt file with CBOR encoded values. Rooms themselves are never
// written to disk.
package store

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"
	"gopkg.in/op/go-logging.v1"

	"github.com/Tyrowin/veilchat/internal/metrics"
	"github.com/Tyrowin/veilchat/internal/room"
)

const (
	metadataBucket  = "metadata"
	blocklistBucket = "blocklist"
	usernamesBucket = "usernames"
	analyticsBucket = "analytics"

	versionKey = "version"
	totalsKey  = "totals"

	schemaVersion = 1
)

var dataBuckets = []string{blocklistBucket, usernamesBucket, analyticsBucket}

// ErrIncompatible reports a file written by another schema version.
var ErrIncompatible = errors.New("store: incompatible version")

// Record is everything the store holds.
type Record struct {
	Snapshot room.Snapshot
	Totals   metrics.Totals
}

// DB is an open state file.
type DB struct {
	path string
	db   *bolt.DB
	log  *logging.Logger
}

// Open opens or creates the state file at path. A file that bbolt cannot
// open, or one written by another schema version, is moved aside and
// replaced by an empty one, so a bad file costs the persisted state but
// never prevents startup.
func Open(path string, log *logging.Logger) (*DB, error) {
	db, err := openFile(path)
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) {
			return nil, fmt.Errorf("store: %s is locked by another process", path)
		}
		aside := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
		if rerr := os.Rename(path, aside); rerr != nil {
			return nil, fmt.Errorf("store: open %s: %w", path, err)
		}
		log.Warningf("State file %s unusable (%v), moved to %s; starting empty", path, err, aside)
		if db, err = openFile(path); err != nil {
			return nil, fmt.Errorf("store: open %s: %w", path, err)
		}
	}
	return &DB{path: path, db: db, log: log}, nil
}

// openFile opens path and makes sure the buckets and the schema version are
// in place.
func openFile(path string) (*bolt.DB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}

	if err = db.Update(func(tx *bolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return err
		}
		for _, name := range dataBuckets {
			if _, err = tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}

		if b := bkt.Get([]byte(versionKey)); b != nil {
			if len(b) != 1 || b[0] != schemaVersion {
				return fmt.Errorf("%w: %v", ErrIncompatible, b)
			}
			return nil
		}
		return bkt.Put([]byte(versionKey), []byte{schemaVersion})
	}); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Close syncs and closes the file.
func (s *DB) Close() error {
	s.db.Sync()
	return s.db.Close()
}

// Path returns the file name the store was opened with.
func (s *DB) Path() string { return s.path }

// Load reads the whole record. Entries that fail to decode are skipped and
// logged rather than failing the load.
func (s *DB) Load() (Record, error) {
	rec := Record{
		Snapshot: room.Snapshot{
			Blocklist: make(map[string]time.Time),
			Usernames: make(map[string]map[string]string),
		},
	}

	err := s.db.View(func(tx *bolt.Tx) error {
		if err := tx.Bucket([]byte(blocklistBucket)).ForEach(func(k, v []byte) error {
			var ms int64
			if err := cbor.Unmarshal(v, &ms); err != nil {
				s.log.Warningf("Skipping undecodable blocklist entry: %v", err)
				return nil
			}
			rec.Snapshot.Blocklist[string(k)] = time.UnixMilli(ms)
			return nil
		}); err != nil {
			return err
		}

		if err := tx.Bucket([]byte(usernamesBucket)).ForEach(func(k, v []byte) error {
			var names map[string]string
			if err := cbor.Unmarshal(v, &names); err != nil {
				s.log.Warningf("Skipping undecodable username table: %v", err)
				return nil
			}
			rec.Snapshot.Usernames[string(k)] = names
			return nil
		}); err != nil {
			return err
		}

		if b := tx.Bucket([]byte(analyticsBucket)).Get([]byte(totalsKey)); b != nil {
			if err := cbor.Unmarshal(b, &rec.Totals); err != nil {
				s.log.Warningf("Discarding undecodable analytics totals: %v", err)
				rec.Totals = metrics.Totals{}
			}
		}
		return nil
	})
	if err != nil {
		return Record{}, fmt.Errorf("store: load: %w", err)
	}
	return rec, nil
}

// Save replaces the stored record with rec in one transaction.
func (s *DB) Save(rec Record) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range dataBuckets {
			if err := tx.DeleteBucket([]byte(name)); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
				return err
			}
		}
		blk, err := tx.CreateBucket([]byte(blocklistBucket))
		if err != nil {
			return err
		}
		usr, err := tx.CreateBucket([]byte(usernamesBucket))
		if err != nil {
			return err
		}
		ana, err := tx.CreateBucket([]byte(analyticsBucket))
		if err != nil {
			return err
		}

		for token, until := range rec.Snapshot.Blocklist {
			b, err := cbor.Marshal(until.UnixMilli())
			if err != nil {
				return err
			}
			if err = blk.Put([]byte(token), b); err != nil {
				return err
			}
		}
		for token, names := range rec.Snapshot.Usernames {
			if len(names) == 0 {
				continue
			}
			b, err := cbor.Marshal(names)
			if err != nil {
				return err
			}
			if err = usr.Put([]byte(token), b); err != nil {
				return err
			}
		}

		b, err := cbor.Marshal(rec.Totals)
		if err != nil {
			return err
		}
		return ana.Put([]byte(totalsKey), b)
	})
	if err != nil {
		return fmt.Errorf("store: save: %w", err)
	}
	return nil
}
