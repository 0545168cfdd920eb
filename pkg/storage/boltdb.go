package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/alpinekube/pkg/events"
	"github.com/cuemby/alpinekube/pkg/log"
	bolt "go.etcd.io/bbolt"
)

var bucketEvents = []byte("events")

// BoltJournal implements Journal on a bbolt database
type BoltJournal struct {
	db *bolt.DB
}

// NewBoltJournal opens or creates the journal database at path
func NewBoltJournal(path string) (*BoltJournal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketEvents); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketEvents, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltJournal{db: db}, nil
}

// Close closes the database
func (j *BoltJournal) Close() error {
	return j.db.Close()
}

// Append stores the event under the next sequence number
func (j *BoltJournal) Append(event *events.Event) (uint64, error) {
	var seq uint64
	err := j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		var err error
		seq, err = b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(event)
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), data)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to append event: %w", err)
	}
	return seq, nil
}

// List returns matching records in sequence order
func (j *BoltJournal) List(filter Filter) ([]Record, error) {
	var records []Record
	err := j.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEvents).Cursor()
		for k, v := c.Seek(seqKey(filter.AfterSeq + 1)); k != nil; k, v = c.Next() {
			var event events.Event
			if err := json.Unmarshal(v, &event); err != nil {
				return fmt.Errorf("corrupt journal record %d: %w", binary.BigEndian.Uint64(k), err)
			}
			if !filter.match(&event) {
				continue
			}
			records = append(records, Record{Seq: binary.BigEndian.Uint64(k), Event: &event})
			if filter.Limit > 0 && len(records) >= filter.Limit {
				return nil
			}
		}
		return nil
	})
	return records, err
}

// Consume appends every event received on sub until the channel is closed
func (j *BoltJournal) Consume(sub events.Subscriber) {
	logger := log.WithComponent("journal")
	for event := range sub {
		if _, err := j.Append(event); err != nil {
			logger.Error().Err(err).Str("event_id", event.ID).Msg("Failed to journal event")
		}
	}
}

// seqKey encodes a sequence number so that keys sort numerically
func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
