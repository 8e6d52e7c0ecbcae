package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/cuemby/lobby/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketVisitors = []byte("visitors")
	bucketAlerts   = []byte("alerts")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "lobby.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketVisitors, bucketAlerts} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Visitor operations
func (s *BoltStore) CreateVisitor(visitor *types.Visitor) error {
	return s.put(bucketVisitors, visitor.ID, visitor)
}

func (s *BoltStore) GetVisitor(id string) (*types.Visitor, error) {
	var visitor types.Visitor
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketVisitors).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("visitor %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &visitor)
	})
	if err != nil {
		return nil, err
	}
	return &visitor, nil
}

// ListVisitors returns all visitors, newest first
func (s *BoltStore) ListVisitors() ([]*types.Visitor, error) {
	var visitors []*types.Visitor
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVisitors).ForEach(func(k, v []byte) error {
			var visitor types.Visitor
			if err := json.Unmarshal(v, &visitor); err != nil {
				return err
			}
			visitors = append(visitors, &visitor)
			return nil
		})
	})
	sort.SliceStable(visitors, func(i, j int) bool {
		return visitors[i].CreatedAt.After(visitors[j].CreatedAt)
	})
	return visitors, err
}

func (s *BoltStore) UpdateVisitor(visitor *types.Visitor) error {
	return s.CreateVisitor(visitor) // Same as create (upsert)
}

func (s *BoltStore) DeleteVisitor(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVisitors)
		if b.Get([]byte(id)) == nil {
			return fmt.Errorf("visitor %s: %w", id, ErrNotFound)
		}
		return b.Delete([]byte(id))
	})
}

// Alert operations
func (s *BoltStore) CreateAlert(alert *types.Alert) error {
	return s.put(bucketAlerts, alert.ID, alert)
}

// ListAlerts returns all alerts, newest first
func (s *BoltStore) ListAlerts() ([]*types.Alert, error) {
	var alerts []*types.Alert
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAlerts).ForEach(func(k, v []byte) error {
			var alert types.Alert
			if err := json.Unmarshal(v, &alert); err != nil {
				return err
			}
			alerts = append(alerts, &alert)
			return nil
		})
	})
	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].CreatedAt.After(alerts[j].CreatedAt)
	})
	return alerts, err
}

func (s *BoltStore) MarkAlertRead(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAlerts)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("alert %s: %w", id, ErrNotFound)
		}
		var alert types.Alert
		if err := json.Unmarshal(data, &alert); err != nil {
			return err
		}
		alert.Read = true
		return putJSON(b, id, &alert)
	})
}

func (s *BoltStore) MarkAllAlertsRead() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAlerts)
		var unread []*types.Alert
		err := b.ForEach(func(k, v []byte) error {
			var alert types.Alert
			if err := json.Unmarshal(v, &alert); err != nil {
				return err
			}
			if !alert.Read {
				alert.Read = true
				unread = append(unread, &alert)
			}
			return nil
		})
		if err != nil {
			return err
		}
		// bbolt forbids mutating a bucket while iterating it
		for _, alert := range unread {
			if err := putJSON(b, alert.ID, alert); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) DeleteAlert(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAlerts)
		if b.Get([]byte(id)) == nil {
			return fmt.Errorf("alert %s: %w", id, ErrNotFound)
		}
		return b.Delete([]byte(id))
	})
}

func (s *BoltStore) CountUnreadAlerts() (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAlerts).ForEach(func(k, v []byte) error {
			var alert types.Alert
			if err := json.Unmarshal(v, &alert); err != nil {
				return err
			}
			if !alert.Read {
				count++
			}
			return nil
		})
	})
	return count, err
}

func (s *BoltStore) put(bucket []byte, key string, value interface{}) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucket), key, value)
	})
}

func putJSON(b *bolt.Bucket, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), data)
}
