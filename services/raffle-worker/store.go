package raffleworker

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bbolt "go.etcd.io/bbolt"
)

// Store remembers which draw requests the worker already answered and when it
// last triggered a draw, so restarts neither double-submit nor re-trigger.
type Store struct {
	db *bbolt.DB
}

var (
	bucketAnswers = []byte("answers")
	bucketMeta    = []byte("meta")
	keyTrigger    = []byte("last_trigger")
)

// Answer records one submitted draw result.
type Answer struct {
	Era         uint32    `json:"era"`
	Index       uint64    `json:"index"`
	Skipped     bool      `json:"skipped"`
	Cycle       string    `json:"cycle"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Trigger records the last draw the worker opened.
type Trigger struct {
	Era uint32    `json:"era"`
	At  time.Time `json:"at"`
}

// NewStore opens (or creates) the worker database.
func NewStore(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketAnswers); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketMeta); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func requestKey(requestIndex uint64) []byte {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], requestIndex)
	return key[:]
}

// Answer returns the stored answer for an outbound request index.
func (s *Store) Answer(requestIndex uint64) (Answer, bool, error) {
	if s == nil || s.db == nil {
		return Answer{}, false, fmt.Errorf("worker store not initialised")
	}
	var (
		answer Answer
		found  bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketAnswers).Get(requestKey(requestIndex))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &answer)
	})
	if err != nil {
		return Answer{}, false, err
	}
	return answer, found, nil
}

// MarkAnswered records a submitted result for requestIndex.
func (s *Store) MarkAnswered(requestIndex uint64, answer Answer) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("worker store not initialised")
	}
	encoded, err := json.Marshal(answer)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketAnswers).Put(requestKey(requestIndex), encoded)
	})
}

// LastTrigger returns the most recent trigger, if any.
func (s *Store) LastTrigger() (Trigger, bool, error) {
	if s == nil || s.db == nil {
		return Trigger{}, false, fmt.Errorf("worker store not initialised")
	}
	var (
		trigger Trigger
		found   bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketMeta).Get(keyTrigger)
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &trigger)
	})
	if err != nil {
		return Trigger{}, false, err
	}
	return trigger, found, nil
}

// RecordTrigger persists a trigger.
func (s *Store) RecordTrigger(trigger Trigger) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("worker store not initialised")
	}
	encoded, err := json.Marshal(trigger)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(keyTrigger, encoded)
	})
}
