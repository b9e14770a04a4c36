package services

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/MegaGrindStone/support-widget/internal/models"
	bolt "go.etcd.io/bbolt"
)

// BoltDB keeps the conversations and the feedback received by the mock backend. Every conversation has
// its own bucket of turns, keyed by insertion sequence.
type BoltDB struct {
	db *bolt.DB
}

var (
	conversationsBucket = []byte("conversations")
	feedbackBucket      = []byte("feedback")
)

// NewBoltDB opens (or creates, with 0600 permissions) the database at path and initializes its buckets.
func NewBoltDB(path string) (BoltDB, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return BoltDB{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{conversationsBucket, feedbackBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return BoltDB{}, err
	}

	return BoltDB{db: db}, nil
}

// Close releases the database file.
func (b BoltDB) Close() error {
	return b.db.Close()
}

func turnsBucketName(conversationID string) []byte {
	return []byte(fmt.Sprintf("conversation-%s", conversationID))
}

func sequenceKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

// AddTurn appends turn to the conversation, registering the conversation on its first turn.
func (b BoltDB) AddTurn(_ context.Context, conversationID string, turn models.Turn) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		convs := tx.Bucket(conversationsBucket)
		if convs.Get([]byte(conversationID)) == nil {
			v, err := json.Marshal(turn.Timestamp)
			if err != nil {
				return fmt.Errorf("failed to marshal conversation: %w", err)
			}
			if err := convs.Put([]byte(conversationID), v); err != nil {
				return fmt.Errorf("failed to add conversation: %w", err)
			}
		}

		turns, err := tx.CreateBucketIfNotExists(turnsBucketName(conversationID))
		if err != nil {
			return fmt.Errorf("failed to create turns bucket: %w", err)
		}

		seq, err := turns.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to get next sequence: %w", err)
		}

		v, err := json.Marshal(turn)
		if err != nil {
			return fmt.Errorf("failed to marshal turn: %w", err)
		}
		return turns.Put(sequenceKey(seq), v)
	})
}

// Turns returns the turns of the conversation in insertion order. An unknown conversation has no turns.
func (b BoltDB) Turns(_ context.Context, conversationID string) ([]models.Turn, error) {
	var turns []models.Turn
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(turnsBucketName(conversationID))
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(_, v []byte) error {
			var turn models.Turn
			if err := json.Unmarshal(v, &turn); err != nil {
				return fmt.Errorf("failed to unmarshal turn: %w", err)
			}
			turns = append(turns, turn)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return turns, nil
}

// Conversations returns the ids of every known conversation.
func (b BoltDB) Conversations(context.Context) ([]string, error) {
	var ids []string
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(conversationsBucket).ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// AddFeedback stores a feedback record.
func (b BoltDB) AddFeedback(_ context.Context, feedback models.Feedback) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(feedbackBucket)

		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to get next sequence: %w", err)
		}

		v, err := json.Marshal(feedback)
		if err != nil {
			return fmt.Errorf("failed to marshal feedback: %w", err)
		}
		return bucket.Put(sequenceKey(seq), v)
	})
}

// Feedbacks returns every feedback record in arrival order.
func (b BoltDB) Feedbacks(context.Context) ([]models.Feedback, error) {
	var feedbacks []models.Feedback
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(feedbackBucket).ForEach(func(_, v []byte) error {
			var feedback models.Feedback
			if err := json.Unmarshal(v, &feedback); err != nil {
				return fmt.Errorf("failed to unmarshal feedback: %w", err)
			}
			feedbacks = append(feedbacks, feedback)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return feedbacks, nil
}
