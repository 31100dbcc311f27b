package entity

import (
	"encoding/json"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// DLQJob is a dead-lettered queue job persisted to MongoDB for audit
// and scheduled retry.
type DLQJob struct {
	ID                 bson.ObjectID   `bson:"_id,omitempty"`
	JobID              string          `bson:"job_id"`
	Type               string          `bson:"type"`
	Payload            json.RawMessage `bson:"payload"`
	Status             string          `bson:"status"` // pending | processing | failed | completed | permanently_failed
	RetryCount         int             `bson:"retry_count"`
	OriginalRetryCount int             `bson:"original_retry_count"`
	ErrorMsg           string          `bson:"error_msg"`
	NextRetryAt        *time.Time      `bson:"next_retry_at,omitempty"`
	CreatedAt          time.Time       `bson:"created_at"`
	UpdatedAt          time.Time       `bson:"updated_at,omitempty"`
	CompletedAt        *time.Time      `bson:"completed_at,omitempty"`
	FailedAt           *time.Time      `bson:"failed_at,omitempty"`
	ExpireAt           time.Time       `bson:"expired_at"`
}
