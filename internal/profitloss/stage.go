package profitloss

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const stageKeyPrefix = "profitloss:staged:"

// StagedCommit holds a computed upload whose commit failed.
type StagedCommit struct {
	Handle  StagingHandle `json:"handle"`
	Sheet   UploadedSheet `json:"sheet"`
	Entries []LedgerEntry `json:"entries"`
	// IdempotencyKey is released when the staged upload is discarded.
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

// StageStore keeps staged commits until they are retried or expire.
type StageStore interface {
	Save(ctx context.Context, staged StagedCommit) error
	Load(ctx context.Context, uploadID uuid.UUID) (StagedCommit, bool, error)
	Drop(ctx context.Context, uploadID uuid.UUID) error
}

// RedisStage stores staged commits in Redis with a TTL.
type RedisStage struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStage constructs a RedisStage. The TTL should match the staging
// sweep so a staged commit never outlives its pending sheet.
func NewRedisStage(client *redis.Client, ttl time.Duration) *RedisStage {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisStage{client: client, ttl: ttl}
}

// Save stores the staged commit.
func (s *RedisStage) Save(ctx context.Context, staged StagedCommit) error {
	if s == nil || s.client == nil {
		return errors.New("profitloss: stage store not initialised")
	}
	raw, err := json.Marshal(staged)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, stageKeyPrefix+staged.Handle.UploadID.String(), raw, s.ttl).Err()
}

// Load fetches a staged commit.
func (s *RedisStage) Load(ctx context.Context, uploadID uuid.UUID) (StagedCommit, bool, error) {
	if s == nil || s.client == nil {
		return StagedCommit{}, false, nil
	}
	raw, err := s.client.Get(ctx, stageKeyPrefix+uploadID.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return StagedCommit{}, false, nil
	}
	if err != nil {
		return StagedCommit{}, false, err
	}
	var staged StagedCommit
	if err := json.Unmarshal(raw, &staged); err != nil {
		return StagedCommit{}, false, err
	}
	return staged, true, nil
}

// Drop removes a staged commit.
func (s *RedisStage) Drop(ctx context.Context, uploadID uuid.UUID) error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Del(ctx, stageKeyPrefix+uploadID.String()).Err()
}
