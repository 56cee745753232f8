package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aescanero/jobrelay/pkg/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	jobKeyPrefix = "jobrelay:job:"

	// maxTxAttempts bounds optimistic-lock retries when two writers race on
	// the same record
	maxTxAttempts = 5
)

// JobStore implements JobStore using Redis
type JobStore struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
	now    func() time.Time
}

// NewJobStore creates a new Redis job store
func NewJobStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *JobStore {
	return &JobStore{
		client: client,
		logger: logger,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Create persists a new job record. It fails if the uuid already exists.
func (s *JobStore) Create(ctx context.Context, record *domain.JobRecord) error {
	if record == nil || record.UUID == "" {
		return fmt.Errorf("job record has no uuid")
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal job record: %w", err)
	}

	created, err := s.client.SetNX(ctx, getJobKey(record.UUID), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to save job record: %w", err)
	}
	if !created {
		return fmt.Errorf("job record already exists: %s", record.UUID)
	}

	s.logger.Debug("job record saved",
		zap.String("job_uuid", record.UUID),
		zap.String("status", string(record.Status)))

	return nil
}

// Get retrieves a job record from Redis
func (s *JobStore) Get(ctx context.Context, uuid string) (*domain.JobRecord, error) {
	data, err := s.client.Get(ctx, getJobKey(uuid)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, uuid)
		}
		return nil, fmt.Errorf("failed to get job record: %w", err)
	}

	return decodeRecord(data)
}

// Transition applies a status change inside a WATCH transaction so
// concurrent writers to the same record cannot lose updates
func (s *JobStore) Transition(ctx context.Context, uuid string, t domain.JobTransition) (*domain.JobRecord, error) {
	key := getJobKey(uuid)
	var updated *domain.JobRecord

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("%w: %s", domain.ErrJobNotFound, uuid)
			}
			return fmt.Errorf("failed to get job record: %w", err)
		}

		record, err := decodeRecord(data)
		if err != nil {
			return err
		}
		if err := record.Apply(t, s.now().UTC()); err != nil {
			return err
		}

		out, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to marshal job record: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, s.ttl)
			return nil
		})
		if err != nil {
			return err
		}

		updated = record
		return nil
	}

	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			s.logger.Debug("job record updated",
				zap.String("job_uuid", uuid),
				zap.String("status", string(updated.Status)))
			return updated, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("failed to update job record %s: concurrent modification", uuid)
}

// List returns all job uuids that have a stored record
func (s *JobStore) List(ctx context.Context) ([]string, error) {
	pattern := jobKeyPrefix + "*"

	var cursor uint64
	var keys []string

	for {
		var batch []string
		var err error

		batch, cursor, err = s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}

		keys = append(keys, batch...)

		if cursor == 0 {
			break
		}
	}

	// Extract uuids from keys
	uuids := make([]string, 0, len(keys))
	for _, key := range keys {
		if len(key) > len(jobKeyPrefix) {
			uuids = append(uuids, key[len(jobKeyPrefix):])
		}
	}

	return uuids, nil
}

func decodeRecord(data []byte) (*domain.JobRecord, error) {
	var record domain.JobRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job record: %w", err)
	}
	return &record, nil
}

// getJobKey returns the Redis key for a job record
func getJobKey(uuid string) string {
	return jobKeyPrefix + uuid
}
