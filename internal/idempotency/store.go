// Package idempotency lets clients retry non-idempotent POSTs safely by
// sending an Idempotency-Key header. Completed responses are kept in Redis
// and replayed for the same user, route and key.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	statusPending   = "pending"
	statusCompleted = "completed"
	keyPrefix       = "idempotency:"
)

type Record struct {
	Status      string `json:"status"`
	RequestHash string `json:"request_hash"`
	Code        int    `json:"code,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

// Key scopes a client key to the caller and route.
func Key(userID, route, clientKey string) string {
	sum := sha256.Sum256([]byte(userID + ":" + route + ":" + clientKey))
	return keyPrefix + hex.EncodeToString(sum[:])
}

func RequestHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Begin claims key for a new request. When the key is already taken the
// stored record is returned and claimed is false.
func (s *Store) Begin(ctx context.Context, key, requestHash string) (existing *Record, claimed bool, err error) {
	pending, err := json.Marshal(Record{Status: statusPending, RequestHash: requestHash})
	if err != nil {
		return nil, false, err
	}
	// The claimed record can expire between SETNX and GET; one retry covers it.
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := s.rdb.SetNX(ctx, key, pending, s.ttl).Result()
		if err != nil {
			return nil, false, fmt.Errorf("failed to claim idempotency key: %w", err)
		}
		if ok {
			return nil, true, nil
		}

		raw, err := s.rdb.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("failed to read idempotency record: %w", err)
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, false, fmt.Errorf("failed to decode idempotency record: %w", err)
		}
		return &rec, false, nil
	}
	return nil, false, fmt.Errorf("idempotency key %s kept expiring", key)
}

func (s *Store) Complete(ctx context.Context, key string, rec Record) error {
	rec.Status = statusCompleted
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, key, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store idempotent response: %w", err)
	}
	return nil
}

// Release drops the claim so the client can retry after a server failure.
func (s *Store) Release(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}
