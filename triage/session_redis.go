// Copyright 2025 StayGuard
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package triage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// =============================================================================
// Redis Session Store
// =============================================================================

// Key layout: one state key, one checkpoint list, one pending-approval list
// per incident, all sharing the session TTL.
const (
	redisStateKeyFmt   = "triage:state:%s"
	redisCkptKeyFmt    = "triage:ckpt:%s"
	redisPendingKeyFmt = "triage:pending:%s"
)

// RedisSessionStore is the external-store implementation of SessionStore.
// Redis handles TTL expiry itself, so Cleanup is a no-op there.
type RedisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSessionStore connects to Redis using a redis:// URL and verifies
// the connection with a ping.
func NewRedisSessionStore(ctx context.Context, redisURL string, ttl time.Duration) (*RedisSessionStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisSessionStore{client: client, ttl: ttl}, nil
}

func (s *RedisSessionStore) Get(ctx context.Context, incidentID string) (*IncidentState, error) {
	raw, err := s.client.Get(ctx, fmt.Sprintf(redisStateKeyFmt, incidentID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, NewEngineError(ErrKindTransientIO, "session", "redis get failed", err)
	}
	var st IncidentState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, NewEngineError(ErrKindUnsafeState, "session", "stored state is corrupt", err)
	}
	return &st, nil
}

func (s *RedisSessionStore) Put(ctx context.Context, incidentID string, st *IncidentState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return NewEngineError(ErrKindUnsafeState, "session", "state not serializable", err)
	}
	if err := s.client.Set(ctx, fmt.Sprintf(redisStateKeyFmt, incidentID), raw, s.ttl).Err(); err != nil {
		return NewEngineError(ErrKindTransientIO, "session", "redis set failed", err)
	}
	return nil
}

func (s *RedisSessionStore) AppendCheckpoint(ctx context.Context, cp Checkpoint) error {
	raw, err := json.Marshal(cp)
	if err != nil {
		return NewEngineError(ErrKindUnsafeState, "session", "checkpoint not serializable", err)
	}
	key := fmt.Sprintf(redisCkptKeyFmt, cp.IncidentID)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, raw)
	pipe.LTrim(ctx, key, -int64(checkpointRingSize), -1)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return NewEngineError(ErrKindTransientIO, "session", "redis checkpoint append failed", err)
	}
	return nil
}

func (s *RedisSessionStore) FindByIncident(ctx context.Context, incidentID string) ([]Checkpoint, error) {
	raws, err := s.client.LRange(ctx, fmt.Sprintf(redisCkptKeyFmt, incidentID), 0, -1).Result()
	if err != nil {
		return nil, NewEngineError(ErrKindTransientIO, "session", "redis checkpoint read failed", err)
	}
	out := make([]Checkpoint, 0, len(raws))
	for _, r := range raws {
		var cp Checkpoint
		if err := json.Unmarshal([]byte(r), &cp); err != nil {
			return nil, NewEngineError(ErrKindUnsafeState, "session", "stored checkpoint is corrupt", err)
		}
		out = append(out, cp)
	}
	return out, nil
}

func (s *RedisSessionStore) PushPendingApproval(ctx context.Context, incidentID string, hi HumanIntervention) error {
	key := fmt.Sprintf(redisPendingKeyFmt, incidentID)
	n, err := s.client.LLen(ctx, key).Result()
	if err != nil {
		return NewEngineError(ErrKindTransientIO, "session", "redis pending length failed", err)
	}
	if n >= pendingApprovalsCap {
		return Errf(ErrKindUnsafeState, "session", "pending approval queue full for incident %s", incidentID)
	}
	raw, err := json.Marshal(hi)
	if err != nil {
		return NewEngineError(ErrKindUnsafeState, "session", "intervention not serializable", err)
	}
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, raw)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return NewEngineError(ErrKindTransientIO, "session", "redis pending push failed", err)
	}
	return nil
}

func (s *RedisSessionStore) PendingApprovals(ctx context.Context, incidentID string) ([]HumanIntervention, error) {
	raws, err := s.client.LRange(ctx, fmt.Sprintf(redisPendingKeyFmt, incidentID), 0, -1).Result()
	if err != nil {
		return nil, NewEngineError(ErrKindTransientIO, "session", "redis pending read failed", err)
	}
	out := make([]HumanIntervention, 0, len(raws))
	for _, r := range raws {
		var hi HumanIntervention
		if err := json.Unmarshal([]byte(r), &hi); err != nil {
			return nil, NewEngineError(ErrKindUnsafeState, "session", "stored intervention is corrupt", err)
		}
		out = append(out, hi)
	}
	return out, nil
}

func (s *RedisSessionStore) RemovePendingApproval(ctx context.Context, incidentID, interventionID string) error {
	key := fmt.Sprintf(redisPendingKeyFmt, incidentID)
	raws, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return NewEngineError(ErrKindTransientIO, "session", "redis pending read failed", err)
	}
	for _, r := range raws {
		var hi HumanIntervention
		if err := json.Unmarshal([]byte(r), &hi); err != nil {
			continue
		}
		if hi.ID == interventionID {
			if err := s.client.LRem(ctx, key, 1, r).Err(); err != nil {
				return NewEngineError(ErrKindTransientIO, "session", "redis pending remove failed", err)
			}
			return nil
		}
	}
	return ErrNotFound
}

// Cleanup is a no-op for Redis: per-key TTLs expire server-side.
func (s *RedisSessionStore) Cleanup(ctx context.Context) (int, error) { return 0, nil }

func (s *RedisSessionStore) Close() error { return s.client.Close() }
