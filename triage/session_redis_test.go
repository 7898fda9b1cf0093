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
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisSessionStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedisSessionStore(context.Background(), "redis://"+mr.Addr(), time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRedisSessionStore_PutGetRoundtrip(t *testing.T) {
	s, _ := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "inc-1", sessionState("inc-1")))
	got, err := s.Get(ctx, "inc-1")
	require.NoError(t, err)
	assert.Equal(t, "badge misuse", got.Incident.Title)
	assert.Equal(t, StepClassify, got.CurrentNode)

	_, err = s.Get(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisSessionStore_StateExpires(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "inc-1", sessionState("inc-1")))
	mr.FastForward(2 * time.Hour)

	_, err := s.Get(ctx, "inc-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisSessionStore_CheckpointRingTrims(t *testing.T) {
	s, _ := newRedisStore(t)
	ctx := context.Background()

	total := checkpointRingSize + 5
	for i := 1; i <= total; i++ {
		require.NoError(t, s.AppendCheckpoint(ctx, Checkpoint{
			IncidentID: "inc-1", Step: StepClassify, Sequence: int64(i),
		}))
	}

	cps, err := s.FindByIncident(ctx, "inc-1")
	require.NoError(t, err)
	require.Len(t, cps, checkpointRingSize)
	assert.Equal(t, int64(6), cps[0].Sequence)
	assert.Equal(t, int64(total), cps[len(cps)-1].Sequence)
}

func TestRedisSessionStore_PendingQueue(t *testing.T) {
	s, _ := newRedisStore(t)
	ctx := context.Background()

	for i := 0; i < pendingApprovalsCap; i++ {
		require.NoError(t, s.PushPendingApproval(ctx, "inc-1", HumanIntervention{
			ID: fmt.Sprintf("hi-%d", i), IncidentID: "inc-1", Type: InterventionApproval,
		}))
	}
	err := s.PushPendingApproval(ctx, "inc-1", HumanIntervention{ID: "overflow"})
	require.Error(t, err)
	assert.Equal(t, ErrKindUnsafeState, KindOf(err))

	require.NoError(t, s.RemovePendingApproval(ctx, "inc-1", "hi-0"))
	pending, err := s.PendingApprovals(ctx, "inc-1")
	require.NoError(t, err)
	assert.Len(t, pending, pendingApprovalsCap-1)

	assert.ErrorIs(t, s.RemovePendingApproval(ctx, "inc-1", "hi-0"), ErrNotFound)
}

func TestNewRedisSessionStore_BadURL(t *testing.T) {
	_, err := NewRedisSessionStore(context.Background(), "not-a-url", time.Hour)
	assert.Error(t, err)
}
