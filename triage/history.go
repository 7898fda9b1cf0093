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
	"sync"
	"time"

	"stayguard/platform/shared/logger"
)

// =============================================================================
// History Writer
// =============================================================================

// History writer tuning. A batch flushes when it reaches historyBatchSize or
// when historyFlushInterval elapses, whichever comes first.
const (
	historyBatchSize     = 50
	historyFlushInterval = 5 * time.Second
	historyQueueDepth    = 1024
)

// HistoryWriter records state changes asynchronously so the workflow never
// blocks on the audit trail. Records are buffered in a channel, batched, and
// written through the incident store in one transaction per batch. If the
// buffer fills, the record is dropped and counted rather than stalling the
// caller.
type HistoryWriter struct {
	store IncidentStore
	log   *logger.Logger

	queue   chan HistoryRecord
	dropped int64
	mu      sync.Mutex

	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

func NewHistoryWriter(store IncidentStore) *HistoryWriter {
	w := &HistoryWriter{
		store: store,
		log:   logger.New("history-writer"),
		queue: make(chan HistoryRecord, historyQueueDepth),
		done:  make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// Record enqueues one change. diff may be nil; anything serializable is
// accepted and stored as JSON.
func (w *HistoryWriter) Record(incidentID, changeType string, diff interface{}) {
	var raw json.RawMessage
	if diff != nil {
		b, err := json.Marshal(diff)
		if err != nil {
			w.log.Warn("", incidentID, "History diff not serializable, recording without diff",
				map[string]interface{}{"change_type": changeType, "error": err.Error()})
		} else {
			raw = b
		}
	}
	rec := HistoryRecord{
		IncidentID: incidentID,
		Timestamp:  time.Now().UTC(),
		ChangeType: changeType,
		Diff:       raw,
	}
	select {
	case w.queue <- rec:
	default:
		w.mu.Lock()
		w.dropped++
		n := w.dropped
		w.mu.Unlock()
		w.log.Warn("", incidentID, "History queue full, dropping record",
			map[string]interface{}{"change_type": changeType, "dropped_total": n})
	}
}

// Dropped returns how many records were discarded because the queue was full.
func (w *HistoryWriter) Dropped() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}

func (w *HistoryWriter) run() {
	defer w.wg.Done()
	ticker := time.NewTicker(historyFlushInterval)
	defer ticker.Stop()

	batch := make([]HistoryRecord, 0, historyBatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := w.store.AppendHistory(ctx, batch); err != nil {
			w.log.Error("", "", "History batch write failed",
				map[string]interface{}{"batch_size": len(batch), "error": err.Error()})
		}
		cancel()
		batch = batch[:0]
	}

	for {
		select {
		case rec := <-w.queue:
			batch = append(batch, rec)
			if len(batch) >= historyBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-w.done:
			// Drain whatever is still queued before the final flush.
			for {
				select {
				case rec := <-w.queue:
					batch = append(batch, rec)
					if len(batch) >= historyBatchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

// Close flushes pending records and stops the writer. Safe to call twice.
func (w *HistoryWriter) Close() {
	w.once.Do(func() { close(w.done) })
	w.wg.Wait()
}
