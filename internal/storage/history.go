package storage

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/zenreply/zenreply/internal/llm"
)

// Enqueuer accepts write jobs without blocking.
type Enqueuer interface {
	Enqueue(job WriteJob) bool
}

// HistoryRecorder turns finished generations into history writes.
type HistoryRecorder struct {
	queue Enqueuer
}

func NewHistoryRecorder(queue Enqueuer) *HistoryRecorder {
	return &HistoryRecorder{queue: queue}
}

// Record implements llm.Recorder.
func (h *HistoryRecorder) Record(g llm.Generation) {
	rec := NewGenerationRecord(g)
	// Both jobs land in the same queue in order, so the parent row is
	// flushed before its deltas.
	if !h.queue.Enqueue(InsertGenerationJob(rec)) {
		return
	}
	if !h.queue.Enqueue(InsertDeltasJob(rec.ID, rec.Timestamp, g.Deltas)) {
		log.Debug().
			Str("request_id", g.RequestID).
			Str("generation_id", rec.ID.String()).
			Int("deltas", len(g.Deltas)).
			Msg("history deltas dropped, generation row kept")
	}
}

func NewGenerationRecord(g llm.Generation) *GenerationRecord {
	rec := &GenerationRecord{
		ID:           uuid.New(),
		Timestamp:    g.StartedAt,
		RequestID:    g.RequestID,
		EndpointHost: endpointHost(g.Endpoint),
		Model:        g.Model,
		PromptChars:  g.PromptChars,
		Reply:        strings.Join(g.Deltas, ""),
		DeltaCount:   len(g.Deltas),
		Outcome:      string(g.Outcome),
		ErrorMessage: g.Error,
		DurationMs:   int(g.Duration.Milliseconds()),
	}
	if len(g.Deltas) > 0 {
		rec.FirstDeltaMs = intPtr(int(g.FirstDelta.Milliseconds()))
	}
	if g.Usage != nil {
		rec.PromptTokens = intPtr(g.Usage.PromptTokens)
		rec.CompletionTokens = intPtr(g.Usage.CompletionTokens)
		rec.TotalTokens = intPtr(g.Usage.TotalTokens)
	}
	return rec
}

// Open connects to databaseURL, migrates it and starts a writer. The
// returned close function flushes the writer and closes the pool.
func Open(ctx context.Context, databaseURL string, bufferSize, batchSize, flushMs int) (*BatchWriter, func(), error) {
	pool, err := NewPool(ctx, databaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	w := NewBatchWriter(pool, bufferSize, batchSize, flushMs)
	return w, func() {
		w.Shutdown()
		pool.Close()
	}, nil
}
