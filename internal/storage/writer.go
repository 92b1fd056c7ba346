package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// WriteJob represents a unit of work to execute against the database.
type WriteJob interface {
	Execute(ctx context.Context, db DB) error
}

// WriteJobFunc adapts a function into a WriteJob.
type WriteJobFunc func(ctx context.Context, db DB) error

func (f WriteJobFunc) Execute(ctx context.Context, db DB) error {
	return f(ctx, db)
}

// BatchWriter takes history writes off the streaming path. Jobs are queued
// without blocking and flushed in batches, or on a timer when traffic is
// light. A full queue drops the job.
type BatchWriter struct {
	db        DB
	jobs      chan WriteJob
	batchSize int
	flushMs   int
	wg        sync.WaitGroup
	closeOnce sync.Once

	mu     sync.RWMutex
	closed bool

	dropped atomic.Int64
	failed  atomic.Int64
}

func NewBatchWriter(db DB, bufferSize, batchSize, flushMs int) *BatchWriter {
	w := &BatchWriter{
		db:        db,
		jobs:      make(chan WriteJob, bufferSize),
		batchSize: batchSize,
		flushMs:   flushMs,
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

// Enqueue reports whether the job was accepted.
func (w *BatchWriter) Enqueue(job WriteJob) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.dropped.Add(1)
		return false
	}
	select {
	case w.jobs <- job:
		return true
	default:
		w.dropped.Add(1)
		log.Warn().Msg("history queue full, dropping job")
		return false
	}
}

// Dropped counts jobs rejected because the queue was full or closed.
func (w *BatchWriter) Dropped() int64 { return w.dropped.Load() }

// Failed counts jobs whose execution returned an error.
func (w *BatchWriter) Failed() int64 { return w.failed.Load() }

func (w *BatchWriter) loop() {
	defer w.wg.Done()

	ticker := time.NewTicker(time.Duration(w.flushMs) * time.Millisecond)
	defer ticker.Stop()

	batch := make([]WriteJob, 0, w.batchSize)

	for {
		select {
		case job, ok := <-w.jobs:
			if !ok {
				w.flush(batch)
				return
			}
			batch = append(batch, job)
			if len(batch) >= w.batchSize {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

func (w *BatchWriter) flush(batch []WriteJob) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, job := range batch {
		if err := job.Execute(ctx, w.db); err != nil {
			w.failed.Add(1)
			log.Error().Err(err).Msg("history write failed")
		}
	}
	log.Debug().Int("jobs", len(batch)).Msg("history batch flushed")
}

// Shutdown flushes queued jobs and stops the writer. Safe to call twice.
func (w *BatchWriter) Shutdown() {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		close(w.jobs)
		w.mu.Unlock()
	})
	w.wg.Wait()
}
