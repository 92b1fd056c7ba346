package storage

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// GenerationRecord is one row of the generations table.
type GenerationRecord struct {
	ID               uuid.UUID
	Timestamp        time.Time
	RequestID        string
	EndpointHost     string
	Model            string
	PromptChars      int
	Reply            string
	DeltaCount       int
	Outcome          string
	ErrorMessage     string
	FirstDeltaMs     *int
	DurationMs       int
	PromptTokens     *int
	CompletionTokens *int
	TotalTokens      *int
}

func InsertGenerationJob(r *GenerationRecord) WriteJob {
	return WriteJobFunc(func(ctx context.Context, db DB) error {
		_, err := db.Exec(ctx, `
			INSERT INTO generations (
				id, ts, request_id, endpoint_host, model, prompt_chars, reply,
				delta_count, outcome, error_message, first_delta_ms, duration_ms,
				prompt_tokens, completion_tokens, total_tokens
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
			r.ID, r.Timestamp, r.RequestID, nilIfEmpty(r.EndpointHost), nilIfEmpty(r.Model),
			r.PromptChars, r.Reply, r.DeltaCount, r.Outcome, nilIfEmpty(r.ErrorMessage),
			r.FirstDeltaMs, r.DurationMs, r.PromptTokens, r.CompletionTokens, r.TotalTokens,
		)
		return err
	})
}

// InsertDeltasJob stores the reply chunks in arrival order using COPY.
func InsertDeltasJob(generationID uuid.UUID, ts time.Time, deltas []string) WriteJob {
	return WriteJobFunc(func(ctx context.Context, db DB) error {
		if len(deltas) == 0 {
			return nil
		}
		rows := make([][]any, len(deltas))
		for i, d := range deltas {
			rows[i] = []any{generationID, ts, i, d}
		}

		_, err := db.CopyFrom(ctx,
			pgx.Identifier{"generation_deltas"},
			[]string{"generation_id", "ts", "delta_index", "content"},
			pgx.CopyFromRows(rows),
		)
		return err
	})
}

// endpointHost keeps only the host so stored rows never carry paths or
// query strings that might embed credentials.
func endpointHost(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Host)
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func intPtr(n int) *int { return &n }
