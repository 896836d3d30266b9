// Package generation defines the boundary between the job orchestration
// core and external AI/TTS/image providers. The worker depends only on the
// Generator interface and the error classification in errors.go; concrete
// providers live under internal/platform.
package generation

import (
	"context"
	"encoding/json"

	"github.com/parlo-app/parlo-api/internal/domain"
)

// Progress is the advisory, operation-specific progress payload a provider
// may publish while a job is active. Readers must not assume monotonicity
// across retries; a retried attempt may reset progress.
type Progress struct {
	Step            string `json:"step"`
	PercentComplete int    `json:"percent_complete"`
}

// ProgressFunc receives progress updates during generation. Implementations
// must be safe to call from the generating goroutine and must not block on
// slow consumers.
type ProgressFunc func(ctx context.Context, progress Progress)

// Generator produces the artifact for one generation job.
//
// The returned payload is opaque to the orchestration core; it is persisted
// verbatim as the job result. Errors must be classified using the sentinels
// in errors.go so the worker can decide between retry and permanent failure.
type Generator interface {
	Generate(ctx context.Context, job *domain.Job, publish ProgressFunc) (json.RawMessage, error)
}
