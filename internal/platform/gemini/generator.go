// Package gemini implements the generation provider on Google's Gemini API.
// One provider serves every operation kind: each kind maps to a prompt and
// a JSON artifact schema, and the raw JSON artifact becomes the job result.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"google.golang.org/genai"

	"github.com/parlo-app/parlo-api/internal/config"
	"github.com/parlo-app/parlo-api/internal/domain"
	"github.com/parlo-app/parlo-api/internal/generation"
)

// Generator calls the Gemini API to produce generation artifacts. Retry is
// owned by the job worker, not this type: every call here is a single
// attempt, classified on failure so the worker can decide.
type Generator struct {
	client *genai.Client
	config config.LLMConfig
	logger *slog.Logger
}

// NewGenerator creates a Gemini-backed generator.
func NewGenerator(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (*Generator, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: missing Gemini API key", generation.ErrInvalidConfig)
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("%w: missing model name", generation.ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &Generator{client: client, config: cfg, logger: logger}, nil
}

// Generate implements generation.Generator.
func (g *Generator) Generate(ctx context.Context, job *domain.Job, publish generation.ProgressFunc) (json.RawMessage, error) {
	prompt, err := buildPrompt(job)
	if err != nil {
		return nil, err
	}

	log := g.logger.With("job_id", job.ID, "kind", job.Kind, "model", g.config.ModelName)

	if publish != nil {
		publish(ctx, generation.Progress{Step: "calling_provider", PercentComplete: 10})
	}

	// Each provider call carries its own timeout; exceeding it reads as a
	// transient failure subject to the worker's retry policy.
	callCtx, cancel := context.WithTimeout(ctx, g.config.RequestTimeout)
	defer cancel()

	resp, err := g.client.Models.GenerateContent(callCtx, g.config.ModelName,
		genai.Text(prompt),
		&genai.GenerateContentConfig{ResponseMIMEType: "application/json"},
	)
	if err != nil {
		log.Error("Gemini API call failed", "error", err)
		return nil, fmt.Errorf("%w: %v", generation.ErrTransientFailure, err)
	}

	if publish != nil {
		publish(ctx, generation.Progress{Step: "parsing_response", PercentComplete: 80})
	}

	artifact, err := extractArtifact(resp)
	if err != nil {
		log.Error("Gemini response unusable", "error", err)
		return nil, err
	}

	log.Debug("Gemini API call succeeded", "artifact_bytes", len(artifact))
	return artifact, nil
}

// extractArtifact validates the response shape and returns the JSON
// artifact. Malformed responses are permanent: the same request would
// produce the same malformed response.
func extractArtifact(resp *genai.GenerateContentResponse) (json.RawMessage, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("%w: no content generated", generation.ErrInvalidResponse)
	}
	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return nil, fmt.Errorf("%w: safety finish reason", generation.ErrContentBlocked)
	}
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return nil, fmt.Errorf("%w: empty content in response", generation.ErrInvalidResponse)
	}

	text := ""
	for _, part := range candidate.Content.Parts {
		text += part.Text
	}
	if !json.Valid([]byte(text)) {
		return nil, fmt.Errorf("%w: response is not valid JSON", generation.ErrInvalidResponse)
	}
	return json.RawMessage(text), nil
}
