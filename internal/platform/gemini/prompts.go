package gemini

import (
	"fmt"
	"strings"

	"github.com/parlo-app/parlo-api/internal/domain"
	"github.com/parlo-app/parlo-api/internal/generation"
)

// buildPrompt maps a job's payload to the prompt for its operation kind.
// Payloads are validated at admission, so a mismatch here means the row was
// corrupted; it reads as a permanent payload error, never a retry.
func buildPrompt(job *domain.Job) (string, error) {
	targets := strings.Join(job.TargetIDs, ", ")
	p := job.Payload

	switch job.Kind {
	case domain.OperationDialogue:
		if p.Dialogue == nil {
			return "", missingParams(job.Kind)
		}
		return fmt.Sprintf(
			"Write a language-learning dialogue in %s at CEFR level %s for episode(s) %s.%s "+
				"Respond with JSON: {\"title\": string, \"turns\": [{\"speaker\": string, \"text\": string, \"translation\": string}]}.",
			p.Dialogue.Language, p.Dialogue.Level, targets, topicClause(p.Dialogue.Topic)), nil

	case domain.OperationAudio:
		if p.Audio == nil {
			return "", missingParams(job.Kind)
		}
		return fmt.Sprintf(
			"Produce a text-to-speech rendering plan for content %s with voice %q at speed %.2f. "+
				"Respond with JSON: {\"segments\": [{\"text\": string, \"ssml\": string}], \"voice\": string, \"speed\": number}.",
			targets, p.Audio.Voice, normalizeSpeed(p.Audio.Speed)), nil

	case domain.OperationAudioAllSpeeds:
		if p.AudioAllSpeeds == nil {
			return "", missingParams(job.Kind)
		}
		return fmt.Sprintf(
			"Produce text-to-speech rendering plans for content %s with voice %q at slow, normal and fast speeds. "+
				"Respond with JSON: {\"renditions\": [{\"speed\": number, \"segments\": [{\"text\": string, \"ssml\": string}]}]}.",
			targets, p.AudioAllSpeeds.Voice), nil

	case domain.OperationImages:
		if p.Images == nil {
			return "", missingParams(job.Kind)
		}
		return fmt.Sprintf(
			"Create %d illustration prompts%s for the scenes in content %s. "+
				"Respond with JSON: {\"images\": [{\"scene\": string, \"prompt\": string, \"alt_text\": string}]}.",
			p.Images.Count, styleClause(p.Images.Style), targets), nil

	case domain.OperationCourse:
		if p.Course == nil {
			return "", missingParams(job.Kind)
		}
		return fmt.Sprintf(
			"Design a %d-unit %s course at CEFR level %s built around content %s. "+
				"Respond with JSON: {\"units\": [{\"title\": string, \"objectives\": [string], \"activities\": [string]}]}.",
			p.Course.Units, p.Course.Language, p.Course.Level, targets), nil

	case domain.OperationNarrowListening:
		if p.NarrowListening == nil {
			return "", missingParams(job.Kind)
		}
		return fmt.Sprintf(
			"Write %d narrow-listening variations of content %s in %s at CEFR level %s, "+
				"retelling the same story with varied vocabulary and structures. "+
				"Respond with JSON: {\"variations\": [{\"title\": string, \"text\": string}]}.",
			p.NarrowListening.Variations, targets, p.NarrowListening.Language, p.NarrowListening.Level), nil

	case domain.OperationPISession:
		if p.PISession == nil {
			return "", missingParams(job.Kind)
		}
		return fmt.Sprintf(
			"Create a processing-instruction session in %s drilling the structure %q using content %s. "+
				"Respond with JSON: {\"items\": [{\"sentence\": string, \"options\": [string], \"answer\": number}]}.",
			p.PISession.Language, p.PISession.Structure, targets), nil

	default:
		return "", fmt.Errorf("%w: unsupported kind %q", generation.ErrInvalidPayload, job.Kind)
	}
}

func missingParams(kind domain.OperationKind) error {
	return fmt.Errorf("%w: missing %s parameters", generation.ErrInvalidPayload, kind)
}

func topicClause(topic string) string {
	if topic == "" {
		return ""
	}
	return fmt.Sprintf(" The topic is %q.", topic)
}

func styleClause(style string) string {
	if style == "" {
		return ""
	}
	return fmt.Sprintf(" in %s style", style)
}

func normalizeSpeed(speed float64) float64 {
	if speed <= 0 {
		return 1.0
	}
	return speed
}
