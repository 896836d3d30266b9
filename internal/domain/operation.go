package domain

import (
	"errors"
	"fmt"
	"strings"
)

// OperationKind identifies the type of artifact a generation job produces.
type OperationKind string

// Supported operation kinds. The string values are the wire format used in
// API requests and persisted job rows.
const (
	OperationDialogue        OperationKind = "dialogue"
	OperationAudio           OperationKind = "audio"
	OperationAudioAllSpeeds  OperationKind = "audio-all-speeds"
	OperationImages          OperationKind = "images"
	OperationCourse          OperationKind = "course"
	OperationNarrowListening OperationKind = "narrow-listening"
	OperationPISession       OperationKind = "pi-session"
)

// Common validation errors for operation payloads.
var (
	ErrInvalidOperationKind = errors.New("invalid operation kind")
	ErrPayloadKindMismatch  = errors.New("payload does not match operation kind")
	ErrEmptyTargetIDs       = errors.New("target content IDs cannot be empty")
)

// IsValidOperationKind reports whether kind is one of the supported
// operation kinds.
func IsValidOperationKind(kind OperationKind) bool {
	switch kind {
	case OperationDialogue, OperationAudio, OperationAudioAllSpeeds,
		OperationImages, OperationCourse, OperationNarrowListening,
		OperationPISession:
		return true
	default:
		return false
	}
}

// DialogueParams are the request-time parameters for dialogue generation.
type DialogueParams struct {
	Language string `json:"language" validate:"required"`
	Level    string `json:"level"    validate:"required"`
	Topic    string `json:"topic,omitempty"`
}

// AudioParams are the request-time parameters for audio generation. They are
// shared by the audio and audio-all-speeds operations; the all-speeds variant
// ignores Speed and renders every supported speed.
type AudioParams struct {
	Voice string  `json:"voice" validate:"required"`
	Speed float64 `json:"speed,omitempty"`
}

// ImagesParams are the request-time parameters for image set generation.
type ImagesParams struct {
	Count int    `json:"count" validate:"required,gt=0,lte=12"`
	Style string `json:"style,omitempty"`
}

// CourseParams are the request-time parameters for course generation.
type CourseParams struct {
	Language string `json:"language" validate:"required"`
	Level    string `json:"level"    validate:"required"`
	Units    int    `json:"units"    validate:"required,gt=0,lte=20"`
}

// NarrowListeningParams are the request-time parameters for
// narrow-listening pack generation.
type NarrowListeningParams struct {
	Language   string `json:"language" validate:"required"`
	Level      string `json:"level"    validate:"required"`
	Variations int    `json:"variations" validate:"required,gt=0,lte=10"`
}

// PISessionParams are the request-time parameters for processing-instruction
// session generation.
type PISessionParams struct {
	Language  string `json:"language" validate:"required"`
	Structure string `json:"structure" validate:"required"`
}

// Payload is the operation-specific job payload, modeled as a tagged union:
// exactly one variant matching Kind must be set. Payloads are validated at
// enqueue time so malformed requests are rejected at admission rather than
// discovered mid-retry by a worker.
type Payload struct {
	Kind            OperationKind          `json:"kind"`
	Dialogue        *DialogueParams        `json:"dialogue,omitempty"`
	Audio           *AudioParams           `json:"audio,omitempty"`
	AudioAllSpeeds  *AudioParams           `json:"audio_all_speeds,omitempty"`
	Images          *ImagesParams          `json:"images,omitempty"`
	Course          *CourseParams          `json:"course,omitempty"`
	NarrowListening *NarrowListeningParams `json:"narrow_listening,omitempty"`
	PISession       *PISessionParams       `json:"pi_session,omitempty"`
}

// Validate checks that the payload's kind is supported and that exactly the
// variant matching the kind is populated.
func (p Payload) Validate() error {
	if !IsValidOperationKind(p.Kind) {
		return fmt.Errorf("%w: %q", ErrInvalidOperationKind, p.Kind)
	}

	variants := map[OperationKind]bool{
		OperationDialogue:        p.Dialogue != nil,
		OperationAudio:           p.Audio != nil,
		OperationAudioAllSpeeds:  p.AudioAllSpeeds != nil,
		OperationImages:          p.Images != nil,
		OperationCourse:          p.Course != nil,
		OperationNarrowListening: p.NarrowListening != nil,
		OperationPISession:       p.PISession != nil,
	}

	for kind, set := range variants {
		if kind == p.Kind && !set {
			return fmt.Errorf("%w: missing %s parameters", ErrPayloadKindMismatch, p.Kind)
		}
		if kind != p.Kind && set {
			return fmt.Errorf("%w: unexpected %s parameters on %s payload",
				ErrPayloadKindMismatch, kind, p.Kind)
		}
	}

	return nil
}

// targetKeyEscaper escapes the key delimiters inside caller-supplied IDs so
// that, say, ["a,b"] and ["a", "b"] cannot collide on the same key.
var targetKeyEscaper = strings.NewReplacer(`\`, `\\`, ",", `\,`, "|", `\|`)

// TargetKey builds the canonical duplicate-detection key for an operation
// and its target content IDs. The IDs are normalized (trimmed, sorted,
// de-duplicated) so that two requests naming the same logical unit of work
// always produce the same key regardless of ordering.
func TargetKey(kind OperationKind, targetIDs []string) string {
	normalized := NormalizeTargetIDs(targetIDs)
	escaped := make([]string, len(normalized))
	for i, id := range normalized {
		escaped[i] = targetKeyEscaper.Replace(id)
	}
	return string(kind) + "|" + strings.Join(escaped, ",")
}

// NormalizeTargetIDs trims, de-duplicates and sorts target content IDs,
// dropping empty entries.
func NormalizeTargetIDs(targetIDs []string) []string {
	seen := make(map[string]bool, len(targetIDs))
	normalized := make([]string, 0, len(targetIDs))
	for _, id := range targetIDs {
		trimmed := strings.TrimSpace(id)
		if trimmed == "" || seen[trimmed] {
			continue
		}
		seen[trimmed] = true
		normalized = append(normalized, trimmed)
	}
	// Insertion sort keeps this allocation-free for the tiny slices seen here.
	for i := 1; i < len(normalized); i++ {
		for j := i; j > 0 && normalized[j] < normalized[j-1]; j-- {
			normalized[j], normalized[j-1] = normalized[j-1], normalized[j]
		}
	}
	return normalized
}
