package interview

import (
	"context"
	"time"
)

// Caption is one transcription fragment produced by a Transcriber.
type Caption struct {
	Partial bool
	Text    string
}

// Transcriber consumes raw PCM chunks and produces caption fragments.
// It is a black box: this subsystem never inspects audio bytes, it only
// relays the transcriber's output to the client.
type Transcriber interface {
	TranscribeChunk(ctx context.Context, sessionID, questionID string, pcm []byte) (Caption, error)
	FinalizeTranscript(ctx context.Context, sessionID, questionID string) (string, error)
}

// PromptAudio is synthesized speech for a question prompt, delivered either
// by URL or as inline stream chunks.
type PromptAudio struct {
	URL    string
	Chunks [][]byte
}

// SpeechSynth produces prompt audio for the candidate.
type SpeechSynth interface {
	PromptAudio(ctx context.Context, sessionID, text string) (PromptAudio, error)
}

// Scorer optionally scores a finalized transcript. Scores are bounded to
// [0, 100]; a nil pointer means "not scored".
type Scorer interface {
	Score(ctx context.Context, sessionID, questionID, transcript string) (*float64, error)
}

// Result is one finalized question outcome handed to the ResultStore.
type Result struct {
	SessionID   string
	QuestionID  string
	Transcript  string
	DurationSec int
	Score       *float64
	RecordedAt  time.Time
}

// ResultStore is the persistence collaborator. Calls are fire-and-confirm:
// the state machine waits for the ack before advancing past a terminal
// transition. Delivery is at-least-once; implementations must be idempotent
// per (session_id, question_id).
type ResultStore interface {
	PersistResult(ctx context.Context, in Result) error
	FinalizeSession(ctx context.Context, sessionID, status string, now time.Time) error
}

// ---- no-op defaults for dev wiring ----

// NoopTranscriber emits no captions and empty transcripts.
type NoopTranscriber struct{}

func (NoopTranscriber) TranscribeChunk(_ context.Context, _, _ string, _ []byte) (Caption, error) {
	return Caption{}, nil
}

func (NoopTranscriber) FinalizeTranscript(_ context.Context, _, _ string) (string, error) {
	return "", nil
}

// NoopSpeechSynth produces no prompt audio.
type NoopSpeechSynth struct{}

func (NoopSpeechSynth) PromptAudio(_ context.Context, _, _ string) (PromptAudio, error) {
	return PromptAudio{}, nil
}
