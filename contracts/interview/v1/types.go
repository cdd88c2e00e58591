// Package v1 defines the Parley Interview Protocol v1 contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between server and clients to keep the wire protocol
// authoritative, and it is transport-agnostic: a frame is a plain JSON
// envelope regardless of whether WebSocket, SSE, or raw TCP carries it.
package v1

import (
	"encoding/json"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Client -> server type tags (wire-stable).
const (
	// TypeHello presents a session credential and starts (or resumes) a session.
	TypeHello = "hello"
	// TypeStart begins the interview at question 0.
	TypeStart = "start"
	// TypeAudio carries one base64 PCM chunk for the live question.
	TypeAudio = "audio"
	// TypeEndQuestion finishes the live question early.
	TypeEndQuestion = "end_question"
	// TypeSubmit finalizes the interview after the last question's result.
	TypeSubmit = "submit"
	// TypePing is an application-level liveness probe, answered with pong.
	TypePing = "ping"
)

// Server -> client type tags (wire-stable).
const (
	// TypeState announces the session lifecycle status.
	TypeState = "state"
	// TypeCaption relays a (possibly partial) transcription fragment.
	TypeCaption = "caption"
	// TypePrompt delivers the current question text.
	TypePrompt = "prompt"
	// TypeTTS delivers synthesized prompt audio by URL or inline chunk.
	TypeTTS = "tts"
	// TypeTimer pushes the server-authoritative remaining seconds.
	TypeTimer = "timer"
	// TypeResult reports one finalized question result.
	TypeResult = "result"
	// TypeError is the generic error envelope.
	TypeError = "error"
	// TypePong answers a ping.
	TypePong = "pong"
)

// Session status values carried by state payloads.
const (
	StatusConnected = "connected"
	StatusListening = "listening"
	StatusSpeaking  = "speaking"
	StatusSubmitted = "submitted"
)

// Stable error codes (wire-visible, see also the exchange endpoint).
const (
	CodeCredentialNotFound = "credential_not_found"
	CodeCredentialUsed     = "credential_used"
	CodeCredentialExpired  = "credential_expired"
	CodeRateLimited        = "rate_limited"
	CodeProtocolViolation  = "protocol_violation"
	CodeSessionNotFound    = "session_not_found"
	CodeSessionTerminal    = "session_terminal"
	CodeInternal           = "internal"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ---- client payloads ----

// ClientMessage is the closed set of decoded client->server variants.
// The marker method seals the set: DecodeClient is the only producer.
type ClientMessage interface {
	clientMessage()
}

// HelloPayload presents a short-lived session credential.
// SessionID must match the credential's session claim.
type HelloPayload struct {
	SessionID     string `json:"session_id"`
	Credential    string `json:"credential"`
	ClientVersion string `json:"client_version,omitempty"`
}

// StartPayload begins the interview and declares the client capture rate.
type StartPayload struct {
	SampleRateHz int `json:"sample_rate_hz"`
}

// AudioPayload carries one decoded PCM chunk.
// The wire form is base64; DecodeClient validates and decodes it so the
// state machine only ever sees raw bytes.
type AudioPayload struct {
	Chunk []byte `json:"-"`
}

// EndQuestionPayload finishes the live question before its timer expires.
type EndQuestionPayload struct{}

// SubmitPayload finalizes the interview.
type SubmitPayload struct{}

// PingPayload is echoed back in a pong.
type PingPayload struct {
	T int64 `json:"t"`
}

func (HelloPayload) clientMessage()       {}
func (StartPayload) clientMessage()       {}
func (AudioPayload) clientMessage()       {}
func (EndQuestionPayload) clientMessage() {}
func (SubmitPayload) clientMessage()      {}
func (PingPayload) clientMessage()        {}

// ---- server payloads ----

// ServerEvent is the closed set of server->client variants.
type ServerEvent interface {
	serverEvent()
	// WireType returns the envelope type tag for the variant.
	WireType() string
}

// StatePayload announces the session lifecycle status.
// QIndex/QTotal are present once the interview has started.
type StatePayload struct {
	Status string `json:"status"`
	QIndex *int   `json:"q_index,omitempty"`
	QTotal *int   `json:"q_total,omitempty"`
}

// CaptionPayload relays a transcription fragment.
type CaptionPayload struct {
	Partial bool   `json:"partial"`
	Text    string `json:"text"`
}

// PromptPayload delivers the current question text.
type PromptPayload struct {
	Text string `json:"text"`
}

// TTSPayload delivers synthesized prompt audio.
// Exactly one of URL or StreamChunk is set.
type TTSPayload struct {
	URL         string `json:"url,omitempty"`
	StreamChunk []byte `json:"stream_chunk,omitempty"`
}

// TimerPayload pushes the remaining seconds for the live question.
type TimerPayload struct {
	RemainingSec int `json:"remaining_sec"`
}

// ResultPayload reports one finalized question result.
// Score is optional until an external scorer supplies it.
type ResultPayload struct {
	QuestionID  string   `json:"question_id"`
	Transcript  string   `json:"transcript"`
	DurationSec int      `json:"duration_sec"`
	Score       *float64 `json:"score,omitempty"`
}

// ErrorPayload is the generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongPayload answers a ping with the client's timestamp.
type PongPayload struct {
	T int64 `json:"t"`
}

func (StatePayload) serverEvent()   {}
func (CaptionPayload) serverEvent() {}
func (PromptPayload) serverEvent()  {}
func (TTSPayload) serverEvent()     {}
func (TimerPayload) serverEvent()   {}
func (ResultPayload) serverEvent()  {}
func (ErrorPayload) serverEvent()   {}
func (PongPayload) serverEvent()    {}

func (StatePayload) WireType() string   { return TypeState }
func (CaptionPayload) WireType() string { return TypeCaption }
func (PromptPayload) WireType() string  { return TypePrompt }
func (TTSPayload) WireType() string     { return TypeTTS }
func (TimerPayload) WireType() string   { return TypeTimer }
func (ResultPayload) WireType() string  { return TypeResult }
func (ErrorPayload) WireType() string   { return TypeError }
func (PongPayload) WireType() string    { return TypePong }
