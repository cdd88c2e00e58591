package v1

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MaxAudioChunkBytes bounds a single decoded PCM chunk.
// Transports should additionally cap the whole frame (see gateway read limit).
const MaxAudioChunkBytes = 32 << 10 // 32 KiB

// DecodeError is a structured parse rejection.
// Unknown tags and schema mismatches are hard errors so protocol drift is
// detected instead of silently ignored.
type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badFrame(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_frame", Message: message, Param: param}
}

func unknownType(typ string) *DecodeError {
	return &DecodeError{Code: "unknown_type", Message: fmt.Sprintf("unknown type: %q", typ), Param: "type"}
}

// Validate performs strict structural validation for an inbound Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return badFrame("missing field: v", "v")
	}
	if e.V != Version {
		return badFrame(fmt.Sprintf("unsupported protocol version: %q", e.V), "v")
	}
	if strings.TrimSpace(e.Type) == "" {
		return badFrame("missing field: type", "type")
	}
	return nil
}

// audioWire is the wire form of an audio payload.
type audioWire struct {
	Chunk string `json:"chunk"`
}

// DecodeClient parses one raw frame into exactly one ClientMessage variant.
//
// The client set is closed: any tag outside it is a hard *DecodeError, and
// malformed or missing payload fields are rejected here so the state machine
// never sees a half-valid message. Unrecognized payload fields are rejected
// too; forward-compatible fields must be declared optional in this package.
func DecodeClient(data []byte) (Envelope, ClientMessage, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, nil, badFrame("invalid JSON frame", "")
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, nil, err
	}

	switch env.Type {
	case TypeHello:
		var p HelloPayload
		if err := unmarshalStrict(env.Payload, &p); err != nil {
			return Envelope{}, nil, badFrame("invalid hello payload", "payload")
		}
		if strings.TrimSpace(p.SessionID) == "" {
			return Envelope{}, nil, badFrame("hello.session_id is required", "session_id")
		}
		if strings.TrimSpace(p.Credential) == "" {
			return Envelope{}, nil, badFrame("hello.credential is required", "credential")
		}
		return env, p, nil

	case TypeStart:
		var p StartPayload
		if err := unmarshalStrict(env.Payload, &p); err != nil {
			return Envelope{}, nil, badFrame("invalid start payload", "payload")
		}
		if p.SampleRateHz <= 0 {
			return Envelope{}, nil, badFrame("start.sample_rate_hz must be > 0", "sample_rate_hz")
		}
		return env, p, nil

	case TypeAudio:
		var w audioWire
		if err := unmarshalStrict(env.Payload, &w); err != nil {
			return Envelope{}, nil, badFrame("invalid audio payload", "payload")
		}
		if w.Chunk == "" {
			return Envelope{}, nil, badFrame("audio.chunk is required", "chunk")
		}
		raw, err := base64.StdEncoding.DecodeString(w.Chunk)
		if err != nil {
			return Envelope{}, nil, badFrame("audio.chunk is not valid base64", "chunk")
		}
		if len(raw) == 0 {
			return Envelope{}, nil, badFrame("audio.chunk is empty", "chunk")
		}
		if len(raw) > MaxAudioChunkBytes {
			return Envelope{}, nil, badFrame(fmt.Sprintf("audio.chunk exceeds %d bytes", MaxAudioChunkBytes), "chunk")
		}
		return env, AudioPayload{Chunk: raw}, nil

	case TypeEndQuestion:
		if err := requireEmptyPayload(env.Payload); err != nil {
			return Envelope{}, nil, badFrame("end_question takes no payload fields", "payload")
		}
		return env, EndQuestionPayload{}, nil

	case TypeSubmit:
		if err := requireEmptyPayload(env.Payload); err != nil {
			return Envelope{}, nil, badFrame("submit takes no payload fields", "payload")
		}
		return env, SubmitPayload{}, nil

	case TypePing:
		var p PingPayload
		if err := unmarshalStrict(env.Payload, &p); err != nil {
			return Envelope{}, nil, badFrame("invalid ping payload", "payload")
		}
		return env, p, nil

	default:
		return Envelope{}, nil, unknownType(env.Type)
	}
}

// EncodeServer wraps a ServerEvent into an envelope and marshals it.
// Field order is not guaranteed; types are strict (no coercion happens here
// because payloads are typed structs, never maps).
func EncodeServer(ev ServerEvent, id string, ts time.Time) ([]byte, error) {
	if ev == nil {
		return nil, errors.New("nil server event")
	}

	var payload json.RawMessage
	switch p := ev.(type) {
	case TTSPayload:
		// Inline chunks travel base64 like client audio.
		b, err := json.Marshal(struct {
			URL         string `json:"url,omitempty"`
			StreamChunk string `json:"stream_chunk,omitempty"`
		}{
			URL:         p.URL,
			StreamChunk: base64.StdEncoding.EncodeToString(p.StreamChunk),
		})
		if err != nil {
			return nil, err
		}
		payload = b
	default:
		b, err := json.Marshal(ev)
		if err != nil {
			return nil, err
		}
		payload = b
	}

	return json.Marshal(Envelope{
		V:       Version,
		Type:    ev.WireType(),
		ID:      id,
		TS:      ts,
		Payload: payload,
	})
}

func unmarshalStrict(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return errors.New("missing payload")
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	return nil
}

// requireEmptyPayload accepts an absent payload, null, or {} only.
func requireEmptyPayload(raw json.RawMessage) error {
	s := strings.TrimSpace(string(raw))
	switch s {
	case "", "null", "{}":
		return nil
	default:
		return errors.New("unexpected payload")
	}
}
