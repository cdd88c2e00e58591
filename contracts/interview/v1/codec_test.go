package v1

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDecodeClient_Hello(t *testing.T) {
	frame := `{"v":"v1","type":"hello","payload":{"session_id":"s1","credential":"tok","client_version":"web-1.4"}}`

	env, msg, err := DecodeClient([]byte(frame))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Type != TypeHello {
		t.Fatalf("unexpected envelope type: %s", env.Type)
	}

	hello, ok := msg.(HelloPayload)
	if !ok {
		t.Fatalf("expected HelloPayload, got %T", msg)
	}
	if hello.SessionID != "s1" || hello.Credential != "tok" {
		t.Fatalf("unexpected hello: %+v", hello)
	}
}

func TestDecodeClient_HelloMissingCredential(t *testing.T) {
	frame := `{"v":"v1","type":"hello","payload":{"session_id":"s1"}}`

	_, _, err := DecodeClient([]byte(frame))
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
	if de.Param != "credential" {
		t.Fatalf("unexpected param: %q", de.Param)
	}
}

func TestDecodeClient_Audio(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	frame := `{"v":"v1","type":"audio","payload":{"chunk":"` + base64.StdEncoding.EncodeToString(pcm) + `"}}`

	_, msg, err := DecodeClient([]byte(frame))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	audio, ok := msg.(AudioPayload)
	if !ok {
		t.Fatalf("expected AudioPayload, got %T", msg)
	}
	if string(audio.Chunk) != string(pcm) {
		t.Fatalf("chunk mismatch: %v", audio.Chunk)
	}
}

func TestDecodeClient_AudioRejectsBadBase64(t *testing.T) {
	frame := `{"v":"v1","type":"audio","payload":{"chunk":"not-base64!!"}}`
	if _, _, err := DecodeClient([]byte(frame)); err == nil {
		t.Fatal("expected base64 rejection")
	}
}

func TestDecodeClient_AudioRejectsOversizedChunk(t *testing.T) {
	big := base64.StdEncoding.EncodeToString(make([]byte, MaxAudioChunkBytes+1))
	frame := `{"v":"v1","type":"audio","payload":{"chunk":"` + big + `"}}`
	if _, _, err := DecodeClient([]byte(frame)); err == nil {
		t.Fatal("expected size rejection")
	}
}

func TestDecodeClient_UnknownTypeIsHardError(t *testing.T) {
	frame := `{"v":"v1","type":"telemetry","payload":{}}`

	_, _, err := DecodeClient([]byte(frame))
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
	if de.Code != "unknown_type" {
		t.Fatalf("unexpected code: %q", de.Code)
	}
}

func TestDecodeClient_UnknownPayloadFieldIsHardError(t *testing.T) {
	frame := `{"v":"v1","type":"start","payload":{"sample_rate_hz":16000,"codec":"opus"}}`
	if _, _, err := DecodeClient([]byte(frame)); err == nil {
		t.Fatal("expected unknown field rejection")
	}
}

func TestDecodeClient_VersionMismatch(t *testing.T) {
	frame := `{"v":"v2","type":"ping","payload":{"t":1}}`
	if _, _, err := DecodeClient([]byte(frame)); err == nil {
		t.Fatal("expected version rejection")
	}
}

func TestDecodeClient_EmptyPayloadMessages(t *testing.T) {
	for _, typ := range []string{TypeEndQuestion, TypeSubmit} {
		for _, payload := range []string{"", `,"payload":null`, `,"payload":{}`} {
			frame := `{"v":"v1","type":"` + typ + `"` + payload + `}`
			if _, _, err := DecodeClient([]byte(frame)); err != nil {
				t.Fatalf("%s with payload %q: %v", typ, payload, err)
			}
		}

		frame := `{"v":"v1","type":"` + typ + `","payload":{"extra":1}}`
		if _, _, err := DecodeClient([]byte(frame)); err == nil {
			t.Fatalf("%s: expected rejection of extra payload fields", typ)
		}
	}
}

func TestEncodeServer_State(t *testing.T) {
	q := 1
	total := 2
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	b, err := EncodeServer(StatePayload{Status: StatusListening, QIndex: &q, QTotal: &total}, "ev1", ts)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.V != Version || env.Type != TypeState || env.ID != "ev1" {
		t.Fatalf("unexpected envelope: %+v", env)
	}

	var p StatePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.Status != StatusListening || p.QIndex == nil || *p.QIndex != 1 {
		t.Fatalf("unexpected state payload: %+v", p)
	}
}

func TestEncodeServer_TTSChunkIsBase64(t *testing.T) {
	b, err := EncodeServer(TTSPayload{StreamChunk: []byte{0xAA, 0xBB}}, "ev2", time.Now().UTC())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(string(b), base64.StdEncoding.EncodeToString([]byte{0xAA, 0xBB})) {
		t.Fatalf("expected base64 chunk in frame: %s", b)
	}
}

func TestEncodeServer_ResultOmitsNilScore(t *testing.T) {
	b, err := EncodeServer(ResultPayload{QuestionID: "q1", Transcript: "hi", DurationSec: 12}, "ev3", time.Now().UTC())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if strings.Contains(string(b), "score") {
		t.Fatalf("nil score must be omitted: %s", b)
	}
}
