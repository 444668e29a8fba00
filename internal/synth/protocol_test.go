package synth

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

func audioEnvelope(pcm []byte) []byte {
	data := base64.StdEncoding.EncodeToString(pcm)
	return []byte(fmt.Sprintf(
		`{"serverContent":{"modelTurn":{"parts":[{"inlineData":{"mimeType":"audio/pcm;rate=24000","data":"%s"}}]}}}`,
		data))
}

func TestEncodeSetup(t *testing.T) {
	raw, err := encodeSetup("models/test-model", "TestVoice")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var msg map[string]any
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("setup is not valid JSON: %v", err)
	}
	if !strings.Contains(string(raw), `"responseModalities":["AUDIO"]`) {
		t.Fatalf("setup does not declare audio-only responses: %s", raw)
	}
	if !strings.Contains(string(raw), `"voiceName":"TestVoice"`) {
		t.Fatalf("setup does not carry the voice identity: %s", raw)
	}
}

func TestEncodeTurn(t *testing.T) {
	raw, err := encodeTurn("The quick brown fox.")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var msg clientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("turn is not valid JSON: %v", err)
	}
	if !msg.ClientContent.TurnComplete {
		t.Fatal("turn not marked complete")
	}
	if len(msg.ClientContent.Turns) != 1 || len(msg.ClientContent.Turns[0].Parts) != 1 {
		t.Fatalf("expected exactly one turn with one part: %+v", msg)
	}
	text := msg.ClientContent.Turns[0].Parts[0].Text
	if !strings.HasSuffix(text, "The quick brown fox.") {
		t.Fatalf("unit text missing from turn: %q", text)
	}
	if !strings.Contains(text, "word for word") {
		t.Fatalf("literal-speech instruction missing: %q", text)
	}
}

func TestParseAudioEnvelope(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	env, err := parseEnvelope(audioEnvelope(pcm))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	chunks := env.audioData()
	if len(chunks) != 1 {
		t.Fatalf("expected 1 audio part, got %d", len(chunks))
	}
	if !bytes.Equal(chunks[0], pcm) {
		t.Fatalf("decoded PCM mismatch: %v", chunks[0])
	}
	if env.turnDone() {
		t.Fatal("plain audio envelope should not be a completion signal")
	}
}

func TestCompletionTopLevel(t *testing.T) {
	env, err := parseEnvelope([]byte(`{"turnComplete":true}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !env.turnDone() {
		t.Fatal("top-level completion flag not detected")
	}
}

func TestCompletionNested(t *testing.T) {
	env, err := parseEnvelope([]byte(`{"serverContent":{"turnComplete":true}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !env.turnDone() {
		t.Fatal("nested completion flag not detected")
	}
}

func TestSetupAck(t *testing.T) {
	env, err := parseEnvelope([]byte(`{"setupComplete":{}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !env.setupDone() {
		t.Fatal("setup acknowledgement not detected")
	}
	if env.turnDone() {
		t.Fatal("setup ack mistaken for turn completion")
	}
}

func TestMalformedEnvelope(t *testing.T) {
	if _, err := parseEnvelope([]byte(`{not json`)); err == nil {
		t.Fatal("expected an error for malformed JSON")
	}
}

func TestNonAudioPartsIgnored(t *testing.T) {
	raw := []byte(`{"serverContent":{"modelTurn":{"parts":[
		{"text":"thinking..."},
		{"inlineData":{"mimeType":"image/png","data":"aGk="}},
		{"inlineData":{"mimeType":"audio/pcm","data":"!!!not-base64!!!"}}
	]}}}`)
	env, err := parseEnvelope(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := env.audioData(); len(got) != 0 {
		t.Fatalf("expected no audio parts, got %d", len(got))
	}
}
