package synth

import (
	"encoding/base64"
	"encoding/json"
	"strings"
)

// Wire format for the bidirectional synthesis protocol. One setup
// message per connection, then one client turn per text unit. The
// server answers with content envelopes whose parts may carry base64
// PCM, and signals turn completion either at the envelope top level or
// nested under the server content.

const pcmMimePrefix = "audio/pcm"

// literalInstruction constrains the remote model to speak the unit
// text verbatim, with no preamble or commentary.
const literalInstruction = "Repeat the following text exactly as written, " +
	"word for word, with no additions, no preamble, and no commentary: "

type setupMessage struct {
	Setup setupPayload `json:"setup"`
}

type setupPayload struct {
	Model            string           `json:"model"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type clientMessage struct {
	ClientContent clientContent `json:"clientContent"`
}

type clientContent struct {
	Turns        []contentTurn `json:"turns"`
	TurnComplete bool          `json:"turnComplete"`
}

type contentTurn struct {
	Role  string        `json:"role"`
	Parts []contentPart `json:"parts"`
}

type contentPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"` // base64
}

// serverEnvelope is the inbound content message. Unknown fields are
// ignored so protocol additions don't break parsing.
type serverEnvelope struct {
	SetupComplete *struct{}      `json:"setupComplete,omitempty"`
	TurnComplete  bool           `json:"turnComplete,omitempty"`
	ServerContent *serverContent `json:"serverContent,omitempty"`
}

type serverContent struct {
	TurnComplete bool         `json:"turnComplete,omitempty"`
	ModelTurn    *contentTurn `json:"modelTurn,omitempty"`
}

// encodeSetup builds the one-time configuration message: audio-only
// responses with a fixed voice.
func encodeSetup(model, voice string) ([]byte, error) {
	msg := setupMessage{
		Setup: setupPayload{
			Model: model,
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"AUDIO"},
			},
		},
	}
	if voice != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: voice},
			},
		}
	}
	return json.Marshal(msg)
}

// encodeTurn builds one complete client turn carrying the literal unit
// text.
func encodeTurn(text string) ([]byte, error) {
	msg := clientMessage{
		ClientContent: clientContent{
			Turns: []contentTurn{{
				Role:  "user",
				Parts: []contentPart{{Text: literalInstruction + text}},
			}},
			TurnComplete: true,
		},
	}
	return json.Marshal(msg)
}

// parseEnvelope decodes an inbound content frame.
func parseEnvelope(data []byte) (*serverEnvelope, error) {
	var env serverEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &ProtocolError{Reason: "malformed envelope", Err: err}
	}
	return &env, nil
}

// turnDone reports whether the envelope carries a completion signal,
// wherever the server chose to put it.
func (env *serverEnvelope) turnDone() bool {
	if env.TurnComplete {
		return true
	}
	return env.ServerContent != nil && env.ServerContent.TurnComplete
}

// setupDone reports whether the envelope acknowledges the setup
// message.
func (env *serverEnvelope) setupDone() bool {
	return env.SetupComplete != nil
}

// audioData extracts the decoded PCM payloads of every audio part in
// arrival order. Parts with other MIME types, or payloads that fail to
// decode, are skipped.
func (env *serverEnvelope) audioData() [][]byte {
	if env.ServerContent == nil || env.ServerContent.ModelTurn == nil {
		return nil
	}
	var out [][]byte
	for _, part := range env.ServerContent.ModelTurn.Parts {
		if part.InlineData == nil {
			continue
		}
		if !strings.HasPrefix(part.InlineData.MimeType, pcmMimePrefix) {
			continue
		}
		pcm, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
		if err != nil {
			continue
		}
		out = append(out, pcm)
	}
	return out
}
