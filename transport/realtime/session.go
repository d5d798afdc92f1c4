package realtime

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	oairealtime "github.com/openai/openai-go/v3/realtime"
	"golang.org/x/text/language"
)

const (
	// DefaultBaseURL is the OpenAI API root.
	DefaultBaseURL = "https://api.openai.com/v1/"

	// DefaultModel transcribes captions when SessionConfig.Model is empty.
	DefaultModel = string(oairealtime.AudioTranscriptionModelGPT4oTranscribe)

	callsPath = "realtime/calls"
)

// SessionConfig describes the transcription session opened for one caption
// stream.
type SessionConfig struct {
	Model string

	// SourceLanguage is the spoken language as a BCP 47 tag, as configured
	// for captions. Only its base language is sent; empty lets the service
	// detect the language.
	SourceLanguage string

	Prompt    string
	Eagerness VADEagerness // default high
}

// language reduces SourceLanguage to the ISO 639-1 code the service takes:
// "pt-BR" -> "pt".
func (s SessionConfig) language() string {
	if s.SourceLanguage == "" {
		return ""
	}
	tag, err := language.Parse(s.SourceLanguage)
	if err != nil {
		slog.Warn("ignoring source language", "tag", s.SourceLanguage, "error", err)
		return ""
	}
	base, _ := tag.Base()
	return base.String()
}

func (s SessionConfig) params() oairealtime.ClientSecretNewParams {
	model := s.Model
	if model == "" {
		model = DefaultModel
	}
	eagerness := s.Eagerness
	if eagerness == "" {
		eagerness = VADEagernessHigh
	}

	transcription := oairealtime.AudioTranscriptionParam{
		Model: oairealtime.AudioTranscriptionModel(model),
	}
	if lang := s.language(); lang != "" {
		transcription.Language = openai.String(lang)
	}
	if s.Prompt != "" {
		transcription.Prompt = openai.String(s.Prompt)
	}

	return oairealtime.ClientSecretNewParams{
		Session: oairealtime.ClientSecretNewParamsSessionUnion{
			OfTranscription: &oairealtime.RealtimeTranscriptionSessionCreateRequestParam{
				Audio: oairealtime.RealtimeTranscriptionSessionAudioParam{
					Input: oairealtime.RealtimeTranscriptionSessionAudioInputParam{
						TurnDetection: oairealtime.RealtimeTranscriptionSessionAudioInputTurnDetectionUnionParam{
							OfSemanticVad: &oairealtime.RealtimeTranscriptionSessionAudioInputTurnDetectionSemanticVadParam{
								Type:      "semantic_vad",
								Eagerness: string(eagerness),
							},
						},
						Transcription: transcription,
					},
				},
			},
		},
	}
}

// ephemeralKey authorizes one SDP exchange.
type ephemeralKey struct {
	value   string
	expires time.Time
}

// openSession requests an ephemeral key for a transcription session. The
// request is bounded by ctx only.
func openSession(ctx context.Context, apiKey, baseURL string, s SessionConfig) (ephemeralKey, error) {
	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(normalizeBase(baseURL)),
	)
	resp, err := client.Realtime.ClientSecrets.New(ctx, s.params())
	if err != nil {
		return ephemeralKey{}, fmt.Errorf("create client secret: %w", err)
	}
	return ephemeralKey{value: resp.Value, expires: time.Unix(resp.ExpiresAt, 0)}, nil
}

// exchangeSDP posts the local offer to the calls endpoint under baseURL and
// returns the answer.
func exchangeSDP(ctx context.Context, baseURL, offer string, key ephemeralKey) (string, error) {
	endpoint := normalizeBase(baseURL) + callsPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBufferString(offer))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+key.value)
	req.Header.Set("Content-Type", "application/sdp")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("post offer: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read answer: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		slog.Error("SDP exchange failed", "status", resp.StatusCode, "body", string(body))
		return "", fmt.Errorf("SDP exchange: status %d: %s", resp.StatusCode, body)
	}
	return string(body), nil
}

func normalizeBase(baseURL string) string {
	if baseURL == "" {
		return DefaultBaseURL
	}
	return strings.TrimSuffix(baseURL, "/") + "/"
}
