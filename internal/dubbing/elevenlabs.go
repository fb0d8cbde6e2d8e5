package dubbing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const (
	ElevenLabsProviderName = "elevenlabs"

	defaultElevenLabsBaseURL = "https://api.elevenlabs.io/v1/text-to-speech/"
	elevenLabsModel          = "eleven_multilingual_v2"
	elevenLabsStability      = 0.5
	elevenLabsSimilarity     = 0.75
)

var elevenLabsVoices = map[string]string{
	"en": "21m00Tcm4TlvDq8ikWAM",
	"fr": "ZQe5CZNOzWyzPSCn5a3c",
	"es": "yoZ06aMxZJJ28mfd3POQ",
	"de": "pNInz6obpgDQGcFmaJgB",
	"it": "EXAVITQu4vr4xnSDxMaL",
}

// ElevenLabsOption configures an ElevenLabsProvider.
type ElevenLabsOption func(*ElevenLabsProvider)

// WithElevenLabsBaseURL overrides the text-to-speech base URL; the voice id is appended.
func WithElevenLabsBaseURL(baseURL string) ElevenLabsOption {
	return func(provider *ElevenLabsProvider) {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		provider.baseURL = baseURL
	}
}

// WithElevenLabsHTTPClient overrides the HTTP client.
func WithElevenLabsHTTPClient(client *http.Client) ElevenLabsOption {
	return func(provider *ElevenLabsProvider) {
		provider.client = client
	}
}

// ElevenLabsProvider calls the ElevenLabs multilingual speech endpoint.
type ElevenLabsProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewElevenLabsProvider builds a provider for the given API key.
func NewElevenLabsProvider(apiKey string, options ...ElevenLabsOption) (*ElevenLabsProvider, error) {
	trimmed := strings.TrimSpace(apiKey)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: elevenlabs api key is empty", ErrInvalidConfig)
	}
	provider := &ElevenLabsProvider{apiKey: trimmed, baseURL: defaultElevenLabsBaseURL, client: http.DefaultClient}
	for _, option := range options {
		if option != nil {
			option(provider)
		}
	}
	return provider, nil
}

func (provider *ElevenLabsProvider) Name() string {
	return ElevenLabsProviderName
}

func (provider *ElevenLabsProvider) Available(context.Context) bool {
	return true
}

type elevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type elevenLabsRequest struct {
	Text          string                  `json:"text"`
	ModelID       string                  `json:"model_id"`
	VoiceSettings elevenLabsVoiceSettings `json:"voice_settings"`
}

// Synthesize picks the voice by language; the requested voice name is an OpenAI concept
// and is ignored here.
func (provider *ElevenLabsProvider) Synthesize(ctx context.Context, request SynthesisRequest) ([]byte, error) {
	body, err := json.Marshal(elevenLabsRequest{
		Text:    request.Text,
		ModelID: elevenLabsModel,
		VoiceSettings: elevenLabsVoiceSettings{
			Stability:       elevenLabsStability,
			SimilarityBoost: elevenLabsSimilarity,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs speech: encode request: %w", err)
	}
	endpoint := provider.baseURL + url.PathEscape(elevenLabsVoiceFor(request.Language))
	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs speech: build request: %w", err)
	}
	httpRequest.Header.Set("Accept", "audio/mpeg")
	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("xi-api-key", provider.apiKey)
	return readAudio(provider.client, httpRequest, ElevenLabsProviderName)
}

func elevenLabsVoiceFor(lang Language) string {
	if voiceID, ok := elevenLabsVoices[lang.Short]; ok {
		return voiceID
	}
	return elevenLabsVoices[defaultShortCode]
}
