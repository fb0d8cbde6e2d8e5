package dubbing

import (
	"context"
	"math"
)

const (
	// PlaceholderProviderName identifies jobs answered with canned audio.
	PlaceholderProviderName = "placeholder"

	bytesPerEstimatedSecond = 102400
	minimumEstimateSeconds  = 10
)

var placeholderAudio = map[string]string{
	"fr": "https://www.soundhelix.com/examples/mp3/SoundHelix-Song-1.mp3",
	"en": "https://www.soundhelix.com/examples/mp3/SoundHelix-Song-2.mp3",
	"es": "https://www.soundhelix.com/examples/mp3/SoundHelix-Song-3.mp3",
}

// SynthesisRequest carries what a provider needs to produce speech.
type SynthesisRequest struct {
	Text     string
	Language Language
	Voice    string
}

// Provider turns text into audio bytes.
type Provider interface {
	Name() string
	// Available reports whether the provider should receive traffic right now.
	Available(ctx context.Context) bool
	Synthesize(ctx context.Context, request SynthesisRequest) ([]byte, error)
}

// PlaceholderAudioURL returns the canned sample for a language.
func PlaceholderAudioURL(lang Language) string {
	if location, ok := placeholderAudio[lang.Short]; ok {
		return location
	}
	return placeholderAudio[defaultShortCode]
}

// EstimateDurationSeconds guesses media length from upload size, assuming roughly
// 100 KiB per second and never less than ten seconds.
func EstimateDurationSeconds(sizeBytes int64) float64 {
	if sizeBytes <= 0 {
		return minimumEstimateSeconds
	}
	estimate := math.Ceil(float64(sizeBytes) / bytesPerEstimatedSecond)
	return math.Max(minimumEstimateSeconds, estimate)
}

func selectProvider(ctx context.Context, providers []Provider) Provider {
	for _, provider := range providers {
		if provider != nil && provider.Available(ctx) {
			return provider
		}
	}
	return nil
}
