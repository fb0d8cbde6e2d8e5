package dubbing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

const (
	testAPIKey = "sk-test"
	testAudio  = "ID3-audio"
)

func TestOpenAIProviderSynthesize(test *testing.T) {
	test.Parallel()
	var received openAISpeechRequest
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.Header.Get("Authorization") != "Bearer "+testAPIKey {
			writer.WriteHeader(http.StatusUnauthorized)
			return
		}
		if err := json.NewDecoder(request.Body).Decode(&received); err != nil {
			writer.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = writer.Write([]byte(testAudio))
	}))
	defer server.Close()

	provider, err := NewOpenAIProvider(testAPIKey, WithOpenAIEndpoint(server.URL), WithOpenAIHTTPClient(server.Client()))
	if err != nil {
		test.Fatalf("provider: %v", err)
	}
	audio, err := provider.Synthesize(context.Background(), SynthesisRequest{Text: "hello", Voice: "nova", Language: NormalizeLanguage("en")})
	if err != nil {
		test.Fatalf("synthesize: %v", err)
	}
	if string(audio) != testAudio {
		test.Fatalf(errorMismatchMessage, testAudio, string(audio))
	}
	if received.Model != defaultOpenAISpeechModel || received.Voice != "nova" || received.ResponseFormat != "mp3" || received.Input != "hello" {
		test.Fatalf("unexpected request: %+v", received)
	}
}

func TestProviderErrorsCarryStatus(test *testing.T) {
	test.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		http.Error(writer, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer server.Close()

	openAI, err := NewOpenAIProvider(testAPIKey, WithOpenAIEndpoint(server.URL))
	if err != nil {
		test.Fatalf("openai: %v", err)
	}
	elevenLabs, err := NewElevenLabsProvider(testAPIKey, WithElevenLabsBaseURL(server.URL))
	if err != nil {
		test.Fatalf("elevenlabs: %v", err)
	}
	for _, provider := range []Provider{openAI, elevenLabs} {
		if _, err := provider.Synthesize(context.Background(), SynthesisRequest{Text: "x", Language: NormalizeLanguage("en")}); err == nil {
			test.Fatalf("%s: expected error", provider.Name())
		}
	}
}

func TestNewProvidersRejectEmptyKey(test *testing.T) {
	test.Parallel()
	if _, err := NewOpenAIProvider(" "); !errors.Is(err, ErrInvalidConfig) {
		test.Fatalf(errorMismatchMessage, ErrInvalidConfig, err)
	}
	if _, err := NewElevenLabsProvider(""); !errors.Is(err, ErrInvalidConfig) {
		test.Fatalf(errorMismatchMessage, ErrInvalidConfig, err)
	}
}

func TestElevenLabsProviderUsesLanguageVoice(test *testing.T) {
	test.Parallel()
	var (
		mutex    sync.Mutex
		paths    []string
		received elevenLabsRequest
	)
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.Header.Get("xi-api-key") != testAPIKey || request.Header.Get("Accept") != "audio/mpeg" {
			writer.WriteHeader(http.StatusUnauthorized)
			return
		}
		mutex.Lock()
		paths = append(paths, request.URL.Path)
		_ = json.NewDecoder(request.Body).Decode(&received)
		mutex.Unlock()
		_, _ = writer.Write([]byte(testAudio))
	}))
	defer server.Close()

	provider, err := NewElevenLabsProvider(testAPIKey, WithElevenLabsBaseURL(server.URL+"/v1/text-to-speech"))
	if err != nil {
		test.Fatalf("provider: %v", err)
	}
	for _, tag := range []string{"fr-CA", "ja"} {
		if _, err := provider.Synthesize(context.Background(), SynthesisRequest{Text: "x", Language: NormalizeLanguage(tag)}); err != nil {
			test.Fatalf("%s: %v", tag, err)
		}
	}
	expected := []string{"/v1/text-to-speech/" + elevenLabsVoices["fr"], "/v1/text-to-speech/" + elevenLabsVoices["en"]}
	if len(paths) != 2 || paths[0] != expected[0] || paths[1] != expected[1] {
		test.Fatalf(errorMismatchMessage, expected, paths)
	}
	if received.ModelID != elevenLabsModel || received.VoiceSettings.SimilarityBoost != elevenLabsSimilarity {
		test.Fatalf("unexpected request: %+v", received)
	}
}

type countingBalance struct {
	mutex   sync.Mutex
	calls   int
	balance float64
	err     error
}

func (source *countingBalance) CreditBalance(context.Context) (float64, error) {
	source.mutex.Lock()
	defer source.mutex.Unlock()
	source.calls++
	return source.balance, source.err
}

func TestBalanceMonitorCachesAndGates(test *testing.T) {
	test.Parallel()
	current := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	clock := func() time.Time { return current }
	source := &countingBalance{balance: 0.5}
	monitor, err := NewBalanceMonitor(source, WithMinimumCredit(1), WithMonitorClock(clock))
	if err != nil {
		test.Fatalf("monitor: %v", err)
	}
	provider, err := NewOpenAIProvider(testAPIKey, WithBalanceMonitor(monitor))
	if err != nil {
		test.Fatalf("provider: %v", err)
	}

	if provider.Available(context.Background()) {
		test.Fatalf("expected provider to be gated below minimum")
	}
	source.balance = 10
	if provider.Available(context.Background()) {
		test.Fatalf("expected cached low balance within ttl")
	}
	if source.calls != 1 {
		test.Fatalf(errorMismatchMessage, 1, source.calls)
	}

	current = current.Add(DefaultBalanceTTL)
	status := monitor.Status(context.Background())
	if status.BelowMinimum || status.CreditRemaining != 10 || !status.Known || source.calls != 2 {
		test.Fatalf("unexpected refreshed status: %+v (calls %d)", status, source.calls)
	}
}

func TestBalanceMonitorUnknownBalanceKeepsProvider(test *testing.T) {
	test.Parallel()
	monitor, err := NewBalanceMonitor(&countingBalance{err: errors.New("offline")})
	if err != nil {
		test.Fatalf("monitor: %v", err)
	}
	status := monitor.Status(context.Background())
	if status.Known || status.BelowMinimum {
		test.Fatalf("unexpected status: %+v", status)
	}
	if _, err := NewBalanceMonitor(nil); !errors.Is(err, ErrInvalidConfig) {
		test.Fatalf(errorMismatchMessage, ErrInvalidConfig, err)
	}
}

func TestOpenAIBalanceSource(test *testing.T) {
	test.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		_, _ = writer.Write([]byte(`{"total_granted":18.0,"total_used":12.08}`))
	}))
	defer server.Close()

	balance, err := NewOpenAIBalanceSource(testAPIKey, server.URL, server.Client()).CreditBalance(context.Background())
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	if balance < 5.91 || balance > 5.93 {
		test.Fatalf("unexpected balance %v", balance)
	}
}

func TestDirectoryOutputSave(test *testing.T) {
	test.Parallel()
	directory := filepath.Join(test.TempDir(), "output")
	output, err := NewDirectoryOutput(directory, "")
	if err != nil {
		test.Fatalf("output: %v", err)
	}
	location, err := output.Save(context.Background(), outputFileName("abc"), []byte(testAudio))
	if err != nil {
		test.Fatalf("save: %v", err)
	}
	if location != "/output/dub-abc.mp3" {
		test.Fatalf(errorMismatchMessage, "/output/dub-abc.mp3", location)
	}
	contents, err := os.ReadFile(filepath.Join(directory, "dub-abc.mp3"))
	if err != nil || string(contents) != testAudio {
		test.Fatalf("unexpected file contents %q (%v)", contents, err)
	}
	if _, err := output.Save(context.Background(), "../escape.mp3", nil); !errors.Is(err, ErrInvalidRequest) {
		test.Fatalf(errorMismatchMessage, ErrInvalidRequest, err)
	}
}

func TestMemoryHistoryNewestFirst(test *testing.T) {
	test.Parallel()
	history := NewMemoryHistory(2)
	identity := mustIdentity(test, testIdentity)
	for _, jobID := range []string{"a", "b", "c"} {
		if err := history.Record(context.Background(), HistoryItem{JobID: jobID, Identity: identity}); err != nil {
			test.Fatalf("record: %v", err)
		}
	}
	items, err := history.List(context.Background(), identity, 0)
	if err != nil {
		test.Fatalf("list: %v", err)
	}
	if len(items) != 2 || items[0].JobID != "c" || items[1].JobID != "b" {
		test.Fatalf("unexpected history: %+v", items)
	}
}

func TestMemoryHistoryFindScopesToIdentity(test *testing.T) {
	test.Parallel()
	history := NewMemoryHistory(0)
	owner := mustIdentity(test, testIdentity)
	stranger := mustIdentity(test, "dubber-2")
	if err := history.Record(context.Background(), HistoryItem{JobID: testJobID, Identity: owner, Provider: "openai"}); err != nil {
		test.Fatalf("record: %v", err)
	}
	item, err := history.Find(context.Background(), owner, testJobID)
	if err != nil || item.Provider != "openai" {
		test.Fatalf("unexpected lookup %+v (%v)", item, err)
	}
	if _, err := history.Find(context.Background(), stranger, testJobID); !errors.Is(err, ErrJobNotFound) {
		test.Fatalf(errorMismatchMessage, ErrJobNotFound, err)
	}
	if _, err := history.Find(context.Background(), owner, "missing"); !errors.Is(err, ErrJobNotFound) {
		test.Fatalf(errorMismatchMessage, ErrJobNotFound, err)
	}
}
