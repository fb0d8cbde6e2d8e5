package dubbing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	OpenAIProviderName = "openai"

	defaultOpenAISpeechURL   = "https://api.openai.com/v1/audio/speech"
	defaultOpenAIGrantsURL   = "https://api.openai.com/dashboard/billing/credit_grants"
	defaultOpenAISpeechModel = "gpt-4o-mini-tts"
	openAIResponseFormat     = "mp3"

	// DefaultMinimumCredit is the account balance under which OpenAI traffic stops.
	DefaultMinimumCredit = 1.0
	// DefaultBalanceTTL bounds how long a fetched account balance is trusted.
	DefaultBalanceTTL = 5 * time.Minute

	errorBodyLimit = 512
)

// OpenAIOption configures an OpenAIProvider.
type OpenAIOption func(*OpenAIProvider)

// WithOpenAIEndpoint overrides the speech endpoint.
func WithOpenAIEndpoint(endpoint string) OpenAIOption {
	return func(provider *OpenAIProvider) {
		provider.endpoint = endpoint
	}
}

// WithOpenAIHTTPClient overrides the HTTP client.
func WithOpenAIHTTPClient(client *http.Client) OpenAIOption {
	return func(provider *OpenAIProvider) {
		provider.client = client
	}
}

// WithBalanceMonitor gates the provider on the account balance.
func WithBalanceMonitor(monitor *BalanceMonitor) OpenAIOption {
	return func(provider *OpenAIProvider) {
		provider.monitor = monitor
	}
}

// OpenAIProvider calls the OpenAI text-to-speech endpoint.
type OpenAIProvider struct {
	apiKey   string
	endpoint string
	model    string
	client   *http.Client
	monitor  *BalanceMonitor
}

// NewOpenAIProvider builds a provider for the given API key.
func NewOpenAIProvider(apiKey string, options ...OpenAIOption) (*OpenAIProvider, error) {
	trimmed := strings.TrimSpace(apiKey)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: openai api key is empty", ErrInvalidConfig)
	}
	provider := &OpenAIProvider{
		apiKey:   trimmed,
		endpoint: defaultOpenAISpeechURL,
		model:    defaultOpenAISpeechModel,
		client:   http.DefaultClient,
	}
	for _, option := range options {
		if option != nil {
			option(provider)
		}
	}
	return provider, nil
}

func (provider *OpenAIProvider) Name() string {
	return OpenAIProviderName
}

// Available is false while the monitored account balance is below the minimum.
func (provider *OpenAIProvider) Available(ctx context.Context) bool {
	if provider.monitor == nil {
		return true
	}
	return !provider.monitor.Status(ctx).BelowMinimum
}

type openAISpeechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
}

func (provider *OpenAIProvider) Synthesize(ctx context.Context, request SynthesisRequest) ([]byte, error) {
	body, err := json.Marshal(openAISpeechRequest{
		Model:          provider.model,
		Input:          request.Text,
		Voice:          request.Voice,
		ResponseFormat: openAIResponseFormat,
	})
	if err != nil {
		return nil, fmt.Errorf("openai speech: encode request: %w", err)
	}
	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, provider.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai speech: build request: %w", err)
	}
	httpRequest.Header.Set("Authorization", "Bearer "+provider.apiKey)
	httpRequest.Header.Set("Content-Type", "application/json")
	return readAudio(provider.client, httpRequest, OpenAIProviderName)
}

func readAudio(client *http.Client, request *http.Request, providerName string) ([]byte, error) {
	response, err := client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("%s speech: %w", providerName, err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(response.Body, errorBodyLimit))
		return nil, fmt.Errorf("%s speech: status %d: %s", providerName, response.StatusCode, strings.TrimSpace(string(snippet)))
	}
	audio, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("%s speech: read body: %w", providerName, err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("%s speech: empty audio", providerName)
	}
	return audio, nil
}

// BalanceSource reports the remaining account credit in account currency.
type BalanceSource interface {
	CreditBalance(ctx context.Context) (float64, error)
}

// OpenAIBalanceSource reads the credit grants summary of an OpenAI account.
type OpenAIBalanceSource struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

// NewOpenAIBalanceSource builds a source; an empty endpoint selects the default.
func NewOpenAIBalanceSource(apiKey string, endpoint string, client *http.Client) *OpenAIBalanceSource {
	if strings.TrimSpace(endpoint) == "" {
		endpoint = defaultOpenAIGrantsURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &OpenAIBalanceSource{apiKey: strings.TrimSpace(apiKey), endpoint: endpoint, client: client}
}

type creditGrants struct {
	TotalGranted   float64  `json:"total_granted"`
	TotalUsed      float64  `json:"total_used"`
	TotalAvailable *float64 `json:"total_available"`
}

func (source *OpenAIBalanceSource) CreditBalance(ctx context.Context) (float64, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, source.endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("openai credit: build request: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+source.apiKey)
	response, err := source.client.Do(request)
	if err != nil {
		return 0, fmt.Errorf("openai credit: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("openai credit: status %d", response.StatusCode)
	}
	var grants creditGrants
	if err := json.NewDecoder(response.Body).Decode(&grants); err != nil {
		return 0, fmt.Errorf("openai credit: decode: %w", err)
	}
	if grants.TotalAvailable != nil {
		return *grants.TotalAvailable, nil
	}
	return grants.TotalGranted - grants.TotalUsed, nil
}

// CreditStatus is the last known provider account balance.
type CreditStatus struct {
	CreditRemaining float64   `json:"creditRemaining"`
	MinCredit       float64   `json:"minCredit"`
	BelowMinimum    bool      `json:"belowMinimum"`
	Known           bool      `json:"known"`
	LastCheck       time.Time `json:"lastCheck"`
}

// MonitorOption configures a BalanceMonitor.
type MonitorOption func(*BalanceMonitor)

// WithMinimumCredit sets the balance under which the provider is skipped.
func WithMinimumCredit(minimum float64) MonitorOption {
	return func(monitor *BalanceMonitor) {
		monitor.minimum = minimum
	}
}

// WithBalanceTTL sets how long a fetched balance is reused.
func WithBalanceTTL(ttl time.Duration) MonitorOption {
	return func(monitor *BalanceMonitor) {
		monitor.ttl = ttl
	}
}

// WithMonitorClock overrides the clock.
func WithMonitorClock(now func() time.Time) MonitorOption {
	return func(monitor *BalanceMonitor) {
		if now != nil {
			monitor.now = now
		}
	}
}

// WithMonitorLogger sets the logger used for low balance warnings.
func WithMonitorLogger(logger *zap.Logger) MonitorOption {
	return func(monitor *BalanceMonitor) {
		if logger != nil {
			monitor.logger = logger
		}
	}
}

// BalanceMonitor caches a provider account balance.
type BalanceMonitor struct {
	source  BalanceSource
	minimum float64
	ttl     time.Duration
	now     func() time.Time
	logger  *zap.Logger

	mutex   sync.Mutex
	status  CreditStatus
	checked bool
}

// NewBalanceMonitor builds a monitor over source.
func NewBalanceMonitor(source BalanceSource, options ...MonitorOption) (*BalanceMonitor, error) {
	if source == nil {
		return nil, fmt.Errorf("%w: balance source is nil", ErrInvalidConfig)
	}
	monitor := &BalanceMonitor{
		source:  source,
		minimum: DefaultMinimumCredit,
		ttl:     DefaultBalanceTTL,
		now:     time.Now,
		logger:  zap.NewNop(),
	}
	for _, option := range options {
		if option != nil {
			option(monitor)
		}
	}
	if monitor.ttl <= 0 {
		return nil, fmt.Errorf("%w: balance ttl must be positive", ErrInvalidConfig)
	}
	return monitor, nil
}

// Status returns the cached balance, refreshing it once the cache expires. A failed
// refresh keeps the previous reading; with no reading at all the provider stays usable.
func (monitor *BalanceMonitor) Status(ctx context.Context) CreditStatus {
	monitor.mutex.Lock()
	defer monitor.mutex.Unlock()

	now := monitor.now().UTC()
	if monitor.checked && now.Sub(monitor.status.LastCheck) < monitor.ttl {
		return monitor.status
	}
	monitor.checked = true
	monitor.status.MinCredit = monitor.minimum
	monitor.status.LastCheck = now

	remaining, err := monitor.source.CreditBalance(ctx)
	if err != nil {
		monitor.logger.Warn("provider credit check failed", zap.Error(err))
		return monitor.status
	}
	monitor.status.CreditRemaining = remaining
	monitor.status.Known = true
	monitor.status.BelowMinimum = remaining < monitor.minimum
	if monitor.status.BelowMinimum {
		monitor.logger.Warn("provider credit below minimum",
			zap.Float64("credit_remaining", remaining),
			zap.Float64("min_credit", monitor.minimum),
		)
	}
	return monitor.status
}
