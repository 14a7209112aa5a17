package summarizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/time/rate"

	"github.com/MikeSquared-Agency/scribe/internal/anthropic"
	"github.com/MikeSquared-Agency/scribe/internal/gemini"
	"github.com/MikeSquared-Agency/scribe/internal/openai"
)

// ErrUnknownProvider is returned for a provider name outside the supported set.
var ErrUnknownProvider = errors.New("unknown summarizer provider")

// Provider selects the LLM vendor used for rolling-summary compression.
type Provider int

const (
	ProviderAnthropic Provider = iota + 1
	ProviderOpenAI
	ProviderGemini
)

func (p Provider) String() string {
	switch p {
	case ProviderAnthropic:
		return "anthropic"
	case ProviderOpenAI:
		return "openai"
	case ProviderGemini:
		return "gemini"
	}
	return fmt.Sprintf("provider(%d)", int(p))
}

func ParseProvider(name string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "anthropic", "claude":
		return ProviderAnthropic, nil
	case "openai":
		return ProviderOpenAI, nil
	case "gemini", "google":
		return ProviderGemini, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
}

// Summary is one compression result with the tokens the call was billed for.
type Summary struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

// completeFunc performs one provider call with an optional per-call API key.
type completeFunc func(ctx context.Context, apiKey, system, prompt string) (Summary, error)

// Summarizer compresses conversation memory into a rolling summary. Calls are
// throttled so a burst of imports cannot exhaust the provider quota.
type Summarizer struct {
	provider Provider
	model    string
	complete completeFunc
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// Config selects and authenticates the summarizer backend.
type Config struct {
	Provider     Provider
	Model        string
	AnthropicKey string
	OpenAIKey    string
	GeminiKey    string
	RPS          float64
}

// New builds a Summarizer for the configured provider.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Summarizer, error) {
	switch cfg.Provider {
	case ProviderAnthropic:
		return FromAnthropic(anthropic.NewClient(cfg.AnthropicKey, cfg.Model), cfg.RPS, logger), nil
	case ProviderOpenAI:
		return FromOpenAI(openai.NewClient(cfg.OpenAIKey, cfg.Model), cfg.RPS, logger), nil
	case ProviderGemini:
		client, err := gemini.NewClient(ctx, cfg.GeminiKey, cfg.Model)
		if err != nil {
			return nil, fmt.Errorf("gemini summarizer: %w", err)
		}
		return FromGemini(client, cfg.RPS, logger), nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownProvider, int(cfg.Provider))
}

func FromAnthropic(client *anthropic.Client, rps float64, logger *slog.Logger) *Summarizer {
	complete := func(ctx context.Context, apiKey, system, prompt string) (Summary, error) {
		resp, err := client.WithAPIKey(apiKey).Complete(ctx, system,
			[]anthropic.Message{{Role: "user", Content: prompt}}, maxSummaryTokens)
		if err != nil {
			return Summary{}, err
		}
		return Summary{Text: resp.Text, PromptTokens: resp.InputTokens, CompletionTokens: resp.OutputTokens}, nil
	}
	return newSummarizer(ProviderAnthropic, client.Model(), complete, rps, logger)
}

func FromOpenAI(client *openai.Client, rps float64, logger *slog.Logger) *Summarizer {
	complete := func(ctx context.Context, apiKey, system, prompt string) (Summary, error) {
		resp, err := client.WithAPIKey(apiKey).Complete(ctx, system,
			[]openai.Message{{Role: "user", Content: prompt}}, maxSummaryTokens)
		if err != nil {
			return Summary{}, err
		}
		return Summary{Text: resp.Text, PromptTokens: resp.PromptTokens, CompletionTokens: resp.CompletionTokens}, nil
	}
	return newSummarizer(ProviderOpenAI, client.Model(), complete, rps, logger)
}

func FromGemini(client *gemini.Client, rps float64, logger *slog.Logger) *Summarizer {
	complete := func(ctx context.Context, apiKey, system, prompt string) (Summary, error) {
		c, err := client.WithAPIKey(ctx, apiKey)
		if err != nil {
			return Summary{}, err
		}
		resp, err := c.Complete(ctx, system, prompt, maxSummaryTokens)
		if err != nil {
			return Summary{}, err
		}
		return Summary{Text: resp.Text, PromptTokens: resp.PromptTokens, CompletionTokens: resp.CompletionTokens}, nil
	}
	return newSummarizer(ProviderGemini, client.Model(), complete, rps, logger)
}

func newSummarizer(p Provider, model string, complete completeFunc, rps float64, logger *slog.Logger) *Summarizer {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &Summarizer{
		provider: p,
		model:    model,
		complete: complete,
		limiter:  rate.NewLimiter(limit, 1),
		logger:   logger,
	}
}

// Model is the model whose rate prices summary tokens.
func (s *Summarizer) Model() string {
	return s.model
}

func (s *Summarizer) Provider() Provider {
	return s.provider
}

// Summarize compresses memory into a single summary. apiKey overrides the
// service key for this call when non-empty.
func (s *Summarizer) Summarize(ctx context.Context, apiKey, memory string) (Summary, error) {
	if strings.TrimSpace(memory) == "" {
		return Summary{}, fmt.Errorf("summarize: empty memory")
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return Summary{}, fmt.Errorf("summarize: rate limit: %w", err)
	}

	out, err := s.complete(ctx, apiKey, systemPrompt, fmt.Sprintf(summaryUserPrompt, memory))
	if err != nil {
		return Summary{}, fmt.Errorf("summarize via %s: %w", s.provider, err)
	}
	out.Text = strings.TrimSpace(out.Text)
	if out.Text == "" {
		return Summary{}, fmt.Errorf("summarize via %s: empty summary", s.provider)
	}

	s.logger.Debug("memory compressed",
		"provider", s.provider.String(),
		"memory_len", len(memory),
		"summary_len", len(out.Text),
		"prompt_tokens", out.PromptTokens,
		"completion_tokens", out.CompletionTokens,
	)
	return out, nil
}
