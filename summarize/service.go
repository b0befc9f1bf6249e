// Package summarize turns transcripts into structured Markdown summaries via
// a chain of AI providers with credential-gated fallback.
package summarize

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"tubescribe/config"
)

const groqBaseURL = "https://api.groq.com/openai/v1"

// placeholderMarkers are substrings that identify template credentials left
// in a config file. A key containing one is treated the same as no key.
var placeholderMarkers = []string{"changeme", "your_", "placeholder", "xxx"}

// HeaderInfo is the provenance block prepended to every stored summary.
type HeaderInfo struct {
	Filename string
	Title    string
	Uploader string
	URL      string
	Duration time.Duration
}

type Service struct {
	primary     string
	order       []string
	maxAttempts int
	providers   map[string]config.Provider
	logger      *slog.Logger

	// now and generate are swappable for tests.
	now      func() time.Time
	generate func(ctx context.Context, name, prompt string) (string, error)
}

func NewService(cfg *config.Config, logger *slog.Logger) *Service {
	s := &Service{
		primary:     cfg.AIProvider,
		order:       cfg.AIFallbackOrder,
		maxAttempts: cfg.AIMaxAttempts,
		providers:   cfg.AIProviders,
		logger:      logger,
		now:         time.Now,
	}
	s.generate = s.callProvider
	return s
}

// Usable reports whether a provider has a real credential configured. Ollama
// runs locally and is gated on its server URL instead.
func (s *Service) Usable(name string) bool {
	p, ok := s.providers[name]
	if !ok {
		return false
	}
	if name == "ollama" {
		return p.BaseURL != ""
	}
	if p.APIKey == "" {
		return false
	}
	key := strings.ToLower(p.APIKey)
	for _, marker := range placeholderMarkers {
		if strings.Contains(key, marker) {
			return false
		}
	}
	return true
}

// candidates returns the providers to try, primary first, each at most once.
func (s *Service) candidates(override string) []string {
	primary := s.primary
	if override != "" {
		primary = override
	}

	seen := map[string]bool{}
	var out []string
	add := func(name string) {
		if name == "" || seen[name] || !s.Usable(name) {
			return
		}
		seen[name] = true
		out = append(out, name)
	}
	add(primary)
	for _, name := range s.order {
		add(name)
	}
	return out
}

// Summarize generates a Markdown summary of content. providerOverride, when
// non-empty, is tried before the configured chain. The total number of
// provider attempts is bounded no matter how long the chain is. It returns
// the summary with provenance header and the name of the provider that
// produced it.
func (s *Service) Summarize(ctx context.Context, content string, info HeaderInfo, providerOverride string) (string, string, error) {
	names := s.candidates(providerOverride)
	if len(names) == 0 {
		return "", "", fmt.Errorf("no AI provider has a usable credential")
	}

	var lastErr error
	attempts := 0
	for _, name := range names {
		if attempts >= s.maxAttempts {
			break
		}
		attempts++

		s.logger.Info("generating summary", "provider", name, "model", s.providers[name].Model)
		raw, err := s.generate(ctx, name, buildPrompt(content))
		if err != nil {
			s.logger.Warn("summary generation failed", "provider", name, "error", err)
			lastErr = err
			if ctx.Err() != nil {
				return "", "", ctx.Err()
			}
			continue
		}
		if strings.TrimSpace(raw) == "" {
			lastErr = fmt.Errorf("provider %s returned an empty summary", name)
			continue
		}

		return s.addHeader(raw, name, info), name, nil
	}
	return "", "", fmt.Errorf("summary failed after %d attempts: %w", attempts, lastErr)
}

// callProvider builds the named provider's client and runs one completion.
func (s *Service) callProvider(ctx context.Context, name, prompt string) (string, error) {
	model, err := s.buildModel(name)
	if err != nil {
		return "", err
	}
	return llms.GenerateFromSinglePrompt(ctx, model, prompt)
}

func (s *Service) buildModel(name string) (llms.Model, error) {
	p := s.providers[name]

	switch name {
	case "openai":
		opts := []openai.Option{openai.WithToken(p.APIKey), openai.WithModel(p.Model)}
		if p.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(p.BaseURL))
		}
		return openai.New(opts...)

	case "groq":
		base := p.BaseURL
		if base == "" {
			base = groqBaseURL
		}
		return openai.New(openai.WithToken(p.APIKey), openai.WithModel(p.Model), openai.WithBaseURL(base))

	case "anthropic":
		return anthropic.New(anthropic.WithToken(p.APIKey), anthropic.WithModel(p.Model))

	case "ollama":
		return ollama.New(ollama.WithModel(p.Model), ollama.WithServerURL(p.BaseURL))

	default:
		return nil, fmt.Errorf("unsupported AI provider: %s", name)
	}
}

func buildPrompt(content string) string {
	return fmt.Sprintf(`Summarize the following video transcript as structured Markdown.

# Video Summary

## Core Topics
- The main subjects discussed

## Key Points
1. **First point**
   - Supporting detail
2. **Second point**
   - Supporting detail

(adjust the number of points to the length of the content)

## Notable Quotes
> Quote important statements from the transcript

## Conclusion
A short wrap-up of the main takeaways

---

**Transcript:**
%s`, content)
}

var providerDisplay = map[string]string{
	"openai":    "OpenAI",
	"anthropic": "Anthropic Claude",
	"groq":      "Groq",
	"ollama":    "Ollama (local)",
}

func (s *Service) addHeader(summary, provider string, info HeaderInfo) string {
	display, ok := providerDisplay[provider]
	if !ok {
		display = strings.ToUpper(provider)
	}

	var lines []string
	lines = append(lines, fmt.Sprintf("AI Summary: %s (%s)", display, s.providers[provider].Model))
	if info.Filename != "" {
		lines = append(lines, "File: "+info.Filename)
	}
	if info.Title != "" {
		lines = append(lines, "Title: "+info.Title)
	}
	if info.Uploader != "" {
		lines = append(lines, "Channel: "+info.Uploader)
	}
	if info.Duration > 0 {
		lines = append(lines, "Duration: "+info.Duration.Round(time.Second).String())
	}
	if info.URL != "" {
		lines = append(lines, "URL: "+info.URL)
	}
	lines = append(lines, "Processed: "+s.now().Format("2006-01-02 15:04:05"))

	return strings.Join(lines, "\n") + "\n\n---\n\n" + strings.TrimSpace(summary) + "\n"
}
