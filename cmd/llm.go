package cmd

import (
	"os"

	"github.com/joescharf/courseforge/internal/config"
	"github.com/joescharf/courseforge/internal/course"
	"github.com/joescharf/courseforge/internal/llm"
	"github.com/joescharf/courseforge/internal/retry"
)

// providerKeyEnv is the provider's conventional API key variable, used when llm.api_key is unset.
var providerKeyEnv = map[string]string{
	string(llm.ProviderAnthropic): "ANTHROPIC_API_KEY",
	string(llm.ProviderOpenAI):    "ZHIPU_API_KEY",
}

// newCompleter creates the chat completer from config. Without an API key the
// completer is still returned but every call fails with llm.ErrNoClient.
func newCompleter(c *config.Config, logf func(format string, a ...any)) (*llm.Completer, error) {
	apiKey := c.LLM.APIKey
	if apiKey == "" {
		apiKey = os.Getenv(providerKeyEnv[c.LLM.Provider])
	}
	chat, err := llm.NewChat(llm.ProviderConfig{
		Provider: llm.Provider(c.LLM.Provider),
		APIKey:   apiKey,
		BaseURL:  c.LLM.BaseURL,
		Model:    c.LLM.Model,
	})
	if err != nil {
		return nil, err
	}

	opts := llm.Options{MaxTokens: c.LLM.MaxTokens, Temperature: c.LLM.Temperature, TopP: c.LLM.TopP}
	policy := retry.Policy{MaxAttempts: c.LLM.MaxAttempts, Backoff: retry.Fixed(c.LLM.RetryDelay)}

	completer := llm.NewCompleter(chat, opts, policy)
	completer.Logf = logf
	return completer, nil
}

// newCourseGenerator wires a completer, the course directory and the history store into a Generator.
// rec may be nil when history is unavailable.
func newCourseGenerator(c *config.Config, rec course.Recorder, cfg course.Config) (*course.Generator, *llm.Completer, error) {
	completer, err := newCompleter(c, cfg.Logf)
	if err != nil {
		return nil, nil, err
	}
	cfg.BaseDir = c.Course.BaseDir
	cfg.MaxHistoryPairs = c.Course.MaxHistory
	cfg.Recorder = rec
	return course.NewGenerator(completer, cfg), completer, nil
}
